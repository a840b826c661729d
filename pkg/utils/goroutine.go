package utils

import (
	"runtime"
	"time"
)

// TB is the subset of testing.TB the leak detector reports through.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Logf(format string, args ...interface{})
}

// GoroutineLeakDetector compares the goroutine count before and after a test
// body. Check polls until the count settles back to the baseline or the
// deadline passes.
type GoroutineLeakDetector struct {
	t             TB
	initialCount  int
	allowedGrowth int
	pollInterval  time.Duration
	timeout       time.Duration
}

// NewGoroutineLeakDetector creates a detector reporting to t.
func NewGoroutineLeakDetector(t TB) *GoroutineLeakDetector {
	return &GoroutineLeakDetector{
		t:            t,
		pollInterval: 20 * time.Millisecond,
		timeout:      2 * time.Second,
	}
}

// SetAllowedGrowth sets the number of goroutines allowed to remain.
func (d *GoroutineLeakDetector) SetAllowedGrowth(n int) *GoroutineLeakDetector {
	d.allowedGrowth = n
	return d
}

// SetTimeout sets how long Check waits for goroutines to exit.
func (d *GoroutineLeakDetector) SetTimeout(timeout time.Duration) *GoroutineLeakDetector {
	d.timeout = timeout
	return d
}

// Start records the baseline goroutine count.
func (d *GoroutineLeakDetector) Start() *GoroutineLeakDetector {
	d.initialCount = runtime.NumGoroutine()
	return d
}

// Check reports an error if more goroutines than allowed are still running
// once the timeout elapses. It returns the number of leaked goroutines.
func (d *GoroutineLeakDetector) Check() int {
	d.t.Helper()

	deadline := time.Now().Add(d.timeout)
	for {
		leaked := runtime.NumGoroutine() - d.initialCount
		if leaked <= d.allowedGrowth {
			return 0
		}
		if time.Now().After(deadline) {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			d.t.Errorf("goroutine leak: started with %d, %d still running (allowed growth %d)",
				d.initialCount, d.initialCount+leaked, d.allowedGrowth)
			d.t.Logf("goroutine dump:\n%s", buf[:n])
			return leaked
		}
		time.Sleep(d.pollInterval)
	}
}
