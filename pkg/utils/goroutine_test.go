package utils

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingTB struct {
	errors []string
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *recordingTB) Logf(string, ...interface{}) {}

func TestGoroutineLeakDetector_NoLeak(t *testing.T) {
	detector := NewGoroutineLeakDetector(t).Start()

	done := make(chan struct{})
	go func() {
		close(done)
	}()
	<-done

	assert.Equal(t, 0, detector.Check())
}

func TestGoroutineLeakDetector_DetectsLeak(t *testing.T) {
	rec := &recordingTB{}
	detector := NewGoroutineLeakDetector(rec).SetTimeout(100 * time.Millisecond).Start()

	release := make(chan struct{})
	go func() {
		<-release
	}()

	leaked := detector.Check()
	close(release)

	assert.GreaterOrEqual(t, leaked, 1)
	assert.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "goroutine leak")
}

func TestGoroutineLeakDetector_AllowedGrowth(t *testing.T) {
	rec := &recordingTB{}
	detector := NewGoroutineLeakDetector(rec).SetTimeout(50 * time.Millisecond).SetAllowedGrowth(1).Start()

	release := make(chan struct{})
	go func() {
		<-release
	}()

	assert.Equal(t, 0, detector.Check())
	close(release)
	assert.Empty(t, rec.errors)
}
