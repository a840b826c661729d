package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/mcp-server-core/pkg/logging"
	"github.com/ajitpratap0/mcp-server-core/pkg/observability"
	"github.com/ajitpratap0/mcp-server-core/pkg/protocol"
	"github.com/ajitpratap0/mcp-server-core/pkg/utils"
)

const (
	// DefaultTimeout applies to calls whose context has no deadline.
	DefaultTimeout = 30 * time.Second

	// ProgressTotal is the total reported with every progress update.
	ProgressTotal = 100.0

	progressBuffer = 16
)

// Handler executes a tool. Progress values in [0, ProgressTotal] may be sent
// on progress; the manager closes it after the handler returns. Handlers
// must observe ctx.
type Handler func(ctx context.Context, args json.RawMessage, progress chan<- float64) (*protocol.CallToolResult, error)

// ProgressReporter delivers one progress update for an in-flight call.
type ProgressReporter func(ctx context.Context, tool string, token protocol.ProgressToken, progress, total float64)

// Manager is the tool registry with argument validation, timeouts and
// progress plumbing on top.
type Manager struct {
	mu               sync.RWMutex
	tools            map[string]protocol.Tool
	schemas          map[string]*utils.Schema
	handlers         map[string]Handler
	progressReporter ProgressReporter
	defaultTimeout   time.Duration
	onChange         func()

	logger   logging.Logger
	observer *observability.Observer
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithObserver enables per-call metrics and spans.
func WithObserver(observer *observability.Observer) Option {
	return func(m *Manager) {
		m.observer = observer
	}
}

// WithProgressReporter sets the reporter progress updates are forwarded to.
func WithProgressReporter(reporter ProgressReporter) Option {
	return func(m *Manager) {
		m.progressReporter = reporter
	}
}

// WithDefaultTimeout overrides DefaultTimeout.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.defaultTimeout = timeout
	}
}

// NewManager creates an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		tools:          make(map[string]protocol.Tool),
		schemas:        make(map[string]*utils.Schema),
		handlers:       make(map[string]Handler),
		defaultTimeout: DefaultTimeout,
		logger:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithFields(logging.String("component", "tools"))
	return m
}

// RegisterTool adds or replaces a tool. A tool without a name, without an
// input schema, with an invalid schema or without a handler is logged and
// ignored.
func (m *Manager) RegisterTool(tool protocol.Tool, handler Handler) {
	if tool.Name == "" {
		m.logger.Error("cannot register tool with empty name")
		return
	}
	if handler == nil {
		m.logger.Error("cannot register tool without handler", logging.String("tool", tool.Name))
		return
	}
	schema, err := utils.CompileSchema(tool.InputSchema)
	if err != nil {
		m.logger.Error("cannot register tool with invalid input schema",
			logging.String("tool", tool.Name),
			logging.ErrorField(err),
		)
		return
	}
	tool.InputSchema = schema.Raw()

	m.mu.Lock()
	_, replaced := m.tools[tool.Name]
	m.tools[tool.Name] = tool
	m.schemas[tool.Name] = schema
	m.handlers[tool.Name] = handler
	onChange := m.onChange
	m.mu.Unlock()

	m.logger.Debug("tool registered", logging.String("tool", tool.Name), logging.Bool("replaced", replaced))
	if onChange != nil {
		onChange()
	}
}

// UnregisterTool removes a tool. It reports whether the tool existed.
func (m *Manager) UnregisterTool(name string) bool {
	m.mu.Lock()
	_, ok := m.tools[name]
	delete(m.tools, name)
	delete(m.schemas, name)
	delete(m.handlers, name)
	onChange := m.onChange
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.logger.Debug("tool unregistered", logging.String("tool", name))
	if onChange != nil {
		onChange()
	}
	return true
}

// ListTools returns a snapshot of the registered tools sorted by name.
func (m *Manager) ListTools() []protocol.Tool {
	m.mu.RLock()
	tools := make([]protocol.Tool, 0, len(m.tools))
	for _, t := range m.tools {
		tools = append(tools, t)
	}
	m.mu.RUnlock()

	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// HasTool reports whether name is registered.
func (m *Manager) HasTool(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.handlers[name]
	return ok
}

// SetDefaultTimeout sets the timeout for calls without a deadline. Zero
// disables it.
func (m *Manager) SetDefaultTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultTimeout = timeout
}

// DefaultTimeout returns the current default timeout.
func (m *Manager) DefaultTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultTimeout
}

// SetProgressReporter replaces the progress reporter.
func (m *Manager) SetProgressReporter(reporter ProgressReporter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progressReporter = reporter
}

// OnChange sets a callback run after every successful register or
// unregister. It is called without the manager lock held.
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

type callOutcome struct {
	result *protocol.CallToolResult
	err    error
}

// CallTool runs a tool. Every failure, including an unknown tool, invalid
// arguments, a handler error and a timeout, is reported as a result with
// IsError set; CallTool never returns a nil result.
func (m *Manager) CallTool(ctx context.Context, name string, args json.RawMessage, token protocol.ProgressToken) *protocol.CallToolResult {
	ctx, finish := m.observer.ObserveToolCall(ctx, name)

	m.mu.RLock()
	handler, ok := m.handlers[name]
	schema := m.schemas[name]
	reporter := m.progressReporter
	timeout := m.defaultTimeout
	m.mu.RUnlock()

	if !ok {
		finish(observability.StatusToolError)
		return protocol.NewToolResultError(fmt.Sprintf("Tool '%s' not found", name))
	}

	if err := schema.Validate(ctx, args); err != nil {
		m.logger.Debug("tool arguments rejected", logging.String("tool", name), logging.ErrorField(err))
		finish(observability.StatusToolError)
		return protocol.NewToolResultError(fmt.Sprintf("Tool '%s': %s", name, err.Error()))
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	progress := make(chan float64, progressBuffer)
	forwarded := make(chan struct{})
	go m.forwardProgress(ctx, name, token, reporter, progress, forwarded)

	outcome := make(chan callOutcome, 1)
	go func() {
		defer close(progress)
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("tool handler panicked", logging.String("tool", name), logging.Any("panic", r))
				outcome <- callOutcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := handler(ctx, args, progress)
		outcome <- callOutcome{result: result, err: err}
	}()

	var out callOutcome
	select {
	case out = <-outcome:
	case <-ctx.Done():
		select {
		case out = <-outcome:
		default:
			status := observability.StatusFor(ctx.Err())
			m.logger.Warn("tool call abandoned",
				logging.String("tool", name),
				logging.String("status", status),
				logging.ErrorField(ctx.Err()),
			)
			finish(status)
			return protocol.NewToolResultError(abandonMessage(name, ctx.Err()))
		}
	}

	// Progress sent before the handler returned is delivered before the result.
	<-forwarded

	if out.err != nil {
		finish(observability.StatusToolError)
		return protocol.NewToolResultError(out.err.Error())
	}
	if out.result == nil {
		finish(observability.StatusOK)
		return &protocol.CallToolResult{Content: []protocol.Content{}}
	}
	if out.result.IsError {
		finish(observability.StatusToolError)
	} else {
		finish(observability.StatusOK)
	}
	return out.result
}

// forwardProgress drains progress until the handler closes it. Values are
// forwarded only while there is a reporter, a token and a live call; the
// rest are discarded so a handler never blocks on its progress channel.
func (m *Manager) forwardProgress(ctx context.Context, name string, token protocol.ProgressToken, reporter ProgressReporter, progress <-chan float64, done chan<- struct{}) {
	defer close(done)

	forward := reporter != nil && !token.IsZero()
	for value := range progress {
		if !forward || ctx.Err() != nil {
			continue
		}
		reporter(ctx, name, token, value, ProgressTotal)
		m.observer.RecordProgress(name)
	}
}

func abandonMessage(name string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("Tool '%s' timed out", name)
	}
	return fmt.Sprintf("Tool '%s' was cancelled", name)
}
