package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/mcp-server-core/pkg/logging"
)

// Transport carries JSON-RPC messages between remote peers and a Handler.
// It owns framing, not semantics.
type Transport interface {
	// Connect starts delivering inbound messages to h. The returned
	// Connection sends outbound messages; for multi-session transports it
	// broadcasts to every live session.
	Connect(ctx context.Context, h Handler) (Connection, error)

	// Close stops the transport and every connection it owns. It is idempotent.
	Close() error
}

// Handler consumes one decoded frame. It is called from transport goroutines
// and must be safe for concurrent use.
type Handler interface {
	HandleMessage(ctx context.Context, conn Connection, data []byte)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, conn Connection, data []byte)

// HandleMessage calls f(ctx, conn, data).
func (f HandlerFunc) HandleMessage(ctx context.Context, conn Connection, data []byte) {
	f(ctx, conn, data)
}

// Connection is one logical peer link.
type Connection interface {
	// ID identifies the connection. SSE sessions use their session id.
	ID() string

	// Send JSON-encodes msg and writes it to the peer. []byte and
	// json.RawMessage values are written as is.
	Send(ctx context.Context, msg interface{}) error

	// Done is closed when the connection ends.
	Done() <-chan struct{}

	// Close ends the connection. It is idempotent.
	Close() error
}

// SessionObserver receives connection lifecycle events. *observability.Metrics
// satisfies it.
type SessionObserver interface {
	SessionOpened(transport string)
	SessionClosed(transport string)
	RecordTransportError(transport, kind string)
}

var (
	// ErrTransportClosed is returned by operations on a closed transport.
	ErrTransportClosed = errors.New("transport closed")

	// ErrAlreadyConnected is returned when Connect is called while a connection is live.
	ErrAlreadyConnected = errors.New("transport already connected")

	// ErrConnectionClosed is returned by Send on a closed connection or session.
	ErrConnectionClosed = errors.New("connection closed")
)

// TransportType identifies the transport implementation.
type TransportType string

const (
	TransportTypeStdio TransportType = "stdio"
	TransportTypeSSE   TransportType = "sse"
)

// Config is the unified configuration for all transports.
type Config struct {
	// Type of transport to create
	Type TransportType `json:"type" yaml:"type"`

	// Stdio settings. Nil reader/writer mean os.Stdin/os.Stdout.
	StdioReader  io.Reader `json:"-" yaml:"-"`
	StdioWriter  io.Writer `json:"-" yaml:"-"`
	CloseStreams bool      `json:"close_streams" yaml:"close_streams"`
	MaxFrameSize int       `json:"max_frame_size" yaml:"max_frame_size"`

	// SSE settings. An empty Addr means the caller mounts Handler() itself.
	Addr           string        `json:"addr" yaml:"addr"`
	EventPath      string        `json:"event_path" yaml:"event_path"`
	MessagePath    string        `json:"message_path" yaml:"message_path"`
	KeepAlive      time.Duration `json:"keep_alive" yaml:"keep_alive"`
	OutboundBuffer int           `json:"outbound_buffer" yaml:"outbound_buffer"`
	InboundBuffer  int           `json:"inbound_buffer" yaml:"inbound_buffer"`
	MaxBodySize    int64         `json:"max_body_size" yaml:"max_body_size"`

	// MaxConcurrency bounds the requests handled at once per connection.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`

	Logger   logging.Logger  `json:"-" yaml:"-"`
	Observer SessionObserver `json:"-" yaml:"-"`
}

const (
	DefaultMaxFrameSize   = 4 << 20
	DefaultMaxConcurrency = 16
	DefaultOutboundBuffer = 64
	DefaultInboundBuffer  = 16
	DefaultMaxBodySize    = 4 << 20
	DefaultEventPath      = "/sse"
	DefaultMessagePath    = "/messages"
)

// DefaultConfig returns a configuration with defaults for transportType.
func DefaultConfig(transportType TransportType) Config {
	config := Config{
		Type:           transportType,
		MaxFrameSize:   DefaultMaxFrameSize,
		MaxConcurrency: DefaultMaxConcurrency,
	}
	if transportType == TransportTypeSSE {
		config.EventPath = DefaultEventPath
		config.MessagePath = DefaultMessagePath
		config.KeepAlive = 30 * time.Second
		config.OutboundBuffer = DefaultOutboundBuffer
		config.InboundBuffer = DefaultInboundBuffer
		config.MaxBodySize = DefaultMaxBodySize
	}
	return config
}

// New creates a transport from config.
func New(config Config) (Transport, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	switch config.Type {
	case TransportTypeStdio:
		return NewStdioTransport(config), nil
	case TransportTypeSSE:
		return NewSSETransport(config), nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", config.Type)
	}
}

func validateConfig(config Config) error {
	if config.Type == "" {
		return fmt.Errorf("transport type is required")
	}
	if config.MaxFrameSize < 0 {
		return fmt.Errorf("max frame size must be non-negative")
	}
	if config.MaxConcurrency < 0 {
		return fmt.Errorf("max concurrency must be non-negative")
	}
	if config.Type == TransportTypeSSE && config.EventPath != "" && config.EventPath == config.MessagePath {
		return fmt.Errorf("event path and message path must differ")
	}
	return nil
}

type connectionKey struct{}

// ContextWithConnection returns a context carrying conn.
func ContextWithConnection(ctx context.Context, conn Connection) context.Context {
	return context.WithValue(ctx, connectionKey{}, conn)
}

// ConnectionFromContext returns the connection a message arrived on, if any.
func ConnectionFromContext(ctx context.Context) (Connection, bool) {
	conn, ok := ctx.Value(connectionKey{}).(Connection)
	return conn, ok
}

func encode(msg interface{}) ([]byte, error) {
	switch m := msg.(type) {
	case []byte:
		return m, nil
	case json.RawMessage:
		return m, nil
	default:
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("marshal message: %w", err)
		}
		return data, nil
	}
}

// isRequest reports whether data looks like a request: a method and a
// non-null id. Anything else, including garbage, is handled inline.
func isRequest(data []byte) bool {
	var probe struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Method != "" && len(probe.ID) > 0 && string(probe.ID) != "null"
}

// messagePump hands frames of one connection to the handler. Requests run
// concurrently up to a limit; notifications and responses run inline so
// they keep arrival order.
type messagePump struct {
	ctx     context.Context
	conn    Connection
	handler Handler
	logger  logging.Logger
	group   *errgroup.Group
}

func newMessagePump(ctx context.Context, conn Connection, h Handler, limit int, logger logging.Logger) *messagePump {
	g := &errgroup.Group{}
	if limit > 0 {
		g.SetLimit(limit)
	}
	return &messagePump{
		ctx:     ContextWithConnection(ctx, conn),
		conn:    conn,
		handler: h,
		logger:  logger,
		group:   g,
	}
}

func (p *messagePump) deliver(data []byte) {
	if isRequest(data) {
		p.group.Go(func() error {
			p.handle(data)
			return nil
		})
		return
	}
	p.handle(data)
}

func (p *messagePump) handle(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in message handler",
				logging.String("connection", p.conn.ID()),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
		}
	}()
	p.handler.HandleMessage(p.ctx, p.conn, data)
}

// wait blocks until every in-flight request handler has returned.
func (p *messagePump) wait() {
	_ = p.group.Wait()
}
