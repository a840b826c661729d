package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-server-core/pkg/errors"
	"github.com/ajitpratap0/mcp-server-core/pkg/logging"
	"github.com/ajitpratap0/mcp-server-core/pkg/observability"
	"github.com/ajitpratap0/mcp-server-core/pkg/pagination"
	"github.com/ajitpratap0/mcp-server-core/pkg/protocol"
	"github.com/ajitpratap0/mcp-server-core/pkg/tools"
	"github.com/ajitpratap0/mcp-server-core/pkg/transport"
)

// ErrServerClosed is returned by Start after Close.
var ErrServerClosed = errors.New("server closed")

// BackgroundService runs for the lifetime of the server's shared context. It
// is started once, when the first client sends notifications/initialized.
type BackgroundService func(ctx context.Context)

// Server represents an MCP server
type Server struct {
	transport    transport.Transport
	name         string
	version      string
	instructions string
	capabilities *protocol.ServerCapabilities
	pageSize     int
	heartbeat    time.Duration

	registry *Registry
	tools    *tools.Manager
	handlers map[string]requestHandler

	logger   logging.Logger
	observer *observability.Observer

	// Lifecycle state. Every field below is guarded by mu.
	mu              sync.RWMutex
	sessions        map[string]*session
	shuttingDown    bool
	closed          bool
	servicesStarted bool
	services        []BackgroundService
	onShutdown      []func(context.Context) error

	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
	servicesWG sync.WaitGroup
}

// ServerOption defines options for creating a server
type ServerOption func(*Server)

// WithName sets the server name
func WithName(name string) ServerOption {
	return func(s *Server) {
		s.name = name
	}
}

// WithVersion sets the server version
func WithVersion(version string) ServerOption {
	return func(s *Server) {
		s.version = version
	}
}

// WithInstructions sets the free-form text returned from initialize
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithCapabilities replaces the advertised capabilities
func WithCapabilities(capabilities protocol.ServerCapabilities) ServerOption {
	return func(s *Server) {
		s.capabilities = &capabilities
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithObserver enables request metrics and tracing
func WithObserver(observer *observability.Observer) ServerOption {
	return func(s *Server) {
		s.observer = observer
	}
}

// WithToolsManager sets the tools manager. By default the server creates one.
func WithToolsManager(manager *tools.Manager) ServerOption {
	return func(s *Server) {
		s.tools = manager
	}
}

// WithPageSize enables cursor pagination of list results. Zero disables it.
func WithPageSize(size int) ServerOption {
	return func(s *Server) {
		s.pageSize = size
	}
}

// WithHeartbeat starts a heartbeat service with the given interval once a
// client is initialized.
func WithHeartbeat(interval time.Duration) ServerOption {
	return func(s *Server) {
		s.heartbeat = interval
	}
}

// WithBackgroundService registers a service started after initialization
func WithBackgroundService(service BackgroundService) ServerOption {
	return func(s *Server) {
		s.services = append(s.services, service)
	}
}

// New creates a new MCP server. t may be nil when messages are fed to
// HandleMessage directly.
func New(t transport.Transport, options ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	server := &Server{
		transport: t,
		name:      "mcp-server-core",
		version:   "1.0.0",
		logger:    logging.NewNop(),
		sessions:  make(map[string]*session),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	for _, option := range options {
		option(server)
	}

	server.logger = server.logger.WithFields(logging.String("component", "server"))

	if err := pagination.ValidateLimit(server.pageSize); err != nil {
		server.logger.Warn("ignoring invalid page size", logging.ErrorField(err))
		server.pageSize = pagination.DefaultLimit
	}
	if server.capabilities == nil {
		server.capabilities = defaultCapabilities()
	}
	if server.tools == nil {
		server.tools = tools.NewManager(
			tools.WithLogger(server.logger),
			tools.WithObserver(server.observer),
		)
	}
	server.tools.SetProgressReporter(server.reportProgress)
	server.tools.OnChange(func() {
		if err := server.NotifyToolsListChanged(server.ctx); err != nil {
			server.logger.Debug("tools list_changed not delivered", logging.ErrorField(err))
		}
	})
	server.registry = NewRegistry(server.logger, server.observer)

	if server.heartbeat > 0 {
		server.services = append(server.services, server.runHeartbeat)
	}

	server.handlers = map[string]requestHandler{
		protocol.MethodInitialize:            server.handleInitialize,
		protocol.MethodPing:                  server.handlePing,
		protocol.MethodShutdown:              server.handleShutdown,
		protocol.MethodListTools:             server.handleListTools,
		protocol.MethodCallTool:              server.handleCallTool,
		protocol.MethodListResources:         server.handleListResources,
		protocol.MethodReadResource:          server.handleReadResource,
		protocol.MethodListResourceTemplates: server.handleListResourceTemplates,
		protocol.MethodSubscribeResource:     server.handleSubscribeResource,
		protocol.MethodUnsubscribeResource:   server.handleUnsubscribeResource,
		protocol.MethodListPrompts:           server.handleListPrompts,
		protocol.MethodGetPrompt:             server.handleGetPrompt,
		protocol.MethodSetLogLevel:           server.handleSetLogLevel,
	}

	return server
}

func defaultCapabilities() *protocol.ServerCapabilities {
	return &protocol.ServerCapabilities{
		Logging:   &struct{}{},
		Prompts:   &protocol.ListChangedCapability{ListChanged: true},
		Resources: &protocol.ResourcesCapability{Subscribe: true, ListChanged: true},
		Tools:     &protocol.ListChangedCapability{ListChanged: true},
	}
}

// Start connects the transport and blocks until the connection ends, ctx is
// done or the server is closed. The transport is closed on return.
func (s *Server) Start(ctx context.Context) error {
	if s.transport == nil {
		return fmt.Errorf("server has no transport")
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrServerClosed
	}

	conn, err := s.transport.Connect(ctx, s)
	if err != nil {
		return mcperrors.TransportError("server", "connect", err).
			WithContext(&mcperrors.Context{
				Component: "Server",
				Operation: "Start",
				Timestamp: time.Now(),
			}).
			WithDetail(fmt.Sprintf("Transport type: %T", s.transport))
	}

	s.logger.Info("server started",
		logging.String("name", s.name),
		logging.String("version", s.version),
		logging.String("transport", fmt.Sprintf("%T", s.transport)),
	)

	var result error
	select {
	case <-conn.Done():
		if errConn, ok := conn.(interface{ Err() error }); ok {
			result = errConn.Err()
		}
	case <-ctx.Done():
		result = ctx.Err()
	case <-s.done:
	}

	if err := s.Close(); err != nil {
		s.logger.Warn("error closing server", logging.ErrorField(err))
	}
	s.logger.Info("server stopped")
	return result
}

// Tools returns the server's tools manager.
func (s *Server) Tools() *tools.Manager {
	return s.tools
}

// Registry returns the server's provider registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// RegisterTool registers a tool with the tools manager.
func (s *Server) RegisterTool(tool protocol.Tool, handler tools.Handler) {
	s.tools.RegisterTool(tool, handler)
}

// RegisterResourceProvider appends a resource provider.
func (s *Server) RegisterResourceProvider(p ResourceProvider) {
	s.registry.RegisterResourceProvider(p)
}

// RegisterToolProvider appends a tool provider. Tools registered with the
// manager shadow provider tools of the same name.
func (s *Server) RegisterToolProvider(p ToolProvider) {
	s.registry.RegisterToolProvider(p)
}

// RegisterPromptProvider appends a prompt provider.
func (s *Server) RegisterPromptProvider(p PromptProvider) {
	s.registry.RegisterPromptProvider(p)
}

// Capabilities returns the capabilities advertised in initialize.
func (s *Server) Capabilities() protocol.ServerCapabilities {
	return *s.capabilities
}

// Context returns the server-wide context. It is cancelled by Shutdown.
func (s *Server) Context() context.Context {
	return s.ctx
}

func (s *Server) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			sessions, inflight := len(s.sessions), 0
			for _, sess := range s.sessions {
				inflight += len(sess.inflight)
			}
			s.mu.RUnlock()
			s.logger.Debug("heartbeat",
				logging.Int("sessions", sessions),
				logging.Int("inflight", inflight),
			)
		}
	}
}
