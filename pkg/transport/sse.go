package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	"github.com/ajitpratap0/mcp-server-core/pkg/logging"
)

const sseName = "sse"

// SSETransport serves many peers over HTTP. Each peer opens an event stream
// on the event path and posts messages to the message path with its
// sessionId. Every session is an independent Connection.
type SSETransport struct {
	addr           string
	eventPath      string
	messagePath    string
	keepAlive      time.Duration
	outboundBuffer int
	inboundBuffer  int
	maxBodySize    int64
	maxConcurrency int
	logger         logging.Logger
	observer       SessionObserver
	mux            *http.ServeMux

	mu        sync.RWMutex
	sessions  map[string]*sseSession
	handler   Handler
	ctx       context.Context
	cancel    context.CancelFunc
	server    *http.Server
	broadcast *broadcastConnection
	closed    bool
	closeOnce sync.Once
}

// NewSSETransport creates an SSE transport from config. Zero values fall
// back to the defaults of DefaultConfig(TransportTypeSSE).
func NewSSETransport(config Config) *SSETransport {
	defaults := DefaultConfig(TransportTypeSSE)
	if config.EventPath == "" {
		config.EventPath = defaults.EventPath
	}
	if config.MessagePath == "" {
		config.MessagePath = defaults.MessagePath
	}
	if config.OutboundBuffer <= 0 {
		config.OutboundBuffer = defaults.OutboundBuffer
	}
	if config.InboundBuffer <= 0 {
		config.InboundBuffer = defaults.InboundBuffer
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = defaults.MaxBodySize
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	t := &SSETransport{
		addr:           config.Addr,
		eventPath:      config.EventPath,
		messagePath:    config.MessagePath,
		keepAlive:      config.KeepAlive,
		outboundBuffer: config.OutboundBuffer,
		inboundBuffer:  config.InboundBuffer,
		maxBodySize:    config.MaxBodySize,
		maxConcurrency: config.MaxConcurrency,
		logger:         logger.WithFields(logging.String("transport", sseName)),
		observer:       config.Observer,
		sessions:       make(map[string]*sseSession),
	}
	t.broadcast = &broadcastConnection{transport: t, done: make(chan struct{})}

	t.mux = http.NewServeMux()
	t.mux.HandleFunc(t.eventPath, t.handleEvents)
	t.mux.HandleFunc(t.messagePath, t.handleMessage)
	return t
}

// Handler returns the HTTP handler serving both endpoints, for mounting in
// an existing server.
func (t *SSETransport) Handler() http.Handler {
	return logging.HTTPMiddleware(t.logger)(t.mux)
}

// Connect registers h for all sessions. When an address is configured it
// also starts listening; bind errors are returned here. The returned
// Connection broadcasts to every live session.
func (t *SSETransport) Connect(ctx context.Context, h Handler) (Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.handler != nil {
		return nil, ErrAlreadyConnected
	}

	t.ctx, t.cancel = context.WithCancel(ctx)
	t.handler = h

	if t.addr != "" {
		ln, err := net.Listen("tcp", t.addr)
		if err != nil {
			t.cancel()
			t.handler = nil
			return nil, fmt.Errorf("listen on %s: %w", t.addr, err)
		}
		t.server = &http.Server{
			Handler:           t.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				t.logger.Error("sse server stopped", logging.ErrorField(err))
			}
		}()
		t.logger.Info("sse transport listening",
			logging.String("addr", ln.Addr().String()),
			logging.String("event_path", t.eventPath),
			logging.String("message_path", t.messagePath),
		)
	}

	go func() {
		<-t.ctx.Done()
		_ = t.Close()
	}()

	return t.broadcast, nil
}

// Close signals every session done and shuts down the listener.
func (t *SSETransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		sessions := make([]*sseSession, 0, len(t.sessions))
		for _, s := range t.sessions {
			sessions = append(sessions, s)
		}
		cancel := t.cancel
		server := t.server
		t.mu.Unlock()

		for _, s := range sessions {
			s.close()
		}
		if cancel != nil {
			cancel()
		}
		close(t.broadcast.done)

		if server != nil {
			ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			err = server.Shutdown(ctx)
		}
	})
	return err
}

// SessionCount returns the number of live sessions.
func (t *SSETransport) SessionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (t *SSETransport) session(id string) (*sseSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

func (t *SSETransport) removeSession(id string) {
	t.mu.Lock()
	_, ok := t.sessions[id]
	delete(t.sessions, id)
	t.mu.Unlock()

	if ok && t.observer != nil {
		t.observer.SessionClosed(sseName)
	}
}

func (t *SSETransport) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	t.mu.RLock()
	h, baseCtx, closed := t.handler, t.ctx, t.closed
	t.mu.RUnlock()
	if closed || h == nil {
		http.Error(w, "transport not ready", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	stream, err := sse.Upgrade(w, r)
	if err != nil {
		t.logger.Error("failed to upgrade session", logging.ErrorField(err))
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(baseCtx)
	s := &sseSession{
		id:       uuid.New().String(),
		outbound: make(chan []byte, t.outboundBuffer),
		inbound:  make(chan []byte, t.inboundBuffer),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	logger := t.logger.WithFields(logging.String("session_id", s.id))

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		http.Error(w, "transport closed", http.StatusServiceUnavailable)
		return
	}
	t.sessions[s.id] = s
	t.mu.Unlock()
	if t.observer != nil {
		t.observer.SessionOpened(sseName)
	}

	defer func() {
		s.close()
		t.removeSession(s.id)
		logger.Debug("sse session closed")
	}()

	endpoint, err := json.Marshal(map[string]string{"sessionId": s.id})
	if err != nil {
		logger.Error("failed to encode session event", logging.ErrorField(err))
		return
	}
	if err := writeEvent(stream, endpoint); err != nil {
		logger.Warn("failed to send session event", logging.ErrorField(err))
		return
	}
	logger.Debug("sse session opened")

	go s.serveInbound(ctx, h, t.maxConcurrency, logger)

	var keepAlive <-chan time.Time
	if t.keepAlive > 0 {
		ticker := time.NewTicker(t.keepAlive)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	for {
		select {
		case data := <-s.outbound:
			if err := writeEvent(stream, data); err != nil {
				logger.Warn("failed to send event", logging.ErrorField(err))
				t.recordError("write")
				return
			}
		case <-keepAlive:
			msg := &sse.Message{}
			msg.AppendComment("keep-alive")
			if err := stream.Send(msg); err != nil {
				return
			}
			if err := stream.Flush(); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		}
	}
}

func (t *SSETransport) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("sessionId")
	if id == "" {
		http.Error(w, "missing sessionId query parameter", http.StatusBadRequest)
		return
	}
	s, ok := t.session(id)
	if !ok || s.isClosed() {
		http.Error(w, "unknown session", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, t.maxBodySize))
	if err != nil {
		t.recordError("read_body")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	select {
	case s.inbound <- body:
		w.WriteHeader(http.StatusOK)
	case <-s.done:
		http.Error(w, "session closed", http.StatusBadRequest)
	case <-r.Context().Done():
		http.Error(w, "request cancelled before delivery", http.StatusServiceUnavailable)
	}
}

func (t *SSETransport) recordError(kind string) {
	if t.observer != nil {
		t.observer.RecordTransportError(sseName, kind)
	}
}

func writeEvent(stream *sse.Session, data []byte) error {
	msg := &sse.Message{}
	msg.AppendData(string(data))
	if err := stream.Send(msg); err != nil {
		return err
	}
	return stream.Flush()
}

// sseSession is one connected peer. Its channels are never closed; done is
// closed exactly once by whichever of disconnect or transport Close comes
// first.
type sseSession struct {
	id       string
	outbound chan []byte
	inbound  chan []byte
	done     chan struct{}
	once     sync.Once
	cancel   context.CancelFunc
}

func (s *sseSession) ID() string { return s.id }

func (s *sseSession) Done() <-chan struct{} { return s.done }

func (s *sseSession) Close() error {
	s.close()
	return nil
}

func (s *sseSession) Send(ctx context.Context, msg interface{}) error {
	if s.isClosed() {
		return ErrConnectionClosed
	}
	data, err := encode(msg)
	if err != nil {
		return err
	}

	select {
	case s.outbound <- data:
		return nil
	case <-s.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *sseSession) close() {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
	})
}

func (s *sseSession) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *sseSession) serveInbound(ctx context.Context, h Handler, limit int, logger logging.Logger) {
	pump := newMessagePump(logging.ContextWithSessionID(ctx, s.id), s, h, limit, logger)
	defer pump.wait()

	for {
		select {
		case data := <-s.inbound:
			pump.deliver(data)
		case <-s.done:
			return
		}
	}
}

// broadcastConnection fans Send out to every live session of the transport.
type broadcastConnection struct {
	transport *SSETransport
	done      chan struct{}
}

func (b *broadcastConnection) ID() string { return sseName }

func (b *broadcastConnection) Done() <-chan struct{} { return b.done }

func (b *broadcastConnection) Close() error { return b.transport.Close() }

func (b *broadcastConnection) Send(ctx context.Context, msg interface{}) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}

	b.transport.mu.RLock()
	sessions := make([]*sseSession, 0, len(b.transport.sessions))
	for _, s := range b.transport.sessions {
		sessions = append(sessions, s)
	}
	b.transport.mu.RUnlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Send(ctx, data); err != nil && !errors.Is(err, ErrConnectionClosed) {
			errs = append(errs, fmt.Errorf("session %s: %w", s.id, err))
		}
	}
	return errors.Join(errs...)
}
