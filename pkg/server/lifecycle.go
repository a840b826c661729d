package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-server-core/pkg/errors"
	"github.com/ajitpratap0/mcp-server-core/pkg/logging"
	"github.com/ajitpratap0/mcp-server-core/pkg/protocol"
	"github.com/ajitpratap0/mcp-server-core/pkg/transport"
)

// shutdownTimeout bounds cleanup callbacks run on behalf of a client.
const shutdownTimeout = 5 * time.Second

// State is the lifecycle state of one client connection. Transitions only
// move forward.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session is the server's record of one connection: a stdio stream or one
// SSE session. Its fields are guarded by Server.mu.
type session struct {
	id            string
	conn          transport.Connection
	state         State
	clientInfo    protocol.Implementation
	clientCaps    protocol.ClientCapabilities
	logLevel      protocol.LoggingLevel
	subscriptions map[string]struct{}
	inflight      map[string]context.CancelFunc
}

// sessionFor returns the record for conn, creating it on first contact.
func (s *Server) sessionFor(conn transport.Connection) *session {
	id := conn.ID()

	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	if sess, ok = s.sessions[id]; ok {
		s.mu.Unlock()
		return sess
	}
	sess = &session{
		id:            id,
		conn:          conn,
		logLevel:      protocol.LoggingLevelInfo,
		subscriptions: make(map[string]struct{}),
		inflight:      make(map[string]context.CancelFunc),
	}
	switch {
	case s.closed:
		sess.state = StateClosed
	case s.shuttingDown:
		sess.state = StateShuttingDown
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	s.logger.Debug("session opened", logging.String("session_id", id))
	go s.watchSession(sess)
	return sess
}

func (s *Server) watchSession(sess *session) {
	<-sess.conn.Done()

	s.mu.Lock()
	if s.sessions[sess.id] == sess {
		delete(s.sessions, sess.id)
	}
	sess.state = StateClosed
	for key, cancel := range sess.inflight {
		cancel()
		delete(sess.inflight, key)
	}
	s.mu.Unlock()

	s.logger.Debug("session closed", logging.String("session_id", sess.id))
}

// SessionState reports the lifecycle state of the connection with the given
// id. Unknown ids report StateClosed.
func (s *Server) SessionState(id string) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[id]; ok {
		return sess.state
	}
	return StateClosed
}

// ClientInfo returns the implementation the client on connection id declared
// in initialize.
func (s *Server) ClientInfo(id string) (protocol.Implementation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok || sess.state == StateUninitialized {
		return protocol.Implementation{}, false
	}
	return sess.clientInfo, true
}

// checkLifecycle rejects requests the session's state does not allow.
// initialize checks its own preconditions.
func (s *Server) checkLifecycle(sess *session, method string) error {
	if method == protocol.MethodInitialize {
		return nil
	}

	s.mu.RLock()
	state := sess.state
	s.mu.RUnlock()

	switch state {
	case StateClosed:
		return mcperrors.InvalidRequest("connection is closed")
	case StateUninitialized:
		if method == protocol.MethodPing {
			return nil
		}
		return mcperrors.InvalidRequest("server not initialized")
	case StateShuttingDown:
		if method == protocol.MethodPing || method == protocol.MethodShutdown {
			return nil
		}
		return mcperrors.InvalidRequest("server is shutting down")
	}
	return nil
}

func (s *Server) handleInitialize(ctx context.Context, sess *session, params json.RawMessage) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch sess.state {
	case StateInitialized:
		return nil, mcperrors.InvalidRequest("server already initialized")
	case StateShuttingDown, StateClosed:
		return nil, mcperrors.InvalidRequest("server is shutting down")
	}

	var initParams protocol.InitializeParams
	if err := s.validateParams(params, &initParams, protocol.MethodInitialize); err != nil {
		return nil, err
	}
	if initParams.ProtocolVersion != protocol.ProtocolVersion {
		return nil, mcperrors.InvalidParamsf("unsupported protocol version %q", initParams.ProtocolVersion).
			WithData(map[string]interface{}{
				"supported": []string{protocol.ProtocolVersion},
				"requested": initParams.ProtocolVersion,
			})
	}

	sess.state = StateInitialized
	sess.clientInfo = initParams.ClientInfo
	sess.clientCaps = initParams.Capabilities

	s.logger.Info("client initialized",
		logging.String("session_id", sess.id),
		logging.String("client", initParams.ClientInfo.Name),
		logging.String("client_version", initParams.ClientInfo.Version),
	)

	return &protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    *s.capabilities,
		ServerInfo: protocol.Implementation{
			Name:    s.name,
			Version: s.version,
		},
		Instructions: s.instructions,
	}, nil
}

func (s *Server) handleInitialized(ctx context.Context, sess *session) {
	s.mu.Lock()
	if sess.state != StateInitialized {
		state := sess.state
		s.mu.Unlock()
		s.logger.Warn("initialized notification ignored",
			logging.String("session_id", sess.id),
			logging.String("state", state.String()),
		)
		return
	}
	start := !s.servicesStarted && !s.shuttingDown
	services := s.services
	if start {
		s.servicesStarted = true
		s.servicesWG.Add(len(services))
	}
	s.mu.Unlock()

	if !start {
		return
	}
	for _, service := range services {
		go func(run BackgroundService) {
			defer s.servicesWG.Done()
			run(s.ctx)
		}(service)
	}
	s.logger.Debug("background services started", logging.Int("count", len(services)))
}

func (s *Server) handlePing(ctx context.Context, sess *session, params json.RawMessage) (interface{}, error) {
	return &protocol.EmptyResult{}, nil
}

func (s *Server) handleShutdown(ctx context.Context, sess *session, params json.RawMessage) (interface{}, error) {
	// The request context is a child of the server context Shutdown cancels.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("shutdown callbacks failed", logging.ErrorField(err))
	}
	return &protocol.EmptyResult{}, nil
}

func (s *Server) handleExit(sess *session) {
	s.mu.Lock()
	sess.state = StateClosed
	s.mu.Unlock()

	s.logger.Info("exit received", logging.String("session_id", sess.id))
	if err := sess.conn.Close(); err != nil {
		s.logger.Debug("error closing connection", logging.ErrorField(err))
	}
}

// OnShutdown registers a cleanup callback. Callbacks run once, in
// registration order, on the first Shutdown.
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onShutdown = append(s.onShutdown, fn)
}

// Shutdown moves every connection to the shutting-down state, cancels the
// server-wide context and runs the cleanup callbacks. Background services
// are awaited until ctx is done. Later calls return nil.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return nil
	}
	s.shuttingDown = true
	for _, sess := range s.sessions {
		if sess.state < StateShuttingDown {
			sess.state = StateShuttingDown
		}
	}
	callbacks := s.onShutdown
	s.mu.Unlock()

	s.logger.Info("server shutting down")
	s.cancel()

	var errs []error
	for _, cb := range callbacks {
		if err := cb(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	waited := make(chan struct{})
	go func() {
		s.servicesWG.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	return errors.Join(errs...)
}

// Close shuts the server down if needed, closes the transport or every
// known connection, and marks all connections closed. It is idempotent.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = s.Shutdown(shutdownCtx)

		s.mu.Lock()
		s.closed = true
		conns := make([]transport.Connection, 0, len(s.sessions))
		for _, sess := range s.sessions {
			sess.state = StateClosed
			conns = append(conns, sess.conn)
		}
		s.mu.Unlock()

		if s.transport != nil {
			if cerr := s.transport.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		} else {
			for _, conn := range conns {
				_ = conn.Close()
			}
		}
		close(s.done)
	})
	return err
}

// trackRequest records the cancel func of an in-flight request. A duplicate
// id on the same connection is rejected.
func (s *Server) trackRequest(sess *session, id protocol.RequestID, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := id.Key()
	if _, exists := sess.inflight[key]; exists {
		return mcperrors.InvalidRequest("duplicate request id: " + id.String())
	}
	sess.inflight[key] = cancel
	return nil
}

func (s *Server) completeRequest(sess *session, id protocol.RequestID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(sess.inflight, id.Key())
}

// cancelRequest cancels the in-flight request with the given id.
func (s *Server) cancelRequest(sess *session, id protocol.RequestID) bool {
	s.mu.Lock()
	cancel, exists := sess.inflight[id.Key()]
	delete(sess.inflight, id.Key())
	s.mu.Unlock()

	if !exists {
		s.logger.Debug("request not found for cancellation", logging.String("request_id", id.String()))
		return false
	}
	cancel()
	s.logger.Info("request cancelled",
		logging.String("session_id", sess.id),
		logging.String("request_id", id.String()),
	)
	return true
}
