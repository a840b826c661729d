package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcperrors "github.com/ajitpratap0/mcp-server-core/pkg/errors"
	"github.com/ajitpratap0/mcp-server-core/pkg/logging"
	"github.com/ajitpratap0/mcp-server-core/pkg/protocol"
	"github.com/ajitpratap0/mcp-server-core/pkg/transport"
)

// sessionsWhere snapshots the initialized sessions matching keep. keep runs
// under the read lock.
func (s *Server) sessionsWhere(keep func(*session) bool) []*session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*session
	for _, sess := range s.sessions {
		if sess.state != StateInitialized {
			continue
		}
		if keep == nil || keep(sess) {
			out = append(out, sess)
		}
	}
	return out
}

// notify sends one notification to each target. Errors are joined.
func (s *Server) notify(ctx context.Context, targets []*session, method string, params interface{}) error {
	if len(targets) == 0 {
		return nil
	}
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.InternalError(err)
	}

	var errs []error
	for _, sess := range targets {
		if err := sess.conn.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", sess.id, err))
		}
	}
	return errors.Join(errs...)
}

// NotifyToolsListChanged tells every initialized client the tool list changed.
func (s *Server) NotifyToolsListChanged(ctx context.Context) error {
	return s.notify(ctx, s.sessionsWhere(nil), protocol.NotificationToolsListChanged, nil)
}

// NotifyResourcesListChanged tells every initialized client the resource list changed.
func (s *Server) NotifyResourcesListChanged(ctx context.Context) error {
	return s.notify(ctx, s.sessionsWhere(nil), protocol.NotificationResourcesListChanged, nil)
}

// NotifyPromptsListChanged tells every initialized client the prompt list changed.
func (s *Server) NotifyPromptsListChanged(ctx context.Context) error {
	return s.notify(ctx, s.sessionsWhere(nil), protocol.NotificationPromptsListChanged, nil)
}

// LogMessage sends notifications/message to every initialized client whose
// log level admits level. data must marshal to JSON.
func (s *Server) LogMessage(ctx context.Context, level protocol.LoggingLevel, logger string, data interface{}) error {
	if !level.Valid() {
		return mcperrors.InvalidParamsf("invalid log level %q", level)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return mcperrors.InternalError(err)
	}

	targets := s.sessionsWhere(func(sess *session) bool {
		return sess.logLevel.Admits(level)
	})
	return s.notify(ctx, targets, protocol.NotificationMessage, &protocol.LoggingMessageParams{
		Level:  level,
		Logger: logger,
		Data:   raw,
	})
}

// reportProgress is the tools manager's progress reporter. The update goes
// to the connection that issued the call.
func (s *Server) reportProgress(ctx context.Context, tool string, token protocol.ProgressToken, progress, total float64) {
	conn, ok := transport.ConnectionFromContext(ctx)
	if !ok {
		s.logger.Debug("progress without connection", logging.String("tool", tool))
		return
	}
	n, err := protocol.NewNotification(protocol.NotificationProgress, &protocol.ProgressParams{
		ProgressToken: token,
		Progress:      progress,
		Total:         total,
	})
	if err != nil {
		s.logger.Error("failed to encode progress", logging.ErrorField(err))
		return
	}
	if err := conn.Send(ctx, n); err != nil {
		s.logger.Debug("progress not delivered",
			logging.String("tool", tool),
			logging.ErrorField(err),
		)
	}
}
