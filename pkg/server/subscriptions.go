package server

import (
	"context"
	"encoding/json"
	"sort"

	mcperrors "github.com/ajitpratap0/mcp-server-core/pkg/errors"
	"github.com/ajitpratap0/mcp-server-core/pkg/logging"
	"github.com/ajitpratap0/mcp-server-core/pkg/protocol"
)

// Resource subscriptions are tracked per connection: a client only hears
// about URIs it subscribed to itself.

func (s *Server) handleSubscribeResource(ctx context.Context, sess *session, params json.RawMessage) (interface{}, error) {
	var subParams protocol.SubscribeParams
	if err := s.validateParams(params, &subParams, protocol.MethodSubscribeResource); err != nil {
		return nil, err
	}
	if subParams.URI == "" {
		return nil, mcperrors.InvalidParams("uri is required")
	}

	s.mu.Lock()
	_, exists := sess.subscriptions[subParams.URI]
	sess.subscriptions[subParams.URI] = struct{}{}
	s.mu.Unlock()

	if exists {
		s.logger.Debug("already subscribed", logging.String("uri", subParams.URI))
	} else {
		s.logger.Info("added subscription",
			logging.String("session_id", sess.id),
			logging.String("uri", subParams.URI),
		)
	}
	return &protocol.EmptyResult{}, nil
}

func (s *Server) handleUnsubscribeResource(ctx context.Context, sess *session, params json.RawMessage) (interface{}, error) {
	var subParams protocol.SubscribeParams
	if err := s.validateParams(params, &subParams, protocol.MethodUnsubscribeResource); err != nil {
		return nil, err
	}

	s.mu.Lock()
	_, exists := sess.subscriptions[subParams.URI]
	delete(sess.subscriptions, subParams.URI)
	s.mu.Unlock()

	if !exists {
		return nil, mcperrors.InvalidParamsf("no subscription found for URI: %s", subParams.URI)
	}
	s.logger.Info("removed subscription",
		logging.String("session_id", sess.id),
		logging.String("uri", subParams.URI),
	)
	return &protocol.EmptyResult{}, nil
}

// Subscriptions returns the URIs the connection with the given id is
// subscribed to, sorted.
func (s *Server) Subscriptions(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	uris := make([]string, 0, len(sess.subscriptions))
	for uri := range sess.subscriptions {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// NotifyResourceUpdated sends notifications/resources/updated to every
// initialized connection subscribed to uri.
func (s *Server) NotifyResourceUpdated(ctx context.Context, uri string) error {
	targets := s.sessionsWhere(func(sess *session) bool {
		_, ok := sess.subscriptions[uri]
		return ok
	})
	return s.notify(ctx, targets, protocol.NotificationResourceUpdated, &protocol.ResourceUpdatedParams{URI: uri})
}
