package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"

	mcperrors "github.com/ajitpratap0/mcp-server-core/pkg/errors"
	"github.com/ajitpratap0/mcp-server-core/pkg/logging"
	"github.com/ajitpratap0/mcp-server-core/pkg/pagination"
	"github.com/ajitpratap0/mcp-server-core/pkg/protocol"
	"github.com/ajitpratap0/mcp-server-core/pkg/transport"
)

type requestHandler func(ctx context.Context, sess *session, params json.RawMessage) (interface{}, error)

// HandleMessage implements transport.Handler. It decodes one envelope,
// routes it and writes the reply, if any, back on conn.
func (s *Server) HandleMessage(ctx context.Context, conn transport.Connection, data []byte) {
	sess := s.sessionFor(conn)
	ctx = transport.ContextWithConnection(ctx, conn)
	ctx = logging.ContextWithSessionID(ctx, sess.id)

	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		s.rejectMessage(ctx, sess, msg, err)
		return
	}

	switch {
	case msg.IsResponse():
		s.logger.Debug("dropping response from client",
			logging.String("session_id", sess.id),
			logging.String("id", msg.ID.String()),
		)
	case msg.IsNotification():
		s.handleNotification(ctx, sess, msg)
	default:
		s.handleRequest(ctx, sess, msg)
	}
}

// rejectMessage answers a frame that is not a usable envelope. Syntax errors
// get a Parse Error with a null id.
func (s *Server) rejectMessage(ctx context.Context, sess *session, msg *protocol.Message, err error) {
	var id protocol.RequestID
	var rpcErr error

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		rpcErr = mcperrors.ParseError(err.Error())
	} else {
		if msg != nil {
			id = msg.ID
		}
		rpcErr = mcperrors.InvalidRequest(err.Error())
	}

	s.logger.Warn("rejecting malformed message",
		logging.String("session_id", sess.id),
		logging.ErrorField(err),
	)
	s.send(ctx, sess, mcperrors.ToJSONRPCResponse(rpcErr, id))
}

func (s *Server) handleRequest(ctx context.Context, sess *session, msg *protocol.Message) {
	// Replies go out on the transport context so a cancelled request still
	// gets its response.
	replyCtx := ctx

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	if err := s.trackRequest(sess, msg.ID, cancel); err != nil {
		s.send(replyCtx, sess, mcperrors.ToJSONRPCResponse(err, msg.ID))
		return
	}
	defer s.completeRequest(sess, msg.ID)

	ctx = logging.ContextWithRequestID(ctx, msg.ID.String())
	ctx, finish := s.observer.ObserveRequest(ctx, msg.Method,
		attribute.String("mcp.session_id", sess.id),
		attribute.String("mcp.request_id", msg.ID.String()),
	)

	start := time.Now()
	result, err := s.dispatch(ctx, sess, msg)
	finish(err)

	if err != nil {
		if mcpErr, ok := mcperrors.AsMCPError(err); ok {
			ctxInfo := s.createRequestContext(msg.Method, msg.ID)
			ctxInfo.SessionID = sess.id
			err = mcpErr.WithContext(ctxInfo)
		}
		s.logger.Debug("request failed",
			logging.String("method", msg.Method),
			logging.String("request_id", msg.ID.String()),
			logging.Duration("duration", time.Since(start)),
			logging.ErrorField(err),
		)
		s.send(replyCtx, sess, mcperrors.ToJSONRPCResponse(err, msg.ID))
		return
	}

	resp, err := protocol.NewResponse(msg.ID, result)
	if err != nil {
		s.logger.Error("failed to encode result",
			logging.String("method", msg.Method),
			logging.ErrorField(err),
		)
		s.send(replyCtx, sess, mcperrors.ToJSONRPCResponse(mcperrors.InternalError(err), msg.ID))
		return
	}
	s.logger.Debug("request handled",
		logging.String("method", msg.Method),
		logging.String("request_id", msg.ID.String()),
		logging.Duration("duration", time.Since(start)),
	)
	s.send(replyCtx, sess, resp)
}

// dispatch routes a request. A panic in any handler becomes an Internal Error.
func (s *Server) dispatch(ctx context.Context, sess *session, msg *protocol.Message) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in request handler",
				logging.String("method", msg.Method),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			result = nil
			err = mcperrors.InternalError(fmt.Errorf("panic handling %s: %v", msg.Method, r))
		}
	}()

	if err := s.checkLifecycle(sess, msg.Method); err != nil {
		return nil, err
	}
	handler, ok := s.handlers[msg.Method]
	if !ok {
		return nil, mcperrors.MethodNotFound(msg.Method)
	}
	return handler(ctx, sess, msg.Params)
}

func (s *Server) handleNotification(ctx context.Context, sess *session, msg *protocol.Message) {
	ctx, finish := s.observer.ObserveNotification(ctx, msg.Method)
	defer finish()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in notification handler",
				logging.String("method", msg.Method),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
		}
	}()

	switch msg.Method {
	case protocol.NotificationInitialized:
		s.handleInitialized(ctx, sess)
		return
	}

	s.mu.RLock()
	state := sess.state
	s.mu.RUnlock()
	if state != StateInitialized && state != StateShuttingDown {
		s.logger.Debug("notification ignored before initialization",
			logging.String("method", msg.Method),
			logging.String("session_id", sess.id),
		)
		return
	}

	switch msg.Method {
	case protocol.MethodExit:
		s.handleExit(sess)
	case protocol.NotificationCancelled:
		var params protocol.CancelledParams
		if err := s.validateParams(msg.Params, &params, msg.Method); err != nil || params.RequestID.IsZero() {
			s.logger.Debug("invalid cancellation", logging.ErrorField(err))
			return
		}
		s.cancelRequest(sess, params.RequestID)
	default:
		s.logger.Debug("dropping unknown notification", logging.String("method", msg.Method))
	}
}

// send writes one message to the session's connection. Failures are logged;
// the connection is gone or going.
func (s *Server) send(ctx context.Context, sess *session, msg interface{}) {
	if err := sess.conn.Send(ctx, msg); err != nil {
		s.logger.Debug("failed to send message",
			logging.String("session_id", sess.id),
			logging.ErrorField(err),
		)
	}
}

// createRequestContext creates error context for request handling
func (s *Server) createRequestContext(method string, requestID protocol.RequestID) *mcperrors.Context {
	return &mcperrors.Context{
		RequestID: requestID.String(),
		Method:    method,
		Component: "Server",
		Operation: method,
		Timestamp: time.Now(),
	}
}

// validateParams decodes request params into target. Absent params decode
// as an empty object.
func (s *Server) validateParams(params json.RawMessage, target interface{}, method string) error {
	if len(params) == 0 || string(params) == "null" {
		params = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(params, target); err != nil {
		return mcperrors.InvalidParamsf("invalid params for %s", method).
			WithContext(s.createRequestContext(method, protocol.RequestID{})).
			WithDetail(err.Error())
	}
	return nil
}

// page applies the configured page size to a list result.
func page[T any](s *Server, items []T, cursor string) ([]T, string, error) {
	out, next, err := pagination.Page(items, cursor, s.pageSize)
	if err != nil {
		return nil, "", mcperrors.InvalidParams(err.Error())
	}
	if out == nil {
		out = []T{}
	}
	return out, next, nil
}

func (s *Server) handleListTools(ctx context.Context, sess *session, params json.RawMessage) (interface{}, error) {
	var listParams protocol.ListToolsParams
	if err := s.validateParams(params, &listParams, protocol.MethodListTools); err != nil {
		return nil, err
	}

	all := s.tools.ListTools()
	provided, err := s.registry.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	for _, tool := range provided {
		if !s.tools.HasTool(tool.Name) {
			all = append(all, tool)
		}
	}

	items, next, err := page(s, all, listParams.Cursor)
	if err != nil {
		return nil, err
	}
	return &protocol.ListToolsResult{
		Tools:           items,
		PaginatedResult: protocol.PaginatedResult{NextCursor: next},
	}, nil
}

// handleCallTool never returns a JSON-RPC error for a failing tool; the
// failure is reported in the result with isError set.
func (s *Server) handleCallTool(ctx context.Context, sess *session, params json.RawMessage) (interface{}, error) {
	var callParams protocol.CallToolParams
	if err := s.validateParams(params, &callParams, protocol.MethodCallTool); err != nil {
		return nil, err
	}
	if callParams.Name == "" {
		return nil, mcperrors.InvalidParams("tool name is required")
	}

	if s.tools.HasTool(callParams.Name) {
		return s.tools.CallTool(ctx, callParams.Name, callParams.Arguments, callParams.ProgressToken()), nil
	}

	result, err := s.registry.ExecuteTool(ctx, callParams.Name, callParams.Arguments)
	switch {
	case errors.Is(err, mcperrors.ErrToolNotFound):
		// The manager produces the canonical not-found result.
		return s.tools.CallTool(ctx, callParams.Name, callParams.Arguments, callParams.ProgressToken()), nil
	case err != nil:
		return protocol.NewToolResultError(err.Error()), nil
	case result == nil:
		return &protocol.CallToolResult{Content: []protocol.Content{}}, nil
	}
	return result, nil
}

func (s *Server) handleListResources(ctx context.Context, sess *session, params json.RawMessage) (interface{}, error) {
	var listParams protocol.ListResourcesParams
	if err := s.validateParams(params, &listParams, protocol.MethodListResources); err != nil {
		return nil, err
	}

	resources, err := s.registry.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	items, next, err := page(s, resources, listParams.Cursor)
	if err != nil {
		return nil, err
	}
	return &protocol.ListResourcesResult{
		Resources:       items,
		PaginatedResult: protocol.PaginatedResult{NextCursor: next},
	}, nil
}

func (s *Server) handleListResourceTemplates(ctx context.Context, sess *session, params json.RawMessage) (interface{}, error) {
	var listParams protocol.ListResourceTemplatesParams
	if err := s.validateParams(params, &listParams, protocol.MethodListResourceTemplates); err != nil {
		return nil, err
	}

	templates, err := s.registry.ListResourceTemplates(ctx)
	if err != nil {
		return nil, err
	}
	items, next, err := page(s, templates, listParams.Cursor)
	if err != nil {
		return nil, err
	}
	return &protocol.ListResourceTemplatesResult{
		ResourceTemplates: items,
		PaginatedResult:   protocol.PaginatedResult{NextCursor: next},
	}, nil
}

func (s *Server) handleReadResource(ctx context.Context, sess *session, params json.RawMessage) (interface{}, error) {
	var readParams protocol.ReadResourceParams
	if err := s.validateParams(params, &readParams, protocol.MethodReadResource); err != nil {
		return nil, err
	}
	if readParams.URI == "" {
		return nil, mcperrors.InvalidParams("uri is required")
	}

	contents, err := s.registry.ReadResource(ctx, readParams.URI)
	if err != nil {
		return nil, err
	}
	return &protocol.ReadResourceResult{Contents: contents}, nil
}

func (s *Server) handleListPrompts(ctx context.Context, sess *session, params json.RawMessage) (interface{}, error) {
	var listParams protocol.ListPromptsParams
	if err := s.validateParams(params, &listParams, protocol.MethodListPrompts); err != nil {
		return nil, err
	}

	prompts, err := s.registry.ListPrompts(ctx)
	if err != nil {
		return nil, err
	}
	items, next, err := page(s, prompts, listParams.Cursor)
	if err != nil {
		return nil, err
	}
	return &protocol.ListPromptsResult{
		Prompts:         items,
		PaginatedResult: protocol.PaginatedResult{NextCursor: next},
	}, nil
}

func (s *Server) handleGetPrompt(ctx context.Context, sess *session, params json.RawMessage) (interface{}, error) {
	var getParams protocol.GetPromptParams
	if err := s.validateParams(params, &getParams, protocol.MethodGetPrompt); err != nil {
		return nil, err
	}
	if getParams.Name == "" {
		return nil, mcperrors.InvalidParams("prompt name is required")
	}

	return s.registry.GetPrompt(ctx, getParams.Name, getParams.Arguments)
}

func (s *Server) handleSetLogLevel(ctx context.Context, sess *session, params json.RawMessage) (interface{}, error) {
	var levelParams protocol.SetLevelParams
	if err := s.validateParams(params, &levelParams, protocol.MethodSetLogLevel); err != nil {
		return nil, err
	}
	if !levelParams.Level.Valid() {
		return nil, mcperrors.InvalidParamsf("invalid log level %q", levelParams.Level)
	}

	s.mu.Lock()
	sess.logLevel = levelParams.Level
	s.mu.Unlock()

	s.logger.Debug("client log level set",
		logging.String("session_id", sess.id),
		logging.String("level", string(levelParams.Level)),
	)
	return &protocol.EmptyResult{}, nil
}
