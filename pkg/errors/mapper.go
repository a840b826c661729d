package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/ajitpratap0/mcp-server-core/pkg/protocol"
)

// ToJSONRPCError converts any error to a JSON-RPC error object. The mapping is
// total: codes outside the five reserved ones are folded into Internal Error.
func ToJSONRPCError(err error) *protocol.Error {
	if err == nil {
		return nil
	}

	if rpcErr, ok := asProtocolError(err); ok {
		return rpcErr
	}

	if mcpErr, ok := AsMCPError(err); ok {
		code := mcpErr.Code()
		if !IsStandardCode(code) {
			code = CodeInternalError
		}
		data := mcpErr.Data()
		if data == nil && mcpErr.Details() != "" {
			data = map[string]string{"details": mcpErr.Details()}
		}
		return &protocol.Error{Code: code, Message: mcpErr.Message(), Data: data}
	}

	var syntaxErr *json.SyntaxError
	if stderrors.As(err, &syntaxErr) {
		return &protocol.Error{
			Code:    CodeParseError,
			Message: "Parse error",
			Data:    map[string]interface{}{"details": err.Error(), "offset": syntaxErr.Offset},
		}
	}

	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &typeErr) {
		return &protocol.Error{
			Code:    CodeInvalidParams,
			Message: "Invalid params",
			Data:    map[string]string{"details": err.Error(), "field": typeErr.Field},
		}
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return &protocol.Error{Code: CodeInternalError, Message: err.Error(), Data: map[string]string{"category": string(CategoryTimeout)}}
	case stderrors.Is(err, context.Canceled):
		return &protocol.Error{Code: CodeInternalError, Message: err.Error(), Data: map[string]string{"category": string(CategoryCancelled)}}
	case stderrors.Is(err, protocol.ErrInvalidMessage):
		return &protocol.Error{Code: CodeInvalidRequest, Message: err.Error()}
	}

	return &protocol.Error{Code: CodeInternalError, Message: err.Error()}
}

// ToJSONRPCResponse builds the error reply for the request with the given id.
func ToJSONRPCResponse(err error, id protocol.RequestID) *protocol.Response {
	if err == nil {
		err = stderrors.New("unknown error")
	}
	return protocol.NewErrorResponse(id, ToJSONRPCError(err))
}

// asProtocolError passes through error objects that came off the wire.
func asProtocolError(err error) (*protocol.Error, bool) {
	var rpcErr *protocol.Error
	if !stderrors.As(err, &rpcErr) {
		return nil, false
	}
	out := *rpcErr
	if !IsStandardCode(out.Code) {
		out.Code = CodeInternalError
	}
	return &out, true
}
