package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind-specific lookup sentinels. Registry lookups that exhaust every
// provider return an error for which errors.Is reports one of these.
var (
	ErrResourceNotFound = stderrors.New("resource not found")
	ErrToolNotFound     = stderrors.New("tool not found")
	ErrPromptNotFound   = stderrors.New("prompt not found")
)

// NotFoundData is attached to lookup failures.
type NotFoundData struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// TransportErrorData describes a transport failure.
type TransportErrorData struct {
	Transport string `json:"transport"`
	Operation string `json:"operation"`
	Reason    string `json:"reason,omitempty"`
}

// ParseError reports a payload that is not valid JSON or a frame whose
// header cannot be parsed.
func ParseError(detail string) MCPError {
	err := NewError(CodeParseError, "Parse error", CategoryProtocol, SeverityError)
	if detail != "" {
		err = err.WithDetail(detail)
	}
	return err
}

// InvalidRequest reports an envelope or lifecycle violation.
func InvalidRequest(reason string) MCPError {
	return NewError(CodeInvalidRequest, reason, CategoryProtocol, SeverityError)
}

// MethodNotFound reports an unknown method name.
func MethodNotFound(method string) MCPError {
	return NewErrorf(CodeMethodNotFound, CategoryProtocol, SeverityWarning, "Method not found: %s", method).
		WithData(map[string]string{"method": method})
}

// InvalidParams reports malformed or semantically invalid params.
func InvalidParams(reason string) MCPError {
	return NewError(CodeInvalidParams, reason, CategoryValidation, SeverityError)
}

// InvalidParamsf is InvalidParams with a formatted reason.
func InvalidParamsf(format string, args ...interface{}) MCPError {
	return InvalidParams(fmt.Sprintf(format, args...))
}

// InternalError wraps an unexpected failure. The cause's text becomes the message.
func InternalError(cause error) MCPError {
	msg := "Internal error"
	if cause != nil {
		msg = cause.Error()
	}
	return WrapError(cause, CodeInternalError, msg, CategoryInternal, SeverityError)
}

// NotFound wraps a kind sentinel such as ErrResourceNotFound. The result
// matches the sentinel with errors.Is and maps to Invalid Params.
func NotFound(sentinel error, id string) MCPError {
	kind := "item"
	switch sentinel {
	case ErrResourceNotFound:
		kind = "resource"
	case ErrToolNotFound:
		kind = "tool"
	case ErrPromptNotFound:
		kind = "prompt"
	}
	return WrapError(sentinel, CodeInvalidParams, fmt.Sprintf("%s not found: %s", kind, id), CategoryNotFound, SeverityError).
		WithData(&NotFoundData{Kind: kind, ID: id})
}

// TransportError wraps an I/O failure of a transport.
func TransportError(transport, operation string, cause error) MCPError {
	message := fmt.Sprintf("%s transport error during %s", transport, operation)
	data := &TransportErrorData{Transport: transport, Operation: operation}
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
		data.Reason = cause.Error()
	}
	return WrapError(cause, CodeInternalError, message, CategoryTransport, SeverityError).WithData(data)
}

// FrameTooLarge reports an incoming frame whose declared length exceeds the limit.
func FrameTooLarge(size, limit int) MCPError {
	return NewErrorf(CodeInternalError, CategoryTransport, SeverityCritical,
		"frame too large: %d bytes exceeds limit of %d", size, limit).
		WithData(map[string]int{"size": size, "limit": limit})
}
