package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

const (
	// JSONRPCVersion is the supported JSON-RPC version
	JSONRPCVersion = "2.0"
)

// ErrInvalidMessage is returned by DecodeMessage when the payload is valid JSON
// but not a JSON-RPC 2.0 envelope.
var ErrInvalidMessage = errors.New("invalid JSON-RPC message")

// RequestID is a JSON-RPC request identifier. It is either a string or an
// integer; the zero value means "no id" and marks a notification.
type RequestID struct {
	str   string
	num   int64
	isNum bool
}

// StringID returns a string request id.
func StringID(s string) RequestID {
	return RequestID{str: s}
}

// IntID returns an integer request id.
func IntID(n int64) RequestID {
	return RequestID{num: n, isNum: true}
}

// IsZero reports whether the id is absent. An empty string id counts as absent.
func (id RequestID) IsZero() bool {
	return !id.isNum && id.str == ""
}

// IsNumber reports whether the id was sent as an integer.
func (id RequestID) IsNumber() bool {
	return id.isNum
}

// String returns the id as text, suitable for logs.
func (id RequestID) String() string {
	if id.isNum {
		return strconv.FormatInt(id.num, 10)
	}
	return id.str
}

// Key returns a value usable as a map key that keeps "1" and 1 apart.
func (id RequestID) Key() string {
	if id.isNum {
		return "n:" + strconv.FormatInt(id.num, 10)
	}
	return "s:" + id.str
}

// MarshalJSON encodes the id as a JSON string, number, or null when absent.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if id.isNum {
		return []byte(strconv.FormatInt(id.num, 10)), nil
	}
	if id.str == "" {
		return []byte("null"), nil
	}
	return json.Marshal(id.str)
}

// UnmarshalJSON accepts a string, an integer, or null.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = RequestID{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("request id must be a string or integer, got %s", data)
	}
	*id = IntID(n)
	return nil
}

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest creates a new JSON-RPC 2.0 request
func NewRequest(id RequestID, method string, params interface{}) (*Request, error) {
	paramsJSON, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	return &Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  paramsJSON,
	}, nil
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResponse creates a new JSON-RPC 2.0 success response. A nil result is
// encoded as JSON null so the response always carries a result member.
func NewResponse(id RequestID, result interface{}) (*Response, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resultJSON,
	}, nil
}

// NewErrorResponse creates a new JSON-RPC 2.0 error response
func NewErrorResponse(id RequestID, rpcErr *Error) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   rpcErr,
	}
}

// Notification represents a JSON-RPC 2.0 notification
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewNotification creates a new JSON-RPC 2.0 notification
func NewNotification(method string, params interface{}) (*Notification, error) {
	paramsJSON, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	return &Notification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  paramsJSON,
	}, nil
}

// Error represents a JSON-RPC 2.0 error object
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error returns a string representation of the error object.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error: code = %d desc = %s", e.Code, e.Message)
}

// Message is a decoded JSON-RPC envelope of unknown kind.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsRequest reports whether the message expects a reply.
func (m *Message) IsRequest() bool {
	return m.Method != "" && !m.ID.IsZero()
}

// IsNotification reports whether the message is a method call without an id.
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID.IsZero()
}

// IsResponse reports whether the message answers an earlier request.
func (m *Message) IsResponse() bool {
	return m.Method == "" && (m.Result != nil || m.Error != nil)
}

// DecodeMessage parses one JSON-RPC envelope. JSON syntax errors are returned
// as-is; well-formed JSON that is not a 2.0 envelope wraps ErrInvalidMessage.
func DecodeMessage(data []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return nil, fmt.Errorf("%w: batch messages are not supported", ErrInvalidMessage)
	}

	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	if msg.JSONRPC != JSONRPCVersion {
		return &msg, fmt.Errorf("%w: jsonrpc must be %q", ErrInvalidMessage, JSONRPCVersion)
	}
	if !msg.IsRequest() && !msg.IsNotification() && !msg.IsResponse() {
		return &msg, fmt.Errorf("%w: neither request, notification nor response", ErrInvalidMessage)
	}

	return &msg, nil
}

func marshalOptional(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
