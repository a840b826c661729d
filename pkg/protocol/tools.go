package protocol

import (
	"encoding/json"
)

// Tool describes an invocable tool. InputSchema is a JSON Schema object.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsParams defines parameters for tools/list
type ListToolsParams struct {
	PaginatedParams
}

// ListToolsResult defines the response for tools/list
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
	PaginatedResult
}

// CallToolParams defines parameters for tools/call
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Meta      *RequestMeta    `json:"_meta,omitempty"`
}

// ProgressToken returns the caller's progress token, or the zero token.
func (p *CallToolParams) ProgressToken() ProgressToken {
	if p.Meta == nil {
		return ProgressToken{}
	}
	return p.Meta.ProgressToken
}

// CallToolResult is the payload of a tools/call reply. Tool failures are
// reported here with IsError set rather than as JSON-RPC errors.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// NewToolResultText returns a successful result with one text item.
func NewToolResultText(text string) *CallToolResult {
	return &CallToolResult{Content: []Content{NewTextContent(text)}}
}

// NewToolResultError returns a failed result with one text item.
func NewToolResultError(text string) *CallToolResult {
	return &CallToolResult{Content: []Content{NewTextContent(text)}, IsError: true}
}

// Content types
const (
	ContentTypeText     = "text"
	ContentTypeImage    = "image"
	ContentTypeResource = "resource"
)

// Content is one item of tool or prompt output.
type Content struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	Data     string            `json:"data,omitempty"`
	MimeType string            `json:"mimeType,omitempty"`
	Resource *ResourceContents `json:"resource,omitempty"`
}

// NewTextContent returns a text content item.
func NewTextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}
