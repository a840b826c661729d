package protocol

import "encoding/json"

const (
	// ProtocolVersion is the only protocol revision the server accepts.
	ProtocolVersion = "2024-11-05"

	// Lifecycle
	MethodInitialize = "initialize"
	MethodPing       = "ping"
	MethodShutdown   = "shutdown"
	MethodExit       = "exit"

	// Server features
	MethodListTools             = "tools/list"
	MethodCallTool              = "tools/call"
	MethodListResources         = "resources/list"
	MethodReadResource          = "resources/read"
	MethodListResourceTemplates = "resources/templates/list"
	MethodSubscribeResource     = "resources/subscribe"
	MethodUnsubscribeResource   = "resources/unsubscribe"
	MethodListPrompts           = "prompts/list"
	MethodGetPrompt             = "prompts/get"
	MethodSetLogLevel           = "logging/setLevel"
	MethodComplete              = "completion/complete"

	// Notifications
	NotificationInitialized          = "notifications/initialized"
	NotificationProgress             = "notifications/progress"
	NotificationMessage              = "notifications/message"
	NotificationCancelled            = "notifications/cancelled"
	NotificationToolsListChanged     = "notifications/tools/list_changed"
	NotificationResourcesListChanged = "notifications/resources/list_changed"
	NotificationPromptsListChanged   = "notifications/prompts/list_changed"
	NotificationResourceUpdated      = "notifications/resources/updated"
)

// Implementation identifies a peer by name and version.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ListChangedCapability is shared by the tools and prompts capabilities.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability describes the server's resource support.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities is the set of optional features the server declares.
// A nil member means the feature is not offered.
type ServerCapabilities struct {
	Experimental map[string]interface{} `json:"experimental,omitempty"`
	Logging      *struct{}              `json:"logging,omitempty"`
	Prompts      *ListChangedCapability `json:"prompts,omitempty"`
	Resources    *ResourcesCapability   `json:"resources,omitempty"`
	Tools        *ListChangedCapability `json:"tools,omitempty"`
}

// ClientCapabilities is the set of optional features the client declares.
type ClientCapabilities struct {
	Experimental map[string]interface{} `json:"experimental,omitempty"`
	Roots        *ListChangedCapability `json:"roots,omitempty"`
	Sampling     *struct{}              `json:"sampling,omitempty"`
}

// InitializeParams defines the parameters for the initialize request
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult defines the response for the initialize request
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// EmptyResult is the payload of ping and other acknowledgement-only replies.
type EmptyResult struct{}

// ProgressToken correlates progress notifications with a request. Clients may
// send either a string or a number; it is echoed back verbatim.
type ProgressToken = RequestID

// RequestMeta is the "_meta" member that may accompany request params.
type RequestMeta struct {
	ProgressToken ProgressToken `json:"progressToken,omitempty"`
}

// ProgressParams defines parameters for notifications/progress
type ProgressParams struct {
	ProgressToken ProgressToken `json:"progressToken"`
	Progress      float64       `json:"progress"`
	Total         float64       `json:"total,omitempty"`
}

// CancelledParams defines parameters for notifications/cancelled
type CancelledParams struct {
	RequestID RequestID `json:"requestId"`
	Reason    string    `json:"reason,omitempty"`
}

// LoggingLevel is a syslog severity as used by notifications/message.
type LoggingLevel string

const (
	LoggingLevelDebug     LoggingLevel = "debug"
	LoggingLevelInfo      LoggingLevel = "info"
	LoggingLevelNotice    LoggingLevel = "notice"
	LoggingLevelWarning   LoggingLevel = "warning"
	LoggingLevelError     LoggingLevel = "error"
	LoggingLevelCritical  LoggingLevel = "critical"
	LoggingLevelAlert     LoggingLevel = "alert"
	LoggingLevelEmergency LoggingLevel = "emergency"
)

var loggingLevelRank = map[LoggingLevel]int{
	LoggingLevelDebug:     0,
	LoggingLevelInfo:      1,
	LoggingLevelNotice:    2,
	LoggingLevelWarning:   3,
	LoggingLevelError:     4,
	LoggingLevelCritical:  5,
	LoggingLevelAlert:     6,
	LoggingLevelEmergency: 7,
}

// Valid reports whether l is one of the defined levels.
func (l LoggingLevel) Valid() bool {
	_, ok := loggingLevelRank[l]
	return ok
}

// Admits reports whether a message at level msg passes a threshold of l.
func (l LoggingLevel) Admits(msg LoggingLevel) bool {
	return loggingLevelRank[msg] >= loggingLevelRank[l]
}

// SetLevelParams defines parameters for logging/setLevel
type SetLevelParams struct {
	Level LoggingLevel `json:"level"`
}

// LoggingMessageParams defines parameters for notifications/message
type LoggingMessageParams struct {
	Level  LoggingLevel    `json:"level"`
	Logger string          `json:"logger,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// PaginatedParams is embedded by list requests.
type PaginatedParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// PaginatedResult is embedded by list results.
type PaginatedResult struct {
	NextCursor string `json:"nextCursor,omitempty"`
}
