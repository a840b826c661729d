// Package mcp is the entry point of an MCP server core: a JSON-RPC 2.0
// server speaking the Model Context Protocol over stdio or server-sent
// events.
//
// The exports below cover the common path. The packages under pkg/ carry
// the full API.
package mcp

import (
	"github.com/ajitpratap0/mcp-server-core/pkg/protocol"
	"github.com/ajitpratap0/mcp-server-core/pkg/server"
	"github.com/ajitpratap0/mcp-server-core/pkg/transport"
)

// Version represents the current version of the server core
const Version = "1.0.0"

// ProtocolVersion is the MCP revision spoken by the server
const ProtocolVersion = protocol.ProtocolVersion

// These exports provide direct access to the core components
var (
	// NewServer creates a new MCP server
	NewServer = server.New

	// NewTransport creates a transport from a transport.Config
	NewTransport = transport.New

	// NewStdioTransport creates a new stdio transport
	NewStdioTransport = transport.NewStdioTransport

	// NewSSETransport creates a new SSE transport
	NewSSETransport = transport.NewSSETransport

	// DefaultTransportConfig returns transport defaults for a transport type
	DefaultTransportConfig = transport.DefaultConfig
)

// Transport types
const (
	TransportStdio = transport.TransportTypeStdio
	TransportSSE   = transport.TransportTypeSSE
)

// Server options
var (
	WithServerName        = server.WithName
	WithServerVersion     = server.WithVersion
	WithInstructions      = server.WithInstructions
	WithCapabilities      = server.WithCapabilities
	WithLogger            = server.WithLogger
	WithObserver          = server.WithObserver
	WithToolsManager      = server.WithToolsManager
	WithPageSize          = server.WithPageSize
	WithHeartbeat         = server.WithHeartbeat
	WithBackgroundService = server.WithBackgroundService
)

// Provider creation
var (
	NewStaticResourceProvider = server.NewStaticResourceProvider
	NewStaticPromptProvider   = server.NewStaticPromptProvider
)
