// Package protocol defines the wire types of the Model Context Protocol.
//
// # Package Organization
//
//   - jsonrpc.go: JSON-RPC 2.0 envelopes, request ids and message decoding
//   - mcp.go: method and notification names, capabilities, lifecycle, logging and progress params
//   - tools.go, resources.go, prompts.go: capability-specific params and results
//
// # Message Flow
//
//  1. Client sends an initialize request carrying ProtocolVersion
//  2. Server responds with its capabilities and server info
//  3. Client sends notifications/initialized
//  4. Client and server exchange requests, responses and notifications
//
// # Example Messages
//
// Initialize request:
//
//	{
//	    "jsonrpc": "2.0",
//	    "id": 1,
//	    "method": "initialize",
//	    "params": {
//	        "protocolVersion": "2024-11-05",
//	        "capabilities": {},
//	        "clientInfo": {"name": "ExampleClient", "version": "1.0.0"}
//	    }
//	}
//
// Tool failure reply (a protocol-level success):
//
//	{
//	    "jsonrpc": "2.0",
//	    "id": 2,
//	    "result": {
//	        "content": [{"type": "text", "text": "Tool 'nope' not found"}],
//	        "isError": true
//	    }
//	}
package protocol
