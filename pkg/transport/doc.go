// Package transport carries JSON-RPC messages between MCP peers and a
// message handler.
//
// Two transports share one contract:
//
// StdioTransport:
//   - Content-Length framed messages over a byte stream (stdin/stdout by default)
//   - One connection at a time; Close never closes the process's own streams
//   - Oversized or malformed frames end the connection
//
// SSETransport:
//   - GET on the event path opens a server-sent event stream; the first event
//     carries {"sessionId": "..."}
//   - POST on the message path with ?sessionId= hands a message to that session
//   - Every session is an independent Connection; sessions never see each
//     other's traffic
//
// Usage:
//
//	config := transport.DefaultConfig(transport.TransportTypeSSE)
//	config.Addr = ":8080"
//	t, err := transport.New(config)
//	if err != nil {
//		return err
//	}
//	conn, err := t.Connect(ctx, handler)
//
// Requests on a connection are handled concurrently up to
// Config.MaxConcurrency; notifications and responses are handled inline in
// arrival order. The connection a message arrived on is available to the
// handler through ConnectionFromContext.
package transport
