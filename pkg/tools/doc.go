// Package tools holds the registered tools of an MCP server and runs them.
//
// A Manager validates arguments against each tool's JSON Schema before the
// handler runs, bounds each call by a timeout and forwards progress values
// sent by the handler to a ProgressReporter as notifications/progress.
//
// Usage:
//
//	m := tools.NewManager(tools.WithDefaultTimeout(10 * time.Second))
//	m.RegisterTool(protocol.Tool{
//		Name:        "sleep",
//		InputSchema: json.RawMessage(`{"type":"object","properties":{"ms":{"type":"integer"}}}`),
//	}, func(ctx context.Context, args json.RawMessage, progress chan<- float64) (*protocol.CallToolResult, error) {
//		progress <- 50
//		return protocol.NewToolResultText("done"), nil
//	})
//
//	result := m.CallTool(ctx, "sleep", json.RawMessage(`{"ms":10}`), protocol.ProgressToken{})
//
// CallTool never returns a Go error. Unknown tools, invalid arguments,
// handler failures, timeouts and cancellation all come back as a
// CallToolResult with IsError set, so the client sees them as tool output
// rather than as protocol errors.
package tools
