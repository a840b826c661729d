// Package server implements the server side of the Model Context Protocol (MCP).
//
// A Server sits between a transport and a set of capability providers. It
// decodes JSON-RPC messages, enforces the connection lifecycle, dispatches
// requests to the tools manager and the provider registry, and writes the
// replies back on the connection the request arrived on.
//
// # Lifecycle
//
// Every connection has its own lifecycle state:
//
//   - Uninitialized: only initialize and ping are accepted
//   - Initialized: every method is accepted
//   - ShuttingDown: only ping and shutdown are accepted
//   - Closed: nothing is accepted
//
// A shutdown request shuts the whole server down: in-flight requests are
// cancelled, OnShutdown callbacks run in registration order and background
// services are awaited. An exit notification closes the connection it
// arrived on.
//
// # Creating a Server
//
//	config := transport.DefaultConfig(transport.TransportTypeStdio)
//	srv := server.New(transport.NewStdioTransport(config),
//		server.WithName("example"),
//		server.WithVersion("1.0.0"),
//	)
//
//	srv.RegisterTool(protocol.Tool{
//		Name:        "echo",
//		InputSchema: json.RawMessage(`{"type":"object"}`),
//	}, func(ctx context.Context, args json.RawMessage, progress chan<- float64) (*protocol.CallToolResult, error) {
//		return protocol.NewToolResultText(string(args)), nil
//	})
//
//	resources := server.NewStaticResourceProvider()
//	resources.AddTextResource(protocol.Resource{URI: "mem://readme", Name: "readme"}, "hello")
//	srv.RegisterResourceProvider(resources)
//
//	// Blocks until the connection ends, ctx is cancelled or Close is called.
//	if err := srv.Start(ctx); err != nil {
//		return err
//	}
//
// # Providers
//
// Resources, tools and prompts can also come from providers registered on
// the Registry. List requests aggregate providers in registration order and
// fail on the first provider error. Lookups return the first provider that
// succeeds. Tools registered directly on the server shadow provider tools
// with the same name.
package server
