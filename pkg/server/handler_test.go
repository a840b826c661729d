package server

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	mcperrors "github.com/ajitpratap0/mcp-server-core/pkg/errors"
	"github.com/ajitpratap0/mcp-server-core/pkg/observability"
	"github.com/ajitpratap0/mcp-server-core/pkg/protocol"
)

var echoTool = protocol.Tool{
	Name:        "echo",
	Description: "Echoes the message back",
	InputSchema: json.RawMessage(`{
		"type": "object",
		"properties": {"message": {"type": "string"}},
		"required": ["message"]
	}`),
}

func echoHandler(ctx context.Context, args json.RawMessage, progress chan<- float64) (*protocol.CallToolResult, error) {
	var in struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	return protocol.NewToolResultText(in.Message), nil
}

func callTool(t *testing.T, s *Server, conn *fakeConn, id int64, params *protocol.CallToolParams) *protocol.CallToolResult {
	t.Helper()
	resp := call(t, s, conn, protocol.IntID(id), protocol.MethodCallTool, params)
	var result protocol.CallToolResult
	decodeResult(t, resp, &result)
	return &result
}

func TestCallTool_EchoScenario(t *testing.T) {
	s := newTestServer(t)
	s.RegisterTool(echoTool, echoHandler)
	conn := newFakeConn("c1")
	initialize(t, s, conn)

	result := callTool(t, s, conn, 1, &protocol.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"message":"hi"}`),
	})
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "hi", result.Content[0].Text)

	result = callTool(t, s, conn, 2, &protocol.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{}`),
	})
	assert.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].Text, "message")
}

func TestCallTool_UnknownToolIsResultNotError(t *testing.T) {
	s := newTestServer(t)
	conn := newFakeConn("c1")
	initialize(t, s, conn)

	result := callTool(t, s, conn, 1, &protocol.CallToolParams{Name: "missing"})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "missing")

	resp := call(t, s, conn, protocol.IntID(2), protocol.MethodCallTool, map[string]string{})
	requireErrorCode(t, resp, mcperrors.CodeInvalidParams)
}

type fakeToolProvider struct {
	tools  []protocol.Tool
	result string
	err    error
}

func (p *fakeToolProvider) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	return p.tools, p.err
}

func (p *fakeToolProvider) CallTool(ctx context.Context, name string, args json.RawMessage) (*protocol.CallToolResult, error) {
	for _, tool := range p.tools {
		if tool.Name == name {
			return protocol.NewToolResultText(p.result), nil
		}
	}
	return nil, mcperrors.NotFound(mcperrors.ErrToolNotFound, name)
}

func TestCallTool_ProviderFallback(t *testing.T) {
	s := newTestServer(t)
	s.RegisterTool(echoTool, echoHandler)
	s.RegisterToolProvider(&fakeToolProvider{
		tools: []protocol.Tool{
			{Name: "remote", InputSchema: json.RawMessage(`{"type":"object"}`)},
			{Name: "echo", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
		result: "from provider",
	})
	conn := newFakeConn("c1")
	initialize(t, s, conn)

	var list protocol.ListToolsResult
	decodeResult(t, call(t, s, conn, protocol.IntID(1), protocol.MethodListTools, nil), &list)
	names := make([]string, len(list.Tools))
	for i, tool := range list.Tools {
		names[i] = tool.Name
	}
	assert.Equal(t, []string{"echo", "remote"}, names)

	result := callTool(t, s, conn, 2, &protocol.CallToolParams{Name: "remote"})
	assert.False(t, result.IsError)
	assert.Equal(t, "from provider", result.Content[0].Text)

	// The manager's echo shadows the provider's.
	result = callTool(t, s, conn, 3, &protocol.CallToolParams{Name: "echo", Arguments: json.RawMessage(`{"message":"local"}`)})
	assert.Equal(t, "local", result.Content[0].Text)

	result = callTool(t, s, conn, 4, &protocol.CallToolParams{Name: "nowhere"})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "nowhere")
}

func TestCallTool_ProgressNotifications(t *testing.T) {
	s := newTestServer(t)
	s.RegisterTool(protocol.Tool{Name: "slow", InputSchema: json.RawMessage(`{"type":"object"}`)},
		func(ctx context.Context, args json.RawMessage, progress chan<- float64) (*protocol.CallToolResult, error) {
			progress <- 25
			progress <- 75
			return protocol.NewToolResultText("done"), nil
		})
	conn := newFakeConn("c1")
	initialize(t, s, conn)

	s.HandleMessage(context.Background(), conn, encodeRequest(t, protocol.IntID(1), protocol.MethodCallTool, &protocol.CallToolParams{
		Name: "slow",
		Meta: &protocol.RequestMeta{ProgressToken: protocol.StringID("tok-1")},
	}))

	for _, want := range []float64{25, 75} {
		msg := conn.next(t)
		require.Equal(t, protocol.NotificationProgress, msg.Method)
		var p protocol.ProgressParams
		require.NoError(t, json.Unmarshal(msg.Params, &p))
		assert.Equal(t, protocol.StringID("tok-1"), p.ProgressToken)
		assert.Equal(t, want, p.Progress)
		assert.Equal(t, 100.0, p.Total)
	}

	resp := conn.next(t)
	require.True(t, resp.IsResponse())
	assert.Equal(t, protocol.IntID(1), resp.ID)

	// Without a token no progress is sent.
	result := callTool(t, s, conn, 2, &protocol.CallToolParams{Name: "slow"})
	assert.False(t, result.IsError)
	conn.expectNone(t, 50*time.Millisecond)
}

func TestCallTool_CancelledNotification(t *testing.T) {
	s := newTestServer(t)
	entered := make(chan struct{})
	s.RegisterTool(protocol.Tool{Name: "wait", InputSchema: json.RawMessage(`{"type":"object"}`)},
		func(ctx context.Context, args json.RawMessage, progress chan<- float64) (*protocol.CallToolResult, error) {
			close(entered)
			<-ctx.Done()
			return nil, ctx.Err()
		})
	conn := newFakeConn("c1")
	initialize(t, s, conn)

	go s.HandleMessage(context.Background(), conn, encodeRequest(t, protocol.StringID("long"), protocol.MethodCallTool, &protocol.CallToolParams{Name: "wait"}))
	<-entered

	notify(t, s, conn, protocol.NotificationCancelled, &protocol.CancelledParams{
		RequestID: protocol.StringID("long"),
		Reason:    "user abort",
	})

	resp := conn.next(t)
	assert.Equal(t, protocol.StringID("long"), resp.ID)
	var result protocol.CallToolResult
	decodeResult(t, resp, &result)
	assert.True(t, result.IsError)
	// Either the abandon message or the handler's context.Canceled text.
	assert.Contains(t, result.Content[0].Text, "cancel")
}

func TestShutdown_CancelsInflightToolCalls(t *testing.T) {
	s := newTestServer(t)
	entered := make(chan struct{})
	s.RegisterTool(protocol.Tool{Name: "wait", InputSchema: json.RawMessage(`{"type":"object"}`)},
		func(ctx context.Context, args json.RawMessage, progress chan<- float64) (*protocol.CallToolResult, error) {
			close(entered)
			<-ctx.Done()
			return nil, ctx.Err()
		})
	conn := newFakeConn("c1")
	initialize(t, s, conn)

	go s.HandleMessage(context.Background(), conn, encodeRequest(t, protocol.IntID(1), protocol.MethodCallTool, &protocol.CallToolParams{Name: "wait"}))
	<-entered

	require.NoError(t, s.Shutdown(context.Background()))

	resp := conn.next(t)
	var result protocol.CallToolResult
	decodeResult(t, resp, &result)
	assert.True(t, result.IsError)
}

type panickingResources struct{}

func (panickingResources) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	return nil, nil
}

func (panickingResources) ReadResource(ctx context.Context, uri string) ([]protocol.ResourceContents, error) {
	panic("disk on fire")
}

func TestHandlerPanicBecomesInternalError(t *testing.T) {
	s := newTestServer(t)
	s.RegisterResourceProvider(panickingResources{})
	conn := newFakeConn("c1")
	initialize(t, s, conn)

	resp := call(t, s, conn, protocol.IntID(1), protocol.MethodReadResource, &protocol.ReadResourceParams{URI: "file:///x"})
	requireErrorCode(t, resp, mcperrors.CodeInternalError)
	assert.Contains(t, resp.Error.Message, "disk on fire")

	// The connection keeps working.
	resp = call(t, s, conn, protocol.IntID(2), protocol.MethodPing, nil)
	assert.Nil(t, resp.Error)
}

func TestResources(t *testing.T) {
	s := newTestServer(t)
	resources := NewStaticResourceProvider()
	resources.AddTextResource(protocol.Resource{URI: "mem://readme", Name: "readme", MimeType: "text/plain"}, "hello")
	resources.AddTemplate(protocol.ResourceTemplate{URITemplate: "mem://notes/{id}", Name: "note"})
	s.RegisterResourceProvider(resources)
	conn := newFakeConn("c1")
	initialize(t, s, conn)

	var list protocol.ListResourcesResult
	decodeResult(t, call(t, s, conn, protocol.IntID(1), protocol.MethodListResources, nil), &list)
	require.Len(t, list.Resources, 1)
	assert.Equal(t, "mem://readme", list.Resources[0].URI)
	assert.Empty(t, list.NextCursor)

	var templates protocol.ListResourceTemplatesResult
	decodeResult(t, call(t, s, conn, protocol.IntID(2), protocol.MethodListResourceTemplates, nil), &templates)
	require.Len(t, templates.ResourceTemplates, 1)

	var read protocol.ReadResourceResult
	decodeResult(t, call(t, s, conn, protocol.IntID(3), protocol.MethodReadResource, &protocol.ReadResourceParams{URI: "mem://readme"}), &read)
	require.Len(t, read.Contents, 1)
	assert.Equal(t, "hello", read.Contents[0].Text)

	resp := call(t, s, conn, protocol.IntID(4), protocol.MethodReadResource, &protocol.ReadResourceParams{URI: "mem://nope"})
	requireErrorCode(t, resp, mcperrors.CodeInvalidParams)
	assert.JSONEq(t, `{"kind":"resource","id":"mem://nope"}`, string(mustJSON(t, resp.Error.Data)))

	resp = call(t, s, conn, protocol.IntID(5), protocol.MethodReadResource, nil)
	requireErrorCode(t, resp, mcperrors.CodeInvalidParams)
}

func TestPrompts(t *testing.T) {
	s := newTestServer(t)
	prompts := NewStaticPromptProvider()
	prompts.AddPrompt(protocol.Prompt{
		Name:      "greet",
		Arguments: []protocol.PromptArgument{{Name: "who", Required: true}},
	}, protocol.PromptMessage{Role: protocol.RoleUser, Content: protocol.NewTextContent("Say hello to {{who}}")})
	s.RegisterPromptProvider(prompts)
	conn := newFakeConn("c1")
	initialize(t, s, conn)

	var list protocol.ListPromptsResult
	decodeResult(t, call(t, s, conn, protocol.IntID(1), protocol.MethodListPrompts, nil), &list)
	require.Len(t, list.Prompts, 1)

	var got protocol.GetPromptResult
	decodeResult(t, call(t, s, conn, protocol.IntID(2), protocol.MethodGetPrompt, &protocol.GetPromptParams{
		Name:      "greet",
		Arguments: map[string]string{"who": "Ada"},
	}), &got)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "Say hello to Ada", got.Messages[0].Content.Text)

	resp := call(t, s, conn, protocol.IntID(3), protocol.MethodGetPrompt, &protocol.GetPromptParams{Name: "greet"})
	requireErrorCode(t, resp, mcperrors.CodeInvalidParams)
	assert.Contains(t, resp.Error.Message, "who")

	resp = call(t, s, conn, protocol.IntID(4), protocol.MethodGetPrompt, &protocol.GetPromptParams{Name: "farewell"})
	requireErrorCode(t, resp, mcperrors.CodeInvalidParams)
	assert.Contains(t, resp.Error.Message, "farewell")
}

func TestPagination(t *testing.T) {
	s := newTestServer(t, WithPageSize(2))
	resources := NewStaticResourceProvider()
	for i := 0; i < 5; i++ {
		resources.AddTextResource(protocol.Resource{URI: fmt.Sprintf("mem://%d", i), Name: "r"}, "x")
	}
	s.RegisterResourceProvider(resources)
	conn := newFakeConn("c1")
	initialize(t, s, conn)

	var uris []string
	cursor := ""
	for id := int64(1); ; id++ {
		var page protocol.ListResourcesResult
		params := &protocol.ListResourcesParams{PaginatedParams: protocol.PaginatedParams{Cursor: cursor}}
		decodeResult(t, call(t, s, conn, protocol.IntID(id), protocol.MethodListResources, params), &page)
		assert.LessOrEqual(t, len(page.Resources), 2)
		for _, r := range page.Resources {
			uris = append(uris, r.URI)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, []string{"mem://0", "mem://1", "mem://2", "mem://3", "mem://4"}, uris)

	resp := call(t, s, conn, protocol.IntID(99), protocol.MethodListResources,
		&protocol.ListResourcesParams{PaginatedParams: protocol.PaginatedParams{Cursor: "%%%"}})
	requireErrorCode(t, resp, mcperrors.CodeInvalidParams)
}

func TestSetLogLevel(t *testing.T) {
	s := newTestServer(t)
	conn := newFakeConn("c1")
	initialize(t, s, conn)

	resp := call(t, s, conn, protocol.IntID(1), protocol.MethodSetLogLevel, &protocol.SetLevelParams{Level: "loud"})
	requireErrorCode(t, resp, mcperrors.CodeInvalidParams)

	resp = call(t, s, conn, protocol.IntID(2), protocol.MethodSetLogLevel, &protocol.SetLevelParams{Level: protocol.LoggingLevelError})
	assert.Nil(t, resp.Error)

	require.NoError(t, s.LogMessage(context.Background(), protocol.LoggingLevelInfo, "test", "quiet"))
	conn.expectNone(t, 50*time.Millisecond)

	require.NoError(t, s.LogMessage(context.Background(), protocol.LoggingLevelCritical, "test", map[string]string{"disk": "full"}))
	msg := conn.next(t)
	require.Equal(t, protocol.NotificationMessage, msg.Method)
	var params protocol.LoggingMessageParams
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	assert.Equal(t, protocol.LoggingLevelCritical, params.Level)
	assert.Equal(t, "test", params.Logger)
	assert.JSONEq(t, `{"disk":"full"}`, string(params.Data))

	assert.Error(t, s.LogMessage(context.Background(), "loud", "test", nil))
}

func TestObserverRecordsRequests(t *testing.T) {
	metrics, err := observability.NewMetrics(observability.MetricsConfig{Namespace: "srv"})
	require.NoError(t, err)
	exporter := tracetest.NewInMemoryExporter()
	tracing, err := observability.NewTracingProviderWithExporter(observability.TracingConfig{ServiceName: "test"}, exporter)
	require.NoError(t, err)
	defer func() { _ = tracing.Shutdown(context.Background()) }()

	s := newTestServer(t, WithObserver(&observability.Observer{Metrics: metrics, Tracing: tracing}))
	s.RegisterTool(echoTool, echoHandler)
	conn := newFakeConn("c1")
	initialize(t, s, conn)

	callTool(t, s, conn, 1, &protocol.CallToolParams{Name: "echo", Arguments: json.RawMessage(`{"message":"x"}`)})
	call(t, s, conn, protocol.IntID(2), "nope/nope", nil)

	count, err := testutil.GatherAndCount(metrics.Registry(), "srv_request_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "initialize, tools/call and the failed method")

	count, err = testutil.GatherAndCount(metrics.Registry(), "srv_tool_call_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	names := map[string]bool{}
	for _, span := range exporter.GetSpans() {
		names[span.Name] = true
	}
	assert.True(t, names["mcp.initialize"])
	assert.True(t, names["mcp.tools/call"])
	assert.True(t, names["tool.echo"])
}
