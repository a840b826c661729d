package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ajitpratap0/mcp-server-core/pkg/protocol"
	"github.com/ajitpratap0/mcp-server-core/pkg/server"
	"github.com/ajitpratap0/mcp-server-core/pkg/tools"
)

var echoTool = protocol.Tool{
	Name:        "echo",
	Description: "Echoes the message back",
	InputSchema: json.RawMessage(`{
		"type": "object",
		"properties": {"message": {"type": "string"}}
	}`),
}

var countdownTool = protocol.Tool{
	Name:        "countdown",
	Description: "Counts down from n, reporting progress every step",
	InputSchema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"n": {"type": "integer", "minimum": 1, "maximum": 100},
			"interval_ms": {"type": "integer", "minimum": 0}
		},
		"required": ["n"]
	}`),
}

func echo(ctx context.Context, args json.RawMessage, progress chan<- float64) (*protocol.CallToolResult, error) {
	var in struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	return protocol.NewToolResultText(in.Message), nil
}

func countdown(ctx context.Context, args json.RawMessage, progress chan<- float64) (*protocol.CallToolResult, error) {
	var in struct {
		N          int `json:"n"`
		IntervalMS int `json:"interval_ms"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}

	for i := 1; i <= in.N; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(in.IntervalMS) * time.Millisecond):
		}
		select {
		case progress <- tools.ProgressTotal * float64(i) / float64(in.N):
		default:
		}
	}
	return protocol.NewToolResultText(fmt.Sprintf("counted down from %d", in.N)), nil
}

// registerDemo installs the capabilities the binary serves out of the box.
func registerDemo(srv *server.Server) {
	srv.RegisterTool(echoTool, echo)
	srv.RegisterTool(countdownTool, countdown)

	resources := server.NewStaticResourceProvider()
	resources.AddTextResource(protocol.Resource{
		URI:         "mcp://server/about",
		Name:        "about",
		Description: "What this server is",
		MimeType:    "text/plain",
	}, fmt.Sprintf("mcp-server %s speaking MCP %s", version, protocol.ProtocolVersion))
	resources.AddTemplate(protocol.ResourceTemplate{
		URITemplate: "mcp://server/{name}",
		Name:        "server documents",
		MimeType:    "text/plain",
	})
	srv.RegisterResourceProvider(resources)

	prompts := server.NewStaticPromptProvider()
	prompts.AddPrompt(protocol.Prompt{
		Name:        "greet",
		Description: "Greets someone by name",
		Arguments: []protocol.PromptArgument{
			{Name: "name", Description: "Who to greet", Required: true},
		},
	}, protocol.PromptMessage{
		Role:    protocol.RoleUser,
		Content: protocol.NewTextContent("Say hello to {{name}}."),
	})
	srv.RegisterPromptProvider(prompts)
}
