package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-server-core/pkg/protocol"
	"github.com/ajitpratap0/mcp-server-core/pkg/server"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), protocol.ProtocolVersion)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\ntransport:\n  type: stdio\n"), 0o600))

	cmd := newServeCommand()
	require.NoError(t, cmd.Flags().Parse([]string{"--transport", "sse", "--addr", "127.0.0.1:0"}))

	cfg, err := loadConfig(cmd, serveFlags{configPath: path, transport: "sse", addr: "127.0.0.1:0"})
	require.NoError(t, err)
	assert.Equal(t, "sse", cfg.Transport.Type)
	assert.Equal(t, "127.0.0.1:0", cfg.Transport.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level, "unset flags leave the file value")
}

func TestLoadConfig_InvalidOverride(t *testing.T) {
	cmd := newServeCommand()
	require.NoError(t, cmd.Flags().Parse([]string{"--transport", "sse"}))

	_, err := loadConfig(cmd, serveFlags{transport: "sse"})
	assert.ErrorContains(t, err, "transport.addr")
}

func TestRegisterDemo(t *testing.T) {
	srv := server.New(nil)
	t.Cleanup(func() { _ = srv.Close() })
	registerDemo(srv)
	ctx := context.Background()

	names := []string{}
	for _, tool := range srv.Tools().ListTools() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"countdown", "echo"}, names)

	result := srv.Tools().CallTool(ctx, "countdown", json.RawMessage(`{"n":3}`), protocol.ProgressToken{})
	require.False(t, result.IsError, result.Content[0].Text)
	assert.Equal(t, "counted down from 3", result.Content[0].Text)

	result = srv.Tools().CallTool(ctx, "countdown", json.RawMessage(`{"n":0}`), protocol.ProgressToken{})
	assert.True(t, result.IsError)

	contents, err := srv.Registry().ReadResource(ctx, "mcp://server/about")
	require.NoError(t, err)
	assert.Contains(t, contents[0].Text, protocol.ProtocolVersion)

	prompt, err := srv.Registry().GetPrompt(ctx, "greet", map[string]string{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Say hello to Ada.", prompt.Messages[0].Content.Text)
}
