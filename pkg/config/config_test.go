package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-server-core/pkg/logging"
	"github.com/ajitpratap0/mcp-server-core/pkg/observability"
	"github.com/ajitpratap0/mcp-server-core/pkg/transport"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	tc := cfg.TransportConfig()
	assert.Equal(t, transport.TransportTypeStdio, tc.Type)
	assert.Equal(t, transport.DefaultMaxFrameSize, tc.MaxFrameSize)
	assert.Equal(t, 30*time.Second, cfg.ToolTimeout())
	assert.Zero(t, cfg.Heartbeat())
	assert.Equal(t, logging.InfoLevel, cfg.LoggingConfig().Level)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  name: files
  heartbeat: 15s
transport:
  type: sse
  addr: 127.0.0.1:8080
  keep_alive: 5s
tools:
  timeout: 2s
logging:
  level: debug
  format: console
metrics:
  enabled: true
  namespace: files
tracing:
  enabled: true
  exporter: otlp-http
  endpoint: localhost:4318
  sample_rate: 0.5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "files", cfg.Server.Name)
	assert.Equal(t, "1.0.0", cfg.Server.Version, "unset keys keep their defaults")
	assert.Equal(t, 15*time.Second, cfg.Heartbeat())
	assert.Equal(t, 2*time.Second, cfg.ToolTimeout())

	tc := cfg.TransportConfig()
	assert.Equal(t, transport.TransportTypeSSE, tc.Type)
	assert.Equal(t, "127.0.0.1:8080", tc.Addr)
	assert.Equal(t, 5*time.Second, tc.KeepAlive)
	assert.Equal(t, transport.DefaultEventPath, tc.EventPath)

	lc := cfg.LoggingConfig()
	assert.Equal(t, logging.DebugLevel, lc.Level)
	assert.Equal(t, logging.FormatConsole, lc.Format)

	assert.Equal(t, "files", cfg.MetricsConfig().Namespace)

	trc := cfg.TracingConfig()
	assert.Equal(t, observability.ExporterTypeOTLPHTTP, trc.ExporterType)
	assert.Equal(t, "files", trc.ServiceName)
	assert.Equal(t, 0.5, trc.SampleRate)
	assert.Equal(t, []string{"ping"}, trc.NeverSample)
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "server: [not, a, map]"))
	assert.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown transport", func(c *Config) { c.Transport.Type = "websocket" }, "transport.type"},
		{"sse without addr", func(c *Config) { c.Transport.Type = "sse" }, "transport.addr"},
		{"negative frame size", func(c *Config) { c.Transport.MaxFrameSize = -1 }, "transport.max_frame_size"},
		{"page size too large", func(c *Config) { c.Server.PageSize = 10000 }, "server.page_size"},
		{"bad heartbeat", func(c *Config) { c.Server.Heartbeat = "soon" }, "server.heartbeat"},
		{"negative timeout", func(c *Config) { c.Tools.Timeout = "-1s" }, "tools.timeout"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"metrics without addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "" }, "metrics.addr"},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "zipkin" }, "tracing.exporter"},
		{"bad sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }, "tracing.sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Transport.Type = "carrier-pigeon"
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport.type")
	assert.Contains(t, err.Error(), "logging.level")
}
