// Package config loads the mcp-server binary's YAML configuration.
//
// The core packages never read configuration themselves; the binary turns a
// Config into transport, logging and observability values and passes them
// in.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/mcp-server-core/pkg/logging"
	"github.com/ajitpratap0/mcp-server-core/pkg/observability"
	"github.com/ajitpratap0/mcp-server-core/pkg/pagination"
	"github.com/ajitpratap0/mcp-server-core/pkg/transport"
)

// Config is the top-level configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Tools     ToolsConfig     `yaml:"tools"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig holds identity and dispatcher settings.
type ServerConfig struct {
	Name         string `yaml:"name"`
	Version      string `yaml:"version"`
	Instructions string `yaml:"instructions"`
	PageSize     int    `yaml:"page_size"`
	// Heartbeat is a duration such as "30s". Empty disables it.
	Heartbeat string `yaml:"heartbeat"`
}

// TransportConfig selects and tunes the transport.
type TransportConfig struct {
	Type           string `yaml:"type"`
	Addr           string `yaml:"addr"`
	EventPath      string `yaml:"event_path"`
	MessagePath    string `yaml:"message_path"`
	KeepAlive      string `yaml:"keep_alive"`
	MaxFrameSize   int    `yaml:"max_frame_size"`
	MaxConcurrency int    `yaml:"max_concurrency"`
}

// ToolsConfig tunes the tools manager.
type ToolsConfig struct {
	Timeout string `yaml:"timeout"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
	Runtime   bool   `yaml:"runtime"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Exporter    string            `yaml:"exporter"`
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	SampleRate  float64           `yaml:"sample_rate"`
	NeverSample []string          `yaml:"never_sample"`
	Environment string            `yaml:"environment"`
}

// Default returns a configuration for a stdio server with logging at info
// and observability off.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:     "mcp-server",
			Version:  "1.0.0",
			PageSize: pagination.DefaultLimit,
		},
		Transport: TransportConfig{
			Type:           string(transport.TransportTypeStdio),
			EventPath:      transport.DefaultEventPath,
			MessagePath:    transport.DefaultMessagePath,
			KeepAlive:      "30s",
			MaxFrameSize:   transport.DefaultMaxFrameSize,
			MaxConcurrency: transport.DefaultMaxConcurrency,
		},
		Tools: ToolsConfig{
			Timeout: "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: string(logging.FormatJSON),
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
			Path: "/metrics",
		},
		Tracing: TracingConfig{
			Exporter:    string(observability.ExporterTypeOTLPGRPC),
			SampleRate:  1.0,
			NeverSample: []string{"ping"},
		},
	}
}

// Load reads path on top of Default. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	switch transport.TransportType(c.Transport.Type) {
	case transport.TransportTypeStdio, transport.TransportTypeSSE:
	default:
		errs = append(errs, fmt.Errorf("transport.type: unsupported %q", c.Transport.Type))
	}
	if c.Transport.Type == string(transport.TransportTypeSSE) && c.Transport.Addr == "" {
		errs = append(errs, errors.New("transport.addr: required for sse"))
	}
	if c.Transport.MaxFrameSize < 0 {
		errs = append(errs, errors.New("transport.max_frame_size: must be non-negative"))
	}
	if c.Transport.MaxConcurrency < 0 {
		errs = append(errs, errors.New("transport.max_concurrency: must be non-negative"))
	}
	if err := pagination.ValidateLimit(c.Server.PageSize); err != nil {
		errs = append(errs, fmt.Errorf("server.page_size: %w", err))
	}

	for name, value := range map[string]string{
		"server.heartbeat":     c.Server.Heartbeat,
		"transport.keep_alive": c.Transport.KeepAlive,
		"tools.timeout":        c.Tools.Timeout,
	} {
		if _, err := parseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch logging.Format(c.Logging.Format) {
	case "", logging.FormatJSON, logging.FormatConsole:
	default:
		errs = append(errs, fmt.Errorf("logging.format: unsupported %q", c.Logging.Format))
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr: required when metrics are enabled"))
	}
	if c.Tracing.Enabled {
		switch observability.ExporterType(c.Tracing.Exporter) {
		case observability.ExporterTypeOTLPGRPC, observability.ExporterTypeOTLPHTTP, observability.ExporterTypeNoop:
		default:
			errs = append(errs, fmt.Errorf("tracing.exporter: unsupported %q", c.Tracing.Exporter))
		}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, errors.New("tracing.sample_rate: must be between 0 and 1"))
	}

	return errors.Join(errs...)
}

// TransportConfig converts the transport section. Logger and observer are
// left for the caller.
func (c *Config) TransportConfig() transport.Config {
	config := transport.DefaultConfig(transport.TransportType(c.Transport.Type))
	config.Addr = c.Transport.Addr
	if c.Transport.EventPath != "" {
		config.EventPath = c.Transport.EventPath
	}
	if c.Transport.MessagePath != "" {
		config.MessagePath = c.Transport.MessagePath
	}
	if keepAlive, err := parseDuration(c.Transport.KeepAlive); err == nil && c.Transport.KeepAlive != "" {
		config.KeepAlive = keepAlive
	}
	if c.Transport.MaxFrameSize > 0 {
		config.MaxFrameSize = c.Transport.MaxFrameSize
	}
	if c.Transport.MaxConcurrency > 0 {
		config.MaxConcurrency = c.Transport.MaxConcurrency
	}
	return config
}

// LoggingConfig converts the logging section. An unknown level falls back
// to info.
func (c *Config) LoggingConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	format := logging.Format(c.Logging.Format)
	if format == "" {
		format = logging.FormatJSON
	}
	return logging.Config{Level: level, Format: format}
}

// MetricsConfig converts the metrics section.
func (c *Config) MetricsConfig() observability.MetricsConfig {
	return observability.MetricsConfig{
		Namespace:      c.Metrics.Namespace,
		IncludeRuntime: c.Metrics.Runtime,
	}
}

// TracingConfig converts the tracing section.
func (c *Config) TracingConfig() observability.TracingConfig {
	return observability.TracingConfig{
		ServiceName:    c.Server.Name,
		ServiceVersion: c.Server.Version,
		Environment:    c.Tracing.Environment,
		ExporterType:   observability.ExporterType(c.Tracing.Exporter),
		Endpoint:       c.Tracing.Endpoint,
		Headers:        c.Tracing.Headers,
		Insecure:       c.Tracing.Insecure,
		SampleRate:     c.Tracing.SampleRate,
		NeverSample:    c.Tracing.NeverSample,
	}
}

// Heartbeat returns the heartbeat interval, zero when unset.
func (c *Config) Heartbeat() time.Duration {
	d, _ := parseDuration(c.Server.Heartbeat)
	return d
}

// ToolTimeout returns the tool call timeout, zero when unset.
func (c *Config) ToolTimeout() time.Duration {
	d, _ := parseDuration(c.Tools.Timeout)
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
