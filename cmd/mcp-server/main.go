// Command mcp-server runs an MCP server over stdio or SSE with a small set
// of demo capabilities.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/mcp-server-core/pkg/config"
	"github.com/ajitpratap0/mcp-server-core/pkg/logging"
	"github.com/ajitpratap0/mcp-server-core/pkg/observability"
	"github.com/ajitpratap0/mcp-server-core/pkg/protocol"
	"github.com/ajitpratap0/mcp-server-core/pkg/server"
	"github.com/ajitpratap0/mcp-server-core/pkg/tools"
	"github.com/ajitpratap0/mcp-server-core/pkg/transport"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type serveFlags struct {
	configPath string
	transport  string
	addr       string
	logLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "mcp-server",
		Short:        "Model Context Protocol server",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand(), newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server and protocol versions",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mcp-server %s (protocol %s)\n", version, protocol.ProtocolVersion)
		},
	}
}

func newServeCommand() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP requests until the client exits or a signal arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			// A level given on the command line wins over reloads.
			watchPath := flags.configPath
			if cmd.Flags().Changed("log-level") {
				watchPath = ""
			}
			return serve(ctx, cfg, watchPath)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML configuration file")
	cmd.Flags().StringVar(&flags.transport, "transport", "", "transport to use: stdio or sse")
	cmd.Flags().StringVar(&flags.addr, "addr", "", "listen address for the sse transport")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	return cmd
}

// loadConfig reads the file and applies flags that were set explicitly.
func loadConfig(cmd *cobra.Command, flags serveFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("transport") {
		cfg.Transport.Type = flags.transport
	}
	if cmd.Flags().Changed("addr") {
		cfg.Transport.Addr = flags.addr
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serve runs the server until it stops. When watchPath is set, log level
// changes in that file are applied without a restart.
func serve(ctx context.Context, cfg *config.Config, watchPath string) error {
	logger := logging.New(cfg.LoggingConfig())

	observer := &observability.Observer{}
	if cfg.Metrics.Enabled {
		metrics, err := observability.NewMetrics(cfg.MetricsConfig())
		if err != nil {
			return fmt.Errorf("create metrics: %w", err)
		}
		observer.Metrics = metrics
	}
	if cfg.Tracing.Enabled {
		tracing, err := observability.NewTracingProvider(cfg.TracingConfig())
		if err != nil {
			return fmt.Errorf("create tracing: %w", err)
		}
		observer.Tracing = tracing
		defer func() {
			if err := tracing.Shutdown(context.Background()); err != nil {
				logger.Warn("tracing shutdown failed", logging.ErrorField(err))
			}
		}()
	}

	tc := cfg.TransportConfig()
	tc.Logger = logger
	if observer.Metrics != nil {
		tc.Observer = observer.Metrics
	}
	t, err := transport.New(tc)
	if err != nil {
		return err
	}

	manager := tools.NewManager(
		tools.WithLogger(logger),
		tools.WithObserver(observer),
		tools.WithDefaultTimeout(cfg.ToolTimeout()),
	)
	srv := server.New(t,
		server.WithName(cfg.Server.Name),
		server.WithVersion(cfg.Server.Version),
		server.WithInstructions(cfg.Server.Instructions),
		server.WithLogger(logger),
		server.WithObserver(observer),
		server.WithToolsManager(manager),
		server.WithPageSize(cfg.Server.PageSize),
		server.WithHeartbeat(cfg.Heartbeat()),
	)
	registerDemo(srv)

	// The metrics endpoint has no reason to outlive the server.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if observer.Metrics != nil {
		g.Go(func() error {
			logger.Info("serving metrics",
				logging.String("addr", cfg.Metrics.Addr),
				logging.String("path", cfg.Metrics.Path),
			)
			return observer.Metrics.Serve(gctx, cfg.Metrics.Addr, cfg.Metrics.Path)
		})
	}
	if watchPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, watchPath, logger, func(next *config.Config) {
				logger.SetLevel(next.LoggingConfig().Level)
			})
		})
	}
	g.Go(func() error {
		defer cancel()
		err := srv.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err = g.Wait()
	if err != nil {
		logger.Error("server stopped with error", logging.ErrorField(err))
	}
	return err
}
