package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"echo-fixture/adapter"
	"echo-fixture/probe"
)

// model describes one server execution model and where it binds by default.
type model struct {
	name  string
	host  string
	port  int
	short string
	build func(adapter.Options, *adapter.Observer, *zap.Logger) adapter.Server
}

var models = []model{
	{
		name:  "buffered",
		host:  "127.0.0.1",
		port:  8080,
		short: "Serve the echo endpoints from a fully buffered fasthttp server",
		build: func(o adapter.Options, obs *adapter.Observer, log *zap.Logger) adapter.Server {
			return adapter.NewBuffered(o, obs, log)
		},
	},
	{
		name:  "routed",
		host:  "0.0.0.0",
		port:  8080,
		short: "Serve the echo endpoints from a routed gin engine",
		build: func(o adapter.Options, obs *adapter.Observer, log *zap.Logger) adapter.Server {
			return adapter.NewRouted(o, obs, log)
		},
	},
	{
		name:  "streaming",
		host:  "127.0.0.1",
		port:  9002,
		short: "Serve the echo endpoints from a streaming net/http handler",
		build: func(o adapter.Options, obs *adapter.Observer, log *zap.Logger) adapter.Server {
			return adapter.NewStreaming(o, obs, log)
		},
	},
}

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	dev        bool

	level zap.AtomicLevel
	log   *zap.Logger
	v     *viper.Viper
	cfg   *Config
}

func main() {
	gin.SetMode(gin.ReleaseMode)
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{level: zap.NewAtomicLevel()}

	root := &cobra.Command{
		Use:           "echo-fixture",
		Short:         "HTTP echo fixture servers and conformance probe",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", filepath.Join(getProjectRoot(), configFileName), "path to the JSON config file")
	flags.BoolVar(&a.dev, "dev", false, "human readable development logging")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("host", "", "bind host, overrides the model default")

	for _, m := range models {
		root.AddCommand(newServeCmd(a, m))
	}
	root.AddCommand(newCheckCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	log, err := newLogger(a.dev, a.level)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	a.log = log

	a.v = newViper(a.configPath)
	if err := a.v.BindPFlag("log_level", cmd.Flags().Lookup("log-level")); err != nil {
		return err
	}
	if err := a.v.BindPFlag("host", cmd.Flags().Lookup("host")); err != nil {
		return err
	}

	a.cfg = loadConfig(a.v, log.Named("config"))
	a.level.SetLevel(a.cfg.level())
	return nil
}

func newLogger(dev bool, level zap.AtomicLevel) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level
	return cfg.Build()
}

func newServeCmd(a *app, m model) *cobra.Command {
	return &cobra.Command{
		Use:   m.name + " [port]",
		Short: m.short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := resolveAddr(m, a.cfg.Host, args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go func() {
				if err := watchConfig(ctx, a.v, a.level, a.cfg, a.log.Named("config")); err != nil {
					a.log.Warn("config watch stopped", zap.Error(err))
				}
			}()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			return run(ctx, m, a.cfg, ln, a.log)
		},
	}
}

// resolveAddr picks the bind address: the configured host or the model
// default, and the positional port or the model default.
func resolveAddr(m model, host string, args []string) (string, error) {
	if host == "" {
		host = m.host
	}

	port := m.port
	if len(args) > 0 {
		p, err := strconv.Atoi(args[0])
		if err != nil || p <= 0 || p > 65535 {
			return "", fmt.Errorf("invalid port %q", args[0])
		}
		port = p
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// run serves ln with the model's adapter until ctx is done, then shuts down
// within the configured timeout and logs a metrics summary.
func run(ctx context.Context, m model, cfg *Config, ln net.Listener, log *zap.Logger) error {
	metrics := adapter.NewMetrics()
	obs := adapter.NewObserver(log.Named(m.name), metrics)
	opts := cfg.adapterOptions()

	servers := []adapter.Server{m.build(opts, obs, log.Named(m.name))}
	listeners := []net.Listener{ln}

	if m.name == "streaming" && cfg.FramesAddr != "" {
		fln, err := net.Listen("tcp", cfg.FramesAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen frames %s: %w", cfg.FramesAddr, err)
		}
		servers = append(servers, adapter.NewFrames(opts, obs, log.Named("frames")))
		listeners = append(listeners, fln)
	}

	errCh := make(chan error, len(servers))
	for i, srv := range servers {
		go func(srv adapter.Server, ln net.Listener) {
			errCh <- srv.Serve(ln)
		}(srv, listeners[i])
	}

	fields := []zap.Field{
		zap.String("model", m.name),
		zap.String("addr", ln.Addr().String()),
		zap.Int("read_timeout_ms", cfg.ReadTimeoutMs),
		zap.Int("max_body_bytes", cfg.MaxBodyBytes),
	}
	if len(listeners) > 1 {
		fields = append(fields, zap.String("frames_addr", listeners[1].Addr().String()))
	}
	log.Info("listening", fields...)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error("server stopped", zap.Error(serveErr))
		}
	}

	shutdownLog := log.Named("shutdown")
	shutdownLog.Info("shutting down", zap.Duration("timeout", cfg.shutdownTimeout()))

	sctx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout())
	defer cancel()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(sctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		shutdownLog.Warn("shutdown incomplete", zap.Error(err))
	} else {
		shutdownLog.Info("shut down cleanly")
	}

	snap := metrics.Snapshot()
	shutdownLog.Info("metrics",
		zap.Uint64("total_requests", snap.TotalRequests),
		zap.Uint64("total_errors", snap.TotalErrors),
		zap.Uint64("in_flight", snap.InFlight),
		zap.Any("by_route", snap.ByRoute))

	return serveErr
}

func newCheckCmd(a *app) *cobra.Command {
	var (
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "check [addr]",
		Short: "Probe a running fixture and report a verdict per case",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := "127.0.0.1:8080"
			if len(args) > 0 {
				addr = args[0]
			}

			client := probe.NewClient(addr)
			client.ConnectTimeout = timeout
			client.ReadTimeout = timeout

			report := probe.NewRunner(client, a.log.Named("probe")).Run(cmd.Context(), probe.Cases())

			out := cmd.OutOrStdout()
			if asJSON {
				if err := report.WriteJSON(out); err != nil {
					return err
				}
			} else {
				report.WriteTable(out)
			}

			if !report.OK() {
				return fmt.Errorf("%d of %d checks failed", report.Failed, len(report.Results))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "connect and read timeout per case")
	return cmd
}

// getProjectRoot returns the nearest directory holding go.mod, or the
// working directory when there is none.
func getProjectRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return wd
		}
		dir = parent
	}
}
