// Package main is the entry point for termbridge, a demo host that acquires
// the terminal, polls input events and echoes each one on screen.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dshills/termbridge/internal/config"
	"github.com/dshills/termbridge/internal/logging"
	"github.com/dshills/termbridge/internal/metrics"
	"github.com/dshills/termbridge/internal/session"
	"github.com/dshills/termbridge/internal/surface"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// flags holds command-line overrides. Empty values leave the loaded
// configuration alone.
type flags struct {
	configPath  string
	backend     string
	pollTimeout time.Duration
	logLevel    string
	metricsAddr string
}

func main() {
	os.Exit(run())
}

func run() int {
	f := parseFlags()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: loading config: %v\n", err)
		return 1
	}
	if err := f.apply(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: cfg.Logging.OutputPaths,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync() //nolint:errcheck // nothing useful to do on exit

	if f.configPath != "" {
		w, err := config.Watch(f.configPath, func(c *config.Config, err error) {
			if err != nil {
				logger.Warn("config reload failed", zap.Error(err))
				return
			}
			if err := logger.SetLevel(c.Logging.Level); err != nil {
				logger.Warn("invalid log level on reload", zap.Error(err))
				return
			}
			logger.Info("config reloaded", zap.String("log_level", c.Logging.Level))
		})
		if err != nil {
			logger.Warn("config watch disabled", zap.Error(err))
		} else {
			defer w.Close()
		}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, reg, logger)
		defer srv.Close()
	}

	surf, err := surface.New(cfg.Backend)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctrl := session.NewController(surf,
		session.WithPollTimeout(cfg.PollTimeout.Std()),
		session.WithLogger(logger),
		session.WithMetrics(m),
	)

	if err := ctrl.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize terminal: %v\n", err)
		return 1
	}
	// Ensure the terminal is restored on all exit paths
	defer ctrl.Shutdown() //nolint:errcheck // ErrNotRunning only

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := echo(ctx, ctrl); err != nil {
		logger.Error("echo loop failed", zap.Error(err))
		return 1
	}
	return 0
}

func parseFlags() flags {
	var f flags
	var showVersion bool

	flag.StringVar(&f.configPath, "config", "", "Path to TOML configuration file")
	flag.StringVar(&f.configPath, "c", "", "Path to TOML configuration file (shorthand)")
	flag.StringVar(&f.backend, "backend", "", "Terminal backend (termbox, tcell, null)")
	flag.DurationVar(&f.pollTimeout, "poll-timeout", 0, "How long each poll waits for input (1ms-50ms)")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "termbridge - terminal session bridge demo\n\n")
		fmt.Fprintf(os.Stderr, "Usage: termbridge [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nPress q or Ctrl-C to quit.\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("termbridge %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	return f
}

// apply overrides cfg with any flags that were set and revalidates.
func (f flags) apply(cfg *config.Config) error {
	if f.backend != "" {
		cfg.Backend = f.backend
	}
	if f.pollTimeout != 0 {
		cfg.PollTimeout = config.Duration(f.pollTimeout)
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Addr = f.metricsAddr
	}
	return cfg.Validate()
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *logging.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
