// Command cinescan scans an identifier range of the endata cinema registry
// and persists the results: the full record set, a name/code projection, and
// a failure log, each checkpointed periodically and at run end.
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

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/filmstat/cinescan/pkg/endata"
	"github.com/filmstat/cinescan/pkg/logging"
	"github.com/filmstat/cinescan/pkg/ratelimit"
	"github.com/filmstat/cinescan/pkg/scan"
	"github.com/filmstat/cinescan/pkg/sink"
)

// config is the process configuration. Every field reads from the
// environment first; flags override.
type config struct {
	StartID     int64         `env:"CINESCAN_START_ID" envDefault:"1"`
	EndID       int64         `env:"CINESCAN_END_ID" envDefault:"50000"`
	Workers     int           `env:"CINESCAN_WORKERS" envDefault:"5"`
	MaxAttempts int           `env:"CINESCAN_MAX_ATTEMPTS" envDefault:"3"`
	Pacing      string        `env:"CINESCAN_PACING" envDefault:"optimistic"`
	MaxRPS      float64       `env:"CINESCAN_MAX_RPS" envDefault:"0"`
	Snapshot    time.Duration `env:"CINESCAN_SNAPSHOT_EVERY" envDefault:"1h"`

	OutDir      string `env:"CINESCAN_OUT_DIR" envDefault:"output"`
	BaseURL     string `env:"CINESCAN_BASE_URL"`
	PostgresDSN string `env:"CINESCAN_POSTGRES_DSN"`
	MetricsAddr string `env:"CINESCAN_METRICS_ADDR"`

	LogLevel  string `env:"CINESCAN_LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"CINESCAN_LOG_PRETTY" envDefault:"true"`
	LogFile   string `env:"CINESCAN_LOG_FILE"`
}

// loadConfig parses the environment, then lets flags override it.
func loadConfig(args []string) (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	fs := flag.NewFlagSet("cinescan", flag.ContinueOnError)
	fs.Int64Var(&cfg.StartID, "start", cfg.StartID, "first identifier of the scan range")
	fs.Int64Var(&cfg.EndID, "end", cfg.EndID, "last identifier of the scan range (inclusive)")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "worker pool size")
	fs.IntVar(&cfg.MaxAttempts, "attempts", cfg.MaxAttempts, "attempt budget per identifier")
	fs.StringVar(&cfg.Pacing, "pacing", cfg.Pacing, "pacing mode: optimistic or confirmed")
	fs.Float64Var(&cfg.MaxRPS, "max-rps", cfg.MaxRPS, "hard requests-per-second cap, 0 disables")
	fs.DurationVar(&cfg.Snapshot, "snapshot-every", cfg.Snapshot, "periodic checkpoint interval")
	fs.StringVar(&cfg.OutDir, "out", cfg.OutDir, "output directory for snapshot artifacts")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "registry lookup endpoint, empty for the default")
	fs.StringVar(&cfg.PostgresDSN, "postgres", cfg.PostgresDSN, "optional Postgres DSN to mirror records into")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "optional listen address for /metrics and /health")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.BoolVar(&cfg.LogPretty, "log-pretty", cfg.LogPretty, "human-readable console output")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "optional JSON log file, appended to")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "cinescan: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		File:   cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cinescan: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Scan failed")
	}
}

func run(cfg config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		startMetricsServer(cfg.MetricsAddr, logger)
	}

	clientCfg := endata.DefaultConfig()
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	client, err := endata.New(clientCfg)
	if err != nil {
		return fmt.Errorf("create registry client: %w", err)
	}

	storeCfg := sink.StoreConfig{Dir: cfg.OutDir}
	if cfg.PostgresDSN != "" {
		pg, err := sink.NewPG(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return fmt.Errorf("connect postgres mirror: %w", err)
		}
		defer pg.Close()
		storeCfg.Mirror = pg
		logger.Info().Msg("Postgres mirror enabled")
	}
	store, err := sink.NewStore(storeCfg, logger)
	if err != nil {
		return fmt.Errorf("create result store: %w", err)
	}

	pace := ratelimit.NewController(ratelimit.DefaultConfig(), logger)

	sup, err := scan.NewSupervisor(scan.RunConfig{
		StartID:       cfg.StartID,
		EndID:         cfg.EndID,
		Workers:       cfg.Workers,
		MaxAttempts:   cfg.MaxAttempts,
		SnapshotEvery: cfg.Snapshot,
		Pacing:        scan.PacingMode(cfg.Pacing),
		MaxRPS:        cfg.MaxRPS,
	}, client, pace, store, logger)
	if err != nil {
		return err
	}

	if err := sup.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("Interrupted, shut down cleanly")
			return nil
		}
		return err
	}
	return nil
}

// startMetricsServer exposes /metrics and /health in the background. The
// server lives for the whole process; there is nothing to shut down more
// gracefully than the process itself.
func startMetricsServer(addr string, logger zerolog.Logger) {
	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := http.ListenAndServe(addr, newMetricsMux()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

func newMetricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	return mux
}
