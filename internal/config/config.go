// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Engine thresholds live in the engine packages' own Config types and are
//     embedded here under their section name.
//   - New(ctx) returns defaults; Load(ctx) layers file, dotenv and env on top.
//   - Validate wraps every failure in ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/okian/barometer/internal/domain/cluster"
	"github.com/okian/barometer/internal/domain/pdca"
	"github.com/okian/barometer/internal/domain/psychometrics"
	"github.com/okian/barometer/internal/domain/scoring"
	"github.com/okian/barometer/internal/domain/screening"
	"github.com/okian/barometer/internal/domain/segment"
	"github.com/okian/barometer/internal/domain/trend"
)

// Config contains process configuration.
type Config struct {
	Server  Server  `koanf:"server"`
	Ledger  Ledger  `koanf:"ledger"`
	Sources Sources `koanf:"sources"`

	Screening     screening.Config     `koanf:"screening"`
	Psychometrics psychometrics.Config `koanf:"psychometrics"`
	Scoring       scoring.Config       `koanf:"scoring"`
	Segment       segment.Config       `koanf:"segment"`
	Cluster       cluster.Config       `koanf:"cluster"`
	Trend         trend.Config         `koanf:"trend"`
	PDCA          pdca.Config          `koanf:"pdca"`
}

// Server configures the HTTP shell and the ingestion pipeline.
type Server struct {
	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Partitions sets the number of single-writer queue partitions, and so
	// the number of ingestion workers.
	Partitions int `koanf:"partitions"`

	// QueueSize bounds each partition of the batch queue.
	QueueSize int `koanf:"queue_size"`

	// DedupeSize bounds the submission-id cache used for idempotent intake.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxBatchSize caps the number of responses in one submission.
	MaxBatchSize int `koanf:"max_batch_size"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// BatchTimeout bounds screening and storing one batch. Zero disables it.
	BatchTimeout time.Duration `koanf:"batch_timeout"`
}

// Ledger selects the response store.
type Ledger struct {
	// Driver is "memory" or "sqlite".
	Driver string `koanf:"driver"`

	// Path is the SQLite database file.
	Path string `koanf:"path"`

	// BusyTimeout is how long SQLite waits on a locked database.
	BusyTimeout time.Duration `koanf:"busy_timeout"`
}

// Sources points at reference data loaded at startup.
type Sources struct {
	// BanksDir holds item bank YAML files, one bank version per file.
	BanksDir string `koanf:"banks_dir"`

	// Benchmarks is the benchmark records YAML file.
	Benchmarks string `koanf:"benchmarks"`
}

// New creates a Config holding defaults. Context is accepted first to
// satisfy the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		Server: Server{
			Addr:            ":9080",
			LogLevel:        "info",
			Partitions:      runtime.NumCPU(),
			QueueSize:       1024,
			DedupeSize:      100_000,
			MaxBatchSize:    10_000,
			ShutdownTimeout: 30 * time.Second,
			BatchTimeout:    30 * time.Second,
		},
		Ledger: Ledger{
			Driver:      "memory",
			Path:        "data/barometer.db",
			BusyTimeout: 5 * time.Second,
		},
		Sources: Sources{
			BanksDir:   "configs/banks",
			Benchmarks: "configs/benchmarks.yaml",
		},
		Screening:     screening.DefaultConfig(),
		Psychometrics: psychometrics.DefaultConfig(),
		Scoring:       scoring.DefaultConfig(),
		Segment:       segment.DefaultConfig(),
		Cluster:       cluster.DefaultConfig(),
		Trend:         trend.DefaultConfig(),
		PDCA:          pdca.DefaultConfig(),
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr must not be empty", ErrInvalidConfig)
	}
	if c.Server.Partitions < 1 {
		return fmt.Errorf("%w: server.partitions must be positive", ErrInvalidConfig)
	}
	if c.Server.QueueSize < 1 {
		return fmt.Errorf("%w: server.queue_size must be positive", ErrInvalidConfig)
	}
	if c.Server.MaxBatchSize < 1 {
		return fmt.Errorf("%w: server.max_batch_size must be positive", ErrInvalidConfig)
	}
	if c.Server.BatchTimeout < 0 {
		return fmt.Errorf("%w: server.batch_timeout must not be negative", ErrInvalidConfig)
	}
	switch c.Ledger.Driver {
	case "memory":
	case "sqlite":
		if c.Ledger.Path == "" {
			return fmt.Errorf("%w: ledger.path is required for sqlite", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown ledger.driver %q", ErrInvalidConfig, c.Ledger.Driver)
	}

	sections := []struct {
		name     string
		validate func() error
	}{
		{"screening", c.Screening.Validate},
		{"psychometrics", c.Psychometrics.Validate},
		{"scoring", c.Scoring.Validate},
		{"segment", c.Segment.Validate},
		{"cluster", c.Cluster.Validate},
		{"trend", c.Trend.Validate},
		{"pdca", c.PDCA.Validate},
	}
	for _, s := range sections {
		if err := s.validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, s.name, err)
		}
	}
	return nil
}
