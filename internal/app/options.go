package service

import (
	"time"

	"github.com/okian/barometer/internal/adapters/ledger"
	"github.com/okian/barometer/internal/config"
	"github.com/okian/barometer/internal/domain/benchmark"
	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithStore injects a ledger. The service does not close an injected store.
func WithStore(store ledger.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithBanks registers item banks at start, in addition to those found in
// the configured banks directory.
func WithBanks(banks ...*itembank.Bank) Option {
	return func(s *Service) {
		s.banks = append(s.banks, banks...)
	}
}

// WithBenchmarks sets the benchmark records instead of loading the
// configured file.
func WithBenchmarks(records []benchmark.Record) Option {
	return func(s *Service) {
		s.benchmarks = records
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for intake and PDCA timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
