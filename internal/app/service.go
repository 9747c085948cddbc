// Package service wires the ledger, the ingestion pipeline and the scoring
// engine into the operations the HTTP API exposes.
package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/okian/barometer/internal/adapters/ledger"
	eventqueue "github.com/okian/barometer/internal/adapters/mq/queue"
	workerpool "github.com/okian/barometer/internal/adapters/mq/worker"
	"github.com/okian/barometer/internal/config"
	"github.com/okian/barometer/internal/domain/benchmark"
	"github.com/okian/barometer/internal/domain/dedupe"
	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/domain/pdca"
	"github.com/okian/barometer/internal/domain/screening"
	"github.com/okian/barometer/internal/domain/stream"
	"github.com/okian/barometer/pkg/logger"
	"github.com/okian/barometer/pkg/metrics"
)

// Service owns the engine state of one process.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Core components
	store       ledger.Store
	ownsStore   bool
	queue       *eventqueue.InMemoryQueue
	pool        *workerpool.Pool
	submissions dedupe.Deduper
	validator   *screening.Validator
	planner     *pdca.Planner
	tracker     *pdca.Tracker

	// Reference data
	banks      []*itembank.Bank
	benchmarks []benchmark.Record

	// writers serializes ingestion per assessment partition so the queue
	// workers and synchronous callers never append to one assessment at once.
	writers []sync.Mutex

	streamsMu sync.Mutex
	streams   map[string]*stream.Aggregator

	now     func() time.Time
	cancel  context.CancelFunc
	started bool

	logger logger.Logger
}

// New constructs a Service. Nothing is opened until Start.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:     config.New(context.Background()),
		streams: make(map[string]*stream.Aggregator),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start validates the configuration, opens the ledger, loads reference data
// and starts the ingestion workers. Configuration errors are returned
// unchanged so callers can test them with errors.Is.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting barometer service...")

	if err := s.cfg.Validate(); err != nil {
		return err
	}

	validator, err := screening.NewValidator(screening.WithConfig(s.cfg.Screening))
	if err != nil {
		return err
	}
	planner, err := pdca.NewPlanner(s.cfg.PDCA)
	if err != nil {
		return err
	}

	if s.store == nil {
		store, err := ledger.Open(ctx, s.cfg.Ledger.Driver, s.cfg.Ledger.Path,
			ledger.WithBusyTimeout(s.cfg.Ledger.BusyTimeout),
			ledger.WithLogger(s.logger.Named("ledger")),
		)
		if err != nil {
			return err
		}
		s.store = store
		s.ownsStore = true
	}

	if err := s.loadReferenceData(ctx); err != nil {
		s.closeStore(ctx)
		return err
	}

	tracker := pdca.NewTracker(s.cfg.PDCA, pdca.WithJournal(s.store))
	restored, err := tracker.Load(ctx)
	if err != nil {
		s.closeStore(ctx)
		return err
	}

	s.validator = validator
	s.planner = planner
	s.tracker = tracker
	s.submissions = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.cfg.Server.DedupeSize))
	s.queue = eventqueue.NewInMemoryQueue(
		eventqueue.WithPartitions(s.cfg.Server.Partitions),
		eventqueue.WithCapacity(s.cfg.Server.QueueSize),
	)
	s.writers = make([]sync.Mutex, s.queue.Partitions())

	// Workers outlive the start context; Stop ends them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pool = workerpool.NewPool(s.queue, workerpool.ProcessorFunc(s.Process),
		workerpool.WithBatchTimeout(s.cfg.Server.BatchTimeout))
	s.pool.Start(runCtx)

	s.started = true
	s.updateAssessmentGauge(ctx)
	s.logger.Info(ctx, "barometer service started",
		logger.Int("partitions", s.queue.Partitions()),
		logger.Int("queueSize", s.cfg.Server.QueueSize),
		logger.Int("dedupeSize", s.cfg.Server.DedupeSize),
		logger.Int("banks", len(s.banks)),
		logger.Int("benchmarks", len(s.benchmarks)),
		logger.Int("actions", restored),
		logger.String("ledger", s.cfg.Ledger.Driver),
	)

	return nil
}

// Stop drains the ingestion queue and closes the ledger if the service
// opened it.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info(ctx, "stopping barometer service...")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.cancel()
	s.closeStore(ctx)

	s.started = false
	s.logger.Info(ctx, "barometer service stopped")

	return errors.Join(errs...)
}

func (s *Service) closeStore(ctx context.Context) {
	if !s.ownsStore || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "error closing ledger", logger.Error(err))
	}
	s.store = nil
	s.ownsStore = false
}

// loadReferenceData stores every configured bank snapshot and reads the
// benchmark records. Missing sources are skipped; invalid ones block start.
func (s *Service) loadReferenceData(ctx context.Context) error {
	if dir := s.cfg.Sources.BanksDir; dir != "" {
		banks, err := loadBanks(ctx, dir)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			s.logger.Warn(ctx, "item bank directory not found", logger.String("dir", dir))
		case err != nil:
			return err
		default:
			s.banks = append(s.banks, banks...)
		}
	}
	for _, bank := range s.banks {
		if err := s.store.PutBank(ctx, bank); err != nil {
			return fmt.Errorf("bank %s: %w", bank.Version(), err)
		}
	}

	if s.benchmarks != nil || s.cfg.Sources.Benchmarks == "" {
		return nil
	}
	if _, err := os.Stat(s.cfg.Sources.Benchmarks); errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn(ctx, "benchmark file not found", logger.String("path", s.cfg.Sources.Benchmarks))
		return nil
	}
	records, err := benchmark.Load(ctx, s.cfg.Sources.Benchmarks)
	if err != nil {
		return err
	}
	s.benchmarks = records
	return nil
}

func loadBanks(ctx context.Context, dir string) ([]*itembank.Bank, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		found, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, found...)
	}
	sort.Strings(paths)

	banks := make([]*itembank.Bank, 0, len(paths))
	for _, path := range paths {
		bank, err := itembank.Load(ctx, path)
		if err != nil {
			return nil, err
		}
		banks = append(banks, bank)
	}
	return banks, nil
}

// RegisterBank stores an additional bank snapshot.
func (s *Service) RegisterBank(ctx context.Context, bank *itembank.Bank) error {
	store, err := s.ledger()
	if err != nil {
		return err
	}
	return store.PutBank(ctx, bank)
}

func (s *Service) ledger() (ledger.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.store, nil
}

func (s *Service) updateAssessmentGauge(ctx context.Context) {
	all, err := s.store.Assessments(ctx, "")
	if err != nil {
		s.logger.Warn(ctx, "cannot count assessments", logger.Error(err))
		return
	}
	metrics.UpdateAssessmentsTotal(len(all))
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":      s.started,
		"ledger":       s.cfg.Ledger.Driver,
		"queueSize":    s.cfg.Server.QueueSize,
		"dedupeSize":   s.cfg.Server.DedupeSize,
		"maxBatchSize": s.cfg.Server.MaxBatchSize,
	}

	if s.started {
		queueLen := s.queue.Len(ctx)
		stats["partitions"] = s.queue.Partitions()
		stats["queueLength"] = queueLen
		stats["processedBatches"] = s.pool.Processed()
		stats["trackedSubmissions"] = s.submissions.Size()
		stats["banks"] = len(s.banks)
		stats["benchmarkRecords"] = len(s.benchmarks)
		if n, err := s.store.Count(ctx); err == nil {
			stats["responses"] = n
		}
		if all, err := s.store.Assessments(ctx, ""); err == nil {
			stats["assessments"] = len(all)
			metrics.UpdateAssessmentsTotal(len(all))
		}

		metrics.UpdateQueueSize(queueLen)
	}

	return stats
}
