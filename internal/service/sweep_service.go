package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/waraqaweb/classes-api/internal/dto"
	"github.com/waraqaweb/classes-api/pkg/config"
	appErrors "github.com/waraqaweb/classes-api/pkg/errors"
	"github.com/waraqaweb/classes-api/pkg/lock"
)

// Sweep job names, reused as lock keys and metric labels.
const (
	SweepMaterialize  = "materialize"
	SweepTrackingInit = "tracking-init"
	SweepUnreported   = "unreported"
	SweepCleanup      = "cleanup"
)

type materializer interface {
	MaterializeDue(ctx context.Context, now time.Time) (int, error)
}

type reportSweeper interface {
	InitializeTracking(ctx context.Context, now time.Time) (int, error)
	MarkExpired(ctx context.Context, now time.Time) (dto.SweepResult, error)
	CleanupStale(ctx context.Context, now time.Time) (int64, error)
}

// SweepService schedules the periodic background jobs: window
// materialization, tracking initialization, unreported marking and stale
// cleanup. Each run takes a per-job lock so horizontally scaled instances
// never process the same job twice.
type SweepService struct {
	cron       *cron.Cron
	locks      lock.Service
	recurrence materializer
	reports    reportSweeper
	metrics    *MetricsService
	cfg        config.SweepsConfig
	logger     *zap.Logger
}

// NewSweepService builds the coordinator. locks may not be nil; pass
// lock.NewLocalService() for single-instance deployments.
func NewSweepService(locks lock.Service, recurrence materializer, reports reportSweeper, metrics *MetricsService, cfg config.SweepsConfig, logger *zap.Logger) *SweepService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &SweepService{
		cron:       cron.New(),
		locks:      locks,
		recurrence: recurrence,
		reports:    reports,
		metrics:    metrics,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start registers and launches the cron jobs. Returns without starting when
// sweeps are disabled by configuration.
func (s *SweepService) Start() error {
	if !s.cfg.Enabled {
		s.logger.Sugar().Infow("background sweeps disabled")
		return nil
	}

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context, now time.Time) (processed, touched int, err error)
	}{
		{SweepMaterialize, s.cfg.MaterializeSpec, func(ctx context.Context, now time.Time) (int, int, error) {
			n, err := s.recurrence.MaterializeDue(ctx, now)
			return n, n, err
		}},
		{SweepTrackingInit, s.cfg.TrackingInitSpec, func(ctx context.Context, now time.Time) (int, int, error) {
			n, err := s.reports.InitializeTracking(ctx, now)
			return n, n, err
		}},
		{SweepUnreported, s.cfg.UnreportedSpec, func(ctx context.Context, now time.Time) (int, int, error) {
			result, err := s.reports.MarkExpired(ctx, now)
			return result.Processed, result.Marked, err
		}},
		{SweepCleanup, s.cfg.CleanupSpec, func(ctx context.Context, now time.Time) (int, int, error) {
			n, err := s.reports.CleanupStale(ctx, now)
			return int(n), int(n), err
		}},
	}

	for _, job := range jobs {
		job := job
		if job.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, func() { s.runExclusive(job.name, job.run) }); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Sugar().Infow("background sweeps started",
		"materialize", s.cfg.MaterializeSpec,
		"tracking_init", s.cfg.TrackingInitSpec,
		"unreported", s.cfg.UnreportedSpec,
		"cleanup", s.cfg.CleanupSpec,
	)
	return nil
}

// Stop halts scheduling and waits for in-flight jobs.
func (s *SweepService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Sugar().Infow("background sweeps stopped")
}

// RunOnce executes one named job immediately, outside the schedule. Used by
// the admin trigger endpoint.
func (s *SweepService) RunOnce(ctx context.Context, name string) (int, int, error) {
	now := time.Now().UTC()
	switch name {
	case SweepMaterialize:
		n, err := s.recurrence.MaterializeDue(ctx, now)
		return n, n, err
	case SweepTrackingInit:
		n, err := s.reports.InitializeTracking(ctx, now)
		return n, n, err
	case SweepUnreported:
		result, err := s.reports.MarkExpired(ctx, now)
		return result.Processed, result.Marked, err
	case SweepCleanup:
		n, err := s.reports.CleanupStale(ctx, now)
		return int(n), int(n), err
	default:
		return 0, 0, appErrors.Clone(appErrors.ErrValidation, "unknown sweep "+name)
	}
}

// runExclusive executes a job under its global lock. A held lock means
// another instance is already on it, so the run is skipped, not queued.
func (s *SweepService) runExclusive(name string, run func(ctx context.Context, now time.Time) (int, int, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LockTTL)
	defer cancel()

	release, acquired, err := s.locks.Acquire(ctx, "sweep:"+name, s.cfg.LockTTL)
	if err != nil {
		s.logger.Sugar().Errorw("sweep lock acquisition failed", "job", name, "error", err)
		return
	}
	if !acquired {
		s.metrics.ObserveSweepSkipped(name)
		s.logger.Sugar().Debugw("sweep skipped, lock held elsewhere", "job", name)
		return
	}
	defer release(ctx)

	started := time.Now()
	processed, touched, err := run(ctx, started.UTC())
	s.metrics.ObserveSweep(name, err, processed, touched, time.Since(started))
	if err != nil {
		s.logger.Sugar().Errorw("sweep failed", "job", name, "error", err)
		return
	}
	s.logger.Sugar().Infow("sweep finished",
		"job", name,
		"processed", processed,
		"touched", touched,
		"duration", time.Since(started),
	)
}
