package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waraqaweb/classes-api/internal/dto"
	"github.com/waraqaweb/classes-api/pkg/config"
	appErrors "github.com/waraqaweb/classes-api/pkg/errors"
	"github.com/waraqaweb/classes-api/pkg/lock"
)

type fakeMaterializer struct {
	calls int
	n     int
}

func (f *fakeMaterializer) MaterializeDue(ctx context.Context, now time.Time) (int, error) {
	f.calls++
	return f.n, nil
}

type fakeReportSweeper struct {
	initCalls    int
	expireCalls  int
	cleanupCalls int
}

func (f *fakeReportSweeper) InitializeTracking(ctx context.Context, now time.Time) (int, error) {
	f.initCalls++
	return 2, nil
}

func (f *fakeReportSweeper) MarkExpired(ctx context.Context, now time.Time) (dto.SweepResult, error) {
	f.expireCalls++
	return dto.SweepResult{Processed: 5, Marked: 3}, nil
}

func (f *fakeReportSweeper) CleanupStale(ctx context.Context, now time.Time) (int64, error) {
	f.cleanupCalls++
	return 1, nil
}

func sweepTestService(locks lock.Service, cfg config.SweepsConfig) (*SweepService, *fakeMaterializer, *fakeReportSweeper) {
	materializer := &fakeMaterializer{n: 4}
	sweeper := &fakeReportSweeper{}
	svc := NewSweepService(locks, materializer, sweeper, NewMetricsService(), cfg, zap.NewNop())
	return svc, materializer, sweeper
}

func TestRunOnce(t *testing.T) {
	svc, materializer, sweeper := sweepTestService(lock.NewLocalService(), config.SweepsConfig{})

	processed, touched, err := svc.RunOnce(context.Background(), SweepMaterialize)
	require.NoError(t, err)
	assert.Equal(t, 4, processed)
	assert.Equal(t, 4, touched)
	assert.Equal(t, 1, materializer.calls)

	processed, touched, err = svc.RunOnce(context.Background(), SweepUnreported)
	require.NoError(t, err)
	assert.Equal(t, 5, processed)
	assert.Equal(t, 3, touched)
	assert.Equal(t, 1, sweeper.expireCalls)
}

func TestRunOnceUnknownJob(t *testing.T) {
	svc, _, _ := sweepTestService(lock.NewLocalService(), config.SweepsConfig{})

	_, _, err := svc.RunOnce(context.Background(), "defragment")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRunExclusiveSkipsWhenLockHeld(t *testing.T) {
	locks := lock.NewLocalService()
	svc, materializer, _ := sweepTestService(locks, config.SweepsConfig{LockTTL: time.Minute})

	// Another instance holds the job lock.
	_, acquired, err := locks.Acquire(context.Background(), "sweep:"+SweepMaterialize, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	svc.runExclusive(SweepMaterialize, func(ctx context.Context, now time.Time) (int, int, error) {
		n, err := materializer.MaterializeDue(ctx, now)
		return n, n, err
	})
	assert.Equal(t, 0, materializer.calls)
}

func TestRunExclusiveReleasesLock(t *testing.T) {
	locks := lock.NewLocalService()
	svc, materializer, _ := sweepTestService(locks, config.SweepsConfig{LockTTL: time.Minute})

	run := func(ctx context.Context, now time.Time) (int, int, error) {
		n, err := materializer.MaterializeDue(ctx, now)
		return n, n, err
	}
	svc.runExclusive(SweepMaterialize, run)
	svc.runExclusive(SweepMaterialize, run)
	assert.Equal(t, 2, materializer.calls, "the lock must be released between runs")
}

func TestStartDisabled(t *testing.T) {
	svc, _, _ := sweepTestService(lock.NewLocalService(), config.SweepsConfig{Enabled: false})
	require.NoError(t, svc.Start())
	svc.Stop()
}

func TestStartRejectsBadSpec(t *testing.T) {
	svc, _, _ := sweepTestService(lock.NewLocalService(), config.SweepsConfig{
		Enabled:         true,
		MaterializeSpec: "not a cron spec",
	})
	require.Error(t, svc.Start())
}
