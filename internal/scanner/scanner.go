// Package scanner is the ingestion and alerting engine: a fixed-interval
// scheduler with an overlap guard, a bounded-concurrency per-camera pipeline,
// the camera health transitions, the alert cooldown gate, and the retention
// sweeper.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/KhaiMinhVo/rainvision-backend/internal/domain"
	"github.com/KhaiMinhVo/rainvision-backend/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Store is the repository surface the scan engine needs. *store.Store
// implements it; tests use fakes.
type Store interface {
	RecoverStuckJobs(ctx context.Context, notes string, endedAt time.Time) (int64, error)
	CreateJob(ctx context.Context, job *domain.ScanJob) error
	FinishJob(ctx context.Context, jobID uuid.UUID, status, notes string, endedAt time.Time) error
	ActiveFeeds(ctx context.Context) ([]domain.CameraFeed, error)
	EnabledSubscriptions(ctx context.Context) ([]domain.AlertSubscription, error)
	RecordAttempt(ctx context.Context, attempt *domain.ScanAttempt) error
	RecordObservation(ctx context.Context, obs *domain.ObservationLog) error
	RecordStatusLog(ctx context.Context, log *domain.CameraStatusLog) error
	SetCameraStatus(ctx context.Context, cameraID, status string) error
	LatestRainObservation(ctx context.Context, cameraID string) (*domain.ObservationLog, error)
}

// ErrCycleInFlight is returned by RunCycle when the overlap guard rejects the
// tick because a previous cycle has not finished.
var ErrCycleInFlight = errors.New("scan cycle already in flight")

// Scheduler drives the scan loop: one cycle per interval, never two at once.
type Scheduler struct {
	store   Store
	runner  *Runner
	sweeper *Sweeper
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock

	interval     time.Duration
	overlapRetry time.Duration

	// guard is the single-flight lock: a 1-slot semaphore acquired with a
	// non-blocking send.
	guard chan struct{}
	ready atomic.Bool
}

// NewScheduler wires the scan loop. sweeper may be nil to disable retention.
func NewScheduler(store Store, runner *Runner, sweeper *Sweeper, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock, interval, overlapRetry time.Duration) *Scheduler {
	return &Scheduler{
		store:        store,
		runner:       runner,
		sweeper:      sweeper,
		logger:       logger,
		metrics:      metrics,
		clock:        clock,
		interval:     interval,
		overlapRetry: overlapRetry,
		guard:        make(chan struct{}, 1),
	}
}

// CheckReadiness returns nil once at least one cycle has completed.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("no scan cycle has completed yet")
	}
	return nil
}

// Run executes the scan loop until the context is cancelled. No cycle failure
// ever terminates the loop; errors are captured on the job record.
func (s *Scheduler) Run(ctx context.Context) error {
	if n, err := s.store.RecoverStuckJobs(ctx, "process restart while running", s.clock.Now()); err != nil {
		s.logger.Error("stuck job recovery failed", "error", err)
	} else if n > 0 {
		s.logger.Warn("recovered stuck scan jobs from previous run", "count", n)
	}

	s.logger.Info("scan scheduler started", "interval", s.interval, "overlap_retry", s.overlapRetry)

	for {
		if ctx.Err() != nil {
			s.logger.Info("scan scheduler stopping", "reason", ctx.Err())
			return nil
		}

		wait := s.interval
		if err := s.RunCycle(ctx); errors.Is(err, ErrCycleInFlight) {
			// Retry on the shorter sub-interval instead of skipping a
			// whole period, so transient overlap self-heals.
			s.logger.Warn("previous scan cycle still running, will retry", "retry_in", s.overlapRetry)
			s.metrics.CyclesTotal.WithLabelValues("skipped").Inc()
			wait = s.overlapRetry
		}

		if !sleepWithContext(ctx, s.clock, wait) {
			s.logger.Info("scan scheduler stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// RunCycle executes one full scan cycle under the overlap guard. It returns
// ErrCycleInFlight when another cycle holds the guard; any failure inside the
// cycle is absorbed into the job record and not returned.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	select {
	case s.guard <- struct{}{}:
	default:
		return ErrCycleInFlight
	}
	defer func() { <-s.guard }()

	s.metrics.ScanRunning.Set(1)
	defer s.metrics.ScanRunning.Set(0)

	started := s.clock.Now()
	job := &domain.ScanJob{
		ID:        uuid.New(),
		JobType:   domain.JobTypeScheduled,
		Status:    domain.JobRunning,
		StartedAt: started,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		s.logger.Error("create scan job failed, skipping cycle", "error", err)
		s.metrics.CyclesTotal.WithLabelValues("failed").Inc()
		return nil
	}

	processed, cycleErr := s.cycle(ctx, job.ID)

	// Finalize the job even when the cycle was cancelled mid-flight.
	finCtx := context.WithoutCancel(ctx)
	ended := s.clock.Now()

	if cycleErr != nil {
		s.logger.Error("scan cycle failed", "job_id", job.ID, "error", cycleErr)
		s.metrics.CyclesTotal.WithLabelValues("failed").Inc()
		if err := s.store.FinishJob(finCtx, job.ID, domain.JobFailed, cycleErr.Error(), ended); err != nil {
			s.logger.Error("finalize failed job record failed", "job_id", job.ID, "error", err)
		}
		return nil
	}

	notes := fmt.Sprintf("processed %d feeds", processed)
	if err := s.store.FinishJob(finCtx, job.ID, domain.JobCompleted, notes, ended); err != nil {
		s.logger.Error("finalize job record failed", "job_id", job.ID, "error", err)
	}
	s.metrics.CyclesTotal.WithLabelValues("completed").Inc()
	s.metrics.CycleDuration.Observe(ended.Sub(started).Seconds())
	s.ready.Store(true)
	s.logger.Info("scan cycle completed", "job_id", job.ID, "feeds", processed, "duration", ended.Sub(started))

	if s.sweeper != nil {
		s.sweeper.MaybeSweep(ctx)
	}
	return nil
}

// cycle is the guarded body of one cycle. A panic anywhere inside is
// converted into the cycle error so the scheduler loop survives it.
func (s *Scheduler) cycle(ctx context.Context, jobID uuid.UUID) (processed int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in scan cycle: %v", p)
		}
	}()

	feeds, err := s.store.ActiveFeeds(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active feeds: %w", err)
	}

	subs, err := s.store.EnabledSubscriptions(ctx)
	if err != nil {
		return 0, fmt.Errorf("load subscriptions: %w", err)
	}
	subsByWard := groupByWard(subs)

	s.logger.Info("scan cycle started", "job_id", jobID, "feeds", len(feeds), "subscriptions", len(subs))

	processed = s.runner.DispatchAll(ctx, jobID, feeds, subsByWard)
	if ctx.Err() != nil && processed < len(feeds) {
		return processed, fmt.Errorf("cycle cancelled after %d of %d feeds", processed, len(feeds))
	}
	return processed, nil
}

// groupByWard indexes subscriptions for O(1) per-camera fan-out lookups.
func groupByWard(subs []domain.AlertSubscription) map[string][]domain.AlertSubscription {
	byWard := make(map[string][]domain.AlertSubscription)
	for _, sub := range subs {
		if sub.WardID == "" {
			continue
		}
		byWard[sub.WardID] = append(byWard[sub.WardID], sub)
	}
	return byWard
}

// sleepWithContext waits for d on the injected clock, returning false if the
// context was cancelled first.
func sleepWithContext(ctx context.Context, c clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := c.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
