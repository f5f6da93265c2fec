package scanner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/KhaiMinhVo/rainvision-backend/internal/domain"
	"github.com/KhaiMinhVo/rainvision-backend/internal/observability"
	"github.com/jonboulle/clockwork"
)

// RetentionStore is the bulk-delete surface of the repository.
type RetentionStore interface {
	DeleteAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteStatusLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ObservationsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ObservationLog, error)
	DeleteObservations(ctx context.Context, ids []int64) (int64, error)
}

// ImageRemover deletes a stored frame by its URL or path.
type ImageRemover interface {
	Remove(ctx context.Context, imageURL string) error
}

// Sweeper bounds storage growth: audit tables get one bulk delete each,
// observations (and their images) go in small batches so a sweep never
// monopolizes the process.
type Sweeper struct {
	store   RetentionStore
	images  ImageRemover
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock

	horizon   time.Duration
	batchSize int

	mu        sync.Mutex
	lastSweep time.Time
}

// NewSweeper wires the retention sweeper. images may be nil when no frames
// are stored.
func NewSweeper(store RetentionStore, images ImageRemover, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock, horizon time.Duration, batchSize int) *Sweeper {
	if batchSize < 1 {
		batchSize = 100
	}
	return &Sweeper{
		store:     store,
		images:    images,
		logger:    logger,
		metrics:   metrics,
		clock:     clock,
		horizon:   horizon,
		batchSize: batchSize,
	}
}

// MaybeSweep runs a sweep if none has run in the last 24 hours. Called after
// each completed cycle, which gives roughly one sweep per day without a
// second scheduling loop.
func (s *Sweeper) MaybeSweep(ctx context.Context) {
	s.mu.Lock()
	now := s.clock.Now()
	if now.Sub(s.lastSweep) < 24*time.Hour {
		s.mu.Unlock()
		return
	}
	s.lastSweep = now
	s.mu.Unlock()

	if err := s.Sweep(ctx); err != nil {
		s.logger.Error("retention sweep failed", "error", err)
	}
}

// Sweep deletes everything older than the horizon. Per-table failures are
// logged and do not stop the remaining tables.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.horizon)
	s.logger.Info("retention sweep started", "cutoff", cutoff)

	// Attempts before jobs: attempts reference their job.
	tables := []struct {
		name string
		del  func(context.Context, time.Time) (int64, error)
	}{
		{"scan_attempts", s.store.DeleteAttemptsBefore},
		{"scan_jobs", s.store.DeleteJobsBefore},
		{"camera_status_logs", s.store.DeleteStatusLogsBefore},
	}
	for _, tbl := range tables {
		n, err := tbl.del(ctx, cutoff)
		if err != nil {
			s.logger.Warn("retention delete failed", "table", tbl.name, "error", err)
			continue
		}
		if n > 0 {
			s.logger.Info("retention delete", "table", tbl.name, "rows", n)
		}
		s.metrics.RowsSwept.WithLabelValues(tbl.name).Add(float64(n))
	}

	return s.sweepObservations(ctx, cutoff)
}

// sweepObservations removes aged observation rows batch by batch, deleting
// each row's stored image first. A failed image delete is logged and the row
// is removed anyway; an orphaned file is cheaper than an unbounded table.
func (s *Sweeper) sweepObservations(ctx context.Context, cutoff time.Time) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		batch, err := s.store.ObservationsBefore(ctx, cutoff, s.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(batch))
		for _, obs := range batch {
			ids = append(ids, obs.ID)
			if obs.ImageURL == "" || s.images == nil {
				continue
			}
			if err := s.images.Remove(ctx, obs.ImageURL); err != nil {
				s.logger.Warn("delete stored image failed", "image_url", obs.ImageURL, "error", err)
			}
		}

		n, err := s.store.DeleteObservations(ctx, ids)
		if err != nil {
			return err
		}
		s.metrics.RowsSwept.WithLabelValues("observation_logs").Add(float64(n))

		if len(batch) < s.batchSize {
			return nil
		}
	}
}
