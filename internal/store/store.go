package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KhaiMinhVo/rainvision-backend/internal/config"
	"github.com/KhaiMinhVo/rainvision-backend/internal/domain"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the gorm-backed repository for all scan-engine entities. Gorm's
// connection pool hands each concurrent pipeline execution its own session,
// so a single Store is safe to share across goroutines.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the schema.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port, cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm connection and migrates the schema. Tests use it
// with an in-memory sqlite database.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(
		&domain.Camera{},
		&domain.CameraFeed{},
		&domain.ScanJob{},
		&domain.ScanAttempt{},
		&domain.ObservationLog{},
		&domain.CameraStatusLog{},
		&domain.AlertSubscription{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying connection for the seeder.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// --- jobs & attempts ---

// CreateJob inserts a new scan job, normally in Running state.
func (s *Store) CreateJob(ctx context.Context, job *domain.ScanJob) error {
	return s.db.WithContext(ctx).Create(job).Error
}

// FinishJob moves a job to a terminal status.
func (s *Store) FinishJob(ctx context.Context, jobID uuid.UUID, status, notes string, endedAt time.Time) error {
	return s.db.WithContext(ctx).Model(&domain.ScanJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{"status": status, "notes": notes, "ended_at": endedAt}).Error
}

// RecoverStuckJobs marks every job still Running as Failed. Called once at
// process start, before the first cycle, so a crash mid-cycle cannot leave a
// stale Running row behind for longer than one restart.
func (s *Store) RecoverStuckJobs(ctx context.Context, notes string, endedAt time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&domain.ScanJob{}).
		Where("status = ?", domain.JobRunning).
		Updates(map[string]any{"status": domain.JobFailed, "notes": notes, "ended_at": endedAt})
	return res.RowsAffected, res.Error
}

// RecordAttempt inserts one immutable scan attempt row.
func (s *Store) RecordAttempt(ctx context.Context, attempt *domain.ScanAttempt) error {
	return s.db.WithContext(ctx).Create(attempt).Error
}

// Jobs returns scan jobs newest first, optionally filtered by status.
func (s *Store) Jobs(ctx context.Context, status string, limit, offset int) ([]domain.ScanJob, int64, error) {
	q := s.db.WithContext(ctx).Model(&domain.ScanJob{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var jobs []domain.ScanJob
	err := q.Order("started_at DESC").Limit(limit).Offset(offset).Find(&jobs).Error
	return jobs, total, err
}

// Job returns one job with its attempts.
func (s *Store) Job(ctx context.Context, jobID uuid.UUID) (*domain.ScanJob, error) {
	var job domain.ScanJob
	err := s.db.WithContext(ctx).Preload("Attempts").First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// RunningJobCount reports how many jobs are currently in Running state.
func (s *Store) RunningJobCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.ScanJob{}).
		Where("status = ?", domain.JobRunning).Count(&n).Error
	return n, err
}

// --- cameras & feeds ---

// ActiveFeeds returns the active feed of every camera not under maintenance,
// with the camera preloaded. This is the per-cycle work list.
func (s *Store) ActiveFeeds(ctx context.Context) ([]domain.CameraFeed, error) {
	var feeds []domain.CameraFeed
	err := s.db.WithContext(ctx).
		Joins("Camera").
		Where("camera_feeds.is_active = ?", true).
		Where("\"Camera\".status <> ?", domain.CameraMaintenance).
		Find(&feeds).Error
	return feeds, err
}

// SetCameraStatus flips a camera's health state. The guard clause keeps the
// scanner from overwriting an administrative Maintenance hold. A zero
// rows-affected result (camera deleted mid-cycle, or under maintenance) is
// not an error.
func (s *Store) SetCameraStatus(ctx context.Context, cameraID, status string) error {
	return s.db.WithContext(ctx).Model(&domain.Camera{}).
		Where("id = ? AND status <> ?", cameraID, domain.CameraMaintenance).
		Update("status", status).Error
}

// RecordStatusLog inserts one health-transition log row, best-effort.
func (s *Store) RecordStatusLog(ctx context.Context, log *domain.CameraStatusLog) error {
	return s.db.WithContext(ctx).Create(log).Error
}

// Cameras returns all cameras for the health dashboard.
func (s *Store) Cameras(ctx context.Context) ([]domain.Camera, error) {
	var cameras []domain.Camera
	err := s.db.WithContext(ctx).Order("id").Find(&cameras).Error
	return cameras, err
}

// --- observations ---

// RecordObservation appends one classified-frame row.
func (s *Store) RecordObservation(ctx context.Context, obs *domain.ObservationLog) error {
	return s.db.WithContext(ctx).Create(obs).Error
}

// LatestRainObservation returns the most recent observation with rain for a
// camera, or nil if the camera has never seen rain. This is the cooldown
// comparand: clear frames are deliberately excluded so they cannot reset the
// window mid-storm.
func (s *Store) LatestRainObservation(ctx context.Context, cameraID string) (*domain.ObservationLog, error) {
	var obs domain.ObservationLog
	err := s.db.WithContext(ctx).
		Where("camera_id = ? AND is_raining = ?", cameraID, true).
		Order("timestamp DESC").
		First(&obs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

// LatestObservation returns a camera's newest observation regardless of the
// rain flag, or nil if none exists.
func (s *Store) LatestObservation(ctx context.Context, cameraID string) (*domain.ObservationLog, error) {
	var obs domain.ObservationLog
	err := s.db.WithContext(ctx).
		Where("camera_id = ?", cameraID).
		Order("timestamp DESC").
		First(&obs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

// --- subscriptions ---

// EnabledSubscriptions returns every enabled ward subscription. Loaded once
// per cycle so the per-camera fan-out never goes back to the database.
func (s *Store) EnabledSubscriptions(ctx context.Context) ([]domain.AlertSubscription, error) {
	var subs []domain.AlertSubscription
	err := s.db.WithContext(ctx).
		Where("enabled = ? AND ward_id <> ''", true).
		Find(&subs).Error
	return subs, err
}

// --- retention ---

// DeleteAttemptsBefore bulk-deletes scan attempts older than cutoff.
func (s *Store) DeleteAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("attempted_at < ?", cutoff).Delete(&domain.ScanAttempt{})
	return res.RowsAffected, res.Error
}

// DeleteJobsBefore bulk-deletes scan jobs started before cutoff.
func (s *Store) DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("started_at < ?", cutoff).Delete(&domain.ScanJob{})
	return res.RowsAffected, res.Error
}

// DeleteStatusLogsBefore bulk-deletes camera status logs older than cutoff.
func (s *Store) DeleteStatusLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("checked_at < ?", cutoff).Delete(&domain.CameraStatusLog{})
	return res.RowsAffected, res.Error
}

// ObservationsBefore returns up to limit observations older than cutoff,
// oldest first, so the sweeper can delete their images in small batches.
func (s *Store) ObservationsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ObservationLog, error) {
	var obs []domain.ObservationLog
	err := s.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Order("timestamp ASC").
		Limit(limit).
		Find(&obs).Error
	return obs, err
}

// DeleteObservations removes one batch of observation rows by id.
func (s *Store) DeleteObservations(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.ObservationLog{})
	return res.RowsAffected, res.Error
}
