package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/KhaiMinhVo/rainvision-backend/internal/domain"
	"github.com/KhaiMinhVo/rainvision-backend/internal/notify"
	"github.com/KhaiMinhVo/rainvision-backend/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ImageFetcher downloads a snapshot from a camera feed URL.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Preprocessor normalizes a raw snapshot for the classifier.
type Preprocessor interface {
	Prepare(raw []byte) ([]byte, error)
}

// Classifier turns a prepared frame into a rain verdict. Implementations must
// be safe for concurrent use; one instance serves all pipeline executions.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (domain.Prediction, error)
}

// ImageStore persists a frame and returns its public URL or path.
type ImageStore interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// Broadcaster publishes a real-time event to a named observer group.
type Broadcaster interface {
	Publish(ctx context.Context, group, event string, payload any) error
}

// AlertSink receives notification intents for asynchronous delivery.
type AlertSink interface {
	Enqueue(intent notify.Intent) bool
}

// DashboardGroup receives every rain alert; district groups receive only
// their own.
const DashboardGroup = "dashboard"

// RainAlertEvent is the broadcast event name clients subscribe to.
const RainAlertEvent = "rain.alert"

// RunnerConfig carries the tunables of the per-camera pipeline.
type RunnerConfig struct {
	Concurrency     int
	Cooldown        time.Duration
	ClearSampleRate float64
}

// Runner executes the fetch-preprocess-classify-decide-persist pipeline for
// each camera of a cycle, capped at Concurrency simultaneous executions.
type Runner struct {
	store       Store
	fetcher     ImageFetcher
	pre         Preprocessor
	classifier  Classifier
	images      ImageStore
	alerts      AlertSink
	broadcaster Broadcaster
	logger      *slog.Logger
	metrics     *observability.Metrics
	clock       clockwork.Clock
	cfg         RunnerConfig
}

// NewRunner wires the pipeline. alerts and broadcaster may be nil when the
// deployment has no delivery backends; the rest is required.
func NewRunner(store Store, fetcher ImageFetcher, pre Preprocessor, classifier Classifier, images ImageStore,
	alerts AlertSink, broadcaster Broadcaster,
	logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock, cfg RunnerConfig) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = domain.DefaultAlertCooldown
	}
	return &Runner{
		store:       store,
		fetcher:     fetcher,
		pre:         pre,
		classifier:  classifier,
		images:      images,
		alerts:      alerts,
		broadcaster: broadcaster,
		logger:      logger,
		metrics:     metrics,
		clock:       clock,
		cfg:         cfg,
	}
}

// DispatchAll runs one pipeline execution per feed and blocks until all
// in-flight executions finish. Cancellation stops new dispatches; executions
// already running finish their current step and still write their attempt.
// Returns the number of feeds dispatched.
func (r *Runner) DispatchAll(ctx context.Context, jobID uuid.UUID, feeds []domain.CameraFeed, subsByWard map[string][]domain.AlertSubscription) int {
	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup

	dispatched := 0
	for i := range feeds {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return dispatched
		}

		dispatched++
		wg.Add(1)
		go func(feed domain.CameraFeed) {
			defer wg.Done()
			defer func() { <-sem }()
			r.processFeed(ctx, jobID, feed, subsByWard)
		}(feeds[i])
	}

	wg.Wait()
	return dispatched
}

// processFeed is the per-camera execution. Whatever happens inside, exactly
// one ScanAttempt row is written for the (job, camera) pair, and nothing is
// ever thrown past this boundary.
func (r *Runner) processFeed(ctx context.Context, jobID uuid.UUID, feed domain.CameraFeed, subsByWard map[string][]domain.AlertSubscription) {
	r.metrics.PipelinesInFlight.Inc()
	defer r.metrics.PipelinesInFlight.Dec()

	started := r.clock.Now()
	attempt := &domain.ScanAttempt{
		ID:          uuid.New(),
		JobID:       jobID,
		CameraID:    feed.CameraID,
		AttemptedAt: started,
	}

	defer func() {
		if p := recover(); p != nil {
			attempt.Status = domain.AttemptError
			attempt.ErrorDetail = fmt.Sprintf("panic: %v", p)
			r.logger.Error("camera pipeline panicked", "camera_id", feed.CameraID, "panic", p)
		}
		attempt.LatencyMs = int(r.clock.Since(started).Milliseconds())
		// The attempt must land even when the cycle is being cancelled.
		writeCtx := context.WithoutCancel(ctx)
		if err := r.store.RecordAttempt(writeCtx, attempt); err != nil {
			r.logger.Warn("record scan attempt failed", "camera_id", feed.CameraID, "error", err)
		}
		r.metrics.AttemptsTotal.WithLabelValues(outcomeLabel(attempt.Status)).Inc()
	}()

	raw, err := r.fetcher.Fetch(ctx, feed.URL)
	if err != nil || len(raw) == 0 {
		reason := "empty response"
		if err != nil {
			reason = err.Error()
		}
		attempt.Status = domain.AttemptFailed
		attempt.ErrorDetail = reason
		r.markCamera(ctx, feed.CameraID, domain.CameraOffline, reason)
		return
	}

	prepared, err := r.pre.Prepare(raw)
	if err != nil || prepared == nil {
		attempt.Status = domain.AttemptError
		if err != nil {
			attempt.ErrorDetail = fmt.Sprintf("prepare image: %v", err)
		} else {
			attempt.ErrorDetail = "prepare image: no usable frame"
		}
		return
	}

	pred, err := r.classifier.Classify(ctx, prepared)
	if err != nil {
		attempt.Status = domain.AttemptError
		attempt.ErrorDetail = fmt.Sprintf("classify: %v", err)
		return
	}

	attempt.Status = domain.AttemptSuccess
	attempt.HTTPStatus = http.StatusOK

	imageURL := r.maybeStoreImage(ctx, feed.CameraID, raw, pred)

	// The cooldown comparand is read before this frame's observation is
	// written, so the current frame cannot suppress its own alert.
	if pred.IsRaining {
		r.maybeAlert(ctx, feed.Camera, imageURL, pred, subsByWard)
	}

	obs := &domain.ObservationLog{
		CameraID:   feed.CameraID,
		IsRaining:  pred.IsRaining,
		Confidence: pred.Confidence,
		ImageURL:   imageURL,
		Latitude:   feed.Camera.Latitude,
		Longitude:  feed.Camera.Longitude,
		Timestamp:  r.clock.Now(),
	}
	if err := r.store.RecordObservation(ctx, obs); err != nil {
		r.logger.Warn("record observation failed", "camera_id", feed.CameraID, "error", err)
	}

	r.markCamera(ctx, feed.CameraID, domain.CameraActive, "")
}

// maybeStoreImage applies the retention policy and saves the frame when it
// qualifies. Storage failure degrades to an empty URL, never to a failed
// pipeline.
func (r *Runner) maybeStoreImage(ctx context.Context, cameraID string, raw []byte, pred domain.Prediction) string {
	if r.images == nil {
		return ""
	}
	if !domain.KeepImage(pred.IsRaining, pred.Confidence, rand.Float64(), r.cfg.ClearSampleRate) {
		return ""
	}

	name := fmt.Sprintf("%s_%d.jpg", cameraID, r.clock.Now().UnixNano())
	url, err := r.images.Save(ctx, name, raw)
	if err != nil {
		r.logger.Warn("store image failed", "camera_id", cameraID, "error", err)
		return ""
	}
	return url
}

// maybeAlert runs the cooldown gate and, when it opens, fans out to matching
// subscriptions and the broadcast groups. Everything here is best-effort.
func (r *Runner) maybeAlert(ctx context.Context, cam domain.Camera, imageURL string, pred domain.Prediction, subsByWard map[string][]domain.AlertSubscription) {
	last, err := r.store.LatestRainObservation(ctx, cam.ID)
	if err != nil {
		r.logger.Warn("cooldown lookup failed, suppressing alert", "camera_id", cam.ID, "error", err)
		return
	}
	var lastRainAt *time.Time
	if last != nil {
		lastRainAt = &last.Timestamp
	}
	if !domain.ShouldAlert(lastRainAt, r.cfg.Cooldown) {
		return
	}

	r.metrics.AlertsFired.Inc()
	now := r.clock.Now()
	r.logger.Info("rain alert", "camera_id", cam.ID, "camera", cam.Name, "confidence", pred.Confidence)

	if r.alerts != nil && cam.WardID != nil {
		title := "Rain alert"
		body := fmt.Sprintf("Rain detected at %s (%.0f%% confidence)", cam.Name, pred.Confidence*100)
		for _, sub := range domain.MatchSubscriptions(subsByWard[*cam.WardID], cam.WardID, pred.Confidence) {
			if sub.DeviceToken != "" {
				r.alerts.Enqueue(notify.Intent{
					Kind:  notify.KindPush,
					Token: sub.DeviceToken,
					Title: title,
					Body:  body,
				})
			}
			if sub.EmailAlerts && sub.Email != "" {
				r.alerts.Enqueue(notify.Intent{
					Kind:    notify.KindEmail,
					To:      sub.Email,
					Subject: title,
					Body:    body,
				})
			}
		}
	}

	if r.broadcaster != nil {
		alert := domain.RainAlert{
			CameraID:     cam.ID,
			CameraName:   cam.Name,
			WardName:     cam.WardName,
			DistrictName: cam.DistrictName,
			ImageURL:     imageURL,
			Confidence:   pred.Confidence,
			Timestamp:    now,
		}
		if err := r.broadcaster.Publish(ctx, DashboardGroup, RainAlertEvent, alert); err != nil {
			r.logger.Warn("broadcast failed", "group", DashboardGroup, "error", err)
		}
		if cam.DistrictName != "" {
			if err := r.broadcaster.Publish(ctx, cam.DistrictName, RainAlertEvent, alert); err != nil {
				r.logger.Warn("broadcast failed", "group", cam.DistrictName, "error", err)
			}
		}
	}
}

// markCamera records a health transition: a status-log row plus the camera's
// status column. Both writes are best-effort and must survive cancellation.
func (r *Runner) markCamera(ctx context.Context, cameraID, status, reason string) {
	writeCtx := context.WithoutCancel(ctx)

	if err := r.store.RecordStatusLog(writeCtx, &domain.CameraStatusLog{
		ID:        uuid.New(),
		CameraID:  cameraID,
		Status:    status,
		Reason:    reason,
		CheckedAt: r.clock.Now(),
	}); err != nil {
		r.logger.Warn("record status log failed", "camera_id", cameraID, "error", err)
	}

	if err := r.store.SetCameraStatus(writeCtx, cameraID, status); err != nil {
		r.logger.Warn("update camera status failed", "camera_id", cameraID, "error", err)
	}
}

func outcomeLabel(status string) string {
	switch status {
	case domain.AttemptSuccess:
		return "success"
	case domain.AttemptFailed:
		return "failed"
	default:
		return "error"
	}
}
