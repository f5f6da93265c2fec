package scanner_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/KhaiMinhVo/rainvision-backend/internal/domain"
	"github.com/KhaiMinhVo/rainvision-backend/internal/notify"
	"github.com/KhaiMinhVo/rainvision-backend/internal/observability"
	"github.com/KhaiMinhVo/rainvision-backend/internal/scanner"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory scanner.Store shared by the scheduler, pipeline,
// and sweeper tests.
type fakeStore struct {
	mu sync.Mutex

	feeds []domain.CameraFeed
	subs  []domain.AlertSubscription

	jobs         map[uuid.UUID]*domain.ScanJob
	attempts     []domain.ScanAttempt
	observations []domain.ObservationLog
	statusLogs   []domain.CameraStatusLog
	cameraStatus map[string]string

	lastRain map[string]time.Time

	recoveredStuck int64
	feedsErr       error
	createJobErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:         make(map[uuid.UUID]*domain.ScanJob),
		cameraStatus: make(map[string]string),
		lastRain:     make(map[string]time.Time),
	}
}

func (s *fakeStore) RecoverStuckJobs(_ context.Context, _ string, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recoveredStuck, nil
}

func (s *fakeStore) CreateJob(_ context.Context, job *domain.ScanJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createJobErr != nil {
		return s.createJobErr
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *fakeStore) FinishJob(_ context.Context, jobID uuid.UUID, status, notes string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	job.Status = status
	job.Notes = notes
	job.EndedAt = &endedAt
	return nil
}

func (s *fakeStore) ActiveFeeds(_ context.Context) ([]domain.CameraFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feedsErr != nil {
		return nil, s.feedsErr
	}
	return append([]domain.CameraFeed(nil), s.feeds...), nil
}

func (s *fakeStore) EnabledSubscriptions(_ context.Context) ([]domain.AlertSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AlertSubscription(nil), s.subs...), nil
}

func (s *fakeStore) RecordAttempt(_ context.Context, attempt *domain.ScanAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *attempt)
	return nil
}

func (s *fakeStore) RecordObservation(_ context.Context, obs *domain.ObservationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations = append(s.observations, *obs)
	return nil
}

func (s *fakeStore) RecordStatusLog(_ context.Context, log *domain.CameraStatusLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusLogs = append(s.statusLogs, *log)
	return nil
}

func (s *fakeStore) SetCameraStatus(_ context.Context, cameraID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cameraStatus[cameraID] = status
	return nil
}

func (s *fakeStore) LatestRainObservation(_ context.Context, cameraID string) (*domain.ObservationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.lastRain[cameraID]
	if !ok {
		return nil, nil
	}
	return &domain.ObservationLog{CameraID: cameraID, IsRaining: true, Timestamp: ts}, nil
}

func (s *fakeStore) attemptsFor(jobID uuid.UUID) []domain.ScanAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ScanAttempt
	for _, a := range s.attempts {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	return out
}

// trackingFetcher counts simultaneous fetches so tests can assert the
// concurrency cap.
type trackingFetcher struct {
	mu      sync.Mutex
	current int
	peak    int
	delay   time.Duration

	failFor map[string]error
}

func (f *trackingFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.current++
	if f.current > f.peak {
		f.peak = f.current
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.current--
	err := f.failFor[url]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return []byte("jpeg-bytes"), nil
}

type staticPre struct {
	err   error
	panic bool
}

func (p *staticPre) Prepare(raw []byte) ([]byte, error) {
	if p.panic {
		panic("bad frame buffer")
	}
	if p.err != nil {
		return nil, p.err
	}
	return raw, nil
}

type staticClassifier struct {
	pred domain.Prediction
	err  error
}

func (c *staticClassifier) Classify(context.Context, []byte) (domain.Prediction, error) {
	return c.pred, c.err
}

type recordingSink struct {
	mu      sync.Mutex
	intents []notify.Intent
}

func (s *recordingSink) Enqueue(intent notify.Intent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = append(s.intents, intent)
	return true
}

func (s *recordingSink) all() []notify.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Intent(nil), s.intents...)
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	groups []string
}

func (b *recordingBroadcaster) Publish(_ context.Context, group, _ string, _ any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.groups = append(b.groups, group)
	return nil
}

func feedFor(cameraID, wardID string) domain.CameraFeed {
	var ward *string
	if wardID != "" {
		ward = &wardID
	}
	return domain.CameraFeed{
		CameraID: cameraID,
		URL:      "http://cams.example/" + cameraID,
		IsActive: true,
		Camera: domain.Camera{
			ID:           cameraID,
			Name:         "Camera " + cameraID,
			WardID:       ward,
			DistrictName: "District 1",
			Latitude:     10.77,
			Longitude:    106.69,
			Status:       domain.CameraActive,
		},
	}
}

func newRunner(t *testing.T, store *fakeStore, fetcher scanner.ImageFetcher, pre scanner.Preprocessor, cls scanner.Classifier,
	sink scanner.AlertSink, bc scanner.Broadcaster, cfg scanner.RunnerConfig) *scanner.Runner {
	t.Helper()
	return scanner.NewRunner(store, fetcher, pre, cls, nil, sink, bc,
		slog.Default(), observability.NewMetricsForTesting(), clockwork.NewRealClock(), cfg)
}

func TestDispatchAll_RespectsConcurrencyCap(t *testing.T) {
	store := newFakeStore()
	fetcher := &trackingFetcher{delay: 20 * time.Millisecond}
	runner := newRunner(t, store, fetcher, &staticPre{}, &staticClassifier{pred: domain.Prediction{Confidence: 0.2}},
		nil, nil, scanner.RunnerConfig{Concurrency: 2})

	var feeds []domain.CameraFeed
	for _, id := range []string{"CAM-1", "CAM-2", "CAM-3", "CAM-4", "CAM-5", "CAM-6"} {
		feeds = append(feeds, feedFor(id, ""))
	}

	jobID := uuid.New()
	n := runner.DispatchAll(context.Background(), jobID, feeds, nil)

	assert.Equal(t, 6, n)
	assert.LessOrEqual(t, fetcher.peak, 2, "never more than Concurrency fetches at once")
	assert.Len(t, store.attemptsFor(jobID), 6)
}

func TestDispatchAll_ExactlyOneAttemptPerCamera(t *testing.T) {
	cases := []struct {
		name       string
		fetchErr   error
		pre        *staticPre
		classifier *staticClassifier
		wantStatus string
	}{
		{
			name:       "success",
			pre:        &staticPre{},
			classifier: &staticClassifier{pred: domain.Prediction{IsRaining: true, Confidence: 0.9}},
			wantStatus: domain.AttemptSuccess,
		},
		{
			name:       "fetch failure",
			fetchErr:   errors.New("connection refused"),
			pre:        &staticPre{},
			classifier: &staticClassifier{},
			wantStatus: domain.AttemptFailed,
		},
		{
			name:       "preprocess error",
			pre:        &staticPre{err: errors.New("not a jpeg")},
			classifier: &staticClassifier{},
			wantStatus: domain.AttemptError,
		},
		{
			name:       "classifier error",
			pre:        &staticPre{},
			classifier: &staticClassifier{err: errors.New("model timeout")},
			wantStatus: domain.AttemptError,
		},
		{
			name:       "preprocess panic",
			pre:        &staticPre{panic: true},
			classifier: &staticClassifier{},
			wantStatus: domain.AttemptError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			fetcher := &trackingFetcher{}
			if tc.fetchErr != nil {
				fetcher.failFor = map[string]error{"http://cams.example/CAM-1": tc.fetchErr}
			}
			runner := newRunner(t, store, fetcher, tc.pre, tc.classifier, nil, nil, scanner.RunnerConfig{})

			jobID := uuid.New()
			runner.DispatchAll(context.Background(), jobID, []domain.CameraFeed{feedFor("CAM-1", "")}, nil)

			attempts := store.attemptsFor(jobID)
			require.Len(t, attempts, 1)
			assert.Equal(t, tc.wantStatus, attempts[0].Status)
			assert.Equal(t, "CAM-1", attempts[0].CameraID)
		})
	}
}

func TestProcessFeed_HealthTransitions(t *testing.T) {
	store := newFakeStore()
	fetcher := &trackingFetcher{failFor: map[string]error{
		"http://cams.example/CAM-DOWN": errors.New("timeout"),
	}}
	runner := newRunner(t, store, fetcher, &staticPre{}, &staticClassifier{pred: domain.Prediction{Confidence: 0.1}},
		nil, nil, scanner.RunnerConfig{})

	feeds := []domain.CameraFeed{feedFor("CAM-UP", ""), feedFor("CAM-DOWN", "")}
	runner.DispatchAll(context.Background(), uuid.New(), feeds, nil)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, domain.CameraActive, store.cameraStatus["CAM-UP"])
	assert.Equal(t, domain.CameraOffline, store.cameraStatus["CAM-DOWN"])
	require.Len(t, store.statusLogs, 2)
}

func TestProcessFeed_CooldownGatesAlerts(t *testing.T) {
	fc := clockwork.NewFakeClock()
	domain.SetClock(fc)
	defer domain.SetClock(nil)

	cases := []struct {
		name      string
		lastRain  *time.Duration // age of the latest raining observation
		wantAlert bool
	}{
		{"first rain ever", nil, true},
		{"rain 20 minutes ago", durPtr(20 * time.Minute), false},
		{"rain 45 minutes ago", durPtr(45 * time.Minute), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			if tc.lastRain != nil {
				store.lastRain["CAM-1"] = fc.Now().Add(-*tc.lastRain)
			}
			sink := &recordingSink{}
			bc := &recordingBroadcaster{}
			store.subs = []domain.AlertSubscription{{
				ID: uuid.New(), WardID: "W-1", DeviceToken: "tok-1", Threshold: 0.7, Enabled: true,
			}}

			runner := newRunner(t, store, &trackingFetcher{}, &staticPre{},
				&staticClassifier{pred: domain.Prediction{IsRaining: true, Confidence: 0.85}},
				sink, bc, scanner.RunnerConfig{Cooldown: 30 * time.Minute})

			subsByWard := map[string][]domain.AlertSubscription{"W-1": store.subs}
			runner.DispatchAll(context.Background(), uuid.New(), []domain.CameraFeed{feedFor("CAM-1", "W-1")}, subsByWard)

			if tc.wantAlert {
				require.Len(t, sink.all(), 1)
				assert.Equal(t, notify.KindPush, sink.all()[0].Kind)
				assert.ElementsMatch(t, []string{scanner.DashboardGroup, "District 1"}, bc.groups)
			} else {
				assert.Empty(t, sink.all())
				assert.Empty(t, bc.groups)
			}

			// The observation is recorded either way.
			store.mu.Lock()
			defer store.mu.Unlock()
			require.Len(t, store.observations, 1)
			assert.True(t, store.observations[0].IsRaining)
		})
	}
}

func TestProcessFeed_ThresholdFiltersSubscriptions(t *testing.T) {
	store := newFakeStore()
	sink := &recordingSink{}
	subs := []domain.AlertSubscription{
		{ID: uuid.New(), WardID: "W-1", DeviceToken: "tok-low", Threshold: 0.6, Enabled: true},
		{ID: uuid.New(), WardID: "W-1", DeviceToken: "tok-high", Threshold: 0.9, Enabled: true},
		{ID: uuid.New(), WardID: "W-1", Email: "u@example.com", Threshold: 0.6, Enabled: true, EmailAlerts: true},
	}

	runner := newRunner(t, store, &trackingFetcher{}, &staticPre{},
		&staticClassifier{pred: domain.Prediction{IsRaining: true, Confidence: 0.75}},
		sink, nil, scanner.RunnerConfig{})

	runner.DispatchAll(context.Background(), uuid.New(), []domain.CameraFeed{feedFor("CAM-1", "W-1")},
		map[string][]domain.AlertSubscription{"W-1": subs})

	intents := sink.all()
	require.Len(t, intents, 2, "0.9 threshold subscription must not match")
	kinds := map[string]int{}
	for _, in := range intents {
		kinds[in.Kind]++
	}
	assert.Equal(t, 1, kinds[notify.KindPush])
	assert.Equal(t, 1, kinds[notify.KindEmail])
}

func durPtr(d time.Duration) *time.Duration { return &d }
