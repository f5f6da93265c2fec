package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/KhaiMinhVo/rainvision-backend/internal/domain"
)

// MockClassifier returns random verdicts for running the system without a
// trained model: a coin flip on rain, confidence uniform in [0.7, 0.9).
type MockClassifier struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewMockClassifier seeds the mock from the given source. Pass 0 for a
// time-based seed.
func NewMockClassifier(seed uint64) *MockClassifier {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &MockClassifier{rng: rand.New(rand.NewPCG(seed, seed>>1))}
}

func (m *MockClassifier) Classify(_ context.Context, _ []byte) (domain.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.Prediction{
		IsRaining:  m.rng.IntN(2) == 1,
		Confidence: 0.7 + m.rng.Float32()*0.2,
	}, nil
}

// RemoteClassifier calls an HTTP model server that accepts a JPEG frame and
// answers with a rain verdict.
type RemoteClassifier struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRemoteClassifier creates a client for the model server's predict
// endpoint.
func NewRemoteClassifier(endpoint string, timeout time.Duration, logger *slog.Logger) *RemoteClassifier {
	return &RemoteClassifier{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Classify posts the prepared frame and decodes the model's verdict.
func (c *RemoteClassifier) Classify(ctx context.Context, frame []byte) (domain.Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(frame))
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("model request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Prediction{}, fmt.Errorf("model server error: status %d: %s", resp.StatusCode, body)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Prediction{}, fmt.Errorf("decode model response: %w", err)
	}
	return domain.Prediction{IsRaining: out.IsRaining, Confidence: out.Confidence}, nil
}

// Model server response type.

type predictResponse struct {
	IsRaining  bool    `json:"is_raining"`
	Confidence float32 `json:"confidence"`
}
