// Package feed downloads camera snapshots over HTTP. The public feed portal
// rejects clients without browser headers, so the fetcher rotates user agents
// and sends a portal referer on every request.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Snapshot responses larger than this are refused; a traffic camera frame is
// a few hundred KB at most.
const maxSnapshotBytes = 8 << 20

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:124.0) Gecko/20100101 Firefox/124.0",
}

// ErrNotAnImage is returned when the feed answers 200 with something other
// than an image, which is how the portal serves its block page.
var ErrNotAnImage = errors.New("feed response is not an image")

// Fetcher is an HTTP snapshot downloader with retry. Safe for concurrent use.
type Fetcher struct {
	httpClient *http.Client
	referer    string
	logger     *slog.Logger

	maxTries   int
	retryPause time.Duration

	// next indexes userAgents; incremented per request so concurrent
	// pipelines spread across identities.
	next atomic.Uint64
}

// NewFetcher creates a snapshot fetcher. timeout bounds each individual HTTP
// request, not the whole retry sequence.
func NewFetcher(timeout time.Duration, referer string, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		referer:    referer,
		logger:     logger,
		maxTries:   3,
		retryPause: time.Second,
	}
}

// Fetch downloads one snapshot, retrying transient failures. A non-image
// response body or an empty body counts as a failure.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for try := 1; try <= f.maxTries; try++ {
		data, err := f.fetchOnce(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, lastErr
		}
		if try < f.maxTries {
			f.logger.Debug("snapshot fetch retry", "url", url, "try", try, "error", err)
			select {
			case <-ctx.Done():
				return nil, lastErr
			case <-time.After(f.retryPause):
			}
		}
	}
	return nil, fmt.Errorf("fetch snapshot after %d tries: %w", f.maxTries, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgents[f.next.Add(1)%uint64(len(userAgents))])
	req.Header.Set("Accept", "image/jpeg,image/png,image/*;q=0.8")
	if f.referer != "" {
		req.Header.Set("Referer", f.referer)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("%w: content-type %q", ErrNotAnImage, ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("read snapshot body: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty snapshot body")
	}
	return data, nil
}
