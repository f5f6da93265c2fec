package notify_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/KhaiMinhVo/rainvision-backend/internal/notify"
	"github.com/KhaiMinhVo/rainvision-backend/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPusher struct {
	mu    sync.Mutex
	sent  []string
	fails int // fail this many calls before succeeding
}

func (p *recordingPusher) PushToDevice(_ context.Context, token, _, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fails > 0 {
		p.fails--
		return errors.New("fcm unavailable")
	}
	p.sent = append(p.sent, token)
	return nil
}

func (p *recordingPusher) tokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

type recordingEmailer struct {
	mu   sync.Mutex
	sent []string
}

func (e *recordingEmailer) Email(_ context.Context, to, _, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, to)
	return nil
}

func TestDispatcher_DeliversPushAndEmail(t *testing.T) {
	pusher := &recordingPusher{}
	emailer := &recordingEmailer{}
	d := notify.NewDispatcher(pusher, emailer, slog.Default(), observability.NewMetricsForTesting(), clockwork.NewRealClock(), 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()

	assert.True(t, d.Enqueue(notify.Intent{Kind: notify.KindPush, Token: "tok-1", Title: "Rain alert", Body: "rain at CAM-1"}))
	assert.True(t, d.Enqueue(notify.Intent{Kind: notify.KindEmail, To: "user@example.com", Subject: "Rain alert", Body: "rain at CAM-1"}))

	require.Eventually(t, func() bool {
		return len(pusher.tokens()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, []string{"tok-1"}, pusher.tokens())
	emailer.mu.Lock()
	defer emailer.mu.Unlock()
	assert.Equal(t, []string{"user@example.com"}, emailer.sent)
}

func TestDispatcher_RetriesTransientFailure(t *testing.T) {
	pusher := &recordingPusher{fails: 2}
	d := notify.NewDispatcher(pusher, nil, slog.Default(), observability.NewMetricsForTesting(), clockwork.NewRealClock(), 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	d.Enqueue(notify.Intent{Kind: notify.KindPush, Token: "tok-retry"})

	require.Eventually(t, func() bool {
		return len(pusher.tokens()) == 1
	}, 5*time.Second, 10*time.Millisecond, "third attempt should succeed")
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	// Dispatcher never started, so the queue only drains into the buffer.
	d := notify.NewDispatcher(&recordingPusher{}, nil, slog.Default(), observability.NewMetricsForTesting(), clockwork.NewRealClock(), 1)

	assert.True(t, d.Enqueue(notify.Intent{Kind: notify.KindPush, Token: "tok-1"}))
	assert.False(t, d.Enqueue(notify.Intent{Kind: notify.KindPush, Token: "tok-2"}))
}
