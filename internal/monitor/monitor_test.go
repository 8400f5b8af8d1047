package monitor

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
	"github.com/Ai-QJY/every-thing-api/internal/browser"
	"github.com/Ai-QJY/every-thing-api/internal/browser/browsertest"
	"github.com/Ai-QJY/every-thing-api/internal/config"
	"github.com/Ai-QJY/every-thing-api/internal/detector"
)

func testLoginConfig() config.LoginConfig {
	return config.LoginConfig{
		Timeout:       10 * time.Second,
		PollInterval:  5 * time.Millisecond,
		MaxTicks:      600,
		ProgressEvery: 2,
	}
}

type recordingNotifier struct{ calls [][]string }

func (r *recordingNotifier) Notify(lines []string) { r.calls = append(r.calls, lines) }

// countingDetector returns true starting at tick `at` (1-based); at <= 0 never detects.
func countingDetector(at int64, calls *atomic.Int64) detector.Detector {
	return detector.Func(func(ctx context.Context, s browser.Surface) (bool, error) {
		n := calls.Add(1)
		return at > 0 && n >= at, nil
	})
}

func TestWaitForLogin_DetectsOnThirdTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int64
	n := &recordingNotifier{}
	m := New(testLoginConfig(), countingDetector(3, &calls), n, zaptest.NewLogger(t))

	res := m.WaitForLogin(context.Background(), browsertest.NewContext(), 5)
	assert.Equal(t, schemas.MonitorResult{Status: schemas.MonitorDetected, Ticks: 3}, res)
	assert.EqualValues(t, 3, calls.Load())
	assert.Len(t, n.calls, 1, "instructions are emitted once")
}

func TestWaitForLogin_Timeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int64
	m := New(testLoginConfig(), countingDetector(0, &calls), nil, zaptest.NewLogger(t))

	res := m.WaitForLogin(context.Background(), browsertest.NewContext(), 2)
	assert.Equal(t, schemas.MonitorResult{Status: schemas.MonitorTimeout, Ticks: 2}, res)
	assert.EqualValues(t, 2, calls.Load())
}

func TestWaitForLogin_NoSleepAfterLastTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testLoginConfig()
	cfg.PollInterval = time.Hour

	var calls atomic.Int64
	m := New(cfg, countingDetector(0, &calls), nil, zaptest.NewLogger(t))

	start := time.Now()
	res := m.WaitForLogin(context.Background(), browsertest.NewContext(), 1)
	assert.Equal(t, schemas.MonitorResult{Status: schemas.MonitorTimeout, Ticks: 1}, res)
	assert.Less(t, time.Since(start), time.Minute, "timeout is reported right after the last tick")
	assert.EqualValues(t, 1, calls.Load())
}

func TestWaitForLogin_StopDuringFirstTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testLoginConfig()
	cfg.PollInterval = time.Hour

	var calls atomic.Int64
	var m *Monitor
	m = New(cfg, detector.Func(func(ctx context.Context, s browser.Surface) (bool, error) {
		calls.Add(1)
		m.Stop()
		return false, nil
	}), nil, zaptest.NewLogger(t))

	start := time.Now()
	res := m.WaitForLogin(context.Background(), browsertest.NewContext(), 10)
	assert.Equal(t, schemas.MonitorResult{Status: schemas.MonitorCancelled, Ticks: 1}, res)
	assert.EqualValues(t, 1, calls.Load())
	assert.Less(t, time.Since(start), time.Minute)
}

func TestWaitForLogin_StopWakesSleepingTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testLoginConfig()
	cfg.PollInterval = time.Hour

	var calls atomic.Int64
	m := New(cfg, countingDetector(0, &calls), nil, zaptest.NewLogger(t))

	done := make(chan schemas.MonitorResult)
	go func() { done <- m.WaitForLogin(context.Background(), browsertest.NewContext(), 10) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	m.Stop()
	m.Stop()

	select {
	case res := <-done:
		assert.Equal(t, schemas.MonitorCancelled, res.Status)
		assert.Equal(t, 1, res.Ticks)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not wake the monitor")
	}
}

func TestWaitForLogin_ContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int64
	m := New(testLoginConfig(), countingDetector(1, &calls), nil, zaptest.NewLogger(t))
	res := m.WaitForLogin(ctx, browsertest.NewContext(), 5)
	assert.Equal(t, schemas.MonitorResult{Status: schemas.MonitorCancelled, Ticks: 0}, res)
	assert.Zero(t, calls.Load())
}

func TestWaitForLogin_PopupDetected(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := browsertest.NewContext()
	c.Page(0).SetURL("https://grok.com/")
	popup := c.OpenPopup("https://accounts.google.com/o/oauth2")

	var calls atomic.Int64
	d := detector.Func(func(ctx context.Context, s browser.Surface) (bool, error) {
		if calls.Add(1) == 3 {
			popup.SetURL("https://grok.com/chat")
		}
		u, _ := s.URL(ctx)
		return u == "https://grok.com/chat", nil
	})
	m := New(testLoginConfig(), d, nil, zaptest.NewLogger(t))

	res := m.WaitForLogin(context.Background(), c, 5)
	assert.Equal(t, schemas.MonitorDetected, res.Status)
	assert.Equal(t, 2, res.Ticks)
}

func TestWaitForLogin_ContextClosed(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("jar closed", func(t *testing.T) {
		c := browsertest.NewContext()
		var calls atomic.Int64
		d := detector.Func(func(ctx context.Context, s browser.Surface) (bool, error) {
			calls.Add(1)
			require.NoError(t, c.Close(ctx))
			return false, nil
		})
		m := New(testLoginConfig(), d, nil, zaptest.NewLogger(t))

		res := m.WaitForLogin(context.Background(), c, 5)
		assert.Equal(t, schemas.MonitorResult{Status: schemas.MonitorContextClosed, Ticks: 2}, res)
	})

	t.Run("every window closed", func(t *testing.T) {
		c := browsertest.NewContext()
		require.NoError(t, c.Page(0).Close(context.Background()))
		var calls atomic.Int64
		m := New(testLoginConfig(), countingDetector(1, &calls), nil, zaptest.NewLogger(t))

		res := m.WaitForLogin(context.Background(), c, 5)
		assert.Equal(t, schemas.MonitorResult{Status: schemas.MonitorContextClosed, Ticks: 1}, res)
		assert.Zero(t, calls.Load())
	})

	t.Run("listing error is retried", func(t *testing.T) {
		c := browsertest.NewContext()
		c.PagesErr = errors.New("target crashed")
		var calls atomic.Int64
		m := New(testLoginConfig(), countingDetector(1, &calls), nil, zaptest.NewLogger(t))

		res := m.WaitForLogin(context.Background(), c, 3)
		assert.Equal(t, schemas.MonitorResult{Status: schemas.MonitorTimeout, Ticks: 3}, res)
	})
}

func TestBudget(t *testing.T) {
	m := New(config.LoginConfig{Timeout: 120 * time.Second, MaxTicks: 600}, nil, nil, zaptest.NewLogger(t))
	assert.Equal(t, 5, m.Budget(5))
	assert.Equal(t, 120, m.Budget(0))
	assert.Equal(t, 600, m.Budget(10_000))
}

func TestWriterNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := &WriterNotifier{W: &buf}
	n.Notify(Instructions(2 * time.Minute))
	assert.Contains(t, buf.String(), "Waiting up to 2m0s")
}
