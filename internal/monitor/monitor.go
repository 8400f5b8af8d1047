// Package monitor waits for an interactive login to finish by polling every open
// surface of a browsing context.
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
	"github.com/Ai-QJY/every-thing-api/internal/browser"
	"github.com/Ai-QJY/every-thing-api/internal/config"
	"github.com/Ai-QJY/every-thing-api/internal/detector"
)

const (
	defaultInterval      = time.Second
	defaultMaxTicks      = 600
	defaultProgressEvery = 30
	maxLoggedURLs        = 5
)

// Monitor polls a browsing context until the detector sees a logged-in surface.
// A Monitor serves one wait; Stop ends it from any goroutine within one tick.
type Monitor struct {
	logger         *zap.Logger
	detector       detector.Detector
	notifier       Notifier
	interval       time.Duration
	maxTicks       int
	progressEvery  int
	defaultTimeout time.Duration

	stopped  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Monitor from the login configuration.
func New(cfg config.LoginConfig, d detector.Detector, n Notifier, logger *zap.Logger) *Monitor {
	m := &Monitor{
		logger:         logger.Named("monitor"),
		detector:       d,
		notifier:       n,
		interval:       cfg.PollInterval,
		maxTicks:       cfg.MaxTicks,
		progressEvery:  cfg.ProgressEvery,
		defaultTimeout: cfg.Timeout,
		stopCh:         make(chan struct{}),
	}
	if m.interval <= 0 {
		m.interval = defaultInterval
	}
	if m.maxTicks <= 0 {
		m.maxTicks = defaultMaxTicks
	}
	if m.progressEvery <= 0 {
		m.progressEvery = defaultProgressEvery
	}
	return m
}

// Stop requests cancellation. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.stopped.Store(true)
		close(m.stopCh)
	})
}

// Stopped reports whether Stop was called.
func (m *Monitor) Stopped() bool { return m.stopped.Load() }

// Budget returns the number of ticks a wait of timeoutSeconds may use.
func (m *Monitor) Budget(timeoutSeconds int) int {
	ticks := timeoutSeconds
	if ticks <= 0 {
		ticks = int(m.defaultTimeout / time.Second)
	}
	if ticks <= 0 || ticks > m.maxTicks {
		ticks = m.maxTicks
	}
	return ticks
}

// Interval is the pause between ticks.
func (m *Monitor) Interval() time.Duration { return m.interval }

// WaitForLogin runs one tick per interval, checking every open surface of bctx.
// It always returns one of the terminal statuses and never an error: timeouts,
// cancellation and a closed window are outcomes, not failures.
func (m *Monitor) WaitForLogin(ctx context.Context, bctx browser.BrowsingContext, timeoutSeconds int) schemas.MonitorResult {
	budget := m.Budget(timeoutSeconds)
	if m.notifier != nil {
		m.notifier.Notify(Instructions(time.Duration(budget) * m.interval))
	}
	m.logger.Info("Waiting for login.", zap.Int("max_ticks", budget), zap.Duration("interval", m.interval))

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	ticks := 0
	for ticks < budget {
		if m.cancelled(ctx) {
			return m.finish(schemas.MonitorCancelled, ticks)
		}
		ticks++

		if status, done := m.tick(ctx, bctx, ticks); done {
			return m.finish(status, ticks)
		}
		if m.cancelled(ctx) {
			return m.finish(schemas.MonitorCancelled, ticks)
		}
		if ticks == budget {
			break
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(m.interval)
		select {
		case <-m.stopCh:
			return m.finish(schemas.MonitorCancelled, ticks)
		case <-ctx.Done():
			return m.finish(schemas.MonitorCancelled, ticks)
		case <-timer.C:
		}
	}
	return m.finish(schemas.MonitorTimeout, ticks)
}

// tick evaluates every open surface once. done is false when polling should go on.
func (m *Monitor) tick(ctx context.Context, bctx browser.BrowsingContext, n int) (schemas.MonitorStatus, bool) {
	pages, err := bctx.Pages(ctx)
	if err != nil {
		switch {
		case errors.Is(err, browser.ErrContextClosed):
			return schemas.MonitorContextClosed, true
		case ctx.Err() != nil:
			return schemas.MonitorCancelled, true
		}
		m.logger.Warn("Could not list pages.", zap.Int("tick", n), zap.Error(err))
		return "", false
	}

	open := pages[:0:0]
	for _, p := range pages {
		if p != nil && !p.IsClosed() {
			open = append(open, p)
		}
	}
	if len(open) == 0 {
		return schemas.MonitorContextClosed, true
	}

	for _, p := range open {
		ok, err := m.detector.IsLoggedIn(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return schemas.MonitorCancelled, true
			}
			// Closed between listing and checking.
			continue
		}
		if ok {
			u, _ := p.URL(ctx)
			m.logger.Info("Detected logged-in state.", zap.Int("tick", n), zap.String("url", u))
			return schemas.MonitorDetected, true
		}
	}

	if n%m.progressEvery == 0 {
		m.logger.Info("Still waiting for login.",
			zap.Duration("elapsed", time.Duration(n)*m.interval), zap.Strings("pages", urls(ctx, open)))
	}
	return "", false
}

func (m *Monitor) cancelled(ctx context.Context) bool {
	return m.stopped.Load() || ctx.Err() != nil
}

func (m *Monitor) finish(status schemas.MonitorStatus, ticks int) schemas.MonitorResult {
	m.logger.Info("Login wait finished.", zap.String("status", string(status)), zap.Int("ticks", ticks))
	return schemas.MonitorResult{Status: status, Ticks: ticks}
}

func urls(ctx context.Context, pages []browser.Surface) []string {
	var out []string
	for _, p := range pages {
		if len(out) == maxLoggedURLs {
			break
		}
		if u, err := p.URL(ctx); err == nil {
			out = append(out, u)
		}
	}
	return out
}
