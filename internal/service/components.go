// File: internal/service/components.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ai-QJY/every-thing-api/internal/browser"
	"github.com/Ai-QJY/every-thing-api/internal/config"
)

const releaseTimeout = 30 * time.Second

// browserSession holds the automation resources one operation acquires.
// release must run on every exit path so no browser process outlives the operation.
type browserSession struct {
	engine browser.Engine
	bctx   browser.BrowsingContext
	page   browser.Surface
	log    *zap.Logger
}

// acquire launches an engine, opens a browsing context and picks its first page.
// Anything acquired before a failure is released before returning.
func acquire(ctx context.Context, launcher browser.Launcher, cfg config.BrowserConfig, logger *zap.Logger) (_ *browserSession, err error) {
	engine, err := launcher.Launch(ctx, cfg)
	if err != nil {
		if errors.Is(err, browser.ErrDriverUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", browser.ErrDriverUnavailable, err)
	}
	s := &browserSession{engine: engine, log: logger}
	defer func() {
		if err != nil {
			s.release()
		}
	}()

	if s.bctx, err = engine.NewContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to open browsing context: %w", err)
	}
	pages, err := s.bctx.Pages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	if len(pages) > 0 {
		s.page = pages[0]
		return s, nil
	}
	if s.page, err = s.bctx.NewPage(ctx); err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return s, nil
}

// release closes the context, then the engine.
func (s *browserSession) release() {
	// Use a separate context so cleanup completes even when the caller's was cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if s.bctx != nil {
		if err := s.bctx.Close(ctx); err != nil && !errors.Is(err, browser.ErrContextClosed) {
			s.log.Warn("Error closing browsing context.", zap.Error(err))
		}
	}
	if s.engine != nil {
		if err := s.engine.Close(ctx); err != nil {
			s.log.Warn("Error closing browser engine.", zap.Error(err))
		} else {
			s.log.Debug("Browser engine closed.")
		}
	}
}

// timedWait waits for wg, giving up after timeout. It reports whether wg finished.
func timedWait(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
