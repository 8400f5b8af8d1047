// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/Ai-QJY/every-thing-api/internal/config"
)

const (
	defaultLaunchTimeout = 60 * time.Second
	shutdownGracePeriod  = 15 * time.Second
	disposeTimeout       = 10 * time.Second
)

// ChromedpLauncher starts Chrome through chromedp's exec allocator.
type ChromedpLauncher struct {
	logger *zap.Logger
}

// NewChromedpLauncher returns a Launcher backed by chromedp.
func NewChromedpLauncher(logger *zap.Logger) *ChromedpLauncher {
	return &ChromedpLauncher{logger: logger}
}

// Launch implements Launcher.
func (l *ChromedpLauncher) Launch(ctx context.Context, cfg config.BrowserConfig) (Engine, error) {
	m, err := NewManager(ctx, cfg, l.logger)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Manager owns one Chrome process and the browsing contexts opened in it.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	// Target.createBrowserContext is not safe to interleave with target creation.
	contextCreationLock sync.Mutex

	mu       sync.Mutex
	contexts map[string]*BrowserContext
	closed   bool
}

var _ Engine = (*Manager)(nil)

// NewManager launches the browser and waits until it accepts commands.
// The process outlives ctx; ctx only bounds the start-up.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	logger = logger.Named("browser_manager")

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), DefaultAllocatorOptions(cfg)...)
	sugar := logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	m := &Manager{
		cfg:           cfg,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		contexts:      make(map[string]*BrowserContext),
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// The first Run allocates the browser and binds it to browserCtx, so it must
	// not be given a derived context that gets cancelled.
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(browserCtx, chromedp.ActionFunc(func(c context.Context) error {
			return target.SetDiscoverTargets(true).Do(cdp.WithExecutor(c, chromedp.FromContext(c).Browser))
		}))
	}()

	var err error
	select {
	case err = <-started:
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
		err = fmt.Errorf("browser did not start within %s", timeout)
	}
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: %v", ErrDriverUnavailable, err)
	}

	logger.Info("Browser launched.",
		zap.Bool("headless", cfg.Headless),
		zap.Bool("persistent", cfg.Persistent),
		zap.String("user_data_dir", cfg.UserDataDir),
	)
	return m, nil
}

// controllerCtx addresses browser-level commands (targets, browser contexts).
func (m *Manager) controllerCtx() context.Context {
	c := chromedp.FromContext(m.browserCtx)
	return cdp.WithExecutor(m.browserCtx, c.Browser)
}

// NewContext implements Engine. Persistent engines return their profile's default context
// so cookies written by an interactive login survive on disk.
func (m *Manager) NewContext(ctx context.Context) (BrowsingContext, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrDriverUnavailable
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before creating browser context: %w", err)
	}

	var (
		bc  *BrowserContext
		err error
	)
	if m.cfg.Persistent {
		bc, err = m.defaultContext()
	} else {
		bc, err = m.isolatedContext()
	}
	if err != nil {
		if m.browserCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrDriverUnavailable, err)
		}
		return nil, err
	}

	m.mu.Lock()
	m.contexts[bc.ID()] = bc
	m.mu.Unlock()
	return bc, nil
}

func (m *Manager) isolatedContext() (*BrowserContext, error) {
	m.contextCreationLock.Lock()
	defer m.contextCreationLock.Unlock()

	controller := m.controllerCtx()
	browserContextID, err := target.CreateBrowserContext().Do(controller)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	targetID, err := target.CreateTarget("about:blank").
		WithBrowserContextID(browserContextID).
		Do(controller)
	if err != nil {
		m.bestEffortCleanupBrowserContext(browserContextID)
		return nil, fmt.Errorf("failed to create target: %w", err)
	}

	bc := newContext(m, browserContextID, true)
	if _, err := bc.adopt(targetID); err != nil {
		_ = bc.Close(context.Background())
		return nil, fmt.Errorf("failed to attach initial page: %w", err)
	}
	return bc, nil
}

// defaultContext wraps the profile's default browser context around the initial tab.
func (m *Manager) defaultContext() (*BrowserContext, error) {
	c := chromedp.FromContext(m.browserCtx)
	if c == nil || c.Target == nil {
		return nil, fmt.Errorf("browser has no initial target")
	}
	initialID := c.Target.TargetID

	infos, err := chromedp.Targets(m.browserCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	var browserContextID cdp.BrowserContextID
	for _, info := range infos {
		if info.TargetID == initialID {
			browserContextID = info.BrowserContextID
			break
		}
	}

	bc := newContext(m, browserContextID, false)
	bc.adoptInitial(initialID, m.browserCtx)
	return bc, nil
}

func (m *Manager) bestEffortCleanupBrowserContext(id cdp.BrowserContextID) {
	if m.browserCtx.Err() != nil {
		return
	}
	cleanupCtx, cleanupCancel := context.WithTimeout(m.controllerCtx(), 5*time.Second)
	defer cleanupCancel()
	if err := target.DisposeBrowserContext(id).Do(cleanupCtx); err != nil {
		m.logger.Debug("Failed best-effort cleanup of orphaned browser context.", zap.String("browserContextID", string(id)), zap.Error(err))
	}
}

func (m *Manager) unregister(id string) {
	m.mu.Lock()
	delete(m.contexts, id)
	m.mu.Unlock()
}

// Close implements Engine. It closes every open context and then the browser process.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	open := make([]*BrowserContext, 0, len(m.contexts))
	for _, bc := range m.contexts {
		open = append(open, bc)
	}
	m.mu.Unlock()

	m.logger.Debug("Shutting down browser.", zap.Int("open_contexts", len(open)))
	for _, bc := range open {
		if err := bc.Close(ctx); err != nil {
			m.logger.Warn("Failed to close browsing context during shutdown.", zap.String("context_id", bc.ID()), zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		// Cancelling the browser context closes Chrome gracefully; the allocator
		// cancel then waits for the process to exit.
		m.browserCancel()
		m.allocCancel()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Browser shut down.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser shutdown interrupted: %w", ctx.Err())
	case <-time.After(shutdownGracePeriod):
		return fmt.Errorf("browser did not shut down within %s", shutdownGracePeriod)
	}
}
