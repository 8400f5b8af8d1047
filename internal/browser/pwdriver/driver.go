// Package pwdriver implements the browser driver interfaces on top of playwright-go.
package pwdriver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
	"github.com/Ai-QJY/every-thing-api/internal/browser"
	"github.com/Ai-QJY/every-thing-api/internal/config"
)

const playwrightInstallTimeout = 5 * time.Minute

// Launcher starts Chromium through the playwright driver.
type Launcher struct {
	logger *zap.Logger
	// Install downloads the browser binaries before the first launch.
	Install bool
}

// NewLauncher returns a playwright-backed browser.Launcher.
func NewLauncher(logger *zap.Logger, install bool) *Launcher {
	return &Launcher{logger: logger.Named("playwright"), Install: install}
}

// Launch implements browser.Launcher.
func (l *Launcher) Launch(ctx context.Context, cfg config.BrowserConfig) (browser.Engine, error) {
	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if l.Install {
		if err := ensureInstallation(ctx, opts); err != nil {
			return nil, fmt.Errorf("%w: %v", browser.ErrDriverUnavailable, err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to start playwright driver: %v", browser.ErrDriverUnavailable, err)
	}

	e := &Engine{pw: pw, cfg: cfg, logger: l.logger, contexts: make(map[string]*Context)}
	timeout := millis(cfg.Timeout)

	if cfg.Persistent && cfg.UserDataDir != "" {
		persistent, err := pw.Chromium.LaunchPersistentContext(cfg.UserDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
			Headless:          playwright.Bool(cfg.Headless),
			Args:              launchArgs(cfg),
			IgnoreHttpsErrors: playwright.Bool(cfg.IgnoreTLSErrors),
			UserAgent:         optionalString(cfg.UserAgent),
			Viewport:          viewport(cfg),
			Timeout:           timeout,
		})
		if err != nil {
			_ = pw.Stop()
			return nil, fmt.Errorf("%w: failed to launch persistent context: %v", browser.ErrDriverUnavailable, err)
		}
		e.persistent = persistent
	} else {
		b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(cfg.Headless),
			Args:     launchArgs(cfg),
			Timeout:  timeout,
		})
		if err != nil {
			_ = pw.Stop()
			return nil, fmt.Errorf("%w: failed to launch browser instance: %v", browser.ErrDriverUnavailable, err)
		}
		e.browser = b
	}

	l.logger.Info("Playwright browser launched.", zap.Bool("headless", cfg.Headless), zap.Bool("persistent", e.persistent != nil))
	return e, nil
}

func ensureInstallation(ctx context.Context, opts *playwright.RunOptions) error {
	installCtx, cancel := context.WithTimeout(ctx, playwrightInstallTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- playwright.Install(opts) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to install playwright browsers: %w", err)
		}
		return nil
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

func launchArgs(cfg config.BrowserConfig) []string {
	args := []string{"--disable-blink-features=AutomationControlled"}
	for _, a := range cfg.Args {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if !strings.HasPrefix(a, "--") {
			a = "--" + a
		}
		args = append(args, a)
	}
	return args
}

func viewport(cfg config.BrowserConfig) *playwright.Size {
	if cfg.Viewport.Width <= 0 || cfg.Viewport.Height <= 0 {
		return nil
	}
	return &playwright.Size{Width: cfg.Viewport.Width, Height: cfg.Viewport.Height}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return playwright.String(s)
}

func millis(d time.Duration) *float64 {
	if d <= 0 {
		return nil
	}
	return playwright.Float(float64(d.Milliseconds()))
}

// translate maps playwright's closed-target errors onto browser.ErrContextClosed.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTargetClosed) {
		return fmt.Errorf("%w: %v", browser.ErrContextClosed, err)
	}
	return err
}

// Engine is a running playwright browser, or a persistent context standing in for one.
type Engine struct {
	pw         *playwright.Playwright
	browser    playwright.Browser
	persistent playwright.BrowserContext
	cfg        config.BrowserConfig
	logger     *zap.Logger

	mu       sync.Mutex
	contexts map[string]*Context
	closed   bool
}

var _ browser.Engine = (*Engine)(nil)

// NewContext implements browser.Engine.
func (e *Engine) NewContext(ctx context.Context) (browser.BrowsingContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, browser.ErrDriverUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		pwCtx playwright.BrowserContext
		owned bool
	)
	if e.persistent != nil {
		pwCtx = e.persistent
	} else {
		var err error
		pwCtx, err = e.browser.NewContext(playwright.BrowserNewContextOptions{
			IgnoreHttpsErrors: playwright.Bool(e.cfg.IgnoreTLSErrors),
			UserAgent:         optionalString(e.cfg.UserAgent),
			Viewport:          viewport(e.cfg),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create browser context: %w", translate(err))
		}
		owned = true
	}

	c := newContext(pwCtx, owned, e.logger)
	if len(pwCtx.Pages()) == 0 {
		if _, err := pwCtx.NewPage(); err != nil {
			if owned {
				_ = pwCtx.Close()
			}
			return nil, fmt.Errorf("failed to open initial page: %w", translate(err))
		}
	}
	e.contexts[c.id] = c
	return c, nil
}

// Close implements browser.Engine.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	contexts := make([]*Context, 0, len(e.contexts))
	for _, c := range e.contexts {
		contexts = append(contexts, c)
	}
	e.mu.Unlock()

	var errs []error
	for _, c := range contexts {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if e.persistent != nil {
		if err := e.persistent.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing persistent context: %w", err))
		}
	}
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing browser: %w", err))
		}
	}
	if err := e.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping playwright: %w", err))
	}
	e.logger.Info("Playwright browser shut down.")
	return errors.Join(errs...)
}

// Context adapts a playwright.BrowserContext.
type Context struct {
	id     string
	pwCtx  playwright.BrowserContext
	owned  bool
	logger *zap.Logger

	mu       sync.Mutex
	pages    map[playwright.Page]*Page
	isClosed bool
}

var _ browser.BrowsingContext = (*Context)(nil)

func newContext(pwCtx playwright.BrowserContext, owned bool, logger *zap.Logger) *Context {
	id := uuid.New().String()
	return &Context{
		id:     id,
		pwCtx:  pwCtx,
		owned:  owned,
		logger: logger.With(zap.String("context_id", id)),
		pages:  make(map[playwright.Page]*Page),
	}
}

func (c *Context) wrap(p playwright.Page) *Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.pages[p]; ok {
		return w
	}
	w := &Page{page: p, owner: c}
	c.pages[p] = w
	return w
}

func (c *Context) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isClosed
}

// ID implements browser.BrowsingContext.
func (c *Context) ID() string { return c.id }

// Pages implements browser.BrowsingContext.
func (c *Context) Pages(ctx context.Context) ([]browser.Surface, error) {
	if c.closed() {
		return nil, browser.ErrContextClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var surfaces []browser.Surface
	for _, p := range c.pwCtx.Pages() {
		if p.IsClosed() {
			continue
		}
		surfaces = append(surfaces, c.wrap(p))
	}
	return surfaces, nil
}

// NewPage implements browser.BrowsingContext.
func (c *Context) NewPage(ctx context.Context) (browser.Surface, error) {
	if c.closed() {
		return nil, browser.ErrContextClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := c.pwCtx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", translate(err))
	}
	return c.wrap(p), nil
}

// AddCookie implements browser.BrowsingContext.
func (c *Context) AddCookie(ctx context.Context, cookie schemas.CookieRecord) error {
	if c.closed() {
		return browser.ErrContextClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	oc := playwright.OptionalCookie{
		Name:     cookie.Name,
		Value:    cookie.Value,
		Domain:   playwright.String(cookie.Domain),
		Path:     playwright.String(cookie.Path),
		HttpOnly: playwright.Bool(cookie.HTTPOnly.Value),
		Secure:   playwright.Bool(cookie.Secure.Value),
	}
	if cookie.Expires != nil && *cookie.Expires > 0 {
		oc.Expires = playwright.Float(*cookie.Expires)
	}
	if cookie.SameSite != "" {
		ss := playwright.SameSiteAttribute(cookie.SameSite)
		oc.SameSite = &ss
	}
	return translate(c.pwCtx.AddCookies([]playwright.OptionalCookie{oc}))
}

// Cookies implements browser.BrowsingContext.
func (c *Context) Cookies(ctx context.Context) ([]schemas.CookieRecord, error) {
	if c.closed() {
		return nil, browser.ErrContextClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cookies, err := c.pwCtx.Cookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", translate(err))
	}
	records := make([]schemas.CookieRecord, 0, len(cookies))
	for _, ck := range cookies {
		r := schemas.CookieRecord{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			HTTPOnly: schemas.Bool(ck.HttpOnly),
			Secure:   schemas.Bool(ck.Secure),
		}
		if ck.Expires > 0 {
			r.Expires = schemas.Float64(ck.Expires)
		}
		if ck.SameSite != nil {
			r.SameSite = schemas.CookieSameSite(*ck.SameSite)
		}
		records = append(records, r)
	}
	return records, nil
}

// OnNewPage implements browser.BrowsingContext.
func (c *Context) OnNewPage(handler func(browser.Surface)) {
	c.pwCtx.OnPage(func(p playwright.Page) {
		if c.closed() {
			return
		}
		c.logger.Info("New page opened in browsing context.", zap.String("url", p.URL()))
		handler(c.wrap(p))
	})
}

// Close implements browser.BrowsingContext. The context of a persistent profile is
// closed by the engine, which flushes the profile to disk.
func (c *Context) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return nil
	}
	c.isClosed = true
	c.mu.Unlock()

	if !c.owned {
		return nil
	}
	if err := c.pwCtx.Close(); err != nil && !errors.Is(err, playwright.ErrTargetClosed) {
		return fmt.Errorf("failed to close browser context: %w", err)
	}
	return nil
}

// Page adapts a playwright.Page.
type Page struct {
	page  playwright.Page
	owner *Context
}

var _ browser.Surface = (*Page)(nil)

func (p *Page) check(ctx context.Context) error {
	if p.IsClosed() {
		return browser.ErrContextClosed
	}
	return ctx.Err()
}

// URL implements browser.Surface.
func (p *Page) URL(ctx context.Context) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	return p.page.URL(), nil
}

// Goto implements browser.Surface.
func (p *Page) Goto(ctx context.Context, url string, until browser.LoadState, timeout time.Duration) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	opts := playwright.PageGotoOptions{Timeout: millis(timeout)}
	if until != "" {
		waitUntil := playwright.WaitUntilState(until)
		opts.WaitUntil = &waitUntil
	}
	if _, err := p.page.Goto(url, opts); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, translate(err))
	}
	return nil
}

// WaitForLoadState implements browser.Surface.
func (p *Page) WaitForLoadState(ctx context.Context, state browser.LoadState, timeout time.Duration) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	opts := playwright.PageWaitForLoadStateOptions{Timeout: millis(timeout)}
	if state != "" {
		s := playwright.LoadState(state)
		opts.State = &s
	}
	return translate(p.page.WaitForLoadState(opts))
}

// HasElement implements browser.Surface.
func (p *Page) HasElement(ctx context.Context, selector string) (bool, error) {
	if err := p.check(ctx); err != nil {
		return false, err
	}
	n, err := p.page.Locator(selector).Count()
	if err != nil {
		return false, translate(err)
	}
	return n > 0, nil
}

// Texts implements browser.Surface.
func (p *Page) Texts(ctx context.Context, selector string) ([]string, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	texts, err := p.page.Locator(selector).AllInnerTexts()
	if err != nil {
		return nil, translate(err)
	}
	for i := range texts {
		texts[i] = strings.TrimSpace(texts[i])
	}
	return texts, nil
}

// Fill implements browser.Surface.
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	return translate(p.page.Fill(selector, value))
}

// Click implements browser.Surface.
func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	return translate(p.page.Click(selector))
}

// SetUserAgent implements browser.Surface. Playwright fixes the user agent per
// context, so the page sends it as a header override instead.
func (p *Page) SetUserAgent(ctx context.Context, userAgent string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	return translate(p.page.SetExtraHTTPHeaders(map[string]string{"User-Agent": userAgent}))
}

// IsClosed implements browser.Surface.
func (p *Page) IsClosed() bool {
	return p.owner.closed() || p.page.IsClosed()
}

// Context implements browser.Surface.
func (p *Page) Context() browser.BrowsingContext {
	return p.owner
}

// Close implements browser.Surface.
func (p *Page) Close(ctx context.Context) error {
	if p.page.IsClosed() {
		return nil
	}
	if err := p.page.Close(); err != nil && !errors.Is(err, playwright.ErrTargetClosed) {
		return fmt.Errorf("failed to close page: %w", err)
	}
	return nil
}
