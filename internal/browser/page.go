// internal/browser/page.go
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	networkQuietPeriod       = 500 * time.Millisecond
	readyStatePollInterval   = 100 * time.Millisecond
)

// Page is a chromedp tab or popup inside a BrowserContext.
type Page struct {
	id        target.ID
	ctx       context.Context
	cancel    context.CancelFunc
	owner     *BrowserContext
	logger    *zap.Logger
	harvester *Harvester

	mu       sync.Mutex
	isClosed bool
}

var _ Surface = (*Page)(nil)

func newPage(owner *BrowserContext, id target.ID, ctx context.Context, cancel context.CancelFunc) *Page {
	logger := owner.logger.With(zap.String("target_id", string(id)))
	return &Page{
		id:        id,
		ctx:       ctx,
		cancel:    cancel,
		owner:     owner,
		logger:    logger,
		harvester: NewHarvester(ctx, logger),
	}
}

// IsClosed implements Surface.
func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isClosed || p.ctx.Err() != nil
}

func (p *Page) markClosed() {
	p.mu.Lock()
	p.isClosed = true
	p.mu.Unlock()
}

// Context implements Surface.
func (p *Page) Context() BrowsingContext {
	return p.owner
}

// run executes actions on the page, bounded by both the page lifetime and ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.IsClosed() {
		return ErrContextClosed
	}
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && p.ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrContextClosed, err)
	}
	return err
}

// URL implements Surface.
func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

// Goto implements Surface. Navigation errors carry Chrome's net:: error text.
func (p *Page) Goto(ctx context.Context, url string, until LoadState, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p.logger.Debug("Navigating.", zap.String("url", url), zap.String("until", string(until)))
	if err := p.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return p.WaitForLoadState(navCtx, until, timeout)
}

// WaitForLoadState implements Surface.
func (p *Page) WaitForLoadState(ctx context.Context, state LoadState, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch state {
	case LoadDOMContentLoaded, "":
		return p.run(waitCtx, chromedp.WaitReady("body", chromedp.ByQuery))
	case LoadLoad:
		return p.waitReadyStateComplete(waitCtx)
	case LoadNetworkIdle:
		if err := p.waitReadyStateComplete(waitCtx); err != nil {
			return err
		}
		if err := p.harvester.WaitNetworkIdle(waitCtx, networkQuietPeriod); err != nil {
			return fmt.Errorf("network did not settle: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown load state %q", state)
	}
}

func (p *Page) waitReadyStateComplete(ctx context.Context) error {
	ticker := time.NewTicker(readyStatePollInterval)
	defer ticker.Stop()
	for {
		var state string
		if err := p.run(ctx, chromedp.Evaluate(`document.readyState`, &state)); err != nil {
			return err
		}
		if state == "complete" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// HasElement implements Surface. It does not wait for the element to appear.
func (p *Page) HasElement(ctx context.Context, selector string) (bool, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	var found bool
	script := fmt.Sprintf(`document.querySelector(%s) !== null`, quoted)
	if err := p.run(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return false, err
	}
	return found, nil
}

// Texts implements Surface.
func (p *Page) Texts(ctx context.Context, selector string) ([]string, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}
	var texts []string
	script := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%s)).map(e => (e.innerText || e.textContent || "").trim())`,
		quoted,
	)
	if err := p.run(ctx, chromedp.Evaluate(script, &texts)); err != nil {
		return nil, err
	}
	return texts, nil
}

// Fill implements Surface. Keys are sent one by one so client-side frameworks see input events.
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

// Click implements Surface.
func (p *Page) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

// SetUserAgent implements Surface.
func (p *Page) SetUserAgent(ctx context.Context, userAgent string) error {
	return p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return emulation.SetUserAgentOverride(userAgent).Do(c)
	}))
}

// detach releases the chromedp session without waiting on the browser.
func (p *Page) detach() {
	p.markClosed()
	if p.cancel != nil {
		p.cancel()
	}
}

// Close implements Surface.
func (p *Page) Close(ctx context.Context) error {
	if p.IsClosed() {
		return nil
	}
	if p.cancel != nil {
		// Cancelling an attached chromedp context closes its tab.
		p.detach()
		return nil
	}
	// The manager's own first tab is closed through CDP so its context stays alive.
	err := p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return cdppage.Close().Do(c)
	}))
	p.markClosed()
	if err != nil && !errors.Is(err, ErrContextClosed) {
		return fmt.Errorf("failed to close page: %w", err)
	}
	return nil
}
