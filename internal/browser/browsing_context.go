// internal/browser/browsing_context.go
package browser

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
)

// BrowserContext is a chromedp browsing context: either an isolated
// Target.createBrowserContext or the default context of a persistent profile.
type BrowserContext struct {
	id               string
	manager          *Manager
	logger           *zap.Logger
	browserContextID cdp.BrowserContextID
	isolated         bool

	// attachMu serialises attaching to targets so a popup seen both by the
	// target listener and by Pages is attached once.
	attachMu sync.Mutex

	mu       sync.Mutex
	pages    map[target.ID]*Page
	order    []target.ID
	handlers []func(Surface)
	isClosed bool
}

var _ BrowsingContext = (*BrowserContext)(nil)

func newContext(m *Manager, browserContextID cdp.BrowserContextID, isolated bool) *BrowserContext {
	id := uuid.New().String()
	bc := &BrowserContext{
		id:               id,
		manager:          m,
		logger:           m.logger.With(zap.String("context_id", id), zap.String("browserContextID", string(browserContextID))),
		browserContextID: browserContextID,
		isolated:         isolated,
		pages:            make(map[target.ID]*Page),
	}
	chromedp.ListenBrowser(m.browserCtx, bc.targetListener)
	return bc
}

// ID implements BrowsingContext.
func (bc *BrowserContext) ID() string {
	return bc.id
}

func (bc *BrowserContext) closed() bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.isClosed || bc.manager.browserCtx.Err() != nil
}

// targetListener runs on chromedp's event loop and must not issue commands itself.
func (bc *BrowserContext) targetListener(ev interface{}) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		info := e.TargetInfo
		if info == nil || info.Type != "page" || info.BrowserContextID != bc.browserContextID {
			return
		}
		go bc.handleNewTarget(info.TargetID)
	case *target.EventTargetDestroyed:
		bc.mu.Lock()
		p, ok := bc.pages[e.TargetID]
		bc.mu.Unlock()
		if ok {
			p.markClosed()
		}
	}
}

func (bc *BrowserContext) handleNewTarget(id target.ID) {
	if bc.closed() {
		return
	}
	p, err := bc.adopt(id)
	if err != nil {
		bc.logger.Debug("Could not attach to new page.", zap.String("target_id", string(id)), zap.Error(err))
		return
	}
	bc.logger.Info("New page opened in browsing context.", zap.String("target_id", string(id)))

	bc.mu.Lock()
	handlers := append([]func(Surface){}, bc.handlers...)
	bc.mu.Unlock()
	for _, h := range handlers {
		h(p)
	}
}

// adopt attaches a chromedp session to an existing page target.
func (bc *BrowserContext) adopt(id target.ID) (*Page, error) {
	bc.attachMu.Lock()
	defer bc.attachMu.Unlock()

	bc.mu.Lock()
	if p, ok := bc.pages[id]; ok {
		bc.mu.Unlock()
		return p, nil
	}
	bc.mu.Unlock()

	pageCtx, cancel := chromedp.NewContext(bc.manager.browserCtx, chromedp.WithTargetID(id))
	// The first Run attaches to the target; it must run on pageCtx itself.
	if err := chromedp.Run(pageCtx, network.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to attach to target %s: %w", id, err)
	}

	p := newPage(bc, id, pageCtx, cancel)
	bc.track(p)
	return p, nil
}

// adoptInitial wraps the manager's own first tab. Its lifetime belongs to the manager.
func (bc *BrowserContext) adoptInitial(id target.ID, browserCtx context.Context) {
	bc.attachMu.Lock()
	defer bc.attachMu.Unlock()

	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		bc.logger.Debug("Could not enable network events on initial page.", zap.Error(err))
	}
	bc.track(newPage(bc, id, browserCtx, nil))
}

func (bc *BrowserContext) track(p *Page) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.pages[p.id] = p
	bc.order = append(bc.order, p.id)
}

// Pages implements BrowsingContext. The target list is re-read every call so popups
// opened by the site are picked up even without an OnNewPage handler.
func (bc *BrowserContext) Pages(ctx context.Context) ([]Surface, error) {
	if bc.closed() {
		return nil, ErrContextClosed
	}

	listCtx, cancel := CombineContext(bc.manager.browserCtx, ctx)
	defer cancel()
	infos, err := chromedp.Targets(listCtx)
	if err != nil {
		if bc.closed() {
			return nil, ErrContextClosed
		}
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	live := make(map[target.ID]bool, len(infos))
	for _, info := range infos {
		if info.Type != "page" || info.BrowserContextID != bc.browserContextID {
			continue
		}
		live[info.TargetID] = true
		if _, err := bc.adopt(info.TargetID); err != nil {
			bc.logger.Debug("Skipping page that could not be attached.", zap.String("target_id", string(info.TargetID)), zap.Error(err))
		}
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()
	surfaces := make([]Surface, 0, len(bc.order))
	kept := bc.order[:0]
	for _, id := range bc.order {
		p := bc.pages[id]
		if !live[id] {
			p.markClosed()
			delete(bc.pages, id)
			continue
		}
		kept = append(kept, id)
		if !p.IsClosed() {
			surfaces = append(surfaces, p)
		}
	}
	bc.order = kept
	return surfaces, nil
}

// NewPage implements BrowsingContext.
func (bc *BrowserContext) NewPage(ctx context.Context) (Surface, error) {
	if bc.closed() {
		return nil, ErrContextClosed
	}
	create := target.CreateTarget("about:blank")
	if bc.isolated {
		create = create.WithBrowserContextID(bc.browserContextID)
	}
	controller, cancel := CombineContext(bc.manager.controllerCtx(), ctx)
	defer cancel()
	id, err := create.Do(controller)
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return bc.adopt(id)
}

// primaryPage is the oldest page still open, used to address page-scoped commands.
func (bc *BrowserContext) primaryPage() (*Page, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.isClosed {
		return nil, ErrContextClosed
	}
	for _, id := range bc.order {
		if p := bc.pages[id]; !p.IsClosed() {
			return p, nil
		}
	}
	return nil, ErrContextClosed
}

// AddCookie implements BrowsingContext. Network.setCookie on a page writes into
// that page's browser context, so the isolated jar is respected.
func (bc *BrowserContext) AddCookie(ctx context.Context, cookie schemas.CookieRecord) error {
	p, err := bc.primaryPage()
	if err != nil {
		return err
	}
	return p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		params := network.SetCookie(cookie.Name, cookie.Value).
			WithDomain(cookie.Domain).
			WithPath(cookie.Path).
			WithSecure(cookie.Secure.Value).
			WithHTTPOnly(cookie.HTTPOnly.Value)
		if ss, ok := toCDPSameSite(cookie.SameSite); ok {
			params = params.WithSameSite(ss)
		}
		if cookie.Expires != nil && *cookie.Expires > 0 {
			params = params.WithExpires(toEpoch(*cookie.Expires))
		}
		return params.Do(c)
	}))
}

// Cookies implements BrowsingContext.
func (bc *BrowserContext) Cookies(ctx context.Context) ([]schemas.CookieRecord, error) {
	p, err := bc.primaryPage()
	if err != nil {
		return nil, err
	}
	var cookies []*network.Cookie
	err = p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		getCookies := storage.GetCookies()
		if bc.isolated {
			getCookies = getCookies.WithBrowserContextID(bc.browserContextID)
		}
		cookies, err = getCookies.Do(cdp.WithExecutor(c, chromedp.FromContext(c).Browser))
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	records := make([]schemas.CookieRecord, 0, len(cookies))
	for _, c := range cookies {
		records = append(records, fromCDPCookie(c))
	}
	return records, nil
}

// OnNewPage implements BrowsingContext.
func (bc *BrowserContext) OnNewPage(handler func(Surface)) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.handlers = append(bc.handlers, handler)
}

// Close implements BrowsingContext. Isolated contexts are disposed, which also
// closes their pages; the default context of a persistent profile only loses the
// pages this wrapper attached.
func (bc *BrowserContext) Close(ctx context.Context) error {
	bc.mu.Lock()
	if bc.isClosed {
		bc.mu.Unlock()
		return nil
	}
	bc.isClosed = true
	pages := make([]*Page, 0, len(bc.pages))
	for _, p := range bc.pages {
		pages = append(pages, p)
	}
	bc.mu.Unlock()

	bc.logger.Debug("Closing browsing context.", zap.Int("pages", len(pages)))
	defer bc.manager.unregister(bc.id)

	for _, p := range pages {
		p.detach()
	}

	if !bc.isolated || bc.manager.browserCtx.Err() != nil {
		return nil
	}
	timeoutCtx, cancelTimeout := context.WithTimeout(bc.manager.controllerCtx(), disposeTimeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()
	if err := target.DisposeBrowserContext(bc.browserContextID).Do(timeoutCtx); err != nil {
		return fmt.Errorf("failed to dispose browser context %s: %w", bc.browserContextID, err)
	}
	bc.logger.Debug("Disposed browser context.")
	return nil
}

// -- Cookie conversion --

func toCDPSameSite(s schemas.CookieSameSite) (network.CookieSameSite, bool) {
	switch s {
	case schemas.CookieSameSiteStrict:
		return network.CookieSameSiteStrict, true
	case schemas.CookieSameSiteLax:
		return network.CookieSameSiteLax, true
	case schemas.CookieSameSiteNone:
		return network.CookieSameSiteNone, true
	}
	return "", false
}

func toEpoch(seconds float64) *cdp.TimeSinceEpoch {
	whole, frac := math.Modf(seconds)
	t := cdp.TimeSinceEpoch(time.Unix(int64(whole), int64(frac*float64(time.Second))))
	return &t
}

func fromCDPCookie(c *network.Cookie) schemas.CookieRecord {
	r := schemas.CookieRecord{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		HTTPOnly: schemas.Bool(c.HTTPOnly),
		Secure:   schemas.Bool(c.Secure),
	}
	if !c.Session && c.Expires > 0 {
		r.Expires = schemas.Float64(c.Expires)
	}
	switch c.SameSite {
	case network.CookieSameSiteStrict:
		r.SameSite = schemas.CookieSameSiteStrict
	case network.CookieSameSiteLax:
		r.SameSite = schemas.CookieSameSiteLax
	case network.CookieSameSiteNone:
		r.SameSite = schemas.CookieSameSiteNone
	}
	return r
}
