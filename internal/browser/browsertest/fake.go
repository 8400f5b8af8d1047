// Package browsertest provides in-memory browsing contexts and pages for tests
// that exercise code written against the browser driver interfaces.
package browsertest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
	"github.com/Ai-QJY/every-thing-api/internal/browser"
	"github.com/Ai-QJY/every-thing-api/internal/config"
)

// Context is a fake browser.BrowsingContext with an in-memory cookie jar.
type Context struct {
	mu       sync.Mutex
	id       string
	pages    []*Page
	cookies  []schemas.CookieRecord
	handlers []func(browser.Surface)
	closed   bool

	// AddCookieFunc, when set, can reject a cookie before it reaches the jar.
	AddCookieFunc func(schemas.CookieRecord) error
	// PagesErr is returned by Pages when set.
	PagesErr error
}

var _ browser.BrowsingContext = (*Context)(nil)

// NewContext returns a context holding one blank page.
func NewContext() *Context {
	c := &Context{id: uuid.New().String()}
	c.pages = append(c.pages, newPage(c, "about:blank"))
	return c
}

// ID implements browser.BrowsingContext.
func (c *Context) ID() string { return c.id }

// Page returns the i-th page ever opened, closed or not.
func (c *Context) Page(i int) *Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pages[i]
}

// Pages implements browser.BrowsingContext.
func (c *Context) Pages(ctx context.Context) ([]browser.Surface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, browser.ErrContextClosed
	}
	if c.PagesErr != nil {
		return nil, c.PagesErr
	}
	var out []browser.Surface
	for _, p := range c.pages {
		if !p.IsClosed() {
			out = append(out, p)
		}
	}
	return out, nil
}

// NewPage implements browser.BrowsingContext.
func (c *Context) NewPage(ctx context.Context) (browser.Surface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, browser.ErrContextClosed
	}
	p := newPage(c, "about:blank")
	c.pages = append(c.pages, p)
	return p, nil
}

// OpenPopup simulates the site opening a new window and notifies OnNewPage handlers.
func (c *Context) OpenPopup(url string) *Page {
	c.mu.Lock()
	p := newPage(c, url)
	c.pages = append(c.pages, p)
	handlers := append([]func(browser.Surface){}, c.handlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(p)
	}
	return p
}

// AddCookie implements browser.BrowsingContext. A cookie with the same name,
// domain and path replaces the existing one.
func (c *Context) AddCookie(ctx context.Context, cookie schemas.CookieRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return browser.ErrContextClosed
	}
	if c.AddCookieFunc != nil {
		if err := c.AddCookieFunc(cookie); err != nil {
			return err
		}
	}
	for i, existing := range c.cookies {
		if existing.Name == cookie.Name && existing.Domain == cookie.Domain && existing.Path == cookie.Path {
			c.cookies[i] = cookie
			return nil
		}
	}
	c.cookies = append(c.cookies, cookie)
	return nil
}

// Cookies implements browser.BrowsingContext.
func (c *Context) Cookies(ctx context.Context) ([]schemas.CookieRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, browser.ErrContextClosed
	}
	return append([]schemas.CookieRecord(nil), c.cookies...), nil
}

// OnNewPage implements browser.BrowsingContext.
func (c *Context) OnNewPage(handler func(browser.Surface)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Close implements browser.BrowsingContext.
func (c *Context) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Page is a fake browser.Surface. Elements and texts are keyed by selector.
type Page struct {
	mu         sync.Mutex
	owner      *Context
	url        string
	elements   map[string]bool
	texts      map[string][]string
	userAgent  string
	filled     map[string]string
	clicked    []string
	navigated  []string
	closed     bool
	elementErr error

	// GotoFunc, when set, runs instead of the default navigation, which only records
	// the URL. It may call SetURL or SetElement to emulate what the site renders.
	GotoFunc func(p *Page, url string) error
	// ClickFunc, when set, runs after a click is recorded.
	ClickFunc func(p *Page, selector string) error
}

var _ browser.Surface = (*Page)(nil)

func newPage(owner *Context, url string) *Page {
	return &Page{
		owner:    owner,
		url:      url,
		elements: make(map[string]bool),
		texts:    make(map[string][]string),
		filled:   make(map[string]string),
	}
}

// SetURL changes the current URL without recording a navigation.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

// SetElement marks selector as present or absent.
func (p *Page) SetElement(selector string, present bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[selector] = present
}

// SetTexts sets the texts returned for selector.
func (p *Page) SetTexts(selector string, texts ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts[selector] = texts
}

// SetElementError makes every DOM query fail with err.
func (p *Page) SetElementError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elementErr = err
}

// Navigations returns every URL passed to Goto.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigated...)
}

// UserAgent returns the last user agent set on the page.
func (p *Page) UserAgent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userAgent
}

// Filled returns the value typed into selector.
func (p *Page) Filled(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filled[selector]
}

// Clicked returns the selectors clicked, in order.
func (p *Page) Clicked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicked...)
}

// URL implements browser.Surface.
func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", browser.ErrContextClosed
	}
	return p.url, nil
}

// Goto implements browser.Surface.
func (p *Page) Goto(ctx context.Context, url string, until browser.LoadState, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return browser.ErrContextClosed
	}
	p.navigated = append(p.navigated, url)
	fn := p.GotoFunc
	if fn == nil {
		p.url = url
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(p, url)
	}
	return nil
}

// WaitForLoadState implements browser.Surface.
func (p *Page) WaitForLoadState(ctx context.Context, state browser.LoadState, timeout time.Duration) error {
	if p.IsClosed() {
		return browser.ErrContextClosed
	}
	return ctx.Err()
}

// HasElement implements browser.Surface.
func (p *Page) HasElement(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, browser.ErrContextClosed
	}
	if p.elementErr != nil {
		return false, p.elementErr
	}
	return p.elements[selector], nil
}

// Texts implements browser.Surface.
func (p *Page) Texts(ctx context.Context, selector string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, browser.ErrContextClosed
	}
	if p.elementErr != nil {
		return nil, p.elementErr
	}
	return append([]string(nil), p.texts[selector]...), nil
}

// Fill implements browser.Surface.
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrContextClosed
	}
	p.filled[selector] = value
	return nil
}

// Click implements browser.Surface.
func (p *Page) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return browser.ErrContextClosed
	}
	p.clicked = append(p.clicked, selector)
	fn := p.ClickFunc
	p.mu.Unlock()
	if fn != nil {
		return fn(p, selector)
	}
	return nil
}

// SetUserAgent implements browser.Surface.
func (p *Page) SetUserAgent(ctx context.Context, userAgent string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userAgent = userAgent
	return nil
}

// IsClosed implements browser.Surface.
func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Context implements browser.Surface.
func (p *Page) Context() browser.BrowsingContext { return p.owner }

// Close implements browser.Surface.
func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Engine is a fake browser.Engine handing out Context values.
type Engine struct {
	mu       sync.Mutex
	contexts []*Context
	closed   bool

	// NewContextFunc, when set, builds the contexts handed out.
	NewContextFunc func() *Context
}

var _ browser.Engine = (*Engine)(nil)

// NewContext implements browser.Engine.
func (e *Engine) NewContext(ctx context.Context) (browser.BrowsingContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, browser.ErrDriverUnavailable
	}
	c := NewContext()
	if e.NewContextFunc != nil {
		c = e.NewContextFunc()
	}
	e.contexts = append(e.contexts, c)
	return c, nil
}

// Close implements browser.Engine.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Contexts returns every context handed out so far.
func (e *Engine) Contexts() []*Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Context(nil), e.contexts...)
}

// Launcher is a fake browser.Launcher.
type Launcher struct {
	mu       sync.Mutex
	launches []config.BrowserConfig

	// Engine is returned by every launch; a fresh Engine is created when nil.
	Engine *Engine
	// Err makes Launch fail.
	Err error
}

var _ browser.Launcher = (*Launcher)(nil)

// Launch implements browser.Launcher.
func (l *Launcher) Launch(ctx context.Context, cfg config.BrowserConfig) (browser.Engine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches = append(l.launches, cfg)
	if l.Err != nil {
		return nil, l.Err
	}
	if l.Engine == nil {
		return &Engine{}, nil
	}
	return l.Engine, nil
}

// Launches returns the configurations passed to Launch.
func (l *Launcher) Launches() []config.BrowserConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]config.BrowserConfig(nil), l.launches...)
}
