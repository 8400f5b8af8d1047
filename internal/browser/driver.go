// internal/browser/driver.go
package browser

import (
	"context"
	"errors"
	"time"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
	"github.com/Ai-QJY/every-thing-api/internal/config"
)

var (
	// ErrDriverUnavailable is returned when the automation engine cannot be started
	// or has gone away. It aborts the whole session operation.
	ErrDriverUnavailable = errors.New("browser driver unavailable")
	// ErrContextClosed is returned by any call against a browsing context or page
	// that has already been closed, by us or by the user.
	ErrContextClosed = errors.New("browsing context closed")
)

// LoadState is a navigation milestone to wait for.
type LoadState string

const (
	LoadDOMContentLoaded LoadState = "domcontentloaded"
	LoadLoad             LoadState = "load"
	LoadNetworkIdle      LoadState = "networkidle"
)

// Launcher starts automation engines. Implementations exist for chromedp and playwright.
type Launcher interface {
	Launch(ctx context.Context, cfg config.BrowserConfig) (Engine, error)
}

// Engine is a running browser process.
type Engine interface {
	// NewContext opens a browsing context with one blank page. A persistent engine
	// returns a view of its profile's default context instead of an isolated one.
	NewContext(ctx context.Context) (BrowsingContext, error)
	Close(ctx context.Context) error
}

// BrowsingContext is a cookie jar plus the pages that share it.
type BrowsingContext interface {
	ID() string
	// Pages lists the open pages and popups of the context.
	Pages(ctx context.Context) ([]Surface, error)
	NewPage(ctx context.Context) (Surface, error)
	AddCookie(ctx context.Context, cookie schemas.CookieRecord) error
	Cookies(ctx context.Context) ([]schemas.CookieRecord, error)
	// OnNewPage registers a handler for pages opened after registration, e.g. OAuth popups.
	OnNewPage(handler func(Surface))
	Close(ctx context.Context) error
}

// Surface is a single page or popup window.
type Surface interface {
	URL(ctx context.Context) (string, error)
	Goto(ctx context.Context, url string, until LoadState, timeout time.Duration) error
	WaitForLoadState(ctx context.Context, state LoadState, timeout time.Duration) error
	// HasElement reports whether at least one element matches the CSS selector.
	HasElement(ctx context.Context, selector string) (bool, error)
	// Texts returns the trimmed text content of every element matching selector.
	Texts(ctx context.Context, selector string) ([]string, error)
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	SetUserAgent(ctx context.Context, userAgent string) error
	IsClosed() bool
	Context() BrowsingContext
	Close(ctx context.Context) error
}
