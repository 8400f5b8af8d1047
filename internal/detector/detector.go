// Package detector infers whether a browser surface shows an authenticated session
// of the target application.
package detector

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/Ai-QJY/every-thing-api/internal/browser"
	"github.com/Ai-QJY/every-thing-api/internal/config"
	"github.com/Ai-QJY/every-thing-api/internal/cookies"
)

// Detector classifies a surface as logged in or not.
type Detector interface {
	// IsLoggedIn returns an error only when the surface can no longer be queried.
	// Inconclusive evidence resolves to false.
	IsLoggedIn(ctx context.Context, surface browser.Surface) (bool, error)
}

// Func adapts a plain function to the Detector interface.
type Func func(ctx context.Context, surface browser.Surface) (bool, error)

// IsLoggedIn calls f(ctx, surface).
func (f Func) IsLoggedIn(ctx context.Context, surface browser.Surface) (bool, error) {
	return f(ctx, surface)
}

// DefaultAppSelectors match the chat composer and navigation chrome of the signed-in app.
var DefaultAppSelectors = []string{
	"textarea",
	`[class*="chat"]`,
	`[class*="conversation"]`,
	`[class*="prompt"]`,
	`[role="textbox"]`,
	"nav",
	"aside",
	`[class*="sidebar"]`,
}

// DefaultAuthCookieKeywords are name fragments that suggest an authentication cookie.
var DefaultAuthCookieKeywords = []string{"session", "auth", "token", "sid", "_ga", "ct0", "kdt"}

const (
	signInControls = `button, a, [role="button"]`
	// minTrustedJar is the jar size treated as a weak login signal on a trusted host.
	minTrustedJar = 3
)

var (
	loginURLPattern = regexp.MustCompile(`login|signin|auth/|oauth/`)
	signInPhrases   = []string{"sign in", "log in"}
)

// Heuristic applies an ordered rule set where negative signals win over positive ones,
// since the app renders its chrome around the login form as well.
type Heuristic struct {
	logger       *zap.Logger
	trusted      []string
	appSelector  string
	authKeywords []string
}

var _ Detector = (*Heuristic)(nil)

// NewHeuristic builds a detector for the configured target.
func NewHeuristic(cfg config.TargetConfig, logger *zap.Logger) *Heuristic {
	selectors := cfg.AppSelectors
	if len(selectors) == 0 {
		selectors = DefaultAppSelectors
	}
	keywords := cfg.AuthCookieKeywords
	if len(keywords) == 0 {
		keywords = DefaultAuthCookieKeywords
	}
	trusted := make([]string, 0, len(cfg.TrustedDomains)+1)
	for _, d := range cfg.TrustedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			trusted = append(trusted, d)
		}
	}
	if len(trusted) == 0 && cfg.Host() != "" {
		trusted = append(trusted, cfg.Host())
	}
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}
	return &Heuristic{
		logger:       logger.Named("detector"),
		trusted:      trusted,
		appSelector:  strings.Join(selectors, ", "),
		authKeywords: lowered,
	}
}

// IsLoggedIn evaluates the rules in priority order; the first conclusive rule wins.
func (h *Heuristic) IsLoggedIn(ctx context.Context, surface browser.Surface) (bool, error) {
	if surface == nil || surface.IsClosed() {
		return false, browser.ErrContextClosed
	}

	var inconclusive []string
	note := func(rule string, err error) error {
		if fatal(ctx, err) {
			return err
		}
		inconclusive = append(inconclusive, rule+": "+err.Error())
		return nil
	}

	rawURL, err := surface.URL(ctx)
	if err != nil {
		if ferr := note("url", err); ferr != nil {
			return false, ferr
		}
	}
	lowerURL := strings.ToLower(rawURL)
	trusted := h.isTrusted(hostOf(lowerURL))

	// 1. Login or auth page.
	if loginURLPattern.MatchString(lowerURL) {
		h.logger.Debug("On a login page.", zap.String("url", rawURL))
		return false, nil
	}

	// 2. App interface on a trusted host.
	if trusted {
		found, err := surface.HasElement(ctx, h.appSelector)
		switch {
		case err != nil:
			if ferr := note("app interface", err); ferr != nil {
				return false, ferr
			}
		case found:
			h.logger.Debug("App interface present.", zap.String("url", rawURL))
			return true, nil
		}
	}

	// 3. Visible sign-in control.
	texts, err := surface.Texts(ctx, signInControls)
	if err != nil {
		if ferr := note("sign-in controls", err); ferr != nil {
			return false, ferr
		}
	} else if text, ok := signInText(texts); ok {
		h.logger.Debug("Sign-in control visible.", zap.String("text", text))
		return false, nil
	}

	// 4 and 5. Cookie jar.
	jar, err := surface.Context().Cookies(ctx)
	if err != nil {
		if ferr := note("cookie jar", err); ferr != nil {
			return false, ferr
		}
	} else {
		for _, c := range jar {
			if h.isAuthCookie(c.Name) {
				h.logger.Debug("Auth cookie present.", zap.String("cookie", c.Name))
				return true, nil
			}
		}
		if trusted && len(jar) >= minTrustedJar {
			h.logger.Debug("Populated jar on a trusted host.", zap.Int("cookies", len(jar)))
			return true, nil
		}
	}

	if len(inconclusive) > 0 {
		h.logger.Warn("Login detection ambiguous, treating as not logged in.",
			zap.String("url", rawURL), zap.Strings("reasons", inconclusive))
	}
	return false, nil
}

func (h *Heuristic) isTrusted(host string) bool {
	for _, d := range h.trusted {
		if cookies.Covers(d, host) {
			return true
		}
	}
	return false
}

func (h *Heuristic) isAuthCookie(name string) bool {
	name = strings.ToLower(name)
	for _, k := range h.authKeywords {
		if strings.Contains(name, k) {
			return true
		}
	}
	return false
}

func signInText(texts []string) (string, bool) {
	for _, t := range texts {
		lower := strings.ToLower(strings.Join(strings.Fields(t), " "))
		for _, phrase := range signInPhrases {
			if strings.Contains(lower, phrase) {
				return t, true
			}
		}
	}
	return "", false
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// fatal reports errors that end detection instead of making a rule inconclusive.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, browser.ErrContextClosed) || ctx.Err() != nil
}
