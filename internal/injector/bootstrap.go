package injector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/Ai-QJY/every-thing-api/internal/browser"
	"github.com/Ai-QJY/every-thing-api/internal/config"
	"github.com/Ai-QJY/every-thing-api/internal/cookies"
)

const defaultBootstrapTimeout = 15 * time.Second

// Bootstrapper visits each origin once so the cookie store accepts writes for it.
type Bootstrapper struct {
	logger  *zap.Logger
	limiter *rate.Limiter
	timeout time.Duration
}

// NewBootstrapper creates a Bootstrapper paced by the configured navigation rate.
func NewBootstrapper(cfg config.InjectionConfig, logger *zap.Logger) *Bootstrapper {
	limit := rate.Inf
	if cfg.BootstrapRate > 0 {
		limit = rate.Limit(cfg.BootstrapRate)
	}
	burst := cfg.BootstrapBurst
	if burst < 1 {
		burst = 1
	}
	timeout := cfg.NavigationTimeout
	if timeout <= 0 || timeout > defaultBootstrapTimeout {
		timeout = defaultBootstrapTimeout
	}
	return &Bootstrapper{
		logger:  logger.Named("bootstrap"),
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
	}
}

// Prime navigates page to every registrable domain derived from domains, one at a time,
// waiting only for the DOM to be parsed. An unreachable origin is logged and skipped;
// only a closed page or a cancelled ctx aborts.
func (b *Bootstrapper) Prime(ctx context.Context, page browser.Surface, domains []string) error {
	targets := BootstrapURLs(domains)
	b.logger.Info("Priming cookie store.", zap.Int("origins", len(targets)))

	for _, target := range targets {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		err := page.Goto(ctx, target, browser.LoadDOMContentLoaded, b.timeout)
		switch {
		case err == nil:
			b.logger.Debug("Visited origin.", zap.String("url", target))
		case errors.Is(err, browser.ErrContextClosed) || ctx.Err() != nil:
			return fmt.Errorf("bootstrap navigation to %s: %w", target, err)
		default:
			b.logger.Warn("Bootstrap navigation failed.", zap.String("url", target), zap.Error(err))
		}
	}
	return nil
}

// BootstrapURLs maps cookie domains to the distinct origins to visit, in first-seen order.
func BootstrapURLs(domains []string) []string {
	seen := make(map[string]bool, len(domains))
	var out []string
	for _, d := range domains {
		host := strings.ToLower(cookies.BareDomain(strings.TrimSpace(d)))
		if host == "" {
			continue
		}
		target := originFor(host)
		if seen[target] {
			continue
		}
		seen[target] = true
		out = append(out, target)
	}
	return out
}

func originFor(host string) string {
	if host == "localhost" || strings.HasPrefix(host, "127.0.0.") {
		return "http://" + host + "/"
	}
	if site, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		host = site
	}
	return "https://" + host + "/"
}
