// Package injector writes validated cookie records into a browsing context and
// checks whether the result is an authenticated session.
package injector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
	"github.com/Ai-QJY/every-thing-api/internal/browser"
	"github.com/Ai-QJY/every-thing-api/internal/config"
	"github.com/Ai-QJY/every-thing-api/internal/cookies"
	"github.com/Ai-QJY/every-thing-api/internal/detector"
)

// Injector orchestrates normalization, bootstrap navigation, per-cookie writes and
// login detection for one batch of cookie records.
type Injector struct {
	logger       *zap.Logger
	targetURL    string
	cfg          config.InjectionConfig
	normalizer   *cookies.Normalizer
	bootstrapper *Bootstrapper
	detector     detector.Detector
}

// New creates an Injector for the configured target application.
func New(cfg config.Interface, d detector.Detector, logger *zap.Logger) *Injector {
	logger = logger.Named("injector")
	return &Injector{
		logger:       logger,
		targetURL:    cfg.Target().URL,
		cfg:          cfg.Injection(),
		normalizer:   cookies.NewNormalizer(),
		bootstrapper: NewBootstrapper(cfg.Injection(), logger),
		detector:     d,
	}
}

// Inject validates records, writes the valid ones into bctx one by one, then loads the
// target on page and runs the detector. Per-record problems are collected in the report;
// an error is returned only when the browsing context itself becomes unusable.
func (i *Injector) Inject(ctx context.Context, bctx browser.BrowsingContext, page browser.Surface, records []schemas.CookieRecord, userAgent string) (*schemas.InjectionReport, error) {
	report := &schemas.InjectionReport{
		Processed:          len(records),
		ValidationFailures: []schemas.ValidationResult{},
		InjectionFailures:  []schemas.InjectionFailure{},
		Recommendations:    []string{},
	}

	// Phase 1: validation.
	var valid []schemas.CookieRecord
	for _, res := range i.normalizer.NormalizeAll(records) {
		if !res.Valid {
			i.logger.Warn("Cookie failed validation.",
				zap.Int("index", res.Index), zap.String("cookie", res.Original.Name), zap.Any("errors", res.Errors))
			report.ValidationFailures = append(report.ValidationFailures, res)
			continue
		}
		for _, w := range res.Warnings {
			i.logger.Debug("Cookie warning.", zap.String("cookie", res.Original.Name), zap.String("warning", w))
		}
		valid = append(valid, *res.Fixed)
	}
	report.Valid = len(valid)
	i.logger.Info("Validated cookies.", zap.Int("processed", report.Processed), zap.Int("valid", report.Valid))

	if len(valid) == 0 {
		report.Failed = report.Processed
		report.Recommendations = i.recommend(report, nil, "")
		return report, nil
	}

	if userAgent != "" {
		if err := page.SetUserAgent(ctx, userAgent); err != nil {
			if unusable(ctx, err) {
				return nil, fmt.Errorf("setting user agent: %w", err)
			}
			i.logger.Warn("Could not apply user agent.", zap.Error(err))
		}
	}

	// Phase 2: make the store accept the origins.
	if err := i.bootstrapper.Prime(ctx, page, cookies.Domains(valid)); err != nil {
		return nil, err
	}

	// Phase 3: sequential writes; one rejection never aborts the batch.
	var injected []schemas.CookieRecord
	for _, c := range valid {
		if err := bctx.AddCookie(ctx, c); err != nil {
			if unusable(ctx, err) {
				return nil, fmt.Errorf("injecting cookie %q: %w", c.Name, err)
			}
			failure := schemas.InjectionFailure{Name: c.Name, Domain: c.Domain, Kind: Classify(err), Message: err.Error()}
			i.logger.Warn("Cookie rejected.", zap.String("cookie", c.Name), zap.String("kind", string(failure.Kind)), zap.Error(err))
			report.InjectionFailures = append(report.InjectionFailures, failure)
			continue
		}
		injected = append(injected, c)
	}
	report.Injected = len(injected)
	report.Failed = report.Processed - report.Injected
	i.logger.Info("Injected cookies.", zap.Int("injected", report.Injected), zap.Int("failed", report.Failed))

	// Phase 4: load the app and give client scripts a moment to react.
	if err := page.Goto(ctx, i.targetURL, browser.LoadNetworkIdle, i.cfg.NavigationTimeout); err != nil {
		if unusable(ctx, err) {
			return nil, fmt.Errorf("navigating to %s: %w", i.targetURL, err)
		}
		i.logger.Warn("Target navigation did not settle.", zap.String("url", i.targetURL), zap.Error(err))
	}
	if err := sleep(ctx, i.cfg.SettleWait); err != nil {
		return nil, err
	}

	finalURL, err := page.URL(ctx)
	if err != nil {
		if unusable(ctx, err) {
			return nil, fmt.Errorf("reading page url: %w", err)
		}
		i.logger.Warn("Could not read page url.", zap.Error(err))
	}
	report.FinalURL = finalURL

	// Phase 5: verdict.
	loggedIn, err := i.detector.IsLoggedIn(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("detecting login state: %w", err)
	}
	report.LoggedIn = loggedIn
	report.Success = report.Injected > 0 && loggedIn
	report.Recommendations = i.recommend(report, injected, finalURL)

	i.logger.Info("Cookie injection finished.",
		zap.Bool("success", report.Success), zap.Bool("logged_in", loggedIn), zap.String("url", finalURL))
	return report, nil
}

func (i *Injector) recommend(report *schemas.InjectionReport, injected []schemas.CookieRecord, finalURL string) []string {
	recs := []string{}
	if n := len(report.ValidationFailures); n > 0 {
		recs = append(recs, fmt.Sprintf("Fix validation errors for %d cookies", n))
	}
	var domainRejected, networkError bool
	for _, f := range report.InjectionFailures {
		switch f.Kind {
		case schemas.InjectionDomainRejected:
			domainRejected = true
		case schemas.InjectionNetworkError:
			networkError = true
		}
	}
	if domainRejected {
		recs = append(recs, "Verify cookie domains match the target site")
	}
	if networkError {
		recs = append(recs, "Check network connectivity")
	}
	if report.Injected == 0 || !report.LoggedIn {
		recs = append(recs, "Extract fresh cookies from a logged-in browser")
	}
	if host := hostOf(finalURL); host != "" && len(injected) > 0 && !anyCovers(injected, host) {
		recs = append(recs, fmt.Sprintf("Domain mismatch: consider extracting cookies from %s", host))
	}
	return recs
}

// Classify maps a driver rejection message to a failure kind.
func Classify(err error) schemas.InjectionFailureKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "net::"):
		return schemas.InjectionNetworkError
	case strings.Contains(msg, "domain"):
		return schemas.InjectionDomainRejected
	default:
		return schemas.InjectionBrowserRejected
	}
}

func anyCovers(records []schemas.CookieRecord, host string) bool {
	for _, r := range records {
		if cookies.Covers(r.Domain, host) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "about" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func unusable(ctx context.Context, err error) bool {
	return errors.Is(err, browser.ErrContextClosed) || ctx.Err() != nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
