package injector

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
	"github.com/Ai-QJY/every-thing-api/internal/browser"
	"github.com/Ai-QJY/every-thing-api/internal/browser/browsertest"
	"github.com/Ai-QJY/every-thing-api/internal/config"
	"github.com/Ai-QJY/every-thing-api/internal/detector"
)

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.InjectionCfg.SettleWait = 0
	cfg.InjectionCfg.BootstrapRate = 1000
	cfg.InjectionCfg.BootstrapBurst = 10
	return cfg
}

// jarDetector reports logged in once every named cookie is in the jar and the page is on grok.com.
func jarDetector(names ...string) detector.Detector {
	return detector.Func(func(ctx context.Context, s browser.Surface) (bool, error) {
		u, err := s.URL(ctx)
		if err != nil {
			return false, err
		}
		if !strings.HasPrefix(u, "https://grok.com") {
			return false, nil
		}
		jar, err := s.Context().Cookies(ctx)
		if err != nil {
			return false, err
		}
		have := map[string]bool{}
		for _, c := range jar {
			have[c.Name] = true
		}
		for _, n := range names {
			if !have[n] {
				return false, nil
			}
		}
		return true, nil
	})
}

func future(d time.Duration) *float64 {
	return schemas.Float64(float64(time.Now().Add(d).Unix()))
}

func TestInject_EndToEnd(t *testing.T) {
	c := browsertest.NewContext()
	page := c.Page(0)
	inj := New(testConfig(), jarDetector("session_id", "auth_token"), zaptest.NewLogger(t))

	records := []schemas.CookieRecord{
		{Name: "session_id", Value: "s", Domain: ".grok.com", Path: "/", Expires: future(7 * 24 * time.Hour)},
		{Name: "auth_token", Value: "t", Domain: ".grok.com", Path: "/"},
	}
	report, err := inj.Inject(context.Background(), c, page, records, "")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Injected)
	assert.Equal(t, 0, report.Failed)
	assert.True(t, report.LoggedIn)
	assert.True(t, report.Success)
	assert.Equal(t, "https://grok.com", report.FinalURL)
	assert.Empty(t, report.Recommendations)
	assert.Equal(t, []string{"https://grok.com/", "https://grok.com"}, page.Navigations())

	jar, err := c.Cookies(context.Background())
	require.NoError(t, err)
	assert.Len(t, jar, 2)
}

func TestInject_PartialValidity(t *testing.T) {
	c := browsertest.NewContext()
	c.AddCookieFunc = func(r schemas.CookieRecord) error {
		if r.Name == "rejected" {
			return errors.New("Invalid cookie fields: domain mismatch")
		}
		return nil
	}
	page := c.Page(0)
	inj := New(testConfig(), jarDetector("ok"), zaptest.NewLogger(t))

	records := []schemas.CookieRecord{
		{Name: "ok", Value: "1", Domain: "grok.com"},
		{Name: "rejected", Value: "2", Domain: ".grok.com", Path: "/"},
		{Name: "also_ok", Value: "3", Domain: "accounts.x.ai", Path: "/"},
		{Name: "", Value: "4", Domain: ".grok.com"},
		{Name: "stale", Value: "5", Domain: ".grok.com", Expires: schemas.Float64(1000)},
	}
	report, err := inj.Inject(context.Background(), c, page, records, "Mozilla/5.0 test")
	require.NoError(t, err)

	assert.Equal(t, 5, report.Processed)
	assert.Equal(t, 3, report.Valid)
	assert.Equal(t, 2, report.Injected)
	assert.Equal(t, 5-report.Injected, report.Failed)
	require.Len(t, report.ValidationFailures, 2)
	assert.Equal(t, 3, report.ValidationFailures[0].Index)
	assert.Equal(t, 4, report.ValidationFailures[1].Index)
	require.Len(t, report.InjectionFailures, 1)
	assert.Equal(t, schemas.InjectionDomainRejected, report.InjectionFailures[0].Kind)
	assert.Contains(t, report.Recommendations, "Fix validation errors for 2 cookies")
	assert.Contains(t, report.Recommendations, "Verify cookie domains match the target site")
	assert.True(t, report.Success)

	assert.Equal(t, "Mozilla/5.0 test", page.UserAgent())
	assert.Equal(t, []string{"https://grok.com/", "https://x.ai/", "https://grok.com"}, page.Navigations())
}

func TestInject_NothingValid(t *testing.T) {
	c := browsertest.NewContext()
	page := c.Page(0)
	inj := New(testConfig(), jarDetector(), zaptest.NewLogger(t))

	report, err := inj.Inject(context.Background(), c, page, []schemas.CookieRecord{{Name: "x"}}, "")
	require.NoError(t, err)

	assert.Equal(t, 0, report.Injected)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.Success)
	assert.Len(t, report.ValidationFailures, 1)
	assert.Empty(t, page.Navigations())
	assert.Contains(t, report.Recommendations, "Extract fresh cookies from a logged-in browser")
}

func TestInject_DomainMismatch(t *testing.T) {
	c := browsertest.NewContext()
	page := c.Page(0)
	page.GotoFunc = func(p *browsertest.Page, url string) error {
		if url == "https://grok.com" {
			p.SetURL("https://accounts.google.com/signin")
			return nil
		}
		p.SetURL(url)
		return nil
	}
	inj := New(testConfig(), jarDetector("sid"), zaptest.NewLogger(t))

	report, err := inj.Inject(context.Background(), c, page,
		[]schemas.CookieRecord{{Name: "sid", Value: "v", Domain: ".grok.com", Path: "/"}}, "")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Injected)
	assert.False(t, report.LoggedIn)
	assert.False(t, report.Success)
	assert.Contains(t, report.Recommendations, "Domain mismatch: consider extracting cookies from accounts.google.com")
}

func TestInject_ClosedContextIsFatal(t *testing.T) {
	c := browsertest.NewContext()
	c.AddCookieFunc = func(schemas.CookieRecord) error { return browser.ErrContextClosed }
	inj := New(testConfig(), jarDetector(), zaptest.NewLogger(t))

	_, err := inj.Inject(context.Background(), c, c.Page(0),
		[]schemas.CookieRecord{{Name: "sid", Value: "v", Domain: ".grok.com", Path: "/"}}, "")
	assert.ErrorIs(t, err, browser.ErrContextClosed)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, schemas.InjectionNetworkError, Classify(errors.New("net::ERR_CONNECTION_RESET")))
	assert.Equal(t, schemas.InjectionDomainRejected, Classify(errors.New("cookie Domain not allowed")))
	assert.Equal(t, schemas.InjectionBrowserRejected, Classify(errors.New("Sanitizing cookie failed")))
}
