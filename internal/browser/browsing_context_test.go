// internal/browser/browsing_context_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
)

func TestToEpoch(t *testing.T) {
	ts := toEpoch(1750000000.5)
	require.NotNil(t, ts)
	got := time.Time(*ts)
	assert.Equal(t, int64(1750000000), got.Unix())
	assert.Equal(t, 500*time.Millisecond, time.Duration(got.Nanosecond()))
}

func TestFromCDPCookie(t *testing.T) {
	t.Run("Persistent cookie", func(t *testing.T) {
		c := &network.Cookie{
			Name:     "session_id",
			Value:    "abc",
			Domain:   ".grok.com",
			Path:     "/",
			Expires:  1750000000,
			HTTPOnly: true,
			Secure:   true,
			SameSite: network.CookieSameSiteLax,
		}
		r := fromCDPCookie(c)
		assert.Equal(t, "session_id", r.Name)
		assert.Equal(t, ".grok.com", r.Domain)
		require.NotNil(t, r.Expires)
		assert.Equal(t, 1750000000.0, *r.Expires)
		assert.True(t, r.HTTPOnly.Value)
		assert.True(t, r.Secure.Value)
		assert.Equal(t, schemas.CookieSameSiteLax, r.SameSite)
	})

	t.Run("Session cookie", func(t *testing.T) {
		r := fromCDPCookie(&network.Cookie{Name: "auth_token", Domain: ".grok.com", Expires: -1, Session: true})
		assert.Nil(t, r.Expires)
		assert.Empty(t, r.SameSite)
	})
}

func TestToCDPSameSite(t *testing.T) {
	ss, ok := toCDPSameSite(schemas.CookieSameSiteNone)
	assert.True(t, ok)
	assert.Equal(t, network.CookieSameSiteNone, ss)

	_, ok = toCDPSameSite("")
	assert.False(t, ok, "absent sameSite is not sent")
}

func TestCombineContext(t *testing.T) {
	t.Run("Secondary cancellation propagates", func(t *testing.T) {
		primary, cancelPrimary := context.WithCancel(context.Background())
		defer cancelPrimary()
		secondary, cancelSecondary := context.WithCancel(context.Background())

		combined, cancel := CombineContext(primary, secondary)
		defer cancel()
		cancelSecondary()

		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context was not cancelled")
		}
		assert.NoError(t, primary.Err())
	})

	t.Run("Values come from the primary", func(t *testing.T) {
		type key struct{}
		primary := context.WithValue(context.Background(), key{}, "target")
		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()
		assert.Equal(t, "target", combined.Value(key{}))
	})
}

func TestHarvesterWaitNetworkIdle(t *testing.T) {
	h := &Harvester{
		logger:           zaptest.NewLogger(t),
		inflightRequests: make(map[network.RequestID]bool),
		lastActivity:     time.Now(),
	}

	h.handleEvent(&network.EventRequestWillBeSent{RequestID: "1"})
	h.handleEvent(&network.EventRequestWillBeSent{RequestID: "2"})
	assert.Equal(t, 2, h.Inflight())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.WaitNetworkIdle(ctx, 20*time.Millisecond), context.DeadlineExceeded)

	h.handleEvent(&network.EventLoadingFinished{RequestID: "1"})
	h.handleEvent(&network.EventLoadingFailed{RequestID: "2"})
	assert.Equal(t, 0, h.Inflight())
	assert.NoError(t, h.WaitNetworkIdle(context.Background(), 20*time.Millisecond))
}
