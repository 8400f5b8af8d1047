package cookies

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
)

func TestNewFile(t *testing.T) {
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600))

	empty := NewFile(nil, at)
	assert.Equal(t, "2025-03-04T04:06:07Z", empty.ExtractedAt)
	assert.Equal(t, 0, empty.CookieCount)
	assert.NotNil(t, empty.Cookies)

	f := NewFile([]schemas.CookieRecord{{Name: "a"}, {Name: "b"}}, at)
	assert.Equal(t, 2, f.CookieCount)
}

func TestDomains(t *testing.T) {
	got := Domains([]schemas.CookieRecord{
		{Domain: ".grok.com"},
		{Domain: "grok.com"},
		{Domain: ".accounts.x.ai"},
		{Domain: ""},
	})
	assert.Equal(t, []string{"grok.com", "accounts.x.ai"}, got)
}

func TestCovers(t *testing.T) {
	assert.True(t, Covers(".grok.com", "grok.com"))
	assert.True(t, Covers(".grok.com", "www.grok.com"))
	assert.False(t, Covers(".grok.com", "notgrok.com"))
	assert.False(t, Covers(".grok.com", "x.ai"))
	assert.False(t, Covers("", "grok.com"))
}
