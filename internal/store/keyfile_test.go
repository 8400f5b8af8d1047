package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
)

func TestKeyFileStore_Cookies(t *testing.T) {
	fs := afero.NewMemMapFs()
	k := NewKeyFileStore(fs, "/data/nested/grok_cookies.json", zaptest.NewLogger(t))

	empty, err := k.LoadCookies()
	require.NoError(t, err)
	assert.Empty(t, empty)

	records := []schemas.CookieRecord{
		{Name: "sso", Value: "a", Domain: ".grok.com", Path: "/", Expires: schemas.Float64(1.9e9), Secure: schemas.Bool(true)},
		{Name: "sid", Value: "b", Domain: ".x.ai", Path: "/"},
	}
	require.NoError(t, k.SaveCookies(records, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)))

	raw, err := afero.ReadFile(fs, k.Path())
	require.NoError(t, err)
	var doc schemas.CookieFile
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "2025-01-02T03:04:05Z", doc.ExtractedAt)
	assert.Equal(t, 2, doc.CookieCount)

	loaded, err := k.LoadCookies()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "sso", loaded[0].Name)
	assert.True(t, loaded[0].Secure.Value)
	require.NotNil(t, loaded[0].Expires)
	assert.Equal(t, 1.9e9, *loaded[0].Expires)
}

func TestDecodeCookies(t *testing.T) {
	arr, err := DecodeCookies([]byte(`[{"name":"a","value":"1","domain":"grok.com","httpOnly":"yes"}]`))
	require.NoError(t, err)
	require.Len(t, arr, 1)
	assert.True(t, arr[0].HTTPOnly.Coerced())

	doc, err := DecodeCookies([]byte(`{"extracted_at":"x","cookie_count":1,"cookies":[{"name":"b","value":"2","domain":"x.ai"}]}`))
	require.NoError(t, err)
	require.Len(t, doc, 1)
	assert.Equal(t, "b", doc[0].Name)

	_, err = DecodeCookies([]byte(`"nope"`))
	assert.Error(t, err)
}

func TestKeyFileStore_ReadWrite(t *testing.T) {
	k := NewKeyFileStore(afero.NewMemMapFs(), "/k/doc.json", zaptest.NewLogger(t))
	require.NoError(t, k.Write(map[string]int{"n": 1}))

	var out map[string]int
	require.NoError(t, k.Read(&out))
	assert.Equal(t, 1, out["n"])
}
