package schemas

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// -- Cookie Schemas --

// CookieSameSite defines the SameSite attribute for cookies.
type CookieSameSite string

const (
	CookieSameSiteStrict CookieSameSite = "Strict"
	CookieSameSiteLax    CookieSameSite = "Lax"
	CookieSameSiteNone   CookieSameSite = "None"
)

// CookieRecord is a cookie as supplied by a client or exported from a browsing context.
// Expires is in epoch seconds; nil means a session cookie.
type CookieRecord struct {
	Name     string         `json:"name"`
	Value    string         `json:"value"`
	Domain   string         `json:"domain"`
	Path     string         `json:"path,omitempty"`
	Expires  *float64       `json:"expires,omitempty"`
	HTTPOnly FlexBool       `json:"httpOnly"`
	Secure   FlexBool       `json:"secure"`
	SameSite CookieSameSite `json:"sameSite,omitempty"`

	// InvalidExpires holds a non-numeric expires token seen while decoding.
	InvalidExpires string `json:"-"`
}

// UnmarshalJSON decodes a cookie leniently so that type problems surface as
// validation issues instead of request failures.
func (c *CookieRecord) UnmarshalJSON(data []byte) error {
	type alias CookieRecord
	aux := struct {
		*alias
		Expires json.RawMessage `json:"expires"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	c.Expires = nil
	c.InvalidExpires = ""
	raw := bytes.TrimSpace(aux.Expires)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		c.InvalidExpires = string(raw)
		return nil
	}
	c.Expires = &f
	return nil
}

// Float64 returns a pointer to v, for building CookieRecord.Expires.
func Float64(v float64) *float64 { return &v }

// FlexBool is a boolean that also accepts numbers and strings on decode.
// Raw keeps the original token when the input was not a JSON boolean.
type FlexBool struct {
	Value bool
	Raw   string
}

// Bool builds a FlexBool from a real boolean.
func Bool(v bool) FlexBool { return FlexBool{Value: v} }

// Coerced reports whether the decoded value was not a JSON boolean.
func (b FlexBool) Coerced() bool { return b.Raw != "" }

func (b FlexBool) MarshalJSON() ([]byte, error) {
	return strconv.AppendBool(nil, b.Value), nil
}

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch raw {
	case "true":
		*b = FlexBool{Value: true}
		return nil
	case "false", "null", "":
		*b = FlexBool{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, perr := strconv.ParseBool(strings.TrimSpace(s))
		if perr != nil {
			v = strings.TrimSpace(s) != ""
		}
		*b = FlexBool{Value: v, Raw: raw}
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*b = FlexBool{Value: n != 0, Raw: raw}
		return nil
	}

	// Objects and arrays: truthy when non-empty.
	*b = FlexBool{Value: raw != "{}" && raw != "[]", Raw: raw}
	return nil
}

// CookieFile is the on-disk layout of an exported cookie jar.
type CookieFile struct {
	ExtractedAt string         `json:"extracted_at"`
	CookieCount int            `json:"cookie_count"`
	Cookies     []CookieRecord `json:"cookies"`
}
