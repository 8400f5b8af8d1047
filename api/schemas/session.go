package schemas

import (
	"encoding/json"
	"fmt"
	"time"
)

// LoginMethod names the path that established a session.
type LoginMethod string

const (
	LoginPassword        LoginMethod = "password"
	LoginOAuth           LoginMethod = "oauth"
	LoginCookieInjection LoginMethod = "cookie_injection"
)

// SessionRecord asserts that a session was established and until when it is trusted.
type SessionRecord struct {
	LoggedIn      bool
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Method        LoginMethod
	CookieCount   *int
	OAuthProvider string
	SessionID     string
	BrowserType   string
}

// sessionFile is the persisted layout of a SessionRecord.
type sessionFile struct {
	LoggedIn      bool        `json:"loggedIn"`
	Timestamp     string      `json:"timestamp"`
	Expiry        string      `json:"expiry"`
	BrowserType   string      `json:"browserType"`
	LoginMethod   LoginMethod `json:"loginMethod"`
	CookieCount   *int        `json:"cookieCount,omitempty"`
	OAuthProvider string      `json:"oauthProvider,omitempty"`
	SessionID     string      `json:"sessionId,omitempty"`
}

func (r SessionRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionFile{
		LoggedIn:      r.LoggedIn,
		Timestamp:     r.CreatedAt.UTC().Format(time.RFC3339Nano),
		Expiry:        r.ExpiresAt.UTC().Format(time.RFC3339Nano),
		BrowserType:   r.BrowserType,
		LoginMethod:   r.Method,
		CookieCount:   r.CookieCount,
		OAuthProvider: r.OAuthProvider,
		SessionID:     r.SessionID,
	})
}

func (r *SessionRecord) UnmarshalJSON(data []byte) error {
	var f sessionFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	created, err := parseTimestamp(f.Timestamp)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	expires, err := parseTimestamp(f.Expiry)
	if err != nil {
		return fmt.Errorf("invalid expiry: %w", err)
	}
	*r = SessionRecord{
		LoggedIn:      f.LoggedIn,
		CreatedAt:     created,
		ExpiresAt:     expires,
		Method:        f.LoginMethod,
		CookieCount:   f.CookieCount,
		OAuthProvider: f.OAuthProvider,
		SessionID:     f.SessionID,
		BrowserType:   f.BrowserType,
	}
	return nil
}

// parseTimestamp accepts RFC 3339 and the zone-less ISO 8601 form older records used.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05.999999", s, time.Local)
}

// ValidAt reports whether the record asserts a live session at the given instant.
func (r SessionRecord) ValidAt(now time.Time) bool {
	return r.LoggedIn && !r.ExpiresAt.IsZero() && now.Before(r.ExpiresAt)
}

// SessionStatus is the externally reported view of the current session.
type SessionStatus struct {
	LoggedIn      bool        `json:"logged_in"`
	SessionValid  bool        `json:"session_valid"`
	SessionExpiry *time.Time  `json:"session_expiry,omitempty"`
	BrowserType   string      `json:"browser_type,omitempty"`
	LoginMethod   LoginMethod `json:"login_method,omitempty"`
	CookieCount   *int        `json:"cookie_count,omitempty"`
	SessionID     string      `json:"session_id,omitempty"`

	Record *SessionRecord `json:"record,omitempty"`
}
