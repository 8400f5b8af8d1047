// Package cookies validates and repairs cookie records before they are written
// into a browser cookie jar.
package cookies

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
)

const (
	// MaxCookieSize is the browser ceiling for len(name)+len(value).
	MaxCookieSize = 4096
	// MaxNameLength is the name length above which a warning is issued.
	MaxNameLength = 1024
	// millisecondThreshold separates epoch seconds from epoch milliseconds.
	millisecondThreshold = 1e10
)

var sameSiteAliases = map[string]schemas.CookieSameSite{
	"lax":            schemas.CookieSameSiteLax,
	"strict":         schemas.CookieSameSiteStrict,
	"none":           schemas.CookieSameSiteNone,
	"no_restriction": schemas.CookieSameSiteNone,
}

// parserUnverified inspects token claims without checking signatures.
var parserUnverified = jwt.NewParser()

// Normalizer validates a cookie record and produces a repaired copy.
// It has no side effects and is safe for concurrent use.
type Normalizer struct {
	// Now returns the reference time for expiry checks. Defaults to time.Now.
	Now func() time.Time
}

// NewNormalizer returns a Normalizer that uses the wall clock.
func NewNormalizer() *Normalizer {
	return &Normalizer{Now: time.Now}
}

func (n *Normalizer) now() time.Time {
	if n == nil || n.Now == nil {
		return time.Now()
	}
	return n.Now()
}

// NormalizeAll normalizes every record, numbering results by position.
func (n *Normalizer) NormalizeAll(records []schemas.CookieRecord) []schemas.ValidationResult {
	results := make([]schemas.ValidationResult, len(records))
	for i, r := range records {
		results[i] = n.Normalize(r)
		results[i].Index = i
	}
	return results
}

// Normalize validates one record. Fixed is set only when no blocking error was found.
// Normalizing a Fixed record again yields an identical record and no fixes.
func (n *Normalizer) Normalize(record schemas.CookieRecord) schemas.ValidationResult {
	res := schemas.ValidationResult{
		Original: record,
		Errors:   []schemas.ValidationIssue{},
		Warnings: []string{},
		Fixes:    []string{},
	}
	fixed := schemas.CookieRecord{
		Name:  record.Name,
		Value: record.Value,
	}

	// -- Required fields --
	if record.Name == "" {
		res.Errors = append(res.Errors, issue(schemas.ValidationMissingField, "name", "missing or empty required field 'name'"))
	}
	if record.Value == "" {
		res.Warnings = append(res.Warnings, "field 'value' is empty")
	}

	// -- Domain --
	if domain := strings.ToLower(strings.TrimSpace(record.Domain)); domain == "" || strings.Trim(domain, ".") == "" {
		res.Errors = append(res.Errors, issue(schemas.ValidationMissingField, "domain", "missing or empty required field 'domain'"))
	} else {
		fixed.Domain = normalizeDomain(domain)
		if fixed.Domain != record.Domain {
			if strings.HasPrefix(fixed.Domain, ".") && !strings.HasPrefix(domain, ".") {
				res.Warnings = append(res.Warnings, fmt.Sprintf("domain %q should start with '.' for subdomain cookies", record.Domain))
			}
			res.Fixes = append(res.Fixes, fmt.Sprintf("normalized domain to %s", fixed.Domain))
		}
	}

	// -- Path --
	if record.Path == "" {
		res.Warnings = append(res.Warnings, "path is empty, using default '/'")
		res.Fixes = append(res.Fixes, "set path to default '/'")
		fixed.Path = "/"
	} else {
		fixed.Path = record.Path
	}

	// -- Booleans --
	fixed.HTTPOnly = n.coerceBool("httpOnly", record.HTTPOnly, &res)
	fixed.Secure = n.coerceBool("secure", record.Secure, &res)

	// -- Expiry --
	n.normalizeExpires(record, &fixed, &res)

	// -- SameSite --
	if raw := strings.TrimSpace(string(record.SameSite)); raw != "" {
		canonical, ok := sameSiteAliases[strings.ToLower(raw)]
		switch {
		case !ok:
			res.Warnings = append(res.Warnings, fmt.Sprintf("unknown sameSite value %q, removing", raw))
			res.Fixes = append(res.Fixes, "removed invalid sameSite value")
		case string(canonical) != string(record.SameSite):
			res.Warnings = append(res.Warnings, fmt.Sprintf("non-canonical sameSite value %q, normalized to %q", raw, canonical))
			res.Fixes = append(res.Fixes, fmt.Sprintf("normalized sameSite to %s", canonical))
			fixed.SameSite = canonical
		default:
			fixed.SameSite = canonical
		}
	}

	// -- Size --
	if size := len(record.Name) + len(record.Value); size > MaxCookieSize {
		res.Errors = append(res.Errors, issue(schemas.ValidationSizeLimit, "value",
			fmt.Sprintf("cookie size is %d bytes (limit is %d)", size, MaxCookieSize)))
	}
	if len(record.Name) > MaxNameLength {
		res.Warnings = append(res.Warnings, fmt.Sprintf("cookie name is %d bytes, longer than %d", len(record.Name), MaxNameLength))
	}

	n.inspectToken(record, &res)

	res.Valid = len(res.Errors) == 0
	if res.Valid {
		res.Fixed = &fixed
	}
	return res
}

// normalizeDomain keeps a leading dot for multi-label hosts and for callers that
// asked for one; single-label hosts such as localhost stay bare.
func normalizeDomain(domain string) string {
	hadLeadingDot := strings.HasPrefix(domain, ".")
	clean := strings.TrimLeft(domain, ".")
	if hadLeadingDot || strings.Contains(clean, ".") {
		return "." + clean
	}
	return clean
}

func (n *Normalizer) coerceBool(field string, v schemas.FlexBool, res *schemas.ValidationResult) schemas.FlexBool {
	if v.Coerced() {
		res.Warnings = append(res.Warnings, fmt.Sprintf("field '%s' should be boolean, got %s", field, v.Raw))
		res.Fixes = append(res.Fixes, fmt.Sprintf("converted %s to boolean %t", field, v.Value))
	}
	return schemas.Bool(v.Value)
}

func (n *Normalizer) normalizeExpires(record schemas.CookieRecord, fixed *schemas.CookieRecord, res *schemas.ValidationResult) {
	if record.InvalidExpires != "" {
		res.Errors = append(res.Errors, issue(schemas.ValidationBadType, "expires",
			fmt.Sprintf("invalid expires value %s, expected epoch seconds", record.InvalidExpires)))
		return
	}
	if record.Expires == nil {
		return
	}

	epoch := *record.Expires
	if math.IsNaN(epoch) || math.IsInf(epoch, 0) {
		res.Errors = append(res.Errors, issue(schemas.ValidationBadType, "expires", "expires is not a finite number"))
		return
	}
	if epoch > millisecondThreshold {
		seconds := epoch / 1000
		if seconds > millisecondThreshold {
			res.Errors = append(res.Errors, issue(schemas.ValidationBadType, "expires",
				fmt.Sprintf("expires value %.0f is out of range even as milliseconds", epoch)))
			return
		}
		res.Warnings = append(res.Warnings, fmt.Sprintf("converting expires from milliseconds to seconds (%.0f -> %.3f)", epoch, seconds))
		res.Fixes = append(res.Fixes, "divided expires by 1000 (ms -> s)")
		epoch = seconds
	}

	if epoch <= 0 {
		res.Warnings = append(res.Warnings, "expires is not positive, treating as a session cookie")
		res.Fixes = append(res.Fixes, "removed expires")
		return
	}

	now := n.now()
	if expiresAt := epochTime(epoch); !expiresAt.After(now) {
		res.Errors = append(res.Errors, issue(schemas.ValidationExpired, "expires",
			fmt.Sprintf("cookie expired %.1f hours ago", now.Sub(expiresAt).Hours())))
		return
	}
	fixed.Expires = schemas.Float64(epoch)
}

// inspectToken warns about bearer-style values whose own JWT expiry has passed.
// The cookie may still be accepted by the browser, but the site will reject it.
func (n *Normalizer) inspectToken(record schemas.CookieRecord, res *schemas.ValidationResult) {
	if strings.Count(record.Value, ".") != 2 || !strings.HasPrefix(record.Value, "eyJ") {
		return
	}
	claims := jwt.MapClaims{}
	if _, _, err := parserUnverified.ParseUnverified(record.Value, claims); err != nil {
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if now := n.now(); exp.Before(now) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("value is a JWT that expired at %s", exp.UTC().Format(time.RFC3339)))
	}
}

func epochTime(seconds float64) time.Time {
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*float64(time.Second)))
}

func issue(kind schemas.ValidationKind, field, msg string) schemas.ValidationIssue {
	return schemas.ValidationIssue{Kind: kind, Field: field, Message: msg}
}
