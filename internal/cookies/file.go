package cookies

import (
	"time"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
)

// NewFile builds the exported cookie jar document.
func NewFile(records []schemas.CookieRecord, extractedAt time.Time) schemas.CookieFile {
	if records == nil {
		records = []schemas.CookieRecord{}
	}
	return schemas.CookieFile{
		ExtractedAt: extractedAt.UTC().Format(time.RFC3339),
		CookieCount: len(records),
		Cookies:     records,
	}
}

// Domains returns the distinct bare hosts the records are scoped to, in first-seen order.
func Domains(records []schemas.CookieRecord) []string {
	seen := make(map[string]bool, len(records))
	var out []string
	for _, r := range records {
		d := BareDomain(r.Domain)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// BareDomain strips the subdomain marker from a cookie domain.
func BareDomain(domain string) string {
	for len(domain) > 0 && domain[0] == '.' {
		domain = domain[1:]
	}
	return domain
}

// Covers reports whether host is within the scope of a cookie domain.
func Covers(cookieDomain, host string) bool {
	d := BareDomain(cookieDomain)
	if d == "" || host == "" {
		return false
	}
	return host == d || (len(host) > len(d) && host[len(host)-len(d)-1] == '.' && host[len(host)-len(d):] == d)
}
