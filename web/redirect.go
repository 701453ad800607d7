package web

import (
	"net/http"
	"net/url"
	"strings"
)

// ErrorRedirectURL returns {origin}/?error=code&details=details. details is
// omitted when empty.
func ErrorRedirectURL(origin, code, details string) string {
	q := url.Values{}
	q.Set("error", code)
	if details != "" {
		q.Set("details", details)
	}
	return strings.TrimRight(origin, "/") + "/?" + q.Encode()
}

// SuccessRedirectURL resolves redirectTo against origin. Targets on another
// origin, and unparsable ones, fall back to {origin}/dashboard.
func SuccessRedirectURL(origin, redirectTo string) string {
	origin = strings.TrimRight(origin, "/")
	fallback := origin + "/dashboard"
	if redirectTo == "" {
		return fallback
	}
	base, err := url.Parse(origin + "/")
	if err != nil {
		return fallback
	}
	ref, err := url.Parse(redirectTo)
	if err != nil {
		return fallback
	}
	target := base.ResolveReference(ref)
	if target.Scheme != base.Scheme || target.Host != base.Host {
		return fallback
	}
	return target.String()
}

// ValidateNextURLIsLocal returns nextURL if it is a local path, and "/"
// otherwise.
func ValidateNextURLIsLocal(nextURL string) string {
	// Must be relative (start with /) and not protocol-relative (start with //).
	if nextURL == "" || !strings.HasPrefix(nextURL, "/") || strings.HasPrefix(nextURL, "//") || strings.HasPrefix(nextURL, "/\\") {
		return "/"
	}
	return nextURL
}

// requestOrigin derives scheme://host from r.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
