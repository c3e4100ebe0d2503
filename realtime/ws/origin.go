package ws

import (
	"net/http"
	"net/url"
	"strings"
)

// IsOriginAllowed validates the request Origin header against an allow-list.
//
// Entries are either full origins ("https://example.com:8443"), hostnames
// ("example.com") or wildcard hostnames ("*.example.com", subdomains only).
// Requests without an Origin header are accepted: non-browser peers never send one.
func IsOriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	hostname := ""
	if u, err := url.Parse(origin); err == nil {
		hostname = strings.ToLower(u.Hostname())
	}
	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimSpace(entry))
		switch {
		case entry == "":
		case strings.Contains(entry, "://"):
			if strings.EqualFold(origin, entry) {
				return true
			}
		case strings.HasPrefix(entry, "*."):
			if hostname != "" && strings.HasSuffix(hostname, entry[1:]) {
				return true
			}
		case hostname == entry:
			return true
		}
	}
	return false
}

// NewOriginChecker returns an upgrader CheckOrigin func; an empty list allows all origins.
func NewOriginChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		return IsOriginAllowed(r, allowed)
	}
}
