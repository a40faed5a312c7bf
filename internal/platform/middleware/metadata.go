package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"vaultline/pkg/requestcontext"
)

// ClientMetadata stores the client IP and a condensed user agent in the
// context. Both end up in consent metadata, so the raw header is reduced to
// browser and platform.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(),
			ClientIPFromRequest(r),
			ParseUserAgent(r.Header.Get("User-Agent")),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromRequest extracts the real client IP, honouring proxy headers.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// ParseUserAgent renders "Browser Version on OS", or the product token for
// non-browser clients such as messaging provider webhooks.
func ParseUserAgent(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	ua := useragent.New(header)
	if ua.Bot() {
		name, _ := ua.Browser()
		return "bot " + name
	}
	name, version := ua.Browser()
	if major, _, ok := strings.Cut(version, "."); ok {
		version = major
	}
	browser := strings.TrimSpace(name + " " + version)
	if platform := ua.OS(); platform != "" {
		return browser + " on " + platform
	}
	if browser == "" {
		return ua.Model()
	}
	return browser
}
