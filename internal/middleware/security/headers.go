package security

import (
	"net/http"
	"strconv"
	"time"
)

// DefaultHSTS is one year.
const DefaultHSTS = 365 * 24 * time.Hour

// apiHeaders suit responses that are JSON or CSV downloads, never pages:
// nothing may be framed, scripted, embedded or cached.
var apiHeaders = map[string]string{
	"Content-Security-Policy":      "default-src 'none'; frame-ancestors 'none'",
	"X-Content-Type-Options":       "nosniff",
	"X-Frame-Options":              "DENY",
	"Referrer-Policy":              "no-referrer",
	"Cross-Origin-Resource-Policy": "same-origin",
	"Cache-Control":                "no-store",
}

// Headers sets the API response headers. Strict-Transport-Security is only
// sent over TLS, and not at all when hsts is zero.
func Headers(hsts time.Duration) func(http.Handler) http.Handler {
	var sts string
	if hsts > 0 {
		sts = "max-age=" + strconv.Itoa(int(hsts.Seconds())) + "; includeSubDomains"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for k, v := range apiHeaders {
				h.Set(k, v)
			}
			if r.TLS != nil && sts != "" {
				h.Set("Strict-Transport-Security", sts)
			}
			next.ServeHTTP(w, r)
		})
	}
}
