package security

import (
	"net/http"
	"strings"

	"github.com/poevideo/poe-video/internal/config"
)

// SecurityHeaders sets browser hardening headers on every response. The CSP
// lets pages talk to this server and to the configured API endpoints only.
func SecurityHeaders(cfg *config.Config) func(http.Handler) http.Handler {
	connectSrc := strings.TrimSpace("'self' " + strings.Join(cfg.Security.AllowedAPIEndpoints, " "))
	cspHeader := strings.Join([]string{
		"default-src 'self'",
		"connect-src " + connectSrc,
		"style-src 'self' 'unsafe-inline'",
		"script-src 'self'",
		"img-src 'self' data:",
		"media-src 'self' https:",
		"object-src 'none'",
		"base-uri 'self'",
		"frame-ancestors 'none'",
	}, "; ")

	headers := map[string]string{
		"X-Content-Type-Options":       "nosniff",
		"Referrer-Policy":              "no-referrer",
		"Permissions-Policy":           "geolocation=(), camera=(), microphone=()",
		"X-Frame-Options":              "DENY",
		"Cross-Origin-Opener-Policy":   "same-origin",
		"Cross-Origin-Resource-Policy": "same-site",
		"Content-Security-Policy":      cspHeader,
	}
	if cfg.Security.EnableHSTS {
		headers["Strict-Transport-Security"] = "max-age=31536000; includeSubDomains"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for name, value := range headers {
				w.Header().Set(name, value)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AllowedHosts rejects requests whose Host is not listed. "*" allows any host.
func AllowedHosts(cfg *config.Config) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(cfg.Server.AllowedHosts))
	for _, h := range cfg.Server.AllowedHosts {
		if h == "*" {
			return func(next http.Handler) http.Handler { return next }
		}
		allowed[strings.ToLower(h)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := strings.ToLower(r.Host)
			if i := strings.LastIndex(host, ":"); i != -1 && !strings.HasSuffix(host, "]") {
				host = host[:i]
			}
			if _, ok := allowed[host]; !ok {
				http.Error(w, "Host not allowed", http.StatusMisdirectedRequest)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
