package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ComUnity/access-gate/internal/config"
	"github.com/ComUnity/access-gate/internal/util/logger"
)

// TLSConfig controls security headers on every response.
type TLSConfig struct {
	HSTSMaxAge            int // seconds
	IncludeSubdomains     bool
	ContentSecurityPolicy string   // set only on HTTPS; empty leaves upstream CSP alone
	ExcludedPaths         []string // probes
	TrustProxyHeader      bool     // honor X-Forwarded-Proto
}

func TLSConfigFrom(c config.SecurityConfig) TLSConfig {
	return TLSConfig{
		HSTSMaxAge:            c.HSTSMaxAge,
		IncludeSubdomains:     true,
		ContentSecurityPolicy: c.ContentSecurityPolicy,
		ExcludedPaths:         c.ExcludedPaths,
		TrustProxyHeader:      true,
	}
}

// TLSEnhancer sets baseline security headers, plus HSTS and CSP on HTTPS.
func TLSEnhancer(cfg TLSConfig) func(http.Handler) http.Handler {
	excluded := make(map[string]bool, len(cfg.ExcludedPaths))
	for _, p := range cfg.ExcludedPaths {
		excluded[p] = true
	}
	if cfg.HSTSMaxAge > 0 && cfg.HSTSMaxAge < 86400 {
		logger.Warnf("HSTS max-age=%d is under a day", cfg.HSTSMaxAge)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			setBaseSecurityHeaders(w)
			if isHTTPS(r, cfg.TrustProxyHeader) {
				setHSTS(w, cfg)
				if v := strings.TrimSpace(cfg.ContentSecurityPolicy); v != "" {
					w.Header().Set("Content-Security-Policy", v)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isHTTPS(r *http.Request, trustProxy bool) bool {
	if r.TLS != nil {
		return true
	}
	if trustProxy {
		return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	}
	return false
}

func setBaseSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
}

func setHSTS(w http.ResponseWriter, cfg TLSConfig) {
	maxAge := cfg.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = 31536000
	}
	v := "max-age=" + strconv.Itoa(maxAge)
	if cfg.IncludeSubdomains {
		v += "; includeSubDomains"
	}
	w.Header().Set("Strict-Transport-Security", v)
}
