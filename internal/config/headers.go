package config

import "strings"

// SecurityHeaders returns the fixed response header set. The gate stamps
// every entry onto every response.
func (c *Config) SecurityHeaders() map[string]string {
	return c.headers
}

func buildHeaders(tileHosts []string) map[string]string {
	return map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"X-XSS-Protection":          "1; mode=block",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains; preload",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
		"Permissions-Policy":        "geolocation=(), microphone=(), camera=(), payment=()",
		"Content-Security-Policy":   buildCSP(tileHosts),
		"Cache-Control":             "no-cache, no-store, must-revalidate",
		"Pragma":                    "no-cache",
		"Expires":                   "0",
	}
}

// buildCSP extends the 'self' baseline with the map tile and icon hosts the
// surrounding UI loads from. Only img-src and connect-src are widened.
func buildCSP(tileHosts []string) string {
	extra := ""
	if len(tileHosts) > 0 {
		extra = " " + strings.Join(tileHosts, " ")
	}
	directives := []string{
		"default-src 'self'",
		"script-src 'self'",
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data:" + extra,
		"connect-src 'self'" + extra,
	}
	return strings.Join(directives, "; ")
}
