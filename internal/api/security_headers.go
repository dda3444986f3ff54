package api

import "net/http"

// SecurityHeaders stamps the fixed header set on every response,
// including error responses and redirects. The values come from
// configuration once at startup; nothing here varies per request.
func (a *API) SecurityHeaders(next http.Handler) http.Handler {
	headers := a.cfg.SecurityHeaders()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for name, value := range headers {
			h.Set(name, value)
		}
		next.ServeHTTP(w, r)
	})
}
