package api

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/waymark-app/waymark/internal/session"
	"github.com/waymark-app/waymark/internal/util"
)

type contextKey int

const gateStateKey contextKey = iota

const sessionCookieName = "waymark_session"

// gateState is what the gate learned about the request. A storage
// failure is kept distinct from an absent session so privileged
// handlers can answer 500 instead of an incorrect 401.
type gateState struct {
	record     *session.Record
	storageErr bool
}

func gateFromContext(ctx context.Context) gateState {
	state, _ := ctx.Value(gateStateKey).(gateState)
	return state
}

// Gate resolves the session cookie once per request and stores the
// outcome on the context. Every other handler reads the gate's verdict
// instead of touching the cookie itself.
func (a *API) Gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bypassGate(r) {
			next.ServeHTTP(w, r)
			return
		}

		var state gateState
		if id, ok := a.sessionIDFromCookie(r); ok {
			rec, err := a.store.Load(id)
			switch {
			case err != nil:
				a.logger.Error("session load failed", "error", err)
				state.storageErr = true
			case rec != nil:
				// Keep the in-context record in step with what the touch
				// just persisted, so status reports a current last_seen_at.
				if a.store.Touch(rec.ID) {
					rec.LastSeenAt = time.Now()
				}
				state.record = rec
			default:
				// Expired or unknown cookie; have the client drop it.
				a.clearSessionCookie(w)
			}
		}

		ctx := context.WithValue(r.Context(), gateStateKey, state)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bypassGate reports whether the request targets a public asset that
// needs neither a session lookup nor a cookie.
func bypassGate(r *http.Request) bool {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/static/"):
		return true
	case strings.HasPrefix(path, "/docs"), strings.HasPrefix(path, "/redoc"):
		return true
	case path == "/openapi.yaml", path == "/favicon.ico", path == "/health":
		return true
	case path == "/auth/login" && r.Method == http.MethodGet:
		return true
	}
	return false
}

// protected wraps a handler that requires an authenticated session.
// Browsers navigating with an HTML Accept header get redirected to the
// login page; API clients get the JSON envelope.
func (a *API) protected(handler func(http.ResponseWriter, *http.Request, *session.Record)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := gateFromContext(r.Context())
		if state.storageErr {
			writeAuthError(w, errStorage())
			return
		}
		if state.record == nil {
			if wantsHTML(r) {
				http.Redirect(w, r, "/auth/login", http.StatusFound)
				return
			}
			writeAuthError(w, errAuthRequired())
			return
		}
		handler(w, r, state.record)
	}
}

func wantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") && !strings.Contains(accept, "application/json")
}

// sessionIDFromCookie parses and authenticates the cookie value. The
// value is the session ID plus an HMAC tag, so a forged or truncated
// cookie never reaches the store.
func (a *API) sessionIDFromCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	id, tag, ok := strings.Cut(cookie.Value, ".")
	if !ok || id == "" {
		return "", false
	}
	rawTag, err := base64.RawURLEncoding.DecodeString(tag)
	if err != nil {
		return "", false
	}
	if !util.VerifySignature(a.cfg.SigningKey, []byte(id), rawTag) {
		return "", false
	}
	return id, true
}

func (a *API) cookieValue(id string) string {
	tag := util.Sign(a.cfg.SigningKey, []byte(id))
	return id + "." + base64.RawURLEncoding.EncodeToString(tag)
}

// writeSessionCookie sets the cookie for a freshly created session.
// Remember-me sessions persist via Max-Age; plain sessions stay
// browser-scoped so closing the window ends them client-side too.
func (a *API) writeSessionCookie(w http.ResponseWriter, rec *session.Record) {
	cookie := &http.Cookie{
		Name:     sessionCookieName,
		Value:    a.cookieValue(rec.ID),
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cfg.CookieSecure,
		SameSite: a.cfg.SameSite,
	}
	if rec.Remember {
		cookie.MaxAge = int(a.cfg.RememberLifetime.Seconds())
	}
	http.SetCookie(w, cookie)
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cfg.CookieSecure,
		SameSite: a.cfg.SameSite,
		MaxAge:   -1,
	})
}

// Recoverer converts panics into the internal_error envelope with a
// correlation ID, keeping stack traces out of responses.
func (a *API) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if errors.Is(toError(rec), http.ErrAbortHandler) {
					panic(rec)
				}
				errorID := uuid.New().String()
				a.logger.Error("panic recovered",
					slog.String("error_id", errorID),
					slog.Any("panic", rec),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())))
				writeAuthError(w, errInternal(errorID))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func toError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return nil
}
