package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/waymark-app/waymark/internal/config"
	"github.com/waymark-app/waymark/internal/credential"
	"github.com/waymark-app/waymark/internal/ledger"
	"github.com/waymark-app/waymark/internal/session"
)

const (
	testPassword    = "Sunrise!Trail7"
	testNewPassword = "Moonrise!Peak8"
	testSigningKey  = "0123456789abcdef0123456789abcdef"

	// The remote identity httptest clients present.
	localRemote = "127.0.0.1"
)

type testServer struct {
	t      *testing.T
	api    *API
	store  session.Store
	ledger *ledger.Ledger
	srv    *httptest.Server
	client *http.Client
	envDir string
}

func newTestServer(t *testing.T, env map[string]string) *testServer {
	t.Helper()

	verifier, err := credential.Hash(testPassword, bcrypt.MinCost)
	require.NoError(t, err)

	t.Setenv("SESSION_SECRET_KEY", testSigningKey)
	t.Setenv("ADMIN_PASSWORD_VERIFIER", verifier)
	t.Setenv("SESSION_DIR", t.TempDir())
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.NewMemoryStore(cfg.SessionIdleTimeout, cfg.RememberLifetime)
	attempts := ledger.New(cfg.MaxFailedAttempts, cfg.LockoutWindow, logger)
	ver, err := credential.New(cfg.PasswordVerifier, cfg.HashCost)
	require.NoError(t, err)

	envDir := t.TempDir()
	a := New(cfg, store, attempts, ver, WithLogger(logger), WithEnvDir(envDir))

	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &testServer{
		t:      t,
		api:    a,
		store:  store,
		ledger: attempts,
		srv:    srv,
		client: client,
		envDir: envDir,
	}
}

func (ts *testServer) request(method, path string, payload any, header http.Header) (*http.Response, map[string]any) {
	ts.t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(ts.t, err)
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, body)
	require.NoError(ts.t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	res, err := ts.client.Do(req)
	require.NoError(ts.t, err)
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	require.NoError(ts.t, err)

	var decoded map[string]any
	if strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		require.NoError(ts.t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return res, decoded
}

func (ts *testServer) postJSON(path string, payload any) (*http.Response, map[string]any) {
	ts.t.Helper()
	return ts.request(http.MethodPost, path, payload, nil)
}

func (ts *testServer) get(path string) (*http.Response, map[string]any) {
	ts.t.Helper()
	return ts.request(http.MethodGet, path, nil, nil)
}

// login authenticates the test client and returns the session CSRF token.
func (ts *testServer) login() string {
	ts.t.Helper()
	res, body := ts.postJSON("/auth/login", loginRequest{Password: testPassword})
	require.Equal(ts.t, http.StatusOK, res.StatusCode, "login body: %v", body)
	token, _ := body["csrf_token"].(string)
	require.NotEmpty(ts.t, token)
	return token
}

func TestLoginSuccess(t *testing.T) {
	ts := newTestServer(t, nil)

	res, body := ts.postJSON("/auth/login", loginRequest{Password: testPassword})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["csrf_token"])

	info, ok := body["session_info"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, info["created_at"])
	assert.NotEmpty(t, info["expires_at"])
	assert.Equal(t, false, info["remember"])

	res, body = ts.get("/auth/status")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, body["authenticated"])
}

func TestLoginWrongPassword(t *testing.T) {
	ts := newTestServer(t, nil)

	res, body := ts.postJSON("/auth/login", loginRequest{Password: "not-the-password"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_password", body["code"])
	assert.Equal(t, float64(4), body["remaining_attempts"])

	res, body = ts.get("/auth/status")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, false, body["authenticated"])
}

func TestLoginEmptyPassword(t *testing.T) {
	ts := newTestServer(t, nil)

	res, body := ts.postJSON("/auth/login", loginRequest{})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "validation_error", body["code"])
}

func TestLoginFormEncoded(t *testing.T) {
	ts := newTestServer(t, nil)

	form := "password=" + testPassword + "&remember=true"
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/auth/login", strings.NewReader(form))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := ts.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	info := body["session_info"].(map[string]any)
	assert.Equal(t, true, info["remember"])
}

func TestLoginProgressiveDelay(t *testing.T) {
	ts := newTestServer(t, nil)

	for range 2 {
		res, _ := ts.postJSON("/auth/login", loginRequest{Password: "wrong"})
		require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	}

	// Two failures put the remote into the 2s delay tier; even the
	// correct password is refused before the verifier runs.
	res, body := ts.postJSON("/auth/login", loginRequest{Password: testPassword})
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, "rate_limited", body["code"])
	assert.NotEmpty(t, body["delay_seconds"])
	assert.NotEmpty(t, res.Header.Get("Retry-After"))
}

func TestLoginLockoutRefusesCorrectPassword(t *testing.T) {
	ts := newTestServer(t, map[string]string{"MAX_LOGIN_ATTEMPTS": "3"})

	for range 3 {
		ts.ledger.ObserveFailure(localRemote, "test-agent")
	}

	res, body := ts.postJSON("/auth/login", loginRequest{Password: testPassword})
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, "locked_out", body["code"])
	assert.NotEmpty(t, body["lockout_seconds"])
}

func TestLockingFailureAnswersLockedOut(t *testing.T) {
	ts := newTestServer(t, map[string]string{"MAX_LOGIN_ATTEMPTS": "3"})

	for range 2 {
		ts.ledger.ObserveFailure(localRemote, "test-agent")
	}
	// Sit out the two-failure delay tier so the next attempt reaches
	// the verifier and becomes the failure that engages the lockout.
	time.Sleep(2100 * time.Millisecond)

	res, body := ts.postJSON("/auth/login", loginRequest{Password: "wrong"})
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, "locked_out", body["code"])
	secs, ok := body["lockout_seconds"].(float64)
	require.True(t, ok)
	assert.InDelta(t, ts.api.cfg.LockoutWindow.Seconds(), secs, 2)

	// The lockout holds for the correct password too.
	res, body = ts.postJSON("/auth/login", loginRequest{Password: testPassword})
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, "locked_out", body["code"])
}

func TestLoginClearsFailureHistory(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.ledger.ObserveFailure(localRemote, "test-agent")
	ts.login()

	assert.Equal(t, ts.api.cfg.MaxFailedAttempts, ts.ledger.Remaining(localRemote))
}

func TestReloginReplacesSession(t *testing.T) {
	ts := newTestServer(t, nil)

	first := ts.login()

	res, body := ts.postJSON("/auth/login", loginRequest{Password: testPassword, CSRFToken: first})
	require.Equal(t, http.StatusOK, res.StatusCode)
	second, _ := body["csrf_token"].(string)
	assert.NotEqual(t, first, second)

	// A re-login without the old session's token is a CSRF failure.
	res, body = ts.postJSON("/auth/login", loginRequest{Password: testPassword})
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "invalid_csrf_token", body["code"])
}

func TestSecurityHeadersOnEveryResponse(t *testing.T) {
	ts := newTestServer(t, nil)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/auth/status"},
		{http.MethodGet, "/auth/login"},
		{http.MethodPost, "/auth/logout"},
		{http.MethodGet, "/health"},
		{http.MethodGet, "/no-such-path"},
	}
	for _, p := range paths {
		res, _ := ts.request(p.method, p.path, nil, nil)
		assert.Equal(t, "nosniff", res.Header.Get("X-Content-Type-Options"), p.path)
		assert.Equal(t, "DENY", res.Header.Get("X-Frame-Options"), p.path)
		assert.Contains(t, res.Header.Get("Content-Security-Policy"), "default-src 'self'", p.path)
		assert.NotEmpty(t, res.Header.Get("Strict-Transport-Security"), p.path)
	}
}

func TestCSPTileHosts(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"CSP_TILE_HOSTS": "https://tile.openstreetmap.org",
	})

	res, _ := ts.get("/auth/status")
	csp := res.Header.Get("Content-Security-Policy")
	assert.Contains(t, csp, "img-src 'self' data: https://tile.openstreetmap.org")
	assert.Contains(t, csp, "script-src 'self'")
	assert.NotContains(t, csp, "script-src 'self' https://tile.openstreetmap.org")
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	res, err := http.Get(ts.srv.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "OK", string(raw))
	assert.Equal(t, "nosniff", res.Header.Get("X-Content-Type-Options"))
}

func TestStatusReportsFreshLastSeen(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.login()

	time.Sleep(50 * time.Millisecond)

	res, body := ts.get("/auth/status")
	require.Equal(t, http.StatusOK, res.StatusCode)
	info, ok := body["session_info"].(map[string]any)
	require.True(t, ok)

	created, err := time.Parse(time.RFC3339Nano, info["created_at"].(string))
	require.NoError(t, err)
	lastSeen, err := time.Parse(time.RFC3339Nano, info["last_seen_at"].(string))
	require.NoError(t, err)
	assert.True(t, lastSeen.After(created), "last_seen_at reflects the current request, not login time")
}

func TestLogout(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.login()

	res, body := ts.postJSON("/auth/logout", logoutRequest{CSRFToken: token})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, body["success"])

	res, body = ts.get("/auth/status")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, false, body["authenticated"])
}

func TestLogoutRequiresSession(t *testing.T) {
	ts := newTestServer(t, nil)

	res, body := ts.postJSON("/auth/logout", logoutRequest{CSRFToken: "anything"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "authentication_required", body["code"])
}

func TestHTMLClientRedirectedToLogin(t *testing.T) {
	ts := newTestServer(t, nil)

	header := http.Header{"Accept": []string{"text/html"}}
	res, _ := ts.request(http.MethodPost, "/auth/logout", nil, header)
	require.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "/auth/login", res.Header.Get("Location"))
}

func TestCSRFTokenTamperRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.login()

	// Flip one character; the session must survive the refusal.
	tampered := []byte(token)
	if tampered[0] == 'a' {
		tampered[0] = 'b'
	} else {
		tampered[0] = 'a'
	}

	res, body := ts.postJSON("/auth/logout", logoutRequest{CSRFToken: string(tampered)})
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "invalid_csrf_token", body["code"])

	res, body = ts.get("/auth/status")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, body["authenticated"])
}

func TestCSRFTokenMissingRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.login()

	res, body := ts.postJSON("/auth/logout", logoutRequest{})
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "invalid_csrf_token", body["code"])
}

func TestCSRFTokenRotation(t *testing.T) {
	ts := newTestServer(t, nil)
	original := ts.login()

	res, body := ts.get("/auth/csrf-token")
	require.Equal(t, http.StatusOK, res.StatusCode)
	rotated, _ := body["csrf_token"].(string)
	require.NotEmpty(t, rotated)
	assert.NotEqual(t, original, rotated)

	// The superseded token no longer works.
	res, body = ts.postJSON("/auth/logout", logoutRequest{CSRFToken: original})
	require.Equal(t, http.StatusForbidden, res.StatusCode)

	res, _ = ts.postJSON("/auth/logout", logoutRequest{CSRFToken: rotated})
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestPreSessionTokenAcceptedOnLogin(t *testing.T) {
	ts := newTestServer(t, nil)

	res, body := ts.get("/auth/csrf-token")
	require.Equal(t, http.StatusOK, res.StatusCode)
	token, _ := body["csrf_token"].(string)
	require.NotEmpty(t, token)

	res, _ = ts.postJSON("/auth/login", loginRequest{Password: testPassword, CSRFToken: token})
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestPreSessionTokenForgedRejected(t *testing.T) {
	ts := newTestServer(t, nil)

	res, body := ts.postJSON("/auth/login", loginRequest{Password: testPassword, CSRFToken: "forged.token"})
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "invalid_csrf_token", body["code"])
}

func TestStatusAnonymous(t *testing.T) {
	ts := newTestServer(t, nil)

	res, body := ts.get("/auth/status")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, false, body["authenticated"])
	assert.Nil(t, body["csrf_token"])
	assert.NotContains(t, body, "session_info")
}

func TestSessionCookieTamperRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.login()

	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/auth/status", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "forged-id.Zm9yZ2VkLXRhZw"})

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, false, body["authenticated"])
}

func TestRememberCookiePersists(t *testing.T) {
	ts := newTestServer(t, nil)

	res, _ := ts.postJSON("/auth/login", loginRequest{Password: testPassword, Remember: true})
	require.Equal(t, http.StatusOK, res.StatusCode)

	var found bool
	for _, c := range res.Cookies() {
		if c.Name == sessionCookieName {
			found = true
			assert.Positive(t, c.MaxAge, "remember sessions carry Max-Age")
			assert.True(t, c.HttpOnly)
		}
	}
	require.True(t, found)
}

func TestPlainCookieIsSessionScoped(t *testing.T) {
	ts := newTestServer(t, nil)

	res, _ := ts.postJSON("/auth/login", loginRequest{Password: testPassword})
	require.Equal(t, http.StatusOK, res.StatusCode)

	for _, c := range res.Cookies() {
		if c.Name == sessionCookieName {
			assert.Zero(t, c.MaxAge, "plain sessions are browser-scoped")
		}
	}
}

func TestChangePasswordValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.login()

	cases := []struct {
		name    string
		req     changePasswordRequest
		status  int
		code    string
		message string
	}{
		{
			name:   "missing current",
			req:    changePasswordRequest{NewPassword: testNewPassword, ConfirmPassword: testNewPassword, CSRFToken: token},
			status: http.StatusBadRequest, code: "validation_error",
		},
		{
			name:   "mismatch",
			req:    changePasswordRequest{CurrentPassword: testPassword, NewPassword: testNewPassword, ConfirmPassword: "Other!Pass9x", CSRFToken: token},
			status: http.StatusBadRequest, code: "validation_error", message: "Passwords do not match",
		},
		{
			name: "new password exceeds hash input limit",
			req: changePasswordRequest{
				CurrentPassword: testPassword,
				NewPassword:     strings.Repeat("Aa1!", 20),
				ConfirmPassword: strings.Repeat("Aa1!", 20),
				CSRFToken:       token,
			},
			status: http.StatusBadRequest, code: "validation_error",
			message: "password must be at most 72 bytes",
		},
		{
			name:   "weak new password",
			req:    changePasswordRequest{CurrentPassword: testPassword, NewPassword: "short", ConfirmPassword: "short", CSRFToken: token},
			status: http.StatusBadRequest, code: "validation_error",
		},
		{
			name:   "same as current",
			req:    changePasswordRequest{CurrentPassword: testPassword, NewPassword: testPassword, ConfirmPassword: testPassword, CSRFToken: token},
			status: http.StatusBadRequest, code: "validation_error", message: "New password must differ from current password",
		},
		{
			name:   "wrong current password",
			req:    changePasswordRequest{CurrentPassword: "not-the-password", NewPassword: testNewPassword, ConfirmPassword: testNewPassword, CSRFToken: token},
			status: http.StatusUnauthorized, code: "invalid_password",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, body := ts.postJSON("/auth/change-password", tc.req)
			require.Equal(t, tc.status, res.StatusCode)
			assert.Equal(t, tc.code, body["code"])
			if tc.message != "" {
				assert.Equal(t, tc.message, body["error"])
			}
		})
	}

	// Session must have survived every refusal above.
	res, body := ts.get("/auth/status")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, body["authenticated"])
}

func TestChangePasswordRevokesAllSessions(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.login()

	res, body := ts.postJSON("/auth/change-password", changePasswordRequest{
		CurrentPassword: testPassword,
		NewPassword:     testNewPassword,
		ConfirmPassword: testNewPassword,
		CSRFToken:       token,
	})
	require.Equal(t, http.StatusOK, res.StatusCode, "body: %v", body)
	assert.Contains(t, body["message"], "log in again")

	// The caller's own session is gone.
	res, body = ts.get("/auth/status")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, false, body["authenticated"])

	// Old password is dead, the new one works.
	res, _ = ts.postJSON("/auth/login", loginRequest{Password: testPassword})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	res, _ = ts.postJSON("/auth/login", loginRequest{Password: testNewPassword})
	require.Equal(t, http.StatusOK, res.StatusCode)

	// The rotated verifier was persisted for the next startup.
	data, err := os.ReadFile(filepath.Join(ts.envDir, credential.EnvFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "ADMIN_PASSWORD_VERIFIER=$2")
}

func TestLoginPageServed(t *testing.T) {
	ts := newTestServer(t, nil)

	res, _ := ts.get("/auth/login")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Type"), "text/html")
}

func TestOpenAPISpecServed(t *testing.T) {
	ts := newTestServer(t, nil)

	res, _ := ts.get("/openapi.yaml")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Type"), "yaml")
}

func TestPanicRecovery(t *testing.T) {
	ts := newTestServer(t, nil)

	router := ts.api.Router()
	router.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/boom")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "internal_error", body["code"])
	assert.NotEmpty(t, body["error_id"])
	assert.Equal(t, "nosniff", res.Header.Get("X-Content-Type-Options"))
}
