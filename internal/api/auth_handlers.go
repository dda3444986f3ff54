package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/waymark-app/waymark/internal/credential"
	"github.com/waymark-app/waymark/internal/ledger"
	"github.com/waymark-app/waymark/internal/session"
	"github.com/waymark-app/waymark/internal/util"
)

// LoginPage serves the embedded login form.
func (a *API) LoginPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(a.loginPage)
}

// Login verifies the admin password and establishes a session.
//
// The ledger is consulted before the verifier runs, so a delayed or
// locked-out remote never gets a password comparison at all. On
// success the failure history is cleared before the session is
// created; a success must never leave stale failures behind.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if authErr := decodeRequest(r, &req); authErr != nil {
		writeAuthError(w, authErr)
		return
	}
	if req.Password == "" {
		writeAuthError(w, errValidation("Password is required"))
		return
	}

	state := gateFromContext(r.Context())
	if state.storageErr {
		writeAuthError(w, errStorage())
		return
	}

	// An existing session must present its own CSRF token. Without a
	// session the token is optional, but a supplied one still has to be
	// a valid pre-session token.
	if state.record != nil {
		if authErr := a.validateCSRF(r, state.record, req.CSRFToken); authErr != nil {
			writeAuthError(w, authErr)
			return
		}
	} else if req.CSRFToken != "" && !a.verifyPreSessionToken(req.CSRFToken) {
		a.audit.logFailure(AuditCSRFRejected, r, a.clientIP(r), "invalid pre-session token")
		writeAuthError(w, errInvalidCSRF())
		return
	}

	remote := a.clientIP(r)
	switch decision := a.ledger.Check(remote); decision.Kind {
	case ledger.Delay:
		a.audit.logFailure(AuditLoginRateLimited, r, remote, "progressive delay")
		writeAuthError(w, errDelay(ceilSeconds(decision.Wait)))
		return
	case ledger.LockedOut:
		a.audit.logFailure(AuditLoginLockedOut, r, remote, "locked out")
		writeAuthError(w, errLockedOut(ceilSeconds(decision.Wait)))
		return
	}

	if !a.verifier.Verify(req.Password) {
		a.ledger.ObserveFailure(remote, r.UserAgent())
		a.audit.logFailure(AuditLoginFailure, r, remote, "wrong password")
		// When this failure is the one that engages the lockout, the
		// response already reports it instead of a dead-end 401.
		if decision := a.ledger.Check(remote); decision.Kind == ledger.LockedOut {
			a.audit.logFailure(AuditLoginLockedOut, r, remote, "locked out")
			writeAuthError(w, errLockedOut(ceilSeconds(decision.Wait)))
			return
		}
		writeAuthError(w, errInvalidPassword(a.ledger.Remaining(remote)))
		return
	}

	a.ledger.Clear(remote)

	// A re-login replaces any session the caller already had.
	if state.record != nil {
		if err := a.store.Destroy(state.record.ID); err != nil {
			a.logger.Error("stale session destroy failed", "error", err)
		}
	}

	rec, err := a.store.Create(req.Remember)
	if err != nil {
		a.logger.Error("session create failed", "error", err)
		writeAuthError(w, errStorage())
		return
	}

	a.writeSessionCookie(w, rec)
	a.audit.log(AuditLoginSuccess, r, remote, slog.Bool("remember", rec.Remember))
	writeJSON(w, http.StatusOK, loginResponse{
		Success:     true,
		CSRFToken:   rec.CSRFToken,
		SessionInfo: a.sessionInfo(rec),
	})
}

// Logout destroys the caller's session. Destroying an already-gone
// session still succeeds; the outcome the caller asked for holds.
func (a *API) Logout(w http.ResponseWriter, r *http.Request, rec *session.Record) {
	var req logoutRequest
	if authErr := decodeRequest(r, &req); authErr != nil {
		writeAuthError(w, authErr)
		return
	}
	if authErr := a.validateCSRF(r, rec, req.CSRFToken); authErr != nil {
		writeAuthError(w, authErr)
		return
	}

	if err := a.store.Destroy(rec.ID); err != nil {
		a.logger.Error("session destroy failed", "error", err)
		writeAuthError(w, errStorage())
		return
	}

	a.clearSessionCookie(w)
	a.audit.log(AuditLogout, r, a.clientIP(r))
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logged out"})
}

// Status reports whether the caller holds a live session. It never
// fails with 401; an anonymous caller is a valid answer.
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	state := gateFromContext(r.Context())
	if state.storageErr {
		writeAuthError(w, errStorage())
		return
	}
	if state.record == nil {
		writeJSON(w, http.StatusOK, statusResponse{Authenticated: false})
		return
	}
	info := a.sessionInfo(state.record)
	writeJSON(w, http.StatusOK, statusResponse{
		Authenticated: true,
		CSRFToken:     &state.record.CSRFToken,
		SessionInfo:   &info,
	})
}

// CSRFToken hands out a fresh token. Authenticated callers get their
// session token rotated; anonymous callers get a stateless pre-session
// token good for the login form only.
func (a *API) CSRFToken(w http.ResponseWriter, r *http.Request) {
	state := gateFromContext(r.Context())
	if state.storageErr {
		writeAuthError(w, errStorage())
		return
	}

	if state.record != nil {
		token, err := a.store.RotateCSRF(state.record.ID)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, csrfTokenResponse{Success: true, CSRFToken: token})
			return
		case !errors.Is(err, session.ErrNotFound):
			a.logger.Error("csrf rotation failed", "error", err)
			writeAuthError(w, errStorage())
			return
		}
		// Session vanished between the gate and the rotation; fall
		// through to the anonymous path.
	}

	token, err := a.mintPreSessionToken()
	if err != nil {
		errorID := uuid.New().String()
		a.logger.Error("pre-session token mint failed", "error_id", errorID, "error", err)
		writeAuthError(w, errInternal(errorID))
		return
	}
	writeJSON(w, http.StatusOK, csrfTokenResponse{Success: true, CSRFToken: token})
}

// ChangePassword rotates the admin credential. The new verifier is
// persisted before the in-memory swap, and every session is revoked
// afterwards so nothing authenticated under the old password survives.
func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request, rec *session.Record) {
	var req changePasswordRequest
	if authErr := decodeRequest(r, &req); authErr != nil {
		writeAuthError(w, authErr)
		return
	}
	if authErr := a.validateCSRF(r, rec, req.CSRFToken); authErr != nil {
		writeAuthError(w, authErr)
		return
	}

	switch {
	case req.CurrentPassword == "":
		writeAuthError(w, errValidation("Current password is required"))
		return
	case req.NewPassword == "":
		writeAuthError(w, errValidation("New password is required"))
		return
	case req.ConfirmPassword == "":
		writeAuthError(w, errValidation("Password confirmation is required"))
		return
	case req.NewPassword != req.ConfirmPassword:
		writeAuthError(w, errValidation("Passwords do not match"))
		return
	}
	if err := credential.CheckPassword(req.NewPassword); err != nil {
		writeAuthError(w, errValidation(err.Error()))
		return
	}

	remote := a.clientIP(r)
	if !a.verifier.Verify(req.CurrentPassword) {
		a.audit.logFailure(AuditLoginFailure, r, remote, "wrong current password on change")
		writeAuthError(w, errWrongCurrentPassword())
		return
	}
	if util.Normalize(req.NewPassword) == util.Normalize(req.CurrentPassword) {
		writeAuthError(w, errValidation("New password must differ from current password"))
		return
	}

	verifier, err := a.verifier.Rehash(req.NewPassword)
	if err != nil {
		errorID := uuid.New().String()
		a.logger.Error("rehash failed", "error_id", errorID, "error", err)
		writeAuthError(w, errInternal(errorID))
		return
	}

	// Persist first. If the write fails the old credential stays live
	// and no session has been touched.
	if err := credential.WriteEnvFile(a.envDir, "ADMIN_PASSWORD_VERIFIER", verifier); err != nil {
		a.logger.Error("verifier persist failed", "error", err)
		writeAuthError(w, errStorage())
		return
	}
	if err := a.verifier.Rotate(verifier); err != nil {
		errorID := uuid.New().String()
		a.logger.Error("verifier rotate failed", "error_id", errorID, "error", err)
		writeAuthError(w, errInternal(errorID))
		return
	}

	if err := a.store.DestroyAll(); err != nil {
		a.logger.Error("session revocation failed", "error", err)
		writeAuthError(w, errStorage())
		return
	}

	a.clearSessionCookie(w)
	a.audit.log(AuditPasswordChanged, r, remote)
	a.audit.log(AuditSessionsRevoked, r, remote)
	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "Password changed; please log in again",
	})
}

func (a *API) sessionInfo(rec *session.Record) sessionInfo {
	return sessionInfo{
		CreatedAt:  rec.CreatedAt,
		LastSeenAt: rec.LastSeenAt,
		ExpiresAt:  rec.ExpiresAt(a.cfg.SessionIdleTimeout, a.cfg.RememberLifetime),
		Remember:   rec.Remember,
	}
}

func ceilSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
