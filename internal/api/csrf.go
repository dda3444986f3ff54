package api

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/waymark-app/waymark/internal/session"
	"github.com/waymark-app/waymark/internal/util"
)

// validateCSRF checks a submitted token against the session's current
// one. The comparison is constant-time and an aged token is rejected
// even when it matches, so a leaked token has a bounded useful life.
func (a *API) validateCSRF(r *http.Request, rec *session.Record, provided string) *AuthError {
	if provided == "" {
		a.audit.logFailure(AuditCSRFRejected, r, a.clientIP(r), "missing token")
		return errInvalidCSRF()
	}
	if time.Now().After(rec.CSRFIssuedAt.Add(a.cfg.CSRFTokenTTL)) {
		a.audit.logFailure(AuditCSRFRejected, r, a.clientIP(r), "token expired")
		return errInvalidCSRF()
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(rec.CSRFToken)) != 1 {
		a.audit.logFailure(AuditCSRFRejected, r, a.clientIP(r), "token mismatch")
		return errInvalidCSRF()
	}
	return nil
}

// Pre-session tokens cover the login form before any session exists.
// They are stateless: a random value and an issue timestamp under an
// HMAC tag, verifiable without storage.

func (a *API) mintPreSessionToken() (string, error) {
	nonce, err := util.RandomToken(16)
	if err != nil {
		return "", err
	}
	payload := fmt.Sprintf("%s:%d", nonce, time.Now().Unix())
	tag := util.Sign(a.cfg.SigningKey, []byte(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." +
		base64.RawURLEncoding.EncodeToString(tag), nil
}

func (a *API) verifyPreSessionToken(token string) bool {
	encPayload, encTag, ok := strings.Cut(token, ".")
	if !ok {
		return false
	}
	payload, err := base64.RawURLEncoding.DecodeString(encPayload)
	if err != nil {
		return false
	}
	tag, err := base64.RawURLEncoding.DecodeString(encTag)
	if err != nil {
		return false
	}
	if !util.VerifySignature(a.cfg.SigningKey, payload, tag) {
		return false
	}
	_, stamp, ok := strings.Cut(string(payload), ":")
	if !ok {
		return false
	}
	issued, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return false
	}
	age := time.Since(time.Unix(issued, 0))
	return age >= 0 && age <= a.cfg.CSRFTokenTTL
}
