package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorCode is the machine-readable tag carried alongside every error
// message, so callers can branch without matching on prose.
type ErrorCode string

const (
	CodeValidation      ErrorCode = "validation_error"
	CodeInvalidPassword ErrorCode = "invalid_password"
	CodeAuthRequired    ErrorCode = "authentication_required"
	CodeInvalidCSRF     ErrorCode = "invalid_csrf_token"
	CodeRateLimited     ErrorCode = "rate_limited"
	CodeLockedOut       ErrorCode = "locked_out"
	CodeStorage         ErrorCode = "storage_error"
	CodeInternal        ErrorCode = "internal_error"
)

// AuthError is the tagged result value for every refusal the core can
// produce. The gate maps it to an HTTP status; panics are reserved for
// genuinely unexpected conditions.
type AuthError struct {
	Status  int
	Code    ErrorCode
	Message string
	// Extra carries additional envelope fields such as remaining_attempts
	// or lockout_seconds.
	Extra map[string]any
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errValidation(msg string) *AuthError {
	return &AuthError{Status: http.StatusBadRequest, Code: CodeValidation, Message: msg}
}

func errInvalidPassword(remaining int) *AuthError {
	return &AuthError{
		Status:  http.StatusUnauthorized,
		Code:    CodeInvalidPassword,
		Message: "Invalid password",
		Extra:   map[string]any{"remaining_attempts": remaining},
	}
}

func errWrongCurrentPassword() *AuthError {
	return &AuthError{
		Status:  http.StatusUnauthorized,
		Code:    CodeInvalidPassword,
		Message: "Current password is incorrect",
	}
}

func errAuthRequired() *AuthError {
	return &AuthError{
		Status:  http.StatusUnauthorized,
		Code:    CodeAuthRequired,
		Message: "Authentication required",
	}
}

func errInvalidCSRF() *AuthError {
	return &AuthError{
		Status:  http.StatusForbidden,
		Code:    CodeInvalidCSRF,
		Message: "Invalid CSRF token",
	}
}

func errDelay(seconds int) *AuthError {
	return &AuthError{
		Status:  http.StatusTooManyRequests,
		Code:    CodeRateLimited,
		Message: "Too many failed attempts; wait before retrying",
		Extra:   map[string]any{"delay_seconds": seconds},
	}
}

func errLockedOut(seconds int) *AuthError {
	return &AuthError{
		Status:  http.StatusTooManyRequests,
		Code:    CodeLockedOut,
		Message: "Too many failed attempts; temporarily locked out",
		Extra:   map[string]any{"lockout_seconds": seconds},
	}
}

func errStorage() *AuthError {
	return &AuthError{
		Status:  http.StatusInternalServerError,
		Code:    CodeStorage,
		Message: "Temporary storage failure; please retry",
	}
}

func errInternal(errorID string) *AuthError {
	return &AuthError{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternal,
		Message: "Internal server error",
		Extra:   map[string]any{"error_id": errorID},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAuthError(w http.ResponseWriter, e *AuthError) {
	body := map[string]any{
		"error": e.Message,
		"code":  string(e.Code),
	}
	for k, v := range e.Extra {
		body[k] = v
	}
	if e.Status == http.StatusTooManyRequests {
		if secs, ok := retrySeconds(e); ok {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
		}
	}
	writeJSON(w, e.Status, body)
}

func retrySeconds(e *AuthError) (int, bool) {
	for _, key := range []string{"delay_seconds", "lockout_seconds"} {
		if v, ok := e.Extra[key]; ok {
			if secs, ok := v.(int); ok {
				return secs, true
			}
		}
	}
	return 0, false
}
