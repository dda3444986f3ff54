package api

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxAuthBodySize bounds request bodies on the auth endpoints. Passwords
// are capped at 128 characters, so anything near this limit is abuse.
const maxAuthBodySize = 16 * 1024

type loginRequest struct {
	Password  string `json:"password"`
	Remember  bool   `json:"remember"`
	CSRFToken string `json:"csrf_token"`
}

type logoutRequest struct {
	CSRFToken string `json:"csrf_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
	CSRFToken       string `json:"csrf_token"`
}

type sessionInfo struct {
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Remember   bool      `json:"remember"`
}

type loginResponse struct {
	Success     bool        `json:"success"`
	CSRFToken   string      `json:"csrf_token"`
	SessionInfo sessionInfo `json:"session_info"`
}

type statusResponse struct {
	Authenticated bool         `json:"authenticated"`
	CSRFToken     *string      `json:"csrf_token"`
	SessionInfo   *sessionInfo `json:"session_info,omitempty"`
}

type csrfTokenResponse struct {
	Success   bool   `json:"success"`
	CSRFToken string `json:"csrf_token"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// decodeRequest fills dst from the request body. JSON bodies and HTML
// form posts use the same field names, so the login page can submit
// either way.
func decodeRequest(r *http.Request, dst any) *AuthError {
	r.Body = http.MaxBytesReader(nil, r.Body, maxAuthBodySize)

	if isJSONRequest(r) {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil {
			return errValidation("Malformed JSON body")
		}
		return nil
	}

	if err := r.ParseForm(); err != nil {
		return errValidation("Malformed form body")
	}
	fillFromForm(r.PostForm, dst)
	return nil
}

func isJSONRequest(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return true
	}
	media, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return media == "application/json"
}

func fillFromForm(form url.Values, dst any) {
	switch v := dst.(type) {
	case *loginRequest:
		v.Password = form.Get("password")
		v.Remember = formBool(form.Get("remember"))
		v.CSRFToken = form.Get("csrf_token")
	case *logoutRequest:
		v.CSRFToken = form.Get("csrf_token")
	case *changePasswordRequest:
		v.CurrentPassword = form.Get("current_password")
		v.NewPassword = form.Get("new_password")
		v.ConfirmPassword = form.Get("confirm_password")
		v.CSRFToken = form.Get("csrf_token")
	}
}

func formBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
