// Package config loads and validates the security configuration from the
// process environment. The resulting Config is immutable; construct it once
// at startup and share it by value.
package config

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/waymark-app/waymark/internal/util"
)

// Error reports a configuration problem tied to a specific environment
// variable.
type Error struct {
	Var    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Var, e.Reason)
}

// Config holds every tunable of the auth core. All durations are resolved
// from their second-valued environment variables at load time.
type Config struct {
	MaxFailedAttempts  int
	LockoutWindow      time.Duration
	HashCost           int
	SessionIdleTimeout time.Duration
	RememberLifetime   time.Duration
	SigningKey         []byte
	PasswordVerifier   string
	CookieSecure       bool
	SameSite           http.SameSite
	SessionDir         string
	SessionBackend     string
	SweepInterval      time.Duration
	CSRFTokenTTL       time.Duration
	TileHosts          []string
	StorageTimeout     time.Duration
	TrustedProxies     []netip.Prefix
	Debug              bool

	headers map[string]string
}

// rawConfig is the koanf-unmarshaled view of the environment. Numeric
// durations stay in seconds here and are converted on build.
type rawConfig struct {
	MaxLoginAttempts      int    `koanf:"max_login_attempts"`
	LockoutDuration       int    `koanf:"lockout_duration"`
	HashCost              int    `koanf:"hash_cost"`
	SessionTimeout        int    `koanf:"session_timeout"`
	RememberTimeout       int    `koanf:"remember_timeout"`
	SessionSecretKey      string `koanf:"session_secret_key"`
	AdminPasswordVerifier string `koanf:"admin_password_verifier"`
	SessionCookieSecure   bool   `koanf:"session_cookie_secure"`
	SessionSameSite       string `koanf:"session_samesite"`
	SessionDir            string `koanf:"session_dir"`
	SessionBackend        string `koanf:"session_backend"`
	SweepInterval         int    `koanf:"sweep_interval"`
	CSRFTokenTTL          int    `koanf:"csrf_token_ttl"`
	CSPTileHosts          string `koanf:"csp_tile_hosts"`
	StorageTimeout        int    `koanf:"storage_timeout"`
	TrustedProxies        string `koanf:"trusted_proxies"`
	Debug                 bool   `koanf:"debug"`
}

func defaultRaw() rawConfig {
	return rawConfig{
		MaxLoginAttempts: 5,
		LockoutDuration:  900,
		HashCost:         12,
		SessionTimeout:   3600,
		RememberTimeout:  2592000,
		SessionSameSite:  "strict",
		SessionDir:       "",
		SessionBackend:   "file",
		SweepInterval:    3600,
		CSRFTokenTTL:     14400,
		StorageTimeout:   5,
	}
}

// bcryptVerifierRe matches the modular crypt format bcrypt emits:
// $2a$NN$ followed by 53 radix-64 characters of salt+digest.
var bcryptVerifierRe = regexp.MustCompile(`^\$2[aby]\$\d{2}\$[./A-Za-z0-9]{53}$`)

// Load builds a Config from the environment: built-in defaults layered
// under environment variables, then range-validated. Outside debug mode a
// missing signing key or password verifier is fatal.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultRaw(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading config defaults: %w", err)
	}
	// Environment variables map to koanf keys by lowercasing:
	// MAX_LOGIN_ATTEMPTS -> max_login_attempts.
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var raw rawConfig
	if err := k.Unmarshal("", &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}
	return build(raw)
}

func build(raw rawConfig) (*Config, error) {
	if err := checkRange("MAX_LOGIN_ATTEMPTS", raw.MaxLoginAttempts, 3, 10); err != nil {
		return nil, err
	}
	if err := checkRange("LOCKOUT_DURATION", raw.LockoutDuration, 300, 3600); err != nil {
		return nil, err
	}
	if err := checkRange("HASH_COST", raw.HashCost, 10, 15); err != nil {
		return nil, err
	}
	if err := checkRange("SESSION_TIMEOUT", raw.SessionTimeout, 300, 86400); err != nil {
		return nil, err
	}
	if err := checkRange("REMEMBER_TIMEOUT", raw.RememberTimeout, 3600, 2592000); err != nil {
		return nil, err
	}
	if err := checkRange("SWEEP_INTERVAL", raw.SweepInterval, 60, 86400); err != nil {
		return nil, err
	}
	if err := checkRange("CSRF_TOKEN_TTL", raw.CSRFTokenTTL, 300, 86400); err != nil {
		return nil, err
	}
	if err := checkRange("STORAGE_TIMEOUT", raw.StorageTimeout, 1, 60); err != nil {
		return nil, err
	}

	sameSite, err := parseSameSite(raw.SessionSameSite)
	if err != nil {
		return nil, err
	}

	switch raw.SessionBackend {
	case "file", "bolt", "memory":
	default:
		return nil, &Error{Var: "SESSION_BACKEND", Reason: "must be one of file, bolt, memory"}
	}

	key, verifier, err := resolveSecrets(raw)
	if err != nil {
		return nil, err
	}

	var proxies []netip.Prefix
	for _, s := range splitList(raw.TrustedProxies) {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, &Error{Var: "TRUSTED_PROXIES", Reason: fmt.Sprintf("invalid CIDR %q", s)}
		}
		proxies = append(proxies, prefix)
	}

	dir := raw.SessionDir
	if dir == "" {
		dir = os.TempDir() + string(os.PathSeparator) + "waymark-sessions"
	}

	cfg := &Config{
		MaxFailedAttempts:  raw.MaxLoginAttempts,
		LockoutWindow:      time.Duration(raw.LockoutDuration) * time.Second,
		HashCost:           raw.HashCost,
		SessionIdleTimeout: time.Duration(raw.SessionTimeout) * time.Second,
		RememberLifetime:   time.Duration(raw.RememberTimeout) * time.Second,
		SigningKey:         key,
		PasswordVerifier:   verifier,
		CookieSecure:       raw.SessionCookieSecure,
		SameSite:           sameSite,
		SessionDir:         dir,
		SessionBackend:     raw.SessionBackend,
		SweepInterval:      time.Duration(raw.SweepInterval) * time.Second,
		CSRFTokenTTL:       time.Duration(raw.CSRFTokenTTL) * time.Second,
		TileHosts:          splitList(raw.CSPTileHosts),
		StorageTimeout:     time.Duration(raw.StorageTimeout) * time.Second,
		TrustedProxies:     proxies,
		Debug:              raw.Debug,
	}
	cfg.headers = buildHeaders(cfg.TileHosts)
	return cfg, nil
}

// resolveSecrets validates the signing key and password verifier. In debug
// mode a missing value is replaced with a freshly generated one and a loud
// warning; outside debug mode it is fatal.
func resolveSecrets(raw rawConfig) (key []byte, verifier string, err error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	switch {
	case raw.SessionSecretKey != "":
		if len(raw.SessionSecretKey) < 32 {
			return nil, "", &Error{Var: "SESSION_SECRET_KEY", Reason: "must be at least 32 bytes"}
		}
		key = []byte(raw.SessionSecretKey)
	case raw.Debug:
		tok, genErr := util.RandomToken(32)
		if genErr != nil {
			return nil, "", genErr
		}
		key = []byte(tok)
		logger.Warn("DEBUG mode: generated ephemeral session signing key; sessions will not survive restarts")
	default:
		return nil, "", &Error{Var: "SESSION_SECRET_KEY", Reason: "required"}
	}

	switch {
	case raw.AdminPasswordVerifier != "":
		if !bcryptVerifierRe.MatchString(raw.AdminPasswordVerifier) {
			return nil, "", &Error{Var: "ADMIN_PASSWORD_VERIFIER", Reason: "not a bcrypt verifier string"}
		}
		verifier = raw.AdminPasswordVerifier
	case raw.Debug:
		password, genErr := util.RandomToken(16)
		if genErr != nil {
			return nil, "", genErr
		}
		hash, hashErr := bcrypt.GenerateFromPassword([]byte(password), raw.HashCost)
		if hashErr != nil {
			return nil, "", fmt.Errorf("generating debug verifier: %w", hashErr)
		}
		verifier = string(hash)
		logger.Warn("DEBUG mode: generated ephemeral admin password", "password", password)
	default:
		return nil, "", &Error{Var: "ADMIN_PASSWORD_VERIFIER", Reason: "required"}
	}

	return key, verifier, nil
}

func checkRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return &Error{Var: name, Reason: fmt.Sprintf("%d outside allowed range %d-%d", v, lo, hi)}
	}
	return nil
}

func parseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(s) {
	case "strict":
		return http.SameSiteStrictMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	}
	return 0, &Error{Var: "SESSION_SAMESITE", Reason: "must be one of strict, lax, none"}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
