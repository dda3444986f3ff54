package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess     AuditEvent = "login_success"
	AuditLoginFailure     AuditEvent = "login_failure"
	AuditLoginRateLimited AuditEvent = "login_rate_limited"
	AuditLoginLockedOut   AuditEvent = "login_locked_out"
	AuditLogout           AuditEvent = "logout"
	AuditCSRFRejected     AuditEvent = "csrf_rejected"
	AuditPasswordChanged  AuditEvent = "password_changed"
	AuditSessionsRevoked  AuditEvent = "sessions_revoked"
)

// auditLogger wraps slog.Logger for structured security audit logging.
// Session IDs and passwords never appear in entries; the remote identity
// is the only correlation handle.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, remote string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote", remote),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)

	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// logFailure logs a refused request with the reason it was refused.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, remote, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, remote, attrs...)
}
