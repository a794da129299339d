package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/davon-library/webgate/guard"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess        AuditEvent = "login_success"
	AuditLoginFailure        AuditEvent = "login_failure"
	AuditLoginRateLimited    AuditEvent = "login_rate_limited"
	AuditRegister            AuditEvent = "register"
	AuditRegisterRateLimited AuditEvent = "register_rate_limited"
	AuditLogout              AuditEvent = "logout"
	AuditGuardRedirect       AuditEvent = "guard_redirect"
	AuditUpstreamFailure     AuditEvent = "upstream_failure"
)

// auditLogger wraps slog.Logger for structured security audit logging. It
// also observes guard transitions and proxy forwards.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger, metrics *metricsCollector) *auditLogger {
	return &auditLogger{
		logger:  logger.With("component", "audit"),
		metrics: metrics,
	}
}

// log writes a structured audit log entry. Usernames are logged as given;
// passwords and tokens never are.
func (al *auditLogger) log(event AuditEvent, r *http.Request, level slog.Level, attrs ...slog.Attr) {
	now := time.Now()
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("path", r.URL.Path),
		slog.String("timestamp", now.UTC().Format(time.RFC3339)),
	}
	al.logger.LogAttrs(r.Context(), level, "audit", append(base, attrs...)...)
	al.metrics.recordEvent(event)
	if al.webhook != nil {
		al.webhook.enqueue(webhookEventFrom(event, r.RemoteAddr, r.URL.Path, now, attrs))
	}
}

// close drains the webhook queue, if any.
func (al *auditLogger) close() {
	if al.webhook != nil {
		al.webhook.close()
	}
}

func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, username string, extra ...slog.Attr) {
	attrs := append([]slog.Attr{slog.String("username", username)}, extra...)
	al.log(event, r, slog.LevelInfo, attrs...)
}

func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := append([]slog.Attr{slog.String("reason", reason)}, extra...)
	al.log(event, r, slog.LevelWarn, attrs...)
}

// Transition records guard redirects. Other transitions are too chatty for
// the audit trail.
func (al *auditLogger) Transition(r *http.Request, from, to guard.State, reason guard.Reason) {
	if to != guard.Redirecting {
		return
	}
	al.log(AuditGuardRedirect, r, slog.LevelInfo, slog.String("reason", reason.String()))
}

// Forwarded records upstream transport failures and 5xx answers.
func (al *auditLogger) Forwarded(r *http.Request, route string, status int, elapsed time.Duration, err error) {
	switch {
	case err != nil:
		al.log(AuditUpstreamFailure, r, slog.LevelError,
			slog.String("route", route),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()))
	case status >= 500:
		al.log(AuditUpstreamFailure, r, slog.LevelWarn,
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("elapsed", elapsed))
	}
}
