package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/sirupsen/logrus"
)

// AuditEvent is a security-relevant verification event. It never holds a
// token or master key.
type AuditEvent struct {
	Action    string
	Kind      Kind
	Subject   string // verified id, empty on failure
	IPAddress string
	UserAgent string
	Status    string
	CreatedAt time.Time
}

// AuditLogger writes audit events as structured log entries
type AuditLogger struct {
	logger  *logrus.Logger
	proxies TrustedProxies
}

// NewAuditLogger creates an audit logger. A nil logger discards events.
func NewAuditLogger(logger *logrus.Logger) *AuditLogger {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &AuditLogger{logger: logger}
}

// WithTrustedProxies makes the logger record the client behind these proxies
// rather than the proxy itself
func (al *AuditLogger) WithTrustedProxies(proxies TrustedProxies) *AuditLogger {
	al.proxies = proxies
	return al
}

// LogAction validates and records an audit event
func (al *AuditLogger) LogAction(ctx context.Context, event *AuditEvent) error {
	if event.Action == "" {
		return fmt.Errorf("action is required")
	}
	if event.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if event.Status == "" {
		return fmt.Errorf("status is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	entry := observability.FromContext(ctx, al.logger).WithFields(logrus.Fields{
		"audit":      true,
		"action":     event.Action,
		"kind":       event.Kind,
		"status":     event.Status,
		"ip_address": event.IPAddress,
		"user_agent": event.UserAgent,
		"created_at": event.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if event.Subject != "" {
		entry = entry.WithField("subject", event.Subject)
	}
	entry.Info("audit")
	return nil
}

// LogFromRequest records the outcome of verifying the caller of r
func (al *AuditLogger) LogFromRequest(r *http.Request, kind Kind, subject string) error {
	event := &AuditEvent{
		Kind:      kind,
		IPAddress: al.proxies.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
	if subject == "" || subject == Unauthorized {
		event.Action = ActionAuthFailure
		event.Status = StatusDenied
	} else {
		event.Action = ActionAuthSuccess
		event.Status = StatusSuccess
		event.Subject = subject
	}
	return al.LogAction(r.Context(), event)
}

// Audit actions
const (
	ActionAuthSuccess = "auth.success"
	ActionAuthFailure = "auth.failure"
)

// Audit statuses
const (
	StatusSuccess = "success"
	StatusDenied  = "denied"
)
