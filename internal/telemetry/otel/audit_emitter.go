package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	auditdomain "authcore/internal/audit/domain"
)

// AuditScope is the instrumentation scope of audit log records.
const AuditScope = "authcore.audit"

// recordEmitter is the part of otellog.Logger the emitter uses.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// AuditEmitter forwards persisted audit events to the OTel log pipeline. It implements audit.Emitter.
type AuditEmitter struct {
	logger recordEmitter
}

// NewAuditEmitter returns an emitter that writes through provider. A nil provider yields an
// emitter that drops every event.
func NewAuditEmitter(provider *sdklog.LoggerProvider) *AuditEmitter {
	if provider == nil {
		return &AuditEmitter{}
	}
	return &AuditEmitter{logger: provider.Logger(AuditScope)}
}

// NewAuditEmitterWithLogger returns an emitter that writes to logger directly.
func NewAuditEmitterWithLogger(logger recordEmitter) *AuditEmitter {
	return &AuditEmitter{logger: logger}
}

// Emit converts the event to a log record. Metadata becomes the body; the other fields become
// attributes when non-empty.
func (e *AuditEmitter) Emit(ctx context.Context, event *auditdomain.AuditEvent) {
	if e == nil || e.logger == nil || event == nil {
		return
	}
	var rec otellog.Record
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(severity(event.Action))
	rec.SetSeverityText(severity(event.Action).String())
	rec.SetEventName("audit." + event.Action)
	if event.Metadata != "" {
		rec.SetBody(otellog.StringValue(event.Metadata))
	}
	addString(&rec, "audit.id", event.ID)
	addString(&rec, "user_id", event.UserID)
	addString(&rec, "action", event.Action)
	addString(&rec, "ip_address", event.IP)
	addString(&rec, "user_agent", event.UserAgent)
	addString(&rec, "location", event.Location)
	e.logger.Emit(ctx, rec)
}

func addString(rec *otellog.Record, key, value string) {
	if value != "" {
		rec.AddAttributes(otellog.String(key, value))
	}
}

// severity raises failed logins to WARN and reuse detection to ERROR.
func severity(action string) otellog.Severity {
	switch action {
	case auditdomain.ActionReuseDetected:
		return otellog.SeverityError
	case auditdomain.ActionLoginFailed:
		return otellog.SeverityWarn
	default:
		return otellog.SeverityInfo
	}
}
