// Package audit records authentication events to the audit store and, optionally, an
// external log pipeline.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"authcore/internal/audit/domain"
	auditrepo "authcore/internal/audit/repository"
)

// Entry describes one event to record.
type Entry struct {
	UserID    string
	Action    string
	IP        string
	UserAgent string
	Location  string
	Metadata  string
}

// Recorder writes audit events. Record is best-effort: failures are logged and never affect
// the caller.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Emitter forwards a persisted event to an external sink such as an OTel log pipeline.
type Emitter interface {
	Emit(ctx context.Context, e *domain.AuditEvent)
}

// Logger implements Recorder using the audit repository and an optional Emitter.
type Logger struct {
	repo    auditrepo.Repository
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time
}

// NewLogger returns a Recorder that persists to repo. emitter and logger may be nil.
func NewLogger(repo auditrepo.Repository, emitter Emitter, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		repo:    repo,
		emitter: emitter,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record writes one audit event.
func (l *Logger) Record(ctx context.Context, e Entry) {
	if l == nil || l.repo == nil {
		return
	}
	ip := e.IP
	if ip == "" {
		ip = "unknown"
	}
	event := &domain.AuditEvent{
		ID:        uuid.New().String(),
		UserID:    e.UserID,
		Action:    e.Action,
		IP:        ip,
		UserAgent: e.UserAgent,
		Location:  e.Location,
		Metadata:  e.Metadata,
		CreatedAt: l.now(),
	}
	if err := l.repo.Append(ctx, event); err != nil {
		l.logger.WarnContext(ctx, "audit: failed to append event", "action", e.Action, "user_id", e.UserID, "error", err)
	}
	if l.emitter != nil {
		l.emitter.Emit(ctx, event)
	}
}

// Nop is a Recorder that discards events.
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}
