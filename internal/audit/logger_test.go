package audit

import (
	"context"
	"errors"
	"testing"

	"authcore/internal/audit/domain"
	auditrepo "authcore/internal/audit/repository"
)

type failingRepo struct{}

func (failingRepo) Append(ctx context.Context, e *domain.AuditEvent) error { return errors.New("db down") }
func (failingRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditEvent, error) {
	return nil, nil
}

type recordingEmitter struct {
	events []*domain.AuditEvent
}

func (r *recordingEmitter) Emit(ctx context.Context, e *domain.AuditEvent) {
	r.events = append(r.events, e)
}

func TestLogger_Record(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	emitter := &recordingEmitter{}
	l := NewLogger(repo, emitter, nil)

	l.Record(context.Background(), Entry{UserID: "u1", Action: domain.ActionLogin, IP: "10.0.0.1", UserAgent: "curl"})

	events, _ := repo.ListByUser(context.Background(), "u1", 10)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Error("ID and CreatedAt must be set")
	}
	if e.Action != domain.ActionLogin || e.IP != "10.0.0.1" || e.UserAgent != "curl" {
		t.Errorf("event = %+v", e)
	}
	if len(emitter.events) != 1 || emitter.events[0].ID != e.ID {
		t.Error("emitter should receive the persisted event")
	}
}

func TestLogger_Record_UnknownIP(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	NewLogger(repo, nil, nil).Record(context.Background(), Entry{UserID: "u1", Action: domain.ActionLogout})
	events, _ := repo.ListByUser(context.Background(), "u1", 10)
	if len(events) != 1 || events[0].IP != "unknown" {
		t.Fatalf("events = %+v, want IP unknown", events)
	}
}

func TestLogger_Record_RepoFailureIsSwallowed(t *testing.T) {
	emitter := &recordingEmitter{}
	l := NewLogger(failingRepo{}, emitter, nil)
	l.Record(context.Background(), Entry{UserID: "u1", Action: domain.ActionSignup})
	if len(emitter.events) != 1 {
		t.Error("emitter should still receive the event when the store fails")
	}
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	l.Record(context.Background(), Entry{Action: domain.ActionLogin})
	NewLogger(nil, nil, nil).Record(context.Background(), Entry{Action: domain.ActionLogin})
	Nop{}.Record(context.Background(), Entry{})
}

func TestMemoryRepository_ListByUserNewestFirst(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	l := NewLogger(repo, nil, nil)
	ctx := context.Background()
	l.Record(ctx, Entry{UserID: "u1", Action: domain.ActionSignup})
	l.Record(ctx, Entry{UserID: "u2", Action: domain.ActionSignup})
	l.Record(ctx, Entry{UserID: "u1", Action: domain.ActionLogin})
	l.Record(ctx, Entry{UserID: "u1", Action: domain.ActionLogout})

	events, _ := repo.ListByUser(ctx, "u1", 2)
	if len(events) != 2 || events[0].Action != domain.ActionLogout || events[1].Action != domain.ActionLogin {
		t.Fatalf("events = %v", events)
	}
	if got := repo.Actions("u1"); len(got) != 3 || got[0] != domain.ActionSignup {
		t.Errorf("Actions = %v", got)
	}
}
