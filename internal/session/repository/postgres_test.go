package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"authcore/internal/apperr"
	"authcore/internal/session/domain"
)

const (
	rotateQuery = `^UPDATE refresh_sessions SET is_valid = FALSE, revoked_at = \$3, revoke_reason = \$4, last_used_at = \$3 ` +
		`WHERE token_hash = \$1 AND user_id = \$2 AND is_valid AND revoked_at IS NULL AND expires_at > \$3 RETURNING id, user_id, token_hash`
	insertQuery = `^INSERT INTO refresh_sessions \(id, user_id, token_hash, .*\) VALUES \(\$1, \$2, \$3, .*\$13\)$`
)

var sessionCols = []string{"id", "user_id", "token_hash", "issued_at", "expires_at", "is_valid", "revoked_at",
	"revoke_reason", "rotated_from", "last_used_at", "ip_address", "user_agent", "location"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

func expectInsert(mock sqlmock.Sqlmock, child *domain.RefreshSession, parentHash string) *sqlmock.ExpectedExec {
	return mock.ExpectExec(insertQuery).WithArgs(
		child.ID, child.UserID, child.TokenHash, child.IssuedAt, child.ExpiresAt, true, nil,
		"", parentHash, nil, "198.51.100.4", "test", "Lisbon")
}

func TestPostgresRotate_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	child := newSession("s2", "u1", "h2")
	child.Meta = domain.RequestMeta{IP: "198.51.100.4", UserAgent: "test", Location: "Lisbon"}

	mock.ExpectBegin()
	mock.ExpectQuery(rotateQuery).
		WithArgs("h1", "u1", now, domain.ReasonRotated).
		WillReturnRows(sqlmock.NewRows(sessionCols).
			AddRow("s1", "u1", "h1", now.Add(-time.Hour), now.Add(time.Hour), false, now,
				domain.ReasonRotated, nil, now, "198.51.100.4", "test", "Lisbon"))
	expectInsert(mock, child, "h1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	parent, err := repo.Rotate(context.Background(), "h1", "u1", child, now)
	if err != nil {
		t.Fatalf("Rotate error: %v", err)
	}
	if parent.ID != "s1" || parent.Valid || parent.RevokeReason != domain.ReasonRotated {
		t.Fatalf("unexpected parent: %+v", parent)
	}
	if parent.RevokedAt == nil || !parent.RevokedAt.Equal(now) || parent.RotatedFrom != "" {
		t.Fatalf("nullable columns not mapped: %+v", parent)
	}
	if child.RotatedFrom != "h1" {
		t.Errorf("child.RotatedFrom = %q", child.RotatedFrom)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRotate_NotLiveRollsBack(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(rotateQuery).
		WithArgs("h1", "u1", now, domain.ReasonRotated).
		WillReturnRows(sqlmock.NewRows(sessionCols))
	mock.ExpectRollback()

	_, err := repo.Rotate(context.Background(), "h1", "u1", newSession("s2", "u1", "h2"), now)
	if !errors.Is(err, ErrSessionNotLive) {
		t.Fatalf("want ErrSessionNotLive, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRotate_InsertFailureRollsBack(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	child := newSession("s2", "u1", "h2")
	child.Meta = domain.RequestMeta{IP: "198.51.100.4", UserAgent: "test", Location: "Lisbon"}

	mock.ExpectBegin()
	mock.ExpectQuery(rotateQuery).
		WithArgs("h1", "u1", now, domain.ReasonRotated).
		WillReturnRows(sqlmock.NewRows(sessionCols).
			AddRow("s1", "u1", "h1", now.Add(-time.Hour), now.Add(time.Hour), false, now,
				domain.ReasonRotated, nil, now, "", "", ""))
	expectInsert(mock, child, "h1").WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	parent, err := repo.Rotate(context.Background(), "h1", "u1", child, now)
	if parent != nil {
		t.Errorf("parent should be nil when the child insert fails: %+v", parent)
	}
	if apperr.KindOf(err) != apperr.KindUnavailable {
		t.Fatalf("want unavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRotate_BeginFailure(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

	_, err := repo.Rotate(context.Background(), "h1", "u1", newSession("s2", "u1", "h2"), now)
	if apperr.KindOf(err) != apperr.KindUnavailable {
		t.Fatalf("want unavailable, got %v", err)
	}
}

func TestPostgresRevokeAllForUser(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`^UPDATE refresh_sessions SET is_valid = FALSE, revoked_at = \$2, revoke_reason = \$3 ` +
		`WHERE user_id = \$1 AND is_valid AND revoked_at IS NULL$`).
		WithArgs("u1", now, domain.ReasonPasswordReset).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RevokeAllForUser(context.Background(), "u1", domain.ReasonPasswordReset, now)
	if err != nil {
		t.Fatalf("RevokeAllForUser error: %v", err)
	}
	if n != 3 {
		t.Errorf("revoked = %d, want 3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRevokeAllForUser_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`^UPDATE refresh_sessions`).WillReturnError(errors.New("db down"))

	_, err := repo.RevokeAllForUser(context.Background(), "u1", domain.ReasonReuseDetected, now)
	if apperr.KindOf(err) != apperr.KindUnavailable {
		t.Fatalf("want unavailable, got %v", err)
	}
}

func TestPostgresRevokeLineage(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`^WITH RECURSIVE chain AS \( SELECT id, token_hash FROM refresh_sessions WHERE token_hash = \$1 ` +
		`UNION ALL SELECT r\.id, r\.token_hash FROM refresh_sessions r JOIN chain c ON r\.rotated_from = c\.token_hash \) ` +
		`UPDATE refresh_sessions SET is_valid = FALSE, revoked_at = \$2, revoke_reason = \$3 ` +
		`WHERE id IN \(SELECT id FROM chain\) AND is_valid AND revoked_at IS NULL$`).
		WithArgs("h1", now, domain.ReasonReuseDetected).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.RevokeLineage(context.Background(), "h1", domain.ReasonReuseDetected, now)
	if err != nil {
		t.Fatalf("RevokeLineage error: %v", err)
	}
	if n != 2 {
		t.Errorf("revoked = %d, want 2", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresFindLive_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`^SELECT id, user_id, token_hash, .* FROM refresh_sessions WHERE token_hash = \$1 AND user_id = \$2 AND is_valid`).
		WithArgs("h9", "u1", now).
		WillReturnRows(sqlmock.NewRows(sessionCols))

	s, err := repo.FindLive(context.Background(), "h9", "u1", now)
	if err != nil || s != nil {
		t.Fatalf("FindLive = %+v, %v; want nil, nil", s, err)
	}
}
