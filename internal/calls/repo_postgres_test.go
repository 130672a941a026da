package calls

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepo(db), mock
}

var callColumnNames = []string{
	"id", "call_sid", "user_id", "direction", "status", "from_number", "to_number", "purpose", "context", "task_id",
	"started_at", "answered_at", "ended_at", "duration_seconds", "transcription", "summary", "created_at", "updated_at",
}

func TestPostgresRepo_GetCallScansNullableColumns(t *testing.T) {
	repo, mock := newMockRepo(t)
	started := time.Unix(1700000000, 0).UTC()
	answered := started.Add(5 * time.Second)

	rows := sqlmock.NewRows(callColumnNames).AddRow(
		"c-1", "CA1", "user-1", "outbound", "in_progress", "+815000000000", "+819012345678",
		"reservation", []byte(`{"people":2}`), nil,
		started, answered, nil, nil, nil, nil, started, answered,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM voice_calls WHERE id = $1")).WithArgs("c-1").WillReturnRows(rows)

	c, err := repo.GetCall(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Status != StatusInProgress || c.Purpose != PurposeReservation {
		t.Fatalf("unexpected call: %+v", c)
	}
	if c.AnsweredAt == nil || !c.AnsweredAt.Equal(answered) || c.EndedAt != nil || c.DurationSeconds != nil {
		t.Fatalf("unexpected timestamps: %+v", c)
	}
	if c.Context["people"] != float64(2) {
		t.Fatalf("expected decoded context, got %v", c.Context)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRepo_GetCallNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE call_sid = $1")).WithArgs("CA404").WillReturnError(sql.ErrNoRows)

	if _, err := repo.GetCallBySID(context.Background(), "CA404"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRepo_InsertCallDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO voice_calls")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "voice_calls_call_sid_key"})

	now := time.Now().UTC()
	err := repo.InsertCall(context.Background(), Call{
		ID: "c-1", CallSID: "CA1", UserID: "u", Direction: DirectionOutbound, Status: StatusInitiated,
		StartedAt: now, CreatedAt: now, UpdatedAt: now,
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestPostgresRepo_SwapStatusComparesPreviousStatus(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	// A stale transcript on c must not reach the statement.
	c := Call{ID: "c-1", Status: StatusCompleted, EndedAt: &now, UpdatedAt: now, Transcription: "stale"}

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = $2")).
		WithArgs("c-1", StatusInProgress, StatusCompleted, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = $2")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.SwapStatus(context.Background(), c, StatusInProgress, StatusUpdate{})
	if err != nil || !ok {
		t.Fatalf("expected swap, got ok=%v err=%v", ok, err)
	}
	ok, err = repo.SwapStatus(context.Background(), c, StatusInProgress, StatusUpdate{})
	if err != nil || ok {
		t.Fatalf("expected lost race, got ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRepo_SwapStatusWritesCarriedTranscript(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	text, summary := "相手: もしもし", "挨拶のみ"

	mock.ExpectExec(regexp.QuoteMeta("transcription = COALESCE($7, transcription), summary = COALESCE($8, summary)")).
		WithArgs("c-1", StatusInProgress, StatusCompleted, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			text, summary, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	c := Call{ID: "c-1", Status: StatusCompleted, EndedAt: &now, UpdatedAt: now}
	if _, err := repo.SwapStatus(context.Background(), c, StatusInProgress, StatusUpdate{Transcription: &text, Summary: &summary}); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRepo_MalformedIDIsNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM voice_calls WHERE id = $1")).WithArgs("not-a-uuid").
		WillReturnError(&pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type uuid"})
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM voice_phone_rules")).WithArgs("user-1", "nope").
		WillReturnError(&pgconn.PgError{Code: "22P02"})

	if _, err := repo.GetCall(context.Background(), "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.DeleteRule(context.Background(), "user-1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for delete, got %v", err)
	}
}

func TestPostgresRepo_ListCallsBuildsFilters(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND direction = $2 AND status = $3 ORDER BY started_at DESC LIMIT $4 OFFSET $5")).
		WithArgs("user-1", DirectionInbound, StatusCompleted, MaxListLimit, 0).
		WillReturnRows(sqlmock.NewRows(callColumnNames))

	out, err := repo.ListCalls(context.Background(), "user-1", ListFilter{Direction: DirectionInbound, Status: StatusCompleted, Limit: 500})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty list, got %d", len(out))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRepo_DeleteRuleMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM voice_phone_rules")).
		WithArgs("user-1", "r-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.DeleteRule(context.Background(), "user-1", "r-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRepo_Migrate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	for range Migrations {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
