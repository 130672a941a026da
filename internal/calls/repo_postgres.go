package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-secretary/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// Migrations creates the voice tables. Every statement is idempotent.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS voice_calls (
  id               UUID PRIMARY KEY,
  call_sid         TEXT NOT NULL UNIQUE,
  user_id          TEXT NOT NULL,
  direction        TEXT NOT NULL,
  status           TEXT NOT NULL,
  from_number      TEXT NOT NULL,
  to_number        TEXT NOT NULL,
  purpose          TEXT,
  context          JSONB NOT NULL DEFAULT '{}',
  task_id          TEXT,
  started_at       TIMESTAMPTZ NOT NULL,
  answered_at      TIMESTAMPTZ,
  ended_at         TIMESTAMPTZ,
  duration_seconds INT,
  transcription    TEXT,
  summary          TEXT,
  created_at       TIMESTAMPTZ NOT NULL,
  updated_at       TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS voice_calls_user_started_idx ON voice_calls (user_id, started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS voice_call_messages (
  id        UUID PRIMARY KEY,
  call_id   UUID NOT NULL REFERENCES voice_calls(id),
  role      TEXT NOT NULL,
  content   TEXT NOT NULL,
  timestamp TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS voice_call_messages_call_idx ON voice_call_messages (call_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS voice_phone_rules (
  id           UUID PRIMARY KEY,
  user_id      TEXT NOT NULL,
  phone_number TEXT NOT NULL,
  rule_type    TEXT NOT NULL,
  label        TEXT NOT NULL DEFAULT '',
  notes        TEXT NOT NULL DEFAULT '',
  created_at   TIMESTAMPTZ NOT NULL,
  UNIQUE (user_id, phone_number)
)`,
	`CREATE TABLE IF NOT EXISTS voice_settings (
  user_id               TEXT PRIMARY KEY,
  inbound_enabled       BOOLEAN NOT NULL DEFAULT FALSE,
  default_greeting      TEXT NOT NULL,
  auto_answer_whitelist BOOLEAN NOT NULL DEFAULT FALSE,
  record_calls          BOOLEAN NOT NULL DEFAULT FALSE,
  notify_via_chat       BOOLEAN NOT NULL DEFAULT TRUE,
  elevenlabs_voice_id   TEXT,
  created_at            TIMESTAMPTZ NOT NULL,
  updated_at            TIMESTAMPTZ NOT NULL
)`,
}

// PostgresRepo stores voice data through database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Migrate applies Migrations.
func (r *PostgresRepo) Migrate(ctx context.Context) error {
	return utils.Migrate(ctx, r.db, Migrations)
}

const callColumns = `id, call_sid, user_id, direction, status, from_number, to_number, purpose, context, task_id,
started_at, answered_at, ended_at, duration_seconds, transcription, summary, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c             Call
		purpose       sql.NullString
		rawContext    []byte
		taskID        sql.NullString
		answeredAt    sql.NullTime
		endedAt       sql.NullTime
		duration      sql.NullInt64
		transcription sql.NullString
		summary       sql.NullString
	)
	if err := row.Scan(
		&c.ID,
		&c.CallSID,
		&c.UserID,
		&c.Direction,
		&c.Status,
		&c.FromNumber,
		&c.ToNumber,
		&purpose,
		&rawContext,
		&taskID,
		&c.StartedAt,
		&answeredAt,
		&endedAt,
		&duration,
		&transcription,
		&summary,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return Call{}, err
	}
	c.Purpose = Purpose(purpose.String)
	c.TaskID = taskID.String
	c.Transcription = transcription.String
	c.Summary = summary.String
	if answeredAt.Valid {
		t := answeredAt.Time
		c.AnsweredAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		c.DurationSeconds = &d
	}
	if len(rawContext) > 0 {
		if err := json.Unmarshal(rawContext, &c.Context); err != nil {
			return Call{}, fmt.Errorf("decode context: %w", err)
		}
	}
	return c, nil
}

func (r *PostgresRepo) InsertCall(ctx context.Context, c Call) error {
	const q = `
INSERT INTO voice_calls (` + callColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
`
	rawContext, err := marshalContext(c.Context)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q,
		c.ID,
		c.CallSID,
		c.UserID,
		c.Direction,
		c.Status,
		c.FromNumber,
		c.ToNumber,
		nullString(string(c.Purpose)),
		rawContext,
		nullString(c.TaskID),
		c.StartedAt,
		nullTime(c.AnsweredAt),
		nullTime(c.EndedAt),
		nullInt(c.DurationSeconds),
		nullString(c.Transcription),
		nullString(c.Summary),
		c.CreatedAt,
		c.UpdatedAt,
	)
	return translateErr(err)
}

func (r *PostgresRepo) GetCall(ctx context.Context, id string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM voice_calls WHERE id = $1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id))
	return c, translateErr(err)
}

func (r *PostgresRepo) GetCallBySID(ctx context.Context, callSID string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM voice_calls WHERE call_sid = $1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, callSID))
	return c, translateErr(err)
}

func (r *PostgresRepo) SwapStatus(ctx context.Context, c Call, prevStatus Status, upd StatusUpdate) (bool, error) {
	const q = `
UPDATE voice_calls
SET status = $3, answered_at = $4, ended_at = $5, duration_seconds = $6,
    transcription = COALESCE($7, transcription), summary = COALESCE($8, summary), updated_at = $9
WHERE id = $1 AND status = $2
`
	res, err := r.db.ExecContext(ctx, q,
		c.ID,
		prevStatus,
		c.Status,
		nullTime(c.AnsweredAt),
		nullTime(c.EndedAt),
		nullInt(c.DurationSeconds),
		optionalString(upd.Transcription),
		optionalString(upd.Summary),
		c.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) SetTranscript(ctx context.Context, id, transcription, summary string) error {
	const q = `
UPDATE voice_calls SET transcription = $2, summary = $3, updated_at = $4
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, id, nullString(transcription), nullString(summary), time.Now().UTC())
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *PostgresRepo) ListCalls(ctx context.Context, userID string, f ListFilter) ([]Call, error) {
	f = f.normalized()

	var b strings.Builder
	b.WriteString(`SELECT ` + callColumns + ` FROM voice_calls WHERE user_id = $1`)
	args := []any{userID}
	if f.Direction != "" {
		args = append(args, f.Direction)
		fmt.Fprintf(&b, " AND direction = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		fmt.Fprintf(&b, " AND status = $%d", len(args))
	}
	args = append(args, f.Limit, f.Offset)
	fmt.Fprintf(&b, " ORDER BY started_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Call{}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) InsertMessage(ctx context.Context, m CallMessage) error {
	const q = `
INSERT INTO voice_call_messages (id, call_id, role, content, timestamp)
VALUES ($1,$2,$3,$4,$5)
`
	_, err := r.db.ExecContext(ctx, q, m.ID, m.CallID, m.Role, m.Content, m.Timestamp)
	return translateErr(err)
}

func (r *PostgresRepo) ListMessages(ctx context.Context, callID string) ([]CallMessage, error) {
	const q = `
SELECT id, call_id, role, content, timestamp
FROM voice_call_messages
WHERE call_id = $1
ORDER BY timestamp ASC
`
	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []CallMessage{}
	for rows.Next() {
		var m CallMessage
		if err := rows.Scan(&m.ID, &m.CallID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) GetSettings(ctx context.Context, userID string) (VoiceSettings, error) {
	const q = `
SELECT user_id, inbound_enabled, default_greeting, auto_answer_whitelist, record_calls,
       notify_via_chat, elevenlabs_voice_id, created_at, updated_at
FROM voice_settings
WHERE user_id = $1
`
	var (
		s       VoiceSettings
		voiceID sql.NullString
	)
	err := r.db.QueryRowContext(ctx, q, userID).Scan(
		&s.UserID,
		&s.InboundEnabled,
		&s.DefaultGreeting,
		&s.AutoAnswerWhitelist,
		&s.RecordCalls,
		&s.NotifyViaChat,
		&voiceID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return VoiceSettings{}, translateErr(err)
	}
	s.ElevenLabsVoiceID = voiceID.String
	return s, nil
}

func (r *PostgresRepo) UpsertSettings(ctx context.Context, s VoiceSettings) error {
	const q = `
INSERT INTO voice_settings (
  user_id, inbound_enabled, default_greeting, auto_answer_whitelist, record_calls,
  notify_via_chat, elevenlabs_voice_id, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (user_id) DO UPDATE SET
  inbound_enabled = EXCLUDED.inbound_enabled,
  default_greeting = EXCLUDED.default_greeting,
  auto_answer_whitelist = EXCLUDED.auto_answer_whitelist,
  record_calls = EXCLUDED.record_calls,
  notify_via_chat = EXCLUDED.notify_via_chat,
  elevenlabs_voice_id = EXCLUDED.elevenlabs_voice_id,
  updated_at = EXCLUDED.updated_at
`
	_, err := r.db.ExecContext(ctx, q,
		s.UserID,
		s.InboundEnabled,
		s.DefaultGreeting,
		s.AutoAnswerWhitelist,
		s.RecordCalls,
		s.NotifyViaChat,
		nullString(s.ElevenLabsVoiceID),
		s.CreatedAt,
		s.UpdatedAt,
	)
	return err
}

const ruleColumns = `id, user_id, phone_number, rule_type, label, notes, created_at`

func scanRule(row rowScanner) (PhoneNumberRule, error) {
	var rule PhoneNumberRule
	err := row.Scan(&rule.ID, &rule.UserID, &rule.PhoneNumber, &rule.RuleType, &rule.Label, &rule.Notes, &rule.CreatedAt)
	return rule, err
}

func (r *PostgresRepo) InsertRule(ctx context.Context, rule PhoneNumberRule) error {
	const q = `INSERT INTO voice_phone_rules (` + ruleColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.db.ExecContext(ctx, q,
		rule.ID, rule.UserID, rule.PhoneNumber, rule.RuleType, rule.Label, rule.Notes, rule.CreatedAt)
	return translateErr(err)
}

func (r *PostgresRepo) ListRules(ctx context.Context, userID string) ([]PhoneNumberRule, error) {
	const q = `SELECT ` + ruleColumns + ` FROM voice_phone_rules WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []PhoneNumberRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) FindRule(ctx context.Context, userID, phoneNumber string) (PhoneNumberRule, error) {
	const q = `SELECT ` + ruleColumns + ` FROM voice_phone_rules WHERE user_id = $1 AND phone_number = $2`
	rule, err := scanRule(r.db.QueryRowContext(ctx, q, userID, phoneNumber))
	return rule, translateErr(err)
}

func (r *PostgresRepo) DeleteRule(ctx context.Context, userID, id string) error {
	const q = `DELETE FROM voice_phone_rules WHERE user_id = $1 AND id = $2`
	res, err := r.db.ExecContext(ctx, q, userID, id)
	if err != nil {
		return translateErr(err)
	}
	return requireAffected(res)
}

const (
	uniqueViolation = "23505"
	// Raised when a lookup key is not a valid uuid.
	invalidTextRepresentation = "22P02"
)

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case invalidTextRepresentation:
			return ErrNotFound
		}
	}
	return err
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalContext(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	return b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func optionalString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
