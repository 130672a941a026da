package audit

import (
	"context"
	"database/sql"
)

// Migrations creates the audit table. There is no UPDATE or DELETE path in code.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS voice_audit_events (
  id           UUID PRIMARY KEY,
  user_id      TEXT NOT NULL,
  type         TEXT NOT NULL,
  ip_address   TEXT NOT NULL DEFAULT '',
  call_id      TEXT NOT NULL DEFAULT '',
  phone_number TEXT NOT NULL DEFAULT '',
  message      TEXT NOT NULL DEFAULT '',
  metadata     JSONB,
  created_at   TIMESTAMPTZ NOT NULL
)`,
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO voice_audit_events (id, user_id, type, ip_address, call_id, phone_number, message, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`
	var metadata sql.NullString
	if e.Metadata != "" {
		metadata = sql.NullString{String: e.Metadata, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.UserID, e.Type, e.IPAddress, e.CallID, e.PhoneNumber, e.Message, metadata, e.CreatedAt)
	return err
}
