package model

import (
	"context"
	"database/sql"
	"time"

	"wabot-gateway/database"

	"github.com/pkg/errors"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is the registry row of one bot session.
type SessionRecord struct {
	SessionID  string    `json:"sessionId"`
	Name       string    `json:"name"`
	Port       int       `json:"port"`
	WebhookURL string    `json:"webhookUrl,omitempty"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// SessionStore persists session metadata and the last known status.
// The pairing credentials themselves live in the session directory, not here.
type SessionStore struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewSessionStore(db *sql.DB, dialect database.Dialect) *SessionStore {
	return &SessionStore{db: db, dialect: dialect}
}

func (s *SessionStore) Migrate(ctx context.Context) error {
	schema := `
        CREATE TABLE IF NOT EXISTS wabot_sessions (
            session_id   VARCHAR(255) PRIMARY KEY,
            name         VARCHAR(255) NOT NULL DEFAULT '',
            port         INT NOT NULL,
            webhook_url  TEXT,
            status       VARCHAR(32) NOT NULL DEFAULT 'disconnected',
            created_at   TIMESTAMP NOT NULL,
            updated_at   TIMESTAMP NOT NULL
        )`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "create wabot_sessions")
	}
	return nil
}

func (s *SessionStore) Create(ctx context.Context, rec *SessionRecord) error {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
        INSERT INTO wabot_sessions (session_id, name, port, webhook_url, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rec.SessionID, rec.Name, rec.Port, nullString(rec.WebhookURL), rec.Status.String(), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "insert session %s", rec.SessionID)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
        SELECT session_id, name, port, webhook_url, status, created_at, updated_at
        FROM wabot_sessions
        WHERE session_id = ?`), sessionID)

	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get session %s", sessionID)
	}
	return rec, nil
}

func (s *SessionStore) List(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT session_id, name, port, webhook_url, status, created_at, updated_at
        FROM wabot_sessions
        ORDER BY created_at ASC, session_id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// UpdateStatus records the last status a controller reached.
func (s *SessionStore) UpdateStatus(ctx context.Context, sessionID string, status Status) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
        UPDATE wabot_sessions
        SET status = ?, updated_at = ?
        WHERE session_id = ?`), status.String(), time.Now().UTC(), sessionID)
	if err != nil {
		return errors.Wrapf(err, "update status of %s", sessionID)
	}
	return expectOneRow(res)
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM wabot_sessions WHERE session_id = ?`), sessionID)
	if err != nil {
		return errors.Wrapf(err, "delete session %s", sessionID)
	}
	return expectOneRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var (
		rec     SessionRecord
		webhook sql.NullString
		status  string
	)
	if err := row.Scan(&rec.SessionID, &rec.Name, &rec.Port, &webhook, &status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.WebhookURL = webhook.String

	parsed, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	rec.Status = parsed
	return &rec, nil
}

func expectOneRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
