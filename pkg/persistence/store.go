package persistence

import (
	"database/sql"
	"errors"
	"fmt"

	"codecrew/pkg/session"
)

// SessionStore persists session snapshots and their code versions. It is
// used by the run loop at terminal stages and safe to call repeatedly for
// the same session.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a store over an initialized database.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Store returns a SessionStore over the singleton connection.
func Store() *SessionStore {
	return NewSessionStore(GetDB())
}

// SaveSnapshot upserts the session row and appends any versions not yet
// recorded. Versions are append-only; existing rows are never rewritten.
func (s *SessionStore) SaveSnapshot(sess *session.Session) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var finishedAt any
	if t := sess.FinishedAt(); !t.IsZero() {
		finishedAt = t
	}

	_, err = tx.Exec(`
		INSERT INTO sessions (id, original_prompt, refined_prompt, active_prompt, choice, stage, attempt, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			refined_prompt = excluded.refined_prompt,
			active_prompt  = excluded.active_prompt,
			choice         = excluded.choice,
			stage          = excluded.stage,
			attempt        = excluded.attempt,
			finished_at    = excluded.finished_at`,
		sess.ID(), sess.OriginalPrompt(), sess.RefinedPrompt(), sess.ActivePrompt(),
		string(sess.Choice()), string(sess.Stage()), sess.Attempt(), sess.CreatedAt(), finishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", sess.ID(), err)
	}

	for _, v := range sess.Ledger().All() {
		_, err = tx.Exec(`
			INSERT INTO versions (session_id, attempt, code, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id, attempt) DO NOTHING`,
			sess.ID(), v.Attempt, v.Code, v.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert version %d for session %s: %w", v.Attempt, sess.ID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot for session %s: %w", sess.ID(), err)
	}
	return nil
}

// GetSession fetches one session row by ID.
func (s *SessionStore) GetSession(id string) (*SessionRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, original_prompt, refined_prompt, active_prompt, choice, stage, attempt, created_at, finished_at
		FROM sessions WHERE id = ?`, id)

	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return rec, nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *SessionStore) ListSessions(limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, original_prompt, refined_prompt, active_prompt, choice, stage, attempt, created_at, finished_at
		FROM sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return out, nil
}

// GetVersions returns every recorded code version for a session in
// attempt order.
func (s *SessionStore) GetVersions(sessionID string) ([]*VersionRecord, error) {
	rows, err := s.db.Query(`
		SELECT session_id, attempt, code, created_at
		FROM versions WHERE session_id = ? ORDER BY attempt`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get versions for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*VersionRecord
	for rows.Next() {
		var rec VersionRecord
		if err := rows.Scan(&rec.SessionID, &rec.Attempt, &rec.Code, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan version row: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate versions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	var refined, choice sql.NullString
	err := row.Scan(&rec.ID, &rec.OriginalPrompt, &refined, &rec.ActivePrompt,
		&choice, &rec.Stage, &rec.Attempt, &rec.CreatedAt, &rec.FinishedAt)
	if err != nil {
		return nil, err
	}
	rec.RefinedPrompt = refined.String
	rec.Choice = choice.String
	return &rec, nil
}
