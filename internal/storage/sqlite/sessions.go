package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SessionRecord represents one listening session in the journal
type SessionRecord struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	StopReason  string     `json:"stop_reason,omitempty"`
	Transcripts int        `json:"transcripts"`
}

// CreateSession records the start of a session
func (s *Store) CreateSession(id string, startedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO sessions (id, started_at) VALUES (?, ?)`,
		id, startedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// EndSession records how and when a session ended
func (s *Store) EndSession(id string, endedAt time.Time, reason string) error {
	result, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ?, stop_reason = ? WHERE id = ?`,
		endedAt.UTC().Format(timeLayout), reason, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

const sessionColumns = `s.id, s.started_at, s.ended_at, s.stop_reason,
	(SELECT COUNT(*) FROM transcripts t WHERE t.session_id = s.id)`

// GetSessions returns sessions, newest first
func (s *Store) GetSessions(limit, offset int) ([]*SessionRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+`
		FROM sessions s
		ORDER BY s.started_at DESC
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var records []*SessionRecord
	for rows.Next() {
		record, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return records, nil
}

// GetSession returns one session by ID
func (s *Store) GetSession(id string) (*SessionRecord, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id)
	record, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return record, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*SessionRecord, error) {
	var record SessionRecord
	var startedAt string
	var endedAt, stopReason sql.NullString

	if err := row.Scan(&record.ID, &startedAt, &endedAt, &stopReason, &record.Transcripts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	var err error
	record.StartedAt, err = time.Parse(timeLayout, startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if endedAt.Valid {
		t, err := time.Parse(timeLayout, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ended_at: %w", err)
		}
		record.EndedAt = &t
	}
	if stopReason.Valid {
		record.StopReason = stopReason.String
	}
	return &record, nil
}
