package sqlite

import (
	"database/sql"
	"fmt"
	"time"
)

// TranscriptRecord represents one transcribed segment
type TranscriptRecord struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Sequence   int       `json:"sequence"`
	Text       string    `json:"text"`
	CapturedAt time.Time `json:"captured_at"`
	CreatedAt  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	LatencyMs  int64     `json:"latency_ms"`
}

// StoreTranscript stores a transcript record
func (s *Store) StoreTranscript(record *TranscriptRecord) (int64, error) {
	var capturedAt sql.NullString
	if !record.CapturedAt.IsZero() {
		capturedAt = sql.NullString{String: record.CapturedAt.UTC().Format(timeLayout), Valid: true}
	}

	result, err := s.db.Exec(
		`INSERT INTO transcripts
		(session_id, sequence, text, captured_at, created_at, duration_ms, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.SessionID,
		record.Sequence,
		record.Text,
		capturedAt,
		record.CreatedAt.UTC().Format(timeLayout),
		record.DurationMs,
		record.LatencyMs,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transcript: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	record.ID = id
	return id, nil
}

// GetTranscriptsBySession returns a session's transcripts in capture order
func (s *Store) GetTranscriptsBySession(sessionID string, limit, offset int) ([]*TranscriptRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, sequence, text, captured_at, created_at, duration_ms, latency_ms
		FROM transcripts
		WHERE session_id = ?
		ORDER BY sequence ASC
		LIMIT ? OFFSET ?`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcripts by session: %w", err)
	}
	defer rows.Close()
	return scanTranscripts(rows)
}

// GetRecentTranscripts returns transcripts across sessions, newest first
func (s *Store) GetRecentTranscripts(limit, offset int) ([]*TranscriptRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, sequence, text, captured_at, created_at, duration_ms, latency_ms
		FROM transcripts
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcripts: %w", err)
	}
	defer rows.Close()
	return scanTranscripts(rows)
}

func scanTranscripts(rows *sql.Rows) ([]*TranscriptRecord, error) {
	var records []*TranscriptRecord
	for rows.Next() {
		var record TranscriptRecord
		var createdAt string
		var capturedAt sql.NullString
		var durationMs, latencyMs sql.NullInt64

		if err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&record.Sequence,
			&record.Text,
			&capturedAt,
			&createdAt,
			&durationMs,
			&latencyMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}

		var err error
		record.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}

		// Handle nullable fields
		if capturedAt.Valid {
			record.CapturedAt, err = time.Parse(timeLayout, capturedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse captured_at: %w", err)
			}
		}
		record.DurationMs = durationMs.Int64
		record.LatencyMs = latencyMs.Int64

		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transcripts: %w", err)
	}
	return records, nil
}
