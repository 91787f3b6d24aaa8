// Package storage - browser launch history
package storage

import (
	"database/sql"
	"fmt"
	"time"

	"identity-orchestrator/internal/models"
)

// LaunchStore records browser sessions per profile
type LaunchStore struct {
	db *Database
}

// NewLaunchStore creates a new LaunchStore
func NewLaunchStore(db *Database) *LaunchStore {
	return &LaunchStore{db: db}
}

// RecordLaunch inserts an open session for a spawned process
func (s *LaunchStore) RecordLaunch(profileID string, pid, generation int, startedAt time.Time) (*models.LaunchRecord, error) {
	result, err := s.db.db.Exec(`
		INSERT INTO launches (profile_id, pid, generation, started_at)
		VALUES (?, ?, ?, ?)
	`, profileID, pid, generation, startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record launch: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &models.LaunchRecord{
		ID:         id,
		ProfileID:  profileID,
		PID:        pid,
		Generation: generation,
		StartedAt:  startedAt,
	}, nil
}

// RecordClose closes the open session matching the event's profile and pid
func (s *LaunchStore) RecordClose(event models.ProfileClosedEvent) error {
	result, err := s.db.db.Exec(`
		UPDATE launches
		SET closed_at = ?, exit_error = ?, requested = ?
		WHERE profile_id = ? AND pid = ? AND closed_at IS NULL
	`, event.At, event.ExitError, event.Requested, event.ProfileID, event.PID)
	if err != nil {
		return fmt.Errorf("failed to record close: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("open launch for profile %s pid %d: %w", event.ProfileID, event.PID, ErrNotFound)
	}
	return nil
}

// CloseDangling marks sessions left open by a previous run as closed
func (s *LaunchStore) CloseDangling(at time.Time) (int64, error) {
	result, err := s.db.db.Exec(`
		UPDATE launches SET closed_at = ?, exit_error = 'orchestrator restarted'
		WHERE closed_at IS NULL
	`, at)
	if err != nil {
		return 0, fmt.Errorf("failed to close dangling launches: %w", err)
	}
	return result.RowsAffected()
}

// Recent returns the latest sessions of a profile, newest first
func (s *LaunchStore) Recent(profileID string, limit int) ([]*models.LaunchRecord, error) {
	rows, err := s.db.db.Query(`
		SELECT id, profile_id, pid, generation, started_at, closed_at, exit_error, requested
		FROM launches
		WHERE profile_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get launches: %w", err)
	}
	defer rows.Close()

	var records []*models.LaunchRecord
	for rows.Next() {
		r := &models.LaunchRecord{}
		var closedAt sql.NullTime
		if err := rows.Scan(
			&r.ID, &r.ProfileID, &r.PID, &r.Generation, &r.StartedAt, &closedAt, &r.ExitError, &r.Requested,
		); err != nil {
			return nil, fmt.Errorf("failed to scan launch: %w", err)
		}
		if closedAt.Valid {
			t := closedAt.Time
			r.ClosedAt = &t
		}
		records = append(records, r)
	}

	return records, rows.Err()
}
