// Package repository provides data access for debug session records.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/remote-debug-console/backend/internal/model"
)

// DebugSessionRepository persists the lifecycle of debugger processes.
type DebugSessionRepository struct {
	db *sql.DB
}

// NewDebugSessionRepository creates a repository over an open database.
func NewDebugSessionRepository(db *sql.DB) *DebugSessionRepository {
	return &DebugSessionRepository{db: db}
}

// Create inserts a running record and fills in its id.
func (r *DebugSessionRepository) Create(ctx context.Context, record *model.DebugSessionRecord) error {
	if record.Status == "" {
		record.Status = model.SessionStatusRunning
	}

	query := `
		INSERT INTO debug_sessions (pid, command, status, started_at)
		VALUES (?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		record.PID,
		record.Command,
		record.Status,
		record.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read record id: %w", err)
	}
	record.ID = id
	return nil
}

// MarkEnded closes the running record for a pid. Only the most recent
// running record is touched; earlier ones belong to recycled pids.
func (r *DebugSessionRepository) MarkEnded(ctx context.Context, pid int, reason string, endedAt time.Time) error {
	query := `
		UPDATE debug_sessions
		SET status = ?, ended_at = ?, end_reason = ?
		WHERE id = (
			SELECT id FROM debug_sessions
			WHERE pid = ? AND status = ?
			ORDER BY started_at DESC, id DESC
			LIMIT 1
		)
	`
	result, err := r.db.ExecContext(ctx, query,
		model.SessionStatusEnded, endedAt, reason, pid, model.SessionStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark session ended: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return model.ErrSessionNotFound
	}
	return nil
}

// List returns every record, newest first.
func (r *DebugSessionRepository) List(ctx context.Context) ([]*model.DebugSessionRecord, error) {
	query := `
		SELECT id, pid, command, status, started_at, ended_at, end_reason
		FROM debug_sessions
		ORDER BY started_at DESC, id DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}
	defer rows.Close()

	var records []*model.DebugSessionRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// ListRunning returns the records still marked running, newest first.
func (r *DebugSessionRepository) ListRunning(ctx context.Context) ([]*model.DebugSessionRecord, error) {
	query := `
		SELECT id, pid, command, status, started_at, ended_at, end_reason
		FROM debug_sessions
		WHERE status = ?
		ORDER BY started_at DESC, id DESC
	`
	rows, err := r.db.QueryContext(ctx, query, model.SessionStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list running records: %w", err)
	}
	defer rows.Close()

	var records []*model.DebugSessionRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (*model.DebugSessionRecord, error) {
	record := &model.DebugSessionRecord{}
	var endedAt sql.NullTime
	var endReason sql.NullString

	err := rows.Scan(
		&record.ID,
		&record.PID,
		&record.Command,
		&record.Status,
		&record.StartedAt,
		&endedAt,
		&endReason,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan session record: %w", err)
	}

	if endedAt.Valid {
		t := endedAt.Time
		record.EndedAt = &t
	}
	if endReason.Valid {
		record.EndReason = endReason.String
	}
	return record, nil
}

// Recorder adapts the repository to the registry's lifecycle callback
// interface. Persistence failures are logged, never propagated: losing
// a dashboard row must not affect a live debug session.
type Recorder struct {
	repo *DebugSessionRepository
}

// NewRecorder wraps the repository for use as a session.Recorder.
func NewRecorder(repo *DebugSessionRepository) *Recorder {
	return &Recorder{repo: repo}
}

func (r *Recorder) SessionStarted(pid int, command string, startedAt time.Time) {
	record := &model.DebugSessionRecord{PID: pid, Command: command, StartedAt: startedAt}
	if err := r.repo.Create(context.Background(), record); err != nil {
		log.Printf("Failed to record session start for pid %d: %v", pid, err)
	}
}

func (r *Recorder) SessionEnded(pid int, reason string) {
	if err := r.repo.MarkEnded(context.Background(), pid, reason, time.Now()); err != nil {
		log.Printf("Failed to record session end for pid %d: %v", pid, err)
	}
}
