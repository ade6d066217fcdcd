// Package store keeps a local SQLite history of finished synchronization
// runs, next to the queue file. The queue file remains the source of truth
// for job state; the store only serves inspection and the logs command.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/psmsmets/vdmsync/internal/engine"
)

// Store provides SQLite-backed run history.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Run is one recorded synchronization run.
type Run struct {
	ID            string
	JobID         string
	Status        string
	PausedAt      *time.Time
	Bytes         int64
	QuotaExceeded bool
	Error         string
	CreatedAt     time.Time
}

// New opens the database at the given path and runs migrations.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// migrate runs all pending migrations.
func (s *Store) migrate() error {
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE job_runs (
					run_id TEXT PRIMARY KEY,
					job_id TEXT NOT NULL,
					status TEXT NOT NULL,
					paused_at DATETIME,
					bytes INTEGER DEFAULT 0,
					quota_exceeded INTEGER DEFAULT 0,
					error_message TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX idx_job_runs_job ON job_runs(job_id, created_at);
			`,
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
		s.logger.Info("applied migration", "version", m.version)
	}
	return nil
}

// RecordRun stores the outcome of a finished run under a fresh run id.
func (s *Store) RecordRun(jobID string, out engine.Outcome) error {
	const query = `
		INSERT INTO job_runs (
			run_id, job_id, status, paused_at, bytes, quota_exceeded, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var pausedAt any
	if out.PausedAt != nil {
		pausedAt = out.PausedAt.UTC()
	}

	_, err := s.db.Exec(
		query,
		uuid.New().String(), jobID, out.Status(), pausedAt,
		out.Bytes, out.QuotaExceeded, out.Error, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Runs retrieves the recorded runs for a job, newest first. A limit of 0
// returns everything.
func (s *Store) Runs(jobID string, limit int) ([]Run, error) {
	query := `
		SELECT run_id, job_id, status, paused_at, bytes, quota_exceeded, error_message, created_at
		FROM job_runs
		WHERE job_id = ?
		ORDER BY created_at DESC
	`
	args := []any{jobID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r        Run
			pausedAt sql.NullTime
			errMsg   sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.JobID, &r.Status, &pausedAt,
			&r.Bytes, &r.QuotaExceeded, &errMsg, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if pausedAt.Valid {
			t := pausedAt.Time
			r.PausedAt = &t
		}
		r.Error = errMsg.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return out, nil
}
