package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteFileStore implements CaseFileStore on SQLite. WAL mode keeps
// repair reads concurrent with worker writes; per-file transitions are
// single guarded UPDATE statements, which is the only serialization
// point between workers and the repair sweep.
type SQLiteFileStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewSQLiteFileStore opens (and if necessary creates) the database.
func NewSQLiteFileStore(dbPath string, logger *zap.SugaredLogger) (*SQLiteFileStore, error) {
	if dir := filepath.Dir(dbPath); dbPath != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	path := dbPath
	if dbPath == ":memory:" {
		// Shared cache so every pooled connection sees the same database.
		path = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	store := &SQLiteFileStore{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Infow("Opened case file store", "path", dbPath)
	return store, nil
}

func (s *SQLiteFileStore) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS case_files (
		id              TEXT PRIMARY KEY,
		case_id         TEXT NOT NULL,
		filename        TEXT NOT NULL DEFAULT '',
		content_hash    TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL DEFAULT 'queued',
		event_count     INTEGER NOT NULL DEFAULT 0,
		violation_count INTEGER NOT NULL DEFAULT 0,
		indicator_count INTEGER NOT NULL DEFAULT 0,
		indexed         INTEGER NOT NULL DEFAULT 0,
		index_name      TEXT NOT NULL DEFAULT '',
		task_id         TEXT NOT NULL DEFAULT '',
		hidden          INTEGER NOT NULL DEFAULT 0,
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_case_files_case ON case_files(case_id);
	CREATE INDEX IF NOT EXISTS idx_case_files_status ON case_files(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create case_files schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteFileStore) Close() error {
	return s.db.Close()
}

const caseFileColumns = `id, case_id, filename, content_hash, status, event_count,
	violation_count, indicator_count, indexed, index_name, task_id, hidden,
	created_at, updated_at`

func scanCaseFile(row interface{ Scan(...interface{}) error }) (*CaseFile, error) {
	var f CaseFile
	err := row.Scan(&f.ID, &f.CaseID, &f.Filename, &f.ContentHash, &f.Status,
		&f.EventCount, &f.ViolationCount, &f.IndicatorCount, &f.Indexed,
		&f.IndexName, &f.TaskID, &f.Hidden, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateFile inserts a new file row.
func (s *SQLiteFileStore) CreateFile(ctx context.Context, f *CaseFile) error {
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	if f.Status == "" {
		f.Status = "queued"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO case_files (`+caseFileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.CaseID, f.Filename, f.ContentHash, f.Status, f.EventCount,
		f.ViolationCount, f.IndicatorCount, f.Indexed, f.IndexName, f.TaskID,
		f.Hidden, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert case file: %w", err)
	}
	return nil
}

// GetFile returns one file row.
func (s *SQLiteFileStore) GetFile(ctx context.Context, id string) (*CaseFile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+caseFileColumns+` FROM case_files WHERE id = ?`, id)
	f, err := scanCaseFile(row)
	if err == sql.ErrNoRows {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case file: %w", err)
	}
	return f, nil
}

// FilesByCase returns all file rows of a case.
func (s *SQLiteFileStore) FilesByCase(ctx context.Context, caseID string) ([]CaseFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+caseFileColumns+` FROM case_files WHERE case_id = ? ORDER BY created_at`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query case files: %w", err)
	}
	defer rows.Close()
	return collectCaseFiles(rows)
}

// FilesByStatus returns all file rows currently in one of the statuses.
func (s *SQLiteFileStore) FilesByStatus(ctx context.Context, statuses ...string) ([]CaseFile, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(statuses)), ",")
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+caseFileColumns+` FROM case_files WHERE status IN (`+placeholders+`) ORDER BY created_at`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query case files by status: %w", err)
	}
	defer rows.Close()
	return collectCaseFiles(rows)
}

func collectCaseFiles(rows *sql.Rows) ([]CaseFile, error) {
	var files []CaseFile
	for rows.Next() {
		f, err := scanCaseFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan case file: %w", err)
		}
		files = append(files, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("case file rows: %w", err)
	}
	return files, nil
}

// Transition atomically moves a file between statuses. The status guard
// in the WHERE clause is what keeps a worker's own update and a racing
// repair decision from producing an impossible row.
func (s *SQLiteFileStore) Transition(ctx context.Context, id string, from []string, to, taskID string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition requires at least one expected status")
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(from)), ",")
	args := []interface{}{to, taskID, time.Now().UTC(), id}
	for _, st := range from {
		args = append(args, st)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE case_files SET status = ?, task_id = ?, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition case file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read transition result: %w", err)
	}
	return affected == 1, nil
}

// UpdateFile writes the full mutable state of a row.
func (s *SQLiteFileStore) UpdateFile(ctx context.Context, f *CaseFile) error {
	f.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, updateCaseFileSQL, updateCaseFileArgs(f)...)
	if err != nil {
		return fmt.Errorf("failed to update case file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return ErrFileNotFound
	}
	return nil
}

const updateCaseFileSQL = `
	UPDATE case_files SET
		status = ?, event_count = ?, violation_count = ?, indicator_count = ?,
		indexed = ?, index_name = ?, task_id = ?, hidden = ?, updated_at = ?
	WHERE id = ?`

func updateCaseFileArgs(f *CaseFile) []interface{} {
	return []interface{}{
		f.Status, f.EventCount, f.ViolationCount, f.IndicatorCount,
		f.Indexed, f.IndexName, f.TaskID, f.Hidden, f.UpdatedAt, f.ID,
	}
}

// ApplyBatch writes repaired rows in a single transaction so a failure
// mid-batch leaves every row untouched.
func (s *SQLiteFileStore) ApplyBatch(ctx context.Context, files []CaseFile) error {
	if len(files) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin repair batch: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	for i := range files {
		files[i].UpdatedAt = now
		res, err := tx.ExecContext(ctx, updateCaseFileSQL, updateCaseFileArgs(&files[i])...)
		if err != nil {
			return fmt.Errorf("repair batch update for file %s: %w", files[i].ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("repair batch result for file %s: %w", files[i].ID, err)
		}
		if affected == 0 {
			return fmt.Errorf("repair batch file %s: %w", files[i].ID, ErrFileNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit repair batch: %w", err)
	}
	committed = true
	return nil
}
