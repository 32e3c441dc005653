// Package sqlite implements the file record store on an embedded SQLite
// database, for single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"rustler/internal/models"
	"rustler/internal/store"
)

// timeLayout is fixed width so that TEXT comparison orders instants.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS file_records (
	id               TEXT PRIMARY KEY,
	object_key       TEXT NOT NULL UNIQUE,
	original_name    TEXT NOT NULL,
	size_bytes       INTEGER NOT NULL CHECK (size_bytes >= 0),
	content_type     TEXT NOT NULL,
	status           TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
	attempt_count    INTEGER NOT NULL DEFAULT 0 CHECK (attempt_count >= 0),
	error_detail     TEXT,
	checksum         TEXT,
	result           TEXT,
	claimed_until    TEXT,
	last_enqueued_at TEXT,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	CHECK (error_detail IS NULL OR status = 'failed')
);
CREATE INDEX IF NOT EXISTS idx_file_records_status_created ON file_records (status, created_at);
CREATE INDEX IF NOT EXISTS idx_file_records_created ON file_records (created_at DESC);
`

const fileRecordColumns = `id, object_key, original_name, size_bytes, content_type, status, attempt_count,
	error_detail, checksum, result, claimed_until, last_enqueued_at, created_at, updated_at`

// Store implements store.FileRecordStore on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. DSN query
// parameters may be appended to path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}
	file := path
	if i := strings.IndexByte(file, '?'); i >= 0 {
		file = file[:i]
	}
	if file != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer keeps conditional updates serialised without SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	return &Store{db: db}, nil
}

// Migrate creates the schema when missing.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	log.Debug("SQLite schema ensured")
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) CreateFileRecord(ctx context.Context, rec *models.FileRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_records (
			id, object_key, original_name, size_bytes, content_type,
			status, attempt_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ObjectKey, rec.OriginalName, rec.SizeBytes, rec.ContentType,
		string(rec.Status), rec.AttemptCount, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
			return fmt.Errorf("file record %s: %w", rec.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("insert file record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) GetFileRecord(ctx context.Context, id string) (*models.FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileRecordColumns+` FROM file_records WHERE id = ?`, id)
	rec, err := scanFileRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file record %s: %w", id, err)
	}
	return rec, nil
}

func (s *Store) ClaimFileRecord(ctx context.Context, p store.ClaimParams) (*models.FileRecord, error) {
	now := formatTime(p.Now)
	return s.conditionalUpdate(ctx, p.ID, `
		UPDATE file_records
		SET status = 'processing',
			attempt_count = attempt_count + 1,
			claimed_until = ?,
			updated_at = MAX(updated_at, ?)
		WHERE id = ? AND status = ? AND attempt_count = ?
			AND (status = 'pending' OR claimed_until IS NULL OR claimed_until <= ?)`,
		formatTime(p.LeaseUntil), now, p.ID, string(p.ExpectedStatus), p.ExpectedAttempt, now,
	)
}

func (s *Store) CompleteFileRecord(ctx context.Context, p store.CompleteParams) (*models.FileRecord, error) {
	var result any
	if len(p.Result) > 0 {
		result = string(p.Result)
	}
	return s.conditionalUpdate(ctx, p.ID, `
		UPDATE file_records
		SET status = 'completed',
			checksum = ?,
			result = ?,
			claimed_until = NULL,
			updated_at = MAX(updated_at, ?)
		WHERE id = ? AND status = 'processing' AND attempt_count = ?`,
		p.Checksum, result, formatTime(p.Now), p.ID, p.Attempt,
	)
}

func (s *Store) FailFileRecord(ctx context.Context, p store.FailParams) (*models.FileRecord, error) {
	return s.conditionalUpdate(ctx, p.ID, `
		UPDATE file_records
		SET status = 'failed',
			error_detail = ?,
			claimed_until = NULL,
			updated_at = MAX(updated_at, ?)
		WHERE id = ? AND status = ? AND attempt_count = ?`,
		p.Detail, formatTime(p.Now), p.ID, string(p.ExpectedStatus), p.ExpectedAttempt,
	)
}

func (s *Store) ReleaseFileRecord(ctx context.Context, id string, attempt int, now time.Time) (*models.FileRecord, error) {
	return s.conditionalUpdate(ctx, id, `
		UPDATE file_records
		SET status = 'pending',
			claimed_until = NULL,
			updated_at = MAX(updated_at, ?)
		WHERE id = ? AND status = 'processing' AND attempt_count = ?`,
		formatTime(now), id, attempt,
	)
}

func (s *Store) RenewClaim(ctx context.Context, id string, attempt int, until time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE file_records SET claimed_until = ?
		WHERE id = ? AND status = 'processing' AND attempt_count = ?`,
		formatTime(until), id, attempt,
	)
	if err != nil {
		return fmt.Errorf("renew claim on file record %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("renew claim on file record %s: %w", id, store.ErrConflict)
	}
	return nil
}

func (s *Store) MarkEnqueued(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE file_records SET last_enqueued_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')`,
		formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("mark file record %s enqueued: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.conflictOrNotFound(ctx, id)
	}
	return nil
}

func (s *Store) ListReconcileCandidates(ctx context.Context, q store.ReconcileQuery) ([]*models.FileRecord, error) {
	return s.queryFileRecords(ctx, `
		SELECT `+fileRecordColumns+`
		FROM file_records
		WHERE (status = 'pending' AND COALESCE(last_enqueued_at, created_at) < ?)
			OR (status = 'processing' AND COALESCE(claimed_until, updated_at) < ?)
		ORDER BY created_at ASC
		LIMIT ?`,
		formatTime(q.PendingBefore), formatTime(q.LeaseExpiredBefore), q.Limit,
	)
}

func (s *Store) ListFileRecords(ctx context.Context, p store.ListParams) ([]*models.FileRecord, error) {
	query := `SELECT ` + fileRecordColumns + ` FROM file_records`
	var args []any
	if len(p.Statuses) > 0 {
		placeholders := make([]string, len(p.Statuses))
		for i, st := range p.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, p.Limit, p.Offset)
	return s.queryFileRecords(ctx, query, args...)
}

// conditionalUpdate runs a guarded UPDATE and returns the row it wrote, read
// back in the same statement.
func (s *Store) conditionalUpdate(ctx context.Context, id, query string, args ...any) (*models.FileRecord, error) {
	row := s.db.QueryRowContext(ctx, query+` RETURNING `+fileRecordColumns, args...)
	rec, err := scanFileRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.conflictOrNotFound(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("update file record %s: %w", id, err)
	}
	return rec, nil
}

func (s *Store) conflictOrNotFound(ctx context.Context, id string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM file_records WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check file record %s: %w", id, err)
	}
	if exists == 0 {
		return store.ErrNotFound
	}
	return fmt.Errorf("file record %s: %w", id, store.ErrConflict)
}

func (s *Store) queryFileRecords(ctx context.Context, query string, args ...any) ([]*models.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query file records: %w", err)
	}
	defer rows.Close()

	var records []*models.FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file records: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileRecord(row rowScanner) (*models.FileRecord, error) {
	var (
		rec                           models.FileRecord
		status                        string
		errorDetail, checksum, result sql.NullString
		claimedUntil, lastEnqueued    sql.NullString
		createdAt, updatedAt          string
	)
	if err := row.Scan(
		&rec.ID, &rec.ObjectKey, &rec.OriginalName, &rec.SizeBytes, &rec.ContentType,
		&status, &rec.AttemptCount, &errorDetail, &checksum, &result,
		&claimedUntil, &lastEnqueued, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	rec.Status = models.FileStatus(status)
	if errorDetail.Valid {
		rec.ErrorDetail = &errorDetail.String
	}
	if checksum.Valid {
		rec.Checksum = &checksum.String
	}
	if result.Valid && result.String != "" {
		rec.Result = json.RawMessage(result.String)
	}

	var err error
	if rec.ClaimedUntil, err = parseNullableTime(claimedUntil); err != nil {
		return nil, err
	}
	if rec.LastEnqueuedAt, err = parseNullableTime(lastEnqueued); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func parseNullableTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var _ store.FileRecordStore = (*Store)(nil)
