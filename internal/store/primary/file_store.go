package primary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"rustler/internal/models"
	"rustler/internal/store"
)

const fileRecordColumns = `id, object_key, original_name, size_bytes, content_type, status, attempt_count,
	error_detail, checksum, result, claimed_until, last_enqueued_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanFileRecord scans one row selected with fileRecordColumns.
func scanFileRecord(row rowScanner) (*models.FileRecord, error) {
	rec := &models.FileRecord{}
	var status string
	var result []byte
	err := row.Scan(
		&rec.ID,
		&rec.ObjectKey,
		&rec.OriginalName,
		&rec.SizeBytes,
		&rec.ContentType,
		&status,
		&rec.AttemptCount,
		&rec.ErrorDetail,
		&rec.Checksum,
		&result,
		&rec.ClaimedUntil,
		&rec.LastEnqueuedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = models.FileStatus(status)
	if len(result) > 0 {
		rec.Result = json.RawMessage(result)
	}
	return rec, nil
}

// CreateFileRecord inserts a new record. The caller assigns ID, ObjectKey and timestamps.
func (s *StoreImpl) CreateFileRecord(ctx context.Context, rec *models.FileRecord) error {
	query := `
		INSERT INTO file_records (
			id, object_key, original_name, size_bytes, content_type,
			status, attempt_count, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.Exec(ctx, query,
		rec.ID, rec.ObjectKey, rec.OriginalName, rec.SizeBytes, rec.ContentType,
		string(rec.Status), rec.AttemptCount, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return fmt.Errorf("file record %s: %w", rec.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert file record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *StoreImpl) GetFileRecord(ctx context.Context, id string) (*models.FileRecord, error) {
	query := `SELECT ` + fileRecordColumns + ` FROM file_records WHERE id = $1`
	rec, err := scanFileRecord(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file record %s: %w", id, err)
	}
	return rec, nil
}

// ClaimFileRecord moves a record into processing and increments attempt_count.
func (s *StoreImpl) ClaimFileRecord(ctx context.Context, p store.ClaimParams) (*models.FileRecord, error) {
	query := `
		UPDATE file_records
		SET status = 'processing',
			attempt_count = attempt_count + 1,
			claimed_until = $4,
			updated_at = GREATEST(updated_at, $5)
		WHERE id = $1 AND status = $2 AND attempt_count = $3
			AND (status = 'pending' OR claimed_until IS NULL OR claimed_until <= $5)
		RETURNING ` + fileRecordColumns

	return s.conditionalUpdate(ctx, p.ID, query,
		p.ID, string(p.ExpectedStatus), p.ExpectedAttempt, p.LeaseUntil, p.Now,
	)
}

// CompleteFileRecord commits processing output for the claim identified by attempt.
func (s *StoreImpl) CompleteFileRecord(ctx context.Context, p store.CompleteParams) (*models.FileRecord, error) {
	query := `
		UPDATE file_records
		SET status = 'completed',
			checksum = $3,
			result = $4,
			claimed_until = NULL,
			updated_at = GREATEST(updated_at, $5)
		WHERE id = $1 AND status = 'processing' AND attempt_count = $2
		RETURNING ` + fileRecordColumns

	var result any
	if len(p.Result) > 0 {
		result = string(p.Result)
	}
	return s.conditionalUpdate(ctx, p.ID, query, p.ID, p.Attempt, p.Checksum, result, p.Now)
}

// FailFileRecord marks the record failed with an error detail.
func (s *StoreImpl) FailFileRecord(ctx context.Context, p store.FailParams) (*models.FileRecord, error) {
	query := `
		UPDATE file_records
		SET status = 'failed',
			error_detail = $4,
			claimed_until = NULL,
			updated_at = GREATEST(updated_at, $5)
		WHERE id = $1 AND status = $2 AND attempt_count = $3
		RETURNING ` + fileRecordColumns

	return s.conditionalUpdate(ctx, p.ID, query,
		p.ID, string(p.ExpectedStatus), p.ExpectedAttempt, p.Detail, p.Now,
	)
}

// ReleaseFileRecord rolls a processing record back to pending after a retryable failure.
func (s *StoreImpl) ReleaseFileRecord(ctx context.Context, id string, attempt int, now time.Time) (*models.FileRecord, error) {
	query := `
		UPDATE file_records
		SET status = 'pending',
			claimed_until = NULL,
			updated_at = GREATEST(updated_at, $3)
		WHERE id = $1 AND status = 'processing' AND attempt_count = $2
		RETURNING ` + fileRecordColumns

	return s.conditionalUpdate(ctx, id, query, id, attempt, now)
}

// RenewClaim pushes the lease of the current claim forward.
func (s *StoreImpl) RenewClaim(ctx context.Context, id string, attempt int, until time.Time) error {
	query := `
		UPDATE file_records SET claimed_until = $3
		WHERE id = $1 AND status = 'processing' AND attempt_count = $2`
	cmdTag, err := s.db.Exec(ctx, query, id, attempt, until)
	if err != nil {
		return fmt.Errorf("failed to renew claim on file record %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("renew claim on file record %s: %w", id, store.ErrConflict)
	}
	return nil
}

// MarkEnqueued records when a task was last published for a non-terminal record.
func (s *StoreImpl) MarkEnqueued(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE file_records SET last_enqueued_at = $2
		WHERE id = $1 AND status IN ('pending', 'processing')`
	cmdTag, err := s.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark file record %s enqueued: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return s.conflictOrNotFound(ctx, id)
	}
	return nil
}

func (s *StoreImpl) ListReconcileCandidates(ctx context.Context, q store.ReconcileQuery) ([]*models.FileRecord, error) {
	query := `
		SELECT ` + fileRecordColumns + `
		FROM file_records
		WHERE (status = 'pending' AND COALESCE(last_enqueued_at, created_at) < $1)
			OR (status = 'processing' AND COALESCE(claimed_until, updated_at) < $2)
		ORDER BY created_at ASC
		LIMIT $3`
	return s.queryFileRecords(ctx, query, q.PendingBefore, q.LeaseExpiredBefore, q.Limit)
}

func (s *StoreImpl) ListFileRecords(ctx context.Context, p store.ListParams) ([]*models.FileRecord, error) {
	var statuses []string
	for _, st := range p.Statuses {
		statuses = append(statuses, string(st))
	}
	query := `
		SELECT ` + fileRecordColumns + `
		FROM file_records
		WHERE ($1::text[] IS NULL OR status = ANY($1))
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	return s.queryFileRecords(ctx, query, statuses, p.Limit, p.Offset)
}

// --- Helper Functions ---

func (s *StoreImpl) queryFileRecords(ctx context.Context, query string, args ...any) ([]*models.FileRecord, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query file records: %w", err)
	}
	defer rows.Close()

	var records []*models.FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file record row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file record rows: %w", err)
	}
	return records, nil
}

// conditionalUpdate runs an UPDATE ... RETURNING and maps "no row" to
// ErrConflict or ErrNotFound.
func (s *StoreImpl) conditionalUpdate(ctx context.Context, id, query string, args ...any) (*models.FileRecord, error) {
	rec, err := scanFileRecord(s.db.QueryRow(ctx, query, args...))
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.conflictOrNotFound(ctx, id)
	}
	return nil, fmt.Errorf("failed to update file record %s: %w", id, err)
}

func (s *StoreImpl) conflictOrNotFound(ctx context.Context, id string) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM file_records WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check file record %s: %w", id, err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return fmt.Errorf("file record %s: %w", id, store.ErrConflict)
}

// Ensure StoreImpl satisfies the FileRecordStore interface
var _ store.FileRecordStore = (*StoreImpl)(nil)
