package store

import (
	"context"
	"encoding/json"
	"time"

	"rustler/internal/models"
)

// --- Blob Store ---

// BlobStore is durable byte storage keyed by an opaque object key.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns ErrNotFound when no object exists under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete is best-effort and succeeds when the object is already gone.
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// --- File Record Store ---

// ClaimParams describes a conditional pending/processing -> processing transition.
// The update only applies when status and attempt_count still equal the
// expected values, and a processing row may only be reclaimed once its
// lease has expired at Now.
type ClaimParams struct {
	ID              string
	ExpectedStatus  models.FileStatus
	ExpectedAttempt int
	Now             time.Time
	LeaseUntil      time.Time
}

// FailParams describes a conditional transition to failed.
type FailParams struct {
	ID              string
	ExpectedStatus  models.FileStatus
	ExpectedAttempt int
	Detail          string
	Now             time.Time
}

// CompleteParams describes the conditional processing -> completed transition.
type CompleteParams struct {
	ID       string
	Attempt  int
	Checksum string
	Result   json.RawMessage
	Now      time.Time
}

// ReconcileQuery selects records whose forward progress is suspect.
type ReconcileQuery struct {
	// PendingBefore matches pending rows not enqueued (or created) since this instant.
	PendingBefore time.Time
	// LeaseExpiredBefore matches processing rows whose claim lapsed before this instant.
	LeaseExpiredBefore time.Time
	Limit              int
}

// ListParams pages through records, newest first.
type ListParams struct {
	Limit    int
	Offset   int
	Statuses []models.FileStatus
}

type FileRecordStore interface {
	CreateFileRecord(ctx context.Context, rec *models.FileRecord) error
	GetFileRecord(ctx context.Context, id string) (*models.FileRecord, error)

	// Conditional transitions. Each returns the updated row, or ErrConflict
	// when the expected prior state did not match (ErrNotFound if the row is gone).
	ClaimFileRecord(ctx context.Context, params ClaimParams) (*models.FileRecord, error)
	CompleteFileRecord(ctx context.Context, params CompleteParams) (*models.FileRecord, error)
	FailFileRecord(ctx context.Context, params FailParams) (*models.FileRecord, error)
	ReleaseFileRecord(ctx context.Context, id string, attempt int, now time.Time) (*models.FileRecord, error)
	RenewClaim(ctx context.Context, id string, attempt int, until time.Time) error

	MarkEnqueued(ctx context.Context, id string, at time.Time) error
	ListReconcileCandidates(ctx context.Context, q ReconcileQuery) ([]*models.FileRecord, error)
	ListFileRecords(ctx context.Context, params ListParams) ([]*models.FileRecord, error)

	Ping(ctx context.Context) error
	Close() error
}
