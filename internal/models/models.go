package models

import (
	"encoding/json"
	"time"
)

// FileRecord is one uploaded file's lifecycle, mirroring the file_records table.
type FileRecord struct {
	ID             string          `db:"id" json:"id"`
	ObjectKey      string          `db:"object_key" json:"object_key"`
	OriginalName   string          `db:"original_name" json:"original_name"`
	SizeBytes      int64           `db:"size_bytes" json:"size_bytes"`
	ContentType    string          `db:"content_type" json:"content_type"`
	Status         FileStatus      `db:"status" json:"status"`
	AttemptCount   int             `db:"attempt_count" json:"attempt_count"`
	ErrorDetail    *string         `db:"error_detail" json:"error_detail,omitempty"` // only when failed
	Checksum       *string         `db:"checksum" json:"checksum,omitempty"`
	Result         json.RawMessage `db:"result" json:"result,omitempty"`
	ClaimedUntil   *time.Time      `db:"claimed_until" json:"-"`
	LastEnqueuedAt *time.Time      `db:"last_enqueued_at" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// ClaimExpired reports whether a processing record's lease has lapsed at now.
func (r *FileRecord) ClaimExpired(now time.Time) bool {
	if r.Status != StatusProcessing {
		return false
	}
	return r.ClaimedUntil == nil || !r.ClaimedUntil.After(now)
}

// ErrorDetailString returns the failure detail or "".
func (r *FileRecord) ErrorDetailString() string {
	if r.ErrorDetail == nil {
		return ""
	}
	return *r.ErrorDetail
}

// Event is published to the notifier once a record reaches a terminal state.
type Event struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	FileID       string     `json:"file_id"`
	Status       FileStatus `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	ErrorDetail  string     `json:"error_detail,omitempty"`
	Checksum     string     `json:"checksum,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}
