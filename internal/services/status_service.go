package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"rustler/internal/models"
	"rustler/internal/store"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// StatusService answers status queries. It only reads committed state.
type StatusService struct {
	records store.FileRecordStore
}

func NewStatusService(records store.FileRecordStore) *StatusService {
	return &StatusService{records: records}
}

// GetStatus returns the latest committed record. Unknown and malformed ids
// both report ErrNotFound.
func (s *StatusService) GetStatus(ctx context.Context, fileID string) (*models.FileRecord, error) {
	if _, err := uuid.Parse(fileID); err != nil {
		return nil, fmt.Errorf("%w: file %q", models.ErrNotFound, fileID)
	}
	rec, err := s.records.GetFileRecord(ctx, fileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: file %s", models.ErrNotFound, fileID)
		}
		return nil, fmt.Errorf("%w: get file %s: %w", models.ErrMetadata, fileID, err)
	}
	return rec, nil
}

// ListParams pages through records, newest first.
type ListParams struct {
	Limit    int
	Offset   int
	Statuses []models.FileStatus
}

// List returns records matching the status filter. Limit is clamped to
// MaxListLimit and defaults to DefaultListLimit.
func (s *StatusService) List(ctx context.Context, params ListParams) ([]*models.FileRecord, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	records, err := s.records.ListFileRecords(ctx, store.ListParams{
		Limit:    limit,
		Offset:   offset,
		Statuses: params.Statuses,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list files: %w", models.ErrMetadata, err)
	}
	return records, nil
}
