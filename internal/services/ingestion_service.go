package services

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"rustler/internal/metrics"
	"rustler/internal/models"
	"rustler/internal/processing"
	"rustler/internal/queue"
	"rustler/internal/store"
)

// IngestionServiceDeps wires the ingestion service.
type IngestionServiceDeps struct {
	Blobs     store.BlobStore
	Records   store.FileRecordStore
	Queue     queue.TaskQueue
	Validator *processing.Validator

	MaxFileSize  int64
	EnforceTypes bool

	Now func() time.Time
}

// IngestionService accepts uploads: it stores the bytes, records a pending
// FileRecord and enqueues processing.
type IngestionService struct {
	blobs        store.BlobStore
	records      store.FileRecordStore
	queue        queue.TaskQueue
	validator    *processing.Validator
	maxFileSize  int64
	enforceTypes bool
	now          func() time.Time
}

func NewIngestionService(deps IngestionServiceDeps) *IngestionService {
	if deps.Validator == nil {
		deps.Validator = processing.NewValidator()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &IngestionService{
		blobs:        deps.Blobs,
		records:      deps.Records,
		queue:        deps.Queue,
		validator:    deps.Validator,
		maxFileSize:  deps.MaxFileSize,
		enforceTypes: deps.EnforceTypes,
		now:          deps.Now,
	}
}

// SubmitParams is one upload.
type SubmitParams struct {
	Data         []byte
	OriginalName string
	ContentType  string
}

// Submit durably stores an upload and schedules it for processing.
//
// A blob write failure leaves nothing behind. A metadata failure removes
// the blob again. An enqueue failure leaves a pending record that the
// reconciliation sweep picks up later, and Submit still reports ErrQueue.
func (s *IngestionService) Submit(ctx context.Context, params SubmitParams) (*models.FileRecord, error) {
	originalName := CleanOriginalName(params.OriginalName)
	name := SanitizeFileName(originalName)
	contentType := strings.TrimSpace(params.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(params.Data)
	}

	if err := s.validate(params.Data, name, contentType); err != nil {
		metrics.IngestTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	now := s.now().UTC()
	id := uuid.NewString()
	rec := &models.FileRecord{
		ID:           id,
		ObjectKey:    fmt.Sprintf("uploads/%s/%s", id, name),
		OriginalName: originalName,
		SizeBytes:    int64(len(params.Data)),
		ContentType:  contentType,
		Status:       models.StatusPending,
		AttemptCount: 0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	logger := log.WithFields(log.Fields{"file_id": id, "object_key": rec.ObjectKey, "size": rec.SizeBytes})

	if err := s.blobs.Put(ctx, rec.ObjectKey, params.Data); err != nil {
		metrics.IngestTotal.WithLabelValues("storage_error").Inc()
		logger.WithError(err).Error("Failed to store upload")
		return nil, fmt.Errorf("%w: store upload: %w", models.ErrStorage, err)
	}

	if err := s.records.CreateFileRecord(ctx, rec); err != nil {
		metrics.IngestTotal.WithLabelValues("metadata_error").Inc()
		logger.WithError(err).Error("Failed to create file record")
		if delErr := s.blobs.Delete(ctx, rec.ObjectKey); delErr != nil {
			logger.WithError(delErr).Warn("Failed to remove orphaned upload")
		}
		return nil, fmt.Errorf("%w: create file record: %w", models.ErrMetadata, err)
	}

	if _, err := s.queue.Enqueue(ctx, id); err != nil {
		metrics.IngestTotal.WithLabelValues("queue_error").Inc()
		logger.WithError(err).Error("Failed to enqueue processing, record left pending for reconciliation")
		return nil, fmt.Errorf("%w: file %s stored but not queued: %w", models.ErrQueue, id, err)
	}

	enqueuedAt := s.now().UTC()
	if err := s.records.MarkEnqueued(ctx, id, enqueuedAt); err != nil {
		logger.WithError(err).Warn("Failed to record enqueue time")
	} else {
		rec.LastEnqueuedAt = &enqueuedAt
	}

	metrics.IngestTotal.WithLabelValues("accepted").Inc()
	logger.WithField("content_type", contentType).Info("Upload accepted")
	return rec, nil
}

func (s *IngestionService) validate(data []byte, name, contentType string) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %w", models.ErrValidation, models.ErrEmptyFile)
	}
	if s.maxFileSize > 0 && int64(len(data)) > s.maxFileSize {
		return fmt.Errorf("%w: %d bytes exceeds the %d byte limit", models.ErrFileTooLarge, len(data), s.maxFileSize)
	}
	if s.enforceTypes {
		if _, err := s.validator.CheckUpload(name, contentType, int64(len(data))); err != nil {
			return err
		}
	}
	return nil
}

// maxOriginalNameLen caps the stored client name, in runes.
const maxOriginalNameLen = 255

// CleanOriginalName keeps the client's file name as sent, only trimming
// surrounding whitespace, replacing invalid UTF-8 and capping its length.
func CleanOriginalName(name string) string {
	name = strings.ToValidUTF8(strings.TrimSpace(name), "\uFFFD")
	if runes := []rune(name); len(runes) > maxOriginalNameLen {
		name = string(runes[:maxOriginalNameLen])
	}
	return name
}

// SanitizeFileName reduces a client supplied name to a safe single path
// segment. Empty results become "upload".
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	clean := strings.TrimLeft(b.String(), ".")
	if clean == "" {
		return "upload"
	}
	const maxLen = 200
	if runes := []rune(clean); len(runes) > maxLen {
		ext := []rune(filepath.Ext(clean))
		if len(ext) > 20 {
			ext = nil
		}
		clean = string(runes[:maxLen-len(ext)]) + string(ext)
	}
	return clean
}
