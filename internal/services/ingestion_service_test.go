package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rustler/internal/models"
	"rustler/internal/services"
	"rustler/internal/store"
	"rustler/internal/tests/mocks"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D}

func TestSubmitThenGetStatusIsPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	svc := services.NewIngestionService(services.IngestionServiceDeps{
		Blobs:   h.blobs,
		Records: h.records,
		Queue:   h.queue,
		Now:     h.clock,
	})

	rec, err := svc.Submit(ctx, services.SubmitParams{
		Data:         []byte("hello world"),
		OriginalName: "greeting.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, 0, rec.AttemptCount)
	assert.Equal(t, "uploads/"+rec.ID+"/greeting.txt", rec.ObjectKey)
	assert.Equal(t, "text/plain; charset=utf-8", rec.ContentType)
	assert.Equal(t, int64(11), rec.SizeBytes)
	require.NotNil(t, rec.LastEnqueuedAt)

	got, err := services.NewStatusService(h.records).GetStatus(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Nil(t, got.ErrorDetail)

	data, err := h.blobs.Get(ctx, rec.ObjectKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data)

	live, err := h.queue.HasLiveTask(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, live)
}

func TestSubmitKeepsExplicitContentType(t *testing.T) {
	h := newHarness(t)
	svc := services.NewIngestionService(services.IngestionServiceDeps{
		Blobs: h.blobs, Records: h.records, Queue: h.queue, Now: h.clock,
	})

	rec, err := svc.Submit(context.Background(), services.SubmitParams{
		Data:         []byte(`{"a":1}`),
		OriginalName: "doc.json",
		ContentType:  "application/json",
	})
	require.NoError(t, err)
	assert.Equal(t, "application/json", rec.ContentType)
}

func TestSubmitValidation(t *testing.T) {
	blobs := new(mocks.BlobStore)
	records := new(mocks.FileRecordStore)
	q := new(mocks.TaskQueue)
	svc := services.NewIngestionService(services.IngestionServiceDeps{
		Blobs:        blobs,
		Records:      records,
		Queue:        q,
		MaxFileSize:  16,
		EnforceTypes: true,
	})
	ctx := context.Background()

	tests := []struct {
		name    string
		params  services.SubmitParams
		wantErr []error
	}{
		{
			name:    "empty file",
			params:  services.SubmitParams{OriginalName: "a.png"},
			wantErr: []error{models.ErrValidation, models.ErrEmptyFile},
		},
		{
			name:    "too large",
			params:  services.SubmitParams{Data: make([]byte, 17), OriginalName: "a.png"},
			wantErr: []error{models.ErrFileTooLarge},
		},
		{
			name:    "unsupported type",
			params:  services.SubmitParams{Data: []byte("plain text"), OriginalName: "notes.txt"},
			wantErr: []error{models.ErrUnsupportedType},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := svc.Submit(ctx, tt.params)
			require.Error(t, err)
			assert.Nil(t, rec)
			for _, want := range tt.wantErr {
				assert.ErrorIs(t, err, want)
			}
		})
	}

	blobs.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
	records.AssertNotCalled(t, "CreateFileRecord", mock.Anything, mock.Anything)
	q.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestSubmitAcceptsRegisteredTypeWhenEnforced(t *testing.T) {
	h := newHarness(t)
	svc := services.NewIngestionService(services.IngestionServiceDeps{
		Blobs: h.blobs, Records: h.records, Queue: h.queue, Now: h.clock,
		MaxFileSize:  1 << 20,
		EnforceTypes: true,
	})

	rec, err := svc.Submit(context.Background(), services.SubmitParams{
		Data:         pngHeader,
		OriginalName: "pixel.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "image/png", rec.ContentType)
}

func TestSubmitBlobFailureLeavesNoRecord(t *testing.T) {
	blobs := new(mocks.BlobStore)
	records := new(mocks.FileRecordStore)
	q := new(mocks.TaskQueue)
	blobs.On("Put", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

	svc := services.NewIngestionService(services.IngestionServiceDeps{Blobs: blobs, Records: records, Queue: q})
	rec, err := svc.Submit(context.Background(), services.SubmitParams{Data: []byte("x"), OriginalName: "x.txt"})

	require.Error(t, err)
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, models.ErrStorage)
	blobs.AssertExpectations(t)
	records.AssertNotCalled(t, "CreateFileRecord", mock.Anything, mock.Anything)
	q.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestSubmitMetadataFailureRemovesBlob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	records := new(mocks.FileRecordStore)
	q := new(mocks.TaskQueue)

	var created *models.FileRecord
	records.On("CreateFileRecord", mock.Anything, mock.AnythingOfType("*models.FileRecord")).
		Run(func(args mock.Arguments) { created = args.Get(1).(*models.FileRecord) }).
		Return(errors.New("connection refused")).
		Once()

	svc := services.NewIngestionService(services.IngestionServiceDeps{Blobs: h.blobs, Records: records, Queue: q})
	rec, err := svc.Submit(ctx, services.SubmitParams{Data: []byte("payload"), OriginalName: "p.bin"})

	require.Error(t, err)
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, models.ErrMetadata)
	require.NotNil(t, created)

	_, err = h.blobs.Get(ctx, created.ObjectKey)
	assert.ErrorIs(t, err, store.ErrNotFound)
	q.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestSubmitEnqueueFailureLeavesPendingRecordForReconcile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	broken := new(mocks.TaskQueue)
	broken.On("Enqueue", mock.Anything, mock.Anything).Return(nil, errors.New("redis unavailable")).Once()

	svc := services.NewIngestionService(services.IngestionServiceDeps{
		Blobs: h.blobs, Records: h.records, Queue: broken, Now: h.clock,
	})
	rec, submitErr := svc.Submit(ctx, services.SubmitParams{Data: []byte("payload"), OriginalName: "p.txt"})
	require.Error(t, submitErr)
	assert.Nil(t, rec)
	assert.ErrorIs(t, submitErr, models.ErrQueue)

	pending, err := h.records.ListFileRecords(ctx, store.ListParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	id := pending[0].ID
	assert.Equal(t, models.StatusPending, pending[0].Status)
	assert.Nil(t, pending[0].LastEnqueuedAt)
	assert.Contains(t, submitErr.Error(), id)

	reconcile := services.NewReconcileService(services.ReconcileServiceDeps{
		Records:     h.records,
		Queue:       h.queue,
		GracePeriod: time.Minute,
		Now:         func() time.Time { return h.now.Add(2 * time.Minute) },
	})
	result, err := reconcile.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Requeued)

	live, err := h.queue.HasLiveTask(ctx, id)
	require.NoError(t, err)
	assert.True(t, live)

	got, err := h.records.GetFileRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	require.NotNil(t, got.LastEnqueuedAt)
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\report final.pdf`, "report_final.pdf"},
		{"", "upload"},
		{"   ", "upload"},
		{"...", "upload"},
		{".hidden", "hidden"},
		{"a<b>c?.txt", "abc.txt"},
		{"héllo wörld.txt", "héllo_wörld.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, services.SanitizeFileName(tt.in))
		})
	}
}

func TestSanitizeFileNameTruncatesKeepingExtension(t *testing.T) {
	long := strings.Repeat("é", 300) + ".png"
	got := services.SanitizeFileName(long)
	assert.Equal(t, 200, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, ".png"))
}

func TestSubmitKeepsOriginalNameAsSent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	svc := services.NewIngestionService(services.IngestionServiceDeps{
		Blobs:   h.blobs,
		Records: h.records,
		Queue:   h.queue,
		Now:     h.clock,
	})

	rec, err := svc.Submit(ctx, services.SubmitParams{
		Data:         []byte("quarterly numbers"),
		OriginalName: "  Q3 report (final).txt ",
	})
	require.NoError(t, err)
	assert.Equal(t, "Q3 report (final).txt", rec.OriginalName)
	assert.Equal(t, "uploads/"+rec.ID+"/Q3_report_final.txt", rec.ObjectKey)

	got, err := services.NewStatusService(h.records).GetStatus(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Q3 report (final).txt", got.OriginalName)
}

func TestCleanOriginalName(t *testing.T) {
	assert.Equal(t, "a b (1).txt", services.CleanOriginalName(" a b (1).txt\n"))
	assert.Equal(t, "bad�name", services.CleanOriginalName("bad\xffname"))
	assert.Equal(t, 255, utf8.RuneCountInString(services.CleanOriginalName(strings.Repeat("é", 400))))
}
