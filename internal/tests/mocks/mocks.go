// Package mocks provides testify mocks of the pipeline's collaborator
// interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"rustler/internal/models"
	"rustler/internal/queue"
	"rustler/internal/store"
)

// --- BlobStore ---

type BlobStore struct {
	mock.Mock
}

func (m *BlobStore) Put(ctx context.Context, key string, data []byte) error {
	args := m.Called(ctx, key, data)
	return args.Error(0)
}

func (m *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *BlobStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *BlobStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- FileRecordStore ---

type FileRecordStore struct {
	mock.Mock
}

func record(args mock.Arguments) *models.FileRecord {
	rec, _ := args.Get(0).(*models.FileRecord)
	return rec
}

func records(args mock.Arguments) []*models.FileRecord {
	recs, _ := args.Get(0).([]*models.FileRecord)
	return recs
}

func (m *FileRecordStore) CreateFileRecord(ctx context.Context, rec *models.FileRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *FileRecordStore) GetFileRecord(ctx context.Context, id string) (*models.FileRecord, error) {
	args := m.Called(ctx, id)
	return record(args), args.Error(1)
}

func (m *FileRecordStore) ClaimFileRecord(ctx context.Context, params store.ClaimParams) (*models.FileRecord, error) {
	args := m.Called(ctx, params)
	return record(args), args.Error(1)
}

func (m *FileRecordStore) CompleteFileRecord(ctx context.Context, params store.CompleteParams) (*models.FileRecord, error) {
	args := m.Called(ctx, params)
	return record(args), args.Error(1)
}

func (m *FileRecordStore) FailFileRecord(ctx context.Context, params store.FailParams) (*models.FileRecord, error) {
	args := m.Called(ctx, params)
	return record(args), args.Error(1)
}

func (m *FileRecordStore) ReleaseFileRecord(ctx context.Context, id string, attempt int, now time.Time) (*models.FileRecord, error) {
	args := m.Called(ctx, id, attempt, now)
	return record(args), args.Error(1)
}

func (m *FileRecordStore) RenewClaim(ctx context.Context, id string, attempt int, until time.Time) error {
	args := m.Called(ctx, id, attempt, until)
	return args.Error(0)
}

func (m *FileRecordStore) MarkEnqueued(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *FileRecordStore) ListReconcileCandidates(ctx context.Context, q store.ReconcileQuery) ([]*models.FileRecord, error) {
	args := m.Called(ctx, q)
	return records(args), args.Error(1)
}

func (m *FileRecordStore) ListFileRecords(ctx context.Context, params store.ListParams) ([]*models.FileRecord, error) {
	args := m.Called(ctx, params)
	return records(args), args.Error(1)
}

func (m *FileRecordStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *FileRecordStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- TaskQueue ---

type TaskQueue struct {
	mock.Mock
}

func (m *TaskQueue) Enqueue(ctx context.Context, fileID string) (*queue.Task, error) {
	args := m.Called(ctx, fileID)
	task, _ := args.Get(0).(*queue.Task)
	return task, args.Error(1)
}

func (m *TaskQueue) Receive(ctx context.Context, timeout time.Duration) (*queue.Task, error) {
	args := m.Called(ctx, timeout)
	task, _ := args.Get(0).(*queue.Task)
	return task, args.Error(1)
}

func (m *TaskQueue) Ack(ctx context.Context, task *queue.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *TaskQueue) ExtendVisibility(ctx context.Context, task *queue.Task, d time.Duration) error {
	args := m.Called(ctx, task, d)
	return args.Error(0)
}

func (m *TaskQueue) HasLiveTask(ctx context.Context, fileID string) (bool, error) {
	args := m.Called(ctx, fileID)
	return args.Bool(0), args.Error(1)
}

func (m *TaskQueue) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *TaskQueue) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Notifier ---

type Notifier struct {
	mock.Mock
}

func (m *Notifier) Notify(ctx context.Context, event models.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *Notifier) Close() error {
	args := m.Called()
	return args.Error(0)
}

var (
	_ store.BlobStore       = (*BlobStore)(nil)
	_ store.FileRecordStore = (*FileRecordStore)(nil)
	_ queue.TaskQueue       = (*TaskQueue)(nil)
)
