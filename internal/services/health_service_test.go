package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rustler/internal/models"
	"rustler/internal/services"
	"rustler/internal/tests/mocks"
)

type healthFixture struct {
	blob     *mocks.BlobStore
	metadata *mocks.FileRecordStore
	queue    *mocks.TaskQueue
	svc      *services.HealthService
	h        *harness
}

func newHealthFixture(t *testing.T) *healthFixture {
	t.Helper()
	h := newHarness(t)
	f := &healthFixture{
		blob:     new(mocks.BlobStore),
		metadata: new(mocks.FileRecordStore),
		queue:    new(mocks.TaskQueue),
		h:        h,
	}
	f.svc = services.NewHealthService(services.HealthServiceDeps{
		Blob:     f.blob,
		Metadata: f.metadata,
		Queue:    f.queue,
		Cache:    h.client,
		CacheTTL: time.Minute,
		Timeout:  time.Second,
		Now:      h.clock,
	})
	return f
}

func TestHealthCheckAllCachesHealthyReport(t *testing.T) {
	f := newHealthFixture(t)
	ctx := context.Background()
	f.blob.On("Ping", mock.Anything).Return(nil).Once()
	f.metadata.On("Ping", mock.Anything).Return(nil).Once()
	f.queue.On("Ping", mock.Anything).Return(nil).Once()

	report, err := f.svc.Check(ctx, "")
	require.NoError(t, err)
	assert.True(t, report.Healthy())
	assert.Equal(t, services.HealthAll, report.Target)
	assert.False(t, report.Cached)
	assert.Len(t, report.Components, 3)
	for name, c := range report.Components {
		assert.Equal(t, services.HealthOK, c.Status, name)
	}

	again, err := f.svc.Check(ctx, "all")
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.True(t, again.Healthy())

	// Each backend was pinged exactly once.
	f.blob.AssertExpectations(t)
	f.metadata.AssertExpectations(t)
	f.queue.AssertExpectations(t)
}

func TestHealthCheckCacheExpires(t *testing.T) {
	f := newHealthFixture(t)
	ctx := context.Background()
	f.blob.On("Ping", mock.Anything).Return(nil).Twice()

	_, err := f.svc.Check(ctx, services.HealthBlob)
	require.NoError(t, err)

	f.h.redis.FastForward(2 * time.Minute)

	report, err := f.svc.Check(ctx, services.HealthBlob)
	require.NoError(t, err)
	assert.False(t, report.Cached)
	f.blob.AssertExpectations(t)
}

func TestHealthCheckUnhealthyIsNotCached(t *testing.T) {
	f := newHealthFixture(t)
	ctx := context.Background()
	f.queue.On("Ping", mock.Anything).Return(errors.New("connection refused")).Twice()

	for i := 0; i < 2; i++ {
		report, err := f.svc.Check(ctx, "redis")
		require.NoError(t, err)
		assert.False(t, report.Healthy())
		assert.False(t, report.Cached)
		assert.Equal(t, services.HealthQueue, report.Target)
		require.Contains(t, report.Components, services.HealthQueue)
		assert.Contains(t, report.Components[services.HealthQueue].Message, "connection refused")
	}
	f.queue.AssertExpectations(t)
}

func TestHealthCheckAliasesOnlyPingTarget(t *testing.T) {
	f := newHealthFixture(t)
	f.metadata.On("Ping", mock.Anything).Return(nil).Once()

	report, err := f.svc.Check(context.Background(), "Postgres")
	require.NoError(t, err)
	assert.Equal(t, services.HealthMetadata, report.Target)
	assert.Len(t, report.Components, 1)
	f.blob.AssertNotCalled(t, "Ping", mock.Anything)
	f.queue.AssertNotCalled(t, "Ping", mock.Anything)
}

func TestHealthCheckUnknownTarget(t *testing.T) {
	f := newHealthFixture(t)
	_, err := f.svc.Check(context.Background(), "mainframe")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestHealthCheckWithoutCacheOrComponent(t *testing.T) {
	svc := services.NewHealthService(services.HealthServiceDeps{})
	report, err := svc.Check(context.Background(), services.HealthBlob)
	require.NoError(t, err)
	assert.False(t, report.Healthy())
	assert.Contains(t, report.Components[services.HealthBlob].Message, "not configured")
}

func TestNormalizeHealthTarget(t *testing.T) {
	tests := map[string]string{
		"":         services.HealthAll,
		"ALL":      services.HealthAll,
		" s3 ":     services.HealthBlob,
		"blob":     services.HealthBlob,
		"database": services.HealthMetadata,
		"metadata": services.HealthMetadata,
		"redis":    services.HealthQueue,
		"queue":    services.HealthQueue,
	}
	for in, want := range tests {
		got, ok := services.NormalizeHealthTarget(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := services.NormalizeHealthTarget("kafka")
	assert.False(t, ok)
}
