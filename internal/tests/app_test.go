package tests

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rustler/internal/apihandlers"
	"rustler/internal/app"
	"rustler/internal/config"
	"rustler/internal/models"
	"rustler/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func loadTestConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	mr := miniredis.RunT(t)

	body := fmt.Sprintf(`
database:
  driver: sqlite
  dsn: %s
blob:
  backend: local
  local:
    dir: %s
redis:
  url: redis://%s/0
queue:
  name: e2e:files
  poll_interval: 5ms
worker:
  concurrency: 2
  receive_timeout: 50ms
  processors: [validate, checksum, text-summary]
log:
  level: error
%s`, filepath.Join(dir, "rustler.db"), filepath.Join(dir, "blobs"), mr.Addr(), extra)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	a, err := app.NewApp(context.Background(), loadTestConfig(t, ""))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestAppInitialization(t *testing.T) {
	a := newTestApp(t)

	// Check that essential App components are non-nil.
	assert.NotNil(t, a.Records)
	assert.NotNil(t, a.Blobs)
	assert.NotNil(t, a.Queue)
	assert.NotNil(t, a.Notifier)
	assert.NotNil(t, a.Processor)
	assert.NotNil(t, a.IngestionService)
	assert.NotNil(t, a.StatusService)
	assert.NotNil(t, a.ReconcileService)
	assert.NotNil(t, a.HealthService)
	assert.NotNil(t, a.Maintenance)
	assert.Equal(t, "validate,checksum,text-summary", a.Processor.Name())

	report, err := a.HealthService.Check(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, report.Healthy(), report.Components)
}

func TestAppInitializationErrors(t *testing.T) {
	cfg := loadTestConfig(t, "")
	cfg.Worker.Processors = []string{"validate", "ocr"}
	_, err := app.NewApp(context.Background(), cfg)
	assert.ErrorContains(t, err, "init processors")

	cfg = loadTestConfig(t, "")
	cfg.Redis.URL = "not-a-url"
	_, err = app.NewApp(context.Background(), cfg)
	assert.ErrorContains(t, err, "redis")

	cfg = loadTestConfig(t, "")
	cfg.Database.Driver = "mysql"
	_, err = app.NewApp(context.Background(), cfg)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestSubmitProcessAndQuery(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	data := []byte("Rustler moves files from upload to done.")

	rec, err := a.IngestionService.Submit(ctx, services.SubmitParams{Data: data, OriginalName: "readme.txt"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)

	pool, err := a.NewWorkerPool()
	require.NoError(t, err)
	task, err := a.Queue.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, rec.ID, task.FileID)

	outcome, err := pool.Handle(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, "completed", outcome)

	got, err := a.StatusService.GetStatus(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Nil(t, got.ErrorDetail)
	sum := sha256.Sum256(data)
	require.NotNil(t, got.Checksum)
	assert.Equal(t, hex.EncodeToString(sum[:]), *got.Checksum)
	assert.False(t, got.UpdatedAt.Before(rec.UpdatedAt))

	// Same view over HTTP.
	router := apihandlers.NewRouter(apihandlers.NewAPIHandler(a))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+rec.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data models.FileRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, models.StatusCompleted, body.Data.Status)

	// Nothing left to deliver.
	stats, err := a.Queue.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Ready+stats.InFlight+stats.Dead)
}

func TestWorkerPoolDrainsQueue(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ids []string
	for i := 0; i < 5; i++ {
		rec, err := a.IngestionService.Submit(ctx, services.SubmitParams{
			Data:         []byte(fmt.Sprintf("file number %d", i)),
			OriginalName: fmt.Sprintf("file-%d.txt", i),
		})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	pool, err := a.NewWorkerPool()
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		items, err := a.StatusService.List(ctx, services.ListParams{
			Statuses: []models.FileStatus{models.StatusCompleted},
		})
		return err == nil && len(items) == len(ids)
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker pool did not stop")
	}
}

func TestCorruptFileFailsTerminally(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	// Claims to be a PNG but is plain text.
	rec, err := a.IngestionService.Submit(ctx, services.SubmitParams{Data: []byte("not an image"), OriginalName: "photo.png"})
	require.NoError(t, err)

	pool, err := a.NewWorkerPool()
	require.NoError(t, err)
	task, err := a.Queue.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)

	outcome, err := pool.Handle(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, "failed", outcome)

	got, err := a.StatusService.GetStatus(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorDetailString(), "not a valid PNG file")
}
