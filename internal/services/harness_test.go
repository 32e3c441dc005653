package services_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"rustler/internal/queue"
	"rustler/internal/store/blob"
	"rustler/internal/store/sqlite"
)

// harness wires real local backends: a SQLite database, a blob directory and
// a miniredis-backed queue.
type harness struct {
	records *sqlite.Store
	blobs   *blob.LocalStore
	queue   *queue.RedisQueue
	redis   *miniredis.Miniredis
	client  redis.UniversalClient
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	records, err := sqlite.Open(filepath.Join(dir, "rustler.db"))
	require.NoError(t, err)
	require.NoError(t, records.Migrate())
	t.Cleanup(func() { _ = records.Close() })

	blobs, err := blob.NewLocalStore(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.New(client, queue.Options{
		Name:              "test:files",
		VisibilityTimeout: time.Minute,
		PollInterval:      5 * time.Millisecond,
		MaxDeliveries:     5,
	})
	t.Cleanup(func() { _ = q.Close() })

	return &harness{
		records: records,
		blobs:   blobs,
		queue:   q,
		redis:   mr,
		client:  client,
		now:     time.Now().UTC().Truncate(time.Millisecond),
	}
}

func (h *harness) clock() time.Time { return h.now }
