package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T, maxDeliveries int) (*RedisQueue, *fakeClock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	q := New(client, Options{
		Name:              "test:files",
		VisibilityTimeout: time.Minute,
		PollInterval:      5 * time.Millisecond,
		MaxDeliveries:     maxDeliveries,
		Now:               clock.Now,
	})
	t.Cleanup(func() { _ = q.Close() })
	return q, clock, mr
}

func TestEnqueueReceiveAck(t *testing.T) {
	q, clock, _ := newTestQueue(t, 5)
	ctx := context.Background()

	enqueued, err := q.Enqueue(ctx, "file-1")
	require.NoError(t, err)
	assert.NotEmpty(t, enqueued.ID)

	live, err := q.HasLiveTask(ctx, "file-1")
	require.NoError(t, err)
	assert.True(t, live)

	task, err := q.Receive(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, enqueued.ID, task.ID)
	assert.Equal(t, "file-1", task.FileID)
	assert.Equal(t, 1, task.DeliveryCount)
	assert.Equal(t, clock.Now().Add(time.Minute).UnixMilli(), task.VisibilityDeadline.UnixMilli())
	assert.Equal(t, clock.Now().UnixMilli(), task.EnqueuedAt.UnixMilli())

	require.NoError(t, q.Ack(ctx, task))

	live, err = q.HasLiveTask(ctx, "file-1")
	require.NoError(t, err)
	assert.False(t, live)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestReceiveEmptyReturnsNilAfterTimeout(t *testing.T) {
	q, _, _ := newTestQueue(t, 5)

	start := time.Now()
	task, err := q.Receive(context.Background(), 30*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestReceiveHonoursContextCancel(t *testing.T) {
	q, _, _ := newTestQueue(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task, err := q.Receive(ctx, time.Second)
	assert.Nil(t, task)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFIFOOrder(t *testing.T) {
	q, _, _ := newTestQueue(t, 5)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, id)
		require.NoError(t, err)
	}
	for _, want := range []string{"a", "b", "c"} {
		task, err := q.Receive(ctx, 10*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, want, task.FileID)
	}
}

func TestInFlightTaskIsHiddenUntilVisibilityExpires(t *testing.T) {
	q, clock, _ := newTestQueue(t, 5)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "file-1")
	require.NoError(t, err)
	first, err := q.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, first)

	hidden, err := q.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, hidden)

	clock.Advance(time.Minute + time.Second)
	again, err := q.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, again.DeliveryCount)

	// Both deliveries share one task id, so an ack from either removes it.
	require.NoError(t, q.Ack(ctx, first))
	assert.ErrorIs(t, q.ExtendVisibility(ctx, again, time.Minute), ErrTaskLost)
}

func TestExtendVisibility(t *testing.T) {
	q, clock, _ := newTestQueue(t, 5)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "file-1")
	require.NoError(t, err)
	task, err := q.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, task)

	clock.Advance(50 * time.Second)
	require.NoError(t, q.ExtendVisibility(ctx, task, time.Minute))
	assert.Equal(t, clock.Now().Add(time.Minute).UnixMilli(), task.VisibilityDeadline.UnixMilli())

	// Past the original deadline but inside the extended one.
	clock.Advance(30 * time.Second)
	hidden, err := q.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, hidden)

	clock.Advance(31 * time.Second)
	redelivered, err := q.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, task.ID, redelivered.ID)
}

func TestExtendVisibilityAsBackoff(t *testing.T) {
	q, clock, _ := newTestQueue(t, 5)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "file-1")
	require.NoError(t, err)
	task, err := q.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, task)

	require.NoError(t, q.ExtendVisibility(ctx, task, 2*time.Second))
	clock.Advance(2 * time.Second)

	redelivered, err := q.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, 2, redelivered.DeliveryCount)
}

func TestDeadLetterAfterMaxDeliveries(t *testing.T) {
	q, clock, _ := newTestQueue(t, 2)
	ctx := context.Background()

	enqueued, err := q.Enqueue(ctx, "poison")
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		task, err := q.Receive(ctx, 10*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, i, task.DeliveryCount)
		clock.Advance(2 * time.Minute)
	}

	task, err := q.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, task)

	live, err := q.HasLiveTask(ctx, "poison")
	require.NoError(t, err)
	assert.False(t, live)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Dead)
	assert.Equal(t, int64(0), stats.Ready)
	assert.Equal(t, int64(0), stats.InFlight)

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, enqueued.ID, dead[0].ID)
	assert.Equal(t, "poison", dead[0].FileID)
	assert.Equal(t, 3, dead[0].DeliveryCount)
}

func TestReenqueueKeepsNewestTaskLive(t *testing.T) {
	q, _, _ := newTestQueue(t, 5)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "file-1")
	require.NoError(t, err)
	first, err := q.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, first)

	_, err = q.Enqueue(ctx, "file-1")
	require.NoError(t, err)

	// Acking the older task must not hide the newer one.
	require.NoError(t, q.Ack(ctx, first))
	live, err := q.HasLiveTask(ctx, "file-1")
	require.NoError(t, err)
	assert.True(t, live)
}

func TestExpiredTaskIsRedeliveredFirst(t *testing.T) {
	q, clock, _ := newTestQueue(t, 5)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "file-1")
	require.NoError(t, err)
	task, err := q.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, task)

	clock.Advance(2 * time.Minute)
	_, err = q.Enqueue(ctx, "file-2")
	require.NoError(t, err)
	second, err := q.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, task.ID, second.ID, "expired task is redelivered first")

	require.NoError(t, q.Ack(ctx, second))
	next, err := q.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "file-2", next.FileID)
}

func TestEnqueueRejectsEmptyFileID(t *testing.T) {
	q, _, _ := newTestQueue(t, 5)
	_, err := q.Enqueue(context.Background(), "")
	assert.Error(t, err)
}

func TestPingFailsWhenRedisIsDown(t *testing.T) {
	q, _, mr := newTestQueue(t, 5)
	require.NoError(t, q.Ping(context.Background()))
	mr.SetError("connection refused")
	assert.Error(t, q.Ping(context.Background()))
}

func TestKeysShareOneHashSlot(t *testing.T) {
	q, _, mr := newTestQueue(t, 5)
	ctx := context.Background()

	enqueued, err := q.Enqueue(ctx, "file-1")
	require.NoError(t, err)
	task, err := q.Receive(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, task)

	assert.ElementsMatch(t, []string{
		"{test:files}:files",
		"{test:files}:inflight",
		"{test:files}:task:" + enqueued.ID,
	}, mr.Keys())

	tagged := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), Options{Name: "{jobs}:files"})
	defer tagged.Close()
	assert.Equal(t, "{jobs}:files:ready", tagged.readyKey())
}
