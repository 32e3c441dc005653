package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"rustler/internal/queue"
	"rustler/internal/store"
)

// heartbeat keeps a claimed task alive while it is processed: every interval
// it pushes the queue visibility deadline and the record's claim lease
// forward by lease. Losing either one cancels the processing context.
type heartbeat struct {
	records  store.FileRecordStore
	queue    queue.TaskQueue
	interval time.Duration
	lease    time.Duration
	now      func() time.Time
}

// start runs the loop in a goroutine. The returned stop func blocks until the
// loop has exited.
func (h *heartbeat) start(ctx context.Context, cancelWork context.CancelFunc, task *queue.Task, attempt int) (stop func()) {
	if h.interval <= 0 {
		return func() {}
	}
	loopCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go h.loop(loopCtx, &wg, cancelWork, task, attempt)
	return func() {
		cancel()
		wg.Wait()
	}
}

func (h *heartbeat) loop(ctx context.Context, wg *sync.WaitGroup, cancelWork context.CancelFunc, task *queue.Task, attempt int) {
	defer wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := log.WithFields(log.Fields{"component": "worker-heartbeat", "file_id": task.FileID, "task_id": task.ID})

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.beat(ctx, task, attempt); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				if errors.Is(err, queue.ErrTaskLost) || errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
					logger.WithError(err).Warn("Lost ownership of task, abandoning processing")
					cancelWork()
					return
				}
				logger.WithError(err).Warn("Heartbeat update failed")
			}
		}
	}
}

func (h *heartbeat) beat(ctx context.Context, task *queue.Task, attempt int) error {
	if err := h.queue.ExtendVisibility(ctx, task, h.lease); err != nil {
		return err
	}
	return h.records.RenewClaim(ctx, task.FileID, attempt, h.now().UTC().Add(h.lease))
}
