// Package worker runs the processing side of the pipeline: a fixed pool of
// goroutines pulling tasks from the queue and driving each FileRecord
// through its conditional state transitions.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"rustler/internal/metrics"
	"rustler/internal/models"
	"rustler/internal/notify"
	"rustler/internal/processing"
	"rustler/internal/queue"
	"rustler/internal/store"
)

const detailBudgetExhausted = "retry budget exhausted"

// PoolDeps wires a worker pool.
type PoolDeps struct {
	Records   store.FileRecordStore
	Blobs     store.BlobStore
	Queue     queue.TaskQueue
	Processor processing.Processor
	Notifier  notify.Notifier

	Concurrency       int
	MaxAttempts       int
	ReceiveTimeout    time.Duration
	HeartbeatInterval time.Duration
	// LeaseDuration is how far each claim and heartbeat pushes the record
	// lease and the task's visibility deadline.
	LeaseDuration time.Duration
	Backoff       Backoff
	// NotifyTimeout bounds each terminal-state notification.
	NotifyTimeout time.Duration

	Now func() time.Time
}

// Pool consumes processing tasks.
type Pool struct {
	records     store.FileRecordStore
	blobs       store.BlobStore
	queue       queue.TaskQueue
	processor   processing.Processor
	notifier    notify.Notifier
	concurrency int
	maxAttempts int
	receiveWait time.Duration
	lease       time.Duration
	backoff     Backoff
	notifyWait  time.Duration
	heartbeat   *heartbeat
	now         func() time.Time
}

func NewPool(deps PoolDeps) (*Pool, error) {
	if deps.Records == nil || deps.Blobs == nil || deps.Queue == nil {
		return nil, errors.New("worker pool requires records, blobs and queue")
	}
	if deps.Processor == nil {
		return nil, errors.New("worker pool requires a processor")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NoopNotifier{}
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = 1
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = 3
	}
	if deps.ReceiveTimeout <= 0 {
		deps.ReceiveTimeout = 5 * time.Second
	}
	if deps.LeaseDuration <= 0 {
		deps.LeaseDuration = 5 * time.Minute
	}
	if deps.NotifyTimeout <= 0 {
		deps.NotifyTimeout = 10 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pool{
		records:     deps.Records,
		blobs:       deps.Blobs,
		queue:       deps.Queue,
		processor:   deps.Processor,
		notifier:    deps.Notifier,
		concurrency: deps.Concurrency,
		maxAttempts: deps.MaxAttempts,
		receiveWait: deps.ReceiveTimeout,
		lease:       deps.LeaseDuration,
		backoff:     deps.Backoff,
		notifyWait:  deps.NotifyTimeout,
		heartbeat: &heartbeat{
			records:  deps.Records,
			queue:    deps.Queue,
			interval: deps.HeartbeatInterval,
			lease:    deps.LeaseDuration,
			now:      deps.Now,
		},
		now: deps.Now,
	}, nil
}

// Run blocks until ctx is cancelled. Handlers still running at that point
// see the cancellation; their tasks are redelivered once visibility lapses.
func (p *Pool) Run(ctx context.Context) error {
	log.WithFields(log.Fields{
		"concurrency":  p.concurrency,
		"max_attempts": p.maxAttempts,
		"processor":    p.processor.Name(),
	}).Info("Starting worker pool")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		id := i
		g.Go(func() error {
			p.consume(gctx, id)
			return nil
		})
	}
	err := g.Wait()
	log.Info("Worker pool stopped")
	return err
}

func (p *Pool) consume(ctx context.Context, id int) {
	logger := log.WithField("worker", id)
	for ctx.Err() == nil {
		task, err := p.queue.Receive(ctx, p.receiveWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Warn("Receive failed, backing off")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if task == nil {
			continue
		}
		if _, err := p.Handle(ctx, task); err != nil {
			logger.WithError(err).WithField("file_id", task.FileID).Warn("Task left for redelivery")
		}
	}
}

// Handle processes one delivery of task and returns its outcome (one of the
// metrics.Outcome* values). A non-nil error means the task was deliberately
// left unacknowledged so the queue redelivers it.
func (p *Pool) Handle(ctx context.Context, task *queue.Task) (outcome string, err error) {
	started := time.Now()
	defer func() { metrics.ObserveTask(outcome, started) }()

	logger := log.WithFields(log.Fields{
		"file_id":  task.FileID,
		"task_id":  task.ID,
		"delivery": task.DeliveryCount,
	})

	rec, err := p.records.GetFileRecord(ctx, task.FileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn("Task references unknown file, dropping")
			return metrics.OutcomeMissing, p.ack(ctx, task)
		}
		return metrics.OutcomeError, fmt.Errorf("%w: load file %s: %w", models.ErrMetadata, task.FileID, err)
	}
	logger = logger.WithFields(log.Fields{"status": rec.Status, "attempt": rec.AttemptCount})

	if rec.Status.IsTerminal() {
		logger.Debug("File already in a terminal state, acknowledging duplicate delivery")
		return metrics.OutcomeDuplicate, p.ack(ctx, task)
	}

	now := p.now().UTC()
	if rec.Status == models.StatusProcessing && !rec.ClaimExpired(now) {
		// The claimant may have died. Keep this delivery until its lease
		// lapses instead of acking the only task left for the file.
		wait := rec.ClaimedUntil.Sub(now)
		if err := p.queue.ExtendVisibility(ctx, task, wait); err != nil {
			return metrics.OutcomeError, fmt.Errorf("%w: defer task %s: %w", models.ErrQueue, task.ID, err)
		}
		logger.WithField("retry_in", wait).Debug("File is claimed by another worker, deferring delivery")
		return metrics.OutcomeDeferred, nil
	}

	if rec.AttemptCount >= p.maxAttempts {
		failed, err := p.records.FailFileRecord(ctx, store.FailParams{
			ID:              rec.ID,
			ExpectedStatus:  rec.Status,
			ExpectedAttempt: rec.AttemptCount,
			Detail:          detailBudgetExhausted,
			Now:             now,
		})
		if err != nil {
			return p.transitionFailed(ctx, task, logger, err)
		}
		logger.Warn("Retry budget exhausted, marking file failed")
		p.notify(ctx, failed)
		return metrics.OutcomeFailed, p.ack(ctx, task)
	}

	claimed, err := p.records.ClaimFileRecord(ctx, store.ClaimParams{
		ID:              rec.ID,
		ExpectedStatus:  rec.Status,
		ExpectedAttempt: rec.AttemptCount,
		Now:             now,
		LeaseUntil:      now.Add(p.lease),
	})
	if err != nil {
		return p.transitionFailed(ctx, task, logger, err)
	}
	logger = logger.WithFields(log.Fields{"status": claimed.Status, "attempt": claimed.AttemptCount})
	logger.Debug("Claimed file for processing")

	result, data, procErr := p.process(ctx, task, claimed)
	if procErr == nil {
		return p.complete(ctx, task, claimed, result, data, logger)
	}
	return p.handleFailure(ctx, task, claimed, procErr, logger)
}

// process fetches the blob and runs the processor under a heartbeat.
func (p *Pool) process(ctx context.Context, task *queue.Task, rec *models.FileRecord) (processing.Result, []byte, error) {
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := p.heartbeat.start(workCtx, cancel, task, rec.AttemptCount)
	defer stop()

	data, err := p.blobs.Get(workCtx, rec.ObjectKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return processing.Result{}, nil, processing.Terminal(fmt.Errorf("%w: object %s is missing", models.ErrStorage, rec.ObjectKey))
		}
		return processing.Result{}, nil, processing.Transient(fmt.Errorf("%w: fetch object: %w", models.ErrStorage, err))
	}

	result, err := p.processor.Process(workCtx, processing.Input{Record: rec, Data: data})
	if err != nil {
		return processing.Result{}, nil, fmt.Errorf("%w: %w", models.ErrProcessing, err)
	}
	return result, data, nil
}

func (p *Pool) complete(ctx context.Context, task *queue.Task, rec *models.FileRecord, result processing.Result, data []byte, logger *log.Entry) (string, error) {
	checksum := result.Checksum
	if checksum == "" {
		checksum = processing.SHA256Hex(data)
	}
	var payload json.RawMessage
	if len(result.Metadata) > 0 {
		raw, err := json.Marshal(result.Metadata)
		if err != nil {
			return p.handleFailure(ctx, task, rec, processing.Terminal(fmt.Errorf("encode result: %w", err)), logger)
		}
		payload = raw
	}

	done, err := p.records.CompleteFileRecord(ctx, store.CompleteParams{
		ID:       rec.ID,
		Attempt:  rec.AttemptCount,
		Checksum: checksum,
		Result:   payload,
		Now:      p.now().UTC(),
	})
	if err != nil {
		return p.transitionFailed(ctx, task, logger, err)
	}
	logger.WithField("checksum", checksum).Info("File processed")
	p.notify(ctx, done)
	return metrics.OutcomeCompleted, p.ack(ctx, task)
}

func (p *Pool) handleFailure(ctx context.Context, task *queue.Task, rec *models.FileRecord, procErr error, logger *log.Entry) (string, error) {
	logger = logger.WithError(procErr)

	if processing.IsTerminal(procErr) || rec.AttemptCount >= p.maxAttempts {
		failed, err := p.records.FailFileRecord(ctx, store.FailParams{
			ID:              rec.ID,
			ExpectedStatus:  models.StatusProcessing,
			ExpectedAttempt: rec.AttemptCount,
			Detail:          procErr.Error(),
			Now:             p.now().UTC(),
		})
		if err != nil {
			return p.transitionFailed(ctx, task, logger, err)
		}
		logger.Warn("Processing failed permanently")
		p.notify(ctx, failed)
		return metrics.OutcomeFailed, p.ack(ctx, task)
	}

	if _, err := p.records.ReleaseFileRecord(ctx, rec.ID, rec.AttemptCount, p.now().UTC()); err != nil {
		return p.transitionFailed(ctx, task, logger, err)
	}
	delay := p.backoff.Delay(rec.AttemptCount)
	if err := p.queue.ExtendVisibility(ctx, task, delay); err != nil {
		// The record is pending again; reconciliation re-enqueues it if the task is gone.
		logger.WithError(err).Warn("Failed to schedule retry")
	}
	logger.WithField("retry_in", delay).Info("Processing failed, will retry")
	return metrics.OutcomeRetried, nil
}

// transitionFailed handles an error from a conditional update. A conflict
// means another worker already moved the record on, so this delivery is a
// duplicate. Anything else leaves the task for redelivery.
func (p *Pool) transitionFailed(ctx context.Context, task *queue.Task, logger *log.Entry, err error) (string, error) {
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		logger.WithError(err).Info("Lost the race for this file, acknowledging")
		return metrics.OutcomeDuplicate, p.ack(ctx, task)
	}
	return metrics.OutcomeError, fmt.Errorf("%w: update file %s: %w", models.ErrMetadata, task.FileID, err)
}

func (p *Pool) ack(ctx context.Context, task *queue.Task) error {
	if err := p.queue.Ack(ctx, task); err != nil {
		return fmt.Errorf("%w: ack task %s: %w", models.ErrQueue, task.ID, err)
	}
	return nil
}

func (p *Pool) notify(ctx context.Context, rec *models.FileRecord) {
	if rec == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.notifyWait)
	defer cancel()
	if err := p.notifier.Notify(ctx, notify.NewEvent(rec, p.now().UTC())); err != nil {
		log.WithError(err).WithField("file_id", rec.ID).Warn("Failed to publish file event")
	}
}
