package services

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"rustler/internal/metrics"
	"rustler/internal/models"
	"rustler/internal/queue"
	"rustler/internal/store"
)

// ReconcileServiceDeps wires the reconciliation sweep.
type ReconcileServiceDeps struct {
	Records     store.FileRecordStore
	Queue       queue.TaskQueue
	GracePeriod time.Duration
	BatchSize   int
	Now         func() time.Time
}

// ReconcileService re-enqueues records that stopped making progress: pending
// records whose task was never published or got lost, and processing
// records whose worker lease lapsed without a task left to redeliver them.
type ReconcileService struct {
	records     store.FileRecordStore
	queue       queue.TaskQueue
	gracePeriod time.Duration
	batchSize   int
	now         func() time.Time
}

func NewReconcileService(deps ReconcileServiceDeps) *ReconcileService {
	if deps.GracePeriod <= 0 {
		deps.GracePeriod = 10 * time.Minute
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = 100
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &ReconcileService{
		records:     deps.Records,
		queue:       deps.Queue,
		gracePeriod: deps.GracePeriod,
		batchSize:   deps.BatchSize,
		now:         deps.Now,
	}
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Scanned  int `json:"scanned"`
	Requeued int `json:"requeued"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Sweep runs one reconciliation pass over at most BatchSize records.
// Per-record failures are counted and logged; only a failed candidate scan
// is returned as an error.
func (s *ReconcileService) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	cutoff := s.now().UTC().Add(-s.gracePeriod)

	candidates, err := s.records.ListReconcileCandidates(ctx, store.ReconcileQuery{
		PendingBefore:      cutoff,
		LeaseExpiredBefore: cutoff,
		Limit:              s.batchSize,
	})
	if err != nil {
		return result, fmt.Errorf("%w: list reconcile candidates: %w", models.ErrMetadata, err)
	}
	result.Scanned = len(candidates)

	for _, rec := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		logger := log.WithFields(log.Fields{"file_id": rec.ID, "status": rec.Status, "attempt": rec.AttemptCount})

		live, err := s.queue.HasLiveTask(ctx, rec.ID)
		if err != nil {
			result.Errors++
			logger.WithError(err).Warn("Reconcile: failed to check for live task")
			continue
		}
		if live {
			result.Skipped++
			continue
		}

		if _, err := s.queue.Enqueue(ctx, rec.ID); err != nil {
			result.Errors++
			logger.WithError(err).Warn("Reconcile: failed to re-enqueue")
			continue
		}
		if err := s.records.MarkEnqueued(ctx, rec.ID, s.now().UTC()); err != nil {
			// The task is out; a duplicate enqueue next sweep is harmless.
			logger.WithError(err).Warn("Reconcile: failed to record enqueue time")
		}
		result.Requeued++
		metrics.ReconcileRequeued.Inc()
		logger.Info("Reconcile: re-enqueued stalled file")
	}

	if result.Scanned > 0 {
		log.WithFields(log.Fields{
			"scanned":  result.Scanned,
			"requeued": result.Requeued,
			"skipped":  result.Skipped,
			"errors":   result.Errors,
		}).Info("Reconcile sweep finished")
	}
	return result, nil
}
