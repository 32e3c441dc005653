// Package maintenance schedules and runs periodic housekeeping tasks over
// asynq. Today that is the reconciliation sweep.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"rustler/internal/logging"
	"rustler/internal/models"
	"rustler/internal/services"
)

// QueueName is the asynq queue maintenance tasks run on.
const QueueName = "maintenance"

// Sweeper runs one reconciliation pass.
type Sweeper interface {
	Sweep(ctx context.Context) (services.SweepResult, error)
}

// RedisOptions describes the Redis instance asynq talks to. URL wins over
// the discrete fields when set.
type RedisOptions struct {
	URL      string
	Address  string
	Password string
	DB       int
}

// ConnOpt converts o into an asynq connection option.
func (o RedisOptions) ConnOpt() (asynq.RedisConnOpt, error) {
	if o.URL != "" {
		opt, err := asynq.ParseRedisURI(o.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opt, nil
	}
	if o.Address == "" {
		return nil, errors.New("redis address is required")
	}
	return asynq.RedisClientOpt{Addr: o.Address, Password: o.Password, DB: o.DB}, nil
}

// NewReconcileTask builds the sweep task.
func NewReconcileTask() *asynq.Task {
	return asynq.NewTask(models.TaskTypeReconcile, nil)
}

// HandleReconcile runs one sweep per task. A failed sweep is not retried;
// the next scheduled run covers it.
func HandleReconcile(s Sweeper) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		result, err := s.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("reconcile sweep: %v: %w", err, asynq.SkipRetry)
		}
		log.WithFields(log.Fields{
			"scanned":  result.Scanned,
			"requeued": result.Requeued,
			"skipped":  result.Skipped,
			"errors":   result.Errors,
		}).Debug("Scheduled reconcile finished")
		return nil
	}
}

// RegisterHandlers wires every maintenance handler into mux.
func RegisterHandlers(mux *asynq.ServeMux, s Sweeper) {
	log.Infof("Registering maintenance handler (%s)", models.TaskTypeReconcile)
	mux.HandleFunc(models.TaskTypeReconcile, HandleReconcile(s))
}

// NewServer returns an asynq server consuming the maintenance queue.
func NewServer(opt asynq.RedisConnOpt) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{QueueName: 1},
		Logger:      logging.NewAsynqLogger(),
		LogLevel:    asynq.WarnLevel,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.WithError(err).WithField("task_type", task.Type()).Error("Maintenance task failed")
		}),
	})
}

// NewScheduler registers the sweep to run every interval. Runs are unique
// per interval so a slow sweep never stacks up behind itself.
func NewScheduler(opt asynq.RedisConnOpt, interval time.Duration) (*asynq.Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("reconcile interval must be positive, got %s", interval)
	}
	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Logger:   logging.NewAsynqLogger(),
		LogLevel: asynq.WarnLevel,
	})
	entryID, err := scheduler.Register(
		"@every "+interval.String(),
		NewReconcileTask(),
		scheduleOptions(interval)...,
	)
	if err != nil {
		return nil, fmt.Errorf("register reconcile schedule: %w", err)
	}
	log.WithFields(log.Fields{"entry_id": entryID, "interval": interval}).Info("Scheduled reconcile sweep")
	return scheduler, nil
}

func scheduleOptions(interval time.Duration) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(QueueName),
		asynq.MaxRetry(0),
		asynq.Unique(interval),
		asynq.Timeout(interval),
	}
}

// Client enqueues maintenance tasks on demand.
type Client struct {
	client *asynq.Client
}

func NewClient(opt asynq.RedisConnOpt) *Client {
	return &Client{client: asynq.NewClient(opt)}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueReconcile asks the worker process to run a sweep now. It reports
// false when an identical sweep is already queued.
func (c *Client) EnqueueReconcile(ctx context.Context) (bool, error) {
	info, err := c.client.EnqueueContext(ctx, NewReconcileTask(),
		asynq.Queue(QueueName), asynq.MaxRetry(0), asynq.Unique(time.Minute))
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return false, nil
		}
		return false, fmt.Errorf("%w: enqueue reconcile: %w", models.ErrQueue, err)
	}
	log.WithFields(log.Fields{"task_id": info.ID, "queue": info.Queue}).Info("Enqueued reconcile sweep")
	return true, nil
}
