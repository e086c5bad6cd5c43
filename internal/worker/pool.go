package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"boxtrack/internal/domain"
	"boxtrack/internal/queue"
)

// Consumer is the consuming side of the job queue.
type Consumer interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, cause error) (bool, error)
	Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error
	Leave(ctx context.Context, workerID string) error
}

// Notifier receives an event after every executed job.
type Notifier interface {
	Publish(event domain.SyncEvent)
}

type PoolConfig struct {
	Workers      int
	PollInterval time.Duration
	JobTimeout   time.Duration
	HeartbeatTTL time.Duration
}

// Pool runs queue consumers inside the process. Each consumer announces
// itself with a heartbeat so the queue can report whether anyone is
// serving it.
type Pool struct {
	consumer Consumer
	worker   *Worker
	notifier Notifier
	cfg      PoolConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewPool(consumer Consumer, worker *Worker, notifier Notifier, cfg PoolConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 90 * time.Second
	}
	if cfg.HeartbeatTTL <= 0 {
		cfg.HeartbeatTTL = 30 * time.Second
	}
	return &Pool{
		consumer: consumer,
		worker:   worker,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled and all consumers have stopped.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.consume(ctx, uuid.NewString())
		}()
	}
	wg.Wait()
}

func (p *Pool) consume(ctx context.Context, workerID string) {
	logger := p.logger.With("worker_id", workerID)
	logger.Info("sync worker started")
	defer func() {
		if err := p.consumer.Leave(context.WithoutCancel(ctx), workerID); err != nil {
			logger.Error("failed to remove worker heartbeat", "error", err)
		}
		logger.Info("sync worker stopped")
	}()

	p.heartbeat(ctx, logger, workerID)
	go func() {
		ticker := time.NewTicker(p.cfg.HeartbeatTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.heartbeat(ctx, logger, workerID)
			}
		}
	}()

	poll := time.NewTicker(p.cfg.PollInterval)
	defer poll.Stop()
	for {
		for ctx.Err() == nil && p.RunOnce(ctx) {
		}
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
		}
	}
}

func (p *Pool) heartbeat(ctx context.Context, logger *slog.Logger, workerID string) {
	if err := p.consumer.Heartbeat(ctx, workerID, p.cfg.HeartbeatTTL); err != nil && ctx.Err() == nil {
		logger.Error("failed to send worker heartbeat", "error", err)
	}
}

// RunOnce executes the next ready job, if any, and reports whether one was
// found.
func (p *Pool) RunOnce(ctx context.Context) bool {
	job, err := p.consumer.Dequeue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("failed to dequeue sync job", "error", err)
		}
		return false
	}
	if job == nil {
		return false
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	outcome, herr := p.worker.handle(jobCtx, job.Sync)
	cancel()

	// bookkeeping must survive shutdown
	bg := context.WithoutCancel(ctx)
	event := domain.SyncEvent{
		JobID:     job.ID,
		Action:    job.Sync.Action,
		Target:    job.Sync.Target(),
		Label:     job.Sync.Label(),
		Attempt:   job.Attempts,
		Timestamp: p.now(),
	}
	switch outcome {
	case Succeeded:
		event.Type = domain.SyncEventSucceeded
	case Skipped:
		event.Type = domain.SyncEventSkipped
	default:
		event.Type = domain.SyncEventFailed
	}

	if herr != nil {
		event.Error = herr.Error()
		if _, err := p.consumer.Fail(bg, job.ID, herr); err != nil {
			p.logger.Error("failed to record sync job failure", "job_id", job.ID, "error", err)
		}
	} else if err := p.consumer.Complete(bg, job.ID); err != nil {
		p.logger.Error("failed to complete sync job", "job_id", job.ID, "error", err)
	}

	if p.notifier != nil {
		p.notifier.Publish(event)
	}
	return true
}
