package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/oklog/ulid/v2"

	"boxtrack/internal/domain"
)

type State string

const (
	StateQueued   State = "queued"
	StateRetrying State = "retrying"
	StateRunning  State = "running"
)

// Job is a queued sync job together with its delivery bookkeeping.
// Attempts counts executions started so far.
type Job struct {
	ID         string         `json:"id"`
	Sync       domain.SyncJob `json:"job"`
	State      State          `json:"state"`
	Attempts   int            `json:"attempts"`
	RunAt      time.Time      `json:"run_at"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	LastError  string         `json:"last_error,omitempty"`
}

// Enqueue stores job for immediate execution and returns its id. Jobs with
// nothing to sync or without a target are dropped and yield an empty id.
func (q *Queue) Enqueue(ctx context.Context, job domain.SyncJob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if job.Empty() || job.Target() == "" {
		return "", nil
	}

	now := q.now()
	record := &Job{
		ID:         ulid.Make().String(),
		Sync:       job,
		State:      StateQueued,
		RunAt:      now,
		EnqueuedAt: now,
	}
	if err := q.update(func(txn *badger.Txn) error {
		return q.schedule(txn, record)
	}); err != nil {
		return "", fmt.Errorf("failed to enqueue sync job: %w", err)
	}

	q.logger.Debug("sync job queued", "job_id", record.ID, "action", job.Action, "target", job.Target())
	return record.ID, nil
}

func (q *Queue) EnqueueCreated(ctx context.Context, snapshot *domain.Snapshot) *domain.SyncSignal {
	return q.submit(ctx, domain.SyncJob{Action: domain.SyncActionCreate, Snapshot: snapshot})
}

func (q *Queue) EnqueueUpdated(ctx context.Context, before, after *domain.Snapshot) *domain.SyncSignal {
	return q.submit(ctx, domain.SyncJob{Action: domain.SyncActionUpdate, Before: before, After: after})
}

func (q *Queue) EnqueueDeleted(ctx context.Context, snapshot *domain.Snapshot) *domain.SyncSignal {
	return q.submit(ctx, domain.SyncJob{Action: domain.SyncActionDelete, Snapshot: snapshot})
}

// submit enqueues job and reports the outcome as a user facing signal. A
// nil signal means the job had nothing to sync.
func (q *Queue) submit(ctx context.Context, job domain.SyncJob) *domain.SyncSignal {
	if job.Empty() || job.Target() == "" {
		return nil
	}
	if _, err := q.Enqueue(ctx, job); err != nil {
		q.logger.Error("failed to submit sync job", "action", job.Action, "error", err)
		return &domain.SyncSignal{Status: domain.SyncSignalError, Detail: err.Error()}
	}
	return &domain.SyncSignal{Status: domain.SyncSignalSuccess, Detail: job.Label()}
}

// Dequeue claims the oldest job whose run time has come. It returns nil
// when nothing is ready.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var claimed *Job
	err := q.update(func(txn *badger.Txn) error {
		claimed = nil
		key, id, runAt, ok, err := q.firstReady(txn)
		if err != nil || !ok || runAt.After(q.now()) {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}

		job, err := q.load(txn, id)
		if errors.Is(err, ErrJobNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		job.State = StateRunning
		job.Attempts++
		if err := q.put(txn, job); err != nil {
			return err
		}
		claimed = job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue sync job: %w", err)
	}
	return claimed, nil
}

// Complete removes a finished job.
func (q *Queue) Complete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := q.update(func(txn *badger.Txn) error {
		return txn.Delete(q.jobKey(id))
	}); err != nil {
		return fmt.Errorf("failed to complete sync job: %w", err)
	}
	return nil
}

// Fail reschedules a failed job according to the retry policy, or discards
// it when retries are exhausted. It reports whether the job will run again.
func (q *Queue) Fail(ctx context.Context, id string, cause error) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var (
		retried bool
		job     *Job
	)
	err := q.update(func(txn *badger.Txn) error {
		retried = false
		var err error
		job, err = q.load(txn, id)
		if err != nil {
			return err
		}

		delay, ok := q.retry.Next(job.Attempts)
		if !ok {
			return txn.Delete(q.jobKey(id))
		}

		job.State = StateRetrying
		job.RunAt = q.now().Add(delay)
		if cause != nil {
			job.LastError = cause.Error()
		}
		retried = true
		return q.schedule(txn, job)
	})
	if err != nil {
		return false, fmt.Errorf("failed to record sync job failure: %w", err)
	}

	if retried {
		q.logger.Warn("sync job scheduled for retry", "job_id", id, "attempts", job.Attempts, "run_at", job.RunAt, "error", cause)
	} else {
		q.logger.Error("sync job discarded after retries", "job_id", id, "attempts", job.Attempts, "error", cause)
	}
	return retried, nil
}

// Get returns the stored job with the given id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var job *Job
	err := q.db.View(func(txn *badger.Txn) error {
		var err error
		job, err = q.load(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Recover puts jobs left running by a previous process back on the
// schedule. Delivery is at least once.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var recovered int
	err := q.update(func(txn *badger.Txn) error {
		recovered = 0
		stuck, err := q.running(txn)
		if err != nil {
			return err
		}
		now := q.now()
		for _, job := range stuck {
			job.State = StateQueued
			job.RunAt = now
			if err := q.schedule(txn, job); err != nil {
				return err
			}
		}
		recovered = len(stuck)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to recover sync jobs: %w", err)
	}
	if recovered > 0 {
		q.logger.Info("requeued interrupted sync jobs", "count", recovered)
	}
	return recovered, nil
}

func (q *Queue) schedule(txn *badger.Txn, job *Job) error {
	if err := q.put(txn, job); err != nil {
		return err
	}
	return txn.Set(q.readyKey(job.RunAt, job.ID), []byte(job.ID))
}

func (q *Queue) put(txn *badger.Txn, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	return txn.Set(q.jobKey(job.ID), data)
}

func (q *Queue) load(txn *badger.Txn, id string) (*Job, error) {
	item, err := txn.Get(q.jobKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

func (q *Queue) firstReady(txn *badger.Txn) (key []byte, id string, runAt time.Time, ok bool, err error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = q.readyPrefix()
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Rewind()
	if !it.Valid() {
		return nil, "", time.Time{}, false, nil
	}

	key = it.Item().KeyCopy(nil)
	rest := strings.TrimPrefix(string(key), string(opts.Prefix))
	nanos, id, found := strings.Cut(rest, "/")
	if !found {
		return nil, "", time.Time{}, false, fmt.Errorf("malformed schedule key %q", key)
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, "", time.Time{}, false, fmt.Errorf("malformed schedule key %q: %w", key, err)
	}
	return key, id, time.Unix(0, n), true, nil
}

func (q *Queue) running(txn *badger.Txn) ([]*Job, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = q.jobPrefix()
	it := txn.NewIterator(opts)
	defer it.Close()

	var jobs []*Job
	for it.Rewind(); it.Valid(); it.Next() {
		data, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, fmt.Errorf("failed to decode job %s: %w", bytes.TrimPrefix(it.Item().Key(), opts.Prefix), err)
		}
		if job.State == StateRunning {
			jobs = append(jobs, &job)
		}
	}
	return jobs, nil
}
