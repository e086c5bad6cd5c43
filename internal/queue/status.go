package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"boxtrack/internal/domain"
)

// Heartbeat marks workerID as alive for ttl.
func (q *Queue) Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(q.workerKey(workerID), []byte(q.now().UTC().Format(time.RFC3339Nano))).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

// Leave removes the heartbeat of a worker that is shutting down.
func (q *Queue) Leave(ctx context.Context, workerID string) error {
	return q.update(func(txn *badger.Txn) error {
		return txn.Delete(q.workerKey(workerID))
	})
}

func (q *Queue) RecordLastError(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.update(func(txn *badger.Txn) error {
		return txn.Set(q.lastErrorKey(), []byte(message))
	})
}

func (q *Queue) ClearLastError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.update(func(txn *badger.Txn) error {
		return txn.Delete(q.lastErrorKey())
	})
}

// WorkerStatus reports whether any consumer heartbeat is live, the last
// recorded error and the number of jobs waiting to run.
func (q *Queue) WorkerStatus(ctx context.Context) (domain.WorkerStatus, error) {
	var status domain.WorkerStatus
	if err := ctx.Err(); err != nil {
		return status, err
	}

	err := q.db.View(func(txn *badger.Txn) error {
		status.Online = q.hasKeys(txn, q.workerPrefix())
		status.Pending = q.countKeys(txn, q.readyPrefix())

		item, err := txn.Get(q.lastErrorKey())
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		message := string(value)
		status.LastError = &message
		return nil
	})
	if err != nil {
		return status, fmt.Errorf("failed to read worker status: %w", err)
	}
	return status, nil
}

// Expired heartbeats are skipped by Badger iterators.
func (q *Queue) hasKeys(txn *badger.Txn, prefix []byte) bool {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Rewind()
	return it.Valid()
}

func (q *Queue) countKeys(txn *badger.Txn, prefix []byte) int {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n
}
