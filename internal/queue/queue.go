// Package queue is a durable sync job queue on top of Badger.
//
// Layout per queue name:
//
//	job/<queue>/<id>               job record (JSON)
//	ready/<queue>/<runAt>/<id>     schedule index, runAt in zero padded unix nanos
//	worker/<queue>/<worker id>     consumer heartbeat, expires with its TTL
//	status/<queue>/last_error      last auth failure reported by a consumer
//
// Job ids are ULIDs so jobs scheduled for the same instant run in
// submission order.
package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const DefaultName = "sync"

var ErrJobNotFound = errors.New("job not found")

type config struct {
	name     string
	inMemory bool
	retry    RetryPolicy
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes how the queue is opened.
type Option func(*config) error

// WithName selects the queue namespace inside the Badger directory.
func WithName(name string) Option {
	return func(cfg *config) error {
		if name == "" {
			return fmt.Errorf("queue name must not be empty")
		}
		cfg.name = name
		return nil
	}
}

// WithInMemory keeps all data in memory. Used by tests.
func WithInMemory() Option {
	return func(cfg *config) error {
		cfg.inMemory = true
		return nil
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(cfg *config) error {
		if policy.MaxRetries < 0 {
			return fmt.Errorf("max retries must be >= 0, got %d", policy.MaxRetries)
		}
		cfg.retry = policy
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) error {
		if logger != nil {
			cfg.logger = logger
		}
		return nil
	}
}

// WithClock overrides the time source used for scheduling.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) error {
		if now != nil {
			cfg.now = now
		}
		return nil
	}
}

type Queue struct {
	db     *badger.DB
	name   string
	retry  RetryPolicy
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the Badger directory at path and returns the
// queue stored in it. path is ignored with WithInMemory.
func Open(path string, options ...Option) (*Queue, error) {
	cfg := config{
		name:   DefaultName,
		retry:  DefaultRetryPolicy(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(&cfg); err != nil {
			return nil, err
		}
	}

	opts := badger.DefaultOptions(path)
	if cfg.inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue store: %w", err)
	}

	return &Queue{
		db:     db,
		name:   cfg.name,
		retry:  cfg.retry,
		logger: cfg.logger.With("queue", cfg.name),
		now:    cfg.now,
	}, nil
}

func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) Close() error {
	return q.db.Close()
}

func (q *Queue) jobKey(id string) []byte {
	return []byte("job/" + q.name + "/" + id)
}

func (q *Queue) jobPrefix() []byte {
	return []byte("job/" + q.name + "/")
}

func (q *Queue) readyKey(runAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("ready/%s/%020d/%s", q.name, runAt.UnixNano(), id))
}

func (q *Queue) readyPrefix() []byte {
	return []byte("ready/" + q.name + "/")
}

func (q *Queue) workerKey(id string) []byte {
	return []byte("worker/" + q.name + "/" + id)
}

func (q *Queue) workerPrefix() []byte {
	return []byte("worker/" + q.name + "/")
}

func (q *Queue) lastErrorKey() []byte {
	return []byte("status/" + q.name + "/last_error")
}

// update runs fn in a read-write transaction, retrying when a concurrent
// consumer committed first.
func (q *Queue) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < 5; i++ {
		err = q.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}
