package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"boxtrack/internal/domain"
	"boxtrack/internal/queue"
	"boxtrack/internal/sheets"
)

type call struct {
	action string
	before *domain.Snapshot
	after  *domain.Snapshot
}

type fakeManager struct {
	calls []call
	err   error
}

func (m *fakeManager) HandleCreate(ctx context.Context, s *domain.Snapshot) error {
	m.calls = append(m.calls, call{action: "create", after: s})
	return m.err
}

func (m *fakeManager) HandleUpdate(ctx context.Context, before, after *domain.Snapshot) error {
	m.calls = append(m.calls, call{action: "update", before: before, after: after})
	return m.err
}

func (m *fakeManager) HandleDelete(ctx context.Context, s *domain.Snapshot) error {
	m.calls = append(m.calls, call{action: "delete", before: s})
	return m.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.SyncEvent
}

func (n *recordingNotifier) Publish(event domain.SyncEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

type fixture struct {
	queue    *queue.Queue
	managers map[string]*fakeManager
	worker   *Worker
	pool     *Pool
	events   *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	q, err := queue.Open("", queue.WithInMemory(), queue.WithRetryPolicy(queue.RetryPolicy{MaxRetries: 3}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	f := &fixture{
		queue:    q,
		managers: make(map[string]*fakeManager),
		events:   &recordingNotifier{},
	}
	managers := NewManagers(func(target string) SheetManager {
		return f.manager(target)
	})
	f.worker = New(managers, q, nil)
	f.pool = NewPool(q, f.worker, f.events, PoolConfig{JobTimeout: time.Second}, nil)
	return f
}

func (f *fixture) manager(target string) *fakeManager {
	if m, ok := f.managers[target]; ok {
		return m
	}
	m := &fakeManager{}
	f.managers[target] = m
	return m
}

func snapshot(target, item string) *domain.Snapshot {
	return &domain.Snapshot{
		Tab:  domain.SnapshotTab{ID: "t1", Name: "Cables", SyncTarget: target},
		Box:  domain.SnapshotBox{ID: "b1", Name: "A1"},
		Item: domain.SnapshotItem{ID: "i1", Name: item, Qty: 1},
	}
}

func lastError(t *testing.T, q *queue.Queue) *string {
	t.Helper()
	status, err := q.WorkerStatus(context.Background())
	require.NoError(t, err)
	return status.LastError
}

func TestHandle_DispatchesByAction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.worker.Handle(ctx, domain.SyncJob{Action: domain.SyncActionCreate, Snapshot: snapshot("sheet-a", "HDMI")}))
	require.NoError(t, f.worker.Handle(ctx, domain.SyncJob{Action: domain.SyncActionDelete, Snapshot: snapshot("sheet-a", "HDMI")}))
	require.NoError(t, f.worker.Handle(ctx, domain.SyncJob{
		Action: domain.SyncActionUpdate,
		Before: snapshot("sheet-a", "old"),
		After:  snapshot("sheet-b", "new"),
	}))

	require.Len(t, f.managers["sheet-a"].calls, 2)
	require.Equal(t, "create", f.managers["sheet-a"].calls[0].action)
	require.Equal(t, "delete", f.managers["sheet-a"].calls[1].action)

	// updates resolve the target from the after image
	require.Len(t, f.managers["sheet-b"].calls, 1)
	update := f.managers["sheet-b"].calls[0]
	require.Equal(t, "old", update.before.Item.Name)
	require.Equal(t, "new", update.after.Item.Name)
}

func TestHandle_UpdateFallsBackToBeforeTarget(t *testing.T) {
	f := newFixture(t)

	err := f.worker.Handle(context.Background(), domain.SyncJob{
		Action: domain.SyncActionUpdate,
		Before: snapshot("sheet-a", "old"),
	})
	require.NoError(t, err)
	require.Len(t, f.managers["sheet-a"].calls, 1)
}

func TestHandle_NoTargetIsSilent(t *testing.T) {
	f := newFixture(t)

	err := f.worker.Handle(context.Background(), domain.SyncJob{Action: domain.SyncActionCreate, Snapshot: snapshot("", "HDMI")})
	require.NoError(t, err)
	require.Empty(t, f.managers)
}

func TestHandle_ConfigurationErrorIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.manager("sheet-a").err = &sheets.ConfigurationError{Reason: "sync target \"sheet-a\" not found"}

	err := f.worker.Handle(context.Background(), domain.SyncJob{Action: domain.SyncActionCreate, Snapshot: snapshot("sheet-a", "HDMI")})

	require.NoError(t, err)
	require.Nil(t, lastError(t, f.queue))
}

func TestHandle_AuthErrorRecordsLastError(t *testing.T) {
	f := newFixture(t)
	f.manager("sheet-a").err = &sheets.AuthError{Err: errors.New("invalid_grant")}

	err := f.worker.Handle(context.Background(), domain.SyncJob{Action: domain.SyncActionCreate, Snapshot: snapshot("sheet-a", "HDMI")})

	require.Error(t, err)
	msg := lastError(t, f.queue)
	require.NotNil(t, msg)
	require.Contains(t, *msg, "invalid_grant")

	f.manager("sheet-a").err = nil
	require.NoError(t, f.worker.Handle(context.Background(), domain.SyncJob{Action: domain.SyncActionCreate, Snapshot: snapshot("sheet-a", "HDMI")}))
	require.Nil(t, lastError(t, f.queue), "a successful sync clears the last error")
}

func TestHandle_TransientErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	f.manager("sheet-a").err = errors.New("connection reset")

	err := f.worker.Handle(context.Background(), domain.SyncJob{Action: domain.SyncActionDelete, Snapshot: snapshot("sheet-a", "HDMI")})

	require.EqualError(t, err, "connection reset")
	require.Nil(t, lastError(t, f.queue))
}

func TestRunOnce_CompletesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.queue.Enqueue(ctx, domain.SyncJob{Action: domain.SyncActionCreate, Snapshot: snapshot("sheet-a", "HDMI")})
	require.NoError(t, err)

	require.True(t, f.pool.RunOnce(ctx))
	require.False(t, f.pool.RunOnce(ctx))

	_, err = f.queue.Get(ctx, id)
	require.ErrorIs(t, err, queue.ErrJobNotFound)
	require.Len(t, f.events.events, 1)
	require.Equal(t, domain.SyncEventSucceeded, f.events.events[0].Type)
	require.Equal(t, "A1 — HDMI", f.events.events[0].Label)
}

func TestRunOnce_ConfigurationErrorIsNotRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.manager("sheet-a").err = &sheets.ConfigurationError{Reason: "worksheet \"Stock\" is empty"}

	id, err := f.queue.Enqueue(ctx, domain.SyncJob{Action: domain.SyncActionCreate, Snapshot: snapshot("sheet-a", "HDMI")})
	require.NoError(t, err)

	require.True(t, f.pool.RunOnce(ctx))

	_, err = f.queue.Get(ctx, id)
	require.ErrorIs(t, err, queue.ErrJobNotFound)
	require.Nil(t, lastError(t, f.queue))
	require.Equal(t, domain.SyncEventSkipped, f.events.events[0].Type)
}

func TestRunOnce_RetriesUntilExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.manager("sheet-a").err = &sheets.AuthError{Err: errors.New("token expired")}

	id, err := f.queue.Enqueue(ctx, domain.SyncJob{Action: domain.SyncActionCreate, Snapshot: snapshot("sheet-a", "HDMI")})
	require.NoError(t, err)

	// the policy has no intervals, so retries are ready immediately
	for attempt := 1; attempt <= 4; attempt++ {
		require.True(t, f.pool.RunOnce(ctx), "attempt %d", attempt)
	}
	require.False(t, f.pool.RunOnce(ctx))

	_, err = f.queue.Get(ctx, id)
	require.ErrorIs(t, err, queue.ErrJobNotFound)
	require.Len(t, f.manager("sheet-a").calls, 4)
	require.NotNil(t, lastError(t, f.queue), "the last error stays visible after the job is dropped")
	require.Equal(t, 4, f.events.events[3].Attempt)
	require.Equal(t, domain.SyncEventFailed, f.events.events[3].Type)
}

func TestPool_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := f.queue.Enqueue(ctx, domain.SyncJob{Action: domain.SyncActionCreate, Snapshot: snapshot("sheet-a", "HDMI")})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		f.pool.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		f.events.mu.Lock()
		defer f.events.mu.Unlock()
		return len(f.events.events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	status, err := f.queue.WorkerStatus(context.Background())
	require.NoError(t, err)
	require.True(t, status.Online)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}

	status, err = f.queue.WorkerStatus(context.Background())
	require.NoError(t, err)
	require.False(t, status.Online)
}
