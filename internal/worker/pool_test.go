package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"pathway-backend/internal/models"
	"pathway-backend/internal/services"
)

type memQueue struct {
	mu     sync.Mutex
	items  []string
	pushed []models.EngagementEvent
}

func (q *memQueue) Enqueue(ctx context.Context, events ...models.EngagementEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ev := range events {
		data, _ := json.Marshal(ev)
		q.items = append(q.items, string(data))
		q.pushed = append(q.pushed, ev)
	}
	return nil
}

func (q *memQueue) Pop(ctx context.Context, timeout time.Duration) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		time.Sleep(time.Millisecond)
		return "", false, nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true, nil
}

func (q *memQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

type stubLocker struct {
	busy     bool
	acquired []string
	released []string
}

func (l *stubLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l.busy {
		return "", false, nil
	}
	l.acquired = append(l.acquired, key)
	return "token", true, nil
}

func (l *stubLocker) Release(ctx context.Context, key, token string) error {
	l.released = append(l.released, key)
	return nil
}

type stubApplier struct {
	err     error
	applied []models.EngagementEvent
}

func (a *stubApplier) Apply(ctx context.Context, ev models.EngagementEvent) (interface{}, error) {
	a.applied = append(a.applied, ev)
	return nil, a.err
}

func encode(t *testing.T, ev models.EngagementEvent) string {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func newTestPool(queue *memQueue, locks *stubLocker, applier *stubApplier) (*Pool, *[]time.Duration) {
	p := NewPool(queue, locks, applier, nil, 1)
	var delays []time.Duration
	p.after = func(d time.Duration, f func()) func() bool {
		delays = append(delays, d)
		f()
		return func() bool { return false }
	}
	return p, &delays
}

func TestPool_ProcessAppliesUnderLock(t *testing.T) {
	queue, locks, applier := &memQueue{}, &stubLocker{}, &stubApplier{}
	p, _ := newTestPool(queue, locks, applier)
	userID := uuid.New()

	p.process(context.Background(), 0, encode(t, models.EngagementEvent{Type: models.EventTimeSpent, UserID: userID, StepID: "y1-git", Minutes: 10}))

	if len(applier.applied) != 1 || applier.applied[0].Minutes != 10 {
		t.Fatalf("expected event applied once, got %+v", applier.applied)
	}
	want := "engagement_lock:" + userID.String() + ":y1-git"
	if len(locks.acquired) != 1 || locks.acquired[0] != want {
		t.Errorf("expected lock %q, got %v", want, locks.acquired)
	}
	if len(locks.released) != 1 {
		t.Errorf("expected lock released, got %v", locks.released)
	}
}

func TestPool_DropsMalformedEvents(t *testing.T) {
	queue, locks, applier := &memQueue{}, &stubLocker{}, &stubApplier{}
	p, _ := newTestPool(queue, locks, applier)

	p.process(context.Background(), 0, "{not json")

	if len(applier.applied) != 0 || len(queue.pushed) != 0 || len(locks.acquired) != 0 {
		t.Fatalf("malformed event should be dropped without side effects")
	}
}

func TestPool_RequeuesWhenLockBusy(t *testing.T) {
	queue, locks, applier := &memQueue{}, &stubLocker{busy: true}, &stubApplier{}
	p, _ := newTestPool(queue, locks, applier)

	p.process(context.Background(), 0, encode(t, models.EngagementEvent{Type: models.EventLogin, UserID: uuid.New()}))

	if len(applier.applied) != 0 {
		t.Fatalf("event must not be applied without the lock")
	}
	if len(queue.pushed) != 1 {
		t.Fatalf("expected event requeued, got %d", len(queue.pushed))
	}
}

func TestPool_RetriesOperationFailures(t *testing.T) {
	queue := &memQueue{}
	applier := &stubApplier{err: &services.OperationError{Op: "record login", Err: errors.New("db down")}}
	p, delays := newTestPool(queue, &stubLocker{}, applier)

	p.process(context.Background(), 0, encode(t, models.EngagementEvent{Type: models.EventLogin, UserID: uuid.New()}))
	if len(queue.pushed) != 1 || queue.pushed[0].Attempts != 1 {
		t.Fatalf("expected one requeue with attempt 1, got %+v", queue.pushed)
	}
	if (*delays)[0] != 2*time.Second {
		t.Errorf("expected 2s backoff, got %v", (*delays)[0])
	}

	raw, _, _ := queue.Pop(context.Background(), 0)
	p.process(context.Background(), 0, raw)
	raw, _, _ = queue.Pop(context.Background(), 0)
	p.process(context.Background(), 0, raw)

	if len(applier.applied) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(applier.applied))
	}
	if len(queue.pushed) != 2 {
		t.Errorf("expected to give up after %d attempts, pushed %d times", maxEventRetries, len(queue.pushed))
	}
}

func TestPool_DropsRejectedEvents(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"validation", &services.ValidationError{Fields: map[string]string{"type": "Unknown event type"}}},
		{"unknown user", &services.NotFoundError{Message: "User not found"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			queue := &memQueue{}
			p, _ := newTestPool(queue, &stubLocker{}, &stubApplier{err: tc.err})

			p.process(context.Background(), 0, encode(t, models.EngagementEvent{Type: "teleport", UserID: uuid.New()}))

			if len(queue.pushed) != 0 {
				t.Errorf("rejected events must not be retried")
			}
		})
	}
}

func TestPool_StartStopDrainsQueue(t *testing.T) {
	queue, applier := &memQueue{}, &stubApplier{}
	_ = queue.Enqueue(context.Background(), models.EngagementEvent{Type: models.EventLogin, UserID: uuid.New()})
	p := NewPool(queue, &stubLocker{}, applier, nil, 2)

	p.Start()
	deadline := time.Now().Add(2 * time.Second)
	for {
		queue.mu.Lock()
		empty := len(queue.items) == 0
		queue.mu.Unlock()
		if empty || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	p.Stop()

	if len(applier.applied) != 1 {
		t.Fatalf("expected the queued event to be applied, got %d", len(applier.applied))
	}
}

func TestPool_StopRequeuesPendingRetries(t *testing.T) {
	queue := &memQueue{}
	applier := &stubApplier{err: &services.OperationError{Op: "record time", Err: errors.New("db down")}}
	p := NewPool(queue, &stubLocker{}, applier, nil, 1)

	var fire func()
	stopped := false
	p.after = func(d time.Duration, f func()) func() bool {
		fire = f
		return func() bool {
			stopped = true
			return true
		}
	}

	userID := uuid.New()
	p.process(context.Background(), 0, encode(t, models.EngagementEvent{Type: models.EventTimeSpent, UserID: userID, StepID: "y1-git", Minutes: 30}))
	if len(queue.pushed) != 0 {
		t.Fatalf("retry should wait for its backoff, pushed %d", len(queue.pushed))
	}

	p.Stop()

	if !stopped {
		t.Error("expected the backoff timer to be stopped")
	}
	if len(queue.pushed) != 1 || queue.pushed[0].Attempts != 1 || queue.pushed[0].Minutes != 30 {
		t.Fatalf("expected the pending retry pushed once on stop, got %+v", queue.pushed)
	}

	// a timer that already fired must not push the event a second time
	fire()
	if len(queue.pushed) != 1 {
		t.Errorf("expected no push after stop, got %d", len(queue.pushed))
	}
}

func TestPool_RetryAfterStopPushesImmediately(t *testing.T) {
	queue := &memQueue{}
	p := NewPool(queue, &stubLocker{}, &stubApplier{}, nil, 1)
	p.after = func(d time.Duration, f func()) func() bool {
		t.Fatal("no timer should be scheduled once the pool is stopped")
		return nil
	}
	p.Stop()

	p.retry(models.EngagementEvent{Type: models.EventLogin, UserID: uuid.New()}, errors.New("db down"))

	if len(queue.pushed) != 1 || queue.pushed[0].Attempts != 1 {
		t.Fatalf("expected the retry pushed straight away, got %+v", queue.pushed)
	}
}

func TestPool_Backlog(t *testing.T) {
	queue := &memQueue{}
	p := NewPool(queue, &stubLocker{}, &stubApplier{}, nil, 1)
	_ = queue.Enqueue(context.Background(),
		models.EngagementEvent{Type: models.EventLogin, UserID: uuid.New()},
		models.EngagementEvent{Type: models.EventLogin, UserID: uuid.New()},
	)

	n, ok := p.backlog(context.Background())
	if !ok || n != 2 {
		t.Fatalf("expected backlog 2, got %d (ok=%v)", n, ok)
	}
}
