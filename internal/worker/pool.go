package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"pathway-backend/internal/logger"
	"pathway-backend/internal/models"
	"pathway-backend/internal/services"
)

const (
	popTimeout      = 5 * time.Second
	lockTTL         = 30 * time.Second
	lockAttempts    = 10
	lockRetryDelay  = 50 * time.Millisecond
	maxEventRetries = 3
)

type eventSource interface {
	Enqueue(ctx context.Context, events ...models.EngagementEvent) error
	Pop(ctx context.Context, timeout time.Duration) (string, bool, error)
}

type eventLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

type eventApplier interface {
	Apply(ctx context.Context, ev models.EngagementEvent) (interface{}, error)
}

type queueDepth interface {
	Len(ctx context.Context) (int64, error)
}

type pendingRetry struct {
	ev   models.EngagementEvent
	stop func() bool
}

// Pool drains the engagement event queue. Events for the same learner and
// step are serialised across workers and instances by a Redis lock.
type Pool struct {
	queue       eventSource
	locks       eventLocker
	tracker     eventApplier
	log         *logger.Logger
	workerCount int

	// after schedules a delayed requeue and returns a func that cancels it.
	after func(d time.Duration, f func()) func() bool

	mu        sync.Mutex
	pending   map[uint64]*pendingRetry
	nextRetry uint64
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(queue eventSource, locks eventLocker, tracker eventApplier, log *logger.Logger, workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:       queue,
		locks:       locks,
		tracker:     tracker,
		log:         log,
		workerCount: workerCount,
		after:       func(d time.Duration, f func()) func() bool { return time.AfterFunc(d, f).Stop },
		pending:     make(map[uint64]*pendingRetry),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	backlog, _ := p.backlog(context.Background())
	p.log.Info("started event workers", "count", p.workerCount, "queue", EventQueueName, "backlog", backlog)
}

// Stop cancels in-flight pops and waits for workers to finish their
// current event. Retries still waiting on their backoff are pushed back
// onto the queue right away so they survive the shutdown.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	p.stopped = true
	pending := p.pending
	p.pending = make(map[uint64]*pendingRetry)
	p.mu.Unlock()

	ctx := context.Background()
	for _, r := range pending {
		if r.stop != nil {
			r.stop()
		}
		p.requeue(ctx, r.ev)
	}
	if len(pending) > 0 {
		p.log.Info("requeued pending retries", "count", len(pending))
	}
	if backlog, ok := p.backlog(ctx); ok && backlog > 0 {
		p.log.Info("event queue backlog at shutdown", "queue", EventQueueName, "events", backlog)
	}
}

// backlog reports the queue length when the queue can tell it.
func (p *Pool) backlog(ctx context.Context) (int64, bool) {
	q, ok := p.queue.(queueDepth)
	if !ok {
		return 0, false
	}
	n, err := q.Len(ctx)
	if err != nil {
		p.log.Warn("failed to read event queue length", "error", err)
		return 0, false
	}
	return n, true
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		if p.ctx.Err() != nil {
			p.log.Debug("worker shutting down", "worker", id)
			return
		}

		raw, ok, err := p.queue.Pop(p.ctx, popTimeout)
		if err != nil {
			if p.ctx.Err() == nil {
				p.log.Warn("event queue pop failed", "worker", id, "error", err)
				time.Sleep(time.Second)
			}
			continue
		}
		if !ok {
			continue
		}

		// processing finishes even if Stop is called meanwhile
		p.process(context.Background(), id, raw)
	}
}

func lockKey(ev models.EngagementEvent) string {
	return fmt.Sprintf("engagement_lock:%s:%s", ev.UserID, ev.StepID)
}

func (p *Pool) process(ctx context.Context, id int, raw string) {
	var ev models.EngagementEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		p.log.Warn("dropping malformed event", "worker", id, "error", err)
		return
	}

	key := lockKey(ev)
	token, locked := p.acquire(ctx, key)
	if !locked {
		p.log.Debug("event lock busy, requeueing", "worker", id, "lock", key)
		if err := p.queue.Enqueue(ctx, ev); err != nil {
			p.log.Error("failed to requeue event", "worker", id, "user_id", ev.UserID, "error", err)
		}
		return
	}
	defer func() {
		if err := p.locks.Release(ctx, key, token); err != nil {
			p.log.Warn("failed to release event lock", "lock", key, "error", err)
		}
	}()

	_, err := p.tracker.Apply(ctx, ev)
	if err == nil {
		return
	}

	var (
		validation *services.ValidationError
		notFound   *services.NotFoundError
	)
	if errors.As(err, &validation) || errors.As(err, &notFound) {
		p.log.Warn("dropping rejected event", "worker", id, "type", ev.Type, "user_id", ev.UserID, "error", err)
		return
	}
	p.retry(ev, err)
}

func (p *Pool) acquire(ctx context.Context, key string) (string, bool) {
	for attempt := 0; attempt < lockAttempts; attempt++ {
		token, ok, err := p.locks.Acquire(ctx, key, lockTTL)
		if err != nil {
			p.log.Warn("event lock failed", "lock", key, "error", err)
			return "", false
		}
		if ok {
			return token, true
		}
		time.Sleep(lockRetryDelay)
	}
	return "", false
}

func (p *Pool) retry(ev models.EngagementEvent, cause error) {
	ev.Attempts++
	if ev.Attempts >= maxEventRetries {
		p.log.Error("event failed permanently", "type", ev.Type, "user_id", ev.UserID, "step_id", ev.StepID, "attempts", ev.Attempts, "error", cause)
		return
	}

	backoff := time.Duration(1<<uint(ev.Attempts)) * time.Second
	p.log.Warn("event failed, retrying", "type", ev.Type, "user_id", ev.UserID, "attempt", ev.Attempts, "backoff", backoff.String(), "error", cause)

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.requeue(context.Background(), ev)
		return
	}
	p.nextRetry++
	id := p.nextRetry
	r := &pendingRetry{ev: ev}
	p.pending[id] = r
	p.mu.Unlock()

	stop := p.after(backoff, func() {
		if ev, ok := p.claim(id); ok {
			p.requeue(context.Background(), ev)
		}
	})

	p.mu.Lock()
	if _, ok := p.pending[id]; ok {
		r.stop = stop
	}
	p.mu.Unlock()
}

// claim removes a pending retry. Only one of the timer and Stop gets it.
func (p *Pool) claim(id uint64) (models.EngagementEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.pending[id]
	if !ok {
		return models.EngagementEvent{}, false
	}
	delete(p.pending, id)
	return r.ev, true
}

func (p *Pool) requeue(ctx context.Context, ev models.EngagementEvent) {
	if err := p.queue.Enqueue(ctx, ev); err != nil {
		p.log.Error("failed to requeue event", "user_id", ev.UserID, "attempt", ev.Attempts, "error", err)
	}
}
