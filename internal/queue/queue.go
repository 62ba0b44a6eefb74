// Package queue serializes outbound network calls behind a single in-process
// priority queue. It exists as a backpressure mechanism: a burst of
// UI-triggered calls is paced to a bounded number of in-flight requests so a
// rate-limited backend is not overwhelmed. Do not widen it into unbounded
// concurrency.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketplace-service/internal/observability"
)

var ErrShutdown = errors.New("request queue shut down")

// Action is a single retryable network operation. It must be safe to invoke
// more than once unless MaxRetries is 0.
type Action func(ctx context.Context) (any, error)

// TaskOptions controls scheduling of one enqueued action.
type TaskOptions struct {
	// ID is the dedup key: while a task with this id is pending or
	// in-flight, further enqueues attach to its outcome instead of running
	// the action again. Empty means no dedup.
	ID         string
	Priority   int
	MaxRetries int
}

// Options tunes a Queue.
type Options struct {
	Workers       int           // concurrent in-flight actions, default 1
	BaseBackoff   time.Duration // first retry delay, default 500ms
	MaxBackoff    time.Duration // backoff cap, default 10s
	ActionTimeout time.Duration // per-attempt deadline, default 5s
}

func (o *Options) defaults() {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = 5 * time.Second
	}
}

type task struct {
	id         string
	priority   int
	seq        uint64
	attempt    int
	maxRetries int
	action     Action

	done    chan struct{}
	settled bool
	result  any
	err     error
	lastErr error
}

// Queue is the request queue. Construct with New, stop with Shutdown.
type Queue struct {
	opts Options

	mu      sync.Mutex
	cond    *sync.Cond
	ready   taskHeap
	pending map[string]*task
	timers  map[*task]*time.Timer
	seq     uint64
	closed  bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Queue and starts its workers.
func New(opts Options) *Queue {
	opts.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		opts:    opts,
		pending: make(map[string]*task),
		timers:  make(map[*task]*time.Timer),
		baseCtx: ctx,
		cancel:  cancel,
	}
	q.cond = sync.NewCond(&q.mu)
	for i := 0; i < opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Enqueue schedules action and blocks until it settles or ctx is done. A
// cancelled ctx detaches the caller only: the task itself runs to completion
// and other callers attached to the same id still observe its result.
func (q *Queue) Enqueue(ctx context.Context, action Action, opts TaskOptions) (any, error) {
	if action == nil {
		return nil, errors.New("queue: nil action")
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrShutdown
	}
	if opts.ID != "" {
		if existing, ok := q.pending[opts.ID]; ok {
			q.mu.Unlock()
			observability.IncQueueDedup()
			return q.wait(ctx, existing)
		}
	}

	q.seq++
	t := &task{
		id:         opts.ID,
		priority:   opts.Priority,
		seq:        q.seq,
		maxRetries: opts.MaxRetries,
		action:     action,
		done:       make(chan struct{}),
	}
	heap.Push(&q.ready, t)
	if t.id != "" {
		q.pending[t.id] = t
	}
	observability.SetQueueDepth(len(q.ready))
	q.cond.Signal()
	q.mu.Unlock()

	return q.wait(ctx, t)
}

func (q *Queue) wait(ctx context.Context, t *task) (any, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		t := q.next()
		if t == nil {
			return
		}
		q.run(t)
	}
}

func (q *Queue) next() *task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.ready) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.ready) == 0 {
		return nil
	}
	t := heap.Pop(&q.ready).(*task)
	observability.SetQueueDepth(len(q.ready))
	return t
}

func (q *Queue) run(t *task) {
	result, err := q.invoke(t)
	if err == nil {
		q.settle(t, result, nil)
		return
	}
	t.lastErr = err

	if !Retryable(err) || t.attempt >= t.maxRetries {
		q.settle(t, nil, err)
		return
	}

	delay := q.opts.BaseBackoff << uint(t.attempt)
	if delay > q.opts.MaxBackoff {
		delay = q.opts.MaxBackoff
	}
	t.attempt++
	observability.IncQueueRetry()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.settle(t, nil, err)
		return
	}
	q.timers[t] = time.AfterFunc(delay, func() { q.requeue(t) })
	q.mu.Unlock()
}

// invoke runs one attempt under the per-attempt deadline. A panicking action
// settles the task instead of crashing the worker.
func (q *Queue) invoke(t *task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: action panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(q.baseCtx, q.opts.ActionTimeout)
	defer cancel()
	return t.action(ctx)
}

func (q *Queue) requeue(t *task) {
	q.mu.Lock()
	delete(q.timers, t)
	if q.closed {
		q.mu.Unlock()
		q.settle(t, nil, t.lastErr)
		return
	}
	heap.Push(&q.ready, t)
	observability.SetQueueDepth(len(q.ready))
	q.cond.Signal()
	q.mu.Unlock()
}

// settle resolves a task exactly once. Shutdown and a concurrently firing
// retry timer can both reach here for the same task: the timer may have fired
// before Stop, leaving its requeue blocked on q.mu while Shutdown settles the
// task, after which the requeue observes closed and tries to settle too.
func (q *Queue) settle(t *task, result any, err error) {
	q.mu.Lock()
	if t.settled {
		q.mu.Unlock()
		return
	}
	t.settled = true
	if t.id != "" {
		delete(q.pending, t.id)
	}
	q.mu.Unlock()

	t.result = result
	t.err = err
	close(t.done)
	if err != nil {
		observability.IncQueueTask("failed")
	} else {
		observability.IncQueueTask("succeeded")
	}
}

// Shutdown stops the queue: queued and retry-scheduled tasks settle with
// ErrShutdown (or their last error), in-flight actions have their contexts
// cancelled, and workers are awaited up to ctx's deadline.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true

	var abandoned []*task
	for t, timer := range q.timers {
		timer.Stop()
		abandoned = append(abandoned, t)
	}
	q.timers = make(map[*task]*time.Timer)
	for len(q.ready) > 0 {
		abandoned = append(abandoned, heap.Pop(&q.ready).(*task))
	}
	observability.SetQueueDepth(0)
	q.cond.Broadcast()
	q.mu.Unlock()

	for _, t := range abandoned {
		err := t.lastErr
		if err == nil {
			err = ErrShutdown
		}
		q.settle(t, nil, err)
	}

	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// taskHeap orders by priority descending, submission order within a priority.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
