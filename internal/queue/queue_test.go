package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct {
	code int
}

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) StatusCode() int { return e.code }

func testOptions() Options {
	return Options{
		Workers:       1,
		BaseBackoff:   time.Millisecond,
		MaxBackoff:    5 * time.Millisecond,
		ActionTimeout: time.Second,
	}
}

func shutdown(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))
}

func TestEnqueueReturnsResult(t *testing.T) {
	q := New(testOptions())
	defer shutdown(t, q)

	result, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		return "ok", nil
	}, TaskOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestDedupRunsActionOnce(t *testing.T) {
	q := New(testOptions())
	defer shutdown(t, q)

	var calls atomic.Int32
	gate := make(chan struct{})
	action := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-gate
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 5)
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = q.Enqueue(context.Background(), action, TaskOptions{ID: "fetch"})
		}(i)
	}

	// Let every caller attach before the single execution finishes.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < 5; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i])
	}
}

func TestDedupKeyFreeAfterSettle(t *testing.T) {
	q := New(testOptions())
	defer shutdown(t, q)

	var calls atomic.Int32
	action := func(ctx context.Context) (any, error) {
		return calls.Add(1), nil
	}

	first, err := q.Enqueue(context.Background(), action, TaskOptions{ID: "again"})
	require.NoError(t, err)
	second, err := q.Enqueue(context.Background(), action, TaskOptions{ID: "again"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), first)
	assert.Equal(t, int32(2), second)
}

func TestPriorityOrdering(t *testing.T) {
	q := New(testOptions())
	defer shutdown(t, q)

	// Occupy the single worker so both tasks are queued together.
	gate := make(chan struct{})
	go q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		<-gate
		return nil, nil
	}, TaskOptions{})
	time.Sleep(20 * time.Millisecond)

	var mu sync.Mutex
	var order []string
	record := func(name string) Action {
		return func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	var wg sync.WaitGroup
	for _, tc := range []struct {
		name     string
		priority int
	}{{"low", 1}, {"high", 5}} {
		wg.Add(1)
		go func(name string, priority int) {
			defer wg.Done()
			q.Enqueue(context.Background(), record(name), TaskOptions{Priority: priority})
		}(tc.name, tc.priority)
		time.Sleep(20 * time.Millisecond)
	}

	close(gate)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"high", "low"}, order)
}

func TestFIFOWithinPriority(t *testing.T) {
	q := New(testOptions())
	defer shutdown(t, q)

	gate := make(chan struct{})
	go q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		<-gate
		return nil, nil
	}, TaskOptions{})
	time.Sleep(20 * time.Millisecond)

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	for _, name := range []string{"first", "second", "third"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil, nil
			}, TaskOptions{Priority: 3})
		}(name)
		time.Sleep(20 * time.Millisecond)
	}

	close(gate)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second", "third"}, order)
}

func TestRetryCeiling(t *testing.T) {
	q := New(testOptions())
	defer shutdown(t, q)

	var calls atomic.Int32
	boom := errors.New("backend down")
	_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, boom
	}, TaskOptions{MaxRetries: 2})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSuccessAfterRetry(t *testing.T) {
	q := New(testOptions())
	defer shutdown(t, q)

	var calls atomic.Int32
	result, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		if calls.Add(1) < 3 {
			return nil, statusErr{code: 500}
		}
		return "recovered", nil
	}, TaskOptions{MaxRetries: 5})

	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNoRetryOnRateLimit(t *testing.T) {
	q := New(testOptions())
	defer shutdown(t, q)

	var calls atomic.Int32
	_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, statusErr{code: 429}
	}, TaskOptions{MaxRetries: 5})

	var sc StatusCoder
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, 429, sc.StatusCode())
	assert.Equal(t, int32(1), calls.Load())
}

func TestNoRetryOnServiceUnavailable(t *testing.T) {
	q := New(testOptions())
	defer shutdown(t, q)

	var calls atomic.Int32
	_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, statusErr{code: 503}
	}, TaskOptions{MaxRetries: 5})

	var sc StatusCoder
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, 503, sc.StatusCode())
	assert.Equal(t, int32(1), calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	q := New(testOptions())
	defer shutdown(t, q)

	var calls atomic.Int32
	_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, statusErr{code: 404}
	}, TaskOptions{MaxRetries: 5})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestActionTimeoutRetries(t *testing.T) {
	opts := testOptions()
	opts.ActionTimeout = 10 * time.Millisecond
	q := New(opts)
	defer shutdown(t, q)

	var calls atomic.Int32
	_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	}, TaskOptions{MaxRetries: 2})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(3), calls.Load())
}

func TestActionPanicSettlesTask(t *testing.T) {
	q := New(testOptions())
	defer shutdown(t, q)

	_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		panic("bad payload")
	}, TaskOptions{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad payload")
}

func TestCallerDetachKeepsTaskRunning(t *testing.T) {
	q := New(testOptions())
	defer shutdown(t, q)

	started := make(chan struct{})
	finish := make(chan struct{})
	var calls atomic.Int32
	action := func(ctx context.Context) (any, error) {
		calls.Add(1)
		close(started)
		<-finish
		return "late", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := q.Enqueue(ctx, action, TaskOptions{ID: "slow"})
	require.ErrorIs(t, err, context.Canceled)

	// A second caller attaches to the still-running task and sees its result.
	done := make(chan struct{})
	var attached any
	go func() {
		attached, _ = q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
			return nil, errors.New("must not run")
		}, TaskOptions{ID: "slow"})
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	close(finish)
	<-done

	assert.Equal(t, "late", attached)
	assert.Equal(t, int32(1), calls.Load())
}

func TestShutdownSettlesQueuedTasks(t *testing.T) {
	q := New(testOptions())

	// The in-flight action holds the worker until shutdown cancels it, so
	// the second task is still queued when the heap is drained.
	go q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, TaskOptions{})
	time.Sleep(20 * time.Millisecond)

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
			return nil, errors.New("must not run")
		}, TaskOptions{})
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	shutdown(t, q)

	require.ErrorIs(t, <-errCh, ErrShutdown)

	_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	}, TaskOptions{})
	require.ErrorIs(t, err, ErrShutdown)
}

// Shutdown while retry timers are firing: a timer that fires before Stop
// leaves its requeue racing the shutdown settlement, and the task must still
// settle exactly once.
func TestShutdownDuringRetryBackoff(t *testing.T) {
	q := New(Options{
		Workers:       2,
		BaseBackoff:   time.Millisecond,
		MaxBackoff:    time.Millisecond,
		ActionTimeout: time.Second,
	})

	boom := errors.New("backend down")
	const tasks = 200
	var wg sync.WaitGroup
	errs := make([]error, tasks)
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
				return nil, boom
			}, TaskOptions{MaxRetries: 1000})
		}(i)
	}

	// Let the retry storm build up before pulling the plug.
	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))

	wg.Wait()
	for i := 0; i < tasks; i++ {
		require.Error(t, errs[i])
	}
}

// Three tasks with ids "a", "b", "a": the duplicate "a" attaches instead of
// running again, and the higher-priority "b" runs before "a".
func TestDedupAndPriorityTogether(t *testing.T) {
	q := New(testOptions())
	defer shutdown(t, q)

	gate := make(chan struct{})
	go q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		<-gate
		return nil, nil
	}, TaskOptions{})
	time.Sleep(20 * time.Millisecond)

	var mu sync.Mutex
	var order []string
	var calls atomic.Int32
	record := func(name string) Action {
		return func(ctx context.Context) (any, error) {
			calls.Add(1)
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		}
	}

	var wg sync.WaitGroup
	enqueue := func(name, id string, priority int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(context.Background(), record(name), TaskOptions{ID: id, Priority: priority})
		}()
		time.Sleep(20 * time.Millisecond)
	}
	enqueue("a", "a", 1)
	enqueue("b", "b", 5)
	enqueue("a-dup", "a", 1)

	close(gate)
	wg.Wait()

	assert.Equal(t, int32(2), calls.Load())
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"b", "a"}, order)
}
