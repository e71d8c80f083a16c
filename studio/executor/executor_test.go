package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slatehq/slate/errors"
)

// quickPolicy retries with negligible delays so tests run fast.
func quickPolicy(retries int) Policy {
	return Policy{
		MaxRetries: retries,
		Strategy:   StrategyFixed,
		BaseDelay:  time.Millisecond,
	}
}

func runAsync(e *Executor, task Task) chan Result {
	ch := make(chan Result, 1)
	go func() { ch <- e.Execute(context.Background(), task) }()
	return ch
}

func waitResult(t *testing.T, ch chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for execution result")
		return Result{}
	}
}

func TestExecute_Success(t *testing.T) {
	e := New(Config{MaxConcurrent: 1}, nil)

	var seen []int
	result := e.Execute(context.Background(), Task{
		JobID: "job_ok",
		Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			progress(42)
			progress(100)
			return "artifact", nil
		},
		Policy:   quickPolicy(3),
		Progress: func(p int) { seen = append(seen, p) },
	})

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, "artifact", result.Value)
	assert.Equal(t, 1, result.Attempts)
	assert.NoError(t, result.Err)
	assert.Equal(t, []int{42, 100}, seen)
}

func TestExecute_NilOperation(t *testing.T) {
	e := New(Config{MaxConcurrent: 1}, nil)
	result := e.Execute(context.Background(), Task{JobID: "job_nil"})
	assert.Equal(t, StateFailed, result.State)
	require.Error(t, result.Err)
}

func TestExecute_RetriesUntilSuccess(t *testing.T) {
	e := New(Config{MaxConcurrent: 1}, nil)

	var calls int32
	result := e.Execute(context.Background(), Task{
		JobID: "job_flaky",
		Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, errors.New("flaky upstream")
			}
			return "eventually", nil
		},
		Policy: quickPolicy(5),
	})

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExecute_ExhaustsRetries(t *testing.T) {
	e := New(Config{MaxConcurrent: 1}, nil)

	result := e.Execute(context.Background(), Task{
		JobID: "job_doomed",
		Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			return nil, errors.New("always broken")
		},
		Policy: quickPolicy(2),
	})

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 3, result.Attempts)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "always broken")
}

func TestExecute_TerminalErrorStopsRetries(t *testing.T) {
	e := New(Config{MaxConcurrent: 1}, nil)

	var calls int32
	result := e.Execute(context.Background(), Task{
		JobID: "job_rejected",
		Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return nil, errors.MarkTerminal(errors.New("invalid credentials"))
		},
		Policy: quickPolicy(5),
	})

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecute_TimeoutPerAttempt(t *testing.T) {
	e := New(Config{MaxConcurrent: 1}, nil)

	result := e.Execute(context.Background(), Task{
		JobID: "job_slow",
		Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		Policy: Policy{Strategy: StrategyNone, TimeoutPerAttempt: 30 * time.Millisecond},
	})

	assert.Equal(t, StateTimedOut, result.State)
	assert.Equal(t, 1, result.Attempts)
	assert.True(t, errors.Is(result.Err, context.DeadlineExceeded))
}

func TestExecute_TimeoutThenSuccess(t *testing.T) {
	e := New(Config{MaxConcurrent: 1}, nil)

	result := e.Execute(context.Background(), Task{
		JobID: "job_slow_start",
		Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			if attempt == 1 {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return "ok", nil
		},
		Policy: Policy{
			MaxRetries:        2,
			Strategy:          StrategyFixed,
			BaseDelay:         time.Millisecond,
			TimeoutPerAttempt: 30 * time.Millisecond,
		},
	})

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 2, result.Attempts)
}

func TestCancel_DuringAttempt(t *testing.T) {
	e := New(Config{MaxConcurrent: 1}, nil)

	started := make(chan struct{})
	resultCh := runAsync(e, Task{
		JobID: "job_cancel",
		Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
		Policy: quickPolicy(5),
	})

	<-started
	require.NoError(t, e.Cancel("job_cancel"))

	result := waitResult(t, resultCh)
	assert.Equal(t, StateCancelled, result.State)
	assert.Equal(t, 1, result.Attempts, "external cancel must not consume retries")
}

func TestCancel_WhileQueued(t *testing.T) {
	e := New(Config{MaxConcurrent: 1}, nil)

	release := make(chan struct{})
	blockerCh := runAsync(e, Task{
		JobID: "job_blocker",
		Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			<-release
			return nil, nil
		},
		Policy: quickPolicy(0),
	})
	require.Eventually(t, func() bool { return e.ActiveCount() == 1 }, time.Second, time.Millisecond)

	queuedCh := runAsync(e, Task{
		JobID: "job_waiting",
		Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			return nil, nil
		},
		Policy: quickPolicy(0),
	})
	require.Eventually(t, func() bool { return e.QueuedCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, e.Cancel("job_waiting"))
	result := waitResult(t, queuedCh)
	assert.Equal(t, StateCancelled, result.State)
	assert.Equal(t, 0, result.Attempts, "queued cancel happens before any attempt")

	close(release)
	assert.Equal(t, StateCompleted, waitResult(t, blockerCh).State)
}

func TestCancel_NotActive(t *testing.T) {
	e := New(Config{MaxConcurrent: 1}, nil)
	err := e.Cancel("job_ghost")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestCancel_GraceExpiry(t *testing.T) {
	e := New(Config{MaxConcurrent: 1, CancelGrace: 50 * time.Millisecond}, nil)

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	started := make(chan struct{})
	resultCh := runAsync(e, Task{
		JobID: "job_stubborn",
		Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			close(started)
			// Ignores ctx entirely.
			<-block
			return "late", nil
		},
		Policy: quickPolicy(0),
	})

	<-started
	start := time.Now()
	require.NoError(t, e.Cancel("job_stubborn"))

	result := waitResult(t, resultCh)
	assert.Equal(t, StateCancelled, result.State)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond,
		"executor should hold the grace window before abandoning the operation")
}

func TestCancel_OperationFinishesWithinGrace(t *testing.T) {
	e := New(Config{MaxConcurrent: 1, CancelGrace: time.Second}, nil)

	started := make(chan struct{})
	finish := make(chan struct{})
	resultCh := runAsync(e, Task{
		JobID: "job_landed",
		Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			close(started)
			<-finish
			return "uploaded", nil
		},
		Policy: quickPolicy(0),
	})

	<-started
	require.NoError(t, e.Cancel("job_landed"))
	close(finish)

	// The work landed, but the caller asked for cancellation first.
	result := waitResult(t, resultCh)
	assert.Equal(t, StateCancelled, result.State)
	assert.Equal(t, "uploaded", result.Value)
}

func TestExecute_ConcurrencyCap(t *testing.T) {
	e := New(Config{MaxConcurrent: 2}, nil)
	assert.Equal(t, 2, e.Capacity())

	release := make(chan struct{})
	var results []chan Result
	for _, id := range []string{"job_a", "job_b", "job_c", "job_d"} {
		results = append(results, runAsync(e, Task{
			JobID: id,
			Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
				<-release
				return nil, nil
			},
			Policy: quickPolicy(0),
		}))
	}

	require.Eventually(t, func() bool {
		return e.ActiveCount() == 2 && e.QueuedCount() == 2
	}, time.Second, time.Millisecond)

	close(release)
	for _, ch := range results {
		assert.Equal(t, StateCompleted, waitResult(t, ch).State)
	}
	assert.Equal(t, 0, e.ActiveCount())
	assert.Equal(t, 0, e.QueuedCount())
}

func TestExecute_DuplicateJobID(t *testing.T) {
	e := New(Config{MaxConcurrent: 2}, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	firstCh := runAsync(e, Task{
		JobID: "job_dup",
		Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		},
		Policy: quickPolicy(0),
	})
	<-started

	second := e.Execute(context.Background(), Task{
		JobID: "job_dup",
		Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			return nil, nil
		},
		Policy: quickPolicy(0),
	})
	assert.Equal(t, StateFailed, second.State)
	assert.True(t, errors.IsConflictError(second.Err))

	close(release)
	waitResult(t, firstCh)
}

func TestExecuteBatch(t *testing.T) {
	e := New(Config{MaxConcurrent: 2}, nil)

	tasks := []Task{
		{JobID: "job_1", Policy: quickPolicy(0), Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			return "one", nil
		}},
		{JobID: "job_2", Policy: quickPolicy(0), Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			return "two", nil
		}},
		{JobID: "job_3", Policy: quickPolicy(0), Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			return "three", nil
		}},
	}

	results := e.ExecuteBatch(context.Background(), tasks, false)
	require.Len(t, results, 3)
	assert.Equal(t, "one", results[0].Value)
	assert.Equal(t, "two", results[1].Value)
	assert.Equal(t, "three", results[2].Value)
	for _, r := range results {
		assert.Equal(t, StateCompleted, r.State)
	}
}

func TestExecuteBatch_FailFast(t *testing.T) {
	e := New(Config{MaxConcurrent: 3}, nil)

	tasks := []Task{
		{JobID: "job_bad", Policy: quickPolicy(0), Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			return nil, errors.MarkTerminal(errors.New("rejected"))
		}},
		{JobID: "job_hang_1", Policy: quickPolicy(0), Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
		{JobID: "job_hang_2", Policy: quickPolicy(0), Operation: func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	}

	results := e.ExecuteBatch(context.Background(), tasks, true)
	require.Len(t, results, 3)
	assert.Equal(t, StateFailed, results[0].State)
	assert.Equal(t, StateCancelled, results[1].State)
	assert.Equal(t, StateCancelled, results[2].State)
}

func TestPolicyRetryDelay(t *testing.T) {
	cases := []struct {
		name     string
		policy   Policy
		failures int
		want     time.Duration
	}{
		{"none", Policy{Strategy: StrategyNone, BaseDelay: time.Minute}, 1, 0},
		{"fixed", Policy{Strategy: StrategyFixed, BaseDelay: time.Minute}, 3, time.Minute},
		{"linear first", Policy{Strategy: StrategyLinear, BaseDelay: time.Minute}, 1, time.Minute},
		{"linear third", Policy{Strategy: StrategyLinear, BaseDelay: time.Minute}, 3, 3 * time.Minute},
		{"exponential first", Policy{Strategy: StrategyExponential, BaseDelay: time.Minute, MaxDelay: time.Hour}, 1, time.Minute},
		{"exponential second", Policy{Strategy: StrategyExponential, BaseDelay: time.Minute, MaxDelay: time.Hour}, 2, 2 * time.Minute},
		{"exponential fourth", Policy{Strategy: StrategyExponential, BaseDelay: time.Minute, MaxDelay: time.Hour}, 4, 8 * time.Minute},
		{"exponential capped", Policy{Strategy: StrategyExponential, BaseDelay: time.Minute, MaxDelay: time.Hour}, 7, time.Hour},
		{"exponential uncapped", Policy{Strategy: StrategyExponential, BaseDelay: time.Minute}, 7, 64 * time.Minute},
		{"zero failures", Policy{Strategy: StrategyFixed, BaseDelay: time.Minute}, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.policy.RetryDelay(tc.failures))
		})
	}
}

func TestPolicyMaxAttempts(t *testing.T) {
	assert.Equal(t, 1, Policy{Strategy: StrategyNone, MaxRetries: 5}.MaxAttempts())
	assert.Equal(t, 4, Policy{Strategy: StrategyFixed, MaxRetries: 3}.MaxAttempts())
	assert.Equal(t, 1, Policy{Strategy: StrategyFixed, MaxRetries: 0}.MaxAttempts())
	assert.Equal(t, 1, Policy{Strategy: StrategyFixed, MaxRetries: -1}.MaxAttempts())
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []string{"none", "fixed", "linear", "exponential"} {
		got, err := ParseStrategy(s)
		require.NoError(t, err)
		assert.Equal(t, Strategy(s), got)
	}

	got, err := ParseStrategy("  Exponential ")
	require.NoError(t, err)
	assert.Equal(t, StrategyExponential, got)

	_, err = ParseStrategy("jitter")
	require.Error(t, err)
	_, err = ParseStrategy("")
	require.Error(t, err)
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, StrategyExponential, p.Strategy)
	assert.Equal(t, time.Minute, p.BaseDelay)
	assert.Equal(t, time.Hour, p.MaxDelay)
	assert.Equal(t, 4, p.MaxAttempts())
}
