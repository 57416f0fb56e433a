package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func step(name string, execErr error, log *[]string) Step {
	return Step{
		Name: name,
		Execute: func(ctx context.Context, sc *Context) (any, error) {
			*log = append(*log, "exec:"+name)
			if execErr != nil {
				return nil, execErr
			}
			return name + "-result", nil
		},
		Compensate: func(ctx context.Context, sc *Context) error {
			*log = append(*log, "comp:"+name)
			return nil
		},
	}
}

func TestRunAllStepsSucceed(t *testing.T) {
	var log []string
	c := NewCoordinator(zap.NewNop())

	res := c.Run(context.Background(), "write", []Step{
		step("a", nil, &log),
		step("b", nil, &log),
		step("c", nil, &log),
	}, nil)

	require.True(t, res.Success)
	assert.Empty(t, res.FailedStep)
	assert.Equal(t, []string{"exec:a", "exec:b", "exec:c"}, log)
	assert.NotEmpty(t, res.SagaID)

	v, ok := res.Context.Get("b")
	require.True(t, ok)
	assert.Equal(t, "b-result", v)
}

func TestRunFailureCompensatesInReverse(t *testing.T) {
	var log []string
	c := NewCoordinator(zap.NewNop())
	boom := errors.New("vector store down")

	res := c.Run(context.Background(), "write", []Step{
		step("relational", nil, &log),
		step("vector", boom, &log),
		step("graph", nil, &log),
	}, nil)

	require.False(t, res.Success)
	assert.Equal(t, "vector", res.FailedStep)
	assert.ErrorIs(t, res.Err, boom)
	// graph never ran; only relational is compensated
	assert.Equal(t, []string{"exec:relational", "exec:vector", "comp:relational"}, log)
	assert.Equal(t, []string{"relational"}, res.Compensated)
	assert.False(t, res.NeedsIntervention())
}

func TestCompensationErrorsDoNotAbortRollback(t *testing.T) {
	var log []string
	c := NewCoordinator(zap.NewNop())

	broken := step("b", nil, &log)
	broken.Compensate = func(ctx context.Context, sc *Context) error {
		return errors.New("delete failed")
	}

	res := c.Run(context.Background(), "write", []Step{
		step("a", nil, &log),
		broken,
		step("c", errors.New("boom"), &log),
	}, nil)

	require.False(t, res.Success)
	// a still compensated even though b's compensation failed
	assert.Contains(t, res.Compensated, "a")
	require.Len(t, res.CompensationFailures, 1)
	assert.Equal(t, "b", res.CompensationFailures[0].Step)
	assert.True(t, res.NeedsIntervention())
}

func TestRetryPolicyRetriesIdempotentSteps(t *testing.T) {
	c := NewCoordinator(zap.NewNop())
	calls := 0

	res := c.Run(context.Background(), "write", []Step{{
		Name:       "flaky",
		Idempotent: true,
		Retry:      &RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
		Execute: func(ctx context.Context, sc *Context) (any, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("transient")
			}
			return "ok", nil
		},
	}}, nil)

	require.True(t, res.Success)
	assert.Equal(t, 3, calls)
}

func TestNonIdempotentStepIsNotRetried(t *testing.T) {
	c := NewCoordinator(zap.NewNop())
	calls := 0

	res := c.Run(context.Background(), "write", []Step{{
		Name:  "once",
		Retry: &RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
		Execute: func(ctx context.Context, sc *Context) (any, error) {
			calls++
			return nil, errors.New("transient")
		},
	}}, nil)

	require.False(t, res.Success)
	assert.Equal(t, 1, calls)
}

func TestStepTimeoutTriggersRollback(t *testing.T) {
	var log []string
	c := NewCoordinator(zap.NewNop())

	slow := Step{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Execute: func(ctx context.Context, sc *Context) (any, error) {
			select {
			case <-time.After(time.Second):
				return "never", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}

	res := c.Run(context.Background(), "write", []Step{step("a", nil, &log), slow}, nil)

	require.False(t, res.Success)
	assert.Equal(t, "slow", res.FailedStep)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Equal(t, []string{"exec:a", "comp:a"}, log)
}

func TestCancellationRunsCompensations(t *testing.T) {
	var log []string
	c := NewCoordinator(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	blocking := Step{
		Name: "blocking",
		Execute: func(stepCtx context.Context, sc *Context) (any, error) {
			cancel()
			<-stepCtx.Done()
			return nil, stepCtx.Err()
		},
	}

	res := c.Run(ctx, "write", []Step{step("a", nil, &log), blocking}, nil)

	require.False(t, res.Success)
	assert.True(t, res.Cancelled)
	assert.Equal(t, "blocking", res.FailedStep)
	// rollback still ran despite the cancelled caller context
	assert.Contains(t, log, "comp:a")
}

func TestPanickingStepIsContained(t *testing.T) {
	var log []string
	c := NewCoordinator(zap.NewNop())

	res := c.Run(context.Background(), "write", []Step{
		step("a", nil, &log),
		{
			Name: "panicky",
			Execute: func(ctx context.Context, sc *Context) (any, error) {
				panic("boom")
			},
		},
	}, nil)

	require.False(t, res.Success)
	assert.Equal(t, "panicky", res.FailedStep)
	assert.Contains(t, res.Err.Error(), "panicked")
	assert.Contains(t, log, "comp:a")
}

func TestSanitizePreview(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}

	out := sanitize(map[string]any{
		"a": string(long), "b": 1, "c": 2, "d": 3, "e": 4, "f": 5, "g": 6,
	})
	m, ok := out.(map[string]any)
	require.True(t, ok)
	// 5 keys plus the overflow marker
	assert.LessOrEqual(t, len(m), previewMaxKeys+1)
	if s, ok := m["a"].(string); ok {
		assert.LessOrEqual(t, len(s), previewMaxString+len("…"))
	}
}
