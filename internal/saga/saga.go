// Package saga runs ordered multi-store transactions with compensating
// rollback. Steps execute strictly sequentially; on failure every
// previously-succeeded step is compensated in reverse order.
package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultStepTimeout applies when a step declares none.
	DefaultStepTimeout = 30 * time.Second

	// compensationTimeoutFactor: compensations get 1.5x the forward timeout.
	compensationTimeoutFactor = 1.5
)

// RetryPolicy retries a failed execute. Backoff grows linearly with the
// attempt number.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Context carries data between steps of one saga run. It is not safe for
// concurrent use; steps run sequentially by contract.
type Context struct {
	values map[string]any
}

func NewContext() *Context {
	return &Context{values: make(map[string]any)}
}

func (c *Context) Set(key string, v any) { c.values[key] = v }

func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

func (c *Context) GetString(key string) string {
	if v, ok := c.values[key].(string); ok {
		return v
	}
	return ""
}

// Values returns the underlying map for result reporting.
func (c *Context) Values() map[string]any { return c.values }

// Step is one unit of a saga. Compensate must be safe to invoke when
// Execute never ran or partially ran; an idempotent Execute must be safe
// to retry.
type Step struct {
	Name       string
	Execute    func(ctx context.Context, sc *Context) (any, error)
	Compensate func(ctx context.Context, sc *Context) error
	Idempotent bool
	Timeout    time.Duration
	Retry      *RetryPolicy
}

// CompensationFailure records a compensate call that failed. These require
// operator attention but never abort further compensations.
type CompensationFailure struct {
	Step string
	Err  error
}

// Result is what every saga run returns. The coordinator never panics and
// never returns a bare error; failures are carried here.
type Result struct {
	SagaID               string
	Success              bool
	Cancelled            bool
	FailedStep           string
	Err                  error
	Context              *Context
	Compensated          []string
	CompensationFailures []CompensationFailure
	Duration             time.Duration
}

// NeedsIntervention reports whether rollback left residue behind.
func (r *Result) NeedsIntervention() bool {
	return len(r.CompensationFailures) > 0
}

// Coordinator executes sagas. Safe for concurrent use; each run is
// independent.
type Coordinator struct {
	logger *zap.Logger
}

func NewCoordinator(logger *zap.Logger) *Coordinator {
	return &Coordinator{logger: logger}
}

// Run executes the steps in order. On any failure (after retries) it
// compensates the succeeded prefix in reverse and reports the outcome.
// Cancellation of ctx mid-saga triggers the same rollback path.
func (c *Coordinator) Run(ctx context.Context, name string, steps []Step, sc *Context) *Result {
	if sc == nil {
		sc = NewContext()
	}
	start := time.Now()
	res := &Result{
		SagaID:  uuid.NewString(),
		Context: sc,
	}
	log := c.logger.With(zap.String("saga", name), zap.String("saga_id", res.SagaID))

	var done []Step
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			res.Cancelled = true
			res.FailedStep = step.Name
			res.Err = err
			break
		}

		out, err := c.runStep(ctx, log, step, sc)
		if err != nil {
			res.FailedStep = step.Name
			res.Err = err
			res.Cancelled = ctx.Err() != nil
			break
		}
		if out != nil {
			sc.Set(step.Name, out)
		}
		done = append(done, step)
	}

	if res.Err == nil && !res.Cancelled {
		res.Success = true
		res.Duration = time.Since(start)
		log.Debug("saga committed", zap.Duration("duration", res.Duration), zap.Int("steps", len(done)))
		return res
	}

	log.Warn("saga failed, rolling back",
		zap.String("failed_step", res.FailedStep),
		zap.Bool("cancelled", res.Cancelled),
		zap.Error(res.Err))

	c.rollback(log, done, sc, res)

	res.Duration = time.Since(start)
	if res.NeedsIntervention() {
		log.Error("saga rollback incomplete, manual intervention required",
			zap.String("failed_step", res.FailedStep),
			zap.Int("compensation_failures", len(res.CompensationFailures)))
	}
	return res
}

func (c *Coordinator) runStep(ctx context.Context, log *zap.Logger, step Step, sc *Context) (any, error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}

	attempts := 1
	backoff := time.Duration(0)
	if step.Retry != nil && step.Retry.MaxAttempts > 1 {
		attempts = step.Retry.MaxAttempts
		backoff = step.Retry.Backoff
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if !step.Idempotent {
				break
			}
			select {
			case <-time.After(time.Duration(attempt-1) * backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		start := time.Now()
		out, err := execWithTimeout(ctx, timeout, func(stepCtx context.Context) (any, error) {
			return step.Execute(stepCtx, sc)
		})
		fields := []zap.Field{
			zap.String("step", step.Name),
			zap.Int("attempt", attempt),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			lastErr = err
			log.Debug("saga step failed", append(fields, zap.Error(err))...)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		log.Debug("saga step ok", append(fields, zap.Any("result", sanitize(out)))...)
		return out, nil
	}
	return nil, lastErr
}

func (c *Coordinator) rollback(log *zap.Logger, done []Step, sc *Context, res *Result) {
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}

		timeout := step.Timeout
		if timeout <= 0 {
			timeout = DefaultStepTimeout
		}
		timeout = time.Duration(float64(timeout) * compensationTimeoutFactor)

		// Compensations run on a fresh context: the caller's may already
		// be cancelled, and rollback must still happen.
		_, err := execWithTimeout(context.Background(), timeout, func(compCtx context.Context) (any, error) {
			return nil, step.Compensate(compCtx, sc)
		})
		if err != nil {
			res.CompensationFailures = append(res.CompensationFailures, CompensationFailure{Step: step.Name, Err: err})
			log.Error("compensation failed",
				zap.String("step", step.Name),
				zap.String("marker", "manual_intervention"),
				zap.Error(err))
			continue
		}
		res.Compensated = append(res.Compensated, step.Name)
	}
}

// execWithTimeout races fn against the timeout, recovering panics so a
// misbehaving step can never take the coordinator down.
func execWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) (any, error)) (any, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		out any
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("step panicked: %v", r)}
			}
		}()
		out, err := fn(runCtx)
		ch <- outcome{out: out, err: err}
	}()

	select {
	case o := <-ch:
		return o.out, o.err
	case <-runCtx.Done():
		return nil, runCtx.Err()
	}
}

const (
	previewMaxKeys   = 5
	previewMaxString = 100
)

// sanitize trims a step result to a loggable preview: at most 5 keys,
// strings truncated to 100 chars.
func sanitize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return truncate(t)
	case map[string]any:
		out := make(map[string]any, previewMaxKeys)
		n := 0
		for k, val := range t {
			if n >= previewMaxKeys {
				out["…"] = fmt.Sprintf("+%d more", len(t)-previewMaxKeys)
				break
			}
			if s, ok := val.(string); ok {
				out[k] = truncate(s)
			} else {
				out[k] = fmt.Sprintf("%.100v", val)
			}
			n++
		}
		return out
	default:
		return truncate(fmt.Sprintf("%v", v))
	}
}

func truncate(s string) string {
	if len(s) > previewMaxString {
		return s[:previewMaxString] + "…"
	}
	return s
}
