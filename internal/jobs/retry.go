package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/logging"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Runner executes one import run.
type Runner interface {
	Run(ctx context.Context, job core.ImportJob, reporters ...core.ProgressReporter) (*core.ImportResult, error)
}

// RetryPolicy controls how often a failed run is re-attempted.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy tries three times, starting one second apart.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:        3,
	InitialInterval: time.Second,
	MaxInterval:     30 * time.Second,
}

// RetryRunner re-runs the whole file when a run fails transiently. A failed
// run wrote nothing, so every attempt starts from a clean table state. All
// attempts share one run id.
type RetryRunner struct {
	next    Runner
	policy  RetryPolicy
	onRetry func(attempt int, err error, wait time.Duration)
}

// NewRetryRunner wraps next. Zero policy fields take the defaults.
func NewRetryRunner(next Runner, policy RetryPolicy) *RetryRunner {
	if policy.Attempts <= 0 {
		policy.Attempts = DefaultRetryPolicy.Attempts
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	if policy.MaxInterval < policy.InitialInterval {
		policy.MaxInterval = max(DefaultRetryPolicy.MaxInterval, policy.InitialInterval)
	}
	return &RetryRunner{next: next, policy: policy}
}

// OnRetry registers a callback fired before each re-attempt.
func (r *RetryRunner) OnRetry(fn func(attempt int, err error, wait time.Duration)) {
	r.onRetry = fn
}

// Run executes job until it succeeds, fails permanently or runs out of
// attempts. The last error is returned.
func (r *RetryRunner) Run(ctx context.Context, job core.ImportJob, reporters ...core.ProgressReporter) (*core.ImportResult, error) {
	if job.RunID == "" {
		job.RunID = uuid.NewString()
	}
	logger := logging.WithFields(logging.WithRunID(ctx, job.RunID), "path", job.SourcePath)

	var (
		result  *core.ImportResult
		attempt int
	)
	op := func() error {
		attempt++
		res, err := r.next.Run(ctx, job, reporters...)
		if err != nil {
			if !Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}

	err := backoff.RetryNotify(op, r.backOff(ctx), func(err error, wait time.Duration) {
		logger.Warn("import attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", r.policy.Attempts,
			"wait", wait,
			"error", err,
		)
		if r.onRetry != nil {
			r.onRetry(attempt, err, wait)
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *RetryRunner) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.policy.InitialInterval
	exp.MaxInterval = r.policy.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.policy.Attempts-1)), ctx)
}

// Retryable reports whether a failed run may succeed when repeated.
// Rejected files, bad jobs, malformed CSV, cancellation and constraint
// violations fail the same way every time.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case core.IsSecurityError(err),
		errors.Is(err, core.ErrInvalidJob),
		errors.Is(err, core.ErrInvalidCSV),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}

	switch core.MapError(err).Code {
	case "DB001", "DB002", "DB003":
		return false
	}
	return true
}
