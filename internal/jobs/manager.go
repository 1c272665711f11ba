// Package jobs runs imports in the background: bounded concurrency, a per
// run timeout, progress fan-out to subscribers and transient-failure retry.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/logging"
	"github.com/google/uuid"
)

const (
	// DefaultRetention is how long a finished run stays queryable.
	DefaultRetention = 5 * time.Minute

	// DefaultJobTimeout bounds one run including its retries.
	DefaultJobTimeout = 30 * time.Minute

	listenerBuffer = 16
)

// RunStatus is the lifecycle state of a tracked run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Snapshot is a point-in-time view of a tracked run.
type Snapshot struct {
	RunID      string              `json:"run_id"`
	SourcePath string              `json:"source_path"`
	Status     RunStatus           `json:"status"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	Last       *core.ProgressEvent `json:"last_event,omitempty"`
	Result     *core.ImportResult  `json:"result,omitempty"`
	Error      *core.UserMessage   `json:"error,omitempty"`
}

type activeRun struct {
	id     string
	path   string
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	status     RunStatus
	startedAt  time.Time
	finishedAt time.Time
	last       *core.ProgressEvent
	result     *core.ImportResult
	err        error
	listeners  []chan core.ProgressEvent
}

// Report records ev and forwards it to every subscriber. Slow subscribers
// miss events rather than stall the run.
func (r *activeRun) Report(_ context.Context, ev core.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.last = &ev
	for _, ch := range r.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (r *activeRun) finish(result *core.ImportResult, err error, at time.Time) {
	r.mu.Lock()
	r.result = result
	r.err = err
	r.finishedAt = at
	switch {
	case err == nil:
		r.status = StatusSucceeded
	case errors.Is(err, context.Canceled):
		r.status = StatusCancelled
	default:
		r.status = StatusFailed
	}
	for _, ch := range r.listeners {
		close(ch)
	}
	r.listeners = nil
	r.mu.Unlock()

	close(r.done)
}

func (r *activeRun) snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		RunID:      r.id,
		SourcePath: r.path,
		Status:     r.status,
		StartedAt:  r.startedAt,
		Last:       r.last,
		Result:     r.result,
	}
	if !r.finishedAt.IsZero() {
		at := r.finishedAt
		s.FinishedAt = &at
	}
	if r.err != nil {
		msg := core.MapError(r.err)
		s.Error = &msg
	}
	return s
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Timeout bounds each run, retries included.
	Timeout time.Duration

	// Retention is how long finished runs remain queryable.
	Retention time.Duration

	// Reporters receive the events of every run.
	Reporters []core.ProgressReporter
}

// Manager tracks background import runs.
type Manager struct {
	runner  Runner
	limiter *Limiter
	cfg     ManagerConfig
	now     func() time.Time

	mu   sync.RWMutex
	runs map[string]*activeRun
}

// NewManager returns a manager running jobs through runner.
func NewManager(runner Runner, limiter *Limiter, cfg ManagerConfig) *Manager {
	if limiter == nil {
		limiter = NewLimiter(0, 0)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultJobTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Manager{
		runner:  runner,
		limiter: limiter,
		cfg:     cfg,
		now:     time.Now,
		runs:    make(map[string]*activeRun),
	}
}

// Limiter returns the manager's run limiter.
func (m *Manager) Limiter() *Limiter {
	return m.limiter
}

// Start queues job and returns its run id without waiting for the import.
// It blocks only while waiting for a free slot and returns
// ErrTooManyImports if none frees up in time.
//
// The run is detached from ctx cancellation but keeps its values, so log
// entries still carry the request id.
func (m *Manager) Start(ctx context.Context, job core.ImportJob) (string, error) {
	if err := m.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	if job.RunID == "" {
		job.RunID = uuid.NewString()
	}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.Timeout)
	runCtx = logging.WithRunID(runCtx, job.RunID)

	run := &activeRun{
		id:        job.RunID,
		path:      job.SourcePath,
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    StatusRunning,
		startedAt: m.now(),
	}

	m.mu.Lock()
	if _, exists := m.runs[job.RunID]; exists {
		m.mu.Unlock()
		cancel()
		m.limiter.Release()
		return "", fmt.Errorf("%w: run id %s already in use", core.ErrInvalidJob, job.RunID)
	}
	m.runs[job.RunID] = run
	m.mu.Unlock()

	go m.execute(runCtx, run, job)
	return job.RunID, nil
}

func (m *Manager) execute(ctx context.Context, run *activeRun, job core.ImportJob) {
	defer m.limiter.Release()
	defer run.cancel()
	defer m.cleanup(run.id, m.cfg.Retention)
	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx).Error("panic in import run", "panic", r)
			err := fmt.Errorf("internal error: %v", r)
			run.Report(ctx, core.ProgressEvent{
				Type:      core.EventError,
				RunID:     run.id,
				Timestamp: m.now(),
				Payload:   map[string]any{"error": err.Error()},
			})
			run.finish(nil, err, m.now())
		}
	}()

	reporters := append(slices.Clone(m.cfg.Reporters), run)
	result, err := m.runner.Run(ctx, job, reporters...)
	run.finish(result, err, m.now())
}

// cleanup forgets a run after delay.
func (m *Manager) cleanup(runID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.runs, runID)
		m.mu.Unlock()
	})
}

func (m *Manager) get(runID string) (*activeRun, error) {
	m.mu.RLock()
	run, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, runID)
	}
	return run, nil
}

// Get returns the current state of a run without blocking.
func (m *Manager) Get(runID string) (Snapshot, error) {
	run, err := m.get(runID)
	if err != nil {
		return Snapshot{}, err
	}
	return run.snapshot(), nil
}

// List returns every tracked run, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	runs := make([]*activeRun, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, len(runs))
	for i, run := range runs {
		out[i] = run.snapshot()
	}
	slices.SortFunc(out, func(a, b Snapshot) int { return b.StartedAt.Compare(a.StartedAt) })
	return out
}

// Subscribe returns a channel of the run's progress events, starting with
// the latest one. The channel is closed when the run finishes or when the
// returned unsubscribe func is called.
func (m *Manager) Subscribe(runID string) (<-chan core.ProgressEvent, func(), error) {
	run, err := m.get(runID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan core.ProgressEvent, listenerBuffer)

	run.mu.Lock()
	defer run.mu.Unlock()

	if run.last != nil {
		ch <- *run.last
	}
	if run.status != StatusRunning {
		close(ch)
		return ch, func() {}, nil
	}
	run.listeners = append(run.listeners, ch)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			run.mu.Lock()
			defer run.mu.Unlock()
			if i := slices.Index(run.listeners, ch); i >= 0 {
				run.listeners = slices.Delete(run.listeners, i, i+1)
				close(ch)
			}
		})
	}
	return ch, unsubscribe, nil
}

// Cancel stops a running import. The run rolls back and finishes with
// StatusCancelled.
func (m *Manager) Cancel(runID string) error {
	run, err := m.get(runID)
	if err != nil {
		return err
	}
	run.cancel()
	return nil
}

// Result blocks until the run finishes or ctx ends and returns the run's
// outcome.
func (m *Manager) Result(ctx context.Context, runID string) (*core.ImportResult, error) {
	run, err := m.get(runID)
	if err != nil {
		return nil, err
	}

	select {
	case <-run.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	return run.result, run.err
}

// Shutdown waits for running imports to finish. When ctx ends first the
// remaining runs are cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.limiter.WaitForDrain(ctx)
	if err == nil {
		return nil
	}

	m.mu.RLock()
	for _, run := range m.runs {
		run.cancel()
	}
	active := m.limiter.ActiveCount()
	m.mu.RUnlock()

	slog.Warn("shutdown deadline reached, cancelled running imports", "active", active)
	return err
}
