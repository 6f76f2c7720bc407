// Package tasks runs long operations (imports, exports, maintenance) in the
// background. Submitting returns a handle immediately; callers poll Get,
// block in Wait, or collect a finished task's result by its pickup key.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/mesh-intelligence/folio/pkg/types"
)

// Status is the state of a task.
type Status string

// Task states. Done, Failed and Canceled are final.
const (
	StatusWaiting  Status = "waiting"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Final reports whether s is a terminal state.
func (s Status) Final() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCanceled
}

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("task runner is closed")

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_tasks_total",
		Help: "Finished background tasks by kind and final status.",
	}, []string{"kind", "status"})
	tasksRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "folio_tasks_running",
		Help: "Background tasks currently running.",
	})
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "folio_task_duration_seconds",
		Help:    "Run time of background tasks.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"kind"})
)

// Func is the body of a task. Its result is kept on the task when it
// returns without error.
type Func func(ctx context.Context) (any, error)

// Spec describes a task to submit.
type Spec struct {
	Kind     string
	OwnerID  string // Principal the task runs for. Empty for system tasks.
	TargetID string // Resource or text the task works on.

	// Exclusive rejects the submission with ErrConflict while another
	// unfinished task of the same kind and target exists.
	Exclusive bool
}

// Task is a snapshot of a submitted task.
type Task struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	OwnerID   string    `json:"ownerId,omitempty"`
	TargetID  string    `json:"targetId,omitempty"`
	Status    Status    `json:"status"`
	PickupKey string    `json:"pickupKey"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	StartedAt time.Time `json:"startedAt,omitzero"`
	EndedAt   time.Time `json:"endedAt,omitzero"`
}

// Duration returns how long the task ran, or zero when it has not finished.
func (t Task) Duration() time.Duration {
	if t.EndedAt.IsZero() || t.StartedAt.IsZero() {
		return 0
	}
	return t.EndedAt.Sub(t.StartedAt)
}

type entry struct {
	task   Task
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner executes tasks with bounded concurrency.
type Runner struct {
	mu     sync.Mutex
	tasks  map[string]*entry
	order  []string
	closed bool

	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    zerolog.Logger
}

// NewRunner creates a runner that runs at most concurrency tasks at once.
// Values below one are raised to one.
func NewRunner(concurrency int, log zerolog.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		tasks:  make(map[string]*entry),
		sem:    semaphore.NewWeighted(int64(concurrency)),
		ctx:    ctx,
		cancel: cancel,
		log:    log.With().Str("component", "tasks").Logger(),
	}
}

// Submit registers a task and starts it as soon as a slot is free.
func (r *Runner) Submit(spec Spec, fn Func) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Task{}, ErrClosed
	}
	if spec.Exclusive {
		for _, e := range r.tasks {
			if e.task.Kind == spec.Kind && e.task.TargetID == spec.TargetID && !e.task.Status.Final() {
				return Task{}, fmt.Errorf("%w: %s task %s is already running for %s",
					types.ErrConflict, spec.Kind, e.task.ID, spec.TargetID)
			}
		}
	}

	ctx, cancel := context.WithCancel(r.ctx)
	e := &entry{
		task: Task{
			ID:        uuid.NewString(),
			Kind:      spec.Kind,
			OwnerID:   spec.OwnerID,
			TargetID:  spec.TargetID,
			Status:    StatusWaiting,
			PickupKey: uuid.NewString(),
			CreatedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.tasks[e.task.ID] = e
	r.order = append(r.order, e.task.ID)

	r.wg.Add(1)
	go r.run(ctx, e, fn)

	r.log.Debug().Str("task_id", e.task.ID).Str("kind", spec.Kind).Str("target_id", spec.TargetID).Msg("task submitted")
	return e.task, nil
}

func (r *Runner) run(ctx context.Context, e *entry, fn Func) {
	defer r.wg.Done()
	defer close(e.done)
	defer e.cancel()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.finish(e, nil, err)
		return
	}
	defer r.sem.Release(1)

	r.mu.Lock()
	e.task.Status = StatusRunning
	e.task.StartedAt = time.Now().UTC()
	r.mu.Unlock()
	tasksRunning.Inc()
	defer tasksRunning.Dec()

	result, err := runSafely(ctx, fn)
	r.finish(e, result, err)
}

// runSafely turns a panic in fn into an error so one task cannot take the
// process down.
func runSafely(ctx context.Context, fn Func) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return fn(ctx)
}

func (r *Runner) finish(e *entry, result any, err error) {
	r.mu.Lock()
	e.task.EndedAt = time.Now().UTC()
	if e.task.StartedAt.IsZero() {
		e.task.StartedAt = e.task.EndedAt
	}
	switch {
	case err == nil:
		e.task.Status = StatusDone
		e.task.Result = result
	case errors.Is(err, context.Canceled):
		e.task.Status = StatusCanceled
		e.task.Error = err.Error()
	default:
		e.task.Status = StatusFailed
		e.task.Error = err.Error()
	}
	task := e.task
	r.mu.Unlock()

	tasksTotal.WithLabelValues(task.Kind, string(task.Status)).Inc()
	taskDuration.WithLabelValues(task.Kind).Observe(task.Duration().Seconds())

	ev := r.log.Info()
	if task.Status == StatusFailed {
		ev = r.log.Warn().Str("error", task.Error)
	}
	ev.Str("task_id", task.ID).Str("kind", task.Kind).Str("status", string(task.Status)).
		Dur("duration", task.Duration()).Msg("task finished")
}

// Get returns a snapshot of the task with the given ID.
func (r *Runner) Get(id string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: task %s", types.ErrNotFound, id)
	}
	return e.task, nil
}

// ByPickupKey returns the task holding the given pickup key.
func (r *Runner) ByPickupKey(key string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.tasks {
		if e.task.PickupKey == key {
			return e.task, nil
		}
	}
	return Task{}, fmt.Errorf("%w: no task for pickup key", types.ErrNotFound)
}

// Wait blocks until the task finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context, id string) (Task, error) {
	r.mu.Lock()
	e, ok := r.tasks[id]
	r.mu.Unlock()
	if !ok {
		return Task{}, fmt.Errorf("%w: task %s", types.ErrNotFound, id)
	}

	select {
	case <-e.done:
		return r.Get(id)
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

// Cancel cancels the task context. Cancelling a finished task is a no-op.
func (r *Runner) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("%w: task %s", types.ErrNotFound, id)
	}
	e.cancel()
	return nil
}

// Delete forgets a finished task. Unfinished tasks cannot be deleted.
func (r *Runner) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("%w: task %s", types.ErrNotFound, id)
	}
	if !e.task.Status.Final() {
		return fmt.Errorf("%w: task %s is %s", types.ErrInvalidState, id, e.task.Status)
	}
	r.remove(id)
	return nil
}

// List returns the tasks of ownerID in submission order. An empty ownerID
// lists every task.
func (r *Runner) List(ownerID string) []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Task, 0, len(r.order))
	for _, id := range r.order {
		e := r.tasks[id]
		if ownerID == "" || e.task.OwnerID == ownerID {
			out = append(out, e.task)
		}
	}
	return out
}

// Prune forgets finished tasks that ended more than age ago and returns
// them so the caller can release what they refer to.
func (r *Runner) Prune(age time.Duration) []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().UTC().Add(-age)
	var pruned []Task
	for _, id := range slices.Clone(r.order) {
		e := r.tasks[id]
		if e.task.Status.Final() && e.task.EndedAt.Before(cutoff) {
			pruned = append(pruned, e.task)
			r.remove(id)
		}
	}
	return pruned
}

func (r *Runner) remove(id string) {
	delete(r.tasks, id)
	r.order = slices.DeleteFunc(r.order, func(v string) bool { return v == id })
}

// Close stops accepting tasks, cancels running ones and waits for them to
// return or for ctx to end.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
