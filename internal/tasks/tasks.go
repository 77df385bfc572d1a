// Package tasks implements the Task Runner: a generic in-process
// concurrency substrate with submit/status/cancel/result, a fixed worker
// pool drawing from a FIFO queue, TTL-based sweeping of finished tasks,
// and backpressure at a configured high-water mark. Workers form a
// standing pool rather than one-off fan-outs, so a panicking task never
// costs the process a worker.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowcast/forecaster/internal/apperr"
	"github.com/flowcast/forecaster/internal/logger"
	"github.com/flowcast/forecaster/internal/model"
)

// Handler executes one task's work. It receives a context cancelled when
// the task is cancelled, and a Reporter to publish progress.
type Handler func(ctx context.Context, payload any, report Reporter) (any, error)

// Reporter lets a Handler publish coarse progress updates.
type Reporter interface {
	Report(progress int, stage string)
}

// entry is the runtime record backing a Task plus its cancellation plumbing.
type entry struct {
	task   model.Task
	cancel context.CancelFunc
}

// Runner is the process-wide task registry and worker pool.
type Runner struct {
	mu      sync.Mutex
	tasks   map[string]*entry
	queue   chan string
	workers int
	ttl     time.Duration
	highWater int

	metrics metrics
	log     *logger.Logger

	stop chan struct{}
	wg   sync.WaitGroup

	handlers map[string]Handler
}

type metrics struct {
	queueDepth prometheus.Gauge
	tasksTotal *prometheus.CounterVec
	workersBusy prometheus.Gauge
}

// New builds a Runner with the given worker count, task TTL, and
// backpressure high-water mark, and registers its handlers by kind.
func New(workers int, ttl time.Duration, highWater int, handlers map[string]Handler, lg *logger.Logger, reg prometheus.Registerer) *Runner {
	if workers < 1 {
		workers = 1
	}
	m := metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{Name: "forecaster_queue_depth", Help: "Pending task count"}),
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "forecaster_tasks_total", Help: "Tasks by terminal state"}, []string{"state"}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{Name: "forecaster_workers_busy", Help: "Workers currently executing a task"}),
	}
	if reg != nil {
		reg.MustRegister(m.queueDepth, m.tasksTotal, m.workersBusy)
	}

	r := &Runner{
		tasks:     make(map[string]*entry),
		queue:     make(chan string, highWater),
		workers:   workers,
		ttl:       ttl,
		highWater: highWater,
		metrics:   m,
		log:       lg,
		stop:      make(chan struct{}),
		handlers:  handlers,
	}
	r.startWorkers()
	r.startSweeper()
	return r
}

func (r *Runner) startWorkers() {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.workerLoop()
	}
}

func (r *Runner) workerLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		case id, ok := <-r.queue:
			if !ok {
				return
			}
			r.metrics.queueDepth.Dec()
			r.metrics.workersBusy.Inc()
			r.execute(id)
			r.metrics.workersBusy.Dec()
		}
	}
}

// execute runs one task's handler, recovering from panics so a worker
// never dies from a single bad task.
func (r *Runner) execute(id string) {
	r.mu.Lock()
	e, ok := r.tasks[id]
	if !ok || e.task.State == model.TaskCancelled {
		r.mu.Unlock()
		return
	}
	kind := e.task.Kind
	now := time.Now()
	e.task.State = model.TaskRunning
	e.task.StartedAt = &now
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	payload := e.task.Result // submit stashes the payload here transiently
	e.task.Result = nil
	r.mu.Unlock()

	handler, ok := r.handlers[kind]
	if !ok {
		r.finish(id, nil, apperr.Newf(apperr.InternalError, "no handler registered for kind %q", kind))
		return
	}

	result, err := r.runHandler(ctx, handler, payload, id)
	r.finish(id, result, err)
}

func (r *Runner) runHandler(ctx context.Context, h Handler, payload any, id string) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = apperr.Newf(apperr.InternalError, "task panicked: %v", rec)
			r.log.Error("tasks", "recovered from task panic", map[string]any{"task_id": id, "panic": rec})
		}
	}()
	return h(ctx, payload, reporter{r: r, id: id})
}

func (r *Runner) finish(id string, result any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[id]
	if !ok {
		return
	}
	now := time.Now()
	e.task.FinishedAt = &now
	state := model.TaskSucceeded
	if err != nil {
		state = model.TaskFailed
		e.task.Error = err.Error()
	}
	if e.task.State == model.TaskCancelled {
		state = model.TaskCancelled
	} else {
		e.task.State = state
		e.task.Result = result
		e.task.Progress = 100
	}
	r.metrics.tasksTotal.WithLabelValues(string(e.task.State)).Inc()
}

// Submit enqueues a unit of work and returns its Task ID immediately. It
// never blocks; if the queue is at its high-water mark, it fails fast with
// Overloaded.
func (r *Runner) Submit(kind string, payload any) (string, error) {
	r.mu.Lock()
	if len(r.queue) >= r.highWater {
		r.mu.Unlock()
		return "", apperr.New(apperr.Overloaded, "task queue at high-water mark")
	}
	id := uuid.NewString()
	r.tasks[id] = &entry{task: model.Task{
		ID: id, Kind: kind, State: model.TaskPending,
		SubmittedAt: time.Now(), Result: payload,
	}}
	r.mu.Unlock()

	select {
	case r.queue <- id:
		r.metrics.queueDepth.Inc()
		return id, nil
	default:
		r.mu.Lock()
		delete(r.tasks, id)
		r.mu.Unlock()
		return "", apperr.New(apperr.Overloaded, "task queue at high-water mark")
	}
}

// Status returns a point-in-time snapshot of a Task.
func (r *Runner) Status(id string) (model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[id]
	if !ok {
		return model.Task{}, apperr.Newf(apperr.TaskNotFound, "task %q not found", id)
	}
	snapshot := e.task
	if snapshot.State == model.TaskPending || snapshot.State == model.TaskRunning {
		snapshot.Result = nil // payload stash is internal, never surfaced mid-flight
	}
	return snapshot, nil
}

// Cancel requests cooperative cancellation of a running or pending task.
// Returns false if the task is already terminal or unknown.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[id]
	if !ok {
		return false
	}
	switch e.task.State {
	case model.TaskSucceeded, model.TaskFailed, model.TaskCancelled:
		return false
	}
	wasPending := e.task.State == model.TaskPending
	e.task.State = model.TaskCancelled
	if e.cancel != nil {
		e.cancel()
	}
	if wasPending {
		// No worker will ever call finish for this task; stamp it so the
		// sweeper can reclaim it.
		now := time.Now()
		e.task.FinishedAt = &now
		e.task.Result = nil
		r.metrics.tasksTotal.WithLabelValues(string(model.TaskCancelled)).Inc()
	}
	return true
}

// Result blocks up to timeout for a task to reach a terminal state and
// returns its snapshot, or the current (non-terminal) snapshot if timeout
// elapses first.
func (r *Runner) Result(ctx context.Context, id string, timeout time.Duration) (model.Task, error) {
	deadline := time.Now().Add(timeout)
	const pollInterval = 10 * time.Millisecond
	for {
		snapshot, err := r.Status(id)
		if err != nil {
			return model.Task{}, err
		}
		if isTerminal(snapshot.State) || timeout <= 0 {
			return snapshot, nil
		}
		if time.Now().After(deadline) {
			return snapshot, nil
		}
		select {
		case <-ctx.Done():
			return snapshot, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func isTerminal(s model.TaskState) bool {
	return s == model.TaskSucceeded || s == model.TaskFailed || s == model.TaskCancelled
}

// startSweeper deletes tasks that have been terminal for longer than ttl.
func (r *Runner) startSweeper() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		interval := r.ttl / 10
		if interval <= 0 {
			interval = time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *Runner) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id, e := range r.tasks {
		if !isTerminal(e.task.State) || e.task.FinishedAt == nil {
			continue
		}
		if now.Sub(*e.task.FinishedAt) > r.ttl {
			delete(r.tasks, id)
		}
	}
}

// Shutdown stops workers and the sweeper and waits for any task a worker
// is executing to return; it does not cancel those tasks' contexts.
func (r *Runner) Shutdown() {
	close(r.stop)
	r.wg.Wait()
}

type reporter struct {
	r  *Runner
	id string
}

func (rp reporter) Report(progress int, stage string) {
	rp.r.mu.Lock()
	defer rp.r.mu.Unlock()
	e, ok := rp.r.tasks[rp.id]
	if !ok {
		return
	}
	e.task.Progress = progress
	e.task.StageLabel = stage
}

// QueueDepth reports the current pending-task count, used by /health.
func (r *Runner) QueueDepth() int {
	return len(r.queue)
}

// Workers reports the configured worker-pool size, used by /health.
func (r *Runner) Workers() int {
	return r.workers
}
