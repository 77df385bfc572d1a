package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowcast/forecaster/internal/apperr"
	"github.com/flowcast/forecaster/internal/logger"
	"github.com/flowcast/forecaster/internal/model"
)

func newTestRunner(t *testing.T, workers, highWater int, handlers map[string]Handler) *Runner {
	t.Helper()
	r := New(workers, time.Minute, highWater, handlers, logger.New("error"), prometheus.NewRegistry())
	t.Cleanup(r.Shutdown)
	return r
}

func waitTerminal(t *testing.T, r *Runner, id string) model.Task {
	t.Helper()
	task, err := r.Result(context.Background(), id, 5*time.Second)
	if err != nil {
		t.Fatalf("result %s: %v", id, err)
	}
	if !isTerminal(task.State) {
		t.Fatalf("task %s still %s after wait", id, task.State)
	}
	return task
}

func TestSubmitAndResult_Success(t *testing.T) {
	r := newTestRunner(t, 2, 10, map[string]Handler{
		"double": func(ctx context.Context, payload any, report Reporter) (any, error) {
			return payload.(int) * 2, nil
		},
	})
	id, err := r.Submit("double", 21)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	task := waitTerminal(t, r, id)
	if task.State != model.TaskSucceeded {
		t.Fatalf("state = %s, want succeeded (err=%s)", task.State, task.Error)
	}
	if task.Result != 42 {
		t.Errorf("result = %v, want 42", task.Result)
	}
	if task.Progress != 100 {
		t.Errorf("progress = %d, want 100", task.Progress)
	}
}

func TestStatus_UnknownTaskIsTaskNotFound(t *testing.T) {
	r := newTestRunner(t, 1, 10, nil)
	_, err := r.Status("no-such-task")
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.TaskNotFound {
		t.Fatalf("err = %v, want TaskNotFound", err)
	}
}

func TestCancel_RunningTaskStopsWithin100ms(t *testing.T) {
	started := make(chan struct{})
	r := newTestRunner(t, 1, 10, map[string]Handler{
		"block": func(ctx context.Context, payload any, report Reporter) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	id, err := r.Submit("block", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	begin := time.Now()
	if !r.Cancel(id) {
		t.Fatal("cancel returned false for a running task")
	}
	task := waitTerminal(t, r, id)
	if task.State != model.TaskCancelled {
		t.Fatalf("state = %s, want cancelled", task.State)
	}
	if elapsed := time.Since(begin); elapsed > 100*time.Millisecond {
		t.Errorf("cancellation took %v, want <= 100ms", elapsed)
	}
	if task.Result != nil {
		t.Errorf("cancelled task kept a result: %v", task.Result)
	}
}

func TestCancel_PendingTaskNeverRuns(t *testing.T) {
	release := make(chan struct{})
	ran := make(chan string, 10)
	r := newTestRunner(t, 1, 10, map[string]Handler{
		"gate": func(ctx context.Context, payload any, report Reporter) (any, error) {
			ran <- payload.(string)
			<-release
			return nil, nil
		},
	})
	// First task occupies the single worker; second stays pending.
	first, err := r.Submit("gate", "first")
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}
	if got := <-ran; got != "first" {
		t.Fatalf("worker ran %q first", got)
	}
	second, err := r.Submit("gate", "second")
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}
	if !r.Cancel(second) {
		t.Fatal("cancel returned false for a pending task")
	}
	task, err := r.Status(second)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if task.State != model.TaskCancelled {
		t.Fatalf("state = %s, want cancelled immediately for pending task", task.State)
	}
	if task.FinishedAt == nil {
		t.Error("pending-cancelled task has no FinishedAt; sweeper would retain it forever")
	}

	close(release)
	waitTerminal(t, r, first)
	// The worker drained the queue; the cancelled task must not have run.
	select {
	case got := <-ran:
		t.Fatalf("cancelled pending task ran anyway: %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancel_TerminalTaskReturnsFalse(t *testing.T) {
	r := newTestRunner(t, 1, 10, map[string]Handler{
		"noop": func(ctx context.Context, payload any, report Reporter) (any, error) { return nil, nil },
	})
	id, _ := r.Submit("noop", nil)
	waitTerminal(t, r, id)
	if r.Cancel(id) {
		t.Error("cancel of a terminal task returned true")
	}
}

func TestSubmit_OverloadedAtHighWater(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	r := newTestRunner(t, 1, 2, map[string]Handler{
		"block": func(ctx context.Context, payload any, report Reporter) (any, error) {
			<-release
			return nil, nil
		},
	})
	// Fill the worker plus the queue, then one more must be rejected.
	var lastErr error
	for i := 0; i < 5; i++ {
		if _, err := r.Submit("block", nil); err != nil {
			lastErr = err
			break
		}
	}
	ae, ok := apperr.As(lastErr)
	if !ok || ae.Kind != apperr.Overloaded {
		t.Fatalf("err = %v, want Overloaded", lastErr)
	}
}

func TestWorkerSurvivesPanickingTask(t *testing.T) {
	r := newTestRunner(t, 1, 10, map[string]Handler{
		"boom": func(ctx context.Context, payload any, report Reporter) (any, error) {
			panic("kaboom")
		},
		"ok": func(ctx context.Context, payload any, report Reporter) (any, error) {
			return "fine", nil
		},
	})
	id, _ := r.Submit("boom", nil)
	task := waitTerminal(t, r, id)
	if task.State != model.TaskFailed {
		t.Fatalf("state = %s, want failed", task.State)
	}
	if task.Error == "" {
		t.Error("failed task has no error message")
	}

	// The same (only) worker must still serve the queue.
	id2, err := r.Submit("ok", nil)
	if err != nil {
		t.Fatalf("submit after panic: %v", err)
	}
	task2 := waitTerminal(t, r, id2)
	if task2.State != model.TaskSucceeded {
		t.Fatalf("state after panic = %s, want succeeded", task2.State)
	}
}

func TestUnknownKindFailsTask(t *testing.T) {
	r := newTestRunner(t, 1, 10, map[string]Handler{})
	id, _ := r.Submit("mystery", nil)
	task := waitTerminal(t, r, id)
	if task.State != model.TaskFailed {
		t.Fatalf("state = %s, want failed for unregistered kind", task.State)
	}
}

func TestProgressReporting(t *testing.T) {
	reported := make(chan struct{})
	release := make(chan struct{})
	r := newTestRunner(t, 1, 10, map[string]Handler{
		"steps": func(ctx context.Context, payload any, report Reporter) (any, error) {
			report.Report(40, "running trials")
			close(reported)
			<-release
			return nil, nil
		},
	})
	id, _ := r.Submit("steps", nil)
	<-reported
	task, err := r.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if task.Progress != 40 || task.StageLabel != "running trials" {
		t.Errorf("progress = %d/%q, want 40/\"running trials\"", task.Progress, task.StageLabel)
	}
	close(release)
	waitTerminal(t, r, id)
}

func TestSweep_RemovesExpiredTerminalTasks(t *testing.T) {
	handlers := map[string]Handler{
		"noop": func(ctx context.Context, payload any, report Reporter) (any, error) { return nil, nil },
	}
	r := New(1, 100*time.Millisecond, 10, handlers, logger.New("error"), prometheus.NewRegistry())
	t.Cleanup(r.Shutdown)

	id, _ := r.Submit("noop", nil)
	waitTerminal(t, r, id)

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := r.Status(id)
		if ae, ok := apperr.As(err); ok && ae.Kind == apperr.TaskNotFound {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("task not swept after TTL expiry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResult_TimeoutReturnsNonTerminalSnapshot(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	r := newTestRunner(t, 1, 10, map[string]Handler{
		"block": func(ctx context.Context, payload any, report Reporter) (any, error) {
			<-release
			return nil, nil
		},
	})
	id, _ := r.Submit("block", nil)
	task, err := r.Result(context.Background(), id, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if isTerminal(task.State) {
		t.Fatalf("state = %s, expected non-terminal snapshot on timeout", task.State)
	}
}
