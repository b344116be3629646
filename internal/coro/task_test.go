package coro

import (
	"context"
	"errors"
	"testing"
)

// counter yields n times and then returns n.
func counter(n int) *Task {
	return Spawn("counter", func(yield Yield) (any, error) {
		for i := 0; i < n; i++ {
			if err := yield(); err != nil {
				return nil, err
			}
		}
		return n, nil
	})
}

func TestTask_Lifecycle(t *testing.T) {
	task := counter(2)

	if task.Status() != StatusCreated {
		t.Fatalf("expected CREATED, got %s", task.Status())
	}
	if _, err := task.Step(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning before start, got %v", err)
	}
	if _, err := task.Result(); !errors.Is(err, ErrNotDone) {
		t.Fatalf("expected ErrNotDone before start, got %v", err)
	}

	if err := task.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := task.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	steps := 0
	for {
		done, err := task.Step()
		steps++
		if err != nil {
			t.Fatalf("step %d: %v", steps, err)
		}
		if done {
			break
		}
		if err := task.Failure(); !errors.Is(err, ErrNotDone) {
			t.Fatalf("expected ErrNotDone while running, got %v", err)
		}
	}
	if steps != 3 {
		t.Errorf("expected 3 steps (2 suspensions + completion), got %d", steps)
	}

	if task.Status() != StatusFinished {
		t.Fatalf("expected FINISHED, got %s", task.Status())
	}
	v, err := task.Result()
	if err != nil || v != 2 {
		t.Errorf("Result() = %v, %v; want 2, nil", v, err)
	}
	if err := task.Failure(); err != nil {
		t.Errorf("Failure() = %v, want nil", err)
	}

	if _, err := task.Step(); !errors.Is(err, ErrUnrunnable) {
		t.Errorf("expected ErrUnrunnable after finish, got %v", err)
	}
	if err := task.Cancel(); !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("expected ErrAlreadyFinished, got %v", err)
	}
}

func TestTask_FailureIsCaptured(t *testing.T) {
	boom := errors.New("boom")
	task := Spawn("fails", func(yield Yield) (any, error) {
		if err := yield(); err != nil {
			return nil, err
		}
		return nil, boom
	})

	_, err := Run(context.Background(), task)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !task.Done() {
		t.Fatalf("expected task to be finished, got %s", task.Status())
	}
	if err := task.Failure(); !errors.Is(err, boom) {
		t.Errorf("Failure() = %v, want boom", err)
	}
	if _, err := task.Result(); !errors.Is(err, boom) {
		t.Errorf("Result() error = %v, want boom", err)
	}
	// Stable across calls.
	if err := task.Failure(); !errors.Is(err, boom) {
		t.Errorf("second Failure() = %v, want boom", err)
	}
}

func TestTask_CancelTwice(t *testing.T) {
	task := counter(5)
	if _, err := task.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := task.Cancel(); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := task.Cancel(); !errors.Is(err, ErrAlreadyCancelled) {
		t.Errorf("expected ErrAlreadyCancelled, got %v", err)
	}
	if _, err := task.Step(); !errors.Is(err, ErrUnrunnable) {
		t.Errorf("expected ErrUnrunnable after cancel, got %v", err)
	}
	if _, err := task.Result(); !errors.Is(err, ErrNotDone) {
		t.Errorf("expected ErrNotDone for cancelled task, got %v", err)
	}
}

func TestTask_CancelStopsBody(t *testing.T) {
	resumed := 0
	var closedErr error
	task := Spawn("loop", func(yield Yield) (any, error) {
		for {
			resumed++
			if err := yield(); err != nil {
				closedErr = err
				return nil, err
			}
		}
	})

	for i := 0; i < 3; i++ {
		if _, err := task.Resume(); err != nil {
			t.Fatalf("resume %d: %v", i, err)
		}
	}
	if err := task.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !errors.Is(closedErr, ErrClosed) {
		t.Errorf("expected body to observe ErrClosed, got %v", closedErr)
	}
	if resumed != 3 {
		t.Errorf("expected 3 body iterations, got %d", resumed)
	}
}

func TestTask_PanicBecomesFailure(t *testing.T) {
	task := NewTask("panics", UnitFunc(func() (any, bool, error) {
		panic("kaboom")
	}))

	done, err := task.Resume()
	if !done {
		t.Fatal("expected panic to complete the task")
	}
	if !errors.Is(err, ErrPanic) {
		t.Errorf("expected ErrPanic, got %v", err)
	}
	if task.Status() != StatusFinished {
		t.Errorf("expected FINISHED, got %s", task.Status())
	}
}

func TestTask_UnitFunc(t *testing.T) {
	calls := 0
	task := NewTask("steps", UnitFunc(func() (any, bool, error) {
		calls++
		if calls < 3 {
			return nil, false, nil
		}
		return "ok", true, nil
	}))

	v, err := Run(context.Background(), task)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if v != "ok" || calls != 3 {
		t.Errorf("got %v after %d calls, want ok after 3", v, calls)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := counter(10)
	_, err := Run(ctx, task)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if task.Status() != StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", task.Status())
	}
}
