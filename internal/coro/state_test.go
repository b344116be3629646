package coro

import (
	"errors"
	"testing"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		ev      event
		want    Status
		wantErr error
	}{
		{"run created", StatusCreated, evRun, StatusRunning, nil},
		{"run running", StatusRunning, evRun, StatusRunning, ErrAlreadyRunning},
		{"run finished", StatusFinished, evRun, StatusFinished, ErrUnrunnable},
		{"run cancelled", StatusCancelled, evRun, StatusCancelled, ErrUnrunnable},
		{"finish running", StatusRunning, evFinish, StatusFinished, nil},
		{"finish created", StatusCreated, evFinish, StatusCreated, ErrNotRunning},
		{"finish finished", StatusFinished, evFinish, StatusFinished, ErrAlreadyFinished},
		{"finish cancelled", StatusCancelled, evFinish, StatusCancelled, ErrUnrunnable},
		{"cancel created", StatusCreated, evCancel, StatusCancelled, nil},
		{"cancel running", StatusRunning, evCancel, StatusCancelled, nil},
		{"cancel finished", StatusFinished, evCancel, StatusFinished, ErrAlreadyFinished},
		{"cancel cancelled", StatusCancelled, evCancel, StatusCancelled, ErrAlreadyCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := transition(tt.from, tt.ev)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("transition(%s, %s) error = %v, want %v", tt.from, tt.ev, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("transition(%s, %s) = %s, want %s", tt.from, tt.ev, got, tt.want)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusCreated:   false,
		StatusRunning:   false,
		StatusFinished:  true,
		StatusCancelled: true,
	}
	for s, want := range terminal {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}
