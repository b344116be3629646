// Package command turns external programs into job functions.
//
// A command job blocks the goroutine of the scheduler running it until the
// process exits; cooperative interleaving happens between jobs, not inside
// one.
package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aristath/cosched/internal/job"
)

// ExitError reports a non-zero exit status.
type ExitError struct {
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("exit status %d: %s", e.Code, e.Stderr)
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Shell conventions: 126 is "not executable", 127 is "not found".
const (
	exitNotExecutable = 126
	exitNotFound      = 127
)

// Runner builds job functions that run external commands.
type Runner struct {
	pm      *ProcessManager
	log     zerolog.Logger
	limiter *rate.Limiter
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLaunchRate caps process launches at perSecond with the given burst.
// A non-positive perSecond leaves launches unlimited.
func WithLaunchRate(perSecond float64, burst int) RunnerOption {
	return func(r *Runner) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewRunner creates a Runner. pm may be nil.
func NewRunner(pm *ProcessManager, log zerolog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{pm: pm, log: log.With().Str("component", "command").Logger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Func returns a job.Func that runs name with args. The job's positional
// arguments are appended after args. Recognized keyword arguments:
//
//	"dir" string            working directory
//	"env" map[string]string extra environment variables
//
// The job value is the trimmed stdout. Failures that retrying cannot fix
// (missing binary, exit 126/127) are wrapped with backoff.Permanent.
func (r *Runner) Func(name string, args ...string) job.Func {
	return func(ctx context.Context, jobArgs []any, kwargs map[string]any) (any, error) {
		argv := append([]string(nil), args...)
		for _, a := range jobArgs {
			argv = append(argv, fmt.Sprint(a))
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("waiting for launch slot: %w", err)
			}
		}

		cmd := newCommand(ctx, name, argv...)
		if dir, ok := kwargs["dir"].(string); ok {
			cmd.Dir = dir
		}
		if env, ok := kwargs["env"].(map[string]string); ok {
			cmd.Env = os.Environ()
			for k, v := range env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}

		r.log.Debug().Str("cmd", name).Strs("args", argv).Msg("running command")
		stdout, _, err := executeCommand(cmd, r.pm)
		if err != nil {
			if permanent(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return strings.TrimSpace(string(stdout)), nil
	}
}

func permanent(err error) bool {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return true
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code == exitNotExecutable || exitErr.Code == exitNotFound
	}
	return false
}
