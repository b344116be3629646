package jobfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/cosched/internal/job"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// echo is a factory whose jobs return their own name.
func echo(s Entry) (job.Func, error) {
	if len(s.Command) == 0 {
		return nil, errors.New("command is required")
	}
	return func(context.Context, []any, map[string]any) (any, error) {
		return s.Name, nil
	}, nil
}

func TestParse_Graph(t *testing.T) {
	data := []byte(`
jobs:
  - name: report
    command: [echo, report]
    depends_on: [fetch, build]
  - name: fetch
    command: [echo, fetch]
    max_retries: 3
    args: [a, b]
    dir: /tmp
    env: {K: V}
  - name: build
    command: [echo, build]
    start: +5s
    duration: 1m
  - name: lonely
    command: [echo, lonely]
    cron: "30 12 * * *"
`)
	g, err := Parse(data, echo, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(g.Jobs) != 4 {
		t.Fatalf("expected 4 jobs, got %d", len(g.Jobs))
	}
	pos := map[string]int{}
	for i, n := range g.Order {
		pos[n] = i
	}
	if pos["fetch"] > pos["report"] || pos["build"] > pos["report"] {
		t.Errorf("dependencies must precede dependents: %v", g.Order)
	}

	if len(g.Roots) != 2 || g.Roots[0].Name() != "report" || g.Roots[1].Name() != "lonely" {
		t.Errorf("unexpected roots: %v", g.Roots)
	}

	fetch := g.Jobs["fetch"]
	if fetch.MaxRetries() != 3 {
		t.Errorf("max retries = %d, want 3", fetch.MaxRetries())
	}
	if args := fetch.Args(); len(args) != 2 || args[0] != "a" {
		t.Errorf("unexpected args: %v", args)
	}
	kw := fetch.Kwargs()
	if kw["dir"] != "/tmp" {
		t.Errorf("dir = %v", kw["dir"])
	}
	if env, ok := kw["env"].(map[string]string); !ok || env["K"] != "V" {
		t.Errorf("env = %v", kw["env"])
	}

	build := g.Jobs["build"]
	if !build.Start().Equal(now.Add(5 * time.Second)) {
		t.Errorf("start = %v, want now+5s", build.Start())
	}
	if d, ok := build.Duration(); !ok || d != time.Minute {
		t.Errorf("duration = %v, %v", d, ok)
	}

	lonely := g.Jobs["lonely"]
	if want := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC); !lonely.Start().Equal(want) {
		t.Errorf("cron start = %v, want %v", lonely.Start(), want)
	}

	deps := g.Jobs["report"].Dependencies()
	if len(deps) != 2 || deps[0] != fetch || deps[1] != build {
		t.Errorf("report dependencies not linked to built jobs: %v", deps)
	}
}

func TestParse_AbsoluteStart(t *testing.T) {
	g, err := Parse([]byte(`{"jobs": [{"name": "a", "command": ["x"], "start": "2026-03-02T00:00:00Z"}]}`), echo, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC); !g.Jobs["a"].Start().Equal(want) {
		t.Errorf("start = %v, want %v", g.Jobs["a"].Start(), want)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no jobs", `jobs: []`},
		{"missing name", `jobs: [{command: [x]}]`},
		{"duplicate", `jobs: [{name: a, command: [x]}, {name: a, command: [x]}]`},
		{"unknown dependency", `jobs: [{name: a, command: [x], depends_on: [b]}]`},
		{"cycle", `jobs: [{name: a, command: [x], depends_on: [b]}, {name: b, command: [x], depends_on: [a]}]`},
		{"bad duration", `jobs: [{name: a, command: [x], duration: soon}]`},
		{"bad start", `jobs: [{name: a, command: [x], start: tomorrow}]`},
		{"bad cron", `jobs: [{name: a, command: [x], cron: "not a cron"}]`},
		{"start and cron", `jobs: [{name: a, command: [x], start: +1s, cron: "* * * * *"}]`},
		{"factory error", `jobs: [{name: a}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), echo, now)
			if !errors.Is(err, ErrInvalidJobFile) {
				t.Errorf("expected ErrInvalidJobFile, got %v", err)
			}
		})
	}
}

func TestParse_NegativeRetries(t *testing.T) {
	_, err := Parse([]byte(`jobs: [{name: a, command: [x], max_retries: -1}]`), echo, now)
	if !errors.Is(err, job.ErrInvalidJob) {
		t.Errorf("expected ErrInvalidJob, got %v", err)
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("jobs: [\n"), echo, now); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	if err := os.WriteFile(path, []byte("jobs:\n  - name: a\n    command: [x]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	g, err := Load(path, echo, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := g.Jobs["a"].Call(context.Background())
	if err != nil || v != "a" {
		t.Errorf("Call() = %v, %v", v, err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), echo, now); err == nil {
		t.Error("expected error for missing file")
	}
}
