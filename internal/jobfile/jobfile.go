// Package jobfile loads job graphs from YAML (or JSON) files.
//
//	jobs:
//	  - name: fetch
//	    command: [curl, -fsS, https://example.com]
//	    max_retries: 3
//	  - name: report
//	    command: [sh, -c, "echo done"]
//	    depends_on: [fetch]
//	    start: +5s
//	    duration: 1m
package jobfile

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gammazero/toposort"
	"github.com/robfig/cron/v3"
	yaml "go.yaml.in/yaml/v3"

	"github.com/aristath/cosched/internal/job"
)

// ErrInvalidJobFile is returned for any malformed job file or entry.
var ErrInvalidJobFile = errors.New("invalid job file")

// Entry is one job entry.
type Entry struct {
	Name       string            `yaml:"name"`
	Command    []string          `yaml:"command"`
	Args       []string          `yaml:"args"`
	Dir        string            `yaml:"dir"`
	Env        map[string]string `yaml:"env"`
	MaxRetries int               `yaml:"max_retries"`
	Start      string            `yaml:"start"`    // RFC3339, or "+<duration>" from load time
	Cron       string            `yaml:"cron"`     // Next occurrence after load time becomes the start
	Duration   string            `yaml:"duration"` // Expiration window
	DependsOn  []string          `yaml:"depends_on"`
}

type file struct {
	Jobs []Entry `yaml:"jobs"`
}

// FuncFactory builds the function a spec runs.
type FuncFactory func(Entry) (job.Func, error)

// Graph is a loaded set of jobs.
type Graph struct {
	Jobs  map[string]*job.Job // By name
	Order []string            // Dependencies before dependents
	Roots []*job.Job          // Jobs nothing depends on, in file order
}

// Load reads and parses path.
func Load(path string, factory FuncFactory, now time.Time) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	g, err := Parse(data, factory, now)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return g, nil
}

// Parse builds a job graph from data. Relative starts and cron expressions
// are resolved against now.
func Parse(data []byte, factory FuncFactory, now time.Time) (*Graph, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if len(f.Jobs) == 0 {
		return nil, fmt.Errorf("%w: no jobs defined", ErrInvalidJobFile)
	}

	entries := make(map[string]Entry, len(f.Jobs))
	var edges []toposort.Edge
	for i, s := range f.Jobs {
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("%w: job %d has no name", ErrInvalidJobFile, i)
		}
		if _, dup := entries[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate job name %q", ErrInvalidJobFile, s.Name)
		}
		entries[s.Name] = s
		if len(s.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, s.Name})
		}
		for _, dep := range s.DependsOn {
			edges = append(edges, toposort.Edge{dep, s.Name})
		}
	}
	for _, s := range f.Jobs {
		for _, dep := range s.DependsOn {
			if _, ok := entries[dep]; !ok {
				return nil, fmt.Errorf("%w: %q depends on unknown job %q", ErrInvalidJobFile, s.Name, dep)
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: dependency cycle: %v", ErrInvalidJobFile, err)
	}

	g := &Graph{Jobs: make(map[string]*job.Job, len(entries))}
	for _, n := range sorted {
		if n == nil {
			continue
		}
		name := n.(string)
		j, err := build(entries[name], g.Jobs, factory, now)
		if err != nil {
			return nil, err
		}
		g.Jobs[name] = j
		g.Order = append(g.Order, name)
	}
	if len(g.Order) != len(entries) {
		return nil, fmt.Errorf("%w: dependency cycle", ErrInvalidJobFile)
	}

	depended := make(map[string]bool)
	for _, s := range f.Jobs {
		for _, dep := range s.DependsOn {
			depended[dep] = true
		}
	}
	for _, s := range f.Jobs {
		if !depended[s.Name] {
			g.Roots = append(g.Roots, g.Jobs[s.Name])
		}
	}
	return g, nil
}

func build(s Entry, built map[string]*job.Job, factory FuncFactory, now time.Time) (*job.Job, error) {
	fn, err := factory(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidJobFile, s.Name, err)
	}

	opts := []job.Option{job.WithName(s.Name), job.WithMaxRetries(s.MaxRetries)}
	if len(s.Args) > 0 {
		args := make([]any, len(s.Args))
		for i, a := range s.Args {
			args[i] = a
		}
		opts = append(opts, job.WithArgs(args...))
	}
	kwargs := map[string]any{}
	if s.Dir != "" {
		kwargs["dir"] = s.Dir
	}
	if len(s.Env) > 0 {
		kwargs["env"] = s.Env
	}
	if len(kwargs) > 0 {
		opts = append(opts, job.WithKwargs(kwargs))
	}

	start, err := resolveStart(s, now)
	if err != nil {
		return nil, err
	}
	if !start.IsZero() {
		opts = append(opts, job.WithStart(start))
	}

	if s.Duration != "" {
		d, err := time.ParseDuration(s.Duration)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: duration: %v", ErrInvalidJobFile, s.Name, err)
		}
		opts = append(opts, job.WithDuration(d))
	}

	if len(s.DependsOn) > 0 {
		deps := make([]*job.Job, len(s.DependsOn))
		for i, name := range s.DependsOn {
			deps[i] = built[name]
		}
		opts = append(opts, job.WithDependencies(deps...))
	}

	j, err := job.New(fn, opts...)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", s.Name, err)
	}
	return j, nil
}

func resolveStart(s Entry, now time.Time) (time.Time, error) {
	switch {
	case s.Start != "" && s.Cron != "":
		return time.Time{}, fmt.Errorf("%w: %q: start and cron are mutually exclusive", ErrInvalidJobFile, s.Name)
	case s.Cron != "":
		sched, err := cron.ParseStandard(s.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q: cron: %v", ErrInvalidJobFile, s.Name, err)
		}
		return sched.Next(now), nil
	case strings.HasPrefix(s.Start, "+"):
		d, err := time.ParseDuration(s.Start[1:])
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q: start: %v", ErrInvalidJobFile, s.Name, err)
		}
		return now.Add(d), nil
	case s.Start != "":
		t, err := time.Parse(time.RFC3339, s.Start)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q: start: %v", ErrInvalidJobFile, s.Name, err)
		}
		return t, nil
	}
	return time.Time{}, nil
}
