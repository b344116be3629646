package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"github.com/aristath/cosched/internal/command"
	"github.com/aristath/cosched/internal/config"
	"github.com/aristath/cosched/internal/events"
	"github.com/aristath/cosched/internal/job"
	"github.com/aristath/cosched/internal/jobfile"
	"github.com/aristath/cosched/internal/logging"
	"github.com/aristath/cosched/internal/orchestrator"
	"github.com/aristath/cosched/internal/persistence"
	"github.com/aristath/cosched/internal/scheduler"
	"github.com/aristath/cosched/internal/tui"
)

var errJobsFailed = errors.New("one or more jobs failed")

type options struct {
	configPath string
	jobsPath   string
	tui        bool
	history    int
	initConfig bool
	watch      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", filepath.Join(".cosched", "config.json"), "path to project config json")
	flag.StringVar(&opts.jobsPath, "jobs", "", "path to job file (yaml or json)")
	flag.BoolVar(&opts.tui, "tui", false, "show the terminal UI while jobs run")
	flag.IntVar(&opts.history, "history", 0, "print the N most recent runs and exit")
	flag.BoolVar(&opts.watch, "watch", false, "run the job file again whenever it changes")
	flag.BoolVar(&opts.initConfig, "init-config", false, "write the effective config to -config and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "cosched:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	if opts.jobsPath == "" && opts.history <= 0 && !opts.initConfig {
		return errors.New("-jobs is required")
	}
	if opts.watch && opts.tui {
		return errors.New("-watch cannot be combined with -tui")
	}

	globalPath := ""
	if home, err := os.UserHomeDir(); err == nil {
		globalPath = filepath.Join(home, ".cosched", "config.json")
	}
	cfg, err := config.Load(globalPath, opts.configPath)
	if err != nil {
		return err
	}
	if opts.initConfig {
		if err := config.Save(cfg, opts.configPath); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "wrote", opts.configPath)
		return nil
	}

	logOpts := logging.Options{Level: cfg.Log.Level, Console: cfg.Log.Console, File: cfg.Log.File}
	if opts.tui && logOpts.File == "" {
		// The TUI owns the terminal.
		logOpts.File = filepath.Join(".cosched", "cosched.log")
	}
	log, closeLog, err := logging.New(logOpts)
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := openStore(ctx, cfg.History)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	if opts.history > 0 {
		if store == nil {
			return errors.New("history is disabled")
		}
		return printHistory(ctx, store, opts.history, stdout)
	}

	pm := command.NewProcessManager()
	defer func() {
		if err := pm.KillAll(); err != nil {
			log.Warn().Err(err).Msg("killing subprocesses")
		}
	}()
	cmds := command.NewRunner(pm, log, command.WithLaunchRate(cfg.Command.LaunchesPerSecond, cfg.Command.Burst))

	env := runEnv{cfg: cfg, log: log, store: store, cmds: cmds}

	notify(log, daemon.SdNotifyReady)
	defer notify(log, daemon.SdNotifyStopping)

	if !opts.watch {
		return runJobs(ctx, env, opts, stdout)
	}

	changes, err := jobfile.Watch(ctx, opts.jobsPath, log)
	if err != nil {
		return err
	}
	for {
		if err := runJobs(ctx, env, opts, stdout); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("run finished with errors")
		}
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			log.Info().Str("path", opts.jobsPath).Msg("job file changed; running again")
		}
	}
}

// runEnv is what every run of the job file shares.
type runEnv struct {
	cfg   *config.Config
	log   zerolog.Logger
	store persistence.Store
	cmds  *command.Runner
}

// runJobs loads the job file and drives it to completion once.
func runJobs(ctx context.Context, env runEnv, opts options, stdout io.Writer) error {
	graph, err := jobfile.Load(opts.jobsPath, commandFactory(env.cmds), time.Now())
	if err != nil {
		return err
	}

	bus := events.NewEventBus()
	defer bus.Close()

	pr, err := orchestrator.NewParallelRunner(orchestrator.ParallelRunnerConfig{
		Shards:           env.cfg.Shards.Count,
		ConcurrencyLimit: env.cfg.Shards.Concurrency,
		Scheduler:        schedulerConfig(env.cfg, env.log, bus),
		Store:            env.store,
	})
	if err != nil {
		return err
	}
	defer pr.Close()

	for _, root := range graph.Roots {
		if _, err := pr.Submit(root); err != nil {
			return fmt.Errorf("submitting %s: %w", root, err)
		}
	}
	env.log.Info().Int("jobs", len(graph.Jobs)).Int("roots", len(graph.Roots)).Int("shards", pr.Shards()).Msg("starting")

	var results []orchestrator.ShardResult
	if opts.tui {
		results, err = runWithTUI(ctx, pr, bus)
	} else {
		results, err = pr.Run(ctx)
	}
	if err != nil {
		return err
	}
	return printSummary(results, stdout)
}

func notify(log zerolog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Debug().Err(err).Msg("sd_notify failed")
		return
	}
	if sent {
		log.Debug().Str("state", state).Msg("notified systemd")
	}
}

func openStore(ctx context.Context, cfg config.HistoryConfig) (persistence.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Path == "" {
		return persistence.NewMemoryStore(ctx)
	}
	return persistence.NewSQLiteStore(ctx, cfg.Path)
}

func schedulerConfig(cfg *config.Config, log zerolog.Logger, bus *events.EventBus) scheduler.Config {
	scfg := scheduler.Config{
		PoolSize: cfg.Scheduler.PoolSize,
		Logger:   log,
		Bus:      bus,
		Retry: scheduler.RetryConfig{
			InitialInterval:     cfg.Retry.InitialInterval(),
			MaxInterval:         cfg.Retry.MaxInterval(),
			MaxElapsedTime:      cfg.Retry.MaxElapsed(),
			Multiplier:          cfg.Retry.Multiplier,
			RandomizationFactor: cfg.Retry.Jitter,
		},
	}
	if cfg.Breaker.Enabled {
		scfg.Breakers = scheduler.NewCircuitBreakerRegistry(scheduler.BreakerConfig{
			TripAfter:   cfg.Breaker.TripAfter,
			OpenTimeout: cfg.Breaker.OpenTimeout(),
			MaxRequests: cfg.Breaker.MaxRequests,
		}, log)
	}
	return scfg
}

func commandFactory(r *command.Runner) jobfile.FuncFactory {
	return func(s jobfile.Entry) (job.Func, error) {
		if len(s.Command) == 0 {
			return nil, errors.New("command is required")
		}
		return r.Func(s.Command[0], s.Command[1:]...), nil
	}
}

// runWithTUI drives the runner while the TUI is open. Quitting the TUI
// cancels the run.
func runWithTUI(ctx context.Context, pr *orchestrator.ParallelRunner, bus *events.EventBus) ([]orchestrator.ShardResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(tui.New(bus), tea.WithAltScreen(), tea.WithContext(ctx))

	type outcome struct {
		results []orchestrator.ShardResult
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		jobs := pr.Len()
		results, err := pr.Run(ctx)
		p.Send(tui.RunFinishedMsg{Jobs: jobs, Err: err})
		done <- outcome{results, err}
	}()

	_, uiErr := p.Run()
	cancel()
	out := <-done
	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return out.results, fmt.Errorf("tui: %w", uiErr)
	}
	return out.results, out.err
}

func printSummary(results []orchestrator.ShardResult, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SHARD\tJOB\tATTEMPTS\tRESULT")
	failed := 0
	for _, sr := range results {
		for _, res := range sr.Results {
			outcome := fmt.Sprint(res.Value)
			if !res.OK() {
				failed++
				outcome = "error: " + res.Err.Error()
			}
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", sr.Shard, res.Name, res.Attempts, outcome)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errJobsFailed, failed, len(orchestrator.Flatten(results)))
	}
	return nil
}

func printHistory(ctx context.Context, store persistence.Store, n int, w io.Writer) error {
	runs, err := store.ListRuns(ctx, n)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SETTLED\tSHARD\tJOB\tOK\tATTEMPTS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\n", r.Settled.Format(time.DateTime), r.Shard, r.Name, r.OK, r.Attempts)
	}
	return tw.Flush()
}
