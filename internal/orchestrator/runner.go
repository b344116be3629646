package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/cosched/internal/job"
	"github.com/aristath/cosched/internal/persistence"
	"github.com/aristath/cosched/internal/scheduler"
)

// ShardResult is the outcome of one shard's Run.
type ShardResult struct {
	Shard   int
	Results []scheduler.JobResult
	Err     error
	Elapsed time.Duration
}

// ParallelRunnerConfig configures the parallel runner.
type ParallelRunnerConfig struct {
	Shards           int               // Number of independent schedulers (default 1)
	ConcurrencyLimit int               // Max shards driven at once (0 = all)
	Scheduler        scheduler.Config  // Template for every shard
	Store            persistence.Store // Optional run journal; rows are tagged per shard
}

// ParallelRunner drives independent Scheduler shards on separate goroutines.
// Each shard stays single-threaded: its jobs interleave cooperatively on the
// goroutine that runs it. Jobs never move between shards, so a dependency
// submitted to two shards runs once in each.
type ParallelRunner struct {
	config ParallelRunnerConfig
	log    zerolog.Logger
	shards []*scheduler.Scheduler
	mu     sync.Mutex
}

// NewParallelRunner creates a new parallel runner.
func NewParallelRunner(cfg ParallelRunnerConfig) (*ParallelRunner, error) {
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	if cfg.ConcurrencyLimit <= 0 || cfg.ConcurrencyLimit > cfg.Shards {
		cfg.ConcurrencyLimit = cfg.Shards
	}

	r := &ParallelRunner{
		config: cfg,
		log:    cfg.Scheduler.Logger.With().Str("component", "parallel-runner").Logger(),
		shards: make([]*scheduler.Scheduler, cfg.Shards),
	}
	for i := range r.shards {
		scfg := cfg.Scheduler
		scfg.Name = shardName(i)
		if cfg.Store != nil {
			scfg.Recorder = cfg.Store.Recorder(shardName(i))
		}
		s, err := scheduler.New(scfg)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("creating shard %d: %w", i, err)
		}
		r.shards[i] = s
	}
	return r, nil
}

func shardName(i int) string { return fmt.Sprintf("shard-%d", i) }

// Shards returns the number of shards.
func (r *ParallelRunner) Shards() int { return len(r.shards) }

// Shard returns the scheduler of shard i.
func (r *ParallelRunner) Shard(i int) *scheduler.Scheduler { return r.shards[i] }

// Submit pushes j to the shard with the fewest pending jobs, lowest index
// first on ties, and returns that shard's index.
func (r *ParallelRunner) Submit(j *job.Job) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := 0
	for i := 1; i < len(r.shards); i++ {
		if r.shards[i].Len() < r.shards[best].Len() {
			best = i
		}
	}
	if err := r.shards[best].Push(j); err != nil {
		return -1, err
	}
	return best, nil
}

// SubmitTo pushes j to a specific shard.
func (r *ParallelRunner) SubmitTo(shard int, j *job.Job) error {
	if shard < 0 || shard >= len(r.shards) {
		return fmt.Errorf("shard %d out of range [0, %d)", shard, len(r.shards))
	}
	return r.shards[shard].Push(j)
}

// Len returns the number of pending jobs across all shards.
func (r *ParallelRunner) Len() int {
	n := 0
	for _, s := range r.shards {
		n += s.Len()
	}
	return n
}

// Run drives every shard until it drains, at most ConcurrencyLimit at a time.
// Results are indexed by shard. The returned error is the first shard error;
// shard errors only come from ctx ending.
func (r *ParallelRunner) Run(ctx context.Context) ([]ShardResult, error) {
	results := make([]ShardResult, len(r.shards))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.ConcurrencyLimit)

	for i, s := range r.shards {
		g.Go(func() error {
			started := time.Now()
			res, err := s.Run(gctx)
			results[i] = ShardResult{Shard: i, Results: res, Err: err, Elapsed: time.Since(started)}

			ev := r.log.Info()
			if err != nil {
				ev = r.log.Warn().Err(err)
			}
			ev.Int("shard", i).Int("jobs", len(res)).Dur("elapsed", results[i].Elapsed).Msg("shard drained")
			return err
		})
	}

	err := g.Wait()
	return results, err
}

// Close releases every shard.
func (r *ParallelRunner) Close() {
	for _, s := range r.shards {
		if s != nil {
			s.Close()
		}
	}
}

// Flatten returns every job result across shards, shard by shard.
func Flatten(results []ShardResult) []scheduler.JobResult {
	var all []scheduler.JobResult
	for _, sr := range results {
		all = append(all, sr.Results...)
	}
	return all
}
