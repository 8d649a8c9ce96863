// Package alloc partitions buildings into responder routes so that the
// longest route is as short as possible. A greedy seed is refined by
// simulated annealing; several independent annealing runs may be raced
// and the best kept.
package alloc

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"fireroute/pkg/graph"
)

var (
	// ErrNoActiveStartPoints is returned when every start point has been
	// excluded. It is fatal for the request.
	ErrNoActiveStartPoints = errors.New("no active start points")
	// ErrGraphUnreachable marks a partial allocation: some buildings could
	// not be reached from any start point.
	ErrGraphUnreachable = errors.New("buildings unreachable from every start point")
)

// UnreachableError lists the buildings left out of a partial allocation.
type UnreachableError struct {
	Buildings []graph.NodeID
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%d buildings unreachable from every start point", len(e.Buildings))
}

func (e *UnreachableError) Unwrap() error { return ErrGraphUnreachable }

// Config controls an Engine.
type Config struct {
	Seed     int64
	Restarts int // independent annealing runs; worker i uses Seed+i
	Workers  int // concurrent runs and matrix workers; <= 0 means GOMAXPROCS
	Schedule Schedule
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Seed:     1,
		Restarts: 4,
		Workers:  runtime.GOMAXPROCS(0),
		Schedule: DefaultSchedule(),
	}
}

// Engine runs allocations. It holds no per-request state and is safe for
// concurrent use; each call owns the graph it is given.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Restarts <= 0 {
		cfg.Restarts = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{cfg: cfg}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Result is the outcome of one allocation.
type Result struct {
	Solution   *Solution
	Seed       *Solution // what the annealer started from
	Stats      Stats
	Restart    int // index of the winning run
	Unassigned []graph.NodeID
	Repair     Repair
	Epoch      uint64
	Elapsed    time.Duration
}

// Unreachable returns an *UnreachableError when the allocation is partial.
func (r *Result) Unreachable() error {
	if len(r.Unassigned) == 0 {
		return nil
	}
	return &UnreachableError{Buildings: r.Unassigned}
}

// Allocate runs the cold pipeline on g: greedy seed, then annealing.
func (e *Engine) Allocate(ctx context.Context, g *graph.Graph) (*Result, error) {
	start := time.Now()
	p, err := NewProblem(ctx, g, e.cfg.Workers)
	if err != nil {
		return nil, err
	}
	seed := p.seedPlan()
	res, err := e.race(ctx, p, seed, e.cfg.Schedule)
	if err != nil {
		return nil, err
	}
	res.Seed = p.toSolution(seed)
	res.Elapsed = time.Since(start)
	return res, nil
}

// Reoptimize warm-starts from prior on the current state of g: buildings
// that are no longer routable are dropped, orphans and newly routable
// buildings are appended greedily, and the result is annealed with sched.
func (e *Engine) Reoptimize(ctx context.Context, g *graph.Graph, prior *Solution, sched Schedule) (*Result, error) {
	start := time.Now()
	p, err := NewProblem(ctx, g, e.cfg.Workers)
	if err != nil {
		return nil, err
	}
	pl, rep := p.fromSolution(prior)
	p.extend(pl, p.visited(pl))

	res, err := e.race(ctx, p, pl, sched)
	if err != nil {
		return nil, err
	}
	res.Seed = p.toSolution(pl)
	res.Repair = rep
	res.Elapsed = time.Since(start)
	return res, nil
}

// race anneals Restarts copies of seed concurrently and keeps the best.
// Ties go to the lowest run index, so the outcome depends only on Seed.
func (e *Engine) race(ctx context.Context, p *Problem, seed *plan, sched Schedule) (*Result, error) {
	n := e.cfg.Restarts
	plans := make([]*plan, n)
	stats := make([]Stats, n)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.cfg.Workers)
	for i := range n {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			plans[i], stats[i] = p.anneal(seed, sched, e.cfg.Seed+int64(i))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	best := 0
	for i := 1; i < n; i++ {
		if stats[i].BestObjective < stats[best].BestObjective {
			best = i
		}
	}
	return &Result{
		Solution:   p.toSolution(plans[best]),
		Stats:      stats[best],
		Restart:    best,
		Unassigned: p.Unreachable(),
		Epoch:      p.g.Epoch(),
	}, nil
}
