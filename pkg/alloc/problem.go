package alloc

import (
	"cmp"
	"context"
	"log"
	"math"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"fireroute/pkg/graph"
)

// Problem is the read-only view of one graph state that the seeder and the
// annealer work on: the active start points, the buildings reachable from
// at least one of them, and a dense distance matrix between all of these
// terminals. Terminals 0..K-1 are start points, K.. are buildings sorted by
// node id. A Problem may be shared by concurrent annealing workers.
type Problem struct {
	g *graph.Graph

	starts    []int // index into g.StartPoints per route
	terminals []uint32
	ids       []graph.NodeID
	k         int
	n         int
	dist      []float64 // n*n, row-major, +Inf when unreachable

	byID        map[graph.NodeID]int // building id -> terminal
	unreachable []graph.NodeID
}

// NewProblem snapshots the active state of g. It fails with
// ErrNoActiveStartPoints when no start point is usable. Rows of the
// matrix are computed in parallel by up to workers goroutines; each
// worker owns its own query state and only reads g.
func NewProblem(ctx context.Context, g *graph.Graph, workers int) (*Problem, error) {
	starts := g.ActiveStartPoints()
	if len(starts) == 0 {
		return nil, ErrNoActiveStartPoints
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	// Buildings sharing no component with any start point are reported,
	// not routed.
	uf := g.Components()
	startRoots := make(map[uint32]bool, len(starts))
	for _, si := range starts {
		startRoots[uf.Find(g.StartPoints[si].Node)] = true
	}

	p := &Problem{
		g:      g,
		starts: starts,
		k:      len(starts),
		byID:   make(map[graph.NodeID]int),
	}
	for _, si := range starts {
		nd := g.StartPoints[si].Node
		p.terminals = append(p.terminals, nd)
		p.ids = append(p.ids, g.Nodes[nd].ID)
	}

	buildings := g.ActiveBuildings()
	slices.SortFunc(buildings, func(a, b uint32) int {
		return cmp.Compare(g.Nodes[a].ID, g.Nodes[b].ID)
	})
	for _, b := range buildings {
		id := g.Nodes[b].ID
		if !startRoots[uf.Find(b)] {
			p.unreachable = append(p.unreachable, id)
			continue
		}
		p.byID[id] = len(p.terminals)
		p.terminals = append(p.terminals, b)
		p.ids = append(p.ids, id)
	}
	p.n = len(p.terminals)

	if err := p.fillMatrix(ctx, workers); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Problem) fillMatrix(ctx context.Context, workers int) error {
	n := p.n
	p.dist = make([]float64, n*n)
	if n == 0 {
		return nil
	}
	start := time.Now()

	workers = min(workers, n)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for w := range workers {
		eg.Go(func() error {
			qs := graph.NewQueryState(p.g.NumNodes())
			for i := w; i < n; i += workers {
				if err := ctx.Err(); err != nil {
					return err
				}
				p.g.DistancesTo(qs, p.terminals[i], p.terminals, p.dist[i*n:(i+1)*n])
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	// Opposite-direction sums can differ in the last bits.
	for i := range n {
		for j := i + 1; j < n; j++ {
			d := math.Min(p.dist[i*n+j], p.dist[j*n+i])
			p.dist[i*n+j], p.dist[j*n+i] = d, d
		}
	}

	if n > 500 {
		log.Printf("Distance matrix: %d terminals in %v", n, time.Since(start))
	}
	return nil
}

// Graph returns the graph the problem was built from.
func (p *Problem) Graph() *graph.Graph { return p.g }

// NumRoutes returns the number of active start points.
func (p *Problem) NumRoutes() int { return p.k }

// NumBuildings returns the number of routable buildings.
func (p *Problem) NumBuildings() int { return p.n - p.k }

// Unreachable returns the active buildings no start point can reach,
// sorted by id.
func (p *Problem) Unreachable() []graph.NodeID { return p.unreachable }

// D returns the distance between terminals i and j.
func (p *Problem) D(i, j int) float64 { return p.dist[i*p.n+j] }

// Terminal returns the terminal index of a routable building.
func (p *Problem) Terminal(id graph.NodeID) (int, bool) {
	t, ok := p.byID[id]
	return t, ok
}

// ID returns the node id of terminal t.
func (p *Problem) ID(t int) graph.NodeID { return p.ids[t] }
