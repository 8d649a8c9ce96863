package alloc

import (
	"fmt"
	"math"

	"fireroute/pkg/graph"
)

// palette is cycled over routes by display id.
var palette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4",
	"#42d4f4", "#f032e6", "#bfef45", "#469990", "#9a6324",
}

// Route is one responder's open path: from its start point through its
// buildings in visiting order. Length is the sum of the shortest-path
// legs between consecutive stops.
type Route struct {
	StartID   string
	StartNode graph.NodeID
	Buildings []graph.NodeID
	Length    float64
	DisplayID int
	Color     string
}

// Solution assigns buildings to routes, one route per active start point.
type Solution struct {
	Routes []Route
}

// Objective returns the longest route length.
func (s *Solution) Objective() float64 {
	var obj float64
	for _, r := range s.Routes {
		obj = math.Max(obj, r.Length)
	}
	return obj
}

// NumBuildings returns the number of assigned buildings.
func (s *Solution) NumBuildings() int {
	n := 0
	for _, r := range s.Routes {
		n += len(r.Buildings)
	}
	return n
}

// RouteOf returns a building -> route index map.
func (s *Solution) RouteOf() map[graph.NodeID]int {
	m := make(map[graph.NodeID]int, s.NumBuildings())
	for i, r := range s.Routes {
		for _, b := range r.Buildings {
			m[b] = i
		}
	}
	return m
}

// Clone returns a deep copy.
func (s *Solution) Clone() *Solution {
	c := &Solution{Routes: make([]Route, len(s.Routes))}
	for i, r := range s.Routes {
		r.Buildings = append([]graph.NodeID(nil), r.Buildings...)
		c.Routes[i] = r
	}
	return c
}

// Validate checks the partition invariant against the active state of g:
// every route starts at an active start point, every assigned node is an
// active building, no building appears twice, and every active building
// reachable from an active start point is assigned.
func (s *Solution) Validate(g *graph.Graph) error {
	startNodes := make(map[graph.NodeID]bool)
	for _, i := range g.ActiveStartPoints() {
		startNodes[g.Nodes[g.StartPoints[i].Node].ID] = true
	}

	seen := make(map[graph.NodeID]int)
	for ri, r := range s.Routes {
		if !startNodes[r.StartNode] {
			return fmt.Errorf("route %d: start %q at node %d is not active", ri, r.StartID, r.StartNode)
		}
		for _, b := range r.Buildings {
			idx, ok := g.Lookup(b)
			if !ok {
				return fmt.Errorf("route %d: %w %d", ri, graph.ErrUnknownNode, b)
			}
			if g.Nodes[idx].Kind != graph.NodeBuilding {
				return fmt.Errorf("route %d: node %d is a %s, not a building", ri, b, g.Nodes[idx].Kind)
			}
			if !g.NodeActive(idx) {
				return fmt.Errorf("route %d: building %d is inactive", ri, b)
			}
			if prev, dup := seen[b]; dup {
				return fmt.Errorf("building %d assigned to routes %d and %d", b, prev, ri)
			}
			seen[b] = ri
		}
	}

	uf := g.Components()
	roots := make(map[uint32]bool)
	for _, i := range g.ActiveStartPoints() {
		roots[uf.Find(g.StartPoints[i].Node)] = true
	}
	for _, b := range g.ActiveBuildings() {
		if !roots[uf.Find(b)] {
			continue
		}
		if _, ok := seen[g.Nodes[b].ID]; !ok {
			return fmt.Errorf("building %d is not assigned", g.Nodes[b].ID)
		}
	}
	return nil
}

// plan is the annealer's working form of a Solution: terminal indices
// instead of node ids, and a cached length per route.
type plan struct {
	routes  [][]int
	lengths []float64
}

func newPlan(k int) *plan {
	return &plan{routes: make([][]int, k), lengths: make([]float64, k)}
}

func (pl *plan) clone() *plan {
	c := &plan{routes: make([][]int, len(pl.routes)), lengths: append([]float64(nil), pl.lengths...)}
	for i, r := range pl.routes {
		c.routes[i] = append([]int(nil), r...)
	}
	return c
}

func (pl *plan) objective() float64 {
	var obj float64
	for _, l := range pl.lengths {
		obj = math.Max(obj, l)
	}
	return obj
}

// routeLength sums the legs of route r from its start terminal.
func (p *Problem) routeLength(r int, seq []int) float64 {
	var total float64
	prev := r
	for _, t := range seq {
		total += p.D(prev, t)
		prev = t
	}
	return total
}

// toSolution converts a plan back to node ids.
func (p *Problem) toSolution(pl *plan) *Solution {
	s := &Solution{Routes: make([]Route, p.k)}
	for r := range p.k {
		sp := p.g.StartPoints[p.starts[r]]
		buildings := make([]graph.NodeID, len(pl.routes[r]))
		for i, t := range pl.routes[r] {
			buildings[i] = p.ids[t]
		}
		s.Routes[r] = Route{
			StartID:   sp.ID,
			StartNode: p.ids[r],
			Buildings: buildings,
			Length:    pl.lengths[r],
			DisplayID: r + 1,
			Color:     palette[r%len(palette)],
		}
	}
	return s
}

// Repair is what fromSolution had to drop from a prior solution.
type Repair struct {
	Dropped []graph.NodeID // buildings no longer routable
	Orphans []graph.NodeID // routable buildings whose route vanished or broke
}

// fromSolution maps a prior solution onto this problem. Buildings that
// are no longer routable are dropped. Routes are matched to start points
// by start id; a route whose start point is gone orphans its buildings,
// as does a building whose leg from the route's start became unreachable.
// Orphans are left unvisited for extend.
func (p *Problem) fromSolution(prior *Solution) (*plan, Repair) {
	pl := newPlan(p.k)
	var rep Repair

	routeByStart := make(map[string]int, p.k)
	for r := range p.k {
		routeByStart[p.g.StartPoints[p.starts[r]].ID] = r
	}

	placed := make(map[int]bool)
	for _, old := range prior.Routes {
		r, ok := routeByStart[old.StartID]
		if ok && p.ids[r] != old.StartNode {
			ok = false // re-anchored start point
		}
		for _, b := range old.Buildings {
			t, routable := p.byID[b]
			switch {
			case !routable:
				rep.Dropped = append(rep.Dropped, b)
			case placed[t]:
			case !ok || math.IsInf(p.D(r, t), 1):
				rep.Orphans = append(rep.Orphans, b)
			default:
				pl.routes[r] = append(pl.routes[r], t)
				placed[t] = true
			}
		}
	}
	for r := range p.k {
		pl.lengths[r] = p.routeLength(r, pl.routes[r])
	}
	return pl, rep
}
