// Package reopt keeps an allocation valid while the world changes. A
// Session owns one graph and its last accepted solution; every change
// (hazards, manual edits, a new region) re-filters the graph and runs a
// short reheated annealing pass seeded with the previous solution.
package reopt

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"fireroute/pkg/alloc"
	"fireroute/pkg/graph"
	"fireroute/pkg/hazard"
)

var (
	// ErrNoSolution is returned when a change arrives before the first allocation.
	ErrNoSolution = errors.New("session has no allocation yet")
	// ErrUnknownEdge is returned for edge edits naming no edge of the source graph.
	ErrUnknownEdge = errors.New("unknown edge")
)

// Config tunes re-optimization passes.
type Config struct {
	// ReheatFraction scales the first run's initial temperature.
	ReheatFraction   float64
	ReheatIterations int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReheatFraction:   0.15,
		ReheatIterations: 5_000,
	}
}

// EdgeKey names an undirected edge by its endpoint ids, smaller id first.
type EdgeKey struct {
	A, B graph.NodeID
}

// NewEdgeKey orders a and b.
func NewEdgeKey(a, b graph.NodeID) EdgeKey {
	if b < a {
		a, b = b, a
	}
	return EdgeKey{A: a, B: b}
}

// Session is the per-request state machine. All operations are
// serialized; a pass runs to completion before the next one starts. A
// failed pass leaves the session exactly as it was.
type Session struct {
	mu sync.Mutex

	engine *alloc.Engine
	cfg    Config

	source       *graph.Graph
	work         *graph.Graph
	hazards      []hazard.Hazard
	deletedNodes map[graph.NodeID]struct{}
	deletedEdges map[EdgeKey]struct{}

	last    *alloc.Result
	t0      float64
	lastRep hazard.Report
}

// state is a candidate for the session's mutable fields. Passes build
// one, optimize on it, and commit it only when the optimizer succeeded.
type state struct {
	source       *graph.Graph
	work         *graph.Graph
	hazards      []hazard.Hazard
	deletedNodes map[graph.NodeID]struct{}
	deletedEdges map[EdgeKey]struct{}
	report       hazard.Report
}

// NewSession takes ownership of source, which must already carry its start
// points and must not be mutated afterwards.
func NewSession(source *graph.Graph, engine *alloc.Engine, cfg Config) *Session {
	def := DefaultConfig()
	if cfg.ReheatFraction <= 0 || cfg.ReheatFraction > 1 {
		cfg.ReheatFraction = def.ReheatFraction
	}
	if cfg.ReheatIterations <= 0 {
		cfg.ReheatIterations = def.ReheatIterations
	}
	return &Session{
		engine:       engine,
		cfg:          cfg,
		source:       source,
		work:         source.Clone(),
		deletedNodes: make(map[graph.NodeID]struct{}),
		deletedEdges: make(map[EdgeKey]struct{}),
	}
}

// Allocate runs the cold pipeline with the given hazards, replacing any
// earlier hazards.
func (s *Session) Allocate(ctx context.Context, hazards []hazard.Hazard) (*alloc.Result, error) {
	if err := hazard.ValidateAll(hazards); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.draft()
	st.hazards = append([]hazard.Hazard(nil), hazards...)
	return s.cold(ctx, st)
}

// Reseed discards the current solution and allocates from scratch on the
// current graph state.
func (s *Session) Reseed(ctx context.Context) (*alloc.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cold(ctx, s.draft())
}

// AddHazards filters the working graph with more hazards and re-optimizes.
func (s *Session) AddHazards(ctx context.Context, hazards []hazard.Hazard) (*alloc.Result, error) {
	if err := hazard.ValidateAll(hazards); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, ErrNoSolution
	}

	st := s.draft()
	st.work = s.work.Clone()
	rep, err := hazard.Apply(st.work, hazards)
	if err != nil {
		return nil, err
	}
	st.hazards = append(st.hazards, hazards...)
	st.report = rep
	return s.warm(ctx, st)
}

// ClearHazards drops every hazard, rebuilds the graph from the source and
// re-optimizes.
func (s *Session) ClearHazards(ctx context.Context) (*alloc.Result, error) {
	return s.SetHazards(ctx, nil)
}

// SetHazards replaces the hazard list, rebuilds the graph from the source
// and re-optimizes. Hazards that disappeared give their nodes back.
func (s *Session) SetHazards(ctx context.Context, hazards []hazard.Hazard) (*alloc.Result, error) {
	if err := hazard.ValidateAll(hazards); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, ErrNoSolution
	}

	st := s.draft()
	st.hazards = append([]hazard.Hazard(nil), hazards...)
	if err := st.rebuild(); err != nil {
		return nil, err
	}
	return s.warm(ctx, st)
}

// DeleteNodes removes nodes by id and re-optimizes. Unknown ids are an
// error and nothing changes.
func (s *Session) DeleteNodes(ctx context.Context, ids []graph.NodeID) (*alloc.Result, error) {
	return s.Edit(ctx, Edits{DeleteNodes: ids})
}

// DeleteEdges removes edges by endpoint pair and re-optimizes.
func (s *Session) DeleteEdges(ctx context.Context, keys []EdgeKey) (*alloc.Result, error) {
	return s.Edit(ctx, Edits{DeleteEdges: keys})
}

// RestoreNodes undoes DeleteNodes. Nodes inside a hazard stay inactive.
func (s *Session) RestoreNodes(ctx context.Context, ids []graph.NodeID) (*alloc.Result, error) {
	return s.Edit(ctx, Edits{RestoreNodes: ids})
}

// RestoreEdges undoes DeleteEdges.
func (s *Session) RestoreEdges(ctx context.Context, keys []EdgeKey) (*alloc.Result, error) {
	return s.Edit(ctx, Edits{RestoreEdges: keys})
}

// Edits is a batch of manual changes applied in one pass. Restores are
// applied before deletions, so an id named in both ends up deleted.
type Edits struct {
	DeleteNodes  []graph.NodeID
	RestoreNodes []graph.NodeID
	DeleteEdges  []EdgeKey
	RestoreEdges []EdgeKey
}

// Edit applies a batch of manual changes and re-optimizes once. Unknown
// node ids or edges in the deletions reject the whole batch.
func (s *Session) Edit(ctx context.Context, e Edits) (*alloc.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, ErrNoSolution
	}

	nodes := make([]uint32, 0, len(e.DeleteNodes))
	for _, id := range e.DeleteNodes {
		i, ok := s.source.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("delete node %d: %w", id, graph.ErrUnknownNode)
		}
		nodes = append(nodes, i)
	}
	edges := make([]uint32, 0, len(e.DeleteEdges))
	for _, k := range e.DeleteEdges {
		i, ok := s.edgeIndex(k)
		if !ok {
			return nil, fmt.Errorf("delete edge %d-%d: %w", k.A, k.B, ErrUnknownEdge)
		}
		edges = append(edges, i)
	}

	st := s.draft()
	st.deletedNodes = maps.Clone(s.deletedNodes)
	st.deletedEdges = maps.Clone(s.deletedEdges)
	for _, id := range e.RestoreNodes {
		delete(st.deletedNodes, id)
	}
	for _, k := range e.RestoreEdges {
		delete(st.deletedEdges, NewEdgeKey(k.A, k.B))
	}
	for _, id := range e.DeleteNodes {
		st.deletedNodes[id] = struct{}{}
	}
	for _, k := range e.DeleteEdges {
		st.deletedEdges[NewEdgeKey(k.A, k.B)] = struct{}{}
	}

	// Deletions only switch things off and can be applied to a copy of the
	// working graph; restores need a rebuild from the source.
	if len(e.RestoreNodes) > 0 || len(e.RestoreEdges) > 0 {
		if err := st.rebuild(); err != nil {
			return nil, err
		}
	} else {
		st.work = s.work.Clone()
		st.work.DeactivateNodes(nodes...)
		st.work.DeactivateEdges(edges...)
		st.report = hazard.Report{Epoch: st.work.Epoch()}
	}
	return s.warm(ctx, st)
}

// Reframe swaps in a new source graph, e.g. after the region moved. Edits
// and hazards carry over; the previous solution seeds the new one by
// start point id.
func (s *Session) Reframe(ctx context.Context, source *graph.Graph) (*alloc.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.draft()
	st.source = source
	if s.last == nil {
		return s.cold(ctx, st)
	}
	if err := st.rebuild(); err != nil {
		return nil, err
	}
	return s.warm(ctx, st)
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	Graph   *graph.Graph // private clone of the working graph
	Result  *alloc.Result
	Hazards []hazard.Hazard
	Report  hazard.Report // hazard changes of the latest pass
}

// Snapshot returns the current state. Result is nil before the first allocation.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Graph:   s.work.Clone(),
		Result:  s.last,
		Hazards: append([]hazard.Hazard(nil), s.hazards...),
		Report:  s.lastRep,
	}
}

// draft starts a candidate state sharing the current fields. Callers
// replace whatever they change instead of mutating shared values.
func (s *Session) draft() *state {
	return &state{
		source:       s.source,
		work:         s.work,
		hazards:      s.hazards,
		deletedNodes: s.deletedNodes,
		deletedEdges: s.deletedEdges,
		report:       s.lastRep,
	}
}

func (s *Session) commit(st *state, res *alloc.Result) {
	s.source = st.source
	s.work = st.work
	s.hazards = st.hazards
	s.deletedNodes = st.deletedNodes
	s.deletedEdges = st.deletedEdges
	s.lastRep = st.report
	s.last = res
}

// cold rebuilds st from its source and runs the full pipeline.
func (s *Session) cold(ctx context.Context, st *state) (*alloc.Result, error) {
	if err := st.rebuild(); err != nil {
		return nil, err
	}
	res, err := s.engine.Allocate(ctx, st.work)
	if err != nil {
		return nil, err
	}
	s.commit(st, res)
	s.t0 = res.Stats.InitialTemperature
	return res, nil
}

// warm is the re-optimization pass: repair, extend, reheated anneal.
func (s *Session) warm(ctx context.Context, st *state) (*alloc.Result, error) {
	sched := s.engine.Config().Schedule
	sched.InitialTemperature = s.cfg.ReheatFraction * s.t0
	sched.MaxIterations = s.cfg.ReheatIterations
	sched.TimeBudget = 0

	res, err := s.engine.Reoptimize(ctx, st.work, s.last.Solution, sched)
	if err != nil {
		return nil, err
	}
	s.commit(st, res)
	return res, nil
}

// rebuild derives the working graph from the source, the manual edits
// and the hazards.
func (st *state) rebuild() error {
	w := st.source.Clone()

	var nodes []uint32
	for id := range st.deletedNodes {
		if i, ok := w.Lookup(id); ok {
			nodes = append(nodes, i)
		}
	}
	slices.Sort(nodes)
	w.DeactivateNodes(nodes...)

	keys := slices.SortedFunc(maps.Keys(st.deletedEdges), func(a, b EdgeKey) int {
		return cmp.Or(cmp.Compare(a.A, b.A), cmp.Compare(a.B, b.B))
	})
	var edges []uint32
	for _, k := range keys {
		a, okA := w.Lookup(k.A)
		b, okB := w.Lookup(k.B)
		if !okA || !okB {
			continue
		}
		if e, ok := w.EdgeBetween(a, b); ok {
			edges = append(edges, e)
		}
	}
	w.DeactivateEdges(edges...)

	rep, err := hazard.Apply(w, st.hazards)
	if err != nil {
		return err
	}
	st.work = w
	st.report = rep
	return nil
}

func (s *Session) edgeIndex(k EdgeKey) (uint32, bool) {
	a, okA := s.source.Lookup(k.A)
	b, okB := s.source.Lookup(k.B)
	if !okA || !okB {
		return 0, false
	}
	return s.source.EdgeBetween(a, b)
}
