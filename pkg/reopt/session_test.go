package reopt_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fireroute/pkg/alloc"
	"fireroute/pkg/graph"
	"fireroute/pkg/hazard"
	"fireroute/pkg/reopt"
)

func testEngine() *alloc.Engine {
	cfg := alloc.DefaultConfig()
	cfg.Seed = 3
	cfg.Restarts = 2
	cfg.Workers = 2
	cfg.Schedule.MaxIterations = 4_000
	return alloc.NewEngine(cfg)
}

// town is a 5x5 grid of intersections ~111m apart with one building north
// of every intersection, and fire stations at two opposite corners.
func town(t *testing.T) *graph.Graph {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	b := graph.NewBuilder()
	const n = 5
	id := func(x, y int) graph.NodeID { return graph.NodeID(y*n + x + 1) }
	for y := range n {
		for x := range n {
			b.AddNode(id(x, y), graph.NodeIntersection, 1.0+float64(y)*0.001, 103.0+float64(x)*0.001)
		}
	}
	for y := range n {
		for x := range n {
			if x+1 < n {
				b.AddEdge(id(x, y), id(x+1, y), graph.EdgeStreet, 100+rng.Float64()*20)
			}
			if y+1 < n {
				b.AddEdge(id(x, y), id(x, y+1), graph.EdgeStreet, 100+rng.Float64()*20)
			}
		}
	}
	for y := range n {
		for x := range n {
			bid := -id(x, y)
			b.AddNode(bid, graph.NodeBuilding, 1.0+float64(y)*0.001+0.0002, 103.0+float64(x)*0.001)
			b.AddEdge(bid, id(x, y), graph.EdgeConnector, 22)
		}
	}
	b.AddStartPoint("fs-sw", "Station SW", id(0, 0)).
		AddStartPoint("fs-ne", "Station NE", id(n-1, n-1))
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func newSession(t *testing.T) (*reopt.Session, *alloc.Result) {
	t.Helper()
	s := reopt.NewSession(town(t), testEngine(), reopt.DefaultConfig())
	res, err := s.Allocate(context.Background(), nil)
	require.NoError(t, err)
	return s, res
}

func TestOperationsRequireAllocation(t *testing.T) {
	s := reopt.NewSession(town(t), testEngine(), reopt.DefaultConfig())
	ctx := context.Background()

	_, err := s.AddHazards(ctx, []hazard.Hazard{{Lat: 1, Lng: 103, Radius: 10}})
	assert.ErrorIs(t, err, reopt.ErrNoSolution)
	_, err = s.DeleteNodes(ctx, []graph.NodeID{1})
	assert.ErrorIs(t, err, reopt.ErrNoSolution)
	_, err = s.ClearHazards(ctx)
	assert.ErrorIs(t, err, reopt.ErrNoSolution)
	assert.Nil(t, s.Snapshot().Result)
}

func TestAddHazardsRepairsSolution(t *testing.T) {
	s, first := newSession(t)
	require.Len(t, first.Solution.RouteOf(), 25)

	// Burn the center block: intersection 13 at (2,2) and its building.
	res, err := s.AddHazards(context.Background(), []hazard.Hazard{{Lat: 1.002, Lng: 103.002, Radius: 40}})
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.ElementsMatch(t, []graph.NodeID{13, -13}, snap.Report.Nodes)
	assert.Equal(t, []graph.NodeID{-13}, res.Repair.Dropped)

	assigned := res.Solution.RouteOf()
	assert.NotContains(t, assigned, graph.NodeID(-13))
	assert.Len(t, assigned, 24)
	require.NoError(t, res.Solution.Validate(snap.Graph))
	assert.Len(t, snap.Hazards, 1)
	assert.Greater(t, res.Epoch, first.Epoch)
}

func TestAddHazardsRejectsInvalidRadius(t *testing.T) {
	s, first := newSession(t)
	_, err := s.AddHazards(context.Background(), []hazard.Hazard{{Lat: 1.002, Lng: 103.002, Radius: 0}})
	require.ErrorIs(t, err, hazard.ErrInvalidRadius)

	snap := s.Snapshot()
	assert.Same(t, first, snap.Result)
	assert.Empty(t, snap.Hazards)
	assert.Equal(t, snap.Graph.NumNodes(), snap.Graph.ActiveNodeCount())
}

func TestIrrelevantMutationKeepsObjective(t *testing.T) {
	s, first := newSession(t)

	// A hazard far outside the town changes nothing.
	res, err := s.AddHazards(context.Background(), []hazard.Hazard{{Lat: 1.5, Lng: 103.5, Radius: 100}})
	require.NoError(t, err)
	assert.Empty(t, res.Repair.Dropped)
	assert.Empty(t, res.Repair.Orphans)
	assert.LessOrEqual(t, res.Solution.Objective(), first.Solution.Objective())
}

func TestLostStartPointHandsBuildingsToOthers(t *testing.T) {
	s, _ := newSession(t)

	// Burn the NE station's intersection.
	res, err := s.AddHazards(context.Background(), []hazard.Hazard{{Lat: 1.004, Lng: 103.004, Radius: 30}})
	require.NoError(t, err)

	require.Len(t, res.Solution.Routes, 1)
	assert.Equal(t, "fs-sw", res.Solution.Routes[0].StartID)
	assert.NotEmpty(t, res.Repair.Orphans)
	// 25 buildings; the one at the burned corner is gone.
	assert.Len(t, res.Solution.Routes[0].Buildings, 24)
	require.NoError(t, res.Solution.Validate(s.Snapshot().Graph))
}

func TestAllStartPointsLost(t *testing.T) {
	s, first := newSession(t)
	ctx := context.Background()
	_, err := s.AddHazards(ctx, []hazard.Hazard{
		{Lat: 1.0, Lng: 103.0, Radius: 30},
		{Lat: 1.004, Lng: 103.004, Radius: 30},
	})
	require.ErrorIs(t, err, alloc.ErrNoActiveStartPoints)

	// The failed pass is not committed.
	snap := s.Snapshot()
	assert.Same(t, first, snap.Result)
	assert.Empty(t, snap.Hazards)
	assert.Equal(t, snap.Graph.NumNodes(), snap.Graph.ActiveNodeCount())

	_, err = s.AddHazards(ctx, []hazard.Hazard{{Lat: 1.0, Lng: 103.0, Radius: 30}})
	require.NoError(t, err)
}

func TestDeleteAndRestoreNodes(t *testing.T) {
	s, _ := newSession(t)
	ctx := context.Background()

	res, err := s.DeleteNodes(ctx, []graph.NodeID{-7})
	require.NoError(t, err)
	assert.NotContains(t, res.Solution.RouteOf(), graph.NodeID(-7))

	_, err = s.DeleteNodes(ctx, []graph.NodeID{9999})
	require.ErrorIs(t, err, graph.ErrUnknownNode)

	res, err = s.RestoreNodes(ctx, []graph.NodeID{-7})
	require.NoError(t, err)
	assert.Contains(t, res.Solution.RouteOf(), graph.NodeID(-7))
	require.NoError(t, res.Solution.Validate(s.Snapshot().Graph))
}

func TestDeleteAndRestoreEdges(t *testing.T) {
	s, _ := newSession(t)
	ctx := context.Background()

	// Isolate building -25 by cutting its connector.
	res, err := s.DeleteEdges(ctx, []reopt.EdgeKey{reopt.NewEdgeKey(25, -25)})
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{-25}, res.Unassigned)
	assert.NotContains(t, res.Solution.RouteOf(), graph.NodeID(-25))

	_, err = s.DeleteEdges(ctx, []reopt.EdgeKey{reopt.NewEdgeKey(1, 25)})
	require.ErrorIs(t, err, reopt.ErrUnknownEdge)

	res, err = s.RestoreEdges(ctx, []reopt.EdgeKey{{A: -25, B: 25}})
	require.NoError(t, err)
	assert.Empty(t, res.Unassigned)
	assert.Contains(t, res.Solution.RouteOf(), graph.NodeID(-25))
}

func TestClearHazardsRestoresBuildings(t *testing.T) {
	s, _ := newSession(t)
	ctx := context.Background()

	_, err := s.AddHazards(ctx, []hazard.Hazard{{Lat: 1.002, Lng: 103.002, Radius: 40}})
	require.NoError(t, err)

	res, err := s.ClearHazards(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Solution.RouteOf(), 25)
	assert.Empty(t, s.Snapshot().Hazards)
}

func TestReseedIsCold(t *testing.T) {
	s, first := newSession(t)
	res, err := s.Reseed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Solution, res.Solution)
	assert.Equal(t, first.Stats, res.Stats)
}

func TestReframeDropsMissingBuildings(t *testing.T) {
	s, _ := newSession(t)

	// The new region only covers the bottom two rows.
	src := town(t)
	smaller := graph.Crop(src, cropBound(0.9995, 1.0015))
	res, err := s.Reframe(context.Background(), smaller)
	require.NoError(t, err)

	assert.Len(t, res.Solution.RouteOf(), 10)
	require.NoError(t, res.Solution.Validate(s.Snapshot().Graph))
}

func cropBound(minLat, maxLat float64) orb.Bound {
	return orb.Bound{Min: orb.Point{102.99, minLat}, Max: orb.Point{103.01, maxLat}}
}

func TestSessionSerializesPasses(t *testing.T) {
	s, _ := newSession(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lng := 103.0 + float64(i)*0.001
			_, err := s.AddHazards(ctx, []hazard.Hazard{{Lat: 1.002, Lng: lng, Radius: 10}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Len(t, snap.Hazards, 4)
	require.NoError(t, snap.Result.Solution.Validate(snap.Graph))
}

func TestSetHazardsReplacesList(t *testing.T) {
	s, _ := newSession(t)
	ctx := context.Background()

	_, err := s.AddHazards(ctx, []hazard.Hazard{{Lat: 1.002, Lng: 103.002, Radius: 40}})
	require.NoError(t, err)

	// Move the fire to the west edge: the center block comes back.
	res, err := s.SetHazards(ctx, []hazard.Hazard{{Lat: 1.002, Lng: 103.0, Radius: 40}})
	require.NoError(t, err)

	assigned := res.Solution.RouteOf()
	assert.Contains(t, assigned, graph.NodeID(-13))
	assert.NotContains(t, assigned, graph.NodeID(-11))
	assert.Len(t, s.Snapshot().Hazards, 1)
}

func TestEditBatch(t *testing.T) {
	s, _ := newSession(t)
	ctx := context.Background()

	res, err := s.Edit(ctx, reopt.Edits{
		DeleteNodes: []graph.NodeID{-3, -4},
		DeleteEdges: []reopt.EdgeKey{reopt.NewEdgeKey(-25, 25)},
	})
	require.NoError(t, err)
	assigned := res.Solution.RouteOf()
	assert.NotContains(t, assigned, graph.NodeID(-3))
	assert.NotContains(t, assigned, graph.NodeID(-4))
	assert.Equal(t, []graph.NodeID{-25}, res.Unassigned)

	// Restores run before deletions within one batch.
	res, err = s.Edit(ctx, reopt.Edits{
		RestoreNodes: []graph.NodeID{-3, -4},
		DeleteNodes:  []graph.NodeID{-4},
		RestoreEdges: []reopt.EdgeKey{{A: 25, B: -25}},
	})
	require.NoError(t, err)
	assigned = res.Solution.RouteOf()
	assert.Contains(t, assigned, graph.NodeID(-3))
	assert.NotContains(t, assigned, graph.NodeID(-4))
	assert.Empty(t, res.Unassigned)
	require.NoError(t, res.Solution.Validate(s.Snapshot().Graph))
}

func TestEditRejectsUnknownWithoutChanges(t *testing.T) {
	s, first := newSession(t)
	_, err := s.Edit(context.Background(), reopt.Edits{
		DeleteNodes: []graph.NodeID{-3, 4242},
	})
	require.ErrorIs(t, err, graph.ErrUnknownNode)

	snap := s.Snapshot()
	assert.Same(t, first, snap.Result)
	assert.Equal(t, snap.Graph.NumNodes(), snap.Graph.ActiveNodeCount())
}

func TestAllocateWithHazardsDeterministic(t *testing.T) {
	hazards := []hazard.Hazard{
		{Lat: 1.002, Lng: 103.002, Radius: 40},
		{Lat: 1.0042, Lng: 103.0, Radius: 15},
	}
	run := func() (*alloc.Result, *alloc.Result) {
		s := reopt.NewSession(town(t), testEngine(), reopt.DefaultConfig())
		cold, err := s.Allocate(context.Background(), hazards)
		require.NoError(t, err)
		warm, err := s.AddHazards(context.Background(), []hazard.Hazard{{Lat: 1.0, Lng: 103.004, Radius: 30}})
		require.NoError(t, err)
		return cold, warm
	}

	cold1, warm1 := run()
	cold2, warm2 := run()
	assert.NotContains(t, cold1.Solution.RouteOf(), graph.NodeID(-13))
	assert.Equal(t, cold1.Solution, cold2.Solution)
	assert.Equal(t, cold1.Unassigned, cold2.Unassigned)
	assert.Equal(t, warm1.Solution, warm2.Solution)
	assert.Equal(t, warm1.Repair, warm2.Repair)
}
