package hazard_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fireroute/pkg/geo"
	"fireroute/pkg/graph"
	"fireroute/pkg/hazard"
)

// street builds station(1) - 2 - 3 - 4 along a line with buildings
// hanging off nodes 2 and 4. Consecutive nodes are ~111m apart.
func street(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.NewBuilder().
		AddNode(1, graph.NodeIntersection, 1.0, 103.000).
		AddNode(2, graph.NodeIntersection, 1.0, 103.001).
		AddNode(3, graph.NodeIntersection, 1.0, 103.002).
		AddNode(4, graph.NodeIntersection, 1.0, 103.003).
		AddNode(-1, graph.NodeBuilding, 1.0001, 103.001).
		AddNode(-2, graph.NodeBuilding, 1.0001, 103.003).
		AddEdge(1, 2, graph.EdgeStreet, 111).
		AddEdge(2, 3, graph.EdgeStreet, 111).
		AddEdge(3, 4, graph.EdgeStreet, 111).
		AddEdge(2, -1, graph.EdgeConnector, 11).
		AddEdge(4, -2, graph.EdgeConnector, 11).
		AddStartPoint("fs1", "Station 1", 1).
		Build()
	require.NoError(t, err)
	return g
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		h    hazard.Hazard
		err  error
	}{
		{"ok", hazard.Hazard{Lat: 1, Lng: 103, Radius: 10}, nil},
		{"zero radius", hazard.Hazard{Lat: 1, Lng: 103, Radius: 0}, hazard.ErrInvalidRadius},
		{"negative radius", hazard.Hazard{Lat: 1, Lng: 103, Radius: -5}, hazard.ErrInvalidRadius},
		{"NaN radius", hazard.Hazard{Lat: 1, Lng: 103, Radius: math.NaN()}, hazard.ErrInvalidRadius},
		{"infinite radius", hazard.Hazard{Lat: 1, Lng: 103, Radius: math.Inf(1)}, hazard.ErrInvalidRadius},
		{"bad latitude", hazard.Hazard{Lat: 91, Lng: 103, Radius: 10}, hazard.ErrInvalidCenter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.h.Validate()
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestApplyDeactivatesNodesInRadius(t *testing.T) {
	g := street(t)

	// Centered on node 4: catches 4 and building -2 (~11m), not 3 (~111m).
	rep, err := hazard.Apply(g, []hazard.Hazard{{Lat: 1.0, Lng: 103.003, Radius: 50}})
	require.NoError(t, err)

	assert.Equal(t, []graph.NodeID{4, -2}, rep.Nodes)
	assert.Equal(t, []graph.NodeID{-2}, rep.Buildings)
	assert.Equal(t, 2, rep.Edges) // 3-4 and 4-(-2)
	assert.Empty(t, rep.StartPoints)
	assert.True(t, rep.Changed())
	assert.Equal(t, g.Epoch(), rep.Epoch)

	buildings := g.ActiveBuildings()
	require.Len(t, buildings, 1)
	assert.Equal(t, graph.NodeID(-1), g.Nodes[buildings[0]].ID)

	_, err = g.Distance(g.MustLookup(1), g.MustLookup(-2))
	assert.ErrorIs(t, err, graph.ErrInactiveNode)
}

func TestApplyIsIdempotent(t *testing.T) {
	g := street(t)
	hz := []hazard.Hazard{{Lat: 1.0, Lng: 103.003, Radius: 50}}

	_, err := hazard.Apply(g, hz)
	require.NoError(t, err)
	epoch := g.Epoch()
	active := g.ActiveNodeCount()

	rep, err := hazard.Apply(g, hz)
	require.NoError(t, err)
	assert.False(t, rep.Changed())
	assert.Zero(t, rep.Edges)
	assert.Equal(t, epoch, g.Epoch())
	assert.Equal(t, active, g.ActiveNodeCount())
}

func TestApplyBoundaryIsInside(t *testing.T) {
	g := street(t)
	n2 := g.Nodes[g.MustLookup(2)]
	n3 := g.Nodes[g.MustLookup(3)]
	// Radius exactly reaches node 2.
	h := hazard.Hazard{Lat: n3.Lat, Lng: n3.Lng, Radius: geo.Haversine(n3.Lat, n3.Lng, n2.Lat, n2.Lng)}
	require.True(t, h.Contains(n2.Lat, n2.Lng))

	_, err := hazard.Apply(g, []hazard.Hazard{h})
	require.NoError(t, err)
	assert.False(t, g.NodeActive(g.MustLookup(2)))
	assert.False(t, g.NodeActive(g.MustLookup(3)))
	assert.True(t, g.NodeActive(g.MustLookup(1)))
}

func TestApplyValidatesBeforeMutating(t *testing.T) {
	g := street(t)
	_, err := hazard.Apply(g, []hazard.Hazard{
		{Lat: 1.0, Lng: 103.003, Radius: 50},
		{Lat: 1.0, Lng: 103.0, Radius: -1},
	})
	require.ErrorIs(t, err, hazard.ErrInvalidRadius)
	assert.Equal(t, g.NumNodes(), g.ActiveNodeCount())
	assert.Zero(t, g.Epoch())
}

func TestApplyExcludesStartPoints(t *testing.T) {
	t.Run("anchor node burned", func(t *testing.T) {
		g := street(t)
		rep, err := hazard.Apply(g, []hazard.Hazard{{Lat: 1.0, Lng: 103.0, Radius: 20}})
		require.NoError(t, err)
		assert.Equal(t, []string{"fs1"}, rep.StartPoints)
		assert.Empty(t, g.ActiveStartPoints())
	})

	t.Run("facility inside hazard", func(t *testing.T) {
		g := street(t)
		// The facility sits 300m off the street; its anchor node stays clear.
		g.StartPoints[0].Lat = 1.0027
		rep, err := hazard.Apply(g, []hazard.Hazard{{Lat: 1.0027, Lng: 103.0, Radius: 100}})
		require.NoError(t, err)
		assert.Empty(t, rep.Nodes)
		assert.Equal(t, []string{"fs1"}, rep.StartPoints)
		assert.True(t, g.NodeActive(g.MustLookup(1)))
		assert.Empty(t, g.ActiveStartPoints())
	})
}

func TestApplyEmptyHazardList(t *testing.T) {
	g := street(t)
	rep, err := hazard.Apply(g, nil)
	require.NoError(t, err)
	assert.False(t, rep.Changed())
	assert.Equal(t, g.NumNodes(), g.ActiveNodeCount())
}
