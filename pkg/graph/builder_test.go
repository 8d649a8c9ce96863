package graph

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/osm"

	osmparser "fireroute/pkg/osm"
)

// lineGraph builds start(1) - A(-1) - B(-2) - C(-3) with unit weights.
func lineGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewBuilder().
		AddNode(1, NodeIntersection, 1.0, 103.0).
		AddNode(-1, NodeBuilding, 1.0, 103.001).
		AddNode(-2, NodeBuilding, 1.0, 103.002).
		AddNode(-3, NodeBuilding, 1.0, 103.003).
		AddEdge(1, -1, EdgeStreet, 1).
		AddEdge(-1, -2, EdgeStreet, 1).
		AddEdge(-2, -3, EdgeStreet, 1).
		AddStartPoint("s1", "Station 1", 1).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func TestBuilderLineGraph(t *testing.T) {
	g := lineGraph(t)

	if g.NumNodes() != 4 {
		t.Fatalf("NumNodes = %d, want 4", g.NumNodes())
	}
	if g.NumEdges() != 3 {
		t.Fatalf("NumEdges = %d, want 3", g.NumEdges())
	}
	if len(g.StartPoints) != 1 || !g.StartPoints[0].Active {
		t.Fatalf("StartPoints = %+v, want one active", g.StartPoints)
	}

	// Each undirected edge appears in both endpoints' adjacency.
	if got := len(g.AdjHead); got != 6 {
		t.Errorf("adjacency slots = %d, want 6", got)
	}
	start, end := g.AdjacentFrom(g.MustLookup(-1))
	if end-start != 2 {
		t.Errorf("degree of A = %d, want 2", end-start)
	}

	buildings := g.ActiveBuildings()
	if len(buildings) != 3 {
		t.Errorf("ActiveBuildings = %v, want 3 entries", buildings)
	}
}

func TestBuilderValidation(t *testing.T) {
	tests := []struct {
		name string
		b    *Builder
	}{
		{"duplicate node", NewBuilder().AddNode(1, NodeIntersection, 0, 0).AddNode(1, NodeBuilding, 0, 0)},
		{"missing endpoint", NewBuilder().AddNode(1, NodeIntersection, 0, 0).AddEdge(1, 2, EdgeStreet, 1)},
		{"negative weight", NewBuilder().AddNode(1, NodeIntersection, 0, 0).AddNode(2, NodeIntersection, 0, 0).AddEdge(1, 2, EdgeStreet, -1)},
		{"NaN weight", NewBuilder().AddNode(1, NodeIntersection, 0, 0).AddNode(2, NodeIntersection, 0, 0).AddEdge(1, 2, EdgeStreet, math.NaN())},
		{"self loop", NewBuilder().AddNode(1, NodeIntersection, 0, 0).AddEdge(1, 1, EdgeStreet, 1)},
		{"start on unknown node", NewBuilder().AddStartPoint("s", "", 9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.b.Build(); err == nil {
				t.Fatal("Build succeeded, want error")
			}
		})
	}

	_, err := NewBuilder().AddNode(1, NodeIntersection, 0, 0).AddEdge(1, 2, EdgeStreet, 1).Build()
	if !errors.Is(err, ErrInvalidEdge) {
		t.Errorf("err = %v, want ErrInvalidEdge", err)
	}
}

func TestBuildConnectsBuildings(t *testing.T) {
	// One east-west street with a building just north of its midpoint.
	result := &osmparser.ParseResult{
		Edges: []osmparser.RawEdge{
			{FromNodeID: 100, ToNodeID: 200, Meters: 1000},
		},
		NodeLat: map[osm.NodeID]float64{100: 1.0, 200: 1.0},
		NodeLon: map[osm.NodeID]float64{100: 103.0, 200: 103.01},
		Buildings: []osmparser.RawBuilding{
			{WayID: 7, Lat: 1.0002, Lng: 103.005},
		},
		Facilities: []osmparser.RawFacility{{ID: "way/9", Name: "Station 9", Lat: 1.0, Lng: 103.0}},
	}

	g, err := Build(result)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// 2 intersections + 1 building + 1 connector.
	if g.NumNodes() != 4 {
		t.Fatalf("NumNodes = %d, want 4", g.NumNodes())
	}
	// Street split in two + building connector.
	if g.NumEdges() != 3 {
		t.Fatalf("NumEdges = %d, want 3", g.NumEdges())
	}

	b, ok := g.Lookup(-1)
	if !ok || g.Nodes[b].Kind != NodeBuilding {
		t.Fatalf("building -1 missing or wrong kind")
	}
	c, ok := g.Lookup(-2)
	if !ok || g.Nodes[c].Kind != NodeConnector {
		t.Fatalf("connector -2 missing or wrong kind")
	}
	if math.Abs(g.Nodes[c].Lng-103.005) > 1e-6 || math.Abs(g.Nodes[c].Lat-1.0) > 1e-6 {
		t.Errorf("connector at (%f, %f), want (1.0, 103.005)", g.Nodes[c].Lat, g.Nodes[c].Lng)
	}

	var streetTotal float64
	for _, e := range g.Edges {
		switch e.Kind {
		case EdgeStreet:
			streetTotal += e.Weight
		case EdgeConnector:
			if math.Abs(e.Weight-22.2) > 1 {
				t.Errorf("connector weight = %f, want ~22m", e.Weight)
			}
		}
	}
	if math.Abs(streetTotal-1000) > 1e-6 {
		t.Errorf("split street total = %f, want 1000", streetTotal)
	}

	if len(g.Facilities) != 1 || g.Facilities[0].ID != "way/9" {
		t.Errorf("Facilities = %+v", g.Facilities)
	}
}

func TestBuildDropsDistantBuildings(t *testing.T) {
	result := &osmparser.ParseResult{
		Edges:   []osmparser.RawEdge{{FromNodeID: 1, ToNodeID: 2, Meters: 100}},
		NodeLat: map[osm.NodeID]float64{1: 1.0, 2: 1.0},
		NodeLon: map[osm.NodeID]float64{1: 103.0, 2: 103.001},
		Buildings: []osmparser.RawBuilding{
			{WayID: 1, Lat: 1.1, Lng: 103.0}, // ~11km north
		},
	}

	g, err := Build(result)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g.NumNodes() != 2 {
		t.Errorf("NumNodes = %d, want 2", g.NumNodes())
	}
	if len(g.ActiveBuildings()) != 0 {
		t.Errorf("ActiveBuildings = %v, want none", g.ActiveBuildings())
	}
}

func TestBuildDeduplicatesStreets(t *testing.T) {
	result := &osmparser.ParseResult{
		Edges: []osmparser.RawEdge{
			{FromNodeID: 1, ToNodeID: 2, Meters: 500},
			{FromNodeID: 2, ToNodeID: 1, Meters: 400},
		},
		NodeLat: map[osm.NodeID]float64{1: 1.0, 2: 1.1},
		NodeLon: map[osm.NodeID]float64{1: 103.0, 2: 103.1},
	}

	g, err := Build(result)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g.NumEdges() != 1 {
		t.Fatalf("NumEdges = %d, want 1", g.NumEdges())
	}
	if g.Edges[0].Weight != 400 {
		t.Errorf("weight = %f, want 400", g.Edges[0].Weight)
	}
}

func TestBuildEmptyGraph(t *testing.T) {
	result := &osmparser.ParseResult{
		NodeLat: map[osm.NodeID]float64{},
		NodeLon: map[osm.NodeID]float64{},
	}

	g, err := Build(result)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g.NumNodes() != 0 || g.NumEdges() != 0 {
		t.Errorf("got %d nodes, %d edges, want empty", g.NumNodes(), g.NumEdges())
	}
}

func TestKindText(t *testing.T) {
	for _, k := range []NodeKind{NodeIntersection, NodeBuilding, NodeConnector} {
		b, err := k.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d): %v", k, err)
		}
		var back NodeKind
		if err := back.UnmarshalText(b); err != nil || back != k {
			t.Errorf("round trip %q = %v, %v", b, back, err)
		}
	}

	var ek EdgeKind
	if err := ek.UnmarshalText([]byte("connector")); err != nil || ek != EdgeConnector {
		t.Errorf("UnmarshalText(connector) = %v, %v", ek, err)
	}
	if err := ek.UnmarshalText([]byte("river")); err == nil {
		t.Error("UnmarshalText(river) succeeded, want error")
	}
}
