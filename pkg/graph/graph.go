package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable is returned when two nodes lie in disconnected parts
	// of the active graph.
	ErrUnreachable = errors.New("nodes are not connected by active edges")
	// ErrInactiveNode is returned when a query endpoint has been deactivated.
	ErrInactiveNode = errors.New("node is inactive")
	// ErrUnknownNode is returned for ids that are not part of the graph.
	ErrUnknownNode = errors.New("unknown node")
)

// NodeID identifies a node within one computation. OSM intersections keep
// their positive OSM id; buildings and connectors use negative ids.
type NodeID int64

// NodeKind is the role a node plays in the street/building network.
type NodeKind uint8

const (
	NodeIntersection NodeKind = iota
	NodeBuilding
	NodeConnector
)

var nodeKindNames = [...]string{"intersection", "building", "connector"}

func (k NodeKind) String() string {
	if int(k) < len(nodeKindNames) {
		return nodeKindNames[k]
	}
	return fmt.Sprintf("NodeKind(%d)", k)
}

// MarshalText encodes the kind as its lowercase name.
func (k NodeKind) MarshalText() ([]byte, error) {
	if int(k) >= len(nodeKindNames) {
		return nil, fmt.Errorf("invalid node kind %d", k)
	}
	return []byte(nodeKindNames[k]), nil
}

// UnmarshalText decodes a lowercase kind name.
func (k *NodeKind) UnmarshalText(b []byte) error {
	for i, name := range nodeKindNames {
		if string(b) == name {
			*k = NodeKind(i)
			return nil
		}
	}
	return fmt.Errorf("invalid node kind %q", b)
}

// EdgeKind distinguishes street segments from building connectors.
type EdgeKind uint8

const (
	EdgeStreet EdgeKind = iota
	EdgeConnector
)

var edgeKindNames = [...]string{"street", "connector"}

func (k EdgeKind) String() string {
	if int(k) < len(edgeKindNames) {
		return edgeKindNames[k]
	}
	return fmt.Sprintf("EdgeKind(%d)", k)
}

// MarshalText encodes the kind as its lowercase name.
func (k EdgeKind) MarshalText() ([]byte, error) {
	if int(k) >= len(edgeKindNames) {
		return nil, fmt.Errorf("invalid edge kind %d", k)
	}
	return []byte(edgeKindNames[k]), nil
}

// UnmarshalText decodes a lowercase kind name.
func (k *EdgeKind) UnmarshalText(b []byte) error {
	for i, name := range edgeKindNames {
		if string(b) == name {
			*k = EdgeKind(i)
			return nil
		}
	}
	return fmt.Errorf("invalid edge kind %q", b)
}

// Node is a vertex of the network.
type Node struct {
	ID   NodeID
	Lat  float64
	Lng  float64
	Kind NodeKind
}

// Edge is an undirected, weighted link between two node indices.
type Edge struct {
	Source uint32
	Target uint32
	Kind   EdgeKind
	Weight float64 // meters
}

// Facility is a responder facility known to the graph source (fire station).
type Facility struct {
	ID   string
	Name string
	Lat  float64
	Lng  float64
}

// StartPoint anchors one route at a graph node.
type StartPoint struct {
	ID     string
	Name   string
	Lat    float64
	Lng    float64
	Node   uint32
	Active bool
}

// Graph stores nodes and edges in stable-indexed arenas with a CSR
// adjacency. Deactivation flips bits; nothing is ever physically removed,
// so indices stay valid for the lifetime of the graph.
type Graph struct {
	Nodes []Node
	Edges []Edge

	// FirstOut[i]..FirstOut[i+1] index AdjHead/AdjEdge for node i.
	FirstOut []uint32
	AdjHead  []uint32
	AdjEdge  []uint32

	Facilities  []Facility
	StartPoints []StartPoint

	nodeActive Bitset
	edgeActive Bitset
	epoch      uint64
	index      map[NodeID]uint32
	spatial    *SpatialIndex
}

// newGraph builds the CSR adjacency and lookup structures. Callers must
// pass edges whose endpoints are valid indices into nodes.
func newGraph(nodes []Node, edges []Edge) *Graph {
	n := uint32(len(nodes))

	firstOut := make([]uint32, n+1)
	for _, e := range edges {
		firstOut[e.Source+1]++
		firstOut[e.Target+1]++
	}
	for i := uint32(1); i <= n; i++ {
		firstOut[i] += firstOut[i-1]
	}

	adjHead := make([]uint32, 2*len(edges))
	adjEdge := make([]uint32, 2*len(edges))
	pos := make([]uint32, n)
	copy(pos, firstOut[:n])
	for i, e := range edges {
		adjHead[pos[e.Source]] = e.Target
		adjEdge[pos[e.Source]] = uint32(i)
		pos[e.Source]++
		adjHead[pos[e.Target]] = e.Source
		adjEdge[pos[e.Target]] = uint32(i)
		pos[e.Target]++
	}

	index := make(map[NodeID]uint32, n)
	for i, nd := range nodes {
		index[nd.ID] = uint32(i)
	}

	g := &Graph{
		Nodes:      nodes,
		Edges:      edges,
		FirstOut:   firstOut,
		AdjHead:    adjHead,
		AdjEdge:    adjEdge,
		nodeActive: NewBitset(len(nodes), true),
		edgeActive: NewBitset(len(edges), true),
		index:      index,
	}
	g.spatial = newSpatialIndex(nodes)
	return g
}

// NumNodes returns the number of stored nodes, active or not.
func (g *Graph) NumNodes() int { return len(g.Nodes) }

// NumEdges returns the number of stored edges, active or not.
func (g *Graph) NumEdges() int { return len(g.Edges) }

// Lookup returns the index of the node with the given id.
func (g *Graph) Lookup(id NodeID) (uint32, bool) {
	i, ok := g.index[id]
	return i, ok
}

// MustLookup is Lookup for ids known to exist.
func (g *Graph) MustLookup(id NodeID) uint32 {
	i, ok := g.index[id]
	if !ok {
		panic(fmt.Sprintf("graph: unknown node id %d", id))
	}
	return i
}

// AdjacentFrom returns the adjacency slot range for node u.
func (g *Graph) AdjacentFrom(u uint32) (start, end uint32) {
	return g.FirstOut[u], g.FirstOut[u+1]
}

// NodeActive reports whether node i is usable.
func (g *Graph) NodeActive(i uint32) bool { return g.nodeActive.Get(int(i)) }

// EdgeActive reports whether edge e is usable.
func (g *Graph) EdgeActive(e uint32) bool { return g.edgeActive.Get(int(e)) }

// ActiveNodeCount returns the number of active nodes.
func (g *Graph) ActiveNodeCount() int { return g.nodeActive.Count() }

// ActiveEdgeCount returns the number of active edges.
func (g *Graph) ActiveEdgeCount() int { return g.edgeActive.Count() }

// Epoch counts mutation batches that changed the active set.
func (g *Graph) Epoch() uint64 { return g.epoch }

// Spatial returns the node spatial index.
func (g *Graph) Spatial() *SpatialIndex { return g.spatial }

// DeactivateNodes marks nodes inactive together with every incident edge
// and any start point anchored on them. It returns the indices that were
// active before the call.
func (g *Graph) DeactivateNodes(nodes ...uint32) []uint32 {
	var changed []uint32
	for _, u := range nodes {
		if !g.nodeActive.Get(int(u)) {
			continue
		}
		g.nodeActive.Clear(int(u))
		changed = append(changed, u)

		start, end := g.AdjacentFrom(u)
		for s := start; s < end; s++ {
			g.edgeActive.Clear(int(g.AdjEdge[s]))
		}
	}
	if len(changed) == 0 {
		return nil
	}
	for i := range g.StartPoints {
		if g.StartPoints[i].Active && !g.nodeActive.Get(int(g.StartPoints[i].Node)) {
			g.StartPoints[i].Active = false
		}
	}
	g.epoch++
	return changed
}

// DeactivateEdges marks edges inactive and returns the ones that changed.
func (g *Graph) DeactivateEdges(edges ...uint32) []uint32 {
	var changed []uint32
	for _, e := range edges {
		if !g.edgeActive.Get(int(e)) {
			continue
		}
		g.edgeActive.Clear(int(e))
		changed = append(changed, e)
	}
	if len(changed) > 0 {
		g.epoch++
	}
	return changed
}

// DeactivateStartPoint excludes start point i without touching its node.
func (g *Graph) DeactivateStartPoint(i int) bool {
	if !g.StartPoints[i].Active {
		return false
	}
	g.StartPoints[i].Active = false
	g.epoch++
	return true
}

// EdgeBetween returns the index of an edge joining a and b.
func (g *Graph) EdgeBetween(a, b uint32) (uint32, bool) {
	start, end := g.AdjacentFrom(a)
	for s := start; s < end; s++ {
		if g.AdjHead[s] == b {
			return g.AdjEdge[s], true
		}
	}
	return 0, false
}

// ActiveBuildings returns the indices of active building nodes in index order.
func (g *Graph) ActiveBuildings() []uint32 {
	var out []uint32
	for i, nd := range g.Nodes {
		if nd.Kind == NodeBuilding && g.nodeActive.Get(i) {
			out = append(out, uint32(i))
		}
	}
	return out
}

// ActiveStartPoints returns the indices (into StartPoints) of usable start points.
func (g *Graph) ActiveStartPoints() []int {
	var out []int
	for i, sp := range g.StartPoints {
		if sp.Active && g.nodeActive.Get(int(sp.Node)) {
			out = append(out, i)
		}
	}
	return out
}

// Clone returns a copy whose active state can be mutated independently.
// Node and edge arenas, adjacency and the spatial index are immutable
// after construction and are shared.
func (g *Graph) Clone() *Graph {
	c := *g
	c.nodeActive = g.nodeActive.Clone()
	c.edgeActive = g.edgeActive.Clone()
	c.StartPoints = append([]StartPoint(nil), g.StartPoints...)
	c.Facilities = append([]Facility(nil), g.Facilities...)
	return &c
}
