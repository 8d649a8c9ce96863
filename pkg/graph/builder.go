package graph

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/paulmach/osm"
	"github.com/tidwall/rtree"

	"fireroute/pkg/geo"
	osmparser "fireroute/pkg/osm"
)

// MaxConnectorMeters bounds how far a building centroid may sit from the
// street it is attached to. Farther buildings are left out of the graph.
const MaxConnectorMeters = 500.0

// ErrInvalidEdge is returned by Builder for malformed edges.
var ErrInvalidEdge = errors.New("invalid edge")

// Builder assembles a Graph from explicit nodes and edges. The first error
// is kept and reported by Build; later calls become no-ops.
type Builder struct {
	nodes  []Node
	edges  []Edge
	index  map[NodeID]uint32
	starts []StartPoint
	err    error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{index: make(map[NodeID]uint32)}
}

// AddNode adds a node. Duplicate ids are an error.
func (b *Builder) AddNode(id NodeID, kind NodeKind, lat, lng float64) *Builder {
	if b.err != nil {
		return b
	}
	if _, dup := b.index[id]; dup {
		b.err = fmt.Errorf("duplicate node id %d", id)
		return b
	}
	b.index[id] = uint32(len(b.nodes))
	b.nodes = append(b.nodes, Node{ID: id, Lat: lat, Lng: lng, Kind: kind})
	return b
}

// AddEdge adds an undirected edge between two existing nodes.
func (b *Builder) AddEdge(from, to NodeID, kind EdgeKind, weight float64) *Builder {
	if b.err != nil {
		return b
	}
	u, okU := b.index[from]
	v, okV := b.index[to]
	switch {
	case !okU || !okV:
		b.err = fmt.Errorf("%w: %d-%d references a missing node", ErrInvalidEdge, from, to)
	case weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0):
		b.err = fmt.Errorf("%w: %d-%d has weight %v", ErrInvalidEdge, from, to, weight)
	case u == v:
		b.err = fmt.Errorf("%w: self loop on %d", ErrInvalidEdge, from)
	default:
		b.edges = append(b.edges, Edge{Source: u, Target: v, Kind: kind, Weight: weight})
	}
	return b
}

// AddStartPoint anchors a start point on an existing node.
func (b *Builder) AddStartPoint(id, name string, node NodeID) *Builder {
	if b.err != nil {
		return b
	}
	i, ok := b.index[node]
	if !ok {
		b.err = fmt.Errorf("start point %q: %w %d", id, ErrUnknownNode, node)
		return b
	}
	nd := b.nodes[i]
	b.starts = append(b.starts, StartPoint{ID: id, Name: name, Lat: nd.Lat, Lng: nd.Lng, Node: i})
	return b
}

// Build returns the assembled graph.
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	g := newGraph(b.nodes, b.edges)
	for _, sp := range b.starts {
		g.AttachStartPoint(sp)
	}
	return g, nil
}

// projection records where a building attaches to a street edge.
type projection struct {
	building uint32 // node index of the building
	edge     uint32 // index into street edges
	ratio    float64
	lat, lng float64
	meters   float64
}

// Build creates the routable graph from parsed OSM data: intersections
// joined by street edges, plus every building centroid linked to a
// connector node placed at its perpendicular foot on the nearest street.
// The street segment is split at each connector.
func Build(result *osmparser.ParseResult) (*Graph, error) {
	// Step 1: intersections and deduplicated street segments.
	var nodes []Node
	osmIndex := make(map[osm.NodeID]uint32)
	addStreetNode := func(id osm.NodeID) uint32 {
		if idx, ok := osmIndex[id]; ok {
			return idx
		}
		idx := uint32(len(nodes))
		osmIndex[id] = idx
		nodes = append(nodes, Node{
			ID:   NodeID(id),
			Lat:  result.NodeLat[id],
			Lng:  result.NodeLon[id],
			Kind: NodeIntersection,
		})
		return idx
	}

	type pairKey struct{ a, b uint32 }
	seen := make(map[pairKey]int)
	var streets []Edge
	for _, re := range result.Edges {
		u := addStreetNode(re.FromNodeID)
		v := addStreetNode(re.ToNodeID)
		if u == v {
			continue
		}
		k := pairKey{min(u, v), max(u, v)}
		if i, dup := seen[k]; dup {
			streets[i].Weight = math.Min(streets[i].Weight, re.Meters)
			continue
		}
		seen[k] = len(streets)
		streets = append(streets, Edge{Source: u, Target: v, Kind: EdgeStreet, Weight: re.Meters})
	}

	// Step 2: R-tree over street segment bounds for connector projection.
	var segTree rtree.RTreeG[uint32]
	for i, e := range streets {
		a, c := nodes[e.Source], nodes[e.Target]
		segTree.Insert(
			[2]float64{math.Min(a.Lng, c.Lng), math.Min(a.Lat, c.Lat)},
			[2]float64{math.Max(a.Lng, c.Lng), math.Max(a.Lat, c.Lat)},
			uint32(i),
		)
	}

	// Step 3: buildings and their projections.
	var projs []projection
	var tooFar int
	for i, rb := range result.Buildings {
		p, ok := nearestStreet(&segTree, nodes, streets, rb.Lat, rb.Lng)
		if !ok {
			tooFar++
			continue
		}
		p.building = uint32(len(nodes))
		nodes = append(nodes, Node{ID: NodeID(-(i + 1)), Lat: rb.Lat, Lng: rb.Lng, Kind: NodeBuilding})
		projs = append(projs, p)
	}
	if tooFar > 0 {
		log.Printf("Dropped %d buildings farther than %.0fm from any street", tooFar, MaxConnectorMeters)
	}

	// Step 4: split streets at connector feet.
	byEdge := make(map[uint32][]projection)
	for _, p := range projs {
		byEdge[p.edge] = append(byEdge[p.edge], p)
	}

	nextID := NodeID(-(len(result.Buildings) + 1))
	edges := make([]Edge, 0, len(streets)+3*len(projs))
	for i, e := range streets {
		attached := byEdge[uint32(i)]
		if len(attached) == 0 {
			edges = append(edges, e)
			continue
		}
		sort.SliceStable(attached, func(a, b int) bool { return attached[a].ratio < attached[b].ratio })

		prev, prevRatio := e.Source, 0.0
		for _, p := range attached {
			c := uint32(len(nodes))
			nodes = append(nodes, Node{ID: nextID, Lat: p.lat, Lng: p.lng, Kind: NodeConnector})
			nextID--

			edges = append(edges,
				Edge{Source: prev, Target: c, Kind: EdgeStreet, Weight: e.Weight * (p.ratio - prevRatio)},
				Edge{Source: p.building, Target: c, Kind: EdgeConnector, Weight: p.meters},
			)
			prev, prevRatio = c, p.ratio
		}
		edges = append(edges, Edge{Source: prev, Target: e.Target, Kind: EdgeStreet, Weight: e.Weight * (1 - prevRatio)})
	}

	g := newGraph(nodes, edges)
	for _, f := range result.Facilities {
		g.Facilities = append(g.Facilities, Facility{ID: f.ID, Name: f.Name, Lat: f.Lat, Lng: f.Lng})
	}
	return g, nil
}

// nearestStreet finds the street segment closest to a point within
// MaxConnectorMeters. Ties go to the lower edge index.
func nearestStreet(tr *rtree.RTreeG[uint32], nodes []Node, streets []Edge, lat, lng float64) (projection, bool) {
	b := geo.BoundAround(lat, lng, MaxConnectorMeters)

	best := projection{meters: math.Inf(1)}
	tr.Search(
		[2]float64{b.Min.Lon(), b.Min.Lat()},
		[2]float64{b.Max.Lon(), b.Max.Lat()},
		func(_, _ [2]float64, ei uint32) bool {
			e := streets[ei]
			a, c := nodes[e.Source], nodes[e.Target]
			pr := geo.ProjectOntoSegment(lat, lng, a.Lat, a.Lng, c.Lat, c.Lng)
			if pr.Dist < best.meters || (pr.Dist == best.meters && ei < best.edge) {
				best = projection{edge: ei, ratio: pr.Ratio, lat: pr.Lat, lng: pr.Lng, meters: pr.Dist}
			}
			return true
		},
	)
	if best.meters > MaxConnectorMeters {
		return projection{}, false
	}
	return best, true
}
