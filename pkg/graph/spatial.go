package graph

import (
	"errors"
	"math"

	"github.com/tidwall/rtree"

	"fireroute/pkg/geo"
)

// MaxSnapMeters bounds how far a start point may be from the network.
const MaxSnapMeters = 500.0

// ErrPointTooFar is returned when a coordinate is too far from any usable node.
var ErrPointTooFar = errors.New("point too far from network")

// SpatialIndex is an R-tree over node positions. Positions never change,
// so the index is built once and shared by clones.
type SpatialIndex struct {
	tree  rtree.RTreeG[uint32]
	nodes []Node
}

func newSpatialIndex(nodes []Node) *SpatialIndex {
	s := &SpatialIndex{nodes: nodes}
	for i, nd := range nodes {
		p := [2]float64{nd.Lng, nd.Lat}
		s.tree.Insert(p, p, uint32(i))
	}
	return s
}

// Within calls fn for every node whose great-circle distance to the
// center is at most radius meters. Iteration stops when fn returns false.
func (s *SpatialIndex) Within(lat, lng, radius float64, fn func(i uint32, meters float64) bool) {
	b := geo.BoundAround(lat, lng, radius)
	s.tree.Search(
		[2]float64{b.Min.Lon(), b.Min.Lat()},
		[2]float64{b.Max.Lon(), b.Max.Lat()},
		func(_, _ [2]float64, i uint32) bool {
			nd := s.nodes[i]
			d := geo.Haversine(lat, lng, nd.Lat, nd.Lng)
			if d > radius {
				return true
			}
			return fn(i, d)
		},
	)
}

// Nearest returns the closest node within maxMeters that satisfies accept.
// Ties go to the lower node index.
func (s *SpatialIndex) Nearest(lat, lng, maxMeters float64, accept func(i uint32) bool) (uint32, float64, bool) {
	best := uint32(0)
	bestDist := math.Inf(1)
	s.Within(lat, lng, maxMeters, func(i uint32, d float64) bool {
		if !accept(i) {
			return true
		}
		if d < bestDist || (d == bestDist && i < best) {
			best, bestDist = i, d
		}
		return true
	})
	return best, bestDist, !math.IsInf(bestDist, 1)
}

// AnchorStartPoint snaps a responder facility onto the nearest active
// street node and registers it as a start point. Buildings are never
// anchors. Returns the start point's index in StartPoints.
func (g *Graph) AnchorStartPoint(id, name string, lat, lng float64) (int, error) {
	node, _, ok := g.spatial.Nearest(lat, lng, MaxSnapMeters, func(i uint32) bool {
		return g.Nodes[i].Kind != NodeBuilding && g.NodeActive(i)
	})
	if !ok {
		return -1, ErrPointTooFar
	}
	return g.AttachStartPoint(StartPoint{ID: id, Name: name, Lat: lat, Lng: lng, Node: node}), nil
}

// AttachStartPoint registers a start point on a known node index.
func (g *Graph) AttachStartPoint(sp StartPoint) int {
	sp.Active = g.NodeActive(sp.Node)
	g.StartPoints = append(g.StartPoints, sp)
	return len(g.StartPoints) - 1
}
