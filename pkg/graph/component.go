package graph

import (
	"slices"

	"github.com/paulmach/orb"
)

// UnionFind implements a disjoint-set data structure with path compression
// and union by rank.
type UnionFind struct {
	parent []uint32
	rank   []byte
	size   []uint32
}

// NewUnionFind creates a UnionFind for n elements.
func NewUnionFind(n uint32) *UnionFind {
	parent := make([]uint32, n)
	size := make([]uint32, n)
	for i := range n {
		parent[i] = i
		size[i] = 1
	}
	return &UnionFind{
		parent: parent,
		rank:   make([]byte, n),
		size:   size,
	}
}

// Find returns the representative of the set containing x, with path halving.
func (uf *UnionFind) Find(x uint32) uint32 {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

// Union merges the sets containing x and y. Returns false if already same set.
func (uf *UnionFind) Union(x, y uint32) bool {
	rx := uf.Find(x)
	ry := uf.Find(y)
	if rx == ry {
		return false
	}

	if uf.rank[rx] < uf.rank[ry] {
		rx, ry = ry, rx
	}
	uf.parent[ry] = rx
	uf.size[rx] += uf.size[ry]
	if uf.rank[rx] == uf.rank[ry] {
		uf.rank[rx]++
	}
	return true
}

// Size returns the number of elements in x's set.
func (uf *UnionFind) Size(x uint32) uint32 { return uf.size[uf.Find(x)] }

// Components returns a union-find over active edges. Two active nodes are
// mutually reachable iff they share a representative.
func (g *Graph) Components() *UnionFind {
	uf := NewUnionFind(uint32(len(g.Nodes)))
	for i, e := range g.Edges {
		if g.edgeActive.Get(i) {
			uf.Union(e.Source, e.Target)
		}
	}
	return uf
}

// LargestComponent returns the active node indices of the largest
// connected component.
func LargestComponent(g *Graph) []uint32 {
	if len(g.Nodes) == 0 {
		return nil
	}

	uf := g.Components()

	bestRoot := noNode
	bestSize := uint32(0)
	for i := range uint32(len(g.Nodes)) {
		if !g.NodeActive(i) {
			continue
		}
		root := uf.Find(i)
		if s := uf.size[root]; s > bestSize || (s == bestSize && root < bestRoot) {
			bestRoot, bestSize = root, s
		}
	}
	if bestRoot == noNode {
		return nil
	}

	nodes := make([]uint32, 0, bestSize)
	for i := range uint32(len(g.Nodes)) {
		if g.NodeActive(i) && uf.Find(i) == bestRoot {
			nodes = append(nodes, i)
		}
	}
	return nodes
}

// Subgraph creates a new graph containing only the given nodes and the
// edges between them. Active flags carry over; start points anchored on
// dropped nodes are dropped, facilities are kept.
func Subgraph(g *Graph, nodes []uint32) *Graph {
	oldToNew := make(map[uint32]uint32, len(nodes))
	newNodes := make([]Node, len(nodes))
	for newIdx, oldIdx := range nodes {
		oldToNew[oldIdx] = uint32(newIdx)
		newNodes[newIdx] = g.Nodes[oldIdx]
	}

	var newEdges []Edge
	var edgeActive []bool
	for i, e := range g.Edges {
		u, okU := oldToNew[e.Source]
		v, okV := oldToNew[e.Target]
		if !okU || !okV {
			continue
		}
		newEdges = append(newEdges, Edge{Source: u, Target: v, Kind: e.Kind, Weight: e.Weight})
		edgeActive = append(edgeActive, g.edgeActive.Get(i))
	}

	sub := newGraph(newNodes, newEdges)
	for newIdx, oldIdx := range nodes {
		if !g.NodeActive(oldIdx) {
			sub.nodeActive.Clear(newIdx)
		}
	}
	for i, active := range edgeActive {
		if !active {
			sub.edgeActive.Clear(i)
		}
	}
	sub.Facilities = append(sub.Facilities, g.Facilities...)
	for _, sp := range g.StartPoints {
		if n, ok := oldToNew[sp.Node]; ok {
			sp.Node = n
			sub.StartPoints = append(sub.StartPoints, sp)
		}
	}
	sub.epoch = g.epoch
	return sub
}

// Crop returns the part of g inside the bounding box: nodes whose
// position lies inside, edges with both endpoints inside, and facilities
// inside. This is the per-request graph for a region of a larger map.
func Crop(g *Graph, bound orb.Bound) *Graph {
	var nodes []uint32
	g.spatial.tree.Search(
		[2]float64{bound.Min.Lon(), bound.Min.Lat()},
		[2]float64{bound.Max.Lon(), bound.Max.Lat()},
		func(_, _ [2]float64, i uint32) bool {
			nodes = append(nodes, i)
			return true
		},
	)
	slices.Sort(nodes)

	sub := Subgraph(g, nodes)
	sub.Facilities = sub.Facilities[:0]
	for _, f := range g.Facilities {
		if bound.Contains(orb.Point{f.Lng, f.Lat}) {
			sub.Facilities = append(sub.Facilities, f)
		}
	}
	return sub
}
