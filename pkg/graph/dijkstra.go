package graph

import "math"

const noNode = ^uint32(0) // sentinel for "no predecessor"

// MinHeap is a concrete-typed min-heap for the Dijkstra priority queue.
// Avoids interface boxing overhead of container/heap.
type MinHeap struct {
	items []PQItem
}

// PQItem is a priority queue entry.
type PQItem struct {
	Node uint32
	Dist float64
}

func (h *MinHeap) Len() int { return len(h.items) }

func (h *MinHeap) Push(node uint32, dist float64) {
	h.items = append(h.items, PQItem{node, dist})
	h.siftUp(len(h.items) - 1)
}

func (h *MinHeap) Pop() PQItem {
	n := len(h.items)
	item := h.items[0]
	h.items[0] = h.items[n-1]
	h.items = h.items[:n-1]
	if len(h.items) > 0 {
		h.siftDown(0)
	}
	return item
}

func (h *MinHeap) PeekDist() float64 {
	if len(h.items) == 0 {
		return math.Inf(1)
	}
	return h.items[0].Dist
}

func (h *MinHeap) Reset() {
	h.items = h.items[:0]
}

func (h *MinHeap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if h.items[i].Dist >= h.items[parent].Dist {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *MinHeap) siftDown(i int) {
	n := len(h.items)
	for {
		smallest := i
		left := 2*i + 1
		right := 2*i + 2
		if left < n && h.items[left].Dist < h.items[smallest].Dist {
			smallest = left
		}
		if right < n && h.items[right].Dist < h.items[smallest].Dist {
			smallest = right
		}
		if smallest == i {
			break
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}

// QueryState holds reusable per-search state. One QueryState must not be
// shared between goroutines; concurrent searches each need their own.
type QueryState struct {
	Dist    []float64
	Pred    []uint32
	Touched []uint32 // nodes touched during this query (for fast reset)
	PQ      MinHeap

	target []bool
}

// NewQueryState creates a QueryState for a graph with n nodes.
func NewQueryState(n int) *QueryState {
	dist := make([]float64, n)
	pred := make([]uint32, n)
	for i := range dist {
		dist[i] = math.Inf(1)
		pred[i] = noNode
	}
	return &QueryState{
		Dist:    dist,
		Pred:    pred,
		Touched: make([]uint32, 0, 1024),
		PQ:      MinHeap{items: make([]PQItem, 0, 256)},
		target:  make([]bool, n),
	}
}

// Reset clears only the touched entries for fast reuse.
func (qs *QueryState) Reset() {
	for _, node := range qs.Touched {
		qs.Dist[node] = math.Inf(1)
		qs.Pred[node] = noNode
	}
	qs.Touched = qs.Touched[:0]
	qs.PQ.Reset()
}

func (qs *QueryState) touch(node uint32, dist float64, pred uint32) {
	if math.IsInf(qs.Dist[node], 1) {
		qs.Touched = append(qs.Touched, node)
	}
	qs.Dist[node] = dist
	qs.Pred[node] = pred
}

// search runs Dijkstra from src over active edges until stop returns true
// for a settled node or the queue drains.
func (g *Graph) search(qs *QueryState, src uint32, stop func(u uint32) bool) {
	qs.Reset()
	qs.touch(src, 0, noNode)
	qs.PQ.Push(src, 0)

	for qs.PQ.Len() > 0 {
		item := qs.PQ.Pop()
		u, d := item.Node, item.Dist
		if d > qs.Dist[u] {
			continue // stale entry
		}
		if stop(u) {
			return
		}

		start, end := g.AdjacentFrom(u)
		for s := start; s < end; s++ {
			if !g.edgeActive.Get(int(g.AdjEdge[s])) {
				continue
			}
			v := g.AdjHead[s]
			if !g.nodeActive.Get(int(v)) {
				continue
			}
			nd := d + g.Edges[g.AdjEdge[s]].Weight
			if nd < qs.Dist[v] {
				qs.touch(v, nd, u)
				qs.PQ.Push(v, nd)
			}
		}
	}
}

func (g *Graph) checkEndpoints(a, b uint32) error {
	if int(a) >= len(g.Nodes) || int(b) >= len(g.Nodes) {
		return ErrUnknownNode
	}
	if !g.NodeActive(a) || !g.NodeActive(b) {
		return ErrInactiveNode
	}
	return nil
}

// Distance returns the shortest-path length between two active nodes.
func (g *Graph) Distance(a, b uint32) (float64, error) {
	if err := g.checkEndpoints(a, b); err != nil {
		return 0, err
	}
	if a == b {
		return 0, nil
	}
	qs := NewQueryState(len(g.Nodes))
	g.search(qs, a, func(u uint32) bool { return u == b })
	if math.IsInf(qs.Dist[b], 1) {
		return 0, ErrUnreachable
	}
	return qs.Dist[b], nil
}

// ShortestPath returns the node sequence from a to b (inclusive) and its length.
func (g *Graph) ShortestPath(a, b uint32) ([]uint32, float64, error) {
	if err := g.checkEndpoints(a, b); err != nil {
		return nil, 0, err
	}
	if a == b {
		return []uint32{a}, 0, nil
	}
	qs := NewQueryState(len(g.Nodes))
	g.search(qs, a, func(u uint32) bool { return u == b })
	if math.IsInf(qs.Dist[b], 1) {
		return nil, 0, ErrUnreachable
	}

	var path []uint32
	for n := b; n != noNode; n = qs.Pred[n] {
		path = append(path, n)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, qs.Dist[b], nil
}

// DistancesTo fills out[i] with the shortest-path length from src to
// targets[i], or +Inf when unreachable or inactive. The search stops as
// soon as every target has been settled.
func (g *Graph) DistancesTo(qs *QueryState, src uint32, targets []uint32, out []float64) {
	for i := range out {
		out[i] = math.Inf(1)
	}
	if !g.NodeActive(src) {
		return
	}

	remaining := 0
	for _, t := range targets {
		if !qs.target[t] && g.NodeActive(t) {
			qs.target[t] = true
			remaining++
		}
	}

	if remaining > 0 {
		g.search(qs, src, func(u uint32) bool {
			if qs.target[u] {
				qs.target[u] = false
				remaining--
			}
			return remaining == 0
		})
	}

	for i, t := range targets {
		qs.target[t] = false
		if g.NodeActive(t) {
			out[i] = qs.Dist[t]
		}
	}
}
