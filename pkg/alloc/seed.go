package alloc

import (
	"container/heap"
	"math"
)

// Seed builds the greedy initial solution: the shortest route repeatedly
// takes the nearest unvisited building from its current head.
func (p *Problem) Seed() *Solution {
	return p.toSolution(p.seedPlan())
}

func (p *Problem) seedPlan() *plan {
	pl := newPlan(p.k)
	p.extend(pl, make([]bool, p.n))
	return pl
}

func (p *Problem) visited(pl *plan) []bool {
	v := make([]bool, p.n)
	for _, seq := range pl.routes {
		for _, t := range seq {
			v[t] = true
		}
	}
	return v
}

// routeHeap orders routes by (length, index).
type routeHeap struct {
	idx     []int
	lengths []float64
}

func (h *routeHeap) Len() int { return len(h.idx) }
func (h *routeHeap) Less(i, j int) bool {
	a, b := h.idx[i], h.idx[j]
	if h.lengths[a] != h.lengths[b] {
		return h.lengths[a] < h.lengths[b]
	}
	return a < b
}
func (h *routeHeap) Swap(i, j int) { h.idx[i], h.idx[j] = h.idx[j], h.idx[i] }
func (h *routeHeap) Push(x any)   { h.idx = append(h.idx, x.(int)) }
func (h *routeHeap) Pop() any {
	n := len(h.idx)
	x := h.idx[n-1]
	h.idx = h.idx[:n-1]
	return x
}

// extend runs the greedy loop on pl, marking what it appends in visited.
// A route whose head reaches no unvisited building leaves the heap. It
// returns the buildings that stayed unvisited.
func (p *Problem) extend(pl *plan, visited []bool) []int {
	remaining := 0
	for t := p.k; t < p.n; t++ {
		if !visited[t] {
			remaining++
		}
	}

	h := &routeHeap{lengths: pl.lengths}
	for r := range p.k {
		h.idx = append(h.idx, r)
	}
	heap.Init(h)

	for remaining > 0 && h.Len() > 0 {
		r := h.idx[0]
		head := r
		if seq := pl.routes[r]; len(seq) > 0 {
			head = seq[len(seq)-1]
		}

		// Buildings are in id order, so the first strict minimum is the
		// lowest id among equidistant candidates.
		best, bestD := -1, math.Inf(1)
		for t := p.k; t < p.n; t++ {
			if visited[t] {
				continue
			}
			if d := p.D(head, t); d < bestD {
				best, bestD = t, d
			}
		}
		if best < 0 {
			heap.Pop(h)
			continue
		}

		pl.routes[r] = append(pl.routes[r], best)
		pl.lengths[r] += bestD
		visited[best] = true
		remaining--
		heap.Fix(h, 0)
	}

	var left []int
	for t := p.k; t < p.n; t++ {
		if !visited[t] {
			left = append(left, t)
		}
	}
	return left
}
