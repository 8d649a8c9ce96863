package alloc

import (
	"fmt"

	"fireroute/pkg/graph"
)

// RoutePath expands a route into the full node sequence over active
// edges: start point, then every intersection, connector and building
// along the legs, in order.
func RoutePath(g *graph.Graph, r Route) ([]graph.NodeID, error) {
	cur, ok := g.Lookup(r.StartNode)
	if !ok {
		return nil, fmt.Errorf("start %d: %w", r.StartNode, graph.ErrUnknownNode)
	}
	path := []graph.NodeID{r.StartNode}
	for _, b := range r.Buildings {
		next, ok := g.Lookup(b)
		if !ok {
			return nil, fmt.Errorf("building %d: %w", b, graph.ErrUnknownNode)
		}
		leg, _, err := g.ShortestPath(cur, next)
		if err != nil {
			return nil, fmt.Errorf("leg %d -> %d: %w", g.Nodes[cur].ID, b, err)
		}
		for _, n := range leg[1:] {
			path = append(path, g.Nodes[n].ID)
		}
		cur = next
	}
	return path, nil
}
