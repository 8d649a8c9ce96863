// Package hazard deactivates the parts of a graph that lie inside fire
// exclusion zones.
package hazard

import (
	"errors"
	"fmt"
	"math"
	"time"

	"fireroute/pkg/geo"
	"fireroute/pkg/graph"
)

// ErrInvalidRadius is returned for hazards with a non-positive or
// non-finite radius.
var ErrInvalidRadius = errors.New("invalid hazard radius")

// ErrInvalidCenter is returned for hazards whose center is not a valid coordinate.
var ErrInvalidCenter = errors.New("invalid hazard center")

// Hazard is a circular exclusion zone. Radius is in meters. The remaining
// fields describe the detection and are not used by the filter.
type Hazard struct {
	Lat        float64
	Lng        float64
	Radius     float64
	AcquiredAt time.Time
	Confidence string
	Source     string
}

// Validate checks the hazard's radius and center.
func (h Hazard) Validate() error {
	if h.Radius <= 0 || math.IsNaN(h.Radius) || math.IsInf(h.Radius, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidRadius, h.Radius)
	}
	if !geo.ValidCoord(h.Lat, h.Lng) {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidCenter, h.Lat, h.Lng)
	}
	return nil
}

// Contains reports whether a point lies inside the zone. The boundary is inside.
func (h Hazard) Contains(lat, lng float64) bool {
	return geo.Haversine(h.Lat, h.Lng, lat, lng) <= h.Radius
}

// Report summarizes what one Apply call changed.
type Report struct {
	Nodes       []graph.NodeID // newly deactivated nodes, in index order
	Buildings   []graph.NodeID // the building subset of Nodes
	Edges       int            // edges that went from active to inactive
	StartPoints []string       // start point ids excluded by this call
	Epoch       uint64
}

// Changed reports whether Apply modified the graph.
func (r Report) Changed() bool {
	return len(r.Nodes) > 0 || len(r.StartPoints) > 0
}

// ValidateAll checks every hazard and reports the first failure with its index.
func ValidateAll(hazards []Hazard) error {
	for i, h := range hazards {
		if err := h.Validate(); err != nil {
			return fmt.Errorf("hazard %d: %w", i, err)
		}
	}
	return nil
}

// Apply deactivates every node within any hazard radius, with its incident
// edges, and excludes start points that sit inside a hazard or whose
// anchor node went inactive. The whole list is validated first; on error
// the graph is untouched. Applying the same hazards again changes nothing.
func Apply(g *graph.Graph, hazards []Hazard) (Report, error) {
	if err := ValidateAll(hazards); err != nil {
		return Report{}, err
	}

	edgesBefore := g.ActiveEdgeCount()

	hit := make(map[uint32]struct{})
	for _, h := range hazards {
		g.Spatial().Within(h.Lat, h.Lng, h.Radius, func(i uint32, _ float64) bool {
			if g.NodeActive(i) {
				hit[i] = struct{}{}
			}
			return true
		})
	}

	var rep Report
	if len(hit) > 0 {
		// Deterministic order for the report.
		idx := make([]uint32, 0, len(hit))
		for i := range uint32(g.NumNodes()) {
			if _, ok := hit[i]; ok {
				idx = append(idx, i)
			}
		}
		startWasActive := activeStarts(g)
		for _, i := range g.DeactivateNodes(idx...) {
			nd := g.Nodes[i]
			rep.Nodes = append(rep.Nodes, nd.ID)
			if nd.Kind == graph.NodeBuilding {
				rep.Buildings = append(rep.Buildings, nd.ID)
			}
		}
		for i, sp := range g.StartPoints {
			if startWasActive[i] && !sp.Active {
				rep.StartPoints = append(rep.StartPoints, sp.ID)
			}
		}
	}

	// A facility inside a fire is unusable even when its anchor node is not.
	for i, sp := range g.StartPoints {
		if !sp.Active {
			continue
		}
		for _, h := range hazards {
			if h.Contains(sp.Lat, sp.Lng) {
				g.DeactivateStartPoint(i)
				rep.StartPoints = append(rep.StartPoints, sp.ID)
				break
			}
		}
	}

	rep.Edges = edgesBefore - g.ActiveEdgeCount()
	rep.Epoch = g.Epoch()
	return rep, nil
}

func activeStarts(g *graph.Graph) []bool {
	out := make([]bool, len(g.StartPoints))
	for i, sp := range g.StartPoints {
		out[i] = sp.Active
	}
	return out
}
