package api

import (
	"errors"
	"time"

	"github.com/paulmach/orb"

	"fireroute/pkg/alloc"
	"fireroute/pkg/geo"
	"fireroute/pkg/graph"
)

// BoundingBox is [north, south, east, west] in degrees.
type BoundingBox [4]float64

func (b BoundingBox) North() float64 { return b[0] }
func (b BoundingBox) South() float64 { return b[1] }
func (b BoundingBox) East() float64  { return b[2] }
func (b BoundingBox) West() float64  { return b[3] }

// Bound converts to an orb bound (lng/lat order).
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.West(), b.South()},
		Max: orb.Point{b.East(), b.North()},
	}
}

func (b BoundingBox) validate() error {
	if !geo.ValidCoord(b.North(), b.East()) || !geo.ValidCoord(b.South(), b.West()) {
		return errors.New("bounding box out of range")
	}
	if b.North() <= b.South() || b.East() <= b.West() {
		return errors.New("bounding box is empty")
	}
	return nil
}

// StartPointJSON is a responder facility in a request.
type StartPointJSON struct {
	ID   string  `json:"id"`
	Name string  `json:"name,omitempty"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// HazardJSON is one hazard event. Radius is optional; detections that only
// carry a point get the server's default radius.
type HazardJSON struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Radius     *float64  `json:"radius,omitempty"`
	AcquiredAt time.Time `json:"acquired_at,omitzero"`
	Confidence string    `json:"confidence,omitempty"`
	Source     string    `json:"source,omitempty"`
}

// AllocationRequest is the JSON body for POST /api/v1/allocations.
type AllocationRequest struct {
	BoundingBox BoundingBox      `json:"bounding_box"`
	StartPoints []StartPointJSON `json:"start_points"`
	Hazards     []HazardJSON     `json:"hazards"`
	Seed        *int64           `json:"seed,omitempty"`
}

// HazardsRequest is the JSON body for POST /api/v1/allocations/{id}/hazards.
// Clear drops every earlier hazard before the new ones are applied.
type HazardsRequest struct {
	Hazards []HazardJSON `json:"hazards"`
	Clear   bool         `json:"clear,omitempty"`
}

// EditsRequest is the JSON body for POST /api/v1/allocations/{id}/edits.
// Edges are given as [a, b] endpoint id pairs.
type EditsRequest struct {
	DeleteNodes  []graph.NodeID    `json:"delete_nodes,omitempty"`
	RestoreNodes []graph.NodeID    `json:"restore_nodes,omitempty"`
	DeleteEdges  [][2]graph.NodeID `json:"delete_edges,omitempty"`
	RestoreEdges [][2]graph.NodeID `json:"restore_edges,omitempty"`
}

func (r EditsRequest) empty() bool {
	return len(r.DeleteNodes) == 0 && len(r.RestoreNodes) == 0 &&
		len(r.DeleteEdges) == 0 && len(r.RestoreEdges) == 0
}

// AllocationResponse describes a session's current allocation.
type AllocationResponse struct {
	SessionID   string         `json:"session_id"`
	BoundingBox BoundingBox    `json:"bounding_box"`
	NodeCount   int            `json:"node_count"`
	EdgeCount   int            `json:"edge_count"`
	Objective   float64        `json:"objective"`
	Status      alloc.Status   `json:"status"`
	Iterations  int            `json:"iterations"`
	Epoch       uint64         `json:"epoch"`
	ElapsedMS   int64          `json:"elapsed_ms"`
	Unassigned  []graph.NodeID `json:"unassigned"`
	Dropped     []graph.NodeID `json:"dropped,omitempty"`
	Orphans     []graph.NodeID `json:"orphans,omitempty"`
	Hazards     []HazardJSON   `json:"hazards"`
	Graph       GraphJSON      `json:"graph"`
}

// GraphJSON is the presentation graph.
type GraphJSON struct {
	Nodes       []NodeJSON       `json:"nodes"`
	Edges       []EdgeJSON       `json:"edges"`
	Routes      []RouteJSON      `json:"routes"`
	StartPoints []StartPointView `json:"start_points"`
}

// NodeJSON is a graph node. RouteID is the display id of the route
// visiting the building, if any.
type NodeJSON struct {
	ID      graph.NodeID   `json:"id"`
	Lat     float64        `json:"lat"`
	Lng     float64        `json:"lng"`
	Kind    graph.NodeKind `json:"kind"`
	RouteID *int           `json:"route_id,omitempty"`
	Active  bool           `json:"active"`
}

// EdgeJSON is an undirected graph edge.
type EdgeJSON struct {
	Source graph.NodeID   `json:"source"`
	Target graph.NodeID   `json:"target"`
	Kind   graph.EdgeKind `json:"kind"`
	Length float64        `json:"length"`
	Active bool           `json:"active"`
}

// RouteJSON is one responder route. Path is the full node sequence and is
// only filled when requested.
type RouteJSON struct {
	DisplayID int            `json:"display_id"`
	Color     string         `json:"color"`
	Length    float64        `json:"length"`
	StartID   string         `json:"start_id"`
	Buildings []graph.NodeID `json:"buildings"`
	Path      []graph.NodeID `json:"path,omitempty"`
}

// StartPointView is a start point as anchored on the graph.
type StartPointView struct {
	ID     string       `json:"id"`
	Name   string       `json:"name,omitempty"`
	Lat    float64      `json:"lat"`
	Lng    float64      `json:"lng"`
	Node   graph.NodeID `json:"node"`
	Active bool         `json:"active"`
}

// ErrorResponse is the JSON response for errors.
type ErrorResponse struct {
	Error          string  `json:"error"`
	Field          string  `json:"field,omitempty"`
	DistanceMeters float64 `json:"distance_meters,omitempty"`
}

// StatsResponse is the JSON response for GET /api/v1/stats.
type StatsResponse struct {
	NumNodes      int `json:"num_nodes"`
	NumEdges      int `json:"num_edges"`
	NumBuildings  int `json:"num_buildings"`
	NumFacilities int `json:"num_facilities"`
	Sessions      int `json:"sessions"`
}

// HealthResponse is the JSON response for GET /api/v1/health.
type HealthResponse struct {
	Status string `json:"status"`
}
