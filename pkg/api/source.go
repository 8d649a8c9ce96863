package api

import (
	"context"
	"errors"

	"fireroute/pkg/graph"
)

// ErrEmptyRegion is returned when a bounding box holds no street network.
var ErrEmptyRegion = errors.New("no street network inside bounding box")

// GraphSource builds the raw graph for a bounding box. Each call returns a
// graph the caller owns.
type GraphSource interface {
	Region(ctx context.Context, bbox BoundingBox) (*graph.Graph, error)
}

// MapSource crops regions out of one preprocessed map held in memory.
type MapSource struct {
	g *graph.Graph
}

// NewMapSource wraps a loaded map. The map is only read.
func NewMapSource(g *graph.Graph) *MapSource {
	return &MapSource{g: g}
}

// Region implements GraphSource.
func (m *MapSource) Region(ctx context.Context, bbox BoundingBox) (*graph.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := graph.Crop(m.g, bbox.Bound())
	if sub.NumEdges() == 0 {
		return nil, ErrEmptyRegion
	}
	return sub, nil
}

// Stats describes the underlying map.
func (m *MapSource) Stats() StatsResponse {
	return StatsResponse{
		NumNodes:      m.g.NumNodes(),
		NumEdges:      m.g.NumEdges(),
		NumBuildings:  len(m.g.ActiveBuildings()),
		NumFacilities: len(m.g.Facilities),
	}
}
