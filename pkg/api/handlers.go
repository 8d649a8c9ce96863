package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"strconv"
	"time"

	"fireroute/pkg/alloc"
	"fireroute/pkg/geo"
	"fireroute/pkg/graph"
	"fireroute/pkg/hazard"
	"fireroute/pkg/reopt"
)

// HandlerConfig holds the optimizer settings applied to new sessions.
type HandlerConfig struct {
	Alloc               alloc.Config
	Reopt               reopt.Config
	DefaultHazardRadius float64 // meters, for hazards without a radius
	MaxBodyBytes        int64
	// MaxBuildings caps the buildings in one region. The distance matrix
	// grows with its square. Zero disables the cap.
	MaxBuildings int
}

// DefaultHandlerConfig returns sensible defaults.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		Alloc:               alloc.DefaultConfig(),
		Reopt:               reopt.DefaultConfig(),
		DefaultHazardRadius: 250,
		MaxBodyBytes:        1 << 20,
		MaxBuildings:        5000,
	}
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	source GraphSource
	store  *Store
	cfg    HandlerConfig
	stats  StatsResponse
}

// NewHandlers creates handlers serving regions of source.
func NewHandlers(source GraphSource, store *Store, cfg HandlerConfig, stats StatsResponse) *Handlers {
	return &Handlers{
		source: source,
		store:  store,
		cfg:    cfg,
		stats:  stats,
	}
}

// HandleCreate handles POST /api/v1/allocations.
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req AllocationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := req.BoundingBox.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_coordinates", "bounding_box")
		return
	}
	seen := make(map[string]bool, len(req.StartPoints))
	for i, sp := range req.StartPoints {
		field := fmt.Sprintf("start_points[%d]", i)
		if sp.ID == "" || seen[sp.ID] {
			writeError(w, http.StatusBadRequest, "invalid_start_point", field)
			return
		}
		seen[sp.ID] = true
		if !geo.ValidCoord(sp.Lat, sp.Lng) {
			writeError(w, http.StatusBadRequest, "invalid_coordinates", field)
			return
		}
	}
	hazards := h.hazards(req.Hazards)
	if err := hazard.ValidateAll(hazards); err != nil {
		h.fail(w, "allocate", err)
		return
	}

	g, err := h.source.Region(r.Context(), req.BoundingBox)
	if err != nil {
		if errors.Is(err, ErrEmptyRegion) {
			observeFailure("allocate", "empty_region")
			writeError(w, http.StatusUnprocessableEntity, "empty_region", "bounding_box")
			return
		}
		h.fail(w, "allocate", err)
		return
	}
	if h.cfg.MaxBuildings > 0 && len(g.ActiveBuildings()) > h.cfg.MaxBuildings {
		observeFailure("allocate", "region_too_large")
		writeError(w, http.StatusUnprocessableEntity, "region_too_large", "bounding_box")
		return
	}

	// Without explicit start points, every known facility in the region responds.
	if len(req.StartPoints) == 0 {
		for _, f := range g.Facilities {
			req.StartPoints = append(req.StartPoints, StartPointJSON{ID: f.ID, Name: f.Name, Lat: f.Lat, Lng: f.Lng})
		}
	}
	for i, sp := range req.StartPoints {
		if _, err := g.AnchorStartPoint(sp.ID, sp.Name, sp.Lat, sp.Lng); err != nil {
			observeFailure("allocate", "start_point_too_far")
			writeError(w, http.StatusUnprocessableEntity, "start_point_too_far", fmt.Sprintf("start_points[%d]", i))
			return
		}
	}

	cfg := h.cfg.Alloc
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	sess := reopt.NewSession(g, alloc.NewEngine(cfg), h.cfg.Reopt)

	start := time.Now()
	res, err := sess.Allocate(r.Context(), hazards)
	if err != nil {
		h.fail(w, "allocate", err)
		return
	}
	observePass("allocate", res, time.Since(start))

	id := h.store.Add(sess, req.BoundingBox)
	h.respond(w, r, http.StatusCreated, id, req.BoundingBox, sess.Snapshot())
}

// HandleGet handles GET /api/v1/allocations/{id}.
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, bbox, err := h.store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session_not_found", "id")
		return
	}
	h.respond(w, r, http.StatusOK, id, bbox, sess.Snapshot())
}

// HandleDelete handles DELETE /api/v1/allocations/{id}.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if !h.store.Remove(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "session_not_found", "id")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleHazards handles POST /api/v1/allocations/{id}/hazards.
func (h *Handlers) HandleHazards(w http.ResponseWriter, r *http.Request) {
	var req HazardsRequest
	h.mutate(w, r, "hazards", &req, func(ctx context.Context, s *reopt.Session) (*alloc.Result, error) {
		hazards := h.hazards(req.Hazards)
		if req.Clear {
			return s.SetHazards(ctx, hazards)
		}
		if len(hazards) == 0 {
			return nil, errEmptyChange
		}
		return s.AddHazards(ctx, hazards)
	})
}

// HandleEdits handles POST /api/v1/allocations/{id}/edits.
func (h *Handlers) HandleEdits(w http.ResponseWriter, r *http.Request) {
	var req EditsRequest
	h.mutate(w, r, "edits", &req, func(ctx context.Context, s *reopt.Session) (*alloc.Result, error) {
		if req.empty() {
			return nil, errEmptyChange
		}
		return s.Edit(ctx, reopt.Edits{
			DeleteNodes:  req.DeleteNodes,
			RestoreNodes: req.RestoreNodes,
			DeleteEdges:  edgeKeys(req.DeleteEdges),
			RestoreEdges: edgeKeys(req.RestoreEdges),
		})
	})
}

// HandleReseed handles POST /api/v1/allocations/{id}/reseed.
func (h *Handlers) HandleReseed(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "reseed", nil, func(ctx context.Context, s *reopt.Session) (*alloc.Result, error) {
		return s.Reseed(ctx)
	})
}

// HandleHealth handles GET /api/v1/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// HandleStats handles GET /api/v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.stats
	stats.Sessions = h.store.Len()
	writeJSON(w, http.StatusOK, stats)
}

var errEmptyChange = errors.New("request changes nothing")

// mutate runs one re-optimization pass on the session named in the path.
// A nil body skips decoding.
func (h *Handlers) mutate(w http.ResponseWriter, r *http.Request, kind string, body any,
	pass func(context.Context, *reopt.Session) (*alloc.Result, error)) {
	id := r.PathValue("id")
	sess, bbox, err := h.store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session_not_found", "id")
		return
	}
	if body != nil && !h.decode(w, r, body) {
		return
	}

	start := time.Now()
	res, err := pass(r.Context(), sess)
	if err != nil {
		h.fail(w, kind, err)
		return
	}
	observePass(kind, res, time.Since(start))
	h.respond(w, r, http.StatusOK, id, bbox, sess.Snapshot())
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		writeError(w, http.StatusBadRequest, "invalid_request", "")
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "")
		return false
	}
	return true
}

func (h *Handlers) hazards(in []HazardJSON) []hazard.Hazard {
	out := make([]hazard.Hazard, len(in))
	for i, hj := range in {
		radius := h.cfg.DefaultHazardRadius
		if hj.Radius != nil {
			radius = *hj.Radius
		}
		out[i] = hazard.Hazard{
			Lat:        hj.Lat,
			Lng:        hj.Lng,
			Radius:     radius,
			AcquiredAt: hj.AcquiredAt,
			Confidence: hj.Confidence,
			Source:     hj.Source,
		}
	}
	return out
}

// fail maps a pass error onto a status code and error code.
func (h *Handlers) fail(w http.ResponseWriter, kind string, err error) {
	status, code, field := http.StatusInternalServerError, "internal_error", ""
	switch {
	case errors.Is(err, hazard.ErrInvalidRadius):
		status, code, field = http.StatusBadRequest, "invalid_hazard_radius", "hazards"
	case errors.Is(err, hazard.ErrInvalidCenter):
		status, code, field = http.StatusBadRequest, "invalid_coordinates", "hazards"
	case errors.Is(err, errEmptyChange):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, graph.ErrUnknownNode):
		status, code, field = http.StatusBadRequest, "unknown_node", "nodes"
	case errors.Is(err, reopt.ErrUnknownEdge):
		status, code, field = http.StatusBadRequest, "unknown_edge", "edges"
	case errors.Is(err, alloc.ErrNoActiveStartPoints):
		status, code = http.StatusUnprocessableEntity, "no_active_start_points"
	case errors.Is(err, reopt.ErrNoSolution):
		status, code = http.StatusConflict, "no_allocation"
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "request_timeout"
	default:
		log.Printf("%s pass failed: %v", kind, err)
	}
	observeFailure(kind, code)
	writeError(w, status, code, field)
}

func (h *Handlers) respond(w http.ResponseWriter, r *http.Request, status int, id string, bbox BoundingBox, snap reopt.Snapshot) {
	paths, _ := strconv.ParseBool(r.URL.Query().Get("paths"))
	resp, err := buildResponse(id, bbox, snap, paths)
	if err != nil {
		log.Printf("build response for %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	writeJSON(w, status, resp)
}

// buildResponse renders a session snapshot in the tagged response schema.
func buildResponse(id string, bbox BoundingBox, snap reopt.Snapshot, paths bool) (AllocationResponse, error) {
	g, res := snap.Graph, snap.Result
	resp := AllocationResponse{
		SessionID:   id,
		BoundingBox: bbox,
		NodeCount:   g.ActiveNodeCount(),
		EdgeCount:   g.ActiveEdgeCount(),
		Objective:   res.Solution.Objective(),
		Status:      res.Stats.Status,
		Iterations:  res.Stats.Iterations,
		Epoch:       res.Epoch,
		ElapsedMS:   res.Elapsed.Milliseconds(),
		Unassigned:  nonNil(res.Unassigned),
		Dropped:     res.Repair.Dropped,
		Orphans:     res.Repair.Orphans,
		Hazards:     make([]HazardJSON, len(snap.Hazards)),
	}
	for i, hz := range snap.Hazards {
		radius := hz.Radius
		resp.Hazards[i] = HazardJSON{
			Lat:        hz.Lat,
			Lng:        hz.Lng,
			Radius:     &radius,
			AcquiredAt: hz.AcquiredAt,
			Confidence: hz.Confidence,
			Source:     hz.Source,
		}
	}

	displayOf := make(map[graph.NodeID]int, res.Solution.NumBuildings())
	resp.Graph.Routes = make([]RouteJSON, len(res.Solution.Routes))
	for i, rt := range res.Solution.Routes {
		for _, b := range rt.Buildings {
			displayOf[b] = rt.DisplayID
		}
		rj := RouteJSON{
			DisplayID: rt.DisplayID,
			Color:     rt.Color,
			Length:    rt.Length,
			StartID:   rt.StartID,
			Buildings: nonNil(rt.Buildings),
		}
		if paths {
			p, err := alloc.RoutePath(g, rt)
			if err != nil {
				return AllocationResponse{}, fmt.Errorf("route %d: %w", rt.DisplayID, err)
			}
			rj.Path = p
		}
		resp.Graph.Routes[i] = rj
	}

	resp.Graph.Nodes = make([]NodeJSON, len(g.Nodes))
	for i, n := range g.Nodes {
		nj := NodeJSON{ID: n.ID, Lat: n.Lat, Lng: n.Lng, Kind: n.Kind, Active: g.NodeActive(uint32(i))}
		if d, ok := displayOf[n.ID]; ok {
			nj.RouteID = &d
		}
		resp.Graph.Nodes[i] = nj
	}
	resp.Graph.Edges = make([]EdgeJSON, len(g.Edges))
	for i, e := range g.Edges {
		resp.Graph.Edges[i] = EdgeJSON{
			Source: g.Nodes[e.Source].ID,
			Target: g.Nodes[e.Target].ID,
			Kind:   e.Kind,
			Length: e.Weight,
			Active: g.EdgeActive(uint32(i)),
		}
	}
	resp.Graph.StartPoints = make([]StartPointView, len(g.StartPoints))
	for i, sp := range g.StartPoints {
		resp.Graph.StartPoints[i] = StartPointView{
			ID:     sp.ID,
			Name:   sp.Name,
			Lat:    sp.Lat,
			Lng:    sp.Lng,
			Node:   g.Nodes[sp.Node].ID,
			Active: sp.Active,
		}
	}
	return resp, nil
}

func edgeKeys(pairs [][2]graph.NodeID) []reopt.EdgeKey {
	keys := make([]reopt.EdgeKey, len(pairs))
	for i, p := range pairs {
		keys[i] = reopt.NewEdgeKey(p[0], p[1])
	}
	return keys
}

func nonNil(ids []graph.NodeID) []graph.NodeID {
	if ids == nil {
		return []graph.NodeID{}
	}
	return ids
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, field string) {
	writeJSON(w, status, ErrorResponse{Error: code, Field: field})
}
