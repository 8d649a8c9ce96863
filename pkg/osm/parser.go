package osm

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"

	"fireroute/pkg/geo"
)

// RawEdge is an undirected street segment between two consecutive way nodes.
// Responders are not bound by oneway restrictions, so no direction is kept.
type RawEdge struct {
	FromNodeID osm.NodeID
	ToNodeID   osm.NodeID
	Meters     float64
}

// RawBuilding is a building footprint reduced to its centroid.
type RawBuilding struct {
	WayID osm.WayID
	Lat   float64
	Lng   float64
}

// RawFacility is a responder facility (fire station) found in the data.
type RawFacility struct {
	ID   string
	Name string
	Lat  float64
	Lng  float64
}

// ParseResult holds the output of parsing an OSM PBF file.
type ParseResult struct {
	Edges      []RawEdge
	NodeLat    map[osm.NodeID]float64
	NodeLon    map[osm.NodeID]float64
	Buildings  []RawBuilding
	Facilities []RawFacility
}

// excludedHighways lists highway values that are not traversable on the ground.
var excludedHighways = map[string]bool{
	"proposed":     true,
	"construction": true,
	"abandoned":    true,
	"platform":     true,
	"raceway":      true,
	"bus_guideway": true,
	"elevator":     true,
}

// isStreet returns true if the way is part of the walkable/drivable network.
// Every highway type counts, matching an "all" network download.
func isStreet(tags osm.Tags) bool {
	hw := tags.Find("highway")
	if hw == "" || excludedHighways[hw] {
		return false
	}
	if tags.Find("area") == "yes" {
		return false
	}
	if tags.Find("access") == "no" {
		return false
	}
	return true
}

// isBuilding returns true for building footprints.
func isBuilding(tags osm.Tags) bool {
	b := tags.Find("building")
	return b != "" && b != "no"
}

func isFireStation(tags osm.Tags) bool {
	return tags.Find("amenity") == "fire_station"
}

// wayInfo holds parsed way data collected during Pass 1.
type wayInfo struct {
	ID          osm.WayID
	NodeIDs     []osm.NodeID
	Street      bool
	Building    bool
	FireStation bool
	Name        string
}

// ParseOptions configures the OSM parser.
type ParseOptions struct {
	// Bound filters the output when non-zero: street segments need both
	// endpoints inside, buildings and facilities need their centroid inside.
	Bound orb.Bound
}

func (o ParseOptions) contains(lat, lng float64) bool {
	if o.Bound == (orb.Bound{}) {
		return true
	}
	return o.Bound.Contains(orb.Point{lng, lat})
}

// Parse reads an OSM PBF file and returns street segments, building
// centroids and fire stations. The reader is consumed twice, so it must
// implement io.ReadSeeker.
func Parse(ctx context.Context, rs io.ReadSeeker, opts ...ParseOptions) (*ParseResult, error) {
	var opt ParseOptions
	if len(opts) > 0 {
		opt = opts[0]
	}

	// Pass 1: ways. Collect the node ids each kept way references.
	referencedNodes := make(map[osm.NodeID]struct{})
	var ways []wayInfo

	scanner := osmpbf.New(ctx, rs, 1)
	scanner.SkipNodes = true
	scanner.SkipRelations = true

	for scanner.Scan() {
		w, ok := scanner.Object().(*osm.Way)
		if !ok {
			continue
		}

		info := wayInfo{
			ID:          w.ID,
			Street:      isStreet(w.Tags),
			Building:    isBuilding(w.Tags),
			FireStation: isFireStation(w.Tags),
			Name:        w.Tags.Find("name"),
		}
		if !info.Street && !info.Building && !info.FireStation {
			continue
		}
		if len(w.Nodes) < 2 {
			continue
		}

		info.NodeIDs = make([]osm.NodeID, len(w.Nodes))
		for i, wn := range w.Nodes {
			info.NodeIDs[i] = wn.ID
			referencedNodes[wn.ID] = struct{}{}
		}
		ways = append(ways, info)
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return nil, fmt.Errorf("pass 1 (ways): %w", err)
	}
	scanner.Close()

	log.Printf("Pass 1 complete: %d ways, %d referenced nodes", len(ways), len(referencedNodes))

	// Pass 2: node coordinates for referenced nodes, plus point fire stations.
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek for pass 2: %w", err)
	}

	nodeLat := make(map[osm.NodeID]float64, len(referencedNodes))
	nodeLon := make(map[osm.NodeID]float64, len(referencedNodes))
	var facilities []RawFacility

	scanner = osmpbf.New(ctx, rs, 1)
	scanner.SkipWays = true
	scanner.SkipRelations = true

	for scanner.Scan() {
		n, ok := scanner.Object().(*osm.Node)
		if !ok {
			continue
		}

		if isFireStation(n.Tags) && opt.contains(n.Lat, n.Lon) {
			facilities = append(facilities, RawFacility{
				ID:   "node/" + strconv.FormatInt(int64(n.ID), 10),
				Name: n.Tags.Find("name"),
				Lat:  n.Lat,
				Lng:  n.Lon,
			})
		}

		if _, needed := referencedNodes[n.ID]; !needed {
			continue
		}
		nodeLat[n.ID] = n.Lat
		nodeLon[n.ID] = n.Lon
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return nil, fmt.Errorf("pass 2 (nodes): %w", err)
	}
	scanner.Close()

	log.Printf("Pass 2 complete: %d node coordinates collected", len(nodeLat))

	result := &ParseResult{
		NodeLat:    nodeLat,
		NodeLon:    nodeLon,
		Facilities: facilities,
	}

	var skippedEdges, boundFiltered int
	for _, w := range ways {
		if w.Street {
			skipped, filtered := appendStreetEdges(result, w, opt)
			skippedEdges += skipped
			boundFiltered += filtered
		}
		if !w.Building && !w.FireStation {
			continue
		}

		lat, lng, ok := footprintCentroid(w.NodeIDs, nodeLat, nodeLon)
		if !ok || !opt.contains(lat, lng) {
			continue
		}
		if w.Building {
			result.Buildings = append(result.Buildings, RawBuilding{WayID: w.ID, Lat: lat, Lng: lng})
		}
		if w.FireStation {
			result.Facilities = append(result.Facilities, RawFacility{
				ID:   "way/" + strconv.FormatInt(int64(w.ID), 10),
				Name: w.Name,
				Lat:  lat,
				Lng:  lng,
			})
		}
	}

	if skippedEdges > 0 {
		log.Printf("Warning: skipped %d edges due to missing node coordinates", skippedEdges)
	}
	if boundFiltered > 0 {
		log.Printf("Filtered %d edges outside bounding box", boundFiltered)
	}
	log.Printf("Built %d street segments, %d buildings, %d fire stations",
		len(result.Edges), len(result.Buildings), len(result.Facilities))

	return result, nil
}

// appendStreetEdges splits a street way into consecutive node pairs.
func appendStreetEdges(result *ParseResult, w wayInfo, opt ParseOptions) (skipped, filtered int) {
	for i := 0; i < len(w.NodeIDs)-1; i++ {
		fromID, toID := w.NodeIDs[i], w.NodeIDs[i+1]
		if fromID == toID {
			continue
		}

		fromLat, fromOk := result.NodeLat[fromID]
		toLat, toOk := result.NodeLat[toID]
		if !fromOk || !toOk {
			skipped++
			continue
		}
		fromLon := result.NodeLon[fromID]
		toLon := result.NodeLon[toID]

		if !opt.contains(fromLat, fromLon) || !opt.contains(toLat, toLon) {
			filtered++
			continue
		}

		result.Edges = append(result.Edges, RawEdge{
			FromNodeID: fromID,
			ToNodeID:   toID,
			Meters:     geo.Haversine(fromLat, fromLon, toLat, toLon),
		})
	}
	return skipped, filtered
}

// footprintCentroid returns the area centroid of a closed footprint, or the
// vertex mean when the ring is degenerate or open.
func footprintCentroid(ids []osm.NodeID, nodeLat, nodeLon map[osm.NodeID]float64) (lat, lng float64, ok bool) {
	ring := make(orb.Ring, 0, len(ids))
	for _, id := range ids {
		la, found := nodeLat[id]
		if !found {
			return 0, 0, false
		}
		ring = append(ring, orb.Point{nodeLon[id], la})
	}

	if ring.Closed() && len(ring) >= 4 {
		if c, area := planar.CentroidArea(orb.Polygon{ring}); area != 0 {
			return c.Lat(), c.Lon(), true
		}
	}

	var sumLat, sumLng float64
	for _, p := range ring {
		sumLat += p.Lat()
		sumLng += p.Lon()
	}
	n := float64(len(ring))
	return sumLat / n, sumLng / n, true
}
