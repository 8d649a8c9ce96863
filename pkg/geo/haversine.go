package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

const earthRadiusMeters = 6_371_000.0

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1r := lat1 * math.Pi / 180
	lat2r := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1r)*math.Cos(lat2r)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// EquirectangularDist returns an approximate distance in meters.
// Good to well under 1% across a city-sized region; use it to rank
// candidates, and Haversine for anything that becomes an edge weight.
func EquirectangularDist(lat1, lon1, lat2, lon2 float64) float64 {
	x := (lon2 - lon1) * math.Cos((lat1+lat2)/2*math.Pi/180) * math.Pi / 180
	y := (lat2 - lat1) * math.Pi / 180
	return math.Sqrt(x*x+y*y) * earthRadiusMeters
}

// degToMeters converts degree-scaled equirectangular distances to meters.
const degToMeters = math.Pi / 180 * earthRadiusMeters

// Projection is the result of dropping a point onto a segment AB.
type Projection struct {
	Dist  float64 // meters from the query point to the foot of the perpendicular
	Ratio float64 // position of the foot along AB, clamped to [0, 1]
	Lat   float64 // foot of the perpendicular
	Lng   float64
}

// ProjectOntoSegment drops point P onto segment AB.
// Works in a local equirectangular plane, which is accurate enough for
// building-to-street distances.
func ProjectOntoSegment(pLat, pLon, aLat, aLon, bLat, bLon float64) Projection {
	cosLat := math.Cos((aLat + bLat) / 2 * math.Pi / 180)

	ax, ay := aLon*cosLat, aLat
	bx, by := bLon*cosLat, bLat
	px, py := pLon*cosLat, pLat

	// Compare in original coordinates: cosLat scaling can make identical
	// points differ by ~1e-15 in the projected plane.
	if aLat == bLat && aLon == bLon {
		ex, ey := px-ax, py-ay
		return Projection{Dist: math.Sqrt(ex*ex+ey*ey) * degToMeters, Lat: aLat, Lng: aLon}
	}

	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy

	var t float64
	if lenSq > 0 {
		t = ((px-ax)*dx + (py-ay)*dy) / lenSq
		t = math.Max(0, math.Min(1, t))
	}

	ex := px - (ax + t*dx)
	ey := py - (ay + t*dy)
	return Projection{
		Dist:  math.Sqrt(ex*ex+ey*ey) * degToMeters,
		Ratio: t,
		Lat:   aLat + t*(bLat-aLat),
		Lng:   aLon + t*(bLon-aLon),
	}
}

// ValidCoord reports whether lat/lng are finite and inside WGS84 ranges.
func ValidCoord(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// BoundAround returns a lng/lat box that contains every point within
// meters of the center by Haversine. orb measures with a larger earth
// radius, so the distance is rescaled and padded.
func BoundAround(lat, lng, meters float64) orb.Bound {
	return orbgeo.NewBoundAroundPoint(orb.Point{lng, lat}, meters*orb.EarthRadius/earthRadiusMeters*1.001)
}
