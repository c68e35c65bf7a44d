// Package geo provides great-circle helpers over lat/lng coordinates.
package geo

import (
	"math"
	"math/rand/v2"

	golanggeo "github.com/kellydunn/golang-geo"
)

// EarthRadius is the radius in metres used by Distance.
const EarthRadius = 6378137.0

// Compass bearings in degrees.
const (
	North = 0.0
	East  = 90.0
	South = 180.0
	West  = 270.0
)

// Coordinate is a point on the globe. Alt is optional and carried through
// untouched by every helper in this package.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
	Alt float64 `json:"alt,omitempty"`
}

// Equal reports whether both coordinates name the same lat/lng.
func (c Coordinate) Equal(o Coordinate) bool {
	return c.Lat == o.Lat && c.Lng == o.Lng
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// Distance returns the great-circle distance in metres between a and b,
// using the spherical law of cosines. It never returns NaN.
func Distance(a, b Coordinate) float64 {
	if a.Equal(b) {
		return 0
	}
	lat1, lat2 := toRad(a.Lat), toRad(b.Lat)
	dLng := toRad(b.Lng - a.Lng)

	cos := math.Sin(lat1)*math.Sin(lat2) + math.Cos(lat1)*math.Cos(lat2)*math.Cos(dLng)
	if cos > 1 {
		return 0
	}
	if cos < -1 {
		cos = -1
	}
	return math.Acos(cos) * EarthRadius
}

// DistanceKm is Distance in kilometres.
func DistanceKm(a, b Coordinate) float64 {
	return Distance(a, b) / 1000
}

// Destination returns the point reached by travelling km kilometres from
// origin along the initial bearing (degrees clockwise from north).
func Destination(origin Coordinate, km, bearing float64) Coordinate {
	p := golanggeo.NewPoint(origin.Lat, origin.Lng).PointAtDistanceAndBearing(km, bearing)
	return Coordinate{Lat: p.Lat(), Lng: normalizeLng(p.Lng()), Alt: origin.Alt}
}

// IntermediatePoint returns the point at fraction f of the great-circle arc
// from a to b. Coincident or degenerate arcs return a (f < 0.5) or b verbatim.
func IntermediatePoint(a, b Coordinate, f float64) Coordinate {
	if a.Equal(b) {
		return a
	}
	if f == 0 {
		return a
	}
	if f == 1 {
		return b
	}

	lat1, lng1 := toRad(a.Lat), toRad(a.Lng)
	lat2, lng2 := toRad(b.Lat), toRad(b.Lng)

	cos := math.Sin(lat1)*math.Sin(lat2) + math.Cos(lat1)*math.Cos(lat2)*math.Cos(lng2-lng1)
	if cos > 1 {
		cos = 1
	}
	if cos < -1 {
		cos = -1
	}
	delta := math.Acos(cos)
	if delta == 0 || math.Sin(delta) == 0 {
		if f < 0.5 {
			return a
		}
		return b
	}

	sinDelta := math.Sin(delta)
	ka := math.Sin((1-f)*delta) / sinDelta
	kb := math.Sin(f*delta) / sinDelta

	x := ka*math.Cos(lat1)*math.Cos(lng1) + kb*math.Cos(lat2)*math.Cos(lng2)
	y := ka*math.Cos(lat1)*math.Sin(lng1) + kb*math.Cos(lat2)*math.Sin(lng2)
	z := ka*math.Sin(lat1) + kb*math.Sin(lat2)

	lat := math.Atan2(z, math.Sqrt(x*x+y*y))
	lng := math.Atan2(y, x)

	return Coordinate{Lat: toDeg(lat), Lng: normalizeLng(toDeg(lng)), Alt: a.Alt}
}

// normalizeLng maps a longitude into (-180, 180].
func normalizeLng(lng float64) float64 {
	n := math.Mod(lng+540, 360) - 180
	if n == -180 {
		return 180
	}
	return n
}

// Jitter moves c in a uniformly random direction by an area-uniform random
// distance of at most maxMetres. A nil rnd uses the global source.
func Jitter(c Coordinate, maxMetres float64, rnd *rand.Rand) Coordinate {
	if maxMetres <= 0 {
		return c
	}
	var u, b float64
	if rnd != nil {
		u, b = rnd.Float64(), rnd.Float64()*360
	} else {
		u, b = rand.Float64(), rand.Float64()*360
	}
	return Destination(c, math.Sqrt(u)*maxMetres/1000, b)
}

// Bounds returns the north latitude, east longitude, south latitude and
// west longitude of a square extending km in each direction from center.
func Bounds(center Coordinate, km float64) (n, e, s, w float64) {
	n = Destination(center, km, North).Lat
	e = Destination(center, km, East).Lng
	s = Destination(center, km, South).Lat
	w = Destination(center, km, West).Lng
	return n, e, s, w
}

// HexBounds returns the bounding square of a hex spiral with the given
// ring count, sized for 70 m scan cells.
func HexBounds(center Coordinate, steps int) (n, e, s, w float64) {
	return Bounds(center, 0.07*float64(2*steps+1))
}

// InBounds reports whether c lies inside the box returned by Bounds.
func InBounds(c Coordinate, n, e, s, w float64) bool {
	return c.Lat <= n && c.Lat >= s && c.Lng <= e && c.Lng >= w
}
