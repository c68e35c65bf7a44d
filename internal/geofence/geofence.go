// Package geofence restricts scan locations to named polygons.
package geofence

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/locplace/mapscan/internal/geo"
)

// Area is a named polygon.
type Area struct {
	Name     string
	Excluded bool
	Polygon  []geo.Coordinate
}

// Fences holds the areas a point must fall inside and the areas it must not.
type Fences struct {
	Included []Area
	Excluded []Area
}

// Load reads the included and excluded geofence files. Either path may be empty.
func Load(includedPath, excludedPath string) (*Fences, error) {
	f := &Fences{}
	var err error
	if includedPath != "" {
		if f.Included, err = parseFile(includedPath, false); err != nil {
			return nil, err
		}
	}
	if excludedPath != "" {
		if f.Excluded, err = parseFile(excludedPath, true); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func parseFile(path string, excluded bool) ([]Area, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geofence file: %w", err)
	}
	defer file.Close() //nolint:errcheck // Read-only file

	areas, err := Parse(file, excluded)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return areas, nil
}

// Parse reads the geofence text format: a "[Name]" line opens a polygon and
// each following "lat,lng" line appends a vertex. Blank lines are ignored.
func Parse(r io.Reader, excluded bool) ([]Area, error) {
	var areas []Area
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "["):
			name := strings.Trim(line, "[]")
			areas = append(areas, Area{Name: name, Excluded: excluded})
		default:
			if len(areas) == 0 {
				return nil, fmt.Errorf("line %d: coordinate before any [name] header", lineNo)
			}
			lat, lng, ok := strings.Cut(line, ",")
			if !ok {
				return nil, fmt.Errorf("line %d: expected lat,lng", lineNo)
			}
			latF, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid latitude: %w", lineNo, err)
			}
			lngF, err := strconv.ParseFloat(strings.TrimSpace(lng), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid longitude: %w", lineNo, err)
			}
			last := &areas[len(areas)-1]
			last.Polygon = append(last.Polygon, geo.Coordinate{Lat: latF, Lng: lngF})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return areas, nil
}

// Enabled reports whether any area is configured.
func (f *Fences) Enabled() bool {
	return f != nil && (len(f.Included) > 0 || len(f.Excluded) > 0)
}

// Contains reports whether c passes the fences: outside every excluded
// area, and inside at least one included area when any are configured.
func (f *Fences) Contains(c geo.Coordinate) bool {
	if f == nil {
		return true
	}
	for _, a := range f.Excluded {
		if a.Contains(c) {
			return false
		}
	}
	if len(f.Included) == 0 {
		return true
	}
	for _, a := range f.Included {
		if a.Contains(c) {
			return true
		}
	}
	return false
}

// Filter returns the coordinates that pass the fences, in order.
func (f *Fences) Filter(coords []geo.Coordinate) []geo.Coordinate {
	if !f.Enabled() {
		return coords
	}
	out := make([]geo.Coordinate, 0, len(coords))
	for _, c := range coords {
		if f.Contains(c) {
			out = append(out, c)
		}
	}
	return out
}

// Contains is a ray cast over the polygon with a bounding box precheck.
func (a Area) Contains(p geo.Coordinate) bool {
	if len(a.Polygon) < 3 {
		return false
	}

	minLat, maxLat := a.Polygon[0].Lat, a.Polygon[0].Lat
	minLng, maxLng := a.Polygon[0].Lng, a.Polygon[0].Lng
	for _, v := range a.Polygon[1:] {
		minLat, maxLat = min(minLat, v.Lat), max(maxLat, v.Lat)
		minLng, maxLng = min(minLng, v.Lng), max(maxLng, v.Lng)
	}
	if p.Lat > maxLat || p.Lat < minLat || p.Lng > maxLng || p.Lng < minLng {
		return false
	}

	inside := false
	n := len(a.Polygon)
	v1 := a.Polygon[0]
	for i := 1; i <= n; i++ {
		v2 := a.Polygon[i%n]
		if min(v1.Lng, v2.Lng) < p.Lng && p.Lng <= max(v1.Lng, v2.Lng) && p.Lat <= max(v1.Lat, v2.Lat) {
			var latIntersection float64
			if v1.Lng != v2.Lng {
				latIntersection = (p.Lng-v1.Lng)*(v2.Lat-v1.Lat)/(v2.Lng-v1.Lng) + v1.Lat
			}
			if v1.Lat == v2.Lat || p.Lat <= latIntersection {
				inside = !inside
			}
		}
		v1 = v2
	}
	return inside
}
