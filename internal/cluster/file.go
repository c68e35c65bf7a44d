package cluster

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/locplace/mapscan/internal/geo"
)

// fileRow accepts both the long and short key spellings used by
// spawnpoint files.
type fileRow struct {
	SpawnpointID *string  `json:"spawnpoint_id,omitempty"`
	SID          *string  `json:"sid,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Lat          *float64 `json:"lat,omitempty"`
	Lng          *float64 `json:"lng,omitempty"`
	Time         float64  `json:"time"`
}

func (r fileRow) toSpawnpoint() (Spawnpoint, error) {
	var sp Spawnpoint
	switch {
	case r.SpawnpointID != nil:
		sp.ID = *r.SpawnpointID
	case r.SID != nil:
		sp.ID = *r.SID
	}

	switch {
	case r.Latitude != nil && r.Longitude != nil:
		sp.Coord = geo.Coordinate{Lat: *r.Latitude, Lng: *r.Longitude}
	case r.Lat != nil && r.Lng != nil:
		sp.Coord = geo.Coordinate{Lat: *r.Lat, Lng: *r.Lng}
	default:
		return sp, fmt.Errorf("spawnpoint %q has no coordinates", sp.ID)
	}

	if r.Time < 0 || r.Time >= 3600 {
		return sp, fmt.Errorf("spawnpoint %q time %v outside [0, 3600)", sp.ID, r.Time)
	}
	sp.Time = int(r.Time)
	return sp, nil
}

// Decode reads a JSON array of spawnpoints.
func Decode(r io.Reader) ([]Spawnpoint, error) {
	var rows []fileRow
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode spawnpoints: %w", err)
	}

	points := make([]Spawnpoint, 0, len(rows))
	for i, row := range rows {
		sp, err := row.toSpawnpoint()
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		points = append(points, sp)
	}
	return points, nil
}

// ReadFile loads a spawnpoint file. Files ending in .xz are decompressed.
func ReadFile(path string) ([]Spawnpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spawnpoint file: %w", err)
	}
	defer f.Close() //nolint:errcheck // Read-only file

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".xz") {
		xzReader, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		r = xzReader
	}
	return Decode(r)
}

// EncodeSpawnpoints writes one row per cluster, located at the centroid and
// timed at the cluster's latest member. longKeys selects
// spawnpoint_id/latitude/longitude over sid/lat/lng.
func EncodeSpawnpoints(w io.Writer, clusters []*Cluster, longKeys bool) error {
	rows := make([]map[string]any, 0, len(clusters))
	for _, c := range clusters {
		sp := c.Spawnpoint()
		row := map[string]any{"time": sp.Time}
		if longKeys {
			row["spawnpoint_id"] = sp.ID
			row["latitude"] = sp.Coord.Lat
			row["longitude"] = sp.Coord.Lng
		} else {
			row["sid"] = sp.ID
			row["lat"] = sp.Coord.Lat
			row["lng"] = sp.Coord.Lng
		}
		rows = append(rows, row)
	}
	return writeJSON(w, rows)
}

type clusterRow struct {
	Spawnpoints []spawnpointRow `json:"spawnpoints"`
	Latitude    float64         `json:"latitude"`
	Longitude   float64         `json:"longitude"`
	MinTime     int             `json:"min_time"`
	MaxTime     int             `json:"max_time"`
}

type spawnpointRow struct {
	SpawnpointID string  `json:"spawnpoint_id,omitempty"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Time         int     `json:"time"`
}

// EncodeClusters writes full cluster data including every member.
func EncodeClusters(w io.Writer, clusters []*Cluster) error {
	rows := make([]clusterRow, 0, len(clusters))
	for _, c := range clusters {
		row := clusterRow{
			Latitude:  c.Centroid.Lat,
			Longitude: c.Centroid.Lng,
			MinTime:   c.MinTime,
			MaxTime:   c.MaxTime,
		}
		for _, m := range c.Members {
			row.Spawnpoints = append(row.Spawnpoints, spawnpointRow{
				SpawnpointID: m.ID,
				Latitude:     m.Coord.Lat,
				Longitude:    m.Coord.Lng,
				Time:         m.Time,
			})
		}
		rows = append(rows, row)
	}
	return writeJSON(w, rows)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}
