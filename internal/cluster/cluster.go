// Package cluster groups nearby spawnpoints that fire within a short time
// window into a single canonical scan point.
package cluster

import (
	"fmt"
	"math"

	"github.com/locplace/mapscan/internal/geo"
)

// Defaults used by the clustering CLI.
const (
	DefaultRadius        = 70.0
	DefaultTimeThreshold = 180
)

// Spawnpoint is a recurring spawn location. Time is the appearance second
// of the hour.
type Spawnpoint struct {
	ID    string
	Coord geo.Coordinate
	Time  int
}

// AppearanceFromDisappearance converts an observed disappearance second of
// the hour into the appearance second, assuming a 15 minute lifetime.
func AppearanceFromDisappearance(sec int) int {
	return ((sec+2700)%3600 + 3600) % 3600
}

// Cluster is a group of spawnpoints sharing a centroid.
type Cluster struct {
	Centroid geo.Coordinate
	MinTime  int
	MaxTime  int
	Members  []Spawnpoint
}

func newCluster(p Spawnpoint) *Cluster {
	return &Cluster{
		Centroid: p.Coord,
		MinTime:  p.Time,
		MaxTime:  p.Time,
		Members:  []Spawnpoint{p},
	}
}

// simulateCentroid returns the centroid the cluster would have after adding p.
func (c *Cluster) simulateCentroid(p Spawnpoint) geo.Coordinate {
	n := float64(len(c.Members))
	return geo.IntermediatePoint(p.Coord, c.Centroid, n/(n+1))
}

func (c *Cluster) add(p Spawnpoint) {
	c.Centroid = c.simulateCentroid(p)
	c.Members = append(c.Members, p)
	c.MinTime = min(c.MinTime, p.Time)
	c.MaxTime = max(c.MaxTime, p.Time)
}

func cost(p Spawnpoint, c *Cluster, timeThreshold int) float64 {
	if max(c.MaxTime, p.Time)-min(c.MinTime, p.Time) > timeThreshold {
		return math.Inf(1)
	}
	return geo.Distance(p.Coord, c.Centroid)
}

func admissible(p Spawnpoint, c *Cluster, radius float64, timeThreshold int) bool {
	if cost(p, c, timeThreshold) > 2*radius {
		return false
	}
	centroid := c.simulateCentroid(p)
	if geo.Distance(p.Coord, centroid) > radius {
		return false
	}
	for _, m := range c.Members {
		if geo.Distance(m.Coord, centroid) > radius {
			return false
		}
	}
	return true
}

// Run clusters points greedily in input order. Each point lands in exactly
// one cluster; the output order is the order in which clusters were opened.
func Run(points []Spawnpoint, radius float64, timeThreshold int) []*Cluster {
	var clusters []*Cluster
	for _, p := range points {
		if len(clusters) == 0 {
			clusters = append(clusters, newCluster(p))
			continue
		}

		best := clusters[0]
		bestCost := cost(p, best, timeThreshold)
		for _, c := range clusters[1:] {
			if cc := cost(p, c, timeThreshold); cc < bestCost {
				best, bestCost = c, cc
			}
		}

		if admissible(p, best, radius, timeThreshold) {
			best.add(p)
		} else {
			clusters = append(clusters, newCluster(p))
		}
	}
	return clusters
}

// Check verifies that every member lies within radius of the centroid and
// that the cluster's time span does not exceed timeThreshold.
func (c *Cluster) Check(radius float64, timeThreshold int) error {
	if c.MaxTime-c.MinTime > timeThreshold {
		return fmt.Errorf("time span %d exceeds threshold %d", c.MaxTime-c.MinTime, timeThreshold)
	}
	for _, m := range c.Members {
		if d := geo.Distance(m.Coord, c.Centroid); d > radius {
			return fmt.Errorf("spawnpoint %s is %.1fm from centroid, radius %.1fm", m.ID, d, radius)
		}
		if m.Time < c.MinTime || m.Time > c.MaxTime {
			return fmt.Errorf("spawnpoint %s time %d outside [%d, %d]", m.ID, m.Time, c.MinTime, c.MaxTime)
		}
	}
	return nil
}

// Spawnpoint returns the canonical scan point for the cluster. It uses the
// latest member time so every member has already spawned by then.
func (c *Cluster) Spawnpoint() Spawnpoint {
	return Spawnpoint{
		ID:    c.Members[0].ID,
		Coord: c.Centroid,
		Time:  c.MaxTime,
	}
}
