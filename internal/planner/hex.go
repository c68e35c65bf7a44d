package planner

import (
	"math"

	"github.com/locplace/mapscan/internal/geo"
)

// Step distances in km for hex tiling.
const (
	SpawnStepKm = 0.070
	FortStepKm  = 0.900
)

// HexCount is the number of cells in a hex spiral with the given ring count.
func HexCount(steps int) int {
	if steps < 1 {
		return 1
	}
	return 1 + 3*steps*(steps-1)
}

// HexSteps returns the centres of a flat-top hex spiral around center with
// steps rings (the centre counts as the first ring) spaced for a scan radius
// of stepKm. The walk ends near the centre, so the tail is rotated to the
// front to scan the middle first.
func HexSteps(center geo.Coordinate, steps int, stepKm float64) []geo.Coordinate {
	results := rawHexSteps(center, steps, stepKm)
	switch {
	case steps == 3:
		results = rotateTail(results, 2)
	case steps > 3:
		results = rotateTail(results, 7)
	}
	return results
}

func rotateTail(s []geo.Coordinate, n int) []geo.Coordinate {
	if n >= len(s) {
		return s
	}
	out := make([]geo.Coordinate, 0, len(s))
	out = append(out, s[len(s)-n:]...)
	return append(out, s[:len(s)-n]...)
}

func rawHexSteps(center geo.Coordinate, steps int, stepKm float64) []geo.Coordinate {
	xdist := math.Sqrt(3) * stepKm
	ydist := 1.5 * stepKm

	results := make([]geo.Coordinate, 0, HexCount(steps))
	results = append(results, center)
	if steps <= 1 {
		return results
	}

	// side picks between two bearings depending on ring parity.
	side := func(ring int, odd, even float64) float64 {
		if ring%2 == 1 {
			return odd
		}
		return even
	}

	loc := center
	move := func(km, bearing float64) {
		loc = geo.Destination(loc, km, bearing)
	}

	for ring := 1; ring < steps; ring++ {
		move(xdist, side(ring, geo.West, geo.East))
		results = append(results, loc)

		for i := 0; i < ring; i++ {
			move(ydist, geo.North)
			move(xdist/2, side(ring, geo.East, geo.West))
			results = append(results, loc)
		}
		for i := 0; i < ring; i++ {
			move(xdist, side(ring, geo.East, geo.West))
			results = append(results, loc)
		}
		for i := 0; i < ring; i++ {
			move(ydist, geo.South)
			move(xdist/2, side(ring, geo.East, geo.West))
			results = append(results, loc)
		}
	}

	ring := steps - 1
	move(ydist, geo.South)
	move(xdist/2, side(ring, geo.West, geo.East))
	results = append(results, loc)

	for ; ring > 0; ring-- {
		if ring == 1 {
			move(xdist, geo.West)
			results = append(results, loc)
			continue
		}
		for i := 0; i < ring-1; i++ {
			move(ydist, geo.South)
			move(xdist/2, side(ring, geo.West, geo.East))
			results = append(results, loc)
		}
		for i := 0; i < ring; i++ {
			move(xdist, side(ring, geo.West, geo.East))
			results = append(results, loc)
		}
		for i := 0; i < ring-1; i++ {
			move(ydist, geo.North)
			move(xdist/2, side(ring, geo.West, geo.East))
			results = append(results, loc)
		}
		move(xdist, side(ring, geo.East, geo.West))
		results = append(results, loc)
	}

	return results
}
