// Package planner turns a scan centre into an ordered list of waypoints.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/locplace/mapscan/internal/cluster"
	"github.com/locplace/mapscan/internal/geo"
	"github.com/locplace/mapscan/internal/geofence"
)

// Mode selects how waypoints are generated.
type Mode string

// Planner modes.
const (
	ModeHex            Mode = "hex"
	ModeHexSpawnpoints Mode = "hex_spawnpoints"
	ModeSpawn          Mode = "spawn"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeHex, ModeHexSpawnpoints, ModeSpawn:
		return m, nil
	}
	return "", fmt.Errorf("unknown scan mode %q", s)
}

// SpawnpointRadius is how close a known spawnpoint must be for a hex cell
// to survive in hex_spawnpoints mode, in metres.
const SpawnpointRadius = 70.0

// ErrNoWaypoints is returned when a plan is empty after filtering.
var ErrNoWaypoints = errors.New("no waypoints in scan area")

// Waypoint is one scheduled scan location. Appears and Disappears are Unix
// seconds; both zero means the point can be scanned at any time.
type Waypoint struct {
	Step       int
	Coord      geo.Coordinate
	Appears    int64
	Disappears int64
}

// Timed reports whether the waypoint carries a spawn window.
func (w Waypoint) Timed() bool {
	return w.Appears != 0 || w.Disappears != 0
}

// SpawnpointSource returns known spawnpoints inside a bounding box.
type SpawnpointSource interface {
	SpawnpointsIn(ctx context.Context, n, e, s, w float64) ([]cluster.Spawnpoint, error)
}

// Config holds planner configuration.
type Config struct {
	Mode            Mode
	NoSpawns        bool // scanning only for stops and arenas
	SpawnpointsFile string
	SpawnLifetime   time.Duration
	Fences          *geofence.Fences
}

// DefaultConfig returns the default planner configuration.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeHex,
		SpawnLifetime: 15 * time.Minute,
	}
}

// Planner produces waypoints for one of the supported modes.
type Planner struct {
	config Config
	source SpawnpointSource
	log    *zap.SugaredLogger
}

// New creates a planner. source may be nil when no database is available.
func New(config Config, source SpawnpointSource, logger *zap.SugaredLogger) (*Planner, error) {
	if _, err := ParseMode(string(config.Mode)); err != nil {
		return nil, err
	}
	if config.SpawnLifetime <= 0 {
		config.SpawnLifetime = DefaultConfig().SpawnLifetime
	}
	return &Planner{config: config, source: source, log: logger}, nil
}

// Mode returns the configured mode.
func (p *Planner) Mode() Mode {
	return p.config.Mode
}

// Recompute reports whether the plan must be regenerated on every refill
// because its timestamps move with the clock.
func (p *Planner) Recompute() bool {
	return p.config.Mode == ModeSpawn
}

// StepKm returns the hex cell spacing in km.
func (p *Planner) StepKm() float64 {
	if p.config.NoSpawns {
		return FortStepKm
	}
	return SpawnStepKm
}

// Plan returns the ordered waypoints for center.
func (p *Planner) Plan(ctx context.Context, center geo.Coordinate, stepLimit int, now time.Time) ([]Waypoint, error) {
	var (
		waypoints []Waypoint
		err       error
	)
	switch p.config.Mode {
	case ModeHex:
		waypoints = p.planHex(center, stepLimit)
	case ModeHexSpawnpoints:
		waypoints, err = p.planHexSpawnpoints(ctx, center, stepLimit)
	case ModeSpawn:
		waypoints, err = p.planSpawn(ctx, center, stepLimit, now)
	}
	if err != nil {
		return nil, err
	}
	if len(waypoints) == 0 {
		return nil, ErrNoWaypoints
	}
	return waypoints, nil
}

func (p *Planner) planHex(center geo.Coordinate, stepLimit int) []Waypoint {
	coords := p.config.Fences.Filter(HexSteps(center, stepLimit, p.StepKm()))
	waypoints := make([]Waypoint, len(coords))
	for i, c := range coords {
		waypoints[i] = Waypoint{Step: i + 1, Coord: c}
	}
	return waypoints
}

func (p *Planner) planHexSpawnpoints(ctx context.Context, center geo.Coordinate, stepLimit int) ([]Waypoint, error) {
	spawns, err := p.spawnpointsFromSource(ctx, center, stepLimit)
	if err != nil {
		return nil, err
	}

	var kept []geo.Coordinate
	for _, c := range HexSteps(center, stepLimit, p.StepKm()) {
		for _, sp := range spawns {
			if geo.Distance(c, sp.Coord) <= SpawnpointRadius {
				kept = append(kept, c)
				break
			}
		}
	}
	kept = p.config.Fences.Filter(kept)

	if p.log != nil {
		p.log.Infof("Hex spawnpoint filter kept %d of %d cells (%d known spawnpoints)",
			len(kept), HexCount(stepLimit), len(spawns))
	}

	waypoints := make([]Waypoint, len(kept))
	for i, c := range kept {
		waypoints[i] = Waypoint{Step: i + 1, Coord: c}
	}
	return waypoints, nil
}

func (p *Planner) spawnpointsFromSource(ctx context.Context, center geo.Coordinate, stepLimit int) ([]cluster.Spawnpoint, error) {
	if p.source == nil {
		return nil, errors.New("no spawnpoint source configured")
	}
	n, e, s, w := geo.HexBounds(center, stepLimit)
	spawns, err := p.source.SpawnpointsIn(ctx, n, e, s, w)
	if err != nil {
		return nil, fmt.Errorf("failed to load spawnpoints: %w", err)
	}
	return spawns, nil
}

// loadSpawnpoints reads the spawnpoint file, falling back to the source when
// the file is missing, unreadable or empty.
func (p *Planner) loadSpawnpoints(ctx context.Context, center geo.Coordinate, stepLimit int) ([]cluster.Spawnpoint, error) {
	if p.config.SpawnpointsFile != "" {
		spawns, err := cluster.ReadFile(p.config.SpawnpointsFile)
		if err != nil && p.log != nil {
			p.log.Errorf("Error loading spawnpoint file %s: %v; falling back to database",
				p.config.SpawnpointsFile, err)
		}
		if len(spawns) > 0 {
			n, e, s, w := geo.HexBounds(center, stepLimit)
			inside := spawns[:0]
			for _, sp := range spawns {
				if geo.InBounds(sp.Coord, n, e, s, w) {
					inside = append(inside, sp)
				}
			}
			return inside, nil
		}
	}
	return p.spawnpointsFromSource(ctx, center, stepLimit)
}

func (p *Planner) planSpawn(ctx context.Context, center geo.Coordinate, stepLimit int, now time.Time) ([]Waypoint, error) {
	spawns, err := p.loadSpawnpoints(ctx, center, stepLimit)
	if err != nil {
		return nil, err
	}
	if p.config.Fences.Enabled() {
		kept := spawns[:0]
		for _, sp := range spawns {
			if p.config.Fences.Contains(sp.Coord) {
				kept = append(kept, sp)
			}
		}
		spawns = kept
	}

	sort.SliceStable(spawns, func(i, j int) bool { return spawns[i].Time < spawns[j].Time })

	lifetime := int64(p.config.SpawnLifetime / time.Second)
	waypoints := make([]Waypoint, len(spawns))
	for i, sp := range spawns {
		appears := NextAppearance(sp.Time, SecondOfHour(now), now.Unix())
		waypoints[i] = Waypoint{
			Coord:      sp.Coord,
			Appears:    appears,
			Disappears: appears + lifetime,
		}
	}

	sort.SliceStable(waypoints, func(i, j int) bool { return waypoints[i].Appears < waypoints[j].Appears })
	for i := range waypoints {
		waypoints[i].Step = i + 1
	}

	if p.log != nil {
		p.log.Infof("Total of %d spawns to track", len(waypoints))
	}
	return waypoints, nil
}

// SecondOfHour returns the seconds elapsed in the current hour of t.
func SecondOfHour(t time.Time) int {
	return int(t.Unix() % 3600)
}

// NextAppearance returns the next Unix time at which a spawn with the given
// appearance second of the hour fires, given the current second of the hour
// and the current Unix time. A spawn due this very second is scheduled for
// the next hour.
func NextAppearance(appearanceSec, curSec int, now int64) int64 {
	if appearanceSec > curSec {
		return now + int64(appearanceSec-curSec)
	}
	return now + 3600 - int64(curSec-appearanceSec)
}
