package planner

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/locplace/mapscan/internal/cluster"
	"github.com/locplace/mapscan/internal/geo"
	"github.com/locplace/mapscan/internal/geofence"
)

type fakeSource struct {
	spawns []cluster.Spawnpoint
	err    error
	calls  int
}

func (f *fakeSource) SpawnpointsIn(ctx context.Context, n, e, s, w float64) ([]cluster.Spawnpoint, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []cluster.Spawnpoint
	for _, sp := range f.spawns {
		if geo.InBounds(sp.Coord, n, e, s, w) {
			out = append(out, sp)
		}
	}
	return out, nil
}

func TestHexCount(t *testing.T) {
	for steps := 1; steps <= 12; steps++ {
		got := len(HexSteps(geo.Coordinate{Lat: 40, Lng: -74}, steps, SpawnStepKm))
		if want := HexCount(steps); got != want {
			t.Errorf("steps=%d: len(HexSteps()) = %d, want %d", steps, got, want)
		}
	}
}

func TestHexStepsCenterNugget(t *testing.T) {
	center := geo.Coordinate{Lat: 0, Lng: 0}
	raw := rawHexSteps(center, 3, SpawnStepKm)
	got := HexSteps(center, 3, SpawnStepKm)

	if len(got) != 19 {
		t.Fatalf("len(HexSteps()) = %d, want 19", len(got))
	}
	if got[0] != raw[17] || got[1] != raw[18] {
		t.Errorf("first two steps are not the last two of the raw spiral")
	}
	if got[2] != center {
		t.Errorf("got[2] = %v, want center", got[2])
	}

	got = HexSteps(center, 5, SpawnStepKm)
	raw = rawHexSteps(center, 5, SpawnStepKm)
	if got[0] != raw[len(raw)-7] || got[7] != center {
		t.Errorf("steps=5 should rotate the last seven cells to the front")
	}
}

func TestHexStepsGeometry(t *testing.T) {
	center := geo.Coordinate{Lat: 0, Lng: 0}
	const steps = 4
	cells := HexSteps(center, steps, SpawnStepKm)
	spacing := math.Sqrt(3) * SpawnStepKm * 1000

	for i := range cells {
		nearest := math.Inf(1)
		for j := range cells {
			if i == j {
				continue
			}
			d := geo.Distance(cells[i], cells[j])
			if d < 1 {
				t.Fatalf("cells %d and %d coincide", i, j)
			}
			nearest = math.Min(nearest, d)
		}
		if math.Abs(nearest-spacing)/spacing > 0.01 {
			t.Errorf("cell %d nearest neighbour at %.2fm, want %.2fm", i, nearest, spacing)
		}
		if d := geo.Distance(center, cells[i]); d > float64(steps-1)*spacing*1.01 {
			t.Errorf("cell %d is %.2fm from center, outside ring %d", i, d, steps-1)
		}
	}
}

func TestNextAppearance(t *testing.T) {
	tests := []struct {
		name          string
		appearanceSec int
		curSec        int
		now           int64
		want          int64
	}{
		{"later this hour", 100, 50, 1000, 1050},
		{"hour wrap", 3595, 5, 10000, 13590},
		{"already passed", 10, 20, 5000, 8590},
		{"exactly now", 20, 20, 5000, 8600},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextAppearance(tt.appearanceSec, tt.curSec, tt.now); got != tt.want {
				t.Errorf("NextAppearance() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPlanHex(t *testing.T) {
	p, err := New(Config{Mode: ModeHex}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	waypoints, err := p.Plan(context.Background(), geo.Coordinate{Lat: 0, Lng: 0}, 3, time.Now())
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(waypoints) != 19 {
		t.Fatalf("len(Plan()) = %d, want 19", len(waypoints))
	}
	for i, w := range waypoints {
		if w.Step != i+1 || w.Timed() {
			t.Errorf("waypoint %d = %+v", i, w)
		}
	}
	if p.Recompute() {
		t.Error("hex mode should not recompute every cycle")
	}
}

func TestPlanHexNoSpawnsSpacing(t *testing.T) {
	p, err := New(Config{Mode: ModeHex, NoSpawns: true}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	waypoints, err := p.Plan(context.Background(), geo.Coordinate{}, 2, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	want := math.Sqrt(3) * FortStepKm * 1000
	if d := geo.Distance(waypoints[0].Coord, waypoints[1].Coord); math.Abs(d-want)/want > 0.01 {
		t.Errorf("spacing = %.1fm, want %.1fm", d, want)
	}
}

func TestPlanHexGeofenced(t *testing.T) {
	// A small square around the centre keeps only the middle cell.
	fences := &geofence.Fences{Included: []geofence.Area{{
		Name: "tiny",
		Polygon: []geo.Coordinate{
			{Lat: -0.0001, Lng: -0.0001}, {Lat: -0.0001, Lng: 0.0001},
			{Lat: 0.0001, Lng: 0.0001}, {Lat: 0.0001, Lng: -0.0001},
		},
	}}}
	p, err := New(Config{Mode: ModeHex, Fences: fences}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	waypoints, err := p.Plan(context.Background(), geo.Coordinate{}, 3, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(waypoints) != 1 || waypoints[0].Coord != (geo.Coordinate{}) {
		t.Errorf("Plan() = %+v, want only the centre", waypoints)
	}
}

func TestPlanHexSpawnpoints(t *testing.T) {
	center := geo.Coordinate{Lat: 0, Lng: 0}
	src := &fakeSource{spawns: []cluster.Spawnpoint{
		{ID: "near-center", Coord: geo.Coordinate{Lat: 0.0001, Lng: 0}},
		{ID: "far-away", Coord: geo.Coordinate{Lat: 1, Lng: 1}},
	}}
	p, err := New(Config{Mode: ModeHexSpawnpoints}, src, nil)
	if err != nil {
		t.Fatal(err)
	}

	waypoints, err := p.Plan(context.Background(), center, 3, time.Now())
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(waypoints) == 0 || len(waypoints) >= 19 {
		t.Fatalf("len(Plan()) = %d, want a filtered subset", len(waypoints))
	}
	for _, w := range waypoints {
		if geo.Distance(w.Coord, src.spawns[0].Coord) > SpawnpointRadius {
			t.Errorf("waypoint %v has no spawnpoint within %.0fm", w.Coord, SpawnpointRadius)
		}
	}
}

func TestPlanHexSpawnpointsEmpty(t *testing.T) {
	p, err := New(Config{Mode: ModeHexSpawnpoints}, &fakeSource{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Plan(context.Background(), geo.Coordinate{}, 3, time.Now()); !errors.Is(err, ErrNoWaypoints) {
		t.Errorf("Plan() error = %v, want ErrNoWaypoints", err)
	}
}

func TestPlanSpawnOrdering(t *testing.T) {
	src := &fakeSource{spawns: []cluster.Spawnpoint{
		{ID: "a", Coord: geo.Coordinate{Lat: 0.0001}, Time: 100},
		{ID: "b", Coord: geo.Coordinate{Lat: 0.0002}, Time: 3000},
		{ID: "c", Coord: geo.Coordinate{Lat: 0.0003}, Time: 1900},
	}}
	p, err := New(Config{Mode: ModeSpawn}, src, nil)
	if err != nil {
		t.Fatal(err)
	}

	// 1800 seconds into the hour.
	now := time.Unix(3600*100+1800, 0)
	waypoints, err := p.Plan(context.Background(), geo.Coordinate{}, 5, now)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(waypoints) != 3 {
		t.Fatalf("len(Plan()) = %d, want 3", len(waypoints))
	}

	wantAppears := []int64{now.Unix() + 100, now.Unix() + 1200, now.Unix() + 1900}
	for i, w := range waypoints {
		if w.Appears != wantAppears[i] {
			t.Errorf("waypoint %d appears = %d, want %d", i, w.Appears, wantAppears[i])
		}
		if w.Disappears != w.Appears+900 {
			t.Errorf("waypoint %d disappears = %d, want appears+900", i, w.Disappears)
		}
		if w.Step != i+1 {
			t.Errorf("waypoint %d step = %d", i, w.Step)
		}
	}
	if !p.Recompute() {
		t.Error("spawn mode should recompute every cycle")
	}
}

func TestPlanSpawnLifetime(t *testing.T) {
	src := &fakeSource{spawns: []cluster.Spawnpoint{{ID: "a", Time: 10}}}
	p, err := New(Config{Mode: ModeSpawn, SpawnLifetime: 30 * time.Minute}, src, nil)
	if err != nil {
		t.Fatal(err)
	}
	waypoints, err := p.Plan(context.Background(), geo.Coordinate{}, 1, time.Unix(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if got := waypoints[0].Disappears - waypoints[0].Appears; got != 1800 {
		t.Errorf("lifetime = %ds, want 1800", got)
	}
}

func TestPlanSpawnFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spawns.json")
	data := `[{"sid": "f", "lat": 0.0001, "lng": 0.0001, "time": 60}, {"sid": "out", "lat": 5, "lng": 5, "time": 60}]`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{}
	p, err := New(Config{Mode: ModeSpawn, SpawnpointsFile: path}, src, nil)
	if err != nil {
		t.Fatal(err)
	}
	waypoints, err := p.Plan(context.Background(), geo.Coordinate{}, 3, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(waypoints) != 1 {
		t.Errorf("len(Plan()) = %d, want 1", len(waypoints))
	}
	if src.calls != 0 {
		t.Errorf("source consulted %d times, want 0", src.calls)
	}
}

func TestPlanSpawnFileFallback(t *testing.T) {
	src := &fakeSource{spawns: []cluster.Spawnpoint{{ID: "db", Time: 10}}}
	p, err := New(Config{Mode: ModeSpawn, SpawnpointsFile: "/nonexistent/spawns.json"}, src, nil)
	if err != nil {
		t.Fatal(err)
	}
	waypoints, err := p.Plan(context.Background(), geo.Coordinate{}, 3, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(waypoints) != 1 || src.calls != 1 {
		t.Errorf("len = %d, calls = %d; want 1, 1", len(waypoints), src.calls)
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	if _, err := New(Config{Mode: "speed"}, nil, nil); err == nil {
		t.Error("New() expected error for unknown mode")
	}
}
