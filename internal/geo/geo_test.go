package geo

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Coordinate
		want    float64
		epsilon float64
	}{
		{
			name: "same point",
			a:    Coordinate{Lat: 40.7, Lng: -74},
			b:    Coordinate{Lat: 40.7, Lng: -74},
			want: 0,
		},
		{
			name:    "one hundredth degree of latitude",
			a:       Coordinate{Lat: 0, Lng: 0},
			b:       Coordinate{Lat: 0.01, Lng: 0},
			want:    1113.19,
			epsilon: 0.5,
		},
		{
			name:    "one degree of longitude at the equator",
			a:       Coordinate{Lat: 0, Lng: 0},
			b:       Coordinate{Lat: 0, Lng: 1},
			want:    111319.49,
			epsilon: 1,
		},
		{
			name:    "altitude is ignored",
			a:       Coordinate{Lat: 0, Lng: 0, Alt: 100},
			b:       Coordinate{Lat: 0, Lng: 0, Alt: 5},
			want:    0,
			epsilon: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.IsNaN(got) {
				t.Fatalf("Distance() = NaN")
			}
			if math.Abs(got-tt.want) > tt.epsilon {
				t.Errorf("Distance() = %f, want %f (±%f)", got, tt.want, tt.epsilon)
			}
		})
	}
}

func TestDistanceNearlyEqualNeverNaN(t *testing.T) {
	a := Coordinate{Lat: 51.5007292, Lng: -0.1246254}
	b := Coordinate{Lat: 51.5007292, Lng: -0.1246254000000001}
	got := Distance(a, b)
	if math.IsNaN(got) || got > 0.01 {
		t.Errorf("Distance() = %f, want ~0", got)
	}
}

func TestDestinationRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		origin  Coordinate
		km      float64
		bearing float64
	}{
		{"north 10km", Coordinate{Lat: 40.7, Lng: -74}, 10, North},
		{"south 5km", Coordinate{Lat: -33.9, Lng: 151.2}, 5, South},
		{"east along equator", Coordinate{Lat: 0, Lng: 10}, 10, East},
		{"west along equator", Coordinate{Lat: 0, Lng: -45}, 2.5, West},
		{"short diagonal", Coordinate{Lat: 45, Lng: 7}, 1, 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			there := Destination(tt.origin, tt.km, tt.bearing)
			back := Destination(there, tt.km, math.Mod(tt.bearing+180, 360))
			if d := Distance(tt.origin, back); d > 1 {
				t.Errorf("round trip drifted %f m", d)
			}
		})
	}
}

func TestDestinationPreservesAltitude(t *testing.T) {
	got := Destination(Coordinate{Lat: 1, Lng: 1, Alt: 42}, 1, East)
	if got.Alt != 42 {
		t.Errorf("Alt = %f, want 42", got.Alt)
	}
}

func TestIntermediatePoint(t *testing.T) {
	a := Coordinate{Lat: 10, Lng: 20}
	b := Coordinate{Lat: 11, Lng: 21}

	if got := IntermediatePoint(a, b, 0); got != a {
		t.Errorf("IntermediatePoint(a, b, 0) = %v, want %v", got, a)
	}
	if got := IntermediatePoint(a, b, 1); got != b {
		t.Errorf("IntermediatePoint(a, b, 1) = %v, want %v", got, b)
	}
	if got := IntermediatePoint(a, a, 0.3); got != a {
		t.Errorf("IntermediatePoint(a, a, 0.3) = %v, want %v", got, a)
	}

	mid := IntermediatePoint(a, b, 0.5)
	da, db := Distance(a, mid), Distance(mid, b)
	if math.Abs(da-db) > 1 {
		t.Errorf("midpoint not equidistant: %f vs %f", da, db)
	}
}

func TestIntermediatePointNormalizesLongitude(t *testing.T) {
	a := Coordinate{Lat: 0, Lng: 179.5}
	b := Coordinate{Lat: 0, Lng: -179.5}
	mid := IntermediatePoint(a, b, 0.5)
	if mid.Lng <= -180 || mid.Lng > 180 {
		t.Fatalf("Lng = %f out of range", mid.Lng)
	}
	if math.Abs(math.Abs(mid.Lng)-180) > 1e-6 {
		t.Errorf("Lng = %f, want ±180", mid.Lng)
	}
}

func TestJitter(t *testing.T) {
	rnd := rand.New(rand.NewPCG(1, 2))
	origin := Coordinate{Lat: 52.52, Lng: 13.4, Alt: 34}

	for i := 0; i < 200; i++ {
		got := Jitter(origin, 10, rnd)
		if d := Distance(origin, got); d > 10.02 {
			t.Fatalf("Jitter moved %f m, want <= 10", d)
		}
		if got.Alt != origin.Alt {
			t.Fatalf("Alt = %f, want %f", got.Alt, origin.Alt)
		}
	}

	if got := Jitter(origin, 0, rnd); got != origin {
		t.Errorf("Jitter(0) = %v, want origin", got)
	}
}

func TestHexBounds(t *testing.T) {
	center := Coordinate{Lat: 0, Lng: 0}
	n, e, s, w := HexBounds(center, 3)

	if !InBounds(center, n, e, s, w) {
		t.Fatal("center not inside its own bounds")
	}
	// 0.07 * 7 = 0.49 km in each direction.
	want := 490.0
	if d := Distance(center, Coordinate{Lat: n}); math.Abs(d-want) > 1 {
		t.Errorf("north extent = %f m, want %f", d, want)
	}
	if d := Distance(center, Coordinate{Lng: w}); math.Abs(d-want) > 1 {
		t.Errorf("west extent = %f m, want %f", d, want)
	}
	if InBounds(Coordinate{Lat: n + 0.001}, n, e, s, w) {
		t.Error("point north of bounds reported inside")
	}
}
