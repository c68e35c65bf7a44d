package account

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/locplace/mapscan/internal/geo"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingHolder struct {
	mu   sync.Mutex
	held []*Identity
}

func (h *recordingHolder) Hold(id *Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.held = append(h.held, id)
}

func newTestPool(t *testing.T, kph float64, names ...string) (*Pool, *fakeClock) {
	t.Helper()
	creds := make([]Credentials, len(names))
	for i, n := range names {
		creds[i] = Credentials{Username: n, Password: "pw"}
	}
	ids, err := LoadIdentities(creds)
	if err != nil {
		t.Fatal(err)
	}
	config := DefaultPoolConfig()
	config.KPHLimit = kph
	pool := NewPool(config, ids, nil, nil)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	pool.SetClock(clock.Now)
	return pool, clock
}

func TestAcquireSpeedGate(t *testing.T) {
	pool, clock := newTestPool(t, 35, "A", "B")

	a, _ := pool.Acquire(DefaultSubset, geo.Coordinate{Lat: 0, Lng: 0})
	if a == nil || a.Username != "A" {
		t.Fatalf("Acquire() = %v, want A", a)
	}
	pool.Release(a, OutcomeOK)

	clock.Advance(60 * time.Second)

	got, _ := pool.Acquire(DefaultSubset, geo.Coordinate{Lat: 0.01, Lng: 0})
	if got == nil || got.Username != "B" {
		t.Fatalf("Acquire() = %v, want B (A needs ~114s)", got)
	}
	pool.Release(got, OutcomeOK)

	// A never left the origin.
	got, _ = pool.Acquire(DefaultSubset, geo.Coordinate{Lat: 0, Lng: 0})
	if got == nil || got.Username != "A" {
		t.Fatalf("Acquire(origin) = %v, want A", got)
	}
}

func TestAcquireReturnsWaitHint(t *testing.T) {
	pool, clock := newTestPool(t, 35, "A")

	a, _ := pool.Acquire(DefaultSubset, geo.Coordinate{})
	pool.Release(a, OutcomeOK)
	clock.Advance(60 * time.Second)

	got, wait := pool.Acquire(DefaultSubset, geo.Coordinate{Lat: 0.01})
	if got != nil {
		t.Fatalf("Acquire() = %v, want nil", got.Username)
	}
	// 1.113 km at 35 km/h is ~114.5 s; 60 s have passed.
	if wait < 50*time.Second || wait > 60*time.Second {
		t.Errorf("wait = %v, want ~54s", wait)
	}

	clock.Advance(wait)
	if got, _ := pool.Acquire(DefaultSubset, geo.Coordinate{Lat: 0.01}); got == nil {
		t.Error("Acquire() after waiting returned nil")
	}
}

func TestAcquireSpeedGateDisabled(t *testing.T) {
	pool, _ := newTestPool(t, 0, "A")
	a, _ := pool.Acquire(DefaultSubset, geo.Coordinate{})
	pool.Release(a, OutcomeOK)
	if got, _ := pool.Acquire(DefaultSubset, geo.Coordinate{Lat: 10}); got == nil {
		t.Error("Acquire() with kph_limit 0 should not gate")
	}
}

func TestAcquireSkipsUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		state   State
	}{
		{"captcha", OutcomeCaptcha, StateCaptcha},
		{"banned", OutcomeBanned, StateBanned},
		{"failed", OutcomeFailed, StateCooldown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, _ := newTestPool(t, 0, "A")
			a, _ := pool.Acquire(DefaultSubset, geo.Coordinate{})
			pool.Release(a, tt.outcome)

			if got := pool.State(a); got != tt.state {
				t.Errorf("State() = %s, want %s", got, tt.state)
			}
			if got, _ := pool.Acquire(DefaultSubset, geo.Coordinate{}); got != nil {
				t.Errorf("Acquire() = %s, want nil", got.Username)
			}
		})
	}
}

func TestAcquireExclusive(t *testing.T) {
	pool, _ := newTestPool(t, 0, "A", "B", "C")

	var inUse [3]atomic.Int32
	index := map[string]int{"A": 0, "B": 1, "C": 2}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id, _ := pool.Acquire(DefaultSubset, geo.Coordinate{})
				if id == nil {
					continue
				}
				if n := inUse[index[id.Username]].Add(1); n != 1 {
					t.Errorf("%s held by %d workers", id.Username, n)
				}
				inUse[index[id.Username]].Add(-1)
				pool.Release(id, OutcomeOK)
			}
		}()
	}
	wg.Wait()
}

func TestReleaseCaptchaHandsToHolder(t *testing.T) {
	pool, _ := newTestPool(t, 0, "A")
	holder := &recordingHolder{}
	pool.SetCaptchaHolder(holder)

	a, _ := pool.Acquire(DefaultSubset, geo.Coordinate{})
	a.ChallengeURL = "http://c/x"
	pool.Release(a, OutcomeCaptcha)

	if len(holder.held) != 1 || holder.held[0] != a {
		t.Fatalf("holder got %v, want [A]", holder.held)
	}
	if got := pool.CaptchaCount(a); got != 1 {
		t.Errorf("CaptchaCount() = %d, want 1", got)
	}

	pool.Return(a)
	if a.ChallengeURL != "" {
		t.Errorf("ChallengeURL = %q after Return, want empty", a.ChallengeURL)
	}
	if got, _ := pool.Acquire(DefaultSubset, geo.Coordinate{}); got != a {
		t.Error("Acquire() after Return should hand out A")
	}
}

func TestRecycle(t *testing.T) {
	pool, clock := newTestPool(t, 0, "A", "B")

	a, _ := pool.Acquire(DefaultSubset, geo.Coordinate{})
	b, _ := pool.Acquire(DefaultSubset, geo.Coordinate{})
	pool.Release(a, OutcomeFailed)
	pool.Rest(b, 10*time.Minute)

	if recycled, resting := pool.Recycle(); recycled != 0 || resting != 2 {
		t.Fatalf("Recycle() = %d, %d; want 0, 2", recycled, resting)
	}

	clock.Advance(11 * time.Minute)
	if recycled, resting := pool.Recycle(); recycled != 1 || resting != 1 {
		t.Fatalf("Recycle() = %d, %d; want 1, 1", recycled, resting)
	}
	if pool.State(b) != StateIdle {
		t.Errorf("State(B) = %s, want idle", pool.State(b))
	}

	clock.Advance(2 * time.Hour)
	if recycled, _ := pool.Recycle(); recycled != 1 {
		t.Errorf("Recycle() recycled %d, want 1", recycled)
	}
}

func TestSubsets(t *testing.T) {
	ids, err := LoadIdentities([]Credentials{
		{Username: "a", Password: "x"},
		{Username: "b", Password: "x", Subset: "high-level"},
	})
	if err != nil {
		t.Fatal(err)
	}
	pool := NewPool(DefaultPoolConfig(), ids, nil, nil)

	if got := pool.Subsets(); len(got) != 2 || got[0] != DefaultSubset || got[1] != "high-level" {
		t.Errorf("Subsets() = %v", got)
	}
	id, _ := pool.Acquire("high-level", geo.Coordinate{})
	if id == nil || id.Username != "b" {
		t.Errorf("Acquire(high-level) = %v, want b", id)
	}
	if id, _ := pool.Acquire("missing", geo.Coordinate{}); id != nil {
		t.Errorf("Acquire(missing) = %v, want nil", id)
	}
}

func TestLoadIdentitiesErrors(t *testing.T) {
	tests := []struct {
		name  string
		creds []Credentials
	}{
		{"missing password", []Credentials{{Username: "a"}}},
		{"duplicate", []Credentials{{Username: "a", Password: "x"}, {Username: "a", Password: "y"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadIdentities(tt.creds); err == nil {
				t.Error("LoadIdentities() expected error")
			}
		})
	}
}

func TestAssignProxy(t *testing.T) {
	tests := []struct {
		name     string
		rotation Rotation
		rotate   bool
		want     []string
	}{
		{"round robin rotates", RotationRound, true, []string{"p2", "p3", "p1"}},
		{"rotation none keeps proxy", RotationNone, true, []string{"p1", "p1", "p1"}},
		{"no rotate request keeps proxy", RotationRound, false, []string{"p1", "p1", "p1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := LoadIdentities([]Credentials{{Username: "a", Password: "x"}})
			if err != nil {
				t.Fatal(err)
			}
			proxies := NewProxyRotator([]string{"p1", "p2", "p3"}, tt.rotation)
			pool := NewPool(DefaultPoolConfig(), ids, proxies, nil)

			if got := pool.ProxyURL(ids[0]); got != "p1" {
				t.Fatalf("initial proxy = %q, want p1", got)
			}
			for i, want := range tt.want {
				if got := pool.AssignProxy(ids[0], tt.rotate); got != want {
					t.Errorf("AssignProxy() #%d = %q, want %q", i, got, want)
				}
			}
		})
	}
}

func TestAssignProxyDisabled(t *testing.T) {
	pool, _ := newTestPool(t, 0, "A")
	id, _ := pool.Acquire(DefaultSubset, geo.Coordinate{})
	if got := pool.AssignProxy(id, true); got != "" {
		t.Errorf("AssignProxy() = %q, want empty", got)
	}
}

func TestDeviceForDeterministic(t *testing.T) {
	a := DeviceFor("user", "pass")
	b := DeviceFor("user", "pass")
	if a != b {
		t.Errorf("DeviceFor() not deterministic: %+v vs %+v", a, b)
	}
	if len(a.ID) != 32 {
		t.Errorf("ID = %q, want 32 hex chars", a.ID)
	}
	if a.HardwareModel == "" || a.FirmwareType == "" {
		t.Errorf("incomplete device %+v", a)
	}

	found := false
	for _, fw := range firmwarePool(a.ModelBoot) {
		if fw == a.FirmwareType {
			found = true
		}
	}
	if !found {
		t.Errorf("firmware %s not valid for %s", a.FirmwareType, a.ModelBoot)
	}
}

func TestFirmwarePool(t *testing.T) {
	tests := []struct {
		boot string
		want int
	}{
		{"iPhone10,3", 6},
		{"iPhone9,1", 17},
		{"iPhone8,4", 23},
		{"iPhone5,2", 23},
		{"iPhone7,1", 29},
	}
	for _, tt := range tests {
		if got := len(firmwarePool(tt.boot)); got != tt.want {
			t.Errorf("len(firmwarePool(%s)) = %d, want %d", tt.boot, got, tt.want)
		}
	}
}

func TestTicketValid(t *testing.T) {
	now := time.Unix(1000, 0)
	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{"no ticket", time.Time{}, false},
		{"expires soon", now.Add(30 * time.Second), false},
		{"valid", now.Add(5 * time.Minute), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := &Identity{TicketExpiry: tt.expiry}
			if got := id.TicketValid(now); got != tt.want {
				t.Errorf("TicketValid() = %v, want %v", got, tt.want)
			}
		})
	}
}
