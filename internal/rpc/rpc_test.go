package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/locplace/mapscan/internal/account"
	"github.com/locplace/mapscan/internal/geo"
)

// fakeClock records sleeps and advances virtual time by them.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

// fakeClient answers calls from canned JSON. Paged results are consumed in
// order before falling back to results.
type fakeClient struct {
	results  map[Method]string
	pages    map[Method][]string
	requests []Request
	position geo.Coordinate
}

func (f *fakeClient) SetPosition(c geo.Coordinate) { f.position = c }
func (f *fakeClient) SetProxy(string)              {}

func (f *fakeClient) Login(context.Context) (time.Time, error) {
	return time.Now().Add(30 * time.Minute), nil
}

func (f *fakeClient) Call(_ context.Context, req Request) (*Response, error) {
	f.requests = append(f.requests, req)
	resp := &Response{StatusCode: 1, Results: make(map[Method]json.RawMessage)}
	for _, c := range req.Calls {
		if p := f.pages[c.Method]; len(p) > 0 {
			resp.Results[c.Method] = json.RawMessage(p[0])
			f.pages[c.Method] = p[1:]
			continue
		}
		if r, ok := f.results[c.Method]; ok {
			resp.Results[c.Method] = json.RawMessage(r)
		}
	}
	return resp, nil
}

func (f *fakeClient) mainMethods() []Method {
	out := make([]Method, len(f.requests))
	for i, r := range f.requests {
		if len(r.Calls) > 0 {
			out[i] = r.Calls[0].Method
		}
	}
	return out
}

func TestNewRequestCompanionParams(t *testing.T) {
	id := &account.Identity{InventoryTimestampMs: 42, RemoteConfig: account.RemoteConfig{Hash: "abc"}}
	req := NewRequest(id, Call{Method: MethodGetMapObjects}, CommonCompanions...)

	if len(req.Calls) != 1+len(CommonCompanions) {
		t.Fatalf("len(Calls) = %d, want %d", len(req.Calls), 1+len(CommonCompanions))
	}
	if req.Calls[0].Method != MethodGetMapObjects {
		t.Errorf("first call = %s, want %s", req.Calls[0].Method, MethodGetMapObjects)
	}
	for _, c := range req.Calls[1:] {
		switch c.Method {
		case MethodGetInventory:
			if c.Params["last_timestamp_ms"] != int64(42) {
				t.Errorf("inventory params = %v", c.Params)
			}
		case MethodDownloadSettings:
			if c.Params["hash"] != "abc" {
				t.Errorf("settings params = %v", c.Params)
			}
		}
	}
}

func TestAbsorb(t *testing.T) {
	tests := []struct {
		name      string
		results   map[Method]string
		wantURL   string
		wantTS    int64
		wantLevel int
	}{
		{
			name:   "no companions",
			wantTS: 100,
		},
		{
			name: "challenge shown",
			results: map[Method]string{
				MethodCheckChallenge: `{"show_challenge":true,"challenge_url":"http://c/x"}`,
			},
			wantURL: "http://c/x",
			wantTS:  100,
		},
		{
			name: "challenge not shown",
			results: map[Method]string{
				MethodCheckChallenge: `{"show_challenge":false,"challenge_url":" "}`,
			},
			wantTS: 100,
		},
		{
			name: "inventory moves forward",
			results: map[Method]string{
				MethodGetInventory: `{"new_timestamp_ms":200,"level":21}`,
			},
			wantTS:    200,
			wantLevel: 21,
		},
		{
			name: "inventory never moves back",
			results: map[Method]string{
				MethodGetInventory: `{"new_timestamp_ms":50}`,
			},
			wantTS: 100,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := &account.Identity{InventoryTimestampMs: 100}
			resp := &Response{Results: make(map[Method]json.RawMessage)}
			for m, r := range tt.results {
				resp.Results[m] = json.RawMessage(r)
			}
			if err := Absorb(id, resp); err != nil {
				t.Fatalf("Absorb() error = %v", err)
			}
			if id.ChallengeURL != tt.wantURL {
				t.Errorf("ChallengeURL = %q, want %q", id.ChallengeURL, tt.wantURL)
			}
			if id.InventoryTimestampMs != tt.wantTS {
				t.Errorf("InventoryTimestampMs = %d, want %d", id.InventoryTimestampMs, tt.wantTS)
			}
			if id.Level != tt.wantLevel {
				t.Errorf("Level = %d, want %d", id.Level, tt.wantLevel)
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	resp := &Response{Results: map[Method]json.RawMessage{MethodGetPlayer: json.RawMessage(`{"banned":`)}}
	var p PlayerResult
	if _, err := resp.Decode(MethodGetPlayer, &p); err == nil {
		t.Error("Decode() expected error for truncated JSON")
	}
	if ok, err := resp.Decode(MethodGetInventory, &p); ok || err != nil {
		t.Errorf("Decode(absent) = %v, %v; want false, nil", ok, err)
	}
}
