package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/locplace/mapscan/internal/account"
	"github.com/locplace/mapscan/internal/geo"
	"github.com/locplace/mapscan/internal/scheduler"
	"github.com/locplace/mapscan/pkg/api"
)

const testKey = "test-admin-key-12345"

type fakeControl struct {
	mu       sync.Mutex
	paused   bool
	location *geo.Coordinate
}

func (c *fakeControl) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

func (c *fakeControl) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

func (c *fakeControl) SetLocation(l geo.Coordinate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.location = &l
}

func (c *fakeControl) Status() scheduler.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := scheduler.Status{Paused: c.paused, QueueLength: 4, Cycles: 2}
	if c.location != nil {
		st.Center, st.HasCenter = *c.location, true
	}
	return st
}

type fakeTokens struct {
	tokens []string
	err    error
}

func (f *fakeTokens) InsertToken(_ context.Context, token string) error {
	if f.err != nil {
		return f.err
	}
	f.tokens = append(f.tokens, token)
	return nil
}

type fakeIdentities map[account.State]int

func (f fakeIdentities) Counts() map[account.State]int { return f }

type fakeWorkers []api.WorkerInfo

func (f fakeWorkers) Workers() []api.WorkerInfo { return f }

type fakeQueue int

func (q fakeQueue) Len() int { return int(q) }

func newTestServer() (http.Handler, *fakeControl, *fakeTokens) {
	control := &fakeControl{}
	tokens := &fakeTokens{}
	h := New(Config{AdminAPIKey: testKey, Gatherer: prometheus.NewRegistry()}, Deps{
		Control:    control,
		Tokens:     tokens,
		Identities: fakeIdentities{account.StateIdle: 3, account.StateCaptcha: 1},
		Workers:    fakeWorkers{{Index: 0, Username: "alice", Success: 5}},
		Captcha:    fakeQueue(1),
	})
	return h, control, tokens
}

func do(h http.Handler, method, path, body string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authed {
		req.Header.Set("X-Admin-Key", testKey)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestServer()
	rr := do(h, "GET", "/health", "", false)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("GET /health = %d %q", rr.Code, rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _ := newTestServer()
	if rr := do(h, "GET", "/metrics", "", false); rr.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200", rr.Code)
	}
}

func TestControlRequiresKey(t *testing.T) {
	h, control, _ := newTestServer()
	routes := []struct{ method, path string }{
		{"POST", "/control/pause"},
		{"POST", "/control/resume"},
		{"POST", "/control/location"},
		{"GET", "/control/status"},
		{"POST", "/captcha/tokens"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			if rr := do(h, rt.method, rt.path, "{}", false); rr.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rr.Code)
			}
		})
	}
	if control.paused {
		t.Error("unauthenticated pause took effect")
	}
}

func TestPauseResume(t *testing.T) {
	h, control, _ := newTestServer()

	if rr := do(h, "POST", "/control/pause", "", true); rr.Code != http.StatusOK {
		t.Fatalf("pause = %d", rr.Code)
	}
	if !control.paused {
		t.Error("pause did not reach the scheduler")
	}
	if rr := do(h, "POST", "/control/resume", "", true); rr.Code != http.StatusOK {
		t.Fatalf("resume = %d", rr.Code)
	}
	if control.paused {
		t.Error("resume did not reach the scheduler")
	}
}

func TestSetLocation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantLoc    *geo.Coordinate
	}{
		{
			name:       "valid",
			body:       `{"latitude":40.7128,"longitude":-74.006}`,
			wantStatus: http.StatusAccepted,
			wantLoc:    &geo.Coordinate{Lat: 40.7128, Lng: -74.006},
		},
		{
			name:       "invalid json",
			body:       `{"latitude":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "out of range",
			body:       `{"latitude":91,"longitude":0}`,
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, control, _ := newTestServer()
			rr := do(h, "POST", "/control/location", tt.body, true)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantLoc == nil {
				if control.location != nil {
					t.Errorf("location set to %+v", *control.location)
				}
				return
			}
			if control.location == nil || *control.location != *tt.wantLoc {
				t.Errorf("location = %v, want %+v", control.location, *tt.wantLoc)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	h, control, _ := newTestServer()
	control.SetLocation(geo.Coordinate{Lat: 1, Lng: 2})

	rr := do(h, "GET", "/control/status", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var got api.ScannerStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.HasLocation || got.Latitude != 1 || got.Longitude != 2 {
		t.Errorf("location = %v %v,%v", got.HasLocation, got.Latitude, got.Longitude)
	}
	if got.QueueLength != 4 || got.Cycles != 2 || got.Captchas != 1 {
		t.Errorf("queue=%d cycles=%d captchas=%d", got.QueueLength, got.Cycles, got.Captchas)
	}
	if got.Accounts["idle"] != 3 || got.Accounts["captcha"] != 1 {
		t.Errorf("accounts = %v", got.Accounts)
	}
	if len(got.Workers) != 1 || got.Workers[0].Username != "alice" {
		t.Errorf("workers = %+v", got.Workers)
	}
}

func TestAddToken(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		storeErr   error
		wantStatus int
		wantStored []string
	}{
		{"valid", `{"token":" 03AOP... "}`, nil, http.StatusCreated, []string{"03AOP..."}},
		{"empty", `{"token":""}`, nil, http.StatusBadRequest, nil},
		{"bad json", `nope`, nil, http.StatusBadRequest, nil},
		{"store error", `{"token":"t"}`, errors.New("db down"), http.StatusInternalServerError, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, tokens := newTestServer()
			tokens.err = tt.storeErr
			rr := do(h, "POST", "/captcha/tokens", tt.body, true)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if len(tokens.tokens) != len(tt.wantStored) {
				t.Fatalf("stored = %v, want %v", tokens.tokens, tt.wantStored)
			}
			for i := range tt.wantStored {
				if tokens.tokens[i] != tt.wantStored[i] {
					t.Errorf("stored[%d] = %q, want %q", i, tokens.tokens[i], tt.wantStored[i])
				}
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		data       any
		wantBody   string
		wantStatus int
	}{
		{"ok response", http.StatusOK, api.OKResponse{OK: true}, `{"ok":true}`, http.StatusOK},
		{"error response", http.StatusBadRequest, api.ErrorResponse{Error: "test error"}, `{"error":"test error"}`, http.StatusBadRequest},
		{"empty struct", http.StatusOK, struct{}{}, `{}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeJSON(rr, tt.status, tt.data)

			if rr.Code != tt.wantStatus {
				t.Errorf("status code = %d, want %d", rr.Code, tt.wantStatus)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want %q", ct, "application/json")
			}
			if got := strings.TrimSpace(rr.Body.String()); got != tt.wantBody {
				t.Errorf("body = %s, want %s", got, tt.wantBody)
			}
		})
	}
}
