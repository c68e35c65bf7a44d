package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/locplace/mapscan/internal/geo"
	"github.com/locplace/mapscan/pkg/api"
)

type handlers struct {
	deps Deps
}

// pause handles POST /control/pause.
func (h *handlers) pause(w http.ResponseWriter, r *http.Request) {
	h.deps.Control.Pause()
	h.deps.Log.Info("Scanning paused by operator")
	writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
}

// resume handles POST /control/resume.
func (h *handlers) resume(w http.ResponseWriter, r *http.Request) {
	h.deps.Control.Resume()
	h.deps.Log.Info("Scanning resumed by operator")
	writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
}

// setLocation handles POST /control/location.
func (h *handlers) setLocation(w http.ResponseWriter, r *http.Request) {
	var req api.SetLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		writeError(w, "coordinates out of range", http.StatusBadRequest)
		return
	}

	c := geo.Coordinate{Lat: req.Latitude, Lng: req.Longitude, Alt: req.Altitude}
	h.deps.Control.SetLocation(c)
	h.deps.Log.Infof("Scan location changed to %.6f,%.6f by operator", c.Lat, c.Lng)
	writeJSON(w, http.StatusAccepted, api.OKResponse{OK: true})
}

// status handles GET /control/status.
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	st := h.deps.Control.Status()
	resp := api.ScannerStatus{
		Paused:      st.Paused,
		HasLocation: st.HasCenter,
		Latitude:    st.Center.Lat,
		Longitude:   st.Center.Lng,
		QueueLength: st.QueueLength,
		Cycles:      st.Cycles,
		Accounts:    map[string]int{},
		Workers:     []api.WorkerInfo{},
	}
	if h.deps.Identities != nil {
		for state, n := range h.deps.Identities.Counts() {
			resp.Accounts[state.String()] = n
		}
	}
	if h.deps.Captcha != nil {
		resp.Captchas = h.deps.Captcha.Len()
	}
	if h.deps.Workers != nil {
		resp.Workers = h.deps.Workers.Workers()
	}
	writeJSON(w, http.StatusOK, resp)
}

// addToken handles POST /captcha/tokens.
func (h *handlers) addToken(w http.ResponseWriter, r *http.Request) {
	if h.deps.Tokens == nil {
		writeError(w, "token store not configured", http.StatusServiceUnavailable)
		return
	}
	var req api.AddTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		writeError(w, "token is required", http.StatusBadRequest)
		return
	}
	if err := h.deps.Tokens.InsertToken(r.Context(), token); err != nil {
		h.deps.Log.Errorf("Failed to store captcha token: %v", err)
		writeError(w, "failed to store token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, api.OKResponse{OK: true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) // Error is client disconnect, can't recover
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}
