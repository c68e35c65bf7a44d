// Package api contains shared wire types for the game gateway, the webhook
// sinks and the operator control API.
package api

import (
	"encoding/json"
	"time"
)

// --- Gateway Types ---

// DeviceInfo is the client fingerprint an identity presents.
type DeviceInfo struct {
	DeviceID             string `json:"device_id"`
	DeviceBrand          string `json:"device_brand"`
	DeviceModel          string `json:"device_model"`
	DeviceModelBoot      string `json:"device_model_boot"`
	HardwareManufacturer string `json:"hardware_manufacturer"`
	HardwareModel        string `json:"hardware_model"`
	FirmwareBrand        string `json:"firmware_brand"`
	FirmwareType         string `json:"firmware_type"`
}

// Position is the notional client location sent with every call.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// LoginRequest is the request body for POST /v1/login.
type LoginRequest struct {
	SessionID string     `json:"session_id"`
	Username  string     `json:"username"`
	Password  string     `json:"password"`
	Provider  string     `json:"provider"`
	Proxy     string     `json:"proxy,omitempty"`
	Device    DeviceInfo `json:"device"`
	Position  Position   `json:"position"`
}

// LoginResponse is the response for POST /v1/login.
type LoginResponse struct {
	TicketExpiryMs int64 `json:"ticket_expiry_ms"`
}

// Call is one sub-request of an envelope.
type Call struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// CallRequest is the request body for POST /v1/call.
type CallRequest struct {
	SessionID string   `json:"session_id"`
	Proxy     string   `json:"proxy,omitempty"`
	Position  Position `json:"position"`
	Calls     []Call   `json:"calls"`
}

// CallResponse is the response for POST /v1/call. Results are keyed by
// method name and left undecoded.
type CallResponse struct {
	StatusCode int                        `json:"status_code"`
	Results    map[string]json.RawMessage `json:"results"`
}

// GatewayError is the error body the gateway returns on non-200 responses.
type GatewayError struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	ResetAtMs int64  `json:"reset_at_ms,omitempty"`
}

// Gateway error kinds.
const (
	ErrorKindThrottled     = "throttled"
	ErrorKindQuotaExceeded = "quota_exceeded"
	ErrorKindHashOffline   = "hashing_offline"
	ErrorKindHashTimeout   = "hashing_timeout"
	ErrorKindAuth          = "auth"
)

// --- Webhook Types ---

// WebhookMessage is one element of the JSON array POSTed to webhook sinks.
type WebhookMessage struct {
	Type    string         `json:"type"`
	Message map[string]any `json:"message"`
}

// --- Control API Types ---

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// OKResponse acknowledges a control request.
type OKResponse struct {
	OK bool `json:"ok"`
}

// SetLocationRequest is the request body for POST /control/location.
type SetLocationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude,omitempty"`
}

// AddTokenRequest is the request body for POST /captcha/tokens.
type AddTokenRequest struct {
	Token string `json:"token"`
}

// ScannerStatus is the response for GET /control/status.
type ScannerStatus struct {
	Paused      bool           `json:"paused"`
	HasLocation bool           `json:"has_location"`
	Latitude    float64        `json:"latitude"`
	Longitude   float64        `json:"longitude"`
	QueueLength int            `json:"queue_length"`
	Cycles      int            `json:"cycles"`
	Accounts    map[string]int `json:"accounts"`
	Captchas    int            `json:"captchas_held"`
	Workers     []WorkerInfo   `json:"workers"`
}

// WorkerInfo describes one worker in the status response.
type WorkerInfo struct {
	Index        int       `json:"index"`
	Username     string    `json:"username"`
	Message      string    `json:"message"`
	Success      int64     `json:"success"`
	Fail         int64     `json:"fail"`
	NoItems      int64     `json:"no_items"`
	Skip         int64     `json:"skip"`
	Captcha      int64     `json:"captcha"`
	ScansPerMin  int64     `json:"scans_per_min"`
	LastModified time.Time `json:"last_modified"`
}
