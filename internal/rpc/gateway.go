package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/locplace/mapscan/internal/account"
	"github.com/locplace/mapscan/internal/geo"
	"github.com/locplace/mapscan/pkg/api"
)

// Gateway is an HTTP client for the protocol gateway that speaks the game
// wire format on the scanner's behalf.
type Gateway struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewGateway creates a gateway client.
func NewGateway(baseURL, token string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Dial opens a session for id. Each session gets its own ID so the gateway
// can keep per-identity protocol state.
func (g *Gateway) Dial(id *account.Identity) Client {
	return &session{
		gw:        g,
		id:        id,
		sessionID: uuid.New().String(),
	}
}

type session struct {
	gw        *Gateway
	id        *account.Identity
	sessionID string
	position  geo.Coordinate
	proxy     string
}

func (s *session) SetPosition(c geo.Coordinate) { s.position = c }

func (s *session) SetProxy(proxyURL string) { s.proxy = proxyURL }

func (s *session) pos() api.Position {
	return api.Position{Latitude: s.position.Lat, Longitude: s.position.Lng, Altitude: s.position.Alt}
}

// Login authenticates the identity with its provider.
func (s *session) Login(ctx context.Context) (time.Time, error) {
	d := s.id.Device
	req := api.LoginRequest{
		SessionID: s.sessionID,
		Username:  s.id.Username,
		Password:  s.id.Password,
		Provider:  s.id.AuthProvider,
		Proxy:     s.proxy,
		Position:  s.pos(),
		Device: api.DeviceInfo{
			DeviceID:             d.ID,
			DeviceBrand:          d.Brand,
			DeviceModel:          d.Model,
			DeviceModelBoot:      d.ModelBoot,
			HardwareManufacturer: d.HardwareManufacturer,
			HardwareModel:        d.HardwareModel,
			FirmwareBrand:        d.FirmwareBrand,
			FirmwareType:         d.FirmwareType,
		},
	}

	var result api.LoginResponse
	if err := s.gw.post(ctx, "/v1/login", req, &result); err != nil {
		return time.Time{}, fmt.Errorf("login failed: %w", err)
	}
	if result.TicketExpiryMs == 0 {
		return time.Time{}, fmt.Errorf("login failed: %w: no ticket", ErrAuth)
	}
	return time.UnixMilli(result.TicketExpiryMs), nil
}

// Call sends an envelope of calls.
func (s *session) Call(ctx context.Context, r Request) (*Response, error) {
	req := api.CallRequest{
		SessionID: s.sessionID,
		Proxy:     s.proxy,
		Position:  s.pos(),
		Calls:     make([]api.Call, len(r.Calls)),
	}
	for i, c := range r.Calls {
		req.Calls[i] = api.Call{Method: string(c.Method), Params: c.Params}
	}

	var result api.CallResponse
	if err := s.gw.post(ctx, "/v1/call", req, &result); err != nil {
		return nil, err
	}

	resp := &Response{StatusCode: result.StatusCode, Results: make(map[Method]json.RawMessage, len(result.Results))}
	for m, raw := range result.Results {
		resp.Results[Method(m)] = raw
	}
	return resp, nil
}

func (g *Gateway) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", g.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.Token)
	}

	resp, err := g.HTTPClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck // Close error not actionable

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body) //nolint:errcheck // Best effort to get error details
		return gatewayError(resp.StatusCode, bodyBytes)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}

// gatewayError maps an error body onto the error taxonomy.
func gatewayError(status int, body []byte) error {
	var ge api.GatewayError
	if json.Unmarshal(body, &ge) != nil || ge.Kind == "" {
		return fmt.Errorf("gateway request failed: %d %s", status, string(body))
	}
	switch ge.Kind {
	case api.ErrorKindThrottled:
		return fmt.Errorf("%w: %s", ErrThrottled, ge.Message)
	case api.ErrorKindQuotaExceeded:
		return &QuotaExceededError{ResetAt: time.UnixMilli(ge.ResetAtMs)}
	case api.ErrorKindHashOffline:
		return fmt.Errorf("%w: %s", ErrHashingOffline, ge.Message)
	case api.ErrorKindHashTimeout:
		return fmt.Errorf("%w: %s", ErrHashingTimeout, ge.Message)
	case api.ErrorKindAuth:
		return fmt.Errorf("%w: %s", ErrAuth, ge.Message)
	default:
		return fmt.Errorf("gateway request failed: %d %s: %s", status, ge.Kind, ge.Message)
	}
}
