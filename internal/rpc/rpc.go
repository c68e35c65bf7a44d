// Package rpc is the boundary to the remote game service. The wire protocol
// itself lives behind a gateway; this package only knows method names,
// envelopes of calls and the JSON results the gateway hands back.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/locplace/mapscan/internal/account"
	"github.com/locplace/mapscan/internal/geo"
)

// Method names a remote call.
type Method string

// Remote methods used by the scanner.
const (
	MethodGetPlayer           Method = "GET_PLAYER"
	MethodRemoteConfigVersion Method = "DOWNLOAD_REMOTE_CONFIG_VERSION"
	MethodGetAssetDigest      Method = "GET_ASSET_DIGEST"
	MethodItemTemplates       Method = "DOWNLOAD_ITEM_TEMPLATES"
	MethodGetPlayerProfile    Method = "GET_PLAYER_PROFILE"
	MethodGetStoreItems       Method = "GET_STORE_ITEMS"
	MethodLevelUpRewards      Method = "LEVEL_UP_REWARDS"
	MethodGetMapObjects       Method = "GET_MAP_OBJECTS"
	MethodEncounter           Method = "ENCOUNTER"
	MethodArenaDetails        Method = "GYM_GET_INFO"
	MethodVerifyChallenge     Method = "VERIFY_CHALLENGE"

	MethodCheckChallenge     Method = "CHECK_CHALLENGE"
	MethodGetHatchedEggs     Method = "GET_HATCHED_EGGS"
	MethodGetInventory       Method = "GET_INVENTORY"
	MethodCheckAwardedBadges Method = "CHECK_AWARDED_BADGES"
	MethodDownloadSettings   Method = "DOWNLOAD_SETTINGS"
	MethodGetBuddyWalked     Method = "GET_BUDDY_WALKED"
	MethodGetInbox           Method = "GET_INBOX"
)

// CommonCompanions are the sub-calls a real client attaches to most requests.
var CommonCompanions = []Method{
	MethodCheckChallenge,
	MethodGetHatchedEggs,
	MethodGetInventory,
	MethodCheckAwardedBadges,
	MethodDownloadSettings,
}

// Call is one sub-request.
type Call struct {
	Method Method
	Params map[string]any
}

// Request is an envelope of calls sent together. An empty request is valid
// and is what a freshly started client sends first.
type Request struct {
	Calls []Call
}

// NewRequest builds an envelope with main followed by companion calls. The
// companions take their parameters from the identity's session state.
func NewRequest(id *account.Identity, main Call, companions ...Method) Request {
	req := Request{Calls: []Call{main}}
	for _, m := range companions {
		req.Calls = append(req.Calls, companionCall(id, m))
	}
	return req
}

func companionCall(id *account.Identity, m Method) Call {
	switch m {
	case MethodGetInventory:
		return Call{Method: m, Params: map[string]any{"last_timestamp_ms": id.InventoryTimestampMs}}
	case MethodDownloadSettings:
		return Call{Method: m, Params: map[string]any{"hash": id.RemoteConfig.Hash}}
	default:
		return Call{Method: m}
	}
}

// Response carries the undecoded result of each call in the envelope.
type Response struct {
	StatusCode int
	Results    map[Method]json.RawMessage
}

// Has reports whether the response carries a result for m.
func (r *Response) Has(m Method) bool {
	if r == nil {
		return false
	}
	_, ok := r.Results[m]
	return ok
}

// Decode unmarshals the result for m into v. It returns false without error
// when the result is absent.
func (r *Response) Decode(m Method, v any) (bool, error) {
	if !r.Has(m) {
		return false, nil
	}
	if err := json.Unmarshal(r.Results[m], v); err != nil {
		return true, fmt.Errorf("%w: decode %s: %v", ErrUnexpectedResponse, m, err)
	}
	return true, nil
}

// Client is one identity's session with the remote service. A Client is
// used by a single goroutine at a time.
type Client interface {
	SetPosition(c geo.Coordinate)
	SetProxy(proxyURL string)
	// Login authenticates and returns when the new ticket expires.
	Login(ctx context.Context) (time.Time, error)
	Call(ctx context.Context, req Request) (*Response, error)
}

// Dialer opens sessions for identities.
type Dialer interface {
	Dial(id *account.Identity) Client
}

// Absorb copies companion results into the identity's session state:
// inventory timestamp, level and any challenge URL.
func Absorb(id *account.Identity, resp *Response) error {
	var challenge ChallengeResult
	if ok, err := resp.Decode(MethodCheckChallenge, &challenge); err != nil {
		return err
	} else if ok && challenge.ShowChallenge && challenge.ChallengeURL != "" {
		id.ChallengeURL = challenge.ChallengeURL
	}

	var inv InventoryResult
	if ok, err := resp.Decode(MethodGetInventory, &inv); err != nil {
		return err
	} else if ok {
		if inv.NewTimestampMs > id.InventoryTimestampMs {
			id.InventoryTimestampMs = inv.NewTimestampMs
		}
		if inv.Level > 0 {
			id.Level = inv.Level
		}
	}
	return nil
}
