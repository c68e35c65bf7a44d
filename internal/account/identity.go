// Package account manages the pool of scan identities: their lifecycle
// state, proxy assignment, device fingerprints and rest periods.
package account

import (
	"time"

	"github.com/locplace/mapscan/internal/geo"
)

// State is the lifecycle state of an identity.
type State int

// Identity states.
const (
	StateIdle State = iota
	StateInUse
	StateCaptcha
	StateBanned
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInUse:
		return "in_use"
	case StateCaptcha:
		return "captcha"
	case StateBanned:
		return "banned"
	case StateCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// Credentials identify an account with the remote service.
type Credentials struct {
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	AuthProvider string `mapstructure:"auth_provider"`
	Subset       string `mapstructure:"subset"`
}

// RemoteConfig is the opaque bundle the remote service hands out with its
// config version call. Both times are in milliseconds.
type RemoteConfig struct {
	Hash           string
	AssetTimeMs    int64
	TemplateTimeMs int64
}

// Identity is one scan account. Credentials and Device never change. Fields
// under "pool" are guarded by the pool mutex. Session fields belong to
// whoever holds the identity out of the pool (a worker while in use, a
// captcha solver while held) and need no locking.
type Identity struct {
	Username     string
	Password     string
	AuthProvider string
	Subset       string
	Device       Device

	// pool
	state         State
	stateSince    time.Time
	restUntil     time.Time
	lastScanAt    time.Time
	lastScanCoord geo.Coordinate
	scanned       bool
	proxyURL      string
	captchaCount  int

	// session
	TicketExpiry         time.Time
	Warmed               bool
	RemoteConfig         RemoteConfig
	InventoryTimestampMs int64
	Level                int
	Warned               bool
	ChallengeURL         string
	Failures             int
}

// NewIdentity builds an idle identity from credentials.
func NewIdentity(c Credentials) *Identity {
	subset := c.Subset
	if subset == "" {
		subset = DefaultSubset
	}
	provider := c.AuthProvider
	if provider == "" {
		provider = "ptc"
	}
	return &Identity{
		Username:     c.Username,
		Password:     c.Password,
		AuthProvider: provider,
		Subset:       subset,
		Device:       DeviceFor(c.Username, c.Password),
	}
}

// TicketValid reports whether the auth ticket is good for at least another
// minute.
func (id *Identity) TicketValid(now time.Time) bool {
	return !id.TicketExpiry.IsZero() && id.TicketExpiry.Sub(now) > 60*time.Second
}

// ResetSession forgets the login so the next scan logs in and warms up again.
func (id *Identity) ResetSession() {
	id.TicketExpiry = time.Time{}
	id.Warmed = false
}

// Snapshot is a read-only copy of an identity's pool-guarded state.
type Snapshot struct {
	Username      string
	Subset        string
	State         State
	StateSince    time.Time
	RestUntil     time.Time
	LastScanAt    time.Time
	LastScanCoord geo.Coordinate
	ProxyURL      string
	CaptchaCount  int
}
