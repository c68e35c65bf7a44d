package account

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/locplace/mapscan/internal/geo"
)

// DefaultSubset is the subset identities join when none is configured.
const DefaultSubset = "default"

// Outcome tells the pool what happened while an identity was out.
type Outcome int

// Release outcomes.
const (
	OutcomeOK Outcome = iota
	OutcomeCaptcha
	OutcomeBanned
	OutcomeFailed
)

// CaptchaHolder receives identities that were served a challenge.
type CaptchaHolder interface {
	Hold(id *Identity)
}

// PoolConfig holds identity pool configuration.
type PoolConfig struct {
	KPHLimit     float64       // speed gate in km/h, <= 0 disables it
	RestInterval time.Duration // cooldown after repeated failures
	BanCooldown  time.Duration
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		KPHLimit:     35,
		RestInterval: 2 * time.Hour,
		BanCooldown:  24 * time.Hour,
	}
}

// Pool owns every identity and hands them out one worker at a time.
type Pool struct {
	mu      sync.Mutex
	subsets map[string][]*Identity
	names   []string

	config  PoolConfig
	proxies *ProxyRotator
	holder  CaptchaHolder
	log     *zap.SugaredLogger
	now     func() time.Time
}

// NewPool creates a pool from the identities, grouped by their subset.
func NewPool(config PoolConfig, identities []*Identity, proxies *ProxyRotator, logger *zap.SugaredLogger) *Pool {
	p := &Pool{
		subsets: make(map[string][]*Identity),
		config:  config,
		proxies: proxies,
		log:     logger,
		now:     time.Now,
	}
	for _, id := range identities {
		if _, ok := p.subsets[id.Subset]; !ok {
			p.names = append(p.names, id.Subset)
		}
		p.subsets[id.Subset] = append(p.subsets[id.Subset], id)
		if proxies.Enabled() {
			id.proxyURL = proxies.Next()
		}
	}
	return p
}

// SetCaptchaHolder wires the area captcha'd identities are parked in.
func (p *Pool) SetCaptchaHolder(h CaptchaHolder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holder = h
}

// SetClock replaces the time source. Used by tests.
func (p *Pool) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Subsets returns the subset names in configuration order.
func (p *Pool) Subsets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.names...)
}

// SubsetSize returns the number of identities in subset.
func (p *Pool) SubsetSize(subset string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subsets[subset])
}

// Size returns the total number of identities.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ids := range p.subsets {
		n += len(ids)
	}
	return n
}

// travelTime is how long a plausible traveller needs between two points.
func (p *Pool) travelTime(from, to geo.Coordinate) time.Duration {
	if p.config.KPHLimit <= 0 {
		return 0
	}
	hours := geo.DistanceKm(from, to) / p.config.KPHLimit
	return time.Duration(hours * float64(time.Hour))
}

// Acquire returns the first idle identity in subset that could have
// travelled to coord since its last scan, marking it in use. When none
// qualifies it returns nil and the shortest wait after which a speed-gated
// identity would qualify (zero if every identity is busy or held).
func (p *Pool) Acquire(subset string, coord geo.Coordinate) (*Identity, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var wait time.Duration
	for _, id := range p.subsets[subset] {
		if id.state != StateIdle {
			continue
		}
		if id.scanned {
			need := p.travelTime(id.lastScanCoord, coord)
			if passed := now.Sub(id.lastScanAt); passed < need {
				if w := need - passed; wait == 0 || w < wait {
					wait = w
				}
				continue
			}
		}

		id.setState(StateInUse, now)
		id.lastScanAt = now
		id.lastScanCoord = coord
		id.scanned = true
		return id, 0
	}
	return nil, wait
}

// Release returns an identity after use.
func (p *Pool) Release(id *Identity, outcome Outcome) {
	p.mu.Lock()
	if id.state != StateInUse {
		p.logf("Released account %s back to the pool, but it wasn't locked (state %s)", id.Username, id.state)
	}

	var holder CaptchaHolder
	now := p.now()
	switch outcome {
	case OutcomeOK:
		id.setState(StateIdle, now)
	case OutcomeCaptcha:
		id.captchaCount++
		id.setState(StateCaptcha, now)
		holder = p.holder
	case OutcomeBanned:
		id.setState(StateBanned, now)
		id.restUntil = now.Add(p.config.BanCooldown)
		id.ResetSession()
	case OutcomeFailed:
		id.setState(StateCooldown, now)
		id.restUntil = now.Add(p.config.RestInterval)
		id.ResetSession()
	}
	p.mu.Unlock()

	// The holder may call back into the pool.
	if holder != nil {
		holder.Hold(id)
	}
}

// Rest takes an in-use identity out of rotation for d.
func (p *Pool) Rest(id *Identity, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	id.setState(StateCooldown, now)
	id.restUntil = now.Add(d)
	id.ResetSession()
}

// Return puts a captcha'd identity back into rotation once its challenge
// was solved.
func (p *Pool) Return(id *Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id.state != StateCaptcha {
		p.logf("Returned account %s to the pool from state %s", id.Username, id.state)
	}
	id.ChallengeURL = ""
	id.setState(StateIdle, p.now())
}

// Recycle returns resting and banned identities whose rest period is over
// and reports how many came back and how many are still resting.
func (p *Pool) Recycle() (recycled, resting int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, ids := range p.subsets {
		for _, id := range ids {
			if id.state != StateCooldown && id.state != StateBanned {
				continue
			}
			if now.Before(id.restUntil) {
				resting++
				continue
			}
			id.setState(StateIdle, now)
			id.restUntil = time.Time{}
			id.Failures = 0
			recycled++
		}
	}
	return recycled, resting
}

// AssignProxy gives id a proxy if it has none, or a fresh one when rotate
// is set and the rotation policy allows it. It returns the proxy in effect.
func (p *Pool) AssignProxy(id *Identity, rotate bool) string {
	if !p.proxies.Enabled() {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if id.proxyURL == "" || (rotate && p.proxies.Rotates()) {
		id.proxyURL = p.proxies.Next()
	}
	return id.proxyURL
}

// ProxyURL returns the proxy currently assigned to id.
func (p *Pool) ProxyURL(id *Identity) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return id.proxyURL
}

// State returns the current state of id.
func (p *Pool) State(id *Identity) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return id.state
}

// LastScan returns when and where id last scanned.
func (p *Pool) LastScan(id *Identity) (time.Time, geo.Coordinate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return id.lastScanAt, id.lastScanCoord
}

// CaptchaCount returns how many challenges id has been served.
func (p *Pool) CaptchaCount(id *Identity) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return id.captchaCount
}

// Snapshot copies the pool-guarded state of every identity.
func (p *Pool) Snapshot() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Snapshot
	for _, name := range p.names {
		for _, id := range p.subsets[name] {
			out = append(out, Snapshot{
				Username:      id.Username,
				Subset:        id.Subset,
				State:         id.state,
				StateSince:    id.stateSince,
				RestUntil:     id.restUntil,
				LastScanAt:    id.lastScanAt,
				LastScanCoord: id.lastScanCoord,
				ProxyURL:      id.proxyURL,
				CaptchaCount:  id.captchaCount,
			})
		}
	}
	return out
}

// Counts returns the number of identities in each state.
func (p *Pool) Counts() map[State]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	counts := make(map[State]int)
	for _, ids := range p.subsets {
		for _, id := range ids {
			counts[id.state]++
		}
	}
	return counts
}

func (p *Pool) logf(format string, args ...any) {
	if p.log != nil {
		p.log.Errorf(format, args...)
	}
}

func (id *Identity) setState(s State, now time.Time) {
	id.state = s
	id.stateSince = now
}

// LoadIdentities builds identities from credentials, rejecting duplicates.
func LoadIdentities(creds []Credentials) ([]*Identity, error) {
	seen := make(map[string]struct{}, len(creds))
	ids := make([]*Identity, 0, len(creds))
	for i, c := range creds {
		if c.Username == "" || c.Password == "" {
			return nil, fmt.Errorf("identity %d: username and password are required", i)
		}
		if _, dup := seen[c.Username]; dup {
			return nil, fmt.Errorf("identity %q configured twice", c.Username)
		}
		seen[c.Username] = struct{}{}
		ids = append(ids, NewIdentity(c))
	}
	return ids, nil
}
