// Package captcha parks identities that were served a challenge and works
// them back into the pool with manually supplied or solver-obtained tokens.
package captcha

import (
	"sync"
	"time"

	"github.com/locplace/mapscan/internal/account"
	"github.com/locplace/mapscan/internal/geo"
)

// Pool is the part of the identity pool the captcha subsystem uses.
type Pool interface {
	Return(id *account.Identity)
	CaptchaCount(id *account.Identity) int
	LastScan(id *account.Identity) (time.Time, geo.Coordinate)
}

// Held is an identity waiting for its challenge to be verified.
type Held struct {
	ID    *account.Identity
	URL   string
	Coord geo.Coordinate
	Since time.Time
}

// Holding is the FIFO of held identities. It implements
// account.CaptchaHolder so the pool can hand identities over on release.
type Holding struct {
	pool Pool
	now  func() time.Time

	mu    sync.Mutex
	queue []Held
}

// NewHolding creates an empty holding area.
func NewHolding(pool Pool) *Holding {
	return &Holding{pool: pool, now: time.Now}
}

// SetClock replaces the time source. Used by tests.
func (h *Holding) SetClock(now func() time.Time) { h.now = now }

// Hold parks id with its current challenge URL.
func (h *Holding) Hold(id *account.Identity) {
	held := Held{ID: id, URL: id.ChallengeURL, Since: h.now()}
	if h.pool != nil {
		_, held.Coord = h.pool.LastScan(id)
	}
	h.Push(held)
}

// Push appends an entry, typically one whose verification failed.
func (h *Holding) Push(e Held) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queue = append(h.queue, e)
}

// Pop removes the longest-held entry.
func (h *Holding) Pop() (Held, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return Held{}, false
	}
	e := h.queue[0]
	h.queue = h.queue[1:]
	return e, true
}

// PopIfHeldLonger removes the longest-held entry if it has waited more than d.
func (h *Holding) PopIfHeldLonger(d time.Duration) (Held, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 || h.now().Sub(h.queue[0].Since) <= d {
		return Held{}, false
	}
	e := h.queue[0]
	h.queue = h.queue[1:]
	return e, true
}

// Len returns the number of held identities.
func (h *Holding) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}
