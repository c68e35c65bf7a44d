package account

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Rotation selects how proxies are handed out.
type Rotation string

// Proxy rotation policies.
const (
	RotationNone   Rotation = "none"
	RotationRound  Rotation = "round"
	RotationRandom Rotation = "random"
)

// ParseRotation validates a rotation policy name.
func ParseRotation(s string) (Rotation, error) {
	switch r := Rotation(s); r {
	case RotationNone, RotationRound, RotationRandom:
		return r, nil
	case "":
		return RotationRound, nil
	}
	return "", fmt.Errorf("unknown proxy rotation %q", s)
}

// ProxyRotator hands out proxies from a fixed list. It is safe for
// concurrent use.
type ProxyRotator struct {
	mu       sync.Mutex
	proxies  []string
	rotation Rotation
	next     int
}

// NewProxyRotator creates a rotator. An empty list disables proxies.
func NewProxyRotator(proxies []string, rotation Rotation) *ProxyRotator {
	return &ProxyRotator{proxies: proxies, rotation: rotation}
}

// Enabled reports whether any proxies are configured.
func (r *ProxyRotator) Enabled() bool {
	return r != nil && len(r.proxies) > 0
}

// Rotates reports whether proxies may change after first assignment.
func (r *ProxyRotator) Rotates() bool {
	return r.Enabled() && r.rotation != RotationNone
}

// Next returns the next proxy according to the rotation policy. With
// rotation "none" proxies are still handed out round-robin on first use.
func (r *ProxyRotator) Next() string {
	if !r.Enabled() {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rotation == RotationRandom {
		return r.proxies[rand.IntN(len(r.proxies))]
	}
	p := r.proxies[r.next%len(r.proxies)]
	r.next = (r.next + 1) % len(r.proxies)
	return p
}
