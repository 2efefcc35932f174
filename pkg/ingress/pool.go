package ingress

import (
	"sync"
	"time"
)

// unhealthyCooldown is how long a failed backend stays out of rotation
// before it is retried as unknown again.
const unhealthyCooldown = 10 * time.Second

// poolNow is stubbed in tests
var poolNow = time.Now

// BackendPool round-robins over a route's ready backends while tracking
// per-backend health. Selection is restricted to healthy and unknown
// backends; a failed backend re-enters rotation after a cooldown.
type BackendPool struct {
	mu        sync.Mutex
	backends  []string
	downUntil map[string]time.Time
	next      int
}

// NewBackendPool creates a pool over the given backend addresses
func NewBackendPool(backends []string) *BackendPool {
	return &BackendPool{
		backends:  append([]string(nil), backends...),
		downUntil: make(map[string]time.Time),
	}
}

// SetBackends replaces the backend set. Health marks for surviving
// backends are preserved; marks for removed backends are dropped.
func (p *BackendPool) SetBackends(backends []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	keep := make(map[string]bool, len(backends))
	for _, b := range backends {
		keep[b] = true
	}
	for b := range p.downUntil {
		if !keep[b] {
			delete(p.downUntil, b)
		}
	}
	p.backends = append([]string(nil), backends...)
	if p.next >= len(p.backends) {
		p.next = 0
	}
}

// Pick returns the next backend that is healthy or unknown, or "" when
// every backend is inside its unhealthy cooldown.
func (p *BackendPool) Pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.backends)
	if n == 0 {
		return ""
	}

	now := poolNow()
	for i := 0; i < n; i++ {
		candidate := p.backends[p.next%n]
		p.next++
		if now.Before(p.downUntil[candidate]) {
			continue
		}
		return candidate
	}
	return ""
}

// MarkUnhealthy takes a backend out of rotation for the cooldown
func (p *BackendPool) MarkUnhealthy(backend string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downUntil[backend] = poolNow().Add(unhealthyCooldown)
}

// MarkHealthy returns a backend to rotation after a successful dial
func (p *BackendPool) MarkHealthy(backend string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.downUntil, backend)
}

// Size reports the total backend count
func (p *BackendPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backends)
}
