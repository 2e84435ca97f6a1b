// Package ratelimit enforces the per-/24 admission window and the
// retry-exhaustion blacklist described in spec.md §4.3.
package ratelimit

import (
	"sync"
	"time"

	"github.com/zhaiiker/mcscan/internal/addrgen"
)

const (
	// minAdmitInterval is the minimum spacing between admitted probes
	// that share a /24 subnet (invariant I3).
	minAdmitInterval = 1000 * time.Millisecond
	// reapInterval is how often stale table entries are swept.
	reapInterval = 60 * time.Second
	// reapIdleAfter is how long a /24 entry may sit unused before the
	// reaper removes it.
	reapIdleAfter = 5 * time.Minute
)

// Limiter tracks the last-admitted time per /24 subnet and the set of
// addresses whose retry budget has been exhausted. It satisfies
// addrgen.Membership so the address generator can skip blacklisted hosts
// without importing this package.
type Limiter struct {
	mu        sync.Mutex
	lastAdmit map[uint32]time.Time // keyed by /24 subnet
	blacklist map[uint32]struct{}  // keyed by full address

	closeOnce sync.Once
	closeCh   chan struct{}
}

// New constructs a Limiter and starts its background reaper.
func New() *Limiter {
	l := &Limiter{
		lastAdmit: make(map[uint32]time.Time),
		blacklist: make(map[uint32]struct{}),
		closeCh:   make(chan struct{}),
	}
	go l.reap()
	return l
}

// Admit reports whether addr may be probed now: it is not blacklisted and
// its /24 subnet was not admitted within the last 1000ms. On allow, the
// subnet's last-admitted timestamp is updated to now.
func (l *Limiter) Admit(addr addrgen.Address) bool {
	subnet := addr.Subnet24()
	addrKey := addr.Uint32()

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, blocked := l.blacklist[addrKey]; blocked {
		return false
	}

	now := time.Now()
	if last, ok := l.lastAdmit[subnet]; ok && now.Sub(last) < minAdmitInterval {
		return false
	}

	l.lastAdmit[subnet] = now
	return true
}

// Blacklist adds addr to the blacklist; subsequent Admit calls for this
// exact address return false for the rest of the session (population-only,
// per spec.md §3).
func (l *Limiter) Blacklist(addr addrgen.Address) {
	l.mu.Lock()
	l.blacklist[addr.Uint32()] = struct{}{}
	l.mu.Unlock()
}

// Contains reports whether addr is blacklisted, satisfying
// addrgen.Membership.
func (l *Limiter) Contains(addr addrgen.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, blocked := l.blacklist[addr.Uint32()]
	return blocked
}

// Size returns the number of blacklisted addresses, for statistics.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blacklist)
}

// Close stops the background reaper.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.closeCh) })
}

func (l *Limiter) reap() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.closeCh:
			return
		case now := <-ticker.C:
			l.sweep(now)
		}
	}
}

// sweep removes /24 entries idle for longer than reapIdleAfter as of now.
func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, last := range l.lastAdmit {
		if now.Sub(last) > reapIdleAfter {
			delete(l.lastAdmit, key)
		}
	}
}
