// Package resilience implements the per-peer reconnect backoff policy and
// the background bootstrap reconnect loop that consults it.
package resilience

import (
	"math/rand"
	"sync"
	"time"
)

// MaxAttemptsPerCycle bounds how many outbound connect attempts are spent
// within a single 30s budget window.
const MaxAttemptsPerCycle = 8

// CycleDuration is how often the per-cycle attempt budget resets.
const CycleDuration = 30 * time.Second

// MaxBackoff caps the exponential backoff delay applied after repeated
// failures against a single peer.
const MaxBackoff = 300 * time.Second

// JitterMax is the upper bound (exclusive) of the uniform jitter applied
// before every outbound connect attempt, to avoid thundering herds.
const JitterMax = 1000 * time.Millisecond

type peerState struct {
	failureCount    int
	nextAllowedTime time.Time
}

// Config tunes the per-cycle budget and per-peer backoff cap. Zero fields
// fall back to the package defaults (MaxAttemptsPerCycle, CycleDuration,
// MaxBackoff). SPEC_FULL's Mobile config section sources overrides for
// these from MESH_RECONNECT_* environment variables via pkg/utils.
type Config struct {
	MaxAttemptsPerCycle int
	CycleDuration       time.Duration
	MaxBackoff          time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttemptsPerCycle <= 0 {
		c.MaxAttemptsPerCycle = MaxAttemptsPerCycle
	}
	if c.CycleDuration <= 0 {
		c.CycleDuration = CycleDuration
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = MaxBackoff
	}
	return c
}

// Backoff tracks per-peer failure counts and the shared per-cycle
// connection attempt budget described in §4.6.
type Backoff struct {
	mu    sync.Mutex
	peers map[string]*peerState

	cycleStart time.Time
	attempts   int

	cfg Config
}

// New creates an empty Backoff tracker using the package defaults.
func New() *Backoff {
	return NewWithConfig(Config{})
}

// NewWithConfig creates an empty Backoff tracker tuned by cfg; zero fields
// of cfg fall back to the package defaults.
func NewWithConfig(cfg Config) *Backoff {
	return &Backoff{
		peers:      make(map[string]*peerState),
		cycleStart: time.Now(),
		cfg:        cfg.withDefaults(),
	}
}

// CycleDuration is the per-cycle attempt budget window this tracker was
// configured with, for callers (e.g. ReconnectLoop) that need to reset on
// the same cadence.
func (b *Backoff) CycleDuration() time.Duration {
	return b.cfg.CycleDuration
}

// Allow reports whether an outbound connect attempt to peerID may proceed
// right now: the peer's own backoff window has elapsed AND the per-cycle
// attempt budget has not been exhausted. A true result consumes one unit
// of the cycle budget.
func (b *Backoff) Allow(peerID string) bool {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.cycleStart) >= b.cfg.CycleDuration {
		b.cycleStart = now
		b.attempts = 0
	}

	if st, ok := b.peers[peerID]; ok && now.Before(st.nextAllowedTime) {
		return false
	}
	if b.attempts >= b.cfg.MaxAttemptsPerCycle {
		return false
	}
	b.attempts++
	return true
}

// Jitter returns a uniform random delay in [0, JitterMax) to sleep before
// issuing the connect this Allow call authorized.
func Jitter() time.Duration {
	return time.Duration(rand.Int63n(int64(JitterMax)))
}

// Success clears peerID's backoff entry after a successful connect.
func (b *Backoff) Success(peerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.peers, peerID)
}

// Failure increments peerID's failure count and sets its next-allowed time
// to now + min(2^(failures-1), 300) seconds.
func (b *Backoff) Failure(peerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.peers[peerID]
	if !ok {
		st = &peerState{}
		b.peers[peerID] = st
	}
	st.failureCount++
	st.nextAllowedTime = time.Now().Add(b.delayFor(st.failureCount))
}

// delayFor applies this tracker's configured cap; backoffDelay (the
// free function used by tests) applies the package default cap.
func (b *Backoff) delayFor(failureCount int) time.Duration {
	d := backoffDelay(failureCount)
	if d > b.cfg.MaxBackoff {
		return b.cfg.MaxBackoff
	}
	return d
}

func backoffDelay(failureCount int) time.Duration {
	if failureCount <= 0 {
		return 0
	}
	if failureCount > 16 { // 2^15s already exceeds MaxBackoff; avoid overflow for pathological counts
		return MaxBackoff
	}
	seconds := 1 << (failureCount - 1)
	if time.Duration(seconds)*time.Second > MaxBackoff {
		return MaxBackoff
	}
	return time.Duration(seconds) * time.Second
}

// FailureCount returns the current recorded failure count for peerID (0 if
// never failed or unknown).
func (b *Backoff) FailureCount(peerID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.peers[peerID]; ok {
		return st.failureCount
	}
	return 0
}
