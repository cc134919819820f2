package resilience

import (
	"time"

	"github.com/sirupsen/logrus"
)

// ConnectFunc attempts a single outbound connect to peerID and reports
// success.
type ConnectFunc func(peerID string) error

// ReconnectLoop retries the given bootstrap peers on a fixed cycle, using
// Backoff to skip peers still in their cooldown window and to respect the
// shared per-cycle attempt budget.
type ReconnectLoop struct {
	backoff *Backoff
	peers   []string
	connect ConnectFunc
	closing chan struct{}
}

// NewReconnectLoop creates a loop over peers using the given connect
// function and backoff tracker.
func NewReconnectLoop(backoff *Backoff, peers []string, connect ConnectFunc) *ReconnectLoop {
	return &ReconnectLoop{
		backoff: backoff,
		peers:   peers,
		connect: connect,
		closing: make(chan struct{}),
	}
}

// Start launches the background reconnect loop; it returns immediately.
func (r *ReconnectLoop) Start() {
	go r.run()
}

// Stop terminates the loop. Safe to call once.
func (r *ReconnectLoop) Stop() {
	close(r.closing)
}

func (r *ReconnectLoop) run() {
	ticker := time.NewTicker(r.backoff.CycleDuration())
	defer ticker.Stop()

	r.attemptAll()
	for {
		select {
		case <-ticker.C:
			r.attemptAll()
		case <-r.closing:
			return
		}
	}
}

func (r *ReconnectLoop) attemptAll() {
	for _, peerID := range r.peers {
		if !r.backoff.Allow(peerID) {
			continue
		}
		time.Sleep(Jitter())
		if err := r.connect(peerID); err != nil {
			logrus.Debugf("resilience: reconnect to %s failed: %v", peerID, err)
			r.backoff.Failure(peerID)
			continue
		}
		r.backoff.Success(peerID)
	}
}
