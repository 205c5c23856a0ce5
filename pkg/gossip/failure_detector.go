package gossip

import (
	"slices"
	"sync"
	"time"

	"github.com/ryandielhenn/phiaccrual/pkg/phi"
)

// FailureDetector tracks last heartbeat timestamps per peer and reports how
// suspicious each peer's silence is.
type FailureDetector interface {
	Observe(id NodeID, t time.Time) error // called when a heartbeat/ack arrives
	Phi(id NodeID, now time.Time) float64
	Remove(id NodeID)
}

// PhiFailureDetector keeps one phi.Detector per peer, all built from the
// same configuration. Detectors are created on the first observation.
type PhiFailureDetector struct {
	cfg phi.Config

	mu    sync.RWMutex
	peers map[NodeID]*phi.Detector
}

var _ FailureDetector = (*PhiFailureDetector)(nil)

func NewPhiFailureDetector(cfg phi.Config) (*PhiFailureDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PhiFailureDetector{
		cfg:   cfg,
		peers: make(map[NodeID]*phi.Detector),
	}, nil
}

// Observe records a heartbeat from id. It returns phi.ErrClockRewind
// (wrapped) when t precedes the peer's previous heartbeat.
func (f *PhiFailureDetector) Observe(id NodeID, t time.Time) error {
	return f.detector(id).Heartbeat(t)
}

// Phi is 0 for peers that were never observed.
func (f *PhiFailureDetector) Phi(id NodeID, now time.Time) float64 {
	d, ok := f.Detector(id)
	if !ok {
		return 0
	}
	return d.Phi(now)
}

func (f *PhiFailureDetector) Remove(id NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.peers, id)
}

func (f *PhiFailureDetector) Detector(id NodeID) (*phi.Detector, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	d, ok := f.peers[id]
	return d, ok
}

// Peers returns the observed peer IDs in sorted order.
func (f *PhiFailureDetector) Peers() []NodeID {
	f.mu.RLock()
	out := make([]NodeID, 0, len(f.peers))
	for id := range f.peers {
		out = append(out, id)
	}
	f.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Suspects returns peers whose φ at now is at or above threshold.
func (f *PhiFailureDetector) Suspects(now time.Time, threshold float64) []NodeID {
	var out []NodeID
	for _, id := range f.Peers() {
		if f.Phi(id, now) >= threshold {
			out = append(out, id)
		}
	}
	return out
}

func (f *PhiFailureDetector) detector(id NodeID) *phi.Detector {
	if d, ok := f.Detector(id); ok {
		return d
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.peers[id]; ok {
		return d
	}
	// cfg was validated in the constructor
	d, _ := phi.New(f.cfg)
	f.peers[id] = d
	return d
}
