package gossip

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Tracks the cluster's view of active members.
// Local liveness comes from the FailureDetector through Evaluate; remote
// opinions arrive as deltas ordered by incarnation number.

type Member struct {
	ID          NodeID    `json:"id"`          // unique, usually host:port or a configured name
	Addr        string    `json:"addr"`        // current reachable address
	Incarnation uint64    `json:"incarnation"` // version number for this member's state
	State       State     `json:"state"`       // Alive, Suspect, Dead
	LastUpdate  time.Time `json:"last_update"`
}

type MemberList interface {
	Self() Member
	All() []Member
	Get(id NodeID) (Member, bool)
	ApplyDelta(d Delta) bool
	BumpIncarnation() uint64
}

// Thresholds are the φ levels at which a member becomes Suspect and Dead.
type Thresholds struct {
	Suspect float64 `yaml:"suspect"`
	Dead    float64 `yaml:"dead"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Suspect: 8, Dead: 16}
}

func (t Thresholds) Validate() error {
	if t.Suspect <= 0 {
		return errors.New("gossip: suspect threshold must be > 0")
	}
	if t.Dead < t.Suspect {
		return errors.New("gossip: dead threshold must be >= suspect threshold")
	}
	return nil
}

func (t Thresholds) classify(phi float64) State {
	switch {
	case phi >= t.Dead:
		return StateDead
	case phi >= t.Suspect:
		return StateSuspect
	default:
		return StateAlive
	}
}

// Members is the MemberList backed by a FailureDetector.
type Members struct {
	fd  FailureDetector
	log *zap.Logger

	mu         sync.RWMutex
	self       Member
	members    map[NodeID]Member
	thresholds Thresholds
}

var _ MemberList = (*Members)(nil)

func NewMembers(self Member, fd FailureDetector, th Thresholds, log *zap.Logger) (*Members, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	self.State = StateAlive
	return &Members{
		fd:         fd,
		log:        log,
		self:       self,
		members:    make(map[NodeID]Member),
		thresholds: th,
	}, nil
}

func (m *Members) Self() Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.self
}

// All returns every known member except self, sorted by ID.
func (m *Members) All() []Member {
	m.mu.RLock()
	out := make([]Member, 0, len(m.members))
	for _, mem := range m.members {
		out = append(out, mem)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b Member) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}

func (m *Members) Get(id NodeID) (Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id == m.self.ID {
		return m.self, true
	}
	mem, ok := m.members[id]
	return mem, ok
}

// ApplyDelta merges a membership change and reports whether the local view
// changed. A higher incarnation always wins; on equal incarnations the
// worse state wins. A delta suspecting self is refuted by bumping the
// local incarnation.
func (m *Members) ApplyDelta(d Delta) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	in := d.Member
	if in.ID == m.self.ID {
		if in.State != StateAlive && in.Incarnation >= m.self.Incarnation {
			m.self.Incarnation = in.Incarnation + 1
			m.log.Warn("refuting suspicion of self",
				zap.String("state", in.State.String()),
				zap.Uint64("incarnation", m.self.Incarnation))
		}
		return false
	}

	cur, ok := m.members[in.ID]
	switch {
	case !ok:
	case in.Incarnation > cur.Incarnation:
	case in.Incarnation == cur.Incarnation && in.State > cur.State:
	default:
		return false
	}
	if in.Addr == "" {
		in.Addr = cur.Addr
	}
	if in.LastUpdate.IsZero() {
		in.LastUpdate = time.Now()
	}
	m.members[in.ID] = in
	return true
}

// SetAddr updates the address of a known member without touching its
// incarnation or state. It reports whether the address changed.
func (m *Members) SetAddr(id NodeID, addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr == "" {
		return false
	}
	if id == m.self.ID {
		changed := m.self.Addr != addr
		m.self.Addr = addr
		return changed
	}
	mem, ok := m.members[id]
	if !ok || mem.Addr == addr {
		return false
	}
	mem.Addr = addr
	m.members[id] = mem
	return true
}

func (m *Members) BumpIncarnation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.self.Incarnation++
	return m.self.Incarnation
}

// Remove forgets a member and its failure detector history.
func (m *Members) Remove(id NodeID) bool {
	m.mu.Lock()
	_, ok := m.members[id]
	delete(m.members, id)
	m.mu.Unlock()
	if ok {
		m.fd.Remove(id)
	}
	return ok
}

func (m *Members) Thresholds() Thresholds {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thresholds
}

func (m *Members) SetThresholds(th Thresholds) error {
	if err := th.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.thresholds = th
	m.mu.Unlock()
	return nil
}

// Phi reports the current suspicion level of a member.
func (m *Members) Phi(id NodeID, now time.Time) float64 {
	return m.fd.Phi(id, now)
}

// Evaluate reclassifies every member from its current φ and returns the
// members whose state changed. A member that recovers goes back to Alive.
func (m *Members) Evaluate(now time.Time) []Delta {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Delta
	for id, mem := range m.members {
		phi := m.fd.Phi(id, now)
		next := m.thresholds.classify(phi)
		if next == mem.State {
			continue
		}
		m.log.Info("member state changed",
			zap.String("peer", string(id)),
			zap.Stringer("from", mem.State),
			zap.Stringer("to", next),
			zap.Float64("phi", phi))
		mem.State = next
		mem.LastUpdate = now
		m.members[id] = mem
		out = append(out, Delta{Member: mem, Phi: phi})
	}
	slices.SortFunc(out, func(a, b Delta) int { return strings.Compare(string(a.Member.ID), string(b.Member.ID)) })
	return out
}
