package gossip

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/phiaccrual/pkg/phi"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newFD(t *testing.T) *PhiFailureDetector {
	t.Helper()
	fd, err := NewPhiFailureDetector(phi.DefaultConfig())
	require.NoError(t, err)
	return fd
}

// beat records n heartbeats every interval starting at t0 and returns the
// time of the last one.
func beat(t *testing.T, fd FailureDetector, id NodeID, n int, interval time.Duration) time.Time {
	t.Helper()
	at := t0
	for i := 0; i < n; i++ {
		at = t0.Add(time.Duration(i) * interval)
		require.NoError(t, fd.Observe(id, at))
	}
	return at
}

func TestFailureDetectorPerPeer(t *testing.T) {
	fd := newFD(t)
	last := beat(t, fd, "a", 10, 500*time.Millisecond)
	beat(t, fd, "b", 10, 100*time.Millisecond)

	assert.Equal(t, []NodeID{"a", "b"}, fd.Peers())
	assert.Zero(t, fd.Phi("unknown", last.Add(time.Hour)))

	// one std deviation late for a; b (100ms cadence) stopped seconds ago
	now := last.Add(550 * time.Millisecond)
	assert.Less(t, fd.Phi("a", now), 8.0)
	assert.Equal(t, []NodeID{"b"}, fd.Suspects(now, 8.0))
}

func TestFailureDetectorRewind(t *testing.T) {
	fd := newFD(t)
	last := beat(t, fd, "a", 3, time.Second)

	err := fd.Observe("a", last.Add(-time.Second))
	require.Error(t, err)
	assert.True(t, errors.Is(err, phi.ErrClockRewind))
}

func TestFailureDetectorRemove(t *testing.T) {
	fd := newFD(t)
	last := beat(t, fd, "a", 3, time.Second)
	fd.Remove("a")

	_, ok := fd.Detector("a")
	assert.False(t, ok)
	assert.Zero(t, fd.Phi("a", last.Add(time.Minute)))
}

func TestNewPhiFailureDetectorRejectsBadConfig(t *testing.T) {
	cfg := phi.DefaultConfig()
	cfg.MinStdDeviation = 0
	_, err := NewPhiFailureDetector(cfg)
	assert.Error(t, err)
}

func newMembers(t *testing.T, fd FailureDetector) *Members {
	t.Helper()
	m, err := NewMembers(Member{ID: "self", Addr: "self:8080"}, fd, DefaultThresholds(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return m
}

func TestEvaluateTransitions(t *testing.T) {
	fd := newFD(t)
	m := newMembers(t, fd)
	require.True(t, m.ApplyDelta(Delta{Member: Member{ID: "p1", Addr: "p1:8080"}}))
	last := beat(t, fd, "p1", 20, 500*time.Millisecond)

	assert.Empty(t, m.Evaluate(last.Add(500*time.Millisecond)))

	// std floor 50ms: suspect and dead thresholds are crossed within a second
	var suspectAt, deadAt time.Time
	for e := 500 * time.Millisecond; e < 5*time.Second; e += 10 * time.Millisecond {
		now := last.Add(e)
		for _, d := range m.Evaluate(now) {
			switch d.Member.State {
			case StateSuspect:
				suspectAt = now
				assert.GreaterOrEqual(t, d.Phi, 8.0)
			case StateDead:
				deadAt = now
				assert.GreaterOrEqual(t, d.Phi, 16.0)
			}
		}
	}
	require.False(t, suspectAt.IsZero(), "never became suspect")
	require.False(t, deadAt.IsZero(), "never became dead")
	assert.True(t, suspectAt.Before(deadAt))

	mem, ok := m.Get("p1")
	require.True(t, ok)
	assert.Equal(t, StateDead, mem.State)

	// a fresh heartbeat brings it back
	resumed := last.Add(5 * time.Second)
	require.NoError(t, fd.Observe("p1", resumed))
	deltas := m.Evaluate(resumed)
	require.Len(t, deltas, 1)
	assert.Equal(t, StateAlive, deltas[0].Member.State)
}

func TestUnobservedMemberStaysAlive(t *testing.T) {
	m := newMembers(t, newFD(t))
	m.ApplyDelta(Delta{Member: Member{ID: "quiet"}})
	assert.Empty(t, m.Evaluate(t0.Add(24*time.Hour)))
}

func TestApplyDeltaOrdering(t *testing.T) {
	m := newMembers(t, newFD(t))

	assert.True(t, m.ApplyDelta(Delta{Member: Member{ID: "p", Addr: "p:1", Incarnation: 1}}))
	// same incarnation, same state: no change
	assert.False(t, m.ApplyDelta(Delta{Member: Member{ID: "p", Incarnation: 1}}))
	// same incarnation, worse state wins
	assert.True(t, m.ApplyDelta(Delta{Member: Member{ID: "p", Incarnation: 1, State: StateSuspect}}))
	assert.False(t, m.ApplyDelta(Delta{Member: Member{ID: "p", Incarnation: 1, State: StateAlive}}))
	// older incarnation ignored
	assert.False(t, m.ApplyDelta(Delta{Member: Member{ID: "p", Incarnation: 0, State: StateDead}}))
	// newer incarnation wins even when it is better
	assert.True(t, m.ApplyDelta(Delta{Member: Member{ID: "p", Incarnation: 2, State: StateAlive}}))

	mem, ok := m.Get("p")
	require.True(t, ok)
	assert.Equal(t, StateAlive, mem.State)
	assert.Equal(t, uint64(2), mem.Incarnation)
	assert.Equal(t, "p:1", mem.Addr, "address is kept when a delta omits it")
}

func TestSetAddr(t *testing.T) {
	m := newMembers(t, newFD(t))
	m.ApplyDelta(Delta{Member: Member{ID: "p", Addr: "p:8080", Incarnation: 2, State: StateSuspect}})

	assert.True(t, m.SetAddr("p", "p:9090"))
	assert.False(t, m.SetAddr("p", "p:9090"))
	assert.False(t, m.SetAddr("p", ""))
	assert.False(t, m.SetAddr("ghost", "ghost:1"))

	mem, ok := m.Get("p")
	require.True(t, ok)
	assert.Equal(t, "p:9090", mem.Addr)
	assert.Equal(t, uint64(2), mem.Incarnation)
	assert.Equal(t, StateSuspect, mem.State)
	_, ok = m.Get("ghost")
	assert.False(t, ok)
}

func TestApplyDeltaRefutesSelfSuspicion(t *testing.T) {
	m := newMembers(t, newFD(t))
	changed := m.ApplyDelta(Delta{Member: Member{ID: "self", Incarnation: 3, State: StateSuspect}})
	assert.False(t, changed)
	assert.Equal(t, uint64(4), m.Self().Incarnation)
	assert.Equal(t, StateAlive, m.Self().State)
	assert.Equal(t, uint64(5), m.BumpIncarnation())
}

func TestRemoveForgetsDetector(t *testing.T) {
	fd := newFD(t)
	m := newMembers(t, fd)
	m.ApplyDelta(Delta{Member: Member{ID: "p"}})
	beat(t, fd, "p", 3, time.Second)

	assert.True(t, m.Remove("p"))
	assert.False(t, m.Remove("p"))
	_, ok := fd.Detector("p")
	assert.False(t, ok)
	assert.Empty(t, m.All())
}

func TestThresholds(t *testing.T) {
	m := newMembers(t, newFD(t))
	assert.Error(t, m.SetThresholds(Thresholds{Suspect: 0, Dead: 1}))
	assert.Error(t, m.SetThresholds(Thresholds{Suspect: 5, Dead: 4}))
	require.NoError(t, m.SetThresholds(Thresholds{Suspect: 3, Dead: 6}))
	assert.Equal(t, Thresholds{Suspect: 3, Dead: 6}, m.Thresholds())

	var th = Thresholds{Suspect: 3, Dead: 6}
	assert.Equal(t, StateAlive, th.classify(2.9))
	assert.Equal(t, StateSuspect, th.classify(3))
	assert.Equal(t, StateDead, th.classify(6))
}

func TestStateJSON(t *testing.T) {
	b, err := json.Marshal(Member{ID: "x", State: StateSuspect})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"state":"suspect"`)

	var mem Member
	require.NoError(t, json.Unmarshal(b, &mem))
	assert.Equal(t, StateSuspect, mem.State)

	assert.Error(t, json.Unmarshal([]byte(`{"state":"zombie"}`), &mem))
}
