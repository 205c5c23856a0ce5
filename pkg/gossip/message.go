package gossip

import "fmt"

type NodeID string

type State uint8

const (
	StateAlive State = iota
	StateSuspect
	StateDead
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateSuspect:
		return "suspect"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "alive":
		*s = StateAlive
	case "suspect":
		*s = StateSuspect
	case "dead":
		*s = StateDead
	default:
		return fmt.Errorf("gossip: unknown state %q", b)
	}
	return nil
}

// Delta is a single membership change. Members applies deltas from peers
// and emits them from Evaluate.
type Delta struct {
	Member Member
	// Phi is the suspicion level that caused a locally detected change.
	Phi float64
}
