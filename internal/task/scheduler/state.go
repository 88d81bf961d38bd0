package scheduler

import "fmt"

type State int

const (
	StateScheduled State = iota
	StateRunning
	StatePaused
	StateCompleted
	StateDeleted
)

var stateNames = [...]string{
	StateScheduled: "scheduled",
	StateRunning:   "running",
	StatePaused:    "paused",
	StateCompleted: "completed",
	StateDeleted:   "deleted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", string(b))
}

// States lists every state, in declaration order.
func States() []State {
	return []State{StateScheduled, StateRunning, StatePaused, StateCompleted, StateDeleted}
}
