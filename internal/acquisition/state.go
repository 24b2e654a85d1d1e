package acquisition

import "fmt"

// State is the acquisition lifecycle phase.
type State int

const (
	StateInitializing State = iota
	StateRunning
	StateStopRequested
	StateDraining
	StateParametersPending
	StateFinalizing
	StateKilled
	StateTerminated
)

var stateNames = map[State]string{
	StateInitializing:      "initializing",
	StateRunning:           "running",
	StateStopRequested:     "stop_requested",
	StateDraining:          "draining",
	StateParametersPending: "parameters_pending",
	StateFinalizing:        "finalizing",
	StateKilled:            "killed",
	StateTerminated:        "terminated",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var transitions = map[State][]State{
	StateInitializing:      {StateRunning, StateStopRequested},
	StateRunning:           {StateStopRequested},
	StateStopRequested:     {StateDraining, StateParametersPending},
	StateDraining:          {StateParametersPending, StateTerminated},
	StateParametersPending: {StateFinalizing, StateKilled},
	StateFinalizing:        {StateTerminated},
	StateKilled:            {StateTerminated},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
