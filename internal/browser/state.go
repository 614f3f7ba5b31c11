package browser

import "fmt"

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateAuthenticating
	StateChallenged
	StateAuthenticated
	StateExtracting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateAuthenticating:
		return "authenticating"
	case StateChallenged:
		return "challenged"
	case StateAuthenticated:
		return "authenticated"
	case StateExtracting:
		return "extracting"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the legal next states. Closed is terminal; sessions are
// single-use.
var transitions = map[State][]State{
	StateIdle:           {StateOpening, StateClosed},
	StateOpening:        {StateAuthenticating, StateClosed},
	StateAuthenticating: {StateAuthenticated, StateChallenged, StateClosed},
	StateChallenged:     {StateClosed},
	StateAuthenticated:  {StateExtracting, StateClosed},
	StateExtracting:     {StateClosed},
	StateClosed:         nil,
}

// canTransition reports whether from -> to is in the table.
func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
