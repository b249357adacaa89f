package cosign

import "github.com/ruteri/mpc-custody/interfaces"

// State is the protocol position of an Artifact.
type State string

const (
	StateUnsigned            State = "unsigned"
	StatePartiallyAuthorized State = "partially_authorized"
	StateFinalized           State = "finalized"
	StateBroadcast           State = "broadcast"
	StateFailed              State = "failed"
)

var transitions = map[State][]State{
	StateUnsigned:            {StatePartiallyAuthorized, StateFailed},
	StatePartiallyAuthorized: {StateFinalized, StateFailed},
	StateFinalized:           {StateBroadcast, StateFailed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether s may move to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (a *Artifact) transition(next State) error {
	if !a.State.CanTransition(next) {
		return interfaces.Validationf("illegal artifact transition %s -> %s", a.State, next)
	}
	a.State = next
	return nil
}
