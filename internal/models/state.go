package models

// State enumerates the canonical lifecycle shared by artifacts and tasks.
type State string

const (
	StateRegistered State = "registered"
	StateSubmitting State = "submitting"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// States lists every lifecycle state in lifecycle order.
var States = []State{StateRegistered, StateSubmitting, StateProcessing, StateCompleted, StateFailed}

// ParseState maps a user supplied label onto a State.
func ParseState(s string) (State, bool) {
	st := State(s)
	return st, st.Valid()
}

func (s State) Valid() bool {
	switch s {
	case StateRegistered, StateSubmitting, StateProcessing, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether s absorbs every later non-administrative update.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Rank orders states along the lifecycle. Completed and failed share the top rank.
func (s State) Rank() int {
	switch s {
	case StateRegistered:
		return 0
	case StateSubmitting:
		return 1
	case StateProcessing:
		return 2
	case StateCompleted, StateFailed:
		return 3
	}
	return -1
}

// Advances reports whether moving from cur to next is accepted by the
// convergence rule: terminal states are absorbing, anything else may only
// move forward or stay where it is.
func Advances(cur, next State) bool {
	if !next.Valid() {
		return false
	}
	if cur.Terminal() {
		return false
	}
	return next.Rank() >= cur.Rank()
}
