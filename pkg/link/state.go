package link

// ActivationState is the lifecycle state of the communication session.
type ActivationState int

const (
	// NotActivated is the initial state; no activation has been requested
	// yet, or the last activation attempt failed.
	NotActivated ActivationState = iota

	// Activating means an activation request is in flight with the
	// platform and its completion callback has not arrived yet.
	Activating

	// Activated means the channel is usable: sends, requests and
	// transfers are permitted.
	Activated

	// Deactivated means the platform tore the session down (for example
	// after the paired device was switched). Re-activation is permitted.
	Deactivated
)

func (s ActivationState) String() string {
	switch s {
	case NotActivated:
		return "not-activated"
	case Activating:
		return "activating"
	case Activated:
		return "activated"
	case Deactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

// validTransitions lists, per state, the states the lifecycle may move to.
// Completion callbacks report the platform's resulting state, so Activating
// may resolve to any of the three terminal outcomes.
var validTransitions = map[ActivationState][]ActivationState{
	NotActivated: {Activating},
	Activating:   {NotActivated, Activated, Deactivated},
	Activated:    {Deactivated},
	Deactivated:  {Activating},
}

// canTransition reports whether moving from one state to another is a legal
// lifecycle step. Self-transitions are handled by the caller (no-op).
func canTransition(from, to ActivationState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}

	return false
}
