package interfaces

// PollState classifies a single probe observation
type PollState string

// PollState constants represent the possible outcomes of a readiness probe
const (
	PollStatePending  PollState = "pending"
	PollStateComplete PollState = "complete"
	PollStateFailed   PollState = "failed"
	PollStateTimedOut PollState = "timed_out"
)

// Terminal reports whether the state ends a polling loop
func (s PollState) Terminal() bool {
	return s == PollStateComplete || s == PollStateFailed || s == PollStateTimedOut
}

// PollOutcome is one probe observation. Reason is set for failed and
// timed-out outcomes and may carry progress detail while pending.
type PollOutcome struct {
	State  PollState `json:"state"`
	Reason string    `json:"reason,omitempty"`
}

// PollPending reports an operation still in progress
func PollPending(reason string) PollOutcome {
	return PollOutcome{State: PollStatePending, Reason: reason}
}

// PollComplete reports a successfully finished operation
func PollComplete() PollOutcome {
	return PollOutcome{State: PollStateComplete}
}

// PollFailed reports a terminally failed operation
func PollFailed(reason string) PollOutcome {
	return PollOutcome{State: PollStateFailed, Reason: reason}
}
