package models

// OutcomeKind classifies how a stage handler finished.
type OutcomeKind int

const (
	// OutcomeSuccess: downstream messages (if any) were sent; ack the input.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeBusinessFailure: the entity was rejected (e.g. validation
	// failed). The rejection is persisted, the input is acked, nothing is
	// forwarded downstream.
	OutcomeBusinessFailure
	// OutcomeTransient: an external dependency failed. Retried with backoff
	// inside the handler; surfacing here means attempts were exhausted.
	OutcomeTransient
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeBusinessFailure:
		return "business_failure"
	case OutcomeTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result every stage handler returns to the runtime.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Err    error
}

// Success returns a successful outcome.
func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

// BusinessFailure returns a business-level rejection with the given reason.
func BusinessFailure(reason string) Outcome {
	return Outcome{Kind: OutcomeBusinessFailure, Reason: reason}
}

// Transient wraps an external failure that exhausted its retries.
func Transient(err error) Outcome {
	return Outcome{Kind: OutcomeTransient, Err: err}
}
