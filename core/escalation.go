package core

// EscalationReason enumerates the conversation signals that can justify
// opening a human-support ticket.
type EscalationReason int

const (
	// ReasonRepeatedFallback fires after consecutive unresolvable turns.
	ReasonRepeatedFallback EscalationReason = iota
	// ReasonExplicitHumanRequest fires when the user asks for a human.
	ReasonExplicitHumanRequest
	// ReasonNegativeSentiment fires on a negative-sentiment keyword match.
	ReasonNegativeSentiment
	// ReasonActionFailure fires when an action failed unrecoverably after
	// exhausting its retry budget.
	ReasonActionFailure
)

// String returns the snake_case reason name used in tickets and logs.
func (r EscalationReason) String() string {
	switch r {
	case ReasonRepeatedFallback:
		return "repeated_fallback"
	case ReasonExplicitHumanRequest:
		return "explicit_human_request"
	case ReasonNegativeSentiment:
		return "negative_sentiment_keyword"
	case ReasonActionFailure:
		return "action_failure_unrecoverable"
	default:
		return "unknown"
	}
}

// Severity is the ticket severity derived from the triggering reason.
type Severity int

const (
	// SeverityLow is informational.
	SeverityLow Severity = iota
	// SeverityNormal is the default ticket severity.
	SeverityNormal
	// SeverityHigh marks tickets needing prompt human attention.
	SeverityHigh
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityNormal:
		return "normal"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// EscalationSignal is accumulated evidence for ticket creation. It is
// consumed exactly once and not persisted beyond the ticket dispatch.
type EscalationSignal struct {
	Reason          EscalationReason
	Severity        Severity
	OriginatingText string
}
