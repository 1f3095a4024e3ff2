package core

// ActionRequest is a resolved, fully-parameterized intent ready for dispatch
// against the resource-API collaborator. IdempotencyKey is derived from the
// session id and turn sequence number so a retried dispatch of a mutating
// action has at most one effect.
type ActionRequest struct {
	ActionName     string           `json:"action_name"`
	Parameters     map[string]Value `json:"parameters"`
	Required       []string         `json:"required"`
	IdempotencyKey string           `json:"idempotency_key"`
	Mutating       bool             `json:"mutating"`
}

// OutcomeKind classifies the result of a dispatched action.
type OutcomeKind int

const (
	// OutcomeSuccess is a completed action with a payload.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeEmpty is a completed action with no matching result.
	OutcomeEmpty
	// OutcomeRecoverable is a transient failure eligible for retry.
	OutcomeRecoverable
	// OutcomeUnrecoverable is a permanent failure; never retried.
	OutcomeUnrecoverable
)

// String returns the lowercase outcome name used as response-template key.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomeRecoverable:
		return "recoverable"
	case OutcomeUnrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// ActionOutcome is the dispatcher's terminal verdict on one ActionRequest.
// Exhausted marks an originally transient failure that consumed the retry
// budget; only exhausted failures feed the escalation policy as
// ActionFailureUnrecoverable candidates, permanent collaborator rejections
// (4xx) do not.
type ActionOutcome struct {
	Kind      OutcomeKind    `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Code      int            `json:"code,omitempty"`
	Exhausted bool           `json:"exhausted,omitempty"`
}

// Success constructs a successful outcome carrying the collaborator payload.
func Success(payload map[string]any) ActionOutcome {
	return ActionOutcome{Kind: OutcomeSuccess, Payload: payload}
}

// EmptyResult constructs an empty-result outcome.
func EmptyResult() ActionOutcome { return ActionOutcome{Kind: OutcomeEmpty} }

// RecoverableFailure constructs a transient failure outcome.
func RecoverableFailure(reason string) ActionOutcome {
	return ActionOutcome{Kind: OutcomeRecoverable, Reason: reason}
}

// UnrecoverableFailure constructs a permanent failure outcome.
func UnrecoverableFailure(reason string, code int) ActionOutcome {
	return ActionOutcome{Kind: OutcomeUnrecoverable, Reason: reason, Code: code}
}
