package core

// PendingAction is an action whose required parameters are still being
// collected across turns. It survives only intents that answer its missing
// parameters; cancellation, dispatch or an unrelated high-confidence intent
// clears it.
type PendingAction struct {
	Action      string           `json:"action"`
	Parameters  map[string]Value `json:"parameters"`
	OpenedAtSeq int              `json:"opened_at_seq"`
}

// Clone returns a deep copy of the pending action.
func (p *PendingAction) Clone() *PendingAction {
	if p == nil {
		return nil
	}
	params := make(map[string]Value, len(p.Parameters))
	for k, v := range p.Parameters {
		params[k] = v
	}
	return &PendingAction{Action: p.Action, Parameters: params, OpenedAtSeq: p.OpenedAtSeq}
}

// TurnContext is the per-session short-term memory consulted and mutated on
// every turn. It is owned by the session and only ever written inside the
// orchestrator's serialized turn-processing path.
//
// FallbackBudgetUsed is monotonic for the session lifetime and never resets;
// ConsecutiveFallbacks resets on any successfully resolved intent.
type TurnContext struct {
	PendingAction          *PendingAction `json:"pending_action,omitempty"`
	LastReferencedEntityID string         `json:"last_referenced_entity_id,omitempty"`
	LastQuery              string         `json:"last_query,omitempty"`
	ConsecutiveFallbacks   int            `json:"consecutive_fallbacks"`
	FallbackBudgetUsed     int            `json:"fallback_budget_used"`

	// FallbackEscalated suppresses further repeated-fallback tickets until an
	// intervening successful intent resets it.
	FallbackEscalated bool `json:"fallback_escalated,omitempty"`
}

// NewTurnContext returns an empty turn context.
func NewTurnContext() *TurnContext { return &TurnContext{} }

// Clone returns a deep copy safe for independent mutation.
func (tc *TurnContext) Clone() *TurnContext {
	if tc == nil {
		return NewTurnContext()
	}
	clone := *tc
	clone.PendingAction = tc.PendingAction.Clone()
	return &clone
}

// ResetFallbackStreak clears the consecutive-fallback counter and the
// repeated-fallback escalation latch. Called whenever an intent resolves
// successfully. The lifetime fallback budget is left untouched.
func (tc *TurnContext) ResetFallbackStreak() {
	tc.ConsecutiveFallbacks = 0
	tc.FallbackEscalated = false
}
