package core

import "time"

// TurnRole distinguishes who authored a recorded turn.
type TurnRole string

const (
	// TurnRoleUser marks an inbound end-user utterance.
	TurnRoleUser TurnRole = "user"
	// TurnRoleBot marks the outbound reply produced for a turn.
	TurnRoleBot TurnRole = "bot"
)

// ClassifiedTurn is the ingress payload for one conversational turn: the
// classifier's intent verdict plus extracted entities and the raw utterance.
// Confidence below the orchestrator's threshold is treated as unknown intent
// regardless of the returned name.
type ClassifiedTurn struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities,omitempty"`
	RawText    string            `json:"raw_text"`
}

// TurnRecord is one persisted entry of a session's message history.
type TurnRecord struct {
	Seq       int       `json:"seq"`
	Role      TurnRole  `json:"role"`
	Text      string    `json:"text"`
	Intent    string    `json:"intent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
