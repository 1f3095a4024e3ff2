package core

// MessageUnit represents one presentational unit of a ResponsePlan. Concrete
// unit types implement the unexported isUnit marker enabling a closed set;
// transports decide how each unit is rendered.
type MessageUnit interface{ isUnit() }

// TextUnit is a plain text reply segment.
type TextUnit struct {
	Text string `json:"text"`
}

func (TextUnit) isUnit() {}

// DataUnit references a structured payload (e.g. search results, an order)
// for the UI to render. The core never inspects the payload beyond selecting
// the response template that produced it.
type DataUnit struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

func (DataUnit) isUnit() {}

// PromptUnit asks the user for one still-missing action parameter.
type PromptUnit struct {
	Parameter string `json:"parameter"`
	Prompt    string `json:"prompt"`
}

func (PromptUnit) isUnit() {}

// TicketUnit confirms that a human-support ticket was opened.
type TicketUnit struct {
	TicketRef string `json:"ticket_ref"`
	Text      string `json:"text"`
}

func (TicketUnit) isUnit() {}

// ResponsePlan is the ordered list of message units produced for one turn.
// SessionID identifies the session the turn was applied to, which may differ
// from the requested one when an expired session was replaced.
type ResponsePlan struct {
	SessionID string        `json:"session_id"`
	Units     []MessageUnit `json:"units"`
}

// NewResponsePlan creates an empty plan for the given session.
func NewResponsePlan(sessionID string) *ResponsePlan {
	return &ResponsePlan{SessionID: sessionID}
}

// Append adds units to the plan preserving order.
func (p *ResponsePlan) Append(units ...MessageUnit) {
	p.Units = append(p.Units, units...)
}

// Text concatenates all textual content of the plan for logging and history.
func (p *ResponsePlan) Text() string {
	var out string
	for _, u := range p.Units {
		var s string
		switch unit := u.(type) {
		case TextUnit:
			s = unit.Text
		case PromptUnit:
			s = unit.Prompt
		case TicketUnit:
			s = unit.Text
		}
		if s == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += s
	}
	return out
}
