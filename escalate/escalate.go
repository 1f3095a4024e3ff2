// Package escalate decides when a conversation leaves automated handling and
// becomes a human-support ticket. Repeated fallbacks, an explicit request for
// a human, a negative-sentiment keyword or an exhausted action failure each
// move the policy from Normal to Escalating; ticket creation is routed
// through the regular action dispatcher so it inherits the same retry and
// idempotency guarantees as any other action.
package escalate

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/dialogmesh/core"
	"github.com/hupe1980/dialogmesh/dispatch"
	"github.com/hupe1980/dialogmesh/logging"
)

// Options holds configuration overrides passed to New().
type Options struct {
	// FallbackThreshold is the consecutive-fallback count that triggers a
	// repeated-fallback escalation.
	FallbackThreshold int
	// TicketAction is the resource-API binding used to create tickets.
	TicketAction string
	// HumanIntents are intent names treated as an explicit human request.
	HumanIntents []string
	// NegativeKeywords are matched case-insensitively against raw text.
	NegativeKeywords []string
	// Logger for escalation events.
	Logger logging.Logger
}

// Policy evaluates escalation signals against the turn context and opens
// tickets through the dispatcher. It is stateless across sessions; the state
// machine lives in the per-session TurnContext counters.
type Policy struct {
	dispatcher        *dispatch.Dispatcher
	fallbackThreshold int
	ticketAction      string
	humanIntents      map[string]bool
	negativeKeywords  []string
	logger            logging.Logger
}

// New constructs a Policy creating tickets via the given dispatcher.
func New(dispatcher *dispatch.Dispatcher, optFns ...func(o *Options)) *Policy {
	opts := Options{
		FallbackThreshold: 2,
		TicketAction:      "create_support_ticket",
		HumanIntents:      []string{"human_handoff", "talk_to_human"},
		NegativeKeywords:  []string{"terrible", "awful", "useless", "ridiculous", "angry", "scam"},
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	humanIntents := make(map[string]bool, len(opts.HumanIntents))
	for _, name := range opts.HumanIntents {
		humanIntents[name] = true
	}

	return &Policy{
		dispatcher:        dispatcher,
		fallbackThreshold: opts.FallbackThreshold,
		ticketAction:      opts.TicketAction,
		humanIntents:      humanIntents,
		negativeKeywords:  opts.NegativeKeywords,
		logger:            opts.Logger,
	}
}

// IsHumanIntent reports whether the intent name is an explicit human request.
func (p *Policy) IsHumanIntent(intent string) bool { return p.humanIntents[intent] }

// Evaluate inspects the updated turn context and the current turn for
// escalation evidence and returns at most one signal, highest severity
// first. A nil result means no escalation this turn.
//
// actionExhausted marks an action that failed unrecoverably after consuming
// its retry budget this turn; permanent collaborator rejections (4xx) do not
// set it and therefore never auto-escalate. humanRequested covers an explicit
// human intent that cleared the caller's confidence gate and the fallback
// router's budget-exhausted signal. The intent name on the turn is not
// consulted here: a low-confidence classification must count as unknown, and
// only the caller knows the gate.
func (p *Policy) Evaluate(turnCtx *core.TurnContext, turn core.ClassifiedTurn, actionExhausted, humanRequested bool) *core.EscalationSignal {
	if actionExhausted {
		return &core.EscalationSignal{
			Reason:          core.ReasonActionFailure,
			Severity:        SeverityFor(core.ReasonActionFailure),
			OriginatingText: turn.RawText,
		}
	}
	if p.matchesNegativeKeyword(turn.RawText) {
		return &core.EscalationSignal{
			Reason:          core.ReasonNegativeSentiment,
			Severity:        SeverityFor(core.ReasonNegativeSentiment),
			OriginatingText: turn.RawText,
		}
	}
	if humanRequested {
		return &core.EscalationSignal{
			Reason:          core.ReasonExplicitHumanRequest,
			Severity:        SeverityFor(core.ReasonExplicitHumanRequest),
			OriginatingText: turn.RawText,
		}
	}
	if !turnCtx.FallbackEscalated && turnCtx.ConsecutiveFallbacks >= p.fallbackThreshold {
		return &core.EscalationSignal{
			Reason:          core.ReasonRepeatedFallback,
			Severity:        SeverityFor(core.ReasonRepeatedFallback),
			OriginatingText: turn.RawText,
		}
	}
	return nil
}

// OpenTicket creates a support ticket for the signal through the dispatcher.
// The idempotency key is derived from the triggering turn so a retried turn
// never opens a second ticket. Returns the collaborator's ticket reference.
func (p *Policy) OpenTicket(ctx context.Context, identity core.Identity, sig *core.EscalationSignal, idempotencyKey string) (string, error) {
	req := core.ActionRequest{
		ActionName: p.ticketAction,
		Parameters: map[string]core.Value{
			"identity": core.StringValue(identity.Key()),
			"subject":  core.StringValue(subjectFor(sig.Reason)),
			"message":  core.StringValue(sig.OriginatingText),
			"severity": core.StringValue(sig.Severity.String()),
		},
		IdempotencyKey: idempotencyKey,
		Mutating:       true,
	}

	out := p.dispatcher.Dispatch(ctx, req)
	if out.Kind != core.OutcomeSuccess {
		err := fmt.Errorf("ticket creation failed: %s", out.Reason)
		p.logEscalation(sig, "", err)
		return "", err
	}

	ref, _ := out.Payload["ticket_reference"].(string)
	p.logEscalation(sig, ref, nil)
	return ref, nil
}

func subjectFor(reason core.EscalationReason) string {
	switch reason {
	case core.ReasonRepeatedFallback:
		return "Conversation stuck: repeated unrecognized requests"
	case core.ReasonExplicitHumanRequest:
		return "Customer asked for a human"
	case core.ReasonNegativeSentiment:
		return "Customer expressed frustration"
	case core.ReasonActionFailure:
		return "Automated action failed unrecoverably"
	default:
		return "Conversation escalated"
	}
}

// SeverityFor maps a triggering reason to the ticket severity.
func SeverityFor(reason core.EscalationReason) core.Severity {
	switch reason {
	case core.ReasonActionFailure, core.ReasonNegativeSentiment:
		return core.SeverityHigh
	default:
		return core.SeverityNormal
	}
}

func (p *Policy) matchesNegativeKeyword(text string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range p.negativeKeywords {
		if kw != "" && strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (p *Policy) logEscalation(sig *core.EscalationSignal, ref string, err error) {
	if dl, ok := p.logger.(*logging.DialogLogger); ok {
		dl.LogEscalation(sig.Reason.String(), sig.Severity.String(), ref, err)
		return
	}
	if err != nil {
		p.logger.Error("escalation ticket failed reason=%s: %v", sig.Reason.String(), err)
		return
	}
	p.logger.Info("escalation ticket created reason=%s severity=%s ticket_ref=%s", sig.Reason.String(), sig.Severity.String(), ref)
}
