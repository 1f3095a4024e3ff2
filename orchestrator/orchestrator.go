// Package orchestrator coordinates one conversation turn end to end: it
// loads the session, applies the slot-filling resumption rule, dispatches
// resolved actions, routes unresolvable turns to the fallback router,
// evaluates escalation and persists the updated session before returning a
// ResponsePlan. Turns for the same session are applied strictly in arrival
// order; turns for different sessions run in parallel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/dialogmesh/core"
	"github.com/hupe1980/dialogmesh/dispatch"
	"github.com/hupe1980/dialogmesh/escalate"
	"github.com/hupe1980/dialogmesh/fallback"
	"github.com/hupe1980/dialogmesh/internal/util"
	"github.com/hupe1980/dialogmesh/logging"
	"github.com/hupe1980/dialogmesh/slot"
	"github.com/hupe1980/dialogmesh/template"
)

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// Fallback handles unresolvable turns. Defaults to a router without an
	// answering capability (static apologies only).
	Fallback *fallback.Router
	// Escalation decides ticket creation. Defaults to a policy over the
	// orchestrator's dispatcher.
	Escalation *escalate.Policy
	// Responses maps action name to outcome kind to a reply template
	// rendered against the action payload. Missing entries fall back to
	// built-in generic replies scoped to the action.
	Responses map[string]map[string]string
	// ConfidenceThreshold below which a classified intent is treated as
	// unknown regardless of its name.
	ConfidenceThreshold float64
	// InterruptConfidence a new unrelated intent must reach to supersede an
	// in-progress pending action.
	InterruptConfidence float64
	// InformIntent is the designated slot-filling-answer intent name.
	InformIntent string
	// CancelIntent abandons the pending action.
	CancelIntent string
	// ContextParam is the parameter name filled from the session's last
	// referenced entity when the template marks it context-fillable.
	ContextParam string
	// SessionTTL closes sessions idle longer than this. 0 disables expiry.
	SessionTTL time.Duration
	// RecentWindow is the number of history turns handed to the answering
	// capability.
	RecentWindow int
	// Logger for turn processing events.
	Logger logging.Logger
}

// Orchestrator is the single public entry point of the dialogue core. All
// session mutation happens inside ProcessTurn under a per-session lock.
type Orchestrator struct {
	store      core.SessionStore
	templates  *template.Registry
	dispatcher *dispatch.Dispatcher
	slots      *slot.Engine
	fallback   *fallback.Router
	escalation *escalate.Policy
	responses  map[string]map[string]string

	confidenceThreshold float64
	interruptConfidence float64
	informIntent        string
	cancelIntent        string
	contextParam        string
	sessionTTL          time.Duration
	recentWindow        int
	logger              logging.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// New constructs an Orchestrator over the given session store, action
// template registry and dispatcher.
func New(store core.SessionStore, templates *template.Registry, dispatcher *dispatch.Dispatcher, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		ConfidenceThreshold: 0.5,
		InterruptConfidence: 0.75,
		InformIntent:        "inform",
		CancelIntent:        "cancel",
		ContextParam:        "product_id",
		RecentWindow:        6,
		Logger:              logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Fallback == nil {
		opts.Fallback = fallback.New(nil, func(o *fallback.Options) {
			o.Logger = opts.Logger
		})
	}
	if opts.Escalation == nil {
		opts.Escalation = escalate.New(dispatcher, func(o *escalate.Options) {
			o.Logger = opts.Logger
		})
	}

	return &Orchestrator{
		store:               store,
		templates:           templates,
		dispatcher:          dispatcher,
		slots:               slot.NewEngine(),
		fallback:            opts.Fallback,
		escalation:          opts.Escalation,
		responses:           opts.Responses,
		confidenceThreshold: opts.ConfidenceThreshold,
		interruptConfidence: opts.InterruptConfidence,
		informIntent:        opts.InformIntent,
		cancelIntent:        opts.CancelIntent,
		contextParam:        opts.ContextParam,
		sessionTTL:          opts.SessionTTL,
		recentWindow:        opts.RecentWindow,
		logger:              opts.Logger,
		locks:               map[string]*sessionLock{},
	}
}

// CreateOrGetSession returns the identity's active session, creating one if
// none exists. Idempotent.
func (o *Orchestrator) CreateOrGetSession(identity core.Identity) (*core.Session, error) {
	return o.store.CreateOrGet(identity)
}

// MergeSession moves a guest session's history into the customer's session
// on login. Idempotent.
func (o *Orchestrator) MergeSession(guestToken, customerID string) (*core.Session, error) {
	return o.store.Merge(guestToken, customerID)
}

// ProcessTurn applies one classified turn to its session and returns the
// ResponsePlan. Turns addressed to a closed or expired session open a fresh
// session for the same identity; the plan's SessionID reports the session
// actually used. A storage failure fails the whole turn with
// core.ErrStorageUnavailable and persists nothing.
func (o *Orchestrator) ProcessTurn(ctx context.Context, sessionID string, turn core.ClassifiedTurn) (*core.ResponsePlan, error) {
	lock := o.acquireSession(sessionID)
	defer o.releaseSession(sessionID, lock)

	sess, err := o.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsClosed() || sess.Expired(o.sessionTTL, time.Now().UTC()) {
		if !sess.IsClosed() {
			if err := o.store.Close(sess.ID); err != nil {
				return nil, err
			}
		}
		if sess, err = o.store.CreateOrGet(sess.Identity); err != nil {
			return nil, err
		}
	}

	seq := sess.NextSeq()
	sess.AddTurn(core.TurnRecord{
		Seq:       seq,
		Role:      core.TurnRoleUser,
		Text:      turn.RawText,
		Intent:    turn.Intent,
		Timestamp: time.Now().UTC(),
	})

	intent := turn.Intent
	if turn.Confidence < o.confidenceThreshold {
		intent = ""
	}

	plan := core.NewResponsePlan(sess.ID)
	verdict := o.routeTurn(ctx, sess, seq, intent, turn, plan)

	if sig := o.escalation.Evaluate(sess.Context, turn, verdict.actionExhausted, verdict.humanRequested); sig != nil {
		o.openTicket(ctx, sess, seq, sig, plan)
	}

	sess.AddTurn(core.TurnRecord{
		Seq:       seq,
		Role:      core.TurnRoleBot,
		Text:      plan.Text(),
		Timestamp: time.Now().UTC(),
	})

	if err := o.store.Save(sess); err != nil {
		return nil, err
	}
	return plan, nil
}

// verdict carries the routing results the escalation evaluation needs.
type verdict struct {
	actionExhausted bool
	humanRequested  bool
}

// routeTurn applies the slot-filling resumption rule and steps 2-6 of the
// turn algorithm, appending reply units to plan and mutating the session's
// turn context.
func (o *Orchestrator) routeTurn(ctx context.Context, sess *core.Session, seq int, intent string, turn core.ClassifiedTurn, plan *core.ResponsePlan) verdict {
	turnCtx := sess.Context

	if intent == o.cancelIntent {
		if turnCtx.PendingAction != nil {
			plan.Append(core.TextUnit{Text: fmt.Sprintf("Okay, I won't %s.", humanize(turnCtx.PendingAction.Action))})
			turnCtx.PendingAction = nil
		} else {
			plan.Append(core.TextUnit{Text: "Okay. Is there anything else I can help with?"})
		}
		turnCtx.ResetFallbackStreak()
		return verdict{}
	}

	if o.escalation.IsHumanIntent(intent) {
		plan.Append(core.TextUnit{Text: "Of course, let me get a colleague to help you."})
		turnCtx.ResetFallbackStreak()
		return verdict{humanRequested: true}
	}

	if pending := turnCtx.PendingAction; pending != nil {
		tmpl, ok := o.templates.Get(pending.Action)
		if !ok {
			// A pending action pointing at an unregistered template means
			// the configuration changed under a live session.
			o.logger.Error("pending action references unknown template action=%s session=%s", pending.Action, sess.ID)
			turnCtx.PendingAction = nil
			plan.Append(core.TextUnit{Text: "Sorry, something went wrong on my side. Let's start over - what would you like to do?"})
			return verdict{}
		}

		if o.resumesPending(tmpl, turnCtx, intent, turn.Entities) {
			return o.continueAction(ctx, sess, seq, tmpl, pending, turn.Entities, plan)
		}

		if _, known := o.templates.Get(intent); known && turn.Confidence >= o.interruptConfidence {
			// Unrelated high-confidence intent supersedes the pending action.
			turnCtx.PendingAction = nil
		} else {
			// The in-progress action keeps priority: re-ask for what is
			// still missing instead of starting something new.
			return o.continueAction(ctx, sess, seq, tmpl, pending, nil, plan)
		}
	}

	tmpl, ok := o.templates.Get(intent)
	if !ok {
		return o.routeFallback(ctx, sess, turn, plan)
	}

	turnCtx.ResetFallbackStreak()
	return o.startAction(ctx, sess, seq, tmpl, turn.Entities, plan)
}

// resumesPending reports whether the turn is a slot-filling answer to the
// pending action: the designated inform intent, or entities naming a
// still-missing required parameter.
func (o *Orchestrator) resumesPending(tmpl *template.Template, turnCtx *core.TurnContext, intent string, entities map[string]string) bool {
	if intent == o.informIntent {
		return true
	}
	res := o.slots.Resolve(tmpl, turnCtx.PendingAction.Parameters, o.contextDefaults(turnCtx))
	for _, name := range res.Missing {
		if _, ok := entities[name]; ok {
			return true
		}
	}
	return false
}

// startAction opens a new action from scratch.
func (o *Orchestrator) startAction(ctx context.Context, sess *core.Session, seq int, tmpl *template.Template, entities map[string]string, plan *core.ResponsePlan) verdict {
	pending := &core.PendingAction{
		Action:      tmpl.Name,
		Parameters:  map[string]core.Value{},
		OpenedAtSeq: seq,
	}
	sess.Context.PendingAction = pending
	return o.continueAction(ctx, sess, seq, tmpl, pending, entities, plan)
}

// continueAction merges new entities into the pending action, re-runs slot
// resolution and either prompts for the first missing parameter or clears
// the pending action and dispatches.
func (o *Orchestrator) continueAction(ctx context.Context, sess *core.Session, seq int, tmpl *template.Template, pending *core.PendingAction, entities map[string]string, plan *core.ResponsePlan) verdict {
	turnCtx := sess.Context
	turnCtx.ResetFallbackStreak()

	// Coerce entity by entity so one malformed value does not discard the
	// valid ones supplied alongside it.
	var invalid *core.ValidationError
	for name, raw := range entities {
		values, err := tmpl.Coerce(map[string]string{name: raw})
		if err != nil {
			var ve *core.ValidationError
			if errors.As(err, &ve) && invalid == nil {
				invalid = ve
			}
			continue
		}
		for k, v := range values {
			pending.Parameters[k] = v
		}
	}
	if invalid != nil {
		// Malformed entities are recovered locally by re-prompting.
		plan.Append(core.TextUnit{Text: fmt.Sprintf("Sorry, I can't use %q for %s.", fmt.Sprint(invalid.Value), humanize(invalid.Field))})
		if spec, ok := tmpl.Spec(invalid.Field); ok && spec.Prompt != "" {
			plan.Append(core.PromptUnit{Parameter: invalid.Field, Prompt: spec.Prompt})
			return verdict{}
		}
	}

	res := o.slots.Resolve(tmpl, pending.Parameters, o.contextDefaults(turnCtx))
	if !res.Complete {
		name := res.Missing[0]
		spec, _ := tmpl.Spec(name)
		prompt := spec.Prompt
		if prompt == "" {
			prompt = fmt.Sprintf("Which %s would you like?", humanize(name))
		}
		plan.Append(core.PromptUnit{Parameter: name, Prompt: prompt})
		return verdict{}
	}

	turnCtx.PendingAction = nil

	req := core.ActionRequest{
		ActionName:     tmpl.Name,
		Parameters:     res.Parameters,
		Required:       tmpl.RequiredNames(),
		IdempotencyKey: fmt.Sprintf("%s:%d", sess.ID, seq),
		Mutating:       tmpl.Mutating,
	}
	out := o.dispatcher.Dispatch(ctx, req)

	if ref, ok := res.Parameters[o.contextParam]; ok && out.Kind == core.OutcomeSuccess {
		turnCtx.LastReferencedEntityID = ref.String()
	}

	o.appendOutcome(plan, req, out)
	return verdict{actionExhausted: out.Kind == core.OutcomeUnrecoverable && out.Exhausted}
}

// routeFallback hands an unresolvable turn to the fallback router.
func (o *Orchestrator) routeFallback(ctx context.Context, sess *core.Session, turn core.ClassifiedTurn, plan *core.ResponsePlan) verdict {
	turnCtx := sess.Context
	turnCtx.ConsecutiveFallbacks++
	turnCtx.LastQuery = turn.RawText

	reply := o.fallback.Handle(ctx, turn.RawText, turnCtx, sess.RecentTurns(o.recentWindow))
	plan.Append(core.TextUnit{Text: reply.Text})

	if !reply.EscalateHint {
		return verdict{}
	}
	// One ticket per exhausted streak: further over-budget turns ride the
	// latch until a successful intent resets it.
	if turnCtx.FallbackEscalated {
		return verdict{}
	}
	turnCtx.FallbackEscalated = true
	return verdict{humanRequested: true}
}

// openTicket dispatches the escalation ticket and appends its confirmation.
// The idempotency key is derived from the triggering turn so a retried turn
// never opens a second ticket.
func (o *Orchestrator) openTicket(ctx context.Context, sess *core.Session, seq int, sig *core.EscalationSignal, plan *core.ResponsePlan) {
	key := fmt.Sprintf("%s:%d:ticket", sess.ID, seq)
	ref, err := o.escalation.OpenTicket(ctx, sess.Identity, sig, key)
	if err != nil {
		plan.Append(core.TextUnit{Text: "I'll make sure a colleague follows up with you shortly."})
	} else {
		plan.Append(core.TicketUnit{
			TicketRef: ref,
			Text:      fmt.Sprintf("I've opened support ticket %s - a colleague will take it from here.", ref),
		})
	}

	if sig.Reason == core.ReasonRepeatedFallback {
		// One ticket per fallback streak: the latch holds until an
		// intervening successful intent resets it.
		sess.Context.ConsecutiveFallbacks = 0
		sess.Context.FallbackEscalated = true
	}
}

// appendOutcome renders the reply for a dispatched action from the response
// template keyed (action, outcome kind), falling back to generic replies
// scoped to the action. Successful payloads additionally travel as a
// DataUnit for the transport to render.
func (o *Orchestrator) appendOutcome(plan *core.ResponsePlan, req core.ActionRequest, out core.ActionOutcome) {
	text := o.renderResponse(req, out)
	plan.Append(core.TextUnit{Text: text})
	if out.Kind == core.OutcomeSuccess && len(out.Payload) > 0 {
		plan.Append(core.DataUnit{Name: req.ActionName, Data: out.Payload})
	}
}

func (o *Orchestrator) renderResponse(req core.ActionRequest, out core.ActionOutcome) string {
	if byKind, ok := o.responses[req.ActionName]; ok {
		if tmplText, ok := byKind[out.Kind.String()]; ok {
			state := map[string]any{
				"action": req.ActionName,
				"reason": out.Reason,
				"params": core.ParamsAny(req.Parameters),
			}
			for k, v := range out.Payload {
				state[k] = v
			}
			if rendered, err := util.RenderTemplate(tmplText, state); err == nil {
				return rendered
			}
			o.logger.Warn("response template render failed action=%s outcome=%s", req.ActionName, out.Kind.String())
		}
	}
	return defaultResponse(req.ActionName, out)
}

func defaultResponse(action string, out core.ActionOutcome) string {
	name := humanize(action)
	switch out.Kind {
	case core.OutcomeSuccess:
		return fmt.Sprintf("Done - your %s request went through.", name)
	case core.OutcomeEmpty:
		return fmt.Sprintf("I couldn't find anything for your %s request.", name)
	case core.OutcomeUnrecoverable:
		if out.Exhausted {
			return fmt.Sprintf("Sorry, I couldn't complete your %s request right now. Please try again in a moment.", name)
		}
		if out.Reason != "" {
			return fmt.Sprintf("Sorry, I couldn't complete your %s request: %s.", name, out.Reason)
		}
		return fmt.Sprintf("Sorry, I couldn't complete your %s request.", name)
	default:
		return fmt.Sprintf("Sorry, your %s request didn't go through. Please try again.", name)
	}
}

// contextDefaults builds the defaults map fed to slot resolution from the
// session's short-term memory. Only parameters the template marks
// context-fillable can consume them.
func (o *Orchestrator) contextDefaults(turnCtx *core.TurnContext) map[string]core.Value {
	defaults := map[string]core.Value{}
	if turnCtx.LastReferencedEntityID != "" {
		defaults[o.contextParam] = core.StringValue(turnCtx.LastReferencedEntityID)
	}
	return defaults
}

func humanize(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

// sessionLock serializes turns for one session id. Entries are reference
// counted so the lock map does not accumulate ids of finished sessions.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// acquireSession blocks until the caller holds the session's lock.
func (o *Orchestrator) acquireSession(sessionID string) *sessionLock {
	o.mu.Lock()
	lock, ok := o.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		o.locks[sessionID] = lock
	}
	lock.refs++
	o.mu.Unlock()

	lock.mu.Lock()
	return lock
}

// releaseSession unlocks the session and evicts the map entry once no other
// turn is holding or waiting on it.
func (o *Orchestrator) releaseSession(sessionID string, lock *sessionLock) {
	lock.mu.Unlock()

	o.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(o.locks, sessionID)
	}
	o.mu.Unlock()
}
