// Package fallback routes unclassified or low-confidence utterances to the
// general-answering capability, bounded by a hard per-session budget. Once
// the budget is exhausted the capability is skipped entirely and the user is
// steered toward the menu or a human, so a dead-end conversation always has
// an exit.
package fallback

import (
	"context"
	"time"

	"github.com/hupe1980/dialogmesh/answer"
	"github.com/hupe1980/dialogmesh/core"
	"github.com/hupe1980/dialogmesh/logging"
)

// DefaultMenuReply is returned when the fallback budget is exhausted.
const DefaultMenuReply = "I'm having trouble helping with that here. You can browse products, check your cart or orders - or I can connect you with a colleague."

// DefaultApologyReply is returned when the answering capability fails or
// times out.
const DefaultApologyReply = "Sorry, I couldn't find an answer to that right now. Could you rephrase, or ask about products, your cart or orders?"

// Reply is the router's verdict for one fallback-eligible turn.
type Reply struct {
	// Text is the user-facing reply.
	Text string
	// Answered reports whether the answering capability produced Text.
	Answered bool
	// EscalateHint registers an explicit-human-request-equivalent signal
	// when the budget is exhausted.
	EscalateHint bool
}

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// Budget caps general-answering calls per session lifetime. 0 = unlimited.
	Budget int
	// Timeout bounds each answering-capability call.
	Timeout time.Duration
	// MenuReply overrides the budget-exhausted reply.
	MenuReply string
	// ApologyReply overrides the capability-failure reply.
	ApologyReply string
	// Logger for fallback events.
	Logger logging.Logger
}

// Router handles fallback-eligible turns. It is safe for concurrent use; all
// per-session state lives in the TurnContext handed to Handle.
type Router struct {
	answerer     answer.Answerer
	budget       int
	timeout      time.Duration
	menuReply    string
	apologyReply string
	logger       logging.Logger
}

// New constructs a Router. A nil answerer is allowed; every eligible turn
// then receives the apology reply without consuming budget.
func New(answerer answer.Answerer, optFns ...func(o *Options)) *Router {
	opts := Options{
		Budget:       5,
		Timeout:      10 * time.Second,
		MenuReply:    DefaultMenuReply,
		ApologyReply: DefaultApologyReply,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Router{
		answerer:     answerer,
		budget:       opts.Budget,
		timeout:      opts.Timeout,
		menuReply:    opts.MenuReply,
		apologyReply: opts.ApologyReply,
		logger:       opts.Logger,
	}
}

// Handle answers one fallback-eligible turn. It charges the session's
// fallback budget (persisted in turnCtx.FallbackBudgetUsed) before calling
// the capability; once the budget is gone the capability is never invoked
// again for this session.
func (r *Router) Handle(ctx context.Context, rawText string, turnCtx *core.TurnContext, recent []core.TurnRecord) Reply {
	start := time.Now()

	limiter := core.NewFallbackLimiter(r.budget, turnCtx.FallbackBudgetUsed)
	if limiter.Exhausted() {
		r.logFallback(turnCtx.FallbackBudgetUsed, start, false, nil)
		return Reply{Text: r.menuReply, EscalateHint: true}
	}

	if r.answerer == nil {
		return Reply{Text: r.apologyReply}
	}

	if err := limiter.Increment(); err != nil {
		return Reply{Text: r.menuReply, EscalateHint: true}
	}
	turnCtx.FallbackBudgetUsed = limiter.Used()

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	text, err := r.answerer.Answer(callCtx, rawText, recent)
	if err != nil {
		r.logFallback(turnCtx.FallbackBudgetUsed, start, false, err)
		return Reply{Text: r.apologyReply}
	}

	r.logFallback(turnCtx.FallbackBudgetUsed, start, true, nil)
	return Reply{Text: text, Answered: true}
}

func (r *Router) logFallback(budgetUsed int, start time.Time, answered bool, err error) {
	if dl, ok := r.logger.(*logging.DialogLogger); ok {
		dl.LogFallback(budgetUsed, time.Since(start), answered, err)
		return
	}
	if err != nil {
		r.logger.Warn("fallback answering failed budget_used=%d: %v", budgetUsed, err)
		return
	}
	r.logger.Debug("fallback handled budget_used=%d answered=%t", budgetUsed, answered)
}
