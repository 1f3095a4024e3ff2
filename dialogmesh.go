// Package dialogmesh provides a high-level façade over the dialogue
// orchestration core (sessions, slot filling, action dispatch, fallback &
// escalation) enabling rapid construction of task-oriented bots. Most
// applications interact with this package by:
//  1. Creating a Bot via New() with a resource-API client (optionally
//     overriding the built-in configuration, store or answering capability)
//  2. Feeding classified turns through ProcessTurn
//  3. Rendering the returned ResponsePlan units in their transport
//
// The façade delegates turn processing to orchestrator.Orchestrator while
// keeping setup ergonomics concise. All defaults are safe for local
// development and testing; production deployments typically supply the
// sqlite session store and a structured logger.
package dialogmesh

import (
	"context"

	"github.com/hupe1980/dialogmesh/answer"
	"github.com/hupe1980/dialogmesh/config"
	"github.com/hupe1980/dialogmesh/core"
	"github.com/hupe1980/dialogmesh/dispatch"
	"github.com/hupe1980/dialogmesh/escalate"
	"github.com/hupe1980/dialogmesh/fallback"
	"github.com/hupe1980/dialogmesh/logging"
	"github.com/hupe1980/dialogmesh/orchestrator"
	"github.com/hupe1980/dialogmesh/session"
	"github.com/hupe1980/dialogmesh/session/sqlite"
)

// Options configures the Bot instance.
type Options struct {
	// Config is the bot configuration. Defaults to config.Default().
	Config *config.Config
	// Store overrides the session store selected by the configuration.
	Store core.SessionStore
	// Answerer is the general-answering capability for fallback turns.
	// Nil means fallback replies stay static.
	Answerer answer.Answerer
	// Logger for all components.
	Logger logging.Logger
}

// Bot bundles the configured orchestration stack behind a minimal surface.
type Bot struct {
	orch    *orchestrator.Orchestrator
	cfg     *config.Config
	cleanup []func() error
}

// New creates a Bot executing actions against the given resource-API client.
func New(client core.ResourceClient, optFns ...func(o *Options)) (*Bot, error) {
	opts := Options{
		Config: config.Default(),
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}
	cfg := opts.Config

	registry, err := cfg.BuildRegistry()
	if err != nil {
		return nil, err
	}

	bot := &Bot{cfg: cfg}

	store := opts.Store
	if store == nil {
		switch cfg.Session.Store {
		case "sqlite":
			durable, err := sqlite.Open(cfg.Session.SQLitePath, func(o *sqlite.Options) {
				o.TTL = cfg.Session.TTL.Std()
			})
			if err != nil {
				return nil, err
			}
			bot.cleanup = append(bot.cleanup, durable.Shutdown)
			store = durable
		default:
			mem := session.NewInMemoryStore(func(o *session.Options) {
				o.TTL = cfg.Session.TTL.Std()
			})
			bot.cleanup = append(bot.cleanup, func() error { mem.Stop(); return nil })
			store = mem
		}
	}

	dispatcher := dispatch.New(client, func(o *dispatch.Options) {
		o.MaxRetries = cfg.Dispatch.MaxRetries
		o.BaseBackoff = cfg.Dispatch.BaseBackoff.Std()
		o.Timeout = cfg.Dispatch.Timeout.Std()
		o.Logger = opts.Logger
	})

	router := fallback.New(opts.Answerer, func(o *fallback.Options) {
		o.Budget = cfg.Fallback.Budget
		o.Timeout = cfg.Fallback.Timeout.Std()
		if cfg.Fallback.MenuReply != "" {
			o.MenuReply = cfg.Fallback.MenuReply
		}
		if cfg.Fallback.ApologyReply != "" {
			o.ApologyReply = cfg.Fallback.ApologyReply
		}
		o.Logger = opts.Logger
	})

	policy := escalate.New(dispatcher, func(o *escalate.Options) {
		o.FallbackThreshold = cfg.Escalation.FallbackThreshold
		o.TicketAction = cfg.Escalation.TicketAction
		o.HumanIntents = cfg.Escalation.HumanIntents
		o.NegativeKeywords = cfg.Escalation.NegativeKeywords
		o.Logger = opts.Logger
	})

	bot.orch = orchestrator.New(store, registry, dispatcher, func(o *orchestrator.Options) {
		o.Fallback = router
		o.Escalation = policy
		o.Responses = cfg.Responses
		o.ConfidenceThreshold = cfg.ConfidenceThreshold
		o.InterruptConfidence = cfg.InterruptConfidence
		o.InformIntent = cfg.InformIntent
		o.CancelIntent = cfg.CancelIntent
		o.ContextParam = cfg.ContextParam
		o.SessionTTL = cfg.Session.TTL.Std()
		o.Logger = opts.Logger
	})

	return bot, nil
}

// ProcessTurn applies one classified turn and returns the response plan.
func (b *Bot) ProcessTurn(ctx context.Context, sessionID string, turn core.ClassifiedTurn) (*core.ResponsePlan, error) {
	return b.orch.ProcessTurn(ctx, sessionID, turn)
}

// CreateOrGetSession returns the identity's active session, creating one if
// none exists.
func (b *Bot) CreateOrGetSession(identity core.Identity) (*core.Session, error) {
	return b.orch.CreateOrGetSession(identity)
}

// MergeSession moves a guest session into the customer's session on login.
func (b *Bot) MergeSession(guestToken, customerID string) (*core.Session, error) {
	return b.orch.MergeSession(guestToken, customerID)
}

// Orchestrator exposes the underlying orchestrator, e.g. for mounting the
// HTTP ingress.
func (b *Bot) Orchestrator() *orchestrator.Orchestrator { return b.orch }

// Config returns the active configuration.
func (b *Bot) Config() *config.Config { return b.cfg }

// Shutdown releases resources held by the Bot's own stores. Stores supplied
// through Options are the caller's to close.
func (b *Bot) Shutdown() error {
	var first error
	for _, fn := range b.cleanup {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
