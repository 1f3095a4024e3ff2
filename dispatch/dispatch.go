// Package dispatch executes resolved actions against the resource-API
// collaborator with a bounded retry policy. Transient failures (timeouts,
// server errors) are retried with exponential backoff; client errors are
// terminal. Every dispatch carries an idempotency key so retries of mutating
// actions are safe to repeat, and dispatch fails closed when the collaborator
// cannot deduplicate on that key.
package dispatch

import (
	"context"
	"time"

	"github.com/hupe1980/dialogmesh/core"
	"github.com/hupe1980/dialogmesh/logging"
)

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// MaxRetries bounds additional attempts after the first for transient
	// failures.
	MaxRetries int
	// BaseBackoff is the delay before the first retry; it doubles per retry.
	BaseBackoff time.Duration
	// Timeout bounds each individual collaborator call.
	Timeout time.Duration
	// Logger for dispatch events.
	Logger logging.Logger

	// sleep is injected by tests; defaults to a context-aware timer wait.
	sleep func(ctx context.Context, d time.Duration) error
}

// WithSleep overrides the inter-retry wait. Only used by tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) func(o *Options) {
	return func(o *Options) { o.sleep = sleep }
}

// Dispatcher executes ActionRequests against one resource-API collaborator.
// It has no mutable state after construction and is safe for concurrent use.
type Dispatcher struct {
	client      core.ResourceClient
	maxRetries  int
	baseBackoff time.Duration
	timeout     time.Duration
	logger      logging.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// New constructs a Dispatcher with optional overrides.
func New(client core.ResourceClient, optFns ...func(o *Options)) *Dispatcher {
	opts := Options{
		MaxRetries:  2,
		BaseBackoff: 200 * time.Millisecond,
		Timeout:     5 * time.Second,
		Logger:      logging.NoOpLogger{},
		sleep:       sleepCtx,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Dispatcher{
		client:      client,
		maxRetries:  opts.MaxRetries,
		baseBackoff: opts.BaseBackoff,
		timeout:     opts.Timeout,
		logger:      opts.Logger,
		sleep:       opts.sleep,
	}
}

// Dispatch executes a resolved action and returns its terminal outcome.
// It never returns OutcomeRecoverable to the caller: a transient failure that
// survives the retry budget is surfaced as an unrecoverable outcome with
// Exhausted set, which feeds the escalation policy.
func (d *Dispatcher) Dispatch(ctx context.Context, req core.ActionRequest) core.ActionOutcome {
	start := time.Now()

	if req.Mutating && !d.client.SupportsIdempotency() {
		// A collaborator that cannot deduplicate makes retried mutations
		// unsafe; refuse the dispatch instead of risking a duplicate effect.
		out := core.UnrecoverableFailure("collaborator cannot deduplicate mutating calls", 0)
		d.logger.Error("dispatch refused: collaborator lacks idempotency support action=%s", req.ActionName)
		d.logDispatch(req.ActionName, start, out, 0)
		return out
	}

	var last core.ActionOutcome
	attempts := 0
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, d.baseBackoff<<(attempt-1)); err != nil {
				out := core.UnrecoverableFailure(last.Reason, last.Code)
				out.Exhausted = true
				d.logDispatch(req.ActionName, start, out, attempts)
				return out
			}
		}

		attempts++
		last = d.attempt(ctx, req)
		if last.Kind != core.OutcomeRecoverable {
			d.logDispatch(req.ActionName, start, last, attempts)
			return last
		}
		d.logger.Debug("dispatch retrying action=%s attempt=%d reason=%s", req.ActionName, attempts, last.Reason)
	}

	out := core.UnrecoverableFailure("retries exhausted: "+last.Reason, last.Code)
	out.Exhausted = true
	d.logDispatch(req.ActionName, start, out, attempts)
	return out
}

func (d *Dispatcher) attempt(ctx context.Context, req core.ActionRequest) core.ActionOutcome {
	callCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	res, err := d.client.Call(callCtx, req.ActionName, req.Parameters, req.IdempotencyKey)
	if err != nil {
		if callCtx.Err() != nil {
			return core.RecoverableFailure("timeout")
		}
		return core.RecoverableFailure(err.Error())
	}

	switch res.Status {
	case core.ResourceOK:
		return core.Success(res.Payload)
	case core.ResourceEmpty:
		return core.EmptyResult()
	case core.ResourceClientError:
		return core.UnrecoverableFailure(res.Message, res.Code)
	case core.ResourceServerError:
		return core.RecoverableFailure(res.Message)
	default:
		return core.RecoverableFailure("unknown collaborator status")
	}
}

func (d *Dispatcher) logDispatch(action string, start time.Time, out core.ActionOutcome, attempts int) {
	if dl, ok := d.logger.(*logging.DialogLogger); ok {
		dl.LogDispatch(action, time.Since(start), out.Kind.String(), attempts, nil)
		return
	}
	d.logger.Info("dispatch completed action=%s outcome=%s attempts=%d", action, out.Kind.String(), attempts)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
