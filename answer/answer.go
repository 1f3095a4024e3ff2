// Package answer defines the general-answering collaborator contract: given
// a free-form query and the recent conversation, produce an answer text.
// Provider adapters live in the answer/anthropic and answer/openai
// subpackages; the fallback router consumes the interface under a timeout
// and never lets provider errors reach the user.
package answer

import (
	"context"

	"github.com/hupe1980/dialogmesh/core"
)

// Info describes an Answerer implementation for logging and diagnostics.
type Info struct {
	Name     string // Provider-specific model identifier
	Provider string // e.g. "anthropic", "openai"
}

// Answerer is the general-answering capability. Implementations must honor
// ctx cancellation and deadlines; the caller always supplies a timeout.
type Answerer interface {
	Answer(ctx context.Context, query string, recent []core.TurnRecord) (string, error)
	Info() Info
}
