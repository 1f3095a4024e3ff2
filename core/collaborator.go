package core

import "context"

// ResourceStatus tags the collaborator's reply to a resource-API call.
type ResourceStatus int

const (
	// ResourceOK is a successful call with a payload.
	ResourceOK ResourceStatus = iota
	// ResourceEmpty is a successful call with no matching resource.
	ResourceEmpty
	// ResourceClientError is a 4xx-class rejection; never retried.
	ResourceClientError
	// ResourceServerError is a 5xx-class failure; eligible for retry.
	ResourceServerError
)

// ResourceResult is the tagged outcome of one resource-API collaborator call.
// The core never inspects Payload internals beyond selecting a response
// template.
type ResourceResult struct {
	Status  ResourceStatus `json:"status"`
	Payload map[string]any `json:"payload,omitempty"`
	Code    int            `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
}

// ResourceClient is the consumed resource-API collaborator contract: one
// request/response call keyed by action name, carrying typed parameters and
// an idempotency key. All business logic (inventory checks, order ownership,
// ticket persistence) lives behind this interface.
//
// SupportsIdempotency reports whether the collaborator deduplicates calls on
// the idempotency key. If it does not, the dispatcher fails mutating actions
// closed rather than risking a duplicate side effect.
type ResourceClient interface {
	Call(ctx context.Context, action string, params map[string]Value, idempotencyKey string) (ResourceResult, error)
	SupportsIdempotency() bool
}
