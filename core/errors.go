package core

import (
	"errors"
	"fmt"
)

// ErrStorageUnavailable signals that the session store could not be read or
// written. The turn fails entirely with no partial persistence and the caller
// falls back to a static degraded-mode reply.
var ErrStorageUnavailable = errors.New("session storage unavailable")

// ErrSessionNotFound signals a lookup of a session id the store has never
// seen and refuses to create (e.g. merge of an unknown guest token).
var ErrSessionNotFound = errors.New("session not found")

// ConfigurationError is a fatal, never user-caused misconfiguration such as
// an intent mapped to an undeclared action template. It is logged and the
// user receives only a generic apology.
type ConfigurationError struct {
	Component string `json:"component"`
	Message   string `json:"message"`
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
}

// ValidationError reports a malformed entity value. It is recovered locally
// by re-prompting, never surfaced as an internal code.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}
