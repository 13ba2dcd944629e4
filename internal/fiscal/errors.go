package fiscal

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates an unknown receipt or order id. Lookups that miss
// never mutate any state.
var ErrNotFound = errors.New("not found")

// InvalidStateError is a business-rule violation: retrying a non-failed
// receipt, refunding an unpaid order. The reason names the violated
// precondition and is safe to surface to the caller.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string { return e.Reason }

// ValidationError is malformed caller input (e.g. a customer contact over
// the length bound).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// GatewayError is a rejection or failure reported by the fiscal provider.
// The engine absorbs it into a fail receipt instead of propagating it; Raw
// carries the provider payload for the receipt's diagnostics.
type GatewayError struct {
	Message string
	Raw     string
}

func (e *GatewayError) Error() string { return e.Message }
