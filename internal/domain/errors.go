package domain

import "errors"

// Error taxonomy. Concrete errors wrap one of these with fmt.Errorf("%w").
var (
	// ErrValidation marks malformed connect input, rejected before any call.
	ErrValidation = errors.New("validation error")
	// ErrTransport marks a failed or non-success gateway/store call.
	ErrTransport = errors.New("transport error")
	// ErrProtocol marks a negotiation that produced a malformed answer or no track.
	ErrProtocol = errors.New("protocol error")
	// ErrSubscription marks a push channel failure.
	ErrSubscription = errors.New("subscription error")

	ErrNotFound          = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid state transition")
)
