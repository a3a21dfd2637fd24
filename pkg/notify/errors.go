package notify

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownType is returned for channel or type names outside the enumeration.
	ErrUnknownType = errors.New("notify: unknown notification type")

	// ErrMalformedEnvelope is returned when a broker message body is not a valid envelope.
	ErrMalformedEnvelope = errors.New("notify: malformed notification envelope")

	// ErrInvalidPayload is returned when a payload is not a JSON object of the expected shape.
	ErrInvalidPayload = errors.New("notify: invalid notification payload")

	// ErrMissingField is wrapped by MissingFieldError.
	ErrMissingField = errors.New("notify: missing required payload field")

	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("notify: nil handler")

	// ErrSubscribe wraps broker failures while subscribing to channels.
	ErrSubscribe = errors.New("notify: failed to subscribe to notification channels")

	// ErrConnect wraps broker dial failures.
	ErrConnect = errors.New("notify: failed to connect to broker")

	// ErrStopTimeout is returned by Stop when the listener did not exit before the context expired.
	ErrStopTimeout = errors.New("notify: listener did not stop in time")

	// ErrHandlerPanic wraps a value recovered from a panicking handler.
	ErrHandlerPanic = errors.New("notify: handler panicked")

	// ErrPublishPanic wraps a value recovered while publishing.
	ErrPublishPanic = errors.New("notify: publish panicked")

	errNoCursor = errors.New("notify: no subscription cursor")
)

// MissingFieldError reports the first required field absent from a payload.
type MissingFieldError struct {
	Type  Type
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("notify: %s payload is missing required field %q", e.Type, e.Field)
}

func (e *MissingFieldError) Unwrap() error {
	return ErrMissingField
}
