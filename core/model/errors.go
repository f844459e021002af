package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuantity is returned for non-positive order quantities.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInvalidCapacity is returned for negative shopfloor capacities.
	ErrInvalidCapacity = errors.New("invalid capacity")
	// ErrInvalidStatus is returned for statuses other than InProgress/Completed.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrMissingField is returned when a required field is empty.
	ErrMissingField = errors.New("missing required field")
	// ErrNoShopfloors is returned when there is nothing to distribute to.
	ErrNoShopfloors = errors.New("no shopfloors available")
	// ErrNotFound is returned by lookups on unknown keys.
	ErrNotFound = errors.New("not found")
	// ErrMalformedReport marks an inbound report that cannot be processed.
	ErrMalformedReport = errors.New("malformed report")
	// ErrUnroutable marks an inbound message without a matching order or sub-order.
	ErrUnroutable = errors.New("unroutable message")
)

// ValidationError is returned by synchronous commands rejected before any
// state was mutated. Reason is safe to show to the caller. Also lists extra
// sentinels the error matches besides Err.
type ValidationError struct {
	Reason string
	Err    error
	Also   []error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	return append([]error{e.Err}, e.Also...)
}

// Invalid builds a ValidationError wrapping the given sentinel.
func Invalid(err error, format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// InvalidOrder builds the error for an order rejected on intake: it matches
// ErrInvalidQuantity as well as err.
func InvalidOrder(err error, format string, args ...any) error {
	ve := Invalid(err, format, args...).(*ValidationError)
	if err != ErrInvalidQuantity {
		ve.Also = []error{ErrInvalidQuantity}
	}
	return ve
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
