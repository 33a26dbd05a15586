package esewa

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration means merchant credentials are absent or empty. This is a
	// deployment problem, never something checkout can recover from.
	ErrConfiguration = errors.New("esewa: merchant code and secret key must be configured")

	ErrInvalidAmount = errors.New("esewa: amount must be greater than zero")

	// ErrAmountLimit is the gateway-imposed per-transaction ceiling (NPR).
	ErrAmountLimit = errors.New("esewa: amount exceeds gateway limit of 100000")
)

// MissingFieldError reports a field named in the signing order that is absent
// from the field map. Always a caller bug.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("esewa: missing signed field %q", e.Field)
}

// MissingParameterError reports a required request/verify parameter that was
// not supplied.
type MissingParameterError struct {
	Param string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("esewa: missing required parameter %q", e.Param)
}
