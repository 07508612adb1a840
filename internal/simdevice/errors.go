package simdevice

import "errors"

var (
	// ErrInvalidProfile indicates a profile value the device cannot simulate.
	ErrInvalidProfile = errors.New("simdevice: invalid profile")

	// ErrInjected marks a failure requested by the profile.
	ErrInjected = errors.New("simdevice: injected failure")

	// ErrFailSafeNotArmed indicates a command that needs an armed fail-safe.
	ErrFailSafeNotArmed = errors.New("simdevice: fail-safe not armed")

	// ErrMissingInput indicates the step parameters lacked something the
	// device needs to answer.
	ErrMissingInput = errors.New("simdevice: missing step input")

	// ErrClosed indicates the device was closed.
	ErrClosed = errors.New("simdevice: closed")
)
