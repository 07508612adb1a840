package commissioning

import (
	"errors"
	"fmt"
)

// Configuration and flow errors
var (
	// ErrInvalidArgument indicates a parameter combination the flow cannot act on,
	// such as reaching network setup without credentials for any interface.
	ErrInvalidArgument = errors.New("commissioning: invalid argument")

	// ErrBufferTooSmall indicates a caller-supplied value exceeds its fixed capacity.
	ErrBufferTooSmall = errors.New("commissioning: buffer too small")

	// ErrMessageTooLong indicates a device-supplied payload exceeds its fixed capacity.
	ErrMessageTooLong = errors.New("commissioning: message too long")

	// ErrIncorrectState indicates the flow reached a stage with no successor.
	ErrIncorrectState = errors.New("commissioning: incorrect state")

	// ErrMissingICDFields indicates only part of the ICD registration information was supplied.
	ErrMissingICDFields = errors.New("commissioning: incomplete ICD registration information")

	// ErrNoSecureSession indicates the session has no established secure channel.
	ErrNoSecureSession = errors.New("commissioning: session not secured")

	// ErrUnexpectedReport indicates a step report payload does not match its stage.
	ErrUnexpectedReport = errors.New("commissioning: unexpected step report")

	// ErrNetworkCredentialsMissing indicates network setup was required but
	// no usable credentials were provided. It wraps ErrInvalidArgument.
	ErrNetworkCredentialsMissing = fmt.Errorf("%w: network credentials missing", ErrInvalidArgument)

	// ErrStopped indicates the flow was stopped by StopCommissioning.
	ErrStopped = errors.New("commissioning: stopped")
)

// Step failure errors reported by executors
var (
	// ErrAttestationFailed indicates device attestation verification failed.
	ErrAttestationFailed = errors.New("commissioning: device attestation failed")

	// ErrRevocationCheckFailed indicates the DAC chain revocation check failed.
	ErrRevocationCheckFailed = errors.New("commissioning: revocation check failed")

	// ErrCSRFailed indicates the CSR request failed.
	ErrCSRFailed = errors.New("commissioning: CSR request failed")

	// ErrAddNOCFailed indicates adding the NOC failed.
	ErrAddNOCFailed = errors.New("commissioning: add NOC failed")

	// ErrNetworkConfigFailed indicates network configuration failed.
	ErrNetworkConfigFailed = errors.New("commissioning: network configuration failed")

	// ErrFailSafeArm indicates the ArmFailSafe command failed.
	ErrFailSafeArm = errors.New("commissioning: failed to arm fail-safe")

	// ErrCommissioningCompleteFailed indicates the CommissioningComplete command failed.
	ErrCommissioningCompleteFailed = errors.New("commissioning: commissioning complete command failed")

	// ErrDeviceNotFound indicates the device could not be discovered on the operational network.
	ErrDeviceNotFound = errors.New("commissioning: device not found")
)

// Commissioner facade errors
var (
	// ErrAlreadyCommissioning indicates a commissioning operation is already in progress.
	ErrAlreadyCommissioning = errors.New("commissioning: operation already in progress")

	// ErrNotCommissioning indicates no commissioning operation is in progress.
	ErrNotCommissioning = errors.New("commissioning: no operation in progress")

	// ErrNotWaiting indicates the flow is not paused at the stage the input was for.
	ErrNotWaiting = errors.New("commissioning: flow is not waiting for this input")

	// ErrCommissioningTimeout indicates the overall commissioning timeout was exceeded.
	ErrCommissioningTimeout = errors.New("commissioning: operation timed out")

	// ErrCancelled indicates commissioning was cancelled by the user.
	ErrCancelled = errors.New("commissioning: operation cancelled")

	// ErrNilConfig indicates a required configuration is nil.
	ErrNilConfig = errors.New("commissioning: nil configuration")
)
