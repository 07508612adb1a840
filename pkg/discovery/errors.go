package discovery

import "errors"

// Package-level sentinel errors for discovery operations.
var (
	// ErrServiceNotFound is returned when a requested service is not found.
	ErrServiceNotFound = errors.New("discovery: service not found")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("discovery: operation timed out")

	// ErrInvalidInstanceName is returned when the instance name format is invalid.
	ErrInvalidInstanceName = errors.New("discovery: invalid instance name format")

	// ErrInvalidTXTRecord is returned when a TXT record has invalid format.
	ErrInvalidTXTRecord = errors.New("discovery: invalid TXT record format")

	// ErrNoAddresses is returned when a resolved node advertises no usable address.
	ErrNoAddresses = errors.New("discovery: no addresses")
)
