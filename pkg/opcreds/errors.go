package opcreds

import "errors"

var (
	// ErrInvalidCSR indicates the CSR could not be parsed or its
	// self-signature does not verify.
	ErrInvalidCSR = errors.New("opcreds: invalid CSR")

	// ErrCSRNonceMismatch indicates the NOCSR elements carry a different
	// nonce than the one sent in CSRRequest.
	ErrCSRNonceMismatch = errors.New("opcreds: CSR nonce mismatch")

	// ErrInvalidSignature indicates a raw P-256 signature failed to verify.
	ErrInvalidSignature = errors.New("opcreds: invalid signature")

	// ErrInvalidNodeID indicates a NOC was requested for a non-operational node id.
	ErrInvalidNodeID = errors.New("opcreds: invalid operational node id")

	// ErrInvalidIPK indicates an IPK of the wrong length.
	ErrInvalidIPK = errors.New("opcreds: IPK must be 16 bytes")

	// ErrMissingAttribute indicates a certificate lacks a required Matter DN attribute.
	ErrMissingAttribute = errors.New("opcreds: missing DN attribute")

	// ErrInvalidElements indicates undecodable NOCSR or attestation elements.
	ErrInvalidElements = errors.New("opcreds: invalid elements")
)
