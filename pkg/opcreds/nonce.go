package opcreds

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/backkem/matter-autocommissioner/pkg/commissioning"
)

// NonceSource hands out random nonces. It implements
// commissioning.CredentialsDelegate.
type NonceSource struct {
	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
}

func (n NonceSource) reader() io.Reader {
	if n.Rand == nil {
		return rand.Reader
	}
	return n.Rand
}

// ObtainCSRNonce fills buf with random bytes.
func (n NonceSource) ObtainCSRNonce(buf []byte) error {
	if _, err := io.ReadFull(n.reader(), buf); err != nil {
		return fmt.Errorf("opcreds: CSR nonce: %w", err)
	}
	return nil
}

// AttestationNonce returns a fresh attestation nonce.
func (n NonceSource) AttestationNonce() ([]byte, error) {
	nonce := make([]byte, commissioning.AttestationNonceSize)
	if _, err := io.ReadFull(n.reader(), nonce); err != nil {
		return nil, fmt.Errorf("opcreds: attestation nonce: %w", err)
	}
	return nonce, nil
}

var _ commissioning.CredentialsDelegate = NonceSource{}
