package opcreds

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"
)

// P-256 sizes.
const (
	// PublicKeySize is the uncompressed point size (0x04 || X || Y).
	PublicKeySize = 65

	// SignatureSize is the raw signature size (r || s).
	SignatureSize = 64

	scalarSize = 32
)

// GenerateKey generates a P-256 key from rand.
func GenerateKey(rand io.Reader) (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand)
	if err != nil {
		return nil, fmt.Errorf("opcreds: generate key: %w", err)
	}
	return key, nil
}

// PublicKeyBytes returns the 65-byte uncompressed encoding of pub.
func PublicKeyBytes(pub *ecdsa.PublicKey) ([]byte, error) {
	k, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("opcreds: public key: %w", err)
	}
	return k.Bytes(), nil
}

// SignRaw signs SHA-256(message) and returns the 64-byte r || s form used
// on the wire, each component zero-padded to 32 bytes.
func SignRaw(rand io.Reader, key *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("opcreds: sign: %w", err)
	}
	sig := make([]byte, SignatureSize)
	r.FillBytes(sig[:scalarSize])
	s.FillBytes(sig[scalarSize:])
	return sig, nil
}

// VerifyRaw verifies a 64-byte r || s signature over message.
func VerifyRaw(pub *ecdsa.PublicKey, message, sig []byte) error {
	if len(sig) != SignatureSize {
		return fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	r := new(big.Int).SetBytes(sig[:scalarSize])
	s := new(big.Int).SetBytes(sig[scalarSize:])
	digest := sha256.Sum256(message)
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return ErrInvalidSignature
	}
	return nil
}
