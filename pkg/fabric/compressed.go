package fabric

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// compressedFabricInfo is the info string for compressed fabric ID derivation.
var compressedFabricInfo = []byte("CompressedFabric")

// Errors for compressed fabric ID computation.
var (
	// ErrInvalidRootPublicKey is returned when the root public key has invalid length.
	ErrInvalidRootPublicKey = errors.New("fabric: invalid root public key length")
	// ErrInvalidFabricID is returned when the fabric ID is invalid (zero).
	ErrInvalidFabricID = errors.New("fabric: invalid fabric ID")
)

// CompressedFabricID computes the 64-bit compressed fabric identifier.
//
//	CompressedFabricIdentifier = Crypto_KDF(
//	    inputKey = root public key (64 bytes, without 0x04 prefix),
//	    salt = fabric ID (8 bytes, big-endian),
//	    info = "CompressedFabric",
//	    len = 64 bits
//	)
//
// A 65-byte key carrying the 0x04 uncompressed point prefix is accepted and
// the prefix stripped.
func CompressedFabricID(rootPublicKey []byte, fabricID FabricID) ([CompressedFabricIDSize]byte, error) {
	var result [CompressedFabricIDSize]byte

	if !fabricID.IsValid() {
		return result, ErrInvalidFabricID
	}

	var keyBytes []byte
	switch len(rootPublicKey) {
	case 64:
		keyBytes = rootPublicKey
	case RootPublicKeySize:
		if rootPublicKey[0] != 0x04 {
			return result, ErrInvalidRootPublicKey
		}
		keyBytes = rootPublicKey[1:]
	default:
		return result, ErrInvalidRootPublicKey
	}

	salt := make([]byte, 8)
	binary.BigEndian.PutUint64(salt, uint64(fabricID))

	r := hkdf.New(sha256.New, keyBytes, salt, compressedFabricInfo)
	if _, err := io.ReadFull(r, result[:]); err != nil {
		return result, err
	}
	return result, nil
}
