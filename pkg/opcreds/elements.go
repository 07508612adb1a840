package opcreds

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	elemEnc cbor.EncMode
	elemDec cbor.DecMode
)

func init() {
	var err error
	elemEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("opcreds: encoder mode: %v", err))
	}
	elemDec, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("opcreds: decoder mode: %v", err))
	}
}

// NOCSRElements is the signed payload of a CSRResponse: the PKCS#10 CSR
// and the nonce from the CSRRequest. It is carried as deterministic CBOR
// between the simulated device and the issuer.
type NOCSRElements struct {
	CSR      []byte `cbor:"1,keyasint"`
	CSRNonce []byte `cbor:"2,keyasint"`
}

// Encode returns the deterministic CBOR encoding.
func (e NOCSRElements) Encode() ([]byte, error) {
	return elemEnc.Marshal(e)
}

// DecodeNOCSRElements decodes elements produced by Encode.
func DecodeNOCSRElements(data []byte) (NOCSRElements, error) {
	var e NOCSRElements
	if err := elemDec.Unmarshal(data, &e); err != nil {
		return NOCSRElements{}, fmt.Errorf("%w: %v", ErrInvalidElements, err)
	}
	if len(e.CSR) == 0 {
		return NOCSRElements{}, fmt.Errorf("%w: no CSR", ErrInvalidElements)
	}
	return e, nil
}

// AttestationElements is the signed payload of an AttestationResponse.
type AttestationElements struct {
	CertificationDeclaration []byte `cbor:"1,keyasint"`
	AttestationNonce         []byte `cbor:"2,keyasint"`
	Timestamp                uint32 `cbor:"3,keyasint"`
}

// Encode returns the deterministic CBOR encoding.
func (e AttestationElements) Encode() ([]byte, error) {
	return elemEnc.Marshal(e)
}

// DecodeAttestationElements decodes elements produced by Encode.
func DecodeAttestationElements(data []byte) (AttestationElements, error) {
	var e AttestationElements
	if err := elemDec.Unmarshal(data, &e); err != nil {
		return AttestationElements{}, fmt.Errorf("%w: %v", ErrInvalidElements, err)
	}
	return e, nil
}
