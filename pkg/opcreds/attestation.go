package opcreds

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/backkem/matter-autocommissioner/pkg/commissioning"
	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

// DevAttestation is a development PAA -> PAI -> DAC chain for one product.
// The PAA is not trusted by anything; it exists so the chain is complete.
type DevAttestation struct {
	VendorID  fabric.VendorID
	ProductID uint16

	PAA []byte
	PAI []byte
	DAC []byte

	// DACKey signs attestation and CSR responses.
	DACKey *ecdsa.PrivateKey
}

// NewDevAttestation generates a chain with vid and pid in the PAI and DAC
// subjects. rand defaults to crypto/rand.Reader.
func NewDevAttestation(vid fabric.VendorID, pid uint16, random io.Reader) (*DevAttestation, error) {
	if random == nil {
		random = rand.Reader
	}
	now := time.Now()
	tmpl := func(serial int64, cn string, attrs ...pkix.AttributeTypeAndValue) *x509.Certificate {
		return &x509.Certificate{
			SerialNumber:          big.NewInt(serial),
			Subject:               pkix.Name{CommonName: cn, ExtraNames: attrs},
			NotBefore:             now.Add(-time.Hour),
			NotAfter:              now.Add(DefaultValidity),
			BasicConstraintsValid: true,
		}
	}

	paaKey, err := GenerateKey(random)
	if err != nil {
		return nil, err
	}
	paa := tmpl(1, "Dev PAA")
	paa.IsCA = true
	paa.MaxPathLen = 1
	paa.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	paaDER, err := x509.CreateCertificate(random, paa, paa, &paaKey.PublicKey, paaKey)
	if err != nil {
		return nil, fmt.Errorf("opcreds: PAA: %w", err)
	}
	paaCert, err := x509.ParseCertificate(paaDER)
	if err != nil {
		return nil, err
	}

	paiKey, err := GenerateKey(random)
	if err != nil {
		return nil, err
	}
	pai := tmpl(2, "Dev PAI", id16(OIDMatterVendorID, uint16(vid)))
	pai.IsCA = true
	pai.MaxPathLenZero = true
	pai.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	paiDER, err := x509.CreateCertificate(random, pai, paaCert, &paiKey.PublicKey, paaKey)
	if err != nil {
		return nil, fmt.Errorf("opcreds: PAI: %w", err)
	}
	paiCert, err := x509.ParseCertificate(paiDER)
	if err != nil {
		return nil, err
	}

	dacKey, err := GenerateKey(random)
	if err != nil {
		return nil, err
	}
	dac := tmpl(3, "Dev DAC", id16(OIDMatterVendorID, uint16(vid)), id16(OIDMatterProductID, pid))
	dac.KeyUsage = x509.KeyUsageDigitalSignature
	dacDER, err := x509.CreateCertificate(random, dac, paiCert, &dacKey.PublicKey, paiKey)
	if err != nil {
		return nil, fmt.Errorf("opcreds: DAC: %w", err)
	}

	return &DevAttestation{
		VendorID:  vid,
		ProductID: pid,
		PAA:       paaDER,
		PAI:       paiDER,
		DAC:       dacDER,
		DACKey:    dacKey,
	}, nil
}

// SignAttestation signs elements || nonce with the DAC key.
func (d *DevAttestation) SignAttestation(random io.Reader, elements, nonce []byte) ([]byte, error) {
	if random == nil {
		random = rand.Reader
	}
	msg := make([]byte, 0, len(elements)+len(nonce))
	msg = append(append(msg, elements...), nonce...)
	return SignRaw(random, d.DACKey, msg)
}

// DACVendorProduct returns the vendor and product ids in a DAC subject.
func DACVendorProduct(dacDER []byte) (fabric.VendorID, uint16, error) {
	cert, err := x509.ParseCertificate(dacDER)
	if err != nil {
		return 0, 0, fmt.Errorf("opcreds: DAC: %w", err)
	}
	vid, err := lookupAttr(cert.Subject, OIDMatterVendorID, 16)
	if err != nil {
		return 0, 0, err
	}
	pid, err := lookupAttr(cert.Subject, OIDMatterProductID, 16)
	if err != nil {
		return 0, 0, err
	}
	return fabric.VendorID(vid), uint16(pid), nil
}

// IdentityVerifier checks that the attestation material is self-consistent:
// the DAC chains to the PAI, the DAC names the vendor and product the device
// reported, the attestation signature verifies under the DAC key and the
// elements echo the nonce. It does not consult a PAA trust store.
type IdentityVerifier struct{}

// Verify implements commissioning.AttestationVerifier.
func (IdentityVerifier) Verify(_ context.Context, info *commissioning.AttestationInfo) commissioning.AttestationVerificationResult {
	pai, err := x509.ParseCertificate(info.PAI)
	if err != nil {
		return commissioning.AttestationPAIFormatInvalid
	}
	dac, err := x509.ParseCertificate(info.DAC)
	if err != nil {
		return commissioning.AttestationDACFormatInvalid
	}
	if err := dac.CheckSignatureFrom(pai); err != nil {
		return commissioning.AttestationDACSignatureInvalid
	}

	vid, pid, err := DACVendorProduct(info.DAC)
	if err != nil {
		return commissioning.AttestationDACFormatInvalid
	}
	if paiVID, err := lookupAttr(pai.Subject, OIDMatterVendorID, 16); err == nil && fabric.VendorID(paiVID) != vid {
		return commissioning.AttestationPAIVendorIDMismatch
	}
	if vid != info.VendorID {
		return commissioning.AttestationDACVendorIDMismatch
	}
	if pid != info.ProductID {
		return commissioning.AttestationDACProductIDMismatch
	}

	pub, ok := dac.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return commissioning.AttestationDACFormatInvalid
	}
	msg := append(append([]byte(nil), info.AttestationElements...), info.AttestationNonce...)
	if err := VerifyRaw(pub, msg, info.AttestationSignature); err != nil {
		return commissioning.AttestationSignatureInvalid
	}

	elems, err := DecodeAttestationElements(info.AttestationElements)
	if err != nil {
		return commissioning.AttestationElementsMalformed
	}
	if string(elems.AttestationNonce) != string(info.AttestationNonce) {
		return commissioning.AttestationNonceMismatch
	}
	return commissioning.AttestationSuccess
}

var _ commissioning.AttestationVerifier = IdentityVerifier{}
