// Package opcreds issues development operational credentials: a fabric root
// (and optional intermediate) that signs node operational certificates from
// device CSRs, CSR nonces for the commissioning flow, and a development
// device attestation chain for simulated devices.
//
// Certificates are X.509 DER. Matter-specific subject attributes are encoded
// as fixed-width uppercase hex strings under the CSA OID arc.
//
// Matter Specification references:
//   - Section 6.4: Node Operational Credentials
//   - Section 6.5: Operational Certificate Encoding
//   - Section 6.2: Device Attestation
package opcreds

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/backkem/matter-autocommissioner/pkg/commissioning"
	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

// DefaultValidity is the lifetime of issued certificates.
const DefaultValidity = 10 * 365 * 24 * time.Hour

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	// FabricID is placed in every NOC and in the root subject. Required.
	FabricID fabric.FabricID

	// RootCertID is the RCAC id. Defaults to 1.
	RootCertID uint64

	// IntermediateCertID, when non-zero, makes the issuer create an ICAC
	// with this id and sign NOCs with it.
	IntermediateCertID uint64

	// IPK is the epoch key handed out with every chain. If nil, a random
	// key is generated.
	IPK []byte

	// Validity defaults to DefaultValidity.
	Validity time.Duration

	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader

	// Now defaults to time.Now.
	Now func() time.Time
}

// Issuer is a development certificate authority for one fabric.
type Issuer struct {
	config IssuerConfig

	rootKey *ecdsa.PrivateKey
	root    *x509.Certificate
	icacKey *ecdsa.PrivateKey
	icac    *x509.Certificate
	ipk     [fabric.IPKSize]byte

	mu     sync.Mutex
	serial int64
}

// NewIssuer creates the root (and intermediate) certificates.
func NewIssuer(config IssuerConfig) (*Issuer, error) {
	if !config.FabricID.IsValid() {
		return nil, fabric.ErrInvalidFabricID
	}
	if config.RootCertID == 0 {
		config.RootCertID = 1
	}
	if config.Validity == 0 {
		config.Validity = DefaultValidity
	}
	if config.Rand == nil {
		config.Rand = rand.Reader
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	i := &Issuer{config: config}

	switch len(config.IPK) {
	case 0:
		if _, err := io.ReadFull(config.Rand, i.ipk[:]); err != nil {
			return nil, fmt.Errorf("opcreds: IPK: %w", err)
		}
	case fabric.IPKSize:
		copy(i.ipk[:], config.IPK)
	default:
		return nil, ErrInvalidIPK
	}

	var err error
	if i.rootKey, err = GenerateKey(config.Rand); err != nil {
		return nil, err
	}
	rootSubject := pkix.Name{ExtraNames: []pkix.AttributeTypeAndValue{
		id64(OIDMatterRCACID, config.RootCertID),
		id64(OIDMatterFabricID, uint64(config.FabricID)),
	}}
	if i.root, err = i.issueCA(rootSubject, &i.rootKey.PublicKey, nil, i.rootKey, 1); err != nil {
		return nil, fmt.Errorf("opcreds: root: %w", err)
	}

	if config.IntermediateCertID != 0 {
		if i.icacKey, err = GenerateKey(config.Rand); err != nil {
			return nil, err
		}
		icacSubject := pkix.Name{ExtraNames: []pkix.AttributeTypeAndValue{
			id64(OIDMatterICACID, config.IntermediateCertID),
			id64(OIDMatterFabricID, uint64(config.FabricID)),
		}}
		if i.icac, err = i.issueCA(icacSubject, &i.icacKey.PublicKey, i.root, i.rootKey, 0); err != nil {
			return nil, fmt.Errorf("opcreds: intermediate: %w", err)
		}
	}
	return i, nil
}

func (i *Issuer) nextSerial() *big.Int {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.serial++
	return big.NewInt(i.serial)
}

func (i *Issuer) template(subject pkix.Name) *x509.Certificate {
	now := i.config.Now()
	return &x509.Certificate{
		SerialNumber: i.nextSerial(),
		Subject:      subject,
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(i.config.Validity),
	}
}

// issueCA signs a CA certificate. A nil parent self-signs.
func (i *Issuer) issueCA(subject pkix.Name, pub *ecdsa.PublicKey, parent *x509.Certificate, signer *ecdsa.PrivateKey, maxPathLen int) (*x509.Certificate, error) {
	tmpl := i.template(subject)
	tmpl.IsCA = true
	tmpl.BasicConstraintsValid = true
	tmpl.MaxPathLen = maxPathLen
	tmpl.MaxPathLenZero = maxPathLen == 0
	tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	if parent == nil {
		parent = tmpl
	}
	return i.sign(tmpl, parent, pub, signer)
}

func (i *Issuer) sign(tmpl, parent *x509.Certificate, pub *ecdsa.PublicKey, signer *ecdsa.PrivateKey) (*x509.Certificate, error) {
	der, err := x509.CreateCertificate(i.config.Rand, tmpl, parent, pub, signer)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}

// FabricID returns the fabric the issuer signs for.
func (i *Issuer) FabricID() fabric.FabricID { return i.config.FabricID }

// RootCertificate returns the RCAC in DER.
func (i *Issuer) RootCertificate() []byte { return i.root.Raw }

// IntermediateCertificate returns the ICAC in DER, or nil when the issuer
// signs NOCs with the root directly.
func (i *Issuer) IntermediateCertificate() []byte {
	if i.icac == nil {
		return nil
	}
	return i.icac.Raw
}

// IPK returns the identity protection key.
func (i *Issuer) IPK() [fabric.IPKSize]byte { return i.ipk }

// RootPublicKey returns the 65-byte root public key.
func (i *Issuer) RootPublicKey() ([]byte, error) {
	return PublicKeyBytes(&i.rootKey.PublicKey)
}

// CompressedFabricID derives the identifier operational discovery uses for
// this fabric.
func (i *Issuer) CompressedFabricID() ([fabric.CompressedFabricIDSize]byte, error) {
	pub, err := i.RootPublicKey()
	if err != nil {
		return [fabric.CompressedFabricIDSize]byte{}, err
	}
	return fabric.CompressedFabricID(pub, i.config.FabricID)
}

// IssueNOC signs a NOC for nodeID over the key in csrDER.
func (i *Issuer) IssueNOC(csrDER []byte, nodeID fabric.NodeID, cats []uint32) ([]byte, error) {
	if !nodeID.IsOperational() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidNodeID, nodeID)
	}
	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	}
	pub, ok := csr.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is %T", ErrInvalidCSR, csr.PublicKey)
	}

	attrs := []pkix.AttributeTypeAndValue{
		id64(OIDMatterNodeID, uint64(nodeID)),
		id64(OIDMatterFabricID, uint64(i.config.FabricID)),
	}
	for _, cat := range cats {
		attrs = append(attrs, id32(OIDMatterNOCCAT, cat))
	}
	tmpl := i.template(pkix.Name{ExtraNames: attrs})
	tmpl.BasicConstraintsValid = true
	tmpl.KeyUsage = x509.KeyUsageDigitalSignature
	tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth}

	parent, signer := i.root, i.rootKey
	if i.icac != nil {
		parent, signer = i.icac, i.icacKey
	}
	noc, err := i.sign(tmpl, parent, pub, signer)
	if err != nil {
		return nil, fmt.Errorf("opcreds: NOC: %w", err)
	}
	return noc.Raw, nil
}

// NOCRequest is the input of GenerateNOCChain.
type NOCRequest struct {
	// Params is the CSR material collected by SendOpCertSigningRequest.
	Params commissioning.NOCChainGenerationParameters

	// CSRNonce is the nonce sent in CSRRequest. When set, the elements
	// must carry the same nonce.
	CSRNonce []byte

	// DAC, when set, is used to verify the signature over the elements.
	DAC []byte

	NodeID       fabric.NodeID
	AdminSubject uint64
	CATs         []uint32
}

// GenerateNOCChain checks the CSR response and issues the chain the flow
// installs on the device.
func (i *Issuer) GenerateNOCChain(req NOCRequest) (commissioning.NOCChain, error) {
	elems, err := DecodeNOCSRElements(req.Params.NOCSRElements)
	if err != nil {
		return commissioning.NOCChain{}, err
	}
	if req.CSRNonce != nil && !bytes.Equal(elems.CSRNonce, req.CSRNonce) {
		return commissioning.NOCChain{}, ErrCSRNonceMismatch
	}
	if req.DAC != nil {
		dac, err := x509.ParseCertificate(req.DAC)
		if err != nil {
			return commissioning.NOCChain{}, fmt.Errorf("opcreds: DAC: %w", err)
		}
		pub, ok := dac.PublicKey.(*ecdsa.PublicKey)
		if !ok {
			return commissioning.NOCChain{}, fmt.Errorf("opcreds: DAC key is %T", dac.PublicKey)
		}
		if err := VerifyRaw(pub, req.Params.NOCSRElements, req.Params.Signature); err != nil {
			return commissioning.NOCChain{}, fmt.Errorf("CSR response: %w", err)
		}
	}

	noc, err := i.IssueNOC(elems.CSR, req.NodeID, req.CATs)
	if err != nil {
		return commissioning.NOCChain{}, err
	}
	return commissioning.NOCChain{
		NOC:          noc,
		ICAC:         i.IntermediateCertificate(),
		RCAC:         i.RootCertificate(),
		IPK:          i.ipk,
		AdminSubject: req.AdminSubject,
	}, nil
}

// NOCNodeID returns the node and fabric ids of a NOC.
func NOCNodeID(nocDER []byte) (fabric.NodeID, fabric.FabricID, error) {
	cert, err := x509.ParseCertificate(nocDER)
	if err != nil {
		return 0, 0, fmt.Errorf("opcreds: NOC: %w", err)
	}
	node, err := lookupAttr(cert.Subject, OIDMatterNodeID, 64)
	if err != nil {
		return 0, 0, err
	}
	fab, err := lookupAttr(cert.Subject, OIDMatterFabricID, 64)
	if err != nil {
		return 0, 0, err
	}
	return fabric.NodeID(node), fabric.FabricID(fab), nil
}
