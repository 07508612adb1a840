package commissioning

import "fmt"

// Buffer capacities.
const (
	AttestationNonceSize        = 32
	CSRNonceSize                = 32
	MaxAttestationElementsSize  = 900
	MaxAttestationSignatureSize = 64
	MaxCertificateSize          = 600
	MaxNOCSRElementsSize        = 900
	MaxCSRSignatureSize         = 64
	MaxSSIDSize                 = 32
	MaxWiFiCredentialsSize      = 64
	MaxThreadDatasetSize        = 254
	CountryCodeSize             = 2
	ICDSymmetricKeySize         = 16
	MaxDefaultNTPSize           = 128
	MaxTimeZoneNameSize         = 64
	MaxTimeZones                = 2
	MaxDSTOffsets               = 10
	MaxExtraReadPaths           = 32
)

// fixedBuffer is a fixed-capacity byte store owned by a single flow.
//
// The backing array is allocated once; set copies into it and never grows it.
type fixedBuffer struct {
	data   []byte
	n      int
	valid  bool
	secret bool
}

func newFixedBuffer(capacity int, secret bool) fixedBuffer {
	return fixedBuffer{data: make([]byte, capacity), secret: secret}
}

// set copies src into the buffer. When src exceeds the capacity the buffer is
// left untouched and tooLong is returned wrapped.
//
// src may alias the buffer's own storage (a view previously returned by
// view); copy has memmove semantics so the data survives.
func (b *fixedBuffer) set(src []byte, tooLong error) error {
	if len(src) > len(b.data) {
		return fmt.Errorf("%w: %d bytes exceeds capacity %d", tooLong, len(src), len(b.data))
	}
	n := copy(b.data, src)
	if b.secret && b.n > n {
		clear(b.data[n:b.n])
	}
	b.n = n
	b.valid = true
	return nil
}

// reset drops the logical contents. Secret bytes are zeroed.
func (b *fixedBuffer) reset() {
	if b.secret {
		clear(b.data[:b.n])
	}
	b.n = 0
	b.valid = false
}

// view returns the stored bytes. The slice is capacity-limited so appends
// never write into the buffer.
func (b *fixedBuffer) view() ([]byte, bool) {
	if !b.valid {
		return nil, false
	}
	return b.data[:b.n:b.n], true
}

func (b *fixedBuffer) capacity() int {
	return len(b.data)
}

// certRole tags what the shared certificate slot currently holds.
type certRole uint8

const (
	certRoleNone certRole = iota
	certRoleRoot
	certRoleIntermediate
)

func (r certRole) String() string {
	switch r {
	case certRoleRoot:
		return "root"
	case certRoleIntermediate:
		return "intermediate"
	default:
		return "none"
	}
}

// certSlot is one certificate buffer reused first for the root certificate
// and then for the intermediate certificate. The role tag makes the reuse an
// explicit transition: store replaces the contents and the role together.
type certSlot struct {
	buf  fixedBuffer
	role certRole
}

func (s *certSlot) store(role certRole, cert []byte) error {
	if err := s.buf.set(cert, ErrMessageTooLong); err != nil {
		return err
	}
	s.role = role
	return nil
}

// viewAs returns the slot contents only if the slot currently holds role.
func (s *certSlot) viewAs(role certRole) ([]byte, bool) {
	if s.role != role {
		return nil, false
	}
	return s.buf.view()
}

func (s *certSlot) reset() {
	s.buf.reset()
	s.role = certRoleNone
}

// flowBuffers is every fixed-capacity buffer a flow owns.
type flowBuffers struct {
	// caller-supplied copies
	attestationNonce fixedBuffer
	csrNonce         fixedBuffer
	ssid             fixedBuffer
	wifiKey          fixedBuffer
	threadDataset    fixedBuffer
	icdKey           fixedBuffer
	timeZones        [MaxTimeZones]TimeZone
	dstOffsets       [MaxDSTOffsets]DSTOffset
	extraReadPaths   [MaxExtraReadPaths]AttributePath

	// device-produced and derived material
	pai                  fixedBuffer
	dac                  fixedBuffer
	attestationElements  fixedBuffer
	attestationSignature fixedBuffer
	nocsrElements        fixedBuffer
	csrSignature         fixedBuffer
	noc                  fixedBuffer
	rootOrICAC           certSlot
}

func newFlowBuffers() *flowBuffers {
	return &flowBuffers{
		attestationNonce:     newFixedBuffer(AttestationNonceSize, true),
		csrNonce:             newFixedBuffer(CSRNonceSize, true),
		ssid:                 newFixedBuffer(MaxSSIDSize, false),
		wifiKey:              newFixedBuffer(MaxWiFiCredentialsSize, true),
		threadDataset:        newFixedBuffer(MaxThreadDatasetSize, true),
		icdKey:               newFixedBuffer(ICDSymmetricKeySize, true),
		pai:                  newFixedBuffer(MaxCertificateSize, false),
		dac:                  newFixedBuffer(MaxCertificateSize, false),
		attestationElements:  newFixedBuffer(MaxAttestationElementsSize, false),
		attestationSignature: newFixedBuffer(MaxAttestationSignatureSize, false),
		nocsrElements:        newFixedBuffer(MaxNOCSRElementsSize, false),
		csrSignature:         newFixedBuffer(MaxCSRSignatureSize, false),
		noc:                  newFixedBuffer(MaxCertificateSize, false),
		rootOrICAC:           certSlot{buf: newFixedBuffer(MaxCertificateSize, false)},
	}
}

// releaseCredentials drops the attestation and credential material held for
// the current attempt. Caller-supplied configuration is kept.
func (f *flowBuffers) releaseCredentials() {
	f.pai.reset()
	f.dac.reset()
	f.attestationElements.reset()
	f.attestationSignature.reset()
	f.nocsrElements.reset()
	f.csrSignature.reset()
	f.noc.reset()
	f.rootOrICAC.reset()
}
