// Package simdevice simulates a commissionable Matter device together with
// the commissioner-side work the flow delegates to its executor.
//
// A Device implements commissioning.StepExecutor. It answers every stage
// the way a device described by its Profile would: it hands out a
// development attestation chain, signs attestation and CSR responses,
// installs the NOC chain under a fail-safe, joins the configured network
// and advertises itself under _matter._tcp. Stage latency and failures are
// scripted by the profile so flows can be exercised end to end without
// radios or a network stack.
package simdevice

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/matter-autocommissioner/pkg/commissioning"
	"github.com/backkem/matter-autocommissioner/pkg/discovery"
	"github.com/backkem/matter-autocommissioner/pkg/fabric"
	"github.com/backkem/matter-autocommissioner/pkg/opcreds"
)

// DefaultFailsafeSeconds is used when neither the parameters nor the
// profile name a fail-safe length.
const DefaultFailsafeSeconds = 60

// Config configures a Device.
type Config struct {
	// Profile describes the device. A zero profile is a plain Ethernet
	// device reached over UDP.
	Profile Profile

	// Issuer issues the NOC chain at GenerateNOCChain.
	Issuer *opcreds.Issuer

	// NodeID is assigned when the parameters carry no remote node id.
	NodeID       fabric.NodeID
	AdminSubject uint64
	CATs         []uint32

	// Verifier defaults to opcreds.IdentityVerifier and RevocationChecker
	// to commissioning.AcceptAllVerifier.
	Verifier          commissioning.AttestationVerifier
	RevocationChecker commissioning.RevocationChecker

	// Advertiser receives the _matter._tcp record once the device is on
	// the operational network. Finder looks it up for the FindOperational
	// stages. Both usually share one MemoryResolver.
	Advertiser *discovery.MemoryResolver
	Finder     *discovery.Finder

	// Rand defaults to crypto/rand.Reader.
	Rand          io.Reader
	LoggerFactory logging.LoggerFactory
}

// operationalIdentity is one installed fabric.
type operationalIdentity struct {
	root, icac, noc    []byte
	ipk                [fabric.IPKSize]byte
	nodeID             fabric.NodeID
	fabricID           fabric.FabricID
	compressedFabricID [fabric.CompressedFabricIDSize]byte
}

// pendingState is what the device changed under the armed fail-safe.
type pendingState struct {
	opKey    *ecdsa.PrivateKey
	root     []byte
	identity *operationalIdentity
	wifi     *commissioning.WiFiCredentials
	thread   []byte
	network  string
	icd      bool
}

// Device is a simulated Matter device. It is safe for concurrent use.
type Device struct {
	config      Config
	log         logging.LeveledLogger
	transport   commissioning.TransportType
	attestation *opcreds.DevAttestation
	failSafe    *FailSafe

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	attempts   map[commissioning.Stage]int
	stages     []commissioning.Stage
	pending    pendingState
	committed  *operationalIdentity
	network    string
	advertised string
}

// New creates a device. The attestation chain is generated here so every
// flow against the device sees the same DAC.
func New(config Config) (*Device, error) {
	if err := config.Profile.normalize(); err != nil {
		return nil, err
	}
	if config.Rand == nil {
		config.Rand = rand.Reader
	}
	if config.Verifier == nil {
		config.Verifier = opcreds.IdentityVerifier{}
	}
	if config.RevocationChecker == nil {
		config.RevocationChecker = commissioning.AcceptAllVerifier{}
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = &logging.DefaultLoggerFactory{
			Writer:          io.Discard,
			DefaultLogLevel: logging.LogLevelDisabled,
		}
	}

	transport, _ := config.Profile.transport()
	att, err := opcreds.NewDevAttestation(
		fabric.VendorID(config.Profile.Attestation.VendorID),
		config.Profile.Attestation.ProductID,
		config.Rand,
	)
	if err != nil {
		return nil, fmt.Errorf("simdevice: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Device{
		config:      config,
		log:         config.LoggerFactory.NewLogger("simdevice"),
		transport:   transport,
		attestation: att,
		ctx:         ctx,
		cancel:      cancel,
		attempts:    make(map[commissioning.Stage]int),
	}
	d.failSafe = NewFailSafe(d.failSafeExpired)
	return d, nil
}

// PASESession returns the commissioning session the flow starts on.
func (d *Device) PASESession() *Session {
	return &Session{
		transport: d.transport,
		rtt:       d.config.Profile.RoundTrip,
		secure:    true,
	}
}

// Attestation returns the device's attestation chain.
func (d *Device) Attestation() *opcreds.DevAttestation { return d.attestation }

// FailSafe exposes the device fail-safe timer.
func (d *Device) FailSafe() *FailSafe { return d.failSafe }

// Stages returns the stages performed so far, in order.
func (d *Device) Stages() []commissioning.Stage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]commissioning.Stage(nil), d.stages...)
}

// OperationalNodeID returns the node id of the committed fabric.
func (d *Device) OperationalNodeID() (fabric.NodeID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.committed == nil {
		return fabric.NodeIDUnspecified, false
	}
	return d.committed.nodeID, true
}

// Network returns the network the device committed to: the Wi-Fi SSID,
// "thread" or "ethernet". Empty until commissioning completes.
func (d *Device) Network() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.network
}

// Close stops pending completions and advertisements. Steps in flight
// finish with ErrClosed.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	d.failSafe.Disarm()
	return nil
}

// stepFunc produces a step result once the simulated latency has passed.
type stepFunc func(ctx context.Context) (commissioning.ReportPayload, error)

// PerformStep implements commissioning.StepExecutor. Everything the step
// needs from step.Params is copied before it returns; the result is
// delivered from another goroutine.
func (d *Device) PerformStep(delegate commissioning.StepDelegate, step commissioning.Step) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		_ = delegate.StepFinished(fmt.Errorf("%s: %w", step.Stage, ErrClosed), commissioning.StepReport{Stage: step.Stage})
		return
	}
	d.stages = append(d.stages, step.Stage)
	d.wg.Add(1)
	d.mu.Unlock()

	d.log.Debugf("%s: %s (endpoint %d, timeout %s)", d.config.Profile.Name, step.Stage, step.Endpoint, step.Timeout)
	run := d.prepare(step)
	delay := d.config.Profile.latency(step.Stage)

	go func() {
		defer d.wg.Done()

		report := commissioning.StepReport{Stage: step.Stage}
		var err error
		if d.sleep(delay) {
			ctx, cancel := d.stepContext(step.Timeout)
			report.Payload, err = run(ctx)
			cancel()
		} else {
			err = ErrClosed
		}
		if err != nil {
			err = stageFailure(step.Stage, err)
			d.log.Infof("%s: %s failed: %v", d.config.Profile.Name, step.Stage, err)
		}
		if e := delegate.StepFinished(err, report); e != nil {
			d.log.Warnf("%s: completion of %s rejected: %v", d.config.Profile.Name, step.Stage, e)
		}
	}()
}

// ExtendFailsafe implements commissioning.FailsafeExtender.
func (d *Device) ExtendFailsafe(_ commissioning.Session, seconds uint16, _ time.Duration) {
	d.log.Debugf("%s: fail-safe extended to %ds", d.config.Profile.Name, seconds)
	d.failSafe.Arm(time.Duration(seconds) * time.Second)
}

func (d *Device) sleep(delay time.Duration) bool {
	if delay <= 0 {
		return d.ctx.Err() == nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-d.ctx.Done():
		return false
	}
}

func (d *Device) stepContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(d.ctx, timeout)
	}
	return context.WithCancel(d.ctx)
}

// stageFailure wraps err in the commissioning error of the stage.
func stageFailure(stage commissioning.Stage, err error) error {
	var sentinel error
	switch {
	case stage == commissioning.StageArmFailsafe,
		stage == commissioning.StageFailsafeBeforeWiFiEnable,
		stage == commissioning.StageFailsafeBeforeThreadEnable:
		sentinel = commissioning.ErrFailSafeArm
	case stage.Between(commissioning.StageSendPAICertificateRequest, commissioning.StageAttestationVerification):
		sentinel = commissioning.ErrAttestationFailed
	case stage == commissioning.StageAttestationRevocationCheck:
		sentinel = commissioning.ErrRevocationCheckFailed
	case stage == commissioning.StageSendOpCertSigningRequest, stage == commissioning.StageValidateCSR:
		sentinel = commissioning.ErrCSRFailed
	case stage.Between(commissioning.StageGenerateNOCChain, commissioning.StageSendNOC):
		sentinel = commissioning.ErrAddNOCFailed
	case stage.Between(commissioning.StageWiFiNetworkSetup, commissioning.StageThreadNetworkEnable),
		stage == commissioning.StageScanNetworks,
		stage == commissioning.StageRemoveWiFiNetworkConfig,
		stage == commissioning.StageRemoveThreadNetworkConfig:
		sentinel = commissioning.ErrNetworkConfigFailed
	case stage == commissioning.StageFindOperationalForStayActive,
		stage == commissioning.StageFindOperationalForCommissioningComplete:
		sentinel = commissioning.ErrDeviceNotFound
	case stage == commissioning.StageSendComplete:
		sentinel = commissioning.ErrCommissioningCompleteFailed
	}
	if sentinel == nil || errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// injectedFailure consumes one scripted failure for stage, if any.
func (d *Device) injectedFailure(stage commissioning.Stage) (stepFunc, bool) {
	d.mu.Lock()
	attempt := d.attempts[stage]
	d.attempts[stage] = attempt + 1
	d.mu.Unlock()

	for _, f := range d.config.Profile.Failures {
		s, _ := commissioning.ParseStage(f.Stage)
		if s != stage || (f.Count > 0 && attempt >= f.Count) {
			continue
		}
		kind := f.Kind
		return func(context.Context) (commissioning.ReportPayload, error) {
			err := fmt.Errorf("%w: %s at %s", ErrInjected, kind, stage)
			switch kind {
			case FailBusy:
				return commissioning.CommissioningErrorInfo{Code: commissioning.CommissioningBusyWithOtherAdmin}, err
			case FailNetworkAuth:
				return commissioning.NetworkCommissioningStatusInfo{Status: commissioning.NetworkStatusAuthFailure}, err
			case FailNetworkNotFound:
				return commissioning.NetworkCommissioningStatusInfo{Status: commissioning.NetworkStatusNetworkNotFound}, err
			case FailTimeout:
				return nil, fmt.Errorf("%w: %w", err, context.DeadlineExceeded)
			}
			return nil, err
		}, true
	}
	return nil, false
}

func succeed(payload commissioning.ReportPayload) stepFunc {
	return func(context.Context) (commissioning.ReportPayload, error) { return payload, nil }
}

func failWith(err error) stepFunc {
	return func(context.Context) (commissioning.ReportPayload, error) { return nil, err }
}

func clone(b []byte, ok bool) []byte {
	if !ok {
		return nil
	}
	return append([]byte(nil), b...)
}

// prepare captures the step inputs and returns the work to run later.
func (d *Device) prepare(step commissioning.Step) stepFunc {
	if f, ok := d.injectedFailure(step.Stage); ok {
		return f
	}

	p := step.Params
	switch step.Stage {
	case commissioning.StageReadCommissioningInfo:
		return d.readCommissioningInfo

	case commissioning.StageArmFailsafe:
		return d.armFailSafe(d.failsafeSeconds(p), true)

	case commissioning.StageFailsafeBeforeWiFiEnable, commissioning.StageFailsafeBeforeThreadEnable:
		return d.armFailSafe(d.failsafeSeconds(p), false)

	case commissioning.StageConfigRegulatory:
		loc, ok := p.DeviceRegulatoryLocation()
		if !ok {
			loc, _ = p.DefaultRegulatoryLocation()
		}
		return d.configRegulatory(loc)

	case commissioning.StageConfigureTimeZone:
		return succeed(commissioning.TimeZoneResponseInfo{RequiresDSTOffsets: d.config.Profile.Time.RequiresDSTOffsets})

	case commissioning.StageSendPAICertificateRequest:
		return succeed(commissioning.RequestedCertificate{Certificate: d.attestation.PAI})

	case commissioning.StageSendDACCertificateRequest:
		return succeed(commissioning.RequestedCertificate{Certificate: d.attestation.DAC})

	case commissioning.StageSendAttestationRequest:
		return d.attestationResponse(clone(p.AttestationNonce()))

	case commissioning.StageAttestationVerification, commissioning.StageAttestationRevocationCheck:
		info, err := commissioning.NewAttestationInfo(p)
		if err != nil {
			return failWith(err)
		}
		return d.verifyAttestation(step.Stage, info)

	case commissioning.StageSendOpCertSigningRequest:
		return d.csrResponse(clone(p.CSRNonce()))

	case commissioning.StageValidateCSR:
		ncgp, ok := p.NOCChainGenerationParameters()
		if !ok {
			return failWith(fmt.Errorf("%w: CSR response", ErrMissingInput))
		}
		return validateCSR(cloneNCGP(ncgp), clone(p.DAC()), clone(p.CSRNonce()))

	case commissioning.StageGenerateNOCChain:
		ncgp, ok := p.NOCChainGenerationParameters()
		if !ok {
			return failWith(fmt.Errorf("%w: CSR response", ErrMissingInput))
		}
		nodeID, ok := p.RemoteNodeID()
		if !ok {
			nodeID = d.config.NodeID
		}
		return d.generateNOCChain(opcreds.NOCRequest{
			Params:       cloneNCGP(ncgp),
			CSRNonce:     clone(p.CSRNonce()),
			DAC:          clone(p.DAC()),
			NodeID:       nodeID,
			AdminSubject: d.config.AdminSubject,
			CATs:         d.config.CATs,
		})

	case commissioning.StageSendTrustedRootCert:
		root, ok := p.RootCert()
		if !ok {
			return failWith(fmt.Errorf("%w: root certificate", ErrMissingInput))
		}
		return d.addTrustedRoot(clone(root, true))

	case commissioning.StageSendNOC:
		noc, ok := p.NOC()
		if !ok {
			return failWith(fmt.Errorf("%w: NOC", ErrMissingInput))
		}
		ipk, _ := p.IPK()
		return d.addNOC(clone(noc, true), clone(p.ICAC()), ipk)

	case commissioning.StageICDRegistration:
		key, ok := p.ICDSymmetricKey()
		if !ok || len(key) != commissioning.ICDSymmetricKeySize {
			return failWith(fmt.Errorf("%w: ICD symmetric key", ErrMissingInput))
		}
		return d.registerICD()

	case commissioning.StageWiFiNetworkSetup:
		creds, ok := p.WiFiCredentials()
		if !ok {
			return failWith(fmt.Errorf("%w: Wi-Fi credentials", ErrMissingInput))
		}
		return d.addWiFiNetwork(commissioning.WiFiCredentials{
			SSID:        clone(creds.SSID, true),
			Credentials: clone(creds.Credentials, true),
		})

	case commissioning.StageThreadNetworkSetup:
		ds, ok := p.ThreadOperationalDataset()
		if !ok {
			return failWith(fmt.Errorf("%w: Thread dataset", ErrMissingInput))
		}
		return d.addThreadNetwork(clone(ds, true))

	case commissioning.StageWiFiNetworkEnable:
		return d.connectWiFi

	case commissioning.StageThreadNetworkEnable:
		return d.connectThread

	case commissioning.StageRemoveWiFiNetworkConfig, commissioning.StageRemoveThreadNetworkConfig:
		return d.removeNetwork

	case commissioning.StageFindOperationalForStayActive, commissioning.StageFindOperationalForCommissioningComplete:
		nodeID, ok := p.RemoteNodeID()
		if !ok {
			nodeID = d.config.NodeID
		}
		return d.findOperational(nodeID)

	case commissioning.StageSendComplete:
		return d.commissioningComplete(step.Session)

	case commissioning.StageCleanup:
		status, ok := p.CompletionStatus()
		return d.cleanup(ok && status.Succeeded())
	}

	// ConfigureUTCTime, ConfigureDSTOffset, ConfigureDefaultNTP,
	// ConfigureTrustedTimeSource, ConfigureTCAcknowledgments, ScanNetworks,
	// EvictPreviousCaseSessions and ICDSendStayActive change nothing the
	// simulation tracks.
	return succeed(nil)
}

func cloneNCGP(n commissioning.NOCChainGenerationParameters) commissioning.NOCChainGenerationParameters {
	return commissioning.NOCChainGenerationParameters{
		NOCSRElements: clone(n.NOCSRElements, true),
		Signature:     clone(n.Signature, true),
	}
}

func (d *Device) readCommissioningInfo(context.Context) (commissioning.ReportPayload, error) {
	caps := d.config.Profile.capabilities()

	d.mu.Lock()
	defer d.mu.Unlock()
	if c := d.committed; c != nil && d.config.Issuer != nil && c.fabricID == d.config.Issuer.FabricID() {
		caps.MatchingFabricNodeID = c.nodeID
	}
	return commissioning.CommissioningInfo{Capabilities: caps}, nil
}

func (d *Device) failsafeSeconds(p commissioning.Parameters) uint16 {
	if s, ok := p.FailsafeExpirySeconds(); ok {
		return s
	}
	if s := d.config.Profile.RecommendedFailsafeSeconds; s > 0 {
		return s
	}
	return DefaultFailsafeSeconds
}

// requireFailSafe answers commands that only run under an armed fail-safe.
func (d *Device) requireFailSafe() (commissioning.ReportPayload, error) {
	if d.failSafe.IsArmed() {
		return nil, nil
	}
	return commissioning.CommissioningErrorInfo{Code: commissioning.CommissioningNoFailSafe}, ErrFailSafeNotArmed
}

func (d *Device) armFailSafe(seconds uint16, first bool) stepFunc {
	return func(context.Context) (commissioning.ReportPayload, error) {
		if !first {
			if payload, err := d.requireFailSafe(); err != nil {
				return payload, err
			}
		}
		d.failSafe.Arm(time.Duration(seconds) * time.Second)
		return nil, nil
	}
}

func (d *Device) configRegulatory(loc commissioning.RegulatoryLocation) stepFunc {
	return func(context.Context) (commissioning.ReportPayload, error) {
		if payload, err := d.requireFailSafe(); err != nil {
			return payload, err
		}
		capability, _ := d.config.Profile.locationCapability()
		if capability != commissioning.RegulatoryIndoorOutdoor && loc != capability {
			return commissioning.CommissioningErrorInfo{Code: commissioning.CommissioningValueOutsideRange},
				fmt.Errorf("regulatory location %s outside capability %s", loc, capability)
		}
		return nil, nil
	}
}

func (d *Device) attestationResponse(nonce []byte) stepFunc {
	return func(context.Context) (commissioning.ReportPayload, error) {
		if len(nonce) == 0 {
			return nil, fmt.Errorf("%w: attestation nonce", ErrMissingInput)
		}
		elements, err := opcreds.AttestationElements{
			CertificationDeclaration: []byte(d.config.Profile.Name),
			AttestationNonce:         nonce,
			Timestamp:                uint32(time.Now().Unix()),
		}.Encode()
		if err != nil {
			return nil, err
		}
		sig, err := d.attestation.SignAttestation(d.config.Rand, elements, nonce)
		if err != nil {
			return nil, err
		}
		return commissioning.AttestationResponse{Elements: elements, Signature: sig}, nil
	}
}

func (d *Device) verifyAttestation(stage commissioning.Stage, info *commissioning.AttestationInfo) stepFunc {
	return func(ctx context.Context) (commissioning.ReportPayload, error) {
		var result commissioning.AttestationVerificationResult
		if stage == commissioning.StageAttestationVerification {
			result = d.config.Verifier.Verify(ctx, info)
		} else {
			result = d.config.RevocationChecker.CheckRevocation(ctx, info)
		}
		if result == commissioning.AttestationSuccess {
			return nil, nil
		}
		report, err := commissioning.AttestationFailure(stage, result)
		return report.Payload, err
	}
}

func (d *Device) csrResponse(nonce []byte) stepFunc {
	return func(context.Context) (commissioning.ReportPayload, error) {
		if payload, err := d.requireFailSafe(); err != nil {
			return payload, err
		}
		if len(nonce) == 0 {
			return nil, fmt.Errorf("%w: CSR nonce", ErrMissingInput)
		}
		key, err := opcreds.GenerateKey(d.config.Rand)
		if err != nil {
			return nil, err
		}
		csr, err := x509.CreateCertificateRequest(d.config.Rand, &x509.CertificateRequest{
			Subject: pkix.Name{CommonName: "CSA"},
		}, key)
		if err != nil {
			return nil, fmt.Errorf("create CSR: %w", err)
		}
		elements, err := opcreds.NOCSRElements{CSR: csr, CSRNonce: nonce}.Encode()
		if err != nil {
			return nil, err
		}
		sig, err := opcreds.SignRaw(d.config.Rand, d.attestation.DACKey, elements)
		if err != nil {
			return nil, err
		}

		d.mu.Lock()
		d.pending.opKey = key
		d.mu.Unlock()
		return commissioning.CSRResponse{NOCSRElements: elements, Signature: sig}, nil
	}
}

// validateCSR checks the CSR response the way a commissioner does before
// asking for a NOC: DAC signature, nonce echo and CSR self-signature.
func validateCSR(ncgp commissioning.NOCChainGenerationParameters, dacDER, nonce []byte) stepFunc {
	return func(context.Context) (commissioning.ReportPayload, error) {
		if len(dacDER) == 0 {
			return nil, fmt.Errorf("%w: DAC", ErrMissingInput)
		}
		dac, err := x509.ParseCertificate(dacDER)
		if err != nil {
			return nil, fmt.Errorf("DAC: %w", err)
		}
		pub, ok := dac.PublicKey.(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("DAC key is %T", dac.PublicKey)
		}
		if err := opcreds.VerifyRaw(pub, ncgp.NOCSRElements, ncgp.Signature); err != nil {
			return nil, err
		}
		elems, err := opcreds.DecodeNOCSRElements(ncgp.NOCSRElements)
		if err != nil {
			return nil, err
		}
		if nonce != nil && !bytes.Equal(elems.CSRNonce, nonce) {
			return nil, opcreds.ErrCSRNonceMismatch
		}
		csr, err := x509.ParseCertificateRequest(elems.CSR)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", opcreds.ErrInvalidCSR, err)
		}
		if err := csr.CheckSignature(); err != nil {
			return nil, fmt.Errorf("%w: %v", opcreds.ErrInvalidCSR, err)
		}
		return nil, nil
	}
}

func (d *Device) generateNOCChain(req opcreds.NOCRequest) stepFunc {
	return func(context.Context) (commissioning.ReportPayload, error) {
		if d.config.Issuer == nil {
			return nil, errors.New("no credentials issuer configured")
		}
		chain, err := d.config.Issuer.GenerateNOCChain(req)
		if err != nil {
			return nil, err
		}
		return chain, nil
	}
}

func (d *Device) addTrustedRoot(root []byte) stepFunc {
	return func(context.Context) (commissioning.ReportPayload, error) {
		if payload, err := d.requireFailSafe(); err != nil {
			return payload, err
		}
		if _, err := x509.ParseCertificate(root); err != nil {
			return nil, fmt.Errorf("root certificate: %w", err)
		}
		d.mu.Lock()
		d.pending.root = root
		d.mu.Unlock()
		return nil, nil
	}
}

func (d *Device) addNOC(noc, icac []byte, ipk [fabric.IPKSize]byte) stepFunc {
	return func(context.Context) (commissioning.ReportPayload, error) {
		if payload, err := d.requireFailSafe(); err != nil {
			return payload, err
		}

		d.mu.Lock()
		root, key := d.pending.root, d.pending.opKey
		d.mu.Unlock()
		if root == nil {
			return nil, fmt.Errorf("%w: no trusted root installed", ErrMissingInput)
		}
		if key == nil {
			return nil, fmt.Errorf("%w: no operational key pending", ErrMissingInput)
		}

		id, err := newIdentity(root, icac, noc, key)
		if err != nil {
			return nil, err
		}
		id.ipk = ipk

		onNetwork := !d.transport.RequiresNetworkSetup()
		d.mu.Lock()
		d.pending.identity = id
		if onNetwork {
			d.pending.network = "ethernet"
		}
		d.mu.Unlock()
		d.log.Infof("%s: NOC installed for node %s on fabric %s", d.config.Profile.Name, id.nodeID, id.fabricID)

		if onNetwork {
			d.scheduleAdvertisement(id)
		}
		return nil, nil
	}
}

// newIdentity checks the NOC against the pending operational key and
// derives the compressed fabric id from the root.
func newIdentity(root, icac, noc []byte, key *ecdsa.PrivateKey) (*operationalIdentity, error) {
	cert, err := x509.ParseCertificate(noc)
	if err != nil {
		return nil, fmt.Errorf("NOC: %w", err)
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok || !pub.Equal(&key.PublicKey) {
		return nil, errors.New("NOC does not carry the operational public key")
	}
	nodeID, fabricID, err := opcreds.NOCNodeID(noc)
	if err != nil {
		return nil, err
	}

	rootCert, err := x509.ParseCertificate(root)
	if err != nil {
		return nil, fmt.Errorf("root certificate: %w", err)
	}
	rootPub, ok := rootCert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("root key is %T", rootCert.PublicKey)
	}
	rootKey, err := opcreds.PublicKeyBytes(rootPub)
	if err != nil {
		return nil, err
	}
	cfid, err := fabric.CompressedFabricID(rootKey, fabricID)
	if err != nil {
		return nil, err
	}
	return &operationalIdentity{
		root:               root,
		icac:               icac,
		noc:                noc,
		nodeID:             nodeID,
		fabricID:           fabricID,
		compressedFabricID: cfid,
	}, nil
}

func (d *Device) registerICD() stepFunc {
	return func(context.Context) (commissioning.ReportPayload, error) {
		if d.config.Profile.ICD == nil {
			return nil, errors.New("device is not an ICD")
		}
		d.mu.Lock()
		d.pending.icd = true
		d.mu.Unlock()
		return nil, nil
	}
}

func (d *Device) addWiFiNetwork(creds commissioning.WiFiCredentials) stepFunc {
	return func(context.Context) (commissioning.ReportPayload, error) {
		if payload, err := d.requireFailSafe(); err != nil {
			return payload, err
		}
		wifi := d.config.Profile.WiFi
		if wifi == nil {
			return nil, errors.New("device has no Wi-Fi interface")
		}
		if !wifi.visible(string(creds.SSID)) {
			return commissioning.NetworkCommissioningStatusInfo{Status: commissioning.NetworkStatusNetworkNotFound},
				fmt.Errorf("network %q not in range", creds.SSID)
		}
		d.mu.Lock()
		d.pending.wifi = &creds
		d.mu.Unlock()
		return nil, nil
	}
}

func (d *Device) addThreadNetwork(dataset []byte) stepFunc {
	return func(context.Context) (commissioning.ReportPayload, error) {
		if payload, err := d.requireFailSafe(); err != nil {
			return payload, err
		}
		if d.config.Profile.Thread == nil {
			return nil, errors.New("device has no Thread interface")
		}
		d.mu.Lock()
		d.pending.thread = dataset
		d.mu.Unlock()
		return nil, nil
	}
}

func (d *Device) connectWiFi(context.Context) (commissioning.ReportPayload, error) {
	if payload, err := d.requireFailSafe(); err != nil {
		return payload, err
	}
	d.mu.Lock()
	creds, id := d.pending.wifi, d.pending.identity
	d.mu.Unlock()
	if creds == nil {
		return commissioning.NetworkCommissioningStatusInfo{Status: commissioning.NetworkStatusNetworkIDNotFound},
			errors.New("no Wi-Fi network configured")
	}
	if pass := d.config.Profile.WiFi.Passphrase; pass != "" && pass != string(creds.Credentials) {
		return commissioning.NetworkCommissioningStatusInfo{Status: commissioning.NetworkStatusAuthFailure},
			fmt.Errorf("authentication to %q failed", creds.SSID)
	}
	d.mu.Lock()
	d.pending.network = string(creds.SSID)
	d.mu.Unlock()
	d.scheduleAdvertisement(id)
	return nil, nil
}

func (d *Device) connectThread(context.Context) (commissioning.ReportPayload, error) {
	if payload, err := d.requireFailSafe(); err != nil {
		return payload, err
	}
	d.mu.Lock()
	dataset, id := d.pending.thread, d.pending.identity
	d.mu.Unlock()
	if dataset == nil {
		return commissioning.NetworkCommissioningStatusInfo{Status: commissioning.NetworkStatusNetworkIDNotFound},
			errors.New("no Thread network configured")
	}
	d.mu.Lock()
	d.pending.network = "thread"
	d.mu.Unlock()
	d.scheduleAdvertisement(id)
	return nil, nil
}

func (d *Device) removeNetwork(context.Context) (commissioning.ReportPayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending.wifi = nil
	d.pending.thread = nil
	d.pending.network = ""
	d.withdrawLocked()
	return nil, nil
}

// visible reports whether ssid is in range of the interface.
func (n *NetworkProfile) visible(ssid string) bool {
	if len(n.Networks) == 0 {
		return true
	}
	for _, s := range n.Networks {
		if s == ssid {
			return true
		}
	}
	return false
}

// scheduleAdvertisement publishes the operational record after the
// profile's advertise delay, unless the identity was rolled back by then.
func (d *Device) scheduleAdvertisement(id *operationalIdentity) {
	op := d.config.Profile.Operational
	if id == nil || d.config.Advertiser == nil || op.NeverAdvertise {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		if !d.sleep(op.AdvertiseDelay) {
			return
		}

		d.mu.Lock()
		defer d.mu.Unlock()
		if d.pending.identity != id && d.committed != id {
			return
		}
		txt := discovery.OperationalTXT{ActiveInterval: op.ActiveInterval}
		if icd := d.config.Profile.ICD; icd != nil {
			txt.ICDSet = true
			txt.ICDMode = discovery.ICDModeSIT
			if icd.LIT {
				txt.ICDMode = discovery.ICDModeLIT
			}
		}
		entry := discovery.OperationalServiceEntry(id.compressedFabricID, id.nodeID, op.Port, d.config.Profile.ips(), txt)
		d.config.Advertiser.RegisterService(discovery.ServiceOperational, entry)
		d.advertised = entry.Instance
		d.log.Debugf("%s: advertising %s", d.config.Profile.Name, entry.Instance)
	}()
}

func (d *Device) withdrawLocked() {
	if d.advertised == "" || d.config.Advertiser == nil {
		return
	}
	if d.committed != nil && discovery.OperationalInstanceName(d.committed.compressedFabricID, d.committed.nodeID) == d.advertised {
		return
	}
	d.config.Advertiser.RemoveService(discovery.ServiceOperational, d.advertised)
	d.advertised = ""
}

func (d *Device) findOperational(nodeID fabric.NodeID) stepFunc {
	return func(ctx context.Context) (commissioning.ReportPayload, error) {
		if d.config.Finder == nil || d.config.Issuer == nil {
			return nil, errors.New("operational discovery not configured")
		}
		cfid, err := d.config.Issuer.CompressedFabricID()
		if err != nil {
			return nil, err
		}
		node, err := d.config.Finder.Find(ctx, cfid, nodeID)
		if err != nil {
			return nil, err
		}
		transport := commissioning.TransportUDP
		if node.TXT.TCPSupported {
			transport = commissioning.TransportTCP
		}
		return commissioning.OperationalNodeFound{Session: &Session{
			transport: transport,
			rtt:       node.TXT.RetransmitInterval(),
			peer:      node.NodeID,
			secure:    true,
		}}, nil
	}
}

func (d *Device) commissioningComplete(session commissioning.Session) stepFunc {
	operational := session != nil && session.PeerNodeID() != fabric.NodeIDUnspecified
	return func(context.Context) (commissioning.ReportPayload, error) {
		if payload, err := d.requireFailSafe(); err != nil {
			return payload, err
		}
		if !operational {
			return commissioning.CommissioningErrorInfo{Code: commissioning.CommissioningInvalidAuthentication},
				errors.New("CommissioningComplete must be sent over CASE")
		}

		d.mu.Lock()
		defer d.mu.Unlock()
		if d.pending.identity == nil {
			return nil, fmt.Errorf("%w: no NOC installed", ErrMissingInput)
		}
		d.failSafe.Disarm()
		d.commit()
		return nil, nil
	}
}

// commit makes the pending changes permanent. Called with d.mu held.
func (d *Device) commit() {
	d.committed = d.pending.identity
	d.network = d.pending.network
	d.pending = pendingState{}
	d.log.Infof("%s: commissioned as node %s", d.config.Profile.Name, d.committed.nodeID)
}

// cleanup disarms the fail-safe. It commits the changes of a successful
// flow that skipped CommissioningComplete and rolls back a failed one.
func (d *Device) cleanup(succeeded bool) stepFunc {
	return func(context.Context) (commissioning.ReportPayload, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.failSafe.Disarm()
		if succeeded {
			if d.pending.identity != nil {
				d.commit()
			}
			return nil, nil
		}
		d.revertLocked("commissioning failed")
		return nil, nil
	}
}

func (d *Device) failSafeExpired() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.revertLocked("fail-safe expired")
}

func (d *Device) revertLocked(reason string) {
	if d.pending.identity == nil && d.pending.root == nil && d.pending.network == "" &&
		d.pending.wifi == nil && d.pending.thread == nil {
		return
	}
	d.log.Infof("%s: %s, reverting", d.config.Profile.Name, reason)
	d.withdrawLocked()
	d.pending = pendingState{}
}

var (
	_ commissioning.StepExecutor     = (*Device)(nil)
	_ commissioning.FailsafeExtender = (*Device)(nil)
)
