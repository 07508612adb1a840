package commissioning

import (
	"crypto/x509"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/backkem/matter-autocommissioner/pkg/capture"
	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

// AutoCommissionerConfig configures an AutoCommissioner.
type AutoCommissionerConfig struct {
	// LoggerFactory creates the "commissioning" logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory

	// CredentialsDelegate, if set, supplies a fresh CSR nonce after the
	// attestation response is received.
	CredentialsDelegate CredentialsDelegate

	// CertificateConverter converts issued certificates before they are sent.
	// Defaults to DERCertificateConverter.
	CertificateConverter CertificateConverter

	// Recorder receives stage trace events. Defaults to capture.NoopRecorder.
	Recorder capture.Recorder

	// OnCompleted is called once when the Cleanup step has finished.
	OnCompleted func(status CompletionStatus)
}

// AutoCommissioner drives one device through the commissioning stages.
//
// It is single-threaded: Start, StepFinished, SetParameters, Abort and the
// *Ready methods must not be called concurrently. StepFinished may be called
// from inside StepExecutor.PerformStep; such calls are queued and processed
// once the outer call returns. StopCommissioning is safe from any goroutine.
type AutoCommissioner struct {
	config    AutoCommissionerConfig
	log       logging.LeveledLogger
	converter CertificateConverter
	recorder  capture.Recorder
	inst      *flowInstruments

	id       uuid.UUID
	executor StepExecutor
	// session is the commissionee (PASE) session; nil outside a flow.
	session     Session
	operational Session

	params  Parameters
	buffers *flowBuffers
	caps    DeviceCapabilities

	stage    Stage
	running  bool
	inFlight bool

	needsNetworkSetup   bool
	needICDRegistration bool
	dstNeeded           bool
	tryingSecondary     bool
	// attestationFailed is set when a verification failure was masked so
	// the revocation check could still run.
	attestationFailed bool
	// rescanFailure is a network failure absorbed by a rescan. It becomes
	// the outcome unless a later network enable succeeds.
	rescanFailure optional[CompletionStatus]

	status optional[CompletionStatus]
	stop   atomic.Bool

	busy    bool
	pending []func() error
}

// NewAutoCommissioner creates an idle AutoCommissioner.
func NewAutoCommissioner(config AutoCommissionerConfig) *AutoCommissioner {
	a := &AutoCommissioner{
		config:    config,
		converter: config.CertificateConverter,
		recorder:  config.Recorder,
		inst:      newFlowInstruments(),
		buffers:   newFlowBuffers(),
	}

	factory := config.LoggerFactory
	if factory == nil {
		factory = &logging.DefaultLoggerFactory{
			Writer:          io.Discard,
			DefaultLogLevel: logging.LogLevelDisabled,
		}
	}
	a.log = factory.NewLogger("commissioning")

	if a.converter == nil {
		a.converter = DERCertificateConverter{}
	}
	if a.recorder == nil {
		a.recorder = capture.NoopRecorder{}
	}
	return a
}

// ID returns the identifier of the current or last flow.
func (a *AutoCommissioner) ID() uuid.UUID {
	return a.id
}

// CurrentStage returns the stage most recently dispatched.
func (a *AutoCommissioner) CurrentStage() Stage {
	return a.stage
}

// Parameters returns a copy of the flow parameters.
func (a *AutoCommissioner) Parameters() Parameters {
	return a.params
}

// SetParameters validates p and adopts its caller-supplied fields. Byte
// slices are copied into storage owned by the flow. Values learned from the
// device or derived during the flow are kept.
func (a *AutoCommissioner) SetParameters(p Parameters) error {
	return a.run(func() error {
		return a.setParameters(p)
	})
}

func (a *AutoCommissioner) setParameters(p Parameters) error {
	if err := p.validate(); err != nil {
		return err
	}
	b := a.buffers

	adopt := func(o *optional[[]byte], buf *fixedBuffer) {
		v, ok := o.get()
		if !ok {
			buf.reset()
			return
		}
		// capacity was checked by validate
		_ = buf.set(v, ErrBufferTooSmall)
		view, _ := buf.view()
		*o = some(view)
	}
	adopt(&p.attestationNonce, &b.attestationNonce)
	adopt(&p.csrNonce, &b.csrNonce)
	adopt(&p.threadDataset, &b.threadDataset)
	adopt(&p.icdSymmetricKey, &b.icdKey)

	if w, ok := p.wifi.get(); ok {
		_ = b.ssid.set(w.SSID, ErrBufferTooSmall)
		_ = b.wifiKey.set(w.Credentials, ErrBufferTooSmall)
		ssid, _ := b.ssid.view()
		key, _ := b.wifiKey.view()
		p.wifi = some(WiFiCredentials{SSID: ssid, Credentials: key})
	} else {
		b.ssid.reset()
		b.wifiKey.reset()
	}

	if tzs, ok := p.timeZones.get(); ok {
		n := copy(b.timeZones[:], tzs)
		if len(tzs) > n {
			a.log.Warnf("time zone list truncated from %d to %d entries", len(tzs), n)
		}
		p.timeZones = some(b.timeZones[:n:n])
	}
	if dst, ok := p.dstOffsets.get(); ok {
		n := copy(b.dstOffsets[:], dst)
		if len(dst) > n {
			a.log.Warnf("DST offset list truncated from %d to %d entries", len(dst), n)
		}
		p.dstOffsets = some(b.dstOffsets[:n:n])
	}
	if paths, ok := p.extraReadPaths.get(); ok {
		n := copy(b.extraReadPaths[:], paths)
		p.extraReadPaths = some(b.extraReadPaths[:n:n])
	}

	p.learned = a.params.learned
	p.derived = a.params.derived
	p.completionStatus = a.params.completionStatus
	a.params = p
	return nil
}

// Start begins commissioning over session, which must already be secured.
func (a *AutoCommissioner) Start(executor StepExecutor, session Session) error {
	if executor == nil || session == nil {
		return ErrNilConfig
	}
	return a.run(func() error {
		if a.running {
			return ErrAlreadyCommissioning
		}
		if !session.SecureSessionEstablished() {
			return ErrNoSecureSession
		}

		a.id = uuid.New()
		a.executor = executor
		a.session = session
		a.operational = nil
		a.needsNetworkSetup = session.TransportType().RequiresNetworkSetup()
		a.needICDRegistration = false
		a.dstNeeded = false
		a.tryingSecondary = false
		a.attestationFailed = false
		a.rescanFailure = optional[CompletionStatus]{}
		a.status = optional[CompletionStatus]{}
		a.params.learned = learnedParams{}
		a.params.derived = derivedParams{}
		a.params.completionStatus = optional[CompletionStatus]{}
		a.stop.Store(false)
		a.running = true
		a.stage = StageSecurePairing

		a.inst.startFlow(a.id.String(), session.TransportType())
		a.recorder.Record(capture.Event{
			Timestamp: time.Now(),
			FlowID:    a.id.String(),
			Kind:      capture.KindFinish,
			Stage:     StageSecurePairing.String(),
		})
		a.log.Infof("flow %s: starting over %s, network setup needed: %t",
			a.id, session.TransportType(), a.needsNetworkSetup)

		return a.advance(StageSecurePairing, nil)
	})
}

// StopCommissioning makes the next transition go to Cleanup. An in-flight
// step is not interrupted.
func (a *AutoCommissioner) StopCommissioning() {
	a.stop.Store(true)
}

// StepFinished implements StepDelegate.
func (a *AutoCommissioner) StepFinished(err error, report StepReport) error {
	return a.run(func() error {
		return a.stepFinished(err, report)
	})
}

// NetworkCredentialsReady resumes a flow paused at NeedsNetworkCreds. Set
// the credentials with SetParameters first.
func (a *AutoCommissioner) NetworkCredentialsReady() error {
	return a.resume(StageNeedsNetworkCreds)
}

// ICDRegistrationInfoReady resumes a flow paused at ICDGetRegistrationInfo.
// Set the registration information with SetParameters first.
func (a *AutoCommissioner) ICDRegistrationInfoReady() error {
	return a.resume(StageICDGetRegistrationInfo)
}

func (a *AutoCommissioner) resume(stage Stage) error {
	return a.run(func() error {
		if !a.running || !a.inFlight || a.stage != stage {
			return fmt.Errorf("%w: at %s", ErrNotWaiting, a.stage)
		}
		return a.stepFinished(nil, StepReport{Stage: stage})
	})
}

// Abort fails the flow with err. If no step is in flight Cleanup is
// dispatched immediately, otherwise the flow goes to Cleanup when the
// in-flight step finishes.
func (a *AutoCommissioner) Abort(err error) error {
	return a.run(func() error {
		if !a.running {
			return ErrNotCommissioning
		}
		a.recordFailure(CompletionStatus{Err: err, FailedStage: a.stage})
		if a.stage == StageCleanup {
			return nil
		}
		if a.inFlight {
			a.stop.Store(true)
			return nil
		}
		a.dispatch(StageCleanup)
		return nil
	})
}

// run serialises re-entrant calls: a call made while another is being
// processed is queued and runs after it.
func (a *AutoCommissioner) run(fn func() error) error {
	if a.busy {
		a.pending = append(a.pending, fn)
		return nil
	}
	a.busy = true
	defer func() { a.busy = false }()

	err := fn()
	for len(a.pending) > 0 {
		next := a.pending[0]
		a.pending = a.pending[1:]
		if e := next(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

func (a *AutoCommissioner) input() *transitionInput {
	return &transitionInput{
		stopRequested:       a.stop.Load(),
		params:              &a.params,
		caps:                &a.caps,
		needsNetworkSetup:   a.needsNetworkSetup,
		needICDRegistration: a.needICDRegistration,
		dstNeeded:           a.dstNeeded,
		tryingSecondary:     a.tryingSecondary,
	}
}

func (a *AutoCommissioner) recordFailure(st CompletionStatus) {
	if a.status.ok {
		return
	}
	if pending, ok := a.rescanFailure.get(); ok {
		st = pending
	}
	a.status = some(st)
}

// pendingNetworkFailure returns the network failure that sent the flow back
// to scanning, if it has not been recovered from.
func (a *AutoCommissioner) pendingNetworkFailure() (CompletionStatus, bool) {
	return a.rescanFailure.get()
}

func (a *AutoCommissioner) completionStatus() CompletionStatus {
	st, _ := a.status.get()
	return st
}

func (a *AutoCommissioner) stepFinished(err error, report StepReport) error {
	if !a.running {
		return ErrNotCommissioning
	}
	if !a.inFlight || report.Stage != a.stage {
		return fmt.Errorf("%w: report for %s while at %s", ErrUnexpectedReport, report.Stage, a.stage)
	}
	a.inFlight = false
	completed := report.Stage

	if completed == StageCleanup {
		a.inst.endStage(err, false)
		a.recordFinish(completed, err, false, report)
		a.finishCleanup()
		return nil
	}

	stepErr := err
	succeeded := stepErr == nil
	if !succeeded {
		err = a.handleFailure(err, &report)
	}
	absorbed := !succeeded && err == nil
	a.inst.endStage(stepErr, absorbed)
	a.recordFinish(completed, stepErr, absorbed, report)

	if succeeded {
		if e := checkSuccessPayload(report); e != nil {
			a.recordFailure(CompletionStatus{Err: e, FailedStage: completed})
			return e
		}
		if completed == StageGenerateNOCChain {
			return a.nocChainGenerated(report.Payload.(NOCChain))
		}
		if completed == StageWiFiNetworkEnable || completed == StageThreadNetworkEnable {
			a.rescanFailure = optional[CompletionStatus]{}
		}
		if e := a.applyResult(report); e != nil {
			a.log.Errorf("flow %s: %s: %v", a.id, completed, e)
			a.recordFailure(CompletionStatus{Err: e, FailedStage: completed})
			return e
		}
	}

	if report.Stage == StageAttestationRevocationCheck && err == nil && a.attestationFailed {
		// the revocation check ran; now fail with the attestation result
		err = a.completionStatus().Err
	}
	return a.advance(report.Stage, err)
}

// handleFailure gives a failed step a chance to be absorbed. It returns nil
// when the flow should continue, possibly after rewriting report.Stage.
func (a *AutoCommissioner) handleFailure(err error, report *StepReport) error {
	in := a.input()

	switch p := report.Payload.(type) {
	case AttestationErrorInfo:
		if p.Result.IsIDMismatch() {
			a.log.Errorf("flow %s: DAC vendor/product id does not match the device: %s", a.id, p.Result)
		} else {
			a.log.Errorf("flow %s: attestation failed at %s: %s", a.id, report.Stage, p.Result)
		}
		if report.Stage == StageAttestationVerification {
			a.recordFailure(classifyFailure(err, *report))
			a.attestationFailed = true
			return nil
		}
	case NetworkCommissioningStatusInfo:
		if isScanNeeded(in) {
			a.log.Warnf("flow %s: %s failed with %s, rescanning", a.id, report.Stage, p.Status)
			if !a.rescanFailure.ok {
				a.rescanFailure = some(classifyFailure(err, *report))
			}
			report.Stage = StageScanNetworks
			return nil
		}
	}

	if report.Stage.Between(StageWiFiNetworkSetup, StageICDSendStayActive) &&
		isSecondaryNetworkSupported(in) && !a.tryingSecondary {
		a.log.Warnf("flow %s: primary network failed at %s: %v, trying secondary", a.id, report.Stage, err)
		a.tryingSecondary = true
		report.Stage = StagePrimaryOperationalNetworkFailed
		return nil
	}

	a.log.Errorf("flow %s: %s failed: %v", a.id, report.Stage, err)
	a.recordFailure(classifyFailure(err, *report))
	return err
}

// applyResult stores what a successful step produced.
func (a *AutoCommissioner) applyResult(report StepReport) error {
	b := a.buffers

	switch report.Stage {
	case StageReadCommissioningInfo:
		a.applyCommissioningInfo(report.Payload.(CommissioningInfo).Capabilities)

	case StageConfigureTimeZone:
		if tz, ok := report.Payload.(TimeZoneResponseInfo); ok {
			a.dstNeeded = tz.RequiresDSTOffsets
		}

	case StageSendPAICertificateRequest:
		cert := report.Payload.(RequestedCertificate).Certificate
		if err := b.pai.set(cert, ErrMessageTooLong); err != nil {
			return fmt.Errorf("PAI: %w", err)
		}
		view, _ := b.pai.view()
		a.params.derived.pai = some(view)

	case StageSendDACCertificateRequest:
		cert := report.Payload.(RequestedCertificate).Certificate
		if err := b.dac.set(cert, ErrMessageTooLong); err != nil {
			return fmt.Errorf("DAC: %w", err)
		}
		view, _ := b.dac.view()
		a.params.derived.dac = some(view)

	case StageSendAttestationRequest:
		resp := report.Payload.(AttestationResponse)
		if err := b.attestationElements.set(resp.Elements, ErrMessageTooLong); err != nil {
			return fmt.Errorf("attestation elements: %w", err)
		}
		if err := b.attestationSignature.set(resp.Signature, ErrMessageTooLong); err != nil {
			return fmt.Errorf("attestation signature: %w", err)
		}
		elements, _ := b.attestationElements.view()
		signature, _ := b.attestationSignature.view()
		a.params.derived.attestationElements = some(elements)
		a.params.derived.attestationSignature = some(signature)

		if d := a.config.CredentialsDelegate; d != nil {
			nonce := b.csrNonce.data[:CSRNonceSize]
			if err := d.ObtainCSRNonce(nonce); err != nil {
				return fmt.Errorf("obtain CSR nonce: %w", err)
			}
			_ = b.csrNonce.set(nonce, ErrBufferTooSmall)
			view, _ := b.csrNonce.view()
			a.params.csrNonce = some(view)
		}

	case StageSendOpCertSigningRequest:
		resp := report.Payload.(CSRResponse)
		if err := b.nocsrElements.set(resp.NOCSRElements, ErrMessageTooLong); err != nil {
			return fmt.Errorf("NOCSR elements: %w", err)
		}
		if err := b.csrSignature.set(resp.Signature, ErrMessageTooLong); err != nil {
			return fmt.Errorf("CSR signature: %w", err)
		}
		elements, _ := b.nocsrElements.view()
		signature, _ := b.csrSignature.view()
		a.params.derived.nocChainParams = some(NOCChainGenerationParameters{
			NOCSRElements: elements,
			Signature:     signature,
		})

	case StageFindOperationalForStayActive, StageFindOperationalForCommissioningComplete:
		a.operational = report.Payload.(OperationalNodeFound).Session
	}
	return nil
}

func (a *AutoCommissioner) applyCommissioningInfo(caps DeviceCapabilities) {
	a.caps = caps
	l := &a.params.learned
	l.remoteVendorID = some(caps.VendorID)
	l.remoteProductID = some(caps.ProductID)
	l.defaultRegulatoryLocation = some(caps.DefaultRegulatoryLocation)
	l.locationCapability = some(caps.LocationCapability)
	l.supportsConcurrentConnection = some(caps.SupportsConcurrentConnection)

	a.dstNeeded = caps.RequiresDSTOffsets

	if !a.params.failsafeExpirySeconds.ok && caps.RecommendedFailsafeSeconds > 0 {
		a.params.failsafeExpirySeconds = some(caps.RecommendedFailsafeSeconds)
	}

	a.needICDRegistration = a.params.icdRegistrationStrategy != ICDRegistrationIgnore &&
		caps.ICD.IsLIT && caps.ICD.CheckInProtocolSupport
	if !caps.ICD.IsLIT || !caps.ICD.CheckInProtocolSupport {
		// StayActive only applies to LIT devices with check-in support
		a.params.ClearICDStayActiveDurationMs()
	}

	if a.params.checkForMatchingFabric && caps.MatchingFabricNodeID != fabric.NodeIDUnspecified {
		a.log.Infof("flow %s: device already on fabric as %s", a.id, caps.MatchingFabricNodeID)
		a.params.remoteNodeID = some(caps.MatchingFabricNodeID)
	}

	a.log.Debugf("flow %s: vendor %s product 0x%04X, breadcrumb %d, wifi %t thread %t ethernet %t",
		a.id, caps.VendorID, caps.ProductID, caps.Breadcrumb,
		caps.WiFi.Supported, caps.Thread.Supported, caps.Ethernet.Supported)
}

// nocChainGenerated stores the issued chain and dispatches
// SendTrustedRootCert itself. The shared certificate slot holds the root
// while that step is dispatched and the intermediate afterwards.
func (a *AutoCommissioner) nocChainGenerated(chain NOCChain) error {
	b := a.buffers
	fail := func(err error) error {
		a.log.Errorf("flow %s: NOC chain: %v", a.id, err)
		a.recordFailure(CompletionStatus{Err: err, FailedStage: StageGenerateNOCChain})
		return err
	}
	if len(chain.RCAC) == 0 || len(chain.NOC) == 0 {
		return fail(fmt.Errorf("%w: chain without root or NOC", ErrInvalidArgument))
	}

	root, err := a.converter.ConvertCertificate(chain.RCAC)
	if err != nil {
		return fail(fmt.Errorf("convert root: %w", err))
	}
	if err := b.rootOrICAC.store(certRoleRoot, root); err != nil {
		return fail(fmt.Errorf("root: %w", err))
	}
	rootView, _ := b.rootOrICAC.viewAs(certRoleRoot)
	a.params.derived.rootCert = some(rootView)
	a.params.derived.icac = optional[[]byte]{}

	noc, err := a.converter.ConvertCertificate(chain.NOC)
	if err != nil {
		return fail(fmt.Errorf("convert NOC: %w", err))
	}
	if err := b.noc.set(noc, ErrMessageTooLong); err != nil {
		return fail(fmt.Errorf("NOC: %w", err))
	}
	nocView, _ := b.noc.view()
	a.params.derived.noc = some(nocView)

	a.dispatch(StageSendTrustedRootCert)

	// The root certificate has been handed over; reuse the slot.
	a.params.derived.rootCert = optional[[]byte]{}
	if len(chain.ICAC) > 0 {
		icac, err := a.converter.ConvertCertificate(chain.ICAC)
		if err != nil {
			return fail(fmt.Errorf("convert ICAC: %w", err))
		}
		if err := b.rootOrICAC.store(certRoleIntermediate, icac); err != nil {
			return fail(fmt.Errorf("ICAC: %w", err))
		}
		icacView, _ := b.rootOrICAC.viewAs(certRoleIntermediate)
		a.params.derived.icac = some(icacView)
	} else {
		b.rootOrICAC.reset()
	}
	a.params.derived.ipk = some(chain.IPK)
	a.params.derived.adminSubject = some(chain.AdminSubject)
	return nil
}

// advance computes and dispatches the stage after completed.
func (a *AutoCommissioner) advance(completed Stage, err error) error {
	next, fx, terr := nextStage(completed, err, a.input())
	if terr != nil {
		a.log.Errorf("flow %s: after %s: %v", a.id, completed, terr)
		a.recordFailure(CompletionStatus{Err: terr, FailedStage: completed})
	}
	if next == StageError {
		err := fmt.Errorf("%w: no stage after %s", ErrIncorrectState, completed)
		a.log.Errorf("flow %s: %v", a.id, err)
		a.recordFailure(CompletionStatus{Err: err, FailedStage: completed})
		return err
	}
	if next == StageCleanup && a.stop.Load() {
		a.recordFailure(CompletionStatus{Err: ErrStopped, FailedStage: completed})
	}
	if fx.armCASEFailsafe {
		a.armCASEFailsafe()
	}
	a.dispatch(next)
	return nil
}

func (a *AutoCommissioner) armCASEFailsafe() {
	seconds, ok := a.params.CASEFailsafeSeconds()
	if !ok {
		return
	}
	ext, ok := a.executor.(FailsafeExtender)
	if !ok {
		a.log.Debugf("flow %s: executor cannot extend the fail-safe", a.id)
		return
	}
	ext.ExtendFailsafe(a.session, seconds, CommandTimeout(StageArmFailsafe, a.caps, a.session))
}

// dispatch hands stage to the executor.
func (a *AutoCommissioner) dispatch(stage Stage) {
	a.stage = stage
	a.inFlight = true

	switch stage {
	case StageConfigureTimeZone:
		if tzs, ok := a.params.timeZones.get(); ok && len(tzs) > int(a.caps.MaxTimeZoneListSize) {
			a.params.timeZones = some(tzs[:a.caps.MaxTimeZoneListSize])
		}
	case StageConfigureDSTOffset:
		if dst, ok := a.params.dstOffsets.get(); ok && len(dst) > int(a.caps.MaxDSTOffsetListSize) {
			a.params.dstOffsets = some(dst[:a.caps.MaxDSTOffsetListSize])
		}
	case StageCleanup:
		a.params.completionStatus = some(a.completionStatus())
	}

	session := a.sessionFor(stage)
	step := Step{
		Session:  session,
		Stage:    stage,
		Params:   a.params,
		Endpoint: a.endpointFor(stage),
		Timeout:  CommandTimeout(stage, a.caps, session),
	}

	a.log.Debugf("flow %s: dispatching %s (endpoint %d, timeout %s)", a.id, stage, step.Endpoint, step.Timeout)
	a.inst.beginStage(step)
	a.recorder.Record(capture.Event{
		Timestamp: time.Now(),
		FlowID:    a.id.String(),
		Kind:      capture.KindDispatch,
		Stage:     stage.String(),
		Timeout:   step.Timeout,
	})
	a.executor.PerformStep(a, step)
}

func (a *AutoCommissioner) sessionFor(stage Stage) Session {
	switch stage {
	case StageSendComplete, StageICDSendStayActive, StageCleanup:
		if a.operational != nil {
			return a.operational
		}
	}
	return a.session
}

func (a *AutoCommissioner) endpointFor(stage Stage) fabric.EndpointID {
	switch stage {
	case StageWiFiNetworkSetup, StageWiFiNetworkEnable:
		return a.caps.WiFi.endpoint()
	case StageThreadNetworkSetup, StageThreadNetworkEnable:
		return a.caps.Thread.endpoint()
	}
	return fabric.RootEndpoint
}

func (a *AutoCommissioner) recordFinish(stage Stage, err error, absorbed bool, report StepReport) {
	e := capture.Event{
		Timestamp: time.Now(),
		FlowID:    a.id.String(),
		Kind:      capture.KindFinish,
		Stage:     stage.String(),
		Absorbed:  absorbed,
	}
	if err != nil {
		e.Err = err.Error()
		e.Detail = payloadDetail(report.Payload)
	}
	a.recorder.Record(e)
}

func payloadDetail(p ReportPayload) string {
	switch v := p.(type) {
	case AttestationErrorInfo:
		return v.Result.String()
	case CommissioningErrorInfo:
		return v.Code.String()
	case NetworkCommissioningStatusInfo:
		return v.Status.String()
	}
	return ""
}

// finishCleanup releases flow resources and reports the outcome.
func (a *AutoCommissioner) finishCleanup() {
	status := a.completionStatus()

	a.buffers.releaseCredentials()
	a.params.derived = derivedParams{
		ipk:          a.params.derived.ipk,
		adminSubject: a.params.derived.adminSubject,
	}
	a.caps = DeviceCapabilities{}
	a.dstNeeded = false
	a.tryingSecondary = false
	a.attestationFailed = false
	a.rescanFailure = optional[CompletionStatus]{}
	a.needICDRegistration = false
	a.session = nil
	a.operational = nil
	a.running = false

	a.inst.endFlow(status)
	complete := capture.Event{
		Timestamp: time.Now(),
		FlowID:    a.id.String(),
		Kind:      capture.KindComplete,
	}
	if status.Err != nil {
		complete.Stage = status.FailedStage.String()
		complete.Err = status.Err.Error()
		complete.Detail = status.String()
		a.log.Warnf("flow %s: commissioning %s", a.id, status)
	} else {
		a.log.Infof("flow %s: commissioning complete", a.id)
	}
	a.recorder.Record(complete)

	if a.config.OnCompleted != nil {
		a.config.OnCompleted(status)
	}
}

// DERCertificateConverter checks that certificates parse as X.509 and
// passes the DER through unchanged.
type DERCertificateConverter struct{}

// ConvertCertificate implements CertificateConverter.
func (DERCertificateConverter) ConvertCertificate(der []byte) ([]byte, error) {
	if _, err := x509.ParseCertificate(der); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return der, nil
}
