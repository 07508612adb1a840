package commissioning

import (
	"bytes"
	"time"

	"github.com/backkem/matter-autocommissioner/pkg/capture"
	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

type fakeSession struct {
	insecure  bool
	transport TransportType
	rtt       time.Duration
	node      fabric.NodeID
}

func (s *fakeSession) SecureSessionEstablished() bool   { return !s.insecure }
func (s *fakeSession) TransportType() TransportType     { return s.transport }
func (s *fakeSession) RoundTripEstimate() time.Duration { return s.rtt }
func (s *fakeSession) PeerNodeID() fabric.NodeID        { return s.node }

// stepResult is a scripted completion for one dispatch of a stage.
type stepResult struct {
	err     error
	payload ReportPayload
}

// scriptedExecutor completes every step synchronously from inside
// PerformStep with a canned payload, unless a scripted result is queued for
// the stage or the stage is held.
type scriptedExecutor struct {
	caps        DeviceCapabilities
	operational Session
	results     map[Stage][]stepResult
	hold        map[Stage]bool

	dispatched []Stage
	steps      []Step
	// rootSeen and icacSeen are copied at dispatch time.
	rootSeen []byte
	icacSeen []byte
	returned []error

	extended []uint16

	delegate StepDelegate
}

func newScriptedExecutor(caps DeviceCapabilities) *scriptedExecutor {
	return &scriptedExecutor{
		caps:        caps,
		operational: &fakeSession{transport: TransportUDP, node: 0x1234},
		results:     map[Stage][]stepResult{},
		hold: map[Stage]bool{
			StageNeedsNetworkCreds:      true,
			StageICDGetRegistrationInfo: true,
		},
	}
}

func (e *scriptedExecutor) fail(stage Stage, err error, payload ReportPayload) *scriptedExecutor {
	e.results[stage] = append(e.results[stage], stepResult{err: err, payload: payload})
	return e
}

func (e *scriptedExecutor) PerformStep(delegate StepDelegate, step Step) {
	e.delegate = delegate
	e.dispatched = append(e.dispatched, step.Stage)
	e.steps = append(e.steps, step)

	switch step.Stage {
	case StageSendTrustedRootCert:
		if root, ok := step.Params.RootCert(); ok {
			e.rootSeen = bytes.Clone(root)
		}
	case StageSendNOC:
		if icac, ok := step.Params.ICAC(); ok {
			e.icacSeen = bytes.Clone(icac)
		}
	}

	if e.hold[step.Stage] {
		return
	}

	if queued := e.results[step.Stage]; len(queued) > 0 {
		e.results[step.Stage] = queued[1:]
		r := queued[0]
		e.returned = append(e.returned, delegate.StepFinished(r.err, StepReport{Stage: step.Stage, Payload: r.payload}))
		return
	}
	e.returned = append(e.returned, delegate.StepFinished(nil, StepReport{Stage: step.Stage, Payload: e.payloadFor(step.Stage)}))
}

func (e *scriptedExecutor) ExtendFailsafe(_ Session, seconds uint16, _ time.Duration) {
	e.extended = append(e.extended, seconds)
}

func (e *scriptedExecutor) payloadFor(stage Stage) ReportPayload {
	switch stage {
	case StageReadCommissioningInfo:
		return CommissioningInfo{Capabilities: e.caps}
	case StageSendPAICertificateRequest:
		return RequestedCertificate{Certificate: bytes.Repeat([]byte{0xA1}, 400)}
	case StageSendDACCertificateRequest:
		return RequestedCertificate{Certificate: bytes.Repeat([]byte{0xDA}, 420)}
	case StageSendAttestationRequest:
		return AttestationResponse{Elements: bytes.Repeat([]byte{0xE1}, 300), Signature: bytes.Repeat([]byte{0x51}, 64)}
	case StageSendOpCertSigningRequest:
		return CSRResponse{NOCSRElements: bytes.Repeat([]byte{0xC5}, 250), Signature: bytes.Repeat([]byte{0x52}, 64)}
	case StageGenerateNOCChain:
		return testChain()
	case StageFindOperationalForStayActive, StageFindOperationalForCommissioningComplete:
		return OperationalNodeFound{Session: e.operational}
	}
	return nil
}

func testChain() NOCChain {
	return NOCChain{
		NOC:          bytes.Repeat([]byte{0x0C}, 350),
		ICAC:         bytes.Repeat([]byte{0x1C}, 330),
		RCAC:         bytes.Repeat([]byte{0x2C}, 310),
		IPK:          [fabric.IPKSize]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		AdminSubject: 0x1122334455667788,
	}
}

// passthroughConverter accepts any bytes as a certificate.
type passthroughConverter struct{}

func (passthroughConverter) ConvertCertificate(der []byte) ([]byte, error) { return der, nil }

// wifiDevice is a Wi-Fi only device needing no time configuration.
func wifiDevice() DeviceCapabilities {
	return DeviceCapabilities{
		VendorID:                   0xFFF1,
		ProductID:                  0x8001,
		RecommendedFailsafeSeconds: 60,
		WiFi: NetworkInterface{
			Supported:         true,
			Endpoint:          fabric.RootEndpoint,
			MinConnectionTime: 20 * time.Second,
		},
		MaxTimeZoneListSize:  2,
		MaxDSTOffsetListSize: 1,
	}
}

// dualDevice supports Wi-Fi on the root endpoint and Thread on endpoint 1.
func dualDevice() DeviceCapabilities {
	caps := wifiDevice()
	caps.SupportsConcurrentConnection = true
	caps.Thread = NetworkInterface{Supported: true, Endpoint: 1, MinConnectionTime: 30 * time.Second}
	return caps
}

func wifiParams() Parameters {
	var p Parameters
	p.SetWiFiCredentials(WiFiCredentials{SSID: []byte("home"), Credentials: []byte("hunter22")})
	return p
}

type flowHarness struct {
	flow      *AutoCommissioner
	exec      *scriptedExecutor
	session   *fakeSession
	recorder  *capture.MemoryRecorder
	completed []CompletionStatus
}

func newHarness(caps DeviceCapabilities, params Parameters, transport TransportType) (*flowHarness, error) {
	h := &flowHarness{
		exec:     newScriptedExecutor(caps),
		session:  &fakeSession{transport: transport, rtt: 100 * time.Millisecond},
		recorder: &capture.MemoryRecorder{},
	}
	h.flow = NewAutoCommissioner(AutoCommissionerConfig{
		CertificateConverter: passthroughConverter{},
		Recorder:             h.recorder,
		OnCompleted: func(s CompletionStatus) {
			h.completed = append(h.completed, s)
		},
	})
	if err := h.flow.SetParameters(params); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *flowHarness) start() error {
	return h.flow.Start(h.exec, h.session)
}

// sequence returns SecurePairing followed by every dispatched stage.
func (h *flowHarness) sequence() []Stage {
	return append([]Stage{StageSecurePairing}, h.exec.dispatched...)
}

func (h *flowHarness) status() (CompletionStatus, bool) {
	if len(h.completed) == 0 {
		return CompletionStatus{}, false
	}
	return h.completed[len(h.completed)-1], true
}
