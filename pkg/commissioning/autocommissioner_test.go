package commissioning

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/backkem/matter-autocommissioner/pkg/capture"
	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

var nominalWiFiSequence = []Stage{
	StageSecurePairing,
	StageReadCommissioningInfo,
	StageArmFailsafe,
	StageConfigRegulatory,
	StageConfigureTCAcknowledgments,
	StageSendPAICertificateRequest,
	StageSendDACCertificateRequest,
	StageSendAttestationRequest,
	StageAttestationVerification,
	StageAttestationRevocationCheck,
	StageSendOpCertSigningRequest,
	StageValidateCSR,
	StageGenerateNOCChain,
	StageSendTrustedRootCert,
	StageSendNOC,
	StageWiFiNetworkSetup,
	StageFailsafeBeforeWiFiEnable,
	StageWiFiNetworkEnable,
	StageEvictPreviousCaseSessions,
	StageFindOperationalForStayActive,
	StageICDSendStayActive,
	StageFindOperationalForCommissioningComplete,
	StageSendComplete,
	StageCleanup,
}

func TestNominalWiFiFlow(t *testing.T) {
	h, err := newHarness(wifiDevice(), wifiParams(), TransportBLE)
	require.NoError(t, err)
	require.NoError(t, h.start())

	assert.Equal(t, nominalWiFiSequence, h.sequence())

	require.Len(t, h.completed, 1)
	st := h.completed[0]
	assert.True(t, st.Succeeded(), st.String())

	// the slot held the root for SendTrustedRootCert and the ICAC afterwards
	chain := testChain()
	assert.Equal(t, chain.RCAC, h.exec.rootSeen)
	assert.Equal(t, chain.ICAC, h.exec.icacSeen)

	p := h.flow.Parameters()
	ipk, ok := p.IPK()
	require.True(t, ok)
	assert.Equal(t, chain.IPK, ipk)
	_, ok = p.NOC()
	assert.False(t, ok, "NOC must be released at cleanup")
	_, ok = p.DAC()
	assert.False(t, ok, "DAC must be released at cleanup")
	got, ok := p.CompletionStatus()
	require.True(t, ok)
	assert.NoError(t, got.Err)

	assert.Equal(t, StageCleanup, h.flow.CurrentStage())
	assert.Empty(t, h.exec.extended)
}

func TestNominalFlowRecordsEvents(t *testing.T) {
	h, err := newHarness(wifiDevice(), wifiParams(), TransportBLE)
	require.NoError(t, err)
	require.NoError(t, h.start())

	var want []string
	for _, s := range nominalWiFiSequence[1:] {
		want = append(want, s.String())
	}
	assert.Equal(t, want, h.recorder.Stages(capture.KindDispatch))
	assert.Len(t, h.recorder.Stages(capture.KindFinish), len(nominalWiFiSequence))

	events := h.recorder.Events()
	last := events[len(events)-1]
	assert.Equal(t, capture.KindComplete, last.Kind)
	assert.Empty(t, last.Err)
	for _, e := range events {
		assert.Equal(t, h.flow.ID().String(), e.FlowID)
	}
}

func TestAttestationFailureStillChecksRevocation(t *testing.T) {
	mismatchReport, mismatchErr := AttestationFailure(StageAttestationVerification, AttestationDACVendorIDMismatch)

	t.Run("revocation check also fails", func(t *testing.T) {
		h, err := newHarness(wifiDevice(), wifiParams(), TransportBLE)
		require.NoError(t, err)
		revReport, revErr := AttestationFailure(StageAttestationRevocationCheck, AttestationRevocationUnresolved)
		h.exec.fail(StageAttestationVerification, mismatchErr, mismatchReport.Payload)
		h.exec.fail(StageAttestationRevocationCheck, revErr, revReport.Payload)

		require.NoError(t, h.start())

		assert.Equal(t, []Stage{
			StageSendAttestationRequest,
			StageAttestationVerification,
			StageAttestationRevocationCheck,
			StageCleanup,
		}, h.exec.dispatched[len(h.exec.dispatched)-4:])

		st, ok := h.status()
		require.True(t, ok)
		assert.Equal(t, StageAttestationVerification, st.FailedStage)
		assert.ErrorIs(t, st.Err, ErrAttestationFailed)
		require.NotNil(t, st.AttestationResult)
		assert.Equal(t, AttestationDACVendorIDMismatch, *st.AttestationResult)
	})

	t.Run("revocation check succeeds", func(t *testing.T) {
		h, err := newHarness(wifiDevice(), wifiParams(), TransportBLE)
		require.NoError(t, err)
		h.exec.fail(StageAttestationVerification, mismatchErr, mismatchReport.Payload)

		require.NoError(t, h.start())

		assert.Equal(t, []Stage{
			StageAttestationVerification,
			StageAttestationRevocationCheck,
			StageCleanup,
		}, h.exec.dispatched[len(h.exec.dispatched)-3:])

		st, ok := h.status()
		require.True(t, ok)
		assert.Equal(t, StageAttestationVerification, st.FailedStage)
		assert.ErrorIs(t, st.Err, ErrAttestationFailed)
	})
}

func TestBreadcrumbResumesAtSendNOC(t *testing.T) {
	caps := wifiDevice()
	caps.Breadcrumb = 7
	h, err := newHarness(caps, wifiParams(), TransportBLE)
	require.NoError(t, err)
	require.NoError(t, h.start())

	require.GreaterOrEqual(t, len(h.exec.dispatched), 2)
	assert.Equal(t, StageReadCommissioningInfo, h.exec.dispatched[0])
	assert.Equal(t, StageSendNOC, h.exec.dispatched[1])
	for _, s := range h.exec.dispatched {
		assert.False(t, s.Between(StageArmFailsafe, StageSendTrustedRootCert), "stage %s must be skipped", s)
		assert.NotEqual(t, StageConfigureTCAcknowledgments, s)
	}
}

func TestScanThenWaitForCredentials(t *testing.T) {
	var params Parameters
	params.SetAttemptWiFiNetworkScan(true)
	h, err := newHarness(wifiDevice(), params, TransportBLE)
	require.NoError(t, err)
	require.NoError(t, h.start())

	n := len(h.exec.dispatched)
	require.GreaterOrEqual(t, n, 3)
	assert.Equal(t, []Stage{StageSendNOC, StageScanNetworks, StageNeedsNetworkCreds}, h.exec.dispatched[n-3:])
	assert.Equal(t, StageNeedsNetworkCreds, h.flow.CurrentStage())
	assert.Empty(t, h.completed, "flow must halt awaiting credentials")

	t.Run("credentials provided", func(t *testing.T) {
		p := h.flow.Parameters()
		p.SetWiFiCredentials(WiFiCredentials{SSID: []byte("home"), Credentials: []byte("hunter22")})
		require.NoError(t, h.flow.SetParameters(p))
		require.NoError(t, h.flow.NetworkCredentialsReady())

		assert.Equal(t, nominalWiFiSequence[15:], h.exec.dispatched[n:])
		st, ok := h.status()
		require.True(t, ok)
		assert.True(t, st.Succeeded(), st.String())
	})

	t.Run("not waiting any more", func(t *testing.T) {
		assert.ErrorIs(t, h.flow.NetworkCredentialsReady(), ErrNotWaiting)
	})
}

func TestMissingCredentialsFails(t *testing.T) {
	var params Parameters
	params.SetAttemptWiFiNetworkScan(true)
	h, err := newHarness(wifiDevice(), params, TransportBLE)
	require.NoError(t, err)
	require.NoError(t, h.start())
	require.NoError(t, h.flow.NetworkCredentialsReady())

	assert.Equal(t, StageCleanup, h.exec.dispatched[len(h.exec.dispatched)-1])
	st, ok := h.status()
	require.True(t, ok)
	assert.ErrorIs(t, st.Err, ErrNetworkCredentialsMissing)
	assert.ErrorIs(t, st.Err, ErrInvalidArgument)
	assert.Equal(t, StageNeedsNetworkCreds, st.FailedStage)
}

func TestAttestationElementsCapacity(t *testing.T) {
	t.Run("exactly at capacity", func(t *testing.T) {
		h, err := newHarness(wifiDevice(), wifiParams(), TransportBLE)
		require.NoError(t, err)
		h.exec.results[StageSendAttestationRequest] = []stepResult{{payload: AttestationResponse{
			Elements:  bytes.Repeat([]byte{0xE1}, MaxAttestationElementsSize),
			Signature: bytes.Repeat([]byte{0x51}, MaxAttestationSignatureSize),
		}}}
		require.NoError(t, h.start())

		assert.Equal(t, nominalWiFiSequence, h.sequence())
	})

	t.Run("one byte over", func(t *testing.T) {
		h, err := newHarness(wifiDevice(), wifiParams(), TransportBLE)
		require.NoError(t, err)
		h.exec.results[StageSendAttestationRequest] = []stepResult{{payload: AttestationResponse{
			Elements:  bytes.Repeat([]byte{0xE1}, MaxAttestationElementsSize+1),
			Signature: bytes.Repeat([]byte{0x51}, MaxAttestationSignatureSize),
		}}}

		err = h.start()
		require.ErrorIs(t, err, ErrMessageTooLong)
		assert.Equal(t, StageSendAttestationRequest, h.exec.dispatched[len(h.exec.dispatched)-1])
		assert.Equal(t, StageSendAttestationRequest, h.flow.CurrentStage())
		assert.Empty(t, h.completed)

		require.NoError(t, h.flow.Abort(err))
		assert.Equal(t, StageCleanup, h.exec.dispatched[len(h.exec.dispatched)-1])
		st, ok := h.status()
		require.True(t, ok)
		assert.Equal(t, StageSendAttestationRequest, st.FailedStage)
		assert.ErrorIs(t, st.Err, ErrMessageTooLong)
	})
}

func TestSecondaryNetworkFallback(t *testing.T) {
	params := wifiParams()
	params.SetThreadOperationalDataset(bytes.Repeat([]byte{0x0E}, 100))

	h, err := newHarness(dualDevice(), params, TransportBLE)
	require.NoError(t, err)
	h.exec.fail(StageWiFiNetworkEnable, ErrNetworkConfigFailed, nil)
	h.exec.fail(StageThreadNetworkEnable, ErrNetworkConfigFailed, nil)
	require.NoError(t, h.start())

	assert.Equal(t, []Stage{
		StageSendNOC,
		StageWiFiNetworkSetup,
		StageFailsafeBeforeWiFiEnable,
		StageWiFiNetworkEnable,
		StageRemoveWiFiNetworkConfig,
		StageThreadNetworkSetup,
		StageFailsafeBeforeThreadEnable,
		StageThreadNetworkEnable,
		StageCleanup,
	}, h.exec.dispatched[len(h.exec.dispatched)-9:])

	removals := 0
	for _, s := range h.exec.dispatched {
		if s == StageRemoveWiFiNetworkConfig || s == StageRemoveThreadNetworkConfig {
			removals++
		}
	}
	assert.Equal(t, 1, removals)

	st, ok := h.status()
	require.True(t, ok)
	assert.Equal(t, StageThreadNetworkEnable, st.FailedStage)
	assert.ErrorIs(t, st.Err, ErrNetworkConfigFailed)
}

func TestSecondaryNetworkRecovers(t *testing.T) {
	params := wifiParams()
	params.SetThreadOperationalDataset(bytes.Repeat([]byte{0x0E}, 100))

	h, err := newHarness(dualDevice(), params, TransportBLE)
	require.NoError(t, err)
	h.exec.fail(StageWiFiNetworkSetup, ErrNetworkConfigFailed, nil)
	require.NoError(t, h.start())

	st, ok := h.status()
	require.True(t, ok)
	assert.True(t, st.Succeeded(), st.String())
	assert.Contains(t, h.exec.dispatched, StageThreadNetworkEnable)

	// Thread lives on endpoint 1
	for _, step := range h.exec.steps {
		if step.Stage == StageThreadNetworkSetup {
			assert.Equal(t, fabric.EndpointID(1), step.Endpoint)
		}
	}
}

func TestNetworkFailureRescans(t *testing.T) {
	params := wifiParams()
	params.SetAttemptWiFiNetworkScan(true)
	h, err := newHarness(wifiDevice(), params, TransportBLE)
	require.NoError(t, err)
	h.exec.fail(StageWiFiNetworkEnable, ErrNetworkConfigFailed,
		NetworkCommissioningStatusInfo{Status: NetworkStatusAuthFailure})
	require.NoError(t, h.start())
	require.Equal(t, StageNeedsNetworkCreds, h.flow.CurrentStage())

	require.NoError(t, h.flow.NetworkCredentialsReady())

	// the failure is treated as a completed scan: ask for credentials again
	n := len(h.exec.dispatched)
	assert.Equal(t, []Stage{StageWiFiNetworkEnable, StageNeedsNetworkCreds}, h.exec.dispatched[n-2:])
	assert.Empty(t, h.completed)

	var absorbed bool
	for _, e := range h.recorder.Events() {
		if e.Kind == capture.KindFinish && e.Stage == StageWiFiNetworkEnable.String() {
			absorbed = e.Absorbed
			assert.Equal(t, "AuthFailure", e.Detail)
		}
	}
	assert.True(t, absorbed)
}

func TestRescanFailureIsKeptWhenStopped(t *testing.T) {
	params := wifiParams()
	params.SetAttemptWiFiNetworkScan(true)
	h, err := newHarness(wifiDevice(), params, TransportBLE)
	require.NoError(t, err)
	h.exec.fail(StageWiFiNetworkEnable, ErrNetworkConfigFailed,
		NetworkCommissioningStatusInfo{Status: NetworkStatusAuthFailure})
	require.NoError(t, h.start())
	require.NoError(t, h.flow.NetworkCredentialsReady())
	require.Equal(t, StageNeedsNetworkCreds, h.flow.CurrentStage())

	h.flow.StopCommissioning()
	require.NoError(t, h.flow.NetworkCredentialsReady())

	st, ok := h.status()
	require.True(t, ok)
	assert.ErrorIs(t, st.Err, ErrNetworkConfigFailed)
	assert.Equal(t, StageWiFiNetworkEnable, st.FailedStage)
	require.NotNil(t, st.NetworkStatus)
	assert.Equal(t, NetworkStatusAuthFailure, *st.NetworkStatus)
}

func TestRescanRecoveryClearsNetworkFailure(t *testing.T) {
	params := wifiParams()
	params.SetAttemptWiFiNetworkScan(true)
	h, err := newHarness(wifiDevice(), params, TransportBLE)
	require.NoError(t, err)
	h.exec.fail(StageWiFiNetworkEnable, ErrNetworkConfigFailed,
		NetworkCommissioningStatusInfo{Status: NetworkStatusAuthFailure})
	require.NoError(t, h.start())
	require.NoError(t, h.flow.NetworkCredentialsReady())
	_, pending := h.flow.pendingNetworkFailure()
	require.True(t, pending)

	// second attempt connects
	require.NoError(t, h.flow.NetworkCredentialsReady())

	st, ok := h.status()
	require.True(t, ok)
	assert.NoError(t, st.Err)
	_, pending = h.flow.pendingNetworkFailure()
	assert.False(t, pending)
}

func TestStartForgetsPreviousDevice(t *testing.T) {
	h, err := newHarness(wifiDevice(), wifiParams(), TransportBLE)
	require.NoError(t, err)
	require.NoError(t, h.start())
	st, ok := h.status()
	require.True(t, ok)
	require.NoError(t, st.Err)
	_, ok = h.flow.Parameters().IPK()
	require.True(t, ok)

	h.exec.hold[StageReadCommissioningInfo] = true
	require.NoError(t, h.start())
	require.Equal(t, StageReadCommissioningInfo, h.flow.CurrentStage())

	p := h.flow.Parameters()
	_, ok = p.RemoteVendorID()
	assert.False(t, ok)
	_, ok = p.RemoteProductID()
	assert.False(t, ok)
	_, ok = p.IPK()
	assert.False(t, ok)
	_, ok = p.AdminSubject()
	assert.False(t, ok)
}

func TestOptionalTimeStages(t *testing.T) {
	caps := wifiDevice()
	caps.RequiresUTC = true
	caps.RequiresTimeZone = true
	caps.RequiresDSTOffsets = true
	caps.RequiresDefaultNTP = true
	caps.RequiresTrustedTimeSource = true
	caps.MaxTimeZoneListSize = 1

	params := wifiParams()
	params.SetTimeZones([]TimeZone{{Offset: 3600, Name: "CET"}, {Offset: 7200, ValidAt: 1, Name: "CEST"}, {Offset: 0}})
	params.SetDSTOffsets([]DSTOffset{{Offset: 3600}})
	params.SetDefaultNTP("pool.ntp.org")
	params.SetTrustedTimeSource(TrustedTimeSource{NodeID: 0x99, Endpoint: 0})

	h, err := newHarness(caps, params, TransportBLE)
	require.NoError(t, err)
	require.NoError(t, h.start())

	count := map[Stage]int{}
	for _, s := range h.exec.dispatched {
		count[s]++
	}
	for _, s := range []Stage{
		StageConfigureUTCTime, StageConfigureTimeZone, StageConfigureDSTOffset,
		StageConfigureDefaultNTP, StageConfigureTrustedTimeSource,
	} {
		assert.Equal(t, 1, count[s], "stage %s", s)
	}

	for _, step := range h.exec.steps {
		if step.Stage == StageConfigureTimeZone {
			tz, ok := step.Params.TimeZones()
			require.True(t, ok)
			assert.Len(t, tz, 1, "list must be truncated to the device maximum")
			assert.Equal(t, "CET", tz[0].Name)
		}
	}
}

func TestTimeZoneResponseDisablesDST(t *testing.T) {
	caps := wifiDevice()
	caps.RequiresTimeZone = true
	caps.RequiresDSTOffsets = true

	params := wifiParams()
	params.SetTimeZones([]TimeZone{{Offset: 3600}})
	params.SetDSTOffsets([]DSTOffset{{Offset: 3600}})

	h, err := newHarness(caps, params, TransportBLE)
	require.NoError(t, err)
	h.exec.results[StageConfigureTimeZone] = []stepResult{{payload: TimeZoneResponseInfo{RequiresDSTOffsets: false}}}
	require.NoError(t, h.start())

	assert.Contains(t, h.exec.dispatched, StageConfigureTimeZone)
	assert.NotContains(t, h.exec.dispatched, StageConfigureDSTOffset)
}

func TestICDRegistrationPause(t *testing.T) {
	caps := wifiDevice()
	caps.ICD = ICDInfo{IsLIT: true, CheckInProtocolSupport: true}

	params := wifiParams()
	params.SetICDRegistrationStrategy(ICDRegistrationBeforeComplete)

	h, err := newHarness(caps, params, TransportBLE)
	require.NoError(t, err)
	require.NoError(t, h.start())
	require.Equal(t, StageICDGetRegistrationInfo, h.flow.CurrentStage())

	p := h.flow.Parameters()
	p.SetICDCheckInNodeID(0x55)
	p.SetICDMonitoredSubject(0x55)
	p.SetICDSymmetricKey(bytes.Repeat([]byte{0x4B}, ICDSymmetricKeySize))
	require.NoError(t, h.flow.SetParameters(p))
	require.NoError(t, h.flow.ICDRegistrationInfoReady())

	n := len(h.exec.dispatched)
	idx := -1
	for i, s := range h.exec.dispatched {
		if s == StageICDGetRegistrationInfo {
			idx = i
		}
	}
	require.True(t, idx >= 0 && idx+2 < n)
	assert.Equal(t, StageICDRegistration, h.exec.dispatched[idx+1])
	assert.Equal(t, StageWiFiNetworkSetup, h.exec.dispatched[idx+2])

	st, ok := h.status()
	require.True(t, ok)
	assert.True(t, st.Succeeded(), st.String())
}

func TestStayActiveClearedForNonLIT(t *testing.T) {
	params := wifiParams()
	params.SetICDStayActiveDurationMs(30000)

	h, err := newHarness(wifiDevice(), params, TransportBLE)
	require.NoError(t, err)
	require.NoError(t, h.start())

	for _, step := range h.exec.steps {
		if step.Stage == StageICDSendStayActive {
			_, ok := step.Params.ICDStayActiveDurationMs()
			assert.False(t, ok)
		}
	}
}

func TestOnNetworkDeviceRearmsForCASE(t *testing.T) {
	params := Parameters{}
	params.SetCASEFailsafeSeconds(90)

	caps := wifiDevice()
	caps.Ethernet = NetworkInterface{Supported: true, Endpoint: 2}

	h, err := newHarness(caps, params, TransportUDP)
	require.NoError(t, err)
	require.NoError(t, h.start())

	assert.NotContains(t, h.exec.dispatched, StageWiFiNetworkSetup)
	assert.Equal(t, []uint16{90}, h.exec.extended)

	st, ok := h.status()
	require.True(t, ok)
	assert.True(t, st.Succeeded(), st.String())
}

func TestSkipCommissioningComplete(t *testing.T) {
	params := Parameters{}
	params.SetSkipCommissioningComplete(true)

	h, err := newHarness(wifiDevice(), params, TransportUDP)
	require.NoError(t, err)
	require.NoError(t, h.start())

	n := len(h.exec.dispatched)
	assert.Equal(t, []Stage{StageSendNOC, StageCleanup}, h.exec.dispatched[n-2:])
}

func TestOperationalSessionSelection(t *testing.T) {
	h, err := newHarness(wifiDevice(), wifiParams(), TransportBLE)
	require.NoError(t, err)
	require.NoError(t, h.start())

	for _, step := range h.exec.steps {
		switch step.Stage {
		case StageSendComplete, StageICDSendStayActive, StageCleanup:
			assert.Same(t, h.exec.operational, step.Session, "stage %s", step.Stage)
		default:
			assert.Same(t, Session(h.session), step.Session, "stage %s", step.Stage)
		}
		assert.GreaterOrEqual(t, step.Timeout, 30*time.Second)
	}
}

func TestMatchingFabricAdoptsNodeID(t *testing.T) {
	caps := wifiDevice()
	caps.MatchingFabricNodeID = 0xABCD

	params := wifiParams()
	params.SetCheckForMatchingFabric(true)

	h, err := newHarness(caps, params, TransportBLE)
	require.NoError(t, err)
	require.NoError(t, h.start())

	node, ok := h.flow.Parameters().RemoteNodeID()
	require.True(t, ok)
	assert.Equal(t, fabric.NodeID(0xABCD), node)

	vid, ok := h.flow.Parameters().RemoteVendorID()
	require.True(t, ok)
	assert.Equal(t, fabric.VendorID(0xFFF1), vid)

	fs, ok := h.flow.Parameters().FailsafeExpirySeconds()
	require.True(t, ok)
	assert.Equal(t, uint16(60), fs)
}

func TestStopCommissioning(t *testing.T) {
	h, err := newHarness(wifiDevice(), wifiParams(), TransportBLE)
	require.NoError(t, err)
	h.exec.hold[StageSendPAICertificateRequest] = true
	require.NoError(t, h.start())
	require.Equal(t, StageSendPAICertificateRequest, h.flow.CurrentStage())

	h.flow.StopCommissioning()
	delete(h.exec.hold, StageSendPAICertificateRequest)
	require.NoError(t, h.flow.StepFinished(nil, StepReport{
		Stage:   StageSendPAICertificateRequest,
		Payload: RequestedCertificate{Certificate: []byte{1}},
	}))

	assert.Equal(t, StageCleanup, h.exec.dispatched[len(h.exec.dispatched)-1])
	st, ok := h.status()
	require.True(t, ok)
	assert.ErrorIs(t, st.Err, ErrStopped)
}

func TestAbortInFlight(t *testing.T) {
	h, err := newHarness(wifiDevice(), wifiParams(), TransportBLE)
	require.NoError(t, err)
	h.exec.hold[StageConfigRegulatory] = true
	require.NoError(t, h.start())

	cause := errors.New("user gave up")
	require.NoError(t, h.flow.Abort(cause))
	assert.Equal(t, StageConfigRegulatory, h.flow.CurrentStage(), "in-flight step is not interrupted")

	delete(h.exec.hold, StageConfigRegulatory)
	require.NoError(t, h.flow.StepFinished(nil, StepReport{Stage: StageConfigRegulatory}))

	st, ok := h.status()
	require.True(t, ok)
	assert.ErrorIs(t, st.Err, cause)
	assert.Equal(t, StageConfigRegulatory, st.FailedStage)
	assert.ErrorIs(t, h.flow.Abort(cause), ErrNotCommissioning)
}

func TestStartErrors(t *testing.T) {
	h, err := newHarness(wifiDevice(), wifiParams(), TransportBLE)
	require.NoError(t, err)

	assert.ErrorIs(t, h.flow.Start(nil, h.session), ErrNilConfig)
	assert.ErrorIs(t, h.flow.Start(h.exec, nil), ErrNilConfig)
	assert.ErrorIs(t, h.flow.Start(h.exec, &fakeSession{insecure: true}), ErrNoSecureSession)

	h.exec.hold[StageArmFailsafe] = true
	require.NoError(t, h.start())
	assert.ErrorIs(t, h.start(), ErrAlreadyCommissioning)
}

func TestStepFinishedRejectsMismatchedReports(t *testing.T) {
	h, err := newHarness(wifiDevice(), wifiParams(), TransportBLE)
	require.NoError(t, err)
	h.exec.hold[StageReadCommissioningInfo] = true

	assert.ErrorIs(t, h.flow.StepFinished(nil, StepReport{Stage: StageReadCommissioningInfo}), ErrNotCommissioning)

	require.NoError(t, h.start())
	assert.ErrorIs(t, h.flow.StepFinished(nil, StepReport{Stage: StageArmFailsafe}), ErrUnexpectedReport)

	err = h.flow.StepFinished(nil, StepReport{
		Stage:   StageReadCommissioningInfo,
		Payload: RequestedCertificate{},
	})
	assert.ErrorIs(t, err, ErrUnexpectedReport)
}

type fixedNonce byte

func (n fixedNonce) ObtainCSRNonce(buf []byte) error {
	for i := range buf {
		buf[i] = byte(n)
	}
	return nil
}

func TestCSRNonceFromDelegate(t *testing.T) {
	exec := newScriptedExecutor(wifiDevice())
	flow := NewAutoCommissioner(AutoCommissionerConfig{
		CredentialsDelegate:  fixedNonce(0x7A),
		CertificateConverter: passthroughConverter{},
	})
	require.NoError(t, flow.SetParameters(wifiParams()))
	require.NoError(t, flow.Start(exec, &fakeSession{transport: TransportBLE}))

	var seen []byte
	for _, step := range exec.steps {
		if step.Stage == StageSendOpCertSigningRequest {
			nonce, ok := step.Params.CSRNonce()
			require.True(t, ok)
			seen = bytes.Clone(nonce)
		}
	}
	assert.Equal(t, bytes.Repeat([]byte{0x7A}, CSRNonceSize), seen)
}

type mockCredentialsDelegate struct {
	mock.Mock
}

func (m *mockCredentialsDelegate) ObtainCSRNonce(buf []byte) error {
	return m.Called(buf).Error(0)
}

func TestCSRNonceDelegateFailureStopsFlow(t *testing.T) {
	errNoEntropy := errors.New("no entropy")
	delegate := &mockCredentialsDelegate{}
	delegate.On("ObtainCSRNonce", mock.MatchedBy(func(b []byte) bool { return len(b) == CSRNonceSize })).
		Return(errNoEntropy).Once()

	exec := newScriptedExecutor(wifiDevice())
	flow := NewAutoCommissioner(AutoCommissionerConfig{
		CredentialsDelegate:  delegate,
		CertificateConverter: passthroughConverter{},
	})
	require.NoError(t, flow.SetParameters(wifiParams()))
	err := flow.Start(exec, &fakeSession{transport: TransportBLE})
	require.ErrorIs(t, err, errNoEntropy)

	delegate.AssertExpectations(t)
	assert.Equal(t, StageSendAttestationRequest, exec.dispatched[len(exec.dispatched)-1])
	assert.NotContains(t, exec.dispatched, StageSendOpCertSigningRequest)
}

func TestSetParametersCopiesInput(t *testing.T) {
	ssid := []byte("office")
	var p Parameters
	p.SetWiFiCredentials(WiFiCredentials{SSID: ssid, Credentials: []byte("secret")})

	flow := NewAutoCommissioner(AutoCommissionerConfig{})
	require.NoError(t, flow.SetParameters(p))
	ssid[0] = 'X'

	creds, ok := flow.Parameters().WiFiCredentials()
	require.True(t, ok)
	assert.Equal(t, "office", string(creds.SSID))

	// re-applying the flow's own views must not corrupt them
	require.NoError(t, flow.SetParameters(flow.Parameters()))
	creds, _ = flow.Parameters().WiFiCredentials()
	assert.Equal(t, "office", string(creds.SSID))
	assert.Equal(t, "secret", string(creds.Credentials))
}

func TestSetParametersTruncatesLists(t *testing.T) {
	var p Parameters
	p.SetTimeZones(make([]TimeZone, 5))
	p.SetDSTOffsets(make([]DSTOffset, MaxDSTOffsets+3))

	flow := NewAutoCommissioner(AutoCommissionerConfig{})
	require.NoError(t, flow.SetParameters(p))

	tz, _ := flow.Parameters().TimeZones()
	assert.Len(t, tz, MaxTimeZones)
	dst, _ := flow.Parameters().DSTOffsets()
	assert.Len(t, dst, MaxDSTOffsets)
}

func TestDERCertificateConverter(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "root"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	out, err := DERCertificateConverter{}.ConvertCertificate(der)
	require.NoError(t, err)
	assert.Equal(t, der, out)

	_, err = DERCertificateConverter{}.ConvertCertificate([]byte{0x30, 0x01})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
