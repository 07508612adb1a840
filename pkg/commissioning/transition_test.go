package commissioning

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

// randomInput builds a transition input with every flag drawn at random.
func randomInput(rng *rand.Rand) *transitionInput {
	flip := func() bool { return rng.Intn(2) == 1 }

	caps := &DeviceCapabilities{
		RequiresUTC:                  flip(),
		RequiresTimeZone:             flip(),
		RequiresDSTOffsets:           flip(),
		RequiresDefaultNTP:           flip(),
		RequiresTrustedTimeSource:    flip(),
		SupportsConcurrentConnection: flip(),
		WiFi:                         NetworkInterface{Supported: flip(), Endpoint: fabric.EndpointID(rng.Intn(2))},
		Thread:                       NetworkInterface{Supported: flip(), Endpoint: fabric.EndpointID(rng.Intn(2))},
		ICD:                          ICDInfo{IsLIT: flip(), CheckInProtocolSupport: flip()},
	}
	if flip() {
		caps.Breadcrumb = uint64(rng.Intn(5))
	}

	p := &Parameters{}
	if flip() {
		p.SetTimeZones([]TimeZone{{}})
	}
	if flip() {
		p.SetDSTOffsets([]DSTOffset{{}})
	}
	if flip() {
		p.SetDefaultNTP("ntp")
	}
	if flip() {
		p.SetTrustedTimeSource(TrustedTimeSource{})
	}
	if flip() {
		p.SetWiFiCredentials(WiFiCredentials{SSID: []byte("x")})
	}
	if flip() {
		p.SetThreadOperationalDataset([]byte{1})
	}
	if flip() {
		p.SetICDCheckInNodeID(1)
		p.SetICDMonitoredSubject(1)
		p.SetICDSymmetricKey(make([]byte, ICDSymmetricKeySize))
	}
	p.SetAttemptWiFiNetworkScan(flip())
	p.SetAttemptThreadNetworkScan(flip())
	p.SetSkipCommissioningComplete(flip())

	return &transitionInput{
		stopRequested:       rng.Intn(8) == 0,
		params:              p,
		caps:                caps,
		needsNetworkSetup:   flip(),
		needICDRegistration: flip(),
		dstNeeded:           flip(),
		tryingSecondary:     flip(),
	}
}

func TestNextStageTotality(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	failure := errors.New("step failed")

	for _, stage := range AllStages() {
		for i := 0; i < 500; i++ {
			in := randomInput(rng)
			var lastErr error
			if rng.Intn(6) == 0 {
				lastErr = failure
			}

			next, _, err := nextStage(stage, lastErr, in)
			require.True(t, next.IsValid(), "stage %s -> %d", stage, next)

			switch {
			case stage.IsTerminal():
				assert.Equal(t, StageError, next, "after %s", stage)
			case stage == StagePrimaryOperationalNetworkFailed && !in.stopRequested && lastErr == nil:
				assert.Contains(t, []Stage{StageRemoveWiFiNetworkConfig, StageRemoveThreadNetworkConfig}, next)
			default:
				assert.NotEqual(t, StageError, next, "after %s", stage)
			}
			if err != nil {
				assert.Equal(t, StageCleanup, next)
				assert.ErrorIs(t, err, ErrInvalidArgument)
			}
			if (in.stopRequested || lastErr != nil) && !stage.IsTerminal() {
				assert.Equal(t, StageCleanup, next)
			}
			assert.NotEqual(t, StagePrimaryOperationalNetworkFailed, next, "never dispatched")
		}
	}
}

func TestNextStageOptionalSkips(t *testing.T) {
	tests := []struct {
		name     string
		stage    Stage
		setDev   func(*DeviceCapabilities)
		setParam func(*Parameters)
		setIn    func(*transitionInput)
	}{
		{
			name:   "UTC",
			stage:  StageConfigureUTCTime,
			setDev: func(c *DeviceCapabilities) { c.RequiresUTC = true },
		},
		{
			name:     "TimeZone",
			stage:    StageConfigureTimeZone,
			setDev:   func(c *DeviceCapabilities) { c.RequiresTimeZone = true },
			setParam: func(p *Parameters) { p.SetTimeZones([]TimeZone{{Offset: 3600}}) },
		},
		{
			name:     "DSTOffset",
			stage:    StageConfigureDSTOffset,
			setIn:    func(in *transitionInput) { in.dstNeeded = true },
			setParam: func(p *Parameters) { p.SetDSTOffsets([]DSTOffset{{Offset: 3600}}) },
		},
		{
			name:     "DefaultNTP",
			stage:    StageConfigureDefaultNTP,
			setDev:   func(c *DeviceCapabilities) { c.RequiresDefaultNTP = true },
			setParam: func(p *Parameters) { p.SetDefaultNTP("time.example.org") },
		},
		{
			name:     "TrustedTimeSource",
			stage:    StageConfigureTrustedTimeSource,
			setDev:   func(c *DeviceCapabilities) { c.RequiresTrustedTimeSource = true },
			setParam: func(p *Parameters) { p.SetTrustedTimeSource(TrustedTimeSource{NodeID: 1}) },
		},
	}

	// walk runs the transition function from SecurePairing with every step
	// succeeding and returns the visited stages.
	walk := func(in *transitionInput) []Stage {
		var visited []Stage
		stage := StageSecurePairing
		for i := 0; i < 64 && stage != StageCleanup; i++ {
			next, _, err := nextStage(stage, nil, in)
			require.NoError(t, err)
			visited = append(visited, next)
			stage = next
		}
		return visited
	}
	count := func(stages []Stage, s Stage) int {
		n := 0
		for _, v := range stages {
			if v == s {
				n++
			}
		}
		return n
	}

	for _, tt := range tests {
		for _, device := range []bool{false, true} {
			for _, supplied := range []bool{false, true} {
				caps := &DeviceCapabilities{}
				params := &Parameters{}
				in := &transitionInput{caps: caps, params: params}
				if device {
					if tt.setDev != nil {
						tt.setDev(caps)
					}
					if tt.setIn != nil {
						tt.setIn(in)
					}
				}
				if supplied && tt.setParam != nil {
					tt.setParam(params)
				}

				want := 0
				if device && (supplied || tt.setParam == nil) {
					want = 1
				}
				got := count(walk(in), tt.stage)
				assert.Equal(t, want, got, "%s device=%t supplied=%t", tt.name, device, supplied)
			}
		}
	}
}

func TestNextStageNetworkSelection(t *testing.T) {
	withBoth := func() *Parameters {
		p := &Parameters{}
		p.SetWiFiCredentials(WiFiCredentials{SSID: []byte("a")})
		p.SetThreadOperationalDataset([]byte{1})
		return p
	}
	withICD := func() *Parameters {
		p := withBoth()
		p.SetICDCheckInNodeID(1)
		p.SetICDMonitoredSubject(1)
		p.SetICDSymmetricKey(make([]byte, ICDSymmetricKeySize))
		return p
	}
	dual := func(wifiEndpoint fabric.EndpointID) *DeviceCapabilities {
		return &DeviceCapabilities{
			SupportsConcurrentConnection: true,
			WiFi:                         NetworkInterface{Supported: true, Endpoint: wifiEndpoint},
			Thread:                       NetworkInterface{Supported: true, Endpoint: 1 - wifiEndpoint},
		}
	}

	tests := []struct {
		name string
		in   *transitionInput
		from Stage
		want Stage
	}{
		{
			name: "wifi on root is primary",
			in:   &transitionInput{caps: dual(0), params: withBoth(), needsNetworkSetup: true},
			from: StageSendNOC,
			want: StageWiFiNetworkSetup,
		},
		{
			name: "thread on root is primary",
			in:   &transitionInput{caps: dual(1), params: withBoth(), needsNetworkSetup: true},
			from: StageSendNOC,
			want: StageThreadNetworkSetup,
		},
		{
			name: "secondary after wifi primary failed",
			in:   &transitionInput{caps: dual(0), params: withBoth(), needsNetworkSetup: true, tryingSecondary: true},
			from: StageRemoveWiFiNetworkConfig,
			want: StageThreadNetworkSetup,
		},
		{
			name: "remove wifi when wifi was primary",
			in:   &transitionInput{caps: dual(0), params: withBoth(), tryingSecondary: true},
			from: StagePrimaryOperationalNetworkFailed,
			want: StageRemoveWiFiNetworkConfig,
		},
		{
			name: "remove thread when thread was primary",
			in:   &transitionInput{caps: dual(1), params: withBoth(), tryingSecondary: true},
			from: StagePrimaryOperationalNetworkFailed,
			want: StageRemoveThreadNetworkConfig,
		},
		{
			name: "thread only",
			in: &transitionInput{
				caps:              &DeviceCapabilities{Thread: NetworkInterface{Supported: true}},
				params:            withBoth(),
				needsNetworkSetup: true,
			},
			from: StageNeedsNetworkCreds,
			want: StageThreadNetworkSetup,
		},
		{
			name: "on network goes operational",
			in:   &transitionInput{caps: &DeviceCapabilities{}, params: &Parameters{}},
			from: StageSendNOC,
			want: StageEvictPreviousCaseSessions,
		},
		{
			name: "ICD registration info already supplied",
			in: &transitionInput{
				caps:                &DeviceCapabilities{},
				params:              withICD(),
				needICDRegistration: true,
			},
			from: StageSendNOC,
			want: StageICDRegistration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := nextStage(tt.from, nil, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextStageCASEFailsafeEffect(t *testing.T) {
	in := &transitionInput{caps: &DeviceCapabilities{}, params: &Parameters{}}

	_, fx, err := nextStage(StageSendNOC, nil, in)
	require.NoError(t, err)
	assert.True(t, fx.armCASEFailsafe)

	_, fx, err = nextStage(StageArmFailsafe, nil, in)
	require.NoError(t, err)
	assert.False(t, fx.armCASEFailsafe)
}

func TestNextStageNoCredentials(t *testing.T) {
	in := &transitionInput{
		caps:              &DeviceCapabilities{WiFi: NetworkInterface{Supported: true}},
		params:            &Parameters{},
		needsNetworkSetup: true,
	}
	next, _, err := nextStage(StageSendNOC, nil, in)
	assert.Equal(t, StageCleanup, next)
	assert.ErrorIs(t, err, ErrNetworkCredentialsMissing)
}
