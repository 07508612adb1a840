package commissioning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/matter-autocommissioner/pkg/capture"
	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

// DefaultCommissioningTimeout is the default timeout for the entire
// commissioning process if not specified.
const DefaultCommissioningTimeout = 5 * time.Minute

// CommissionerConfig configures the Commissioner.
type CommissionerConfig struct {
	// Executor performs the steps against the device. Required.
	Executor StepExecutor

	// CredentialsDelegate supplies CSR nonces. Optional.
	CredentialsDelegate CredentialsDelegate

	// CertificateConverter converts issued certificates before they are
	// sent. Defaults to DERCertificateConverter.
	CertificateConverter CertificateConverter

	// LoggerFactory creates the commissioner and flow loggers.
	LoggerFactory logging.LoggerFactory

	// Recorder receives stage trace events. Optional.
	Recorder capture.Recorder

	// Parameters are applied to every flow before it starts.
	Parameters Parameters

	// Callbacks for commissioning events.
	Callbacks CommissionerCallbacks

	// Timeout for overall commissioning process.
	// Defaults to DefaultCommissioningTimeout if zero.
	Timeout time.Duration
}

// CommissionerCallbacks provides event callbacks during commissioning.
//
// Callbacks run on the goroutine that called Commission and must not block.
// ProvideNetworkCredentials and ProvideICDRegistrationInfo must be called
// from another goroutine.
type CommissionerCallbacks struct {
	// OnStateChanged is called when the commissioner state changes.
	OnStateChanged func(state CommissionerState)

	// OnStageChanged is called each time a stage is dispatched.
	OnStageChanged func(stage Stage)

	// OnProgress is called with progress updates.
	// percent ranges from 0-100, message describes the current step.
	OnProgress func(percent int, message string)

	// OnNetworkCredentialsNeeded is called when the flow pauses for network
	// credentials. Answer with ProvideNetworkCredentials. If nil the flow
	// continues with whatever credentials the parameters already hold.
	OnNetworkCredentialsNeeded func()

	// OnICDRegistrationInfoNeeded is called when the flow pauses for ICD
	// registration information. Answer with ProvideICDRegistrationInfo. If
	// nil the flow continues with the parameters as they are.
	OnICDRegistrationInfoNeeded func()

	// OnCommissioningComplete is called when commissioning succeeds.
	OnCommissioningComplete func(status CompletionStatus)

	// OnError is called when commissioning fails.
	OnError func(err error, status CompletionStatus)
}

// ICDRegistrationInfo is what the application supplies when an ICD
// registration is needed.
type ICDRegistrationInfo struct {
	CheckInNodeID    fabric.NodeID
	MonitoredSubject uint64
	SymmetricKey     []byte
	ClientType       ICDClientType
	// StayActiveDurationMs of zero sends no StayActive request.
	StayActiveDurationMs uint32
}

// Commissioner runs AutoCommissioner flows to completion.
//
// Each Commission call owns one flow. Executor completions, application
// input and cancellation are funnelled through a single event loop on the
// calling goroutine so the flow itself never sees concurrent calls.
type Commissioner struct {
	config CommissionerConfig
	log    logging.LeveledLogger

	mu         sync.RWMutex
	state      CommissionerState
	flow       *AutoCommissioner
	events     *inbox
	done       chan struct{}
	cancelFunc context.CancelFunc
}

// NewCommissioner creates a new Commissioner with the given configuration.
func NewCommissioner(config CommissionerConfig) *Commissioner {
	if config.Timeout == 0 {
		config.Timeout = DefaultCommissioningTimeout
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = &logging.DefaultLoggerFactory{
			Writer:          io.Discard,
			DefaultLogLevel: logging.LogLevelDisabled,
		}
	}
	return &Commissioner{
		config: config,
		log:    config.LoggerFactory.NewLogger("commissioner"),
		state:  CommissionerStateIdle,
	}
}

// State returns the current commissioning state.
func (c *Commissioner) State() CommissionerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// setState sets the state and notifies callbacks.
func (c *Commissioner) setState(state CommissionerState) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()

	if changed && c.config.Callbacks.OnStateChanged != nil {
		c.config.Callbacks.OnStateChanged(state)
	}
}

func (c *Commissioner) active() bool {
	switch c.state {
	case CommissionerStateRunning,
		CommissionerStateAwaitingNetworkCredentials,
		CommissionerStateAwaitingICDRegistration:
		return true
	}
	return false
}

// Commission commissions the device at the other end of session, which must
// already be secured. It blocks until the flow has cleaned up and returns
// the completion status; the error is the status error.
//
// Cancelling ctx, or exceeding the configured timeout, stops the flow at the
// next step boundary.
func (c *Commissioner) Commission(ctx context.Context, session Session) (CompletionStatus, error) {
	if c.config.Executor == nil || session == nil {
		return CompletionStatus{}, ErrNilConfig
	}

	var (
		status   CompletionStatus
		finished bool
	)
	flow := NewAutoCommissioner(AutoCommissionerConfig{
		LoggerFactory:        c.config.LoggerFactory,
		CredentialsDelegate:  c.config.CredentialsDelegate,
		CertificateConverter: c.config.CertificateConverter,
		Recorder:             c.config.Recorder,
		OnCompleted: func(s CompletionStatus) {
			status = s
			finished = true
		},
	})
	if err := flow.SetParameters(c.config.Parameters); err != nil {
		return CompletionStatus{Err: err}, err
	}

	c.mu.Lock()
	if c.active() {
		c.mu.Unlock()
		return CompletionStatus{}, ErrAlreadyCommissioning
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	c.state = CommissionerStateRunning
	c.cancelFunc = cancel
	c.flow = flow
	c.events = newInbox()
	c.done = make(chan struct{})
	events, done := c.events, c.done
	c.mu.Unlock()

	if c.config.Callbacks.OnStateChanged != nil {
		c.config.Callbacks.OnStateChanged(CommissionerStateRunning)
	}

	defer func() {
		c.mu.Lock()
		c.flow = nil
		c.cancelFunc = nil
		c.mu.Unlock()
		close(done)
	}()

	c.progress(0, "Starting commissioning")

	exec := &pausingExecutor{c: c, flow: flow, inner: c.config.Executor, events: events}
	if err := flow.Start(exec, session); err != nil {
		status = CompletionStatus{Err: err, FailedStage: StageSecurePairing}
		return c.finish(status)
	}

	interrupted := ctx.Done()
	for !finished {
		select {
		case <-events.ready:
			for _, fn := range events.drain() {
				fn()
			}
		case <-interrupted:
			interrupted = nil
			c.interrupt(flow, ctx.Err())
		}
	}
	return c.finish(status)
}

func (c *Commissioner) finish(status CompletionStatus) (CompletionStatus, error) {
	if status.Err != nil {
		c.log.Warnf("commissioning %s", status)
		c.setState(CommissionerStateFailed)
		if c.config.Callbacks.OnError != nil {
			c.config.Callbacks.OnError(status.Err, status)
		}
		return status, status.Err
	}

	c.progress(100, "Commissioning complete")
	c.setState(CommissionerStateComplete)
	if c.config.Callbacks.OnCommissioningComplete != nil {
		c.config.Callbacks.OnCommissioningComplete(status)
	}
	return status, nil
}

// interrupt stops the flow after ctx ended. A paused flow is resumed so it
// can reach Cleanup.
func (c *Commissioner) interrupt(flow *AutoCommissioner, cause error) {
	err := ErrCancelled
	if errors.Is(cause, context.DeadlineExceeded) {
		err = ErrCommissioningTimeout
	}
	c.log.Warnf("stopping at %s: %v", flow.CurrentStage(), err)

	flow.StopCommissioning()
	if aerr := flow.Abort(err); aerr != nil {
		c.log.Debugf("abort: %v", aerr)
	}

	var rerr error
	switch c.State() {
	case CommissionerStateAwaitingNetworkCredentials:
		c.setState(CommissionerStateRunning)
		rerr = flow.NetworkCredentialsReady()
	case CommissionerStateAwaitingICDRegistration:
		c.setState(CommissionerStateRunning)
		rerr = flow.ICDRegistrationInfoReady()
	}
	if rerr != nil {
		c.log.Debugf("resume after stop: %v", rerr)
	}
}

// ProvideNetworkCredentials resumes a flow waiting for network credentials.
// Either argument may be nil.
func (c *Commissioner) ProvideNetworkCredentials(wifi *WiFiCredentials, threadDataset []byte) error {
	return c.resume(CommissionerStateAwaitingNetworkCredentials,
		func(p *Parameters) {
			if wifi != nil {
				p.SetWiFiCredentials(*wifi)
			}
			if threadDataset != nil {
				p.SetThreadOperationalDataset(threadDataset)
			}
		},
		(*AutoCommissioner).NetworkCredentialsReady,
	)
}

// ProvideICDRegistrationInfo resumes a flow waiting for ICD registration
// information.
func (c *Commissioner) ProvideICDRegistrationInfo(info ICDRegistrationInfo) error {
	return c.resume(CommissionerStateAwaitingICDRegistration,
		func(p *Parameters) {
			p.SetICDCheckInNodeID(info.CheckInNodeID)
			p.SetICDMonitoredSubject(info.MonitoredSubject)
			p.SetICDSymmetricKey(info.SymmetricKey)
			p.SetICDClientType(info.ClientType)
			if info.StayActiveDurationMs > 0 {
				p.SetICDStayActiveDurationMs(info.StayActiveDurationMs)
			}
		},
		(*AutoCommissioner).ICDRegistrationInfoReady,
	)
}

// resume applies update to the flow parameters and releases the pause on
// the event loop. It waits for the outcome.
func (c *Commissioner) resume(want CommissionerState, update func(*Parameters), ready func(*AutoCommissioner) error) error {
	c.mu.RLock()
	if c.state != want {
		state := c.state
		c.mu.RUnlock()
		return fmt.Errorf("%w: commissioner is %s", ErrNotWaiting, state)
	}
	flow, events, done := c.flow, c.events, c.done
	c.mu.RUnlock()

	errc := make(chan error, 1)
	events.post(func() {
		if c.State() != want {
			errc <- ErrNotWaiting
			return
		}
		p := flow.Parameters()
		update(&p)
		if err := flow.SetParameters(p); err != nil {
			errc <- err
			return
		}
		c.setState(CommissionerStateRunning)
		errc <- ready(flow)
	})

	select {
	case err := <-errc:
		return err
	case <-done:
		return ErrNotCommissioning
	}
}

// Cancel cancels an in-progress commissioning operation.
func (c *Commissioner) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active() {
		return ErrNotCommissioning
	}

	if c.cancelFunc != nil {
		c.cancelFunc()
	}

	return nil
}

// progress reports progress to callbacks.
func (c *Commissioner) progress(percent int, message string) {
	if c.config.Callbacks.OnProgress != nil {
		c.config.Callbacks.OnProgress(percent, message)
	}
}

func (c *Commissioner) stageDispatched(stage Stage) {
	if c.config.Callbacks.OnStageChanged != nil {
		c.config.Callbacks.OnStageChanged(stage)
	}
	if p, ok := stageProgress[stage]; ok {
		c.progress(p.percent, p.message)
	}
}

var stageProgress = map[Stage]struct {
	percent int
	message string
}{
	StageReadCommissioningInfo:                   {5, "Reading commissioning info..."},
	StageArmFailsafe:                             {10, "Arming fail-safe timer..."},
	StageConfigRegulatory:                        {15, "Configuring regulatory location..."},
	StageConfigureUTCTime:                        {20, "Configuring time..."},
	StageSendPAICertificateRequest:               {25, "Requesting attestation certificates..."},
	StageSendAttestationRequest:                  {30, "Requesting device attestation..."},
	StageAttestationVerification:                 {35, "Verifying device attestation..."},
	StageSendOpCertSigningRequest:                {45, "Requesting CSR..."},
	StageGenerateNOCChain:                        {50, "Generating operational credentials..."},
	StageSendNOC:                                 {55, "Installing operational credentials..."},
	StageICDRegistration:                         {60, "Registering ICD client..."},
	StageWiFiNetworkSetup:                        {65, "Configuring operational network..."},
	StageThreadNetworkSetup:                      {65, "Configuring operational network..."},
	StageWiFiNetworkEnable:                       {70, "Connecting to operational network..."},
	StageThreadNetworkEnable:                     {70, "Connecting to operational network..."},
	StageFindOperationalForStayActive:            {80, "Discovering on operational network..."},
	StageFindOperationalForCommissioningComplete: {85, "Establishing CASE session..."},
	StageSendComplete:                            {95, "Completing commissioning..."},
}

// pausingExecutor sits between the flow and the configured executor. It
// turns the NeedsNetworkCreds and ICDGetRegistrationInfo stages into
// application pauses and routes completions through the event loop.
type pausingExecutor struct {
	c      *Commissioner
	flow   *AutoCommissioner
	inner  StepExecutor
	events *inbox
}

func (p *pausingExecutor) PerformStep(_ StepDelegate, step Step) {
	c := p.c
	c.stageDispatched(step.Stage)

	switch step.Stage {
	case StageNeedsNetworkCreds:
		if c.config.Callbacks.OnNetworkCredentialsNeeded == nil {
			if st, ok := p.flow.pendingNetworkFailure(); ok {
				// Nobody can supply different credentials; retrying would
				// repeat the same failure.
				p.events.post(func() { p.giveUp(st) })
				return
			}
			p.events.post(func() { p.finished(p.flow.NetworkCredentialsReady()) })
			return
		}
		c.setState(CommissionerStateAwaitingNetworkCredentials)
		c.config.Callbacks.OnNetworkCredentialsNeeded()
		return
	case StageICDGetRegistrationInfo:
		if c.config.Callbacks.OnICDRegistrationInfoNeeded == nil {
			p.events.post(func() { p.finished(p.flow.ICDRegistrationInfoReady()) })
			return
		}
		c.setState(CommissionerStateAwaitingICDRegistration)
		c.config.Callbacks.OnICDRegistrationInfoNeeded()
		return
	}

	p.inner.PerformStep(loopDelegate{p}, step)
}

// ExtendFailsafe forwards to the configured executor when it can extend the
// fail-safe.
func (p *pausingExecutor) ExtendFailsafe(session Session, seconds uint16, timeout time.Duration) {
	if ext, ok := p.inner.(FailsafeExtender); ok {
		ext.ExtendFailsafe(session, seconds, timeout)
	}
}

// giveUp fails a flow paused for credentials after the network rejected the
// ones it had.
func (p *pausingExecutor) giveUp(st CompletionStatus) {
	p.c.log.Errorf("%s failed and no network credentials callback is set: %v", st.FailedStage, st.Err)
	p.flow.StopCommissioning()
	if err := p.flow.Abort(st.Err); err != nil {
		p.c.log.Debugf("abort: %v", err)
	}
	p.finished(p.flow.NetworkCredentialsReady())
}

// finished aborts the flow when it rejected a completion.
func (p *pausingExecutor) finished(err error) {
	if err == nil {
		return
	}
	p.c.log.Errorf("step completion rejected: %v", err)
	if aerr := p.flow.Abort(err); aerr != nil && !errors.Is(aerr, ErrNotCommissioning) {
		p.c.log.Errorf("abort: %v", aerr)
	}
}

// loopDelegate posts executor completions onto the event loop.
type loopDelegate struct {
	p *pausingExecutor
}

func (d loopDelegate) StepFinished(err error, report StepReport) error {
	d.p.events.post(func() {
		d.p.finished(d.p.flow.StepFinished(err, report))
	})
	return nil
}

// inbox is an unbounded queue drained by the event loop.
type inbox struct {
	mu    sync.Mutex
	queue []func()
	ready chan struct{}
}

func newInbox() *inbox {
	return &inbox{ready: make(chan struct{}, 1)}
}

func (q *inbox) post(fn func()) {
	q.mu.Lock()
	q.queue = append(q.queue, fn)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *inbox) drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	fns := q.queue
	q.queue = nil
	return fns
}

var (
	_ StepExecutor     = (*pausingExecutor)(nil)
	_ FailsafeExtender = (*pausingExecutor)(nil)
	_ StepDelegate     = loopDelegate{}
)
