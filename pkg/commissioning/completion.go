package commissioning

import (
	"fmt"
	"strings"
)

// CompletionStatus is the terminal outcome of a flow.
//
// Err is nil on success. On failure FailedStage names the stage that first
// failed and at most one of the classification fields is set.
type CompletionStatus struct {
	Err         error
	FailedStage Stage

	AttestationResult  *AttestationVerificationResult
	CommissioningError *CommissioningError
	NetworkStatus      *NetworkCommissioningStatus
}

// Succeeded reports whether the flow completed without error.
func (s CompletionStatus) Succeeded() bool {
	return s.Err == nil
}

func (s CompletionStatus) String() string {
	if s.Err == nil {
		return "success"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "failed at %s: %v", s.FailedStage, s.Err)
	switch {
	case s.AttestationResult != nil:
		fmt.Fprintf(&b, " (attestation %s)", *s.AttestationResult)
	case s.CommissioningError != nil:
		fmt.Fprintf(&b, " (commissioning error %s)", *s.CommissioningError)
	case s.NetworkStatus != nil:
		fmt.Fprintf(&b, " (network status %s)", *s.NetworkStatus)
	}
	return b.String()
}

// classifyFailure builds the status for a failed step from its report payload.
func classifyFailure(err error, report StepReport) CompletionStatus {
	st := CompletionStatus{Err: err, FailedStage: report.Stage}
	switch p := report.Payload.(type) {
	case AttestationErrorInfo:
		r := p.Result
		st.AttestationResult = &r
	case CommissioningErrorInfo:
		c := p.Code
		st.CommissioningError = &c
	case NetworkCommissioningStatusInfo:
		n := p.Status
		st.NetworkStatus = &n
	}
	return st
}
