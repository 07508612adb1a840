package capture

import "time"

// Event is one entry of a commissioning trace.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`

	// FlowID identifies the commissioning attempt (UUID).
	FlowID string `cbor:"2,keyasint"`

	Kind Kind `cbor:"3,keyasint"`

	// Stage is the stage name.
	Stage string `cbor:"4,keyasint,omitempty"`

	// Timeout is the command timeout handed to the executor.
	Timeout time.Duration `cbor:"5,keyasint,omitempty"`

	// Err is the error text of a failed step or flow.
	Err string `cbor:"6,keyasint,omitempty"`

	// Detail carries a stage-specific classification, e.g. an attestation result.
	Detail string `cbor:"7,keyasint,omitempty"`

	// Absorbed is set on Finish events whose error the flow recovered from.
	Absorbed bool `cbor:"8,keyasint,omitempty"`
}

// Kind classifies an Event.
type Kind uint8

const (
	KindDispatch Kind = 1
	KindFinish   Kind = 2
	KindComplete Kind = 3
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDispatch:
		return "DISPATCH"
	case KindFinish:
		return "FINISH"
	case KindComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}
