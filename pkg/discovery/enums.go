// Package discovery finds commissioned Matter nodes on the operational
// network using DNS-SD.
//
// The commissioning flow needs one thing from discovery: given the
// compressed fabric identifier and the node id it just assigned, find the
// address the node now advertises under _matter._tcp. Resolver performs a
// single lookup; Finder retries it with exponential backoff while the node
// joins the network.
//
// Matter Specification references:
//   - Section 4.3.2: Operational Discovery (_matter._tcp)
//   - Section 4.3.4: ICD TXT key
package discovery

const (
	// ServiceOperational is the DNS-SD service type for operational nodes.
	ServiceOperational = "_matter._tcp"

	// DefaultDomain is the default mDNS domain.
	DefaultDomain = "local."
)

// ICDMode indicates the operating mode of an Intermittently Connected Device.
// Matter Specification Section 4.3.4
type ICDMode int

// ICDMode constants.
const (
	// ICDModeSIT indicates Short Idle Time operating mode.
	ICDModeSIT ICDMode = 0

	// ICDModeLIT indicates Long Idle Time operating mode.
	ICDModeLIT ICDMode = 1
)

// String returns a human-readable string for the ICD mode.
func (i ICDMode) String() string {
	switch i {
	case ICDModeSIT:
		return "SIT"
	case ICDModeLIT:
		return "LIT"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the ICD mode is valid.
func (i ICDMode) IsValid() bool {
	return i == ICDModeSIT || i == ICDModeLIT
}
