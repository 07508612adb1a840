package discovery

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TXT record keys of _matter._tcp (Matter Specification Section 4.3.2.5).
const (
	// TXTKeyIdleInterval is the sleepy idle interval key (milliseconds).
	TXTKeyIdleInterval = "SII"

	// TXTKeyActiveInterval is the sleepy active interval key (milliseconds).
	TXTKeyActiveInterval = "SAI"

	// TXTKeyTCPSupported indicates TCP support.
	TXTKeyTCPSupported = "T"

	// TXTKeyICDMode is the ICD operating mode key.
	TXTKeyICDMode = "ICD"
)

// Session parameter defaults used when a node does not advertise its own.
// Matter Specification Section 4.12.8
const (
	DefaultIdleInterval   = 500 * time.Millisecond
	DefaultActiveInterval = 300 * time.Millisecond
)

// OperationalTXT holds TXT records for _matter._tcp (Matter 4.3.2.5).
type OperationalTXT struct {
	// IdleInterval is the SESSION_IDLE_INTERVAL (optional).
	IdleInterval time.Duration

	// ActiveInterval is the SESSION_ACTIVE_INTERVAL (optional).
	ActiveInterval time.Duration

	// TCPSupported indicates whether the node supports TCP (optional).
	TCPSupported bool

	// ICDMode is the ICD operating mode (optional).
	ICDMode ICDMode
	ICDSet  bool // Whether ICD was explicitly set
}

// Encode converts the TXT record to DNS-SD format strings.
func (o *OperationalTXT) Encode() []string {
	var txt []string
	if o.IdleInterval > 0 {
		txt = append(txt, fmt.Sprintf("%s=%d", TXTKeyIdleInterval, o.IdleInterval.Milliseconds()))
	}
	if o.ActiveInterval > 0 {
		txt = append(txt, fmt.Sprintf("%s=%d", TXTKeyActiveInterval, o.ActiveInterval.Milliseconds()))
	}
	if o.TCPSupported {
		txt = append(txt, TXTKeyTCPSupported+"=1")
	}
	if o.ICDSet {
		txt = append(txt, fmt.Sprintf("%s=%d", TXTKeyICDMode, o.ICDMode))
	}
	return txt
}

// RetransmitInterval is the interval a peer should wait before the first
// retransmission to this node: the active interval if advertised, otherwise
// the default.
func (o *OperationalTXT) RetransmitInterval() time.Duration {
	if o.ActiveInterval > 0 {
		return o.ActiveInterval
	}
	return DefaultActiveInterval
}

// ParseTXT parses raw TXT record strings into a map. Records without '='
// are ignored.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string, len(records))
	for _, record := range records {
		if key, value, ok := strings.Cut(record, "="); ok && key != "" {
			result[key] = value
		}
	}
	return result
}

// ParseOperationalTXT parses raw TXT records into OperationalTXT.
func ParseOperationalTXT(records []string) (*OperationalTXT, error) {
	m := ParseTXT(records)
	txt := &OperationalTXT{}

	millis := func(key string, dst *time.Duration) error {
		v, ok := m[key]
		if !ok {
			return nil
		}
		ms, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, key, v)
		}
		*dst = time.Duration(ms) * time.Millisecond
		return nil
	}
	if err := millis(TXTKeyIdleInterval, &txt.IdleInterval); err != nil {
		return nil, err
	}
	if err := millis(TXTKeyActiveInterval, &txt.ActiveInterval); err != nil {
		return nil, err
	}

	if v, ok := m[TXTKeyTCPSupported]; ok {
		txt.TCPSupported = v == "1"
	}

	if v, ok := m[TXTKeyICDMode]; ok {
		icd, err := strconv.ParseInt(v, 10, 8)
		if err != nil || !ICDMode(icd).IsValid() {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyICDMode, v)
		}
		txt.ICDMode = ICDMode(icd)
		txt.ICDSet = true
	}

	return txt, nil
}
