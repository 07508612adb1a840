package simdevice

import (
	"time"

	"github.com/backkem/matter-autocommissioner/pkg/commissioning"
	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

// Session is a simulated secure session. PASE sessions have no peer node
// id; CASE sessions carry the operational node id.
type Session struct {
	transport commissioning.TransportType
	rtt       time.Duration
	peer      fabric.NodeID
	secure    bool
}

func (s *Session) SecureSessionEstablished() bool { return s.secure }

func (s *Session) TransportType() commissioning.TransportType { return s.transport }

func (s *Session) RoundTripEstimate() time.Duration { return s.rtt }

func (s *Session) PeerNodeID() fabric.NodeID { return s.peer }

// IsOperational reports whether the session was established over CASE.
func (s *Session) IsOperational() bool { return s.peer != fabric.NodeIDUnspecified }

var _ commissioning.Session = (*Session)(nil)
