package call

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Collab/internal/domain"
)

// State tracks where one peer's negotiation stands.
type State int

const (
	StateIdle State = iota
	StateOfferSent
	StateAnswerSent
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer-sent"
	case StateAnswerSent:
		return "answer-sent"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session is one entry of the full mesh: the connection to a single remote
// peer. The local stream is shared across sessions and only referenced here;
// remote tracks belong to the session alone.
type session struct {
	peer  domain.MemberID
	pc    *webrtc.PeerConnection
	state State

	// remoteSet gates candidate application: candidates arriving before the
	// remote description are buffered in pending and replayed, never dropped.
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	mediaHeld bool
}
