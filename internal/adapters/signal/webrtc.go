package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/dkeye/Collab/internal/protocol"
)

// handleSignalRelay forwards offer/answer/candidate payloads 1:1. The sender
// field is overwritten from the authenticated connection, so a member cannot
// impersonate another; the SDP or candidate body is never inspected.
func (ctl *Controller) handleSignalRelay(sid core.SessionID, event string, data []byte) {
	var p protocol.Signal
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("event", event).Msg("bad signal payload")
		return
	}
	if p.TargetID == "" {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("event", event).Msg("signal without target")
		return
	}
	p.SenderID = domain.MemberID(sid)
	ctl.Coord.Relay(event, p)
}
