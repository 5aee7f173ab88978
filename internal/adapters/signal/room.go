package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/protocol"
)

func (ctl *Controller) handleJoin(sid core.SessionID, c *wsSignalConn, data []byte) {
	var p protocol.JoinRoom
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad join payload")
		return
	}
	if p.RoomID == "" {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("join without room id")
		return
	}
	if !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("join rate limited")
		return
	}

	if err := ctl.Coord.Join(sid, p.RoomID, p.Username); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join rejected")
	}
}

func (ctl *Controller) handleGetParticipants(sid core.SessionID, c *wsSignalConn, data []byte) {
	var p protocol.GetRoomParticipants
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad participants payload")
		return
	}
	ctl.sendEvent(c, protocol.EventRoomParticipants, protocol.RoomParticipants{
		RoomID:       p.RoomID,
		Participants: ctl.Coord.Participants(p.RoomID),
	})
}

func (ctl *Controller) handleStartBroadcasting(sid core.SessionID, data []byte) {
	var p protocol.StartBroadcasting
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad broadcasting payload")
		return
	}
	ctl.Coord.StartBroadcasting(sid, p.RoomID)
}
