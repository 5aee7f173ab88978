package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/protocol"
)

func (ctl *Controller) handleSendMessage(sid core.SessionID, data []byte) {
	var p protocol.SendMessage
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad send-message payload")
		return
	}
	ctl.Coord.SendMessage(p.RoomID, p.Message)
}

func (ctl *Controller) handleShareFile(sid core.SessionID, data []byte) {
	var p protocol.ShareFile
	if err := json.Unmarshal(data, &p); err != nil || p.File.ID == "" {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad share-file payload")
		return
	}
	ctl.Coord.ShareFile(sid, p.RoomID, p.File)
}
