package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/protocol"
)

func (ctl *Controller) handleFSUpdate(sid core.SessionID, data []byte) {
	var p protocol.FSUpdate
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad fs-update payload")
		return
	}
	ctl.Coord.UpdateFileSystem(sid, p.RoomID, p.Files)
}

func (ctl *Controller) handleFileCreate(sid core.SessionID, data []byte) {
	var p protocol.FileCreate
	if err := json.Unmarshal(data, &p); err != nil || p.File == nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad file-create payload")
		return
	}
	ctl.Coord.FileCreate(p.RoomID, p.ParentID, p.File)
}

func (ctl *Controller) handleFileDelete(sid core.SessionID, data []byte) {
	var p protocol.FileDelete
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad file-delete payload")
		return
	}
	ctl.Coord.FileDelete(p.RoomID, p.FileID)
}

func (ctl *Controller) handleFileRename(sid core.SessionID, data []byte) {
	var p protocol.FileRename
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad file-rename payload")
		return
	}
	ctl.Coord.FileRename(p.RoomID, p.FileID, p.NewName)
}

func (ctl *Controller) handleFileUpdateContent(sid core.SessionID, data []byte) {
	var p protocol.FileUpdateContent
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad file-update-content payload")
		return
	}
	ctl.Coord.FileUpdateContent(p.RoomID, p.FileID, p.Content)
}
