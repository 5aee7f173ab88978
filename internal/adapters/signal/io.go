package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/protocol"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Info().Err(err).Str("module", "signal").Msg("writePump ping failed")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sid core.SessionID, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Coord.Disconnect(sid)
		ctl.Limiter.Forget(sid)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.dispatch(sid, c, data)
		}
	}
}

// dispatch routes one inbound envelope. Malformed or unknown messages are
// logged and ignored; nothing arriving here may take the process down.
func (ctl *Controller) dispatch(sid core.SessionID, c *wsSignalConn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad envelope")
		return
	}

	switch env.Event {
	case protocol.EventJoinRoom:
		ctl.handleJoin(sid, c, env.Data)
	case protocol.EventGetRoomParticipants:
		ctl.handleGetParticipants(sid, c, env.Data)
	case protocol.EventFSUpdate:
		ctl.handleFSUpdate(sid, env.Data)
	case protocol.EventFileCreate:
		ctl.handleFileCreate(sid, env.Data)
	case protocol.EventFileDelete:
		ctl.handleFileDelete(sid, env.Data)
	case protocol.EventFileRename:
		ctl.handleFileRename(sid, env.Data)
	case protocol.EventFileUpdateContent:
		ctl.handleFileUpdateContent(sid, env.Data)
	case protocol.EventStartBroadcasting:
		ctl.handleStartBroadcasting(sid, env.Data)
	case protocol.EventVideoOffer:
		ctl.handleSignalRelay(sid, protocol.EventVideoOffer, env.Data)
	case protocol.EventVideoAnswer:
		ctl.handleSignalRelay(sid, protocol.EventVideoAnswer, env.Data)
	case protocol.EventICECandidate:
		ctl.handleSignalRelay(sid, protocol.EventICECandidate, env.Data)
	case protocol.EventSendMessage:
		ctl.handleSendMessage(sid, env.Data)
	case protocol.EventShareFile:
		ctl.handleShareFile(sid, env.Data)
	default:
		log.Warn().Str("module", "signal").Str("event", env.Event).Msg("unknown event")
	}
}

func (ctl *Controller) sendEvent(c *wsSignalConn, event string, data any) {
	b, err := protocol.Encode(event, data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", event).Msg("encode event")
		return
	}
	_ = c.TrySend(b)
}
