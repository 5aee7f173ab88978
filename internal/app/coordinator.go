package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/dkeye/Collab/internal/protocol"
)

// Coordinator reacts to connection events and drives the room state stores.
// All mutations go through here; per-room serialization is provided by the
// rooms themselves, so distinct rooms proceed concurrently.
type Coordinator struct {
	Registry *Registry
	Rooms    *RoomManager
}

func NewCoordinator() *Coordinator {
	return &Coordinator{
		Registry: NewRegistry(),
		Rooms:    NewRoomManager(),
	}
}

// Join puts the connection into the room, creating the room (with an empty
// snapshot) if absent. The updated member list goes to every room member
// including the joiner; the joiner alone receives the current snapshot and a
// replay of previously shared files.
func (c *Coordinator) Join(sid core.SessionID, roomID domain.RoomID, username string) error {
	conn, ok := c.Registry.Conn(sid)
	if !ok {
		return nil
	}
	member, err := domain.NewMember(domain.MemberID(sid), username)
	if err != nil {
		return err
	}
	c.Registry.SetMember(sid, member)

	room := c.Rooms.GetOrCreate(roomID)
	room.Join(sid, core.NewMemberSession(member, conn))
	log.Info().Str("module", "app.coordinator").Str("sid", string(sid)).Str("room", string(roomID)).Str("username", username).Msg("joined room")
	return nil
}

// Disconnect removes the member from every room that holds it, collecting
// emptied rooms for deletion so no orphaned state survives. Safe to call for
// unknown members and safe to call twice.
func (c *Coordinator) Disconnect(sid core.SessionID) {
	for _, room := range c.Rooms.All() {
		existed, empty := room.Leave(sid)
		if !existed {
			continue
		}
		if empty {
			c.Rooms.Remove(room.ID())
			log.Info().Str("module", "app.coordinator").Str("room", string(room.ID())).Msg("room emptied, removed")
		}
	}
	c.Registry.Unbind(sid)
}

// UpdateFileSystem replaces the room snapshot wholesale and re-broadcasts it
// to every other member. A missing room is a silent no-op: file updates never
// resurrect a room.
func (c *Coordinator) UpdateFileSystem(sid core.SessionID, roomID domain.RoomID, files []*domain.Node) {
	room, ok := c.Rooms.Get(roomID)
	if !ok {
		return
	}
	room.ReplaceFiles(sid, files)
}

func (c *Coordinator) FileCreate(roomID domain.RoomID, parentID string, node *domain.Node) {
	if room, ok := c.Rooms.Get(roomID); ok {
		room.CreateNode(parentID, node)
	}
}

func (c *Coordinator) FileDelete(roomID domain.RoomID, fileID string) {
	if room, ok := c.Rooms.Get(roomID); ok {
		room.DeleteNode(fileID)
	}
}

func (c *Coordinator) FileRename(roomID domain.RoomID, fileID, newName string) {
	if room, ok := c.Rooms.Get(roomID); ok {
		room.RenameNode(fileID, newName)
	}
}

func (c *Coordinator) FileUpdateContent(roomID domain.RoomID, fileID, content string) {
	if room, ok := c.Rooms.Get(roomID); ok {
		room.UpdateContent(fileID, content)
	}
}

// StartBroadcasting flags the member as accepting calls and notifies the rest
// of the room.
func (c *Coordinator) StartBroadcasting(sid core.SessionID, roomID domain.RoomID) {
	room, ok := c.Rooms.Get(roomID)
	if !ok {
		return
	}
	if room.SetBroadcasting(sid) {
		log.Info().Str("module", "app.coordinator").Str("sid", string(sid)).Str("room", string(roomID)).Msg("started broadcasting")
	}
}

// Participants enumerates current member identifiers, the synchronous query a
// member issues before calling everyone already present.
func (c *Coordinator) Participants(roomID domain.RoomID) []domain.MemberID {
	room, ok := c.Rooms.Get(roomID)
	if !ok {
		return []domain.MemberID{}
	}
	return room.Participants()
}

// Relay forwards an offer, answer or ICE candidate verbatim to the target
// member, tagged with the sender. Delivery is at-most-once: a missing room or
// absent target silently drops the message.
func (c *Coordinator) Relay(event string, sig protocol.Signal) {
	room, ok := c.Rooms.Get(sig.RoomID)
	if !ok {
		return
	}
	frame, err := protocol.Encode(event, sig)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Str("event", event).Msg("encode signal")
		return
	}
	if !room.SendTo(sig.TargetID, frame) {
		log.Debug().Str("module", "app.coordinator").Str("event", event).Str("target", string(sig.TargetID)).Msg("relay target gone, dropped")
	}
}

// SendMessage broadcasts a chat payload to the whole room, sender included.
func (c *Coordinator) SendMessage(roomID domain.RoomID, message json.RawMessage) {
	if room, ok := c.Rooms.Get(roomID); ok {
		room.Chat(message)
	}
}

// ShareFile stores an ad-hoc file and forwards it to the other members.
func (c *Coordinator) ShareFile(sid core.SessionID, roomID domain.RoomID, file protocol.SharedFile) {
	if room, ok := c.Rooms.Get(roomID); ok {
		room.ShareFile(sid, file)
	}
}
