package core

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Collab/internal/domain"
	"github.com/dkeye/Collab/internal/protocol"
)

// Room is a threadsafe in-memory room: membership, the shared file-tree
// snapshot and the ad-hoc shared-file list all live under one mutex, so every
// broadcast reflects the exact post-mutation state. It never closes
// adapter-owned resources.
type Room struct {
	id domain.RoomID

	mu     sync.Mutex
	bySID  map[SessionID]MemberSession
	byID   map[domain.MemberID]SessionID
	order  []SessionID
	files  []*domain.Node
	shared []protocol.SharedFile
}

func NewRoom(id domain.RoomID) *Room {
	return &Room{
		id:    id,
		bySID: make(map[SessionID]MemberSession),
		byID:  make(map[domain.MemberID]SessionID),
		files: []*domain.Node{},
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySID)
}

// Members returns a read-only view of the current membership.
func (r *Room) Members() []protocol.UserInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membersLocked()
}

// Participants returns member identifiers in join order.
func (r *Room) Participants() []domain.MemberID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.MemberID, 0, len(r.order))
	for _, sid := range r.order {
		out = append(out, r.bySID[sid].Meta().ID)
	}
	return out
}

// Files returns the current snapshot. Callers must not mutate it.
func (r *Room) Files() []*domain.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.files
}

// Join adds the member and broadcasts the updated member list to everyone
// including the joiner. The joiner alone also receives the current
// file-system snapshot and a replay of previously shared files, queued while
// the mutex is still held: a concurrent snapshot update cannot slip in front
// of the bootstrap frames.
func (r *Room) Join(sid SessionID, ms MemberSession) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bySID[sid]; !ok {
		r.order = append(r.order, sid)
	}
	r.bySID[sid] = ms
	r.byID[ms.Meta().ID] = sid
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Str("username", ms.Meta().Username).Msg("member joined")

	r.fanoutLocked("", r.encode(protocol.EventUsersUpdate, protocol.UsersUpdate{Users: r.membersLocked()}))

	conn := ms.Signal()
	if err := conn.TrySend(r.encode(protocol.EventInitialFileSystem, protocol.InitialFileSystem{Files: r.files})); err != nil {
		log.Warn().Err(err).Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Msg("send initial snapshot")
	}
	for _, f := range r.shared {
		_ = conn.TrySend(r.encode(protocol.EventFileShared, protocol.FileShared{File: f}))
	}
}

// Leave removes the member and, unless the room became empty, broadcasts the
// updated member list plus a user-disconnected notice to the remaining
// members. Removing an unknown member is a no-op.
func (r *Room) Leave(sid SessionID) (existed, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ms, ok := r.bySID[sid]
	if !ok {
		return false, false
	}
	delete(r.bySID, sid)
	delete(r.byID, ms.Meta().ID)
	for i, s := range r.order {
		if s == sid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Msg("member left")

	if len(r.bySID) == 0 {
		return true, true
	}
	r.fanoutLocked("", r.encode(protocol.EventUsersUpdate, protocol.UsersUpdate{Users: r.membersLocked()}))
	r.fanoutLocked("", r.encode(protocol.EventUserDisconnected, protocol.UserDisconnected{UserID: ms.Meta().ID}))
	return true, false
}

// SetBroadcasting flags the member and notifies the rest of the room, so
// peers not yet connected to it can initiate a call.
func (r *Room) SetBroadcasting(sid SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ms, ok := r.bySID[sid]
	if !ok {
		return false
	}
	ms.Meta().Broadcasting = true
	r.fanoutLocked(sid, r.encode(protocol.EventUserBroadcasting, protocol.UserBroadcasting{RoomID: r.id, UserID: ms.Meta().ID}))
	return true
}

// ReplaceFiles swaps the snapshot wholesale and re-broadcasts it to every
// member except the sender. Last write wins; no conflict resolution.
func (r *Room) ReplaceFiles(from SessionID, files []*domain.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if files == nil {
		files = []*domain.Node{}
	}
	r.files = files
	r.fanoutLocked(from, r.encode(protocol.EventFSUpdate, protocol.FSUpdate{Files: r.files}))
}

// CreateNode inserts a node under parentID (root when empty) and broadcasts
// the resulting snapshot to all members. Unknown parents are a no-op.
func (r *Room) CreateNode(parentID string, node *domain.Node) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	files, ok := domain.InsertNode(r.files, parentID, node)
	if !ok {
		return false
	}
	r.files = files
	r.fanoutLocked("", r.encode(protocol.EventFSUpdate, protocol.FSUpdate{Files: r.files}))
	return true
}

// DeleteNode removes the node and its descendants and broadcasts the
// resulting snapshot to all members.
func (r *Room) DeleteNode(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	files, ok := domain.DeleteNode(r.files, id)
	if !ok {
		return false
	}
	r.files = files
	r.fanoutLocked("", r.encode(protocol.EventFSUpdate, protocol.FSUpdate{Files: r.files}))
	return true
}

// RenameNode changes a node's name only and broadcasts the snapshot.
func (r *Room) RenameNode(id, newName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !domain.RenameNode(r.files, id, newName) {
		return false
	}
	r.fanoutLocked("", r.encode(protocol.EventFSUpdate, protocol.FSUpdate{Files: r.files}))
	return true
}

// UpdateContent patches a file node in place and broadcasts only the delta.
func (r *Room) UpdateContent(id, content string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !domain.SetNodeContent(r.files, id, content) {
		return false
	}
	r.fanoutLocked("", r.encode(protocol.EventFileContentUpdated, protocol.FileContentUpdated{FileID: id, Content: content}))
	return true
}

// ShareFile stores an ad-hoc file (deduped by id) and forwards it to every
// member except the sender. Stored files are replayed to late joiners.
func (r *Room) ShareFile(from SessionID, file protocol.SharedFile) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.shared {
		if f.ID == file.ID {
			return false
		}
	}
	r.shared = append(r.shared, file)
	r.fanoutLocked(from, r.encode(protocol.EventFileShared, protocol.FileShared{File: file}))
	return true
}

// Chat broadcasts an opaque chat payload to all members, sender included.
func (r *Room) Chat(message json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fanoutLocked("", r.encode(protocol.EventChatMessage, protocol.ChatMessage{Message: message}))
}

// SendTo delivers a frame to a single member. Returns false when the target
// is not connected; the frame is then dropped, per the relay contract.
func (r *Room) SendTo(target domain.MemberID, frame Frame) bool {
	r.mu.Lock()
	sid, ok := r.byID[target]
	var ms MemberSession
	if ok {
		ms, ok = r.bySID[sid]
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	if err := ms.Signal().TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "core.room").Str("room", string(r.id)).Str("target", string(target)).Msg("send to member failed")
		return false
	}
	return true
}

func (r *Room) membersLocked() []protocol.UserInfo {
	out := make([]protocol.UserInfo, 0, len(r.order))
	for _, sid := range r.order {
		m := r.bySID[sid].Meta()
		out = append(out, protocol.UserInfo{ID: m.ID, Username: m.Username})
	}
	return out
}

// fanoutLocked delivers a frame to every member except exclude. Callers hold
// r.mu. Sends are non-blocking; slow consumers drop frames.
func (r *Room) fanoutLocked(exclude SessionID, frame Frame) {
	if frame == nil {
		return
	}
	sent, dropped := 0, 0
	for sid, ms := range r.bySID {
		if sid == exclude {
			continue
		}
		if err := ms.Signal().TrySend(frame); err != nil {
			dropped++
			continue
		}
		sent++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Int("sent_to", sent).Int("dropped", dropped).Msg("broadcast result")
}

func (r *Room) encode(event string, data any) Frame {
	b, err := protocol.Encode(event, data)
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Str("event", event).Msg("encode event")
		return nil
	}
	return b
}
