// Package protocol defines the websocket wire format shared by the
// coordination server and the Go client: a small JSON envelope plus typed
// payloads for every event.
package protocol

import (
	"encoding/json"

	"github.com/dkeye/Collab/internal/domain"
)

// Event name constants.
const (
	// room lifecycle
	EventJoinRoom         = "join-room"
	EventUsersUpdate      = "users-update"
	EventUserDisconnected = "user-disconnected"

	// file system
	EventInitialFileSystem  = "initial-file-system"
	EventFSUpdate           = "fs-update"
	EventFileCreate         = "file-create"
	EventFileDelete         = "file-delete"
	EventFileRename         = "file-rename"
	EventFileUpdateContent  = "file-update-content"
	EventFileContentUpdated = "file-content-updated"

	// call setup
	EventStartBroadcasting   = "start-broadcasting"
	EventUserBroadcasting    = "user-broadcasting"
	EventGetRoomParticipants = "get-room-participants"
	EventRoomParticipants    = "room-participants"
	EventVideoOffer          = "video-offer"
	EventVideoAnswer         = "video-answer"
	EventICECandidate        = "ice-candidate"

	// adjacent chat / ad-hoc sharing
	EventSendMessage = "send-message"
	EventChatMessage = "chat-message"
	EventShareFile   = "share-file"
	EventFileShared  = "file-shared"
)

// Envelope wraps every message on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals data into an Envelope ready to send.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

type JoinRoom struct {
	RoomID   domain.RoomID `json:"roomId"`
	Username string        `json:"username"`
}

type UserInfo struct {
	ID       domain.MemberID `json:"id"`
	Username string          `json:"username"`
}

type UsersUpdate struct {
	Users []UserInfo `json:"users"`
}

type InitialFileSystem struct {
	Files []*domain.Node `json:"files"`
}

// FSUpdate carries a wholesale snapshot replacement. RoomID is set only on
// the client-to-server leg.
type FSUpdate struct {
	RoomID domain.RoomID  `json:"roomId,omitempty"`
	Files  []*domain.Node `json:"files"`
}

type FileCreate struct {
	RoomID   domain.RoomID `json:"roomId"`
	ParentID string        `json:"parentId,omitempty"`
	File     *domain.Node  `json:"file"`
}

type FileDelete struct {
	RoomID domain.RoomID `json:"roomId"`
	FileID string        `json:"fileId"`
}

type FileRename struct {
	RoomID  domain.RoomID `json:"roomId"`
	FileID  string        `json:"fileId"`
	NewName string        `json:"newName"`
}

type FileUpdateContent struct {
	RoomID  domain.RoomID `json:"roomId"`
	FileID  string        `json:"fileId"`
	Content string        `json:"content"`
}

type FileContentUpdated struct {
	FileID  string `json:"fileId"`
	Content string `json:"content"`
}

type StartBroadcasting struct {
	RoomID domain.RoomID   `json:"roomId"`
	UserID domain.MemberID `json:"userId"`
}

type UserBroadcasting struct {
	RoomID domain.RoomID   `json:"roomId"`
	UserID domain.MemberID `json:"userId"`
}

type GetRoomParticipants struct {
	RoomID domain.RoomID `json:"roomId"`
}

type RoomParticipants struct {
	RoomID       domain.RoomID     `json:"roomId"`
	Participants []domain.MemberID `json:"participants"`
}

// Signal carries one leg of the offer/answer/ICE exchange. SDP and Candidate
// are forwarded verbatim; the relay never looks past the routing fields.
type Signal struct {
	RoomID    domain.RoomID   `json:"roomId"`
	SenderID  domain.MemberID `json:"senderId"`
	TargetID  domain.MemberID `json:"targetId"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type UserDisconnected struct {
	UserID domain.MemberID `json:"userId"`
}

// SendMessage / ChatMessage carry an opaque chat payload.
type SendMessage struct {
	RoomID  domain.RoomID   `json:"roomId"`
	Message json.RawMessage `json:"message"`
}

type ChatMessage struct {
	Message json.RawMessage `json:"message"`
}

// SharedFile is an ad-hoc file pushed to the whole room, outside the shared
// file tree. Data is an opaque payload (typically base64).
type SharedFile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Data string `json:"data,omitempty"`
}

type ShareFile struct {
	RoomID domain.RoomID `json:"roomId"`
	File   SharedFile    `json:"file"`
}

type FileShared struct {
	File SharedFile `json:"file"`
}
