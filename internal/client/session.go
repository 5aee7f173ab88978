// Package client ties the signaling connection and the call manager together
// into one room session, mirroring what the browser client does.
package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Collab/internal/client/call"
	"github.com/dkeye/Collab/internal/client/media"
	"github.com/dkeye/Collab/internal/client/signaling"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/dkeye/Collab/internal/protocol"
)

// Options configures a room session.
type Options struct {
	ServerURL   string
	STUNServers []string
	OpenMedia   media.TrackOpener
	CloseMedia  media.TrackCloser
	Calls       call.Callbacks

	// OnChat receives broadcast chat payloads, nil to ignore.
	OnChat func(json.RawMessage)
	// OnUsers receives every member-list update, nil to ignore.
	OnUsers func([]protocol.UserInfo)
}

// Session is one participant's view of a room: the member list and
// file-system snapshot kept in sync by the server, plus the call mesh.
type Session struct {
	sig   *signaling.Client
	Calls *call.Manager
	Media *media.Source

	self domain.MemberID
	opts Options

	mu    sync.Mutex
	room  domain.RoomID
	users []protocol.UserInfo
	files []*domain.Node

	done chan struct{}
}

func NewSession(opts Options) (*Session, error) {
	self := domain.MemberID(uuid.NewString())

	u, err := url.Parse(opts.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	q := u.Query()
	q.Set("token", string(self))
	u.RawQuery = q.Encode()

	src := media.NewSource(opts.OpenMedia, opts.CloseMedia)
	sig := signaling.NewClient(u.String())

	cfg := webrtc.Configuration{}
	for _, s := range opts.STUNServers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{URLs: []string{s}})
	}

	return &Session{
		sig:   sig,
		Calls: call.NewManager(cfg, sig, src, opts.Calls),
		Media: src,
		self:  self,
		opts:  opts,
		done:  make(chan struct{}),
	}, nil
}

// Self returns the local member identifier.
func (s *Session) Self() domain.MemberID { return s.self }

// Join connects, enters the room and starts the event loop.
func (s *Session) Join(roomID domain.RoomID, username string) error {
	if err := s.sig.Connect(); err != nil {
		return err
	}
	s.mu.Lock()
	s.room = roomID
	s.mu.Unlock()
	s.Calls.Bind(roomID, s.self)

	if err := s.sig.Send(protocol.EventJoinRoom, protocol.JoinRoom{RoomID: roomID, Username: username}); err != nil {
		return err
	}
	go s.loop()
	return nil
}

// loop routes inbound server events until the connection drops.
func (s *Session) loop() {
	defer close(s.done)
	for env := range s.sig.Incoming() {
		s.dispatch(env)
	}
}

func (s *Session) dispatch(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventUsersUpdate:
		var p protocol.UsersUpdate
		if json.Unmarshal(env.Data, &p) == nil {
			s.mu.Lock()
			s.users = p.Users
			s.mu.Unlock()
			if s.opts.OnUsers != nil {
				s.opts.OnUsers(p.Users)
			}
		}
	case protocol.EventInitialFileSystem:
		var p protocol.InitialFileSystem
		if json.Unmarshal(env.Data, &p) == nil {
			s.setFiles(p.Files)
		}
	case protocol.EventFSUpdate:
		var p protocol.FSUpdate
		if json.Unmarshal(env.Data, &p) == nil {
			s.setFiles(p.Files)
		}
	case protocol.EventFileContentUpdated:
		var p protocol.FileContentUpdated
		if json.Unmarshal(env.Data, &p) == nil {
			s.mu.Lock()
			domain.SetNodeContent(s.files, p.FileID, p.Content)
			s.mu.Unlock()
		}
	case protocol.EventRoomParticipants:
		var p protocol.RoomParticipants
		if json.Unmarshal(env.Data, &p) == nil {
			s.Calls.CallParticipants(p.Participants)
		}
	case protocol.EventUserBroadcasting:
		var p protocol.UserBroadcasting
		if json.Unmarshal(env.Data, &p) == nil {
			s.Calls.HandleUserBroadcasting(p.UserID)
		}
	case protocol.EventVideoOffer:
		var p protocol.Signal
		if json.Unmarshal(env.Data, &p) == nil {
			if err := s.Calls.HandleOffer(p); err != nil {
				log.Error().Err(err).Str("module", "client").Str("peer", string(p.SenderID)).Msg("handle offer")
			}
		}
	case protocol.EventVideoAnswer:
		var p protocol.Signal
		if json.Unmarshal(env.Data, &p) == nil {
			s.Calls.HandleAnswer(p)
		}
	case protocol.EventICECandidate:
		var p protocol.Signal
		if json.Unmarshal(env.Data, &p) == nil {
			s.Calls.HandleCandidate(p)
		}
	case protocol.EventUserDisconnected:
		var p protocol.UserDisconnected
		if json.Unmarshal(env.Data, &p) == nil {
			s.Calls.HandleUserDisconnected(p.UserID)
		}
	case protocol.EventChatMessage:
		var p protocol.ChatMessage
		if json.Unmarshal(env.Data, &p) == nil && s.opts.OnChat != nil {
			s.opts.OnChat(p.Message)
		}
	case protocol.EventFileShared:
		// Ad-hoc shares are surfaced like chat for now.
		if s.opts.OnChat != nil {
			s.opts.OnChat(env.Data)
		}
	default:
		log.Debug().Str("module", "client").Str("event", env.Event).Msg("unhandled event")
	}
}

func (s *Session) setFiles(files []*domain.Node) {
	s.mu.Lock()
	s.files = files
	s.mu.Unlock()
}

// Users returns the last received member list.
func (s *Session) Users() []protocol.UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users
}

// Files returns the last received snapshot.
func (s *Session) Files() []*domain.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files
}

// UpdateFileSystem pushes a wholesale snapshot replacement.
func (s *Session) UpdateFileSystem(files []*domain.Node) error {
	s.mu.Lock()
	s.files = files
	room := s.room
	s.mu.Unlock()
	return s.sig.Send(protocol.EventFSUpdate, protocol.FSUpdate{RoomID: room, Files: files})
}

// CreateFile asks the server to insert a node under parentID.
func (s *Session) CreateFile(parentID string, node *domain.Node) error {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	return s.sig.Send(protocol.EventFileCreate, protocol.FileCreate{RoomID: room, ParentID: parentID, File: node})
}

// UpdateFileContent pushes a single-file content edit.
func (s *Session) UpdateFileContent(fileID, content string) error {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	return s.sig.Send(protocol.EventFileUpdateContent, protocol.FileUpdateContent{RoomID: room, FileID: fileID, Content: content})
}

// SendMessage broadcasts a chat payload to the room.
func (s *Session) SendMessage(message json.RawMessage) error {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	return s.sig.Send(protocol.EventSendMessage, protocol.SendMessage{RoomID: room, Message: message})
}

// StartCall begins broadcasting and dials everyone already present.
func (s *Session) StartCall() error {
	return s.Calls.StartBroadcast()
}

// Close hangs up all calls and drops the connection.
func (s *Session) Close() {
	s.Calls.EndAll()
	s.sig.Close()
}

// Done is closed once the server connection has gone away.
func (s *Session) Done() <-chan struct{} { return s.done }
