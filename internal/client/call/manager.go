// Package call implements the client-side peer connection manager: a table
// of per-peer webrtc sessions forming a full mesh, driven by relayed
// offer/answer/ICE messages.
package call

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Collab/internal/client/media"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/dkeye/Collab/internal/protocol"
)

// Sender pushes events to the signaling channel.
type Sender interface {
	Send(event string, data any) error
}

// Callbacks surface session lifecycle to the consumer. Explicit registration,
// no ambient event bus; all callbacks are optional.
type Callbacks struct {
	OnRemoteTrack   func(peer domain.MemberID, track *webrtc.TrackRemote)
	OnConnected     func(peer domain.MemberID)
	OnSessionClosed func(peer domain.MemberID)
}

// Manager owns every peer session of the local participant. Each remote
// peer negotiates independently; the local stream is shared across sessions
// through the media source.
type Manager struct {
	cfg   webrtc.Configuration
	relay Sender
	media *media.Source
	cb    Callbacks

	mu       sync.Mutex
	self     domain.MemberID
	room     domain.RoomID
	sessions map[domain.MemberID]*session
	// early buffers candidates that arrive before their session exists.
	early map[domain.MemberID][]webrtc.ICECandidateInit

	broadcasting bool
}

func NewManager(cfg webrtc.Configuration, relay Sender, src *media.Source, cb Callbacks) *Manager {
	return &Manager{
		cfg:      cfg,
		relay:    relay,
		media:    src,
		cb:       cb,
		sessions: make(map[domain.MemberID]*session),
		early:    make(map[domain.MemberID][]webrtc.ICECandidateInit),
	}
}

// Bind sets the local identity once the room is joined.
func (m *Manager) Bind(room domain.RoomID, self domain.MemberID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.room = room
	m.self = self
}

// StartBroadcast acquires the local stream, declares the intent to accept
// calls, and asks for the current participant list; the answer arrives as a
// room-participants event routed to CallParticipants.
func (m *Manager) StartBroadcast() error {
	m.mu.Lock()
	room, self := m.room, m.self
	already := m.broadcasting
	m.mu.Unlock()
	if already {
		return nil
	}
	// Holds one reference for the whole broadcast, dropped in EndAll.
	if _, err := m.media.Acquire(); err != nil {
		return err
	}
	m.mu.Lock()
	m.broadcasting = true
	m.mu.Unlock()

	if err := m.relay.Send(protocol.EventStartBroadcasting, protocol.StartBroadcasting{RoomID: room, UserID: self}); err != nil {
		return fmt.Errorf("announce broadcast: %w", err)
	}
	if err := m.relay.Send(protocol.EventGetRoomParticipants, protocol.GetRoomParticipants{RoomID: room}); err != nil {
		return fmt.Errorf("request participants: %w", err)
	}
	return nil
}

// CallParticipants dials everyone already in the room except ourselves.
func (m *Manager) CallParticipants(ids []domain.MemberID) {
	m.mu.Lock()
	self := m.self
	m.mu.Unlock()
	for _, id := range ids {
		if id == self {
			continue
		}
		if err := m.Call(id); err != nil {
			log.Error().Err(err).Str("module", "client.call").Str("peer", string(id)).Msg("call participant")
		}
	}
}

// Call creates a fresh session toward target and sends it an offer. Any
// existing session for the peer is torn down first; there are never two
// sessions to the same peer.
func (m *Manager) Call(target domain.MemberID) error {
	m.EndCall(target)

	tracks, err := m.media.Acquire()
	if err != nil {
		return err
	}
	s, err := m.newSession(target, tracks)
	if err != nil {
		m.media.Release()
		return err
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		m.teardown(target)
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		m.teardown(target)
		return fmt.Errorf("set local description: %w", err)
	}
	sdp, err := json.Marshal(s.pc.LocalDescription())
	if err != nil {
		m.teardown(target)
		return err
	}

	m.mu.Lock()
	s.state = StateOfferSent
	room, self := m.room, m.self
	m.mu.Unlock()

	log.Info().Str("module", "client.call").Str("peer", string(target)).Msg("offer sent")
	return m.relay.Send(protocol.EventVideoOffer, protocol.Signal{
		RoomID:   room,
		SenderID: self,
		TargetID: target,
		SDP:      sdp,
	})
}

// HandleOffer answers an incoming offer. The local stream is acquired lazily
// here: permission is requested when the first call actually arrives.
func (m *Manager) HandleOffer(sig protocol.Signal) error {
	peer := sig.SenderID
	m.EndCall(peer)

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(sig.SDP, &offer); err != nil {
		return fmt.Errorf("decode offer: %w", err)
	}

	tracks, err := m.media.Acquire()
	if err != nil {
		return err
	}
	s, err := m.newSession(peer, tracks)
	if err != nil {
		m.media.Release()
		return err
	}

	if err := s.pc.SetRemoteDescription(offer); err != nil {
		m.teardown(peer)
		return fmt.Errorf("set remote description: %w", err)
	}
	m.drainPending(s)

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		m.teardown(peer)
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		m.teardown(peer)
		return fmt.Errorf("set local description: %w", err)
	}
	sdp, err := json.Marshal(s.pc.LocalDescription())
	if err != nil {
		m.teardown(peer)
		return err
	}

	m.mu.Lock()
	s.state = StateAnswerSent
	room, self := m.room, m.self
	m.mu.Unlock()

	log.Info().Str("module", "client.call").Str("peer", string(peer)).Msg("answer sent")
	return m.relay.Send(protocol.EventVideoAnswer, protocol.Signal{
		RoomID:   room,
		SenderID: self,
		TargetID: peer,
		SDP:      sdp,
	})
}

// HandleAnswer applies an answer to the session we offered to that peer.
// Keyed strictly by sender: an answer without a matching offer-sent session
// is logged and dropped, since races with a superseding teardown are
// expected.
func (m *Manager) HandleAnswer(sig protocol.Signal) {
	peer := sig.SenderID
	m.mu.Lock()
	s, ok := m.sessions[peer]
	if !ok || s.state != StateOfferSent {
		m.mu.Unlock()
		log.Warn().Str("module", "client.call").Str("peer", string(peer)).Msg("answer without pending offer, ignored")
		return
	}
	m.mu.Unlock()

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(sig.SDP, &answer); err != nil {
		log.Warn().Err(err).Str("module", "client.call").Str("peer", string(peer)).Msg("bad answer sdp")
		return
	}
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		log.Warn().Err(err).Str("module", "client.call").Str("peer", string(peer)).Msg("apply answer")
		return
	}
	m.drainPending(s)
	log.Info().Str("module", "client.call").Str("peer", string(peer)).Msg("answer applied")
}

// HandleCandidate routes a relayed ICE candidate to its sender's session.
// Candidates arriving before the remote description (or before the session
// itself) are buffered and replayed once it is set, never dropped.
func (m *Manager) HandleCandidate(sig protocol.Signal) {
	peer := sig.SenderID
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(sig.Candidate, &cand); err != nil {
		log.Warn().Err(err).Str("module", "client.call").Str("peer", string(peer)).Msg("bad candidate")
		return
	}

	m.mu.Lock()
	s, ok := m.sessions[peer]
	if !ok {
		m.early[peer] = append(m.early[peer], cand)
		m.mu.Unlock()
		log.Debug().Str("module", "client.call").Str("peer", string(peer)).Msg("candidate before session, buffered")
		return
	}
	if !s.remoteSet {
		s.pending = append(s.pending, cand)
		m.mu.Unlock()
		log.Debug().Str("module", "client.call").Str("peer", string(peer)).Msg("candidate before remote description, buffered")
		return
	}
	m.mu.Unlock()

	if err := s.pc.AddICECandidate(cand); err != nil {
		log.Warn().Err(err).Str("module", "client.call").Str("peer", string(peer)).Msg("add candidate")
	}
}

// HandleUserBroadcasting reacts to a peer declaring itself callable: we dial
// it iff no session exists yet and our own stream is live.
func (m *Manager) HandleUserBroadcasting(peer domain.MemberID) {
	m.mu.Lock()
	_, exists := m.sessions[peer]
	self := m.self
	m.mu.Unlock()
	if exists || peer == self || !m.media.Live() {
		return
	}
	if err := m.Call(peer); err != nil {
		log.Error().Err(err).Str("module", "client.call").Str("peer", string(peer)).Msg("call broadcaster")
	}
}

// HandleUserDisconnected tears down the session of a departed member. The
// path is identical to an explicit hangup.
func (m *Manager) HandleUserDisconnected(peer domain.MemberID) {
	m.EndCall(peer)
}

// EndCall tears down a single session: tracks stopped, buffers cleared,
// siblings untouched. Idempotent and safe during concurrent teardown.
func (m *Manager) EndCall(peer domain.MemberID) {
	m.teardown(peer)
}

// EndAll hangs up every session and releases the capture device entirely.
func (m *Manager) EndAll() {
	m.mu.Lock()
	peers := make([]domain.MemberID, 0, len(m.sessions))
	for id := range m.sessions {
		peers = append(peers, id)
	}
	m.broadcasting = false
	m.mu.Unlock()

	for _, id := range peers {
		m.teardown(id)
	}
	m.media.Shutdown()
}

// ToggleAudio mutes or unmutes the shared local stream for all sessions.
func (m *Manager) ToggleAudio(on bool) { m.media.SetAudio(on) }

// ToggleVideo mutes or unmutes the shared local stream for all sessions.
func (m *Manager) ToggleVideo(on bool) { m.media.SetVideo(on) }

// State reports the negotiation state for a peer, StateIdle when absent.
func (m *Manager) State(peer domain.MemberID) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[peer]; ok {
		return s.state
	}
	return StateIdle
}

// Active lists peers with a live session.
func (m *Manager) Active() []domain.MemberID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.MemberID, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

// newSession builds the peer connection, attaches the shared local tracks
// and registers the session, adopting any candidates buffered for the peer.
func (m *Manager) newSession(peer domain.MemberID, tracks []webrtc.TrackLocal) (*session, error) {
	pc, err := webrtc.NewPeerConnection(m.cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	for _, t := range tracks {
		if _, err := pc.AddTrack(t); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("attach local track: %w", err)
		}
	}

	s := &session{peer: peer, pc: pc, state: StateIdle, mediaHeld: true}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		m.mu.Lock()
		room, self := m.room, m.self
		m.mu.Unlock()
		_ = m.relay.Send(protocol.EventICECandidate, protocol.Signal{
			RoomID:    room,
			SenderID:  self,
			TargetID:  peer,
			Candidate: raw,
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "client.call").Str("peer", string(peer)).Str("kind", track.Kind().String()).Msg("remote track")
		if m.cb.OnRemoteTrack != nil {
			m.cb.OnRemoteTrack(peer, track)
		}
	})

	pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		log.Info().Str("module", "client.call").Str("peer", string(peer)).Str("ice_state", st.String()).Msg("ICE state")
		switch st {
		case webrtc.ICEConnectionStateConnected:
			m.markConnected(peer)
		case webrtc.ICEConnectionStateFailed:
			m.markFailed(peer)
			m.teardown(peer)
		case webrtc.ICEConnectionStateClosed, webrtc.ICEConnectionStateDisconnected:
			// A transport drop is handled exactly like an explicit hangup.
			m.teardown(peer)
		}
	})

	m.mu.Lock()
	m.sessions[peer] = s
	if buffered, ok := m.early[peer]; ok {
		s.pending = append(s.pending, buffered...)
		delete(m.early, peer)
	}
	m.mu.Unlock()
	return s, nil
}

// drainPending marks the remote description as set and replays buffered
// candidates in arrival order.
func (m *Manager) drainPending(s *session) {
	m.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	m.mu.Unlock()

	for _, cand := range pending {
		if err := s.pc.AddICECandidate(cand); err != nil {
			log.Warn().Err(err).Str("module", "client.call").Str("peer", string(s.peer)).Msg("replay candidate")
		}
	}
}

func (m *Manager) markConnected(peer domain.MemberID) {
	m.mu.Lock()
	s, ok := m.sessions[peer]
	if ok {
		s.state = StateConnected
	}
	m.mu.Unlock()
	if ok && m.cb.OnConnected != nil {
		m.cb.OnConnected(peer)
	}
}

func (m *Manager) markFailed(peer domain.MemberID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[peer]; ok {
		s.state = StateFailed
	}
}

func (m *Manager) teardown(peer domain.MemberID) {
	m.mu.Lock()
	s, ok := m.sessions[peer]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, peer)
	delete(m.early, peer)
	if s.state != StateFailed {
		s.state = StateClosed
	}
	m.mu.Unlock()

	_ = s.pc.Close()
	if s.mediaHeld {
		m.media.Release()
	}
	log.Info().Str("module", "client.call").Str("peer", string(peer)).Msg("session closed")
	if m.cb.OnSessionClosed != nil {
		m.cb.OnSessionClosed(peer)
	}
}
