package call

import (
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Collab/internal/client/media"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/dkeye/Collab/internal/protocol"
)

// fakeRelay records everything pushed to the signaling channel.
type fakeRelay struct {
	mu     sync.Mutex
	events []string
	data   []any
}

func (f *fakeRelay) Send(event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	f.data = append(f.data, data)
	return nil
}

func (f *fakeRelay) lastSignal(t *testing.T, event string) protocol.Signal {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i] == event {
			sig, ok := f.data[i].(protocol.Signal)
			if !ok {
				t.Fatalf("%s payload is %T, want protocol.Signal", event, f.data[i])
			}
			return sig
		}
	}
	t.Fatalf("no %s sent", event)
	return protocol.Signal{}
}

func (f *fakeRelay) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

func audioOpener() ([]webrtc.TrackLocal, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	if err != nil {
		return nil, err
	}
	return []webrtc.TrackLocal{track}, nil
}

func newTestManager(t *testing.T, self domain.MemberID) (*Manager, *fakeRelay) {
	t.Helper()
	relay := &fakeRelay{}
	m := NewManager(webrtc.Configuration{}, relay, media.NewSource(audioOpener, nil), Callbacks{})
	m.Bind("room1", self)
	t.Cleanup(m.EndAll)
	return m, relay
}

func TestCallSendsOffer(t *testing.T) {
	m, relay := newTestManager(t, "a")

	if err := m.Call("b"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if got := m.State("b"); got != StateOfferSent {
		t.Fatalf("state = %v, want %v", got, StateOfferSent)
	}

	sig := relay.lastSignal(t, protocol.EventVideoOffer)
	if sig.SenderID != "a" || sig.TargetID != "b" || sig.RoomID != "room1" {
		t.Fatalf("offer routing = %+v", sig)
	}
	if len(sig.SDP) == 0 {
		t.Fatal("offer carries no sdp")
	}
	if !m.media.Live() {
		t.Fatal("local stream not acquired for the call")
	}
}

func TestOfferAnswerHandshake(t *testing.T) {
	caller, callerRelay := newTestManager(t, "a")
	callee, calleeRelay := newTestManager(t, "b")

	if err := caller.Call("b"); err != nil {
		t.Fatalf("call: %v", err)
	}
	offer := callerRelay.lastSignal(t, protocol.EventVideoOffer)

	if err := callee.HandleOffer(offer); err != nil {
		t.Fatalf("handle offer: %v", err)
	}
	if got := callee.State("a"); got != StateAnswerSent {
		t.Fatalf("callee state = %v, want %v", got, StateAnswerSent)
	}
	answer := calleeRelay.lastSignal(t, protocol.EventVideoAnswer)
	if answer.SenderID != "b" || answer.TargetID != "a" {
		t.Fatalf("answer routing = %+v", answer)
	}

	// A candidate relayed before the answer lands must be buffered.
	caller.HandleCandidate(protocol.Signal{
		RoomID:    "room1",
		SenderID:  "b",
		TargetID:  "a",
		Candidate: []byte(`{"candidate":"candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host","sdpMid":"0","sdpMLineIndex":0}`),
	})
	caller.mu.Lock()
	pending := len(caller.sessions["b"].pending)
	caller.mu.Unlock()
	if pending != 1 {
		t.Fatalf("buffered candidates = %d, want 1", pending)
	}

	caller.HandleAnswer(answer)
	caller.mu.Lock()
	s := caller.sessions["b"]
	remoteSet, pending := s.remoteSet, len(s.pending)
	caller.mu.Unlock()
	if !remoteSet {
		t.Fatal("answer did not set the remote description")
	}
	if pending != 0 {
		t.Fatalf("pending candidates after replay = %d, want 0", pending)
	}
}

func TestAnswerWithoutPendingOffer(t *testing.T) {
	m, _ := newTestManager(t, "a")

	// No session toward the sender, must be a silent no-op.
	m.HandleAnswer(protocol.Signal{
		RoomID:   "room1",
		SenderID: "b",
		TargetID: "a",
		SDP:      []byte(`{"type":"answer","sdp":"v=0"}`),
	})
	if got := m.State("b"); got != StateIdle {
		t.Fatalf("state = %v, want %v", got, StateIdle)
	}
}

func TestCandidateBeforeSession(t *testing.T) {
	m, _ := newTestManager(t, "a")

	m.HandleCandidate(protocol.Signal{
		RoomID:    "room1",
		SenderID:  "b",
		Candidate: []byte(`{"candidate":"candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host","sdpMid":"0","sdpMLineIndex":0}`),
	})
	m.mu.Lock()
	buffered := len(m.early["b"])
	m.mu.Unlock()
	if buffered != 1 {
		t.Fatalf("early-buffered candidates = %d, want 1", buffered)
	}

	// The buffer is adopted by the session once it exists.
	if err := m.Call("b"); err != nil {
		t.Fatalf("call: %v", err)
	}
	m.mu.Lock()
	adopted := len(m.sessions["b"].pending)
	early := len(m.early["b"])
	m.mu.Unlock()
	if adopted != 1 || early != 0 {
		t.Fatalf("adopted = %d early = %d, want 1 and 0", adopted, early)
	}
}

func TestEndCallIsIdempotent(t *testing.T) {
	closed := 0
	relay := &fakeRelay{}
	m := NewManager(webrtc.Configuration{}, relay, media.NewSource(audioOpener, nil), Callbacks{
		OnSessionClosed: func(domain.MemberID) { closed++ },
	})
	m.Bind("room1", "a")

	if err := m.Call("b"); err != nil {
		t.Fatalf("call: %v", err)
	}
	m.EndCall("b")
	m.EndCall("b")
	m.HandleUserDisconnected("b")

	if closed != 1 {
		t.Fatalf("session closed %d times, want 1", closed)
	}
	if got := m.State("b"); got != StateIdle {
		t.Fatalf("state after teardown = %v, want %v", got, StateIdle)
	}
	if m.media.Live() {
		t.Fatal("local stream still held after last session closed")
	}
}

func TestFailedTransportTearsDown(t *testing.T) {
	closed := 0
	relay := &fakeRelay{}
	m := NewManager(webrtc.Configuration{}, relay, media.NewSource(audioOpener, nil), Callbacks{
		OnSessionClosed: func(domain.MemberID) { closed++ },
	})
	m.Bind("room1", "a")

	if err := m.Call("b"); err != nil {
		t.Fatalf("call: %v", err)
	}
	m.mu.Lock()
	s := m.sessions["b"]
	m.mu.Unlock()

	// Same sequence the ICE state watcher runs on a failed transport.
	m.markFailed("b")
	m.teardown("b")

	if s.state != StateFailed {
		t.Fatalf("session state = %v, want %v", s.state, StateFailed)
	}
	if closed != 1 {
		t.Fatalf("session closed %d times, want 1", closed)
	}
	if got := m.State("b"); got != StateIdle {
		t.Fatalf("manager state = %v, want %v", got, StateIdle)
	}
	if m.media.Live() {
		t.Fatal("local stream still held after failure teardown")
	}
}

func TestEndCallLeavesSiblingsAlone(t *testing.T) {
	m, _ := newTestManager(t, "a")

	if err := m.Call("b"); err != nil {
		t.Fatalf("call b: %v", err)
	}
	if err := m.Call("c"); err != nil {
		t.Fatalf("call c: %v", err)
	}

	m.EndCall("b")

	if got := m.State("c"); got != StateOfferSent {
		t.Fatalf("sibling state = %v, want %v", got, StateOfferSent)
	}
	if !m.media.Live() {
		t.Fatal("shared stream released while a session still holds it")
	}
}

func TestStartBroadcast(t *testing.T) {
	m, relay := newTestManager(t, "a")

	if err := m.StartBroadcast(); err != nil {
		t.Fatalf("start broadcast: %v", err)
	}
	if err := m.StartBroadcast(); err != nil {
		t.Fatalf("repeat start broadcast: %v", err)
	}

	if got := relay.count(protocol.EventStartBroadcasting); got != 1 {
		t.Fatalf("announced %d times, want 1", got)
	}
	if got := relay.count(protocol.EventGetRoomParticipants); got != 1 {
		t.Fatalf("requested participants %d times, want 1", got)
	}
	if !m.media.Live() {
		t.Fatal("broadcast did not open the local stream")
	}
}

func TestHandleUserBroadcasting(t *testing.T) {
	t.Run("not broadcasting ourselves, no call", func(t *testing.T) {
		m, relay := newTestManager(t, "a")
		m.HandleUserBroadcasting("b")
		if got := relay.count(protocol.EventVideoOffer); got != 0 {
			t.Fatalf("sent %d offers, want 0", got)
		}
	})

	t.Run("live stream triggers a call", func(t *testing.T) {
		m, relay := newTestManager(t, "a")
		if err := m.StartBroadcast(); err != nil {
			t.Fatalf("start broadcast: %v", err)
		}
		m.HandleUserBroadcasting("b")
		if got := relay.count(protocol.EventVideoOffer); got != 1 {
			t.Fatalf("sent %d offers, want 1", got)
		}
	})

	t.Run("existing session is kept", func(t *testing.T) {
		m, relay := newTestManager(t, "a")
		if err := m.Call("b"); err != nil {
			t.Fatalf("call: %v", err)
		}
		m.HandleUserBroadcasting("b")
		if got := relay.count(protocol.EventVideoOffer); got != 1 {
			t.Fatalf("sent %d offers, want 1", got)
		}
	})
}

func TestCallParticipantsSkipsSelf(t *testing.T) {
	m, relay := newTestManager(t, "a")
	m.CallParticipants([]domain.MemberID{"a", "b"})

	if got := relay.count(protocol.EventVideoOffer); got != 1 {
		t.Fatalf("sent %d offers, want 1", got)
	}
	if sig := relay.lastSignal(t, protocol.EventVideoOffer); sig.TargetID != "b" {
		t.Fatalf("offer target = %q, want b", sig.TargetID)
	}
}
