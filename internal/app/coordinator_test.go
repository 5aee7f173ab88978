package app

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/dkeye/Collab/internal/protocol"
)

// fakeConn records every frame delivered to one member.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (f *fakeConn) TrySend(frame core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(f.frames))
	for _, frame := range f.frames {
		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("bad frame %q: %v", frame, err)
		}
		out = append(out, env)
	}
	return out
}

func (f *fakeConn) count(t *testing.T, event string) int {
	t.Helper()
	n := 0
	for _, env := range f.envelopes(t) {
		if env.Event == event {
			n++
		}
	}
	return n
}

// last decodes the most recent payload for event into v; fails if absent.
func (f *fakeConn) last(t *testing.T, event string, v any) {
	t.Helper()
	envs := f.envelopes(t)
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Event == event {
			if err := json.Unmarshal(envs[i].Data, v); err != nil {
				t.Fatalf("decode %s: %v", event, err)
			}
			return
		}
	}
	t.Fatalf("no %s frame received", event)
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

func join(t *testing.T, c *Coordinator, sid, room, name string) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	c.Registry.Bind(core.SessionID(sid), conn, nil)
	if err := c.Join(core.SessionID(sid), domain.RoomID(room), name); err != nil {
		t.Fatalf("join %s: %v", sid, err)
	}
	return conn
}

func TestJoinRoom(t *testing.T) {
	t.Run("first member gets empty snapshot", func(t *testing.T) {
		c := NewCoordinator()
		alice := join(t, c, "a", "room1", "alice")

		var fs protocol.InitialFileSystem
		alice.last(t, protocol.EventInitialFileSystem, &fs)
		if len(fs.Files) != 0 {
			t.Fatalf("fresh room snapshot has %d nodes, want 0", len(fs.Files))
		}

		var users protocol.UsersUpdate
		alice.last(t, protocol.EventUsersUpdate, &users)
		if len(users.Users) != 1 || users.Users[0].Username != "alice" {
			t.Fatalf("member list = %+v, want just alice", users.Users)
		}
	})

	t.Run("member list goes to everyone in join order", func(t *testing.T) {
		c := NewCoordinator()
		alice := join(t, c, "a", "room1", "alice")
		bob := join(t, c, "b", "room1", "bob")

		for _, conn := range []*fakeConn{alice, bob} {
			var users protocol.UsersUpdate
			conn.last(t, protocol.EventUsersUpdate, &users)
			if len(users.Users) != 2 {
				t.Fatalf("member list has %d entries, want 2", len(users.Users))
			}
			if users.Users[0].Username != "alice" || users.Users[1].Username != "bob" {
				t.Fatalf("member order = %+v, want alice then bob", users.Users)
			}
		}
	})

	t.Run("empty username rejected", func(t *testing.T) {
		c := NewCoordinator()
		conn := &fakeConn{}
		c.Registry.Bind("a", conn, nil)
		if err := c.Join("a", "room1", ""); err == nil {
			t.Fatal("join with empty username succeeded")
		}
		if _, ok := c.Rooms.Get("room1"); ok {
			t.Fatal("room created for rejected join")
		}
	})
}

func TestFileSystemSync(t *testing.T) {
	tree := []*domain.Node{{ID: "f1", Name: "main.go", Kind: domain.NodeFile}}

	t.Run("wholesale update skips the sender", func(t *testing.T) {
		c := NewCoordinator()
		alice := join(t, c, "a", "room1", "alice")
		bob := join(t, c, "b", "room1", "bob")
		alice.reset()
		bob.reset()

		c.UpdateFileSystem("a", "room1", tree)

		if alice.count(t, protocol.EventFSUpdate) != 0 {
			t.Fatal("sender received its own snapshot back")
		}
		var upd protocol.FSUpdate
		bob.last(t, protocol.EventFSUpdate, &upd)
		if len(upd.Files) != 1 || upd.Files[0].ID != "f1" {
			t.Fatalf("peer snapshot = %+v", upd.Files)
		}
	})

	t.Run("structural ops broadcast to everyone", func(t *testing.T) {
		c := NewCoordinator()
		alice := join(t, c, "a", "room1", "alice")
		bob := join(t, c, "b", "room1", "bob")
		alice.reset()
		bob.reset()

		c.FileCreate("room1", "", &domain.Node{ID: "f1", Name: "main.go", Kind: domain.NodeFile})
		c.FileRename("room1", "f1", "app.go")

		for _, conn := range []*fakeConn{alice, bob} {
			if got := conn.count(t, protocol.EventFSUpdate); got != 2 {
				t.Fatalf("received %d snapshot broadcasts, want 2", got)
			}
			var upd protocol.FSUpdate
			conn.last(t, protocol.EventFSUpdate, &upd)
			if upd.Files[0].Name != "app.go" {
				t.Fatalf("node name = %q, want app.go", upd.Files[0].Name)
			}
		}

		c.FileDelete("room1", "f1")
		var upd protocol.FSUpdate
		alice.last(t, protocol.EventFSUpdate, &upd)
		if len(upd.Files) != 0 {
			t.Fatalf("snapshot after delete = %+v, want empty", upd.Files)
		}
	})

	t.Run("content edit broadcasts only the delta", func(t *testing.T) {
		c := NewCoordinator()
		alice := join(t, c, "a", "room1", "alice")
		c.FileCreate("room1", "", &domain.Node{ID: "f1", Name: "main.go", Kind: domain.NodeFile})
		alice.reset()

		c.FileUpdateContent("room1", "f1", "package main")

		var upd protocol.FileContentUpdated
		alice.last(t, protocol.EventFileContentUpdated, &upd)
		if upd.FileID != "f1" || upd.Content != "package main" {
			t.Fatalf("delta = %+v", upd)
		}
		if alice.count(t, protocol.EventFSUpdate) != 0 {
			t.Fatal("content edit triggered a snapshot broadcast")
		}
	})

	t.Run("bootstrap snapshot is never preceded by an update", func(t *testing.T) {
		for i := 0; i < 200; i++ {
			c := NewCoordinator()
			join(t, c, "a", "room1", "alice")

			stop := make(chan struct{})
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
						c.UpdateFileSystem("a", "room1", tree)
					}
				}
			}()

			bob := join(t, c, "b", "room1", "bob")
			close(stop)
			wg.Wait()

			// The joiner must see its snapshot before any replacement.
			for _, env := range bob.envelopes(t) {
				if env.Event == protocol.EventInitialFileSystem {
					break
				}
				if env.Event == protocol.EventFSUpdate {
					t.Fatalf("iteration %d: snapshot update queued before the bootstrap snapshot", i)
				}
			}
		}
	})

	t.Run("update for missing room does not resurrect it", func(t *testing.T) {
		c := NewCoordinator()
		c.UpdateFileSystem("a", "ghost", tree)
		if _, ok := c.Rooms.Get("ghost"); ok {
			t.Fatal("file update created a room")
		}
	})
}

func TestSignalRelay(t *testing.T) {
	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

	t.Run("delivered to the target only", func(t *testing.T) {
		c := NewCoordinator()
		alice := join(t, c, "a", "room1", "alice")
		bob := join(t, c, "b", "room1", "bob")
		carol := join(t, c, "c", "room1", "carol")
		alice.reset()
		bob.reset()
		carol.reset()

		c.Relay(protocol.EventVideoOffer, protocol.Signal{
			RoomID: "room1", SenderID: "a", TargetID: "b", SDP: offer,
		})

		var sig protocol.Signal
		bob.last(t, protocol.EventVideoOffer, &sig)
		if sig.SenderID != "a" {
			t.Fatalf("senderId = %q, want a", sig.SenderID)
		}
		if string(sig.SDP) != string(offer) {
			t.Fatalf("sdp = %s, not forwarded verbatim", sig.SDP)
		}
		if alice.count(t, protocol.EventVideoOffer) != 0 || carol.count(t, protocol.EventVideoOffer) != 0 {
			t.Fatal("offer leaked beyond the target")
		}
	})

	t.Run("absent target drops silently", func(t *testing.T) {
		c := NewCoordinator()
		alice := join(t, c, "a", "room1", "alice")
		alice.reset()

		c.Relay(protocol.EventICECandidate, protocol.Signal{
			RoomID: "room1", SenderID: "a", TargetID: "gone",
		})

		if got := len(alice.envelopes(t)); got != 0 {
			t.Fatalf("received %d frames, want 0", got)
		}
	})
}

func TestBroadcastCoordination(t *testing.T) {
	c := NewCoordinator()
	alice := join(t, c, "a", "room1", "alice")
	bob := join(t, c, "b", "room1", "bob")
	alice.reset()
	bob.reset()

	c.StartBroadcasting("a", "room1")

	if alice.count(t, protocol.EventUserBroadcasting) != 0 {
		t.Fatal("broadcaster notified about itself")
	}
	var note protocol.UserBroadcasting
	bob.last(t, protocol.EventUserBroadcasting, &note)
	if note.UserID != "a" || note.RoomID != "room1" {
		t.Fatalf("notice = %+v", note)
	}

	got := c.Participants("room1")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("participants = %v, want [a b]", got)
	}
	if ghost := c.Participants("ghost"); len(ghost) != 0 {
		t.Fatalf("unknown room participants = %v, want empty", ghost)
	}
}

func TestDisconnect(t *testing.T) {
	t.Run("remaining members are told", func(t *testing.T) {
		c := NewCoordinator()
		join(t, c, "a", "room1", "alice")
		bob := join(t, c, "b", "room1", "bob")
		bob.reset()

		c.Disconnect("a")

		var users protocol.UsersUpdate
		bob.last(t, protocol.EventUsersUpdate, &users)
		if len(users.Users) != 1 || users.Users[0].Username != "bob" {
			t.Fatalf("member list = %+v, want just bob", users.Users)
		}
		var gone protocol.UserDisconnected
		bob.last(t, protocol.EventUserDisconnected, &gone)
		if gone.UserID != "a" {
			t.Fatalf("disconnected id = %q, want a", gone.UserID)
		}
	})

	t.Run("emptied room is fully reclaimed", func(t *testing.T) {
		c := NewCoordinator()
		join(t, c, "a", "room1", "alice")
		c.FileCreate("room1", "", &domain.Node{ID: "f1", Name: "main.go", Kind: domain.NodeFile})

		c.Disconnect("a")
		if _, ok := c.Rooms.Get("room1"); ok {
			t.Fatal("empty room survived")
		}

		// Rejoining the same identifier starts from scratch.
		alice := join(t, c, "a2", "room1", "alice")
		var fs protocol.InitialFileSystem
		alice.last(t, protocol.EventInitialFileSystem, &fs)
		if len(fs.Files) != 0 {
			t.Fatalf("recreated room snapshot = %+v, want empty", fs.Files)
		}
	})

	t.Run("unknown member is a no-op", func(t *testing.T) {
		c := NewCoordinator()
		alice := join(t, c, "a", "room1", "alice")
		alice.reset()

		c.Disconnect("ghost")

		if len(alice.envelopes(t)) != 0 {
			t.Fatal("phantom disconnect produced broadcasts")
		}
		if _, ok := c.Rooms.Get("room1"); !ok {
			t.Fatal("room lost on phantom disconnect")
		}
	})
}

func TestChatAndSharedFiles(t *testing.T) {
	t.Run("chat reaches everyone including sender", func(t *testing.T) {
		c := NewCoordinator()
		alice := join(t, c, "a", "room1", "alice")
		bob := join(t, c, "b", "room1", "bob")
		alice.reset()
		bob.reset()

		c.SendMessage("room1", json.RawMessage(`{"text":"hi"}`))

		for _, conn := range []*fakeConn{alice, bob} {
			var msg protocol.ChatMessage
			conn.last(t, protocol.EventChatMessage, &msg)
			if string(msg.Message) != `{"text":"hi"}` {
				t.Fatalf("message = %s", msg.Message)
			}
		}
	})

	t.Run("shared files skip the sender and replay to late joiners", func(t *testing.T) {
		c := NewCoordinator()
		alice := join(t, c, "a", "room1", "alice")
		bob := join(t, c, "b", "room1", "bob")
		alice.reset()
		bob.reset()

		file := protocol.SharedFile{ID: "s1", Name: "notes.txt", Data: "aGVsbG8="}
		c.ShareFile("a", "room1", file)
		c.ShareFile("b", "room1", file) // duplicate id, dropped

		if alice.count(t, protocol.EventFileShared) != 0 {
			t.Fatal("sender received its own share back")
		}
		if got := bob.count(t, protocol.EventFileShared); got != 1 {
			t.Fatalf("peer received %d shares, want 1", got)
		}

		carol := join(t, c, "c", "room1", "carol")
		var shared protocol.FileShared
		carol.last(t, protocol.EventFileShared, &shared)
		if shared.File.ID != "s1" {
			t.Fatalf("replayed share = %+v", shared.File)
		}
	})
}
