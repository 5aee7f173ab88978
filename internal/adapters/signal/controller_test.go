package signal

import (
	"testing"
	"time"

	"github.com/dkeye/Collab/internal/app"
)

func TestControllerConnectionSettings(t *testing.T) {
	ctl := NewController(app.NewCoordinator(), 1<<20, 54*time.Second)

	if ctl.ReadLimit != 1<<20 {
		t.Fatalf("read limit = %d, want %d", ctl.ReadLimit, 1<<20)
	}
	if ctl.PingPeriod != 54*time.Second {
		t.Fatalf("ping period = %v, want 54s", ctl.PingPeriod)
	}
	if ctl.pongWait() != 60*time.Second {
		t.Fatalf("pong wait = %v, want 60s", ctl.pongWait())
	}
}
