package linktest

import (
	"context"
	"testing"
	"time"

	"github.com/tonimelisma/wearlink/pkg/link"
)

// resolveActivation waits for the session to install its delegate and
// call Activate, then completes the handshake.
func resolveActivation(conn *MockConn) {
	go func() {
		for conn.Delegate() == nil || conn.ActivateCalls.Load() == 0 {
			time.Sleep(2 * time.Millisecond)
		}

		conn.Delegate().ActivationDidComplete(link.Activated, nil)
	}()
}

func TestMockConnScriptedEcho(t *testing.T) {
	conn := NewMockConn()
	conn.SendMessageFunc = func(msg link.Payload, onReply func(link.Payload), onError func(error)) {
		onReply(link.Payload{"pong": msg["ping"]})
	}

	s := link.New(&MockProvider{Conn: conn})
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resolveActivation(conn)

	if _, err := s.Activate(ctx); err != nil {
		t.Fatalf("activate: %v", err)
	}

	reply, err := s.RequestMessage(ctx, link.Payload{"ping": "x"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if reply["pong"] != "x" {
		t.Errorf("reply = %v, want pong=x", reply)
	}

	if calls := conn.MessageCalls.Load(); calls != 1 {
		t.Errorf("SendMessage called %d times, want 1", calls)
	}
}

func TestMockConnNotificationsReachSession(t *testing.T) {
	conn := NewMockConn()

	s := link.New(&MockProvider{Conn: conn})
	t.Cleanup(func() { _ = s.Close() })

	// Installing the delegate requires touching the session once.
	if _, err := s.Paired(); err != nil {
		t.Fatalf("paired: %v", err)
	}

	ticks, cancelSub := s.StateChanged()
	defer cancelSub()

	conn.SetReachable(false)

	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("no state tick after reachability change")
	}

	reachable, err := s.Reachable()
	if err != nil {
		t.Fatalf("reachable: %v", err)
	}

	if reachable {
		t.Error("session still reports reachable after SetReachable(false)")
	}
}
