package e2e_test

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atelierhq/collabd"
)

// Helper function to create a WebSocket dialer
func newDialer() *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, env collabd.Envelope) {
	t.Helper()
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("Failed to send %q: %v", env.Type(), err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) collabd.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var env collabd.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	return env
}

// waitFor reads envelopes until one of the wanted type arrives, skipping
// presence notifications and other interleaved traffic.
func waitFor(t *testing.T, conn *websocket.Conn, msgType string) collabd.Envelope {
	t.Helper()
	for i := 0; i < 20; i++ {
		env := readEnvelope(t, conn)
		if env.Type() == msgType {
			return env
		}
	}
	t.Fatalf("No %q envelope received", msgType)
	return nil
}

// authenticate runs the no-token auth flow and returns the issued token.
func authenticate(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	sendEnvelope(t, conn, collabd.Envelope{"type": collabd.MsgAuth})
	env := waitFor(t, conn, collabd.MsgAuthSuccess)
	return env.String("token")
}
