package transport

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/daglabs/powvote-node/internal/collab"
	"github.com/daglabs/powvote-node/internal/node"
	"github.com/daglabs/powvote-node/internal/wireproto"
)

// waitFor polls cond until it returns true or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func newTestCoordinator() *node.Coordinator {
	return node.New(nil, nil, nil, collab.NopAuditSink{}, collab.NopMetricsSink{}, 100)
}

func TestListenAndDialEstablishesConnection(t *testing.T) {
	coord := newTestCoordinator()
	srv := New(coord)
	if err := srv.Listen("127.0.0.1:18433"); err != nil {
		t.Fatalf("Listen: %s", err)
	}
	defer srv.Close()

	client := New(newTestCoordinator())
	if err := client.Dial("127.0.0.1:18433"); err != nil {
		t.Fatalf("Dial: %s", err)
	}
	defer client.Close()

	waitFor(t, 2*time.Second, func() bool {
		return len(coord.Peers()) == 1
	})
}

func TestDialUnreachableAddressFails(t *testing.T) {
	client := New(newTestCoordinator())
	if err := client.Dial("127.0.0.1:1"); err == nil {
		t.Error("expected dialing a closed port to fail")
	}
}

// TestReceiveLoopDispatchesPingAndRemovesPeerOnDisconnect dials the
// listener with a bare websocket client (bypassing Transport.Dial, whose
// own receive loop would otherwise race a manual ReadMessage call on the
// same connection) so the test can both push a ping and read the pong
// the server's receiveLoop/Dispatch path writes back.
func TestReceiveLoopDispatchesPingAndRemovesPeerOnDisconnect(t *testing.T) {
	coord := newTestCoordinator()
	srv := New(coord)
	if err := srv.Listen("127.0.0.1:18434"); err != nil {
		t.Fatalf("Listen: %s", err)
	}
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws://127.0.0.1:18434/peer", nil)
	if err != nil {
		t.Fatalf("Dial: %s", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(coord.Peers()) == 1
	})

	env, err := wireproto.Encode(wireproto.TypePing, wireproto.PingMessage{Nonce: 7})
	if err != nil {
		t.Fatalf("Encode: %s", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, env); err != nil {
		t.Fatalf("WriteMessage: %s", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected a pong reply, got error: %s", err)
	}
	replyEnv, err := wireproto.Decode(reply)
	if err != nil {
		t.Fatalf("Decode: %s", err)
	}
	if replyEnv.Type != wireproto.TypePong {
		t.Errorf("expected a pong reply, got %s", replyEnv.Type)
	}

	conn.Close()

	waitFor(t, 2*time.Second, func() bool {
		return len(coord.Peers()) == 0
	})
}
