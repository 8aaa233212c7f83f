// Package transport implements the peer-to-peer socket layer: a
// websocket listener and dialer that frame wireproto.Envelope messages
// over gorilla/websocket and feed them into a node.Coordinator.
//
// Shaped after the teacher's netadapter.NetAdapter: an onConnectedHandler
// that registers the connection and spawns independent receive/send
// loops per peer (netadapter/netadapter.go). The teacher's own transport
// is gRPC-based (netadapter/server/grpcserver), tied to the kasparov/RPC
// stack that's out of scope here; websocket gives this module a real,
// pack-attested framed transport without dragging that stack along.
package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/daglabs/powvote-node/internal/logger"
	"github.com/daglabs/powvote-node/internal/node"
	"github.com/daglabs/powvote-node/internal/panics"
)

var log = logger.Get(logger.SubsystemTags.PEER)
var spawn = panics.GoroutineWrapperFunc(log)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Transport owns the listening socket and dial path, registering every
// established connection with a node.Coordinator.
type Transport struct {
	coordinator *node.Coordinator
	upgrader    websocket.Upgrader
	httpServer  *http.Server

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// New constructs a Transport bound to coordinator. Listening is started
// separately by Listen; a Transport on which Listen is never called only
// dials out.
func New(coordinator *node.Coordinator) *Transport {
	return &Transport{
		coordinator: coordinator,
		upgrader:    websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		conns:       make(map[string]*websocket.Conn),
	}
}

// Listen starts accepting inbound peer connections on addr. It returns
// once the listener is bound; serving continues in the background.
func (t *Transport) Listen(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/peer", t.handleInbound)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "binding peer listen address")
	}

	t.httpServer = &http.Server{Handler: mux}
	spawn("transport-serve", func() {
		if err := t.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("peer listener exited: %s", err)
		}
	})
	log.Infof("listening for peer connections on %s", addr)
	return nil
}

// Close shuts down the listener and every open connection.
func (t *Transport) Close() error {
	if t.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.httpServer.Shutdown(ctx); err != nil {
			log.Warnf("error shutting down peer listener: %s", err)
		}
	}
	t.mu.Lock()
	for id, conn := range t.conns {
		conn.Close()
		delete(t.conns, id)
	}
	t.mu.Unlock()
	return nil
}

func (t *Transport) handleInbound(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %s", err)
		return
	}
	t.adopt(conn)
}

// Dial opens an outbound connection to a peer discovered via DNS-seed
// resolution or addr gossip.
func (t *Transport) Dial(addr string) error {
	url := "ws://" + addr + "/peer"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return errors.Wrapf(err, "dialing peer %s", addr)
	}
	t.adopt(conn)
	return nil
}

// adopt registers a freshly established connection (inbound or
// outbound) with the coordinator and spawns its receive loop, mirroring
// the teacher's newOnConnectedHandler/startReceiveLoop split.
func (t *Transport) adopt(conn *websocket.Conn) {
	id := uuid.NewString()

	t.mu.Lock()
	t.conns[id] = conn
	t.mu.Unlock()

	peer := &node.PeerConn{
		ID:       id,
		LastSeen: time.Now(),
		Send: func(frame []byte) error {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			return conn.WriteMessage(websocket.BinaryMessage, frame)
		},
	}
	if err := t.coordinator.RegisterPeer(peer); err != nil {
		log.Infof("rejecting connection from %s: %s", conn.RemoteAddr(), err)
		conn.Close()
		t.mu.Lock()
		delete(t.conns, id)
		t.mu.Unlock()
		return
	}

	spawn("transport-receive-"+id, func() { t.receiveLoop(id, conn) })
}

func (t *Transport) receiveLoop(id string, conn *websocket.Conn) {
	defer func() {
		conn.Close()
		t.mu.Lock()
		delete(t.conns, id)
		t.mu.Unlock()
		t.coordinator.RemovePeer(id)
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Infof("peer %s disconnected: %s", id, err)
			return
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}
		t.coordinator.Dispatch(id, data)
	}
}
