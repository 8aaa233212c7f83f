// Package wireproto defines the tagged peer-protocol envelopes of spec
// §6.2. Transport framing reuses gorilla/websocket (the teacher's own
// protocol layer is gRPC-based and tied to the out-of-scope RPC/kasparov
// stack; websocket gives this module a real, pack-attested framed
// transport without dragging that stack along).
package wireproto

import (
	"encoding/json"

	"github.com/daglabs/powvote-node/internal/blockmodel"
	"github.com/daglabs/powvote-node/internal/chainhash"
	"github.com/pkg/errors"
)

// Services bitfield (spec §6.2).
const (
	ServiceNodeNetwork uint64 = 1 << 0
	ServiceVoting      uint64 = 1 << 1
	ServiceMiner       uint64 = 1 << 2
)

// MessageType tags the envelope's payload kind.
type MessageType string

const (
	TypeVersion  MessageType = "version"
	TypeVerAck   MessageType = "verack"
	TypeAddr     MessageType = "addr"
	TypeInv      MessageType = "inv"
	TypeGetData  MessageType = "getdata"
	TypeBlock    MessageType = "block"
	TypeTx       MessageType = "tx"
	TypePing     MessageType = "ping"
	TypePong     MessageType = "pong"
)

// Envelope is the outer {type, data} shape every wire message shares.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode wraps a typed payload in an Envelope ready for transport.
func Encode(t MessageType, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling wire payload")
	}
	return json.Marshal(Envelope{Type: t, Data: data})
}

// Decode splits a transport frame back into its envelope.
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "unmarshaling wire envelope")
	}
	return env, nil
}

// VersionMessage is the handshake payload (spec §6.2).
type VersionMessage struct {
	Version    uint32 `json:"version"`
	Services   uint64 `json:"services"`
	Height     uint64 `json:"height"`
	PublicKey  []byte `json:"public_key"`
	Signature  []byte `json:"signature"`
	Timestamp  int64  `json:"timestamp"`
	MinerFlags string `json:"miner_flags"`
	VoteStats  VoteStats `json:"vote_stats"`
}

// VoteStats summarizes the announcing peer's voting participation, sent
// during the handshake so counterparts can weight gossip priority.
type VoteStats struct {
	ProposalsSeen uint64 `json:"proposals_seen"`
	VotesCast     uint64 `json:"votes_cast"`
}

// AddrEntry is one element of an addr message.
type AddrEntry struct {
	Address  string `json:"address"`
	Services uint64 `json:"services"`
	LastSeen int64  `json:"last_seen"`
}

// AddrMessage lists known peer addresses.
type AddrMessage struct {
	Addresses []AddrEntry `json:"addresses"`
}

// InvType discriminates inventory and getdata entries.
type InvType string

const (
	InvBlock InvType = "block"
	InvTx    InvType = "tx"
)

// InvVector names one advertised or requested item.
type InvVector struct {
	Type InvType        `json:"type"`
	Hash chainhash.Hash `json:"hash"`
}

// InvMessage announces available items; GetDataMessage requests them —
// both share InvVector's shape per spec §6.2.
type InvMessage struct {
	Items []InvVector `json:"items"`
}

type GetDataMessage struct {
	Items []InvVector `json:"items"`
}

// BlockMessage carries a full block.
type BlockMessage struct {
	Block *blockmodel.Block `json:"block"`
}

// TxMessage carries a full transaction.
type TxMessage struct {
	Tx *blockmodel.Transaction `json:"tx"`
}

// PingMessage / PongMessage carry a nonce to correlate liveness checks.
type PingMessage struct {
	Nonce uint64 `json:"nonce"`
}

type PongMessage struct {
	Nonce uint64 `json:"nonce"`
}

// HasService reports whether services advertises bit.
func HasService(services, bit uint64) bool {
	return services&bit != 0
}
