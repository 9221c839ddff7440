// Package wire defines the closed set of JSON messages exchanged over the
// overlay, their framing on the wire, and a type-keyed dispatch table.
//
// Messages form a closed tagged variant discriminated by the Type field.
// A single envelope struct carries every field any message kind might
// need; handlers read only the fields relevant to msg.Type and ignore
// the rest. Unknown Type values are logged and ignored — never close
// the link over them, so the protocol stays forward-compatible.
package wire

import (
	"github.com/driftmesh/overlay/internal/domain"
)

// Type discriminates the message envelope: the membership consensus
// messages, the gossip and liveness messages, plus the handshake and
// bootstrap messages the protocol implies (HELLO, PING/PONG,
// PL_RESPONSE, ACK/NACK).
type Type string

const (
	TypeRegisterRequest  Type = "REGISTER_REQUEST"
	TypeRegisterProposal Type = "REGISTER_PROPOSAL"
	TypeRegisterVote     Type = "REGISTER_VOTE"
	TypeRegisterCommit   Type = "REGISTER_COMMIT"
	TypeRegisterAck      Type = "REGISTER_ACK"
	TypeRegisterNack     Type = "REGISTER_NACK"

	TypeDeadReport   Type = "DEAD_REPORT"
	TypeDeadProposal Type = "DEAD_PROPOSAL"
	TypeDeadVote     Type = "DEAD_VOTE"
	TypeDeadConfirmed Type = "DEAD_CONFIRMED"

	TypePLRequest  Type = "PL_REQUEST"
	TypePLResponse Type = "PL_RESPONSE"

	TypeHello Type = "HELLO"
	TypeGossip Type = "GOSSIP"

	TypePing Type = "PING"
	TypePong Type = "PONG"

	TypeSuspectRequest  Type = "SUSPECT_REQUEST"
	TypeSuspectResponse Type = "SUSPECT_RESPONSE"
)

// Verdict is the outcome a SUSPECT_RESPONSE carries.
type Verdict string

const (
	VerdictAlive Verdict = "alive"
	VerdictDead  Verdict = "dead"
)

// Vote is the yes/no ballot cast in REGISTER_VOTE / DEAD_VOTE.
type Vote string

const (
	VoteYes Vote = "yes"
	VoteNo  Vote = "no"
)

// Envelope is the single wire-level JSON object every message is. Only the
// fields relevant to Type are populated; the rest are zero/omitted.
type Envelope struct {
	Type Type `json:"type"`

	// Registration
	PeerID   domain.NodeID `json:"peer_id,omitempty"`
	Proposer domain.NodeID `json:"proposer,omitempty"`
	Voter    domain.NodeID `json:"voter,omitempty"`
	Vote     Vote          `json:"vote,omitempty"`

	// Death
	Victim   domain.NodeID `json:"victim,omitempty"`
	Reporter domain.NodeID `json:"reporter,omitempty"`

	// PL exchange
	PL []domain.NodeID `json:"pl,omitempty"`

	// Handshake
	Self domain.NodeID `json:"self,omitempty"`

	// Gossip
	Payload string `json:"payload,omitempty"`

	// Liveness / suspicion
	SeqNo   uint64        `json:"seq,omitempty"`
	Target  domain.NodeID `json:"target,omitempty"`
	Verdict Verdict       `json:"verdict,omitempty"`

	// CorrelationID ties a proposal or gossip wave to an observability
	// span/log line. Not interpreted by protocol logic — purely an
	// operator aid.
	CorrelationID string `json:"cid,omitempty"`
}
