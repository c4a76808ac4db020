// Package protocol defines the wire envelopes exchanged between the
// signaling server and call clients, plus the SDP/candidate codecs shared
// by both sides. The server never interprets handshake payloads; it only
// validates addressing.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Type identifies an envelope. The set is closed: routers and client
// demuxers match it exhaustively and drop anything unknown.
type Type string

const (
	// Client to server.
	TypeRoomJoin  Type = "room:join"
	TypeRoomLeave Type = "room:leave"

	// Server to client.
	TypeRoomJoined Type = "room:joined"
	TypeRoomFull   Type = "room:full"
	TypeUserJoined Type = "user:joined"
	TypeUserLeft   Type = "user:left"
	TypeError      Type = "error"

	// Relayed peer-to-peer. The router rewrites the client-sent type to
	// its delivered counterpart so a receiver can distinguish direction.
	TypeCallOffer    Type = "call:offer"
	TypeCallIncoming Type = "call:incoming"
	TypeCallAnswer   Type = "call:answer"
	TypeCallAccepted Type = "call:accepted"
	TypeICECandidate Type = "ice:candidate"
	TypeCallEnd      Type = "call:end"
	TypeCallEnded    Type = "call:ended"

	// Chat rides the signaling channel and is broadcast to the whole
	// room, sender included.
	TypeChatMessage Type = "chat:message"
)

// Envelope is the single frame type on the signaling websocket.
// From is always stamped by the server; a client-supplied From is ignored.
type Envelope struct {
	Type    Type            `json:"type"`
	Room    string          `json:"room,omitempty"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Member is a room participant as seen on the wire.
type Member struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// JoinRequest asks the server to place the connection into a room.
type JoinRequest struct {
	Room        string `json:"room"`
	DisplayName string `json:"displayName"`
}

// RoomJoined confirms a join. Members holds the full current membership,
// joiner included, so the joiner can identify the existing peer. Self is
// the server-assigned connection id of the joiner.
type RoomJoined struct {
	Room    string   `json:"room"`
	Self    string   `json:"self"`
	Members []Member `json:"members"`
}

// RoomFull rejects a join against a room that already has two members.
type RoomFull struct {
	Room   string `json:"room"`
	Reason string `json:"reason"`
}

// OfferPayload carries an SDP offer to the addressed peer.
type OfferPayload struct {
	SDP         SessionDescription `json:"sdpOffer"`
	DisplayName string             `json:"displayName"`
}

// AnswerPayload carries an SDP answer back to the offerer.
type AnswerPayload struct {
	SDP         SessionDescription `json:"sdpAnswer"`
	DisplayName string             `json:"displayName"`
}

// CandidatePayload carries one discovered network candidate.
type CandidatePayload struct {
	Candidate Candidate `json:"candidate"`
}

// ChatSend is the client half of a chat message; the server assigns the
// id and timestamp before broadcasting a ChatMessage.
type ChatSend struct {
	Text        string `json:"text"`
	DisplayName string `json:"displayName"`
}

// ChatMessage is the broadcast form. ID is monotonic per room and is the
// dedupe key on clients. Timestamp is unix milliseconds.
type ChatMessage struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorPayload reports a server-side rejection that is not room:full.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// New builds an envelope with a marshalled payload.
func New(t Type, payload any) (Envelope, error) {
	e := Envelope{Type: t}
	if payload == nil {
		return e, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	e.Payload = raw
	return e, nil
}

// MustNew is New for payloads that cannot fail to marshal.
func MustNew(t Type, payload any) Envelope {
	e, err := New(t, payload)
	if err != nil {
		panic(err)
	}
	return e
}

// Decode unmarshals the payload strictly: unknown fields and trailing
// data are rejected so malformed envelopes fail at the boundary.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(e.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Type, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("%s: trailing payload data", e.Type)
	}
	return nil
}

// Validate checks addressing only. Payload semantics are the concern of
// the endpoints, never of the router.
func (e Envelope) Validate() error {
	switch e.Type {
	case TypeRoomJoin:
		if len(e.Payload) == 0 {
			return fmt.Errorf("%s: missing payload", e.Type)
		}
	case TypeRoomLeave:
		// No fields required; the server knows the sender's room.
	case TypeCallOffer, TypeCallAnswer, TypeICECandidate, TypeCallEnd:
		if e.To == "" {
			return fmt.Errorf("%s: missing destination", e.Type)
		}
	case TypeChatMessage:
		if len(e.Payload) == 0 {
			return fmt.Errorf("%s: missing payload", e.Type)
		}
	case TypeRoomJoined, TypeRoomFull, TypeUserJoined, TypeUserLeft,
		TypeCallIncoming, TypeCallAccepted, TypeCallEnded, TypeError:
		// Server-emitted; clients do not send these.
		return fmt.Errorf("%s: not a client message", e.Type)
	default:
		return fmt.Errorf("unknown envelope type %q", e.Type)
	}
	return nil
}

// Delivered maps a client-sent relay type to the type delivered to the
// addressed peer. Types that are not rewritten map to themselves.
func (t Type) Delivered() Type {
	switch t {
	case TypeCallOffer:
		return TypeCallIncoming
	case TypeCallAnswer:
		return TypeCallAccepted
	case TypeCallEnd:
		return TypeCallEnded
	default:
		return t
	}
}
