package signalclient

import (
	"log/slog"

	"github.com/atultiwari000/video-chat-app-2/internal/protocol"
)

// RemoteOffer is a delivered call:incoming envelope.
type RemoteOffer struct {
	From    string
	Payload protocol.OfferPayload
}

// RemoteAnswer is a delivered call:accepted envelope.
type RemoteAnswer struct {
	From    string
	Payload protocol.AnswerPayload
}

// Events routes incoming envelopes to typed channels. Coordinators must
// be defensive: the router forwards payloads without semantic validation,
// so malformed payloads are dropped here with a log line.
type Events struct {
	Joined          chan protocol.RoomJoined
	RoomFull        chan protocol.RoomFull
	PeerJoined      chan protocol.Member
	PeerLeft        chan protocol.Member
	IncomingOffer   chan RemoteOffer
	AnswerAccepted  chan RemoteAnswer
	RemoteCandidate chan protocol.Candidate
	CallEnded       chan string
	Chat            chan protocol.ChatMessage
	Errors          chan protocol.ErrorPayload

	// Disconnected is closed when the server connection drops.
	Disconnected chan struct{}

	incoming <-chan protocol.Envelope
	log      *slog.Logger
}

// NewEvents creates a demux over a stream of server envelopes.
func NewEvents(incoming <-chan protocol.Envelope, log *slog.Logger) *Events {
	return &Events{
		Joined:          make(chan protocol.RoomJoined, 1),
		RoomFull:        make(chan protocol.RoomFull, 1),
		PeerJoined:      make(chan protocol.Member, 1),
		PeerLeft:        make(chan protocol.Member, 1),
		IncomingOffer:   make(chan RemoteOffer, 1),
		AnswerAccepted:  make(chan RemoteAnswer, 1),
		RemoteCandidate: make(chan protocol.Candidate, 32),
		CallEnded:       make(chan string, 1),
		Chat:            make(chan protocol.ChatMessage, 32),
		Errors:          make(chan protocol.ErrorPayload, 1),
		Disconnected:    make(chan struct{}),
		incoming:        incoming,
		log:             log,
	}
}

// Start consumes envelopes until the connection drops, then closes
// Disconnected. Run it in its own goroutine.
func (e *Events) Start() {
	defer close(e.Disconnected)

	for env := range e.incoming {
		switch env.Type {
		case protocol.TypeRoomJoined:
			decodeInto(e, env, e.Joined)

		case protocol.TypeRoomFull:
			decodeInto(e, env, e.RoomFull)

		case protocol.TypeUserJoined:
			decodeInto(e, env, e.PeerJoined)

		case protocol.TypeUserLeft:
			decodeInto(e, env, e.PeerLeft)

		case protocol.TypeCallIncoming:
			var p protocol.OfferPayload
			if err := env.Decode(&p); err != nil {
				e.log.Debug("dropping malformed offer", "err", err)
				continue
			}
			e.IncomingOffer <- RemoteOffer{From: env.From, Payload: p}

		case protocol.TypeCallAccepted:
			var p protocol.AnswerPayload
			if err := env.Decode(&p); err != nil {
				e.log.Debug("dropping malformed answer", "err", err)
				continue
			}
			e.AnswerAccepted <- RemoteAnswer{From: env.From, Payload: p}

		case protocol.TypeICECandidate:
			var p protocol.CandidatePayload
			if err := env.Decode(&p); err != nil {
				e.log.Debug("dropping malformed candidate", "err", err)
				continue
			}
			e.RemoteCandidate <- p.Candidate

		case protocol.TypeCallEnded:
			e.CallEnded <- env.From

		case protocol.TypeChatMessage:
			decodeInto(e, env, e.Chat)

		case protocol.TypeError:
			decodeInto(e, env, e.Errors)

		default:
			e.log.Debug("dropping unknown envelope", "type", env.Type)
		}
	}
}

func decodeInto[T any](e *Events, env protocol.Envelope, ch chan T) {
	var v T
	if err := env.Decode(&v); err != nil {
		e.log.Debug("dropping malformed payload", "type", env.Type, "err", err)
		return
	}
	ch <- v
}
