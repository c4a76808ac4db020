package signaling

import (
	"log/slog"

	"github.com/atultiwari000/video-chat-app-2/internal/protocol"
)

// Router forwards addressed envelopes between room members. It is
// content-agnostic: it validates addressing and rewrites the delivered
// type, never payload semantics. Delivery is best-effort, at-most-once;
// an unreachable destination is a silent drop.
type Router struct {
	registry *Registry
	log      *slog.Logger
}

func NewRouter(registry *Registry, log *slog.Logger) *Router {
	return &Router{registry: registry, log: log}
}

// Route dispatches one client envelope. Chat is broadcast to every room
// member, sender included, so local echo matches the remote view; the
// relayed call types are unicast to the addressed peer.
func (r *Router) Route(sender *Client, env protocol.Envelope) {
	room, ok := r.registry.RoomOf(sender)
	if !ok {
		r.log.Debug("envelope from client outside any room", "client", sender.ID, "type", env.Type)
		return
	}

	switch env.Type {
	case protocol.TypeChatMessage:
		r.broadcastChat(room, sender, env)

	case protocol.TypeCallOffer, protocol.TypeCallAnswer,
		protocol.TypeICECandidate, protocol.TypeCallEnd:
		r.unicast(room, sender, env)

	default:
		r.log.Debug("dropping unroutable envelope", "client", sender.ID, "type", env.Type)
	}
}

func (r *Router) unicast(room *Room, sender *Client, env protocol.Envelope) {
	target := room.Other(sender)
	if target == nil || target.ID != env.To {
		r.log.Debug("dropping envelope for unreachable destination",
			"room", room.ID, "from", sender.ID, "to", env.To, "type", env.Type)
		return
	}

	target.deliver(protocol.Envelope{
		Type:    env.Type.Delivered(),
		Room:    room.ID,
		From:    sender.ID,
		To:      target.ID,
		Payload: env.Payload,
	})
}

func (r *Router) broadcastChat(room *Room, sender *Client, env protocol.Envelope) {
	var send protocol.ChatSend
	if err := env.Decode(&send); err != nil {
		r.log.Debug("dropping malformed chat payload", "client", sender.ID, "err", err)
		return
	}

	msg := room.AppendChat(sender, send.Text)
	out := protocol.MustNew(protocol.TypeChatMessage, msg)
	out.Room = room.ID
	out.From = sender.ID

	for _, member := range room.Members() {
		member.deliver(out)
	}
}
