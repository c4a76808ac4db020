package signaling

import (
	"errors"
	"log/slog"

	"github.com/atultiwari000/video-chat-app-2/internal/protocol"
)

// inbound pairs a client envelope with the connection it arrived on.
type inbound struct {
	client *Client
	env    protocol.Envelope
}

// Hub is the single-goroutine core of the signaling server. All room and
// membership state is owned by the Run loop, so registry and router need
// no locking; per-connection envelope order is preserved because each
// connection's reads funnel through the one Inbound channel.
type Hub struct {
	Register   chan *Client
	Unregister chan *Client
	Inbound    chan inbound

	registry *Registry
	router   *Router
	log      *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	registry := NewRegistry()
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan inbound),
		registry:   registry,
		router:     NewRouter(registry, log),
		log:        log,
	}
}

// Run starts the hub's event loop. It never returns.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			// Not in a room yet; the client must send room:join first.
			h.log.Debug("client registered", "client", client.ID)

		case client := <-h.Unregister:
			h.disconnect(client)

		case in := <-h.Inbound:
			h.dispatch(in.client, in.env)
		}
	}
}

func (h *Hub) dispatch(client *Client, env protocol.Envelope) {
	if err := env.Validate(); err != nil {
		h.log.Debug("dropping invalid envelope", "client", client.ID, "err", err)
		return
	}

	switch env.Type {
	case protocol.TypeRoomJoin:
		h.join(client, env)

	case protocol.TypeRoomLeave:
		h.leave(client)

	default:
		h.router.Route(client, env)
	}
}

func (h *Hub) join(client *Client, env protocol.Envelope) {
	var req protocol.JoinRequest
	if err := env.Decode(&req); err != nil {
		h.log.Debug("dropping malformed join", "client", client.ID, "err", err)
		return
	}

	if client.Room != "" {
		// One session per participant: joining again means moving.
		h.leave(client)
	}
	client.DisplayName = req.DisplayName

	room, err := h.registry.Join(req.Room, client)
	switch {
	case errors.Is(err, ErrRoomFull):
		h.log.Info("join rejected, room full", "room", NormalizeRoomID(req.Room), "client", client.ID)
		client.deliver(protocol.MustNew(protocol.TypeRoomFull, protocol.RoomFull{
			Room:   NormalizeRoomID(req.Room),
			Reason: "room already has two participants",
		}))
		return
	case err != nil:
		client.deliver(protocol.MustNew(protocol.TypeError, protocol.ErrorPayload{
			Code:    "bad_join",
			Message: err.Error(),
		}))
		return
	}

	h.log.Info("client joined room", "room", room.ID, "client", client.ID, "name", client.DisplayName)

	joined := protocol.MustNew(protocol.TypeRoomJoined, protocol.RoomJoined{
		Room:    room.ID,
		Self:    client.ID,
		Members: room.MemberInfos(),
	})
	joined.Room = room.ID
	client.deliver(joined)

	announce := protocol.MustNew(protocol.TypeUserJoined, protocol.Member{
		ID:          client.ID,
		DisplayName: client.DisplayName,
	})
	announce.Room = room.ID
	for _, member := range room.Members() {
		if member != client {
			member.deliver(announce)
		}
	}
}

// leave removes the client from its room and notifies whoever is left.
// Safe to call for a client that is not in a room.
func (h *Hub) leave(client *Client) {
	roomID := client.Room
	remaining := h.registry.Leave(client)
	if roomID == "" {
		return
	}

	h.log.Info("client left room", "room", roomID, "client", client.ID)

	departed := protocol.MustNew(protocol.TypeUserLeft, protocol.Member{
		ID:          client.ID,
		DisplayName: client.DisplayName,
	})
	departed.Room = roomID
	for _, member := range remaining {
		member.deliver(departed)
	}
}

// disconnect is the unregister path. It shares the leave path so a drop
// and an explicit leave are indistinguishable to the remaining peer.
func (h *Hub) disconnect(client *Client) {
	h.log.Debug("client unregistered", "client", client.ID)
	h.leave(client)
	close(client.Send)
}
