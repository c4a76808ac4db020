package call

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/atultiwari000/video-chat-app-2/internal/protocol"
	"github.com/atultiwari000/video-chat-app-2/internal/signalclient"
)

// ControllerParams bundles the controller's collaborators.
type ControllerParams struct {
	Conn        Sender
	Events      *signalclient.Events
	Factory     TransportFactory
	Media       MediaProvider
	DisplayName string
	Constraints Constraints
	Debounce    time.Duration // 0 means DefaultDebounce
	Log         *slog.Logger

	// OnChat fires once per unique chat message, local echoes included.
	OnChat func(protocol.ChatMessage)
	// OnPeerJoined / OnPeerLeft observe room membership.
	OnPeerJoined func(protocol.Member)
	OnPeerLeft   func(protocol.Member)
	// OnRemoteTrack fires when peer media arrives.
	OnRemoteTrack func(*webrtc.TrackRemote)
	// OnConnState observes transport connection state.
	OnConnState func(webrtc.PeerConnectionState)
}

// Controller orchestrates the join/leave lifecycle around the
// negotiation coordinator: auto-call delegation, chat dedupe, and full
// idempotent teardown.
type Controller struct {
	p     ControllerParams
	log   *slog.Logger
	coord *Coordinator

	mu       sync.Mutex
	room     string
	selfID   string
	peer     *protocol.Member
	chat     []protocol.ChatMessage
	seenChat map[int64]bool
	ended    bool
}

func NewController(p ControllerParams) *Controller {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	return &Controller{p: p, log: log, seenChat: make(map[int64]bool)}
}

// Join sends room:join and waits for the verdict. On success the
// negotiation coordinator is armed with the server-assigned identity and,
// if a peer is already present, auto-call arbitration starts immediately.
func (ctl *Controller) Join(ctx context.Context, room string) (protocol.RoomJoined, error) {
	join := protocol.MustNew(protocol.TypeRoomJoin, protocol.JoinRequest{
		Room:        room,
		DisplayName: ctl.p.DisplayName,
	})
	ctl.p.Conn.Send(join)

	select {
	case joined := <-ctl.p.Events.Joined:
		ctl.armed(joined)
		return joined, nil

	case full := <-ctl.p.Events.RoomFull:
		return protocol.RoomJoined{}, WrapError("join room", ErrRoomFull, full.Room)

	case errPayload := <-ctl.p.Events.Errors:
		return protocol.RoomJoined{}, WrapError("join room", ErrServerClosed, errPayload.Message)

	case <-ctl.p.Events.Disconnected:
		return protocol.RoomJoined{}, NewError("join room", ErrServerClosed)

	case <-ctx.Done():
		return protocol.RoomJoined{}, NewError("join room", ctx.Err())
	}
}

func (ctl *Controller) armed(joined protocol.RoomJoined) {
	ctl.mu.Lock()
	ctl.room = joined.Room
	ctl.selfID = joined.Self
	ctl.ended = false
	ctl.seenChat = make(map[int64]bool)
	ctl.chat = nil

	ctl.coord = NewCoordinator(CoordinatorParams{
		LocalID:       joined.Self,
		DisplayName:   ctl.p.DisplayName,
		Factory:       ctl.p.Factory,
		Media:         ctl.p.Media,
		Signals:       ctl.p.Conn,
		Log:           ctl.log,
		Debounce:      ctl.p.Debounce,
		Constraints:   ctl.p.Constraints,
		OnRemoteTrack: ctl.p.OnRemoteTrack,
		OnConnState:   ctl.p.OnConnState,
	})
	coord := ctl.coord
	ctl.mu.Unlock()

	// The joiner sees the existing peer in the membership snapshot; the
	// existing peer learns of us through user:joined.
	for _, m := range joined.Members {
		if m.ID != joined.Self {
			ctl.setPeer(coord, m)
		}
	}
}

func (ctl *Controller) setPeer(coord *Coordinator, m protocol.Member) {
	ctl.mu.Lock()
	peer := m
	ctl.peer = &peer
	ctl.mu.Unlock()

	role := coord.SetPeer(m.ID)
	ctl.log.Info("peer present", "peer", m.ID, "name", m.DisplayName, "role", role.String())
	if ctl.p.OnPeerJoined != nil {
		ctl.p.OnPeerJoined(m)
	}
}

// Run consumes server events until the context ends or the connection
// drops. Call after a successful Join.
func (ctl *Controller) Run(ctx context.Context) error {
	events := ctl.p.Events
	for {
		select {
		case m := <-events.PeerJoined:
			ctl.mu.Lock()
			coord := ctl.coord
			ctl.mu.Unlock()
			if coord != nil {
				ctl.setPeer(coord, m)
			}

		case m := <-events.PeerLeft:
			ctl.handlePeerGone(&m)

		case offer := <-events.IncomingOffer:
			ctl.mu.Lock()
			coord := ctl.coord
			ctl.mu.Unlock()
			if coord != nil {
				// Answering suspends on media acquisition; keep the
				// event loop responsive while it runs.
				go func() {
					if err := coord.HandleIncomingOffer(ctx, offer.From, offer.Payload); err != nil {
						ctl.log.Warn("incoming offer failed", "err", err)
					}
				}()
			}

		case answer := <-events.AnswerAccepted:
			ctl.mu.Lock()
			coord := ctl.coord
			ctl.mu.Unlock()
			if coord != nil {
				if err := coord.HandleAnswer(answer.Payload); err != nil {
					ctl.log.Warn("remote answer failed", "err", err)
				}
			}

		case cand := <-events.RemoteCandidate:
			ctl.mu.Lock()
			coord := ctl.coord
			ctl.mu.Unlock()
			if coord != nil {
				coord.HandleRemoteCandidate(cand)
			}

		case <-events.CallEnded:
			ctl.handlePeerGone(nil)

		case msg := <-events.Chat:
			ctl.receiveChat(msg)

		case errPayload := <-events.Errors:
			ctl.log.Warn("server error", "code", errPayload.Code, "message", errPayload.Message)

		case <-events.Disconnected:
			ctl.EndCall()
			return NewError("run", ErrServerClosed)

		case <-ctx.Done():
			ctl.EndCall()
			return ctx.Err()
		}
	}
}

// handlePeerGone tears down the peer-facing half of the session while
// staying in the room: the coordinator resets (clearing the remote
// stream) and the chat history is dropped with it.
func (ctl *Controller) handlePeerGone(m *protocol.Member) {
	ctl.mu.Lock()
	coord := ctl.coord
	left := ctl.peer
	ctl.peer = nil
	ctl.chat = nil
	ctl.seenChat = make(map[int64]bool)
	ctl.mu.Unlock()

	if m != nil {
		left = m
	}
	if left != nil {
		ctl.log.Info("peer gone", "peer", left.ID)
		if ctl.p.OnPeerLeft != nil {
			ctl.p.OnPeerLeft(*left)
		}
	}
	if coord != nil {
		coord.Reset()
	}
}

// SendChat sends a chat line to the room. The local copy arrives through
// the server broadcast so echo matches what the peer sees.
func (ctl *Controller) SendChat(text string) {
	if text == "" {
		return
	}
	ctl.mu.Lock()
	room := ctl.room
	ctl.mu.Unlock()
	if room == "" {
		return
	}

	env := protocol.MustNew(protocol.TypeChatMessage, protocol.ChatSend{
		Text:        text,
		DisplayName: ctl.p.DisplayName,
	})
	env.Room = room
	ctl.p.Conn.Send(env)
}

// receiveChat stores a broadcast message, suppressing duplicates by id.
func (ctl *Controller) receiveChat(msg protocol.ChatMessage) {
	ctl.mu.Lock()
	if ctl.seenChat[msg.ID] {
		ctl.mu.Unlock()
		return
	}
	ctl.seenChat[msg.ID] = true
	ctl.chat = append(ctl.chat, msg)
	ctl.mu.Unlock()

	if ctl.p.OnChat != nil {
		ctl.p.OnChat(msg)
	}
}

// ChatLog returns the deduplicated chat history for this session.
func (ctl *Controller) ChatLog() []protocol.ChatMessage {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return append([]protocol.ChatMessage(nil), ctl.chat...)
}

// Renegotiate adds a track mid-call through the coordinator.
func (ctl *Controller) Renegotiate(ctx context.Context, track webrtc.TrackLocal) error {
	ctl.mu.Lock()
	coord := ctl.coord
	ctl.mu.Unlock()
	if coord == nil {
		return ErrNoTransport
	}
	return coord.Renegotiate(ctx, track)
}

// EndCall tears the whole session down: stop local media, notify the
// peer, leave the room, reset the coordinator, clear transient state.
// Reentrant; a second invocation is a silent no-op.
func (ctl *Controller) EndCall() {
	ctl.mu.Lock()
	if ctl.ended {
		ctl.mu.Unlock()
		return
	}
	ctl.ended = true
	coord := ctl.coord
	peer := ctl.peer
	room := ctl.room
	ctl.room = ""
	ctl.peer = nil
	ctl.chat = nil
	ctl.seenChat = make(map[int64]bool)
	ctl.mu.Unlock()

	if coord != nil {
		coord.ReleaseMedia()
	}

	if peer != nil && room != "" {
		end := protocol.Envelope{Type: protocol.TypeCallEnd, To: peer.ID, Room: room}
		ctl.p.Conn.Send(end)
	}
	if room != "" {
		ctl.p.Conn.Send(protocol.Envelope{Type: protocol.TypeRoomLeave, Room: room})
	}

	if coord != nil {
		coord.Reset()
	}
}
