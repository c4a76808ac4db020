package signaling

import (
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/atultiwari000/video-chat-app-2/internal/protocol"
)

// maxRoomMembers is the hard membership cap. A third join attempt is
// rejected outright, never queued.
const maxRoomMembers = 2

var (
	// ErrRoomFull is terminal for the join attempt that hit it.
	ErrRoomFull = errors.New("room is full")

	// ErrEmptyRoomID rejects joins whose room id trims to nothing.
	ErrEmptyRoomID = errors.New("room id is empty")
)

// Room pairs up to two participants and keeps their ephemeral chat log.
type Room struct {
	ID        string
	CreatedAt time.Time

	members []*Client

	chat       []protocol.ChatMessage
	nextChatID int64
}

// Members returns a snapshot of the current membership in join order.
func (r *Room) Members() []*Client {
	return append([]*Client(nil), r.members...)
}

// MemberInfos returns the wire form of the current membership.
func (r *Room) MemberInfos() []protocol.Member {
	return lo.Map(r.members, func(c *Client, _ int) protocol.Member {
		return protocol.Member{ID: c.ID, DisplayName: c.DisplayName}
	})
}

// Other returns the member that is not c, or nil when alone.
func (r *Room) Other(c *Client) *Client {
	for _, m := range r.members {
		if m != c {
			return m
		}
	}
	return nil
}

// AppendChat stamps a message with the room's monotonic id and the
// current time, stores it, and returns the broadcast form.
func (r *Room) AppendChat(sender *Client, text string) protocol.ChatMessage {
	r.nextChatID++
	msg := protocol.ChatMessage{
		ID:        r.nextChatID,
		Sender:    sender.DisplayName,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
	r.chat = append(r.chat, msg)
	return msg
}

// ChatLog returns a snapshot of the stored chat history.
func (r *Room) ChatLog() []protocol.ChatMessage {
	return append([]protocol.ChatMessage(nil), r.chat...)
}

// Registry tracks room membership. It is not safe for concurrent use; the
// hub's single run loop is its only caller.
type Registry struct {
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// NormalizeRoomID trims surrounding whitespace from a client-supplied id.
func NormalizeRoomID(id string) string {
	return strings.TrimSpace(id)
}

// Join places c into the room, creating it on first join. On success the
// returned room reflects the full membership including c.
func (reg *Registry) Join(roomID string, c *Client) (*Room, error) {
	roomID = NormalizeRoomID(roomID)
	if roomID == "" {
		return nil, ErrEmptyRoomID
	}

	room, ok := reg.rooms[roomID]
	if !ok {
		room = &Room{ID: roomID, CreatedAt: time.Now()}
		reg.rooms[roomID] = room
	}

	if len(room.members) >= maxRoomMembers {
		return nil, ErrRoomFull
	}

	room.members = append(room.members, c)
	c.Room = roomID
	return room, nil
}

// Leave removes c from its room and returns the remaining members so the
// caller can broadcast the departure. An empty room is deleted, chat log
// included. Safe to call for a client that never joined.
func (reg *Registry) Leave(c *Client) []*Client {
	if c.Room == "" {
		return nil
	}
	room, ok := reg.rooms[c.Room]
	c.Room = ""
	if !ok {
		return nil
	}

	room.members = lo.Without(room.members, c)
	if len(room.members) == 0 {
		delete(reg.rooms, room.ID)
		return nil
	}
	return room.Members()
}

// Lookup returns the room for a (raw) room id.
func (reg *Registry) Lookup(roomID string) (*Room, bool) {
	room, ok := reg.rooms[NormalizeRoomID(roomID)]
	return room, ok
}

// RoomOf returns the room c currently belongs to.
func (reg *Registry) RoomOf(c *Client) (*Room, bool) {
	if c.Room == "" {
		return nil, false
	}
	room, ok := reg.rooms[c.Room]
	return room, ok
}
