package call

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atultiwari000/video-chat-app-2/internal/protocol"
	"github.com/atultiwari000/video-chat-app-2/internal/signalclient"
)

func newTestController(t *testing.T, onChat func(protocol.ChatMessage)) (*Controller, *fakeSender, *signalclient.Events, *fakeFactory) {
	t.Helper()
	factory := &fakeFactory{}
	sender := &fakeSender{}
	events := signalclient.NewEvents(nil, nil)

	ctl := NewController(ControllerParams{
		Conn:        sender,
		Events:      events,
		Factory:     factory,
		Media:       &fakeMedia{},
		DisplayName: "alice",
		Debounce:    time.Hour,
		OnChat:      onChat,
	})
	return ctl, sender, events, factory
}

func joinController(t *testing.T, ctl *Controller, events *signalclient.Events, members ...protocol.Member) {
	t.Helper()
	events.Joined <- protocol.RoomJoined{Room: "r1", Self: "aaa", Members: members}
	joined, err := ctl.Join(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, "r1", joined.Room)
}

func TestJoinSendsRequestAndArms(t *testing.T) {
	ctl, sender, events, _ := newTestController(t, nil)
	joinController(t, ctl, events,
		protocol.Member{ID: "aaa", DisplayName: "alice"},
		protocol.Member{ID: "zzz", DisplayName: "bob"},
	)

	joins := sender.byType(protocol.TypeRoomJoin)
	require.Len(t, joins, 1)
	var req protocol.JoinRequest
	require.NoError(t, joins[0].Decode(&req))
	require.Equal(t, "r1", req.Room)
	require.Equal(t, "alice", req.DisplayName)

	// The existing peer was picked out of the membership snapshot.
	require.Equal(t, "zzz", ctl.coord.PeerID())
}

func TestJoinRoomFull(t *testing.T) {
	ctl, _, events, _ := newTestController(t, nil)
	events.RoomFull <- protocol.RoomFull{Room: "r1", Reason: "room already has two participants"}

	_, err := ctl.Join(context.Background(), "r1")
	require.ErrorIs(t, err, ErrRoomFull)
}

func TestChatDedupeByID(t *testing.T) {
	var delivered []protocol.ChatMessage
	ctl, _, events, _ := newTestController(t, func(msg protocol.ChatMessage) {
		delivered = append(delivered, msg)
	})
	joinController(t, ctl, events, protocol.Member{ID: "aaa", DisplayName: "alice"})

	msg := protocol.ChatMessage{ID: 1, Sender: "alice", Text: "hi", Timestamp: 1}
	ctl.receiveChat(msg)
	ctl.receiveChat(msg) // redelivery
	ctl.receiveChat(protocol.ChatMessage{ID: 2, Sender: "bob", Text: "hey", Timestamp: 2})

	require.Len(t, ctl.ChatLog(), 2)
	require.Len(t, delivered, 2)
}

func TestSendChatAddressesRoom(t *testing.T) {
	ctl, sender, events, _ := newTestController(t, nil)
	joinController(t, ctl, events, protocol.Member{ID: "aaa", DisplayName: "alice"})

	ctl.SendChat("hello")
	ctl.SendChat("")

	sent := sender.byType(protocol.TypeChatMessage)
	require.Len(t, sent, 1)
	require.Equal(t, "r1", sent[0].Room)
}

func TestEndCallIsIdempotent(t *testing.T) {
	ctl, sender, events, _ := newTestController(t, nil)
	joinController(t, ctl, events,
		protocol.Member{ID: "aaa", DisplayName: "alice"},
		protocol.Member{ID: "zzz", DisplayName: "bob"},
	)
	ctl.receiveChat(protocol.ChatMessage{ID: 1, Sender: "bob", Text: "hi"})

	ctl.EndCall()
	ctl.EndCall()

	require.Len(t, sender.byType(protocol.TypeCallEnd), 1)
	require.Len(t, sender.byType(protocol.TypeRoomLeave), 1)
	require.Empty(t, ctl.ChatLog())
}

func TestEndCallWithoutPeerSkipsNotification(t *testing.T) {
	ctl, sender, events, _ := newTestController(t, nil)
	joinController(t, ctl, events, protocol.Member{ID: "aaa", DisplayName: "alice"})

	ctl.EndCall()

	require.Empty(t, sender.byType(protocol.TypeCallEnd))
	require.Len(t, sender.byType(protocol.TypeRoomLeave), 1)
}

func TestPeerGoneResetsAndClearsChat(t *testing.T) {
	var left []protocol.Member
	factoryCountBefore := 0

	ctl, _, events, factory := newTestController(t, nil)
	ctl.p.OnPeerLeft = func(m protocol.Member) { left = append(left, m) }
	joinController(t, ctl, events,
		protocol.Member{ID: "aaa", DisplayName: "alice"},
		protocol.Member{ID: "zzz", DisplayName: "bob"},
	)
	ctl.receiveChat(protocol.ChatMessage{ID: 1, Sender: "bob", Text: "hi"})
	factoryCountBefore = factory.count()

	ctl.handlePeerGone(&protocol.Member{ID: "zzz", DisplayName: "bob"})

	require.Empty(t, ctl.ChatLog())
	require.Len(t, left, 1)
	require.Equal(t, "zzz", left[0].ID)
	require.Empty(t, ctl.coord.PeerID())
	require.Equal(t, StateStable, ctl.coord.State())
	// Reset published a fresh transport.
	require.Equal(t, factoryCountBefore+1, factory.count())

	// Chat after the teardown starts a fresh dedupe window.
	ctl.receiveChat(protocol.ChatMessage{ID: 1, Sender: "carol", Text: "new"})
	require.Len(t, ctl.ChatLog(), 1)
}

func TestRunTearsDownOnDisconnect(t *testing.T) {
	ctl, sender, events, _ := newTestController(t, nil)
	joinController(t, ctl, events,
		protocol.Member{ID: "aaa", DisplayName: "alice"},
		protocol.Member{ID: "zzz", DisplayName: "bob"},
	)

	done := make(chan error, 1)
	go func() { done <- ctl.Run(context.Background()) }()

	close(events.Disconnected)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(time.Second):
		t.Fatal("run did not return on disconnect")
	}
	require.Len(t, sender.byType(protocol.TypeCallEnd), 1)
}

func TestRunHandlesRemoteCallEnd(t *testing.T) {
	ctl, _, events, _ := newTestController(t, nil)
	joinController(t, ctl, events,
		protocol.Member{ID: "aaa", DisplayName: "alice"},
		protocol.Member{ID: "zzz", DisplayName: "bob"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctl.Run(ctx) }()

	events.CallEnded <- "zzz"

	require.Eventually(t, func() bool {
		ctl.mu.Lock()
		defer ctl.mu.Unlock()
		return ctl.peer == nil
	}, time.Second, time.Millisecond)

	cancel()
	require.Error(t, <-done)
}
