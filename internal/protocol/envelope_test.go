package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{
			name: "join with payload",
			env:  MustNew(TypeRoomJoin, JoinRequest{Room: "r1", DisplayName: "alice"}),
		},
		{
			name: "leave needs nothing",
			env:  Envelope{Type: TypeRoomLeave},
		},
		{
			name:    "join without payload",
			env:     Envelope{Type: TypeRoomJoin},
			wantErr: true,
		},
		{
			name: "offer addressed",
			env:  Envelope{Type: TypeCallOffer, To: "peer"},
		},
		{
			name:    "offer without destination",
			env:     Envelope{Type: TypeCallOffer},
			wantErr: true,
		},
		{
			name:    "candidate without destination",
			env:     Envelope{Type: TypeICECandidate},
			wantErr: true,
		},
		{
			name: "chat with payload",
			env:  MustNew(TypeChatMessage, ChatSend{Text: "hi", DisplayName: "alice"}),
		},
		{
			name:    "server-emitted type from client",
			env:     Envelope{Type: TypeRoomJoined},
			wantErr: true,
		},
		{
			name:    "unknown type",
			env:     Envelope{Type: "room:explode"},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.env.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	env := Envelope{
		Type:    TypeRoomJoin,
		Payload: json.RawMessage(`{"room":"r1","displayName":"alice","admin":true}`),
	}
	var req JoinRequest
	require.Error(t, env.Decode(&req))
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	env := Envelope{
		Type:    TypeRoomJoin,
		Payload: json.RawMessage(`{"room":"r1","displayName":"alice"}{"extra":1}`),
	}
	var req JoinRequest
	require.Error(t, env.Decode(&req))
}

func TestDecodeRoundTrip(t *testing.T) {
	env := MustNew(TypeChatMessage, ChatMessage{ID: 7, Sender: "bob", Text: "hello", Timestamp: 12345})
	var msg ChatMessage
	require.NoError(t, env.Decode(&msg))
	require.Equal(t, int64(7), msg.ID)
	require.Equal(t, "bob", msg.Sender)
	require.Equal(t, "hello", msg.Text)
}

func TestDeliveredRewrites(t *testing.T) {
	require.Equal(t, TypeCallIncoming, TypeCallOffer.Delivered())
	require.Equal(t, TypeCallAccepted, TypeCallAnswer.Delivered())
	require.Equal(t, TypeCallEnded, TypeCallEnd.Delivered())
	require.Equal(t, TypeICECandidate, TypeICECandidate.Delivered())
	require.Equal(t, TypeChatMessage, TypeChatMessage.Delivered())
}

func TestSessionDescriptionToPion(t *testing.T) {
	_, err := SessionDescription{Type: "offer", SDP: "v=0"}.ToPion()
	require.NoError(t, err)

	_, err = SessionDescription{Type: "rollback", SDP: "v=0"}.ToPion()
	require.Error(t, err)

	_, err = SessionDescription{Type: "offer"}.ToPion()
	require.Error(t, err)
}
