package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/atultiwari000/video-chat-app-2/internal/protocol"
)

type fakeTransport struct {
	mu             sync.Mutex
	candidates     []protocol.Candidate
	tracks         []string
	remoteSet      int
	offersCreated  int
	answersCreated int
	sendersRemoved bool
	closed         bool

	failAnswer       bool
	failRemoteAnswer bool

	onCandidate func(protocol.Candidate)
	onTrack     func(*webrtc.TrackRemote)
	onConnState func(webrtc.PeerConnectionState)
}

func (f *fakeTransport) CreateOffer(ctx context.Context) (protocol.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offersCreated++
	return protocol.SessionDescription{Type: "offer", SDP: "v=0 local-offer"}, nil
}

func (f *fakeTransport) CreateAnswer(ctx context.Context, offer protocol.SessionDescription) (protocol.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAnswer {
		return protocol.SessionDescription{}, errors.New("answer failed")
	}
	f.remoteSet++
	f.answersCreated++
	return protocol.SessionDescription{Type: "answer", SDP: "v=0 local-answer"}, nil
}

func (f *fakeTransport) SetRemoteAnswer(answer protocol.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRemoteAnswer {
		return errors.New("remote answer failed")
	}
	f.remoteSet++
	return nil
}

func (f *fakeTransport) AddICECandidate(c protocol.Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeTransport) AddTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, track.ID())
	return nil
}

func (f *fakeTransport) RemoveSenders() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendersRemoved = true
	return nil
}

func (f *fakeTransport) OnICECandidate(fn func(protocol.Candidate)) { f.onCandidate = fn }
func (f *fakeTransport) OnTrack(fn func(*webrtc.TrackRemote))       { f.onTrack = fn }
func (f *fakeTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.onConnState = fn
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) appliedCandidates() []protocol.Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Candidate(nil), f.candidates...)
}

type fakeFactory struct {
	mu    sync.Mutex
	built []*fakeTransport
	err   error
}

func (f *fakeFactory) New(ctx context.Context) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t := &fakeTransport{}
	f.built = append(f.built, t)
	return t, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.built) == 0 {
		return nil
	}
	return f.built[len(f.built)-1]
}

type fakeMedia struct {
	mu    sync.Mutex
	err   error
	gate  chan struct{} // when set, Acquire blocks until it closes
	calls int
}

func (f *fakeMedia) Acquire(ctx context.Context, c Constraints) (*LocalMedia, error) {
	f.mu.Lock()
	gate := f.gate
	err := f.err
	f.calls++
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return NewLocalMedia(nil, nil), nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []protocol.Envelope
}

func (f *fakeSender) Send(env protocol.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
}

func (f *fakeSender) byType(t protocol.Type) []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Envelope
	for _, env := range f.sent {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func newTestCoordinator(localID string) (*Coordinator, *fakeFactory, *fakeSender, *fakeMedia) {
	factory := &fakeFactory{}
	sender := &fakeSender{}
	media := &fakeMedia{}
	c := NewCoordinator(CoordinatorParams{
		LocalID:  localID,
		Factory:  factory,
		Media:    media,
		Signals:  sender,
		Debounce: time.Hour, // tests drive negotiation by hand
	})
	return c, factory, sender, media
}

func cand(s string) protocol.Candidate {
	return protocol.Candidate{Candidate: s}
}

func offerFrom(name string) protocol.OfferPayload {
	return protocol.OfferPayload{
		SDP:         protocol.SessionDescription{Type: "offer", SDP: "v=0 remote-offer"},
		DisplayName: name,
	}
}

func answerPayload() protocol.AnswerPayload {
	return protocol.AnswerPayload{
		SDP: protocol.SessionDescription{Type: "answer", SDP: "v=0 remote-answer"},
	}
}

func TestRoleForDeterministicAndSymmetric(t *testing.T) {
	require.Equal(t, RoleOfferer, RoleFor("aaa", "zzz"))
	require.Equal(t, RoleAnswerer, RoleFor("zzz", "aaa"))

	// Exactly one side offers for any pair.
	pairs := [][2]string{{"aaa", "zzz"}, {"1", "2"}, {"abc", "abd"}}
	for _, p := range pairs {
		a := RoleFor(p[0], p[1])
		b := RoleFor(p[1], p[0])
		require.NotEqual(t, a, b)
	}
}

func TestInitiateCallSendsOffer(t *testing.T) {
	c, factory, sender, _ := newTestCoordinator("aaa")
	c.SetPeer("zzz")

	require.NoError(t, c.InitiateCall(context.Background()))

	require.Equal(t, StateHaveLocalOffer, c.State())
	require.True(t, c.HasInitiatedCall())
	require.Equal(t, 1, factory.count())

	offers := sender.byType(protocol.TypeCallOffer)
	require.Len(t, offers, 1)
	require.Equal(t, "zzz", offers[0].To)

	// A second initiation is refused while the first round stands.
	require.ErrorIs(t, c.InitiateCall(context.Background()), ErrAlreadyInitiated)
}

func TestInitiateCallWithoutPeer(t *testing.T) {
	c, _, _, _ := newTestCoordinator("aaa")
	require.ErrorIs(t, c.InitiateCall(context.Background()), ErrNoPeer)
}

func TestInitiateCallRollsBackOnMediaFailure(t *testing.T) {
	c, _, sender, media := newTestCoordinator("aaa")
	c.SetPeer("zzz")

	media.err = errors.New("permission denied")
	err := c.InitiateCall(context.Background())
	require.Error(t, err)
	require.False(t, c.HasInitiatedCall())
	require.Equal(t, StateStable, c.State())
	require.Empty(t, sender.byType(protocol.TypeCallOffer))

	// The latch rolled back, so a later attempt succeeds.
	media.err = nil
	require.NoError(t, c.InitiateCall(context.Background()))
	require.Equal(t, StateHaveLocalOffer, c.State())
}

func TestIncomingOfferProducesAnswer(t *testing.T) {
	c, factory, sender, _ := newTestCoordinator("zzz")

	require.NoError(t, c.HandleIncomingOffer(context.Background(), "aaa", offerFrom("alice")))

	require.Equal(t, StateStable, c.State())
	require.True(t, c.RemoteDescriptionSet())
	require.Equal(t, "aaa", c.PeerID())
	require.Equal(t, 1, factory.last().answersCreated)

	answers := sender.byType(protocol.TypeCallAnswer)
	require.Len(t, answers, 1)
	require.Equal(t, "aaa", answers[0].To)
}

func TestCandidatesQueueUntilRemoteDescription(t *testing.T) {
	c, factory, _, _ := newTestCoordinator("zzz")

	// Candidates outrace the offer they depend on.
	c.HandleRemoteCandidate(cand("c1"))
	c.HandleRemoteCandidate(cand("c2"))
	c.HandleRemoteCandidate(cand("c3"))
	require.Equal(t, 3, c.QueuedCandidates())

	require.NoError(t, c.HandleIncomingOffer(context.Background(), "aaa", offerFrom("alice")))

	require.Equal(t, 0, c.QueuedCandidates())
	applied := factory.last().appliedCandidates()
	require.Equal(t, []protocol.Candidate{cand("c1"), cand("c2"), cand("c3")}, applied)

	// Once the remote description is set, candidates apply immediately.
	c.HandleRemoteCandidate(cand("c4"))
	require.Equal(t, 0, c.QueuedCandidates())
	require.Len(t, factory.last().appliedCandidates(), 4)
}

func TestAnswerAppliesOnlyInHaveLocalOffer(t *testing.T) {
	c, factory, _, _ := newTestCoordinator("aaa")
	c.SetPeer("zzz")

	// Answer before any offer: dropped as a protocol violation.
	require.NoError(t, c.HandleAnswer(answerPayload()))
	require.False(t, c.RemoteDescriptionSet())

	require.NoError(t, c.InitiateCall(context.Background()))
	require.NoError(t, c.HandleAnswer(answerPayload()))
	require.Equal(t, StateStable, c.State())
	require.True(t, c.RemoteDescriptionSet())
	require.Equal(t, 1, factory.last().remoteSet)

	// Duplicate answer is idempotently ignored.
	require.NoError(t, c.HandleAnswer(answerPayload()))
	require.Equal(t, 1, factory.last().remoteSet)
}

func TestCompetingOfferWhileBusyIsDropped(t *testing.T) {
	c, _, sender, media := newTestCoordinator("aaa")
	c.SetPeer("zzz")

	gate := make(chan struct{})
	media.gate = gate

	done := make(chan error, 1)
	go func() { done <- c.InitiateCall(context.Background()) }()

	// Wait until the initiate round is suspended on media acquisition.
	require.Eventually(t, func() bool {
		media.mu.Lock()
		defer media.mu.Unlock()
		return media.calls > 0
	}, time.Second, time.Millisecond)

	// The competing offer arrives while busy: dropped, never queued.
	require.NoError(t, c.HandleIncomingOffer(context.Background(), "zzz", offerFrom("bob")))
	require.Empty(t, sender.byType(protocol.TypeCallAnswer))

	close(gate)
	require.NoError(t, <-done)
	require.Equal(t, StateHaveLocalOffer, c.State())
}

func TestGlareRemoteOfferWins(t *testing.T) {
	// Local "bbb" has an offer outstanding when "zzz" offers too.
	// zzz is the higher id, so its offer wins: bbb rolls over and answers.
	c, factory, sender, _ := newTestCoordinator("bbb")
	c.SetPeer("zzz")
	require.NoError(t, c.InitiateCall(context.Background()))
	require.Equal(t, StateHaveLocalOffer, c.State())

	require.NoError(t, c.HandleIncomingOffer(context.Background(), "zzz", offerFrom("bob")))

	require.Equal(t, StateStable, c.State())
	require.True(t, c.RemoteDescriptionSet())
	require.Len(t, sender.byType(protocol.TypeCallAnswer), 1)
	require.Equal(t, 2, factory.count())
	require.Eventually(t, func() bool {
		first := factory.built[0]
		first.mu.Lock()
		defer first.mu.Unlock()
		return first.closed && first.sendersRemoved
	}, time.Second, time.Millisecond)
}

func TestGlareLocalOfferWins(t *testing.T) {
	// Local "zzz" is the higher id, so its outstanding offer survives and
	// the incoming one is dropped.
	c, factory, sender, _ := newTestCoordinator("zzz")
	c.SetPeer("aaa")
	require.NoError(t, c.InitiateCall(context.Background()))

	require.NoError(t, c.HandleIncomingOffer(context.Background(), "aaa", offerFrom("alice")))

	require.Equal(t, StateHaveLocalOffer, c.State())
	require.Empty(t, sender.byType(protocol.TypeCallAnswer))
	require.Equal(t, 1, factory.count())
}

func TestResetAllowsFreshNegotiation(t *testing.T) {
	c, factory, sender, _ := newTestCoordinator("aaa")
	c.SetPeer("zzz")
	require.NoError(t, c.InitiateCall(context.Background()))
	require.NoError(t, c.HandleAnswer(answerPayload()))
	first := factory.last()

	ready := make(chan struct{}, 1)
	c.onReady = func() { ready <- struct{}{} }
	c.Reset()

	select {
	case <-ready:
	default:
		t.Fatal("reset did not emit ready")
	}

	require.Equal(t, StateStable, c.State())
	require.False(t, c.RemoteDescriptionSet())
	require.False(t, c.HasInitiatedCall())
	require.Equal(t, 0, c.QueuedCandidates())
	require.Empty(t, c.PeerID())
	require.True(t, first.closed)
	require.True(t, first.sendersRemoved)
	require.Equal(t, 2, factory.count())

	// A fresh round succeeds and reaches stable again.
	c.SetPeer("zzz")
	require.NoError(t, c.InitiateCall(context.Background()))
	require.NoError(t, c.HandleAnswer(answerPayload()))
	require.Equal(t, StateStable, c.State())
	require.Len(t, sender.byType(protocol.TypeCallOffer), 2)
}

func TestResetAllowsIncomingOfferAfterwards(t *testing.T) {
	c, _, sender, _ := newTestCoordinator("zzz")
	require.NoError(t, c.HandleIncomingOffer(context.Background(), "aaa", offerFrom("alice")))
	c.Reset()

	require.NoError(t, c.HandleIncomingOffer(context.Background(), "aaa", offerFrom("alice")))
	require.Equal(t, StateStable, c.State())
	require.True(t, c.RemoteDescriptionSet())
	require.Len(t, sender.byType(protocol.TypeCallAnswer), 2)
}

func TestStaleInitiateResultDiscardedAfterReset(t *testing.T) {
	c, _, sender, media := newTestCoordinator("aaa")
	c.SetPeer("zzz")

	gate := make(chan struct{})
	media.gate = gate

	done := make(chan error, 1)
	go func() { done <- c.InitiateCall(context.Background()) }()
	require.Eventually(t, func() bool {
		media.mu.Lock()
		defer media.mu.Unlock()
		return media.calls > 0
	}, time.Second, time.Millisecond)

	// Teardown races the in-flight round.
	c.Reset()
	close(gate)
	require.NoError(t, <-done)

	// The stale result is discarded: no offer escapes, no latch sticks.
	require.Empty(t, sender.byType(protocol.TypeCallOffer))
	require.False(t, c.HasInitiatedCall())
	require.Equal(t, StateStable, c.State())
}

func TestRenegotiateReoffersRegardlessOfRole(t *testing.T) {
	// "zzz" answered originally; adding a track makes it re-offer anyway.
	c, factory, sender, _ := newTestCoordinator("zzz")
	require.NoError(t, c.HandleIncomingOffer(context.Background(), "aaa", offerFrom("alice")))
	require.Equal(t, StateStable, c.State())

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "local-media")
	require.NoError(t, err)

	require.NoError(t, c.Renegotiate(context.Background(), track))
	require.Equal(t, StateHaveLocalOffer, c.State())
	require.Contains(t, factory.last().tracks, "screen")

	offers := sender.byType(protocol.TypeCallOffer)
	require.Len(t, offers, 1)
	require.Equal(t, "aaa", offers[0].To)

	require.NoError(t, c.HandleAnswer(answerPayload()))
	require.Equal(t, StateStable, c.State())
}

func TestLocalCandidatesForwardedToPeer(t *testing.T) {
	c, factory, sender, _ := newTestCoordinator("aaa")
	c.SetPeer("zzz")
	require.NoError(t, c.InitiateCall(context.Background()))

	factory.last().onCandidate(cand("local-1"))

	sent := sender.byType(protocol.TypeICECandidate)
	require.Len(t, sent, 1)
	require.Equal(t, "zzz", sent[0].To)
}

func TestClosedCoordinatorRefusesWork(t *testing.T) {
	c, _, _, _ := newTestCoordinator("aaa")
	c.SetPeer("zzz")
	c.Close()

	require.Equal(t, StateClosed, c.State())
	require.ErrorIs(t, c.InitiateCall(context.Background()), ErrClosed)
	require.ErrorIs(t, c.HandleIncomingOffer(context.Background(), "zzz", offerFrom("bob")), ErrClosed)

	// Candidates after close are dropped, not queued.
	c.HandleRemoteCandidate(cand("late"))
	require.Equal(t, 0, c.QueuedCandidates())
}

func TestAutoCallAfterDebounce(t *testing.T) {
	factory := &fakeFactory{}
	sender := &fakeSender{}
	c := NewCoordinator(CoordinatorParams{
		LocalID:  "aaa",
		Factory:  factory,
		Media:    &fakeMedia{},
		Signals:  sender,
		Debounce: time.Millisecond,
	})

	role := c.SetPeer("zzz")
	require.Equal(t, RoleOfferer, role)

	require.Eventually(t, func() bool {
		return len(sender.byType(protocol.TypeCallOffer)) == 1
	}, time.Second, time.Millisecond)
	require.Equal(t, StateHaveLocalOffer, c.State())

	// The answerer side never auto-offers.
	c2, _, sender2, _ := newTestCoordinator("zzz")
	c2.debounce = time.Millisecond
	require.Equal(t, RoleAnswerer, c2.SetPeer("aaa"))
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, sender2.byType(protocol.TypeCallOffer))
}
