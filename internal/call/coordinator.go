// Package call implements the client side of the two-party call engine:
// the peer negotiation coordinator (offer/answer/candidate state machine)
// and the call session controller that orchestrates it.
package call

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/atultiwari000/video-chat-app-2/internal/protocol"
)

// SignalingState is the coordinator's negotiation state.
type SignalingState string

const (
	// StateStable means no negotiation is outstanding.
	StateStable SignalingState = "stable"
	// StateHaveLocalOffer means a local offer was sent and an answer is
	// awaited.
	StateHaveLocalOffer SignalingState = "have-local-offer"
	// StateClosed means the coordinator was torn down for good.
	StateClosed SignalingState = "closed"
)

// Role is the arbitrated side of the handshake.
type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}

// RoleFor arbitrates deterministically: the total-order-smaller id always
// offers, so a pair never yields two offerers.
func RoleFor(localID, peerID string) Role {
	if localID < peerID {
		return RoleOfferer
	}
	return RoleAnswerer
}

// DefaultDebounce delays the automatic offer so both sides finish
// acquiring local media first.
const DefaultDebounce = 500 * time.Millisecond

// Sender delivers envelopes to the signaling server.
type Sender interface {
	Send(env protocol.Envelope)
}

// Coordinator owns the per-session handshake state machine. Methods may
// be called from any goroutine; suspension points (media acquisition,
// transport construction, offer/answer generation) run outside the lock
// and their results are discarded when the generation moved on.
type Coordinator struct {
	localID     string
	displayName string

	factory TransportFactory
	media   MediaProvider
	signals Sender
	log     *slog.Logger

	// Debounce before the arbitrated offerer auto-initiates.
	debounce    time.Duration
	constraints Constraints

	onReady       func()
	onRemoteTrack func(*webrtc.TrackRemote)
	onConnState   func(webrtc.PeerConnectionState)

	mu                   sync.Mutex
	state                SignalingState
	peerID               string
	remoteDescriptionSet bool
	candidateQueue       []protocol.Candidate
	hasInitiatedCall     bool
	isProcessingCall     bool
	generation           uint64
	transport            Transport
	localMedia           *LocalMedia
	attached             map[string]bool
}

// CoordinatorParams bundles the coordinator's collaborators.
type CoordinatorParams struct {
	LocalID     string
	DisplayName string
	Factory     TransportFactory
	Media       MediaProvider
	Signals     Sender
	Log         *slog.Logger
	Debounce    time.Duration
	Constraints Constraints

	// OnReady fires after reset publishes a fresh transport so dependent
	// observers can resubscribe.
	OnReady func()
	// OnRemoteTrack fires when the peer's media arrives.
	OnRemoteTrack func(*webrtc.TrackRemote)
	// OnConnState observes transport connection state transitions.
	OnConnState func(webrtc.PeerConnectionState)
}

func NewCoordinator(p CoordinatorParams) *Coordinator {
	debounce := p.Debounce
	if debounce == 0 {
		debounce = DefaultDebounce
	}
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		localID:       p.LocalID,
		displayName:   p.DisplayName,
		factory:       p.Factory,
		media:         p.Media,
		signals:       p.Signals,
		log:           log,
		debounce:      debounce,
		constraints:   p.Constraints,
		onReady:       p.OnReady,
		onRemoteTrack: p.OnRemoteTrack,
		onConnState:   p.OnConnState,
		state:         StateStable,
		attached:      make(map[string]bool),
	}
}

// SetPeer records the peer and arbitrates the role. The offerer schedules
// an automatic InitiateCall after the debounce; the answerer waits for the
// incoming offer.
func (c *Coordinator) SetPeer(peerID string) Role {
	c.mu.Lock()
	c.peerID = peerID
	gen := c.generation
	c.mu.Unlock()

	role := RoleFor(c.localID, peerID)
	c.log.Debug("peer arbitrated", "peer", peerID, "role", role.String())

	if role == RoleOfferer {
		time.AfterFunc(c.debounce, func() {
			c.mu.Lock()
			stale := gen != c.generation
			c.mu.Unlock()
			if stale {
				return
			}
			if err := c.InitiateCall(context.Background()); err != nil {
				c.log.Debug("auto call skipped", "err", err)
			}
		})
	}
	return role
}

// InitiateCall acquires local media, attaches it, and sends an offer to
// the known peer. Guarded so at most one negotiation round is in flight
// and a session initiates at most once; failures roll the initiation
// latch back so a later attempt can succeed.
func (c *Coordinator) InitiateCall(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.peerID == "" {
		c.mu.Unlock()
		return ErrNoPeer
	}
	if c.isProcessingCall {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.hasInitiatedCall {
		c.mu.Unlock()
		return ErrAlreadyInitiated
	}
	c.isProcessingCall = true
	c.hasInitiatedCall = true
	gen := c.generation
	peer := c.peerID
	c.mu.Unlock()

	offer, err := c.prepareOffer(ctx, gen)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.isProcessingCall = false

	if gen != c.generation {
		// A reset raced the offer; the result is stale.
		return nil
	}
	if err != nil {
		c.hasInitiatedCall = false
		return err
	}

	c.state = StateHaveLocalOffer
	env := protocol.MustNew(protocol.TypeCallOffer, protocol.OfferPayload{
		SDP:         offer,
		DisplayName: c.displayName,
	})
	env.To = peer
	c.signals.Send(env)
	return nil
}

// prepareOffer runs the suspension points of an initiate round.
func (c *Coordinator) prepareOffer(ctx context.Context, gen uint64) (protocol.SessionDescription, error) {
	media, err := c.acquireMedia(ctx, gen)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	t, err := c.ensureTransport(ctx, gen)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	if err := c.attachTracks(t, media); err != nil {
		return protocol.SessionDescription{}, err
	}
	return t.CreateOffer(ctx)
}

// HandleIncomingOffer consumes the peer's offer and replies with an
// answer. A competing offer while a round is in flight is dropped, never
// queued. Glare (an offer arriving while our own offer is outstanding) is
// resolved deterministically: the higher id's offer wins; the loser rolls
// its transport over and answers the surviving offer.
func (c *Coordinator) HandleIncomingOffer(ctx context.Context, from string, offer protocol.OfferPayload) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.isProcessingCall {
		c.mu.Unlock()
		c.log.Debug("dropping competing offer while busy", "from", from)
		return nil
	}
	if c.state == StateHaveLocalOffer {
		if from < c.localID {
			c.mu.Unlock()
			c.log.Debug("glare: local offer wins, dropping incoming", "from", from)
			return nil
		}
		c.log.Debug("glare: remote offer wins, discarding local offer", "from", from)
		c.rolloverLocked()
	}
	if c.peerID == "" {
		c.peerID = from
	}
	c.isProcessingCall = true
	gen := c.generation
	c.mu.Unlock()

	answer, err := c.prepareAnswer(ctx, gen, offer.SDP)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.isProcessingCall = false

	if gen != c.generation {
		return nil
	}
	if err != nil {
		c.log.Warn("answering incoming offer failed", "err", err)
		return err
	}

	c.remoteDescriptionSet = true
	c.state = StateStable
	env := protocol.MustNew(protocol.TypeCallAnswer, protocol.AnswerPayload{
		SDP:         answer,
		DisplayName: c.displayName,
	})
	env.To = from
	c.signals.Send(env)
	c.flushCandidatesLocked()
	return nil
}

func (c *Coordinator) prepareAnswer(ctx context.Context, gen uint64, offer protocol.SessionDescription) (protocol.SessionDescription, error) {
	media, err := c.acquireMedia(ctx, gen)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	t, err := c.ensureTransport(ctx, gen)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	if err := c.attachTracks(t, media); err != nil {
		return protocol.SessionDescription{}, err
	}
	return t.CreateAnswer(ctx, offer)
}

// HandleAnswer applies the peer's answer to our outstanding offer. An
// answer in stable state is an idempotently ignored duplicate; any other
// state is a dropped, non-fatal protocol violation.
func (c *Coordinator) HandleAnswer(answer protocol.AnswerPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state == StateHaveLocalOffer:
		// The expected case, handled below.
	case c.state == StateStable && c.remoteDescriptionSet:
		c.log.Debug("ignoring duplicate answer")
		return nil
	default:
		c.log.Debug("dropping answer in wrong state", "state", c.state)
		return nil
	}

	if c.transport == nil {
		c.log.Debug("dropping answer without transport")
		return nil
	}
	if err := c.transport.SetRemoteAnswer(answer.SDP); err != nil {
		c.log.Warn("applying remote answer failed", "err", err)
		return err
	}

	c.remoteDescriptionSet = true
	c.state = StateStable
	c.flushCandidatesLocked()
	return nil
}

// HandleRemoteCandidate applies a candidate immediately when the remote
// description is set, otherwise queues it FIFO for the single flush that
// happens when it becomes set. A malformed candidate fails locally and is
// only logged.
func (c *Coordinator) HandleRemoteCandidate(cand protocol.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return
	}
	if !c.remoteDescriptionSet || c.transport == nil {
		c.candidateQueue = append(c.candidateQueue, cand)
		return
	}
	if err := c.transport.AddICECandidate(cand); err != nil {
		c.log.Warn("applying remote candidate failed", "err", err)
	}
}

// flushCandidatesLocked applies the queued candidates in arrival order.
// Called with the lock held, exactly when remoteDescriptionSet turns true.
func (c *Coordinator) flushCandidatesLocked() {
	if c.transport == nil {
		return
	}
	for _, cand := range c.candidateQueue {
		if err := c.transport.AddICECandidate(cand); err != nil {
			c.log.Warn("applying queued candidate failed", "err", err)
		}
	}
	c.candidateQueue = nil
}

// Renegotiate attaches a new track mid-call and runs a fresh offer/answer
// round. The side adding a track always re-offers, regardless of its
// original role.
func (c *Coordinator) Renegotiate(ctx context.Context, track webrtc.TrackLocal) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.transport == nil {
		c.mu.Unlock()
		return ErrNoTransport
	}
	if c.isProcessingCall {
		c.mu.Unlock()
		return ErrBusy
	}
	c.isProcessingCall = true
	gen := c.generation
	t := c.transport
	peer := c.peerID
	c.mu.Unlock()

	offer, err := func() (protocol.SessionDescription, error) {
		if err := t.AddTrack(track); err != nil {
			return protocol.SessionDescription{}, err
		}
		return t.CreateOffer(ctx)
	}()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.isProcessingCall = false

	if gen != c.generation {
		return nil
	}
	if err != nil {
		return err
	}

	c.attached[track.ID()] = true
	c.state = StateHaveLocalOffer
	env := protocol.MustNew(protocol.TypeCallOffer, protocol.OfferPayload{
		SDP:         offer,
		DisplayName: c.displayName,
	})
	env.To = peer
	c.signals.Send(env)
	return nil
}

// Reset tears the current negotiation down and publishes a fresh idle
// transport: senders removed, transport closed, every queue and flag
// cleared. Safe to call from any state; in-flight async results from the
// old generation are discarded when they land.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	old := c.detachLocked()
	c.peerID = ""
	c.candidateQueue = nil
	gen := c.generation
	c.mu.Unlock()

	// The old instance is fully decommissioned before the replacement is
	// constructed and published.
	c.decommission(old)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.ensureTransport(ctx, gen); err != nil {
		// The next negotiation round constructs it lazily instead.
		c.log.Debug("deferring transport construction", "err", err)
	}

	if c.onReady != nil {
		c.onReady()
	}
}

// rolloverLocked invalidates the current negotiation round on the glare
// path. The remote candidates already queued belong to the surviving
// remote offer, so the queue is kept. The detached transport is retired
// off the lock: closing it can re-enter coordinator callbacks.
func (c *Coordinator) rolloverLocked() {
	old := c.detachLocked()
	if old != nil {
		go c.decommission(old)
	}
}

// detachLocked bumps the generation, detaches the transport, and clears
// the round flags. Callers decide what happens to the detached instance
// and the candidate queue.
func (c *Coordinator) detachLocked() Transport {
	c.generation++
	old := c.transport
	c.transport = nil
	c.remoteDescriptionSet = false
	c.hasInitiatedCall = false
	c.isProcessingCall = false
	c.attached = make(map[string]bool)
	if c.state != StateClosed {
		c.state = StateStable
	}
	return old
}

// decommission fully retires a detached transport: tracks removed first,
// then closed.
func (c *Coordinator) decommission(t Transport) {
	if t == nil {
		return
	}
	if err := t.RemoveSenders(); err != nil {
		c.log.Debug("removing senders failed", "err", err)
	}
	if err := t.Close(); err != nil {
		c.log.Debug("closing transport failed", "err", err)
	}
}

// ReleaseMedia stops and forgets the cached local media.
func (c *Coordinator) ReleaseMedia() {
	c.mu.Lock()
	media := c.localMedia
	c.localMedia = nil
	c.mu.Unlock()
	if media != nil {
		media.Stop()
	}
}

// Close shuts the coordinator down for good.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.state = StateClosed
	old := c.transport
	c.transport = nil
	c.generation++
	c.candidateQueue = nil
	media := c.localMedia
	c.localMedia = nil
	c.mu.Unlock()

	if media != nil {
		media.Stop()
	}
	c.decommission(old)
}

// acquireMedia lazily acquires local media once and caches it.
func (c *Coordinator) acquireMedia(ctx context.Context, gen uint64) (*LocalMedia, error) {
	c.mu.Lock()
	if c.localMedia != nil {
		media := c.localMedia
		c.mu.Unlock()
		return media, nil
	}
	c.mu.Unlock()

	media, err := c.media.Acquire(ctx, c.constraints)
	if err != nil {
		return nil, NewError("acquire local media", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		media.Stop()
		return nil, ErrClosed
	}
	if c.localMedia == nil {
		c.localMedia = media
	} else {
		media.Stop()
	}
	return c.localMedia, nil
}

// ensureTransport lazily constructs the owned transport for the given
// generation. A transport built for a stale generation is discarded.
func (c *Coordinator) ensureTransport(ctx context.Context, gen uint64) (Transport, error) {
	c.mu.Lock()
	if c.transport != nil {
		t := c.transport
		c.mu.Unlock()
		return t, nil
	}
	if gen != c.generation || c.state == StateClosed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.mu.Unlock()

	t, err := c.factory.New(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if gen != c.generation || c.state == StateClosed {
		c.mu.Unlock()
		c.decommission(t)
		return nil, ErrClosed
	}
	if c.transport != nil {
		existing := c.transport
		c.mu.Unlock()
		c.decommission(t)
		return existing, nil
	}
	c.transport = t
	c.mu.Unlock()

	c.wireTransport(t, gen)
	return t, nil
}

// wireTransport installs the per-instance callbacks. Each callback checks
// the generation so a decommissioned transport cannot signal on behalf of
// its successor.
func (c *Coordinator) wireTransport(t Transport, gen uint64) {
	t.OnICECandidate(func(cand protocol.Candidate) {
		c.mu.Lock()
		stale := gen != c.generation
		peer := c.peerID
		c.mu.Unlock()
		if stale || peer == "" {
			return
		}
		env := protocol.MustNew(protocol.TypeICECandidate, protocol.CandidatePayload{Candidate: cand})
		env.To = peer
		c.signals.Send(env)
	})

	t.OnTrack(func(track *webrtc.TrackRemote) {
		c.mu.Lock()
		stale := gen != c.generation
		c.mu.Unlock()
		if stale || c.onRemoteTrack == nil {
			return
		}
		c.onRemoteTrack(track)
	})

	t.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.mu.Lock()
		stale := gen != c.generation
		c.mu.Unlock()
		if stale || c.onConnState == nil {
			return
		}
		c.onConnState(state)
	})
}

// attachTracks adds not-yet-attached local tracks to the transport.
func (c *Coordinator) attachTracks(t Transport, media *LocalMedia) error {
	for _, track := range media.Tracks() {
		c.mu.Lock()
		done := c.attached[track.ID()]
		c.mu.Unlock()
		if done {
			continue
		}
		if err := t.AddTrack(track); err != nil {
			return err
		}
		c.mu.Lock()
		c.attached[track.ID()] = true
		c.mu.Unlock()
	}
	return nil
}

// State returns the current signaling state.
func (c *Coordinator) State() SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PeerID returns the currently known peer id, empty when alone.
func (c *Coordinator) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// RemoteDescriptionSet reports whether the peer's description is applied.
func (c *Coordinator) RemoteDescriptionSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteDescriptionSet
}

// QueuedCandidates returns the number of buffered remote candidates.
func (c *Coordinator) QueuedCandidates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.candidateQueue)
}

// HasInitiatedCall reports the initiation latch.
func (c *Coordinator) HasInitiatedCall() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasInitiatedCall
}
