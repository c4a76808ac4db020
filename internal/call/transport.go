package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/atultiwari000/video-chat-app-2/internal/protocol"
)

// Transport is the peer media transport owned by a coordinator. Exactly
// one coordinator owns a transport instance; only the coordinator's reset
// path may replace it.
type Transport interface {
	// CreateOffer creates an offer and installs it as the local
	// description.
	CreateOffer(ctx context.Context) (protocol.SessionDescription, error)

	// CreateAnswer applies the remote offer, creates an answer, and
	// installs it as the local description.
	CreateAnswer(ctx context.Context, offer protocol.SessionDescription) (protocol.SessionDescription, error)

	// SetRemoteAnswer applies the peer's answer to a sent offer.
	SetRemoteAnswer(answer protocol.SessionDescription) error

	// AddICECandidate applies one remote candidate.
	AddICECandidate(c protocol.Candidate) error

	// AddTrack attaches a local track for sending.
	AddTrack(track webrtc.TrackLocal) error

	// RemoveSenders detaches every outbound track.
	RemoveSenders() error

	OnICECandidate(func(protocol.Candidate))
	OnTrack(func(*webrtc.TrackRemote))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))

	Close() error
}

// TransportFactory builds fresh transports so reset can replace a
// decommissioned instance.
type TransportFactory interface {
	New(ctx context.Context) (Transport, error)
}

// PionFactory builds pion-backed transports using traversal descriptors
// from the credential provider.
type PionFactory struct {
	Creds CredentialProvider
	Log   *slog.Logger
}

func (f *PionFactory) New(ctx context.Context) (Transport, error) {
	servers, err := f.Creds.ICEServers(ctx)
	if err != nil {
		return nil, NewError("fetch traversal credentials", err)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = &slogLoggerFactory{log: f.Log}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, NewError("create peer connection", err)
	}

	return &pionTransport{pc: pc}, nil
}

type pionTransport struct {
	mu sync.Mutex
	pc *webrtc.PeerConnection
}

func (t *pionTransport) CreateOffer(ctx context.Context) (protocol.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, NewError("create offer", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return protocol.SessionDescription{}, NewError("set local description", err)
	}
	return protocol.DescriptionFromPion(*t.pc.LocalDescription()), nil
}

func (t *pionTransport) CreateAnswer(ctx context.Context, offer protocol.SessionDescription) (protocol.SessionDescription, error) {
	remote, err := offer.ToPion()
	if err != nil {
		return protocol.SessionDescription{}, NewError("parse remote offer", err)
	}
	if err := t.pc.SetRemoteDescription(remote); err != nil {
		return protocol.SessionDescription{}, NewError("set remote description", err)
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, NewError("create answer", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return protocol.SessionDescription{}, NewError("set local description", err)
	}
	return protocol.DescriptionFromPion(*t.pc.LocalDescription()), nil
}

func (t *pionTransport) SetRemoteAnswer(answer protocol.SessionDescription) error {
	desc, err := answer.ToPion()
	if err != nil {
		return NewError("parse remote answer", err)
	}
	if desc.Type != webrtc.SDPTypeAnswer {
		return NewError("apply remote answer", fmt.Errorf("unexpected sdp type %q", desc.Type))
	}
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return NewError("set remote description", err)
	}
	return nil
}

func (t *pionTransport) AddICECandidate(c protocol.Candidate) error {
	if err := t.pc.AddICECandidate(c.ToPion()); err != nil {
		return NewError("add ICE candidate", err)
	}
	return nil
}

func (t *pionTransport) AddTrack(track webrtc.TrackLocal) error {
	if _, err := t.pc.AddTrack(track); err != nil {
		return NewError("add track", err)
	}
	return nil
}

func (t *pionTransport) RemoveSenders() error {
	var last error
	for _, sender := range t.pc.GetSenders() {
		if err := t.pc.RemoveTrack(sender); err != nil {
			last = err
		}
	}
	if last != nil {
		return NewError("remove senders", last)
	}
	return nil
}

func (t *pionTransport) OnICECandidate(f func(protocol.Candidate)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		f(protocol.CandidateFromPion(c.ToJSON()))
	})
}

func (t *pionTransport) OnTrack(f func(*webrtc.TrackRemote)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		f(track)
	})
}

func (t *pionTransport) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	t.pc.OnConnectionStateChange(f)
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}

// slogLoggerFactory bridges pion's internal logging into slog.
type slogLoggerFactory struct {
	log *slog.Logger
}

func (f *slogLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &slogLeveledLogger{log: f.log.With("scope", scope)}
}

type slogLeveledLogger struct {
	log *slog.Logger
}

func (l *slogLeveledLogger) Trace(msg string)                  { l.log.Debug(msg) }
func (l *slogLeveledLogger) Tracef(format string, args ...any) { l.log.Debug(fmt.Sprintf(format, args...)) }
func (l *slogLeveledLogger) Debug(msg string)                  { l.log.Debug(msg) }
func (l *slogLeveledLogger) Debugf(format string, args ...any) { l.log.Debug(fmt.Sprintf(format, args...)) }
func (l *slogLeveledLogger) Info(msg string)                   { l.log.Info(msg) }
func (l *slogLeveledLogger) Infof(format string, args ...any)  { l.log.Info(fmt.Sprintf(format, args...)) }
func (l *slogLeveledLogger) Warn(msg string)                   { l.log.Warn(msg) }
func (l *slogLeveledLogger) Warnf(format string, args ...any)  { l.log.Warn(fmt.Sprintf(format, args...)) }
func (l *slogLeveledLogger) Error(msg string)                  { l.log.Error(msg) }
func (l *slogLeveledLogger) Errorf(format string, args ...any) { l.log.Error(fmt.Sprintf(format, args...)) }
