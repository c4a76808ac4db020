package call

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Constraints selects which kinds of media to acquire.
type Constraints struct {
	Audio bool
	Video bool
}

// MediaProvider is the external media-capability collaborator. Acquire
// may suspend on a user permission prompt, so it takes a context.
type MediaProvider interface {
	Acquire(ctx context.Context, c Constraints) (*LocalMedia, error)
}

// LocalMedia is a set of acquired local tracks with per-track
// enable/disable. Stop is idempotent.
type LocalMedia struct {
	mu      sync.Mutex
	tracks  []webrtc.TrackLocal
	enabled map[string]bool
	stop    func()
	stopped bool
}

// NewLocalMedia wraps acquired tracks. stop releases the underlying
// capture resources; it may be nil.
func NewLocalMedia(tracks []webrtc.TrackLocal, stop func()) *LocalMedia {
	enabled := make(map[string]bool, len(tracks))
	for _, t := range tracks {
		enabled[t.ID()] = true
	}
	return &LocalMedia{tracks: tracks, enabled: enabled, stop: stop}
}

// Tracks returns the acquired tracks.
func (m *LocalMedia) Tracks() []webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), m.tracks...)
}

// SetEnabled toggles a track by id. Returns false for an unknown id.
func (m *LocalMedia) SetEnabled(trackID string, on bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.enabled[trackID]; !ok {
		return false
	}
	m.enabled[trackID] = on
	return true
}

// Enabled reports whether a track is enabled.
func (m *LocalMedia) Enabled(trackID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[trackID]
}

// Stop releases capture resources. Safe to call more than once.
func (m *LocalMedia) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	if m.stop != nil {
		m.stop()
	}
}

// StaticMediaProvider produces sample-backed tracks without touching any
// capture device. It stands in for a real capture provider in the CLI
// client and in tests.
type StaticMediaProvider struct{}

func (StaticMediaProvider) Acquire(ctx context.Context, c Constraints) (*LocalMedia, error) {
	var tracks []webrtc.TrackLocal

	if c.Audio {
		audio, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio", "local-media",
		)
		if err != nil {
			return nil, NewError("acquire audio track", err)
		}
		tracks = append(tracks, audio)
	}

	if c.Video {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "local-media",
		)
		if err != nil {
			return nil, NewError("acquire video track", err)
		}
		tracks = append(tracks, video)
	}

	return NewLocalMedia(tracks, nil), nil
}
