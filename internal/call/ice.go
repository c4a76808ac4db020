package call

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/atultiwari000/video-chat-app-2/internal/config"
)

// CredentialProvider is the external network-traversal collaborator: it
// returns the traversal server descriptors the peer transport should use.
type CredentialProvider interface {
	ICEServers(ctx context.Context) ([]webrtc.ICEServer, error)
}

// StaticCredentials serves traversal descriptors straight from config.
type StaticCredentials struct {
	cfg *config.Config
}

func NewStaticCredentials(cfg *config.Config) *StaticCredentials {
	return &StaticCredentials{cfg: cfg}
}

func (s *StaticCredentials) ICEServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	servers := []webrtc.ICEServer{{URLs: s.cfg.GetSTUNServers()}}

	if turn := s.cfg.GetTURNServers(); turn != nil {
		username, password := s.cfg.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}

	return servers, nil
}
