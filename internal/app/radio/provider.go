// Package radio provides curated track provision for radio mode.
package radio

import (
	"context"

	"github.com/dennis006/agentbee-sub002/internal/app/resolver"
	"github.com/dennis006/agentbee-sub002/internal/domain/track"
)

// Provider is the interface for radio track providers. Different
// implementations can source tracks through various strategies
// (playlist-based, search-based, etc.).
type Provider interface {
	// GetCandidates retrieves radio track candidates.
	// count: the number of candidates to retrieve
	// excludeIDs: source refs already in the queue (for duplicate avoidance)
	GetCandidates(ctx context.Context, count int, excludeIDs map[string]bool) ([]*track.Track, error)

	// Name returns the provider name (used in config).
	Name() string
}

// PlaylistClient defines the playlist operations needed by radio providers.
type PlaylistClient interface {
	GetPlaylistTracksRandom(ctx context.Context, playlistURL string, count int) ([]*track.Track, error)
}

// SearchClient defines the search operations needed by radio providers.
type SearchClient interface {
	Search(ctx context.Context, query string) ([]resolver.Candidate, error)
}
