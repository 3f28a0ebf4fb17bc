package radio

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/dennis006/agentbee-sub002/internal/domain/track"
)

type PlaylistProviderConfig struct {
	PlaylistURL string `yaml:"playlist_url" mapstructure:"playlist_url" validate:"required"`
}

// PlaylistProvider provides radio tracks by randomly selecting from a
// configured playlist. It maintains an internal cache to minimize
// playlist API calls.
type PlaylistProvider struct {
	client         PlaylistClient
	cache          []*track.Track
	candidateCount int // Target cache size
	config         *PlaylistProviderConfig
}

// NewPlaylistProvider creates a new PlaylistProvider.
func NewPlaylistProvider(client PlaylistClient, candidateCount int, settings map[string]any) (*PlaylistProvider, error) {
	var config PlaylistProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	zlog.Debug().Msgf("radio: playlist provider config: %+v", config)
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return &PlaylistProvider{
		client:         client,
		cache:          make([]*track.Track, 0),
		candidateCount: candidateCount,
		config:         &config,
	}, nil
}

// GetCandidates retrieves random tracks from the configured playlist.
// Maintains a cache to avoid redundant API calls when random selection
// returns duplicates.
func (p *PlaylistProvider) GetCandidates(ctx context.Context, count int, excludeIDs map[string]bool) ([]*track.Track, error) {
	if count <= 0 {
		return []*track.Track{}, nil
	}

	available := make([]*track.Track, 0)
	for _, t := range p.cache {
		if !excludeIDs[t.SourceRef] {
			available = append(available, t)
		}
	}

	if len(available) < count {
		needed := p.candidateCount - len(available)
		fetched, err := p.client.GetPlaylistTracksRandom(ctx, p.config.PlaylistURL, needed)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get random tracks from playlist")
		}
		for _, t := range fetched {
			if !excludeIDs[t.SourceRef] && !containsRef(available, t.SourceRef) {
				available = append(available, t)
			}
		}
	}

	if len(available) == 0 {
		return []*track.Track{}, nil
	}

	returnCount := count
	if returnCount > len(available) {
		returnCount = len(available)
	}
	result := available[:returnCount]
	p.cache = available[returnCount:]
	return result, nil
}

// Name returns the provider name.
func (p *PlaylistProvider) Name() string {
	return "playlist"
}

func containsRef(tracks []*track.Track, ref string) bool {
	for _, t := range tracks {
		if t.SourceRef == ref {
			return true
		}
	}
	return false
}
