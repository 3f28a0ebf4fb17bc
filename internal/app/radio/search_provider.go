package radio

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/dennis006/agentbee-sub002/internal/domain/track"
)

type SearchProviderConfig struct {
	Query string `yaml:"query" mapstructure:"query" validate:"required"`
}

// SearchProvider provides radio tracks from a configured search query,
// for example a genre or mood station.
type SearchProvider struct {
	client SearchClient
	config *SearchProviderConfig
}

// NewSearchProvider creates a new SearchProvider.
func NewSearchProvider(client SearchClient, settings map[string]any) (*SearchProvider, error) {
	var config SearchProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return &SearchProvider{client: client, config: &config}, nil
}

// GetCandidates searches the configured query and returns the top hits
// not already queued.
func (p *SearchProvider) GetCandidates(ctx context.Context, count int, excludeIDs map[string]bool) ([]*track.Track, error) {
	if count <= 0 {
		return []*track.Track{}, nil
	}

	candidates, err := p.client.Search(ctx, p.config.Query)
	if err != nil {
		return nil, errors.Wrapf(err, "search failed: query=%s", p.config.Query)
	}

	result := make([]*track.Track, 0, count)
	for _, c := range candidates {
		if excludeIDs[c.SourceRef] {
			continue
		}
		result = append(result, &track.Track{
			Title:        c.Title,
			Author:       c.Author,
			SourceRef:    c.SourceRef,
			ThumbnailURL: c.ThumbnailURL,
			Duration:     c.Duration,
		})
		if len(result) >= count {
			break
		}
	}
	return result, nil
}

// Name returns the provider name.
func (p *SearchProvider) Name() string {
	return "search"
}
