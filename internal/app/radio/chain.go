package radio

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/dennis006/agentbee-sub002/internal/domain/track"
)

// CandidateWithSource represents a track candidate with its source provider info.
type CandidateWithSource struct {
	Track       *track.Track
	DisplayName string
}

// ProviderWithMetadata wraps a provider with its metadata.
type ProviderWithMetadata struct {
	Provider    Provider
	DisplayName string
}

// Chain tries multiple providers in order until enough candidates are found.
type Chain struct {
	providers []ProviderWithMetadata
}

// NewChain creates a new provider chain.
func NewChain(providers []ProviderWithMetadata) *Chain {
	return &Chain{
		providers: providers,
	}
}

// GetCandidates retrieves candidates from all providers. Every provider
// is tried to maximize the pool; candidates are stamped as radio-origin
// tracks with a fresh enqueue ID.
func (c *Chain) GetCandidates(ctx context.Context, count int, excludeIDs map[string]bool) ([]CandidateWithSource, error) {
	var all []CandidateWithSource
	exclude := make(map[string]bool, len(excludeIDs))
	for k, v := range excludeIDs {
		exclude[k] = v
	}

	for i, pm := range c.providers {
		zlog.Debug().Msgf("radio: trying provider: index=%d total=%d name=%s provider_type=%s",
			i+1, len(c.providers), pm.DisplayName, pm.Provider.Name())

		candidates, err := pm.Provider.GetCandidates(ctx, count, exclude)
		if err != nil {
			zlog.Warn().Msgf("radio: provider failed, trying next: provider=%s error=%v", pm.DisplayName, err)
			continue
		}
		if len(candidates) == 0 {
			zlog.Debug().Msgf("radio: provider returned no candidates: provider=%s", pm.DisplayName)
			continue
		}

		for _, t := range candidates {
			if t.ID == "" {
				t.ID = uuid.NewString()
			}
			t.Origin = track.OriginRadio
			all = append(all, CandidateWithSource{
				Track:       t,
				DisplayName: pm.DisplayName,
			})
			exclude[t.SourceRef] = true
		}

		zlog.Info().Msgf("radio: provider returned candidates: provider=%s count=%d total_so_far=%d",
			pm.DisplayName, len(candidates), len(all))
	}

	if len(all) == 0 {
		return nil, errors.New("all radio providers failed to return candidates")
	}
	return all, nil
}

// Name returns the chain name.
func (c *Chain) Name() string {
	return "provider_chain"
}
