package radio

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/dennis006/agentbee-sub002/internal/infra/config"
)

// NewChainFromConfig creates a provider chain from configuration.
func NewChainFromConfig(cfg *config.Config, playlists PlaylistClient, search SearchClient) (*Chain, error) {
	if len(cfg.Radio.Providers) == 0 {
		return nil, errors.New("no radio providers configured")
	}

	var providers []ProviderWithMetadata

	for i, pcfg := range cfg.Radio.Providers {
		var provider Provider
		var err error
		zlog.Debug().Msgf("radio: creating provider: index=%d type=%s settings=%+v", i+1, pcfg.Type, pcfg.Settings)
		switch pcfg.Type {
		case "playlist":
			if playlists == nil {
				return nil, errors.Newf("playlist provider configured but no playlist client available (index %d)", i)
			}
			provider, err = NewPlaylistProvider(playlists, cfg.Radio.BatchSize, pcfg.Settings)

		case "search":
			provider, err = NewSearchProvider(search, pcfg.Settings)

		default:
			return nil, errors.Newf("unsupported provider type: %s (provider index %d)", pcfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create provider (index %d, type %s)", i, pcfg.Type)
		}

		providers = append(providers, ProviderWithMetadata{
			Provider:    provider,
			DisplayName: pcfg.DisplayName,
		})

		zlog.Info().Msgf("radio: registered provider: index=%d type=%s display_name=%s", i+1, pcfg.Type, pcfg.DisplayName)
	}

	return NewChain(providers), nil
}
