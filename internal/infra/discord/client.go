// Package discord adapts the Discord gateway to the voice transport,
// room inspection, and audio output interfaces the playback engine
// consumes.
package discord

import (
	"github.com/cockroachdb/errors"
	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/gateway"
	disvoice "github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/godave/golibdave"
)

// NewClient builds the gateway client with the intents and caches the
// voice subsystem needs. The caller opens the gateway and closes the
// client.
func NewClient(token string) (*bot.Client, error) {
	client, err := disgo.New(token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildVoiceStates,
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagMembers, cache.FlagChannels, cache.FlagVoiceStates),
		),
		bot.WithVoiceManagerConfigOpts(
			disvoice.WithDaveSessionCreateFunc(golibdave.NewSession),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord client")
	}
	return client, nil
}
