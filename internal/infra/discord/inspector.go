package discord

import (
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

// Inspector answers voice room queries from the gateway caches.
type Inspector struct {
	client *bot.Client
}

// NewInspector creates an inspector over an existing gateway client.
func NewInspector(client *bot.Client) *Inspector {
	return &Inspector{client: client}
}

// Rooms returns every voice room in the guild.
func (i *Inspector) Rooms(guildID snowflake.ID) []snowflake.ID {
	var rooms []snowflake.ID
	for ch := range i.client.Caches.Channels() {
		if ch.GuildID() != guildID {
			continue
		}
		if _, ok := ch.(discord.GuildVoiceChannel); ok {
			rooms = append(rooms, ch.ID())
		}
	}
	return rooms
}

// PopulatedRooms returns the rooms that currently hold at least one
// human listener. Members missing from the cache count as human.
func (i *Inspector) PopulatedRooms(guildID snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]bool)
	var rooms []snowflake.ID
	for state := range i.client.Caches.VoiceStates(guildID) {
		if state.ChannelID == nil || state.UserID == i.client.ID() {
			continue
		}
		if m, ok := i.client.Caches.Member(guildID, state.UserID); ok && m.User.Bot {
			continue
		}
		if !seen[*state.ChannelID] {
			seen[*state.ChannelID] = true
			rooms = append(rooms, *state.ChannelID)
		}
	}
	return rooms
}
