package discord

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/disgo/bot"
	disvoice "github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/dennis006/agentbee-sub002/internal/app/voice"
)

// Transport creates voice connection handles backed by the gateway's
// voice manager.
type Transport struct {
	client *bot.Client
}

// NewTransport creates a transport over an existing gateway client.
func NewTransport(client *bot.Client) *Transport {
	return &Transport{client: client}
}

// NewHandle returns an unopened handle for the given guild.
func (t *Transport) NewHandle(guildID snowflake.ID) voice.Handle {
	return &Handle{conn: t.client.VoiceManager.CreateConn(guildID)}
}

// Handle wraps a single guild voice connection.
type Handle struct {
	mu     sync.Mutex
	conn   disvoice.Conn
	roomID snowflake.ID
}

// Open connects the handle to a voice room. A handle connects at most
// once; reconnects get a fresh handle from the transport.
func (h *Handle) Open(ctx context.Context, roomID snowflake.ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.roomID != 0 {
		return errors.Newf("voice connection already open in room %s", h.roomID)
	}
	if err := h.conn.Open(ctx, roomID, false, false); err != nil {
		return errors.Wrapf(err, "failed to open voice connection to room %s", roomID)
	}
	h.roomID = roomID
	return nil
}

// Close tears the connection down. Safe to call on a closed handle.
func (h *Handle) Close(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.roomID == 0 {
		return
	}
	h.setProviderSafe(nil)
	h.conn.Close(ctx)
	h.roomID = 0
}

// RoomID returns the connected room, or zero.
func (h *Handle) RoomID() snowflake.ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomID
}

// attachProvider points the connection at an opus frame source and
// marks the bot as speaking.
func (h *Handle) attachProvider(p disvoice.OpusFrameProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.setProviderSafe(p)
	if err := h.conn.SetSpeaking(context.TODO(), disvoice.SpeakingFlagMicrophone); err != nil {
		zlog.Warn().Msgf("discord: failed to set speaking flag: error=%v", err)
	}
}

// detachProvider clears the frame source and the speaking flag.
func (h *Handle) detachProvider() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.roomID == 0 {
		return
	}
	h.setProviderSafe(nil)
	if err := h.conn.SetSpeaking(context.TODO(), 0); err != nil {
		zlog.Debug().Msgf("discord: failed to clear speaking flag: error=%v", err)
	}
}

// setProviderSafe recovers the panic SetOpusFrameProvider can raise
// when the underlying UDP connection is already gone.
func (h *Handle) setProviderSafe(p disvoice.OpusFrameProvider) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Warn().Msgf("discord: recovered setting frame provider: %v", r)
		}
	}()
	h.conn.SetOpusFrameProvider(p)
}
