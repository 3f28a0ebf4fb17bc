// Package voice manages the lifecycle of per-guild voice room
// connections: joining on demand, and leaving after an idle grace
// period.
package voice

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"
)

// ErrNoRoom is returned when no joinable voice room exists in a guild.
var ErrNoRoom = errors.New("no joinable voice room")

// Handle is a live (or connectable) voice connection for one guild.
type Handle interface {
	// Open connects the handle to the given voice room. Calling Open on
	// an already open handle is an error.
	Open(ctx context.Context, roomID snowflake.ID) error
	// Close tears the connection down. Safe to call on a closed handle.
	Close(ctx context.Context)
	// RoomID returns the room the handle is connected to, or zero.
	RoomID() snowflake.ID
}

// Transport creates voice connection handles.
type Transport interface {
	NewHandle(guildID snowflake.ID) Handle
}

// RoomInspector reports which voice rooms exist and which have
// listeners in them.
type RoomInspector interface {
	// PopulatedRooms returns rooms that currently hold at least one
	// non-bot member.
	PopulatedRooms(guildID snowflake.ID) []snowflake.ID
	// Rooms returns every voice room in the guild.
	Rooms(guildID snowflake.ID) []snowflake.ID
}

// SessionConn is the slice of a session the manager operates on.
type SessionConn interface {
	GuildID() snowflake.ID
	Handle() Handle
	SetHandle(h Handle)
	// Idle reports whether the session has nothing playing and nothing
	// queued. Checked again when the grace timer fires.
	Idle() bool
}

// Config holds connection lifecycle tunables.
type Config struct {
	GracePeriod  time.Duration
	JoinAttempts int
	JoinBackoff  time.Duration
}

// Manager owns voice connection state for all guilds. At most one
// grace timer exists per guild; re-arming replaces the previous one.
type Manager struct {
	transport Transport
	inspector RoomInspector
	config    Config

	mu     sync.Mutex
	timers map[snowflake.ID]*time.Timer

	// onTeardown runs after a grace disconnect completes, outside the
	// manager lock.
	onTeardown func(guildID snowflake.ID)
}

// NewManager creates a connection lifecycle manager.
func NewManager(transport Transport, inspector RoomInspector, config Config) *Manager {
	if config.GracePeriod <= 0 {
		config.GracePeriod = 30 * time.Second
	}
	if config.JoinAttempts <= 0 {
		config.JoinAttempts = 5
	}
	if config.JoinBackoff <= 0 {
		config.JoinBackoff = 500 * time.Millisecond
	}
	return &Manager{
		transport: transport,
		inspector: inspector,
		config:    config,
		timers:    make(map[snowflake.ID]*time.Timer),
	}
}

// OnTeardown registers a callback invoked after an idle grace
// disconnect. Must be set before the manager is used.
func (m *Manager) OnTeardown(fn func(guildID snowflake.ID)) {
	m.onTeardown = fn
}

// EnsureConnected makes sure the session has an open voice connection,
// joining a room if necessary. It is idempotent: an already connected
// session returns immediately. Any pending grace disconnect is
// cancelled.
func (m *Manager) EnsureConnected(ctx context.Context, sess SessionConn, preferred snowflake.ID) error {
	m.CancelDisconnect(sess.GuildID())

	if h := sess.Handle(); h != nil && h.RoomID() != 0 {
		return nil
	}

	roomID, err := m.pickRoom(sess.GuildID(), preferred)
	if err != nil {
		return err
	}

	handle := m.transport.NewHandle(sess.GuildID())
	if err := m.openWithRetry(ctx, handle, roomID); err != nil {
		return errors.Wrapf(err, "failed to join voice room %s", roomID)
	}
	sess.SetHandle(handle)
	zlog.Info().Msgf("voice: connected: guild=%s room=%s", sess.GuildID(), roomID)
	return nil
}

// pickRoom chooses the room to join: a populated room first, then the
// preferred room if it exists, then any room at all.
func (m *Manager) pickRoom(guildID snowflake.ID, preferred snowflake.ID) (snowflake.ID, error) {
	if populated := m.inspector.PopulatedRooms(guildID); len(populated) > 0 {
		return populated[0], nil
	}
	rooms := m.inspector.Rooms(guildID)
	if preferred != 0 {
		for _, r := range rooms {
			if r == preferred {
				return preferred, nil
			}
		}
	}
	if len(rooms) > 0 {
		return rooms[0], nil
	}
	return 0, ErrNoRoom
}

func (m *Manager) openWithRetry(ctx context.Context, handle Handle, roomID snowflake.ID) error {
	var lastErr error
	delay := m.config.JoinBackoff
	for attempt := 1; attempt <= m.config.JoinAttempts; attempt++ {
		lastErr = handle.Open(ctx, roomID)
		if lastErr == nil {
			return nil
		}
		zlog.Warn().Msgf("voice: join failed: room=%s attempt=%d/%d error=%v",
			roomID, attempt, m.config.JoinAttempts, lastErr)
		if attempt == m.config.JoinAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

// ScheduleDisconnectIfIdle arms the grace timer for the session's
// guild. When it fires the session is checked again; if it is still
// idle the connection is closed and the teardown callback runs. An
// existing timer is replaced, never stacked.
func (m *Manager) ScheduleDisconnectIfIdle(sess SessionConn) {
	guildID := sess.GuildID()

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.timers[guildID]; ok {
		prev.Stop()
	}
	zlog.Debug().Msgf("voice: arming grace timer: guild=%s grace=%v", guildID, m.config.GracePeriod)
	m.timers[guildID] = time.AfterFunc(m.config.GracePeriod, func() {
		m.graceExpired(sess)
	})
}

func (m *Manager) graceExpired(sess SessionConn) {
	guildID := sess.GuildID()

	m.mu.Lock()
	delete(m.timers, guildID)
	m.mu.Unlock()

	if !sess.Idle() {
		zlog.Debug().Msgf("voice: grace expired but session busy, staying: guild=%s", guildID)
		return
	}

	zlog.Info().Msgf("voice: idle grace expired, disconnecting: guild=%s", guildID)
	m.Disconnect(context.Background(), sess)
	if m.onTeardown != nil {
		m.onTeardown(guildID)
	}
}

// CancelDisconnect stops a pending grace timer, if any.
func (m *Manager) CancelDisconnect(guildID snowflake.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.timers[guildID]; ok {
		t.Stop()
		delete(m.timers, guildID)
		zlog.Debug().Msgf("voice: grace timer cancelled: guild=%s", guildID)
	}
}

// Disconnect closes the session's voice connection immediately and
// drops any pending grace timer.
func (m *Manager) Disconnect(ctx context.Context, sess SessionConn) {
	m.CancelDisconnect(sess.GuildID())

	if h := sess.Handle(); h != nil {
		h.Close(ctx)
		sess.SetHandle(nil)
		zlog.Info().Msgf("voice: disconnected: guild=%s", sess.GuildID())
	}
}

// Close stops all pending timers. Connections are torn down by the
// registry, not here.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for guildID, t := range m.timers {
		t.Stop()
		delete(m.timers, guildID)
	}
}
