// Package registry tracks the per-guild playback sessions.
package registry

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/dennis006/agentbee-sub002/internal/app/playback"
	"github.com/dennis006/agentbee-sub002/internal/app/queue"
	"github.com/dennis006/agentbee-sub002/internal/app/voice"
)

// ErrVolumeRange is returned for volume values outside 0..100.
var ErrVolumeRange = errors.New("volume must be between 0 and 100")

// DefaultVolume is the volume a fresh session starts with.
const DefaultVolume = 100

// Session bundles the queue, playback controller and voice connection
// state for one guild. It implements voice.SessionConn.
type Session struct {
	guildID   snowflake.ID
	createdAt time.Time

	Queue      *queue.Queue
	Controller *playback.Controller

	mu      sync.Mutex
	handle  voice.Handle
	volume  int
	shuffle bool
	radio   bool
}

// GuildID returns the guild the session belongs to.
func (s *Session) GuildID() snowflake.ID { return s.guildID }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Handle returns the current voice connection handle, or nil.
func (s *Session) Handle() voice.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// SetHandle swaps the voice connection handle.
func (s *Session) SetHandle(h voice.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
}

// Idle reports whether the session has nothing playing and nothing
// queued.
func (s *Session) Idle() bool {
	return s.Controller.Idle()
}

// Volume returns the session volume in percent.
func (s *Session) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// SetVolume sets the session volume in percent.
func (s *Session) SetVolume(v int) error {
	if v < 0 || v > 100 {
		return ErrVolumeRange
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
	return nil
}

// ShuffleEnabled reports whether incoming tracks shuffle on enqueue.
func (s *Session) ShuffleEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuffle
}

// SetShuffle toggles shuffle mode.
func (s *Session) SetShuffle(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shuffle = enabled
}

// RadioEnabled reports whether the queue refills from the radio
// programming chain when it runs dry.
func (s *Session) RadioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.radio
}

// SetRadio toggles radio programming for the session.
func (s *Session) SetRadio(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.radio = enabled
}

// Deps carries everything needed to assemble a new session.
type Deps struct {
	QueueMax int
	Playback playback.Config
	Resolver playback.TrackResolver
	// NewSink builds the transport audio sink for a session. The sink
	// reads the session's handle lazily so it can be created before the
	// voice connection exists.
	NewSink func(s *Session) playback.AudioSink
}

// Registry owns all live sessions, keyed by guild.
type Registry struct {
	mu       sync.RWMutex
	sessions map[snowflake.ID]*Session
	deps     Deps
}

// New creates an empty session registry.
func New(deps Deps) *Registry {
	return &Registry{
		sessions: make(map[snowflake.ID]*Session),
		deps:     deps,
	}
}

// GetOrCreate returns the session for a guild, creating it on first
// use. The second return reports whether the session already existed.
func (r *Registry) GetOrCreate(guildID snowflake.ID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[guildID]; ok {
		return s, true
	}

	s := &Session{
		guildID:   guildID,
		createdAt: time.Now(),
		Queue:     queue.New(r.deps.QueueMax),
		volume:    DefaultVolume,
	}
	s.Controller = playback.NewController(s.Queue, r.deps.Resolver, r.deps.NewSink(s), r.deps.Playback)
	r.sessions[guildID] = s

	zlog.Info().Msgf("registry: session created: guild=%s", guildID)
	return s, false
}

// Get returns the session for a guild, if one exists.
func (r *Registry) Get(guildID snowflake.ID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[guildID]
	return s, ok
}

// Evict tears a session down and removes it from the registry.
func (r *Registry) Evict(guildID snowflake.ID) {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	if ok {
		delete(r.sessions, guildID)
	}
	r.mu.Unlock()

	if ok {
		s.Controller.Close()
		zlog.Info().Msgf("registry: session evicted: guild=%s", guildID)
	}
}

// All returns a snapshot of every live session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close evicts every session.
func (r *Registry) Close() {
	for _, s := range r.All() {
		r.Evict(s.GuildID())
	}
}
