// Package engine is the orchestration facade over admission control,
// source resolution, the session registry and the voice lifecycle. All
// user-facing operations enter through it.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/dennis006/agentbee-sub002/internal/app/admission"
	"github.com/dennis006/agentbee-sub002/internal/app/playback"
	"github.com/dennis006/agentbee-sub002/internal/app/queue"
	"github.com/dennis006/agentbee-sub002/internal/app/radio"
	"github.com/dennis006/agentbee-sub002/internal/app/registry"
	"github.com/dennis006/agentbee-sub002/internal/app/resolver"
	"github.com/dennis006/agentbee-sub002/internal/app/voice"
	"github.com/dennis006/agentbee-sub002/internal/domain/track"
)

// ErrNoSession is returned for control operations on guilds without a
// live session.
var ErrNoSession = errors.New("no active session for guild")

// DeniedError reports a request rejected by admission control.
type DeniedError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("request denied: reason=%s retry_after=%s", e.Reason, e.RetryAfter)
}

// Deps carries the engine's collaborators.
type Deps struct {
	Registry *registry.Registry
	Limiter  *admission.Limiter // nil disables admission control
	Resolver *resolver.Resolver
	Voice    *voice.Manager
	Radio    *radio.Chain // nil disables radio programming
}

// Config holds engine tunables.
type Config struct {
	// PreferredRoom is the fallback voice room when no room is
	// populated.
	PreferredRoom snowflake.ID
	// RadioBatch is how many candidates an autofill round requests.
	RadioBatch int
}

// Engine is the orchestration facade. One instance serves all guilds.
type Engine struct {
	deps Deps
	cfg  Config

	wg sync.WaitGroup
}

// New wires an engine and registers the idle-teardown hook on the
// voice manager.
func New(deps Deps, cfg Config) *Engine {
	if cfg.RadioBatch <= 0 {
		cfg.RadioBatch = 5
	}
	e := &Engine{deps: deps, cfg: cfg}
	deps.Voice.OnTeardown(func(guildID snowflake.ID) {
		deps.Registry.Evict(guildID)
	})
	return e
}

// EnqueueRequest admits, resolves and enqueues one user request. The
// admission gate runs before any resolution work. A failed voice join
// rolls the track back out of the queue.
func (e *Engine) EnqueueRequest(ctx context.Context, guildID snowflake.ID, requester track.Requester, request string) (*track.Track, error) {
	if e.deps.Limiter != nil {
		if d := e.deps.Limiter.Check(requester.UserID); !d.Allowed {
			zlog.Info().Msgf("engine: request denied: guild=%s user=%s reason=%s retry_after=%s",
				guildID, requester.UserID, d.Reason, d.RetryAfter)
			return nil, &DeniedError{Reason: d.Reason, RetryAfter: d.RetryAfter}
		}
	}

	t, err := e.deps.Resolver.Resolve(ctx, request)
	if err != nil {
		return nil, err
	}
	t.Requester = requester
	t.Origin = track.OriginOnDemand
	t.EnqueuedAt = time.Now()

	sess, existed := e.deps.Registry.GetOrCreate(guildID)
	if !existed {
		e.startPump(sess)
	}

	if _, err := sess.Queue.Enqueue(t); err != nil {
		return nil, err
	}
	if sess.ShuffleEnabled() {
		sess.Queue.Shuffle()
	}

	if err := e.deps.Voice.EnsureConnected(ctx, sess, e.cfg.PreferredRoom); err != nil {
		sess.Queue.RemoveTrack(t.ID)
		e.deps.Voice.ScheduleDisconnectIfIdle(sess)
		return nil, errors.Wrap(err, "failed to connect to a voice room")
	}

	if e.deps.Limiter != nil {
		e.deps.Limiter.RecordAcceptance(requester.UserID)
	}

	zlog.Info().Msgf("engine: track enqueued: guild=%s track=%q user=%s queue_len=%d",
		guildID, t.Label(), requester.UserID, sess.Queue.Len())
	sess.Controller.Kick()
	return t, nil
}

// Play starts playback, resuming a paused session.
func (e *Engine) Play(guildID snowflake.ID) error {
	sess, err := e.session(guildID)
	if err != nil {
		return err
	}
	return sess.Controller.Play()
}

// Pause freezes playback and the progress tracker.
func (e *Engine) Pause(guildID snowflake.ID) error {
	sess, err := e.session(guildID)
	if err != nil {
		return err
	}
	return sess.Controller.Pause()
}

// Resume continues a paused session.
func (e *Engine) Resume(guildID snowflake.ID) error {
	sess, err := e.session(guildID)
	if err != nil {
		return err
	}
	return sess.Controller.Resume()
}

// Skip abandons the current track and advances.
func (e *Engine) Skip(guildID snowflake.ID) error {
	sess, err := e.session(guildID)
	if err != nil {
		return err
	}
	return sess.Controller.Skip()
}

// Stop clears the queue and the current track and arms the idle grace
// timer. It reports how many queued tracks were dropped.
func (e *Engine) Stop(guildID snowflake.ID) (int, error) {
	sess, err := e.session(guildID)
	if err != nil {
		return 0, err
	}
	cleared := sess.Controller.Stop()
	e.deps.Voice.ScheduleDisconnectIfIdle(sess)
	return cleared, nil
}

// Clear drops all pending tracks, leaving the current one playing.
func (e *Engine) Clear(guildID snowflake.ID) (int, error) {
	sess, err := e.session(guildID)
	if err != nil {
		return 0, err
	}
	return sess.Queue.Clear(), nil
}

// Remove drops the pending track at the given zero-based position.
func (e *Engine) Remove(guildID snowflake.ID, index int) (*track.Track, error) {
	sess, err := e.session(guildID)
	if err != nil {
		return nil, err
	}
	return sess.Queue.Remove(index)
}

// ToggleShuffle flips shuffle mode, shuffling the pending queue when
// it turns on. It returns the new state.
func (e *Engine) ToggleShuffle(guildID snowflake.ID) (bool, error) {
	sess, err := e.session(guildID)
	if err != nil {
		return false, err
	}
	enabled := !sess.ShuffleEnabled()
	sess.SetShuffle(enabled)
	if enabled {
		sess.Queue.Shuffle()
	}
	return enabled, nil
}

// SetVolume sets the session volume in percent. It takes effect on the
// next track attach.
func (e *Engine) SetVolume(guildID snowflake.ID, volume int) error {
	sess, err := e.session(guildID)
	if err != nil {
		return err
	}
	return sess.SetVolume(volume)
}

// SetRepeat switches the queue repeat mode.
func (e *Engine) SetRepeat(guildID snowflake.ID, mode queue.RepeatMode) error {
	sess, err := e.session(guildID)
	if err != nil {
		return err
	}
	sess.Queue.SetRepeat(mode)
	return nil
}

// SetRadio toggles radio programming for the session. Turning it on
// with an idle session triggers an immediate autofill round.
func (e *Engine) SetRadio(guildID snowflake.ID, enabled bool) error {
	sess, err := e.session(guildID)
	if err != nil {
		return err
	}
	if enabled && e.deps.Radio == nil {
		return errors.New("radio programming is not configured")
	}
	sess.SetRadio(enabled)
	if enabled && sess.Idle() {
		e.autofill(sess)
	}
	return nil
}

// Status is a point-in-time snapshot of one session.
type Status struct {
	State     playback.State
	Current   *track.Track
	Progress  time.Duration
	Queue     []*track.Track
	Volume    int
	Repeat    queue.RepeatMode
	Shuffle   bool
	Radio     bool
	Connected bool
	RoomID    snowflake.ID
}

// GetStatus reports the session's current state.
func (e *Engine) GetStatus(guildID snowflake.ID) (*Status, error) {
	sess, err := e.session(guildID)
	if err != nil {
		return nil, err
	}

	st := &Status{
		State:    sess.Controller.GetState(),
		Progress: sess.Controller.Progress(),
		Queue:    sess.Queue.Snapshot(),
		Volume:   sess.Volume(),
		Repeat:   sess.Queue.Repeat(),
		Shuffle:  sess.ShuffleEnabled(),
		Radio:    sess.RadioEnabled(),
	}
	if cur, ok := sess.Controller.Current(); ok {
		st.Current = cur
	}
	if h := sess.Handle(); h != nil && h.RoomID() != 0 {
		st.Connected = true
		st.RoomID = h.RoomID()
	}
	return st, nil
}

// Close tears down every session and waits for the event pumps.
func (e *Engine) Close() {
	e.deps.Voice.Close()
	e.deps.Registry.Close()
	e.wg.Wait()
}

func (e *Engine) session(guildID snowflake.ID) (*registry.Session, error) {
	sess, ok := e.deps.Registry.Get(guildID)
	if !ok {
		return nil, ErrNoSession
	}
	return sess, nil
}

// startPump consumes the session's playback events until its
// controller closes.
func (e *Engine) startPump(sess *registry.Session) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for ev := range sess.Controller.Events() {
			e.handleEvent(sess, ev)
		}
	}()
}

func (e *Engine) handleEvent(sess *registry.Session, ev playback.Event) {
	guildID := sess.GuildID()
	switch ev.Type {
	case playback.EventTrackStarted:
		zlog.Info().Msgf("engine: track started: guild=%s track=%q", guildID, ev.Track.Label())
	case playback.EventTrackEnded:
		zlog.Debug().Msgf("engine: track ended: guild=%s track=%q", guildID, ev.Track.Label())
	case playback.EventTrackSkipped:
		zlog.Info().Msgf("engine: track skipped: guild=%s track=%q", guildID, ev.Track.Label())
	case playback.EventTrackFailed:
		zlog.Warn().Msgf("engine: track failed permanently: guild=%s track=%q error=%v",
			guildID, ev.Track.Label(), ev.Err)
	case playback.EventQueueEmpty, playback.EventQueueExhausted:
		e.onQueueDrained(sess, ev.Type)
	}
}

// onQueueDrained refills from the radio chain when the session has
// radio mode on, otherwise arms the idle grace timer.
func (e *Engine) onQueueDrained(sess *registry.Session, cause playback.EventType) {
	guildID := sess.GuildID()
	zlog.Info().Msgf("engine: queue drained: guild=%s cause=%s", guildID, cause)

	if e.deps.Radio != nil && sess.RadioEnabled() {
		if e.autofill(sess) {
			return
		}
	}
	e.deps.Voice.ScheduleDisconnectIfIdle(sess)
}

// autofill pulls a batch of radio candidates into the queue. It
// reports whether at least one track was enqueued.
func (e *Engine) autofill(sess *registry.Session) bool {
	guildID := sess.GuildID()

	exclude := make(map[string]bool)
	for _, t := range sess.Queue.Snapshot() {
		exclude[t.SourceRef] = true
	}
	if cur, ok := sess.Controller.Current(); ok {
		exclude[cur.SourceRef] = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	candidates, err := e.deps.Radio.GetCandidates(ctx, e.cfg.RadioBatch, exclude)
	if err != nil {
		zlog.Warn().Msgf("engine: radio autofill failed: guild=%s error=%v", guildID, err)
		return false
	}

	added := 0
	for _, c := range candidates {
		c.Track.EnqueuedAt = time.Now()
		if _, err := sess.Queue.Enqueue(c.Track); err != nil {
			break
		}
		added++
	}
	if added == 0 {
		return false
	}

	zlog.Info().Msgf("engine: radio autofill enqueued: guild=%s count=%d", guildID, added)
	sess.Controller.Kick()
	return true
}
