package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/dennis006/agentbee-sub002/internal/app/resolver"
	"github.com/dennis006/agentbee-sub002/internal/domain/track"
)

// Errors
var (
	ErrNoTrack    = errors.New("no track playing")
	ErrQueueEmpty = errors.New("queue is empty")
	ErrNotPlaying = errors.New("not playing")
	ErrNotPaused  = errors.New("not paused")
)

// errStale marks an attempt that was invalidated by a skip or stop.
var errStale = errors.New("stale playback attempt")

// TrackQueue is the slice of the queue the controller drives.
type TrackQueue interface {
	DequeueNext(outgoing *track.Track) *track.Track
	Len() int
	Clear() int
}

// TrackResolver acquires a playable stream handle for a track.
type TrackResolver interface {
	ResolveTrack(ctx context.Context, t *track.Track) error
}

// AudioSink is the transport-side audio output. Attach starts feeding
// the stream and returns a channel that yields nil on natural end or an
// error on runtime failure, then closes.
type AudioSink interface {
	Attach(ctx context.Context, streamRef string) (<-chan error, error)
	Detach()
	SetPaused(paused bool)
}

// Config holds controller configuration.
type Config struct {
	RetryDelay time.Duration // Delay between transient failure retries
}

// Controller is the per-session playback state machine. All public
// methods are safe for concurrent use; stream resolution and attachment
// run outside the lock and are validated against a generation counter
// so results arriving after a skip or stop are discarded.
type Controller struct {
	mu sync.Mutex

	queue    TrackQueue
	resolver TrackResolver
	sink     AudioSink

	state      State
	current    *track.Track
	generation uint64

	// Progress tracking
	startAnchor time.Time
	pausedAt    *time.Time
	pausedAccum time.Duration

	// failedRun is set while a consecutive failure cascade is draining
	// the queue; it decides whether drain-out reports empty or exhausted.
	failedRun bool

	config  Config
	eventCh chan Event

	ctx    context.Context
	cancel context.CancelFunc

	nowFn func() time.Time
}

// NewController creates a playback controller for one session.
func NewController(q TrackQueue, r TrackResolver, sink AudioSink, config Config) *Controller {
	if config.RetryDelay <= 0 {
		config.RetryDelay = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		queue:    q,
		resolver: r,
		sink:     sink,
		state:    StateIdle,
		config:   config,
		eventCh:  make(chan Event, 16),
		ctx:      ctx,
		cancel:   cancel,
		nowFn:    time.Now,
	}
}

// Events returns the event channel.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Play starts playback. If already playing it does nothing; if paused
// it resumes; if idle it pulls the next queued track.
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StatePlaying, StateResolving:
		return nil
	case StatePaused:
		return c.resumeLocked()
	}

	if c.queue.Len() == 0 {
		return ErrQueueEmpty
	}
	c.advanceLocked(nil)
	return nil
}

// Pause pauses the current playback, freezing the progress tracker.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ErrNoTrack
	}
	if c.state != StatePlaying {
		return ErrNotPlaying
	}

	now := c.nowFn()
	c.pausedAt = &now
	c.state = StatePaused
	c.sink.SetPaused(true)

	c.sendEventLocked(Event{Type: EventStateChanged, Track: c.current, State: c.state})
	return nil
}

// Resume resumes paused playback.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.resumeLocked()
}

func (c *Controller) resumeLocked() error {
	if c.current == nil {
		return ErrNoTrack
	}
	if c.state != StatePaused {
		return ErrNotPaused
	}

	if c.pausedAt != nil {
		c.pausedAccum += c.nowFn().Sub(*c.pausedAt)
	}
	c.pausedAt = nil
	c.state = StatePlaying
	c.sink.SetPaused(false)

	c.sendEventLocked(Event{Type: EventStateChanged, Track: c.current, State: c.state})
	return nil
}

// Skip drops the current track and advances through the queue, honoring
// the repeat mode. An in-flight resolution is invalidated.
func (c *Controller) Skip() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ErrNoTrack
	}

	c.generation++
	skipped := c.current
	c.sink.Detach()
	c.resetProgressLocked()

	c.sendEventLocked(Event{Type: EventTrackSkipped, Track: skipped, State: c.state})
	c.advanceLocked(skipped)
	return nil
}

// Stop halts playback, clears the queue and the current track, and
// detaches the sink. Returns the number of queued tracks removed.
func (c *Controller) Stop() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.sink.Detach()
	cleared := c.queue.Clear()
	c.current = nil
	c.state = StateIdle
	c.failedRun = false
	c.resetProgressLocked()
	return cleared
}

// Kick pulls the next track if the controller is idle. Called after an
// enqueue that transitioned the queue from empty.
func (c *Controller) Kick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return
	}
	c.advanceLocked(nil)
}

// GetState returns the current playback state.
func (c *Controller) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the current track, if any.
func (c *Controller) Current() (*track.Track, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return nil, false
	}
	return c.current, true
}

// Idle reports whether nothing is current and nothing is queued.
func (c *Controller) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateIdle && c.current == nil && c.queue.Len() == 0
}

// Progress returns the elapsed playback time of the current track,
// clamped to its duration. Live sources are unbounded and never clamp.
func (c *Controller) Progress() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.startAnchor.IsZero() {
		return 0
	}

	ref := c.nowFn()
	if c.state == StatePaused && c.pausedAt != nil {
		ref = *c.pausedAt
	}
	elapsed := ref.Sub(c.startAnchor) - c.pausedAccum
	if elapsed < 0 {
		return 0
	}
	if !c.current.Live() && elapsed > c.current.Duration {
		return c.current.Duration
	}
	return elapsed
}

// Close shuts the controller down and releases resources.
func (c *Controller) Close() {
	c.cancel()
	c.Stop()
	close(c.eventCh)
}

// advanceLocked pulls the next track via the queue and starts it, or
// settles into idle when nothing remains. Must be called with the lock
// held.
func (c *Controller) advanceLocked(outgoing *track.Track) {
	next := c.queue.DequeueNext(outgoing)
	if next == nil {
		c.current = nil
		c.state = StateIdle
		c.resetProgressLocked()

		if c.failedRun {
			c.failedRun = false
			c.sendEventLocked(Event{Type: EventQueueExhausted, State: c.state})
		} else {
			c.sendEventLocked(Event{Type: EventQueueEmpty, State: c.state})
		}
		return
	}

	c.current = next
	c.state = StateResolving
	c.resetProgressLocked()

	gen := c.generation
	go c.runAttempts(gen, next, nil)
}

// runAttempts drives resolution and sink attachment for one track,
// retrying transient failures up to the track's retry ceiling. It runs
// outside the lock; pending carries a failure from a previous attempt
// (for example a runtime stream error) into the retry policy.
func (c *Controller) runAttempts(gen uint64, t *track.Track, pending error) {
	err := pending
	for {
		if err != nil {
			if !transientFailure(err) || t.RetriesExhausted() {
				c.failTrack(gen, t, err)
				return
			}
			t.Retries++
			zlog.Warn().Msgf("playback: transient failure, retrying: track=%s attempt=%d error=%v",
				t.Label(), t.Retries, err)

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.config.RetryDelay):
			}
			// Force a fresh stream handle on the next attempt.
			t.StreamRef = ""
		}

		err = c.startAttempt(gen, t)
		if err == nil || errors.Is(err, errStale) {
			return
		}
	}
}

// startAttempt resolves the track if needed and attaches it to the
// sink. Resolution and attachment happen outside the lock; the
// generation is re-checked before any state is committed.
func (c *Controller) startAttempt(gen uint64, t *track.Track) error {
	if c.stale(gen) {
		return errStale
	}

	if !t.Resolved() {
		if err := c.resolver.ResolveTrack(c.ctx, t); err != nil {
			return err
		}
	}

	if c.stale(gen) {
		return errStale
	}

	done, err := c.sink.Attach(c.ctx, t.StreamRef)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		c.sink.Detach()
		return errStale
	}

	c.state = StatePlaying
	c.startAnchor = c.nowFn()
	c.pausedAt = nil
	c.pausedAccum = 0
	c.failedRun = false

	zlog.Info().Msgf("playback: track started: track=%s duration=%v live=%t",
		t.Label(), t.Duration, t.Live())
	c.sendEventLocked(Event{Type: EventTrackStarted, Track: t, State: c.state})

	go c.watch(gen, done)
	return nil
}

func (c *Controller) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.generation || c.ctx.Err() != nil
}

// watch waits for the sink to report the end of the stream.
func (c *Controller) watch(gen uint64, done <-chan error) {
	select {
	case err, ok := <-done:
		if !ok {
			err = nil
		}
		c.onStreamDone(gen, err)
	case <-c.ctx.Done():
	}
}

func (c *Controller) onStreamDone(gen uint64, err error) {
	c.mu.Lock()

	if gen != c.generation || c.current == nil {
		c.mu.Unlock()
		return
	}

	if err == nil {
		ended := c.current
		c.sink.Detach()
		c.resetProgressLocked()
		zlog.Debug().Msgf("playback: track ended: track=%s", ended.Label())
		c.sendEventLocked(Event{Type: EventTrackEnded, Track: ended, State: c.state})
		c.advanceLocked(ended)
		c.mu.Unlock()
		return
	}

	// Runtime stream failure: same bounded retry policy as resolution.
	failed := c.current
	c.sink.Detach()
	c.state = StateResolving
	c.resetProgressLocked()
	c.mu.Unlock()

	go c.runAttempts(gen, failed, err)
}

// failTrack drops the track and advances without honoring repeat, so a
// broken track never cycles back in.
func (c *Controller) failTrack(gen uint64, t *track.Track, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return
	}

	zlog.Warn().Msgf("playback: dropping track: track=%s retries=%d error=%v",
		t.Label(), t.Retries, cause)
	c.failedRun = true
	c.sendEventLocked(Event{Type: EventTrackFailed, Track: t, State: c.state, Err: cause})
	c.advanceLocked(nil)
}

func (c *Controller) resetProgressLocked() {
	c.startAnchor = time.Time{}
	c.pausedAt = nil
	c.pausedAccum = 0
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (c *Controller) sendEventLocked(e Event) {
	select {
	case c.eventCh <- e:
	case <-c.ctx.Done():
	default:
	}
}

// transientFailure reports whether an error is worth retrying.
// Unclassified errors are treated as transient connectivity blips.
func transientFailure(err error) bool {
	if re, ok := resolver.AsResolutionError(err); ok {
		return re.Transient()
	}
	return true
}
