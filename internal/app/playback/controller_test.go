package playback

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dennis006/agentbee-sub002/internal/app/queue"
	"github.com/dennis006/agentbee-sub002/internal/app/resolver"
	"github.com/dennis006/agentbee-sub002/internal/domain/track"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubResolver struct {
	mu    sync.Mutex
	errs  map[string][]error
	calls map[string]int
}

func newStubResolver() *stubResolver {
	return &stubResolver{
		errs:  make(map[string][]error),
		calls: make(map[string]int),
	}
}

func (r *stubResolver) failWith(trackID string, errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[trackID] = append(r.errs[trackID], errs...)
}

func (r *stubResolver) ResolveTrack(_ context.Context, t *track.Track) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls[t.ID]++
	if queued := r.errs[t.ID]; len(queued) > 0 {
		err := queued[0]
		r.errs[t.ID] = queued[1:]
		return err
	}
	t.StreamRef = "stream://" + t.ID
	return nil
}

func (r *stubResolver) callCount(trackID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[trackID]
}

type stubSink struct {
	mu         sync.Mutex
	attachErrs []error
	attached   []string
	done       chan error
	detaches   int
	paused     []bool
}

func (s *stubSink) Attach(_ context.Context, streamRef string) (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.attachErrs) > 0 {
		err := s.attachErrs[0]
		s.attachErrs = s.attachErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s.attached = append(s.attached, streamRef)
	s.done = make(chan error, 1)
	return s.done, nil
}

func (s *stubSink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detaches++
}

func (s *stubSink) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = append(s.paused, paused)
}

// finish ends the current stream: nil for a natural end, an error for a
// runtime failure.
func (s *stubSink) finish(err error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if err != nil {
		done <- err
	}
	close(done)
}

func (s *stubSink) attachCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attached)
}

func waitEvent(t *testing.T, c *Controller, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-c.Events():
			if e.Type == want {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

func resolvedTrack(id string, duration time.Duration) *track.Track {
	return &track.Track{
		ID:        id,
		Title:     "title " + id,
		StreamRef: "stream://" + id,
		Duration:  duration,
	}
}

func pendingTrack(id string) *track.Track {
	return &track.Track{ID: id, Title: "title " + id}
}

func newTestController(q *queue.Queue, r TrackResolver, s AudioSink) *Controller {
	return NewController(q, r, s, Config{RetryDelay: time.Millisecond})
}

func TestController_PlaysThroughQueue(t *testing.T) {
	q := queue.New(10)
	sink := &stubSink{}
	c := newTestController(q, newStubResolver(), sink)
	defer c.Close()

	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(resolvedTrack(fmt.Sprintf("t%d", i), 3*time.Minute))
		require.NoError(t, err)
	}
	c.Kick()

	started := waitEvent(t, c, EventTrackStarted)
	assert.Equal(t, "t0", started.Track.ID)
	assert.Equal(t, StatePlaying, c.GetState())

	sink.finish(nil)
	ended := waitEvent(t, c, EventTrackEnded)
	assert.Equal(t, "t0", ended.Track.ID)

	started = waitEvent(t, c, EventTrackStarted)
	assert.Equal(t, "t1", started.Track.ID)

	sink.finish(nil)
	waitEvent(t, c, EventTrackEnded)
	waitEvent(t, c, EventQueueEmpty)
	assert.Equal(t, StateIdle, c.GetState())
	assert.True(t, c.Idle())
}

func TestController_ResolvesPendingTracks(t *testing.T) {
	q := queue.New(10)
	r := newStubResolver()
	sink := &stubSink{}
	c := newTestController(q, r, sink)
	defer c.Close()

	_, err := q.Enqueue(pendingTrack("t0"))
	require.NoError(t, err)
	c.Kick()

	started := waitEvent(t, c, EventTrackStarted)
	assert.Equal(t, "stream://t0", started.Track.StreamRef)
	assert.Equal(t, 1, r.callCount("t0"))
}

func TestController_RetriesTransientFailures(t *testing.T) {
	q := queue.New(10)
	r := newStubResolver()
	r.failWith("t0",
		errors.New("connection reset"),
		errors.New("connection reset"),
	)
	sink := &stubSink{}
	c := newTestController(q, r, sink)
	defer c.Close()

	_, err := q.Enqueue(pendingTrack("t0"))
	require.NoError(t, err)
	c.Kick()

	started := waitEvent(t, c, EventTrackStarted)
	assert.Equal(t, "t0", started.Track.ID)
	assert.Equal(t, 3, r.callCount("t0"))
	assert.Equal(t, 2, started.Track.Retries)
}

func TestController_DropsTrackAfterRetryCeiling(t *testing.T) {
	q := queue.New(10)
	r := newStubResolver()
	r.failWith("t0",
		errors.New("connection reset"),
		errors.New("connection reset"),
		errors.New("connection reset"),
	)
	sink := &stubSink{}
	c := newTestController(q, r, sink)
	defer c.Close()

	_, err := q.Enqueue(pendingTrack("t0"))
	require.NoError(t, err)
	_, err = q.Enqueue(resolvedTrack("t1", time.Minute))
	require.NoError(t, err)
	c.Kick()

	failed := waitEvent(t, c, EventTrackFailed)
	assert.Equal(t, "t0", failed.Track.ID)
	assert.Error(t, failed.Err)
	assert.Equal(t, 3, r.callCount("t0"))

	started := waitEvent(t, c, EventTrackStarted)
	assert.Equal(t, "t1", started.Track.ID)
}

func TestController_NonTransientFailureAdvancesImmediately(t *testing.T) {
	q := queue.New(10)
	r := newStubResolver()
	r.failWith("t0", &resolver.ResolutionError{Kind: resolver.FailureRestricted, Query: "t0"})
	sink := &stubSink{}
	c := newTestController(q, r, sink)
	defer c.Close()

	_, err := q.Enqueue(pendingTrack("t0"))
	require.NoError(t, err)
	_, err = q.Enqueue(resolvedTrack("t1", time.Minute))
	require.NoError(t, err)
	c.Kick()

	failed := waitEvent(t, c, EventTrackFailed)
	assert.Equal(t, "t0", failed.Track.ID)
	// No retries for a restricted track.
	assert.Equal(t, 1, r.callCount("t0"))
	assert.Equal(t, 0, failed.Track.Retries)

	waitEvent(t, c, EventTrackStarted)
}

func TestController_ExhaustedCascade(t *testing.T) {
	q := queue.New(10)
	r := newStubResolver()
	sink := &stubSink{}
	c := newTestController(q, r, sink)
	defer c.Close()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("t%d", i)
		r.failWith(id, &resolver.ResolutionError{Kind: resolver.FailureNotFound, Query: id})
		_, err := q.Enqueue(pendingTrack(id))
		require.NoError(t, err)
	}
	c.Kick()

	for i := 0; i < 3; i++ {
		failed := waitEvent(t, c, EventTrackFailed)
		assert.Equal(t, fmt.Sprintf("t%d", i), failed.Track.ID)
	}
	waitEvent(t, c, EventQueueExhausted)
	assert.Equal(t, StateIdle, c.GetState())
}

func TestController_RuntimeStreamFailureRetries(t *testing.T) {
	q := queue.New(10)
	r := newStubResolver()
	sink := &stubSink{}
	c := newTestController(q, r, sink)
	defer c.Close()

	_, err := q.Enqueue(resolvedTrack("t0", time.Minute))
	require.NoError(t, err)
	c.Kick()
	waitEvent(t, c, EventTrackStarted)

	sink.finish(errors.New("stream stalled"))

	// Retry re-resolves for a fresh handle, then re-attaches.
	started := waitEvent(t, c, EventTrackStarted)
	assert.Equal(t, "t0", started.Track.ID)
	assert.Equal(t, 1, r.callCount("t0"))
	assert.Equal(t, 2, sink.attachCount())
}

func TestController_PauseFreezesProgress(t *testing.T) {
	q := queue.New(10)
	sink := &stubSink{}
	c := newTestController(q, newStubResolver(), sink)
	defer c.Close()
	clock := newFakeClock()
	c.nowFn = clock.Now

	_, err := q.Enqueue(resolvedTrack("t0", time.Minute))
	require.NoError(t, err)
	c.Kick()
	waitEvent(t, c, EventTrackStarted)

	clock.Advance(10 * time.Second)
	assert.Equal(t, 10*time.Second, c.Progress())

	require.NoError(t, c.Pause())
	assert.Equal(t, StatePaused, c.GetState())
	clock.Advance(5 * time.Second)
	assert.Equal(t, 10*time.Second, c.Progress())

	require.NoError(t, c.Resume())
	clock.Advance(3 * time.Second)
	assert.Equal(t, 13*time.Second, c.Progress())

	assert.Equal(t, []bool{true, false}, sink.paused)
}

func TestController_ProgressClampsToDuration(t *testing.T) {
	q := queue.New(10)
	sink := &stubSink{}
	c := newTestController(q, newStubResolver(), sink)
	defer c.Close()
	clock := newFakeClock()
	c.nowFn = clock.Now

	_, err := q.Enqueue(resolvedTrack("t0", 30*time.Second))
	require.NoError(t, err)
	c.Kick()
	waitEvent(t, c, EventTrackStarted)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 30*time.Second, c.Progress())
}

func TestController_LiveSourceProgressUnbounded(t *testing.T) {
	q := queue.New(10)
	sink := &stubSink{}
	c := newTestController(q, newStubResolver(), sink)
	defer c.Close()
	clock := newFakeClock()
	c.nowFn = clock.Now

	live := resolvedTrack("radio", 0)
	_, err := q.Enqueue(live)
	require.NoError(t, err)
	c.Kick()
	waitEvent(t, c, EventTrackStarted)

	clock.Advance(3 * time.Hour)
	assert.Equal(t, 3*time.Hour, c.Progress())
}

func TestController_SkipAdvances(t *testing.T) {
	q := queue.New(10)
	sink := &stubSink{}
	c := newTestController(q, newStubResolver(), sink)
	defer c.Close()

	_, err := q.Enqueue(resolvedTrack("t0", time.Minute))
	require.NoError(t, err)
	_, err = q.Enqueue(resolvedTrack("t1", time.Minute))
	require.NoError(t, err)
	c.Kick()
	waitEvent(t, c, EventTrackStarted)

	require.NoError(t, c.Skip())
	skipped := waitEvent(t, c, EventTrackSkipped)
	assert.Equal(t, "t0", skipped.Track.ID)

	started := waitEvent(t, c, EventTrackStarted)
	assert.Equal(t, "t1", started.Track.ID)
}

func TestController_SkipWithRepeatTrackReplays(t *testing.T) {
	q := queue.New(10)
	q.SetRepeat(queue.RepeatTrack)
	sink := &stubSink{}
	c := newTestController(q, newStubResolver(), sink)
	defer c.Close()

	_, err := q.Enqueue(resolvedTrack("t0", time.Minute))
	require.NoError(t, err)
	c.Kick()
	waitEvent(t, c, EventTrackStarted)

	require.NoError(t, c.Skip())
	waitEvent(t, c, EventTrackSkipped)

	started := waitEvent(t, c, EventTrackStarted)
	assert.Equal(t, "t0", started.Track.ID)
}

func TestController_NaturalEndHonorsRepeatQueue(t *testing.T) {
	q := queue.New(10)
	q.SetRepeat(queue.RepeatQueue)
	sink := &stubSink{}
	c := newTestController(q, newStubResolver(), sink)
	defer c.Close()

	_, err := q.Enqueue(resolvedTrack("t0", time.Minute))
	require.NoError(t, err)
	_, err = q.Enqueue(resolvedTrack("t1", time.Minute))
	require.NoError(t, err)
	c.Kick()

	var order []string
	started := waitEvent(t, c, EventTrackStarted)
	order = append(order, started.Track.ID)
	for i := 0; i < 3; i++ {
		sink.finish(nil)
		waitEvent(t, c, EventTrackEnded)
		started = waitEvent(t, c, EventTrackStarted)
		order = append(order, started.Track.ID)
	}
	assert.Equal(t, []string{"t0", "t1", "t0", "t1"}, order)
}

func TestController_StopClearsEverything(t *testing.T) {
	q := queue.New(10)
	sink := &stubSink{}
	c := newTestController(q, newStubResolver(), sink)
	defer c.Close()

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(resolvedTrack(fmt.Sprintf("t%d", i), time.Minute))
		require.NoError(t, err)
	}
	c.Kick()
	waitEvent(t, c, EventTrackStarted)

	cleared := c.Stop()
	assert.Equal(t, 2, cleared)
	assert.Equal(t, StateIdle, c.GetState())
	assert.True(t, c.Idle())
	_, ok := c.Current()
	assert.False(t, ok)

	// A natural-end report from the detached stream must be ignored.
	sink.finish(nil)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateIdle, c.GetState())
	assert.Equal(t, 0, q.Len())
}

func TestController_PlayOnEmptyQueue(t *testing.T) {
	q := queue.New(10)
	c := newTestController(q, newStubResolver(), &stubSink{})
	defer c.Close()

	assert.ErrorIs(t, c.Play(), ErrQueueEmpty)
}

func TestController_PauseResumeErrors(t *testing.T) {
	q := queue.New(10)
	c := newTestController(q, newStubResolver(), &stubSink{})
	defer c.Close()

	assert.ErrorIs(t, c.Pause(), ErrNoTrack)
	assert.ErrorIs(t, c.Resume(), ErrNoTrack)

	_, err := q.Enqueue(resolvedTrack("t0", time.Minute))
	require.NoError(t, err)
	c.Kick()
	waitEvent(t, c, EventTrackStarted)

	assert.ErrorIs(t, c.Resume(), ErrNotPaused)
	require.NoError(t, c.Pause())
	assert.ErrorIs(t, c.Pause(), ErrNotPlaying)
}
