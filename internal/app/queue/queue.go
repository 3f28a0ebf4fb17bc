// Package queue provides the ordered per-session track queue.
package queue

import (
	"math/rand"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/dennis006/agentbee-sub002/internal/domain/track"
)

// Errors
var (
	ErrFull       = errors.New("queue is full")
	ErrOutOfRange = errors.New("index out of range")
)

// RepeatMode controls how DequeueNext treats the outgoing track.
type RepeatMode int

const (
	RepeatOff   RepeatMode = iota // advance normally
	RepeatTrack                   // replay the outgoing track
	RepeatQueue                   // re-append the outgoing track to the tail
)

// String returns the string representation of the repeat mode.
func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatTrack:
		return "track"
	case RepeatQueue:
		return "queue"
	default:
		return "unknown"
	}
}

// ParseRepeatMode parses a repeat mode name.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch s {
	case "off":
		return RepeatOff, nil
	case "track":
		return RepeatTrack, nil
	case "queue":
		return RepeatQueue, nil
	default:
		return RepeatOff, errors.Newf("unknown repeat mode: %q", s)
	}
}

// Queue is a bounded FIFO of pending tracks. The currently playing track
// is owned by the playback engine, never by the queue, so shuffling only
// ever permutes pending tracks. Mutating operations for one session are
// serialized by the engine; the internal mutex additionally protects
// concurrent snapshot reads.
type Queue struct {
	mu     sync.Mutex
	items  []*track.Track
	max    int
	repeat RepeatMode
}

// New creates a queue bounded to max tracks.
func New(max int) *Queue {
	return &Queue{
		items: make([]*track.Track, 0),
		max:   max,
	}
}

// Enqueue appends a track. It fails without mutating state once the
// configured maximum is reached. wasEmpty reports whether the queue was
// empty before the append, which the caller uses for demand signaling.
func (q *Queue) Enqueue(t *track.Track) (wasEmpty bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.max {
		return false, ErrFull
	}
	wasEmpty = len(q.items) == 0
	q.items = append(q.items, t)
	return wasEmpty, nil
}

// DequeueNext pops the head, honoring the repeat mode with respect to
// the outgoing current track:
//   - RepeatTrack re-returns outgoing without popping.
//   - RepeatQueue re-appends outgoing to the tail before popping.
//
// Returns nil when nothing is playable.
func (q *Queue) DequeueNext(outgoing *track.Track) *track.Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch q.repeat {
	case RepeatTrack:
		if outgoing != nil {
			return outgoing
		}
	case RepeatQueue:
		if outgoing != nil {
			q.items = append(q.items, outgoing)
		}
	}

	if len(q.items) == 0 {
		return nil
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head
}

// Remove deletes the pending track at index.
func (q *Queue) Remove(index int) (*track.Track, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.items) {
		return nil, ErrOutOfRange
	}
	removed := q.items[index]
	q.items = append(q.items[:index], q.items[index+1:]...)
	return removed, nil
}

// RemoveTrack deletes a pending track by its enqueue ID.
func (q *Queue) RemoveTrack(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.items {
		if t.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes all pending tracks and returns how many were removed.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := len(q.items)
	q.items = q.items[:0]
	return removed
}

// Shuffle randomly permutes the pending tracks in place.
func (q *Queue) Shuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()

	rand.Shuffle(len(q.items), func(i, j int) {
		q.items[i], q.items[j] = q.items[j], q.items[i]
	})
}

// Len returns the number of pending tracks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the pending tracks in queue order.
func (q *Queue) Snapshot() []*track.Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*track.Track, len(q.items))
	copy(out, q.items)
	return out
}

// Repeat returns the current repeat mode.
func (q *Queue) Repeat() RepeatMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.repeat
}

// SetRepeat sets the repeat mode.
func (q *Queue) SetRepeat(m RepeatMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.repeat = m
}
