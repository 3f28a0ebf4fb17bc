package playback

import "github.com/dennis006/agentbee-sub002/internal/domain/track"

// EventType represents a playback event type.
type EventType int

const (
	EventTrackStarted   EventType = iota // Track started playing
	EventTrackEnded                      // Track finished naturally
	EventTrackSkipped                    // Track was skipped by a user
	EventTrackFailed                     // Track was dropped after failures
	EventStateChanged                    // Playback state changed (pause/resume)
	EventQueueEmpty                      // Queue ran out, session is idle
	EventQueueExhausted                  // Queue drained through consecutive failures
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventTrackSkipped:
		return "track_skipped"
	case EventTrackFailed:
		return "track_failed"
	case EventStateChanged:
		return "state_changed"
	case EventQueueEmpty:
		return "queue_empty"
	case EventQueueExhausted:
		return "queue_exhausted"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type  EventType
	Track *track.Track // Affected track (nil for some events)
	State State        // State after the event
	Err   error        // Failure cause for EventTrackFailed
}
