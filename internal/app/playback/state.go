// Package playback provides the per-session playback state machine.
package playback

// State represents the playback state.
type State int

const (
	StateIdle      State = iota // No track current (queue empty or stopped)
	StateResolving              // Next track pulled, stream acquisition in flight
	StatePlaying                // Track is playing
	StatePaused                 // Track is paused
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}
