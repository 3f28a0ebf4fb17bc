// Package track provides the Track domain entity.
package track

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// RetryCeiling is the maximum number of retries per track before the
// playback engine gives up and advances to the next queued track.
const RetryCeiling = 2

// OriginKind describes how a track entered the system.
type OriginKind string

const (
	OriginOnDemand OriginKind = "ON_DEMAND" // requested by a user
	OriginRadio    OriginKind = "RADIO"     // curated radio/playlist programming
)

// Requester identifies who asked for the track.
type Requester struct {
	UserID      snowflake.ID // chat-platform user ID (zero for system entries)
	DisplayName string       // display name at request time
}

// Track represents a playable unit. Fields other than Retries are fixed
// once the source resolver has filled them in.
type Track struct {
	ID           string        // per-enqueue UUID
	Title        string        // track title
	SourceRef    string        // canonical source reference (URL or search-derived)
	Duration     time.Duration // 0 for unbounded/live sources
	ThumbnailURL string        // artwork/thumbnail reference
	Author       string        // origin author/channel label
	Requester    Requester     // who requested it
	Origin       OriginKind    // on-demand or radio
	StreamRef    string        // stream handle, empty until resolved
	Retries      int           // resolution/transport retry counter
	EnqueuedAt   time.Time     // time the track entered a queue
}

// Resolved reports whether the track carries a usable stream handle.
func (t *Track) Resolved() bool {
	return t.StreamRef != ""
}

// Live reports whether the track is an unbounded source. Elapsed time is
// tracked for live tracks but never triggers completion.
func (t *Track) Live() bool {
	return t.Duration == 0
}

// RetriesExhausted reports whether the retry ceiling has been reached.
func (t *Track) RetriesExhausted() bool {
	return t.Retries >= RetryCeiling
}

// Label returns a human-readable identifier for logging.
func (t *Track) Label() string {
	if t.Title != "" {
		return t.Title
	}
	return t.SourceRef
}
