// Package resolver turns a play request into a streamable track.
//
// A request is either a direct source reference or a free-text query.
// Resolution runs an ordered list of strategies and stops at the first
// success. The resolver holds no session state and is safe to invoke
// concurrently for unrelated requests.
package resolver

import (
	"context"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/dennis006/agentbee-sub002/internal/domain/track"
)

// Candidate is a ranked search result from the media-lookup service.
type Candidate struct {
	Title        string
	Author       string
	SourceRef    string
	ThumbnailURL string
	Duration     time.Duration
}

// Streamable is the full lookup result for a single source reference.
// StreamRef may be empty when the service found metadata but no usable
// stream; the resolver treats that as a failure.
type Streamable struct {
	Title        string
	Author       string
	ThumbnailURL string
	StreamRef    string
	Duration     time.Duration
}

// MediaLookup is the external media-lookup/search collaborator.
type MediaLookup interface {
	// Search performs a text search and returns ranked candidates.
	Search(ctx context.Context, query string) ([]Candidate, error)
	// FetchStreamable retrieves metadata and a stream handle for a
	// source reference.
	FetchStreamable(ctx context.Context, ref string) (*Streamable, error)
}

// Strategy is one step of the resolution fallback chain.
type Strategy interface {
	// Name returns the strategy name (used in logs).
	Name() string
	// Applies reports whether the strategy should be attempted for the
	// given request.
	Applies(request string) bool
	// Resolve attempts to produce a streamable result for the request.
	Resolve(ctx context.Context, request string) (*Streamable, string, error)
}

// Resolver evaluates strategies in order until one succeeds.
type Resolver struct {
	strategies []Strategy
}

// New creates a resolver with the default strategy order: direct lookup
// for requests that look like source references, then text search.
func New(lookup MediaLookup) *Resolver {
	return &Resolver{
		strategies: []Strategy{
			&directStrategy{lookup: lookup},
			&searchStrategy{lookup: lookup},
		},
	}
}

// NewWithStrategies creates a resolver with an explicit strategy list.
func NewWithStrategies(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// Resolve turns a request string into a fully resolved Track. The caller
// stamps requester identity and origin kind afterwards.
func (r *Resolver) Resolve(ctx context.Context, request string) (*track.Track, error) {
	var lastErr error
	for _, s := range r.strategies {
		if !s.Applies(request) {
			continue
		}

		streamable, ref, err := s.Resolve(ctx, request)
		if err != nil {
			zlog.Debug().Msgf("resolver: strategy failed, trying next: strategy=%s request=%q error=%v", s.Name(), request, err)
			lastErr = err
			continue
		}
		if streamable.StreamRef == "" {
			// Metadata without a stream is not a usable result.
			zlog.Debug().Msgf("resolver: strategy returned no stream handle: strategy=%s request=%q", s.Name(), request)
			lastErr = ErrNoStream
			continue
		}

		return &track.Track{
			ID:           uuid.New().String(),
			Title:        streamable.Title,
			SourceRef:    ref,
			Duration:     streamable.Duration,
			ThumbnailURL: streamable.ThumbnailURL,
			Author:       streamable.Author,
			StreamRef:    streamable.StreamRef,
		}, nil
	}

	if lastErr == nil {
		lastErr = ErrNotFound
	}
	return nil, newResolutionError(request, lastErr)
}

// ResolveTrack fills in the stream handle (and any missing metadata) of
// a pending track in place, using its source reference. Used by the
// playback engine for tracks enqueued before resolution, and for
// re-resolution on retry.
func (r *Resolver) ResolveTrack(ctx context.Context, t *track.Track) error {
	// Non-fetchable source refs (for example spotify: URIs from curated
	// playlists) resolve through a metadata search instead.
	request := t.SourceRef
	if !LooksLikeSourceRef(request) && t.Title != "" {
		request = t.Title
		if t.Author != "" {
			request = t.Title + " " + t.Author
		}
	}

	resolved, err := r.Resolve(ctx, request)
	if err != nil {
		return err
	}

	t.StreamRef = resolved.StreamRef
	if t.SourceRef == "" {
		t.SourceRef = resolved.SourceRef
	}
	if t.Title == "" {
		t.Title = resolved.Title
	}
	if t.Author == "" {
		t.Author = resolved.Author
	}
	if t.ThumbnailURL == "" {
		t.ThumbnailURL = resolved.ThumbnailURL
	}
	if t.Duration == 0 {
		// Live sources resolve with a zero duration and stay unbounded.
		t.Duration = resolved.Duration
	}
	return nil
}
