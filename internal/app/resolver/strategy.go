package resolver

import (
	"context"
	"net/url"
	"strings"
)

// directStrategy attempts a metadata+stream lookup on requests that look
// like direct source references.
type directStrategy struct {
	lookup MediaLookup
}

func (s *directStrategy) Name() string {
	return "direct_lookup"
}

func (s *directStrategy) Applies(request string) bool {
	return LooksLikeSourceRef(request)
}

func (s *directStrategy) Resolve(ctx context.Context, request string) (*Streamable, string, error) {
	streamable, err := s.lookup.FetchStreamable(ctx, request)
	if err != nil {
		return nil, "", err
	}
	return streamable, request, nil
}

// searchStrategy performs a text search and looks up the top candidate.
type searchStrategy struct {
	lookup MediaLookup
}

func (s *searchStrategy) Name() string {
	return "text_search"
}

func (s *searchStrategy) Applies(request string) bool {
	// Also reached when a direct lookup failed; searching for the raw
	// URL text is harmless and occasionally rescues mistyped links.
	return true
}

func (s *searchStrategy) Resolve(ctx context.Context, request string) (*Streamable, string, error) {
	candidates, err := s.lookup.Search(ctx, request)
	if err != nil {
		return nil, "", err
	}
	if len(candidates) == 0 {
		return nil, "", ErrNotFound
	}

	top := candidates[0]
	streamable, err := s.lookup.FetchStreamable(ctx, top.SourceRef)
	if err != nil {
		return nil, "", err
	}
	return streamable, top.SourceRef, nil
}

// LooksLikeSourceRef reports whether the request parses as a direct
// source reference rather than a free-text query.
func LooksLikeSourceRef(request string) bool {
	request = strings.TrimSpace(request)
	if !strings.HasPrefix(request, "http://") && !strings.HasPrefix(request, "https://") {
		return false
	}
	u, err := url.Parse(request)
	if err != nil {
		return false
	}
	return u.Host != ""
}
