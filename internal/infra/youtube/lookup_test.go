package youtube

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dennis006/agentbee-sub002/internal/app/resolver"
)

func TestClassifyStreamError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "missing video", err: errors.New("ERROR: Video unavailable"), want: resolver.ErrNotFound},
		{name: "deleted", err: errors.New("this channel does not exist"), want: resolver.ErrNotFound},
		{name: "geo blocked", err: errors.New("The uploader has not made this video not available in your country"), want: resolver.ErrRestricted},
		{name: "age gate", err: errors.New("Sign in to confirm your age: age-restricted video"), want: resolver.ErrRestricted},
		{name: "private", err: errors.New("ERROR: Private video"), want: resolver.ErrUnavailable},
		{name: "drm", err: errors.New("this video is DRM protected"), want: resolver.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyStreamError("https://youtu.be/x", tt.err)
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestClassifyStreamError_UnknownStaysTransient(t *testing.T) {
	got := classifyStreamError("https://youtu.be/x", errors.New("connection reset by peer"))

	re, ok := resolver.AsResolutionError(got)
	assert.False(t, ok)
	_ = re
	assert.NotErrorIs(t, got, resolver.ErrNotFound)
	assert.NotErrorIs(t, got, resolver.ErrRestricted)
	assert.NotErrorIs(t, got, resolver.ErrUnavailable)
}

func TestLookup_CacheRoundTrip(t *testing.T) {
	l := NewLookup(Config{CacheTTL: time.Minute})
	defer l.Close()

	results := []resolver.Candidate{{Title: "hit", SourceRef: "https://youtu.be/a"}}
	l.store("some query", results)

	got, ok := l.cached("some query")
	require.True(t, ok)
	assert.Equal(t, results, got)

	_, ok = l.cached("other query")
	assert.False(t, ok)
}

func TestLookup_CacheExpiry(t *testing.T) {
	l := NewLookup(Config{CacheTTL: time.Minute})
	defer l.Close()

	l.store("q", []resolver.Candidate{{Title: "hit"}})
	l.mu.Lock()
	e := l.cache["q"]
	e.expires = time.Now().Add(-time.Second)
	l.cache["q"] = e
	l.mu.Unlock()

	_, ok := l.cached("q")
	assert.False(t, ok)
}

func TestLookup_CacheDisabled(t *testing.T) {
	l := NewLookup(Config{})
	defer l.Close()

	l.store("q", []resolver.Candidate{{Title: "hit"}})
	_, ok := l.cached("q")
	assert.False(t, ok)
}
