package radio

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dennis006/agentbee-sub002/internal/app/resolver"
	"github.com/dennis006/agentbee-sub002/internal/domain/track"
	"github.com/dennis006/agentbee-sub002/internal/infra/config"
)

type fakeProvider struct {
	name   string
	tracks []*track.Track
	err    error
	calls  int
}

func (p *fakeProvider) GetCandidates(_ context.Context, count int, excludeIDs map[string]bool) ([]*track.Track, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	var out []*track.Track
	for _, t := range p.tracks {
		if excludeIDs[t.SourceRef] {
			continue
		}
		out = append(out, t)
		if len(out) >= count {
			break
		}
	}
	return out, nil
}

func (p *fakeProvider) Name() string { return p.name }

func radioTrack(ref string) *track.Track {
	return &track.Track{Title: "title " + ref, SourceRef: ref}
}

func TestChain_CollectsFromAllProviders(t *testing.T) {
	p1 := &fakeProvider{name: "playlist", tracks: []*track.Track{radioTrack("a"), radioTrack("b")}}
	p2 := &fakeProvider{name: "search", tracks: []*track.Track{radioTrack("c")}}
	chain := NewChain([]ProviderWithMetadata{
		{Provider: p1, DisplayName: "Curated"},
		{Provider: p2, DisplayName: "Station"},
	})

	got, err := chain.GetCandidates(context.Background(), 5, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "Curated", got[0].DisplayName)
	assert.Equal(t, "Station", got[2].DisplayName)
	for _, c := range got {
		assert.Equal(t, track.OriginRadio, c.Track.Origin)
		assert.NotEmpty(t, c.Track.ID)
	}
}

func TestChain_SkipsFailingProvider(t *testing.T) {
	p1 := &fakeProvider{name: "playlist", err: errors.New("api down")}
	p2 := &fakeProvider{name: "search", tracks: []*track.Track{radioTrack("c")}}
	chain := NewChain([]ProviderWithMetadata{
		{Provider: p1, DisplayName: "Curated"},
		{Provider: p2, DisplayName: "Station"},
	})

	got, err := chain.GetCandidates(context.Background(), 3, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].Track.SourceRef)
}

func TestChain_AllProvidersFail(t *testing.T) {
	chain := NewChain([]ProviderWithMetadata{
		{Provider: &fakeProvider{name: "playlist", err: errors.New("down")}, DisplayName: "A"},
		{Provider: &fakeProvider{name: "search", err: errors.New("down")}, DisplayName: "B"},
	})

	_, err := chain.GetCandidates(context.Background(), 3, nil)
	assert.Error(t, err)
}

func TestChain_ExcludesDuplicatesAcrossProviders(t *testing.T) {
	p1 := &fakeProvider{name: "playlist", tracks: []*track.Track{radioTrack("a")}}
	p2 := &fakeProvider{name: "search", tracks: []*track.Track{radioTrack("a"), radioTrack("b")}}
	chain := NewChain([]ProviderWithMetadata{
		{Provider: p1, DisplayName: "A"},
		{Provider: p2, DisplayName: "B"},
	})

	got, err := chain.GetCandidates(context.Background(), 5, map[string]bool{"z": true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Track.SourceRef)
	assert.Equal(t, "b", got[1].Track.SourceRef)
}

type fakePlaylistClient struct {
	tracks []*track.Track
	calls  int
	err    error
}

func (c *fakePlaylistClient) GetPlaylistTracksRandom(_ context.Context, _ string, count int) ([]*track.Track, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	if count > len(c.tracks) {
		count = len(c.tracks)
	}
	return c.tracks[:count], nil
}

func TestPlaylistProvider_FetchesAndCaches(t *testing.T) {
	client := &fakePlaylistClient{}
	for i := 0; i < 6; i++ {
		client.tracks = append(client.tracks, radioTrack(fmt.Sprintf("p%d", i)))
	}

	p, err := NewPlaylistProvider(client, 6, map[string]any{
		"playlist_url": "https://open.spotify.com/playlist/abc",
	})
	require.NoError(t, err)

	got, err := p.GetCandidates(context.Background(), 2, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, client.calls)

	// Second call is served from cache.
	got, err = p.GetCandidates(context.Background(), 2, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, client.calls)
}

func TestPlaylistProvider_ExcludesQueuedTracks(t *testing.T) {
	client := &fakePlaylistClient{tracks: []*track.Track{radioTrack("p0"), radioTrack("p1")}}
	p, err := NewPlaylistProvider(client, 2, map[string]any{
		"playlist_url": "https://open.spotify.com/playlist/abc",
	})
	require.NoError(t, err)

	got, err := p.GetCandidates(context.Background(), 5, map[string]bool{"p0": true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].SourceRef)
}

func TestPlaylistProvider_RequiresURL(t *testing.T) {
	_, err := NewPlaylistProvider(&fakePlaylistClient{}, 5, map[string]any{})
	assert.Error(t, err)
}

type fakeSearchClient struct {
	results []resolver.Candidate
	err     error
	queries []string
}

func (c *fakeSearchClient) Search(_ context.Context, query string) ([]resolver.Candidate, error) {
	c.queries = append(c.queries, query)
	if c.err != nil {
		return nil, c.err
	}
	return c.results, nil
}

func TestSearchProvider_ReturnsTopHits(t *testing.T) {
	client := &fakeSearchClient{results: []resolver.Candidate{
		{Title: "Mix One", SourceRef: "https://youtu.be/one", Duration: 4 * time.Minute},
		{Title: "Mix Two", SourceRef: "https://youtu.be/two", Duration: 5 * time.Minute},
		{Title: "Mix Three", SourceRef: "https://youtu.be/three"},
	}}
	p, err := NewSearchProvider(client, map[string]any{"query": "chill lofi mix"})
	require.NoError(t, err)

	got, err := p.GetCandidates(context.Background(), 2, map[string]bool{"https://youtu.be/one": true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Mix Two", got[0].Title)
	assert.Equal(t, "Mix Three", got[1].Title)
	assert.Equal(t, []string{"chill lofi mix"}, client.queries)
}

func TestSearchProvider_RequiresQuery(t *testing.T) {
	_, err := NewSearchProvider(&fakeSearchClient{}, map[string]any{})
	assert.Error(t, err)
}

func TestNewChainFromConfig(t *testing.T) {
	cfg := &config.Config{
		Radio: config.RadioConfig{
			BatchSize: 5,
			Providers: []config.ProviderConfig{
				{Type: "playlist", DisplayName: "Curated", Settings: map[string]any{
					"playlist_url": "https://open.spotify.com/playlist/abc",
				}},
				{Type: "search", DisplayName: "Station", Settings: map[string]any{
					"query": "synthwave radio",
				}},
			},
		},
	}

	chain, err := NewChainFromConfig(cfg, &fakePlaylistClient{}, &fakeSearchClient{})
	require.NoError(t, err)
	require.Len(t, chain.providers, 2)
	assert.Equal(t, "playlist", chain.providers[0].Provider.Name())
	assert.Equal(t, "search", chain.providers[1].Provider.Name())
}

func TestNewChainFromConfig_UnknownType(t *testing.T) {
	cfg := &config.Config{
		Radio: config.RadioConfig{
			BatchSize: 5,
			Providers: []config.ProviderConfig{
				{Type: "recommendation", DisplayName: "X", Settings: map[string]any{}},
			},
		},
	}

	_, err := NewChainFromConfig(cfg, nil, &fakeSearchClient{})
	assert.Error(t, err)
}

func TestNewChainFromConfig_Empty(t *testing.T) {
	_, err := NewChainFromConfig(&config.Config{}, nil, &fakeSearchClient{})
	assert.Error(t, err)
}
