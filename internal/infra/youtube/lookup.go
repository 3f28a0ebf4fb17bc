// Package youtube provides media search and stream resolution backed by
// YouTube, YouTube Music and yt-dlp.
package youtube

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dennis006/agentbee-sub002/internal/app/resolver"
)

const (
	searchTimeout = 3 * time.Second
	maxResults    = 25
)

// Config holds lookup tunables.
type Config struct {
	CacheTTL        time.Duration // Search cache entry lifetime, 0 disables caching
	RatePerSec      float64       // Outbound search rate limit
	Burst           int           // Rate limiter burst
	PreferMusicHits bool          // List YouTube Music hits before plain YouTube hits
}

// Lookup performs media searches and acquires stream handles. It
// implements the resolver's media lookup and the radio search client.
type Lookup struct {
	limiter *rate.Limiter
	config  Config

	mu    sync.Mutex
	cache map[string]cacheEntry
	done  chan struct{}
}

type cacheEntry struct {
	results []resolver.Candidate
	expires time.Time
}

// NewLookup creates a lookup client.
func NewLookup(config Config) *Lookup {
	if config.RatePerSec <= 0 {
		config.RatePerSec = 2
	}
	if config.Burst <= 0 {
		config.Burst = 4
	}
	l := &Lookup{
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSec), config.Burst),
		config:  config,
		cache:   make(map[string]cacheEntry),
		done:    make(chan struct{}),
	}
	if config.CacheTTL > 0 {
		go l.gcLoop()
	}
	return l
}

// Close stops the cache janitor.
func (l *Lookup) Close() {
	close(l.done)
}

// Search queries YouTube Music and YouTube concurrently, merging the
// results with duplicates removed. Results are cached per query.
func (l *Lookup) Search(ctx context.Context, query string) ([]resolver.Candidate, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if hit, ok := l.cached(key); ok {
		return hit, nil
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	var (
		mu       sync.Mutex
		music    []resolver.Candidate
		plain    []resolver.Candidate
		seen     = make(map[string]bool)
		wg       sync.WaitGroup
		musicErr error
		plainErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		s := ytmusic.TrackSearch(query)
		r, err := s.Next()
		if err != nil {
			musicErr = err
			return
		}
		for _, v := range r.Tracks {
			if v.VideoID == "" {
				continue
			}
			author := ""
			if len(v.Artists) > 0 {
				author = v.Artists[0].Name
			}
			mu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				music = append(music, resolver.Candidate{
					Title:     v.Title,
					Author:    author,
					SourceRef: "https://music.youtube.com/watch?v=" + v.VideoID,
				})
			}
			mu.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		c := ytsearch.NewClient(nil)
		r, err := c.Search(sctx, query)
		if err != nil {
			plainErr = err
			return
		}
		for _, v := range r.Results {
			mu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				plain = append(plain, resolver.Candidate{
					Title:     v.Title,
					SourceRef: "https://www.youtube.com/watch?v=" + v.VideoID,
				})
			}
			mu.Unlock()
		}
	}()
	wg.Wait()

	var merged []resolver.Candidate
	if l.config.PreferMusicHits {
		merged = append(music, plain...)
	} else {
		merged = append(plain, music...)
	}
	if len(merged) > maxResults {
		merged = merged[:maxResults]
	}

	if len(merged) == 0 {
		if musicErr != nil && plainErr != nil {
			return nil, errors.Wrapf(musicErr, "search failed: query=%s", query)
		}
		return nil, errors.Wrapf(resolver.ErrNotFound, "no results: query=%s", query)
	}

	l.store(key, merged)
	return merged, nil
}

// FetchStreamable acquires a direct audio stream handle and metadata via
// yt-dlp without downloading.
func (l *Lookup) FetchStreamable(ctx context.Context, sourceRef string) (*resolver.Streamable, error) {
	res, err := ytdlp.New().
		Print("%(url)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(thumbnail)s").
		Format("bestaudio[ext=webm]/bestaudio").
		NoCheckFormats().
		NoWarnings().
		IgnoreConfig().
		Run(ctx, "--skip-download", sourceRef)
	if err != nil {
		return nil, classifyStreamError(sourceRef, err)
	}

	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 5 {
			continue
		}
		duration, _ := time.ParseDuration(parts[3] + "s")
		return &resolver.Streamable{
			StreamRef:    parts[0],
			Title:        parts[1],
			Author:       parts[2],
			Duration:     duration,
			ThumbnailURL: parts[4],
		}, nil
	}
	return nil, errors.Wrapf(resolver.ErrNoStream, "no stream metadata: ref=%s", sourceRef)
}

// classifyStreamError maps yt-dlp failure output onto the resolver's
// failure sentinels.
func classifyStreamError(sourceRef string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "video unavailable"),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "404"):
		return errors.Wrapf(resolver.ErrNotFound, "ref=%s: %v", sourceRef, err)
	case strings.Contains(msg, "not available in your country"),
		strings.Contains(msg, "geo restricted"),
		strings.Contains(msg, "age-restricted"):
		return errors.Wrapf(resolver.ErrRestricted, "ref=%s: %v", sourceRef, err)
	case strings.Contains(msg, "private video"),
		strings.Contains(msg, "drm"),
		strings.Contains(msg, "members-only"):
		return errors.Wrapf(resolver.ErrUnavailable, "ref=%s: %v", sourceRef, err)
	default:
		return errors.Wrapf(err, "stream fetch failed: ref=%s", sourceRef)
	}
}

func (l *Lookup) cached(key string) ([]resolver.Candidate, bool) {
	if l.config.CacheTTL <= 0 {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.cache[key]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.results, true
}

func (l *Lookup) store(key string, results []resolver.Candidate) {
	if l.config.CacheTTL <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache[key] = cacheEntry{results: results, expires: time.Now().Add(l.config.CacheTTL)}
}

// gcLoop drops expired cache entries periodically.
func (l *Lookup) gcLoop() {
	interval := l.config.CacheTTL
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			now := time.Now()
			l.mu.Lock()
			for k, e := range l.cache {
				if now.After(e.expires) {
					delete(l.cache, k)
				}
			}
			removed := len(l.cache)
			l.mu.Unlock()
			zlog.Debug().Msgf("youtube: search cache swept: remaining=%d", removed)
		}
	}
}
