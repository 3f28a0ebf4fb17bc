package discord

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/dennis006/agentbee-sub002/internal/app/voice"
)

// SessionAudio is the slice of a session the sink reads: the live
// connection handle and the configured volume.
type SessionAudio interface {
	Handle() voice.Handle
	Volume() int
}

// Sink streams a resolved source URL into the guild's voice
// connection. ffmpeg transcodes the input to Ogg/Opus on stdout and
// the sink forwards the opus packets to the gateway one frame at a
// time. Volume is applied at attach time.
type Sink struct {
	session SessionAudio

	mu       sync.Mutex
	cancel   context.CancelFunc
	provider *frameProvider
	handle   *Handle
}

// NewSink creates a sink bound to one session.
func NewSink(session SessionAudio) *Sink {
	return &Sink{session: session}
}

// Attach starts streaming streamRef into the session's voice
// connection. The returned channel yields one error on abnormal
// termination and closes without a value when the stream plays out.
func (s *Sink) Attach(ctx context.Context, streamRef string) (<-chan error, error) {
	h, ok := s.session.Handle().(*Handle)
	if !ok {
		return nil, errors.New("no voice connection to attach to")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(streamCtx, "ffmpeg", ffmpegArgs(streamRef, s.session.Volume())...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to open ffmpeg pipe")
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to start ffmpeg")
	}

	p := newFrameProvider(streamCtx)

	s.mu.Lock()
	s.cancel = cancel
	s.provider = p
	s.handle = h
	s.mu.Unlock()

	h.attachProvider(p)

	done := make(chan error, 1)
	go func() {
		demuxErr := demuxOggPackets(bufio.NewReaderSize(stdout, 64*1024), p.push)
		_, _ = io.Copy(io.Discard, stdout)
		waitErr := cmd.Wait()

		// Let the buffered tail play out before reporting the end.
		p.push(nil)
		select {
		case <-p.drained:
		case <-streamCtx.Done():
		}

		switch {
		case streamCtx.Err() != nil:
			// Detached; the close only releases a stale watcher.
			close(done)
		case waitErr != nil:
			done <- errors.Newf("ffmpeg exited: %v: %s", waitErr, firstLine(stderr.String()))
		case demuxErr != nil:
			done <- errors.Wrap(demuxErr, "audio stream ended abnormally")
		default:
			close(done)
		}
	}()
	return done, nil
}

// Detach stops the stream and silences the connection. Safe to call
// when nothing is attached.
func (s *Sink) Detach() {
	s.mu.Lock()
	cancel, p, h := s.cancel, s.provider, s.handle
	s.cancel, s.provider, s.handle = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if p != nil {
		p.finish()
	}
	if h != nil {
		h.detachProvider()
	}
}

// SetPaused gates frame delivery without touching the ffmpeg process.
func (s *Sink) SetPaused(paused bool) {
	s.mu.Lock()
	p := s.provider
	s.mu.Unlock()

	if p != nil {
		p.setPaused(paused)
	}
}

func ffmpegArgs(input string, volume int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", input,
		"-vn",
		"-af", fmt.Sprintf("volume=%.2f", float64(volume)/100),
		"-c:a", "libopus",
		"-b:a", "128k",
		"-ar", "48000",
		"-ac", "2",
		"-frame_duration", "20",
		"-f", "ogg",
		"pipe:1",
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// frameProvider hands buffered opus packets to the gateway's send
// loop. A nil frame marks the end of the stream.
type frameProvider struct {
	ctx    context.Context
	frames chan []byte

	pauseMu   sync.Mutex
	pauseCond *sync.Cond
	paused    bool

	drainedOnce sync.Once
	drained     chan struct{}
}

func newFrameProvider(ctx context.Context) *frameProvider {
	p := &frameProvider{
		ctx:     ctx,
		frames:  make(chan []byte, 100),
		drained: make(chan struct{}),
	}
	p.pauseCond = sync.NewCond(&p.pauseMu)
	return p
}

func (p *frameProvider) push(f []byte) {
	select {
	case p.frames <- f:
	case <-p.ctx.Done():
	}
}

func (p *frameProvider) setPaused(paused bool) {
	p.pauseMu.Lock()
	p.paused = paused
	p.pauseMu.Unlock()
	p.pauseCond.Broadcast()
}

func (p *frameProvider) finish() {
	p.drainedOnce.Do(func() {
		close(p.drained)
	})
}

// ProvideOpusFrame blocks while paused, yields the next packet, or
// reports silence when no packet is ready in time.
func (p *frameProvider) ProvideOpusFrame() ([]byte, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-p.ctx.Done():
			p.pauseCond.Broadcast()
		case <-stop:
		}
	}()

	p.pauseMu.Lock()
	for p.paused {
		if p.ctx.Err() != nil {
			p.pauseMu.Unlock()
			return nil, io.EOF
		}
		p.pauseCond.Wait()
	}
	p.pauseMu.Unlock()

	select {
	case f := <-p.frames:
		if f == nil {
			p.finish()
			return nil, io.EOF
		}
		return f, nil
	case <-p.ctx.Done():
		p.finish()
		return nil, io.EOF
	case <-time.After(100 * time.Millisecond):
		return nil, nil
	}
}

func (p *frameProvider) Close() {
	p.finish()
	zlog.Debug().Msg("discord: frame provider closed")
}
