package discord

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameProviderDeliversFramesInOrder(t *testing.T) {
	p := newFrameProvider(context.Background())
	p.push([]byte{1})
	p.push([]byte{2})

	f, err := p.ProvideOpusFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, f)

	f, err = p.ProvideOpusFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, f)
}

func TestFrameProviderSilenceWhenStarved(t *testing.T) {
	p := newFrameProvider(context.Background())

	f, err := p.ProvideOpusFrame()
	assert.NoError(t, err)
	assert.Nil(t, f)
}

func TestFrameProviderNilFrameEndsStream(t *testing.T) {
	p := newFrameProvider(context.Background())
	p.push(nil)

	_, err := p.ProvideOpusFrame()
	assert.Equal(t, io.EOF, err)

	select {
	case <-p.drained:
	default:
		t.Fatal("drained should be closed after the end marker")
	}
}

func TestFrameProviderCancelUnblocks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := newFrameProvider(ctx)

	done := make(chan error, 1)
	go func() {
		_, err := p.ProvideOpusFrame()
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.Equal(t, io.EOF, err)
	case <-time.After(time.Second):
		t.Fatal("ProvideOpusFrame did not return after cancel")
	}
}

func TestFrameProviderPauseBlocksUntilResumed(t *testing.T) {
	p := newFrameProvider(context.Background())
	p.setPaused(true)
	p.push([]byte{9})

	got := make(chan []byte, 1)
	go func() {
		f, _ := p.ProvideOpusFrame()
		got <- f
	}()

	select {
	case <-got:
		t.Fatal("frame delivered while paused")
	case <-time.After(150 * time.Millisecond):
	}

	p.setPaused(false)
	select {
	case f := <-got:
		assert.Equal(t, []byte{9}, f)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered after resume")
	}
}

func TestFrameProviderCancelUnblocksPausedConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := newFrameProvider(ctx)
	p.setPaused(true)

	done := make(chan error, 1)
	go func() {
		_, err := p.ProvideOpusFrame()
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.Equal(t, io.EOF, err)
	case <-time.After(time.Second):
		t.Fatal("paused ProvideOpusFrame did not return after cancel")
	}
}
