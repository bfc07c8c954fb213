package muxer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"camera-hls-server/channel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg writes an executable shell script standing in for ffmpeg.
// The script sees the same arguments and descriptors ffmpeg would.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestArgs(t *testing.T) {
	args := DefaultConfig().Args("/srv/hls")
	assert.Equal(t, []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "h264",
		"-i", "pipe:3",
		"-codec:v", "copy",
		"-f", "hls",
		"-hls_time", "2",
		"-hls_list_size", "0",
		"-hls_segment_filename", "/srv/hls/seg%d.ts",
		"/srv/hls/playlist.m3u8",
	}, args)

	args = Config{SegmentSeconds: 4, ListSize: 6}.Args("out")
	assert.Contains(t, args, "4")
	assert.Contains(t, args, "6")
	assert.Equal(t, "out/playlist.m3u8", args[len(args)-1])
}

func TestStartRequiresInput(t *testing.T) {
	_, err := Start(DefaultConfig(), nil, t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestMuxerReadsInheritedPipe(t *testing.T) {
	// copy descriptor 3 into the playlist path, which is the last argument
	script := fakeFFmpeg(t, `for last; do :; done; exec cat <&3 > "$last"`)
	out := t.TempDir()

	ch, err := channel.New(channel.Options{})
	require.NoError(t, err)
	defer ch.Close()

	p, err := Start(Config{FFmpegPath: script}, ch.Reader(), out, nil)
	require.NoError(t, err)
	require.NoError(t, ch.CloseReader())

	_, err = ch.Write([]byte("\x00\x00\x00\x01\x09\xf0stream"))
	require.NoError(t, err)
	require.NoError(t, ch.CloseWriter())

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("muxer did not exit after end of stream")
	}
	require.NoError(t, p.Err())
	require.NoError(t, p.Stop(context.Background()))

	got, err := os.ReadFile(filepath.Join(out, DefaultPlaylist))
	require.NoError(t, err)
	assert.Equal(t, "\x00\x00\x00\x01\x09\xf0stream", string(got))
}

func TestMuxerFailureCarriesStderr(t *testing.T) {
	script := fakeFFmpeg(t, "echo 'pipe:3: Invalid data found when processing input' >&2; exit 3")

	ch, err := channel.New(channel.Options{})
	require.NoError(t, err)
	defer ch.Close()

	p, err := Start(Config{FFmpegPath: script}, ch.Reader(), t.TempDir(), nil)
	require.NoError(t, err)

	<-p.Done()
	var muxErr *Error
	require.True(t, errors.As(p.Err(), &muxErr))
	assert.Equal(t, 3, muxErr.ExitCode)
	assert.Contains(t, muxErr.Stderr, "Invalid data")
	assert.Contains(t, muxErr.Error(), "Invalid data")

	// stopping an exited muxer reports the same failure
	assert.Equal(t, p.Err(), p.Stop(context.Background()))
}

func TestStopEscalatesToInterrupt(t *testing.T) {
	script := fakeFFmpeg(t, "exec sleep 30")

	ch, err := channel.New(channel.Options{})
	require.NoError(t, err)
	defer ch.Close()

	p, err := Start(Config{FFmpegPath: script, StopTimeout: 100 * time.Millisecond}, ch.Reader(), t.TempDir(), nil)
	require.NoError(t, err)

	start := time.Now()
	err = p.Stop(context.Background())
	assert.Less(t, time.Since(start), 5*time.Second)

	var muxErr *Error
	require.True(t, errors.As(err, &muxErr))
	assert.Equal(t, -1, muxErr.ExitCode)

	// idempotent
	assert.Equal(t, err, p.Stop(context.Background()))
}

func TestStopKillsWhenInterruptIgnored(t *testing.T) {
	script := fakeFFmpeg(t, "trap '' INT; while :; do sleep 0.05; done")

	ch, err := channel.New(channel.Options{})
	require.NoError(t, err)
	defer ch.Close()

	p, err := Start(Config{FFmpegPath: script, StopTimeout: 100 * time.Millisecond}, ch.Reader(), t.TempDir(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.Error(t, p.Stop(ctx))

	select {
	case <-p.Done():
	default:
		t.Fatal("muxer still running after Stop")
	}
}
