// Package muxer runs ffmpeg as the HLS segmenter. It reads a raw H.264
// elementary stream from an inherited pipe descriptor and writes a playlist
// and numbered MPEG-TS segments into an output directory.
package muxer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultSegmentSeconds is the HLS target segment duration
	DefaultSegmentSeconds = 2

	// DefaultPlaylist is the playlist file name inside the output directory
	DefaultPlaylist = "playlist.m3u8"

	// DefaultSegmentPattern names segments seg0.ts, seg1.ts, ...
	DefaultSegmentPattern = "seg%d.ts"

	// DefaultStopTimeout is how long each stop phase waits before escalating
	DefaultStopTimeout = 2 * time.Second

	// stderrTailLines is how many stderr lines are kept for failure reports
	stderrTailLines = 20

	// inputFD is the descriptor the stream arrives on (first ExtraFiles entry)
	inputFD = 3
)

// ErrNoInput is returned by Start when no input descriptor is given
var ErrNoInput = errors.New("muxer: no input stream")

// Config describes the ffmpeg HLS invocation
type Config struct {
	FFmpegPath     string
	SegmentSeconds int
	ListSize       int // playlist length, 0 keeps every segment
	Playlist       string
	SegmentPattern string
	StopTimeout    time.Duration
}

// DefaultConfig returns the standard live HLS settings
func DefaultConfig() Config {
	return Config{
		FFmpegPath:     "ffmpeg",
		SegmentSeconds: DefaultSegmentSeconds,
		ListSize:       0,
		Playlist:       DefaultPlaylist,
		SegmentPattern: DefaultSegmentPattern,
		StopTimeout:    DefaultStopTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FFmpegPath == "" {
		c.FFmpegPath = d.FFmpegPath
	}
	if c.SegmentSeconds <= 0 {
		c.SegmentSeconds = d.SegmentSeconds
	}
	if c.ListSize < 0 {
		c.ListSize = 0
	}
	if c.Playlist == "" {
		c.Playlist = d.Playlist
	}
	if c.SegmentPattern == "" {
		c.SegmentPattern = d.SegmentPattern
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	return c
}

// Args returns the ffmpeg arguments for writing HLS into outDir
func (c Config) Args(outDir string) []string {
	c = c.withDefaults()
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "h264",
		"-i", "pipe:" + strconv.Itoa(inputFD),
		"-codec:v", "copy",
		"-f", "hls",
		"-hls_time", strconv.Itoa(c.SegmentSeconds),
		"-hls_list_size", strconv.Itoa(c.ListSize),
		"-hls_segment_filename", filepath.Join(outDir, c.SegmentPattern),
		filepath.Join(outDir, c.Playlist),
	}
}

// Error reports a muxer that finished unsuccessfully
type Error struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("muxer exited with code %d", e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if last := lastLine(e.Stderr); last != "" {
		msg += ": " + last
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Process is a running ffmpeg HLS muxer
type Process struct {
	cfg    Config
	outDir string
	log    *zap.Logger
	cmd    *exec.Cmd

	tailMu sync.Mutex
	tail   []string

	done     chan struct{}
	err      error
	stopOnce sync.Once
	stopErr  error
}

// Start launches ffmpeg reading the stream from input. The child gets its
// own copy of the descriptor, so the caller may close input afterwards.
func Start(cfg Config, input *os.File, outDir string, log *zap.Logger) (*Process, error) {
	if input == nil {
		return nil, ErrNoInput
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	cmd := exec.Command(cfg.FFmpegPath, cfg.Args(outDir)...)
	cmd.ExtraFiles = []*os.File{input}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start muxer: %w", err)
	}

	p := &Process{
		cfg:    cfg,
		outDir: outDir,
		log:    log.Named("muxer").With(zap.Int("pid", cmd.Process.Pid)),
		cmd:    cmd,
		done:   make(chan struct{}),
	}
	p.log.Info("Muxer started",
		zap.String("playlist", filepath.Join(outDir, cfg.Playlist)),
		zap.Int("segment_seconds", cfg.SegmentSeconds))

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			p.record(scanner.Text())
		}
	}()
	go func() {
		// Wait must not run before stderr has been read to EOF
		<-stderrDone
		p.finish(cmd.Wait())
	}()
	return p, nil
}

func (p *Process) record(line string) {
	p.log.Debug("ffmpeg", zap.String("line", line))

	p.tailMu.Lock()
	defer p.tailMu.Unlock()
	p.tail = append(p.tail, line)
	if len(p.tail) > stderrTailLines {
		p.tail = p.tail[len(p.tail)-stderrTailLines:]
	}
}

// StderrTail returns the last lines ffmpeg wrote to stderr
func (p *Process) StderrTail() string {
	p.tailMu.Lock()
	defer p.tailMu.Unlock()
	if len(p.tail) == 0 {
		return ""
	}
	return strings.Join(p.tail, "\n") + "\n"
}

func (p *Process) finish(waitErr error) {
	if waitErr != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		p.err = &Error{ExitCode: code, Stderr: p.StderrTail(), Err: waitErr}
	}
	close(p.done)
}

// Pid returns the ffmpeg process id
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// OutDir returns the directory segments are written to
func (p *Process) OutDir() string { return p.outDir }

// Done is closed once ffmpeg has exited
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns nil while running or after a clean exit, and a *Error when
// ffmpeg failed or had to be signalled.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Stop waits for ffmpeg to finish on its own, which it does once the input
// stream hits EOF. If it does not, it is interrupted and finally killed.
// Cancelling ctx escalates without waiting. Stop is idempotent.
func (p *Process) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.stopErr = p.stop(ctx)
	})
	return p.stopErr
}

func (p *Process) stop(ctx context.Context) error {
	if p.wait(ctx, p.cfg.StopTimeout) {
		return p.err
	}

	p.log.Warn("Muxer did not exit after end of stream, interrupting")
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.log.Debug("interrupt failed", zap.Error(err))
	}
	if p.wait(ctx, p.cfg.StopTimeout) {
		return p.err
	}

	p.log.Warn("Muxer ignored interrupt, killing")
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill muxer: %w", err)
	}
	<-p.done
	return p.err
}

func (p *Process) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
