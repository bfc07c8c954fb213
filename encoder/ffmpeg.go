package encoder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FFmpegName is the registry name of the out-of-process libx264 encoder
const FFmpegName = "ffmpeg"

const (
	// ffmpegStopTimeout is how long Stop waits for ffmpeg to flush and exit
	ffmpegStopTimeout = 2 * time.Second

	stdoutChunk = 32 * 1024
)

// FFmpegInfo describes the ffmpeg encoder. It is available when the binary
// can be found on PATH (or at path, if absolute).
func FFmpegInfo(path string) Info {
	if path == "" {
		path = "ffmpeg"
	}
	return Info{
		Name:    FFmpegName,
		Layouts: []ColorLayout{SemiPlanar420, Planar420},
		Available: func() bool {
			_, err := exec.LookPath(path)
			return err == nil
		},
		New: func(log *zap.Logger) Codec {
			return NewFFmpeg(path, log)
		},
	}
}

// FFmpeg runs ffmpeg as a raw video to H.264 encoder. Raw frames go to its
// stdin and the Annex-B stream on stdout is split into access units at AUDs.
type FFmpeg struct {
	path   string
	log    *zap.Logger
	format Format

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	q       *slotQueue
	started bool

	ptsMu sync.Mutex
	pts   []int64

	writerDone chan struct{}
	readerDone chan struct{}
	stopOnce   sync.Once
}

// NewFFmpeg creates an unconfigured ffmpeg encoder
func NewFFmpeg(path string, log *zap.Logger) *FFmpeg {
	if log == nil {
		log = zap.NewNop()
	}
	return &FFmpeg{path: path, log: log.Named(FFmpegName)}
}

// Name implements Codec
func (e *FFmpeg) Name() string { return FFmpegName }

// Configure implements Codec
func (e *FFmpeg) Configure(f Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Layout != SemiPlanar420 && f.Layout != Planar420 {
		return fmt.Errorf("%w: ffmpeg does not accept %s", ErrEncoderConfig, f.Layout)
	}
	if f.Width%2 != 0 || f.Height%2 != 0 {
		return fmt.Errorf("%w: libx264 needs even dimensions, got %dx%d", ErrEncoderConfig, f.Width, f.Height)
	}
	e.format = f
	return nil
}

func (e *FFmpeg) args() []string {
	pixFmt := "nv12"
	if e.format.Layout == Planar420 {
		pixFmt = "yuv420p"
	}
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "rawvideo",
		"-pix_fmt", pixFmt,
		"-s", fmt.Sprintf("%dx%d", e.format.Width, e.format.Height),
		"-framerate", strconv.Itoa(e.format.FrameRate),
		"-i", "pipe:0",
		"-an",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-profile:v", "baseline",
		"-bf", "0",
		"-g", strconv.Itoa(e.format.GOP()),
		"-b:v", strconv.Itoa(e.format.Bitrate),
		"-x264-params", "aud=1",
		"-f", "h264",
		"pipe:1",
	}
}

// Start launches ffmpeg and its stdin/stdout pumps
func (e *FFmpeg) Start() error {
	if e.format.Width == 0 {
		return ErrNotConfigured
	}
	if e.started {
		return nil
	}

	cmd := exec.Command(e.path, e.args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to start ffmpeg: %v", ErrEncoderConfig, err)
	}

	e.log.Info("ffmpeg encoder started",
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("width", e.format.Width),
		zap.Int("height", e.format.Height),
		zap.String("layout", e.format.Layout.String()),
		zap.Int("bitrate", e.format.Bitrate),
		zap.Int("gop", e.format.GOP()))

	e.cmd = cmd
	e.stdin = stdin
	e.q = newSlotQueue(DefaultInputSlots, e.format.BufferSize())
	e.writerDone = make(chan struct{})
	e.readerDone = make(chan struct{})
	e.started = true

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			e.log.Debug("ffmpeg", zap.String("line", scanner.Text()))
		}
	}()
	go e.writeInputs()
	go e.readOutputs(stdout)
	return nil
}

func (e *FFmpeg) writeInputs() {
	defer close(e.writerDone)
	defer e.stdin.Close()

	for {
		p, ok := e.q.next()
		if !ok {
			return
		}

		e.ptsMu.Lock()
		e.pts = append(e.pts, p.pts)
		e.ptsMu.Unlock()

		_, err := e.stdin.Write(p.slot.Buf[:p.size])
		e.q.recycle(p.slot)
		if err != nil {
			e.log.Warn("ffmpeg stdin write failed", zap.Error(err))
			return
		}
	}
}

func (e *FFmpeg) readOutputs(stdout io.Reader) {
	defer close(e.readerDone)

	var (
		split  auSplitter
		last   int64
		closed bool
	)
	frameDur := int64(time.Second/time.Microsecond) / int64(e.format.FrameRate)

	publish := func(au []byte) {
		pts, ok := e.popPTS()
		if !ok {
			pts = last + frameDur
		}
		last = pts
		// keep draining stdout after shutdown so ffmpeg can exit
		if !closed && !e.q.emit(newUnit(au, pts)) {
			closed = true
		}
	}

	buf := make([]byte, stdoutChunk)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			for _, au := range split.push(buf[:n]) {
				publish(au)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.log.Debug("ffmpeg stdout closed", zap.Error(err))
			}
			break
		}
	}
	if au := split.flush(); au != nil {
		publish(au)
	}
}

func (e *FFmpeg) popPTS() (int64, bool) {
	e.ptsMu.Lock()
	defer e.ptsMu.Unlock()
	if len(e.pts) == 0 {
		return 0, false
	}
	pts := e.pts[0]
	e.pts = e.pts[1:]
	return pts, true
}

// DequeueInput implements Codec
func (e *FFmpeg) DequeueInput() (*Slot, bool) {
	if e.q == nil {
		return nil, false
	}
	return e.q.dequeueInput()
}

// QueueInput implements Codec
func (e *FFmpeg) QueueInput(slot *Slot, size int, pts int64) error {
	if e.q == nil {
		return ErrNotStarted
	}
	return e.q.queueInput(slot, size, pts)
}

// DequeueOutput implements Codec
func (e *FFmpeg) DequeueOutput() (Unit, bool) {
	if e.q == nil {
		return Unit{}, false
	}
	return e.q.dequeueOutput()
}

// Stop closes ffmpeg's input and waits for it to exit, killing it if it
// does not finish in time.
func (e *FFmpeg) Stop() error {
	if !e.started {
		return nil
	}

	var err error
	e.stopOnce.Do(func() {
		e.q.shutdown()

		deadline := time.NewTimer(ffmpegStopTimeout)
		defer deadline.Stop()
		killed := false
		// stdout reaches EOF once ffmpeg has flushed and exited
		for _, done := range []chan struct{}{e.writerDone, e.readerDone} {
			select {
			case <-done:
				continue
			case <-deadline.C:
			}
			if !killed {
				e.log.Warn("ffmpeg encoder did not exit, killing", zap.Int("pid", e.cmd.Process.Pid))
				_ = e.cmd.Process.Kill()
				killed = true
			}
			<-done
		}
		err = e.cmd.Wait()

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			e.log.Debug("ffmpeg encoder exited", zap.Int("code", exitErr.ExitCode()))
			err = nil
		}
	})
	return err
}

// Release stops ffmpeg if it is still running
func (e *FFmpeg) Release() error {
	return e.Stop()
}
