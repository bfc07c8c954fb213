package encoder

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"camera-hls-server/channel"
	"camera-hls-server/yuv"

	"go.uber.org/zap"
)

// writeErrorLogInterval rate-limits sink failure logs
const writeErrorLogInterval = time.Second

// Stats is a snapshot of the loop counters
type Stats struct {
	Submitted    uint64 `json:"submitted"`
	Dropped      uint64 `json:"dropped"`
	Units        uint64 `json:"units"`
	KeyFrames    uint64 `json:"key_frames"`
	Bytes        uint64 `json:"bytes"`
	WriteErrors  uint64 `json:"write_errors"`
	RepackErrors uint64 `json:"repack_errors"`
}

// Loop feeds frames into a Codec and writes every ready access unit to a
// sink. Each step submits at most one frame and then drains all output.
type Loop struct {
	codec Codec
	sink  io.Writer
	log   *zap.Logger

	mu         sync.Mutex
	format     Format
	configured bool
	started    bool
	stopped    bool
	stats      Stats

	lastWriteLog   time.Time
	suppressedLogs int
}

// NewLoop creates a loop driving codec and writing to sink
func NewLoop(codec Codec, sink io.Writer, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		sink = io.Discard
	}
	return &Loop{
		codec: codec,
		sink:  sink,
		log:   log.Named("encode_loop").With(zap.String("codec", codec.Name())),
	}
}

// Configure validates and applies the encoder format
func (l *Loop) Configure(f Format) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return fmt.Errorf("%w: loop already started", ErrEncoderConfig)
	}
	if err := l.codec.Configure(f); err != nil {
		return err
	}
	l.format = f
	l.configured = true
	return nil
}

// Start starts the codec. Configure must be called first.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.configured {
		return ErrNotConfigured
	}
	if l.started {
		return nil
	}
	if err := l.codec.Start(); err != nil {
		return fmt.Errorf("start %s: %w", l.codec.Name(), err)
	}
	l.started = true
	l.stopped = false

	l.log.Info("Encode loop started",
		zap.Int("width", l.format.Width),
		zap.Int("height", l.format.Height),
		zap.String("layout", l.format.Layout.String()))
	return nil
}

// Format returns the configured format
func (l *Loop) Format() Format {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.format
}

// Submit copies an already packed buffer into a free input slot. The frame is
// dropped with ErrBusy when every slot is in use.
func (l *Loop) Submit(buf []byte, pts int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running() {
		return ErrNotStarted
	}
	if want := l.format.BufferSize(); len(buf) != want {
		l.stats.Dropped++
		return fmt.Errorf("%w: buffer is %d bytes, want %d", ErrResolutionMismatch, len(buf), want)
	}

	slot, ok := l.codec.DequeueInput()
	if !ok {
		l.stats.Dropped++
		l.drain()
		return ErrBusy
	}
	copy(slot.Buf, buf)
	if err := l.queue(slot, len(buf), pts); err != nil {
		return err
	}
	l.drain()
	return nil
}

// ProcessFrame repacks a camera frame straight into an encoder input slot
// and submits it. The frame is closed on every path.
func (l *Loop) ProcessFrame(frame *yuv.Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running() {
		frame.Close()
		return ErrNotStarted
	}
	if frame.Width != l.format.Width || frame.Height != l.format.Height {
		frame.Close()
		l.stats.Dropped++
		return fmt.Errorf("%w: frame %dx%d, encoder %dx%d", ErrResolutionMismatch,
			frame.Width, frame.Height, l.format.Width, l.format.Height)
	}

	// acquire the slot before touching pixels so a busy encoder costs nothing
	slot, ok := l.codec.DequeueInput()
	if !ok {
		frame.Close()
		l.stats.Dropped++
		l.drain()
		return ErrBusy
	}

	pts := frame.Timestamp
	if err := yuv.RepackInto(slot.Buf, frame, l.format.Layout.PixelLayout()); err != nil {
		l.stats.RepackErrors++
		_ = l.codec.QueueInput(slot, 0, 0)
		l.drain()
		return err
	}
	if err := l.queue(slot, len(slot.Buf), pts); err != nil {
		return err
	}
	l.drain()
	return nil
}

func (l *Loop) running() bool {
	return l.started && !l.stopped
}

func (l *Loop) queue(slot *Slot, size int, pts int64) error {
	if err := l.codec.QueueInput(slot, size, pts); err != nil {
		l.stats.Dropped++
		return fmt.Errorf("queue input: %w", err)
	}
	l.stats.Submitted++
	return nil
}

// DrainAvailable returns every unit that is ready right now without writing
// them to the sink. It never blocks.
func (l *Loop) DrainAvailable() []Unit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dequeueAll()
}

func (l *Loop) dequeueAll() []Unit {
	if !l.started {
		return nil
	}
	var units []Unit
	for {
		u, ok := l.codec.DequeueOutput()
		if !ok {
			return units
		}
		units = append(units, u)
	}
}

// drain writes every ready unit to the sink in order. Sink errors are
// counted and logged, never returned.
func (l *Loop) drain() {
	for _, u := range l.dequeueAll() {
		l.stats.Units++
		if u.KeyFrame {
			l.stats.KeyFrames++
		}

		n, err := l.sink.Write(u.Data)
		l.stats.Bytes += uint64(n)
		if err != nil {
			l.stats.WriteErrors++
			l.logWriteError(err)
		}
	}
}

func (l *Loop) logWriteError(err error) {
	now := time.Now()
	if now.Sub(l.lastWriteLog) < writeErrorLogInterval {
		l.suppressedLogs++
		return
	}

	fields := []zap.Field{
		zap.Error(err),
		zap.Uint64("write_errors", l.stats.WriteErrors),
		zap.Int("suppressed", l.suppressedLogs),
	}
	switch {
	case errors.Is(err, channel.ErrWouldBlock):
		l.log.Warn("Muxer is not keeping up, unit truncated", fields...)
	case errors.Is(err, channel.ErrBrokenChannel), errors.Is(err, channel.ErrClosed):
		l.log.Warn("Stream channel is gone, dropping encoded output", fields...)
	default:
		l.log.Error("Failed to write encoded unit", fields...)
	}
	l.lastWriteLog = now
	l.suppressedLogs = 0
}

// Stats returns a snapshot of the loop counters
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Stop stops and releases the codec. It is safe to call repeatedly and on a
// loop that was never started.
func (l *Loop) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped || !l.configured {
		return nil
	}
	l.stopped = true

	var errs []error
	if l.started {
		if err := l.codec.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", l.codec.Name(), err))
		}
	}
	if err := l.codec.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release %s: %w", l.codec.Name(), err))
	}
	l.started = false

	l.log.Info("Encode loop stopped",
		zap.Uint64("submitted", l.stats.Submitted),
		zap.Uint64("dropped", l.stats.Dropped),
		zap.Uint64("units", l.stats.Units),
		zap.Uint64("write_errors", l.stats.WriteErrors))
	return errors.Join(errs...)
}
