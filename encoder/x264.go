package encoder

import (
	"bytes"
	"fmt"
	"image"

	x264 "github.com/gen2brain/x264-go"
	"go.uber.org/zap"
)

// X264Name is the registry name of the in-process software encoder
const X264Name = "x264"

// X264Info describes the in-process x264 encoder. It is always available.
func X264Info() Info {
	return Info{
		Name:    X264Name,
		Layouts: []ColorLayout{Planar420},
		New: func(log *zap.Logger) Codec {
			return NewX264(log)
		},
	}
}

// X264 encodes in-process with libx264. Inputs are encoded on a worker
// goroutine so the submit path never waits for compression.
type X264 struct {
	log    *zap.Logger
	format Format

	enc  *x264.Encoder
	out  bytes.Buffer
	q    *slotQueue
	done chan struct{}
}

// NewX264 creates an unconfigured x264 encoder
func NewX264(log *zap.Logger) *X264 {
	if log == nil {
		log = zap.NewNop()
	}
	return &X264{log: log.Named(X264Name)}
}

// Name implements Codec
func (e *X264) Name() string { return X264Name }

// Configure implements Codec
func (e *X264) Configure(f Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Layout != Planar420 {
		return fmt.Errorf("%w: x264 accepts %s, got %s", ErrEncoderConfig, Planar420, f.Layout)
	}
	if f.Width%2 != 0 || f.Height%2 != 0 {
		return fmt.Errorf("%w: x264 needs even dimensions, got %dx%d", ErrEncoderConfig, f.Width, f.Height)
	}
	e.format = f
	return nil
}

// Start implements Codec
func (e *X264) Start() error {
	if e.format.Width == 0 {
		return ErrNotConfigured
	}
	if e.enc != nil {
		return nil
	}

	enc, err := x264.NewEncoder(&e.out, x264Options(e.format))
	if err != nil {
		return fmt.Errorf("%w: x264: %v", ErrEncoderConfig, err)
	}

	e.log.Debug("x264 encoder started",
		zap.Int("width", e.format.Width),
		zap.Int("height", e.format.Height),
		zap.Int("fps", e.format.FrameRate),
		zap.Int("requested_bitrate", e.format.Bitrate))

	e.enc = enc
	e.q = newSlotQueue(DefaultInputSlots, e.format.BufferSize())
	e.done = make(chan struct{})
	go e.run()
	return nil
}

// x264Options maps a format onto the encoder. x264-go fixes the GOP at one
// second of frames. Its "abr" mode only sets the VBV max rate and never the
// target bitrate, which x264 rejects, so rate control stays on the default CRF
// and Format.Bitrate is not applied.
func x264Options(f Format) *x264.Options {
	return &x264.Options{
		Width:     f.Width,
		Height:    f.Height,
		FrameRate: f.FrameRate,
		Tune:      "zerolatency",
		Preset:    "veryfast",
		Profile:   "baseline",
		LogLevel:  x264.LogWarning,
	}
}

func (e *X264) run() {
	defer close(e.done)

	for {
		p, ok := e.q.next()
		if !ok {
			return
		}

		err := e.enc.Encode(planarImage(p.slot.Buf[:p.size], e.format.Width, e.format.Height))
		e.q.recycle(p.slot)
		if err != nil {
			e.log.Warn("x264 encode failed", zap.Error(err))
			e.out.Reset()
			continue
		}
		if e.out.Len() == 0 {
			continue
		}

		data := bytes.Clone(e.out.Bytes())
		e.out.Reset()
		if !e.q.emit(newUnit(data, p.pts)) {
			return
		}
	}
}

// planarImage views an I420 buffer as an image without copying. It is the
// x264 image type so Encode takes the planes as they are instead of
// converting pixel by pixel.
func planarImage(buf []byte, width, height int) *x264.YCbCr {
	ySize := width * height
	cSize := (width / 2) * (height / 2)
	return &x264.YCbCr{YCbCr: &image.YCbCr{
		Y:              buf[:ySize],
		Cb:             buf[ySize : ySize+cSize],
		Cr:             buf[ySize+cSize : ySize+2*cSize],
		YStride:        width,
		CStride:        width / 2,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, width, height),
	}}
}

// DequeueInput implements Codec
func (e *X264) DequeueInput() (*Slot, bool) {
	if e.q == nil {
		return nil, false
	}
	return e.q.dequeueInput()
}

// QueueInput implements Codec
func (e *X264) QueueInput(slot *Slot, size int, pts int64) error {
	if e.q == nil {
		return ErrNotStarted
	}
	return e.q.queueInput(slot, size, pts)
}

// DequeueOutput implements Codec
func (e *X264) DequeueOutput() (Unit, bool) {
	if e.q == nil {
		return Unit{}, false
	}
	return e.q.dequeueOutput()
}

// Stop finishes queued inputs and stops the worker
func (e *X264) Stop() error {
	if e.q == nil {
		return nil
	}
	e.q.shutdown()
	<-e.done
	return nil
}

// Release frees the native encoder
func (e *X264) Release() error {
	if e.enc == nil {
		return nil
	}
	if e.q != nil {
		e.q.shutdown()
		<-e.done
	}
	err := e.enc.Close()
	e.enc = nil
	if err != nil {
		return fmt.Errorf("x264 close: %w", err)
	}
	return nil
}
