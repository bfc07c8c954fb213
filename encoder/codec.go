// Package encoder drives an H.264 encoder: frames are submitted into free
// input slots, and every ready access unit is drained to a byte sink in order.
package encoder

import (
	"errors"
	"fmt"

	"camera-hls-server/yuv"
)

var (
	// ErrBusy means no encoder input slot was free; the frame was dropped
	ErrBusy = errors.New("encoder busy: no free input slot")
	// ErrEncoderConfig means no usable encoder/color layout combination exists
	ErrEncoderConfig = errors.New("encoder configuration error")
	// ErrNotConfigured is returned by Start when Configure was never called
	ErrNotConfigured = errors.New("encoder not configured")
	// ErrNotStarted is returned when submitting before Start or after Stop
	ErrNotStarted = errors.New("encoder not started")
	// ErrResolutionMismatch means a frame doesn't match the configured resolution
	ErrResolutionMismatch = errors.New("frame resolution does not match encoder")
)

// ColorLayout is the input color format an encoder advertises
type ColorLayout int

const (
	Flexible420 ColorLayout = iota
	SemiPlanar420
	Planar420
)

// DefaultPreference is the fixed probing order for color layouts
var DefaultPreference = []ColorLayout{Flexible420, SemiPlanar420, Planar420}

func (c ColorLayout) String() string {
	switch c {
	case Flexible420:
		return "flexible-420"
	case SemiPlanar420:
		return "semi-planar-420"
	case Planar420:
		return "planar-420"
	default:
		return "unknown"
	}
}

// PixelLayout returns the buffer layout frames must be repacked into.
// Flexible input is fed as NV12.
func (c ColorLayout) PixelLayout() yuv.Layout {
	if c == Planar420 {
		return yuv.I420
	}
	return yuv.NV12
}

// Format is the encoder configuration
type Format struct {
	Width            int
	Height           int
	Bitrate          int // bits per second
	FrameRate        int
	KeyFrameInterval int // seconds
	Layout           ColorLayout
}

// Validate checks the format is usable
func (f Format) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: resolution %dx%d", ErrEncoderConfig, f.Width, f.Height)
	}
	if f.Bitrate <= 0 {
		return fmt.Errorf("%w: bitrate %d", ErrEncoderConfig, f.Bitrate)
	}
	if f.FrameRate <= 0 {
		return fmt.Errorf("%w: frame rate %d", ErrEncoderConfig, f.FrameRate)
	}
	if f.KeyFrameInterval < 0 {
		return fmt.Errorf("%w: key frame interval %d", ErrEncoderConfig, f.KeyFrameInterval)
	}
	return nil
}

// GOP returns the key frame interval in frames
func (f Format) GOP() int {
	if f.KeyFrameInterval == 0 {
		return 1
	}
	return f.FrameRate * f.KeyFrameInterval
}

// BufferSize returns the packed input buffer size for this format
func (f Format) BufferSize() int {
	return yuv.BufferSize(f.Width, f.Height)
}

// Slot is an encoder input buffer. Buf is exactly Format.BufferSize long.
type Slot struct {
	Index int
	Buf   []byte
}

// Unit is one compressed access unit in Annex-B form
type Unit struct {
	Data     []byte
	PTS      int64 // microseconds
	KeyFrame bool
	Config   bool // carries SPS/PPS
}

// Codec is the encoder the loop drives. Dequeue calls never block.
type Codec interface {
	Name() string
	Configure(f Format) error
	Start() error

	// DequeueInput returns a free input slot, or false when all are in use
	DequeueInput() (*Slot, bool)
	// QueueInput hands the first size bytes of a slot to the encoder.
	// A zero size returns the slot without encoding anything.
	QueueInput(slot *Slot, size int, pts int64) error
	// DequeueOutput returns the next ready unit, or false when none is ready
	DequeueOutput() (Unit, bool)

	Stop() error
	Release() error
}
