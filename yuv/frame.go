package yuv

import (
	"errors"
	"sync"
)

// ErrUnsupportedLayout is returned when a frame's plane geometry can't be interpreted
var ErrUnsupportedLayout = errors.New("unsupported frame layout")

// Plane is one image plane as delivered by the camera
type Plane struct {
	Data        []byte
	RowStride   int // bytes per row, >= width samples
	PixelStride int // bytes between consecutive samples
}

// Frame is one camera image with a luma and two chroma planes.
// A Frame holds camera buffer slots until Close is called.
type Frame struct {
	Width     int
	Height    int
	Planes    []Plane
	Timestamp int64 // microseconds

	release   func()
	closeOnce sync.Once
}

// NewFrame wraps camera planes. release is called once when the frame is closed and may be nil.
func NewFrame(width, height int, planes []Plane, timestamp int64, release func()) *Frame {
	return &Frame{
		Width:     width,
		Height:    height,
		Planes:    planes,
		Timestamp: timestamp,
		release:   release,
	}
}

// Close returns the frame's buffers to the camera. Safe to call more than once.
func (f *Frame) Close() {
	if f == nil {
		return
	}
	f.closeOnce.Do(func() {
		if f.release != nil {
			f.release()
		}
	})
}

// Size returns the frame resolution
func (f *Frame) Size() Size {
	return Size{Width: f.Width, Height: f.Height}
}

// BufferSize returns the packed 4:2:0 buffer length for a resolution.
// It is width*height*3/2 with floor division; odd dimensions leave trailing padding.
func BufferSize(width, height int) int {
	return width * height * 3 / 2
}

// ChromaSize returns the number of samples in one subsampled chroma channel
func ChromaSize(width, height int) int {
	return (width / 2) * (height / 2)
}
