// Package camera provides frame sources for the pipeline: a real capture
// device through pion/mediadevices and a synthetic test pattern.
package camera

import (
	"context"
	"errors"
	"time"

	"camera-hls-server/yuv"
)

// ErrUnsupportedImage is returned for captured images that are not 4:2:0 or
// 4:2:2 YCbCr
var ErrUnsupportedImage = errors.New("camera: unsupported image format")

// Source delivers camera frames
type Source interface {
	// Size is the capture resolution the source asked for. Frames carry
	// their own size, which is what the pipeline is configured from.
	Size() yuv.Size
	// Run sends frames to out until ctx is done or capture fails. Frames
	// not accepted before ctx ends are closed.
	Run(ctx context.Context, out chan<- *yuv.Frame) error
	Close() error
}

// deliver hands a frame to out, closing it if ctx ends first
func deliver(ctx context.Context, out chan<- *yuv.Frame, f *yuv.Frame) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		f.Close()
		return false
	}
}

// clock turns wall time into microsecond presentation timestamps
type clock struct {
	start time.Time
}

func newClock() clock {
	return clock{start: time.Now()}
}

func (c clock) now() int64 {
	return time.Since(c.start).Microseconds()
}
