package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"camera-hls-server/yuv"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // This is required to register camera adapter
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/zap"
)

// DeviceConfig selects and sizes the capture device
type DeviceConfig struct {
	Label     string // empty picks the first camera
	Width     int
	Height    int
	FrameRate int
}

// Device captures frames from a local camera
type Device struct {
	log    *zap.Logger
	size   yuv.Size // requested; frames carry the negotiated size
	track  *mediadevices.VideoTrack
	reader video.Reader
	images imagePool
}

// OpenDevice opens a camera and negotiates a YUV capture format
func OpenDevice(cfg DeviceConfig, log *zap.Logger) (*Device, error) {
	if log == nil {
		log = zap.NewNop()
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameFormat = prop.FrameFormatOneOf{frame.FormatI420, frame.FormatNV12, frame.FormatYUY2}
			c.Width = prop.Int(cfg.Width)
			c.Height = prop.Int(cfg.Height)
			if cfg.FrameRate > 0 {
				c.FrameRate = prop.Float(cfg.FrameRate)
			}
			if cfg.Label != "" {
				c.DeviceID = prop.String(deviceID(cfg.Label))
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open camera: %w", err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) < 1 {
		return nil, errors.New("failed to get proper video track from camera")
	}
	track := tracks[0].(*mediadevices.VideoTrack)

	d := &Device{
		log:    log.Named("camera").With(zap.String("track", track.ID())),
		size:   yuv.Size{Width: cfg.Width, Height: cfg.Height},
		track:  track,
		reader: track.NewReader(false),
	}
	d.log.Info("Camera opened", zap.String("requested", d.size.String()))
	return d, nil
}

// deviceID maps a camera label to its mediadevices id, falling back to the label
func deviceID(label string) string {
	for _, info := range mediadevices.EnumerateDevices() {
		if info.Kind == mediadevices.VideoInput && info.Label == label {
			return info.DeviceID
		}
	}
	return label
}

// Size implements Source. It is the requested resolution; the driver may
// negotiate another one, which the frames themselves report.
func (d *Device) Size() yuv.Size { return d.size }

// Run implements Source. The driver reuses its capture buffer for every
// read, so each image is copied into a pooled buffer that goes back to the
// pool when the frame is closed.
func (d *Device) Run(ctx context.Context, out chan<- *yuv.Frame) error {
	clk := newClock()
	var unsupported int

	for {
		if ctx.Err() != nil {
			return nil
		}

		img, release, err := d.reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read camera frame: %w", err)
		}
		owned, put := d.images.copyOf(img)
		if release != nil {
			release()
		}

		f, err := fromImage(owned, clk.now(), put)
		if err != nil {
			put()
			unsupported++
			if unsupported == 1 {
				d.log.Warn("Dropping camera frame", zap.Error(err))
			}
			continue
		}
		if !deliver(ctx, out, f) {
			return nil
		}
	}
}

// Close stops the capture track
func (d *Device) Close() error {
	return d.track.Close()
}

// fromImage wraps a YCbCr image as a frame. 4:2:2 input is sampled down to
// 4:2:0 by skipping every other chroma row.
func fromImage(img image.Image, ts int64, release func()) (*yuv.Frame, error) {
	ycbcr, ok := img.(*image.YCbCr)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedImage, img)
	}

	rowStep := 1
	switch ycbcr.SubsampleRatio {
	case image.YCbCrSubsampleRatio420:
	case image.YCbCrSubsampleRatio422:
		rowStep = 2
	default:
		return nil, fmt.Errorf("%w: subsample ratio %v", ErrUnsupportedImage, ycbcr.SubsampleRatio)
	}

	r := ycbcr.Rect
	yOff := ycbcr.YOffset(r.Min.X, r.Min.Y)
	cOff := ycbcr.COffset(r.Min.X, r.Min.Y)

	planes := []yuv.Plane{
		{Data: ycbcr.Y[yOff:], RowStride: ycbcr.YStride, PixelStride: 1},
		{Data: ycbcr.Cb[cOff:], RowStride: ycbcr.CStride * rowStep, PixelStride: 1},
		{Data: ycbcr.Cr[cOff:], RowStride: ycbcr.CStride * rowStep, PixelStride: 1},
	}
	return yuv.NewFrame(r.Dx(), r.Dy(), planes, ts, release), nil
}

// imagePool recycles frame copies of one capture geometry
type imagePool struct {
	pool sync.Pool
}

// copyOf copies a YCbCr image into a pooled buffer. put returns the buffer
// to the pool. Other images are passed through untouched.
func (p *imagePool) copyOf(img image.Image) (image.Image, func()) {
	src, ok := img.(*image.YCbCr)
	if !ok {
		return img, func() {}
	}

	dst, _ := p.pool.Get().(*image.YCbCr)
	if dst == nil || dst.Rect != src.Rect || dst.SubsampleRatio != src.SubsampleRatio {
		dst = image.NewYCbCr(src.Rect, src.SubsampleRatio)
	}

	r := src.Rect
	for y := r.Min.Y; y < r.Max.Y; y++ {
		do := dst.YOffset(r.Min.X, y)
		copy(dst.Y[do:do+r.Dx()], src.Y[src.YOffset(r.Min.X, y):])
	}

	// one chroma row covers two luma rows for 4:2:0 and 4:4:0
	rowStep := 1
	if src.SubsampleRatio == image.YCbCrSubsampleRatio420 || src.SubsampleRatio == image.YCbCrSubsampleRatio440 {
		rowStep = 2
	}
	for y := r.Min.Y; y < r.Max.Y; y += rowStep {
		do := dst.COffset(r.Min.X, y)
		so := src.COffset(r.Min.X, y)
		copy(dst.Cb[do:do+dst.CStride], src.Cb[so:])
		copy(dst.Cr[do:do+dst.CStride], src.Cr[so:])
	}

	return dst, func() { p.pool.Put(dst) }
}
