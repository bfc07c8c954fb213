package yuv

import "fmt"

// Layout is the byte order an encoder expects for a 4:2:0 buffer
type Layout int

const (
	// NV12 is semi-planar with interleaved U,V pairs
	NV12 Layout = iota
	// NV21 is semi-planar with interleaved V,U pairs
	NV21
	// I420 is fully planar, U block then V block
	I420
	// YV12 is fully planar, V block then U block
	YV12
)

func (l Layout) String() string {
	switch l {
	case NV12:
		return "nv12"
	case NV21:
		return "nv21"
	case I420:
		return "i420"
	case YV12:
		return "yv12"
	default:
		return "unknown"
	}
}

// SemiPlanar reports whether chroma samples are interleaved
func (l Layout) SemiPlanar() bool {
	return l == NV12 || l == NV21
}

// Repack converts a frame into a newly allocated buffer in the given layout.
// The frame is closed before Repack returns.
func Repack(frame *Frame, layout Layout) ([]byte, error) {
	if frame == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrUnsupportedLayout)
	}
	if frame.Width <= 0 || frame.Height <= 0 {
		frame.Close()
		return nil, fmt.Errorf("%w: resolution %dx%d", ErrUnsupportedLayout, frame.Width, frame.Height)
	}
	dst := make([]byte, BufferSize(frame.Width, frame.Height))
	if err := RepackInto(dst, frame, layout); err != nil {
		return nil, err
	}
	return dst, nil
}

// RepackInto writes a frame into dst, which must be exactly BufferSize long.
// The frame is closed before RepackInto returns, whatever the outcome.
func RepackInto(dst []byte, frame *Frame, layout Layout) error {
	if frame == nil {
		return fmt.Errorf("%w: nil frame", ErrUnsupportedLayout)
	}
	defer frame.Close()

	if err := validate(frame); err != nil {
		return err
	}

	width, height := frame.Width, frame.Height
	if want := BufferSize(width, height); len(dst) != want {
		return fmt.Errorf("%w: buffer is %d bytes, %dx%d needs %d", ErrUnsupportedLayout, len(dst), width, height, want)
	}

	ySize := width * height
	copyPlane(dst[:ySize], frame.Planes[0], width, height)

	cw, ch := width/2, height/2
	u, v := frame.Planes[1], frame.Planes[2]
	chroma := dst[ySize:]
	cSize := cw * ch

	switch layout {
	case NV12:
		interleave(chroma, u, v, cw, ch)
	case NV21:
		interleave(chroma, v, u, cw, ch)
	case I420:
		copyPlane(chroma[:cSize], u, cw, ch)
		copyPlane(chroma[cSize:2*cSize], v, cw, ch)
	case YV12:
		copyPlane(chroma[:cSize], v, cw, ch)
		copyPlane(chroma[cSize:2*cSize], u, cw, ch)
	default:
		return fmt.Errorf("%w: target layout %d", ErrUnsupportedLayout, layout)
	}

	// odd dimensions leave a tail past the chroma samples
	clear(chroma[2*cSize:])
	return nil
}

func validate(frame *Frame) error {
	if frame.Width <= 0 || frame.Height <= 0 {
		return fmt.Errorf("%w: resolution %dx%d", ErrUnsupportedLayout, frame.Width, frame.Height)
	}
	if len(frame.Planes) != 3 {
		return fmt.Errorf("%w: %d planes", ErrUnsupportedLayout, len(frame.Planes))
	}

	for i, p := range frame.Planes {
		w, h := frame.Width, frame.Height
		if i > 0 {
			w, h = w/2, h/2
		}
		if p.RowStride <= 0 || p.PixelStride <= 0 {
			return fmt.Errorf("%w: plane %d strides row=%d pixel=%d", ErrUnsupportedLayout, i, p.RowStride, p.PixelStride)
		}
		if w == 0 || h == 0 {
			continue
		}
		// last sample of the last row must be addressable
		last := (h-1)*p.RowStride + (w-1)*p.PixelStride
		if last >= len(p.Data) {
			return fmt.Errorf("%w: plane %d has %d bytes, geometry needs %d", ErrUnsupportedLayout, i, len(p.Data), last+1)
		}
	}
	return nil
}

// copyPlane samples a width x height region of p into dst row by row
func copyPlane(dst []byte, p Plane, width, height int) {
	pos := 0
	if p.PixelStride == 1 {
		for r := 0; r < height; r++ {
			off := r * p.RowStride
			pos += copy(dst[pos:pos+width], p.Data[off:off+width])
		}
		return
	}
	for r := 0; r < height; r++ {
		row := p.Data[r*p.RowStride:]
		for c := 0; c < width; c++ {
			dst[pos] = row[c*p.PixelStride]
			pos++
		}
	}
}

// interleave writes first,second sample pairs for each chroma position
func interleave(dst []byte, first, second Plane, width, height int) {
	pos := 0
	for r := 0; r < height; r++ {
		a := first.Data[r*first.RowStride:]
		b := second.Data[r*second.RowStride:]
		for c := 0; c < width; c++ {
			dst[pos] = a[c*first.PixelStride]
			dst[pos+1] = b[c*second.PixelStride]
			pos += 2
		}
	}
}
