package yuv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticFrame builds a frame whose samples encode their coordinates.
// Chroma planes use the given pixel stride and pad every row by rowPad bytes.
func syntheticFrame(width, height, chromaPixelStride, rowPad int, released *int) *Frame {
	yStride := width + rowPad
	y := make([]byte, yStride*height)
	for r := 0; r < height; r++ {
		for c := 0; c < width; c++ {
			y[r*yStride+c] = byte(r*width + c)
		}
	}

	cw, ch := width/2, height/2
	cStride := cw*chromaPixelStride + rowPad
	u := make([]byte, cStride*ch)
	v := make([]byte, cStride*ch)
	for r := 0; r < ch; r++ {
		for c := 0; c < cw; c++ {
			u[r*cStride+c*chromaPixelStride] = byte(0x40 + r*cw + c)
			v[r*cStride+c*chromaPixelStride] = byte(0x80 + r*cw + c)
		}
	}

	return NewFrame(width, height, []Plane{
		{Data: y, RowStride: yStride, PixelStride: 1},
		{Data: u, RowStride: cStride, PixelStride: chromaPixelStride},
		{Data: v, RowStride: cStride, PixelStride: chromaPixelStride},
	}, 0, func() { *released++ })
}

func deinterleave(chroma []byte, n int) (first, second []byte) {
	first = make([]byte, n)
	second = make([]byte, n)
	for i := 0; i < n; i++ {
		first[i] = chroma[2*i]
		second[i] = chroma[2*i+1]
	}
	return first, second
}

func expectedChroma(width, height int, base byte) []byte {
	cw, ch := width/2, height/2
	out := make([]byte, cw*ch)
	for i := range out {
		out[i] = base + byte(i)
	}
	return out
}

func TestRepackOutputLength(t *testing.T) {
	sizes := []Size{{2, 2}, {4, 2}, {16, 8}, {7, 5}, {1, 1}, {640, 480}, {33, 17}}
	for _, layout := range []Layout{NV12, NV21, I420, YV12} {
		for _, s := range sizes {
			for _, ps := range []int{1, 2} {
				released := 0
				out, err := Repack(syntheticFrame(s.Width, s.Height, ps, 3, &released), layout)
				require.NoError(t, err, "%s %s ps=%d", layout, s, ps)
				assert.Len(t, out, s.Width*s.Height*3/2, "%s %s", layout, s)
				assert.Equal(t, 1, released)
			}
		}
	}
}

func TestRepackPackedLumaIsIdentity(t *testing.T) {
	released := 0
	frame := syntheticFrame(8, 6, 1, 0, &released)
	luma := append([]byte(nil), frame.Planes[0].Data...)

	out, err := Repack(frame, NV12)
	require.NoError(t, err)
	assert.Equal(t, luma, out[:8*6])
}

func TestRepackStridedLuma(t *testing.T) {
	// pixel stride 2 with row padding: only even bytes are samples
	y := []byte{
		1, 0xff, 2, 0xff, 0xee, 0xee,
		3, 0xff, 4, 0xff, 0xee, 0xee,
	}
	c := []byte{9}
	frame := NewFrame(2, 2, []Plane{
		{Data: y, RowStride: 6, PixelStride: 2},
		{Data: c, RowStride: 1, PixelStride: 1},
		{Data: []byte{7}, RowStride: 1, PixelStride: 1},
	}, 0, nil)

	out, err := Repack(frame, NV12)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 9, 7}, out)
}

func TestRepackInterleaveRoundTrip(t *testing.T) {
	for _, ps := range []int{1, 2} {
		released := 0
		width, height := 12, 10
		out, err := Repack(syntheticFrame(width, height, ps, 5, &released), NV12)
		require.NoError(t, err)

		n := ChromaSize(width, height)
		u, v := deinterleave(out[width*height:], n)
		assert.Equal(t, expectedChroma(width, height, 0x40), u)
		assert.Equal(t, expectedChroma(width, height, 0x80), v)
	}
}

func TestRepackSwappedLayouts(t *testing.T) {
	width, height := 8, 4
	n := ChromaSize(width, height)
	released := 0

	nv21, err := Repack(syntheticFrame(width, height, 2, 0, &released), NV21)
	require.NoError(t, err)
	v, u := deinterleave(nv21[width*height:], n)
	assert.Equal(t, expectedChroma(width, height, 0x40), u)
	assert.Equal(t, expectedChroma(width, height, 0x80), v)

	i420, err := Repack(syntheticFrame(width, height, 2, 0, &released), I420)
	require.NoError(t, err)
	chroma := i420[width*height:]
	assert.Equal(t, expectedChroma(width, height, 0x40), chroma[:n])
	assert.Equal(t, expectedChroma(width, height, 0x80), chroma[n:2*n])

	yv12, err := Repack(syntheticFrame(width, height, 2, 0, &released), YV12)
	require.NoError(t, err)
	chroma = yv12[width*height:]
	assert.Equal(t, expectedChroma(width, height, 0x80), chroma[:n])
	assert.Equal(t, expectedChroma(width, height, 0x40), chroma[n:2*n])
	assert.Equal(t, 3, released)
}

func TestRepackOddDimensionsFloor(t *testing.T) {
	released := 0
	width, height := 5, 3
	out, err := Repack(syntheticFrame(width, height, 1, 0, &released), I420)
	require.NoError(t, err)

	// 2x1 chroma per channel, then zero padding up to w*h*3/2
	n := ChromaSize(width, height)
	require.Equal(t, 2, n)
	chroma := out[width*height:]
	assert.Equal(t, []byte{0x40, 0x41}, chroma[:n])
	assert.Equal(t, []byte{0x80, 0x81}, chroma[n:2*n])
	for _, b := range chroma[2*n:] {
		assert.Zero(t, b)
	}
}

func TestRepackRejectsBadGeometry(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *Frame)
	}{
		{"two planes", func(f *Frame) { f.Planes = f.Planes[:2] }},
		{"zero row stride", func(f *Frame) { f.Planes[0].RowStride = 0 }},
		{"negative pixel stride", func(f *Frame) { f.Planes[1].PixelStride = -1 }},
		{"zero chroma pixel stride", func(f *Frame) { f.Planes[2].PixelStride = 0 }},
		{"short luma", func(f *Frame) { f.Planes[0].Data = f.Planes[0].Data[:10] }},
		{"short chroma", func(f *Frame) { f.Planes[2].Data = f.Planes[2].Data[:1] }},
		{"zero width", func(f *Frame) { f.Width = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			released := 0
			frame := syntheticFrame(8, 8, 2, 0, &released)
			tt.mutate(frame)

			out, err := Repack(frame, NV12)
			assert.ErrorIs(t, err, ErrUnsupportedLayout)
			assert.Nil(t, out)
			assert.Equal(t, 1, released, "frame must be released on failure")
		})
	}
}

func TestRepackIntoRequiresExactBuffer(t *testing.T) {
	released := 0
	frame := syntheticFrame(4, 4, 1, 0, &released)
	err := RepackInto(make([]byte, BufferSize(4, 4)+1), frame, NV12)
	assert.ErrorIs(t, err, ErrUnsupportedLayout)
	assert.Equal(t, 1, released)
}

func TestFrameCloseOnce(t *testing.T) {
	released := 0
	frame := NewFrame(2, 2, nil, 0, func() { released++ })
	frame.Close()
	frame.Close()
	assert.Equal(t, 1, released)

	var nilFrame *Frame
	assert.NotPanics(t, nilFrame.Close)
}
