package camera

import (
	"context"
	"testing"
	"time"

	"camera-hls-server/yuv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternRepacksToNV12(t *testing.T) {
	p := NewPattern(PatternConfig{Width: 8, Height: 6, RowPadding: 3}, nil)
	f := p.Next(1234)
	assert.EqualValues(t, 1234, f.Timestamp)
	assert.Equal(t, yuv.Size{Width: 8, Height: 6}, f.Size())

	// read the expected samples before Repack releases the frame
	u := f.Planes[1]
	v := f.Planes[2]
	wantU := u.Data[1*u.RowStride+2*u.PixelStride]
	wantV := v.Data[1*v.RowStride+2*v.PixelStride]

	buf, err := yuv.Repack(f, yuv.NV12)
	require.NoError(t, err)
	require.Len(t, buf, yuv.BufferSize(8, 6))

	// luma row 1 starts at 1+0
	assert.Equal(t, byte(1), buf[8])
	chroma := buf[8*6:]
	assert.Equal(t, wantU, chroma[(1*4+2)*2])
	assert.Equal(t, wantV, chroma[(1*4+2)*2+1])
}

func TestPatternFramesMove(t *testing.T) {
	p := NewPattern(PatternConfig{Width: 4, Height: 4}, nil)
	a := p.Next(0)
	first := a.Planes[0].Data[0]
	a.Close()

	b := p.Next(0)
	defer b.Close()
	assert.NotEqual(t, first, b.Planes[0].Data[0])
}

func TestPatternOddSize(t *testing.T) {
	p := NewPattern(PatternConfig{Width: 7, Height: 5}, nil)
	buf, err := yuv.Repack(p.Next(0), yuv.I420)
	require.NoError(t, err)
	assert.Len(t, buf, 7*5*3/2)
}

func TestPatternRunStopsOnCancel(t *testing.T) {
	p := NewPattern(PatternConfig{Width: 4, Height: 4, FrameRate: 200}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan *yuv.Frame)

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, out) }()

	for i := 0; i < 3; i++ {
		select {
		case f := <-out:
			f.Close()
		case <-time.After(2 * time.Second):
			t.Fatal("no frame from pattern")
		}
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
