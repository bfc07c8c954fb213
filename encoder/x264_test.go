package encoder

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestX264RejectsUnsupportedFormats(t *testing.T) {
	enc := NewX264(nil)

	f := testFormat(64, 64)
	assert.ErrorIs(t, enc.Configure(f), ErrEncoderConfig)

	f.Layout = Planar420
	f.Width = 63
	assert.ErrorIs(t, enc.Configure(f), ErrEncoderConfig)

	assert.ErrorIs(t, enc.Start(), ErrNotConfigured)
	require.NoError(t, enc.Stop())
	require.NoError(t, enc.Release())
}

func TestX264EncodesThroughLoop(t *testing.T) {
	f := testFormat(64, 64)
	f.Layout = Planar420

	sink := &bytes.Buffer{}
	loop := NewLoop(NewX264(nil), sink, nil)
	require.NoError(t, loop.Configure(f))
	require.NoError(t, loop.Start())
	defer loop.Stop()

	require.NoError(t, loop.Submit(bytes.Repeat([]byte{0x80}, f.BufferSize()), 0))

	var units []Unit
	require.Eventually(t, func() bool {
		units = append(units, loop.DrainAvailable()...)
		return len(units) > 0
	}, 5*time.Second, 10*time.Millisecond)

	first := units[0]
	assert.True(t, first.KeyFrame)
	assert.True(t, first.Config)
	assert.Equal(t, []byte{0, 0}, first.Data[:2])
	assert.EqualValues(t, 0, first.PTS)
}

func TestPlanarImageAliasesSlot(t *testing.T) {
	buf := make([]byte, 3*4*4/2)
	img := planarImage(buf, 4, 4)

	require.NotNil(t, img.YCbCr)
	assert.Same(t, &buf[0], &img.Y[0])
	assert.Same(t, &buf[16], &img.Cb[0])
	assert.Same(t, &buf[20], &img.Cr[0])
	assert.Equal(t, 2, img.CStride)
}

func TestX264OptionsFollowFormat(t *testing.T) {
	f := testFormat(320, 240)
	f.FrameRate = 25
	opts := x264Options(f)

	assert.Equal(t, 320, opts.Width)
	assert.Equal(t, 240, opts.Height)
	assert.Equal(t, 25, opts.FrameRate)
	// abr without a target bitrate makes x264 refuse to open
	assert.Empty(t, opts.RateControl)
}
