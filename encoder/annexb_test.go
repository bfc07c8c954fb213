package encoder

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	nalAUD = []byte{0, 0, 0, 1, 0x09, 0xf0}
	nalSPS = []byte{0, 0, 0, 1, 0x67, 0x42, 0xc0, 0x1e, 0xda}
	nalPPS = []byte{0, 0, 0, 1, 0x68, 0xce, 0x3c, 0x80}
	nalIDR = []byte{0, 0, 0, 1, 0x65, 0x88, 0x84, 0x21}
	nalP   = []byte{0, 0, 0, 1, 0x41, 0x9a, 0x02, 0x11}
)

func accessUnit(nalus ...[]byte) []byte {
	return bytes.Join(append([][]byte{nalAUD}, nalus...), nil)
}

func TestNewUnitFlags(t *testing.T) {
	key := newUnit(accessUnit(nalSPS, nalPPS, nalIDR), 42)
	assert.True(t, key.KeyFrame)
	assert.True(t, key.Config)
	assert.EqualValues(t, 42, key.PTS)

	delta := newUnit(accessUnit(nalP), 43)
	assert.False(t, delta.KeyFrame)
	assert.False(t, delta.Config)

	junk := newUnit([]byte{1, 2, 3}, 0)
	assert.False(t, junk.KeyFrame)
}

func TestAUSplitterChunked(t *testing.T) {
	aus := [][]byte{
		accessUnit(nalSPS, nalPPS, nalIDR),
		accessUnit(nalP),
		accessUnit(nalP, nalP),
		accessUnit(nalSPS, nalPPS, nalIDR),
	}
	stream := bytes.Join(aus, nil)

	for _, chunk := range []int{1, 2, 3, 5, 7, 16, len(stream)} {
		var s auSplitter
		var got [][]byte
		for off := 0; off < len(stream); off += chunk {
			end := min(off+chunk, len(stream))
			got = append(got, s.push(stream[off:end])...)
		}
		if last := s.flush(); last != nil {
			got = append(got, last)
		}

		require.Len(t, got, len(aus), "chunk size %d", chunk)
		for i := range aus {
			assert.Equal(t, aus[i], got[i], "chunk size %d, unit %d", chunk, i)
		}
	}
}

func TestAUSplitterFlushEmpty(t *testing.T) {
	var s auSplitter
	assert.Nil(t, s.flush())
	assert.Empty(t, s.push(nil))
	assert.Nil(t, s.flush())
}

func TestNextAUD(t *testing.T) {
	b := append([]byte{0x65, 0x88}, accessUnit(nalP)...)
	assert.Equal(t, 2, nextAUD(b, 0))
	assert.Equal(t, -1, nextAUD(b, 4))

	three := []byte{0xaa, 0, 0, 1, 0x09, 0xf0}
	assert.Equal(t, 1, nextAUD(three, 0))
}
