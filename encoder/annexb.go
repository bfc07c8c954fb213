package encoder

import (
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
)

// newUnit inspects an Annex-B access unit and sets its flags
func newUnit(data []byte, pts int64) Unit {
	u := Unit{Data: data, PTS: pts}

	nalus, err := h264.AnnexBUnmarshal(data)
	if err != nil {
		return u
	}
	u.KeyFrame = h264.IDRPresent(nalus)
	for _, nalu := range nalus {
		if len(nalu) > 0 && h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeSPS {
			u.Config = true
			break
		}
	}
	return u
}

// auSplitter cuts a continuous Annex-B stream into access units at
// access unit delimiter NAL units.
type auSplitter struct {
	buf     []byte
	scanned int
}

// push appends stream bytes and returns every access unit that is now complete
func (s *auSplitter) push(p []byte) [][]byte {
	s.buf = append(s.buf, p...)

	var aus [][]byte
	start := 0
	from := s.scanned
	for {
		cut := nextAUD(s.buf, max(from, start+1))
		if cut < 0 {
			break
		}
		if cut > start {
			aus = append(aus, append([]byte(nil), s.buf[start:cut]...))
		}
		start = cut
		from = cut + 4
	}

	if start > 0 {
		s.buf = append(s.buf[:0], s.buf[start:]...)
	}
	// a start code may straddle the next push
	s.scanned = max(len(s.buf)-4, 0)
	return aus
}

// flush returns whatever is buffered as the final access unit
func (s *auSplitter) flush() []byte {
	if len(s.buf) == 0 {
		return nil
	}
	au := append([]byte(nil), s.buf...)
	s.buf = s.buf[:0]
	s.scanned = 0
	return au
}

// nextAUD returns the offset of the next AUD start code at or after from,
// including the leading zero of a 4-byte start code.
func nextAUD(b []byte, from int) int {
	for i := from; i+3 < len(b); i++ {
		if b[i] != 0 || b[i+1] != 0 || b[i+2] != 1 {
			continue
		}
		if h264.NALUType(b[i+3]&0x1F) != h264.NALUTypeAccessUnitDelimiter {
			continue
		}
		if i > 0 && b[i-1] == 0 {
			return i - 1
		}
		return i
	}
	return -1
}
