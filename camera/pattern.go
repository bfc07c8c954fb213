package camera

import (
	"context"
	"sync"
	"time"

	"camera-hls-server/yuv"

	"go.uber.org/zap"
)

// PatternConfig sizes the synthetic source
type PatternConfig struct {
	Width     int
	Height    int
	FrameRate int
	// RowPadding is added to every row stride, as camera HALs often do
	RowPadding int
}

// Pattern generates a moving gradient laid out the way Android cameras
// deliver NV21: padded rows, and U/V planes that alias one interleaved
// buffer with a pixel stride of 2.
type Pattern struct {
	cfg  PatternConfig
	log  *zap.Logger
	pool sync.Pool

	mu sync.Mutex
	n  int
}

type patternBuffers struct {
	y, vu []byte
}

// NewPattern creates a synthetic source
func NewPattern(cfg PatternConfig, log *zap.Logger) *Pattern {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pattern{cfg: cfg, log: log.Named("pattern")}
	p.pool.New = func() any {
		return &patternBuffers{
			y:  make([]byte, p.lumaStride()*cfg.Height),
			vu: make([]byte, p.chromaStride()*(cfg.Height/2)),
		}
	}
	return p
}

func (p *Pattern) lumaStride() int   { return p.cfg.Width + p.cfg.RowPadding }
func (p *Pattern) chromaStride() int { return 2*(p.cfg.Width/2) + p.cfg.RowPadding }

// Size implements Source
func (p *Pattern) Size() yuv.Size {
	return yuv.Size{Width: p.cfg.Width, Height: p.cfg.Height}
}

// Next renders the next frame. Its buffers return to the pool on Close.
func (p *Pattern) Next(ts int64) *yuv.Frame {
	p.mu.Lock()
	n := p.n
	p.n++
	p.mu.Unlock()

	buf := p.pool.Get().(*patternBuffers)
	w, h := p.cfg.Width, p.cfg.Height
	ys, cs := p.lumaStride(), p.chromaStride()

	for r := 0; r < h; r++ {
		row := buf.y[r*ys : r*ys+w]
		for c := range row {
			row[c] = byte(c + r + 4*n)
		}
	}
	for r := 0; r < h/2; r++ {
		row := buf.vu[r*cs:]
		for c := 0; c < w/2; c++ {
			row[2*c] = byte(128 + r - n)   // V
			row[2*c+1] = byte(128 + c + n) // U
		}
	}

	planes := []yuv.Plane{
		{Data: buf.y, RowStride: ys, PixelStride: 1},
		{Data: buf.vu[1:], RowStride: cs, PixelStride: 2},
		{Data: buf.vu, RowStride: cs, PixelStride: 2},
	}
	return yuv.NewFrame(w, h, planes, ts, func() { p.pool.Put(buf) })
}

// Run implements Source, producing frames at the configured rate
func (p *Pattern) Run(ctx context.Context, out chan<- *yuv.Frame) error {
	ticker := time.NewTicker(time.Second / time.Duration(p.cfg.FrameRate))
	defer ticker.Stop()

	p.log.Info("Test pattern started",
		zap.String("size", p.Size().String()),
		zap.Int("fps", p.cfg.FrameRate))

	clk := newClock()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !deliver(ctx, out, p.Next(clk.now())) {
				return nil
			}
		}
	}
}

// Close implements Source
func (p *Pattern) Close() error { return nil }
