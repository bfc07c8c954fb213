// Package pipeline owns the camera to HLS lifecycle: it starts the encoder,
// the stream channel, the segmenter and the segment server in order, feeds
// frames through a single processing task, and tears everything down again.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"camera-hls-server/channel"
	"camera-hls-server/encoder"
	"camera-hls-server/muxer"
	"camera-hls-server/server"
	"camera-hls-server/yuv"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Defaults
const (
	DefaultBitrate          = 1_250_000
	DefaultFrameRate        = 30
	DefaultKeyFrameInterval = 1
	DefaultQueueSize        = 2
	DefaultStopTimeout      = 10 * time.Second

	mismatchLogEvery = 100
)

// DefaultMuxer starts ffmpeg segmenters with cfg
func DefaultMuxer(cfg muxer.Config, log *zap.Logger) MuxerFactory {
	return func(input *os.File, outDir string) (Muxer, error) {
		p, err := muxer.Start(cfg, input, outDir, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// DefaultServer creates segment servers with opts, serving each run's directory
func DefaultServer(opts server.Options) ServerFactory {
	return func(root string) Server {
		o := opts
		o.Root = root
		return server.New(o)
	}
}

// Controller runs at most one pipeline at a time
type Controller struct {
	opts Options
	log  *zap.Logger

	// lifecycle serialises Start and Stop
	lifecycle sync.Mutex

	mu         sync.Mutex
	state      State
	run        *run
	queueDrops uint64
	mismatches uint64
	muxerErr   string
}

// NewController creates an idle controller
func NewController(opts Options, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = encoder.DefaultRegistry("")
	}
	if opts.Bitrate <= 0 {
		opts.Bitrate = DefaultBitrate
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = DefaultFrameRate
	}
	if opts.KeyFrameInterval <= 0 {
		opts.KeyFrameInterval = DefaultKeyFrameInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.StartMuxer == nil {
		opts.StartMuxer = DefaultMuxer(muxer.DefaultConfig(), log)
	}
	if opts.NewServer == nil {
		opts.NewServer = DefaultServer(server.Options{Log: log})
	}
	return &Controller{
		opts: opts,
		log:  log.Named("pipeline"),
	}
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start brings the pipeline up for frames of the given size, writing HLS
// output into outDir. On any failure everything already started is torn
// down and the controller is idle again.
func (c *Controller) Start(ctx context.Context, size yuv.Size, outDir string) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.state = Starting
	c.mu.Unlock()

	r, err := c.build(size, outDir)
	if err != nil {
		c.log.Error("Pipeline start failed", zap.Error(err))
		if r != nil {
			c.teardown(ctx, r)
		}
		c.setState(Idle)
		return err
	}

	r.frames = make(chan *yuv.Frame, c.opts.QueueSize)
	r.taskDone = make(chan struct{})
	r.stopWatch = make(chan struct{})
	r.watchDone = make(chan struct{})
	go c.processFrames(r)
	go c.watchMuxer(r)

	c.mu.Lock()
	c.run = r
	c.state = Running
	c.queueDrops = 0
	c.mismatches = 0
	c.muxerErr = ""
	c.mu.Unlock()

	c.log.Info("Pipeline running",
		zap.String("run_id", r.id),
		zap.String("size", size.String()),
		zap.String("encoder", r.codec),
		zap.String("layout", r.layout.String()),
		zap.String("output_dir", outDir))
	return nil
}

// build acquires the run's resources in order. On failure it returns the
// partially built run so the caller can tear it down.
func (c *Controller) build(size yuv.Size, outDir string) (*run, error) {
	if !size.Valid() {
		return nil, fmt.Errorf("invalid resolution %s: %w", size, encoder.ErrEncoderConfig)
	}

	r := &run{
		id:        uuid.NewString(),
		size:      size,
		outDir:    outDir,
		startedAt: time.Now(),
	}
	log := c.log.With(zap.String("run_id", r.id))

	var (
		info   encoder.Info
		layout encoder.ColorLayout
		err    error
	)
	if c.opts.Encoder != "" {
		info, layout, err = c.opts.Registry.SelectNamed(c.opts.Encoder, encoder.DefaultPreference)
	} else {
		info, layout, err = c.opts.Registry.Select(encoder.DefaultPreference)
	}
	if err != nil {
		return nil, fmt.Errorf("select encoder: %w", err)
	}
	r.codec = info.Name
	r.layout = layout

	r.ch, err = channel.New(channel.Options{WriteTimeout: c.opts.WriteTimeout})
	if err != nil {
		return r, fmt.Errorf("create stream channel: %w", err)
	}

	r.loop = encoder.NewLoop(info.New(log), r.ch, log)
	err = r.loop.Configure(encoder.Format{
		Width:            size.Width,
		Height:           size.Height,
		Bitrate:          c.opts.Bitrate,
		FrameRate:        c.opts.FrameRate,
		KeyFrameInterval: c.opts.KeyFrameInterval,
		Layout:           layout,
	})
	if err != nil {
		return r, fmt.Errorf("configure encoder: %w", err)
	}
	if err := r.loop.Start(); err != nil {
		return r, fmt.Errorf("start encoder: %w", err)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return r, fmt.Errorf("create output directory: %w", err)
	}

	r.mux, err = c.opts.StartMuxer(r.ch.Reader(), outDir)
	if err != nil {
		return r, fmt.Errorf("start muxer: %w", err)
	}
	// the muxer holds its own descriptor; dropping ours lets writes fail
	// with a broken channel once it exits
	if err := r.ch.CloseReader(); err != nil {
		log.Debug("close parent reader", zap.Error(err))
	}

	r.srv = c.opts.NewServer(outDir)
	if err := r.srv.Start(); err != nil {
		r.srv = nil
		return r, fmt.Errorf("start server: %w", err)
	}
	return r, nil
}

// teardown releases a run in dependency order: encoder, channel writer,
// channel reader, muxer, server. Errors are logged, never returned.
func (c *Controller) teardown(ctx context.Context, r *run) {
	log := c.log.With(zap.String("run_id", r.id))
	step := func(name string, err error) {
		if err != nil {
			log.Warn("Teardown step failed", zap.String("step", name), zap.Error(err))
		}
	}

	if r.loop != nil {
		step("stop encoder", r.loop.Stop())
	}
	if r.ch != nil {
		step("close channel writer", r.ch.CloseWriter())
		step("close channel reader", r.ch.CloseReader())
	}
	if r.mux != nil {
		err := r.mux.Stop(ctx)
		var muxErr *muxer.Error
		if errors.As(err, &muxErr) {
			c.recordError(muxErr)
		}
		step("stop muxer", err)
	}
	if r.srv != nil {
		step("stop server", r.srv.Stop(ctx))
	}
}

// Stop tears the pipeline down. It is a no-op when idle and safe to call
// repeatedly.
func (c *Controller) Stop(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	r := c.run
	if c.state != Running || r == nil {
		c.mu.Unlock()
		return nil
	}
	c.state = Stopping
	r.draining.Store(true)
	close(r.frames)
	close(r.stopWatch)
	c.mu.Unlock()

	c.log.Info("Stopping pipeline", zap.String("run_id", r.id))

	<-r.taskDone
	c.teardown(ctx, r)
	<-r.watchDone

	c.mu.Lock()
	c.run = nil
	c.state = Idle
	c.mu.Unlock()

	c.log.Info("Pipeline stopped", zap.String("run_id", r.id))
	return nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Submit queues a frame for the processing task without blocking. The frame
// is closed and counted as dropped when the pipeline is not running or the
// queue is full.
func (c *Controller) Submit(f *yuv.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Running {
		c.queueDrops++
		f.Close()
		return ErrNotRunning
	}

	select {
	case c.run.frames <- f:
		return nil
	default:
		c.queueDrops++
		f.Close()
		return ErrQueueFull
	}
}

// processFrames is the single frame task. Frame-level failures are
// isolated here and never stop the pipeline.
func (c *Controller) processFrames(r *run) {
	defer close(r.taskDone)
	log := c.log.With(zap.String("run_id", r.id))

	for f := range r.frames {
		if r.draining.Load() {
			f.Close()
			continue
		}

		err := r.loop.ProcessFrame(f)
		switch {
		case err == nil, errors.Is(err, encoder.ErrBusy):
		case errors.Is(err, ErrResolutionMismatch):
			c.mu.Lock()
			c.mismatches++
			n := c.mismatches
			c.mu.Unlock()
			if n%mismatchLogEvery == 1 {
				log.Warn("Dropping frame with wrong resolution", zap.Error(err), zap.Uint64("count", n))
			}
		case errors.Is(err, yuv.ErrUnsupportedLayout):
			log.Warn("Dropping frame", zap.Error(err))
		default:
			log.Error("Frame processing failed", zap.Error(err))
		}
	}
}

// watchMuxer reports a segmenter that exits on its own. Failures are
// recorded and logged but the muxer is not restarted.
func (c *Controller) watchMuxer(r *run) {
	defer close(r.watchDone)

	select {
	case <-r.stopWatch:
		return
	case <-r.mux.Done():
	}

	err := r.mux.Err()
	var muxErr *muxer.Error
	switch {
	case errors.As(err, &muxErr):
		c.recordError(muxErr)
		c.log.Error("Muxer failed",
			zap.String("run_id", r.id),
			zap.Int("exit_code", muxErr.ExitCode),
			zap.String("stderr", muxErr.Stderr))
	case err != nil:
		c.recordError(err)
		c.log.Error("Muxer failed", zap.String("run_id", r.id), zap.Error(err))
	default:
		c.log.Warn("Muxer exited while the pipeline is running", zap.String("run_id", r.id))
	}
}

func (c *Controller) recordError(err error) {
	c.mu.Lock()
	c.muxerErr = err.Error()
	c.mu.Unlock()
}

// Run drives the controller from a frame stream. The pipeline starts on the
// first frame using that frame's resolution and stops when ctx ends or
// frames is closed. A start failure is returned.
func (c *Controller) Run(ctx context.Context, outDir string, frames <-chan *yuv.Frame) error {
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), c.opts.StopTimeout)
		defer cancel()
		c.Stop(stopCtx)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if c.State() == Idle {
				if err := c.Start(ctx, f.Size(), outDir); err != nil {
					f.Close()
					return err
				}
			}
			_ = c.Submit(f)
		}
	}
}

// Status returns a snapshot of the pipeline
func (c *Controller) Status() Status {
	c.mu.Lock()
	s := Status{
		State:      c.state,
		QueueDrops: c.queueDrops,
		MuxerError: c.muxerErr,
	}
	r := c.run
	c.mu.Unlock()

	if r == nil {
		return s
	}
	started := r.startedAt
	s.RunID = r.id
	s.Resolution = r.size.String()
	s.Encoder = r.codec
	s.Layout = r.layout.String()
	s.OutputDir = r.outDir
	s.StartedAt = &started
	s.Encode = r.loop.Stats()
	return s
}
