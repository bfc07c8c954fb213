package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"camera-hls-server/camera"
	"camera-hls-server/config"
	"camera-hls-server/encoder"
	"camera-hls-server/muxer"
	"camera-hls-server/pipeline"
	"camera-hls-server/server"
	"camera-hls-server/yuv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envPath := flag.String("env", ".env", "path to a .env file")
	flag.Parse()

	// configured logger comes from the config itself
	bootstrap := zap.Must(zap.NewProduction())
	if err := config.LoadDotEnv(*envPath); err != nil {
		bootstrap.Fatal("Failed to load env file", zap.Error(err))
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		bootstrap.Fatal("Failed to load config", zap.Error(err))
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	// Check if FFmpeg is available
	if err := exec.Command(cfg.FFmpeg, "-version").Run(); err != nil {
		log.Fatal("FFmpeg is not installed or not in PATH", zap.String("ffmpeg", cfg.FFmpeg), zap.Error(err))
	}

	source, err := openSource(cfg.Source, log)
	if err != nil {
		log.Fatal("Failed to open frame source", zap.String("source", cfg.Source.Kind), zap.Error(err))
	}
	defer source.Close()

	var ctrl *pipeline.Controller
	ctrl = pipeline.NewController(pipeline.Options{
		Registry:         encoder.DefaultRegistry(cfg.FFmpeg),
		Encoder:          cfg.Encoder.Name,
		Bitrate:          cfg.Encoder.Bitrate,
		FrameRate:        cfg.Encoder.FrameRate,
		KeyFrameInterval: cfg.Encoder.KeyFrameIntervalS,
		QueueSize:        cfg.Pipeline.QueueSize,
		WriteTimeout:     cfg.WriteTimeout(),
		StopTimeout:      cfg.ShutdownTimeout(),
		StartMuxer: pipeline.DefaultMuxer(muxer.Config{
			FFmpegPath:     cfg.FFmpeg,
			SegmentSeconds: cfg.Muxer.SegmentSeconds,
			ListSize:       cfg.Muxer.ListSize,
			StopTimeout:    cfg.MuxerStopTimeout(),
		}, log),
		NewServer: pipeline.DefaultServer(server.Options{
			Addr:           cfg.Addr,
			Status:         func() any { return ctrl.Status() },
			StatusInterval: cfg.StatusInterval(),
			Log:            log,
		}),
	}, log)

	log.Info("Camera HLS server starting",
		zap.String("addr", cfg.Addr),
		zap.String("source", cfg.Source.Kind),
		zap.String("requested_size", source.Size().String()),
		zap.String("output_dir", cfg.OutputDir))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	frames := make(chan *yuv.Frame, 1)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// the controller stops once the source runs dry
		defer close(frames)
		return source.Run(ctx, frames)
	})
	g.Go(func() error {
		return ctrl.Run(ctx, cfg.OutputDir, frames)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Server stopped with error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Info("Server exited")
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

func openSource(cfg config.SourceConfig, log *zap.Logger) (camera.Source, error) {
	switch cfg.Kind {
	case config.SourcePattern:
		return camera.NewPattern(camera.PatternConfig{
			Width:     cfg.Width,
			Height:    cfg.Height,
			FrameRate: cfg.FrameRate,
		}, log), nil
	default:
		dev, err := camera.OpenDevice(camera.DeviceConfig{
			Label:     cfg.Device,
			Width:     cfg.Width,
			Height:    cfg.Height,
			FrameRate: cfg.FrameRate,
		}, log)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
}
