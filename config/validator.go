package config

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Validate checks the configuration and fills in defaults for optional values
func Validate(cfg *Config) error {
	if cfg.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if cfg.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = DefaultFFmpeg
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = DefaultShutdownTimeoutS
	}

	switch cfg.Source.Kind {
	case SourceCamera, SourcePattern:
	default:
		return fmt.Errorf("source.kind must be %q or %q, got %q", SourceCamera, SourcePattern, cfg.Source.Kind)
	}
	if cfg.Source.Width <= 0 || cfg.Source.Height <= 0 {
		return fmt.Errorf("source resolution must be > 0, got %dx%d", cfg.Source.Width, cfg.Source.Height)
	}
	if cfg.Source.FrameRate <= 0 {
		return fmt.Errorf("source.fps must be > 0")
	}

	switch cfg.Encoder.Name {
	case "", "ffmpeg", "x264":
	default:
		return fmt.Errorf("encoder.name must be ffmpeg or x264, got %q", cfg.Encoder.Name)
	}
	if cfg.Encoder.Bitrate <= 0 {
		return fmt.Errorf("encoder.bitrate must be > 0")
	}
	if cfg.Encoder.FrameRate <= 0 {
		cfg.Encoder.FrameRate = cfg.Source.FrameRate
	}
	if cfg.Encoder.KeyFrameIntervalS < 0 {
		return fmt.Errorf("encoder.key_frame_interval_s must be >= 0")
	}

	if cfg.Muxer.SegmentSeconds <= 0 {
		return fmt.Errorf("muxer.segment_seconds must be > 0")
	}
	if cfg.Muxer.ListSize < 0 {
		return fmt.Errorf("muxer.list_size must be >= 0")
	}
	if cfg.Muxer.StopTimeoutS <= 0 {
		cfg.Muxer.StopTimeoutS = DefaultStopTimeoutS
	}

	if cfg.Pipeline.QueueSize <= 0 {
		cfg.Pipeline.QueueSize = DefaultQueueSize
	}
	if cfg.Pipeline.WriteTimeoutMS <= 0 {
		cfg.Pipeline.WriteTimeoutMS = DefaultWriteTimeoutMS
	}
	if cfg.Pipeline.StatusIntervalMS <= 0 {
		cfg.Pipeline.StatusIntervalMS = DefaultStatusIntervalMS
	}

	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
