// Package config loads the server configuration from defaults, an optional
// YAML file, an optional .env file and HLS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults
const (
	DefaultAddr             = ":8080"
	DefaultOutputDir        = "hls"
	DefaultFFmpeg           = "ffmpeg"
	DefaultSource           = SourceCamera
	DefaultWidth            = 640
	DefaultHeight           = 480
	DefaultFrameRate        = 30
	DefaultBitrate          = 1_250_000
	DefaultKeyFrameInterval = 1
	DefaultSegmentSeconds   = 2
	DefaultQueueSize        = 2
	DefaultWriteTimeoutMS   = 250
	DefaultStopTimeoutS     = 2
	DefaultStatusIntervalMS = 1000
	DefaultShutdownTimeoutS = 5
	DefaultLogLevel         = "info"
)

// Frame sources
const (
	SourceCamera  = "camera"
	SourcePattern = "pattern"
)

// Environment overrides
const (
	EnvAddr      = "HLS_ADDR"
	EnvOutputDir = "HLS_OUTPUT_DIR"
	EnvFFmpeg    = "HLS_FFMPEG"
	EnvSource    = "HLS_SOURCE"
	EnvEncoder   = "HLS_ENCODER"
	EnvLogLevel  = "HLS_LOG_LEVEL"
)

// Config is the complete server configuration
type Config struct {
	Addr             string         `yaml:"addr"`
	OutputDir        string         `yaml:"output_dir"`
	FFmpeg           string         `yaml:"ffmpeg"`
	ShutdownTimeoutS int            `yaml:"shutdown_timeout_s"`
	Source           SourceConfig   `yaml:"source"`
	Encoder          EncoderConfig  `yaml:"encoder"`
	Muxer            MuxerConfig    `yaml:"muxer"`
	Pipeline         PipelineConfig `yaml:"pipeline"`
	Log              LogConfig      `yaml:"log"`
}

// SourceConfig selects where frames come from
type SourceConfig struct {
	Kind      string `yaml:"kind"`   // camera, pattern
	Device    string `yaml:"device"` // camera label, empty picks the first one
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	FrameRate int    `yaml:"fps"`
}

// EncoderConfig contains H.264 encoder settings
type EncoderConfig struct {
	Name              string `yaml:"name"` // ffmpeg, x264, empty probes in order
	Bitrate           int    `yaml:"bitrate"`
	FrameRate         int    `yaml:"fps"`
	KeyFrameIntervalS int    `yaml:"key_frame_interval_s"`
}

// MuxerConfig contains HLS segmenter settings
type MuxerConfig struct {
	SegmentSeconds int `yaml:"segment_seconds"`
	ListSize       int `yaml:"list_size"` // 0 keeps every segment
	StopTimeoutS   int `yaml:"stop_timeout_s"`
}

// PipelineConfig contains frame path settings
type PipelineConfig struct {
	QueueSize        int `yaml:"queue_size"`
	WriteTimeoutMS   int `yaml:"write_timeout_ms"`
	StatusIntervalMS int `yaml:"status_interval_ms"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Addr:             DefaultAddr,
		OutputDir:        DefaultOutputDir,
		FFmpeg:           DefaultFFmpeg,
		ShutdownTimeoutS: DefaultShutdownTimeoutS,
		Source: SourceConfig{
			Kind:      DefaultSource,
			Width:     DefaultWidth,
			Height:    DefaultHeight,
			FrameRate: DefaultFrameRate,
		},
		Encoder: EncoderConfig{
			Bitrate:           DefaultBitrate,
			FrameRate:         DefaultFrameRate,
			KeyFrameIntervalS: DefaultKeyFrameInterval,
		},
		Muxer: MuxerConfig{
			SegmentSeconds: DefaultSegmentSeconds,
			StopTimeoutS:   DefaultStopTimeoutS,
		},
		Pipeline: PipelineConfig{
			QueueSize:        DefaultQueueSize,
			WriteTimeoutMS:   DefaultWriteTimeoutMS,
			StatusIntervalMS: DefaultStatusIntervalMS,
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is not empty), then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	ApplyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads .env style files into the process environment. Variables
// already set win, and missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from HLS_* environment variables
func ApplyEnv(cfg *Config) {
	set := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvAddr, &cfg.Addr)
	set(EnvOutputDir, &cfg.OutputDir)
	set(EnvFFmpeg, &cfg.FFmpeg)
	set(EnvSource, &cfg.Source.Kind)
	set(EnvEncoder, &cfg.Encoder.Name)
	set(EnvLogLevel, &cfg.Log.Level)
}

// ShutdownTimeout returns the graceful shutdown budget
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// WriteTimeout returns the stream channel write deadline
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Pipeline.WriteTimeoutMS) * time.Millisecond
}

// StatusInterval returns the websocket status push interval
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.Pipeline.StatusIntervalMS) * time.Millisecond
}

// MuxerStopTimeout returns how long each muxer stop phase waits
func (c *Config) MuxerStopTimeout() time.Duration {
	return time.Duration(c.Muxer.StopTimeoutS) * time.Second
}
