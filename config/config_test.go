package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 1_250_000, cfg.Encoder.Bitrate)
	assert.Equal(t, 30, cfg.Encoder.FrameRate)
	assert.Equal(t, 1, cfg.Encoder.KeyFrameIntervalS)
	assert.Equal(t, 2, cfg.Muxer.SegmentSeconds)
	assert.Equal(t, 0, cfg.Muxer.ListSize)
	assert.Equal(t, 2, cfg.Pipeline.QueueSize)
	assert.Equal(t, 250*time.Millisecond, cfg.WriteTimeout())
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
addr: ":9000"
output_dir: /var/hls
source:
  kind: pattern
  width: 320
  height: 240
encoder:
  name: x264
  bitrate: 800000
muxer:
  list_size: 5
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "/var/hls", cfg.OutputDir)
	assert.Equal(t, SourcePattern, cfg.Source.Kind)
	assert.Equal(t, 320, cfg.Source.Width)
	assert.Equal(t, 30, cfg.Source.FrameRate)
	assert.Equal(t, "x264", cfg.Encoder.Name)
	assert.Equal(t, 800000, cfg.Encoder.Bitrate)
	assert.Equal(t, 5, cfg.Muxer.ListSize)
	assert.Equal(t, 2, cfg.Muxer.SegmentSeconds)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "addr: \":9000\"\nencoder:\n  name: x264\n")
	t.Setenv(EnvAddr, ":7000")
	t.Setenv(EnvEncoder, "ffmpeg")
	t.Setenv(EnvOutputDir, "/tmp/live")
	t.Setenv(EnvSource, SourcePattern)
	t.Setenv(EnvFFmpeg, "/opt/ffmpeg")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, "ffmpeg", cfg.Encoder.Name)
	assert.Equal(t, "/tmp/live", cfg.OutputDir)
	assert.Equal(t, SourcePattern, cfg.Source.Kind)
	assert.Equal(t, "/opt/ffmpeg", cfg.FFmpeg)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeFile(t, "bad.yaml", "addr: [unterminated"))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = Load(writeFile(t, "bad.yaml", "source:\n  kind: screen\n"))
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty addr":       func(c *Config) { c.Addr = "" },
		"empty output dir": func(c *Config) { c.OutputDir = "" },
		"bad source":       func(c *Config) { c.Source.Kind = "file" },
		"zero width":       func(c *Config) { c.Source.Width = 0 },
		"bad encoder":      func(c *Config) { c.Encoder.Name = "nvenc" },
		"zero bitrate":     func(c *Config) { c.Encoder.Bitrate = 0 },
		"negative keyint":  func(c *Config) { c.Encoder.KeyFrameIntervalS = -1 },
		"zero segment":     func(c *Config) { c.Muxer.SegmentSeconds = 0 },
		"bad log level":    func(c *Config) { c.Log.Level = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}

	cfg := Default()
	cfg.Encoder.FrameRate = 0
	cfg.Source.FrameRate = 25
	cfg.Pipeline.QueueSize = 0
	require.NoError(t, Validate(cfg))
	assert.Equal(t, 25, cfg.Encoder.FrameRate)
	assert.Equal(t, DefaultQueueSize, cfg.Pipeline.QueueSize)
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "HLS_ADDR=:6000\nHLS_ENCODER=x264\n")
	t.Setenv(EnvEncoder, "ffmpeg")
	t.Setenv(EnvAddr, "")
	os.Unsetenv(EnvAddr)

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.Addr)
	assert.Equal(t, "ffmpeg", cfg.Encoder.Name, "existing variables win")
}
