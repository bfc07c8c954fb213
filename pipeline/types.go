package pipeline

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"time"

	"camera-hls-server/channel"
	"camera-hls-server/encoder"
	"camera-hls-server/yuv"
)

var (
	// ErrAlreadyRunning is returned by Start when the pipeline is not idle
	ErrAlreadyRunning = errors.New("pipeline already running")
	// ErrNotRunning means a frame arrived while the pipeline was not running
	ErrNotRunning = errors.New("pipeline not running")
	// ErrQueueFull means the frame queue was full and the frame was dropped
	ErrQueueFull = errors.New("frame queue full")
	// ErrResolutionMismatch means a frame does not match the running encoder
	ErrResolutionMismatch = encoder.ErrResolutionMismatch
)

// State is the controller lifecycle state
type State int32

const (
	Idle State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Muxer is a running HLS segmenter fed from the stream channel
type Muxer interface {
	// Done is closed when the segmenter exits
	Done() <-chan struct{}
	// Err reports a non-successful exit once Done is closed
	Err() error
	Stop(ctx context.Context) error
}

// MuxerFactory starts a segmenter reading from input and writing to outDir.
// The segmenter must hold its own reference to input.
type MuxerFactory func(input *os.File, outDir string) (Muxer, error)

// Server serves a segment directory
type Server interface {
	Start() error
	Stop(ctx context.Context) error
}

// ServerFactory creates a server for a segment directory
type ServerFactory func(root string) Server

// Options configures a Controller
type Options struct {
	Registry         *encoder.Registry
	Encoder          string // registry name; empty probes in order
	Bitrate          int
	FrameRate        int
	KeyFrameInterval int // seconds
	QueueSize        int
	WriteTimeout     time.Duration
	StopTimeout      time.Duration // bounds Stop when Run's context ends

	StartMuxer MuxerFactory
	NewServer  ServerFactory
}

// Status is a point-in-time view of the pipeline
type Status struct {
	State      State         `json:"state"`
	RunID      string        `json:"run_id,omitempty"`
	Resolution string        `json:"resolution,omitempty"`
	Encoder    string        `json:"encoder,omitempty"`
	Layout     string        `json:"layout,omitempty"`
	OutputDir  string        `json:"output_dir,omitempty"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	Encode     encoder.Stats `json:"encode"`
	QueueDrops uint64        `json:"queue_drops"`
	MuxerError string        `json:"muxer_error,omitempty"`
}

// run holds everything owned by one Start..Stop cycle
type run struct {
	id        string
	size      yuv.Size
	outDir    string
	startedAt time.Time
	codec     string
	layout    encoder.ColorLayout

	ch   *channel.Channel
	loop *encoder.Loop
	mux  Muxer
	srv  Server

	frames    chan *yuv.Frame
	draining  atomic.Bool
	taskDone  chan struct{}
	stopWatch chan struct{}
	watchDone chan struct{}
}
