// Package channel provides the OS pipe that carries the encoded elementary
// stream from the encode loop to the muxer process.
package channel

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"
)

var (
	// ErrBrokenChannel is returned by Write once the read endpoint is gone
	ErrBrokenChannel = errors.New("broken channel: reader closed")
	// ErrWouldBlock is returned when the pipe stayed full for the whole write timeout
	ErrWouldBlock = errors.New("channel full: write would block")
	// ErrClosed is returned when writing after the writer endpoint was closed
	ErrClosed = errors.New("channel writer closed")
)

// DefaultWriteTimeout bounds how long a write may wait on a full pipe
const DefaultWriteTimeout = 250 * time.Millisecond

// Options configure a Channel
type Options struct {
	// WriteTimeout bounds a single Write. Zero means DefaultWriteTimeout,
	// a negative value disables the deadline.
	WriteTimeout time.Duration
}

// Channel is a unidirectional byte pipe with independently closable endpoints
type Channel struct {
	r *os.File
	w *os.File

	writeTimeout time.Duration

	writeMu     sync.Mutex
	closeReader sync.Once
	closeWriter sync.Once
}

// New creates a channel backed by an OS pipe
func New(opts Options) (*Channel, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}

	timeout := opts.WriteTimeout
	if timeout == 0 {
		timeout = DefaultWriteTimeout
	}

	return &Channel{
		r:            r,
		w:            w,
		writeTimeout: timeout,
	}, nil
}

// Reader returns the read endpoint, e.g. to hand it to a child process
func (c *Channel) Reader() *os.File {
	return c.r
}

// Read reads from the read endpoint. It returns io.EOF once the writer is
// closed and all buffered bytes are drained.
func (c *Channel) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if errors.Is(err, os.ErrClosed) {
		return n, io.EOF
	}
	return n, err
}

// Write writes p in full or reports why it could not.
// A stalled reader surfaces as ErrWouldBlock instead of blocking the caller.
func (c *Channel) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		// pipes that aren't pollable don't support deadlines; write then blocks
		_ = c.w.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}

	n, err := c.w.Write(p)
	if err != nil {
		return n, classify(err)
	}
	return n, nil
}

// CloseWriter closes the write endpoint; the reader sees EOF after draining
func (c *Channel) CloseWriter() error {
	var err error
	c.closeWriter.Do(func() {
		err = c.w.Close()
	})
	return err
}

// CloseReader closes the read endpoint; later writes fail with ErrBrokenChannel
func (c *Channel) CloseReader() error {
	var err error
	c.closeReader.Do(func() {
		err = c.r.Close()
	})
	return err
}

// Close closes both endpoints, writer first
func (c *Channel) Close() error {
	return errors.Join(c.CloseWriter(), c.CloseReader())
}

func classify(err error) error {
	switch {
	case errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: %v", ErrBrokenChannel, err)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrWouldBlock, err)
	case errors.Is(err, os.ErrClosed):
		return ErrClosed
	default:
		return fmt.Errorf("channel write failed: %w", err)
	}
}
