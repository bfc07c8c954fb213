package server

import "time"

// Server configuration constants
const (
	// DefaultAddr is the address the segment server listens on
	DefaultAddr = ":8080"

	// IndexPage is the fixed landing page linking the live playlist
	IndexPage = `<html><body>` +
		`<video src="/playlist.m3u8" controls autoplay muted></video>` +
		`<p><a href="/playlist.m3u8">Click here to start the HLS stream</a></p>` +
		`</body></html>`

	// NotFoundBody is returned for any file that does not exist at request time
	NotFoundBody = "404 Not Found"

	// ChunkSize is how much of a file is read and flushed per chunk
	ChunkSize = 32 * 1024

	// DefaultStatusInterval is how often the status feed pushes a snapshot
	DefaultStatusInterval = time.Second

	// ClientBufferSize is the maximum number of snapshots queued per websocket client
	ClientBufferSize = 4

	// ShutdownTimeout bounds a graceful shutdown when the caller has no deadline
	ShutdownTimeout = 5 * time.Second

	// WebSocketPingInterval is how often to send ping messages to clients
	WebSocketPingInterval = 54 * time.Second

	// WebSocketReadDeadline is the deadline for reading WebSocket messages
	WebSocketReadDeadline = 60 * time.Second

	// WebSocketWriteDeadline is the deadline for writing WebSocket messages
	WebSocketWriteDeadline = 10 * time.Second

	// WebSocketReadLimit is the maximum message size for incoming WebSocket messages
	WebSocketReadLimit = 512
)

// MIME types by file suffix
const (
	MIMEPlaylist = "application/vnd.apple.mpegurl"
	MIMESegment  = "video/MP2T"
	MIMEBinary   = "application/octet-stream"
)
