package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StatusFunc returns a JSON-serialisable snapshot of whatever the server
// reports on /api/status and the websocket feed
type StatusFunc func() any

// Options configures a Server
type Options struct {
	Addr           string
	Root           string
	Status         StatusFunc
	StatusInterval time.Duration
	Log            *zap.Logger
}

// Server serves the segment directory over HTTP
type Server struct {
	opts   Options
	log    *zap.Logger
	engine *gin.Engine
	feed   *feed

	mu       sync.Mutex
	srv      *http.Server
	ln       net.Listener
	stopOnce sync.Once
	stopErr  error
}

// feed pushes status snapshots to websocket clients
type feed struct {
	status   StatusFunc
	interval time.Duration
	log      *zap.Logger

	clients map[string]*Client
	mu      sync.RWMutex

	quit     chan struct{}
	quitOnce sync.Once
}

// Client is a websocket subscriber of the status feed
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	feed   *feed
	closed bool
	mu     sync.Mutex
}
