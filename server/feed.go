package server

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func newFeed(status StatusFunc, interval time.Duration, log *zap.Logger) *feed {
	return &feed{
		status:   status,
		interval: interval,
		log:      log,
		clients:  make(map[string]*Client),
		quit:     make(chan struct{}),
	}
}

func (f *feed) snapshot() ([]byte, error) {
	return json.Marshal(f.status())
}

// run broadcasts a snapshot every interval until stop
func (f *feed) run() {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.quit:
			return
		case <-ticker.C:
			f.mu.RLock()
			n := len(f.clients)
			f.mu.RUnlock()
			if n == 0 {
				continue
			}

			msg, err := f.snapshot()
			if err != nil {
				f.log.Error("Failed to encode status", zap.Error(err))
				continue
			}
			f.broadcast(msg)
		}
	}
}

func (f *feed) broadcast(msg []byte) {
	f.mu.RLock()
	clients := make([]*Client, 0, len(f.clients))
	for _, client := range f.clients {
		clients = append(clients, client)
	}
	f.mu.RUnlock()

	for _, client := range clients {
		client.enqueue(msg)
	}
}

// add registers a client, queues the current snapshot and starts its pumps
func (f *feed) add(id string, conn *websocket.Conn) *Client {
	client := &Client{
		id:   id,
		conn: conn,
		send: make(chan []byte, ClientBufferSize),
		feed: f,
	}

	f.mu.Lock()
	select {
	case <-f.quit:
		f.mu.Unlock()
		client.closed = true
		close(client.send)
		go client.writePump()
		return client
	default:
	}
	f.clients[id] = client
	f.mu.Unlock()

	if msg, err := f.snapshot(); err == nil {
		client.enqueue(msg)
	}

	go client.writePump()
	go client.readPump()
	return client
}

// remove drops a client and closes its send queue, once
func (f *feed) remove(client *Client) {
	client.mu.Lock()
	if client.closed {
		client.mu.Unlock()
		return
	}
	client.closed = true
	close(client.send)
	client.mu.Unlock()

	f.mu.Lock()
	delete(f.clients, client.id)
	f.mu.Unlock()

	f.log.Debug("Status client removed", zap.String("client", client.id))
}

// stop ends the broadcaster and disconnects every client
func (f *feed) stop() {
	f.quitOnce.Do(func() { close(f.quit) })

	f.mu.RLock()
	clients := make([]*Client, 0, len(f.clients))
	for _, client := range f.clients {
		clients = append(clients, client)
	}
	f.mu.RUnlock()

	for _, client := range clients {
		f.remove(client)
	}
}

func (f *feed) count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}
