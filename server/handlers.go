package server

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// getUpgrader returns a WebSocket upgrader configured to allow all origins
func getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// MIMEType picks the content type for a served file by suffix
func MIMEType(name string) string {
	switch {
	case strings.HasSuffix(name, ".m3u8"):
		return MIMEPlaylist
	case strings.HasSuffix(name, ".ts"):
		return MIMESegment
	default:
		return MIMEBinary
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(IndexPage))
}

func notFound(c *gin.Context) {
	c.String(http.StatusNotFound, NotFoundBody)
}

// validName rejects anything that could leave the served directory
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

// handleFile streams a file from the root. The file is opened fresh per
// request since the muxer keeps rewriting the playlist and adding segments.
func (s *Server) handleFile(c *gin.Context) {
	name := c.Param("name")
	if !validName(name) {
		notFound(c)
		return
	}

	f, err := os.Open(filepath.Join(s.opts.Root, name))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("Failed to open file", zap.String("name", name), zap.Error(err))
		}
		notFound(c)
		return
	}
	defer f.Close()

	if info, err := f.Stat(); err != nil || info.IsDir() {
		notFound(c)
		return
	}

	c.Header("Content-Type", MIMEType(name))
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	if c.Request.Method == http.MethodHead {
		return
	}

	buf := make([]byte, ChunkSize)
	c.Stream(func(w io.Writer) bool {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return false
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Warn("Failed to read file", zap.String("name", name), zap.Error(err))
			}
			return false
		}
		return true
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.feed.status())
}

// handleEvents upgrades to a websocket that receives a status snapshot on
// connect and then every StatusInterval
func (s *Server) handleEvents(c *gin.Context) {
	upgrader := getUpgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade error", zap.Error(err))
		return
	}

	client := s.feed.add(uuid.NewString(), conn)
	s.log.Debug("Status client connected", zap.String("client", client.id))
}
