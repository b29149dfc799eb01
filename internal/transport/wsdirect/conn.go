// Package wsdirect implements the optional direct-WebSocket transport:
// the same CHUM message bytes that QUIC-VC carries in STREAM frames,
// framed instead as WebSocket binary messages on a configurable port
// (default 8765).
package wsdirect

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DefaultPort is the direct-WebSocket listener's default port.
const DefaultPort = 8765

// Conn wraps a *websocket.Conn as a binary-message transport. gorilla's
// websocket.Conn forbids concurrent writers, so all sends go through
// writeMu — mirrors the single-writer discipline the teacher's
// HandleChatWebSocket observes by only ever writing from the request
// goroutine.
type Conn struct {
	ws      *websocket.Conn
	logger  *zap.Logger
	writeMu sync.Mutex
}

func newConn(ws *websocket.Conn, logger *zap.Logger) *Conn {
	return &Conn{ws: ws, logger: logger}
}

// SendStream writes data as a single WebSocket binary message.
func (c *Conn) SendStream(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// Run reads binary messages until ctx is cancelled or the connection
// closes, invoking onStream for each one. It returns the error that
// ended the loop, which is ctx.Err() when ctx was the cause; it never
// returns nil.
func (c *Conn) Run(ctx context.Context, onStream func([]byte)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.ws.Close()
		case <-done:
		}
	}()

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		onStream(data)
	}
}

// Close closes the underlying WebSocket connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// Server accepts direct-WebSocket CHUM connections.
type Server struct {
	logger *zap.Logger
}

// NewServer builds a Server that upgrades incoming HTTP requests to
// WebSocket connections.
func NewServer(logger *zap.Logger) *Server {
	return &Server{logger: logger}
}

// Handler upgrades the request and hands the resulting Conn to onConn,
// which owns the connection's lifetime (typically running the CHUM
// session loop until it returns).
func (s *Server) Handler(onConn func(*Conn)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("wsdirect: upgrade failed", zap.Error(err))
			return
		}
		onConn(newConn(ws, s.logger))
	}
}

var dialer = websocket.Dialer{
	HandshakeTimeout: 10 * time.Second,
}

// Dial opens a direct-WebSocket connection to a peer's CHUM endpoint.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*Conn, error) {
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsdirect: dial %s: %w", url, err)
	}
	return newConn(ws, logger), nil
}
