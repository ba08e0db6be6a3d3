package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	sendBufferSize = 32
	writeTimeout   = 10 * time.Second
	pingInterval   = 30 * time.Second
)

// client is one tab's push connection with its own write goroutine.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// enqueue queues data without blocking. When the buffer is full the oldest frame is dropped.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
	}

	select {
	case <-c.send:
		slog.Warn("Session stream buffer full, dropped oldest frame")
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump writes queued frames and keeps the connection alive until ctx ends or the client closes.
func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					slog.Debug("Session stream write error", "error", err)
				}
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Debug("Session stream ping error", "error", err)
				return
			}

		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *client) close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			if err := c.conn.Close(websocket.StatusNormalClosure, reason); err != nil {
				slog.Debug("Failed to close session stream", "error", err)
			}
		}
	})
}
