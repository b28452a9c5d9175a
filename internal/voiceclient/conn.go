package voiceclient

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reverb-labs/skald/internal/protocol"
)

const defaultConnectTimeout = 15 * time.Second

// wireConn is the message-oriented connection primitive the client depends
// on. *websocket.Conn satisfies it; tests substitute scripted fakes.
type wireConn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// dialFunc opens a wire connection to the backend.
type dialFunc func(ctx context.Context, endpoint string, header http.Header) (wireConn, error)

func gorillaDial(ctx context.Context, endpoint string, header http.Header) (wireConn, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// writeText sends a text frame; writes are serialized behind wmu so the read
// loop, keepalive loop and caller-driven resends never interleave partial
// frames.
func (c *Client) writeText(data []byte) error {
	return c.writeMessage(websocket.TextMessage, data)
}

func (c *Client) writeBinary(data []byte) error {
	return c.writeMessage(websocket.BinaryMessage, data)
}

func (c *Client) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotReady
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return conn.WriteMessage(messageType, data)
}

// keepaliveLoop keeps an idle Ready connection alive. It stops when the
// per-connection context is cancelled or the socket dies.
func (c *Client) keepaliveLoop(ctx context.Context, interval time.Duration) {
	payload, err := json.Marshal(protocol.Keepalive{Type: protocol.TypeKeepalive})
	if err != nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.State() != StateReady {
				continue
			}
			if err := c.writeText(payload); err != nil {
				return
			}
			c.metrics.IncFrameOut(string(protocol.TypeKeepalive))
		}
	}
}

// closeConn best-effort announces the close and tears the socket down.
func (c *Client) closeConn(conn wireConn) {
	c.wmu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(2*time.Second),
	)
	c.wmu.Unlock()
	_ = conn.Close()
}
