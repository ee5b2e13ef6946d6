package ws

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Errors returned by Client.Send. A full buffer and a closed connection are
// both treated by the dispatcher as a dead peer.
var (
	ErrConnectionClosed = errors.New("ws: connection closed")
	ErrSendBufferFull   = errors.New("ws: send buffer full")
)

// Client is the live duplex connection for one identified user. It
// implements registry.Handle: Send enqueues without blocking, Close tears
// the socket down and unblocks the reader.
type Client struct {
	conn     *websocket.Conn
	identity string
	addr     string
	logger   zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newClient(conn *websocket.Conn, identity, addr string, logger zerolog.Logger) *Client {
	return &Client{
		conn:     conn,
		identity: identity,
		addr:     addr,
		logger:   logger,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

// Identity returns the identity bound at registration.
func (c *Client) Identity() string {
	return c.identity
}

// Send enqueues payload for the write pump. It never blocks: a closed
// connection or a full buffer reports an error so the dispatcher can evict
// the entry.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// SendJSON marshals v and enqueues it.
func (c *Client) SendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(payload)
}

// Close shuts the connection down once. Closing the underlying socket
// unblocks any reader currently awaiting a frame, driving the serve loop to
// its cleanup path.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with periodic pings. One pump per connection; it exits when the
// client closes or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Debug().Err(err).Msg("closing connection in write pump")
		}
	}()

	for {
		select {
		case <-c.done:
			return

		case payload := <-c.send:
			if err := c.writeFrame(payload); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Debug().Err(err).Msg("write failed")
				}
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeFrame writes payload and coalesces any frames already queued behind
// it into the same writer.
func (c *Client) writeFrame(payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}

	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}

	queued := len(c.send)
	for i := 0; i < queued; i++ {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return err
		}
		if _, err := w.Write(<-c.send); err != nil {
			return err
		}
	}

	return w.Close()
}

// isExpectedCloseError checks for the error noise of an ordinary shutdown.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
