// Package ws provides the duplex-connection plumbing shared by the chat,
// notification, and rtc channel handlers: the HTTP upgrade path, the
// identify-then-register life cycle, per-connection pumps, origin checks,
// and inbound rate limiting.
//
// Every connection runs the same life cycle regardless of channel: the
// handshake is accepted, the first frame must establish the user identity,
// the connection is registered exactly once, inbound frames are processed
// in arrival order, and the registry entry is removed on every exit path.
package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nexuschat/nexus/internal/observability"
	"github.com/nexuschat/nexus/internal/registry"
)

// Protocol is the channel-specific half of an endpoint. Identify extracts
// the user identity from the first frame; HandleFrame interprets every
// subsequent inbound frame.
type Protocol interface {
	Identify(frame []byte) (identity string, err error)
	HandleFrame(c *Client, frame []byte)
}

// Endpoint upgrades HTTP requests to WebSocket connections and runs the
// connection life cycle against one channel registry.
type Endpoint struct {
	reg      *registry.Registry
	proto    Protocol
	opts     Options
	origins  *originPolicy
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewEndpoint wires a protocol onto a channel registry.
func NewEndpoint(reg *registry.Registry, proto Protocol, opts Options, logger zerolog.Logger) *Endpoint {
	opts = opts.withDefaults()
	e := &Endpoint{
		reg:     reg,
		proto:   proto,
		opts:    opts,
		origins: newOriginPolicy(opts.AllowedOrigins, logger),
		logger:  logger.With().Str("component", "ws").Str("channel", string(reg.Channel())).Logger(),
	}
	e.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     e.origins.check,
	}
	return e
}

// ServeHTTP handles the WebSocket upgrade and serves the connection until
// it closes. The HTTP handler goroutine is the connection's single reader.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	e.serve(conn, r.RemoteAddr)
}

func (e *Endpoint) serve(conn *websocket.Conn, addr string) {
	conn.SetReadLimit(e.opts.MaxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		e.logger.Debug().Err(err).Msg("setting initial read deadline")
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// The first frame must carry the identity. Failing that, the connection
	// is told why and closed without ever touching the registry, so no
	// orphaned entry can exist.
	_, first, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return
	}

	identity, err := e.proto.Identify(first)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, ErrorFrame(err.Error()))
		_ = conn.Close()
		e.logger.Warn().Err(err).Str("remote", addr).Msg("rejected unidentified connection")
		return
	}

	c := newClient(conn, identity, addr, e.logger.With().Str("identity", identity).Logger())
	go c.writePump()

	e.reg.Register(identity, c)
	observability.ConnectionOpened(string(e.reg.Channel()))
	c.logger.Info().Msg("connection registered")

	defer func() {
		// Compare-and-remove on every exit path: explicit disconnect,
		// protocol error, or replacement by a newer registration.
		e.reg.Unregister(identity, c)
		_ = c.Close()
		observability.ConnectionClosed(string(e.reg.Channel()))
		c.logger.Info().Msg("connection closed")
	}()

	limiter := newRateLimiter(e.opts.RateBurst, e.opts.RateRefillInterval)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) && !isExpectedCloseError(err) {
				c.logger.Debug().Err(err).Msg("read error")
			}
			return
		}

		if !limiter.allow() {
			c.logger.Warn().Msg("rate limit exceeded, frame discarded")
			continue
		}

		e.proto.HandleFrame(c, frame)
	}
}
