package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nexuschat/nexus/internal/registry"
)

// echoProtocol identifies via {"user": ...} and echoes every frame back to
// the sender, which is enough to exercise the endpoint life cycle.
type echoProtocol struct{}

func (echoProtocol) Identify(frame []byte) (string, error) {
	var first struct {
		User string `json:"user"`
	}
	if err := json.Unmarshal(frame, &first); err != nil {
		return "", errors.New("malformed first frame")
	}
	if first.User == "" {
		return "", errors.New("first frame must carry an identity")
	}
	return first.User, nil
}

func (echoProtocol) HandleFrame(c *Client, frame []byte) {
	_ = c.Send(frame)
}

func newTestEndpoint(t *testing.T) (*registry.Registry, *httptest.Server) {
	t.Helper()
	reg := registry.New(registry.Chat, zerolog.Nop())
	ep := NewEndpoint(reg, echoProtocol{}, Options{AllowedOrigins: []string{"*"}}, zerolog.Nop())
	srv := httptest.NewServer(ep)
	t.Cleanup(srv.Close)
	return reg, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForRegistration(t *testing.T, reg *registry.Registry, identity string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := reg.Lookup(identity)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestIdentifiedConnectionIsRegistered(t *testing.T) {
	reg, srv := newTestEndpoint(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]string{"user": "a@x.com"}))
	waitForRegistration(t, reg, "a@x.com")
}

func TestMissingIdentityClosesWithoutRegistering(t *testing.T) {
	reg, srv := newTestEndpoint(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "noop"}))

	// The endpoint answers with an error frame and then closes the socket.
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	var reply struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(frame, &reply))
	require.Equal(t, "error", reply.Kind)

	_, _, err = conn.ReadMessage()
	require.Error(t, err, "connection must be closed after the error frame")
	require.Empty(t, reg.Snapshot())
}

func TestDisconnectRemovesRegistryEntry(t *testing.T) {
	reg, srv := newTestEndpoint(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]string{"user": "a@x.com"}))
	waitForRegistration(t, reg, "a@x.com")

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		_, ok := reg.Lookup("a@x.com")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestReconnectReplacesPriorConnection(t *testing.T) {
	reg, srv := newTestEndpoint(t)

	first := dial(t, srv)
	require.NoError(t, first.WriteJSON(map[string]string{"user": "a@x.com"}))
	waitForRegistration(t, reg, "a@x.com")
	h1, _ := reg.Lookup("a@x.com")

	second := dial(t, srv)
	require.NoError(t, second.WriteJSON(map[string]string{"user": "a@x.com"}))
	require.Eventually(t, func() bool {
		h, ok := reg.Lookup("a@x.com")
		return ok && h != h1
	}, time.Second, 5*time.Millisecond)

	// The first socket was closed by the registry; its reader sees EOF and
	// its stale unregister must not evict the second connection.
	_ = first.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	require.Eventually(t, func() bool {
		h, ok := reg.Lookup("a@x.com")
		return ok && h != h1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, reg.Len())
}

func TestFrameEchoRoundTrip(t *testing.T) {
	reg, srv := newTestEndpoint(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]string{"user": "a@x.com"}))
	waitForRegistration(t, reg, "a@x.com")

	require.NoError(t, conn.WriteJSON(map[string]string{"hello": "world"}))

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var echoed map[string]string
	require.NoError(t, conn.ReadJSON(&echoed))
	require.Equal(t, "world", echoed["hello"])
}

func TestMethodNotAllowed(t *testing.T) {
	_, srv := newTestEndpoint(t)

	resp, err := http.Post(srv.URL, "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
