package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nexuschat/nexus/internal/store"
	"github.com/nexuschat/nexus/internal/ws"
)

func newTestService(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc := NewService(db, ws.Options{AllowedOrigins: []string{"*"}}, zerolog.Nop())
	srv := httptest.NewServer(svc.Routes())
	t.Cleanup(srv.Close)
	return svc, srv
}

func dialChat(t *testing.T, svc *Service, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "register", "user": user}))
	require.Eventually(t, func() bool {
		_, ok := svc.Registry().Lookup(user)
		return ok
	}, time.Second, 5*time.Millisecond)
	return conn
}

func postJSON(t *testing.T, url string, body any) *envelope {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	env.status = resp.StatusCode
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return &env
}

// envelope mirrors the response body for assertions.
type envelope struct {
	status  int
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func TestSendToOfflineRecipientPersists(t *testing.T) {
	_, srv := newTestService(t)

	env := postJSON(t, srv.URL+"/api/v1/send", map[string]any{
		"sender":   "b@x.com",
		"receiver": "a@x.com",
		"content":  "hi",
	})
	require.Equal(t, http.StatusOK, env.status)
	require.True(t, env.Success, "recipient absence is never a send failure")

	resp, err := http.Get(srv.URL + "/api/v1/messages?user1=a@x.com&user2=b@x.com")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var got struct {
		Data struct {
			Messages []store.Message `json:"messages"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.Data.Messages, 1)
	require.Equal(t, "hi", got.Data.Messages[0].Content)
}

func TestWSSendBeforeRecipientRegisters(t *testing.T) {
	svc, srv := newTestService(t)
	sender := dialChat(t, svc, srv, "b@x.com")

	require.NoError(t, sender.WriteJSON(map[string]string{
		"action": "send", "to": "a@x.com", "message": "hi",
	}))

	// The sender gets an ack with delivered=false; the message is durable.
	_ = sender.SetReadDeadline(time.Now().Add(time.Second))
	var ack struct {
		Kind      string `json:"kind"`
		Delivered bool   `json:"delivered"`
		MessageID int64  `json:"message_id"`
	}
	require.NoError(t, sender.ReadJSON(&ack))
	require.Equal(t, "ack", ack.Kind)
	require.False(t, ack.Delivered)
	require.NotZero(t, ack.MessageID)

	// A late registration must not receive the frame retroactively.
	recipient := dialChat(t, svc, srv, "a@x.com")
	_ = recipient.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err := recipient.ReadMessage()
	require.Error(t, err, "no retroactive delivery to a late connection")

	// But the pull API returns it.
	msgs, err := svc.store.Messages("a@x.com", "b@x.com", 100)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hi", msgs[0].Content)
}

func TestWSSendDeliversToOnlinePeer(t *testing.T) {
	svc, srv := newTestService(t)
	recipient := dialChat(t, svc, srv, "a@x.com")
	sender := dialChat(t, svc, srv, "b@x.com")

	require.NoError(t, sender.WriteJSON(map[string]string{
		"action": "send", "to": "a@x.com", "message": "hello there",
	}))

	_ = recipient.SetReadDeadline(time.Now().Add(time.Second))
	var pushed struct {
		Kind string `json:"kind"`
		From string `json:"from"`
		Body struct {
			Message string `json:"message"`
		} `json:"body"`
	}
	require.NoError(t, recipient.ReadJSON(&pushed))
	require.Equal(t, "chat", pushed.Kind)
	require.Equal(t, "b@x.com", pushed.From)
	require.Equal(t, "hello there", pushed.Body.Message)

	_ = sender.SetReadDeadline(time.Now().Add(time.Second))
	var ack struct {
		Kind      string `json:"kind"`
		Delivered bool   `json:"delivered"`
	}
	require.NoError(t, sender.ReadJSON(&ack))
	require.True(t, ack.Delivered)
}

func TestSecondSocketReplacesFirst(t *testing.T) {
	svc, srv := newTestService(t)

	first := dialChat(t, svc, srv, "a@x.com")
	h1, ok := svc.Registry().Lookup("a@x.com")
	require.True(t, ok)

	second := dialChat(t, svc, srv, "a@x.com")
	require.Eventually(t, func() bool {
		h, ok := svc.Registry().Lookup("a@x.com")
		return ok && h != h1
	}, time.Second, 5*time.Millisecond)

	sender := dialChat(t, svc, srv, "b@x.com")

	// The first socket is closed by the registry; its reader sees an error.
	_ = first.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err, "displaced socket must be closed")

	require.NoError(t, sender.WriteJSON(map[string]string{
		"action": "send", "to": "a@x.com", "message": "to the new socket",
	}))

	_ = second.SetReadDeadline(time.Now().Add(time.Second))
	var pushed struct {
		Body struct {
			Message string `json:"message"`
		} `json:"body"`
	}
	require.NoError(t, second.ReadJSON(&pushed))
	require.Equal(t, "to the new socket", pushed.Body.Message)
}

func TestTypingIndicatorRelayedNotPersisted(t *testing.T) {
	svc, srv := newTestService(t)
	recipient := dialChat(t, svc, srv, "a@x.com")
	sender := dialChat(t, svc, srv, "b@x.com")

	require.NoError(t, sender.WriteJSON(map[string]string{
		"action": "typing", "to": "a@x.com",
	}))

	_ = recipient.SetReadDeadline(time.Now().Add(time.Second))
	var pushed struct {
		Kind string `json:"kind"`
		From string `json:"from"`
	}
	require.NoError(t, recipient.ReadJSON(&pushed))
	require.Equal(t, "typing", pushed.Kind)
	require.Equal(t, "b@x.com", pushed.From)

	msgs, err := svc.store.Messages("a@x.com", "b@x.com", 100)
	require.NoError(t, err)
	require.Empty(t, msgs, "typing indicators are never persisted")
}

func TestPingPong(t *testing.T) {
	svc, srv := newTestService(t)
	conn := dialChat(t, svc, srv, "a@x.com")

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var reply struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, "pong", reply.Kind)
}

func TestValidationFailures(t *testing.T) {
	_, srv := newTestService(t)

	env := postJSON(t, srv.URL+"/api/v1/send", map[string]any{"sender": "a@x.com"})
	require.Equal(t, http.StatusBadRequest, env.status)
	require.False(t, env.Success)

	resp, err := http.Get(srv.URL + "/api/v1/messages?user1=a@x.com")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOnlineListing(t *testing.T) {
	svc, srv := newTestService(t)
	dialChat(t, svc, srv, "a@x.com")

	resp, err := http.Get(srv.URL + "/api/v1/online")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var got struct {
		Data struct {
			Users []string `json:"users"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, []string{"a@x.com"}, got.Data.Users)
}
