// Package chat implements the chat service: message persistence endpoints
// and the /ws/chat realtime channel. Live delivery is best-effort; the
// durable record always comes first.
package chat

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexuschat/nexus/internal/httpx"
	"github.com/nexuschat/nexus/internal/registry"
	"github.com/nexuschat/nexus/internal/relay"
	"github.com/nexuschat/nexus/internal/store"
	"github.com/nexuschat/nexus/internal/ws"
)

// MessageStore is the slice of the persistence gateway the chat service
// consumes.
type MessageStore interface {
	SaveMessage(sender, receiver, content, msgType string, ts int64) (int64, error)
	Messages(user1, user2 string, limit int) ([]store.Message, error)
	UserHistory(user string, limit int) ([]store.Message, error)
	MarkMessagesRead(receiver, sender string) error
	UnreadCount(user string) (int, error)
}

// Service owns the chat channel registry, its dispatcher, and the HTTP
// surface around them.
type Service struct {
	store      MessageStore
	reg        *registry.Registry
	dispatcher *relay.Dispatcher
	endpoint   *ws.Endpoint
	logger     zerolog.Logger
}

// NewService wires a chat service over the given message store.
func NewService(st MessageStore, opts ws.Options, logger zerolog.Logger) *Service {
	logger = logger.With().Str("service", "chat").Logger()
	reg := registry.New(registry.Chat, logger)

	s := &Service{
		store:      st,
		reg:        reg,
		dispatcher: relay.NewDispatcher(reg, logger),
		logger:     logger,
	}
	s.endpoint = ws.NewEndpoint(reg, &protocol{svc: s}, opts, logger)
	return s
}

// Run drains the async delivery queue until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.dispatcher.Run(ctx)
}

// Registry exposes the channel registry for online listings.
func (s *Service) Registry() *registry.Registry {
	return s.reg
}

// Routes returns the service mux.
func (s *Service) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/send", s.handleSend)
	mux.HandleFunc("/api/v1/messages", s.handleMessages)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/mark-read", s.handleMarkRead)
	mux.HandleFunc("/api/v1/unread-count", s.handleUnreadCount)
	mux.HandleFunc("/api/v1/online", s.handleOnline)
	mux.Handle("/ws/chat", s.endpoint)
	return mux
}

type sendRequest struct {
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func (s *Service) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req sendRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Sender == "" || req.Receiver == "" || req.Content == "" {
		httpx.Fail(w, http.StatusBadRequest, "sender, receiver and content are required")
		return
	}
	if req.Timestamp == 0 {
		req.Timestamp = time.Now().UnixMilli()
	}

	id, err := s.store.SaveMessage(req.Sender, req.Receiver, req.Content, req.Type, req.Timestamp)
	if err != nil {
		s.logger.Error().Err(err).Msg("saving message")
		httpx.Fail(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	// Live push is advisory; the sender's success reflects persistence
	// only.
	if msg, err := relay.NewMessage(relay.KindChat, req.Sender, map[string]any{
		"message_id": id,
		"message":    req.Content,
		"type":       req.Type,
	}); err == nil {
		s.dispatcher.EnqueueMessage(req.Receiver, msg)
	}

	httpx.OK(w, map[string]any{"message_id": id}, "message sent")
}

func (s *Service) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	user1 := r.URL.Query().Get("user1")
	user2 := r.URL.Query().Get("user2")
	if user1 == "" || user2 == "" {
		httpx.Fail(w, http.StatusBadRequest, "user1 and user2 are required")
		return
	}

	messages, err := s.store.Messages(user1, user2, queryLimit(r, 100))
	if err != nil {
		s.logger.Error().Err(err).Msg("querying messages")
		httpx.Fail(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	httpx.OK(w, map[string]any{"messages": messages}, "messages loaded")
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	user := r.URL.Query().Get("user")
	if user == "" {
		httpx.Fail(w, http.StatusBadRequest, "user is required")
		return
	}

	messages, err := s.store.UserHistory(user, queryLimit(r, 100))
	if err != nil {
		s.logger.Error().Err(err).Msg("querying history")
		httpx.Fail(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	httpx.OK(w, map[string]any{"messages": messages}, "history loaded")
}

type markReadRequest struct {
	Receiver string `json:"receiver"`
	Sender   string `json:"sender"`
}

func (s *Service) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req markReadRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Receiver == "" || req.Sender == "" {
		httpx.Fail(w, http.StatusBadRequest, "receiver and sender are required")
		return
	}

	if err := s.store.MarkMessagesRead(req.Receiver, req.Sender); err != nil {
		s.logger.Error().Err(err).Msg("marking messages read")
		httpx.Fail(w, http.StatusInternalServerError, "failed to mark messages read")
		return
	}
	httpx.OK(w, nil, "messages marked read")
}

func (s *Service) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	user := r.URL.Query().Get("user")
	if user == "" {
		httpx.Fail(w, http.StatusBadRequest, "user is required")
		return
	}

	count, err := s.store.UnreadCount(user)
	if err != nil {
		s.logger.Error().Err(err).Msg("counting unread messages")
		httpx.Fail(w, http.StatusInternalServerError, "failed to count unread messages")
		return
	}
	httpx.OK(w, map[string]any{"count": count}, "unread count loaded")
}

func (s *Service) handleOnline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	httpx.OK(w, map[string]any{"users": s.reg.Snapshot()}, "online users loaded")
}

func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}
