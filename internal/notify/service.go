// Package notify implements the notification service: persisted
// notifications with a live push channel at /ws/notification. A saved
// notification is pushed to the recipient's connection when one exists;
// offline users pick it up through the list endpoint.
package notify

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

// NotificationStore is the slice of the persistence gateway the
// notification service consumes.
type NotificationStore interface {
	SaveNotification(user, content, ntype, title string, ts int64) (int64, error)
	Notifications(user string, limit, offset int) ([]store.Notification, error)
	MarkNotificationRead(user string, id int64) error
	UnreadNotificationCount(user string) (int, error)
}

// Service owns the notification channel registry and its HTTP surface.
type Service struct {
	store      NotificationStore
	reg        *registry.Registry
	dispatcher *relay.Dispatcher
	endpoint   *ws.Endpoint
	logger     zerolog.Logger
}

// NewService wires a notification service over the given store.
func NewService(st NotificationStore, opts ws.Options, logger zerolog.Logger) *Service {
	logger = logger.With().Str("service", "notify").Logger()
	reg := registry.New(registry.Notification, logger)

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

// Registry exposes the channel registry.
func (s *Service) Registry() *registry.Registry {
	return s.reg
}

// Routes returns the service mux.
func (s *Service) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/notifications/send", s.handleSend)
	mux.HandleFunc("/api/v1/notifications", s.handleList)
	mux.HandleFunc("/api/v1/mark-read", s.handleMarkRead)
	mux.HandleFunc("/api/v1/unread-count", s.handleUnreadCount)
	mux.Handle("/ws/notification", s.endpoint)
	return mux
}

type sendRequest struct {
	User    string `json:"user"`
	Content string `json:"content"`
	Type    string `json:"type"`
	Title   string `json:"title"`
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
	if req.User == "" || req.Content == "" {
		httpx.Fail(w, http.StatusBadRequest, "user and content are required")
		return
	}

	ts := time.Now().UnixMilli()
	id, err := s.store.SaveNotification(req.User, req.Content, req.Type, req.Title, ts)
	if err != nil {
		s.logger.Error().Err(err).Msg("saving notification")
		httpx.Fail(w, http.StatusInternalServerError, "failed to save notification")
		return
	}

	// Push is decoupled from the request through the dispatcher queue; the
	// HTTP caller never waits on connection I/O.
	if msg, err := relay.NewMessage(relay.KindNotification, "", store.Notification{
		ID:        id,
		User:      req.User,
		Content:   req.Content,
		Type:      req.Type,
		Title:     req.Title,
		Timestamp: ts,
	}); err == nil {
		s.dispatcher.EnqueueMessage(req.User, msg)
	}

	httpx.OK(w, map[string]any{"notification_id": id}, "notification sent")
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	user := r.URL.Query().Get("user")
	if user == "" {
		httpx.Fail(w, http.StatusBadRequest, "user is required")
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	notifications, err := s.store.Notifications(user, limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Msg("querying notifications")
		httpx.Fail(w, http.StatusInternalServerError, "failed to load notifications")
		return
	}
	httpx.OK(w, map[string]any{"notifications": notifications}, "notifications loaded")
}

type markReadRequest struct {
	User           string `json:"user"`
	NotificationID int64  `json:"notification_id"`
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
	if req.User == "" || req.NotificationID == 0 {
		httpx.Fail(w, http.StatusBadRequest, "user and notification_id are required")
		return
	}

	if err := s.store.MarkNotificationRead(req.User, req.NotificationID); err != nil {
		s.logger.Error().Err(err).Msg("marking notification read")
		httpx.Fail(w, http.StatusInternalServerError, "failed to mark notification read")
		return
	}
	httpx.OK(w, nil, "notification marked read")
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

	count, err := s.store.UnreadNotificationCount(user)
	if err != nil {
		s.logger.Error().Err(err).Msg("counting unread notifications")
		httpx.Fail(w, http.StatusInternalServerError, "failed to count unread notifications")
		return
	}
	httpx.OK(w, map[string]any{"count": count}, "unread count loaded")
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
