// Package rtc implements the video call service: call session lifecycle
// over HTTP and WebRTC signaling relay at /ws/rtc. Signaling frames are
// forwarded between peers verbatim; the service only stamps the sender and
// records call state transitions.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

// CallStore is the slice of the persistence gateway the rtc service
// consumes.
type CallStore interface {
	CreateVideoSession(sessionID, caller, callee string) error
	UpdateVideoSessionStatus(sessionID, status string) (store.VideoSession, error)
	VideoSession(sessionID string) (store.VideoSession, error)
	CallHistory(user string, limit int) ([]store.VideoSession, error)
}

// Service owns the rtc channel registry and its HTTP surface.
type Service struct {
	store      CallStore
	reg        *registry.Registry
	dispatcher *relay.Dispatcher
	endpoint   *ws.Endpoint
	logger     zerolog.Logger
	now        func() time.Time
}

// NewService wires an rtc service over the given store.
func NewService(st CallStore, opts ws.Options, logger zerolog.Logger) *Service {
	logger = logger.With().Str("service", "rtc").Logger()
	reg := registry.New(registry.RTC, logger)

	s := &Service{
		store:      st,
		reg:        reg,
		dispatcher: relay.NewDispatcher(reg, logger),
		logger:     logger,
		now:        time.Now,
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
	mux.HandleFunc("/api/v1/call/initiate", s.handleInitiate)
	mux.HandleFunc("/api/v1/call/accept", s.transitionHandler(store.CallAccepted, "call_accepted"))
	mux.HandleFunc("/api/v1/call/reject", s.transitionHandler(store.CallRejected, "call_rejected"))
	mux.HandleFunc("/api/v1/call/end", s.transitionHandler(store.CallEnded, "call_ended"))
	mux.HandleFunc("/api/v1/call/history", s.handleHistory)
	mux.Handle("/ws/rtc", s.endpoint)
	return mux
}

type initiateRequest struct {
	Caller string `json:"caller"`
	Callee string `json:"callee"`
}

func (s *Service) handleInitiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req initiateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Caller == "" || req.Callee == "" {
		httpx.Fail(w, http.StatusBadRequest, "caller and callee are required")
		return
	}

	sessionID := fmt.Sprintf("%s_%s_%d", req.Caller, req.Callee, s.now().Unix())
	if err := s.store.CreateVideoSession(sessionID, req.Caller, req.Callee); err != nil {
		s.logger.Error().Err(err).Msg("creating video session")
		httpx.Fail(w, http.StatusInternalServerError, "failed to create call session")
		return
	}

	// Ring the callee if a signaling connection exists. An offline callee
	// is not an initiate failure; the caller learns it from callee_online.
	online := s.pushControl(req.Callee, req.Caller, "incoming_call", sessionID)

	httpx.OK(w, map[string]any{
		"session_id":    sessionID,
		"callee_online": online,
	}, "call initiated")
}

type transitionRequest struct {
	SessionID string `json:"session_id"`
	User      string `json:"user"`
}

// transitionHandler builds the accept/reject/end handler for one target
// status. The peer of the acting user is notified best-effort.
func (s *Service) transitionHandler(status, event string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpx.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req transitionRequest
		if err := httpx.Decode(r, &req); err != nil {
			httpx.Fail(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.SessionID == "" {
			httpx.Fail(w, http.StatusBadRequest, "session_id is required")
			return
		}

		session, err := s.store.UpdateVideoSessionStatus(req.SessionID, status)
		if errors.Is(err, store.ErrNotFound) {
			httpx.Fail(w, http.StatusNotFound, "unknown call session")
			return
		}
		if err != nil {
			s.logger.Error().Err(err).Str("session_id", req.SessionID).Msg("updating call session")
			httpx.Fail(w, http.StatusInternalServerError, "failed to update call session")
			return
		}

		if peer := peerOf(session, req.User); peer != "" {
			s.pushControl(peer, req.User, event, session.SessionID)
		}

		httpx.OK(w, map[string]any{"session": session}, "call session updated")
	}
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

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}

	sessions, err := s.store.CallHistory(user, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("querying call history")
		httpx.Fail(w, http.StatusInternalServerError, "failed to load call history")
		return
	}
	httpx.OK(w, map[string]any{"sessions": sessions}, "call history loaded")
}

// pushControl delivers a call-control frame to target's signaling
// connection. Returns whether the frame was delivered.
func (s *Service) pushControl(target, from, event, sessionID string) bool {
	payload, err := json.Marshal(map[string]any{
		"kind":       "signaling",
		"type":       event,
		"session_id": sessionID,
		"from":       from,
		"timestamp":  s.now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	delivered, _ := s.dispatcher.Deliver(target, payload)
	return delivered
}

// peerOf returns the session party that is not user. An empty or unknown
// user falls back to the callee, then the caller.
func peerOf(session store.VideoSession, user string) string {
	switch user {
	case session.Caller:
		return session.Callee
	case session.Callee:
		return session.Caller
	default:
		if session.Callee != "" {
			return session.Callee
		}
		return session.Caller
	}
}
