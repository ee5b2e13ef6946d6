package rtc

import (
	"encoding/json"
	"errors"

	"github.com/nexuschat/nexus/internal/store"
	"github.com/nexuschat/nexus/internal/ws"
)

// statusForEvent maps call-control frame types to session transitions.
// Every other frame type (offer, answer, ice_candidate, ...) is opaque
// signaling and passes through untouched.
var statusForEvent = map[string]string{
	"call_accepted": store.CallAccepted,
	"call_rejected": store.CallRejected,
	"call_ended":    store.CallEnded,
}

type protocol struct {
	svc *Service
}

func (p *protocol) Identify(raw []byte) (string, error) {
	var f struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", errors.New("malformed identity frame")
	}
	if f.UserID == "" {
		return "", errors.New("first frame must carry user_id")
	}
	return f.UserID, nil
}

// HandleFrame forwards a signaling frame to its target peer. Frames are
// kept verbatim except for a stamped from and timestamp, so SDP offers and
// ICE candidates round-trip byte-for-byte inside their fields.
func (p *protocol) HandleFrame(c *ws.Client, raw []byte) {
	var f map[string]any
	if err := json.Unmarshal(raw, &f); err != nil {
		_ = c.Send(ws.ErrorFrame("malformed frame"))
		return
	}

	if event, ok := f["type"].(string); ok {
		if status, controls := statusForEvent[event]; controls {
			p.recordTransition(c, f, status)
		}
	}

	target := firstString(f, "target_id", "callee", "caller")
	if target == "" {
		_ = c.Send(ws.ErrorFrame("frame carries no target_id, callee, or caller"))
		return
	}

	f["from"] = c.Identity()
	f["timestamp"] = p.svc.now().UnixMilli()

	payload, err := json.Marshal(f)
	if err != nil {
		_ = c.Send(ws.ErrorFrame("failed to encode frame"))
		return
	}

	delivered, err := p.svc.dispatcher.Deliver(target, payload)
	if err != nil {
		_ = c.Send(ws.ErrorFrame("peer connection lost"))
		return
	}
	if !delivered {
		_ = c.Send(ws.ErrorFrame("peer is not connected"))
	}
}

// recordTransition applies a call-control frame's status to the session
// store. Forwarding proceeds even when the record is missing; signaling
// must not stall on persistence.
func (p *protocol) recordTransition(c *ws.Client, f map[string]any, status string) {
	sessionID, _ := f["session_id"].(string)
	if sessionID == "" {
		return
	}
	if _, err := p.svc.store.UpdateVideoSessionStatus(sessionID, status); err != nil {
		p.svc.logger.Warn().Err(err).
			Str("session_id", sessionID).
			Str("status", status).
			Str("from", c.Identity()).
			Msg("recording call transition")
	}
}

func firstString(f map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := f[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
