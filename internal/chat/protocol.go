package chat

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/nexuschat/nexus/internal/relay"
	"github.com/nexuschat/nexus/internal/ws"
)

// frame is the inbound /ws/chat message shape. The first frame must be a
// register action; everything after that is send, typing, stop_typing, or
// ping.
type frame struct {
	Action  string `json:"action"`
	User    string `json:"user"`
	To      string `json:"to"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type protocol struct {
	svc *Service
}

func (p *protocol) Identify(raw []byte) (string, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", errors.New("malformed register frame")
	}
	if f.Action != "register" || f.User == "" {
		return "", errors.New("first frame must be {action: register, user: <identity>}")
	}
	return f.User, nil
}

func (p *protocol) HandleFrame(c *ws.Client, raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		_ = c.Send(ws.ErrorFrame("malformed frame"))
		return
	}

	switch f.Action {
	case "send":
		p.handleSend(c, f)
	case "typing":
		p.relayIndicator(c, f, relay.KindTyping)
	case "stop_typing":
		p.relayIndicator(c, f, relay.KindStopTyping)
	case "ping":
		_ = c.Send(ws.PongFrame())
	case "register":
		_ = c.Send(ws.ErrorFrame("already registered"))
	default:
		_ = c.Send(ws.ErrorFrame("unknown action"))
	}
}

func (p *protocol) handleSend(c *ws.Client, f frame) {
	if f.To == "" || f.Message == "" {
		_ = c.Send(ws.ErrorFrame("send requires to and message"))
		return
	}

	// Durability first: the message is persisted whether or not the
	// recipient is reachable right now.
	id, err := p.svc.store.SaveMessage(c.Identity(), f.To, f.Message, f.Type, time.Now().UnixMilli())
	if err != nil {
		p.svc.logger.Error().Err(err).Str("sender", c.Identity()).Msg("persisting chat message")
		_ = c.Send(ws.ErrorFrame("failed to save message"))
		return
	}

	delivered := false
	if msg, err := relay.NewMessage(relay.KindChat, c.Identity(), map[string]any{
		"message_id": id,
		"message":    f.Message,
		"type":       f.Type,
	}); err == nil {
		delivered, _ = p.svc.dispatcher.DeliverMessage(f.To, msg)
	}

	_ = c.SendJSON(map[string]any{
		"kind":       "ack",
		"action":     "send",
		"message_id": id,
		"delivered":  delivered,
	})
}

func (p *protocol) relayIndicator(c *ws.Client, f frame, kind relay.Kind) {
	if f.To == "" {
		_ = c.Send(ws.ErrorFrame("indicator requires to"))
		return
	}

	// Typing indicators are relay-only; nothing is persisted and an
	// offline peer simply misses them.
	if msg, err := relay.NewMessage(kind, c.Identity(), nil); err == nil {
		_, _ = p.svc.dispatcher.DeliverMessage(f.To, msg)
	}
}
