package notify

import (
	"encoding/json"
	"errors"

	"github.com/nexuschat/nexus/internal/ws"
)

// frame is the inbound /ws/notification message shape. The first frame
// carries the user identity; after that the client can heartbeat, mark
// notifications read, and query or fetch its backlog.
type frame struct {
	UserID         string `json:"user_id"`
	Action         string `json:"action"`
	NotificationID int64  `json:"notification_id"`
}

type protocol struct {
	svc *Service
}

func (p *protocol) Identify(raw []byte) (string, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", errors.New("malformed identity frame")
	}
	if f.UserID == "" {
		return "", errors.New("first frame must carry user_id")
	}
	return f.UserID, nil
}

func (p *protocol) HandleFrame(c *ws.Client, raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		_ = c.Send(ws.ErrorFrame("malformed frame"))
		return
	}

	switch f.Action {
	case "ping":
		_ = c.Send(ws.PongFrame())

	case "mark_read":
		if f.NotificationID == 0 {
			_ = c.Send(ws.ErrorFrame("mark_read requires notification_id"))
			return
		}
		if err := p.svc.store.MarkNotificationRead(c.Identity(), f.NotificationID); err != nil {
			p.svc.logger.Error().Err(err).Msg("marking notification read")
			_ = c.Send(ws.ErrorFrame("failed to mark notification read"))
			return
		}
		_ = c.SendJSON(map[string]any{
			"kind":            "ack",
			"action":          "mark_read",
			"notification_id": f.NotificationID,
		})

	case "get_unread_count":
		count, err := p.svc.store.UnreadNotificationCount(c.Identity())
		if err != nil {
			p.svc.logger.Error().Err(err).Msg("counting unread notifications")
			_ = c.Send(ws.ErrorFrame("failed to count unread notifications"))
			return
		}
		_ = c.SendJSON(map[string]any{"kind": "unread_count", "count": count})

	case "fetch":
		notifications, err := p.svc.store.Notifications(c.Identity(), 50, 0)
		if err != nil {
			p.svc.logger.Error().Err(err).Msg("fetching notifications")
			_ = c.Send(ws.ErrorFrame("failed to fetch notifications"))
			return
		}
		_ = c.SendJSON(map[string]any{"kind": "notifications", "notifications": notifications})

	default:
		_ = c.Send(ws.ErrorFrame("unknown action"))
	}
}
