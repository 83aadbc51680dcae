package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fitparty/middleware"
	"fitparty/models"
	"fitparty/services"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	localPartyID = "stream_party_id"
	localFrom    = "stream_from"

	wsWriteWait = 10 * time.Second
)

// feedMessage is one WebSocket frame.
type feedMessage struct {
	Type  string             `json:"type"`
	Event *models.PartyEvent `json:"event,omitempty"`
}

func (h *PartyHandler) interval() time.Duration {
	if h.FollowInterval > 0 {
		return h.FollowInterval
	}
	return services.DefaultFollowInterval
}

func (h *PartyHandler) baseContext() context.Context {
	if h.BaseContext != nil {
		return h.BaseContext
	}
	return context.Background()
}

// Stream pushes the party feed as server-sent events. Each event is written as
// `event: party_event` with the JSON row as data; an empty tick writes a comment
// so proxies keep the connection open and a dead client is noticed on flush.
func (h *PartyHandler) Stream(c *fiber.Ctx) error {
	party, err := h.Parties.GetByCode(c.UserContext(), c.Params("code"))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	from, err := eventQuery(c)
	if err != nil {
		return writeError(c, h.Log, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	partyID, userID := party.ID, middleware.UserID(c)
	base, interval := h.baseContext(), h.interval()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(base)
		defer cancel()

		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		err := h.Parties.Follow(ctx, partyID, from, interval, func(events []models.PartyEvent) error {
			if len(events) == 0 {
				w.WriteString(":\n\n")
			}
			for i := range events {
				payload, err := json.Marshal(events[i])
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "id: %d\nevent: party_event\ndata: %s\n\n", events[i].ID, payload)
			}
			return w.Flush()
		})
		h.Log.Debug("sse stream closed",
			zap.String("party_id", partyID),
			zap.String("user_id", userID),
			zap.Error(err))
	})
	return nil
}

// UpgradeWebSocket resolves the party before the handshake so a bad code still gets
// a normal HTTP error.
func (h *PartyHandler) UpgradeWebSocket(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	party, err := h.Parties.GetByCode(c.UserContext(), c.Params("code"))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	from, err := eventQuery(c)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	c.Locals(localPartyID, party.ID)
	c.Locals(localFrom, from)
	return c.Next()
}

// WebSocket pushes the party feed as JSON frames of {type: "party_event", event}.
// Idle ticks send a ping. Anything the client sends is ignored; a read error means
// it went away.
func (h *PartyHandler) WebSocket() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		partyID, _ := conn.Locals(localPartyID).(string)
		from, _ := conn.Locals(localFrom).(services.EventQuery)

		ctx, cancel := context.WithCancel(h.baseContext())
		defer cancel()

		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		err := h.Parties.Follow(ctx, partyID, from, h.interval(), func(events []models.PartyEvent) error {
			deadline := time.Now().Add(wsWriteWait)
			if len(events) == 0 {
				return conn.WriteControl(websocket.PingMessage, nil, deadline)
			}
			if err := conn.SetWriteDeadline(deadline); err != nil {
				return err
			}
			for i := range events {
				if err := conn.WriteJSON(feedMessage{Type: "party_event", Event: &events[i]}); err != nil {
					return err
				}
			}
			return nil
		})
		h.Log.Debug("websocket closed", zap.String("party_id", partyID), zap.Error(err))
	})
}
