// handlers/party.go
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fitparty/middleware"
	"fitparty/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// PartyHandler serves the party API over a PartyService.
type PartyHandler struct {
	Parties *services.PartyService
	Log     *zap.Logger

	// FollowInterval paces the push streams; zero means services.DefaultFollowInterval.
	FollowInterval time.Duration
	// BaseContext ends every open push stream when cancelled (server shutdown).
	BaseContext context.Context
}

func NewPartyHandler(parties *services.PartyService, log *zap.Logger) *PartyHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PartyHandler{
		Parties:     parties,
		Log:         log.Named("http"),
		BaseContext: context.Background(),
	}
}

// RouteConfig carries the auth settings the routes are guarded with.
type RouteConfig struct {
	AuthMode     string
	JWTSecret    string
	GatewayToken string
	Log          *zap.Logger
}

// SetupPartyRoutes mounts the party API. Gateway mode trusts X-User-ID, so it refuses
// to mount without a service token to prove the request came through the gateway.
func SetupPartyRoutes(app *fiber.App, h *PartyHandler, rc RouteConfig) error {
	if rc.AuthMode != "jwt" && rc.GatewayToken == "" {
		return fmt.Errorf("gateway auth mode requires a gateway token")
	}
	if rc.GatewayToken != "" {
		log := rc.Log
		if log == nil {
			log = zap.NewNop()
		}
		app.Use("/parties", middleware.GatewayAuthMiddleware(rc.GatewayToken, log))
	}

	optional := middleware.SessionMiddleware(rc.AuthMode, rc.JWTSecret, false)
	required := middleware.SessionMiddleware(rc.AuthMode, rc.JWTSecret, true)
	stream := middleware.StreamAuthMiddleware(rc.AuthMode, rc.JWTSecret)

	// Public reads, identity optional
	app.Get("/parties", optional, h.GetParties)

	// Push feeds authenticate before the upgrade
	app.Get("/parties/:code/stream", stream, h.Stream)
	app.Get("/parties/:code/ws", stream, h.UpgradeWebSocket, h.WebSocket())

	// Mutations and the feed need a session
	app.Post("/parties", required, h.CreateParty)
	app.Post("/parties/:code/join", required, h.JoinParty)
	app.Delete("/parties/:code/join", required, h.LeaveParty)
	app.Get("/parties/:code/events", required, h.GetEvents)
	app.Post("/parties/:code/events", required, h.AppendEvent)
	app.Patch("/parties/:code", required, h.UpdateStatus)
	app.Delete("/parties/:code", required, h.EndParty)
	return nil
}

// GetParties returns one party when ?code is given, otherwise the open parties.
func (h *PartyHandler) GetParties(c *fiber.Ctx) error {
	if code := c.Query("code"); code != "" {
		party, err := h.Parties.GetByCode(c.UserContext(), code)
		if err != nil {
			return writeError(c, h.Log, err)
		}
		return c.JSON(fiber.Map{"party": party})
	}

	limit, err := queryInt(c, "limit")
	if err != nil {
		return writeError(c, h.Log, err)
	}
	parties, err := h.Parties.ListActive(c.UserContext(), limit)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(fiber.Map{"parties": parties})
}

// createPartyRequest takes max_participants or its camelCase spelling.
type createPartyRequest struct {
	services.CreatePartyInput
	MaxParticipantsCamel int `json:"maxParticipants"`
}

func (h *PartyHandler) CreateParty(c *fiber.Ctx) error {
	var req createPartyRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, h.Log, fmt.Errorf("%w: malformed body", services.ErrValidation))
		}
	}
	in := req.CreatePartyInput
	if in.MaxParticipants == 0 {
		in.MaxParticipants = req.MaxParticipantsCamel
	}

	party, err := h.Parties.CreateParty(c.UserContext(), middleware.UserID(c), in)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"party": party})
}

func (h *PartyHandler) JoinParty(c *fiber.Ctx) error {
	member, err := h.Parties.Join(c.UserContext(), c.Params("code"), middleware.UserID(c))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(fiber.Map{"participant": member})
}

func (h *PartyHandler) LeaveParty(c *fiber.Ctx) error {
	if err := h.Parties.Leave(c.UserContext(), c.Params("code"), middleware.UserID(c)); err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// GetEvents is the polling endpoint: events after the ?since/?after_id cursor plus
// the live roster.
func (h *PartyHandler) GetEvents(c *fiber.Ctx) error {
	q, err := eventQuery(c)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	snap, err := h.Parties.Snapshot(c.UserContext(), c.Params("code"), q)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(snap)
}

// appendEventRequest takes event_type/event_data or eventType/eventData.
type appendEventRequest struct {
	EventType      string          `json:"event_type"`
	EventData      json.RawMessage `json:"event_data"`
	EventTypeCamel string          `json:"eventType"`
	EventDataCamel json.RawMessage `json:"eventData"`
}

func (h *PartyHandler) AppendEvent(c *fiber.Ctx) error {
	var req appendEventRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, h.Log, fmt.Errorf("%w: malformed body", services.ErrValidation))
	}
	if req.EventType == "" {
		req.EventType = req.EventTypeCamel
	}
	if len(req.EventData) == 0 {
		req.EventData = req.EventDataCamel
	}

	ev, err := h.Parties.AppendEvent(c.UserContext(), c.Params("code"), middleware.UserID(c),
		strings.TrimSpace(req.EventType), req.EventData)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"event": ev})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *PartyHandler) UpdateStatus(c *fiber.Ctx) error {
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, h.Log, fmt.Errorf("%w: malformed body", services.ErrValidation))
	}

	party, err := h.Parties.Transition(c.UserContext(), c.Params("code"), middleware.UserID(c),
		strings.ToLower(strings.TrimSpace(req.Status)))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(fiber.Map{"party": party})
}

func (h *PartyHandler) EndParty(c *fiber.Ctx) error {
	if err := h.Parties.EndParty(c.UserContext(), c.Params("code"), middleware.UserID(c)); err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func eventQuery(c *fiber.Ctx) (services.EventQuery, error) {
	var q services.EventQuery
	since, err := parseSince(c.Query("since"))
	if err != nil {
		return q, err
	}
	q.Since = since
	if raw := strings.TrimSpace(c.Query("after_id")); raw != "" {
		if since == nil {
			return q, fmt.Errorf("%w: after_id needs since", services.ErrValidation)
		}
		if q.AfterID, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return q, fmt.Errorf("%w: after_id must be an event id", services.ErrValidation)
		}
	}
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		return q, err
	}
	return q, nil
}

// parseSince accepts RFC 3339 timestamps with or without fractional seconds.
func parseSince(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: since must be an RFC 3339 timestamp", services.ErrValidation)
	}
	t = t.UTC()
	return &t, nil
}

func queryInt(c *fiber.Ctx, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", services.ErrValidation, key)
	}
	return n, nil
}
