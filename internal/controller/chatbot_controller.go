package controller

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/dto"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/serverutils"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/service"
	internalWS "github.com/CircularBioeconomyAlliance/coffee-recipe/internal/websocket"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/document"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/store"
)

type IChatbotController interface {
	RegisterRoutes(r fiber.Router)
	Turn(ctx *fiber.Ctx) error
	Upload(ctx *fiber.Ctx) error
	GetSession(ctx *fiber.Ctx) error
	DeleteSession(ctx *fiber.Ctx) error
	SetField(ctx *fiber.Ctx) error
	GetRecommendations(ctx *fiber.Ctx) error
	ServeWs(ctx *fiber.Ctx) error
}

type chatbotController struct {
	conversationService service.IConversationService
	hub                 *internalWS.Hub
	maxFrameBytes       int64
	logger              logger.ILogger
}

// NewChatbotController wires the conversation endpoints. hub may be nil, in
// which case the websocket route answers 503.
func NewChatbotController(conversationService service.IConversationService, hub *internalWS.Hub, maxFrameBytes int64, log logger.ILogger) IChatbotController {
	return &chatbotController{
		conversationService: conversationService,
		hub:                 hub,
		maxFrameBytes:       maxFrameBytes,
		logger:              log,
	}
}

func (c *chatbotController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/chat/v1")
	h.Post("turn", c.Turn)
	h.Post("upload", c.Upload)
	h.Get("sessions/:id", c.GetSession)
	h.Delete("sessions/:id", c.DeleteSession)
	h.Patch("sessions/:id/profile", c.SetField)
	h.Get("recommendations", c.GetRecommendations)
	h.Get("ws", c.ServeWs)
}

// Turn answers with the turn response itself; a failed turn is still a
// 200 carrying status "error".
func (c *chatbotController) Turn(ctx *fiber.Ctx) error {
	var req dto.TurnRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(&req); err != nil {
		return err
	}
	if actor := serverutils.ActorFromCtx(ctx); actor != "" {
		req.ActorID = actor
	}

	return ctx.JSON(c.conversationService.ProcessTurn(ctx.UserContext(), &req))
}

func (c *chatbotController) Upload(ctx *fiber.Ctx) error {
	req := &dto.UploadRequest{
		// fiber reuses the body buffer once the handler returns
		Data:      append([]byte(nil), ctx.Body()...),
		Base64:    isBase64(ctx),
		Filename:  ctx.Query("filename"),
		SessionID: ctx.Query("session_id"),
		ActorID:   c.actor(ctx),
	}

	res, err := c.conversationService.ProcessUpload(ctx.UserContext(), req)
	if err != nil {
		return mapError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Document processed", res))
}

func (c *chatbotController) GetSession(ctx *fiber.Ctx) error {
	actorID, err := c.requireActor(ctx)
	if err != nil {
		return err
	}

	res, err := c.conversationService.GetSession(ctx.UserContext(), actorID, ctx.Params("id"))
	if err != nil {
		return mapError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get session", res))
}

func (c *chatbotController) DeleteSession(ctx *fiber.Ctx) error {
	actorID, err := c.requireActor(ctx)
	if err != nil {
		return err
	}

	if err := c.conversationService.DeleteSession(ctx.UserContext(), actorID, ctx.Params("id")); err != nil {
		return mapError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Session deleted", nil))
}

func (c *chatbotController) SetField(ctx *fiber.Ctx) error {
	actorID, err := c.requireActor(ctx)
	if err != nil {
		return err
	}

	var req dto.SetFieldRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(&req); err != nil {
		return err
	}

	res, err := c.conversationService.SetField(ctx.UserContext(), actorID, ctx.Params("id"), &req)
	if err != nil {
		return mapError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Profile updated", res))
}

func (c *chatbotController) GetRecommendations(ctx *fiber.Ctx) error {
	actorID, err := c.requireActor(ctx)
	if err != nil {
		return err
	}
	sessionID := ctx.Query("session_id")
	if sessionID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "session_id is required")
	}

	res, err := c.conversationService.GetRecommendations(ctx.UserContext(), actorID, sessionID)
	if err != nil {
		return mapError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get recommendations", res))
}

// ServeWs upgrades to the turn socket. The actor comes from the bearer
// token when there is one, else from ?actor_id=.
func (c *chatbotController) ServeWs(ctx *fiber.Ctx) error {
	if c.hub == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "Websocket transport is disabled")
	}
	actorID, err := c.requireActor(ctx)
	if err != nil {
		return err
	}
	if !websocket.IsWebSocketUpgrade(ctx) {
		return fiber.ErrUpgradeRequired
	}

	return websocket.New(func(conn *websocket.Conn) {
		c.logger.Info("WS", "Starting websocket session", map[string]interface{}{"actor_id": actorID})
		internalWS.ServeWs(c.hub, conn, actorID, c.conversationService, c.maxFrameBytes)
		c.logger.Info("WS", "Websocket session ended", map[string]interface{}{"actor_id": actorID})
	})(ctx)
}

func (c *chatbotController) actor(ctx *fiber.Ctx) string {
	if actor := serverutils.ActorFromCtx(ctx); actor != "" {
		return actor
	}
	return strings.TrimSpace(ctx.Query("actor_id"))
}

func (c *chatbotController) requireActor(ctx *fiber.Ctx) (string, error) {
	actor := c.actor(ctx)
	if actor == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, "actor_id is required")
	}
	return actor, nil
}

func isBase64(ctx *fiber.Ctx) bool {
	return strings.EqualFold(ctx.Query("encoding"), "base64") ||
		strings.EqualFold(ctx.Get("Content-Transfer-Encoding"), "base64")
}

// mapError turns service errors into HTTP status codes.
func mapError(err error) error {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Session not found")
	case errors.Is(err, document.ErrTooLarge):
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, err.Error())
	case service.IsValidationError(err):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return err
}
