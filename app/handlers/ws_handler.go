// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/amirphl/orgsync/app/dto"
	"github.com/amirphl/orgsync/app/middleware"
	"github.com/amirphl/orgsync/app/ws"
	businessflow "github.com/amirphl/orgsync/business_flow"
	"github.com/amirphl/orgsync/config"
	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// WebSocketHandlerInterface defines the contract for the websocket endpoint
type WebSocketHandlerInterface interface {
	Upgrade(c fiber.Ctx) error
}

// WebSocketHandler upgrades HTTP requests and hands each connection to a session
type WebSocketHandler struct {
	upgrader   *websocket.FastHTTPUpgrader
	dispatcher *ws.Dispatcher
	registry   *ws.Registry
	cfg        config.WebSocketConfig
	baseCtx    context.Context
	logger     *zap.Logger
}

// NewWebSocketHandler creates the websocket handler. Sessions are cancelled when baseCtx is.
func NewWebSocketHandler(
	baseCtx context.Context,
	dispatcher *ws.Dispatcher,
	registry *ws.Registry,
	cfg config.WebSocketConfig,
	allowedOrigins []string,
	logger *zap.Logger,
) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{
		upgrader: &websocket.FastHTTPUpgrader{
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      originChecker(allowedOrigins),
		},
		dispatcher: dispatcher,
		registry:   registry,
		cfg:        cfg,
		baseCtx:    baseCtx,
		logger:     logger,
	}
}

// Upgrade handles GET on the websocket path
func (h *WebSocketHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.FastHTTPIsWebSocketUpgrade(c.RequestCtx()) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(dto.APIResponse{
			Success: false,
			Message: "This endpoint only accepts websocket connections",
			Error:   dto.ErrorDetail{Code: "UPGRADE_REQUIRED"},
		})
	}

	// The fiber context is recycled once the handler returns; copy what the session needs.
	metadata := businessflow.NewClientMetadata(strings.Clone(c.IP()), strings.Clone(c.Get("User-Agent")))
	credential, _ := c.Locals(middleware.LocalCredential).(string)
	credential = strings.Clone(credential)

	err := h.upgrader.Upgrade(c.RequestCtx(), func(conn *websocket.Conn) {
		session := ws.NewSession(conn, h.dispatcher, h.registry, h.cfg, metadata, h.logger)
		session.Preauthenticate(credential)
		session.Run(h.baseCtx)
	})
	if err != nil {
		// the upgrader has already written the error response
		h.logger.Debug("websocket upgrade rejected",
			zap.String("ip_address", metadata.IPAddress),
			zap.String("origin", string(c.RequestCtx().Request.Header.Peek("Origin"))),
			zap.Error(err),
		)
	}
	return nil
}

// originChecker allows requests without an Origin header (non-browser clients),
// any listed origin, or everything when "*" is listed
func originChecker(allowed []string) func(ctx *fasthttp.RequestCtx) bool {
	wildcard := false
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "" {
			continue
		}
		if o == "*" {
			wildcard = true
		}
		set[o] = struct{}{}
	}

	return func(ctx *fasthttp.RequestCtx) bool {
		origin := strings.ToLower(strings.TrimRight(string(ctx.Request.Header.Peek("Origin")), "/"))
		if origin == "" || wildcard {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
