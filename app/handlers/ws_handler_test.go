package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amirphl/orgsync/app/dto"
	"github.com/amirphl/orgsync/app/middleware"
	"github.com/amirphl/orgsync/app/ws"
	businessflow "github.com/amirphl/orgsync/business_flow"
	"github.com/amirphl/orgsync/config"
	"github.com/amirphl/orgsync/models"
	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

type fakeAuthFlow struct{}

func (fakeAuthFlow) Login(ctx context.Context, req *dto.LoginRequest, metadata *businessflow.ClientMetadata) (*dto.LoginResponse, error) {
	return &dto.LoginResponse{Credential: "issued", TokenType: "Bearer"}, nil
}

func (fakeAuthFlow) Authenticate(ctx context.Context, credential string) (*businessflow.Actor, error) {
	if credential != "issued" {
		return nil, businessflow.NewBusinessError("CREDENTIAL_INVALID", "Credential is invalid", businessflow.ErrCredentialInvalid)
	}
	return &businessflow.Actor{User: &models.User{ID: "admin-1", Role: models.RoleAdmin}}, nil
}

func (fakeAuthFlow) Logout(ctx context.Context, actor *businessflow.Actor, credential string, metadata *businessflow.ClientMetadata) (*dto.LogoutResponse, error) {
	return &dto.LogoutResponse{Revoked: true}, nil
}

func startServer(t *testing.T) (string, *ws.Registry) {
	t.Helper()
	logger := zap.NewNop()
	registry := ws.NewRegistry(logger)
	dispatcher := ws.NewDispatcher(fakeAuthFlow{}, nil, nil, nil, registry, logger)

	ctx, cancel := context.WithCancel(context.Background())
	handler := NewWebSocketHandler(ctx, dispatcher, registry, config.WebSocketConfig{
		IdleTimeout:  5 * time.Second,
		AuthTimeout:  5 * time.Second,
		WriteTimeout: time.Second,
	}, []string{"https://admin.example.com"}, logger)

	app := fiber.New()
	app.Get("/ws", middleware.NewAuthMiddleware(fakeAuthFlow{}).UpgradeAuth(), handler.Upgrade)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true})
	}()
	t.Cleanup(func() {
		cancel()
		registry.CloseAll(websocket.CloseGoingAway, "test done")
		_ = app.Shutdown()
	})
	return "ws://" + ln.Addr().String() + "/ws", registry
}

func readEnvelope(t *testing.T, conn *websocket.Conn) dto.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env dto.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestWebSocketHandler_LoginRoundTrip(t *testing.T) {
	url, registry := startServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"auth.login","data":{"email":"root@example.com","password":"secret"}}`)))
	env := readEnvelope(t, conn)
	assert.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, ws.ActionLogin, env.Action)
	assert.Equal(t, 1, registry.Count())
}

func TestWebSocketHandler_BearerPreauthenticates(t *testing.T) {
	url, _ := startServer(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer issued")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"auth.logout"}`)))
	env := readEnvelope(t, conn)
	assert.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, ws.ActionLogout, env.Action)
}

func TestWebSocketHandler_RejectsForeignOrigin(t *testing.T) {
	url, _ := startServer(t)

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocketHandler_AllowedOrigin(t *testing.T) {
	url, _ := startServer(t)

	header := http.Header{}
	header.Set("Origin", "https://admin.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestWebSocketHandler_PlainRequestNeedsUpgrade(t *testing.T) {
	app := fiber.New()
	handler := NewWebSocketHandler(context.Background(), nil, ws.NewRegistry(nil), config.WebSocketConfig{}, nil, nil)
	app.Get("/ws", handler.Upgrade)

	resp, err := app.Test(httptest.NewRequest("GET", "/ws", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://admin.example.com/", " "})
	wildcard := originChecker([]string{"*"})

	ctx := func(origin string) *fasthttp.RequestCtx {
		var c fasthttp.RequestCtx
		if origin != "" {
			c.Request.Header.Set("Origin", origin)
		}
		return &c
	}

	assert.True(t, check(ctx("")))
	assert.True(t, check(ctx("https://ADMIN.example.com")))
	assert.False(t, check(ctx("https://other.example.com")))
	assert.True(t, wildcard(ctx("https://other.example.com")))
}
