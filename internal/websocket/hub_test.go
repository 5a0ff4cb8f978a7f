package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"deliveryerp/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "ws-secret"

func signed(t *testing.T, role string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "u-1",
		"role": role,
		"exp":  time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return raw
}

func startServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	middleware.SetJWTSecret(testSecret)

	r := gin.New()
	r.GET("/ws", hub.ServeWs)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
}

func TestHub_PublishReachesClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil)
	go hub.Run(ctx)
	srv := startServer(t, hub)

	conn, _, err := gorilla.DefaultDialer.Dial(wsURL(srv, signed(t, middleware.RoleDispatcher)), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish("order.created", map[string]string{"order_ref": "ORD-260314-ABCDEFGH"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Event string            `json:"event"`
		Data  map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "order.created", msg.Event)
	assert.Equal(t, "ORD-260314-ABCDEFGH", msg.Data["order_ref"])
}

func TestServeWs_Rejections(t *testing.T) {
	hub := NewHub(nil)
	srv := startServer(t, hub)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ws?token=" + signed(t, "courier"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

type recordingRelay struct {
	messages [][]byte
	err      error
}

func (r *recordingRelay) Publish(_ context.Context, message []byte) error {
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, message)
	return nil
}

func TestHub_PublishUsesRelay(t *testing.T) {
	hub := NewHub(nil)
	relay := &recordingRelay{}
	hub.UseRelay(relay)

	hub.Publish("cashbox.updated", map[string]int{"id": 1})
	require.Len(t, relay.messages, 1)
	assert.Len(t, hub.broadcast, 0)

	relay.err = errors.New("redis down")
	hub.Publish("cashbox.updated", map[string]int{"id": 1})
	assert.Len(t, hub.broadcast, 1)
}

func TestHub_StoppedHubClosesConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	srv := startServer(t, hub)
	token := signed(t, middleware.RoleAccountant)

	live, _, err := gorilla.DefaultDialer.Dial(wsURL(srv, token), nil)
	require.NoError(t, err)
	defer live.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	require.NoError(t, live.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = live.ReadMessage()
	assert.True(t, gorilla.IsCloseError(err, gorilla.CloseNoStatusReceived, gorilla.CloseNormalClosure), "got %v", err)

	// late connections are turned away instead of blocking on registration
	late, _, err := gorilla.DefaultDialer.Dial(wsURL(srv, token), nil)
	require.NoError(t, err)
	defer late.Close()
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, gorilla.IsCloseError(err, gorilla.CloseGoingAway), "got %v", err)
	assert.Zero(t, hub.ClientCount())
}
