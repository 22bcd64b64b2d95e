package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kitiphol/TokTik/internal/auth"
	"github.com/Kitiphol/TokTik/internal/config"
	"github.com/Kitiphol/TokTik/internal/relay"
)

const testSecret = "test-secret"

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:             "test",
		Port:               "0",
		JWTSecret:          testSecret,
		RedisURL:           "redis://localhost:6379",
		FeedChannel:        "notifications",
		MaxSessionsPerUser: 50,
		ConnRatePerSecond:  1000,
		ConnBurst:          1000,
	}
}

// testServer boots the full HTTP surface against a real registry.
// The Redis client is never dialed unless a test hits the readiness probe.
func testServer(t *testing.T, cfg *config.Config) (*httptest.Server, *relay.Registry, *relay.Router) {
	t.Helper()

	clock := clockwork.NewRealClock()
	registry := relay.NewRegistry(cfg.MaxSessionsPerUser)
	t.Cleanup(registry.Stop)
	router := relay.NewRouter(registry, clock)

	redisClient := goredis.NewClient(&goredis.Options{Addr: "localhost:1"})
	t.Cleanup(func() { _ = redisClient.Close() })

	srv := NewServer(cfg, auth.NewVerifier(cfg.JWTSecret), registry, redisClient, clock)
	httpServer := httptest.NewServer(srv.echo)
	t.Cleanup(httpServer.Close)

	return httpServer, registry, router
}

func signToken(t *testing.T, secret, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func wsURL(httpServer *httptest.Server, query string) string {
	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	return url
}

func waitForUserSessions(registry *relay.Registry, userID string, expected int) bool {
	for attempt := 0; attempt < 100; attempt++ {
		if len(registry.SessionsFor(userID)) == expected {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestHandleWebSocket_MissingToken(t *testing.T) {
	httpServer, registry, _ := testServer(t, testConfig())

	_, resp, err := ws.DefaultDialer.Dial(wsURL(httpServer, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "MissingToken", body["error"])

	// No session was created
	users, sessions := registry.Counts()
	assert.Equal(t, 0, users)
	assert.Equal(t, 0, sessions)
}

func TestHandleWebSocket_InvalidToken(t *testing.T) {
	httpServer, registry, _ := testServer(t, testConfig())

	tampered := signToken(t, testSecret, "u1") + "x"
	_, resp, err := ws.DefaultDialer.Dial(wsURL(httpServer, "token="+tampered), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "InvalidToken", body["error"])

	users, _ := registry.Counts()
	assert.Equal(t, 0, users)
}

func TestHandleWebSocket_ExpiredToken(t *testing.T) {
	httpServer, _, _ := testServer(t, testConfig())

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	expired, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, resp, dialErr := ws.DefaultDialer.Dial(wsURL(httpServer, "token="+expired), nil)
	require.Error(t, dialErr)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleWebSocket_ValidTokenAdmitsSession(t *testing.T) {
	httpServer, registry, _ := testServer(t, testConfig())

	conn, _, err := ws.DefaultDialer.Dial(wsURL(httpServer, "token="+signToken(t, testSecret, "u1")), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.True(t, waitForUserSessions(registry, "u1", 1))
	assert.Equal(t, "u1", registry.SessionsFor("u1")[0].UserID())
}

func TestHandleWebSocket_AuthorizationHeaderFallback(t *testing.T) {
	httpServer, registry, _ := testServer(t, testConfig())

	header := http.Header{"Authorization": {"Bearer " + signToken(t, testSecret, "u1")}}
	conn, _, err := ws.DefaultDialer.Dial(wsURL(httpServer, ""), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.True(t, waitForUserSessions(registry, "u1", 1))
}

func TestHandleWebSocket_DisconnectRemovesSession(t *testing.T) {
	httpServer, registry, _ := testServer(t, testConfig())

	conn, _, err := ws.DefaultDialer.Dial(wsURL(httpServer, "token="+signToken(t, testSecret, "u1")), nil)
	require.NoError(t, err)
	require.True(t, waitForUserSessions(registry, "u1", 1))

	conn.Close()
	require.True(t, waitForUserSessions(registry, "u1", 0))

	users, _ := registry.Counts()
	assert.Equal(t, 0, users)
}

func TestHandleWebSocket_EndToEndDelivery(t *testing.T) {
	httpServer, registry, router := testServer(t, testConfig())

	connA, _, err := ws.DefaultDialer.Dial(wsURL(httpServer, "token="+signToken(t, testSecret, "u1")), nil)
	require.NoError(t, err)
	t.Cleanup(func() { connA.Close() })
	connB, _, err := ws.DefaultDialer.Dial(wsURL(httpServer, "token="+signToken(t, testSecret, "u1")), nil)
	require.NoError(t, err)
	t.Cleanup(func() { connB.Close() })
	require.True(t, waitForUserSessions(registry, "u1", 2))

	router.Route(relay.Envelope{
		To:   "u1",
		Type: "notification",
		Data: json.RawMessage(`{"message":"hi"}`),
	})

	for _, conn := range []*ws.Conn{connA, connB} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)

		var frame struct {
			Event string         `json:"event"`
			Data  map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &frame))
		assert.Equal(t, "notification", frame.Event)
		assert.Equal(t, "hi", frame.Data["message"])
		assert.NotEmpty(t, frame.Data["createdAt"])
	}
}

func TestHandleWebSocket_SessionLimitClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessionsPerUser = 1
	httpServer, registry, _ := testServer(t, cfg)

	first, _, err := ws.DefaultDialer.Dial(wsURL(httpServer, "token="+signToken(t, testSecret, "u1")), nil)
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })
	require.True(t, waitForUserSessions(registry, "u1", 1))

	second, _, err := ws.DefaultDialer.Dial(wsURL(httpServer, "token="+signToken(t, testSecret, "u1")), nil)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	second.SetReadDeadline(time.Now().Add(time.Second))
	_, _, readErr := second.ReadMessage()
	var closeErr *ws.CloseError
	require.ErrorAs(t, readErr, &closeErr)
	assert.Equal(t, ws.ClosePolicyViolation, closeErr.Code)
	assert.Len(t, registry.SessionsFor("u1"), 1)
}

func TestHandleWebSocket_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.ConnRatePerSecond = 1
	cfg.ConnBurst = 1
	httpServer, _, _ := testServer(t, cfg)

	conn, _, err := ws.DefaultDialer.Dial(wsURL(httpServer, "token="+signToken(t, testSecret, "u1")), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, resp, err := ws.DefaultDialer.Dial(wsURL(httpServer, "token="+signToken(t, testSecret, "u1")), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
