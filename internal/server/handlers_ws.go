package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/Kitiphol/TokTik/internal/auth"
	"github.com/Kitiphol/TokTik/internal/logging"
	"github.com/Kitiphol/TokTik/internal/metrics"
	"github.com/Kitiphol/TokTik/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Clients connect from arbitrary frontend origins
	},
}

// bearerToken extracts the credential from the handshake. The browser
// WebSocket API cannot set headers, so the token query parameter is the
// primary location; an Authorization header is honored as a fallback.
func bearerToken(c echo.Context) string {
	if token := c.QueryParam("token"); token != "" {
		return token
	}
	header := c.Request().Header.Get("Authorization")
	if after, found := strings.CutPrefix(header, "Bearer "); found {
		return after
	}
	return ""
}

// handleWebSocket is the session gate: it verifies the bearer token before
// upgrading, registers the session for its whole lifetime, and guarantees
// exactly one unregister on any teardown path.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()
	if !s.connRate.Allow(ip) {
		metrics.HandshakesRejected.WithLabelValues("rate_limited").Inc()
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "TooManyConnections"})
	}

	ctx := logging.WithCorrelationID(c.Request().Context(), logging.NewCorrelationID())

	userID, err := s.verifier.Verify(bearerToken(c))
	if errors.Is(err, auth.ErrMissingToken) {
		metrics.HandshakesRejected.WithLabelValues("missing_token").Inc()
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "MissingToken"})
	}
	if err != nil {
		metrics.HandshakesRejected.WithLabelValues("invalid_token").Inc()
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "InvalidToken"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade WebSocket: %w", err)
	}

	session := relay.NewSession(userID, conn, s.clock)
	if err := s.registry.Add(session); err != nil {
		logging.WithUser(userID).WarnContext(ctx, "Rejecting session", "error", err)
		metrics.HandshakesRejected.WithLabelValues("session_limit").Inc()
		session.Close(websocket.ClosePolicyViolation, err.Error())
		return nil
	}

	logging.WithUser(userID).InfoContext(ctx, "Session connected", "session_id", session.ID().String())

	// Read pump — blocks until the connection closes. Inbound frames only
	// refresh the read deadline; the relay pushes, clients do not request.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.WithUser(userID).DebugContext(ctx, "Session read error", "session_id", session.ID().String(), "error", err)
			}
			break
		}
	}

	s.registry.Remove(session)
	logging.WithUser(userID).InfoContext(ctx, "Session disconnected", "session_id", session.ID().String())

	return nil //nolint:nilerr // ReadMessage err is block-scoped; outer err is nil
}
