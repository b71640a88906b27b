package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/typedash/realtime/internal/v1/auth"
	"github.com/typedash/realtime/internal/v1/logging"
	"github.com/typedash/realtime/internal/v1/protocol"
	"github.com/typedash/realtime/internal/v1/types"
)

// extractToken pulls the bearer token from the query string or the
// Authorization header. Browsers cannot set headers on websocket handshakes,
// so the query parameter is the primary path.
func extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// validateOrigin checks the request origin against the allow list. Requests
// without an Origin header pass: non-browser clients do not send one.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		logging.Warn(r.Context(), "invalid origin URL", zap.String("origin", origin), zap.Error(err))
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(r.Context(), "origin not in allowed list",
		zap.String("origin", origin), zap.Strings("allowedOrigins", allowedOrigins))
	return fmt.Errorf("origin not allowed: %s", origin)
}

// identityFromClaims maps verified token claims onto the engine's identity.
func identityFromClaims(claims *auth.CustomClaims) types.Identity {
	role := types.RoleType(claims.Role)
	switch role {
	case types.RoleTypeGuest, types.RoleTypeUser, types.RoleTypeModerator, types.RoleTypeAdmin:
	default:
		role = types.RoleTypeUser
	}
	return types.Identity{
		ID:        types.IdentityID(claims.Subject),
		Username:  types.DisplayName(claims.DisplayName()),
		Role:      role,
		AvatarURL: claims.Avatar,
	}
}

// upgradeWebSocket performs the protocol upgrade.
func upgradeWebSocket(c *gin.Context, allowedOrigins []string) (wsConnection, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to upgrade connection", zap.Error(err))
		return nil, err
	}
	return conn, nil
}

func writeAuthError(c *gin.Context, derr *protocol.DomainError) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"code":  derr.Code,
		"kind":  derr.Kind,
		"error": derr.Message,
	})
}

func writeOriginError(c *gin.Context) {
	c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
}
