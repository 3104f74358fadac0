package middleware

import (
	"context"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"

	"agrilink/internal/domain/entity"
)

type AuthMiddleware struct {
	authClient  *auth.Client
	environment string
}

// NewAuthMiddleware builds the request authenticator. authClient may be
// nil when running against the embedded store in development; requests
// then authenticate through the X-User-ID header instead.
func NewAuthMiddleware(authClient *auth.Client, environment string) *AuthMiddleware {
	return &AuthMiddleware{
		authClient:  authClient,
		environment: environment,
	}
}

func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if m.authClient == nil || m.environment == "development" {
			if uid := c.Request().Header.Get("X-User-ID"); uid != "" {
				c.Set("uid", uid)
				c.Set("role", devRole(c.Request().Header.Get("X-User-Role")))
				return next(c)
			}
			if m.authClient == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "X-User-ID header is required")
			}
		}

		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header is required")
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization format")
		}

		token, err := m.authClient.VerifyIDToken(c.Request().Context(), parts[1])
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}

		c.Set("uid", token.UID)
		c.Set("role", roleFromClaims(token.Claims))

		return next(c)
	}
}

// ResolveWebSocketUser authenticates a WebSocket upgrade request.
// Browsers cannot set headers on upgrade requests, so the token rides
// in a query parameter instead.
func (m *AuthMiddleware) ResolveWebSocketUser(c echo.Context) (string, string, error) {
	if m.authClient == nil || m.environment == "development" {
		uid := c.Request().Header.Get("X-User-ID")
		if uid == "" {
			uid = c.QueryParam("user_id")
		}
		if uid != "" {
			role := c.Request().Header.Get("X-User-Role")
			if role == "" {
				role = c.QueryParam("role")
			}
			return uid, devRole(role), nil
		}
		if m.authClient == nil {
			return "", "", echo.NewHTTPError(http.StatusUnauthorized, "user_id is required")
		}
	}

	token := c.QueryParam("token")
	if token == "" {
		return "", "", echo.NewHTTPError(http.StatusUnauthorized, "token query parameter is required")
	}

	firebaseToken, err := m.authClient.VerifyIDToken(c.Request().Context(), token)
	if err != nil {
		return "", "", echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
	}
	return firebaseToken.UID, roleFromClaims(firebaseToken.Claims), nil
}

func (m *AuthMiddleware) GetUIDFromToken(ctx context.Context, token string) (string, error) {
	firebaseToken, err := m.authClient.VerifyIDToken(ctx, token)
	if err != nil {
		return "", err
	}

	return firebaseToken.UID, nil
}

func roleFromClaims(claims map[string]interface{}) string {
	if role, ok := claims["role"].(string); ok && role == entity.RoleFarmer {
		return entity.RoleFarmer
	}
	return entity.RoleBuyer
}

func devRole(role string) string {
	if role == entity.RoleFarmer {
		return entity.RoleFarmer
	}
	return entity.RoleBuyer
}
