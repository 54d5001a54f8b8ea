package middleware

import (
	"errors"
	"net/http"
	"strings"

	httpdto "github.com/vibast-solutions/ms-go-accounts/app/dto/http"
	"github.com/vibast-solutions/ms-go-accounts/app/entity"
	"github.com/vibast-solutions/ms-go-accounts/app/service"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const (
	ContextKeyUserID    = "user_id"
	ContextKeyUsername  = "username"
	ContextKeyUserRoles = "user_roles"
)

type accessTokenVerifier interface {
	VerifyAccessToken(tokenString string) (*service.Claims, error)
}

type AuthMiddleware struct {
	tokens accessTokenVerifier
}

func NewAuthMiddleware(tokens accessTokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			logrus.Debug("Missing authorization header")
			return c.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{
				Error: "missing authorization header",
				Code:  "UNAUTHENTICATED",
			})
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			logrus.Debug("Invalid authorization header format")
			return c.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{
				Error: "invalid authorization header format",
				Code:  "UNAUTHENTICATED",
			})
		}

		claims, err := m.tokens.VerifyAccessToken(parts[1])
		if err != nil {
			if errors.Is(err, service.ErrExpiredToken) {
				logrus.Debug("Expired access token")
				return c.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{
					Error: "access token has expired",
					Code:  "TOKEN_EXPIRED",
				})
			}
			logrus.Debug("Invalid access token")
			return c.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{
				Error: "invalid access token",
				Code:  "INVALID_TOKEN",
			})
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyUsername, claims.Username)
		c.Set(ContextKeyUserRoles, claims.UserRoles())

		return next(c)
	}
}

// RequireRole must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(role entity.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !UserRoles(c).Has(role) {
				logrus.WithFields(logrus.Fields{
					"user_id":       UserID(c),
					"required_role": role.String(),
				}).Warn("Role check failed")
				return c.JSON(http.StatusForbidden, httpdto.ErrorResponse{
					Error: "forbidden",
					Code:  "FORBIDDEN",
				})
			}
			return next(c)
		}
	}
}

// UserID returns the authenticated user id, or 0 outside RequireAuth.
func UserID(c echo.Context) uint64 {
	id, _ := c.Get(ContextKeyUserID).(uint64)
	return id
}

func UserRoles(c echo.Context) entity.Roles {
	roles, _ := c.Get(ContextKeyUserRoles).(entity.Roles)
	return roles
}
