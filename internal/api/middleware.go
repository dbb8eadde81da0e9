package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	apperrors "github.com/dani-farcas/autoDocOrganizer/internal/errors"
)

// authMiddleware checks the bearer token when an admin password is
// configured. Websocket clients may pass the token as ?token=.
func (s *Server) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s.config.Security.AdminPassword == "" {
			return c.Next()
		}

		tokenString := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			return apperrors.ErrUnauthorized.WithMessage("missing authorization header")
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.config.Security.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			return apperrors.ErrUnauthorized.WithMessage("invalid token")
		}

		return c.Next()
	}
}

// errorHandler renders every error as {"error": ..., "code": ...}.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	status, code, message := fiber.StatusInternalServerError, "UNKNOWN", "internal error"

	var appErr *apperrors.AppError
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &appErr):
		status = statusFor(appErr.Code)
		code = appErr.Code
		message = appErr.Message
	case errors.As(err, &fiberErr):
		status = fiberErr.Code
		message = fiberErr.Message
	}

	if status >= fiber.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err))
	}

	return c.Status(status).JSON(fiber.Map{"error": message, "code": code})
}

func statusFor(code string) int {
	switch code {
	case apperrors.ErrSourceNotFound.Code, apperrors.ErrNotFound.Code:
		return fiber.StatusNotFound
	case apperrors.ErrAccessDenied.Code, apperrors.ErrForbidden.Code:
		return fiber.StatusForbidden
	case apperrors.ErrLockedResource.Code:
		return fiber.StatusLocked
	case apperrors.ErrExternalService.Code:
		return fiber.StatusBadGateway
	case apperrors.ErrNotConfigured.Code:
		return fiber.StatusServiceUnavailable
	case apperrors.ErrNoText.Code:
		return fiber.StatusUnprocessableEntity
	case apperrors.ErrUnauthorized.Code:
		return fiber.StatusUnauthorized
	case apperrors.ErrBadRequest.Code:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
