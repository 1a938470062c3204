package handlers

import (
	"net/mail"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/user-service/internal/auth"
	apperrors "github.com/spec-kit/user-service/pkg/util/errorutil"
)

const minPasswordLength = 8

// fieldErrors collects per-field validation messages.
type fieldErrors map[string]any

func (f fieldErrors) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		f[field] = "required"
	}
}

func (f fieldErrors) email(field, value string) {
	if strings.TrimSpace(value) == "" {
		f[field] = "required"
		return
	}
	if _, err := mail.ParseAddress(value); err != nil {
		f[field] = "invalid email"
	}
}

func (f fieldErrors) password(field, value string) {
	if len(value) < minPasswordLength {
		f[field] = "must be at least 8 characters"
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return apperrors.NewValidationError("invalid request", f)
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return nil
}

func currentPrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("unauthorized")
	}
	return principal, nil
}
