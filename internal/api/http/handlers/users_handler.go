package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/user-service/internal/api/dto"
	"github.com/spec-kit/user-service/internal/service"
)

// UsersHandler exposes account self-service and the admin directory.
type UsersHandler struct {
	users *service.UserService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(userService *service.UserService) *UsersHandler {
	return &UsersHandler{users: userService}
}

// Me handles GET /users/me.
func (h *UsersHandler) Me(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	user, err := h.users.Profile(c.UserContext(), principal.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// UpdateMe handles PATCH /users/me.
func (h *UsersHandler) UpdateMe(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}

	var req dto.UpdateProfileRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	errs := fieldErrors{}
	if req.FirstName != nil {
		errs.required("first_name", *req.FirstName)
	}
	if req.LastName != nil {
		errs.required("last_name", *req.LastName)
	}
	if req.Email != nil {
		errs.email("email", *req.Email)
	}
	if err := errs.err(); err != nil {
		return err
	}

	user, err := h.users.UpdateProfile(c.UserContext(), principal.UserID, service.UpdateProfileInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// DeleteMe handles DELETE /users/me.
func (h *UsersHandler) DeleteMe(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	if err := h.users.DeleteAccount(c.UserContext(), principal); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// List handles GET /users?limit=&offset=.
func (h *UsersHandler) List(c *fiber.Ctx) error {
	limit, offset := service.ClampPage(c.QueryInt("limit", service.DefaultPageSize), c.QueryInt("offset", 0))

	users, total, err := h.users.List(c.UserContext(), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserListResponse(users, total, limit, offset)})
}

// ByNationalID handles GET /users/national-id/:nid.
func (h *UsersHandler) ByNationalID(c *fiber.Ctx) error {
	user, err := h.users.FindByNationalID(c.UserContext(), c.Params("nid"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}
