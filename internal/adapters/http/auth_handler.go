package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sapling/core/internal/application/services"
	"github.com/sapling/core/internal/infrastructure/logger"
	"github.com/sapling/core/internal/ports"
)

// AuthHandler handles authentication-related requests
type AuthHandler struct {
	authService *services.AuthService
	logger      *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *services.AuthService, logger *logger.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// Register handles account registration
// @Summary Register an account
// @Tags auth
// @Accept json
// @Produce json
// @Param request body ports.RegisterRequest true "Credentials"
// @Success 201 {object} ports.AuthResponse
// @Failure 400 {object} ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(c echo.Context) error {
	var req ports.RegisterRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	response, err := h.authService.Register(c.Request().Context(), req)
	if err != nil {
		h.logger.Warnw("Registration failed", "error", err, "email", req.Email)
		return toHTTPError(err)
	}

	return c.JSON(http.StatusCreated, response)
}

// Login handles account login
// @Summary Log in
// @Tags auth
// @Accept json
// @Produce json
// @Param request body ports.LoginRequest true "Credentials"
// @Success 200 {object} ports.AuthResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req ports.LoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	response, err := h.authService.Login(c.Request().Context(), req)
	if err != nil {
		h.logger.Warnw("Login failed", "error", err, "email", req.Email)
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, response)
}

// DeleteAccount removes the caller's account and all of its data
// @Summary Delete the current account
// @Tags auth
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /account [delete]
func (h *AuthHandler) DeleteAccount(c echo.Context) error {
	accountID := accountIDFromContext(c)

	if err := h.authService.DeleteAccount(c.Request().Context(), accountID); err != nil {
		h.logger.Errorw("Delete account failed", "error", err, "account_id", accountID)
		return toHTTPError(err)
	}

	return c.NoContent(http.StatusNoContent)
}
