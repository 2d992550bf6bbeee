package http

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/sapling/core/internal/application/services"
	"github.com/sapling/core/internal/infrastructure/logger"
	"github.com/sapling/core/internal/ports"
)

// FriendHandler handles friend directory requests
type FriendHandler struct {
	friendService *services.FriendService
	logger        *logger.Logger
}

// NewFriendHandler creates a new friend handler
func NewFriendHandler(friendService *services.FriendService, logger *logger.Logger) *FriendHandler {
	return &FriendHandler{
		friendService: friendService,
		logger:        logger,
	}
}

func emailParam(c echo.Context) string {
	raw := c.Param("email")
	if email, err := url.PathUnescape(raw); err == nil {
		return email
	}
	return raw
}

// ListFriends lists followed emails
// @Summary Followed accounts
// @Tags friends
// @Produce json
// @Success 200 {object} ports.FriendListResponse
// @Security BearerAuth
// @Router /friends [get]
func (h *FriendHandler) ListFriends(c echo.Context) error {
	friends, err := h.friendService.ListFollowing(c.Request().Context(), accountIDFromContext(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, ports.FriendListResponse{Following: friends})
}

// Follow adds an account to the caller's friends
// @Summary Follow an account
// @Tags friends
// @Accept json
// @Produce json
// @Param request body ports.FollowRequest true "Email to follow"
// @Success 200 {object} ports.FriendListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /friends [post]
func (h *FriendHandler) Follow(c echo.Context) error {
	var req ports.FollowRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	accountID := accountIDFromContext(c)
	friends, err := h.friendService.Follow(c.Request().Context(), accountID, req.Email)
	if err != nil {
		h.logger.Infow("Follow rejected", "error", err, "account_id", accountID)
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, ports.FriendListResponse{Following: friends})
}

// Unfollow removes an account from the caller's friends
// @Summary Unfollow an account
// @Tags friends
// @Produce json
// @Param email path string true "Email"
// @Success 200 {object} ports.FriendListResponse
// @Security BearerAuth
// @Router /friends/{email} [delete]
func (h *FriendHandler) Unfollow(c echo.Context) error {
	friends, err := h.friendService.Unfollow(c.Request().Context(), accountIDFromContext(c), emailParam(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, ports.FriendListResponse{Following: friends})
}

// GetStats reads a followed account's stats
// @Summary Friend stats
// @Tags friends
// @Produce json
// @Param email path string true "Email"
// @Success 200 {object} entities.AccountStats
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /friends/{email}/stats [get]
func (h *FriendHandler) GetStats(c echo.Context) error {
	stats, err := h.friendService.StatsFor(c.Request().Context(), accountIDFromContext(c), emailParam(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, stats)
}
