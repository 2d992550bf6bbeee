package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sapling/core/internal/application/services"
	"github.com/sapling/core/internal/infrastructure/logger"
	"github.com/sapling/core/internal/ports"
)

// TreeHandler handles catalog and owned tree requests
type TreeHandler struct {
	treeService *services.TreeService
	logger      *logger.Logger
}

// NewTreeHandler creates a new tree handler
func NewTreeHandler(treeService *services.TreeService, logger *logger.Logger) *TreeHandler {
	return &TreeHandler{
		treeService: treeService,
		logger:      logger,
	}
}

// GetCatalog lists purchasable trees
// @Summary Tree catalog
// @Tags trees
// @Produce json
// @Success 200 {array} entities.CatalogTree
// @Security BearerAuth
// @Router /trees/catalog [get]
func (h *TreeHandler) GetCatalog(c echo.Context) error {
	return c.JSON(http.StatusOK, h.treeService.Catalog())
}

// ListTrees lists the caller's trees
// @Summary Owned trees
// @Tags trees
// @Produce json
// @Success 200 {array} entities.OwnedTree
// @Security BearerAuth
// @Router /trees [get]
func (h *TreeHandler) ListTrees(c echo.Context) error {
	trees, err := h.treeService.ListOwned(c.Request().Context(), accountIDFromContext(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, trees)
}

// PurchaseTree buys a catalog tree with credits
// @Summary Purchase a tree
// @Tags trees
// @Accept json
// @Produce json
// @Param request body ports.PurchaseTreeRequest true "Purchase"
// @Success 201 {object} ports.PurchaseResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /trees [post]
func (h *TreeHandler) PurchaseTree(c echo.Context) error {
	var req ports.PurchaseTreeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	accountID := accountIDFromContext(c)
	result, err := h.treeService.Purchase(c.Request().Context(), accountID, req)
	if err != nil {
		h.logger.Warnw("Purchase failed", "error", err, "account_id", accountID, "catalog_id", req.CatalogID)
		return toHTTPError(err)
	}

	return c.JSON(http.StatusCreated, result)
}

// RemoveTree deletes an owned tree
// @Summary Remove a tree
// @Tags trees
// @Param id path string true "Tree instance ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /trees/{id} [delete]
func (h *TreeHandler) RemoveTree(c echo.Context) error {
	if err := h.treeService.Remove(c.Request().Context(), accountIDFromContext(c), c.Param("id")); err != nil {
		return toHTTPError(err)
	}

	return c.NoContent(http.StatusNoContent)
}
