package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sapling/core/internal/application/services"
	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/infrastructure/logger"
	"github.com/sapling/core/internal/ports"
)

// ScheduleHandler serves the per-date projection and the credit balance,
// both as plain reads and as server-sent event streams.
type ScheduleHandler struct {
	scheduleService *services.ScheduleService
	ledgerService   *services.LedgerService
	location        *time.Location
	logger          *logger.Logger
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(scheduleService *services.ScheduleService, ledgerService *services.LedgerService, location *time.Location, logger *logger.Logger) *ScheduleHandler {
	if location == nil {
		location = time.UTC
	}
	return &ScheduleHandler{
		scheduleService: scheduleService,
		ledgerService:   ledgerService,
		location:        location,
		logger:          logger,
	}
}

// date resolves the :date path parameter; "today" uses the configured zone.
func (h *ScheduleHandler) date(c echo.Context) string {
	d := c.Param("date")
	if d == "today" {
		return entities.Today(h.location).String()
	}
	return d
}

// GetSchedule handles the task projection for one date
// @Summary Tasks scheduled on a date
// @Tags schedule
// @Produce json
// @Param date path string true "Date (YYYY-MM-DD or today)"
// @Success 200 {object} entities.Schedule
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /schedule/{date} [get]
func (h *ScheduleHandler) GetSchedule(c echo.Context) error {
	schedule, err := h.scheduleService.TasksOnDate(c.Request().Context(), accountIDFromContext(c), h.date(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, schedule)
}

// StreamSchedule pushes the projection after every task change
// @Summary Stream the projection for a date
// @Tags schedule
// @Produce text/event-stream
// @Param date path string true "Date (YYYY-MM-DD or today)"
// @Security BearerAuth
// @Router /schedule/{date}/stream [get]
func (h *ScheduleHandler) StreamSchedule(c echo.Context) error {
	accountID := accountIDFromContext(c)

	feed, err := h.scheduleService.Watch(c.Request().Context(), accountID, h.date(c))
	if err != nil {
		return toHTTPError(err)
	}

	h.logger.Debugw("Schedule stream opened", "account_id", accountID)
	return stream(c, feed, "schedule", func(s *entities.Schedule) *entities.Schedule { return s })
}

// GetBalance handles the committed credit balance
// @Summary Credit balance
// @Tags credits
// @Produce json
// @Success 200 {object} ports.BalanceResponse
// @Security BearerAuth
// @Router /credits [get]
func (h *ScheduleHandler) GetBalance(c echo.Context) error {
	ledger, err := h.ledgerService.Balance(c.Request().Context(), accountIDFromContext(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, balanceResponse(ledger))
}

// StreamBalance pushes the committed balance after every ledger change
// @Summary Stream the credit balance
// @Tags credits
// @Produce text/event-stream
// @Security BearerAuth
// @Router /credits/stream [get]
func (h *ScheduleHandler) StreamBalance(c echo.Context) error {
	feed, err := h.ledgerService.Watch(c.Request().Context(), accountIDFromContext(c))
	if err != nil {
		return toHTTPError(err)
	}

	return stream(c, feed, "balance", balanceResponse)
}

func balanceResponse(l *entities.Ledger) ports.BalanceResponse {
	return ports.BalanceResponse{Credits: l.Credits, CompletedTasks: l.CompletedTasks}
}
