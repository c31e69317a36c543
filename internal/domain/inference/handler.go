package inference

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medgate/medgate/pkg/pagination"
)

type Handler struct {
	tracker *Tracker
}

func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/inference", h.Create)
	g.GET("/inference", h.List)
	g.GET("/inference/status/:transactionId", h.Status)
}

func (h *Handler) Create(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.tracker.Add(c.Request().Context(), &req); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return echo.NewHTTPError(http.StatusConflict, "transaction already exists")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) Status(c echo.Context) error {
	req, err := h.tracker.Status(c.Request().Context(), c.Param("transactionId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "inference request not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.tracker.List(c.Request().Context(), pg.Limit(), pg.Offset())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse("/api/v1/inference", pg, total, items))
}
