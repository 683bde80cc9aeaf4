package inventory

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pharmd/pharmd/internal/platform/auth"
	"github.com/pharmd/pharmd/pkg/bizerror"
	"github.com/pharmd/pharmd/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "pharmacist"))
	readGroup.GET("/stock/:medicineID", h.QueryStock)
	readGroup.GET("/stock/:medicineID/ledger", h.ListLedger)

	writeGroup := api.Group("", auth.RequireRole("admin", "pharmacist"))
	writeGroup.POST("/stock/in", h.StockIn)
	writeGroup.POST("/stock/out", h.StockOut)
	writeGroup.POST("/stock/credit", h.StockCredit)
	writeGroup.POST("/stock/adjust", h.StockAdjust)
	writeGroup.POST("/stock/:medicineID/reserve", h.Reserve)
	writeGroup.POST("/stock/:medicineID/release", h.Release)
	writeGroup.GET("/stock/:medicineID/verify", h.VerifyLedger)
}

func medicineIDParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("medicineID"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid medicine id")
	}
	return id, nil
}

func (h *Handler) StockIn(c echo.Context) error {
	var in StockInInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.RecordedBy = auth.UserIDFromContext(c.Request().Context())
	b, err := h.svc.RecordIn(c.Request().Context(), in)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) StockOut(c echo.Context) error {
	var in StockOutInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.RecordedBy = auth.UserIDFromContext(c.Request().Context())
	plan, err := h.svc.RecordOut(c.Request().Context(), in)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"allocations": plan})
}

func (h *Handler) StockCredit(c echo.Context) error {
	var in CreditInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.RecordedBy = auth.UserIDFromContext(c.Request().Context())
	b, err := h.svc.RecordCredit(c.Request().Context(), in)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) StockAdjust(c echo.Context) error {
	var in AdjustInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.RecordedBy = auth.UserIDFromContext(c.Request().Context())
	b, err := h.svc.RecordAdjustment(c.Request().Context(), in)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) QueryStock(c echo.Context) error {
	id, err := medicineIDParam(c)
	if err != nil {
		return err
	}
	summary, err := h.svc.QueryStock(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) ListLedger(c echo.Context) error {
	id, err := medicineIDParam(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	txs, total, err := h.svc.ListLedger(c.Request().Context(), id, c.QueryParam("batch_no"), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(txs, total, p.Limit, p.Offset))
}

type reserveRequest struct {
	Quantity int64  `json:"quantity"`
	Ref      string `json:"ref"`
}

func (h *Handler) Reserve(c echo.Context) error {
	id, err := medicineIDParam(c)
	if err != nil {
		return err
	}
	var req reserveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	legs, err := h.svc.Reserve(c.Request().Context(), id, req.Quantity, req.Ref)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"allocations": legs})
}

type releaseRequest struct {
	Allocations []Allocation `json:"allocations"`
	Ref         string       `json:"ref"`
}

func (h *Handler) Release(c echo.Context) error {
	id, err := medicineIDParam(c)
	if err != nil {
		return err
	}
	var req releaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Release(c.Request().Context(), id, req.Allocations, req.Ref); err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) VerifyLedger(c echo.Context) error {
	id, err := medicineIDParam(c)
	if err != nil {
		return err
	}
	diffs, err := h.svc.VerifyLedger(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"consistent":    len(diffs) == 0,
		"discrepancies": diffs,
	})
}
