package dispensing

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pharmd/pharmd/internal/platform/auth"
	"github.com/pharmd/pharmd/pkg/bizerror"
	"github.com/pharmd/pharmd/pkg/pagination"
)

type Handler struct {
	wf *Workflow
}

func NewHandler(wf *Workflow) *Handler {
	return &Handler{wf: wf}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "pharmacist"))
	readGroup.GET("/dispense", h.List)
	readGroup.GET("/dispense/:id", h.Get)
	readGroup.GET("/dispense/precheck/:prescriptionID", h.Precheck)

	dispenseGroup := api.Group("", auth.RequireRole("admin", "pharmacist"))
	dispenseGroup.POST("/dispense", h.Start)
	dispenseGroup.POST("/dispense/:id/items/:medicineID", h.DispenseItem)
	dispenseGroup.POST("/dispense/:id/substitute", h.Substitute)
	dispenseGroup.POST("/dispense/:id/complete", h.Complete)
	dispenseGroup.POST("/dispense/:id/review", h.Review)
	dispenseGroup.POST("/dispense/:id/cancel", h.Cancel)
	dispenseGroup.POST("/dispense/:id/return", h.Return)

	deliverGroup := api.Group("", auth.RequireRole("admin", "pharmacist", "nurse"))
	deliverGroup.POST("/dispense/:id/deliver", h.Deliver)
}

func recordIDParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid dispense record id")
	}
	return id, nil
}

type startRequest struct {
	PrescriptionID uuid.UUID `json:"prescription_id"`
}

func (h *Handler) Start(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	rec, report, err := h.wf.Start(c.Request().Context(), req.PrescriptionID, actor)
	if err != nil {
		if report != nil {
			return c.JSON(bizerror.HTTPStatus(err), map[string]any{
				"error":  err.Error(),
				"report": report,
			})
		}
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]any{"record": rec, "report": report})
}

func (h *Handler) Precheck(c echo.Context) error {
	id, err := uuid.Parse(c.Param("prescriptionID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid prescription id")
	}
	report, err := h.wf.Precheck(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := recordIDParam(c)
	if err != nil {
		return err
	}
	rec, err := h.wf.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)

	var filter ListFilter
	if raw := c.QueryParam("prescription_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid prescription id")
		}
		filter.PrescriptionID = id
	}
	if raw := c.QueryParam("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
		}
		filter.PatientID = id
	}
	filter.Status = Status(c.QueryParam("status"))

	items, total, err := h.wf.List(c.Request().Context(), filter, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) DispenseItem(c echo.Context) error {
	id, err := recordIDParam(c)
	if err != nil {
		return err
	}
	medicineID, err := uuid.Parse(c.Param("medicineID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid medicine id")
	}
	var req struct {
		BatchNo  string `json:"batch_no"`
		Quantity int64  `json:"quantity"`
	}
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid dispense request")
		}
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	rec, err := h.wf.DispenseItem(c.Request().Context(), id, medicineID, req.BatchNo, req.Quantity, actor)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

type substituteRequest struct {
	MedicineID   uuid.UUID `json:"medicine_id"`
	SubstituteID uuid.UUID `json:"substitute_id"`
}

func (h *Handler) Substitute(c echo.Context) error {
	id, err := recordIDParam(c)
	if err != nil {
		return err
	}
	var req substituteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.wf.Substitute(c.Request().Context(), id, req.MedicineID, req.SubstituteID)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := recordIDParam(c)
	if err != nil {
		return err
	}
	rec, err := h.wf.Complete(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Review(c echo.Context) error {
	id, err := recordIDParam(c)
	if err != nil {
		return err
	}
	reviewer := auth.UserIDFromContext(c.Request().Context())
	rec, err := h.wf.Review(c.Request().Context(), id, reviewer)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Deliver(c echo.Context) error {
	id, err := recordIDParam(c)
	if err != nil {
		return err
	}
	rec, err := h.wf.Deliver(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := recordIDParam(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	rec, err := h.wf.Cancel(c.Request().Context(), id, req.Reason, actor)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Return(c echo.Context) error {
	id, err := recordIDParam(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	rec, err := h.wf.Return(c.Request().Context(), id, req.Reason, actor)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}
