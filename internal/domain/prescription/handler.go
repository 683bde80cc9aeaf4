package prescription

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
	readGroup.GET("/prescriptions", h.List)
	readGroup.GET("/prescriptions/:id", h.Get)
	readGroup.GET("/patients/:patientID/allergies", h.ListAllergies)

	prescribeGroup := api.Group("", auth.RequireRole("admin", "physician"))
	prescribeGroup.POST("/prescriptions", h.Create)
	prescribeGroup.POST("/patients/:patientID/allergies", h.AddAllergy)

	reviewGroup := api.Group("", auth.RequireRole("admin", "pharmacist"))
	reviewGroup.POST("/prescriptions/:id/review", h.Review)
}

func (h *Handler) Create(c echo.Context) error {
	var p Prescription
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid prescription id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)

	var filter ListFilter
	if raw := c.QueryParam("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
		}
		filter.PatientID = id
	}
	filter.Status = Status(c.QueryParam("status"))

	items, total, err := h.svc.List(c.Request().Context(), filter, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) Review(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid prescription id")
	}
	reviewer := auth.UserIDFromContext(c.Request().Context())
	p, err := h.svc.Review(c.Request().Context(), id, reviewer)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) AddAllergy(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var a AllergyRecord
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.PatientID = patientID
	if err := h.svc.AddAllergy(c.Request().Context(), &a); err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListAllergies(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	records, err := h.svc.ListAllergies(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(bizerror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, records)
}
