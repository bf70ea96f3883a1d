package identity

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/filter"
	"github.com/hms/hms/pkg/pagination"
)

// PatientProvider exposes the patients of the current ledger snapshot in
// source order.
type PatientProvider interface {
	Patients() []*Patient
}

type Handler struct {
	patients PatientProvider
	pageSize int
}

func NewHandler(patients PatientProvider, pageSize int) *Handler {
	return &Handler{patients: patients, pageSize: pageSize}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleReception))
	read.GET("/patients", h.ListPatients)
	read.GET("/patients/:id", h.GetPatient)
}

// ListPatients serves GET /patients?q=&gender=&page=&page_size=.
func (h *Handler) ListPatients(c echo.Context) error {
	gender := c.QueryParam("gender")
	if gender != "" && !ValidGender(gender) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid gender: "+gender)
	}

	pg := pagination.FromContext(c, h.pageSize)
	q := filter.Query{
		Text:     c.QueryParam("q"),
		Field:    gender,
		Page:     pg.Page,
		PageSize: pg.PageSize,
	}
	page := Filter.Run(h.patients.Patients(), q)

	resp := pagination.NewResponse(page.Items, page)
	return c.JSON(http.StatusOK, struct {
		*pagination.Response
		EmptyReason string `json:"empty_reason,omitempty"`
	}{resp, filter.EmptyReason(page, q)})
}

func (h *Handler) GetPatient(c echo.Context) error {
	id := c.Param("id")
	for _, p := range h.patients.Patients() {
		if p.ID == id {
			return c.JSON(http.StatusOK, p)
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "patient not found")
}
