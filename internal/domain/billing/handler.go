package billing

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	ledger   *Ledger
	renderer InvoiceRenderer
}

func NewHandler(ledger *Ledger, renderer InvoiceRenderer) *Handler {
	return &Handler{ledger: ledger, renderer: renderer}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Front desk billing: reception, admin
	g := api.Group("", auth.RequireRole(auth.RoleReception))
	g.GET("/bills", h.ListBills)
	g.GET("/bills/stats", h.GetStats)
	g.GET("/bills/:id", h.GetBill)
	g.GET("/bills/:id/reconciliation", h.GetReconciliation)
	g.GET("/bills/:id/invoice", h.GetInvoice)
	g.GET("/patients/:id/bills", h.ListPatientBills)

	g.POST("/bills", h.CreateBill)
	g.POST("/bills/refresh", h.RefreshBills)
	g.PUT("/bills/:id/status", h.UpdateStatus)
	g.PUT("/bills/:id/payment", h.UpdatePayment)
}

// ListBills serves GET /bills?q=&status=&page=.
func (h *Handler) ListBills(c echo.Context) error {
	status := Status(c.QueryParam("status"))
	if status != "" && !status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid status: %s", status))
	}
	pg := pagination.FromContext(c, h.ledger.pageSize)
	return c.JSON(http.StatusOK, h.ledger.ListPage(c.QueryParam("q"), status, pg.Page))
}

func (h *Handler) GetStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.ledger.Summary())
}

func (h *Handler) GetBill(c echo.Context) error {
	b, err := h.ledger.Get(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) GetReconciliation(c echo.Context) error {
	b, err := h.ledger.Get(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"bill_id":        b.ID,
		"balance":        ComputeBalance(b),
		"reconciliation": Reconcile(b),
	})
}

// GetInvoice streams the rendered invoice as a PDF attachment.
func (h *Handler) GetInvoice(c echo.Context) error {
	b, err := h.ledger.Get(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	pdf, err := h.renderer.RenderPDF(b, h.ledger)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="invoice-%s.pdf"`, b.ID))
	return c.Blob(http.StatusOK, "application/pdf", pdf)
}

func (h *Handler) ListPatientBills(c echo.Context) error {
	bills := h.ledger.BillsForPatient(c.Param("id"))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":    bills,
		"total":   len(bills),
		"summary": Aggregate(bills),
	})
}

func (h *Handler) CreateBill(c echo.Context) error {
	var in DraftInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.ledger.Create(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) RefreshBills(c echo.Context) error {
	if err := h.ledger.Refresh(c.Request().Context()); err != nil {
		return httpError(err)
	}
	s := h.ledger.Snapshot()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"version":    s.Version,
		"fetched_at": s.FetchedAt.Format(time.RFC3339),
		"bills":      len(s.Bills),
	})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Status == "" {
		return httpError(ValidationErrors{{Field: "status", Message: "is required"}})
	}
	b, err := h.ledger.UpdateStatus(c.Request().Context(), c.Param("id"), Status(req.Status))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

type paymentRequest struct {
	PaidAmount    AmountField `json:"paid_amount"`
	PaymentMethod *string     `json:"payment_method"`
}

func (h *Handler) UpdatePayment(c echo.Context) error {
	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var verr ValidationErrors
	paid := requireAmount(&verr, "paid_amount", req.PaidAmount)
	if len(verr) > 0 {
		return httpError(verr)
	}
	b, err := h.ledger.UpdatePayment(c.Request().Context(), c.Param("id"), paid, req.PaymentMethod)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

// httpError maps ledger errors onto HTTP status codes.
func httpError(err error) *echo.HTTPError {
	var verr ValidationErrors
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"message": "validation failed",
			"errors":  verr,
		})
	case errors.Is(err, ErrBillNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "bill not found")
	case errors.Is(err, ErrInvalidStatus):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrMissingPatient):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "bill patient does not resolve")
	case errors.Is(err, ErrUnsupportedText):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrFetchFailure), errors.Is(err, ErrMutationFailure):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
