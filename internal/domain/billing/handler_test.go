package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type stubRenderer struct{}

func (stubRenderer) RenderPDF(b *Bill, patients PatientLookup) ([]byte, error) {
	if _, ok := patients.Patient(b.PatientID); !ok {
		return nil, ErrMissingPatient
	}
	return []byte("%PDF-1.3 " + b.ID), nil
}

func newTestHandler(t *testing.T) (*Handler, *echo.Echo, *fakeSource) {
	l, src := newTestLedger(t)
	return NewHandler(l, stubRenderer{}), echo.New(), src
}

func newCtx(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func expectCode(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTP error %d, got %v", code, err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func TestHandler_ListBills(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c, rec := newCtx(e, http.MethodGet, "/api/v1/bills?q=john", "")

	if err := h.ListBills(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Rows []struct {
			ID          string  `json:"id"`
			PatientName string  `json:"patient_name"`
			Balance     float64 `json:"balance"`
		} `json:"rows"`
		TotalItems int  `json:"total_items"`
		Stale      bool `json:"stale"`
	}
	var raw map[string]json.RawMessage
	json.Unmarshal(rec.Body.Bytes(), &raw)
	if _, ok := raw["rows"]; !ok {
		t.Fatalf("expected rows in body: %s", rec.Body.String())
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.TotalItems != 1 || body.Rows[0].ID != "B1" || body.Rows[0].PatientName != "John Doe" {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"balance":0.00`) {
		t.Errorf("expected balance rendered with two decimals: %s", rec.Body.String())
	}
}

func TestHandler_ListBills_InvalidStatus(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c, _ := newCtx(e, http.MethodGet, "/api/v1/bills?status=refunded", "")
	expectCode(t, h.ListBills(c), http.StatusBadRequest)
}

func TestHandler_GetStats(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c, rec := newCtx(e, http.MethodGet, "/api/v1/bills/stats", "")

	if err := h.GetStats(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var s map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &s)
	if s["collected"] != 325.0 || s["outstanding"] != 160.0 || s["count"] != 3.0 {
		t.Errorf("unexpected stats: %v", s)
	}
}

func TestHandler_GetBill_NotFound(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c, _ := newCtx(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("nope")
	expectCode(t, h.GetBill(c), http.StatusNotFound)
}

func TestHandler_GetReconciliation(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c, rec := newCtx(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("B2")

	if err := h.GetReconciliation(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Balance        float64        `json:"balance"`
		Reconciliation Reconciliation `json:"reconciliation"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Balance != 150 || body.Reconciliation.Implied != StatusPartial || body.Reconciliation.Consistent {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_GetInvoice(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c, rec := newCtx(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("B1")

	if err := h.GetInvoice(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/pdf" {
		t.Errorf("expected application/pdf, got %s", ct)
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); cd != `attachment; filename="invoice-B1.pdf"` {
		t.Errorf("unexpected content disposition: %s", cd)
	}
}

type failingRenderer struct{ err error }

func (r failingRenderer) RenderPDF(*Bill, PatientLookup) ([]byte, error) { return nil, r.err }

func TestHandler_GetInvoice_UnsupportedText(t *testing.T) {
	l, _ := newTestLedger(t)
	h := NewHandler(l, failingRenderer{err: fmt.Errorf("render invoice B1: %w", ErrUnsupportedText)})
	c, rec := newCtx(echo.New(), http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("B1")

	expectCode(t, h.GetInvoice(c), http.StatusUnprocessableEntity)
	if rec.Body.Len() != 0 {
		t.Error("expected no document")
	}
}

func TestHandler_GetInvoice_MissingPatient(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c, rec := newCtx(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("B3")

	expectCode(t, h.GetInvoice(c), http.StatusUnprocessableEntity)
	if rec.Body.Len() != 0 {
		t.Error("expected no partial document")
	}
}

func TestHandler_CreateBill(t *testing.T) {
	h, e, _ := newTestHandler(t)
	body := `{"patient_id":"P1","total_amount":"275.00","paid_amount":0,
		"items":[{"description":"Consultation","quantity":1,"unit_price":275,"type":"consultation"}]}`
	c, rec := newCtx(e, http.MethodPost, "/api/v1/bills", body)

	if err := h.CreateBill(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var b Bill
	json.Unmarshal(rec.Body.Bytes(), &b)
	if b.TotalAmount.Cents() != 27500 || b.Status != StatusPending {
		t.Errorf("unexpected bill: %s", rec.Body.String())
	}
	if h.ledger.Snapshot().Version != 2 {
		t.Error("expected ledger to refresh after create")
	}
}

func TestHandler_CreateBill_Validation(t *testing.T) {
	h, e, src := newTestHandler(t)
	c, _ := newCtx(e, http.MethodPost, "/api/v1/bills", `{"total_amount":"x"}`)

	err := h.CreateBill(c)
	expectCode(t, err, http.StatusBadRequest)
	if src.calls != 0 {
		t.Error("expected no source call for an invalid draft")
	}
}

func TestHandler_CreateBill_UpstreamFailure(t *testing.T) {
	h, e, src := newTestHandler(t)
	src.mutateErr = errors.New("boom")
	c, _ := newCtx(e, http.MethodPost, "/api/v1/bills", `{"patient_id":"P1","total_amount":1,"paid_amount":0}`)
	expectCode(t, h.CreateBill(c), http.StatusBadGateway)
}

func TestHandler_UpdateStatus(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c, rec := newCtx(e, http.MethodPut, "/", `{"status":"paid"}`)
	c.SetParamNames("id")
	c.SetParamValues("B2")

	if err := h.UpdateStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = newCtx(e, http.MethodPut, "/", `{"status":"refunded"}`)
	c.SetParamNames("id")
	c.SetParamValues("B2")
	expectCode(t, h.UpdateStatus(c), http.StatusBadRequest)

	c, _ = newCtx(e, http.MethodPut, "/", `{"status":"paid"}`)
	c.SetParamNames("id")
	c.SetParamValues("missing")
	expectCode(t, h.UpdateStatus(c), http.StatusNotFound)
}

func TestHandler_UpdatePayment(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c, _ := newCtx(e, http.MethodPut, "/", `{"paid_amount":200,"payment_method":"cash"}`)
	c.SetParamNames("id")
	c.SetParamValues("B2")

	if err := h.UpdatePayment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := h.ledger.Get("B2")
	if b.PaidAmount.Cents() != 20000 {
		t.Errorf("expected paid 20000, got %d", b.PaidAmount.Cents())
	}

	c, _ = newCtx(e, http.MethodPut, "/", `{"payment_method":"cash"}`)
	c.SetParamNames("id")
	c.SetParamValues("B2")
	expectCode(t, h.UpdatePayment(c), http.StatusBadRequest)
}

func TestHandler_RefreshBills_Failure(t *testing.T) {
	h, e, src := newTestHandler(t)
	src.fetchErr = errors.New("down")
	c, _ := newCtx(e, http.MethodPost, "/api/v1/bills/refresh", "")
	expectCode(t, h.RefreshBills(c), http.StatusBadGateway)
}

func TestHandler_ListPatientBills(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c, rec := newCtx(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("P2")

	if err := h.ListPatientBills(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 {
		t.Errorf("expected 1 bill, got %d", body.Total)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e, _ := newTestHandler(t)
	api := e.Group("/api/v1")
	h.RegisterRoutes(api)

	want := map[string]bool{
		"GET:/api/v1/bills":                    false,
		"GET:/api/v1/bills/stats":              false,
		"GET:/api/v1/bills/:id":                false,
		"GET:/api/v1/bills/:id/reconciliation": false,
		"GET:/api/v1/bills/:id/invoice":        false,
		"GET:/api/v1/patients/:id/bills":       false,
		"POST:/api/v1/bills":                   false,
		"POST:/api/v1/bills/refresh":           false,
		"PUT:/api/v1/bills/:id/status":         false,
		"PUT:/api/v1/bills/:id/payment":        false,
	}
	for _, r := range e.Routes() {
		key := r.Method + ":" + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("missing route: %s", route)
		}
	}
}
