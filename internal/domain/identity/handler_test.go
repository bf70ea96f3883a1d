package identity

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type staticPatients []*Patient

func (s staticPatients) Patients() []*Patient { return s }

func testPatients() staticPatients {
	return staticPatients{
		{ID: "P1", FirstName: "John", LastName: "Doe", Email: "john@example.com", Phone: "555-0101", Gender: GenderMale},
		{ID: "P2", FirstName: "Jane", LastName: "Smith", Email: "jane@example.com", Phone: "555-0102", Gender: GenderFemale},
		{ID: "P3", FirstName: "Alex", LastName: "Johnson", Email: "alex@example.com", Phone: "555-0103", Gender: GenderOther},
	}
}

func newTestHandler() (*Handler, *echo.Echo) {
	return NewHandler(testPatients(), 10), echo.New()
}

type listBody struct {
	Data        []*Patient `json:"data"`
	TotalItems  int        `json:"total_items"`
	TotalPages  int        `json:"total_pages"`
	EmptyReason string     `json:"empty_reason"`
}

func doList(t *testing.T, target string) (*httptest.ResponseRecorder, listBody) {
	t.Helper()
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body listBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec, body
}

func TestDisplayName(t *testing.T) {
	p := &Patient{FirstName: "John", LastName: "Doe"}
	if got := p.DisplayName(); got != "John Doe" {
		t.Errorf("expected John Doe, got %q", got)
	}
}

func TestHandler_ListPatients(t *testing.T) {
	rec, body := doList(t, "/api/v1/patients")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body.TotalItems != 3 || len(body.Data) != 3 {
		t.Errorf("expected 3 patients, got %d", body.TotalItems)
	}
	if body.Data[0].ID != "P1" {
		t.Errorf("expected source order, got %s first", body.Data[0].ID)
	}
}

func TestHandler_ListPatients_Search(t *testing.T) {
	_, body := doList(t, "/api/v1/patients?q=JOHN")
	if body.TotalItems != 2 {
		t.Fatalf("expected 2 matches, got %d", body.TotalItems)
	}
	if body.Data[0].ID != "P1" || body.Data[1].ID != "P3" {
		t.Errorf("unexpected matches: %s, %s", body.Data[0].ID, body.Data[1].ID)
	}

	_, body = doList(t, "/api/v1/patients?q=555-0102")
	if body.TotalItems != 1 || body.Data[0].ID != "P2" {
		t.Errorf("expected phone match on P2, got %+v", body.Data)
	}
}

func TestHandler_ListPatients_GenderFilter(t *testing.T) {
	_, body := doList(t, "/api/v1/patients?gender=female")
	if body.TotalItems != 1 || body.Data[0].ID != "P2" {
		t.Errorf("expected only P2, got %+v", body.Data)
	}
}

func TestHandler_ListPatients_NoMatch(t *testing.T) {
	_, body := doList(t, "/api/v1/patients?q=nobody")
	if body.TotalItems != 0 {
		t.Errorf("expected no matches, got %d", body.TotalItems)
	}
	if body.EmptyReason != "no_match" {
		t.Errorf("expected no_match, got %q", body.EmptyReason)
	}
}

func TestHandler_ListPatients_InvalidGender(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients?gender=x", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.ListPatients(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetPatient(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("P2")

	if err := h.GetPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var p Patient
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.FirstName != "Jane" {
		t.Errorf("expected Jane, got %s", p.FirstName)
	}
}

func TestHandler_GetPatient_NotFound(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("missing")

	err := h.GetPatient(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler()
	api := e.Group("/api/v1")
	h.RegisterRoutes(api)

	want := map[string]bool{
		"GET:/api/v1/patients":     false,
		"GET:/api/v1/patients/:id": false,
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
