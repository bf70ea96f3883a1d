// Package rest is the bill source backed by the hospital records HTTP API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/money"
)

// maxBody caps how much of a response is read.
const maxBody = 32 << 20

// TokenProvider supplies the bearer token for each call.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// APIError is a non-2xx response from the records API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("records api: %d %s", e.StatusCode, e.Message)
}

type Client struct {
	base   string
	tokens TokenProvider
	client *http.Client
	logger zerolog.Logger
}

// New returns a client for the API rooted at baseURL, e.g.
// "http://records:5000/api". tokens may be nil for unauthenticated APIs.
func New(baseURL string, tokens TokenProvider, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		tokens: tokens,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (c *Client) FetchBills(ctx context.Context) ([]*billing.Bill, error) {
	var dtos []billDTO
	if err := c.do(ctx, http.MethodGet, "/bills", nil, &dtos); err != nil {
		return nil, err
	}
	bills := make([]*billing.Bill, 0, len(dtos))
	for i := range dtos {
		b, err := dtos[i].toBill()
		if err != nil {
			return nil, err
		}
		bills = append(bills, b)
	}
	return bills, nil
}

func (c *Client) FetchPatients(ctx context.Context) ([]*identity.Patient, error) {
	var dtos []patientDTO
	if err := c.do(ctx, http.MethodGet, "/patients", nil, &dtos); err != nil {
		return nil, err
	}
	patients := make([]*identity.Patient, 0, len(dtos))
	for i := range dtos {
		patients = append(patients, dtos[i].toPatient())
	}
	return patients, nil
}

func (c *Client) CreateBill(ctx context.Context, d *billing.BillDraft) (*billing.Bill, error) {
	var out billDTO
	if err := c.do(ctx, http.MethodPost, "/bills", fromDraft(d), &out); err != nil {
		return nil, err
	}
	return out.toBill()
}

func (c *Client) UpdateBillStatus(ctx context.Context, id string, status billing.Status) (*billing.Bill, error) {
	var out billDTO
	body := map[string]string{"status": string(status)}
	err := c.do(ctx, http.MethodPut, "/bills/"+url.PathEscape(id)+"/status", body, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusUnprocessableEntity) {
		return nil, fmt.Errorf("%w: %w", billing.ErrInvalidStatus, err)
	}
	if err != nil {
		return nil, billErr(err)
	}
	return out.toBill()
}

func (c *Client) UpdatePayment(ctx context.Context, id string, paid money.Money, method *string) (*billing.Bill, error) {
	var out billDTO
	body := struct {
		PaidAmount    float64 `json:"paidAmount"`
		PaymentMethod *string `json:"paymentMethod,omitempty"`
	}{paid.Float64(), method}
	if err := c.do(ctx, http.MethodPut, "/bills/"+url.PathEscape(id)+"/payment", body, &out); err != nil {
		return nil, billErr(err)
	}
	return out.toBill()
}

func billErr(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", billing.ErrBillNotFound, err)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("records session: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("records api call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(unwrap(raw), out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

// unwrap returns the payload of a {"data": ...} envelope, or raw itself.
func unwrap(raw []byte) []byte {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Unmarshal(trimmed, &env) == nil &&
		len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		return env.Data
	}
	return trimmed
}

func errorMessage(raw []byte, fallback string) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if msg := firstNonEmpty(body.Message, body.Error); msg != "" {
			return msg
		}
	}
	return fallback
}
