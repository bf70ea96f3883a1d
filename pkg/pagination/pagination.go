package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Params holds 1-based page parameters extracted from a request.
type Params struct {
	Page     int
	PageSize int
}

// FromContext extracts page parameters from the echo context. page_size falls
// back to the _count and limit aliases, then to defaultSize (or
// DefaultPageSize when defaultSize <= 0). A missing or unparseable page is 1;
// an explicit out-of-range page is passed through untouched.
func FromContext(c echo.Context, defaultSize int) Params {
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}

	size := 0
	for _, key := range []string{"page_size", "_count", "limit"} {
		if n, err := strconv.Atoi(c.QueryParam(key)); err == nil && n > 0 {
			size = n
			break
		}
	}
	if size <= 0 {
		size = defaultSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	page, err := strconv.Atoi(c.QueryParam("page"))
	if err != nil {
		page = 1
	}

	return Params{Page: page, PageSize: size}
}

// Page is one page of an in-memory result set.
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
	TotalItems int `json:"total_items"`
}

// Paginate slices records into the requested 1-based page. TotalPages is
// ceil(len/pageSize) but never less than 1, so an empty collection still has
// one (empty) page. A page outside [1, TotalPages] yields no items. Items is
// never nil and never aliases records.
func Paginate[T any](records []T, pageIndex, pageSize int) Page[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	total := len(records)
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}

	p := Page[T]{
		Items:      []T{},
		Page:       pageIndex,
		PageSize:   pageSize,
		TotalPages: totalPages,
		TotalItems: total,
	}
	if pageIndex < 1 || pageIndex > totalPages {
		return p
	}

	start := (pageIndex - 1) * pageSize
	end := start + pageSize
	if end > total {
		end = total
	}
	if start < end {
		p.Items = make([]T, end-start)
		copy(p.Items, records[start:end])
	}
	return p
}

// HasNext returns true if there is a page after the current one.
func (p Page[T]) HasNext() bool {
	return p.Page >= 1 && p.Page < p.TotalPages
}

// HasPrevious returns true if there is a page before the current one.
func (p Page[T]) HasPrevious() bool {
	return p.Page > 1 && p.Page <= p.TotalPages
}

// Response wraps a paginated API response.
type Response struct {
	Data       interface{} `json:"data"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
	TotalItems int         `json:"total_items"`
	HasMore    bool        `json:"has_more"`
}

// NewResponse builds the envelope for a page whose items have already been
// mapped to their wire form.
func NewResponse[T any](data interface{}, p Page[T]) *Response {
	return &Response{
		Data:       data,
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: p.TotalPages,
		TotalItems: p.TotalItems,
		HasMore:    p.HasNext(),
	}
}
