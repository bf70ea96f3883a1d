// Package filter implements the search, discrete-field filter and pagination
// pipeline shared by every list view. An Engine is instantiated per record
// type with two extractor functions; it never re-sorts its input.
package filter

import (
	"strings"

	"github.com/hms/hms/pkg/pagination"
)

// fieldSeparator joins searchable fields so a query cannot match across the
// boundary of two adjacent fields.
const fieldSeparator = "\n"

// Empty-state reasons reported by EmptyReason.
const (
	EmptyNoRecords = "no_records"
	EmptyNoMatch   = "no_match"
)

// Engine filters, searches and paginates records of type T.
type Engine[T any] struct {
	// SearchFields returns the free-text fields of a record. A nil function
	// makes every text query match.
	SearchFields func(T) []string
	// FieldValue returns the discrete field compared by FilterByField. A nil
	// function makes every field filter a no-op.
	FieldValue func(T) string
}

// Query is a list request.
type Query struct {
	Text     string
	Field    string
	Page     int
	PageSize int
}

// Active reports whether the query narrows the collection.
func (q Query) Active() bool {
	return q.Text != "" || q.Field != ""
}

// Search keeps records whose searchable fields contain query, ignoring case.
// An empty query keeps everything. Input order is preserved.
func (e Engine[T]) Search(records []T, query string) []T {
	if query == "" || e.SearchFields == nil {
		return keepAll(records)
	}
	needle := strings.ToLower(query)
	out := make([]T, 0, len(records))
	for _, r := range records {
		haystack := strings.ToLower(strings.Join(e.SearchFields(r), fieldSeparator))
		if strings.Contains(haystack, needle) {
			out = append(out, r)
		}
	}
	return out
}

// FilterByField keeps records whose discrete field equals value exactly. An
// empty value keeps everything. Input order is preserved.
func (e Engine[T]) FilterByField(records []T, value string) []T {
	if value == "" || e.FieldValue == nil {
		return keepAll(records)
	}
	out := make([]T, 0, len(records))
	for _, r := range records {
		if e.FieldValue(r) == value {
			out = append(out, r)
		}
	}
	return out
}

// Run applies the field filter, then the text search, then pagination.
func (e Engine[T]) Run(records []T, q Query) pagination.Page[T] {
	matches := e.FilterByField(records, q.Field)
	matches = e.Search(matches, q.Text)
	return pagination.Paginate(matches, q.Page, q.PageSize)
}

// EmptyReason explains an empty result: no_match when the query narrowed the
// collection, no_records otherwise. It returns "" when anything matched.
func EmptyReason[T any](p pagination.Page[T], q Query) string {
	if p.TotalItems > 0 {
		return ""
	}
	if q.Active() {
		return EmptyNoMatch
	}
	return EmptyNoRecords
}

func keepAll[T any](records []T) []T {
	out := make([]T, len(records))
	copy(out, records)
	return out
}
