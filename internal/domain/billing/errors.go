package billing

import (
	"errors"
	"strings"
)

var (
	// ErrFetchFailure wraps any failure of the bill source while loading the
	// bill or patient collections.
	ErrFetchFailure = errors.New("fetch failure")
	// ErrMutationFailure wraps any failure of the bill source while creating
	// or updating a bill.
	ErrMutationFailure = errors.New("mutation failure")
	ErrBillNotFound    = errors.New("bill not found")
	// ErrMissingPatient is returned when an invoice is requested for a bill
	// whose patient does not resolve.
	ErrMissingPatient = errors.New("missing patient")
	// ErrUnsupportedText is returned when invoice text contains characters
	// the invoice font cannot draw.
	ErrUnsupportedText = errors.New("unsupported invoice text")
	// ErrInvalidStatus is returned by sources that reject a status outside
	// the four-member enum.
	ErrInvalidStatus = errors.New("invalid status")
)

// FieldError is a validation failure tied to one input field. Nested fields
// use path notation, e.g. items[0].description.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is returned by draft validation before any source call.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (v *ValidationErrors) add(field, msg string) {
	*v = append(*v, FieldError{Field: field, Message: msg})
}
