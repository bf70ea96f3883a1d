package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hms/hms/internal/money"
)

// AmountField is a currency input that remembers whether it was supplied.
// It accepts a JSON number or a numeric string; null counts as absent.
type AmountField struct {
	Raw string
	Set bool
}

// Amount returns a supplied AmountField holding s.
func Amount(s string) AmountField { return AmountField{Raw: s, Set: true} }

func (a *AmountField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = AmountField{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = AmountField{Raw: s, Set: true}
		return nil
	}
	*a = AmountField{Raw: string(data), Set: true}
	return nil
}

// ItemInput is one line of a DraftInput.
type ItemInput struct {
	Description string      `json:"description"`
	Quantity    int         `json:"quantity"`
	UnitPrice   AmountField `json:"unit_price"`
	TotalPrice  AmountField `json:"total_price"`
	Type        string      `json:"type"`
}

// DraftInput is the unvalidated create-bill payload.
type DraftInput struct {
	PatientID     string      `json:"patient_id"`
	DoctorID      *string     `json:"doctor_id"`
	Items         []ItemInput `json:"items"`
	TotalAmount   AmountField `json:"total_amount"`
	PaidAmount    AmountField `json:"paid_amount"`
	Status        string      `json:"status"`
	PaymentMethod *string     `json:"payment_method"`
	Notes         *string     `json:"notes"`
}

// BillDraft is a validated bill payload. It carries no id or creation time;
// both are assigned by the source.
type BillDraft struct {
	PatientID     string      `json:"patient_id"`
	DoctorID      *string     `json:"doctor_id,omitempty"`
	Items         []BillItem  `json:"items"`
	TotalAmount   money.Money `json:"total_amount"`
	PaidAmount    money.Money `json:"paid_amount"`
	Status        Status      `json:"status"`
	PaymentMethod *string     `json:"payment_method,omitempty"`
	Notes         *string     `json:"notes,omitempty"`
}

// CreateDraft validates in before any source call is attempted. All problems
// are reported together as ValidationErrors. It does not check that the
// patient exists; the source may still reject the draft.
func CreateDraft(in DraftInput) (*BillDraft, error) {
	var errs ValidationErrors

	d := &BillDraft{
		PatientID:     strings.TrimSpace(in.PatientID),
		DoctorID:      in.DoctorID,
		Items:         make([]BillItem, 0, len(in.Items)),
		Status:        StatusPending,
		PaymentMethod: in.PaymentMethod,
		Notes:         in.Notes,
	}
	if d.PatientID == "" {
		errs.add("patient_id", "is required")
	}

	d.TotalAmount = requireAmount(&errs, "total_amount", in.TotalAmount)
	d.PaidAmount = requireAmount(&errs, "paid_amount", in.PaidAmount)

	if in.Status != "" {
		if s := Status(in.Status); s.Valid() {
			d.Status = s
		} else {
			errs.add("status", fmt.Sprintf("must be one of pending, partial, paid, cancelled; got %q", in.Status))
		}
	}

	for i, it := range in.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		item := BillItem{
			Description: strings.TrimSpace(it.Description),
			Quantity:    it.Quantity,
			Type:        ItemType(it.Type),
		}
		if item.Description == "" {
			errs.add(prefix+"description", "is required")
		}
		if item.Quantity <= 0 {
			errs.add(prefix+"quantity", "must be a positive integer")
		}
		if item.Type == "" {
			item.Type = ItemOther
		} else if !item.Type.Valid() {
			errs.add(prefix+"type", fmt.Sprintf("unknown item type %q", it.Type))
		}
		item.UnitPrice = requireAmount(&errs, prefix+"unit_price", it.UnitPrice)
		if it.TotalPrice.Set {
			item.TotalPrice = requireAmount(&errs, prefix+"total_price", it.TotalPrice)
		} else if item.Quantity > 0 {
			item.TotalPrice = item.UnitPrice.Multiply(int64(item.Quantity))
		}
		d.Items = append(d.Items, item)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return d, nil
}

func requireAmount(errs *ValidationErrors, field string, a AmountField) money.Money {
	if !a.Set || strings.TrimSpace(a.Raw) == "" {
		errs.add(field, "is required")
		return money.Zero()
	}
	m, err := money.ParseNonNegative(a.Raw)
	if err != nil {
		errs.add(field, "must be a non-negative amount with at most two decimals")
		return money.Zero()
	}
	return m
}
