package rest

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/money"
)

// Wire types of the records API. Amounts travel as JSON numbers; ids may be
// sent as id or _id.

type itemDTO struct {
	ID          string  `json:"id,omitempty"`
	MongoID     string  `json:"_id,omitempty"`
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	TotalPrice  float64 `json:"totalPrice"`
	Type        string  `json:"type"`
}

type billDTO struct {
	ID            string    `json:"id,omitempty"`
	MongoID       string    `json:"_id,omitempty"`
	PatientID     string    `json:"patientId"`
	DoctorID      *string   `json:"doctorId,omitempty"`
	Items         []itemDTO `json:"items"`
	TotalAmount   float64   `json:"totalAmount"`
	PaidAmount    float64   `json:"paidAmount"`
	Status        string    `json:"status"`
	PaymentMethod *string   `json:"paymentMethod,omitempty"`
	Notes         *string   `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type patientDTO struct {
	ID               string    `json:"id,omitempty"`
	MongoID          string    `json:"_id,omitempty"`
	FirstName        string    `json:"firstName"`
	LastName         string    `json:"lastName"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone"`
	DateOfBirth      string    `json:"dateOfBirth"`
	Gender           string    `json:"gender"`
	Address          string    `json:"address"`
	EmergencyContact string    `json:"emergencyContact"`
	EmergencyPhone   string    `json:"emergencyPhone"`
	MedicalHistory   *string   `json:"medicalHistory,omitempty"`
	Allergies        *string   `json:"allergies,omitempty"`
	BloodGroup       *string   `json:"bloodGroup,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// amount rounds an upstream float to cents.
func amount(field string, f float64) (money.Money, error) {
	m, err := money.FromDecimal(decimal.NewFromFloat(f).Round(2))
	if err != nil {
		return money.Money{}, fmt.Errorf("%s: %w", field, err)
	}
	return m, nil
}

func (d *billDTO) toBill() (*billing.Bill, error) {
	b := &billing.Bill{
		ID:            firstNonEmpty(d.ID, d.MongoID),
		PatientID:     d.PatientID,
		DoctorID:      d.DoctorID,
		Items:         make([]billing.BillItem, 0, len(d.Items)),
		Status:        billing.Status(d.Status),
		PaymentMethod: d.PaymentMethod,
		Notes:         d.Notes,
		CreatedAt:     d.CreatedAt,
	}
	var err error
	if b.TotalAmount, err = amount("totalAmount", d.TotalAmount); err != nil {
		return nil, fmt.Errorf("bill %s: %w", b.ID, err)
	}
	if b.PaidAmount, err = amount("paidAmount", d.PaidAmount); err != nil {
		return nil, fmt.Errorf("bill %s: %w", b.ID, err)
	}
	for i, it := range d.Items {
		item := billing.BillItem{
			ID:          firstNonEmpty(it.ID, it.MongoID),
			Description: it.Description,
			Quantity:    it.Quantity,
			Type:        billing.ItemType(it.Type),
		}
		if item.UnitPrice, err = amount("unitPrice", it.UnitPrice); err != nil {
			return nil, fmt.Errorf("bill %s item %d: %w", b.ID, i, err)
		}
		if item.TotalPrice, err = amount("totalPrice", it.TotalPrice); err != nil {
			return nil, fmt.Errorf("bill %s item %d: %w", b.ID, i, err)
		}
		b.Items = append(b.Items, item)
	}
	return b, nil
}

func fromDraft(d *billing.BillDraft) billDTO {
	out := billDTO{
		PatientID:     d.PatientID,
		DoctorID:      d.DoctorID,
		Items:         make([]itemDTO, 0, len(d.Items)),
		TotalAmount:   d.TotalAmount.Float64(),
		PaidAmount:    d.PaidAmount.Float64(),
		Status:        string(d.Status),
		PaymentMethod: d.PaymentMethod,
		Notes:         d.Notes,
	}
	for _, it := range d.Items {
		out.Items = append(out.Items, itemDTO{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.Float64(),
			TotalPrice:  it.TotalPrice.Float64(),
			Type:        string(it.Type),
		})
	}
	return out
}

var dobLayouts = []string{time.RFC3339, "2006-01-02"}

func (d *patientDTO) toPatient() *identity.Patient {
	p := &identity.Patient{
		ID:               firstNonEmpty(d.ID, d.MongoID),
		FirstName:        d.FirstName,
		LastName:         d.LastName,
		Email:            d.Email,
		Phone:            d.Phone,
		Gender:           strings.ToLower(d.Gender),
		Address:          d.Address,
		EmergencyContact: d.EmergencyContact,
		EmergencyPhone:   d.EmergencyPhone,
		MedicalHistory:   d.MedicalHistory,
		Allergies:        d.Allergies,
		BloodGroup:       d.BloodGroup,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	for _, layout := range dobLayouts {
		if t, err := time.Parse(layout, d.DateOfBirth); err == nil {
			p.DateOfBirth = &t
			break
		}
	}
	return p
}
