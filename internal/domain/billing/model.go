package billing

import (
	"time"

	"github.com/hms/hms/internal/money"
)

// Status is the stored billing status of a Bill.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPartial   Status = "partial"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusPending:   true,
	StatusPartial:   true,
	StatusPaid:      true,
	StatusCancelled: true,
}

// Valid reports whether s is one of the four billing statuses.
func (s Status) Valid() bool { return validStatuses[s] }

// ItemType categorises a bill line.
type ItemType string

const (
	ItemConsultation ItemType = "consultation"
	ItemMedicine     ItemType = "medicine"
	ItemTest         ItemType = "test"
	ItemProcedure    ItemType = "procedure"
	ItemOther        ItemType = "other"
)

var validItemTypes = map[ItemType]bool{
	ItemConsultation: true,
	ItemMedicine:     true,
	ItemTest:         true,
	ItemProcedure:    true,
	ItemOther:        true,
}

func (t ItemType) Valid() bool { return validItemTypes[t] }

// BillItem is one printable line of a bill. TotalPrice is stored as entered
// and is not recomputed from Quantity and UnitPrice.
type BillItem struct {
	ID          string      `json:"id,omitempty"`
	Description string      `json:"description"`
	Quantity    int         `json:"quantity"`
	UnitPrice   money.Money `json:"unit_price"`
	TotalPrice  money.Money `json:"total_price"`
	Type        ItemType    `json:"type"`
}

// Bill is the financial record of a patient visit. TotalAmount and
// PaidAmount are stored independently of Items.
type Bill struct {
	ID            string      `json:"id"`
	PatientID     string      `json:"patient_id"`
	DoctorID      *string     `json:"doctor_id,omitempty"`
	Items         []BillItem  `json:"items"`
	TotalAmount   money.Money `json:"total_amount"`
	PaidAmount    money.Money `json:"paid_amount"`
	Status        Status      `json:"status"`
	PaymentMethod *string     `json:"payment_method,omitempty"`
	Notes         *string     `json:"notes,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}
