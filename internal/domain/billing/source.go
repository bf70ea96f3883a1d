package billing

import (
	"context"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/money"
)

// Source is the system of record for bills and patients. Implementations
// return ErrBillNotFound (possibly wrapped) for unknown bill ids, and reject
// statuses outside the four-member enum themselves.
type Source interface {
	FetchBills(ctx context.Context) ([]*Bill, error)
	FetchPatients(ctx context.Context) ([]*identity.Patient, error)
	CreateBill(ctx context.Context, d *BillDraft) (*Bill, error)
	UpdateBillStatus(ctx context.Context, id string, status Status) (*Bill, error)
	UpdatePayment(ctx context.Context, id string, paid money.Money, method *string) (*Bill, error)
}

// PatientLookup resolves a patient by id.
type PatientLookup interface {
	Patient(id string) (*identity.Patient, bool)
}

// InvoiceRenderer renders a bill into a PDF document. It returns
// ErrMissingPatient when the bill's patient does not resolve.
type InvoiceRenderer interface {
	RenderPDF(b *Bill, patients PatientLookup) ([]byte, error)
}

// Notifier is told about every successful ledger refresh.
type Notifier interface {
	LedgerRefreshed(ctx context.Context, version uint64, bills int)
}

// Notifiers fans a refresh out to several subscribers in order.
type Notifiers []Notifier

func (ns Notifiers) LedgerRefreshed(ctx context.Context, version uint64, bills int) {
	for _, n := range ns {
		n.LedgerRefreshed(ctx, version, bills)
	}
}
