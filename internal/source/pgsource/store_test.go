package pgsource

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/money"
)

func TestMapPgError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"foreign key", &pgconn.PgError{Code: codeForeignKeyViolation, ConstraintName: "bills_patient_id_fkey"}, billing.ErrMissingPatient},
		{"status check", &pgconn.PgError{Code: codeCheckViolation, ConstraintName: "bills_status_check"}, billing.ErrInvalidStatus},
		{"other check", &pgconn.PgError{Code: codeCheckViolation, ConstraintName: "bills_total_cents_check"}, nil},
		{"not a pg error", errors.New("boom"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapPgError(tt.err)
			if tt.want == nil {
				if got != tt.err {
					t.Errorf("expected error to pass through, got %v", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAttachItems(t *testing.T) {
	b1 := &billing.Bill{ID: "B1", Items: []billing.BillItem{}}
	b2 := &billing.Bill{ID: "B2", Items: []billing.BillItem{}}
	rows := []itemRow{
		{billID: "B1", item: billing.BillItem{ID: "I1", Description: "Consult", TotalPrice: money.FromCents(15000)}},
		{billID: "B2", item: billing.BillItem{ID: "I3", Description: "X-Ray"}},
		{billID: "B1", item: billing.BillItem{ID: "I2", Description: "Paracetamol"}},
		{billID: "GONE", item: billing.BillItem{ID: "I9"}},
	}

	attachItems([]*billing.Bill{b1, b2}, rows)

	if len(b1.Items) != 2 || b1.Items[0].ID != "I1" || b1.Items[1].ID != "I2" {
		t.Errorf("unexpected B1 items: %+v", b1.Items)
	}
	if len(b2.Items) != 1 || b2.Items[0].ID != "I3" {
		t.Errorf("unexpected B2 items: %+v", b2.Items)
	}
}

func TestUpdateBillStatus_RejectsUnknownStatus(t *testing.T) {
	s := &Store{}
	if _, err := s.UpdateBillStatus(context.Background(), "B1", billing.Status("refunded")); !errors.Is(err, billing.ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}
