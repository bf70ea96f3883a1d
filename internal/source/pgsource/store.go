// Package pgsource is the bill source backed by the service's own postgres
// database. Amounts are stored as integer cents.
package pgsource

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/money"
	"github.com/hms/hms/internal/platform/db"
)

// postgres error codes
const (
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func New(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

func (s *Store) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const billCols = `id, patient_id, doctor_id, total_cents, paid_cents, status,
	payment_method, notes, created_at`

func scanBill(row pgx.Row) (*billing.Bill, error) {
	var b billing.Bill
	var total, paid int64
	var status string
	err := row.Scan(&b.ID, &b.PatientID, &b.DoctorID, &total, &paid, &status,
		&b.PaymentMethod, &b.Notes, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.TotalAmount = money.FromCents(total)
	b.PaidAmount = money.FromCents(paid)
	b.Status = billing.Status(status)
	b.Items = []billing.BillItem{}
	return &b, nil
}

type itemRow struct {
	billID string
	item   billing.BillItem
}

// attachItems appends each item to its bill. Items must arrive in position
// order; rows for unknown bills are ignored.
func attachItems(bills []*billing.Bill, rows []itemRow) {
	byID := make(map[string]*billing.Bill, len(bills))
	for _, b := range bills {
		byID[b.ID] = b
	}
	for _, r := range rows {
		if b, ok := byID[r.billID]; ok {
			b.Items = append(b.Items, r.item)
		}
	}
}

func (s *Store) loadItems(ctx context.Context, bills []*billing.Bill) error {
	if len(bills) == 0 {
		return nil
	}
	ids := make([]string, len(bills))
	for i, b := range bills {
		ids[i] = b.ID
	}
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT bill_id, id, description, quantity, unit_price_cents, total_price_cents, item_type
		FROM bill_items WHERE bill_id = ANY($1)
		ORDER BY bill_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	var items []itemRow
	for rows.Next() {
		var r itemRow
		var unit, total int64
		var typ string
		if err := rows.Scan(&r.billID, &r.item.ID, &r.item.Description, &r.item.Quantity, &unit, &total, &typ); err != nil {
			return err
		}
		r.item.UnitPrice = money.FromCents(unit)
		r.item.TotalPrice = money.FromCents(total)
		r.item.Type = billing.ItemType(typ)
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	attachItems(bills, items)
	return nil
}

func (s *Store) FetchBills(ctx context.Context) ([]*billing.Bill, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+billCols+` FROM bills ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query bills: %w", err)
	}
	defer rows.Close()

	var bills []*billing.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bill: %w", err)
		}
		bills = append(bills, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bills: %w", err)
	}
	if err := s.loadItems(ctx, bills); err != nil {
		return nil, fmt.Errorf("load bill items: %w", err)
	}
	return bills, nil
}

const patientCols = `id, first_name, last_name, email, phone, date_of_birth, gender,
	address, emergency_contact, emergency_phone, medical_history, allergies, blood_group,
	created_at, updated_at`

func (s *Store) FetchPatients(ctx context.Context) ([]*identity.Patient, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patients ORDER BY last_name, first_name, id`)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	defer rows.Close()

	var patients []*identity.Patient
	for rows.Next() {
		var p identity.Patient
		if err := rows.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.Phone, &p.DateOfBirth, &p.Gender,
			&p.Address, &p.EmergencyContact, &p.EmergencyPhone, &p.MedicalHistory, &p.Allergies, &p.BloodGroup,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		patients = append(patients, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patients: %w", err)
	}
	return patients, nil
}

func (s *Store) CreateBill(ctx context.Context, d *billing.BillDraft) (*billing.Bill, error) {
	id := uuid.NewString()
	err := db.InTx(ctx, s.pool, func(ctx context.Context) error {
		q := s.conn(ctx)
		if _, err := q.Exec(ctx, `
			INSERT INTO bills (id, patient_id, doctor_id, total_cents, paid_cents, status, payment_method, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, d.PatientID, d.DoctorID, d.TotalAmount.Cents(), d.PaidAmount.Cents(), string(d.Status),
			d.PaymentMethod, d.Notes,
		); err != nil {
			return mapPgError(err)
		}
		for i, it := range d.Items {
			if _, err := q.Exec(ctx, `
				INSERT INTO bill_items (id, bill_id, position, description, quantity,
					unit_price_cents, total_price_cents, item_type)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				uuid.NewString(), id, i, it.Description, it.Quantity,
				it.UnitPrice.Cents(), it.TotalPrice.Cents(), string(it.Type),
			); err != nil {
				return fmt.Errorf("insert item %d: %w", i, mapPgError(err))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b, err := s.getBill(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("bill_id", id).Str("patient_id", d.PatientID).Int("items", len(d.Items)).Msg("bill created")
	return b, nil
}

func (s *Store) UpdateBillStatus(ctx context.Context, id string, status billing.Status) (*billing.Bill, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", billing.ErrInvalidStatus, status)
	}
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE bills SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return nil, mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: %s", billing.ErrBillNotFound, id)
	}
	return s.getBill(ctx, id)
}

// UpdatePayment records a new paid amount and moves the stored status to the
// one the amounts imply. A cancelled bill stays cancelled.
func (s *Store) UpdatePayment(ctx context.Context, id string, paid money.Money, method *string) (*billing.Bill, error) {
	var out *billing.Bill
	err := db.InTx(ctx, s.pool, func(ctx context.Context) error {
		q := s.conn(ctx)
		b, err := scanBill(q.QueryRow(ctx, `SELECT `+billCols+` FROM bills WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", billing.ErrBillNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("load bill: %w", err)
		}

		status := billing.ClassifyStatus(b.TotalAmount, paid, b.Status)
		if _, err := q.Exec(ctx, `
			UPDATE bills SET paid_cents = $2, status = $3,
				payment_method = COALESCE($4, payment_method), updated_at = NOW()
			WHERE id = $1`,
			id, paid.Cents(), string(status), method,
		); err != nil {
			return mapPgError(err)
		}
		out, err = s.getBill(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) getBill(ctx context.Context, id string) (*billing.Bill, error) {
	b, err := scanBill(s.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM bills WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", billing.ErrBillNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load bill: %w", err)
	}
	if err := s.loadItems(ctx, []*billing.Bill{b}); err != nil {
		return nil, fmt.Errorf("load bill items: %w", err)
	}
	return b, nil
}

// mapPgError turns constraint violations into billing errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %w", billing.ErrMissingPatient, err)
	case codeCheckViolation:
		if pgErr.ConstraintName == "bills_status_check" {
			return fmt.Errorf("%w: %w", billing.ErrInvalidStatus, err)
		}
	}
	return err
}
