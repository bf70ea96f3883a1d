package billing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/money"
	"github.com/hms/hms/pkg/filter"
	"github.com/hms/hms/pkg/pagination"
)

// Snapshot is an immutable view of the bill and patient collections as of
// one fetch. Stale is set when a later refresh failed, meaning the data may
// no longer reflect the source. Bills and Patients never hold nil entries.
type Snapshot struct {
	Bills     []*Bill
	Patients  []*identity.Patient
	Version   uint64
	FetchedAt time.Time
	Stale     bool

	byID map[string]*identity.Patient
}

func newSnapshot(bills []*Bill, patients []*identity.Patient, version uint64, at time.Time) *Snapshot {
	s := &Snapshot{
		Bills:     make([]*Bill, 0, len(bills)),
		Patients:  make([]*identity.Patient, 0, len(patients)),
		Version:   version,
		FetchedAt: at,
		byID:      make(map[string]*identity.Patient, len(patients)),
	}
	for _, b := range bills {
		if b != nil {
			s.Bills = append(s.Bills, b)
		}
	}
	for _, p := range patients {
		if p != nil {
			s.Patients = append(s.Patients, p)
			s.byID[p.ID] = p
		}
	}
	return s
}

func (s *Snapshot) markStale() *Snapshot {
	cp := *s
	cp.Stale = true
	return &cp
}

// PatientName returns the display name of a patient, or
// identity.UnknownPatientName when the id does not resolve.
func (s *Snapshot) PatientName(id string) string {
	if p, ok := s.byID[id]; ok {
		return p.DisplayName()
	}
	return identity.UnknownPatientName
}

func (s *Snapshot) engine() filter.Engine[*Bill] {
	return filter.Engine[*Bill]{
		SearchFields: func(b *Bill) []string {
			return []string{s.PatientName(b.PatientID), b.ID}
		},
		FieldValue: func(b *Bill) string { return string(b.Status) },
	}
}

// BillRow is a bill as shown in the list view.
type BillRow struct {
	*Bill
	PatientName    string         `json:"patient_name"`
	Balance        money.Money    `json:"balance"`
	Reconciliation Reconciliation `json:"reconciliation"`
}

// BillPage is one page of the bill list.
type BillPage struct {
	Rows        []BillRow `json:"rows"`
	Page        int       `json:"page"`
	PageSize    int       `json:"page_size"`
	TotalPages  int       `json:"total_pages"`
	TotalItems  int       `json:"total_items"`
	Version     uint64    `json:"version"`
	Stale       bool      `json:"stale"`
	EmptyReason string    `json:"empty_reason,omitempty"`
}

// Ledger is the in-memory queryable view over the bill collection. It holds
// no write-back cache: every mutation goes to the source and is followed by
// a full refresh.
type Ledger struct {
	source   Source
	logger   zerolog.Logger
	notifier Notifier
	pageSize int

	snap atomic.Pointer[Snapshot]
	// mu serialises refreshes so versions are strictly increasing.
	mu sync.Mutex

	// RefreshInterval controls the background refresh in Start. Zero
	// disables it.
	RefreshInterval time.Duration
}

// NewLedger creates a ledger over source. The ledger is empty and stale
// until the first successful Refresh.
func NewLedger(source Source, logger zerolog.Logger, pageSize int) *Ledger {
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	l := &Ledger{source: source, logger: logger, pageSize: pageSize}
	empty := newSnapshot(nil, nil, 0, time.Time{})
	empty.Stale = true
	l.snap.Store(empty)
	return l
}

// SetNotifier registers the subscriber told about successful refreshes.
func (l *Ledger) SetNotifier(n Notifier) {
	l.notifier = n
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (l *Ledger) Snapshot() *Snapshot {
	return l.snap.Load()
}

// LookupPatientName returns "<first> <last>" or "Unknown Patient".
func (l *Ledger) LookupPatientName(patientID string) string {
	return l.Snapshot().PatientName(patientID)
}

// Patient implements PatientLookup over the current snapshot.
func (l *Ledger) Patient(id string) (*identity.Patient, bool) {
	p, ok := l.Snapshot().byID[id]
	return p, ok
}

// Patients returns the loaded patients in source order.
func (l *Ledger) Patients() []*identity.Patient {
	return l.Snapshot().Patients
}

// ListPage filters the loaded bills by stored status, searches them by
// patient name and bill id, and returns the requested page.
func (l *Ledger) ListPage(query string, status Status, pageIndex int) BillPage {
	s := l.Snapshot()
	q := filter.Query{Text: query, Field: string(status), Page: pageIndex, PageSize: l.pageSize}
	page := s.engine().Run(s.Bills, q)

	rows := make([]BillRow, 0, len(page.Items))
	for _, b := range page.Items {
		rows = append(rows, BillRow{
			Bill:           b,
			PatientName:    s.PatientName(b.PatientID),
			Balance:        ComputeBalance(b),
			Reconciliation: Reconcile(b),
		})
	}
	return BillPage{
		Rows:        rows,
		Page:        page.Page,
		PageSize:    page.PageSize,
		TotalPages:  page.TotalPages,
		TotalItems:  page.TotalItems,
		Version:     s.Version,
		Stale:       s.Stale,
		EmptyReason: filter.EmptyReason(page, q),
	}
}

// Get returns a loaded bill by id.
func (l *Ledger) Get(id string) (*Bill, error) {
	for _, b := range l.Snapshot().Bills {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, ErrBillNotFound
}

// BillsForPatient returns the loaded bills of one patient in source order.
func (l *Ledger) BillsForPatient(patientID string) []*Bill {
	out := []*Bill{}
	for _, b := range l.Snapshot().Bills {
		if b.PatientID == patientID {
			out = append(out, b)
		}
	}
	return out
}

// Summary aggregates the loaded bills.
func (l *Ledger) Summary() Summary {
	return Aggregate(l.Snapshot().Bills)
}

// Refresh reloads bills and patients from the source and swaps in a new
// snapshot. On failure the previous snapshot is kept, marked stale, and the
// error wraps ErrFetchFailure.
func (l *Ledger) Refresh(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	prev := l.snap.Load()

	bills, err := l.source.FetchBills(ctx)
	if err != nil {
		l.snap.Store(prev.markStale())
		return fmt.Errorf("%w: bills: %w", ErrFetchFailure, err)
	}
	patients, err := l.source.FetchPatients(ctx)
	if err != nil {
		l.snap.Store(prev.markStale())
		return fmt.Errorf("%w: patients: %w", ErrFetchFailure, err)
	}

	next := newSnapshot(bills, patients, prev.Version+1, time.Now().UTC())
	l.snap.Store(next)

	mismatched := 0
	for _, b := range next.Bills {
		if r := Reconcile(b); !r.Consistent {
			mismatched++
			l.logger.Warn().
				Str("bill_id", b.ID).
				Str("stored", string(r.Stored)).
				Str("implied", string(r.Implied)).
				Msg("bill status does not match amounts")
		}
	}
	l.logger.Info().
		Int("bills", len(next.Bills)).
		Int("patients", len(next.Patients)).
		Int("mismatched", mismatched).
		Uint64("version", next.Version).
		Dur("duration", time.Since(start)).
		Msg("ledger refreshed")

	if l.notifier != nil {
		l.notifier.LedgerRefreshed(ctx, next.Version, len(next.Bills))
	}
	return nil
}

// Create validates in, creates the bill at the source and refreshes. A
// validation failure returns ValidationErrors without calling the source.
func (l *Ledger) Create(ctx context.Context, in DraftInput) (*Bill, error) {
	draft, err := CreateDraft(in)
	if err != nil {
		return nil, err
	}
	bill, err := l.source.CreateBill(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("%w: create bill: %w", ErrMutationFailure, err)
	}
	l.refreshAfter(ctx, "create", bill.ID)
	return bill, nil
}

// UpdateStatus forwards a status change to the source and refreshes. The
// status is not checked here; the source rejects unknown values.
func (l *Ledger) UpdateStatus(ctx context.Context, id string, status Status) (*Bill, error) {
	bill, err := l.source.UpdateBillStatus(ctx, id, status)
	if err != nil {
		return nil, fmt.Errorf("%w: update status of %s: %w", ErrMutationFailure, id, err)
	}
	l.refreshAfter(ctx, "update_status", id)
	return bill, nil
}

// UpdatePayment records a new paid amount and optional payment method.
func (l *Ledger) UpdatePayment(ctx context.Context, id string, paid money.Money, method *string) (*Bill, error) {
	if paid.IsNegative() {
		return nil, ValidationErrors{{Field: "paid_amount", Message: "must not be negative"}}
	}
	bill, err := l.source.UpdatePayment(ctx, id, paid, method)
	if err != nil {
		return nil, fmt.Errorf("%w: update payment of %s: %w", ErrMutationFailure, id, err)
	}
	l.refreshAfter(ctx, "update_payment", id)
	return bill, nil
}

// refreshAfter reloads after a successful mutation. A failed reload leaves
// the snapshot marked stale; the mutation itself still succeeded.
func (l *Ledger) refreshAfter(ctx context.Context, op, billID string) {
	if err := l.Refresh(ctx); err != nil {
		l.logger.Warn().Err(err).
			Str("op", op).
			Str("bill_id", billID).
			Msg("refresh after mutation failed, ledger is stale")
	}
}

// Start refreshes every RefreshInterval until ctx is cancelled.
func (l *Ledger) Start(ctx context.Context) {
	if l.RefreshInterval <= 0 {
		return
	}
	ticker := time.NewTicker(l.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Refresh(ctx); err != nil {
				l.logger.Error().Err(err).Msg("periodic ledger refresh failed")
			}
		}
	}
}
