package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type InvoiceRepository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// FindActive returns the non-cancelled invoice for the (patient, period)
	// key, or NotFound.
	FindActive(ctx context.Context, patientID uuid.UUID, periodStart, periodEnd time.Time) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	ListForPatient(ctx context.Context, patientID uuid.UUID) ([]*Invoice, error)
	// HasOpenInvoices reports whether the patient has any invoice in
	// InProgress or Contested. Gates anonymization.
	HasOpenInvoices(ctx context.Context, patientID uuid.UUID) (bool, error)
}

type LineRepository interface {
	Create(ctx context.Context, line *InvoiceLine) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*InvoiceLine, error)
}

// BillableRepository reads the scheduling tables for invoice generation.
type BillableRepository interface {
	// ListSlots returns the patient's billable slots with date in
	// [from, to).
	ListSlots(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*BillableSlot, error)
	// ListPatients returns the distinct patients with at least one billable
	// slot in [from, to).
	ListPatients(ctx context.Context, from, to time.Time) ([]uuid.UUID, error)
}
