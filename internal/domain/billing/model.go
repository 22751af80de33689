package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/carelink/carelink/internal/domain/scheduling"
)

// Invoice statuses.
const (
	InvoiceInProgress = "InProgress"
	InvoicePaidInFull = "PaidInFull"
	InvoiceContested  = "Contested"
	InvoiceCancelled  = "Cancelled"
)

// invoiceTransitions lists the allowed status moves. PaidInFull and
// Cancelled are terminal.
var invoiceTransitions = map[string][]string{
	InvoiceInProgress: {InvoicePaidInFull, InvoiceContested, InvoiceCancelled},
	InvoiceContested:  {InvoicePaidInFull, InvoiceCancelled},
}

// InvoiceTransitionAllowed reports whether from may move to to.
func InvoiceTransitionAllowed(from, to string) bool {
	for _, t := range invoiceTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// OpenStatus reports whether status blocks patient anonymization.
func OpenStatus(status string) bool {
	return status == InvoiceInProgress || status == InvoiceContested
}

// Invoice covers the half-open period [PeriodStart, PeriodEnd) for one
// patient. At most one non-cancelled invoice may exist per (patient, period).
type Invoice struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	PatientID      uuid.UUID       `db:"patient_id" json:"patient_id"`
	PeriodStart    time.Time       `db:"period_start" json:"period_start"`
	PeriodEnd      time.Time       `db:"period_end" json:"period_end"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Status         string          `db:"status" json:"status"`
	NeedsRateSetup bool            `db:"needs_rate_setup" json:"needs_rate_setup"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// InvoiceLine prices one appointment. Window and status are copied from the
// time slot at generation time so later slot edits do not silently rewrite
// issued invoices.
type InvoiceLine struct {
	ID         uuid.UUID            `db:"id" json:"id"`
	InvoiceID  uuid.UUID            `db:"invoice_id" json:"invoice_id"`
	Date       time.Time            `db:"date" json:"date"`
	StartTime  scheduling.TimeOfDay `db:"start_time" json:"start_time"`
	EndTime    scheduling.TimeOfDay `db:"end_time" json:"end_time"`
	Price      decimal.Decimal      `db:"price" json:"price"`
	Status     string               `db:"status" json:"status"`
	ProviderID uuid.UUID            `db:"provider_id" json:"provider_id"`
	ServiceID  *uuid.UUID           `db:"service_id" json:"service_id,omitempty"`
	TimeSlotID uuid.UUID            `db:"time_slot_id" json:"time_slot_id"`
	CreatedAt  time.Time            `db:"created_at" json:"created_at"`
}

// InvoiceWithLines is the detail payload.
type InvoiceWithLines struct {
	Invoice *Invoice       `json:"invoice"`
	Lines   []*InvoiceLine `json:"lines"`
}

// BillableSlot is the projection of a time slot eligible for invoicing:
// status completed or confirmed, on a schedule for the invoice's patient
// inside the period.
type BillableSlot struct {
	TimeSlotID uuid.UUID
	Date       time.Time
	StartTime  scheduling.TimeOfDay
	EndTime    scheduling.TimeOfDay
	Status     string
	ProviderID uuid.UUID
	ServiceID  *uuid.UUID
}
