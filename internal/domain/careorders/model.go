package careorders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service is a catalog entry. Hourly-rate services resolve their price from
// the patient's hourly_rate instead of the Price column.
type Service struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Description *string         `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Prescription statuses.
const (
	PrescriptionPending  = "pending"
	PrescriptionAccepted = "accepted"
	PrescriptionRejected = "rejected"
)

// Prescription is a clinical directive referenced by zero or more time slots.
type Prescription struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	ServiceID        uuid.UUID  `db:"service_id" json:"service_id"`
	StartDate        time.Time  `db:"start_date" json:"start_date"`
	EndDate          *time.Time `db:"end_date" json:"end_date,omitempty"`
	FrequencyPerWeek int        `db:"frequency_per_week" json:"frequency_per_week"`
	Status           string     `db:"status" json:"status"`
	Medication       *string    `db:"medication" json:"medication,omitempty"`
	Instructions     *string    `db:"instructions" json:"instructions,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// ServiceDemand statuses.
const (
	DemandPending    = "Pending"
	DemandApproved   = "Approved"
	DemandRejected   = "Rejected"
	DemandInProgress = "InProgress"
	DemandCompleted  = "Completed"
)

// demandTransitions lists the allowed status moves. Rejected and Completed
// are terminal.
var demandTransitions = map[string][]string{
	DemandPending:    {DemandApproved, DemandRejected},
	DemandApproved:   {DemandInProgress, DemandRejected},
	DemandInProgress: {DemandCompleted},
}

// DemandTransitionAllowed reports whether a demand may move from one status
// to another.
func DemandTransitionAllowed(from, to string) bool {
	for _, t := range demandTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ServiceDemand is a patient- or family-initiated request for care,
// preceding any appointment.
type ServiceDemand struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	SentByID           uuid.UUID  `db:"sent_by_id" json:"sent_by_id"`
	ServiceID          uuid.UUID  `db:"service_id" json:"service_id"`
	Title              string     `db:"title" json:"title"`
	Description        *string    `db:"description" json:"description,omitempty"`
	Reason             *string    `db:"reason" json:"reason,omitempty"`
	Priority           string     `db:"priority" json:"priority"`
	PreferredStartDate *time.Time `db:"preferred_start_date" json:"preferred_start_date,omitempty"`
	Frequency          *string    `db:"frequency" json:"frequency,omitempty"`
	DurationWeeks      *int       `db:"duration_weeks" json:"duration_weeks,omitempty"`
	Status             string     `db:"status" json:"status"`
	AssignedProviderID *uuid.UUID `db:"assigned_provider_id" json:"assigned_provider_id,omitempty"`
	ManagedByID        *uuid.UUID `db:"managed_by_id" json:"managed_by_id,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}
