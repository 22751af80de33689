package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action types recorded by the platform.
const (
	ActionCreateSchedule     = "CREATE_SCHEDULE"
	ActionUpdateTimeSlot     = "UPDATE_TIMESLOT"
	ActionDeleteAppointment  = "DELETE_APPOINTMENT"
	ActionGenerateInvoice    = "GENERATE_INVOICE"
	ActionUpdateInvoice      = "UPDATE_INVOICE"
	ActionAnonymizeUser      = "ANONYMIZE_USER"
	ActionSetHourlyRate      = "SET_HOURLY_RATE"
	ActionCreateDemand       = "CREATE_SERVICE_DEMAND"
	ActionUpdateDemand       = "UPDATE_SERVICE_DEMAND"
	ActionCreatePrescription = "CREATE_PRESCRIPTION"
	ActionUpdatePrescription = "UPDATE_PRESCRIPTION"
)

// Entry is one append-only audit record. Rows are never updated or deleted.
type Entry struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	ActorID      uuid.UUID  `db:"actor_id" json:"actor_id"`
	ActorName    string     `db:"actor_name" json:"actor_name"`
	Action       string     `db:"action" json:"action"`
	TargetModel  string     `db:"target_model" json:"target_model"`
	TargetID     uuid.UUID  `db:"target_id" json:"target_id"`
	PatientID    *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	PatientName  *string    `db:"patient_name" json:"patient_name,omitempty"`
	ProviderID   *uuid.UUID `db:"provider_id" json:"provider_id,omitempty"`
	ProviderName *string    `db:"provider_name" json:"provider_name,omitempty"`
	// ExtraData is always a serialized JSON string, never a raw object.
	ExtraData string    `db:"extra_data" json:"extra_data"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
