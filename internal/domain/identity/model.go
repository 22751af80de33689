package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sentinel values written over PII during anonymization.
const (
	AnonymizedName  = "Anonymized"
	AnonymizedEmail = "anonymized@redacted.invalid"
)

// Hourly rate bounds in euros, enforced at write time.
var (
	MinHourlyRate = decimal.RequireFromString("0.94")
	MaxHourlyRate = decimal.RequireFromString("9.97")
)

// User maps to the app_user table. Users are created inactive and activated
// after email verification.
type User struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	Email           string     `db:"email" json:"email"`
	FirstName       string     `db:"first_name" json:"first_name"`
	LastName        string     `db:"last_name" json:"last_name"`
	Phone           *string    `db:"phone" json:"phone,omitempty"`
	Role            string     `db:"role" json:"role"`
	IsActive        bool       `db:"is_active" json:"is_active"`
	IsAnonymized    bool       `db:"is_anonymized" json:"is_anonymized"`
	ActivationToken *string    `db:"activation_token" json:"-"`
	ActivatedAt     *time.Time `db:"activated_at" json:"activated_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Patient maps to the patient table. Owned 1:1 by a User.
type Patient struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	UserID           uuid.UUID        `db:"user_id" json:"user_id"`
	Gender           *string          `db:"gender" json:"gender,omitempty"`
	BloodType        *string          `db:"blood_type" json:"blood_type,omitempty"`
	EmergencyContact *string          `db:"emergency_contact" json:"emergency_contact,omitempty"`
	AutonomyScore    *int             `db:"autonomy_score" json:"autonomy_score,omitempty"`
	IllnessNotes     *string          `db:"illness_notes" json:"illness_notes,omitempty"`
	DoctorName       *string          `db:"doctor_name" json:"doctor_name,omitempty"`
	DoctorPhone      *string          `db:"doctor_phone" json:"doctor_phone,omitempty"`
	HourlyRate       *decimal.Decimal `db:"hourly_rate" json:"hourly_rate,omitempty"`
	IsAnonymized     bool             `db:"is_anonymized" json:"is_anonymized"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// FamilyPatient links one family-role User to one Patient. Unique per
// (user, patient) pair; one user may be linked to many patients.
type FamilyPatient struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Link      string    `db:"link" json:"link"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Provider maps to the provider table. Owned 1:1 by a User.
type Provider struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	UserID           uuid.UUID  `db:"user_id" json:"user_id"`
	DefaultServiceID *uuid.UUID `db:"default_service_id" json:"default_service_id,omitempty"`
	IsInternal       bool       `db:"is_internal" json:"is_internal"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// ValidHourlyRate reports whether rate falls inside the allowed band.
func ValidHourlyRate(rate decimal.Decimal) bool {
	return rate.GreaterThanOrEqual(MinHourlyRate) && rate.LessThanOrEqual(MaxHourlyRate)
}
