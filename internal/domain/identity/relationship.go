package identity

import (
	"context"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/platform/apperror"
)

// ScheduleLinkChecker answers whether a provider has any schedule with a
// patient. Implemented by the scheduling repository.
type ScheduleLinkChecker interface {
	ProviderHasScheduleWith(ctx context.Context, providerID, patientID uuid.UUID) (bool, error)
}

// Relationships implements the access guard's relationship lookups over the
// identity repositories and the schedule link table.
type Relationships struct {
	patients  PatientRepository
	family    FamilyRepository
	providers ProviderRepository
	schedules ScheduleLinkChecker
}

func NewRelationships(patients PatientRepository, family FamilyRepository,
	providers ProviderRepository, schedules ScheduleLinkChecker) *Relationships {
	return &Relationships{patients: patients, family: family, providers: providers, schedules: schedules}
}

func (r *Relationships) PatientOwnedBy(ctx context.Context, patientID, userID uuid.UUID) (bool, error) {
	p, err := r.patients.GetByID(ctx, patientID)
	if err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return p.UserID == userID, nil
}

func (r *Relationships) FamilyLinked(ctx context.Context, userID, patientID uuid.UUID) (bool, error) {
	return r.family.Exists(ctx, userID, patientID)
}

func (r *Relationships) ProviderSeesPatient(ctx context.Context, userID, patientID uuid.UUID) (bool, error) {
	prov, err := r.providers.GetByUserID(ctx, userID)
	if err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return r.schedules.ProviderHasScheduleWith(ctx, prov.ID, patientID)
}
