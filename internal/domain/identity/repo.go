package identity

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByActivationToken(ctx context.Context, token string) (*User, error)
	Update(ctx context.Context, u *User) error
	List(ctx context.Context, role string, limit, offset int) ([]*User, int, error)
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}

type FamilyRepository interface {
	Create(ctx context.Context, fp *FamilyPatient) error
	GetByID(ctx context.Context, id uuid.UUID) (*FamilyPatient, error)
	// ListByUser returns every patient link the family user holds.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*FamilyPatient, error)
	// ListByPatient returns every family link pointing at the patient.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*FamilyPatient, error)
	Exists(ctx context.Context, userID, patientID uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type ProviderRepository interface {
	Create(ctx context.Context, p *Provider) error
	GetByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Provider, error)
	Update(ctx context.Context, p *Provider) error
	List(ctx context.Context, limit, offset int) ([]*Provider, int, error)
}
