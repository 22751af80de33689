package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/carelink/carelink/internal/domain/audit"
	"github.com/carelink/carelink/internal/platform/apperror"
	"github.com/carelink/carelink/internal/platform/db"
)

// OpenInvoiceChecker gates anonymization on the billing state. Implemented by
// the billing repository.
type OpenInvoiceChecker interface {
	// HasOpenInvoices reports whether the patient has any invoice in
	// InProgress or Contested.
	HasOpenInvoices(ctx context.Context, patientID uuid.UUID) (bool, error)
}

type Service struct {
	users     UserRepository
	patients  PatientRepository
	family    FamilyRepository
	providers ProviderRepository
	invoices  OpenInvoiceChecker
	runner    db.Runner
	audit     *audit.Service
	logger    zerolog.Logger
}

func NewService(users UserRepository, patients PatientRepository, family FamilyRepository,
	providers ProviderRepository, invoices OpenInvoiceChecker, runner db.Runner,
	auditSvc *audit.Service, logger zerolog.Logger) *Service {
	return &Service{
		users:     users,
		patients:  patients,
		family:    family,
		providers: providers,
		invoices:  invoices,
		runner:    runner,
		audit:     auditSvc,
		logger:    logger,
	}
}

// -- Users --

// CreateUser registers a user in the inactive state with a fresh activation
// token. Activation happens through ActivateUser.
func (s *Service) CreateUser(ctx context.Context, u *User) error {
	if u.Email == "" || u.FirstName == "" || u.LastName == "" {
		return apperror.New(apperror.KindInvalidInput, "email, first_name and last_name are required")
	}
	token := uuid.NewString()
	u.IsActive = false
	u.ActivationToken = &token
	return s.users.Create(ctx, u)
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, role, limit, offset)
}

// ActivateUser flips the user active and clears the activation token.
func (s *Service) ActivateUser(ctx context.Context, token string) (*User, error) {
	u, err := s.users.GetByActivationToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if u.IsActive {
		return u, nil
	}
	now := time.Now()
	u.IsActive = true
	u.ActivationToken = nil
	u.ActivatedAt = &now
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Anonymize irreversibly redacts a user's PII. Refused while the user's
// patient has any invoice in InProgress or Contested. Fields are rewritten in
// place; no rows are deleted.
func (s *Service) Anonymize(ctx context.Context, userID uuid.UUID) error {
	return s.runner.InTx(ctx, func(ctx context.Context) error {
		u, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if u.IsAnonymized {
			return nil
		}

		patient, err := s.patients.GetByUserID(ctx, userID)
		if err != nil {
			if !apperror.Is(err, apperror.KindNotFound) {
				return err
			}
			patient = nil
		}
		if patient != nil {
			open, err := s.invoices.HasOpenInvoices(ctx, patient.ID)
			if err != nil {
				return err
			}
			if open {
				return apperror.New(apperror.KindConflict,
					"cannot anonymize: patient has open invoices")
			}
		}

		u.FirstName = AnonymizedName
		u.LastName = AnonymizedName
		u.Email = fmt.Sprintf("anonymized-%s@redacted.invalid", u.ID)
		u.Phone = nil
		u.IsActive = false
		u.IsAnonymized = true
		u.ActivationToken = nil
		if err := s.users.Update(ctx, u); err != nil {
			return err
		}

		if patient != nil {
			patient.EmergencyContact = nil
			patient.IllnessNotes = nil
			patient.DoctorName = nil
			patient.DoctorPhone = nil
			patient.IsAnonymized = true
			if err := s.patients.Update(ctx, patient); err != nil {
				return err
			}
		}

		return s.audit.Log(ctx, audit.Record{
			Action:      audit.ActionAnonymizeUser,
			TargetModel: "User",
			TargetID:    userID,
		})
	})
}

// -- Patients --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if p.UserID == uuid.Nil {
		return apperror.New(apperror.KindInvalidInput, "user_id is required")
	}
	if p.HourlyRate != nil && !ValidHourlyRate(*p.HourlyRate) {
		return apperror.New(apperror.KindInvalidInput,
			"hourly_rate must be between %s and %s", MinHourlyRate, MaxHourlyRate)
	}
	if _, err := s.users.GetByID(ctx, p.UserID); err != nil {
		return err
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if p.HourlyRate != nil && !ValidHourlyRate(*p.HourlyRate) {
		return apperror.New(apperror.KindInvalidInput,
			"hourly_rate must be between %s and %s", MinHourlyRate, MaxHourlyRate)
	}
	return s.patients.Update(ctx, p)
}

// SetHourlyRate updates the patient-specific rate used by hourly-rate
// services. The band is enforced here, at write time, so the pricing resolver
// can trust any stored rate.
func (s *Service) SetHourlyRate(ctx context.Context, patientID uuid.UUID, rate decimal.Decimal) (*Patient, error) {
	if !ValidHourlyRate(rate) {
		return nil, apperror.New(apperror.KindInvalidInput,
			"hourly_rate must be between %s and %s", MinHourlyRate, MaxHourlyRate)
	}

	var patient *Patient
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.GetByID(ctx, patientID)
		if err != nil {
			return err
		}
		p.HourlyRate = &rate
		if err := s.patients.Update(ctx, p); err != nil {
			return err
		}
		patient = p
		return s.audit.Log(ctx, audit.Record{
			Action:      audit.ActionSetHourlyRate,
			TargetModel: "Patient",
			TargetID:    patientID,
			PatientID:   &patientID,
			Extra:       map[string]interface{}{"hourly_rate": rate.StringFixed(2)},
		})
	})
	return patient, err
}

// -- Family links --

func (s *Service) LinkFamily(ctx context.Context, fp *FamilyPatient) error {
	if fp.UserID == uuid.Nil || fp.PatientID == uuid.Nil {
		return apperror.New(apperror.KindInvalidInput, "user_id and patient_id are required")
	}
	exists, err := s.family.Exists(ctx, fp.UserID, fp.PatientID)
	if err != nil {
		return err
	}
	if exists {
		return apperror.New(apperror.KindConflict, "family link already exists")
	}
	if _, err := s.patients.GetByID(ctx, fp.PatientID); err != nil {
		return err
	}
	return s.family.Create(ctx, fp)
}

func (s *Service) UnlinkFamily(ctx context.Context, id uuid.UUID) error {
	return s.family.Delete(ctx, id)
}

func (s *Service) FamilyLinksForUser(ctx context.Context, userID uuid.UUID) ([]*FamilyPatient, error) {
	return s.family.ListByUser(ctx, userID)
}

// -- Providers --

func (s *Service) CreateProvider(ctx context.Context, p *Provider) error {
	if p.UserID == uuid.Nil {
		return apperror.New(apperror.KindInvalidInput, "user_id is required")
	}
	if _, err := s.users.GetByID(ctx, p.UserID); err != nil {
		return err
	}
	return s.providers.Create(ctx, p)
}

func (s *Service) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	return s.providers.GetByID(ctx, id)
}

func (s *Service) ListProviders(ctx context.Context, limit, offset int) ([]*Provider, int, error) {
	return s.providers.List(ctx, limit, offset)
}

func (s *Service) UpdateProvider(ctx context.Context, p *Provider) error {
	return s.providers.Update(ctx, p)
}
