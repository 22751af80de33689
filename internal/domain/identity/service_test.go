package identity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/carelink/carelink/internal/domain/audit"
	"github.com/carelink/carelink/internal/platform/apperror"
	"github.com/carelink/carelink/internal/platform/auth"
)

type mockUserRepo struct {
	users map[uuid.UUID]*User
}

func newMockUserRepo() *mockUserRepo { return &mockUserRepo{users: map[uuid.UUID]*User{}} }

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	m.users[u.ID] = u
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "user not found")
	}
	return u, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, apperror.New(apperror.KindNotFound, "user not found")
}

func (m *mockUserRepo) GetByActivationToken(_ context.Context, token string) (*User, error) {
	for _, u := range m.users {
		if u.ActivationToken != nil && *u.ActivationToken == token {
			return u, nil
		}
	}
	return nil, apperror.New(apperror.KindNotFound, "user not found")
}

func (m *mockUserRepo) Update(_ context.Context, u *User) error {
	if _, ok := m.users[u.ID]; !ok {
		return apperror.New(apperror.KindNotFound, "user not found")
	}
	m.users[u.ID] = u
	return nil
}

func (m *mockUserRepo) List(_ context.Context, role string, limit, offset int) ([]*User, int, error) {
	var out []*User
	for _, u := range m.users {
		if role == "" || u.Role == role {
			out = append(out, u)
		}
	}
	return out, len(out), nil
}

type mockPatientRepo struct {
	patients map[uuid.UUID]*Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: map[uuid.UUID]*Patient{}}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "patient not found")
	}
	return p, nil
}

func (m *mockPatientRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*Patient, error) {
	for _, p := range m.patients {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, apperror.New(apperror.KindNotFound, "patient not found")
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return apperror.New(apperror.KindNotFound, "patient not found")
	}
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	var out []*Patient
	for _, p := range m.patients {
		out = append(out, p)
	}
	return out, len(out), nil
}

type mockFamilyRepo struct {
	links map[uuid.UUID]*FamilyPatient
}

func newMockFamilyRepo() *mockFamilyRepo {
	return &mockFamilyRepo{links: map[uuid.UUID]*FamilyPatient{}}
}

func (m *mockFamilyRepo) Create(_ context.Context, fp *FamilyPatient) error {
	fp.ID = uuid.New()
	m.links[fp.ID] = fp
	return nil
}

func (m *mockFamilyRepo) GetByID(_ context.Context, id uuid.UUID) (*FamilyPatient, error) {
	fp, ok := m.links[id]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "family link not found")
	}
	return fp, nil
}

func (m *mockFamilyRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*FamilyPatient, error) {
	var out []*FamilyPatient
	for _, fp := range m.links {
		if fp.UserID == userID {
			out = append(out, fp)
		}
	}
	return out, nil
}

func (m *mockFamilyRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*FamilyPatient, error) {
	var out []*FamilyPatient
	for _, fp := range m.links {
		if fp.PatientID == patientID {
			out = append(out, fp)
		}
	}
	return out, nil
}

func (m *mockFamilyRepo) Exists(_ context.Context, userID, patientID uuid.UUID) (bool, error) {
	for _, fp := range m.links {
		if fp.UserID == userID && fp.PatientID == patientID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockFamilyRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.links[id]; !ok {
		return apperror.New(apperror.KindNotFound, "family link not found")
	}
	delete(m.links, id)
	return nil
}

type mockProviderRepo struct {
	providers map[uuid.UUID]*Provider
}

func newMockProviderRepo() *mockProviderRepo {
	return &mockProviderRepo{providers: map[uuid.UUID]*Provider{}}
}

func (m *mockProviderRepo) Create(_ context.Context, p *Provider) error {
	p.ID = uuid.New()
	m.providers[p.ID] = p
	return nil
}

func (m *mockProviderRepo) GetByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	p, ok := m.providers[id]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "provider not found")
	}
	return p, nil
}

func (m *mockProviderRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*Provider, error) {
	for _, p := range m.providers {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, apperror.New(apperror.KindNotFound, "provider not found")
}

func (m *mockProviderRepo) Update(_ context.Context, p *Provider) error {
	if _, ok := m.providers[p.ID]; !ok {
		return apperror.New(apperror.KindNotFound, "provider not found")
	}
	m.providers[p.ID] = p
	return nil
}

func (m *mockProviderRepo) List(_ context.Context, limit, offset int) ([]*Provider, int, error) {
	var out []*Provider
	for _, p := range m.providers {
		out = append(out, p)
	}
	return out, len(out), nil
}

type mockInvoiceChecker struct {
	open map[uuid.UUID]bool
}

func (m *mockInvoiceChecker) HasOpenInvoices(_ context.Context, patientID uuid.UUID) (bool, error) {
	return m.open[patientID], nil
}

// fakeRunner executes the unit of work directly without a database.
type fakeRunner struct{}

func (fakeRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (fakeRunner) AdvisoryLock(context.Context, int64) error { return nil }

type mockAuditRepo struct {
	entries []*audit.Entry
}

func (m *mockAuditRepo) Create(_ context.Context, e *audit.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockAuditRepo) Search(_ context.Context, _ audit.Filter, _, _ int) ([]*audit.Entry, int, error) {
	return m.entries, len(m.entries), nil
}

type fixture struct {
	svc       *Service
	users     *mockUserRepo
	patients  *mockPatientRepo
	family    *mockFamilyRepo
	providers *mockProviderRepo
	invoices  *mockInvoiceChecker
	auditRepo *mockAuditRepo
}

func newFixture() *fixture {
	f := &fixture{
		users:     newMockUserRepo(),
		patients:  newMockPatientRepo(),
		family:    newMockFamilyRepo(),
		providers: newMockProviderRepo(),
		invoices:  &mockInvoiceChecker{open: map[uuid.UUID]bool{}},
		auditRepo: &mockAuditRepo{},
	}
	auditSvc := audit.NewService(f.auditRepo, zerolog.Nop())
	f.svc = NewService(f.users, f.patients, f.family, f.providers, f.invoices,
		fakeRunner{}, auditSvc, zerolog.Nop())
	return f
}

func staffCtx() context.Context {
	return auth.WithActor(context.Background(), auth.Actor{
		UserID: uuid.New(),
		Role:   auth.RoleCoordinator,
		Name:   "Coordinator",
	})
}

func (f *fixture) seedPatientUser(t *testing.T) (*User, *Patient) {
	t.Helper()
	u := &User{Email: "q@example.com", FirstName: "Quinn", LastName: "Moreau", Role: "patient"}
	if err := f.svc.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	p := &Patient{UserID: u.ID}
	if err := f.svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	return u, p
}

func TestActivateUser(t *testing.T) {
	f := newFixture()
	u := &User{Email: "a@example.com", FirstName: "Ada", LastName: "Blanc", Role: "patient"}
	if err := f.svc.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.IsActive {
		t.Fatal("new user should start inactive")
	}
	if u.ActivationToken == nil {
		t.Fatal("new user should carry an activation token")
	}

	activated, err := f.svc.ActivateUser(context.Background(), *u.ActivationToken)
	if err != nil {
		t.Fatalf("ActivateUser: %v", err)
	}
	if !activated.IsActive || activated.ActivationToken != nil || activated.ActivatedAt == nil {
		t.Errorf("activation did not update the user: %+v", activated)
	}
}

func TestSetHourlyRate_Bounds(t *testing.T) {
	f := newFixture()
	_, p := f.seedPatientUser(t)

	cases := []struct {
		rate string
		ok   bool
	}{
		{"0.93", false},
		{"0.94", true},
		{"2.80", true},
		{"9.97", true},
		{"9.98", false},
	}
	for _, tc := range cases {
		rate := decimal.RequireFromString(tc.rate)
		_, err := f.svc.SetHourlyRate(staffCtx(), p.ID, rate)
		if tc.ok && err != nil {
			t.Errorf("rate %s: unexpected error %v", tc.rate, err)
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("rate %s: expected rejection", tc.rate)
			} else if apperror.KindOf(err) != apperror.KindInvalidInput {
				t.Errorf("rate %s: expected invalid_input, got %s", tc.rate, apperror.KindOf(err))
			}
		}
	}
}

func TestSetHourlyRate_WritesAuditRow(t *testing.T) {
	f := newFixture()
	_, p := f.seedPatientUser(t)

	if _, err := f.svc.SetHourlyRate(staffCtx(), p.ID, decimal.RequireFromString("2.80")); err != nil {
		t.Fatalf("SetHourlyRate: %v", err)
	}
	if len(f.auditRepo.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(f.auditRepo.entries))
	}
	e := f.auditRepo.entries[0]
	if e.Action != audit.ActionSetHourlyRate || e.TargetID != p.ID {
		t.Errorf("unexpected audit entry: %+v", e)
	}
}

func TestAnonymize_RefusedWithOpenInvoices(t *testing.T) {
	f := newFixture()
	u, p := f.seedPatientUser(t)
	f.invoices.open[p.ID] = true

	err := f.svc.Anonymize(staffCtx(), u.ID)
	if err == nil {
		t.Fatal("expected refusal while invoices are open")
	}
	if apperror.KindOf(err) != apperror.KindConflict {
		t.Errorf("expected conflict, got %s", apperror.KindOf(err))
	}
	if u.IsAnonymized {
		t.Error("user must not be anonymized after refusal")
	}
}

func TestAnonymize_RedactsPII(t *testing.T) {
	f := newFixture()
	u, p := f.seedPatientUser(t)
	notes := "chronic condition notes"
	p.IllnessNotes = &notes

	if err := f.svc.Anonymize(staffCtx(), u.ID); err != nil {
		t.Fatalf("Anonymize: %v", err)
	}

	got, _ := f.users.GetByID(context.Background(), u.ID)
	if got.IsActive {
		t.Error("anonymized user must be inactive")
	}
	if !got.IsAnonymized {
		t.Error("anonymized flag not set")
	}
	if got.FirstName != AnonymizedName || got.LastName != AnonymizedName {
		t.Errorf("name fields not redacted: %s %s", got.FirstName, got.LastName)
	}
	if !strings.HasSuffix(got.Email, "@redacted.invalid") {
		t.Errorf("email not redacted: %s", got.Email)
	}

	gotP, _ := f.patients.GetByID(context.Background(), p.ID)
	if gotP.IllnessNotes != nil || !gotP.IsAnonymized {
		t.Errorf("patient record not redacted: %+v", gotP)
	}

	if len(f.auditRepo.entries) != 1 || f.auditRepo.entries[0].Action != audit.ActionAnonymizeUser {
		t.Errorf("expected one ANONYMIZE_USER audit entry, got %+v", f.auditRepo.entries)
	}
}

func TestAnonymize_IdempotentForAlreadyAnonymized(t *testing.T) {
	f := newFixture()
	u, _ := f.seedPatientUser(t)

	if err := f.svc.Anonymize(staffCtx(), u.ID); err != nil {
		t.Fatalf("first Anonymize: %v", err)
	}
	if err := f.svc.Anonymize(staffCtx(), u.ID); err != nil {
		t.Fatalf("second Anonymize: %v", err)
	}
	if len(f.auditRepo.entries) != 1 {
		t.Errorf("expected a single audit entry, got %d", len(f.auditRepo.entries))
	}
}

func TestLinkFamily_RejectsDuplicate(t *testing.T) {
	f := newFixture()
	_, p := f.seedPatientUser(t)
	familyUser := &User{Email: "f@example.com", FirstName: "Faye", LastName: "Moreau", Role: "family_patient"}
	if err := f.svc.CreateUser(context.Background(), familyUser); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	link := &FamilyPatient{UserID: familyUser.ID, PatientID: p.ID, Link: "Spouse"}
	if err := f.svc.LinkFamily(context.Background(), link); err != nil {
		t.Fatalf("first LinkFamily: %v", err)
	}

	dup := &FamilyPatient{UserID: familyUser.ID, PatientID: p.ID, Link: "Spouse"}
	err := f.svc.LinkFamily(context.Background(), dup)
	if err == nil {
		t.Fatal("expected duplicate rejection")
	}
	if apperror.KindOf(err) != apperror.KindConflict {
		t.Errorf("expected conflict, got %s", apperror.KindOf(err))
	}
}

func TestCreatePatient_RequiresOwningUser(t *testing.T) {
	f := newFixture()
	err := f.svc.CreatePatient(context.Background(), &Patient{UserID: uuid.New()})
	if err == nil {
		t.Fatal("expected error for missing owning user")
	}
	if apperror.KindOf(err) != apperror.KindNotFound {
		t.Errorf("expected not_found, got %s", apperror.KindOf(err))
	}
}
