package notification

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/careorders"
	"github.com/carelink/carelink/internal/domain/identity"
	"github.com/carelink/carelink/internal/domain/scheduling"
	"github.com/carelink/carelink/internal/platform/apperror"
	"github.com/carelink/carelink/internal/platform/outbox"
)

type mockNotificationRepo struct {
	rows []*Notification
}

func (m *mockNotificationRepo) Create(_ context.Context, n *Notification) error {
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	m.rows = append(m.rows, n)
	return nil
}

func (m *mockNotificationRepo) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	for _, n := range m.rows {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, apperror.New(apperror.KindNotFound, "notification not found")
}

func (m *mockNotificationRepo) ListForUser(_ context.Context, userID uuid.UUID, unreadOnly bool, _, _ int) ([]*Notification, int, error) {
	var out []*Notification
	for _, n := range m.rows {
		if n.RecipientID != userID {
			continue
		}
		if unreadOnly && n.ReadAt != nil {
			continue
		}
		out = append(out, n)
	}
	return out, len(out), nil
}

func (m *mockNotificationRepo) MarkRead(_ context.Context, id uuid.UUID, at time.Time) error {
	for _, n := range m.rows {
		if n.ID == id && n.ReadAt == nil {
			n.ReadAt = &at
			return nil
		}
	}
	return apperror.New(apperror.KindNotFound, "notification not found")
}

func (m *mockNotificationRepo) CountUnread(_ context.Context, userID uuid.UUID) (int, error) {
	n := 0
	for _, row := range m.rows {
		if row.RecipientID == userID && row.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *mockNotificationRepo) forUser(userID uuid.UUID) []*Notification {
	var out []*Notification
	for _, n := range m.rows {
		if n.RecipientID == userID {
			out = append(out, n)
		}
	}
	return out
}

type mockPrefsRepo struct {
	prefs map[uuid.UUID]*Preferences
}

func (m *mockPrefsRepo) Get(_ context.Context, userID uuid.UUID) (*Preferences, error) {
	p, ok := m.prefs[userID]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "no preferences")
	}
	return p, nil
}

func (m *mockPrefsRepo) Upsert(_ context.Context, p *Preferences) error {
	m.prefs[p.UserID] = p
	return nil
}

type mockUserRepo struct {
	users map[uuid.UUID]*identity.User
}

func (m *mockUserRepo) Create(_ context.Context, u *identity.User) error {
	u.ID = uuid.New()
	m.users[u.ID] = u
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "user not found")
	}
	return u, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*identity.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, apperror.New(apperror.KindNotFound, "user not found")
}

func (m *mockUserRepo) GetByActivationToken(_ context.Context, token string) (*identity.User, error) {
	for _, u := range m.users {
		if u.ActivationToken != nil && *u.ActivationToken == token {
			return u, nil
		}
	}
	return nil, apperror.New(apperror.KindNotFound, "user not found")
}

func (m *mockUserRepo) Update(_ context.Context, u *identity.User) error {
	m.users[u.ID] = u
	return nil
}

func (m *mockUserRepo) List(_ context.Context, _ string, _, _ int) ([]*identity.User, int, error) {
	var out []*identity.User
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, len(out), nil
}

type mockPatientRepo struct {
	patients map[uuid.UUID]*identity.Patient
}

func (m *mockPatientRepo) Create(_ context.Context, p *identity.Patient) error {
	p.ID = uuid.New()
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*identity.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "patient not found")
	}
	return p, nil
}

func (m *mockPatientRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*identity.Patient, error) {
	for _, p := range m.patients {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, apperror.New(apperror.KindNotFound, "patient not found")
}

func (m *mockPatientRepo) Update(_ context.Context, p *identity.Patient) error {
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) List(_ context.Context, _, _ int) ([]*identity.Patient, int, error) {
	var out []*identity.Patient
	for _, p := range m.patients {
		out = append(out, p)
	}
	return out, len(out), nil
}

type mockFamilyRepo struct {
	links []*identity.FamilyPatient
}

func (m *mockFamilyRepo) Create(_ context.Context, fp *identity.FamilyPatient) error {
	fp.ID = uuid.New()
	m.links = append(m.links, fp)
	return nil
}

func (m *mockFamilyRepo) GetByID(_ context.Context, id uuid.UUID) (*identity.FamilyPatient, error) {
	for _, fp := range m.links {
		if fp.ID == id {
			return fp, nil
		}
	}
	return nil, apperror.New(apperror.KindNotFound, "link not found")
}

func (m *mockFamilyRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*identity.FamilyPatient, error) {
	var out []*identity.FamilyPatient
	for _, fp := range m.links {
		if fp.UserID == userID {
			out = append(out, fp)
		}
	}
	return out, nil
}

func (m *mockFamilyRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*identity.FamilyPatient, error) {
	var out []*identity.FamilyPatient
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
	for i, fp := range m.links {
		if fp.ID == id {
			m.links = append(m.links[:i], m.links[i+1:]...)
			return nil
		}
	}
	return apperror.New(apperror.KindNotFound, "link not found")
}

type mockProviderRepo struct {
	providers map[uuid.UUID]*identity.Provider
}

func (m *mockProviderRepo) Create(_ context.Context, p *identity.Provider) error {
	p.ID = uuid.New()
	m.providers[p.ID] = p
	return nil
}

func (m *mockProviderRepo) GetByID(_ context.Context, id uuid.UUID) (*identity.Provider, error) {
	p, ok := m.providers[id]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "provider not found")
	}
	return p, nil
}

func (m *mockProviderRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*identity.Provider, error) {
	for _, p := range m.providers {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, apperror.New(apperror.KindNotFound, "provider not found")
}

func (m *mockProviderRepo) Update(_ context.Context, p *identity.Provider) error {
	m.providers[p.ID] = p
	return nil
}

func (m *mockProviderRepo) List(_ context.Context, _, _ int) ([]*identity.Provider, int, error) {
	var out []*identity.Provider
	for _, p := range m.providers {
		out = append(out, p)
	}
	return out, len(out), nil
}

type mockCatalog struct {
	services map[uuid.UUID]*careorders.Service
}

func (m *mockCatalog) Create(_ context.Context, s *careorders.Service) error {
	s.ID = uuid.New()
	m.services[s.ID] = s
	return nil
}

func (m *mockCatalog) GetByID(_ context.Context, id uuid.UUID) (*careorders.Service, error) {
	s, ok := m.services[id]
	if !ok {
		return nil, apperror.New(apperror.KindUnknownService, "unknown service")
	}
	return s, nil
}

func (m *mockCatalog) List(_ context.Context) ([]*careorders.Service, error) {
	var out []*careorders.Service
	for _, s := range m.services {
		out = append(out, s)
	}
	return out, nil
}

func (m *mockCatalog) Update(_ context.Context, s *careorders.Service) error {
	m.services[s.ID] = s
	return nil
}

type fixture struct {
	dispatcher *Dispatcher
	repo       *mockNotificationRepo
	prefs      *mockPrefsRepo
	users      *mockUserRepo
	queue      *outbox.MemoryQueue

	patientUser  *identity.User
	providerUser *identity.User
	familyUser   *identity.User
	patient      *identity.Patient
	provider     *identity.Provider
	service      *careorders.Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:  &mockNotificationRepo{},
		prefs: &mockPrefsRepo{prefs: map[uuid.UUID]*Preferences{}},
		users: &mockUserRepo{users: map[uuid.UUID]*identity.User{}},
		queue: outbox.NewMemoryQueue(16),
	}
	patients := &mockPatientRepo{patients: map[uuid.UUID]*identity.Patient{}}
	family := &mockFamilyRepo{}
	providers := &mockProviderRepo{providers: map[uuid.UUID]*identity.Provider{}}
	catalog := &mockCatalog{services: map[uuid.UUID]*careorders.Service{}}

	phone := "+32470000001"
	f.patientUser = &identity.User{ID: uuid.New(), FirstName: "Quinn", LastName: "Dupont", Phone: &phone}
	f.providerUser = &identity.User{ID: uuid.New(), FirstName: "Pat", LastName: "Lemaire"}
	f.familyUser = &identity.User{ID: uuid.New(), FirstName: "Faye", LastName: "Dupont"}
	for _, u := range []*identity.User{f.patientUser, f.providerUser, f.familyUser} {
		f.users.users[u.ID] = u
	}

	f.patient = &identity.Patient{ID: uuid.New(), UserID: f.patientUser.ID}
	patients.patients[f.patient.ID] = f.patient
	f.provider = &identity.Provider{ID: uuid.New(), UserID: f.providerUser.ID}
	providers.providers[f.provider.ID] = f.provider
	family.links = append(family.links, &identity.FamilyPatient{
		ID: uuid.New(), UserID: f.familyUser.ID, PatientID: f.patient.ID, Link: "Spouse",
	})

	f.service = &careorders.Service{ID: uuid.New(), Name: "Home nursing"}
	catalog.services[f.service.ID] = f.service

	f.dispatcher = NewDispatcher(f.repo, f.prefs, f.users, patients, family, providers,
		catalog, f.queue, zerolog.Nop())
	return f
}

func (f *fixture) event(kind scheduling.ChangeKind, actorID uuid.UUID, date time.Time, reason string) scheduling.ScheduleChanged {
	sched := &scheduling.Schedule{
		ID:         uuid.New(),
		ProviderID: f.provider.ID,
		PatientID:  f.patient.ID,
		Date:       date,
	}
	start, _ := scheduling.ParseTimeOfDay("09:00")
	end, _ := scheduling.ParseTimeOfDay("10:00")
	slot := &scheduling.TimeSlot{
		ID:         uuid.New(),
		ScheduleID: sched.ID,
		StartTime:  start,
		EndTime:    end,
		Status:     scheduling.SlotCancelled,
		ServiceID:  &f.service.ID,
	}
	return scheduling.ScheduleChanged{
		Kind:     kind,
		Schedule: sched,
		Slots:    []*scheduling.TimeSlot{slot},
		ActorID:  actorID,
		Reason:   reason,
	}
}

func drain(t *testing.T, q *outbox.MemoryQueue, want int) []outbox.Delivery {
	t.Helper()
	var out []outbox.Delivery
	for i := 0; i < want; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		d, err := q.Dequeue(ctx)
		cancel()
		if err != nil || d == nil {
			t.Fatalf("expected %d deliveries, drained %d (err=%v)", want, len(out), err)
		}
		out = append(out, *d)
	}
	return out
}

func TestCancellationFanOut(t *testing.T) {
	f := newFixture()
	coordinator := uuid.New()
	today := time.Now().Truncate(24 * time.Hour)

	post, err := f.dispatcher.ScheduleChanged(context.Background(),
		f.event(scheduling.ChangeCancelled, coordinator, today, "provider sick"))
	if err != nil {
		t.Fatalf("ScheduleChanged: %v", err)
	}

	for _, userID := range []uuid.UUID{f.patientUser.ID, f.familyUser.ID, f.providerUser.ID} {
		rows := f.repo.forUser(userID)
		if len(rows) != 1 {
			t.Fatalf("user %s: expected exactly 1 notification, got %d", userID, len(rows))
		}
		if rows[0].Type != TypeScheduleCancelled {
			t.Errorf("type = %s, want schedule_cancelled", rows[0].Type)
		}
		if rows[0].Priority != PriorityHigh {
			t.Errorf("same-day cancellation must be high priority, got %s", rows[0].Priority)
		}
	}
	if n := len(f.repo.forUser(coordinator)); n != 0 {
		t.Errorf("acting coordinator must receive nothing, got %d", n)
	}

	// Only the patient user has a phone; their SMS goes out after commit.
	if post == nil {
		t.Fatal("expected a post-commit closure")
	}
	post(context.Background())
	deliveries := drain(t, f.queue, 1)
	if deliveries[0].RecipientID != f.patientUser.ID {
		t.Errorf("sms recipient = %s, want patient user", deliveries[0].RecipientID)
	}
	if !strings.Contains(deliveries[0].Body, "provider sick") {
		t.Errorf("sms body should carry the reason: %q", deliveries[0].Body)
	}
}

func TestCreatedEventIsNormalPriority(t *testing.T) {
	f := newFixture()
	nextWeek := time.Now().AddDate(0, 0, 7)

	if _, err := f.dispatcher.ScheduleChanged(context.Background(),
		f.event(scheduling.ChangeCreated, uuid.New(), nextWeek, "")); err != nil {
		t.Fatalf("ScheduleChanged: %v", err)
	}
	rows := f.repo.forUser(f.patientUser.ID)
	if len(rows) != 1 || rows[0].Priority != PriorityNormal {
		t.Fatalf("expected one normal-priority row, got %+v", rows)
	}
	if rows[0].Type != TypeScheduleCreated {
		t.Errorf("type = %s", rows[0].Type)
	}
}

func TestFarCancellationIsNormalPriority(t *testing.T) {
	f := newFixture()
	nextMonth := time.Now().AddDate(0, 1, 0)

	if _, err := f.dispatcher.ScheduleChanged(context.Background(),
		f.event(scheduling.ChangeCancelled, uuid.New(), nextMonth, "")); err != nil {
		t.Fatalf("ScheduleChanged: %v", err)
	}
	rows := f.repo.forUser(f.patientUser.ID)
	if len(rows) != 1 || rows[0].Priority != PriorityNormal {
		t.Fatalf("far-out cancellation should be normal priority, got %+v", rows)
	}
}

func TestSelfEchoOptIn(t *testing.T) {
	f := newFixture()
	prefs := DefaultPreferences(f.providerUser.ID)
	prefs.SelfEcho = true
	f.prefs.prefs[f.providerUser.ID] = prefs

	// The provider cancels their own slot and has asked to see the echo.
	if _, err := f.dispatcher.ScheduleChanged(context.Background(),
		f.event(scheduling.ChangeCancelled, f.providerUser.ID, time.Now(), "")); err != nil {
		t.Fatalf("ScheduleChanged: %v", err)
	}
	if n := len(f.repo.forUser(f.providerUser.ID)); n != 1 {
		t.Errorf("self-echo opt-in should deliver to the actor, got %d rows", n)
	}
}

func TestSelfEchoReachesOutsideActor(t *testing.T) {
	f := newFixture()
	coordinator := &identity.User{ID: uuid.New(), FirstName: "Cleo", LastName: "Martens"}
	f.users.users[coordinator.ID] = coordinator
	prefs := DefaultPreferences(coordinator.ID)
	prefs.SelfEcho = true
	f.prefs.prefs[coordinator.ID] = prefs

	// The coordinator is neither the patient, the provider, nor family, but
	// has asked to see echoes of their own actions.
	if _, err := f.dispatcher.ScheduleChanged(context.Background(),
		f.event(scheduling.ChangeCancelled, coordinator.ID, time.Now(), "")); err != nil {
		t.Fatalf("ScheduleChanged: %v", err)
	}
	rows := f.repo.forUser(coordinator.ID)
	if len(rows) != 1 {
		t.Fatalf("opted-in acting coordinator should receive 1 echo notification, got %d", len(rows))
	}
	if rows[0].Type != TypeScheduleCancelled {
		t.Errorf("type = %s, want schedule_cancelled", rows[0].Type)
	}
	// The natural recipients are unaffected.
	if n := len(f.repo.forUser(f.patientUser.ID)); n != 1 {
		t.Errorf("patient user should still receive 1, got %d", n)
	}
}

func TestCategoryOptOutSkipsRecipient(t *testing.T) {
	f := newFixture()
	prefs := DefaultPreferences(f.familyUser.ID)
	prefs.ScheduleCancelled = false
	f.prefs.prefs[f.familyUser.ID] = prefs

	if _, err := f.dispatcher.ScheduleChanged(context.Background(),
		f.event(scheduling.ChangeCancelled, uuid.New(), time.Now(), "")); err != nil {
		t.Fatalf("ScheduleChanged: %v", err)
	}
	if n := len(f.repo.forUser(f.familyUser.ID)); n != 0 {
		t.Errorf("opted-out family user must receive nothing, got %d", n)
	}
	// Other recipients are unaffected.
	if n := len(f.repo.forUser(f.patientUser.ID)); n != 1 {
		t.Errorf("patient user should still receive 1, got %d", n)
	}
}

func TestExtraDataIsJSONString(t *testing.T) {
	f := newFixture()
	if _, err := f.dispatcher.ScheduleChanged(context.Background(),
		f.event(scheduling.ChangeCancelled, uuid.New(), time.Now(), "family request")); err != nil {
		t.Fatalf("ScheduleChanged: %v", err)
	}
	rows := f.repo.forUser(f.patientUser.ID)
	if len(rows) != 1 {
		t.Fatalf("expected one row")
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(rows[0].ExtraData), &payload); err != nil {
		t.Fatalf("extra_data must be a JSON string: %v", err)
	}
	if payload["patient_name"] != "Quinn Dupont" {
		t.Errorf("patient_name binding = %v", payload["patient_name"])
	}
	if payload["reason"] != "family request" {
		t.Errorf("reason binding = %v", payload["reason"])
	}
	if payload["service_name"] != "Home nursing" {
		t.Errorf("service_name binding = %v", payload["service_name"])
	}
}

func TestSMSRespectsPreference(t *testing.T) {
	f := newFixture()
	prefs := DefaultPreferences(f.patientUser.ID)
	prefs.SMSEnabled = false
	f.prefs.prefs[f.patientUser.ID] = prefs

	post, err := f.dispatcher.ScheduleChanged(context.Background(),
		f.event(scheduling.ChangeCancelled, uuid.New(), time.Now(), ""))
	if err != nil {
		t.Fatalf("ScheduleChanged: %v", err)
	}
	// The in-app row still lands; only SMS is suppressed. No other recipient
	// has a phone, so there is nothing to enqueue at all.
	if n := len(f.repo.forUser(f.patientUser.ID)); n != 1 {
		t.Errorf("in-app delivery should be unaffected, got %d rows", n)
	}
	if post != nil {
		t.Error("no deliveries expected, post-commit closure should be nil")
	}
}
