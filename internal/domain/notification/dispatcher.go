package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/careorders"
	"github.com/carelink/carelink/internal/domain/identity"
	"github.com/carelink/carelink/internal/domain/scheduling"
	"github.com/carelink/carelink/internal/platform/apperror"
	"github.com/carelink/carelink/internal/platform/outbox"
)

// nearTermWindow: a cancellation this close to the appointment date is
// rendered with high priority.
const nearTermWindow = 48 * time.Hour

// Dispatcher consumes schedule change events. In-app rows are written inside
// the caller's transaction; SMS leaves the process only through the outbox,
// after commit.
type Dispatcher struct {
	repo     Repository
	prefs    PreferencesRepository
	users    identity.UserRepository
	patients identity.PatientRepository
	family   identity.FamilyRepository
	provs    identity.ProviderRepository
	catalog  careorders.ServiceRepository
	queue    outbox.Queue
	logger   zerolog.Logger
	now      func() time.Time
}

func NewDispatcher(repo Repository, prefs PreferencesRepository,
	users identity.UserRepository, patients identity.PatientRepository,
	family identity.FamilyRepository, provs identity.ProviderRepository,
	catalog careorders.ServiceRepository, queue outbox.Queue,
	logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		prefs:    prefs,
		users:    users,
		patients: patients,
		family:   family,
		provs:    provs,
		catalog:  catalog,
		queue:    queue,
		logger:   logger,
		now:      time.Now,
	}
}

var templates = map[scheduling.ChangeKind]struct {
	typ   string
	title string
}{
	scheduling.ChangeCreated:   {TypeScheduleCreated, "Appointment scheduled"},
	scheduling.ChangeUpdated:   {TypeScheduleUpdated, "Appointment changed"},
	scheduling.ChangeCancelled: {TypeScheduleCancelled, "Appointment cancelled"},
}

// bindings is the data every template renders from, and the payload stored in
// extra_data.
type bindings struct {
	PatientName  string `json:"patient_name"`
	ProviderName string `json:"provider_name"`
	Date         string `json:"date"`
	StartTime    string `json:"start_time,omitempty"`
	EndTime      string `json:"end_time,omitempty"`
	ServiceName  string `json:"service_name,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Appointments int    `json:"appointments"`
}

// ScheduleChanged writes one in-app notification per recipient and returns a
// closure that enqueues the matching SMS deliveries after commit.
func (d *Dispatcher) ScheduleChanged(ctx context.Context, ev scheduling.ScheduleChanged) (scheduling.PostCommit, error) {
	tmpl, ok := templates[ev.Kind]
	if !ok {
		return nil, apperror.New(apperror.KindInternal, "no template for event kind %q", ev.Kind)
	}

	patient, err := d.patients.GetByID(ctx, ev.Schedule.PatientID)
	if err != nil {
		return nil, err
	}
	patientUser, err := d.users.GetByID(ctx, patient.UserID)
	if err != nil {
		return nil, err
	}
	provider, err := d.provs.GetByID(ctx, ev.Schedule.ProviderID)
	if err != nil {
		return nil, err
	}
	providerUser, err := d.users.GetByID(ctx, provider.UserID)
	if err != nil {
		return nil, err
	}
	links, err := d.family.ListByPatient(ctx, ev.Schedule.PatientID)
	if err != nil {
		return nil, err
	}

	b := bindings{
		PatientName:  patientUser.FullName(),
		ProviderName: providerUser.FullName(),
		Date:         ev.Schedule.Date.Format("2006-01-02"),
		Reason:       ev.Reason,
		Appointments: len(ev.Slots),
	}
	if len(ev.Slots) == 1 {
		slot := ev.Slots[0]
		b.StartTime = slot.StartTime.String()
		b.EndTime = slot.EndTime.String()
		if slot.ServiceID != nil {
			if svc, err := d.catalog.GetByID(ctx, *slot.ServiceID); err == nil {
				b.ServiceName = svc.Name
			}
		}
	}
	message := render(tmpl.title, b)
	extra, err := json.Marshal(b)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "marshal notification payload")
	}

	priority := PriorityNormal
	if ev.Kind == scheduling.ChangeCancelled &&
		ev.Schedule.Date.Sub(d.now()) < nearTermWindow {
		priority = PriorityHigh
	}

	// Recipient order is stable: patient owner, provider owner, family.
	recipients := []uuid.UUID{patientUser.ID, providerUser.ID}
	for _, link := range links {
		recipients = append(recipients, link.UserID)
	}

	// An actor outside the natural set (typically a coordinator) still gets
	// an echo when their preferences ask for one.
	if ev.ActorID != uuid.Nil && !contains(recipients, ev.ActorID) {
		actorPrefs, err := d.preferencesFor(ctx, ev.ActorID)
		if err != nil {
			return nil, err
		}
		if actorPrefs.SelfEcho {
			recipients = append(recipients, ev.ActorID)
		}
	}

	var deliveries []outbox.Delivery
	seen := map[uuid.UUID]bool{}
	scheduleID := ev.Schedule.ID
	for _, recipientID := range recipients {
		if seen[recipientID] {
			continue
		}
		seen[recipientID] = true

		prefs, err := d.preferencesFor(ctx, recipientID)
		if err != nil {
			return nil, err
		}
		if recipientID == ev.ActorID && !prefs.SelfEcho {
			continue
		}
		if !prefs.AllowsType(tmpl.typ) {
			continue
		}

		n := &Notification{
			RecipientID: recipientID,
			Type:        tmpl.typ,
			Title:       tmpl.title,
			Message:     message,
			Priority:    priority,
			ScheduleID:  &scheduleID,
			ExtraData:   string(extra),
		}
		if err := d.repo.Create(ctx, n); err != nil {
			return nil, err
		}

		if prefs.SMSEnabled {
			if phone := d.phoneFor(ctx, recipientID); phone != "" {
				deliveries = append(deliveries, outbox.Delivery{
					RecipientID: recipientID,
					Phone:       phone,
					Body:        message,
					ScheduleID:  scheduleID,
				})
			}
		}
	}

	if len(deliveries) == 0 {
		return nil, nil
	}
	return func(ctx context.Context) {
		for _, del := range deliveries {
			if err := d.queue.Enqueue(ctx, del); err != nil {
				d.logger.Error().Err(err).
					Str("recipient_id", del.RecipientID.String()).
					Msg("sms enqueue failed")
			}
		}
	}, nil
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (d *Dispatcher) preferencesFor(ctx context.Context, userID uuid.UUID) (*Preferences, error) {
	prefs, err := d.prefs.Get(ctx, userID)
	if apperror.Is(err, apperror.KindNotFound) {
		return DefaultPreferences(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return prefs, nil
}

func (d *Dispatcher) phoneFor(ctx context.Context, userID uuid.UUID) string {
	user, err := d.users.GetByID(ctx, userID)
	if err != nil || user.Phone == nil {
		return ""
	}
	return *user.Phone
}

func render(title string, b bindings) string {
	var when string
	switch {
	case b.StartTime != "":
		when = fmt.Sprintf("%s %s-%s", b.Date, b.StartTime, b.EndTime)
	case b.Appointments > 1:
		when = fmt.Sprintf("%s (%d appointments)", b.Date, b.Appointments)
	default:
		when = b.Date
	}

	msg := fmt.Sprintf("%s: %s with %s for %s", title, when, b.ProviderName, b.PatientName)
	if b.ServiceName != "" {
		msg += fmt.Sprintf(" (%s)", b.ServiceName)
	}
	if b.Reason != "" {
		msg += fmt.Sprintf(". Reason: %s", b.Reason)
	}
	return msg
}
