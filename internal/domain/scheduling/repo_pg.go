package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/platform/apperror"
	"github.com/carelink/carelink/internal/platform/db"
)

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

func (r *scheduleRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const scheduleCols = `id, provider_id, patient_id, date, created_by_id, created_at`

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	err := row.Scan(&s.ID, &s.ProviderID, &s.PatientID, &s.Date, &s.CreatedByID, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.KindNotFound, "schedule not found")
	}
	return &s, err
}

func (r *scheduleRepoPG) Create(ctx context.Context, s *Schedule) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO schedule (id, provider_id, patient_id, date, created_by_id)
		VALUES ($1,$2,$3,$4,$5)`,
		s.ID, s.ProviderID, s.PatientID, s.Date, s.CreatedByID)
	return err
}

func (r *scheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return scanSchedule(r.conn(ctx).QueryRow(ctx,
		`SELECT `+scheduleCols+` FROM schedule WHERE id = $1`, id))
}

func (r *scheduleRepoPG) FindByKey(ctx context.Context, providerID, patientID uuid.UUID, date time.Time) (*Schedule, error) {
	return scanSchedule(r.conn(ctx).QueryRow(ctx,
		`SELECT `+scheduleCols+` FROM schedule
		 WHERE provider_id = $1 AND patient_id = $2 AND date = $3`,
		providerID, patientID, date))
}

func (r *scheduleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM schedule WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.KindNotFound, "schedule not found")
	}
	return nil
}

func (r *scheduleRepoPG) ListForProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]*Schedule, error) {
	return r.list(ctx, `SELECT `+scheduleCols+` FROM schedule
		WHERE provider_id = $1 AND date BETWEEN $2 AND $3 ORDER BY date`,
		providerID, from, to)
}

func (r *scheduleRepoPG) ListForPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Schedule, error) {
	return r.list(ctx, `SELECT `+scheduleCols+` FROM schedule
		WHERE patient_id = $1 AND date BETWEEN $2 AND $3 ORDER BY date`,
		patientID, from, to)
}

func (r *scheduleRepoPG) ListInRange(ctx context.Context, from, to time.Time) ([]*Schedule, error) {
	return r.list(ctx, `SELECT `+scheduleCols+` FROM schedule
		WHERE date BETWEEN $1 AND $2 ORDER BY date`, from, to)
}

func (r *scheduleRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Schedule, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, nil
}

func (r *scheduleRepoPG) ProviderHasScheduleWith(ctx context.Context, providerID, patientID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM schedule WHERE provider_id = $1 AND patient_id = $2)`,
		providerID, patientID).Scan(&exists)
	return exists, err
}

type timeSlotRepoPG struct{ pool *pgxpool.Pool }

func NewTimeSlotRepoPG(pool *pgxpool.Pool) TimeSlotRepository { return &timeSlotRepoPG{pool: pool} }

func (r *timeSlotRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const slotCols = `id, schedule_id, start_time, end_time, status, service_id,
	prescription_id, description, created_at, updated_at`

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var t TimeSlot
	err := row.Scan(&t.ID, &t.ScheduleID, &t.StartTime, &t.EndTime, &t.Status,
		&t.ServiceID, &t.PrescriptionID, &t.Description, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.KindNotFound, "time slot not found")
	}
	return &t, err
}

func (r *timeSlotRepoPG) Create(ctx context.Context, t *TimeSlot) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO time_slot (id, schedule_id, start_time, end_time, status,
			service_id, prescription_id, description)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.ScheduleID, t.StartTime, t.EndTime, t.Status,
		t.ServiceID, t.PrescriptionID, t.Description)
	return err
}

func (r *timeSlotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	return scanSlot(r.conn(ctx).QueryRow(ctx,
		`SELECT `+slotCols+` FROM time_slot WHERE id = $1`, id))
}

func (r *timeSlotRepoPG) Update(ctx context.Context, t *TimeSlot) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE time_slot SET schedule_id=$2, start_time=$3, end_time=$4, status=$5,
			service_id=$6, prescription_id=$7, description=$8, updated_at=NOW()
		WHERE id=$1`,
		t.ID, t.ScheduleID, t.StartTime, t.EndTime, t.Status,
		t.ServiceID, t.PrescriptionID, t.Description)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.KindNotFound, "time slot not found")
	}
	return nil
}

func (r *timeSlotRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM time_slot WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.KindNotFound, "time slot not found")
	}
	return nil
}

func (r *timeSlotRepoPG) ListBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]*TimeSlot, error) {
	return r.list(ctx, `SELECT `+slotCols+` FROM time_slot
		WHERE schedule_id = $1 ORDER BY start_time`, scheduleID)
}

func (r *timeSlotRepoPG) ListForProviderDate(ctx context.Context, providerID uuid.UUID, date time.Time) ([]*TimeSlot, error) {
	return r.list(ctx, `SELECT t.`+slotColsPrefixed+` FROM time_slot t
		JOIN schedule s ON s.id = t.schedule_id
		WHERE s.provider_id = $1 AND s.date = $2
		ORDER BY t.start_time`, providerID, date)
}

// slotColsPrefixed mirrors slotCols with the t. alias for joined queries.
const slotColsPrefixed = `id, t.schedule_id, t.start_time, t.end_time, t.status,
	t.service_id, t.prescription_id, t.description, t.created_at, t.updated_at`

func (r *timeSlotRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*TimeSlot, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*TimeSlot
	for rows.Next() {
		t, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, nil
}

func (r *timeSlotRepoPG) CountBySchedule(ctx context.Context, scheduleID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM time_slot WHERE schedule_id = $1`, scheduleID).Scan(&n)
	return n, err
}
