package careorders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/platform/apperror"
	"github.com/carelink/carelink/internal/platform/db"
)

// -- Services --

type serviceRepoPG struct{ pool *pgxpool.Pool }

func NewServiceRepoPG(pool *pgxpool.Pool) ServiceRepository { return &serviceRepoPG{pool: pool} }

func (r *serviceRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const serviceCols = `id, name, price, description, created_at`

func scanService(row pgx.Row) (*Service, error) {
	var s Service
	err := row.Scan(&s.ID, &s.Name, &s.Price, &s.Description, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.KindUnknownService, "service not found")
	}
	return &s, err
}

func (r *serviceRepoPG) Create(ctx context.Context, s *Service) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO service (id, name, price, description) VALUES ($1,$2,$3,$4)`,
		s.ID, s.Name, s.Price, s.Description)
	return err
}

func (r *serviceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Service, error) {
	return scanService(r.conn(ctx).QueryRow(ctx,
		`SELECT `+serviceCols+` FROM service WHERE id = $1`, id))
}

func (r *serviceRepoPG) List(ctx context.Context) ([]*Service, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+serviceCols+` FROM service ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, nil
}

func (r *serviceRepoPG) Update(ctx context.Context, s *Service) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE service SET name=$2, price=$3, description=$4 WHERE id=$1`,
		s.ID, s.Name, s.Price, s.Description)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.KindUnknownService, "service not found")
	}
	return nil
}

// -- Prescriptions --

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const prescriptionCols = `id, patient_id, service_id, start_date, end_date,
	frequency_per_week, status, medication, instructions, created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PatientID, &p.ServiceID, &p.StartDate, &p.EndDate,
		&p.FrequencyPerWeek, &p.Status, &p.Medication, &p.Instructions,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.KindNotFound, "prescription not found")
	}
	return &p, err
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO prescription (id, patient_id, service_id, start_date, end_date,
			frequency_per_week, status, medication, instructions)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.PatientID, p.ServiceID, p.StartDate, p.EndDate,
		p.FrequencyPerWeek, p.Status, p.Medication, p.Instructions)
	return err
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return scanPrescription(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescription WHERE id = $1`, id))
}

func (r *prescriptionRepoPG) Update(ctx context.Context, p *Prescription) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescription SET service_id=$2, start_date=$3, end_date=$4,
			frequency_per_week=$5, status=$6, medication=$7, instructions=$8,
			updated_at=NOW()
		WHERE id=$1`,
		p.ID, p.ServiceID, p.StartDate, p.EndDate, p.FrequencyPerWeek,
		p.Status, p.Medication, p.Instructions)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.KindNotFound, "prescription not found")
	}
	return nil
}

func (r *prescriptionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+prescriptionCols+` FROM prescription WHERE patient_id = $1 ORDER BY created_at DESC`,
		patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, nil
}

// -- Service demands --

type demandRepoPG struct{ pool *pgxpool.Pool }

func NewDemandRepoPG(pool *pgxpool.Pool) DemandRepository { return &demandRepoPG{pool: pool} }

func (r *demandRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const demandCols = `id, patient_id, sent_by_id, service_id, title, description,
	reason, priority, preferred_start_date, frequency, duration_weeks, status,
	assigned_provider_id, managed_by_id, created_at, updated_at`

func scanDemand(row pgx.Row) (*ServiceDemand, error) {
	var d ServiceDemand
	err := row.Scan(&d.ID, &d.PatientID, &d.SentByID, &d.ServiceID, &d.Title,
		&d.Description, &d.Reason, &d.Priority, &d.PreferredStartDate,
		&d.Frequency, &d.DurationWeeks, &d.Status, &d.AssignedProviderID,
		&d.ManagedByID, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.KindNotFound, "service demand not found")
	}
	return &d, err
}

func (r *demandRepoPG) Create(ctx context.Context, d *ServiceDemand) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO service_demand (id, patient_id, sent_by_id, service_id, title,
			description, reason, priority, preferred_start_date, frequency,
			duration_weeks, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		d.ID, d.PatientID, d.SentByID, d.ServiceID, d.Title, d.Description,
		d.Reason, d.Priority, d.PreferredStartDate, d.Frequency,
		d.DurationWeeks, d.Status)
	return err
}

func (r *demandRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ServiceDemand, error) {
	return scanDemand(r.conn(ctx).QueryRow(ctx,
		`SELECT `+demandCols+` FROM service_demand WHERE id = $1`, id))
}

func (r *demandRepoPG) Update(ctx context.Context, d *ServiceDemand) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE service_demand SET title=$2, description=$3, reason=$4, priority=$5,
			preferred_start_date=$6, frequency=$7, duration_weeks=$8, status=$9,
			assigned_provider_id=$10, managed_by_id=$11, updated_at=NOW()
		WHERE id=$1`,
		d.ID, d.Title, d.Description, d.Reason, d.Priority, d.PreferredStartDate,
		d.Frequency, d.DurationWeeks, d.Status, d.AssignedProviderID, d.ManagedByID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.KindNotFound, "service demand not found")
	}
	return nil
}

func (r *demandRepoPG) List(ctx context.Context, f DemandFilter, limit, offset int) ([]*ServiceDemand, int, error) {
	query := `SELECT ` + demandCols + ` FROM service_demand WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM service_demand WHERE 1=1`
	var args []interface{}
	idx := 1

	add := func(clause string, arg interface{}) {
		query += fmt.Sprintf(clause, idx)
		countQuery += fmt.Sprintf(clause, idx)
		args = append(args, arg)
		idx++
	}

	if f.PatientID != nil {
		add(` AND patient_id = $%d`, *f.PatientID)
	}
	if f.Status != "" {
		add(` AND status = $%d`, f.Status)
	}
	if f.SentByID != nil {
		add(` AND sent_by_id = $%d`, *f.SentByID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ServiceDemand
	for rows.Next() {
		d, err := scanDemand(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, nil
}
