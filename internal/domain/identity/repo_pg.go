package identity

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

// -- Users --

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository { return &userRepoPG{pool: pool} }

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const userCols = `id, email, first_name, last_name, phone, role, is_active,
	is_anonymized, activation_token, activated_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Phone, &u.Role,
		&u.IsActive, &u.IsAnonymized, &u.ActivationToken, &u.ActivatedAt,
		&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.KindNotFound, "user not found")
	}
	return &u, err
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO app_user (id, email, first_name, last_name, phone, role,
			is_active, is_anonymized, activation_token)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		u.ID, u.Email, u.FirstName, u.LastName, u.Phone, u.Role,
		u.IsActive, u.IsAnonymized, u.ActivationToken)
	return err
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userCols+` FROM app_user WHERE id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userCols+` FROM app_user WHERE email = $1`, email))
}

func (r *userRepoPG) GetByActivationToken(ctx context.Context, token string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userCols+` FROM app_user WHERE activation_token = $1`, token))
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE app_user SET email=$2, first_name=$3, last_name=$4, phone=$5,
			role=$6, is_active=$7, is_anonymized=$8, activation_token=$9,
			activated_at=$10, updated_at=NOW()
		WHERE id=$1`,
		u.ID, u.Email, u.FirstName, u.LastName, u.Phone, u.Role,
		u.IsActive, u.IsAnonymized, u.ActivationToken, u.ActivatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.KindNotFound, "user not found")
	}
	return nil
}

func (r *userRepoPG) List(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	where := ``
	args := []interface{}{}
	if role != "" {
		where = ` WHERE role = $1`
		args = append(args, role)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM app_user`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT `+userCols+` FROM app_user`+where+
		` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, nil
}

// -- Patients --

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `id, user_id, gender, blood_type, emergency_contact,
	autonomy_score, illness_notes, doctor_name, doctor_phone, hourly_rate,
	is_anonymized, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.UserID, &p.Gender, &p.BloodType, &p.EmergencyContact,
		&p.AutonomyScore, &p.IllnessNotes, &p.DoctorName, &p.DoctorPhone,
		&p.HourlyRate, &p.IsAnonymized, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.KindNotFound, "patient not found")
	}
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (id, user_id, gender, blood_type, emergency_contact,
			autonomy_score, illness_notes, doctor_name, doctor_phone, hourly_rate)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.UserID, p.Gender, p.BloodType, p.EmergencyContact,
		p.AutonomyScore, p.IllnessNotes, p.DoctorName, p.DoctorPhone, p.HourlyRate)
	return err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE user_id = $1`, userID))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET gender=$2, blood_type=$3, emergency_contact=$4,
			autonomy_score=$5, illness_notes=$6, doctor_name=$7, doctor_phone=$8,
			hourly_rate=$9, is_anonymized=$10, updated_at=NOW()
		WHERE id=$1`,
		p.ID, p.Gender, p.BloodType, p.EmergencyContact, p.AutonomyScore,
		p.IllnessNotes, p.DoctorName, p.DoctorPhone, p.HourlyRate, p.IsAnonymized)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.KindNotFound, "patient not found")
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patient ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, nil
}

// -- Family links --

type familyRepoPG struct{ pool *pgxpool.Pool }

func NewFamilyRepoPG(pool *pgxpool.Pool) FamilyRepository { return &familyRepoPG{pool: pool} }

func (r *familyRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const familyCols = `id, user_id, patient_id, link, created_at`

func scanFamily(row pgx.Row) (*FamilyPatient, error) {
	var fp FamilyPatient
	err := row.Scan(&fp.ID, &fp.UserID, &fp.PatientID, &fp.Link, &fp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.KindNotFound, "family link not found")
	}
	return &fp, err
}

func (r *familyRepoPG) Create(ctx context.Context, fp *FamilyPatient) error {
	fp.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO family_patient (id, user_id, patient_id, link)
		VALUES ($1,$2,$3,$4)`,
		fp.ID, fp.UserID, fp.PatientID, fp.Link)
	return err
}

func (r *familyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*FamilyPatient, error) {
	return scanFamily(r.conn(ctx).QueryRow(ctx,
		`SELECT `+familyCols+` FROM family_patient WHERE id = $1`, id))
}

func (r *familyRepoPG) ListByUser(ctx context.Context, userID uuid.UUID) ([]*FamilyPatient, error) {
	return r.list(ctx, `SELECT `+familyCols+` FROM family_patient WHERE user_id = $1`, userID)
}

func (r *familyRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*FamilyPatient, error) {
	return r.list(ctx, `SELECT `+familyCols+` FROM family_patient WHERE patient_id = $1`, patientID)
}

func (r *familyRepoPG) list(ctx context.Context, query string, arg interface{}) ([]*FamilyPatient, error) {
	rows, err := r.conn(ctx).Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var links []*FamilyPatient
	for rows.Next() {
		fp, err := scanFamily(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, fp)
	}
	return links, nil
}

func (r *familyRepoPG) Exists(ctx context.Context, userID, patientID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM family_patient WHERE user_id = $1 AND patient_id = $2)`,
		userID, patientID).Scan(&exists)
	return exists, err
}

func (r *familyRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM family_patient WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.KindNotFound, "family link not found")
	}
	return nil
}

// -- Providers --

type providerRepoPG struct{ pool *pgxpool.Pool }

func NewProviderRepoPG(pool *pgxpool.Pool) ProviderRepository { return &providerRepoPG{pool: pool} }

func (r *providerRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const providerCols = `id, user_id, default_service_id, is_internal, created_at, updated_at`

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(&p.ID, &p.UserID, &p.DefaultServiceID, &p.IsInternal,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.KindNotFound, "provider not found")
	}
	return &p, err
}

func (r *providerRepoPG) Create(ctx context.Context, p *Provider) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO provider (id, user_id, default_service_id, is_internal)
		VALUES ($1,$2,$3,$4)`,
		p.ID, p.UserID, p.DefaultServiceID, p.IsInternal)
	return err
}

func (r *providerRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	return scanProvider(r.conn(ctx).QueryRow(ctx,
		`SELECT `+providerCols+` FROM provider WHERE id = $1`, id))
}

func (r *providerRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Provider, error) {
	return scanProvider(r.conn(ctx).QueryRow(ctx,
		`SELECT `+providerCols+` FROM provider WHERE user_id = $1`, userID))
}

func (r *providerRepoPG) Update(ctx context.Context, p *Provider) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE provider SET default_service_id=$2, is_internal=$3, updated_at=NOW()
		WHERE id=$1`,
		p.ID, p.DefaultServiceID, p.IsInternal)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.KindNotFound, "provider not found")
	}
	return nil
}

func (r *providerRepoPG) List(ctx context.Context, limit, offset int) ([]*Provider, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM provider`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+providerCols+` FROM provider ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, nil
}
