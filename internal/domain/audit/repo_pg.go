package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const entryCols = `id, actor_id, actor_name, action, target_model, target_id,
	patient_id, patient_name, provider_id, provider_name, extra_data, created_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.ActorID, &e.ActorName, &e.Action, &e.TargetModel, &e.TargetID,
		&e.PatientID, &e.PatientName, &e.ProviderID, &e.ProviderName, &e.ExtraData, &e.CreatedAt)
	return &e, err
}

func (r *repoPG) Create(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO user_action_log (id, actor_id, actor_name, action, target_model, target_id,
			patient_id, patient_name, provider_id, provider_name, extra_data)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.ID, e.ActorID, e.ActorName, e.Action, e.TargetModel, e.TargetID,
		e.PatientID, e.PatientName, e.ProviderID, e.ProviderName, e.ExtraData)
	return err
}

func (r *repoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	query := `SELECT ` + entryCols + ` FROM user_action_log WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM user_action_log WHERE 1=1`
	var args []interface{}
	idx := 1

	add := func(clause string, arg interface{}) {
		query += fmt.Sprintf(clause, idx)
		countQuery += fmt.Sprintf(clause, idx)
		args = append(args, arg)
		idx++
	}

	if f.ActorID != nil {
		add(` AND actor_id = $%d`, *f.ActorID)
	}
	if f.Action != "" {
		add(` AND action = $%d`, f.Action)
	}
	if f.TargetModel != "" {
		add(` AND target_model = $%d`, f.TargetModel)
	}
	if f.PatientID != nil {
		add(` AND patient_id = $%d`, *f.PatientID)
	}
	if f.From != nil {
		add(` AND created_at >= $%d`, *f.From)
	}
	if f.To != nil {
		add(` AND created_at < $%d`, *f.To)
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
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, nil
}
