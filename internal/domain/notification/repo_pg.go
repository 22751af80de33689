package notification

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const notificationCols = `id, recipient_id, type, title, message, priority,
	schedule_id, extra_data, read_at, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Title, &n.Message, &n.Priority,
		&n.ScheduleID, &n.ExtraData, &n.ReadAt, &n.CreatedAt)
	return &n, err
}

func (r *repoPG) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO notification (id, recipient_id, type, title, message, priority, schedule_id, extra_data)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		n.ID, n.RecipientID, n.Type, n.Title, n.Message, n.Priority, n.ScheduleID, n.ExtraData)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := scanNotification(r.conn(ctx).QueryRow(ctx,
		`SELECT `+notificationCols+` FROM notification WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.KindNotFound, "notification %s not found", id)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "get notification")
	}
	return n, nil
}

func (r *repoPG) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	filter := ``
	if unreadOnly {
		filter = ` AND read_at IS NULL`
	}

	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM notification WHERE recipient_id = $1`+filter, userID).Scan(&total)
	if err != nil {
		return nil, 0, apperror.Wrap(apperror.KindInternal, err, "count notifications")
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+notificationCols+` FROM notification
		WHERE recipient_id = $1`+filter+`
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, apperror.Wrap(apperror.KindInternal, err, "list notifications")
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, apperror.Wrap(apperror.KindInternal, err, "scan notification")
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (r *repoPG) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE notification SET read_at = $2 WHERE id = $1 AND read_at IS NULL`, id, at)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, err, "mark notification read")
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.KindNotFound, "notification %s not found or already read", id)
	}
	return nil
}

func (r *repoPG) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM notification WHERE recipient_id = $1 AND read_at IS NULL`, userID).Scan(&n)
	if err != nil {
		return 0, apperror.Wrap(apperror.KindInternal, err, "count unread")
	}
	return n, nil
}

type prefsRepoPG struct{ pool *pgxpool.Pool }

func NewPreferencesRepoPG(pool *pgxpool.Pool) PreferencesRepository { return &prefsRepoPG{pool: pool} }

func (r *prefsRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *prefsRepoPG) Get(ctx context.Context, userID uuid.UUID) (*Preferences, error) {
	var p Preferences
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT user_id, schedule_created, schedule_updated, schedule_cancelled, self_echo, sms_enabled, updated_at
		FROM notification_preferences WHERE user_id = $1`, userID).
		Scan(&p.UserID, &p.ScheduleCreated, &p.ScheduleUpdated, &p.ScheduleCancelled,
			&p.SelfEcho, &p.SMSEnabled, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.KindNotFound, "no preferences for user %s", userID)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "get preferences")
	}
	return &p, nil
}

func (r *prefsRepoPG) Upsert(ctx context.Context, p *Preferences) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO notification_preferences (user_id, schedule_created, schedule_updated, schedule_cancelled, self_echo, sms_enabled)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (user_id) DO UPDATE SET
			schedule_created = EXCLUDED.schedule_created,
			schedule_updated = EXCLUDED.schedule_updated,
			schedule_cancelled = EXCLUDED.schedule_cancelled,
			self_echo = EXCLUDED.self_echo,
			sms_enabled = EXCLUDED.sms_enabled,
			updated_at = now()`,
		p.UserID, p.ScheduleCreated, p.ScheduleUpdated, p.ScheduleCancelled, p.SelfEcho, p.SMSEnabled)
	return err
}
