package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/domain/scheduling"
	"github.com/carelink/carelink/internal/platform/apperror"
	"github.com/carelink/carelink/internal/platform/db"
)

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

func (r *invoiceRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const invoiceCols = `id, patient_id, period_start, period_end, amount, status,
	needs_rate_setup, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.PatientID, &inv.PeriodStart, &inv.PeriodEnd,
		&inv.Amount, &inv.Status, &inv.NeedsRateSetup, &inv.CreatedAt, &inv.UpdatedAt)
	return &inv, err
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoice (id, patient_id, period_start, period_end, amount, status, needs_rate_setup)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		inv.ID, inv.PatientID, inv.PeriodStart, inv.PeriodEnd, inv.Amount, inv.Status, inv.NeedsRateSetup)
	return err
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM invoice WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.KindNotFound, "invoice %s not found", id)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "get invoice")
	}
	return inv, nil
}

func (r *invoiceRepoPG) FindActive(ctx context.Context, patientID uuid.UUID, periodStart, periodEnd time.Time) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, `
		SELECT `+invoiceCols+` FROM invoice
		WHERE patient_id = $1 AND period_start = $2 AND period_end = $3 AND status <> $4`,
		patientID, periodStart, periodEnd, InvoiceCancelled))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.KindNotFound, "no invoice for patient %s in period", patientID)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "find invoice")
	}
	return inv, nil
}

func (r *invoiceRepoPG) Update(ctx context.Context, inv *Invoice) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoice SET amount = $2, status = $3, needs_rate_setup = $4, updated_at = now()
		WHERE id = $1`,
		inv.ID, inv.Amount, inv.Status, inv.NeedsRateSetup)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, err, "update invoice")
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.KindNotFound, "invoice %s not found", inv.ID)
	}
	return nil
}

func (r *invoiceRepoPG) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]*Invoice, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+invoiceCols+` FROM invoice
		WHERE patient_id = $1 ORDER BY period_start DESC`, patientID)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "list invoices")
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, apperror.Wrap(apperror.KindInternal, err, "scan invoice")
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *invoiceRepoPG) HasOpenInvoices(ctx context.Context, patientID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM invoice WHERE patient_id = $1 AND status IN ($2, $3)
		)`, patientID, InvoiceInProgress, InvoiceContested).Scan(&exists)
	if err != nil {
		return false, apperror.Wrap(apperror.KindInternal, err, "check open invoices")
	}
	return exists, nil
}

type lineRepoPG struct{ pool *pgxpool.Pool }

func NewLineRepoPG(pool *pgxpool.Pool) LineRepository { return &lineRepoPG{pool: pool} }

func (r *lineRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const lineCols = `id, invoice_id, date, start_time, end_time, price, status,
	provider_id, service_id, time_slot_id, created_at`

func (r *lineRepoPG) Create(ctx context.Context, line *InvoiceLine) error {
	line.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoice_line (id, invoice_id, date, start_time, end_time, price, status,
			provider_id, service_id, time_slot_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		line.ID, line.InvoiceID, line.Date, line.StartTime, line.EndTime, line.Price,
		line.Status, line.ProviderID, line.ServiceID, line.TimeSlotID)
	return err
}

func (r *lineRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*InvoiceLine, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+lineCols+` FROM invoice_line
		WHERE invoice_id = $1 ORDER BY date, start_time`, invoiceID)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "list invoice lines")
	}
	defer rows.Close()

	var out []*InvoiceLine
	for rows.Next() {
		var l InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.Date, &l.StartTime, &l.EndTime,
			&l.Price, &l.Status, &l.ProviderID, &l.ServiceID, &l.TimeSlotID, &l.CreatedAt); err != nil {
			return nil, apperror.Wrap(apperror.KindInternal, err, "scan invoice line")
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

type billableRepoPG struct{ pool *pgxpool.Pool }

func NewBillableRepoPG(pool *pgxpool.Pool) BillableRepository { return &billableRepoPG{pool: pool} }

func (r *billableRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *billableRepoPG) ListSlots(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*BillableSlot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT t.id, s.date, t.start_time, t.end_time, t.status, s.provider_id, t.service_id
		FROM time_slot t
		JOIN schedule s ON s.id = t.schedule_id
		WHERE s.patient_id = $1 AND s.date >= $2 AND s.date < $3 AND t.status IN ($4, $5)
		ORDER BY s.date, t.start_time`,
		patientID, from, to, scheduling.SlotCompleted, scheduling.SlotConfirmed)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "list billable slots")
	}
	defer rows.Close()

	var out []*BillableSlot
	for rows.Next() {
		var b BillableSlot
		if err := rows.Scan(&b.TimeSlotID, &b.Date, &b.StartTime, &b.EndTime,
			&b.Status, &b.ProviderID, &b.ServiceID); err != nil {
			return nil, apperror.Wrap(apperror.KindInternal, err, "scan billable slot")
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (r *billableRepoPG) ListPatients(ctx context.Context, from, to time.Time) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT s.patient_id
		FROM time_slot t
		JOIN schedule s ON s.id = t.schedule_id
		WHERE s.date >= $1 AND s.date < $2 AND t.status IN ($3, $4)`,
		from, to, scheduling.SlotCompleted, scheduling.SlotConfirmed)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "list billable patients")
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperror.Wrap(apperror.KindInternal, err, "scan patient id")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
