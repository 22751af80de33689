package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/carelink/carelink/internal/domain/audit"
	"github.com/carelink/carelink/internal/domain/careorders"
	"github.com/carelink/carelink/internal/domain/identity"
	"github.com/carelink/carelink/internal/platform/apperror"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/db"
)

// Service materializes invoices from billable appointments.
type Service struct {
	invoices  InvoiceRepository
	lines     LineRepository
	billables BillableRepository
	patients  identity.PatientRepository
	catalog   careorders.ServiceRepository
	resolver  *Resolver
	guard     *auth.Guard
	runner    db.Runner
	audit     *audit.Service
	logger    zerolog.Logger
}

func NewService(invoices InvoiceRepository, lines LineRepository, billables BillableRepository,
	patients identity.PatientRepository, catalog careorders.ServiceRepository,
	resolver *Resolver, guard *auth.Guard, runner db.Runner, auditSvc *audit.Service,
	logger zerolog.Logger) *Service {
	return &Service{
		invoices:  invoices,
		lines:     lines,
		billables: billables,
		patients:  patients,
		catalog:   catalog,
		resolver:  resolver,
		guard:     guard,
		runner:    runner,
		audit:     auditSvc,
		logger:    logger,
	}
}

// Generate materializes the invoice for (patientID, [periodStart, periodEnd)).
// The whole run happens inside one transaction under an advisory lock keyed by
// (patient, period start), so a concurrent call for the same key waits and
// then observes the committed invoice. Replayed reports whether an existing
// invoice was returned instead of a new one being created.
func (s *Service) Generate(ctx context.Context, patientID uuid.UUID,
	periodStart, periodEnd time.Time) (inv *Invoice, replayed bool, err error) {
	actor := auth.ActorFromContext(ctx)
	if err := s.guard.Can(ctx, actor, auth.VerbMutate, auth.Resource{
		Kind:      auth.ResourceInvoice,
		PatientID: patientID,
	}); err != nil {
		return nil, false, err
	}
	if !periodEnd.After(periodStart) {
		return nil, false, apperror.New(apperror.KindInvalidInput,
			"period end must be after period start")
	}

	err = s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.runner.AdvisoryLock(ctx, db.InvoiceLockKey(patientID, periodStart)); err != nil {
			return err
		}

		existing, err := s.invoices.FindActive(ctx, patientID, periodStart, periodEnd)
		if err == nil {
			inv = existing
			replayed = true
			return nil
		}
		if !apperror.Is(err, apperror.KindNotFound) {
			return err
		}

		patient, err := s.patients.GetByID(ctx, patientID)
		if err != nil {
			return err
		}
		slots, err := s.billables.ListSlots(ctx, patientID, periodStart, periodEnd)
		if err != nil {
			return err
		}

		inv = &Invoice{
			PatientID:   patientID,
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
			Amount:      decimal.Zero,
			Status:      InvoiceInProgress,
		}
		if err := s.invoices.Create(ctx, inv); err != nil {
			return err
		}

		services := map[uuid.UUID]*careorders.Service{}
		total := decimal.Zero
		for _, slot := range slots {
			var svc *careorders.Service
			if slot.ServiceID != nil {
				cached, ok := services[*slot.ServiceID]
				if !ok {
					cached, err = s.catalog.GetByID(ctx, *slot.ServiceID)
					if err != nil {
						return err
					}
					services[*slot.ServiceID] = cached
				}
				svc = cached
			}

			quote, err := s.resolver.PriceFor(patient, svc, slot.StartTime, slot.EndTime)
			if err != nil {
				return err
			}
			if quote.Basis == BasisUnset {
				inv.NeedsRateSetup = true
			}

			line := &InvoiceLine{
				InvoiceID:  inv.ID,
				Date:       slot.Date,
				StartTime:  slot.StartTime,
				EndTime:    slot.EndTime,
				Price:      quote.Amount,
				Status:     slot.Status,
				ProviderID: slot.ProviderID,
				ServiceID:  slot.ServiceID,
				TimeSlotID: slot.TimeSlotID,
			}
			if err := s.lines.Create(ctx, line); err != nil {
				return err
			}
			total = total.Add(quote.Amount)
		}

		inv.Amount = total
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}

		return s.audit.Log(ctx, audit.Record{
			Action:      audit.ActionGenerateInvoice,
			TargetModel: "Invoice",
			TargetID:    inv.ID,
			PatientID:   &patientID,
			Extra: map[string]interface{}{
				"period_start":     periodStart.Format("2006-01-02"),
				"period_end":       periodEnd.Format("2006-01-02"),
				"lines":            len(slots),
				"amount":           inv.Amount.StringFixed(2),
				"needs_rate_setup": inv.NeedsRateSetup,
			},
		})
	})
	if err != nil {
		return nil, false, err
	}
	return inv, replayed, nil
}

// SkippedPatient records one patient the monthly run could not invoice.
type SkippedPatient struct {
	PatientID uuid.UUID `json:"patient_id"`
	Reason    string    `json:"reason"`
}

// MonthlyResult summarizes a monthly generation run.
type MonthlyResult struct {
	Created  []uuid.UUID      `json:"created"`
	Skipped  []SkippedPatient `json:"skipped"`
	Replayed int              `json:"replayed"`
}

// GenerateMonthly invoices every patient with at least one billable slot in
// the given calendar month. Per-patient failures are logged and collected;
// the remaining patients still run.
func (s *Service) GenerateMonthly(ctx context.Context, year int, month time.Month) (*MonthlyResult, error) {
	if month < time.January || month > time.December {
		return nil, apperror.New(apperror.KindInvalidInput, "month %d out of range", month)
	}
	periodStart := time.Date(year, month, 1, 0, 0, 0, 0, time.Local)
	periodEnd := periodStart.AddDate(0, 1, 0)

	patients, err := s.billables.ListPatients(ctx, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	result := &MonthlyResult{Created: []uuid.UUID{}, Skipped: []SkippedPatient{}}
	for _, patientID := range patients {
		if err := ctx.Err(); err != nil {
			return result, apperror.Wrap(apperror.KindInternal, err, "monthly run interrupted")
		}
		inv, replayed, err := s.Generate(ctx, patientID, periodStart, periodEnd)
		if err != nil {
			s.logger.Error().Err(err).
				Str("patient_id", patientID.String()).
				Str("period", periodStart.Format("2006-01")).
				Msg("invoice generation failed, skipping patient")
			result.Skipped = append(result.Skipped, SkippedPatient{
				PatientID: patientID,
				Reason:    err.Error(),
			})
			continue
		}
		if replayed {
			result.Replayed++
			continue
		}
		result.Created = append(result.Created, inv.ID)
	}

	s.logger.Info().
		Int("created", len(result.Created)).
		Int("skipped", len(result.Skipped)).
		Int("replayed", result.Replayed).
		Str("period", periodStart.Format("2006-01")).
		Msg("monthly invoice run finished")
	return result, nil
}

// Get returns an invoice with its lines.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*InvoiceWithLines, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	actor := auth.ActorFromContext(ctx)
	if err := s.guard.Can(ctx, actor, auth.VerbView, auth.Resource{
		Kind:      auth.ResourceInvoice,
		PatientID: inv.PatientID,
	}); err != nil {
		return nil, err
	}
	lines, err := s.lines.ListByInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	return &InvoiceWithLines{Invoice: inv, Lines: lines}, nil
}

// ListForPatient returns the patient's invoices, newest period first.
func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]*Invoice, error) {
	actor := auth.ActorFromContext(ctx)
	if err := s.guard.Can(ctx, actor, auth.VerbView, auth.Resource{
		Kind:      auth.ResourceInvoice,
		PatientID: patientID,
	}); err != nil {
		return nil, err
	}
	return s.invoices.ListForPatient(ctx, patientID)
}

// SetStatus moves an invoice along the status table.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status string) (*Invoice, error) {
	actor := auth.ActorFromContext(ctx)
	var inv *Invoice
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.invoices.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.guard.Can(ctx, actor, auth.VerbMutate, auth.Resource{
			Kind:      auth.ResourceInvoice,
			PatientID: inv.PatientID,
		}); err != nil {
			return err
		}
		if !InvoiceTransitionAllowed(inv.Status, status) {
			return apperror.New(apperror.KindInvalidTransition,
				"invoice cannot move from %s to %s", inv.Status, status)
		}
		from := inv.Status
		inv.Status = status
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		return s.audit.Log(ctx, audit.Record{
			Action:      audit.ActionUpdateInvoice,
			TargetModel: "Invoice",
			TargetID:    inv.ID,
			PatientID:   &inv.PatientID,
			Extra:       map[string]interface{}{"from": from, "to": status},
		})
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}
