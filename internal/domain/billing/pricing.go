package billing

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/carelink/carelink/internal/domain/careorders"
	"github.com/carelink/carelink/internal/domain/identity"
	"github.com/carelink/carelink/internal/domain/scheduling"
	"github.com/carelink/carelink/internal/platform/apperror"
)

// Price bases.
const (
	BasisFlat   = "flat"
	BasisHourly = "hourly"
	BasisUnset  = "unset"
)

// Quote is the outcome of pricing one appointment window.
type Quote struct {
	Amount decimal.Decimal `json:"amount"`
	Basis  string          `json:"basis"`
}

// DefaultHourlyRateServices are the catalog ids billed from the patient's
// hourly rate instead of the service price. The ids match the rows seeded by
// the service-catalog migration.
var DefaultHourlyRateServices = []uuid.UUID{
	uuid.MustParse("6f1d3a52-9c0e-4b7a-8f4d-2a1b5c9e7d30"), // home nursing, hourly
	uuid.MustParse("b82c4e19-5d6f-4a03-9e81-c74f0a2d6b15"), // domestic help, hourly
}

// Resolver prices appointment windows. Hourly-rate services draw the
// patient's hourly_rate; everything else bills the catalog price, both
// proportional to the window's duration in hours.
type Resolver struct {
	hourly map[uuid.UUID]bool
}

func NewResolver(hourlyServices []uuid.UUID) *Resolver {
	r := &Resolver{hourly: make(map[uuid.UUID]bool, len(hourlyServices))}
	for _, id := range hourlyServices {
		r.hourly[id] = true
	}
	return r
}

var minutesPerHour = decimal.NewFromInt(60)

// PriceFor prices the window [start, end) for patient and svc. A nil svc is
// an unknown service. When the service is hourly and the patient has no rate
// configured the quote is zero with BasisUnset; the caller decides how to
// surface that.
func (r *Resolver) PriceFor(patient *identity.Patient, svc *careorders.Service,
	start, end scheduling.TimeOfDay) (Quote, error) {
	if svc == nil {
		return Quote{}, apperror.New(apperror.KindUnknownService, "time slot has no service")
	}
	if end <= start {
		return Quote{}, apperror.New(apperror.KindInvalidDuration,
			"cannot price window %s-%s", start, end)
	}
	hours := decimal.NewFromInt(int64(end - start)).Div(minutesPerHour)

	if r.hourly[svc.ID] {
		if patient.HourlyRate == nil {
			return Quote{Amount: decimal.Zero, Basis: BasisUnset}, nil
		}
		return Quote{Amount: patient.HourlyRate.Mul(hours), Basis: BasisHourly}, nil
	}
	return Quote{Amount: svc.Price.Mul(hours), Basis: BasisFlat}, nil
}
