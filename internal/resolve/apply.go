package resolve

import (
	"time"

	"github.com/sells-group/charity-cli/internal/model"
	"github.com/sells-group/charity-cli/pkg/charity"
)

// ApplyDetails copies register details onto rec and marks it matched.
// number is used when the details carry none. AI reasoning from an earlier
// pass is cleared; the AI stage sets it again after applying.
func ApplyDetails(rec *model.Record, d *charity.Details, number string, method model.ResolutionMethod, confidence float64, now time.Time) {
	if d.Number != "" {
		number = d.Number
	}
	rec.EntityKind = model.EntityKindCharity
	rec.ResolvedName = d.Name
	rec.RegistryNumber = number
	rec.RegistryStatus = d.Status
	rec.RegistrationDate = d.RegistrationDate
	rec.RemovalDate = d.RemovalDate
	rec.Activities = d.Activities
	rec.Email = d.Email
	rec.Phone = d.Phone
	rec.Website = d.Website
	rec.Address = d.Address
	rec.Postcode = d.Postcode
	rec.LatestIncome = d.LatestIncome
	rec.LatestExpenditure = d.LatestExpenditure
	rec.FinancialYearEnd = d.FinancialYearEnd

	rec.Status = model.StatusMatched
	rec.Confidence = model.Float(confidence)
	rec.Method = method
	rec.ResolvedAt = &now

	var trustees []model.Trustee
	for _, t := range d.Trustees {
		trustees = append(trustees, model.Trustee{Name: t.Name, ID: t.ID})
	}
	var subsidiaries []model.Subsidiary
	for _, s := range d.Subsidiaries {
		subsidiaries = append(subsidiaries, model.Subsidiary{
			Name:           s.Name,
			CompanyNumber:  s.CompanyNumber,
			RegistryNumber: s.RegistryNumber,
		})
	}
	rec.EnrichedData.Trustees = trustees
	rec.EnrichedData.Subsidiaries = subsidiaries
	rec.EnrichedData.AIReasoning = ""
}
