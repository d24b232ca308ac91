package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/charity-cli/internal/model"
)

var csvColumns = []string{
	"row_number", "original_name", "resolved_name", "entity_kind", "registry_number",
	"secondary_number", "registry_status", "resolution_status", "resolution_confidence",
	"resolution_method", "registration_date", "activities", "website", "email", "phone",
	"address", "postcode", "latest_income", "latest_expenditure", "financial_year_end",
	"ownership_depth", "parent_record_id",
}

// WriteCSV writes one line per record.
func WriteCSV(w io.Writer, records []model.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, r := range records {
		if err := cw.Write(csvRow(&r)); err != nil {
			return eris.Wrapf(err, "export: write csv row %d", r.RowNumber)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

func csvRow(r *model.Record) []string {
	return []string{
		strconv.Itoa(r.RowNumber),
		r.OriginalName,
		r.ResolvedName,
		string(r.EntityKind),
		r.RegistryNumber,
		r.SecondaryNumber,
		r.RegistryStatus,
		string(r.Status),
		formatFloat(r.Confidence, 4),
		string(r.Method),
		r.RegistrationDate,
		r.Activities,
		r.Website,
		r.Email,
		r.Phone,
		r.Address,
		r.Postcode,
		formatFloat(r.LatestIncome, 2),
		formatFloat(r.LatestExpenditure, 2),
		r.FinancialYearEnd,
		strconv.Itoa(r.OwnershipDepth),
		r.ParentRecordID,
	}
}

func formatFloat(v *float64, prec int) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}
