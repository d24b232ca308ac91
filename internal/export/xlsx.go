package export

import (
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/charity-cli/internal/model"
)

// Sheet names in workbook order.
const (
	SheetSummary    = "Summary"
	SheetEntities   = "Entities"
	SheetCandidates = "Resolution Candidates"
	SheetOwnership  = "Ownership"
	SheetFinancial  = "Financial Data"
	SheetEnriched   = "Enriched Data"
)

const currencyFormat = `"£"#,##0.00`

// Options drops optional tabs. The zero value includes everything.
type Options struct {
	SkipCandidates bool
	SkipOwnership  bool
	SkipFinancial  bool
	SkipEnriched   bool
}

// WriteXLSX renders the report as a workbook.
func WriteXLSX(w io.Writer, rep *Report, opts Options) error {
	f := xlsx.NewFile()

	steps := []struct {
		name string
		skip bool
		fill func(*xlsx.Sheet, *Report)
	}{
		{SheetSummary, false, summarySheet},
		{SheetEntities, false, entitiesSheet},
		{SheetCandidates, opts.SkipCandidates, candidatesSheet},
		{SheetOwnership, opts.SkipOwnership, ownershipSheet},
		{SheetFinancial, opts.SkipFinancial, financialSheet},
		{SheetEnriched, opts.SkipEnriched, enrichedSheet},
	}
	for _, s := range steps {
		if s.skip {
			continue
		}
		sheet, err := f.AddSheet(s.name)
		if err != nil {
			return eris.Wrapf(err, "export: add sheet %s", s.name)
		}
		s.fill(sheet, rep)
	}
	return eris.Wrap(f.Write(w), "export: write workbook")
}

func headerStyle() *xlsx.Style {
	s := xlsx.NewStyle()
	s.Font.Bold = true
	s.Font.Color = "FFFFFFFF"
	s.Fill = *xlsx.NewFill("solid", "FF1F4E79", "FF1F4E79")
	s.ApplyFont = true
	s.ApplyFill = true
	return s
}

func boldStyle() *xlsx.Style {
	s := xlsx.NewStyle()
	s.Font.Bold = true
	s.ApplyFont = true
	return s
}

func writeHeader(sheet *xlsx.Sheet, cols ...string) {
	style := headerStyle()
	row := sheet.AddRow()
	for _, c := range cols {
		cell := row.AddCell()
		cell.SetString(c)
		cell.SetStyle(style)
	}
}

func addStrings(sheet *xlsx.Sheet, vals ...string) *xlsx.Row {
	row := sheet.AddRow()
	for _, v := range vals {
		row.AddCell().SetString(v)
	}
	return row
}

func addLabel(sheet *xlsx.Sheet, label string, value any) {
	row := sheet.AddRow()
	cell := row.AddCell()
	cell.SetString(label)
	cell.SetStyle(boldStyle())
	v := row.AddCell()
	switch x := value.(type) {
	case int:
		v.SetInt(x)
	case string:
		v.SetString(x)
	default:
		v.SetValue(x)
	}
}

func addMoney(row *xlsx.Row, v *float64) {
	cell := row.AddCell()
	if v == nil {
		return
	}
	cell.SetFloatWithFormat(*v, currencyFormat)
}

func pct(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.1f%%", *v*100)
}

func stamp(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func summarySheet(sheet *xlsx.Sheet, rep *Report) {
	b := rep.Batch
	title := sheet.AddRow().AddCell()
	title.SetString("Charity Data Enrichment Report: " + b.Name)
	title.SetStyle(boldStyle())
	sheet.AddRow()

	addLabel(sheet, "Batch ID", b.ID)
	addLabel(sheet, "Batch Name", b.Name)
	addLabel(sheet, "Original File", b.Filename)
	addLabel(sheet, "Created", stamp(&b.CreatedAt))
	addLabel(sheet, "Processed", stamp(b.CompletedAt))
	addLabel(sheet, "Status", string(b.Status))
	sheet.AddRow()

	c := rep.counts()
	total := len(rep.Records)
	matched := c[model.StatusMatched] + c[model.StatusConfirmed]
	rate := "0%"
	if total > 0 {
		rate = fmt.Sprintf("%.1f%%", float64(matched)/float64(total)*100)
	}
	addLabel(sheet, "Total Records", total)
	addLabel(sheet, "Matched", c[model.StatusMatched])
	addLabel(sheet, "Confirmed", c[model.StatusConfirmed])
	addLabel(sheet, "No Match", c[model.StatusNoMatch])
	addLabel(sheet, "Pending Review", c[model.StatusMultipleMatches]+c[model.StatusManualReview])
	addLabel(sheet, "Rejected", c[model.StatusRejected])
	addLabel(sheet, "Pending", c[model.StatusPending])
	addLabel(sheet, "Match Rate", rate)
}

func entitiesSheet(sheet *xlsx.Sheet, rep *Report) {
	if len(rep.Records) == 0 {
		addStrings(sheet, "No entities found")
		return
	}
	writeHeader(sheet, "Row #", "Original Name", "Resolved Name", "Entity Type", "Charity Number",
		"Company Number", "Registry Status", "Resolution Status", "Confidence", "Method",
		"Registration Date", "Depth", "Website", "Email", "Address")
	for _, r := range rep.Records {
		row := sheet.AddRow()
		row.AddCell().SetInt(r.RowNumber)
		for _, v := range []string{
			r.OriginalName, r.ResolvedName, string(r.EntityKind), r.RegistryNumber,
			r.SecondaryNumber, r.RegistryStatus, string(r.Status), pct(r.Confidence),
			string(r.Method), r.RegistrationDate,
		} {
			row.AddCell().SetString(v)
		}
		row.AddCell().SetInt(r.OwnershipDepth)
		for _, v := range []string{r.Website, r.Email, r.Address} {
			row.AddCell().SetString(v)
		}
	}
}

func candidatesSheet(sheet *xlsx.Sheet, rep *Report) {
	if len(rep.Candidates) == 0 {
		addStrings(sheet, "No resolution candidates found")
		return
	}
	writeHeader(sheet, "Original Name", "Candidate Name", "Charity Number", "Confidence Score", "Match Method", "Selected")
	for _, r := range rep.Records {
		for _, c := range rep.Candidates[r.ID] {
			selected := "No"
			if c.IsSelected {
				selected = "Yes"
			}
			score := c.ConfidenceScore
			addStrings(sheet, r.OriginalName, c.CandidateName, c.RegistryNumber, pct(&score), string(c.MatchMethod), selected)
		}
	}
}

func ownershipSheet(sheet *xlsx.Sheet, rep *Report) {
	if len(rep.Edges) == 0 {
		addStrings(sheet, "No ownership relationships found")
		return
	}
	writeHeader(sheet, "Owner Name", "Owner Charity #", "Relationship", "Owned Entity",
		"Owned Charity #", "Owned Company #", "Ownership %", "Source", "Verified")
	for _, e := range rep.Edges {
		ownerName, ownerNumber := "Unknown", ""
		if o := rep.record(e.OwnerRecordID); o != nil {
			ownerName, ownerNumber = o.DisplayName(), o.RegistryNumber
		}
		ownedName, ownedNumber, ownedCompany := "Unknown", "", ""
		if o := rep.record(e.OwnedRecordID); o != nil {
			ownedName, ownedNumber, ownedCompany = o.DisplayName(), o.RegistryNumber, o.SecondaryNumber
		}
		share := ""
		if e.Percentage != nil {
			share = fmt.Sprintf("%.1f%%", *e.Percentage)
		}
		verified := "No"
		if e.Verified {
			verified = "Yes"
		}
		addStrings(sheet, ownerName, ownerNumber, string(e.RelationType), ownedName,
			ownedNumber, ownedCompany, share, e.Source, verified)
	}
}

func financialSheet(sheet *xlsx.Sheet, rep *Report) {
	var rows []model.Record
	for _, r := range rep.Records {
		if r.LatestIncome != nil || r.LatestExpenditure != nil {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		addStrings(sheet, "No financial data available")
		return
	}

	writeHeader(sheet, "Name", "Charity Number", "Status", "Latest Income", "Latest Expenditure", "Net Position", "Financial Year End")
	var income, expenditure float64
	for _, r := range rows {
		row := addStrings(sheet, r.DisplayName(), r.RegistryNumber, r.RegistryStatus)
		addMoney(row, r.LatestIncome)
		addMoney(row, r.LatestExpenditure)
		net := value(r.LatestIncome) - value(r.LatestExpenditure)
		addMoney(row, &net)
		row.AddCell().SetString(r.FinancialYearEnd)
		income += value(r.LatestIncome)
		expenditure += value(r.LatestExpenditure)
	}

	sheet.AddRow()
	totals := sheet.AddRow()
	label := totals.AddCell()
	label.SetString("TOTALS")
	label.SetStyle(boldStyle())
	totals.AddCell()
	totals.AddCell()
	addMoney(totals, &income)
	addMoney(totals, &expenditure)
	net := income - expenditure
	addMoney(totals, &net)
}

func value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func enrichedSheet(sheet *xlsx.Sheet, rep *Report) {
	title := sheet.AddRow().AddCell()
	title.SetString("TRUSTEES")
	title.SetStyle(boldStyle())
	writeHeader(sheet, "Charity Name", "Charity Number", "Trustee Name", "Trustee ID")
	trustees := 0
	for _, r := range rep.Records {
		for _, t := range r.EnrichedData.Trustees {
			addStrings(sheet, r.DisplayName(), r.RegistryNumber, t.Name, t.ID)
			trustees++
		}
	}
	if trustees == 0 {
		addStrings(sheet, "No trustee data")
	}

	sheet.AddRow()
	title = sheet.AddRow().AddCell()
	title.SetString("SUBSIDIARIES")
	title.SetStyle(boldStyle())
	writeHeader(sheet, "Charity Name", "Charity Number", "Subsidiary Name", "Company Number")
	subs := 0
	for _, r := range rep.Records {
		for _, s := range r.EnrichedData.Subsidiaries {
			addStrings(sheet, r.DisplayName(), r.RegistryNumber, s.Name, s.CompanyNumber)
			subs++
		}
	}
	if subs == 0 {
		addStrings(sheet, "No subsidiary data")
	}
}
