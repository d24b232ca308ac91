package charity

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FullDetails fetches a charity together with its trustees, accounts and
// subsidiaries. The four requests run concurrently. It returns nil when the
// charity is not on the register; a failing sub-resource leaves that list
// empty and is only logged.
func FullDetails(ctx context.Context, c Client, number string) (*Charity, error) {
	var (
		primary      *Charity
		trustees     []Trustee
		accounts     []Account
		subsidiaries []Subsidiary
	)

	var g errgroup.Group
	g.Go(func() error {
		ch, err := c.GetByNumber(ctx, number)
		primary = ch
		return err
	})
	g.Go(func() error {
		trustees = subResource(ctx, number, "trustees", c.GetTrustees)
		return nil
	})
	g.Go(func() error {
		accounts = subResource(ctx, number, "accounts", c.GetAccounts)
		return nil
	})
	g.Go(func() error {
		subsidiaries = subResource(ctx, number, "subsidiaries", c.GetSubsidiaries)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if primary == nil {
		return nil, nil
	}

	primary.Trustees = trustees
	primary.Accounts = accounts
	primary.Subsidiaries = subsidiaries
	return primary, nil
}

func subResource[T any](ctx context.Context, number, name string, fetch func(context.Context, string) ([]T, error)) []T {
	out, err := fetch(ctx, number)
	if err != nil {
		zap.L().Warn("charity: sub-resource fetch failed",
			zap.String("charity_number", number),
			zap.String("resource", name),
			zap.Error(err),
		)
		return nil
	}
	return out
}

// Details is the flattened view of a register entry used to enrich records.
type Details struct {
	Number            string
	Name              string
	Status            string
	RegistrationDate  string
	RemovalDate       string
	Activities        string
	Email             string
	Phone             string
	Website           string
	Address           string
	Postcode          string
	LatestIncome      *float64
	LatestExpenditure *float64
	FinancialYearEnd  string
	Trustees          []TrusteeRef
	Subsidiaries      []SubsidiaryRef
}

// TrusteeRef is a trustee as stored on a record.
type TrusteeRef struct {
	Name string
	ID   string
}

// SubsidiaryRef is a subsidiary as stored on a record.
type SubsidiaryRef struct {
	Name           string
	CompanyNumber  string
	RegistryNumber string
}

// Parse flattens a register entry. Dates are reduced to YYYY-MM-DD and the
// first account is taken as the latest.
func Parse(c *Charity) *Details {
	if c == nil {
		return nil
	}
	d := &Details{
		Number:           c.Number(),
		Name:             c.DisplayName(),
		Status:           c.RegistrationStatus,
		RegistrationDate: ParseDate(c.RegistrationDate),
		RemovalDate:      ParseDate(c.RemovalDate),
		Activities:       strings.TrimSpace(c.Activities),
	}
	if c.Contact != nil {
		d.Email = c.Contact.Email
		d.Phone = c.Contact.Phone
		d.Website = c.Contact.Web
		d.Address = c.Contact.Address()
		d.Postcode = c.Contact.Postcode
	}
	if len(c.Accounts) > 0 {
		latest := c.Accounts[0]
		d.LatestIncome = latest.TotalGrossIncome
		d.LatestExpenditure = latest.TotalGrossExpenditure
		d.FinancialYearEnd = ParseDate(latest.FinancialYearEnd)
	}
	for _, t := range c.Trustees {
		if strings.TrimSpace(t.TrusteeName) == "" {
			continue
		}
		d.Trustees = append(d.Trustees, TrusteeRef{Name: t.TrusteeName, ID: string(t.TrusteeID)})
	}
	for _, s := range c.Subsidiaries {
		if strings.TrimSpace(s.SubsidiaryName) == "" {
			continue
		}
		d.Subsidiaries = append(d.Subsidiaries, SubsidiaryRef{
			Name:           s.SubsidiaryName,
			CompanyNumber:  NormalizeNumber(string(s.CompanyNumber)),
			RegistryNumber: NormalizeNumber(string(s.RegisteredCharityNumber)),
		})
	}
	return d
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// ParseDate reduces a register date to YYYY-MM-DD. Unparseable input yields "".
func ParseDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}
