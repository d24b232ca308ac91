package charity

import (
	"context"
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

// FixtureClient serves register data from a YAML document. It backs the
// mock mode used when no API key is configured, and tests.
type FixtureClient struct {
	entries  []*fixtureEntry
	byNumber map[string]*fixtureEntry
}

type fixtureFile struct {
	Charities []fixtureEntry `yaml:"charities"`
}

type fixtureEntry struct {
	Number           string              `yaml:"number"`
	Name             string              `yaml:"name"`
	Aliases          []string            `yaml:"aliases"`
	Status           string              `yaml:"status"`
	RegistrationDate string              `yaml:"registration_date"`
	RemovalDate      string              `yaml:"removal_date"`
	Activities       string              `yaml:"activities"`
	Contact          *fixtureContact     `yaml:"contact"`
	Accounts         []fixtureAccount    `yaml:"accounts"`
	Trustees         []fixtureTrustee    `yaml:"trustees"`
	Subsidiaries     []fixtureSubsidiary `yaml:"subsidiaries"`
}

type fixtureContact struct {
	Email    string   `yaml:"email"`
	Phone    string   `yaml:"phone"`
	Web      string   `yaml:"web"`
	Address  []string `yaml:"address"`
	Postcode string   `yaml:"postcode"`
}

type fixtureAccount struct {
	Income           *float64 `yaml:"income"`
	Expenditure      *float64 `yaml:"expenditure"`
	FinancialYearEnd string   `yaml:"financial_year_end"`
}

type fixtureTrustee struct {
	Name string `yaml:"name"`
	ID   string `yaml:"id"`
}

type fixtureSubsidiary struct {
	Name           string `yaml:"name"`
	CompanyNumber  string `yaml:"company_number"`
	RegistryNumber string `yaml:"registry_number"`
}

// NewFixtureClient parses a fixture document.
func NewFixtureClient(data []byte) (*FixtureClient, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "charity: parse fixtures")
	}
	c := &FixtureClient{byNumber: make(map[string]*fixtureEntry, len(f.Charities))}
	for i := range f.Charities {
		e := &f.Charities[i]
		e.Number = NormalizeNumber(e.Number)
		if e.Number == "" || e.Name == "" {
			return nil, eris.Errorf("charity: fixture %d needs number and name", i)
		}
		c.entries = append(c.entries, e)
		c.byNumber[e.Number] = e
	}
	return c, nil
}

// LoadFixtureClient reads a fixture document from disk.
func LoadFixtureClient(path string) (*FixtureClient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "charity: read fixtures %s", path)
	}
	return NewFixtureClient(data)
}

// DefaultFixtureClient returns the built-in offline register.
func DefaultFixtureClient() *FixtureClient {
	c, err := NewFixtureClient(defaultFixtures)
	if err != nil {
		panic(err)
	}
	return c
}

// Search matches by substring of the name or an alias in either direction,
// falling back to any shared word of three or more letters.
func (c *FixtureClient) Search(_ context.Context, name string, pageSize int) ([]Charity, error) {
	term := strings.ToLower(strings.TrimSpace(name))
	if term == "" {
		return nil, nil
	}
	if pageSize <= 0 {
		pageSize = 10
	}

	var out []Charity
	for _, e := range c.entries {
		if e.matches(func(key string) bool {
			return strings.Contains(key, term) || strings.Contains(term, key)
		}) {
			out = append(out, e.summary())
		}
	}
	if len(out) == 0 {
		words := strings.Fields(term)
		for _, e := range c.entries {
			if e.matches(func(key string) bool {
				for _, w := range words {
					if len(w) >= 3 && strings.Contains(key, w) {
						return true
					}
				}
				return false
			}) {
				out = append(out, e.summary())
			}
		}
	}
	if len(out) > pageSize {
		out = out[:pageSize]
	}
	return out, nil
}

func (c *FixtureClient) GetByNumber(_ context.Context, number string) (*Charity, error) {
	e := c.lookup(number)
	if e == nil {
		return nil, nil
	}
	ch := e.summary()
	if e.Contact != nil {
		ch.Contact = &Contact{
			Email:    e.Contact.Email,
			Phone:    e.Contact.Phone,
			Web:      e.Contact.Web,
			Postcode: e.Contact.Postcode,
		}
		lines := []*string{&ch.Contact.AddressLine1, &ch.Contact.AddressLine2, &ch.Contact.AddressLine3, &ch.Contact.AddressLine4}
		for i, l := range e.Contact.Address {
			if i < len(lines) {
				*lines[i] = l
			}
		}
	}
	return &ch, nil
}

func (c *FixtureClient) GetTrustees(_ context.Context, number string) ([]Trustee, error) {
	e := c.lookup(number)
	if e == nil {
		return nil, nil
	}
	out := make([]Trustee, 0, len(e.Trustees))
	for _, t := range e.Trustees {
		out = append(out, Trustee{TrusteeName: t.Name, TrusteeID: FlexString(t.ID)})
	}
	return out, nil
}

func (c *FixtureClient) GetAccounts(_ context.Context, number string) ([]Account, error) {
	e := c.lookup(number)
	if e == nil {
		return nil, nil
	}
	out := make([]Account, 0, len(e.Accounts))
	for _, a := range e.Accounts {
		out = append(out, Account{
			TotalGrossIncome:      a.Income,
			TotalGrossExpenditure: a.Expenditure,
			FinancialYearEnd:      a.FinancialYearEnd,
		})
	}
	return out, nil
}

func (c *FixtureClient) GetSubsidiaries(_ context.Context, number string) ([]Subsidiary, error) {
	e := c.lookup(number)
	if e == nil {
		return nil, nil
	}
	out := make([]Subsidiary, 0, len(e.Subsidiaries))
	for _, s := range e.Subsidiaries {
		out = append(out, Subsidiary{
			SubsidiaryName:          s.Name,
			CompanyNumber:           FlexString(s.CompanyNumber),
			RegisteredCharityNumber: FlexString(s.RegistryNumber),
		})
	}
	return out, nil
}

func (c *FixtureClient) lookup(number string) *fixtureEntry {
	return c.byNumber[NormalizeNumber(number)]
}

func (e *fixtureEntry) matches(fn func(key string) bool) bool {
	if fn(strings.ToLower(e.Name)) {
		return true
	}
	for _, a := range e.Aliases {
		if fn(strings.ToLower(a)) {
			return true
		}
	}
	return false
}

func (e *fixtureEntry) summary() Charity {
	return Charity{
		CharityNumber:      FlexString(e.Number),
		CharityName:        e.Name,
		RegistrationStatus: e.Status,
		RegistrationDate:   e.RegistrationDate,
		RemovalDate:        e.RemovalDate,
		Activities:         e.Activities,
	}
}

var _ Client = (*FixtureClient)(nil)
