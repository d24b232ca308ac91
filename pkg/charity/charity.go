// Package charity provides a client for the Charity Commission register API
// and an offline fixture-backed registry with the same interface.
package charity

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// Client defines the register operations the resolution engine consumes.
type Client interface {
	// Search returns register entries whose name matches name.
	Search(ctx context.Context, name string, pageSize int) ([]Charity, error)
	// GetByNumber returns the register entry for number, or nil when the
	// register has no such charity.
	GetByNumber(ctx context.Context, number string) (*Charity, error)
	// GetTrustees lists the trustees of a charity (empty when unknown).
	GetTrustees(ctx context.Context, number string) ([]Trustee, error)
	// GetAccounts lists annual returns, most recent first.
	GetAccounts(ctx context.Context, number string) ([]Account, error)
	// GetSubsidiaries lists subsidiary undertakings.
	GetSubsidiaries(ctx context.Context, number string) ([]Subsidiary, error)
}

// FlexString decodes a JSON string or number into a string. The register
// reports some identifiers as integers.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = FlexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = FlexString(n.String())
	return nil
}

// Charity is a register entry. Summary fields come back from search; the
// nested lists are populated by FullDetails.
type Charity struct {
	CharityNumber           FlexString `json:"charityNumber,omitempty"`
	RegisteredCharityNumber FlexString `json:"registeredCharityNumber,omitempty"`
	CharityName             string     `json:"charityName,omitempty"`
	Name                    string     `json:"name,omitempty"`
	RegistrationStatus      string     `json:"registrationStatus,omitempty"`
	RegistrationDate        string     `json:"registrationDate,omitempty"`
	RemovalDate             string     `json:"removalDate,omitempty"`
	Activities              string     `json:"activities,omitempty"`
	Contact                 *Contact   `json:"contact,omitempty"`

	Trustees     []Trustee    `json:"trustees,omitempty"`
	Accounts     []Account    `json:"accounts,omitempty"`
	Subsidiaries []Subsidiary `json:"subsidiaries,omitempty"`
}

// Number returns the registered charity number in normalized form.
func (c *Charity) Number() string {
	if c.CharityNumber != "" {
		return NormalizeNumber(string(c.CharityNumber))
	}
	return NormalizeNumber(string(c.RegisteredCharityNumber))
}

// DisplayName returns the register name.
func (c *Charity) DisplayName() string {
	if c.CharityName != "" {
		return c.CharityName
	}
	return c.Name
}

// Contact holds the public contact block.
type Contact struct {
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Web          string `json:"web,omitempty"`
	AddressLine1 string `json:"addressLine1,omitempty"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	AddressLine3 string `json:"addressLine3,omitempty"`
	AddressLine4 string `json:"addressLine4,omitempty"`
	Postcode     string `json:"postcode,omitempty"`
}

// Address joins the non-empty address lines and postcode.
func (c *Contact) Address() string {
	if c == nil {
		return ""
	}
	var parts []string
	for _, p := range []string{c.AddressLine1, c.AddressLine2, c.AddressLine3, c.AddressLine4, c.Postcode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Trustee is one entry of the trustees endpoint.
type Trustee struct {
	TrusteeName string     `json:"trusteeName"`
	TrusteeID   FlexString `json:"trusteeId,omitempty"`
}

// Account is one annual return.
type Account struct {
	TotalGrossIncome      *float64 `json:"totalGrossIncome,omitempty"`
	TotalGrossExpenditure *float64 `json:"totalGrossExpenditure,omitempty"`
	FinancialYearEnd      string   `json:"financialYearEnd,omitempty"`
}

// Subsidiary is one subsidiary undertaking. RegisteredCharityNumber is set
// when the subsidiary is itself a registered charity.
type Subsidiary struct {
	SubsidiaryName          string     `json:"subsidiaryName"`
	CompanyNumber           FlexString `json:"companyNumber,omitempty"`
	RegisteredCharityNumber FlexString `json:"registeredCharityNumber,omitempty"`
}
