package model

import "time"

// EntityKind classifies a resolved organization.
type EntityKind string

const (
	EntityKindCharity EntityKind = "charity"
	EntityKindCompany EntityKind = "company"
	EntityKindTrust   EntityKind = "trust"
	EntityKindCIO     EntityKind = "cio"
	EntityKindUnknown EntityKind = "unknown"
)

// ResolutionStatus is the state of a record in the resolution pipeline.
type ResolutionStatus string

const (
	StatusPending         ResolutionStatus = "pending"
	StatusMatched         ResolutionStatus = "matched"
	StatusConfirmed       ResolutionStatus = "confirmed"
	StatusNoMatch         ResolutionStatus = "no_match"
	StatusMultipleMatches ResolutionStatus = "multiple_matches"
	StatusManualReview    ResolutionStatus = "manual_review"
	StatusRejected        ResolutionStatus = "rejected"
)

// IsMatched reports whether the status carries a registry identity.
func (s ResolutionStatus) IsMatched() bool {
	return s == StatusMatched || s == StatusConfirmed
}

// IsTerminal reports whether automatic processing leaves the status alone.
func (s ResolutionStatus) IsTerminal() bool {
	switch s {
	case StatusMatched, StatusConfirmed, StatusNoMatch, StatusRejected:
		return true
	default:
		return false
	}
}

// Eligible reports whether a batch run should (re)attempt the record.
func (s ResolutionStatus) Eligible() bool {
	switch s {
	case StatusPending, StatusManualReview, StatusMultipleMatches:
		return true
	default:
		return false
	}
}

// EligibleStatuses lists the statuses a batch run picks up.
var EligibleStatuses = []ResolutionStatus{StatusPending, StatusManualReview, StatusMultipleMatches}

// ResolutionMethod tags how a record obtained its current identity.
type ResolutionMethod string

const (
	MethodDirectLookup        ResolutionMethod = "direct_lookup"
	MethodNumberExtraction    ResolutionMethod = "number_extraction"
	MethodExactMatch          ResolutionMethod = "exact_match"
	MethodAIMatch             ResolutionMethod = "ai_match"
	MethodManualConfirm       ResolutionMethod = "manual_confirm"
	MethodNeedsReview         ResolutionMethod = "needs_review"
	MethodSubsidiaryDiscovery ResolutionMethod = "subsidiary_discovery"
	MethodRelatedDiscovery    ResolutionMethod = "related_discovery"
)

// Trustee is a trustee listed against a registered charity.
type Trustee struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// Subsidiary is a trading subsidiary reported by a registered charity.
type Subsidiary struct {
	Name           string `json:"name"`
	CompanyNumber  string `json:"company_number,omitempty"`
	RegistryNumber string `json:"registry_number,omitempty"`
}

// EnrichedData holds registry-derived lists and AI output for a record.
type EnrichedData struct {
	Trustees     []Trustee    `json:"trustees,omitempty"`
	Subsidiaries []Subsidiary `json:"subsidiaries,omitempty"`
	AIReasoning  string       `json:"ai_reasoning,omitempty"`
}

// Record is one organization being resolved.
type Record struct {
	ID           string         `json:"id"`
	BatchID      string         `json:"batch_id"`
	RowNumber    int            `json:"row_number"`
	OriginalName string         `json:"original_name"`
	OriginalData map[string]any `json:"original_data,omitempty"`

	EntityKind      EntityKind `json:"entity_kind"`
	ResolvedName    string     `json:"resolved_name,omitempty"`
	RegistryNumber  string     `json:"registry_number,omitempty"`
	SecondaryNumber string     `json:"secondary_number,omitempty"`

	RegistryStatus    string   `json:"registry_status,omitempty"`
	RegistrationDate  string   `json:"registration_date,omitempty"`
	RemovalDate       string   `json:"removal_date,omitempty"`
	Activities        string   `json:"activities,omitempty"`
	Email             string   `json:"email,omitempty"`
	Phone             string   `json:"phone,omitempty"`
	Website           string   `json:"website,omitempty"`
	Address           string   `json:"address,omitempty"`
	Postcode          string   `json:"postcode,omitempty"`
	LatestIncome      *float64 `json:"latest_income,omitempty"`
	LatestExpenditure *float64 `json:"latest_expenditure,omitempty"`
	FinancialYearEnd  string   `json:"financial_year_end,omitempty"`

	Status     ResolutionStatus `json:"resolution_status"`
	Confidence *float64         `json:"resolution_confidence,omitempty"`
	Method     ResolutionMethod `json:"resolution_method,omitempty"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`

	ParentRecordID string       `json:"parent_record_id,omitempty"`
	OwnershipDepth int          `json:"ownership_depth"`
	EnrichedData   EnrichedData `json:"enriched_data"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName prefers the registry name over the uploaded one.
func (r *Record) DisplayName() string {
	if r.ResolvedName != "" {
		return r.ResolvedName
	}
	return r.OriginalName
}

// HasIdentity reports whether either registry identifier is set.
func (r *Record) HasIdentity() bool {
	return r.RegistryNumber != "" || r.SecondaryNumber != ""
}

// ResetResolution clears every field the resolver owns and returns the
// record to pending.
func (r *Record) ResetResolution() {
	r.EntityKind = EntityKindUnknown
	r.ResolvedName = ""
	r.RegistryNumber = ""
	r.SecondaryNumber = ""
	r.RegistryStatus = ""
	r.RegistrationDate = ""
	r.RemovalDate = ""
	r.Activities = ""
	r.Email = ""
	r.Phone = ""
	r.Website = ""
	r.Address = ""
	r.Postcode = ""
	r.LatestIncome = nil
	r.LatestExpenditure = nil
	r.FinancialYearEnd = ""
	r.Status = StatusPending
	r.Confidence = nil
	r.Method = ""
	r.ResolvedAt = nil
	r.EnrichedData = EnrichedData{}
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
