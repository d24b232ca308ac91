package model

import (
	"encoding/json"
	"time"
)

// MatchMethod tags how a candidate row was produced.
type MatchMethod string

const (
	MatchMethodFuzzySearch MatchMethod = "fuzzy_search"
	MatchMethodManualEntry MatchMethod = "manual_entry"
)

// CandidateMatch is an audit row for one registry entry considered for a record.
type CandidateMatch struct {
	ID              string          `json:"id"`
	RecordID        string          `json:"record_id"`
	CandidateName   string          `json:"candidate_name"`
	RegistryNumber  string          `json:"registry_number"`
	RawData         json.RawMessage `json:"raw_data,omitempty"`
	ConfidenceScore float64         `json:"confidence_score"`
	MatchMethod     MatchMethod     `json:"match_method"`
	IsSelected      bool            `json:"is_selected"`
	CreatedAt       time.Time       `json:"created_at"`
}
