package model

import "time"

// RelationType classifies an ownership edge.
type RelationType string

const (
	RelationSubsidiary     RelationType = "subsidiary"
	RelationTrusteeCharity RelationType = "trustee_charity"
	RelationOther          RelationType = "other"
)

// EdgeSourceRegistry marks edges discovered through the charity register.
const EdgeSourceRegistry = "charity_commission"

// OwnershipEdge is a directed owner -> owned relation between two records.
type OwnershipEdge struct {
	ID            string       `json:"id"`
	OwnerRecordID string       `json:"owner_record_id"`
	OwnedRecordID string       `json:"owned_record_id"`
	RelationType  RelationType `json:"relation_type"`
	Percentage    *float64     `json:"percentage,omitempty"`
	Source        string       `json:"source,omitempty"`
	Verified      bool         `json:"verified"`
	CreatedAt     time.Time    `json:"created_at"`
}
