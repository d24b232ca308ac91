package model

import "time"

// BatchStatus is the batch-level outcome of resolution.
type BatchStatus string

const (
	BatchStatusUploaded   BatchStatus = "uploaded"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusPartial    BatchStatus = "partial"
)

// Batch groups the records from one upload.
type Batch struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Filename         string      `json:"filename,omitempty"`
	Status           BatchStatus `json:"status"`
	TotalRecords     int         `json:"total_records"`
	ProcessedRecords int         `json:"processed_records"`
	MatchedRecords   int         `json:"matched_records"`
	FailedRecords    int         `json:"failed_records"`
	ErrorMessage     string      `json:"error_message,omitempty"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Conserved reports whether the progress counters are internally consistent.
func (b *Batch) Conserved() bool {
	if b.ProcessedRecords > b.TotalRecords {
		return false
	}
	return b.MatchedRecords+b.FailedRecords <= b.ProcessedRecords
}

// Progress returns the processed fraction in [0,1].
func (b *Batch) Progress() float64 {
	if b.TotalRecords == 0 {
		return 0
	}
	return float64(b.ProcessedRecords) / float64(b.TotalRecords)
}

// BatchStats summarizes the records of one batch.
type BatchStats struct {
	BatchID          string                   `json:"batch_id"`
	TotalRecords     int                      `json:"total_records"`
	RootRecords      int                      `json:"root_records"`
	DerivedRecords   int                      `json:"derived_records"`
	Candidates       int                      `json:"candidates"`
	Edges            int                      `json:"edges"`
	ByStatus         map[ResolutionStatus]int `json:"by_status"`
	ByKind           map[EntityKind]int       `json:"by_kind"`
	TotalIncome      float64                  `json:"total_income"`
	TotalExpenditure float64                  `json:"total_expenditure"`
}
