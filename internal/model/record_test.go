package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolutionStatus_Classes(t *testing.T) {
	tests := []struct {
		status   ResolutionStatus
		matched  bool
		terminal bool
		eligible bool
	}{
		{StatusPending, false, false, true},
		{StatusMatched, true, true, false},
		{StatusConfirmed, true, true, false},
		{StatusNoMatch, false, true, false},
		{StatusMultipleMatches, false, false, true},
		{StatusManualReview, false, false, true},
		{StatusRejected, false, true, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.matched, tt.status.IsMatched())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.eligible, tt.status.Eligible())
		})
	}
}

func TestRecord_DisplayName(t *testing.T) {
	r := &Record{OriginalName: "red cross"}
	assert.Equal(t, "red cross", r.DisplayName())

	r.ResolvedName = "THE BRITISH RED CROSS SOCIETY"
	assert.Equal(t, "THE BRITISH RED CROSS SOCIETY", r.DisplayName())
}

func TestRecord_ResetResolution(t *testing.T) {
	r := &Record{
		OriginalName:   "Oxfam",
		EntityKind:     EntityKindCharity,
		ResolvedName:   "OXFAM",
		RegistryNumber: "202918",
		Status:         StatusMatched,
		Confidence:     Float(1),
		Method:         MethodDirectLookup,
		LatestIncome:   Float(100),
		EnrichedData:   EnrichedData{AIReasoning: "x"},
		OwnershipDepth: 1,
		ParentRecordID: "p1",
	}
	r.ResetResolution()

	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, EntityKindUnknown, r.EntityKind)
	assert.Empty(t, r.RegistryNumber)
	assert.Nil(t, r.Confidence)
	assert.Nil(t, r.LatestIncome)
	assert.Empty(t, r.EnrichedData.AIReasoning)
	assert.False(t, r.HasIdentity())
	// Tree placement is not part of resolution.
	assert.Equal(t, 1, r.OwnershipDepth)
	assert.Equal(t, "p1", r.ParentRecordID)
}

func TestBatch_Conserved(t *testing.T) {
	b := &Batch{TotalRecords: 10, ProcessedRecords: 6, MatchedRecords: 4, FailedRecords: 2}
	assert.True(t, b.Conserved())
	assert.InDelta(t, 0.6, b.Progress(), 1e-9)

	b.ProcessedRecords = 11
	assert.False(t, b.Conserved())

	b = &Batch{TotalRecords: 3, ProcessedRecords: 2, MatchedRecords: 2, FailedRecords: 1}
	assert.False(t, b.Conserved())

	assert.Zero(t, (&Batch{}).Progress())
}
