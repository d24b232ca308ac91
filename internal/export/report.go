// Package export renders a batch as a multi-tab workbook or a flat CSV.
package export

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/charity-cli/internal/model"
	"github.com/sells-group/charity-cli/internal/store"
)

// Report is everything the exports need for one batch.
type Report struct {
	Batch      *model.Batch
	Records    []model.Record
	Candidates map[string][]model.CandidateMatch
	Edges      []model.OwnershipEdge
}

// Load reads a batch with its records, candidates and edges.
func Load(ctx context.Context, st store.Store, batchID string) (*Report, error) {
	b, err := st.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	records, err := st.ListRecords(ctx, batchID, store.RecordFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "export: list records")
	}

	rep := &Report{
		Batch:      b,
		Records:    records,
		Candidates: make(map[string][]model.CandidateMatch, len(records)),
	}
	for _, r := range records {
		cands, err := st.ListCandidates(ctx, r.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "export: list candidates for %s", r.ID)
		}
		if len(cands) > 0 {
			rep.Candidates[r.ID] = cands
		}
	}
	rep.Edges, err = st.ListEdgesByBatch(ctx, batchID)
	if err != nil {
		return nil, eris.Wrap(err, "export: list edges")
	}
	return rep, nil
}

func (r *Report) record(id string) *model.Record {
	for i := range r.Records {
		if r.Records[i].ID == id {
			return &r.Records[i]
		}
	}
	return nil
}

// counts tallies records by resolution status.
func (r *Report) counts() map[model.ResolutionStatus]int {
	out := make(map[model.ResolutionStatus]int)
	for _, rec := range r.Records {
		out[rec.Status]++
	}
	return out
}
