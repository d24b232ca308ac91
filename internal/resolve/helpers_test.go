package resolve

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/charity-cli/internal/disambiguate"
	"github.com/sells-group/charity-cli/internal/match"
	"github.com/sells-group/charity-cli/internal/model"
	"github.com/sells-group/charity-cli/internal/store"
	"github.com/sells-group/charity-cli/pkg/charity"
)

const alphaFixtures = `
charities:
  - number: "300001"
    name: ALPHA HOUSE
    status: Registered
  - number: "300002"
    name: ALPHA HOME
    status: Registered
  - number: "300003"
    name: BETA CENTRE
    status: Registered
`

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedRecord(t *testing.T, st store.Store, rec *model.Record) *model.Record {
	t.Helper()
	ctx := context.Background()
	b := &model.Batch{Name: "upload", TotalRecords: 1}
	require.NoError(t, st.CreateBatch(ctx, b))
	rec.BatchID = b.ID
	rec.RowNumber = 1
	require.NoError(t, st.CreateRecords(ctx, []*model.Record{rec}))
	return rec
}

func alphaRegistry(t *testing.T) *charity.FixtureClient {
	t.Helper()
	c, err := charity.NewFixtureClient([]byte(alphaFixtures))
	require.NoError(t, err)
	return c
}

func fixedScores(scores map[string]float64) match.Scorer {
	return func(_, candidate string) float64 { return scores[candidate] }
}

type fakeAI struct {
	sel   *disambiguate.Selection
	calls int
}

func (f *fakeAI) Available() bool { return true }

func (f *fakeAI) Select(context.Context, string, []match.Candidate, map[string]any) *disambiguate.Selection {
	f.calls++
	return f.sel
}

type failingSearch struct {
	*charity.FixtureClient
}

func (failingSearch) Search(context.Context, string, int) ([]charity.Charity, error) {
	return nil, errors.New("registry down")
}
