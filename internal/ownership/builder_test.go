package ownership

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/charity-cli/internal/metrics"
	"github.com/sells-group/charity-cli/internal/model"
	"github.com/sells-group/charity-cli/internal/store"
	"github.com/sells-group/charity-cli/pkg/charity"
)

const groupFixtures = `
charities:
  - number: "400001"
    name: ROOT CHARITY
    status: Registered
    subsidiaries:
      - name: ROOT TRADING LIMITED
        company_number: "01000001"
      - name: ROOT HOUSING
        company_number: "01000002"
        registry_number: "400002"
  - number: "400002"
    name: ROOT HOUSING
    status: Registered
    subsidiaries:
      - name: HOUSING SERVICES
        company_number: "01000003"
        registry_number: "400003"
  - number: "400003"
    name: HOUSING SERVICES
    status: Registered
    subsidiaries:
      - name: DEEP LIMITED
        company_number: "01000004"
  - number: "400010"
    name: TRUSTEE FUND
    status: Registered
    accounts:
      - income: 1200
        expenditure: 900
        financial_year_end: "2024-03-31"
  - number: "500001"
    name: LOOP ONE
    subsidiaries:
      - name: LOOP TWO
        registry_number: "500002"
  - number: "500002"
    name: LOOP TWO
    subsidiaries:
      - name: LOOP ONE
        registry_number: "500001"
`

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func groupRegistry(t *testing.T) *charity.FixtureClient {
	t.Helper()
	c, err := charity.NewFixtureClient([]byte(groupFixtures))
	require.NoError(t, err)
	return c
}

// seedRoot stores a matched root record for number in a fresh batch.
func seedRoot(t *testing.T, st store.Store, number string, trustees ...string) *model.Record {
	t.Helper()
	ctx := context.Background()
	b := &model.Batch{Name: "upload", TotalRecords: 1}
	require.NoError(t, st.CreateBatch(ctx, b))
	rec := &model.Record{
		BatchID:        b.ID,
		RowNumber:      1,
		OriginalName:   "root " + number,
		EntityKind:     model.EntityKindCharity,
		RegistryNumber: number,
		Status:         model.StatusMatched,
		Confidence:     model.Float(1),
		Method:         model.MethodDirectLookup,
	}
	for _, name := range trustees {
		rec.EnrichedData.Trustees = append(rec.EnrichedData.Trustees, model.Trustee{Name: name})
	}
	require.NoError(t, st.CreateRecords(ctx, []*model.Record{rec}))
	return rec
}

func countGraph(t *testing.T, st store.Store, batchID string) (records, edges int) {
	t.Helper()
	ctx := context.Background()
	recs, err := st.ListRecords(ctx, batchID, store.RecordFilter{})
	require.NoError(t, err)
	es, err := st.ListEdgesByBatch(ctx, batchID)
	require.NoError(t, err)
	return len(recs), len(es)
}

func TestBuildTree_TwoLevels(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	root := seedRoot(t, st, "400001")
	m := metrics.New()
	b := New(st, groupRegistry(t), WithMetrics(m))

	tree, err := b.BuildTree(ctx, root.ID, 2, DirectionDown)
	require.NoError(t, err)
	assert.Equal(t, 4, tree.TotalEntities)
	assert.Equal(t, 2, tree.MaxDepthReached)
	require.Len(t, tree.Root.Children, 2)

	byName := map[string]*Node{}
	for _, c := range tree.Root.Children {
		byName[c.Name] = c
	}
	trading := byName["ROOT TRADING LIMITED"]
	require.NotNil(t, trading)
	assert.Equal(t, "01000001", trading.SecondaryNumber)
	assert.Equal(t, model.EntityKindCompany, trading.Kind)
	assert.Equal(t, model.RelationSubsidiary, trading.Relation)
	assert.Equal(t, 1, trading.Depth)
	assert.Empty(t, trading.Children)

	housing := byName["ROOT HOUSING"]
	require.NotNil(t, housing)
	require.Len(t, housing.Children, 1)
	assert.Equal(t, "HOUSING SERVICES", housing.Children[0].Name)
	assert.Equal(t, 2, housing.Children[0].Depth)
	assert.Empty(t, housing.Children[0].Children)

	records, edges := countGraph(t, st, root.BatchID)
	assert.Equal(t, 4, records)
	assert.Equal(t, 3, edges)

	recs, err := st.ListRecords(ctx, root.BatchID, store.RecordFilter{})
	require.NoError(t, err)
	for _, r := range recs {
		assert.LessOrEqual(t, r.OwnershipDepth, 2, r.OriginalName)
		if r.ID == root.ID {
			continue
		}
		assert.Equal(t, model.MethodSubsidiaryDiscovery, r.Method)
		assert.Equal(t, model.StatusMatched, r.Status)
		require.NotNil(t, r.Confidence)
		assert.InDelta(t, 1.0, *r.Confidence, 1e-9)
		assert.NotEmpty(t, r.ParentRecordID)
	}
}

func TestBuildTree_Idempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	root := seedRoot(t, st, "400001")
	b := New(st, groupRegistry(t))

	first, err := b.BuildTree(ctx, root.ID, 2, DirectionDown)
	require.NoError(t, err)
	records1, edges1 := countGraph(t, st, root.BatchID)

	second, err := b.BuildTree(ctx, root.ID, 2, DirectionDown)
	require.NoError(t, err)
	records2, edges2 := countGraph(t, st, root.BatchID)

	assert.Equal(t, records1, records2)
	assert.Equal(t, edges1, edges2)
	assert.Equal(t, first.TotalEntities, second.TotalEntities)
	assert.Equal(t, first.MaxDepthReached, second.MaxDepthReached)
}

func TestBuildTree_DepthBound(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	root := seedRoot(t, st, "400001")

	tree, err := New(st, groupRegistry(t)).BuildTree(ctx, root.ID, 1, DirectionDown)
	require.NoError(t, err)
	assert.Equal(t, 3, tree.TotalEntities)
	assert.Equal(t, 1, tree.MaxDepthReached)

	recs, err := st.ListRecords(ctx, root.BatchID, store.RecordFilter{})
	require.NoError(t, err)
	for _, r := range recs {
		assert.LessOrEqual(t, r.OwnershipDepth, 1)
	}
}

func TestBuildTree_DefaultDepthStopsAtCap(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	root := seedRoot(t, st, "400001")

	tree, err := New(st, groupRegistry(t)).BuildTree(ctx, root.ID, 0, DirectionDown)
	require.NoError(t, err)
	// DEEP LIMITED sits at depth 3, the default.
	assert.Equal(t, 5, tree.TotalEntities)
	assert.Equal(t, 3, tree.MaxDepthReached)
}

func TestBuildTree_Cycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	root := seedRoot(t, st, "500001")

	tree, err := New(st, groupRegistry(t)).BuildTree(ctx, root.ID, 5, DirectionDown)
	require.NoError(t, err)
	assert.Equal(t, 2, tree.TotalEntities)

	records, edges := countGraph(t, st, root.BatchID)
	assert.Equal(t, 2, records)
	assert.Equal(t, 1, edges)
}

func TestBuildTree_TrusteeCharity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	root := seedRoot(t, st, "400001", "Trustee Fund", "Jane Nobody")

	tree, err := New(st, groupRegistry(t)).BuildTree(ctx, root.ID, 1, DirectionDown)
	require.NoError(t, err)

	var related *Node
	for _, c := range tree.Root.Children {
		if c.Relation == model.RelationTrusteeCharity {
			related = c
		}
	}
	require.NotNil(t, related)
	assert.Equal(t, "400010", related.RegistryNumber)
	assert.Equal(t, model.EntityKindCharity, related.Kind)
	require.NotNil(t, related.LatestIncome)
	assert.InDelta(t, 1200, *related.LatestIncome, 1e-9)

	rec, err := st.GetRecord(ctx, related.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MethodRelatedDiscovery, rec.Method)
	assert.Equal(t, root.ID, rec.ParentRecordID)
	assert.Equal(t, "2024-03-31", rec.FinancialYearEnd)

	edges, err := st.ListEdgesByOwner(ctx, root.ID)
	require.NoError(t, err)
	relations := map[model.RelationType]int{}
	for _, e := range edges {
		relations[e.RelationType]++
		assert.Equal(t, model.EdgeSourceRegistry, e.Source)
		assert.True(t, e.Verified)
	}
	assert.Equal(t, 2, relations[model.RelationSubsidiary])
	assert.Equal(t, 1, relations[model.RelationTrusteeCharity])
}

func TestBuildTree_Up(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	root := seedRoot(t, st, "400001")
	b := New(st, groupRegistry(t))

	_, err := b.BuildTree(ctx, root.ID, 2, DirectionDown)
	require.NoError(t, err)

	leaf, err := st.FindRecord(ctx, store.RecordKey{BatchID: root.BatchID, RegistryNumber: "400003"})
	require.NoError(t, err)
	require.NotNil(t, leaf)

	tree, err := b.BuildTree(ctx, leaf.ID, 3, DirectionUp)
	require.NoError(t, err)
	assert.Equal(t, 3, tree.TotalEntities)
	assert.Equal(t, 2, tree.MaxDepthReached)
	require.Len(t, tree.Root.Parents, 1)
	assert.Equal(t, "400002", tree.Root.Parents[0].RegistryNumber)
	require.Len(t, tree.Root.Parents[0].Parents, 1)
	assert.Equal(t, root.ID, tree.Root.Parents[0].Parents[0].ID)
	assert.Empty(t, tree.Root.Children)
}

func TestBuildTree_NoNumberIsLeaf(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	b := &model.Batch{Name: "upload"}
	require.NoError(t, st.CreateBatch(ctx, b))
	rec := &model.Record{BatchID: b.ID, OriginalName: "Unresolved"}
	require.NoError(t, st.CreateRecords(ctx, []*model.Record{rec}))

	tree, err := New(st, groupRegistry(t)).BuildTree(ctx, rec.ID, 3, DirectionBoth)
	require.NoError(t, err)
	assert.Equal(t, 1, tree.TotalEntities)
	assert.Equal(t, 0, tree.MaxDepthReached)
}

func TestBuildTree_UnknownRecord(t *testing.T) {
	st := newTestStore(t)
	_, err := New(st, groupRegistry(t)).BuildTree(context.Background(), "missing", 3, DirectionBoth)
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

type brokenSubsidiaries struct {
	*charity.FixtureClient
}

func (brokenSubsidiaries) GetSubsidiaries(context.Context, string) ([]charity.Subsidiary, error) {
	return nil, errors.New("register unavailable")
}

func TestBuildTree_SubsidiaryErrorPropagates(t *testing.T) {
	st := newTestStore(t)
	root := seedRoot(t, st, "400001")

	_, err := New(st, brokenSubsidiaries{groupRegistry(t)}).BuildTree(context.Background(), root.ID, 2, DirectionDown)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register unavailable")
}

func TestBuildTreesForBatch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	root := seedRoot(t, st, "400001")

	pending := &model.Record{BatchID: root.BatchID, RowNumber: 2, OriginalName: "Not yet"}
	other := &model.Record{
		BatchID:        root.BatchID,
		RowNumber:      3,
		OriginalName:   "Loop",
		RegistryNumber: "500001",
		Status:         model.StatusConfirmed,
		Confidence:     model.Float(1),
	}
	require.NoError(t, st.CreateRecords(ctx, []*model.Record{pending, other}))

	res, err := New(st, groupRegistry(t)).BuildTreesForBatch(ctx, root.BatchID, 2)
	require.NoError(t, err)
	assert.Equal(t, root.BatchID, res.BatchID)
	assert.Equal(t, 2, res.TreesBuilt)
	assert.Equal(t, 0, res.Failed)
	// Three below 400001 and LOOP TWO below 500001.
	assert.Equal(t, 4, res.TotalRelatedEntities)
}

func TestBuildTreesForBatch_CountsFailures(t *testing.T) {
	st := newTestStore(t)
	root := seedRoot(t, st, "400001")

	res, err := New(st, brokenSubsidiaries{groupRegistry(t)}).BuildTreesForBatch(context.Background(), root.BatchID, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TreesBuilt)
	assert.Equal(t, 1, res.Failed)
}

func TestBuildTreesForBatch_UnknownBatch(t *testing.T) {
	st := newTestStore(t)
	_, err := New(st, groupRegistry(t)).BuildTreesForBatch(context.Background(), "missing", 2)
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}
