package batch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/charity-cli/internal/metrics"
	"github.com/sells-group/charity-cli/internal/model"
	"github.com/sells-group/charity-cli/internal/resolve"
	"github.com/sells-group/charity-cli/internal/store"
	"github.com/sells-group/charity-cli/pkg/charity"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedBatch(t *testing.T, st store.Store, names ...string) *model.Batch {
	t.Helper()
	ctx := context.Background()
	b := &model.Batch{Name: "upload", TotalRecords: len(names)}
	require.NoError(t, st.CreateBatch(ctx, b))
	recs := make([]*model.Record, len(names))
	for i, n := range names {
		recs[i] = &model.Record{BatchID: b.ID, RowNumber: i + 1, OriginalName: n}
	}
	require.NoError(t, st.CreateRecords(ctx, recs))
	return b
}

// stubResolver reports a fixed status and fails for names in fail.
type stubResolver struct {
	fail    map[string]bool
	panics  map[string]bool
	status  model.ResolutionStatus
	delay   time.Duration
	onCall  func()
	active  atomic.Int32
	maxSeen atomic.Int32

	mu   sync.Mutex
	seen []string
}

func (s *stubResolver) Resolve(_ context.Context, rec *model.Record, _ resolve.Options) (*model.Record, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if s.onCall != nil {
		s.onCall()
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.seen = append(s.seen, rec.OriginalName)
	s.mu.Unlock()

	if s.panics[rec.OriginalName] {
		panic("resolver blew up on " + rec.OriginalName)
	}
	if s.fail[rec.OriginalName] {
		rec.Status = model.StatusMatched
		rec.ResolvedName = "half applied"
		return nil, errors.New("registry exploded")
	}
	rec.Status = s.status
	return rec, nil
}

func TestProcess_FixtureRegistry(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	b := seedBatch(t, st, "British Red Cross", "Oxfam", "Zzqx Unknown")

	res := resolve.New(st, charity.DefaultFixtureClient(), resolve.Config{})
	m := metrics.New()
	orch := New(st, res, m)

	got, err := orch.Process(ctx, b.ID, Options{Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, got.Status)
	assert.Equal(t, 3, got.TotalRecords)
	assert.Equal(t, 3, got.ProcessedRecords)
	assert.Equal(t, 2, got.MatchedRecords)
	assert.Equal(t, 0, got.FailedRecords)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.True(t, got.Conserved())

	stored, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.MatchedRecords)

	recs, err := st.ListRecords(ctx, b.ID, store.RecordFilter{})
	require.NoError(t, err)
	byName := map[string]model.Record{}
	for _, r := range recs {
		byName[r.OriginalName] = r
	}
	assert.Equal(t, "220949", byName["British Red Cross"].RegistryNumber)
	assert.Equal(t, "202918", byName["Oxfam"].RegistryNumber)
	assert.Equal(t, model.StatusNoMatch, byName["Zzqx Unknown"].Status)

	n, err := testutil.GatherAndCount(m.Registry(), "charity_batch_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProcess_FailedRecordGoesToReview(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	b := seedBatch(t, st, "good one", "bad one", "good two")

	stub := &stubResolver{status: model.StatusMatched, fail: map[string]bool{"bad one": true}}
	got, err := New(st, stub, nil).Process(ctx, b.ID, Options{})
	require.NoError(t, err)

	assert.Equal(t, model.BatchStatusPartial, got.Status)
	assert.Equal(t, 3, got.ProcessedRecords)
	assert.Equal(t, 2, got.MatchedRecords)
	assert.Equal(t, 1, got.FailedRecords)

	recs, err := st.ListRecords(ctx, b.ID, store.RecordFilter{Statuses: []model.ResolutionStatus{model.StatusManualReview}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "bad one", recs[0].OriginalName)
	assert.Empty(t, recs[0].ResolvedName)
}

func TestProcess_PanickingRecordGoesToReview(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		st := newTestStore(t)
		ctx := context.Background()
		b := seedBatch(t, st, "good one", "boom", "good two")

		stub := &stubResolver{status: model.StatusMatched, panics: map[string]bool{"boom": true}}
		got, err := New(st, stub, nil).Process(ctx, b.ID, Options{Concurrency: concurrency})
		require.NoError(t, err)

		assert.Equal(t, model.BatchStatusPartial, got.Status)
		assert.Equal(t, 3, got.ProcessedRecords)
		assert.Equal(t, 2, got.MatchedRecords)
		assert.Equal(t, 1, got.FailedRecords)

		stored, err := st.GetBatch(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BatchStatusPartial, stored.Status)

		recs, err := st.ListRecords(ctx, b.ID, store.RecordFilter{Statuses: []model.ResolutionStatus{model.StatusManualReview}})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "boom", recs[0].OriginalName)
	}
}

// failingListStore fails every ListRecords call.
type failingListStore struct {
	*store.SQLiteStore
}

func (f failingListStore) ListRecords(context.Context, string, store.RecordFilter) ([]model.Record, error) {
	return nil, errors.New("db down")
}

func TestProcess_ListFailureMarksBatchFailed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	b := seedBatch(t, st, "a")

	stub := &stubResolver{status: model.StatusMatched}
	got, err := New(failingListStore{st}, stub, nil).Process(ctx, b.ID, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	require.NotNil(t, got)
	assert.Equal(t, model.BatchStatusFailed, got.Status)
	assert.Empty(t, stub.seen)

	stored, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "db down")
	assert.NotNil(t, stored.CompletedAt)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	// "é" is two bytes; cutting at 2 would split it.
	assert.Equal(t, "a", truncate("aé", 2))
	assert.Equal(t, "£", truncate("££", 3))
}

func TestProcess_AllFailed(t *testing.T) {
	st := newTestStore(t)
	b := seedBatch(t, st, "a", "b")

	stub := &stubResolver{fail: map[string]bool{"a": true, "b": true}}
	got, err := New(st, stub, nil).Process(context.Background(), b.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, got.Status)
	assert.Equal(t, 2, got.FailedRecords)
	assert.NotEmpty(t, got.ErrorMessage)
}

func TestProcess_NothingEligible(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	b := seedBatch(t, st, "done")

	recs, err := st.ListRecords(ctx, b.ID, store.RecordFilter{})
	require.NoError(t, err)
	recs[0].Status = model.StatusMatched
	require.NoError(t, st.UpdateRecord(ctx, &recs[0]))

	stub := &stubResolver{status: model.StatusMatched}
	got, err := New(st, stub, nil).Process(ctx, b.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, got.Status)
	assert.Empty(t, stub.seen)
}

func TestProcess_SkipsDerivedRecords(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	b := seedBatch(t, st, "root")

	recs, err := st.ListRecords(ctx, b.ID, store.RecordFilter{})
	require.NoError(t, err)
	child := &model.Record{BatchID: b.ID, OriginalName: "child", ParentRecordID: recs[0].ID, OwnershipDepth: 1}
	require.NoError(t, st.CreateRecords(ctx, []*model.Record{child}))

	stub := &stubResolver{status: model.StatusNoMatch}
	got, err := New(st, stub, nil).Process(ctx, b.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, stub.seen)
	assert.Equal(t, 1, got.TotalRecords)
}

func TestProcess_BoundedConcurrency(t *testing.T) {
	st := newTestStore(t)
	names := make([]string, 8)
	for i := range names {
		names[i] = string(rune('a' + i))
	}
	b := seedBatch(t, st, names...)

	stub := &stubResolver{status: model.StatusNoMatch, delay: 20 * time.Millisecond}
	got, err := New(st, stub, nil).Process(context.Background(), b.ID, Options{Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, 8, got.ProcessedRecords)
	assert.LessOrEqual(t, stub.maxSeen.Load(), int32(2))
}

func TestProcess_CanceledContext(t *testing.T) {
	st := newTestStore(t)
	b := seedBatch(t, st, "a", "b", "c", "d", "e")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stub := &stubResolver{status: model.StatusMatched, onCall: cancel, delay: 10 * time.Millisecond}
	got, err := New(st, stub, nil).Process(ctx, b.ID, Options{Concurrency: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.BatchStatusFailed, got.Status)
	assert.Less(t, got.ProcessedRecords, 5)
	assert.Positive(t, got.ProcessedRecords)

	stored, err := st.GetBatch(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, stored.Status)
	assert.Equal(t, got.ProcessedRecords, stored.ProcessedRecords)
}

func TestProcess_UnknownBatch(t *testing.T) {
	st := newTestStore(t)
	_, err := New(st, &stubResolver{}, nil).Process(context.Background(), "nope", Options{})
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestReprocess(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	b := seedBatch(t, st, "no match", "rejected", "matched")

	recs, err := st.ListRecords(ctx, b.ID, store.RecordFilter{})
	require.NoError(t, err)
	statuses := map[string]model.ResolutionStatus{
		"no match": model.StatusNoMatch,
		"rejected": model.StatusRejected,
		"matched":  model.StatusMatched,
	}
	for i := range recs {
		recs[i].Status = statuses[recs[i].OriginalName]
		require.NoError(t, st.UpdateRecord(ctx, &recs[i]))
	}

	stub := &stubResolver{status: model.StatusMatched}
	got, err := New(st, stub, nil).Reprocess(ctx, b.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"no match"}, stub.seen)
	assert.Equal(t, 1, got.TotalRecords)
	assert.Equal(t, 1, got.MatchedRecords)
	assert.Equal(t, model.BatchStatusCompleted, got.Status)
}
