package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/charity-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func recordRow(id, batchID, name string) []any {
	now := time.Now().UTC()
	return []any{id, batchID, 1, name, []byte(`{"name":"` + name + `"}`), "charity",
		"", "220949", "", "", "", "", "", "", "", "", "", "", nil, nil, "",
		"matched", nil, "exact_match", nil, nil, 0, []byte(`{}`), now, now}
}

func TestPostgresStore_GetBatch_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM batches WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetBatch(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetBatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	cols := splitColumns(batchColumns)
	mock.ExpectQuery(`SELECT .* FROM batches WHERE id = \$1`).
		WithArgs("b1").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("b1", "upload", "upload.csv", "processing", 10, 4, 3, 1, "", nil, nil, now, now))

	b, err := s.GetBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusProcessing, b.Status)
	assert.Equal(t, 4, b.ProcessedRecords)
	assert.Nil(t, b.StartedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateBatch_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE batches SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateBatch(context.Background(), &model.Batch{ID: "gone", Status: model.BatchStatusFailed})
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteBatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM batches WHERE id = \$1`).
		WithArgs("b1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.DeleteBatch(context.Background(), "b1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRecords_UsesCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"records"}, recordColumnList).WillReturnResult(2)

	recs := []*model.Record{
		{BatchID: "b1", RowNumber: 1, OriginalName: "Oxfam"},
		{BatchID: "b1", RowNumber: 2, OriginalName: "British Red Cross"},
	}
	require.NoError(t, s.CreateRecords(context.Background(), recs))
	for _, r := range recs {
		assert.NotEmpty(t, r.ID)
		assert.Equal(t, model.StatusPending, r.Status)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRecords_CopyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"records"}, recordColumnList).WillReturnError(fmt.Errorf("disk full"))

	err := s.CreateRecords(context.Background(), []*model.Record{{BatchID: "b1", OriginalName: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create records")
}

func TestPostgresStore_GetRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM records WHERE id = \$1`).
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows(recordColumnList).AddRow(recordRow("r1", "b1", "Red Cross")...))

	r, err := s.GetRecord(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "Red Cross", r.OriginalName)
	assert.Equal(t, "220949", r.RegistryNumber)
	assert.Equal(t, model.StatusMatched, r.Status)
	assert.Equal(t, model.MethodExactMatch, r.Method)
	assert.Equal(t, "Red Cross", r.OriginalData["name"])
	assert.Empty(t, r.ParentRecordID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRecord_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE records SET entity_kind = \$1`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRecord(context.Background(), &model.Record{ID: "gone"})
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindOrCreateRecord_Existing(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	key := RecordKey{BatchID: "b1", RegistryNumber: "220949"}

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(key.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT .* FROM records WHERE batch_id = \$1 AND registry_number = \$2`).
		WithArgs("b1", "220949").
		WillReturnRows(pgxmock.NewRows(recordColumnList).AddRow(recordRow("r1", "b1", "Red Cross")...))
	mock.ExpectRollback()

	r, created, err := s.FindOrCreateRecord(context.Background(), key, &model.Record{BatchID: "b1", OriginalName: "dup"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "r1", r.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindOrCreateRecord_CompanyNumberFallback(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	key := RecordKey{BatchID: "b1", RegistryNumber: "1234567", SecondaryNumber: "01234567"}

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(key.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT .* FROM records WHERE batch_id = \$1 AND registry_number = \$2`).
		WithArgs("b1", "1234567").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT .* FROM records WHERE batch_id = \$1 AND secondary_number = \$2`).
		WithArgs("b1", "01234567").
		WillReturnRows(pgxmock.NewRows(recordColumnList).AddRow(recordRow("r7", "b1", "Trading Ltd")...))
	mock.ExpectRollback()

	r, created, err := s.FindOrCreateRecord(context.Background(), key, &model.Record{BatchID: "b1", OriginalName: "Trading Ltd"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "r7", r.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindOrCreateRecord_Creates(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	key := RecordKey{BatchID: "b1", SecondaryNumber: "01234567"}

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(key.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT .* FROM records WHERE batch_id = \$1 AND secondary_number = \$2`).
		WithArgs("b1", "01234567").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO records`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	r, created, err := s.FindOrCreateRecord(context.Background(), key, &model.Record{
		BatchID: "b1", OriginalName: "Trading Ltd", SecondaryNumber: "01234567", ParentRecordID: "r0", OwnershipDepth: 1,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, r.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResetRecords(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)UPDATE records SET resolution_status = \$1, resolution_confidence = NULL, resolution_method = '', resolved_at = NULL.*ownership_depth = 0`).
		WithArgs("pending", pgxmock.AnyArg(), "b1", []string{"no_match", "rejected"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := s.ResetRecords(context.Background(), "b1", []model.ResolutionStatus{model.StatusNoMatch, model.StatusRejected})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SelectCandidate_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE candidate_matches SET is_selected = true`).
		WithArgs("c9", "r1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.SelectCandidate(context.Background(), "r1", "c9")
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceCandidates(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM candidate_matches WHERE record_id = \$1`).
		WithArgs("r1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO candidate_matches`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO candidate_matches`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.ReplaceCandidates(context.Background(), "r1", []*model.CandidateMatch{
		{CandidateName: "A", RegistryNumber: "1", MatchMethod: model.MatchMethodFuzzySearch},
		{CandidateName: "B", RegistryNumber: "2", MatchMethod: model.MatchMethodFuzzySearch},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetOrCreateEdge_Existing(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO ownership_edges .* ON CONFLICT \(owner_record_id, owned_record_id\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT .* FROM ownership_edges WHERE owner_record_id = \$1 AND owned_record_id = \$2`).
		WithArgs("owner", "owned").
		WillReturnRows(pgxmock.NewRows(splitColumns(edgeColumns)).
			AddRow("e1", "owner", "owned", "subsidiary", nil, "charity_commission", true, now))

	e, created, err := s.GetOrCreateEdge(context.Background(), &model.OwnershipEdge{
		OwnerRecordID: "owner", OwnedRecordID: "owned", RelationType: model.RelationSubsidiary,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "e1", e.ID)
	assert.True(t, e.Verified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetOrCreateEdge_Created(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO ownership_edges`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	e, created, err := s.GetOrCreateEdge(context.Background(), &model.OwnershipEdge{
		OwnerRecordID: "owner", OwnedRecordID: "owned", RelationType: model.RelationTrusteeCharity,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordKey_String(t *testing.T) {
	assert.Equal(t, "b/registry/220949", RecordKey{BatchID: "b", RegistryNumber: "220949", SecondaryNumber: "x"}.String())
	assert.Equal(t, "b/company/0123", RecordKey{BatchID: "b", SecondaryNumber: "0123"}.String())
	assert.Equal(t, "b/child/p/shop ltd", RecordKey{BatchID: "b", ParentRecordID: "p", Name: "Shop Ltd"}.String())
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "?, ?, ?", placeholders(3, 1, false))
	assert.Equal(t, "$2, $3", placeholders(2, 2, true))
	assert.Equal(t, "entity_kind = $1", recordUpdateSet(true)[:len("entity_kind = $1")])
}
