package store

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/charity-cli/internal/db"
	"github.com/sells-group/charity-cli/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "postgres: migrations fs")
	}
	return eris.Wrap(db.Migrate(ctx, s.pool, sub), "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Batches ---

func (s *PostgresStore) CreateBatch(ctx context.Context, b *model.Batch) error {
	now := time.Now().UTC()
	if b.ID == "" {
		b.ID = newID()
	}
	if b.Status == "" {
		b.Status = model.BatchStatusUploaded
	}
	b.CreatedAt, b.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO batches (`+batchColumns+`) VALUES (`+placeholders(13, 1, true)+`)`,
		batchValues(b)...,
	)
	return eris.Wrap(err, "postgres: insert batch")
}

func (s *PostgresStore) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("batch", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get batch %s", id)
	}
	return b, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, limit, offset int) ([]model.Batch, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+batchColumns+` FROM batches ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var out []model.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateBatch(ctx context.Context, b *model.Batch) error {
	b.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET name = $1, status = $2, total_records = $3, processed_records = $4,
			matched_records = $5, failed_records = $6, error_message = $7, started_at = $8,
			completed_at = $9, updated_at = $10
		WHERE id = $11`,
		b.Name, string(b.Status), b.TotalRecords, b.ProcessedRecords, b.MatchedRecords,
		b.FailedRecords, b.ErrorMessage, b.StartedAt, b.CompletedAt, b.UpdatedAt, b.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update batch %s", b.ID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("batch", b.ID)
	}
	return nil
}

// DeleteBatch relies on ON DELETE CASCADE for records, candidates and edges.
func (s *PostgresStore) DeleteBatch(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM batches WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete batch %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("batch", id)
	}
	return nil
}

func (s *PostgresStore) BatchStats(ctx context.Context, id string) (*model.BatchStats, error) {
	if _, err := s.GetBatch(ctx, id); err != nil {
		return nil, err
	}
	st := newStats(id)

	rows, err := s.pool.Query(ctx,
		`SELECT resolution_status, entity_kind, ownership_depth = 0, COUNT(*),
			COALESCE(SUM(latest_income), 0), COALESCE(SUM(latest_expenditure), 0)
		FROM records WHERE batch_id = $1
		GROUP BY resolution_status, entity_kind, ownership_depth = 0`, id)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: batch stats")
	}
	defer rows.Close()
	for rows.Next() {
		var status, kind string
		var root bool
		var n int
		var income, expenditure float64
		if err := rows.Scan(&status, &kind, &root, &n, &income, &expenditure); err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch stats")
		}
		st.TotalRecords += n
		st.ByStatus[model.ResolutionStatus(status)] += n
		st.ByKind[model.EntityKind(kind)] += n
		if root {
			st.RootRecords += n
		} else {
			st.DerivedRecords += n
		}
		st.TotalIncome += income
		st.TotalExpenditure += expenditure
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: batch stats rows")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM candidate_matches c JOIN records r ON r.id = c.record_id WHERE r.batch_id = $1),
			(SELECT COUNT(*) FROM ownership_edges e JOIN records r ON r.id = e.owner_record_id WHERE r.batch_id = $1)`,
		id).Scan(&st.Candidates, &st.Edges)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count candidates and edges")
	}
	return st, nil
}

// --- Records ---

// CreateRecords bulk-loads records with COPY.
func (s *PostgresStore) CreateRecords(ctx context.Context, records []*model.Record) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		prepareRecord(r, newID, now)
		vals, err := recordValues(r)
		if err != nil {
			return err
		}
		rows = append(rows, vals)
	}
	if _, err := db.CopyFrom(ctx, s.pool, "records", recordColumnList, rows); err != nil {
		return eris.Wrap(err, "postgres: create records")
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("record", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	return r, nil
}

func (s *PostgresStore) UpdateRecord(ctx context.Context, r *model.Record) error {
	args, err := recordUpdateArgs(r)
	if err != nil {
		return err
	}
	where := ` WHERE id = $` + strconv.Itoa(len(args)+1)
	tag, err := s.pool.Exec(ctx,
		`UPDATE records SET `+recordUpdateSet(true)+where, append(args, r.ID)...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update record %s", r.ID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("record", r.ID)
	}
	return nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, batchID string, filter RecordFilter) ([]model.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE batch_id = $1`
	args := []any{batchID}
	if len(filter.Statuses) > 0 {
		query += ` AND resolution_status = ANY($2)`
		args = append(args, statusStrings(filter.Statuses))
	}
	if filter.RootsOnly {
		query += ` AND ownership_depth = 0`
	}
	query += ` ORDER BY ownership_depth, row_number, created_at`
	if filter.Limit > 0 {
		n := len(args)
		query += ` LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) FindRecord(ctx context.Context, key RecordKey) (*model.Record, error) {
	return findRecordPostgres(ctx, s.pool, key)
}

func findRecordPostgres(ctx context.Context, q pgQuerier, key RecordKey) (*model.Record, error) {
	const base = `SELECT ` + recordColumns + ` FROM records WHERE batch_id = $1 AND `
	const order = ` ORDER BY ownership_depth, created_at LIMIT 1`

	cols := key.numberColumns()
	if len(cols) == 0 {
		return queryRecordPostgres(ctx, q, key,
			base+`parent_record_id = $2 AND lower(original_name) = lower($3) AND registry_number = '' AND secondary_number = ''`+order,
			key.BatchID, key.ParentRecordID, key.Name)
	}
	for _, c := range cols {
		r, err := queryRecordPostgres(ctx, q, key, base+c.column+` = $2`+order, key.BatchID, c.value)
		if err != nil || r != nil {
			return r, err
		}
	}
	return nil, nil
}

func queryRecordPostgres(ctx context.Context, q pgQuerier, key RecordKey, query string, args ...any) (*model.Record, error) {
	r, err := scanRecord(q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find record %s", key)
	}
	return r, nil
}

// FindOrCreateRecord serializes concurrent creators of the same key with a
// transaction-scoped advisory lock.
func (s *PostgresStore) FindOrCreateRecord(ctx context.Context, key RecordKey, r *model.Record) (*model.Record, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: begin find or create record")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key.String()); err != nil {
		return nil, false, eris.Wrapf(err, "postgres: lock record key %s", key)
	}

	existing, err := findRecordPostgres(ctx, tx, key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	prepareRecord(r, newID, time.Now().UTC())
	vals, err := recordValues(r)
	if err != nil {
		return nil, false, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO records (`+recordColumns+`) VALUES (`+placeholders(len(recordColumnList), 1, true)+`)`,
		vals...); err != nil {
		return nil, false, eris.Wrapf(err, "postgres: insert record %s", key)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, eris.Wrap(err, "postgres: commit find or create record")
	}
	return r, true, nil
}

func (s *PostgresStore) ResetRecords(ctx context.Context, batchID string, from []model.ResolutionStatus) (int, error) {
	if len(from) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE records SET resolution_status = $1, resolution_confidence = NULL, resolution_method = '', resolved_at = NULL, updated_at = $2
		WHERE batch_id = $3 AND ownership_depth = 0 AND resolution_status = ANY($4)`,
		string(model.StatusPending), time.Now().UTC(), batchID, statusStrings(from))
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: reset records in batch %s", batchID)
	}
	return int(tag.RowsAffected()), nil
}

// --- Candidates ---

func (s *PostgresStore) ReplaceCandidates(ctx context.Context, recordID string, candidates []*model.CandidateMatch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace candidates")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM candidate_matches WHERE record_id = $1`, recordID); err != nil {
		return eris.Wrapf(err, "postgres: clear candidates for %s", recordID)
	}
	now := time.Now().UTC()
	for _, c := range candidates {
		prepareCandidate(c, recordID, now)
		if _, err := tx.Exec(ctx,
			`INSERT INTO candidate_matches (`+candidateColumns+`) VALUES (`+placeholders(len(candidateColumnList), 1, true)+`)`,
			candidateValues(c)...); err != nil {
			return eris.Wrapf(err, "postgres: insert candidate for %s", recordID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace candidates")
}

func (s *PostgresStore) CreateCandidate(ctx context.Context, c *model.CandidateMatch) error {
	prepareCandidate(c, c.RecordID, time.Now().UTC())
	_, err := s.pool.Exec(ctx,
		`INSERT INTO candidate_matches (`+candidateColumns+`) VALUES (`+placeholders(len(candidateColumnList), 1, true)+`)`,
		candidateValues(c)...)
	return eris.Wrapf(err, "postgres: insert candidate for %s", c.RecordID)
}

func (s *PostgresStore) GetCandidate(ctx context.Context, id string) (*model.CandidateMatch, error) {
	c, err := scanCandidate(s.pool.QueryRow(ctx,
		`SELECT `+candidateColumns+` FROM candidate_matches WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("candidate", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get candidate %s", id)
	}
	return c, nil
}

func (s *PostgresStore) ListCandidates(ctx context.Context, recordID string) ([]model.CandidateMatch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+candidateColumns+` FROM candidate_matches WHERE record_id = $1
		ORDER BY confidence_score DESC, created_at`, recordID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list candidates")
	}
	defer rows.Close()

	var out []model.CandidateMatch
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SelectCandidate flags one candidate and clears the rest of the record's.
func (s *PostgresStore) SelectCandidate(ctx context.Context, recordID, candidateID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin select candidate")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE candidate_matches SET is_selected = true WHERE id = $1 AND record_id = $2`,
		candidateID, recordID)
	if err != nil {
		return eris.Wrapf(err, "postgres: select candidate %s", candidateID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("candidate", candidateID)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE candidate_matches SET is_selected = false WHERE record_id = $1 AND id <> $2`,
		recordID, candidateID); err != nil {
		return eris.Wrapf(err, "postgres: clear selection for %s", recordID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit select candidate")
}

// --- Ownership edges ---

func (s *PostgresStore) GetOrCreateEdge(ctx context.Context, e *model.OwnershipEdge) (*model.OwnershipEdge, bool, error) {
	prepareEdge(e, time.Now().UTC())
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO ownership_edges (`+edgeColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (owner_record_id, owned_record_id) DO NOTHING`,
		e.ID, e.OwnerRecordID, e.OwnedRecordID, string(e.RelationType), e.Percentage,
		e.Source, e.Verified, e.CreatedAt)
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: insert edge %s->%s", e.OwnerRecordID, e.OwnedRecordID)
	}
	if tag.RowsAffected() == 1 {
		return e, true, nil
	}

	existing, err := scanEdge(s.pool.QueryRow(ctx,
		`SELECT `+edgeColumns+` FROM ownership_edges WHERE owner_record_id = $1 AND owned_record_id = $2`,
		e.OwnerRecordID, e.OwnedRecordID))
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: get edge %s->%s", e.OwnerRecordID, e.OwnedRecordID)
	}
	return existing, false, nil
}

func (s *PostgresStore) ListEdgesByOwner(ctx context.Context, recordID string) ([]model.OwnershipEdge, error) {
	return s.listEdges(ctx, `WHERE owner_record_id = $1`, recordID)
}

func (s *PostgresStore) ListEdgesByOwned(ctx context.Context, recordID string) ([]model.OwnershipEdge, error) {
	return s.listEdges(ctx, `WHERE owned_record_id = $1`, recordID)
}

func (s *PostgresStore) ListEdgesByBatch(ctx context.Context, batchID string) ([]model.OwnershipEdge, error) {
	return s.listEdges(ctx,
		`WHERE owner_record_id IN (SELECT id FROM records WHERE batch_id = $1)`, batchID)
}

func (s *PostgresStore) listEdges(ctx context.Context, where string, arg string) ([]model.OwnershipEdge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+edgeColumns+` FROM ownership_edges `+where+` ORDER BY created_at, id`, arg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list edges")
	}
	defer rows.Close()

	var out []model.OwnershipEdge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan edge")
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
