package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/charity-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// The pool is capped at one connection so transactions serialize writers.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS batches (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	filename          TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'uploaded',
	total_records     INTEGER NOT NULL DEFAULT 0,
	processed_records INTEGER NOT NULL DEFAULT 0,
	matched_records   INTEGER NOT NULL DEFAULT 0,
	failed_records    INTEGER NOT NULL DEFAULT 0,
	error_message     TEXT NOT NULL DEFAULT '',
	started_at        DATETIME,
	completed_at      DATETIME,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS records (
	id                    TEXT PRIMARY KEY,
	batch_id              TEXT NOT NULL REFERENCES batches(id),
	row_number            INTEGER NOT NULL DEFAULT 0,
	original_name         TEXT NOT NULL,
	original_data         TEXT NOT NULL DEFAULT '{}',
	entity_kind           TEXT NOT NULL DEFAULT 'unknown',
	resolved_name         TEXT NOT NULL DEFAULT '',
	registry_number       TEXT NOT NULL DEFAULT '',
	secondary_number      TEXT NOT NULL DEFAULT '',
	registry_status       TEXT NOT NULL DEFAULT '',
	registration_date     TEXT NOT NULL DEFAULT '',
	removal_date          TEXT NOT NULL DEFAULT '',
	activities            TEXT NOT NULL DEFAULT '',
	email                 TEXT NOT NULL DEFAULT '',
	phone                 TEXT NOT NULL DEFAULT '',
	website               TEXT NOT NULL DEFAULT '',
	address               TEXT NOT NULL DEFAULT '',
	postcode              TEXT NOT NULL DEFAULT '',
	latest_income         REAL,
	latest_expenditure    REAL,
	financial_year_end    TEXT NOT NULL DEFAULT '',
	resolution_status     TEXT NOT NULL DEFAULT 'pending',
	resolution_confidence REAL,
	resolution_method     TEXT NOT NULL DEFAULT '',
	resolved_at           DATETIME,
	parent_record_id      TEXT REFERENCES records(id),
	ownership_depth       INTEGER NOT NULL DEFAULT 0,
	enriched_data         TEXT NOT NULL DEFAULT '{}',
	created_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at            DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS candidate_matches (
	id               TEXT PRIMARY KEY,
	record_id        TEXT NOT NULL REFERENCES records(id),
	candidate_name   TEXT NOT NULL,
	registry_number  TEXT NOT NULL,
	raw_data         TEXT NOT NULL DEFAULT '{}',
	confidence_score REAL NOT NULL DEFAULT 0,
	match_method     TEXT NOT NULL,
	is_selected      INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ownership_edges (
	id              TEXT PRIMARY KEY,
	owner_record_id TEXT NOT NULL REFERENCES records(id),
	owned_record_id TEXT NOT NULL REFERENCES records(id),
	relation_type   TEXT NOT NULL,
	percentage      REAL,
	source          TEXT NOT NULL DEFAULT '',
	verified        INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (owner_record_id, owned_record_id)
);

CREATE INDEX IF NOT EXISTS idx_records_batch_status ON records(batch_id, resolution_status);
CREATE INDEX IF NOT EXISTS idx_records_batch_registry ON records(batch_id, registry_number);
CREATE INDEX IF NOT EXISTS idx_records_batch_secondary ON records(batch_id, secondary_number);
CREATE INDEX IF NOT EXISTS idx_records_parent ON records(parent_record_id);
CREATE INDEX IF NOT EXISTS idx_candidates_record ON candidate_matches(record_id);
CREATE INDEX IF NOT EXISTS idx_edges_owned ON ownership_edges(owned_record_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Batches ---

func (s *SQLiteStore) CreateBatch(ctx context.Context, b *model.Batch) error {
	now := time.Now().UTC()
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Status == "" {
		b.Status = model.BatchStatusUploaded
	}
	b.CreatedAt, b.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (`+batchColumns+`) VALUES (`+placeholders(13, 1, false)+`)`,
		batchValues(b)...,
	)
	return eris.Wrap(err, "sqlite: insert batch")
}

func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	b, err := scanBatch(s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("batch", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get batch %s", id)
	}
	return b, nil
}

func (s *SQLiteStore) ListBatches(ctx context.Context, limit, offset int) ([]model.Batch, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM batches ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close()

	var out []model.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch")
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateBatch(ctx context.Context, b *model.Batch) error {
	b.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET name = ?, status = ?, total_records = ?, processed_records = ?,
			matched_records = ?, failed_records = ?, error_message = ?, started_at = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ?`,
		b.Name, string(b.Status), b.TotalRecords, b.ProcessedRecords, b.MatchedRecords,
		b.FailedRecords, b.ErrorMessage, b.StartedAt, b.CompletedAt, b.UpdatedAt, b.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update batch %s", b.ID)
	}
	return checkRowsAffected(res, "batch", b.ID)
}

func (s *SQLiteStore) DeleteBatch(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin delete batch")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, q := range []string{
		`DELETE FROM ownership_edges WHERE owner_record_id IN (SELECT id FROM records WHERE batch_id = ?1)
			OR owned_record_id IN (SELECT id FROM records WHERE batch_id = ?1)`,
		`DELETE FROM candidate_matches WHERE record_id IN (SELECT id FROM records WHERE batch_id = ?1)`,
		`UPDATE records SET parent_record_id = NULL WHERE batch_id = ?1`,
		`DELETE FROM records WHERE batch_id = ?1`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return eris.Wrapf(err, "sqlite: delete batch %s children", id)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM batches WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete batch %s", id)
	}
	if err := checkRowsAffected(res, "batch", id); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit delete batch")
}

func (s *SQLiteStore) BatchStats(ctx context.Context, id string) (*model.BatchStats, error) {
	if _, err := s.GetBatch(ctx, id); err != nil {
		return nil, err
	}
	st := newStats(id)

	rows, err := s.db.QueryContext(ctx,
		`SELECT resolution_status, entity_kind, ownership_depth = 0, COUNT(*),
			COALESCE(SUM(latest_income), 0), COALESCE(SUM(latest_expenditure), 0)
		FROM records WHERE batch_id = ?
		GROUP BY resolution_status, entity_kind, ownership_depth = 0`, id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: batch stats")
	}
	defer rows.Close()
	for rows.Next() {
		var status, kind string
		var root bool
		var n int
		var income, expenditure float64
		if err := rows.Scan(&status, &kind, &root, &n, &income, &expenditure); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch stats")
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
		return nil, eris.Wrap(err, "sqlite: batch stats rows")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM candidate_matches c JOIN records r ON r.id = c.record_id WHERE r.batch_id = ?`,
		id).Scan(&st.Candidates)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count candidates")
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ownership_edges e JOIN records r ON r.id = e.owner_record_id WHERE r.batch_id = ?`,
		id).Scan(&st.Edges)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count edges")
	}
	return st, nil
}

// --- Records ---

func (s *SQLiteStore) CreateRecords(ctx context.Context, records []*model.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create records")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (`+recordColumns+`) VALUES (`+placeholders(len(recordColumnList), 1, false)+`)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert record")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		prepareRecord(r, newID, now)
		vals, err := recordValues(r)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			return eris.Wrapf(err, "sqlite: insert record row %d", r.RowNumber)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit create records")
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("record", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) UpdateRecord(ctx context.Context, r *model.Record) error {
	args, err := recordUpdateArgs(r)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET `+recordUpdateSet(false)+` WHERE id = ?`, append(args, r.ID)...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update record %s", r.ID)
	}
	return checkRowsAffected(res, "record", r.ID)
}

func (s *SQLiteStore) ListRecords(ctx context.Context, batchID string, filter RecordFilter) ([]model.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE batch_id = ?`
	args := []any{batchID}
	if len(filter.Statuses) > 0 {
		query += ` AND resolution_status IN (` + placeholders(len(filter.Statuses), 1, false) + `)`
		for _, st := range statusStrings(filter.Statuses) {
			args = append(args, st)
		}
	}
	if filter.RootsOnly {
		query += ` AND ownership_depth = 0`
	}
	query += ` ORDER BY ownership_depth, row_number, created_at`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FindRecord(ctx context.Context, key RecordKey) (*model.Record, error) {
	return findRecordSQLite(ctx, s.db, key)
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findRecordSQLite(ctx context.Context, q sqlQuerier, key RecordKey) (*model.Record, error) {
	const base = `SELECT ` + recordColumns + ` FROM records WHERE batch_id = ? AND `
	const order = ` ORDER BY ownership_depth, created_at LIMIT 1`

	cols := key.numberColumns()
	if len(cols) == 0 {
		return queryRecordSQLite(ctx, q, key,
			base+`parent_record_id = ? AND lower(original_name) = lower(?) AND registry_number = '' AND secondary_number = ''`+order,
			key.BatchID, key.ParentRecordID, key.Name)
	}
	for _, c := range cols {
		r, err := queryRecordSQLite(ctx, q, key, base+c.column+` = ?`+order, key.BatchID, c.value)
		if err != nil || r != nil {
			return r, err
		}
	}
	return nil, nil
}

func queryRecordSQLite(ctx context.Context, q sqlQuerier, key RecordKey, query string, args ...any) (*model.Record, error) {
	r, err := scanRecord(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find record %s", key)
	}
	return r, nil
}

func (s *SQLiteStore) FindOrCreateRecord(ctx context.Context, key RecordKey, r *model.Record) (*model.Record, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: begin find or create record")
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := findRecordSQLite(ctx, tx, key)
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
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (`+recordColumns+`) VALUES (`+placeholders(len(recordColumnList), 1, false)+`)`,
		vals...); err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: insert record %s", key)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: commit find or create record")
	}
	return r, true, nil
}

func (s *SQLiteStore) ResetRecords(ctx context.Context, batchID string, from []model.ResolutionStatus) (int, error) {
	if len(from) == 0 {
		return 0, nil
	}
	args := []any{string(model.StatusPending), time.Now().UTC(), batchID}
	for _, st := range statusStrings(from) {
		args = append(args, st)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET resolution_status = ?, resolution_confidence = NULL, resolution_method = '', resolved_at = NULL, updated_at = ?
		WHERE batch_id = ? AND ownership_depth = 0 AND resolution_status IN (`+placeholders(len(from), 1, false)+`)`,
		args...)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: reset records in batch %s", batchID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

// --- Candidates ---

func (s *SQLiteStore) ReplaceCandidates(ctx context.Context, recordID string, candidates []*model.CandidateMatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace candidates")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM candidate_matches WHERE record_id = ?`, recordID); err != nil {
		return eris.Wrapf(err, "sqlite: clear candidates for %s", recordID)
	}
	now := time.Now().UTC()
	for _, c := range candidates {
		prepareCandidate(c, recordID, now)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO candidate_matches (`+candidateColumns+`) VALUES (`+placeholders(len(candidateColumnList), 1, false)+`)`,
			candidateValues(c)...); err != nil {
			return eris.Wrapf(err, "sqlite: insert candidate for %s", recordID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace candidates")
}

func (s *SQLiteStore) CreateCandidate(ctx context.Context, c *model.CandidateMatch) error {
	prepareCandidate(c, c.RecordID, time.Now().UTC())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO candidate_matches (`+candidateColumns+`) VALUES (`+placeholders(len(candidateColumnList), 1, false)+`)`,
		candidateValues(c)...)
	return eris.Wrapf(err, "sqlite: insert candidate for %s", c.RecordID)
}

func (s *SQLiteStore) GetCandidate(ctx context.Context, id string) (*model.CandidateMatch, error) {
	c, err := scanCandidate(s.db.QueryRowContext(ctx,
		`SELECT `+candidateColumns+` FROM candidate_matches WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("candidate", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get candidate %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) ListCandidates(ctx context.Context, recordID string) ([]model.CandidateMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+candidateColumns+` FROM candidate_matches WHERE record_id = ?
		ORDER BY confidence_score DESC, created_at`, recordID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list candidates")
	}
	defer rows.Close()

	var out []model.CandidateMatch
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SelectCandidate(ctx context.Context, recordID, candidateID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin select candidate")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE candidate_matches SET is_selected = 1 WHERE id = ? AND record_id = ?`,
		candidateID, recordID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: select candidate %s", candidateID)
	}
	if err := checkRowsAffected(res, "candidate", candidateID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE candidate_matches SET is_selected = 0 WHERE record_id = ? AND id <> ?`,
		recordID, candidateID); err != nil {
		return eris.Wrapf(err, "sqlite: clear selection for %s", recordID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit select candidate")
}

// --- Ownership edges ---

func (s *SQLiteStore) GetOrCreateEdge(ctx context.Context, e *model.OwnershipEdge) (*model.OwnershipEdge, bool, error) {
	prepareEdge(e, time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ownership_edges (`+edgeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_record_id, owned_record_id) DO NOTHING`,
		e.ID, e.OwnerRecordID, e.OwnedRecordID, string(e.RelationType), e.Percentage,
		e.Source, e.Verified, e.CreatedAt)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: insert edge %s->%s", e.OwnerRecordID, e.OwnedRecordID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 1 {
		return e, true, nil
	}

	existing, err := scanEdge(s.db.QueryRowContext(ctx,
		`SELECT `+edgeColumns+` FROM ownership_edges WHERE owner_record_id = ? AND owned_record_id = ?`,
		e.OwnerRecordID, e.OwnedRecordID))
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: get edge %s->%s", e.OwnerRecordID, e.OwnedRecordID)
	}
	return existing, false, nil
}

func (s *SQLiteStore) ListEdgesByOwner(ctx context.Context, recordID string) ([]model.OwnershipEdge, error) {
	return s.listEdges(ctx, `WHERE owner_record_id = ?`, recordID)
}

func (s *SQLiteStore) ListEdgesByOwned(ctx context.Context, recordID string) ([]model.OwnershipEdge, error) {
	return s.listEdges(ctx, `WHERE owned_record_id = ?`, recordID)
}

func (s *SQLiteStore) ListEdgesByBatch(ctx context.Context, batchID string) ([]model.OwnershipEdge, error) {
	return s.listEdges(ctx,
		`WHERE owner_record_id IN (SELECT id FROM records WHERE batch_id = ?)`, batchID)
}

func (s *SQLiteStore) listEdges(ctx context.Context, where string, arg string) ([]model.OwnershipEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+edgeColumns+` FROM ownership_edges `+where+` ORDER BY created_at, id`, arg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list edges")
	}
	defer rows.Close()

	var out []model.OwnershipEdge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan edge")
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}
