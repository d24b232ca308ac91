// Package store persists batches, records, candidate audit rows and
// ownership edges.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/charity-cli/internal/model"
)

// ErrNotFound is returned when a requested batch, record or candidate does
// not exist.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
}

// RecordFilter narrows ListRecords.
type RecordFilter struct {
	Statuses  []model.ResolutionStatus
	RootsOnly bool
	Limit     int
	Offset    int
}

// RecordKey identifies a derived record within a batch. Lookup tries
// RegistryNumber, then SecondaryNumber, so a record first stored under its
// company number is reused once its charity number is known. With neither
// set the record is keyed by its parent and name.
type RecordKey struct {
	BatchID         string
	RegistryNumber  string
	SecondaryNumber string
	ParentRecordID  string
	Name            string
}

// String renders the key for locking and logs.
func (k RecordKey) String() string {
	switch {
	case k.RegistryNumber != "":
		return fmt.Sprintf("%s/registry/%s", k.BatchID, k.RegistryNumber)
	case k.SecondaryNumber != "":
		return fmt.Sprintf("%s/company/%s", k.BatchID, k.SecondaryNumber)
	default:
		return fmt.Sprintf("%s/child/%s/%s", k.BatchID, k.ParentRecordID, strings.ToLower(k.Name))
	}
}

// numberColumn is one identifier column tried by record lookup.
type numberColumn struct {
	column string
	value  string
}

func (k RecordKey) numberColumns() []numberColumn {
	var cols []numberColumn
	if k.RegistryNumber != "" {
		cols = append(cols, numberColumn{"registry_number", k.RegistryNumber})
	}
	if k.SecondaryNumber != "" {
		cols = append(cols, numberColumn{"secondary_number", k.SecondaryNumber})
	}
	return cols
}

// Store defines the persistence interface for the resolution engine.
type Store interface {
	// Batches
	CreateBatch(ctx context.Context, b *model.Batch) error
	GetBatch(ctx context.Context, id string) (*model.Batch, error)
	ListBatches(ctx context.Context, limit, offset int) ([]model.Batch, error)
	UpdateBatch(ctx context.Context, b *model.Batch) error
	DeleteBatch(ctx context.Context, id string) error
	BatchStats(ctx context.Context, id string) (*model.BatchStats, error)

	// Records
	CreateRecords(ctx context.Context, records []*model.Record) error
	GetRecord(ctx context.Context, id string) (*model.Record, error)
	UpdateRecord(ctx context.Context, r *model.Record) error
	ListRecords(ctx context.Context, batchID string, filter RecordFilter) ([]model.Record, error)
	FindRecord(ctx context.Context, key RecordKey) (*model.Record, error)
	FindOrCreateRecord(ctx context.Context, key RecordKey, r *model.Record) (*model.Record, bool, error)
	// ResetRecords returns root records in the given statuses to pending and
	// clears their resolution confidence, method and timestamp.
	ResetRecords(ctx context.Context, batchID string, from []model.ResolutionStatus) (int, error)

	// Candidates
	ReplaceCandidates(ctx context.Context, recordID string, candidates []*model.CandidateMatch) error
	CreateCandidate(ctx context.Context, c *model.CandidateMatch) error
	GetCandidate(ctx context.Context, id string) (*model.CandidateMatch, error)
	ListCandidates(ctx context.Context, recordID string) ([]model.CandidateMatch, error)
	SelectCandidate(ctx context.Context, recordID, candidateID string) error

	// Ownership edges
	GetOrCreateEdge(ctx context.Context, e *model.OwnershipEdge) (*model.OwnershipEdge, bool, error)
	ListEdgesByOwner(ctx context.Context, recordID string) ([]model.OwnershipEdge, error)
	ListEdgesByOwned(ctx context.Context, recordID string) ([]model.OwnershipEdge, error)
	ListEdgesByBatch(ctx context.Context, batchID string) ([]model.OwnershipEdge, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const batchColumns = `id, name, filename, status, total_records, processed_records, matched_records,
	failed_records, error_message, started_at, completed_at, created_at, updated_at`

const recordColumns = `id, batch_id, row_number, original_name, original_data, entity_kind,
	resolved_name, registry_number, secondary_number, registry_status, registration_date,
	removal_date, activities, email, phone, website, address, postcode, latest_income,
	latest_expenditure, financial_year_end, resolution_status, resolution_confidence,
	resolution_method, resolved_at, parent_record_id, ownership_depth, enriched_data,
	created_at, updated_at`

// recordColumnList is recordColumns split for COPY and placeholder generation.
var recordColumnList = splitColumns(recordColumns)

const candidateColumns = `id, record_id, candidate_name, registry_number, raw_data,
	confidence_score, match_method, is_selected, created_at`

var candidateColumnList = splitColumns(candidateColumns)

const edgeColumns = `id, owner_record_id, owned_record_id, relation_type, percentage,
	source, verified, created_at`

func splitColumns(cols string) []string {
	parts := strings.Split(cols, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// placeholders returns n bind parameters starting at start. dollar selects
// Postgres style ($1) over SQLite style (?).
func placeholders(n, start int, dollar bool) string {
	ph := make([]string, n)
	for i := range ph {
		if dollar {
			ph[i] = fmt.Sprintf("$%d", start+i)
		} else {
			ph[i] = "?"
		}
	}
	return strings.Join(ph, ", ")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBatch(row scannable) (*model.Batch, error) {
	var b model.Batch
	var status string
	err := row.Scan(&b.ID, &b.Name, &b.Filename, &status, &b.TotalRecords, &b.ProcessedRecords,
		&b.MatchedRecords, &b.FailedRecords, &b.ErrorMessage, &b.StartedAt, &b.CompletedAt,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = model.BatchStatus(status)
	return &b, nil
}

func batchValues(b *model.Batch) []any {
	return []any{b.ID, b.Name, b.Filename, string(b.Status), b.TotalRecords, b.ProcessedRecords,
		b.MatchedRecords, b.FailedRecords, b.ErrorMessage, b.StartedAt, b.CompletedAt,
		b.CreatedAt, b.UpdatedAt}
}

func scanRecord(row scannable) (*model.Record, error) {
	var (
		r            model.Record
		originalData []byte
		enrichedData []byte
		kind         string
		status       string
		method       string
		parentID     *string
	)
	err := row.Scan(&r.ID, &r.BatchID, &r.RowNumber, &r.OriginalName, &originalData, &kind,
		&r.ResolvedName, &r.RegistryNumber, &r.SecondaryNumber, &r.RegistryStatus,
		&r.RegistrationDate, &r.RemovalDate, &r.Activities, &r.Email, &r.Phone, &r.Website,
		&r.Address, &r.Postcode, &r.LatestIncome, &r.LatestExpenditure, &r.FinancialYearEnd,
		&status, &r.Confidence, &method, &r.ResolvedAt, &parentID, &r.OwnershipDepth,
		&enrichedData, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.EntityKind = model.EntityKind(kind)
	r.Status = model.ResolutionStatus(status)
	r.Method = model.ResolutionMethod(method)
	if parentID != nil {
		r.ParentRecordID = *parentID
	}
	if len(originalData) > 0 {
		if err := json.Unmarshal(originalData, &r.OriginalData); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal original_data")
		}
	}
	if len(enrichedData) > 0 {
		if err := json.Unmarshal(enrichedData, &r.EnrichedData); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal enriched_data")
		}
	}
	return &r, nil
}

// recordValues returns r's columns in recordColumns order.
func recordValues(r *model.Record) ([]any, error) {
	originalData, err := json.Marshal(r.OriginalData)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal original_data")
	}
	enrichedData, err := json.Marshal(r.EnrichedData)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal enriched_data")
	}
	return []any{r.ID, r.BatchID, r.RowNumber, r.OriginalName, string(originalData),
		string(r.EntityKind), r.ResolvedName, r.RegistryNumber, r.SecondaryNumber,
		r.RegistryStatus, r.RegistrationDate, r.RemovalDate, r.Activities, r.Email, r.Phone,
		r.Website, r.Address, r.Postcode, r.LatestIncome, r.LatestExpenditure,
		r.FinancialYearEnd, string(r.Status), r.Confidence, string(r.Method), r.ResolvedAt,
		nullIfEmpty(r.ParentRecordID), r.OwnershipDepth, string(enrichedData),
		r.CreatedAt, r.UpdatedAt}, nil
}

func scanCandidate(row scannable) (*model.CandidateMatch, error) {
	var c model.CandidateMatch
	var raw []byte
	var method string
	err := row.Scan(&c.ID, &c.RecordID, &c.CandidateName, &c.RegistryNumber, &raw,
		&c.ConfidenceScore, &method, &c.IsSelected, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.MatchMethod = model.MatchMethod(method)
	if len(raw) > 0 {
		c.RawData = append(json.RawMessage(nil), raw...)
	}
	return &c, nil
}

func candidateValues(c *model.CandidateMatch) []any {
	raw := string(c.RawData)
	if raw == "" {
		raw = "{}"
	}
	return []any{c.ID, c.RecordID, c.CandidateName, c.RegistryNumber, raw,
		c.ConfidenceScore, string(c.MatchMethod), c.IsSelected, c.CreatedAt}
}

func scanEdge(row scannable) (*model.OwnershipEdge, error) {
	var e model.OwnershipEdge
	var relation string
	err := row.Scan(&e.ID, &e.OwnerRecordID, &e.OwnedRecordID, &relation, &e.Percentage,
		&e.Source, &e.Verified, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.RelationType = model.RelationType(relation)
	return &e, nil
}

// recordMutableColumns are the columns UpdateRecord writes: everything after
// original_data up to and including enriched_data.
var recordMutableColumns = recordColumnList[5 : len(recordColumnList)-2]

// recordUpdateSet renders "col = ?" assignments for recordMutableColumns
// followed by updated_at.
func recordUpdateSet(dollar bool) string {
	cols := append(append([]string(nil), recordMutableColumns...), "updated_at")
	assign := make([]string, len(cols))
	for i, c := range cols {
		if dollar {
			assign[i] = fmt.Sprintf("%s = $%d", c, i+1)
		} else {
			assign[i] = c + " = ?"
		}
	}
	return strings.Join(assign, ", ")
}

// recordUpdateArgs returns the values matching recordUpdateSet.
func recordUpdateArgs(r *model.Record) ([]any, error) {
	r.UpdatedAt = time.Now().UTC()
	vals, err := recordValues(r)
	if err != nil {
		return nil, err
	}
	args := append([]any(nil), vals[5:len(vals)-2]...)
	return append(args, r.UpdatedAt), nil
}

func newID() string {
	return uuid.New().String()
}

// prepareRecord fills identity and timestamps on a record about to be inserted.
func prepareRecord(r *model.Record, newID func() string, now time.Time) {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.Status == "" {
		r.Status = model.StatusPending
	}
	if r.EntityKind == "" {
		r.EntityKind = model.EntityKindUnknown
	}
	r.CreatedAt = now
	r.UpdatedAt = now
}

func prepareCandidate(c *model.CandidateMatch, recordID string, now time.Time) {
	if c.ID == "" {
		c.ID = newID()
	}
	c.RecordID = recordID
	c.CreatedAt = now
}

func prepareEdge(e *model.OwnershipEdge, now time.Time) {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.RelationType == "" {
		e.RelationType = model.RelationOther
	}
	e.CreatedAt = now
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func statusStrings(statuses []model.ResolutionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func newStats(batchID string) *model.BatchStats {
	return &model.BatchStats{
		BatchID:  batchID,
		ByStatus: make(map[model.ResolutionStatus]int),
		ByKind:   make(map[model.EntityKind]int),
	}
}
