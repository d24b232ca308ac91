// Package ingest turns uploaded spreadsheets into pending records.
package ingest

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/charity-cli/internal/model"
	"github.com/sells-group/charity-cli/internal/store"
	"github.com/sells-group/charity-cli/pkg/charity"
)

// DefaultNameColumn is the header expected to hold organization names.
const DefaultNameColumn = "name"

var nameAliases = []string{
	"organisation name", "organization name", "charity name", "company name",
	"entity name", "organisation", "organization", "charity",
}

var numberAliases = []string{
	"charity number", "registered charity number", "charity no", "charity reg no",
	"registration number", "registry number", "reg no",
}

// Options controls how an upload becomes a batch.
type Options struct {
	BatchName string
	// NameColumn overrides the name header. Matching ignores case, spaces
	// and underscores.
	NameColumn string
	// NumberColumn names a header whose values pre-populate the registry
	// number. When empty, common charity-number headers are detected.
	NumberColumn string
}

// Upload is a parsed file ready to be stored.
type Upload struct {
	Header       []string
	NameColumn   string
	NumberColumn string
	Records      []*model.Record
	Skipped      int
}

var headerSpace = regexp.MustCompile(`[\s_\-]+`)

func normalizeHeader(h string) string {
	return strings.TrimSpace(headerSpace.ReplaceAllString(strings.ToLower(h), " "))
}

func findColumn(header []string, want string, aliases []string) int {
	norm := make([]string, len(header))
	for i, h := range header {
		norm[i] = normalizeHeader(h)
	}
	candidates := aliases
	if want != "" {
		candidates = []string{want}
	}
	for _, c := range candidates {
		c = normalizeHeader(c)
		for i, h := range norm {
			if h == c {
				return i
			}
		}
	}
	return -1
}

// Parse reads rows (header first) into pending records. Rows with a blank
// name are skipped; RowNumber is the 1-based data row in the file.
func Parse(rows [][]string, opts Options) (*Upload, error) {
	if len(rows) == 0 {
		return nil, eris.New("ingest: file is empty")
	}
	header := rows[0]

	want := opts.NameColumn
	if want == "" {
		want = DefaultNameColumn
	}
	nameIdx := findColumn(header, want, nil)
	if nameIdx < 0 && opts.NameColumn == "" {
		nameIdx = findColumn(header, "", nameAliases)
	}
	if nameIdx < 0 {
		return nil, eris.Errorf("ingest: column %q not found; available columns: %s", want, strings.Join(header, ", "))
	}

	numberIdx := -1
	if opts.NumberColumn != "" {
		numberIdx = findColumn(header, opts.NumberColumn, nil)
		if numberIdx < 0 {
			return nil, eris.Errorf("ingest: number column %q not found", opts.NumberColumn)
		}
	} else {
		numberIdx = findColumn(header, "", numberAliases)
	}

	up := &Upload{Header: header, NameColumn: header[nameIdx]}
	if numberIdx >= 0 {
		up.NumberColumn = header[numberIdx]
	}

	for i, row := range rows[1:] {
		name := cell(row, nameIdx)
		if name == "" || strings.EqualFold(name, "nan") {
			up.Skipped++
			continue
		}
		rec := &model.Record{
			RowNumber:    i + 1,
			OriginalName: name,
			OriginalData: rowData(header, row),
			Status:       model.StatusPending,
			EntityKind:   model.EntityKindUnknown,
		}
		if numberIdx >= 0 {
			rec.RegistryNumber = charity.NormalizeNumber(cell(row, numberIdx))
		}
		up.Records = append(up.Records, rec)
	}
	if len(up.Records) == 0 {
		return nil, eris.New("ingest: no rows with a name")
	}
	return up, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func rowData(header, row []string) map[string]any {
	data := make(map[string]any, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if v := cell(row, i); v != "" {
			data[h] = v
		} else {
			data[h] = nil
		}
	}
	return data
}

// InvalidUploadError marks failures caused by the file itself rather than
// the store.
type InvalidUploadError struct {
	Err error
}

func (e *InvalidUploadError) Error() string { return e.Err.Error() }

func (e *InvalidUploadError) Unwrap() error { return e.Err }

// IsInvalidUpload reports whether err was caused by the uploaded file.
func IsInvalidUpload(err error) bool {
	var target *InvalidUploadError
	return errors.As(err, &target)
}

// Ingest parses the file and stores it as a new uploaded batch.
func Ingest(ctx context.Context, st store.Store, filename string, data []byte, opts Options) (*model.Batch, *Upload, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, nil, &InvalidUploadError{Err: err}
	}
	rows, err := ReadRows(format, data)
	if err != nil {
		return nil, nil, &InvalidUploadError{Err: err}
	}
	up, err := Parse(rows, opts)
	if err != nil {
		return nil, nil, &InvalidUploadError{Err: err}
	}

	name := opts.BatchName
	if name == "" {
		name = filename
	}
	b := &model.Batch{
		Name:         name,
		Filename:     filename,
		Status:       model.BatchStatusUploaded,
		TotalRecords: len(up.Records),
	}
	if err := st.CreateBatch(ctx, b); err != nil {
		return nil, nil, eris.Wrap(err, "ingest: create batch")
	}
	for _, r := range up.Records {
		r.BatchID = b.ID
	}
	if err := st.CreateRecords(ctx, up.Records); err != nil {
		return nil, nil, eris.Wrap(err, "ingest: create records")
	}

	zap.L().Info("ingest: batch created",
		zap.String("batch_id", b.ID),
		zap.String("filename", filename),
		zap.String("name_column", up.NameColumn),
		zap.String("number_column", up.NumberColumn),
		zap.Int("records", len(up.Records)),
		zap.Int("skipped", up.Skipped),
	)
	return b, up, nil
}
