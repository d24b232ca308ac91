package ingest

import (
	"bytes"
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/charmap"
)

// Format is an accepted upload format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat picks the format from the file extension.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("ingest: unsupported file type %q (want .csv or .xlsx)", filepath.Ext(filename))
	}
}

// ReadRows returns every row of the upload, header included.
func ReadRows(format Format, data []byte) ([][]string, error) {
	switch format {
	case FormatCSV:
		return readCSV(data)
	case FormatXLSX:
		return readXLSX(data)
	default:
		return nil, eris.Errorf("ingest: unsupported format %q", format)
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// readCSV decodes UTF-8, falling back to Windows-1252 for legacy exports.
func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	var r io.Reader = bytes.NewReader(data)
	if !utf8.Valid(data) {
		r = charmap.Windows1252.NewDecoder().Reader(r)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "ingest: read csv row")
		}
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// readXLSX reads the first sheet.
func readXLSX(data []byte) ([][]string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("ingest: workbook has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		if row == nil {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = strings.TrimSpace(cell.String())
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
