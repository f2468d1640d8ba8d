package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ttavares/comexsync/internal/backfill"
	"github.com/ttavares/comexsync/internal/domain"
)

// ErrUnsupportedFormat is returned when an export file is neither CSV nor XLSX.
var ErrUnsupportedFormat = errors.New("unsupported export format")

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// numberColumns are the spellings under which exports name the document number.
var numberColumns = []string{"number", "document_number", "nr_document"}

// datedColumns are the spellings carrying the row's reference date, used for
// most-recent-wins deduplication.
var datedColumns = []string{"updated_at", "dt_situation", "situation_date", "reference_date"}

// SpreadsheetExport reads an ad hoc bulk export file (.csv or .xlsx) as a
// backfill source. Every row becomes one candidate payload keyed by the
// export's own column spellings.
type SpreadsheetExport struct {
	path   string
	kind   domain.DocumentKind
	origin domain.Origin
}

// NewSpreadsheetExport constructs an export source for one file. Exports are
// produced per kind; origin tags the payload key dialect the file uses.
func NewSpreadsheetExport(path string, kind domain.DocumentKind, origin domain.Origin) *SpreadsheetExport {
	if origin == "" {
		origin = domain.OriginLegacyCache
	}
	return &SpreadsheetExport{path: path, kind: kind, origin: origin}
}

func (s *SpreadsheetExport) Name() string {
	return "export:" + filepath.Base(s.path)
}

// Fetch parses the file and returns one row per data line. Rows for other
// kinds, malformed lines and lines without a document number are skipped.
func (s *SpreadsheetExport) Fetch(ctx context.Context, window backfill.Window, kind domain.DocumentKind) ([]backfill.BulkRow, error) {
	if kind != s.kind {
		return nil, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read export %s: %w", s.path, err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("export %s is empty", s.path)
	}

	headers, records, err := parseExportTable(s.path, payload)
	if err != nil {
		return nil, err
	}

	var out []backfill.BulkRow
	for _, record := range records {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		row := rowPayload(headers, record)
		if len(row) == 0 {
			continue
		}

		bulk := backfill.BulkRow{
			Kind:    s.kind,
			Origin:  s.origin,
			Payload: row,
		}
		for _, column := range numberColumns {
			if v := row.String(column); v != "" {
				bulk.Number = v
				break
			}
		}
		if bulk.Number == "" {
			continue
		}
		for _, column := range datedColumns {
			if ts, _ := row.Time(column); ts != nil {
				bulk.DatedAt = *ts
				break
			}
		}
		out = append(out, bulk)
	}
	return out, nil
}

func parseExportTable(path string, payload []byte) ([]string, [][]string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return parseCSVExport(payload)
	case ".xlsx":
		return parseExcelExport(payload)
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSVExport(payload []byte) ([]string, [][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read csv export: %w", err)
	}
	return splitHeader(records)
}

func parseExcelExport(payload []byte) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open xlsx export: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.New("xlsx export has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read xlsx export rows: %w", err)
	}
	return splitHeader(rows)
}

// splitHeader takes the first non-empty row as the header and sanitizes its
// labels into snake_case column keys.
func splitHeader(records [][]string) ([]string, [][]string, error) {
	var headers []string
	var data [][]string
	for _, record := range records {
		if isEmptyRow(record) {
			continue
		}
		if headers == nil {
			headers = sanitizeHeaders(record)
			continue
		}
		data = append(data, record)
	}
	if headers == nil {
		return nil, nil, errors.New("export has no header row")
	}
	return headers, data, nil
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)
	for idx, value := range raw {
		name := strings.ToLower(strings.TrimSpace(value))
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}
		base := name
		if count := seen[base]; count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base]++
		headers[idx] = name
	}
	return headers
}

func rowPayload(headers []string, record []string) domain.Payload {
	payload := domain.Payload{}
	for idx, header := range headers {
		if idx >= len(record) {
			break
		}
		value := strings.TrimSpace(record[idx])
		if value == "" {
			continue
		}
		payload[header] = value
	}
	return payload
}

func isEmptyRow(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
