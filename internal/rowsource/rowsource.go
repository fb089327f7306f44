// Package rowsource parses uploaded spreadsheets into normalized import
// rows. It accepts CSV and XLSX files with a fixed header set and handles
// the usual artifacts of user-exported data: BOMs, Excel formula prefixes,
// stray quotes and mixed date formats.
package rowsource

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/formatrack/importd/internal/importer"
)

// Expected header names, matched case-insensitively. source_id is optional;
// everything else is required.
const (
	colCollaboratorID = "collaborator_id"
	colFormationCode  = "formation_code"
	colOrganization   = "organization"
	colCategory       = "category"
	colDepartment     = "department"
	colStartDate      = "start_date"
	colEndDate        = "end_date"
	colDurationHours  = "duration_hours"
	colPriceHT        = "price_ht"
	colSourceID       = "source_id"
)

var requiredColumns = []string{
	colCollaboratorID, colFormationCode, colOrganization, colCategory,
	colDepartment, colStartDate, colEndDate, colDurationHours, colPriceHT,
}

// headerIndex maps lowercased header names to column positions.
type headerIndex map[string]int

func makeHeaderIndex(header []string) headerIndex {
	idx := make(headerIndex, len(header))
	for i, h := range header {
		idx[strings.ToLower(cleanCell(h))] = i
	}
	return idx
}

func (idx headerIndex) validate() error {
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing columns: %s", importer.ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

func (idx headerIndex) cell(record []string, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(record) {
		return ""
	}
	return cleanCell(record[i])
}

// FromFile parses an uploaded spreadsheet into import rows, dispatching on
// the file extension.
func FromFile(fileName string, r io.Reader) ([]importer.ImportRow, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv":
		return ParseCSV(r)
	case ".xlsx":
		return ParseXLSX(r)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q (expected .csv or .xlsx)",
			importer.ErrInvalidInput, filepath.Ext(fileName))
	}
}

// buildRows converts raw records (header first) into import rows. lineOffset
// is the 1-indexed line number of the header row in the source file.
func buildRows(records [][]string, lineOffset int) ([]importer.ImportRow, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: file has no header row", importer.ErrInvalidInput)
	}
	idx := makeHeaderIndex(records[0])
	if err := idx.validate(); err != nil {
		return nil, err
	}

	rows := make([]importer.ImportRow, 0, len(records)-1)
	for i, record := range records[1:] {
		if isEmptyRecord(record) {
			continue
		}
		line := lineOffset + i + 1
		row, err := buildRow(record, idx, line)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func buildRow(record []string, idx headerIndex, line int) (importer.ImportRow, error) {
	row := importer.ImportRow{
		ExternalCollaboratorID: idx.cell(record, colCollaboratorID),
		FormationCode:          idx.cell(record, colFormationCode),
		OrganizationName:       idx.cell(record, colOrganization),
		CategoryName:           idx.cell(record, colCategory),
		DepartmentName:         idx.cell(record, colDepartment),
		SourceID:               idx.cell(record, colSourceID),
	}

	if row.ExternalCollaboratorID == "" {
		return row, rowErr(line, colCollaboratorID, "empty")
	}
	if row.FormationCode == "" {
		return row, rowErr(line, colFormationCode, "empty")
	}

	var err error
	if row.StartDate, err = parseDate(idx.cell(record, colStartDate)); err != nil {
		return row, rowErr(line, colStartDate, err.Error())
	}
	if row.EndDate, err = parseDate(idx.cell(record, colEndDate)); err != nil {
		return row, rowErr(line, colEndDate, err.Error())
	}
	if row.EndDate.Before(row.StartDate) {
		return row, rowErr(line, colEndDate, "before start_date")
	}
	if row.DurationHours, err = parseFloat(idx.cell(record, colDurationHours)); err != nil {
		return row, rowErr(line, colDurationHours, err.Error())
	}
	if row.PriceHT, err = parseFloat(idx.cell(record, colPriceHT)); err != nil {
		return row, rowErr(line, colPriceHT, err.Error())
	}
	return row, nil
}

func rowErr(line int, col, reason string) error {
	return fmt.Errorf("%w: line %d: %s: %s", importer.ErrInvalidInput, line, col, reason)
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006"}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// parseFloat accepts both dot and comma decimal separators; empty cells
// read as zero.
func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	s = strings.ReplaceAll(s, " ", "")
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number %q", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative value %q", s)
	}
	return v, nil
}

func isEmptyRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// cleanCell strips the usual export artifacts: whitespace, Excel formula
// prefixes (="value") and surrounding quotes.
func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}
	return strings.Trim(s, `"'`)
}
