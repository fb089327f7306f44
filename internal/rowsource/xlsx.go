package rowsource

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/formatrack/importd/internal/importer"
)

// ParseXLSX reads the first sheet of an XLSX workbook into import rows.
func ParseXLSX(r io.Reader) ([]importer.ImportRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed XLSX: %v", importer.ErrInvalidInput, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", importer.ErrInvalidInput)
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", importer.ErrInvalidInput, sheets[0], err)
	}
	return buildRows(records, 1)
}
