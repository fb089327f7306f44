package rowsource

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/formatrack/importd/internal/importer"
)

// utf8BOM is the byte order mark Excel prepends to UTF-8 CSV exports.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseCSV reads a CSV stream into import rows. The first record is the
// header; a leading UTF-8 BOM is skipped.
func ParseCSV(r io.Reader) ([]importer.ImportRow, error) {
	br := bufio.NewReader(r)
	if lead, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(lead, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1 // ragged rows fail per-row, not per-file
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: malformed CSV: %v", importer.ErrInvalidInput, err)
	}
	return buildRows(records, 1)
}
