package sheets

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/edwardbensa/storiedbc-db/internal/record"
	"github.com/edwardbensa/storiedbc-db/internal/retry"
)

// CSVSpreadsheet reads worksheet exports from a local directory, one
// "<sheet>.csv" per worksheet with a header row. Used for offline runs
// and as the test double for the hosted spreadsheet.
type CSVSpreadsheet struct {
	dir string
}

// NewCSVSpreadsheet returns a spreadsheet backed by CSV exports in dir.
func NewCSVSpreadsheet(dir string) *CSVSpreadsheet {
	return &CSVSpreadsheet{dir: dir}
}

// Records parses one sheet export. All cell values stay strings; the
// per-collection transforms coerce types downstream. A missing export
// is terminal, a read that fails midway is worth retrying.
func (s *CSVSpreadsheet) Records(ctx context.Context, sheetName string) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(s.dir, sheetName+".csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, retry.Terminal(fmt.Errorf("sheet export %s: %w", sheetName, err))
		}
		return nil, retry.Transient(err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("parse sheet export %s: %w", sheetName, err))
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	records := make([]record.Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		doc := make(record.Record, len(header))
		for i, field := range header {
			if i < len(row) {
				doc[field] = row[i]
			} else {
				doc[field] = ""
			}
		}
		records = append(records, doc)
	}
	return records, nil
}
