package sink

import (
	"encoding/json"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/filmstat/cinescan/pkg/endata"
)

// stampLayout labels artifact filenames, e.g. 20260825_143000.
const stampLayout = "20060102_150405"

// Artifact filename prefixes. Kept compatible with the scraper this scanner
// replaces so downstream tooling keeps working.
const (
	recordsPrefix    = "all_cinemas_data_"
	projectionPrefix = "cinema_name_zzid_"
	simplePrefix     = "cinema_simple_"
	failuresPrefix   = "error_logs_"
)

// failureTimeLayout formats failure timestamps in the error log.
const failureTimeLayout = "2006-01-02 15:04:05"

// unionColumns returns the union of field names across records, ordered by
// first appearance. Records fetched later may carry fields earlier ones
// lack; their columns append to the right.
func unionColumns(records []*endata.Record) []string {
	var cols []string
	seen := make(map[string]bool)
	for _, rec := range records {
		for _, name := range rec.Fields() {
			if !seen[name] {
				seen[name] = true
				cols = append(cols, name)
			}
		}
	}
	return cols
}

// writeXLSX writes a single sheet with a header row followed by data rows.
func writeXLSX(path string, header []string, rows [][]any) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)

	headerRow := make([]any, len(header))
	for i, name := range header {
		headerRow[i] = name
	}
	if err := f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return err
	}

	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return err
		}
	}

	return f.SaveAs(path)
}

// writeRecordsXLSX writes the full record set, one column per field ever
// seen.
func writeRecordsXLSX(path string, records []*endata.Record) error {
	cols := unionColumns(records)

	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(cols))
		for j, name := range cols {
			if v, ok := rec.Get(name); ok {
				row[j] = v
			}
		}
		rows[i] = row
	}

	return writeXLSX(path, cols, rows)
}

// writeRecordsJSON writes the full record set as a compact JSON array,
// fields in wire order.
func writeRecordsJSON(path string, records []*endata.Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// writeProjectionXLSX writes the reduced identifier/name/code view.
func writeProjectionXLSX(path string, records []*endata.Record) error {
	header := []string{endata.FieldID, endata.FieldName, endata.FieldCode}

	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, 3)
		if id, ok := rec.ID(); ok {
			row[0] = id
		} else if v, exists := rec.Get(endata.FieldID); exists {
			row[0] = v
		}
		row[1] = rec.DisplayName()
		row[2] = rec.Code()
		rows[i] = row
	}

	return writeXLSX(path, header, rows)
}

// simpleRecord is one row of the simple JSON projection. Field order matches
// the artifact consumers expect.
type simpleRecord struct {
	CinemaName string `json:"CinemaName"`
	ZZID       string `json:"ZZID"`
	CinemaID   int64  `json:"CinemaID"`
}

// writeProjectionJSON writes the simple projection as indented JSON.
func writeProjectionJSON(path string, records []*endata.Record) error {
	simple := make([]simpleRecord, len(records))
	for i, rec := range records {
		id, _ := rec.ID()
		simple[i] = simpleRecord{
			CinemaName: rec.DisplayName(),
			ZZID:       rec.Code(),
			CinemaID:   id,
		}
	}

	data, err := json.MarshalIndent(simple, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// writeFailuresXLSX writes the error log.
func writeFailuresXLSX(path string, failures []Failure) error {
	header := []string{"cinemaid", "error", "timestamp"}

	rows := make([][]any, len(failures))
	for i, f := range failures {
		rows[i] = []any{f.ID, f.Reason, f.At.Format(failureTimeLayout)}
	}

	return writeXLSX(path, header, rows)
}
