package audit

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"
)

var csvHeader = []string{"id", "kind", "subject_id", "action", "actor_id", "status_before", "status_after", "notes", "reason", "at"}

// WriteCSV renders records as CSV with a header row.
func WriteCSV(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, rec := range records {
		row := []string{
			strconv.FormatInt(rec.ID, 10),
			rec.Kind,
			strconv.FormatInt(rec.SubjectID, 10),
			string(rec.Action),
			strconv.FormatInt(rec.ActorID, 10),
			rec.StatusBefore,
			rec.StatusAfter,
			rec.Notes,
			rec.Reason,
			rec.At.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
