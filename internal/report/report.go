// Package report serializes batch run reports to files for downstream
// analysis. JSON keeps the full structure; Parquet flattens per-file
// results into a columnar table.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/segmentio/parquet-go"

	"github.com/medimaging/dicom-sentinel/internal/batch"
)

// resultRow is the flattened Parquet row for one processed file.
type resultRow struct {
	Path       string `parquet:"path"`
	Operation  string `parquet:"operation"`
	Succeeded  bool   `parquet:"succeeded"`
	Skipped    bool   `parquet:"skipped"`
	Outputs    string `parquet:"outputs"`
	ErrorKind  string `parquet:"error_kind"`
	Detail     string `parquet:"detail"`
	Notes      string `parquet:"notes"`
	DurationMS int64  `parquet:"duration_ms"`
}

// WriteJSON writes the full report as indented JSON.
func WriteJSON(report *batch.Report, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteParquet writes per-file results as a Parquet table.
func WriteParquet(report *batch.Report, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewWriter(file)

	for _, r := range report.Results {
		row := resultRow{
			Path:       r.Path,
			Operation:  string(r.Operation),
			Succeeded:  r.Succeeded,
			Skipped:    r.Skipped,
			Outputs:    strings.Join(r.Outputs, "|"),
			ErrorKind:  string(r.ErrorKind),
			Detail:     r.Detail,
			Notes:      strings.Join(r.Notes, "|"),
			DurationMS: r.Duration.Milliseconds(),
		}
		if err := writer.Write(&row); err != nil {
			return fmt.Errorf("failed to write report row: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}
	return nil
}

// ReadParquet loads per-file rows from a previously written report,
// mainly so older runs can be inspected from the CLI.
func ReadParquet(path string) ([]batch.Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open report file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	var results []batch.Result
	for {
		var row resultRow
		err := reader.Read(&row)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read report row: %w", err)
		}
		r := batch.Result{
			Path:      row.Path,
			Operation: batch.Operation(row.Operation),
			Succeeded: row.Succeeded,
			Skipped:   row.Skipped,
			ErrorKind: batch.ErrorKind(row.ErrorKind),
			Detail:    row.Detail,
		}
		if row.Outputs != "" {
			r.Outputs = strings.Split(row.Outputs, "|")
		}
		if row.Notes != "" {
			r.Notes = strings.Split(row.Notes, "|")
		}
		results = append(results, r)
	}
	return results, nil
}
