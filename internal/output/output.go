// Package output renders pipeline results as CSV or JSON.
package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Sternrassler/geo-enrich/pkg/pipeline"
	"github.com/goccy/go-json"
)

// Format selects an output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON:
		return f, nil
	case "":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want csv or json)", s)
	}
}

// Header is the CSV column order.
var Header = []string{
	"Identifier",
	"DatasetIndex",
	"Title",
	"Summary",
	"OverallDesign",
	"ExperimentType",
	"AccessionCode",
	"Organism",
}

// Write encodes res in the given format.
func Write(w io.Writer, format Format, res *pipeline.Result) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, res)
	case FormatCSV, "":
		return WriteCSV(w, res.Rows)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// WriteCSV writes the row table with a header line. Failures are not part of
// the table.
func WriteCSV(w io.Writer, rows []pipeline.EnrichedRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			strconv.Itoa(int(row.Identifier)),
			strconv.Itoa(int(row.DatasetIndex)),
			row.Title,
			row.Summary,
			row.OverallDesign,
			row.ExperimentType,
			string(row.AccessionCode),
			row.Organism,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the whole result, failures and threshold flag included.
func WriteJSON(w io.Writer, res *pipeline.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
