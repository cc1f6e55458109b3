// Package output renders completed runs as JSON for downstream consumers.
package output

import (
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/fareloom/fareloom/pkg/intercept"
	"github.com/fareloom/fareloom/pkg/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SiteResult is one site's slice of the report. Failed sites carry an error
// string instead of records so a partial batch still produces output.
type SiteResult struct {
	Site      string                   `json:"site"`
	Records   []schemas.FlightRecord   `json:"records"`
	Attempts  int                      `json:"attempts"`
	Duration  time.Duration            `json:"duration_ns"`
	Bandwidth intercept.BandwidthStats `json:"bandwidth"`
	Error     string                   `json:"error,omitempty"`
}

// Report is the full output of one search across all requested sites.
type Report struct {
	Query       schemas.Query `json:"query"`
	GeneratedAt time.Time     `json:"generated_at"`
	Results     []SiteResult  `json:"results"`
	TotalFares  int           `json:"total_fares"`
}

// NewReport assembles a report and fills the derived fields.
func NewReport(q schemas.Query, results []SiteResult) *Report {
	total := 0
	for _, r := range results {
		total += len(r.Records)
	}
	return &Report{
		Query:       q,
		GeneratedAt: time.Now().UTC(),
		Results:     results,
		TotalFares:  total,
	}
}

// Writer serializes reports and record streams.
type Writer struct {
	out    io.Writer
	pretty bool
}

// NewWriter writes to out. pretty indents for terminals; off for pipes.
func NewWriter(out io.Writer, pretty bool) *Writer {
	return &Writer{out: out, pretty: pretty}
}

// WriteReport renders the whole report as one JSON document.
func (w *Writer) WriteReport(r *Report) error {
	var (
		data []byte
		err  error
	)
	if w.pretty {
		data, err = json.MarshalIndent(r, "", "  ")
	} else {
		data, err = json.Marshal(r)
	}
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if _, err := w.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// WriteRecords streams records one JSON object per line, for piping into
// line-oriented tools.
func (w *Writer) WriteRecords(records []schemas.FlightRecord) error {
	enc := json.NewEncoder(w.out)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("encoding record %d: %w", i, err)
		}
	}
	return nil
}
