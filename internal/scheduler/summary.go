package scheduler

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
)

// Status is the terminal state of a table.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
)

// TableResult is the outcome of one table.
type TableResult struct {
	Name     string
	Status   Status
	Pages    int64
	Records  int64
	Rows     int64
	Duration time.Duration
	Output   string
	Reason   string
	Err      error
}

// Summary reports every table of a run.
type Summary struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Tables   []TableResult
}

// Failed reports whether any table did not succeed.
func (s *Summary) Failed() bool {
	for _, t := range s.Tables {
		if t.Status != StatusSuccess {
			return true
		}
	}
	return false
}

// Count returns the number of tables with status.
func (s *Summary) Count(status Status) int {
	n := 0
	for _, t := range s.Tables {
		if t.Status == status {
			n++
		}
	}
	return n
}

// Table returns the result for name.
func (s *Summary) Table(name string) (TableResult, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableResult{}, false
}

// Log writes one line per table plus a totals line.
func (s *Summary) Log(log *zap.Logger) {
	for _, t := range s.Tables {
		fields := []zap.Field{
			zap.String("table", t.Name),
			zap.String("status", string(t.Status)),
			zap.Int64("rows", t.Rows),
			zap.Duration("duration", t.Duration),
		}
		switch {
		case t.Err != nil:
			fields = append(fields, zap.Error(t.Err))
		case t.Reason != "":
			fields = append(fields, zap.String("reason", t.Reason))
		}
		log.Info("table summary", fields...)
	}
	log.Info("extraction finished",
		zap.String("run_id", s.RunID),
		zap.Int("succeeded", s.Count(StatusSuccess)),
		zap.Int("failed", s.Count(StatusFailed)),
		zap.Int("skipped", s.Count(StatusSkipped)),
		zap.Duration("elapsed", s.Finished.Sub(s.Started)))
}

// Print renders the summary as a table.
func (s *Summary) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tSTATUS\tPAGES\tROWS\tDURATION\tDETAIL")
	for _, t := range s.Tables {
		detail := t.Output
		if t.Err != nil {
			detail = t.Err.Error()
		} else if t.Reason != "" {
			detail = t.Reason
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			t.Name, t.Status, t.Pages, t.Rows, t.Duration.Round(time.Millisecond), detail)
	}
	fmt.Fprintf(tw, "\nrun %s: %d succeeded, %d failed, %d skipped in %s\n",
		s.RunID, s.Count(StatusSuccess), s.Count(StatusFailed), s.Count(StatusSkipped),
		s.Finished.Sub(s.Started).Round(time.Millisecond))
	return tw.Flush()
}
