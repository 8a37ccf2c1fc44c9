// cmd/report.go
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/colorsRGB/AutomationScripts/internal/orchestrator"
)

// sessionReport is the JSON form of one orchestrator session.
type sessionReport struct {
	Index    int     `json:"index"`
	Status   string  `json:"status"`
	Attempts int     `json:"attempts"`
	Seconds  float64 `json:"elapsed_seconds"`
	Error    string  `json:"error,omitempty"`
}

type runReport struct {
	RunAt     time.Time       `json:"run_at"`
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Seconds   float64         `json:"elapsed_seconds"`
	Sessions  []sessionReport `json:"sessions"`
}

func newRunReport(sum orchestrator.Summary, at time.Time) runReport {
	r := runReport{
		RunAt:     at.UTC(),
		Total:     sum.Total,
		Succeeded: sum.Succeeded,
		Failed:    sum.Failed,
		Seconds:   sum.Elapsed.Seconds(),
		Sessions:  make([]sessionReport, 0, len(sum.Sessions)),
	}
	for _, s := range sum.Sessions {
		sr := sessionReport{
			Index:    s.Index,
			Status:   s.Status.String(),
			Attempts: s.Attempts + 1,
			Seconds:  s.Elapsed.Seconds(),
		}
		if s.Err != nil {
			sr.Error = s.Err.Error()
		}
		r.Sessions = append(r.Sessions, sr)
	}
	return r
}

// writeReport stores the run summary as indented JSON at path.
func writeReport(path string, sum orchestrator.Summary, at time.Time) error {
	data, err := json.MarshalIndent(newRunReport(sum, at), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize report to JSON: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}
