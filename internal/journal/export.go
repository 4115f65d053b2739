package journal

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ReportVersion identifies the export format; bump on breaking changes to
// docs/schema/change-report-v1.schema.json.
const ReportVersion = 1

// Report is the JSON export of the journal.
type Report struct {
	Version     int            `json:"version"`
	GeneratedAt string         `json:"generated_at"`
	Changes     []ReportChange `json:"changes"`
}

// ReportChange is one change in a Report.
type ReportChange struct {
	Path         string `json:"path"`
	DetectedAt   string `json:"detected_at"`
	Checksum     string `json:"checksum"`
	PrevChecksum string `json:"prev_checksum,omitempty"`
	Size         int64  `json:"size"`
}

// ExportJSON writes the most recent changes as a JSON report. limit <= 0
// exports everything.
func (j *Journal) ExportJSON(w io.Writer, limit int) error {
	changes, err := j.Recent(limit)
	if err != nil {
		return err
	}

	report := Report{
		Version:     ReportVersion,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Changes:     make([]ReportChange, 0, len(changes)),
	}
	for _, c := range changes {
		report.Changes = append(report.Changes, ReportChange{
			Path:         c.Path,
			DetectedAt:   c.DetectedAt.UTC().Format(time.RFC3339Nano),
			Checksum:     hex.EncodeToString(c.Checksum),
			PrevChecksum: hex.EncodeToString(c.PrevChecksum),
			Size:         c.Size,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("journal: encode report: %w", err)
	}
	return nil
}
