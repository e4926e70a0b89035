package permit

import (
	"fmt"
	"math"

	"github.com/hazyhaar/permitpack/assemble"
	"github.com/hazyhaar/permitpack/specsheet"
)

// Run statuses.
const (
	StatusCompleted = "completed" // every component resolved
	StatusPartial   = "partial"   // at least one component missing
)

// Summary counts component outcomes for one run.
type Summary struct {
	TotalComponents int     `json:"total_components"`
	Found           int     `json:"found"`
	Cached          int     `json:"cached"`
	Missing         int     `json:"missing"`
	SuccessRate     float64 `json:"success_rate"`
}

// Report is the result of one permit-package run. It is never mutated
// after Run returns.
type Report struct {
	RunID          string                  `json:"run_id"`
	ProjectID      string                  `json:"project_id"`
	Status         string                  `json:"status"`
	OutputPath     string                  `json:"output_path"`
	BlobKey        string                  `json:"blob_key"`
	BlobLocation   string                  `json:"blob_location,omitempty"`
	ProcessingTime float64                 `json:"processing_time"` // seconds
	BasePages      int                     `json:"base_pages"`
	TotalPages     int                     `json:"total_pages"`
	Summary        Summary                 `json:"summary"`
	Logs           []string                `json:"logs"`
	Missing        []string                `json:"missing"`
	Matches        []specsheet.MatchResult `json:"matches"`
}

// summarize counts found, cached (found with cache origin) and missing
// components. A row the assembler skipped is missing whatever its match
// status, since its sheet is not in the package. success_rate is found/total
// as a percentage rounded to one decimal, 0 for an empty BOM.
func summarize(matches []specsheet.MatchResult, skipped []assemble.AssemblyPageError) (Summary, []string) {
	dropped := make(map[int]bool, len(skipped))
	for _, e := range skipped {
		dropped[e.Row] = true
	}
	s := Summary{TotalComponents: len(matches)}
	missing := []string{}
	for _, m := range matches {
		if m.Status == specsheet.StatusNotFound || dropped[m.Component.RowIndex] {
			s.Missing++
			name := m.Component.PartName
			if name == "" {
				name = m.Component.Label()
			}
			missing = append(missing, name)
			continue
		}
		s.Found++
		if m.Origin == specsheet.OriginCache {
			s.Cached++
		}
	}
	if s.TotalComponents > 0 {
		s.SuccessRate = math.Round(float64(s.Found)/float64(s.TotalComponents)*1000) / 10
	}
	return s, missing
}

func matchLog(m specsheet.MatchResult) string {
	return fmt.Sprintf("row %d %s: %s (%s)", m.Component.RowIndex, m.Component.Label(), m.Status, m.Message)
}
