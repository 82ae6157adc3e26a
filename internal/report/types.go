package report

import (
	"time"

	"github.com/panbanda/convergence/pkg/models"
)

// Metadata describes where a report came from.
type Metadata struct {
	Title       string    `json:"title"`
	Source      string    `json:"source,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Version     string    `json:"version"`
}

// RenderData is everything the template needs.
type RenderData struct {
	Metadata        Metadata
	Result          *models.ScanResult
	Capability      *models.FitReport
	Timeline        []TimelineRow
	ConfidenceClass string
	Categories      []models.CategoryCount
}

// TimelineRow is one line of the capability table. Projected rows come
// from the fitted curve rather than observed buckets.
type TimelineRow struct {
	Date       time.Time
	Cumulative float64
	Percent    float64 // of the fitted asymptote, 0 without a fit
	Projected  bool
}
