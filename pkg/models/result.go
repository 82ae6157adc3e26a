package models

import "time"

// CategoryCount is a category with its accumulated score.
type CategoryCount struct {
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	Commits int     `json:"commits"`
}

// RepoStats summarizes one repository in a scan.
type RepoStats struct {
	Name              string          `json:"name"`
	Path              string          `json:"path"`
	Commits           int             `json:"commits"`
	Duplicates        int             `json:"duplicates,omitempty"` // hashes already seen in another repo
	Capability        float64         `json:"capability"`
	CapabilityPercent float64         `json:"capability_percent"` // share of the combined capability
	FirstCommit       *time.Time      `json:"first_commit,omitempty"`
	LastCommit        *time.Time      `json:"last_commit,omitempty"`
	TopCategories     []CategoryCount `json:"top_categories"`
}

// RepoError records a repository that could not be scanned.
type RepoError struct {
	Repo  string `json:"repo"`
	Path  string `json:"path"`
	Error string `json:"error"`
}

// CacheStats reports score cache behaviour for a run.
type CacheStats struct {
	Version   string `json:"version"`
	Hits      int    `json:"hits"`
	Misses    int    `json:"misses"`
	Entries   int    `json:"entries"`
	Discarded bool   `json:"discarded,omitempty"` // prior cache dropped on load
}

// HistorySnapshot is the persisted summary of one scan.
type HistorySnapshot struct {
	RunID              string               `json:"run_id"`
	ScanTime           time.Time            `json:"scan_time"`
	ConvergenceDate    *time.Time           `json:"convergence_date,omitempty"`
	Confidence         Confidence           `json:"confidence"`
	ComponentDates     map[string]time.Time `json:"component_dates,omitempty"`
	DaysUntil          int                  `json:"days_until,omitempty"`
	TotalCommits       int                  `json:"total_commits"`
	Capability         float64              `json:"capability"`
	PercentOfAsymptote float64              `json:"percent_of_asymptote"`
}

// ScanResult is the full output of a scan.
type ScanResult struct {
	GeneratedAt    time.Time           `json:"generated_at"`
	Inception      *time.Time          `json:"inception,omitempty"`
	Excluded       int                 `json:"excluded_pre_inception"`
	TotalCommits   int                 `json:"total_commits"`
	Repos          []RepoStats         `json:"repos"`
	Errors         []RepoError         `json:"errors,omitempty"`
	Combined       Series              `json:"combined"`
	PerRepo        []Series            `json:"per_repo"`
	PerCategory    []Series            `json:"per_category"`
	Fits           []FitReport         `json:"fits"`
	Estimate       ConvergenceEstimate `json:"estimate"`
	History        []HistorySnapshot   `json:"history,omitempty"`
	Classification ClassificationStats `json:"classification"`
	Cache          CacheStats          `json:"cache"`
}

// Fit returns the report for a named series.
func (r *ScanResult) Fit(name string) (FitReport, bool) {
	for _, f := range r.Fits {
		if f.Series == name {
			return f, true
		}
	}
	return FitReport{}, false
}
