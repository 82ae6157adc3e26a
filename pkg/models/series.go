package models

import "time"

// TimeSeriesPoint is one fixed-width bucket of an aggregated series.
type TimeSeriesPoint struct {
	Start             time.Time `json:"start"`
	Commits           int       `json:"commits"`
	CumulativeCommits int       `json:"cumulative_commits"`
	Rate              float64   `json:"rate"`       // score added in this bucket
	Cumulative        float64   `json:"cumulative"` // running total, non-decreasing
	Sophistication    float64   `json:"sophistication"`
}

// Series is a contiguous run of buckets sharing a width.
type Series struct {
	Name        string            `json:"name"`
	Repo        string            `json:"repo,omitempty"`
	Origin      time.Time         `json:"origin"`
	BucketWidth time.Duration     `json:"bucket_width"`
	Points      []TimeSeriesPoint `json:"points"`
}

// Len returns the number of buckets.
func (s Series) Len() int {
	return len(s.Points)
}

// Last returns the final bucket, or a zero point for an empty series.
func (s Series) Last() TimeSeriesPoint {
	if len(s.Points) == 0 {
		return TimeSeriesPoint{}
	}
	return s.Points[len(s.Points)-1]
}

// Span returns the time covered from the first bucket start to the end of
// the last bucket.
func (s Series) Span() time.Duration {
	if len(s.Points) == 0 {
		return 0
	}
	return s.Points[len(s.Points)-1].Start.Sub(s.Points[0].Start) + s.BucketWidth
}

// Values extracts a column from the series. Times are expressed in bucket
// units relative to the series origin.
func (s Series) Values(column func(TimeSeriesPoint) float64) (ts, ys []float64) {
	ts = make([]float64, len(s.Points))
	ys = make([]float64, len(s.Points))
	for i, p := range s.Points {
		ts[i] = s.Units(p.Start)
		ys[i] = column(p)
	}
	return ts, ys
}

// Units converts an absolute time into bucket units from the origin.
func (s Series) Units(t time.Time) float64 {
	if s.BucketWidth <= 0 {
		return 0
	}
	return float64(t.Sub(s.Origin)) / float64(s.BucketWidth)
}

// Column selectors for Series.Values.
var (
	CumulativeScore   = func(p TimeSeriesPoint) float64 { return p.Cumulative }
	CumulativeCommits = func(p TimeSeriesPoint) float64 { return float64(p.CumulativeCommits) }
	Sophistication    = func(p TimeSeriesPoint) float64 { return p.Sophistication }
)
