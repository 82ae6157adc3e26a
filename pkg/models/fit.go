package models

import (
	"math"
	"time"
)

// LogisticFit holds the parameters of f(t) = L / (1 + e^(-K(t-T0))) with t
// measured in Unit steps from Origin.
type LogisticFit struct {
	L          float64       `json:"l"`
	K          float64       `json:"k"`
	T0         float64       `json:"t0"`
	RSquared   float64       `json:"r_squared"`
	SSR        float64       `json:"ssr"`
	Residuals  []float64     `json:"residuals"`
	Iterations int           `json:"iterations"`
	Origin     time.Time     `json:"origin"`
	Unit       time.Duration `json:"unit"`
}

// Value evaluates the curve at t.
func (f LogisticFit) Value(t float64) float64 {
	return f.L / (1 + math.Exp(-f.K*(t-f.T0)))
}

// Rate evaluates the first derivative of the curve at t.
func (f LogisticFit) Rate(t float64) float64 {
	s := 1 / (1 + math.Exp(-f.K*(t-f.T0)))
	return f.L * f.K * s * (1 - s)
}

// TimeToFraction returns the t at which the curve reaches frac of L.
// frac must be in (0,1).
func (f LogisticFit) TimeToFraction(frac float64) float64 {
	return f.T0 + math.Log(frac/(1-frac))/f.K
}

// TimeAt converts t into an absolute time.
func (f LogisticFit) TimeAt(t float64) time.Time {
	return f.Origin.Add(time.Duration(t * float64(f.Unit)))
}

// Midpoint returns the inflection date.
func (f LogisticFit) Midpoint() time.Time {
	return f.TimeAt(f.T0)
}

// TrendFit is a linear fit y = Intercept + Slope*t in Unit steps from Origin.
type TrendFit struct {
	Slope     float64       `json:"slope"`
	Intercept float64       `json:"intercept"`
	RSquared  float64       `json:"r_squared"`
	Points    int           `json:"points"`
	Origin    time.Time     `json:"origin"`
	Unit      time.Duration `json:"unit"`
}

// Value evaluates the line at t.
func (f TrendFit) Value(t float64) float64 {
	return f.Intercept + f.Slope*t
}

// TimeToValue returns the t at which the line reaches y, and false when the
// line is flat or moving away from y.
func (f TrendFit) TimeToValue(y float64) (float64, bool) {
	if f.Slope <= 0 {
		return 0, false
	}
	return (y - f.Intercept) / f.Slope, true
}

// TimeAt converts t into an absolute time.
func (f TrendFit) TimeAt(t float64) time.Time {
	return f.Origin.Add(time.Duration(t * float64(f.Unit)))
}

// FitStatus is the outcome of fitting one series.
type FitStatus string

const (
	FitOK                  FitStatus = "ok"
	FitInsufficientData    FitStatus = "insufficient_data"
	FitInsufficientHistory FitStatus = "insufficient_history"
	FitStalled             FitStatus = "stalled"
	FitIterationCap        FitStatus = "iteration_cap"
	FitFailed              FitStatus = "failed"
)

// ProjectionPoint is a future value of a fitted curve.
type ProjectionPoint struct {
	Date               time.Time `json:"date"`
	Value              float64   `json:"value"`
	PercentOfAsymptote float64   `json:"percent_of_asymptote"`
}

// FitReport records the fit for one named series. Failures are carried in
// Status and Error rather than returned to the caller.
type FitReport struct {
	Series             string            `json:"series"`
	Status             FitStatus         `json:"status"`
	Error              string            `json:"error,omitempty"`
	Logistic           *LogisticFit      `json:"logistic,omitempty"`
	Trend              *TrendFit         `json:"trend,omitempty"`
	PercentOfAsymptote float64           `json:"percent_of_asymptote,omitempty"`
	Projection         []ProjectionPoint `json:"projection,omitempty"`
}

// OK reports whether a usable model was produced.
func (r FitReport) OK() bool {
	return r.Status == FitOK && (r.Logistic != nil || r.Trend != nil)
}

// Confidence qualifies a convergence estimate.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// FactorGrade rates one input to the confidence label.
type FactorGrade string

const (
	GradeGood FactorGrade = "good"
	GradeFair FactorGrade = "fair"
	GradePoor FactorGrade = "poor"
)

// ConfidenceFactors explains how the confidence label was derived.
type ConfidenceFactors struct {
	RSquared       float64     `json:"r_squared"`
	RSquaredGrade  FactorGrade `json:"r_squared_grade"`
	SpanRatio      float64     `json:"span_ratio"` // history span / projection distance
	SpanGrade      FactorGrade `json:"span_grade"`
	Disagreement   float64     `json:"disagreement"` // component date spread / projection distance
	AgreementGrade FactorGrade `json:"agreement_grade"`
}

// ConvergenceEstimate is the projected date at which capability growth
// reaches the target fraction of its asymptote.
type ConvergenceEstimate struct {
	Determined     bool                 `json:"determined"`
	Date           *time.Time           `json:"date,omitempty"`
	Source         string               `json:"source"`
	TargetFraction float64              `json:"target_fraction"`
	Confidence     Confidence           `json:"confidence"`
	Reason         string               `json:"reason,omitempty"`
	DaysUntil      int                  `json:"days_until,omitempty"`
	ComponentDates map[string]time.Time `json:"component_dates,omitempty"`
	ConsensusDate  *time.Time           `json:"consensus_date,omitempty"`
	Factors        *ConfidenceFactors   `json:"factors,omitempty"`
}
