// Package convergence projects the date at which capability growth
// plateaus and qualifies it with a confidence label.
package convergence

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/panbanda/convergence/pkg/models"
)

// Component names used in ConvergenceEstimate.ComponentDates.
const (
	ComponentCapability     = "capability"
	ComponentCommitRate     = "commit_rate"
	ComponentSophistication = "sophistication"
)

const day = 24 * time.Hour

// Config controls the prediction.
type Config struct {
	TargetFraction       float64 `json:"target_fraction" koanf:"target_fraction" toml:"target_fraction"`
	HorizonYears         float64 `json:"horizon_years" koanf:"horizon_years" toml:"horizon_years"`
	SophisticationTarget float64 `json:"sophistication_target" koanf:"sophistication_target" toml:"sophistication_target"`

	HighRSquared   float64 `json:"high_r_squared" koanf:"high_r_squared" toml:"high_r_squared"`
	MediumRSquared float64 `json:"medium_r_squared" koanf:"medium_r_squared" toml:"medium_r_squared"`
	GoodSpanRatio  float64 `json:"good_span_ratio" koanf:"good_span_ratio" toml:"good_span_ratio"`
	FairSpanRatio  float64 `json:"fair_span_ratio" koanf:"fair_span_ratio" toml:"fair_span_ratio"`
	AgreementGood  float64 `json:"agreement_good" koanf:"agreement_good" toml:"agreement_good"`
	AgreementFair  float64 `json:"agreement_fair" koanf:"agreement_fair" toml:"agreement_fair"`
}

// DefaultConfig returns the default predictor settings.
func DefaultConfig() Config {
	return Config{
		TargetFraction:       0.95,
		HorizonYears:         10,
		SophisticationTarget: 0.8,
		HighRSquared:         0.95,
		MediumRSquared:       0.80,
		GoodSpanRatio:        1.0,
		FairSpanRatio:        0.25,
		AgreementGood:        0.15,
		AgreementFair:        0.40,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	var errs []error
	if c.TargetFraction <= 0 || c.TargetFraction >= 1 {
		errs = append(errs, fmt.Errorf("target_fraction %g must be in (0,1)", c.TargetFraction))
	}
	if c.HorizonYears <= 0 {
		errs = append(errs, fmt.Errorf("horizon_years %g must be positive", c.HorizonYears))
	}
	if c.SophisticationTarget <= 0 || c.SophisticationTarget > 1 {
		errs = append(errs, fmt.Errorf("sophistication_target %g must be in (0,1]", c.SophisticationTarget))
	}
	if c.MediumRSquared < 0 || c.HighRSquared < c.MediumRSquared || c.HighRSquared > 1 {
		errs = append(errs, fmt.Errorf("r-squared thresholds must satisfy 0 <= medium (%g) <= high (%g) <= 1",
			c.MediumRSquared, c.HighRSquared))
	}
	if c.FairSpanRatio < 0 || c.GoodSpanRatio < c.FairSpanRatio {
		errs = append(errs, fmt.Errorf("span ratios must satisfy 0 <= fair (%g) <= good (%g)", c.FairSpanRatio, c.GoodSpanRatio))
	}
	if c.AgreementGood < 0 || c.AgreementFair < c.AgreementGood {
		errs = append(errs, fmt.Errorf("agreement thresholds must satisfy 0 <= good (%g) <= fair (%g)", c.AgreementGood, c.AgreementFair))
	}
	return errors.Join(errs...)
}

// Inputs are the fitted models a prediction is derived from. Nil fits are
// treated as unavailable; the reports explain why.
type Inputs struct {
	Capability       *models.LogisticFit
	CapabilityStatus models.FitStatus
	CapabilityError  string
	CommitRate       *models.LogisticFit
	Sophistication   *models.TrendFit
	HistorySpan      time.Duration
	Now              time.Time
}

// Predict derives the convergence date from the capability curve and uses
// the commit-rate and sophistication projections only to judge agreement.
func Predict(in Inputs, cfg Config) models.ConvergenceEstimate {
	est := models.ConvergenceEstimate{
		Source:         ComponentCapability,
		TargetFraction: cfg.TargetFraction,
		Confidence:     models.ConfidenceLow,
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	horizon := now.Add(time.Duration(cfg.HorizonYears * 365 * float64(day)))

	if in.Capability == nil {
		status := in.CapabilityStatus
		if status == "" {
			status = models.FitFailed
		}
		est.Reason = fmt.Sprintf("no capability fit (%s)", status)
		if in.CapabilityError != "" {
			est.Reason += ": " + in.CapabilityError
		}
		return est
	}

	capDate, ok := logisticDate(in.Capability, cfg.TargetFraction, horizon)
	if !ok {
		est.Reason = fmt.Sprintf("capability does not reach %.0f%% of its asymptote within %g years",
			cfg.TargetFraction*100, cfg.HorizonYears)
		return est
	}

	est.Determined = true
	est.Date = &capDate
	est.DaysUntil = int(math.Round(capDate.Sub(now).Hours() / 24))

	est.ComponentDates = map[string]time.Time{ComponentCapability: capDate}
	if in.CommitRate != nil {
		if d, ok := logisticDate(in.CommitRate, cfg.TargetFraction, horizon); ok {
			est.ComponentDates[ComponentCommitRate] = d
		}
	}
	if in.Sophistication != nil {
		if t, ok := in.Sophistication.TimeToValue(cfg.SophisticationTarget); ok {
			if d := in.Sophistication.TimeAt(t); !d.After(horizon) {
				est.ComponentDates[ComponentSophistication] = d
			}
		}
	}
	consensus := mean(est.ComponentDates)
	est.ConsensusDate = &consensus

	factors := grade(in, capDate, now, est.ComponentDates, cfg)
	est.Factors = &factors
	est.Confidence = label(factors)
	return est
}

// logisticDate returns when fit reaches frac of its asymptote, if that
// happens no later than horizon.
func logisticDate(fit *models.LogisticFit, frac float64, horizon time.Time) (time.Time, bool) {
	if fit.K <= 0 || fit.L <= 0 || fit.Unit <= 0 {
		return time.Time{}, false
	}
	t := fit.TimeToFraction(frac)
	limit := float64(horizon.Sub(fit.Origin)) / float64(fit.Unit)
	if math.IsNaN(t) || t > limit {
		return time.Time{}, false
	}
	return fit.TimeAt(t), true
}

func grade(in Inputs, date, now time.Time, components map[string]time.Time, cfg Config) models.ConfidenceFactors {
	f := models.ConfidenceFactors{RSquared: in.Capability.RSquared}
	switch {
	case f.RSquared >= cfg.HighRSquared:
		f.RSquaredGrade = models.GradeGood
	case f.RSquared >= cfg.MediumRSquared:
		f.RSquaredGrade = models.GradeFair
	default:
		f.RSquaredGrade = models.GradePoor
	}

	distance := date.Sub(now)
	if distance < day {
		distance = day
	}
	f.SpanRatio = float64(in.HistorySpan) / float64(distance)
	switch {
	case f.SpanRatio >= cfg.GoodSpanRatio:
		f.SpanGrade = models.GradeGood
	case f.SpanRatio >= cfg.FairSpanRatio:
		f.SpanGrade = models.GradeFair
	default:
		f.SpanGrade = models.GradePoor
	}

	if len(components) < 2 {
		f.AgreementGrade = models.GradeFair
		return f
	}
	lo, hi := bounds(components)
	scale := in.HistorySpan + date.Sub(now)
	if scale < day {
		scale = day
	}
	f.Disagreement = float64(hi.Sub(lo)) / float64(scale)
	switch {
	case f.Disagreement <= cfg.AgreementGood:
		f.AgreementGrade = models.GradeGood
	case f.Disagreement <= cfg.AgreementFair:
		f.AgreementGrade = models.GradeFair
	default:
		f.AgreementGrade = models.GradePoor
	}
	return f
}

func label(f models.ConfidenceFactors) models.Confidence {
	grades := []models.FactorGrade{f.RSquaredGrade, f.SpanGrade, f.AgreementGrade}
	allGood := true
	for _, g := range grades {
		if g == models.GradePoor {
			return models.ConfidenceLow
		}
		if g != models.GradeGood {
			allGood = false
		}
	}
	if allGood {
		return models.ConfidenceHigh
	}
	return models.ConfidenceMedium
}

func bounds(dates map[string]time.Time) (lo, hi time.Time) {
	first := true
	for _, d := range dates {
		if first || d.Before(lo) {
			lo = d
		}
		if first || d.After(hi) {
			hi = d
		}
		first = false
	}
	return lo, hi
}

// mean averages dates in a stable order.
func mean(dates map[string]time.Time) time.Time {
	names := make([]string, 0, len(dates))
	for n := range dates {
		names = append(names, n)
	}
	sort.Strings(names)

	ref := dates[names[0]]
	var sum float64
	for _, n := range names {
		sum += float64(dates[n].Sub(ref))
	}
	return ref.Add(time.Duration(sum / float64(len(names))))
}
