package growth

import (
	"errors"

	"github.com/panbanda/convergence/pkg/models"
)

// StatusOf maps a fitting error to a report status.
func StatusOf(err error) models.FitStatus {
	switch {
	case err == nil:
		return models.FitOK
	case errors.Is(err, ErrInsufficientData):
		return models.FitInsufficientData
	case errors.Is(err, ErrInsufficientHistory):
		return models.FitInsufficientHistory
	case errors.Is(err, ErrStalled):
		return models.FitStalled
	case errors.Is(err, ErrIterationCap):
		return models.FitIterationCap
	default:
		return models.FitFailed
	}
}

// LogisticReport fits a series and records the outcome without returning an
// error, so one failed series does not invalidate the rest of a scan.
func LogisticReport(name string, s models.Series, column func(models.TimeSeriesPoint) float64, cfg Config) models.FitReport {
	rep := models.FitReport{Series: name}
	fit, err := FitLogistic(s, column, cfg)
	rep.Status = StatusOf(err)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}

	rep.Logistic = fit
	if len(s.Points) > 0 && fit.L > 0 {
		rep.PercentOfAsymptote = column(s.Last()) / fit.L * 100
		lastT := s.Units(s.Last().Start)
		rep.Projection = Project(fit, lastT, cfg.ProjectionBuckets)
	}
	return rep
}

// TrendReport fits a linear trend and records the outcome.
func TrendReport(name string, s models.Series, column func(models.TimeSeriesPoint) float64) models.FitReport {
	rep := models.FitReport{Series: name}
	fit, err := FitTrend(s, column)
	rep.Status = StatusOf(err)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	rep.Trend = fit
	return rep
}

// Project evaluates the fitted curve for n buckets after fromT.
func Project(fit *models.LogisticFit, fromT float64, n int) []models.ProjectionPoint {
	out := make([]models.ProjectionPoint, 0, n)
	for i := 1; i <= n; i++ {
		t := fromT + float64(i)
		v := fit.Value(t)
		out = append(out, models.ProjectionPoint{
			Date:               fit.TimeAt(t),
			Value:              v,
			PercentOfAsymptote: v / fit.L * 100,
		})
	}
	return out
}
