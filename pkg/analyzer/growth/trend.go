package growth

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/panbanda/convergence/pkg/models"
)

// FitTrend fits a least-squares line to the non-zero values of a column.
// Zero buckets carry no observation and are skipped.
func FitTrend(s models.Series, column func(models.TimeSeriesPoint) float64) (*models.TrendFit, error) {
	ts, ys := s.Values(column)

	var xs, vs []float64
	for i, y := range ys {
		if y != 0 {
			xs = append(xs, ts[i])
			vs = append(vs, y)
		}
	}
	if len(xs) < 2 || distinct(xs) < 2 {
		return nil, fmt.Errorf("%w: %d non-zero values, need 2", ErrInsufficientData, len(xs))
	}

	intercept, slope := stat.LinearRegression(xs, vs, nil, false)
	return &models.TrendFit{
		Slope:     slope,
		Intercept: intercept,
		RSquared:  stat.RSquared(xs, vs, nil, intercept, slope),
		Points:    len(xs),
		Origin:    s.Origin,
		Unit:      s.BucketWidth,
	}, nil
}
