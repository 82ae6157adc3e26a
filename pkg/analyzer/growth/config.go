package growth

import (
	"errors"
	"fmt"
	"time"
)

// Config bounds the fitter.
type Config struct {
	MinPoints     int           // distinct non-flat values required
	MinHistory    time.Duration // minimum series span
	MaxIterations int           // per seed
	Seeds         []float64     // L0 = last value * seed

	FTol      float64 // relative SSR decrease treated as converged
	XTol      float64 // relative step size treated as converged
	GTol      float64 // scaled gradient treated as converged when damping saturates
	SSRTol    float64 // absolute SSR (normalized units) treated as an exact fit
	Lambda    float64 // initial damping
	MaxLambda float64 // damping at which a non-improving fit is declared stalled

	ProjectionBuckets int // future buckets reported with each fit
}

// DefaultConfig returns the default fitter settings.
func DefaultConfig() Config {
	return Config{
		MinPoints:         5,
		MinHistory:        28 * 24 * time.Hour,
		MaxIterations:     200,
		Seeds:             []float64{1.5, 1.1, 2, 4},
		FTol:              1e-10,
		XTol:              1e-10,
		GTol:              1e-6,
		SSRTol:            1e-24,
		Lambda:            1e-3,
		MaxLambda:         1e10,
		ProjectionBuckets: 12,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	var errs []error
	if c.MinPoints < 3 {
		errs = append(errs, fmt.Errorf("min_points %d must be at least 3 (three parameters are fitted)", c.MinPoints))
	}
	if c.MinHistory < 0 {
		errs = append(errs, fmt.Errorf("min_history must not be negative"))
	}
	if c.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("max_iterations %d must be positive", c.MaxIterations))
	}
	if len(c.Seeds) == 0 {
		errs = append(errs, fmt.Errorf("at least one seed margin is required"))
	}
	for _, s := range c.Seeds {
		if s < 1 {
			errs = append(errs, fmt.Errorf("seed margin %g must be >= 1", s))
		}
	}
	if c.FTol <= 0 || c.XTol <= 0 || c.GTol <= 0 || c.SSRTol < 0 {
		errs = append(errs, fmt.Errorf("tolerances must be positive"))
	}
	if c.Lambda <= 0 || c.MaxLambda <= c.Lambda {
		errs = append(errs, fmt.Errorf("damping must satisfy 0 < lambda (%g) < max_lambda (%g)", c.Lambda, c.MaxLambda))
	}
	if c.ProjectionBuckets < 0 {
		errs = append(errs, fmt.Errorf("projection_buckets must not be negative"))
	}
	return errors.Join(errs...)
}
