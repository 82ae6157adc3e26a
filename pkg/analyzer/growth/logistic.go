// Package growth fits logistic growth curves and linear trends to
// aggregated time series.
package growth

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/panbanda/convergence/pkg/models"
)

// Fitting outcomes other than success.
var (
	ErrInsufficientData    = errors.New("insufficient data")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrStalled             = errors.New("fit stalled without converging")
	ErrIterationCap        = errors.New("iteration cap reached without converging")
)

// params are the logistic parameters in normalized units.
type params struct {
	L, K, T0 float64
}

func (p params) valid() bool {
	return p.L > 0 && p.K > 0 &&
		!math.IsNaN(p.L) && !math.IsNaN(p.K) && !math.IsNaN(p.T0) &&
		!math.IsInf(p.L, 0) && !math.IsInf(p.K, 0) && !math.IsInf(p.T0, 0)
}

func (p params) norm() float64 {
	return math.Sqrt(p.L*p.L + p.K*p.K + p.T0*p.T0)
}

func sigmoid(k, t, t0 float64) float64 {
	return 1 / (1 + math.Exp(-k*(t-t0)))
}

// lmResult is the outcome of one Levenberg-Marquardt run.
type lmResult struct {
	p          params
	ssr        float64
	iterations int
	err        error
}

// FitLogistic fits f(t) = L / (1 + e^(-k(t-t0))) to a column of the series
// with t in bucket units from the series origin.
func FitLogistic(s models.Series, column func(models.TimeSeriesPoint) float64, cfg Config) (*models.LogisticFit, error) {
	ts, ys := s.Values(column)

	if n := distinct(ys); n < cfg.MinPoints {
		return nil, fmt.Errorf("%w: %d distinct values, need %d", ErrInsufficientData, n, cfg.MinPoints)
	}
	if span := s.Span(); span < cfg.MinHistory {
		return nil, fmt.Errorf("%w: %s of history, need %s", ErrInsufficientHistory, span, cfg.MinHistory)
	}

	fit, err := FitPoints(ts, ys, cfg)
	if err != nil {
		return nil, err
	}
	fit.Origin = s.Origin
	fit.Unit = s.BucketWidth
	return fit, nil
}

// FitPoints fits the logistic curve to raw (t, y) pairs. Every configured
// seed is tried and the converged fit with the smallest SSR wins.
func FitPoints(ts, ys []float64, cfg Config) (*models.LogisticFit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("fit config: %w", err)
	}
	if len(ts) != len(ys) {
		return nil, fmt.Errorf("mismatched inputs: %d times, %d values", len(ts), len(ys))
	}
	for _, y := range ys {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return nil, fmt.Errorf("%w: non-finite value", ErrInsufficientData)
		}
	}
	if n := distinct(ys); n < cfg.MinPoints {
		return nil, fmt.Errorf("%w: %d distinct values, need %d", ErrInsufficientData, n, cfg.MinPoints)
	}

	scale := 0.0
	for _, y := range ys {
		scale = math.Max(scale, math.Abs(y))
	}
	norm := make([]float64, len(ys))
	for i, y := range ys {
		norm[i] = y / scale
	}

	var best, bestFailed *lmResult
	for _, margin := range cfg.Seeds {
		res := levenberg(ts, norm, seed(ts, norm, margin), cfg)
		switch {
		case res.err == nil:
			if best == nil || res.ssr < best.ssr {
				best = &res
			}
		case bestFailed == nil || res.ssr < bestFailed.ssr:
			bestFailed = &res
		}
	}
	if best == nil {
		return nil, bestFailed.err
	}

	p := best.p
	fit := &models.LogisticFit{
		L:          p.L * scale,
		K:          p.K,
		T0:         p.T0,
		Iterations: best.iterations,
		Residuals:  make([]float64, len(ys)),
	}
	estimates := make([]float64, len(ys))
	for i, t := range ts {
		estimates[i] = fit.Value(t)
		fit.Residuals[i] = ys[i] - estimates[i]
		fit.SSR += fit.Residuals[i] * fit.Residuals[i]
	}
	fit.RSquared = stat.RSquaredFrom(estimates, ys, nil)
	return fit, nil
}

// seed derives starting parameters: L0 from the last value times margin, t0
// where the series first reaches L0/2 (or the last time), and k0 from the
// local slope at t0.
func seed(ts, ys []float64, margin float64) params {
	n := len(ts)
	last := ys[n-1]
	if last <= 0 {
		last = 1
	}
	l0 := last * margin

	idx := n - 1
	for i, y := range ys {
		if y >= l0/2 {
			idx = i
			break
		}
	}

	slope := 0.0
	lo, hi := idx-1, idx+1
	if lo < 0 {
		lo = 0
	}
	if hi > n-1 {
		hi = n - 1
	}
	if ts[hi] > ts[lo] {
		slope = (ys[hi] - ys[lo]) / (ts[hi] - ts[lo])
	}
	if slope <= 0 && ts[n-1] > ts[0] {
		slope = (ys[n-1] - ys[0]) / (ts[n-1] - ts[0])
	}

	k0 := 4 * slope / l0
	if k0 <= 0 || math.IsNaN(k0) {
		span := ts[n-1] - ts[0]
		if span <= 0 {
			span = 1
		}
		k0 = 4 / span
	}
	return params{L: l0, K: k0, T0: ts[idx]}
}

// levenberg minimizes SSR from p0. Steps that leave L or k non-positive or
// do not reduce SSR are rejected and the damping grows; once damping passes
// MaxLambda the run is either at a minimum (small gradient) or stalled.
func levenberg(ts, ys []float64, p0 params, cfg Config) lmResult {
	n := len(ts)
	p := p0
	lambda := cfg.Lambda

	r := make([]float64, n)
	ssr := residuals(ts, ys, p, r)

	jac := mat.NewDense(n, 3, nil)
	var jtj mat.Dense
	var grad mat.VecDense
	a := mat.NewDense(3, 3, nil)
	var delta mat.VecDense

	needJacobian := true
	for iter := 1; iter <= cfg.MaxIterations; iter++ {
		if ssr <= cfg.SSRTol {
			return lmResult{p: p, ssr: ssr, iterations: iter - 1}
		}

		if needJacobian {
			jacobian(ts, p, jac)
			jtj.Mul(jac.T(), jac)
			grad.MulVec(jac.T(), mat.NewVecDense(n, r))
			needJacobian = false
		}

		a.Copy(&jtj)
		for j := 0; j < 3; j++ {
			a.Set(j, j, jtj.At(j, j)+lambda*math.Max(jtj.At(j, j), 1e-12))
		}

		accepted := false
		if err := delta.SolveVec(a, &grad); err == nil || isCondition(err) {
			next := params{
				L:  p.L + delta.AtVec(0),
				K:  p.K + delta.AtVec(1),
				T0: p.T0 + delta.AtVec(2),
			}
			if next.valid() {
				nr := make([]float64, n)
				nssr := residuals(ts, ys, next, nr)
				if nssr < ssr {
					step := math.Sqrt(mat.Dot(&delta, &delta))
					decrease := ssr - nssr
					p, r, ssr = next, nr, nssr
					lambda = math.Max(lambda/10, 1e-12)
					needJacobian = true
					accepted = true

					if decrease <= cfg.FTol*(ssr+decrease) || step <= cfg.XTol*(p.norm()+cfg.XTol) || ssr <= cfg.SSRTol {
						return lmResult{p: p, ssr: ssr, iterations: iter}
					}
				}
			}
		}

		if !accepted {
			lambda *= 10
			if lambda > cfg.MaxLambda {
				if atMinimum(&jtj, &grad, ssr, cfg.GTol) {
					return lmResult{p: p, ssr: ssr, iterations: iter}
				}
				return lmResult{p: p, ssr: ssr, iterations: iter,
					err: fmt.Errorf("%w after %d iterations (ssr %.3g)", ErrStalled, iter, ssr)}
			}
		}
	}

	return lmResult{p: p, ssr: ssr, iterations: cfg.MaxIterations,
		err: fmt.Errorf("%w: %d iterations (ssr %.3g)", ErrIterationCap, cfg.MaxIterations, ssr)}
}

// residuals fills r with y - f(t) and returns the sum of squares.
func residuals(ts, ys []float64, p params, r []float64) float64 {
	ssr := 0.0
	for i, t := range ts {
		r[i] = ys[i] - p.L*sigmoid(p.K, t, p.T0)
		ssr += r[i] * r[i]
	}
	return ssr
}

// jacobian fills the partial derivatives of f with respect to L, k and t0.
func jacobian(ts []float64, p params, j *mat.Dense) {
	for i, t := range ts {
		s := sigmoid(p.K, t, p.T0)
		ds := s * (1 - s)
		j.Set(i, 0, s)
		j.Set(i, 1, p.L*ds*(t-p.T0))
		j.Set(i, 2, -p.L*ds*p.K)
	}
}

// atMinimum applies the scaled gradient test: the largest cosine between
// the residual vector and a Jacobian column must be below gtol. A Jacobian
// with no usable columns is never a minimum.
func atMinimum(jtj *mat.Dense, grad *mat.VecDense, ssr, gtol float64) bool {
	if ssr == 0 {
		return true
	}
	worst, usable := 0.0, false
	for j := 0; j < 3; j++ {
		d := jtj.At(j, j)
		if d <= 0 {
			continue
		}
		usable = true
		worst = math.Max(worst, math.Abs(grad.AtVec(j))/(math.Sqrt(d)*math.Sqrt(ssr)))
	}
	return usable && worst <= gtol
}

func isCondition(err error) bool {
	var c mat.Condition
	return errors.As(err, &c)
}

// distinct counts distinct values in ys.
func distinct(ys []float64) int {
	seen := make(map[float64]struct{}, len(ys))
	for _, y := range ys {
		seen[y] = struct{}{}
	}
	return len(seen)
}
