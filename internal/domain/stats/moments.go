// Package stats is the numeric kernel shared by the batch and streaming
// engines: online moments, online co-moments and one-way ANOVA.
package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Moments accumulates count, mean and sum of squared deviations using
// Welford's update. The zero value is ready to use.
type Moments struct {
	n    int
	mean float64
	m2   float64
}

// Add folds x into the running moments.
func (m *Moments) Add(x float64) {
	m.n++
	d := x - m.mean
	m.mean += d / float64(m.n)
	m.m2 += d * (x - m.mean)
}

// Remove reverses a previous Add(x).
func (m *Moments) Remove(x float64) {
	if m.n <= 1 {
		*m = Moments{}
		return
	}
	after := m.mean
	m.n--
	m.mean = (after*float64(m.n+1) - x) / float64(m.n)
	m.m2 -= (x - m.mean) * (x - after)
	if m.m2 < 0 {
		m.m2 = 0
	}
}

// N returns the number of observations.
func (m Moments) N() int { return m.n }

// Mean returns the running mean, NaN when empty.
func (m Moments) Mean() float64 {
	if m.n == 0 {
		return math.NaN()
	}
	return m.mean
}

// Variance returns the unbiased sample variance, NaN below two observations.
func (m Moments) Variance() float64 {
	if m.n < 2 {
		return math.NaN()
	}
	if NearZero(m.m2) {
		return 0
	}
	return m.m2 / float64(m.n-1)
}

// Comoment accumulates the co-moment of paired observations so covariance
// and correlation can be read at any time.
type Comoment struct {
	x, y Moments
	cxy  float64
}

// Add folds the pair (x, y).
func (c *Comoment) Add(x, y float64) {
	dx := x - c.x.mean
	c.x.Add(x)
	c.y.Add(y)
	c.cxy += dx * (y - c.y.mean)
}

// Remove reverses a previous Add(x, y).
func (c *Comoment) Remove(x, y float64) {
	if c.x.n <= 1 {
		*c = Comoment{}
		return
	}
	yAfter := c.y.mean
	c.x.Remove(x)
	c.cxy -= (x - c.x.mean) * (y - yAfter)
	c.y.Remove(y)
}

// N returns the number of pairs.
func (c Comoment) N() int { return c.x.n }

// Covariance returns the unbiased sample covariance.
func (c Comoment) Covariance() float64 {
	if c.x.n < 2 {
		return math.NaN()
	}
	return c.cxy / float64(c.x.n-1)
}

// Correlation returns Pearson's r, NaN when either side has zero variance.
func (c Comoment) Correlation() float64 {
	if c.x.n < 2 || NearZero(c.x.m2) || NearZero(c.y.m2) {
		return math.NaN()
	}
	return c.cxy / math.Sqrt(c.x.m2*c.y.m2)
}

// X returns the moments of the first variable.
func (c Comoment) X() Moments { return c.x }

// Y returns the moments of the second variable.
func (c Comoment) Y() Moments { return c.y }

// Mean returns the arithmetic mean of xs, NaN when empty.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return stat.Mean(xs, nil)
}

// Variance returns the unbiased sample variance of xs, NaN below two values.
func Variance(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	return stat.Variance(xs, nil)
}

// Correlation returns Pearson's r of x and y, NaN when undefined.
func Correlation(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return math.NaN()
	}
	if NearZero(stat.Variance(x, nil)) || NearZero(stat.Variance(y, nil)) {
		return math.NaN()
	}
	return stat.Correlation(x, y, nil)
}

// zeroTolerance absorbs the rounding left behind when online moments add
// and remove observations. Survey variances are far above it.
const zeroTolerance = 1e-12

// NearZero reports whether a variance or sum of squares is zero up to
// rounding.
func NearZero(v float64) bool {
	return math.Abs(v) < zeroTolerance
}

// Defined reports whether v is a finite number.
func Defined(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Ptr returns &v when v is defined and nil otherwise.
func Ptr(v float64) *float64 {
	if !Defined(v) {
		return nil
	}
	return &v
}
