// Package stats implements streaming mean/stddev for octree_benchmark's
// running {count, x_stats, y_stats, z_stats} output (spec §6). This is a
// ~15-line numerical kernel (Welford's algorithm); no library in the
// retrieved pack offers incremental (as opposed to batch) mean/variance,
// so it is hand-rolled rather than pulled from e.g. gonum/stat, which only
// aggregates over a fully materialized slice.
package stats

import "math"

// Running accumulates count, mean and variance for one scalar series
// using Welford's online algorithm, numerically stable over arbitrarily
// long streams.
type Running struct {
	count int64
	mean  float64
	m2    float64
}

// Add folds x into the running statistics.
func (r *Running) Add(x float64) {
	r.count++
	delta := x - r.mean
	r.mean += delta / float64(r.count)
	delta2 := x - r.mean
	r.m2 += delta * delta2
}

// Count returns the number of samples folded in so far.
func (r *Running) Count() int64 { return r.count }

// Mean returns the running mean.
func (r *Running) Mean() float64 { return r.mean }

// Variance returns the running (population) variance.
func (r *Running) Variance() float64 {
	if r.count < 2 {
		return 0
	}
	return r.m2 / float64(r.count)
}

// StdDev returns the running standard deviation.
func (r *Running) StdDev() float64 {
	return math.Sqrt(r.Variance())
}

// PointStats accumulates per-axis running statistics, the {count, x_stats,
// y_stats, z_stats} shape octree_benchmark prints.
type PointStats struct {
	Count   int64
	X, Y, Z Running
}

// Add folds a point's coordinates into the per-axis statistics.
func (p *PointStats) Add(x, y, z float64) {
	p.Count++
	p.X.Add(x)
	p.Y.Add(y)
	p.Z.Add(z)
}
