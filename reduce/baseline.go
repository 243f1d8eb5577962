package reduce

import "time"

// A Timing is the outcome of one timed reduction.
type Timing struct {
	Name    string
	Mean    float64
	Elapsed time.Duration
	Err     error
}

// Time runs a Reducer on the shard and measures how long
// it takes to produce the mean.
func Time(name string, r Reducer, shard []float64) Timing {
	start := time.Now()
	mean, err := Mean(r, shard)
	return Timing{
		Name:    name,
		Mean:    mean,
		Elapsed: time.Since(start),
		Err:     err,
	}
}

// A Comparison pits the parallel reducer against the
// sequential baseline on the same shard.
type Comparison struct {
	Parallel Timing
	Baseline Timing
}

// Compare times a Parallel reducer with the given chunk
// count and then the Sequential baseline.
func Compare(shard []float64, chunks int) *Comparison {
	return &Comparison{
		Parallel: Time("parallel", Parallel{Chunks: chunks}, shard),
		Baseline: Time("sequential", Sequential{}, shard),
	}
}

// Speedup is the baseline time divided by the parallel
// time.
func (c *Comparison) Speedup() float64 {
	if c.Parallel.Elapsed == 0 {
		return 0
	}
	return float64(c.Baseline.Elapsed) / float64(c.Parallel.Elapsed)
}

// RelativeError is the relative difference between the
// two means, or 0 if both are 0.
func (c *Comparison) RelativeError() float64 {
	a, b := c.Parallel.Mean, c.Baseline.Mean
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	scale := b
	if scale < 0 {
		scale = -scale
	}
	if scale == 0 {
		return diff
	}
	return diff / scale
}
