// Package reduce computes sums and means of a shard, either
// sequentially or with one Goroutine pool across chunks.
package reduce

import (
	"github.com/unixpickle/dist-mean/fault"
	"github.com/unixpickle/dist-mean/partition"
	"github.com/unixpickle/essentials"
)

// A Partial is the sum of some number of elements.
//
// Partials form a commutative monoid under Merge, with
// the zero Partial as the identity.
type Partial struct {
	Sum   float64
	Count int
}

// Merge combines two partials.
func (p Partial) Merge(other Partial) Partial {
	return Partial{Sum: p.Sum + other.Sum, Count: p.Count + other.Count}
}

// Mean gets the average of the summarized elements.
//
// It fails with fault.UndefinedAverage if there are no
// elements.
func (p Partial) Mean() (float64, error) {
	if p.Count == 0 {
		return 0, fault.E(fault.UndefinedAverage, "reduce.Mean", "no elements")
	}
	return p.Sum / float64(p.Count), nil
}

// A Reducer summarizes a shard without modifying it.
type Reducer interface {
	Reduce(shard []float64) Partial
}

// Mean applies a Reducer and computes the mean.
func Mean(r Reducer, shard []float64) (float64, error) {
	return r.Reduce(shard).Mean()
}

// Parallel is a Reducer which sums fixed-count chunks of
// a shard concurrently.
type Parallel struct {
	// Chunks is the requested number of chunks.
	// It is clamped by partition.NumChunks, so a value of
	// 0 means partition.DefaultChunks.
	Chunks int

	// Goroutines limits concurrency.
	// If 0, GOMAXPROCS is used.
	Goroutines int
}

// Reduce sums every chunk into its own accumulator, then
// folds the accumulators in chunk order once all of them
// are done.
func (p Parallel) Reduce(shard []float64) Partial {
	chunks := partition.Chunks(len(shard), p.Chunks)
	partials := make([]Partial, len(chunks))
	essentials.ConcurrentMap(p.Goroutines, len(chunks), func(i int) {
		chunk := shard[chunks[i].Start:chunks[i].End]
		partials[i] = Partial{Sum: sumRange(chunk), Count: len(chunk)}
	})
	var total Partial
	for _, part := range partials {
		total = total.Merge(part)
	}
	return total
}

// Sequential is a Reducer which sums a shard in order with
// a single accumulator.
type Sequential struct{}

// Reduce sums the shard.
func (Sequential) Reduce(shard []float64) Partial {
	return Partial{Sum: sumRange(shard), Count: len(shard)}
}

func sumRange(values []float64) float64 {
	var sum float64
	for _, x := range values {
		sum += x
	}
	return sum
}
