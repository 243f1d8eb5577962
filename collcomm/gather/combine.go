package gather

import (
	"github.com/unixpickle/dist-mean/collcomm"
	"github.com/unixpickle/dist-mean/fault"
)

// A Combiner folds every rank's Contribution into a global
// value.
//
// contribs is indexed by rank, so the result never
// depends on the order in which messages arrived.
type Combiner interface {
	Combine(contribs []collcomm.Contribution) (float64, error)
}

// MeanOfMeans averages the local means of the ranks with
// equal weight, regardless of how many elements each rank
// averaged.
//
// Ranks with empty shards have no mean and are left out of
// both the sum and the denominator. If every shard is
// empty, the result is a fault.UndefinedAverage error.
type MeanOfMeans struct{}

// Combine computes the unweighted mean of means.
func (MeanOfMeans) Combine(contribs []collcomm.Contribution) (float64, error) {
	var sum float64
	var n int
	for _, c := range contribs {
		if c.Count == 0 {
			continue
		}
		sum += c.Value
		n++
	}
	if n == 0 {
		return 0, fault.E(fault.UndefinedAverage, "gather.MeanOfMeans", "every shard is empty")
	}
	return sum / float64(n), nil
}

// Weighted weights every local mean by its shard length,
// giving the exact mean of the whole dataset.
type Weighted struct{}

// Combine computes the weighted mean.
func (Weighted) Combine(contribs []collcomm.Contribution) (float64, error) {
	var sum float64
	var count int
	for _, c := range contribs {
		if c.Count == 0 {
			continue
		}
		sum += c.Value * float64(c.Count)
		count += c.Count
	}
	if count == 0 {
		return 0, fault.E(fault.UndefinedAverage, "gather.Weighted", "every shard is empty")
	}
	return sum / float64(count), nil
}

// CombinerByName looks up "mean-of-means" or "weighted".
func CombinerByName(name string) (Combiner, error) {
	switch name {
	case "", "mean-of-means":
		return MeanOfMeans{}, nil
	case "weighted":
		return Weighted{}, nil
	default:
		return nil, fault.Errorf(fault.Invalid, "gather.CombinerByName", "unknown combiner %q", name)
	}
}
