// Package gather implements collective operations that
// fold one scalar per rank into a single result on the
// coordinator.
package gather

import (
	"context"
	"strconv"

	"github.com/unixpickle/dist-mean/collcomm"
	"github.com/unixpickle/dist-mean/fault"
)

// A Result is the outcome of a gather on the coordinator.
type Result struct {
	// Value is the combined global value.
	Value float64

	// Contributions holds what every rank sent, indexed
	// by rank.
	Contributions []collcomm.Contribution
}

// Elements sums the Count of every contribution.
func (r *Result) Elements() int {
	var total int
	for _, c := range r.Contributions {
		total += c.Count
	}
	return total
}

// A Gatherer combines one Contribution from every rank of
// a Transport.
//
// Gather returns a nil Result on every rank other than the
// coordinator.
type Gatherer interface {
	Gather(ctx context.Context, t collcomm.Transport, local collcomm.Contribution) (*Result, error)
}

// A Star gatherer has every rank, coordinator included,
// send its Contribution straight to the coordinator, which
// receives them in arrival order.
//
// The wait on the coordinator is bounded only by ctx.
type Star struct {
	Combiner Combiner
}

// Gather runs the collective.
func (s Star) Gather(ctx context.Context, t collcomm.Transport,
	local collcomm.Contribution) (*Result, error) {
	if err := t.Send(ctx, collcomm.Coordinator, local); err != nil {
		return nil, err
	}
	if t.Rank() != collcomm.Coordinator {
		return nil, nil
	}

	size := t.Size()
	contribs := make([]collcomm.Contribution, size)
	seen := make([]bool, size)
	for received := 0; received < size; received++ {
		c, source, err := t.RecvAny(ctx)
		if err != nil {
			if fault.Is(fault.CollectiveIncomplete, err) {
				return nil, fault.E(fault.CollectiveIncomplete, "gather.Star",
					err, missingMessage(seen))
			}
			return nil, err
		}
		if err := checkContribution(local.Run, size, seen, c, source); err != nil {
			return nil, err
		}
		seen[source] = true
		contribs[source] = c
	}

	value, err := s.combiner().Combine(contribs)
	if err != nil {
		return nil, err
	}
	return &Result{Value: value, Contributions: contribs}, nil
}

func (s Star) combiner() Combiner {
	if s.Combiner == nil {
		return MeanOfMeans{}
	}
	return s.Combiner
}

func checkContribution(run string, size int, seen []bool, c collcomm.Contribution, source int) error {
	if source < 0 || source >= size {
		return fault.Errorf(fault.Protocol, "gather.Star", "message from unknown rank %d", source)
	} else if seen[source] {
		return fault.Errorf(fault.Protocol, "gather.Star", "duplicate message from rank %d", source)
	} else if c.Run != run {
		return fault.Errorf(fault.Protocol, "gather.Star", "rank %d sent a message for run %q, expected %q",
			source, c.Run, run)
	} else if c.Count < 0 {
		return fault.Errorf(fault.Protocol, "gather.Star", "rank %d reported %d elements", source, c.Count)
	}
	return nil
}

func missingMessage(seen []bool) string {
	var missing []int
	for rank, ok := range seen {
		if !ok {
			missing = append(missing, rank)
		}
	}
	const maxListed = 8
	msg := "waiting on ranks"
	for i, rank := range missing {
		if i == maxListed {
			msg += " ..."
			break
		}
		msg += " " + strconv.Itoa(rank)
	}
	return msg
}
