// Package worker runs the whole computation for one rank:
// partitioning, generating the shard, reducing it across
// cores, and joining the collective.
package worker

import (
	"context"
	"math"
	"time"

	"github.com/grailbio/base/log"
	"github.com/unixpickle/dist-mean/collcomm"
	"github.com/unixpickle/dist-mean/collcomm/gather"
	"github.com/unixpickle/dist-mean/dataset"
	"github.com/unixpickle/dist-mean/fault"
	"github.com/unixpickle/dist-mean/partition"
	"github.com/unixpickle/dist-mean/reduce"
)

// DefaultElements is the size of the global dataset when
// none is configured.
const DefaultElements = 1000000

// Config controls a run.
type Config struct {
	// N is the number of elements in the global dataset.
	N int

	// Chunks is the number of chunks each shard is split
	// into for the local reduction.
	// If 0, partition.DefaultChunks is used.
	Chunks int

	// Goroutines bounds local parallelism.
	// If 0, GOMAXPROCS is used.
	Goroutines int

	// Combiner folds the local means on the coordinator.
	// If nil, gather.MeanOfMeans is used.
	Combiner gather.Combiner

	// Timeout bounds the collective.
	// If 0, the coordinator waits indefinitely for every
	// rank.
	Timeout time.Duration

	// Compare additionally times the sequential baseline
	// on the local shard.
	Compare bool
}

// Validate checks the configuration for precondition
// violations.
func (c *Config) Validate() error {
	if c.N < 0 {
		return fault.Errorf(fault.Invalid, "worker.Config", "negative element count %d", c.N)
	} else if c.Chunks < 0 {
		return fault.Errorf(fault.Invalid, "worker.Config", "negative chunk count %d", c.Chunks)
	} else if c.Goroutines < 0 {
		return fault.Errorf(fault.Invalid, "worker.Config", "negative Goroutine count %d", c.Goroutines)
	} else if c.Timeout < 0 {
		return fault.Errorf(fault.Invalid, "worker.Config", "negative timeout %s", c.Timeout)
	}
	return nil
}

// A Report summarizes one rank's run.
type Report struct {
	World collcomm.WorldView
	Run   string

	// LocalCount is the length of this rank's shard.
	LocalCount int

	// LocalMean is the shard's mean, or NaN for an empty
	// shard.
	LocalMean float64

	// Global is only set on the coordinator.
	Global *gather.Result

	// Comparison is set when Config.Compare is true and
	// the shard is not empty.
	Comparison *reduce.Comparison
}

// Run computes this rank's local mean and joins the
// gather named run on t.
func Run(ctx context.Context, t collcomm.Transport, run string, cfg Config,
	filler dataset.Filler) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	world, err := collcomm.View(t)
	if err != nil {
		return nil, err
	}
	report := &Report{World: world, Run: run}

	contrib, err := localContribution(world, cfg, filler, report)
	if err != nil {
		return nil, err
	}
	contrib.Run = run

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	g := gather.Star{Combiner: cfg.Combiner}
	result, err := g.Gather(ctx, t, contrib)
	if err != nil {
		return nil, err
	}
	report.Global = result
	if result != nil {
		log.Printf("rank %d: global mean %f over %d elements from %d ranks", world.Rank, result.Value,
			result.Elements(), world.Size)
	}
	return report, nil
}

func localContribution(world collcomm.WorldView, cfg Config, filler dataset.Filler,
	report *Report) (collcomm.Contribution, error) {
	count, err := partition.LocalCount(cfg.N, world.Size, world.Rank)
	if err != nil {
		return collcomm.Contribution{}, err
	}
	report.LocalCount = count

	shard, err := dataset.Generate(count, filler)
	if err != nil {
		return collcomm.Contribution{}, err
	}

	start := time.Now()
	reducer := reduce.Parallel{Chunks: cfg.Chunks, Goroutines: cfg.Goroutines}
	mean, err := reducer.Reduce(shard).Mean()
	if err != nil {
		if !fault.Is(fault.UndefinedAverage, err) {
			return collcomm.Contribution{}, err
		}
		log.Printf("rank %d: empty shard, contributing no mean", world.Rank)
		report.LocalMean = math.NaN()
		return collcomm.Contribution{Value: math.NaN()}, nil
	}
	log.Debug.Printf("rank %d: mean of %d elements in %d chunks took %s", world.Rank, count,
		partition.NumChunks(count, cfg.Chunks), time.Since(start))
	report.LocalMean = mean

	if cfg.Compare {
		report.Comparison = reduce.Compare(shard, cfg.Chunks)
	}
	return collcomm.Contribution{Value: mean, Count: count}, nil
}
