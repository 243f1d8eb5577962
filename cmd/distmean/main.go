// Command distmean computes the mean of a random dataset
// which is split across a world of processes.
//
// Each process is one rank. The rank and world size come
// from flags or from the environment set by the job
// launcher (DISTMEAN_*, Open MPI or PMI variables).
// Rank 0 listens on -coordinator and prints the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/grailbio/base/log"
	"github.com/unixpickle/dist-mean/cluster"
	"github.com/unixpickle/dist-mean/collcomm"
	"github.com/unixpickle/dist-mean/collcomm/gather"
	"github.com/unixpickle/dist-mean/fault"
	"github.com/unixpickle/dist-mean/partition"
	"github.com/unixpickle/dist-mean/worker"
	"github.com/unixpickle/essentials"
)

var rankEnv = []string{"DISTMEAN_RANK", "OMPI_COMM_WORLD_RANK", "PMI_RANK"}
var sizeEnv = []string{"DISTMEAN_SIZE", "OMPI_COMM_WORLD_SIZE", "PMI_SIZE"}

func main() {
	var (
		n           int
		chunks      int
		rank        int
		size        int
		coordinator string
		combine     string
		timeout     time.Duration
		dialTimeout time.Duration
		local       int
		seed        int64
		compare     bool
	)
	flag.IntVar(&n, "n", worker.DefaultElements, "number of elements in the global dataset")
	flag.IntVar(&chunks, "chunks", partition.DefaultChunks, "number of chunks per shard")
	flag.IntVar(&rank, "rank", -1, "rank of this process (default: from the environment)")
	flag.IntVar(&size, "size", -1, "number of processes (default: from the environment)")
	flag.StringVar(&coordinator, "coordinator", "127.0.0.1:7070", "address rank 0 listens on")
	flag.StringVar(&combine, "combine", "mean-of-means", "how to fold local means: mean-of-means or weighted")
	flag.DurationVar(&timeout, "timeout", 0, "bound on the collective (0 waits forever)")
	flag.DurationVar(&dialTimeout, "dial-timeout", 30*time.Second, "bound on joining the world")
	flag.IntVar(&local, "local", 0, "run this many ranks inside this process instead")
	flag.Int64Var(&seed, "seed", 0, "random seed (default: time-based)")
	flag.BoolVar(&compare, "compare", false, "also time the sequential baseline on each shard")
	log.AddFlags()
	flag.Parse()

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	combiner, err := gather.CombinerByName(combine)
	if err != nil {
		fail(err)
	}
	cfg := worker.Config{
		N:        n,
		Chunks:   chunks,
		Combiner: combiner,
		Timeout:  timeout,
		Compare:  compare,
	}
	ctx := context.Background()

	if local > 0 {
		reports, err := cluster.RunLocal(ctx, local, cfg, cluster.UniformFillers(seed))
		if err != nil {
			fail(err)
		}
		printReport(reports[collcomm.Coordinator])
		return
	}

	rank, err = worldParam(rank, rankEnv)
	if err != nil {
		fail(err)
	}
	size, err = worldParam(size, sizeEnv)
	if err != nil {
		fail(err)
	}

	t, err := collcomm.Bootstrap(ctx, collcomm.TCPConfig{
		Rank:        rank,
		Size:        size,
		Addr:        coordinator,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		fail(err)
	}
	defer t.Close()

	report, err := worker.Run(ctx, t, t.Run(), cfg, cluster.UniformFillers(seed)(rank))
	if err != nil {
		t.Close()
		fail(err)
	}
	if report.Global != nil {
		printReport(report)
	}
}

// worldParam returns the flag value, or else the first
// set environment variable.
func worldParam(flagValue int, env []string) (int, error) {
	if flagValue >= 0 {
		return flagValue, nil
	}
	for _, name := range env {
		value, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		res, err := strconv.Atoi(value)
		if err != nil {
			return 0, fault.E(fault.Initialization, "distmean", err, "parse $"+name)
		}
		return res, nil
	}
	return 0, fault.Errorf(fault.Initialization, "distmean", "none of %v is set and no flag was given", env)
}

func printReport(r *worker.Report) {
	fmt.Printf("Global average of %v over %d elements\n", r.Global.Value, r.Global.Elements())
	fmt.Printf("Computed on %d processes\n", r.World.Size)
	if c := r.Comparison; c != nil {
		fmt.Printf("Coordinator shard: parallel %v in %s, sequential %v in %s (%.2fx)\n",
			c.Parallel.Mean, c.Parallel.Elapsed, c.Baseline.Mean, c.Baseline.Elapsed, c.Speedup())
	}
}

func fail(err error) {
	switch {
	case fault.Is(fault.Initialization, err):
		essentials.Die(essentials.AddCtx("startup", err))
	case fault.Is(fault.Invalid, err):
		essentials.Die(essentials.AddCtx("configuration", err))
	default:
		essentials.Die(err)
	}
}
