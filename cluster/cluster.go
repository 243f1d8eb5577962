// Package cluster runs every rank of a world inside one
// process, either over loopback TCP or on the simulator.
//
// It stands in for an external job launcher in tests,
// benchmarks, and the -local mode of distmean.
package cluster

import (
	"context"
	"net"

	"github.com/google/uuid"
	"github.com/grailbio/base/log"
	"github.com/unixpickle/dist-mean/collcomm"
	"github.com/unixpickle/dist-mean/dataset"
	"github.com/unixpickle/dist-mean/fault"
	"github.com/unixpickle/dist-mean/simulator"
	"github.com/unixpickle/dist-mean/worker"
	"golang.org/x/sync/errgroup"
)

// A FillerFunc creates the random source for a rank.
type FillerFunc func(rank int) dataset.Filler

// UniformFillers seeds every rank's Uniform filler with a
// different offset from seed.
func UniformFillers(seed int64) FillerFunc {
	return func(rank int) dataset.Filler {
		return dataset.NewUniform(seed + int64(rank))
	}
}

// RunLocal starts size ranks, connects them over loopback
// TCP, and runs the worker pipeline on each.
//
// The returned reports are indexed by rank.
func RunLocal(ctx context.Context, size int, cfg worker.Config, fillers FillerFunc) ([]*worker.Report, error) {
	if _, err := collcomm.NewWorldView(0, size); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fault.E(fault.Initialization, "cluster.RunLocal", err)
	}
	defer ln.Close()
	addr := ln.Addr().String()
	log.Debug.Printf("cluster: coordinator listening on %s for %d ranks", addr, size)

	reports := make([]*worker.Report, size)
	g, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		rank := rank
		g.Go(func() error {
			tcpConfig := collcomm.TCPConfig{Rank: rank, Size: size, Addr: addr}
			var t *collcomm.TCPTransport
			var err error
			if rank == collcomm.Coordinator {
				t, err = collcomm.Serve(ctx, ln, tcpConfig)
			} else {
				t, err = collcomm.Dial(ctx, tcpConfig)
			}
			if err != nil {
				return err
			}
			defer t.Close()
			reports[rank], err = worker.Run(ctx, t, t.Run(), cfg, fillers(rank))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// A Simulation runs a world on a simulated network.
type Simulation struct {
	Size int

	// Network connects the ranks.
	// If nil, a simulator.RandomNetwork is used.
	Network simulator.Network

	// Timeout bounds each receive in virtual time.
	// If 0, receives wait forever.
	Timeout float64
}

// Run runs the worker pipeline on every simulated rank.
//
// It returns the reports, indexed by rank, and the
// virtual time spent in communication.
func (s *Simulation) Run(cfg worker.Config, fillers FillerFunc) ([]*worker.Report, float64, error) {
	if _, err := collcomm.NewWorldView(0, s.Size); err != nil {
		return nil, 0, err
	}
	network := s.Network
	if network == nil {
		network = simulator.RandomNetwork{}
	}
	loop := simulator.NewEventLoop()
	nodes := make([]*simulator.Node, s.Size)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}

	run := uuid.NewString()
	reports := make([]*worker.Report, s.Size)
	errs := make([]error, s.Size)
	collcomm.SpawnComms(loop, network, nodes, func(c *collcomm.Comms) {
		c.Timeout = s.Timeout
		rank := c.Rank()
		reports[rank], errs[rank] = worker.Run(context.Background(), c, run, cfg, fillers(rank))
	})
	if err := loop.Run(); err != nil {
		return nil, 0, fault.E(fault.CollectiveIncomplete, "cluster.Simulation", err)
	}
	for _, err := range errs {
		if err != nil {
			return nil, 0, err
		}
	}
	return reports, loop.Time(), nil
}
