package gather

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/dist-mean/collcomm"
	"github.com/unixpickle/dist-mean/simulator"
)

// RunGathererTests runs a battery of tests on a Gatherer
// and the Combiner it is expected to apply.
func RunGathererTests(t *testing.T, g Gatherer, combiner Combiner) {
	for _, numNodes := range []int{1, 2, 5, 15, 16, 17} {
		for _, emptyEvery := range []int{0, 3} {
			for _, fanIn := range []bool{false, true} {
				testName := fmt.Sprintf("Nodes=%d,EmptyEvery=%d,FanIn=%v", numNodes, emptyEvery, fanIn)
				t.Run(testName, func(t *testing.T) {
					contribs := make([]collcomm.Contribution, numNodes)
					for i := range contribs {
						contribs[i] = collcomm.Contribution{
							Run:   "test-run",
							Value: rand.Float64(),
							Count: rand.Intn(1000) + 1,
						}
						if emptyEvery != 0 && i%emptyEvery == emptyEvery-1 {
							contribs[i] = collcomm.Contribution{Run: "test-run", Value: math.NaN()}
						}
					}
					expected, err := combiner.Combine(contribs)
					if err != nil {
						t.Fatal(err)
					}

					var network simulator.Network = simulator.RandomNetwork{}
					if fanIn {
						network = simulator.NewFanInNetwork(1e3, 0.1)
					}
					result, err := RunSimulated(g, network, contribs)
					if err != nil {
						t.Fatal(err)
					}
					if result.Value != expected {
						t.Errorf("expected %f but got %f", expected, result.Value)
					}
					for i, c := range result.Contributions {
						if c.Count != contribs[i].Count {
							t.Errorf("rank %d: expected count %d but got %d", i, contribs[i].Count, c.Count)
						}
					}
				})
			}
		}
	}
}

// RunSimulated runs a Gatherer on a simulated world with
// one node per contribution, and returns the coordinator's
// result.
func RunSimulated(g Gatherer, network simulator.Network,
	contribs []collcomm.Contribution) (*Result, error) {
	loop := simulator.NewEventLoop()
	nodes := make([]*simulator.Node, len(contribs))
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}
	var result *Result
	errs := make([]error, len(contribs))
	collcomm.SpawnComms(loop, network, nodes, func(c *collcomm.Comms) {
		res, err := g.Gather(context.Background(), c, contribs[c.Rank()])
		if c.Rank() == collcomm.Coordinator {
			result = res
		}
		errs[c.Rank()] = err
	})
	if err := loop.Run(); err != nil {
		return nil, err
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}
