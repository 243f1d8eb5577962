// Command bench_mean prints markdown tables comparing the
// parallel reduction to the sequential baseline, and the
// virtual time of a simulated gather on several networks.
package main

import (
	"flag"
	"fmt"
	"runtime"
	"strconv"

	"github.com/unixpickle/dist-mean/cluster"
	"github.com/unixpickle/dist-mean/dataset"
	"github.com/unixpickle/dist-mean/partition"
	"github.com/unixpickle/dist-mean/reduce"
	"github.com/unixpickle/dist-mean/simulator"
	"github.com/unixpickle/dist-mean/worker"
	"github.com/unixpickle/essentials"
)

// NetworkInfo describes a simulated network configuration.
type NetworkInfo struct {
	NumNodes int
	Latency  float64
	Rate     float64
}

// Network creates the simulated network.
// A zero Rate means a RandomNetwork.
func (n *NetworkInfo) Network() simulator.Network {
	if n.Rate == 0 {
		return simulator.RandomNetwork{}
	}
	return simulator.NewFanInNetwork(n.Rate, n.Latency)
}

func main() {
	var chunks int
	var seed int64
	flag.IntVar(&chunks, "chunks", partition.DefaultChunks, "number of chunks per shard")
	flag.Int64Var(&seed, "seed", 1337, "random seed")
	flag.Parse()

	benchReduce(chunks, seed)
	fmt.Println()
	benchGather(chunks, seed)
}

func benchReduce(chunks int, seed int64) {
	sizes := []int{10000, 1000000, 10000000}

	fmt.Printf("Reduction on %d CPUs\n\n", runtime.GOMAXPROCS(0))
	fmt.Println("| Size | Sequential | Parallel | Speedup | Rel. error |")
	fmt.Println("|:--|:--|:--|:--|:--|")
	for _, size := range sizes {
		shard, err := dataset.Generate(size, dataset.NewUniform(seed))
		if err != nil {
			essentials.Die(err)
		}
		cmp := reduce.Compare(shard, chunks)
		fmt.Printf("| %d | %s | %s | %.2f | %e |\n", size, cmp.Baseline.Elapsed, cmp.Parallel.Elapsed,
			cmp.Speedup(), cmp.RelativeError())
	}
}

func benchGather(chunks int, seed int64) {
	networks := []NetworkInfo{
		{NumNodes: 2},
		{NumNodes: 16},
		{NumNodes: 2, Latency: 0.1, Rate: 1e6},
		{NumNodes: 16, Latency: 1e-3, Rate: 1e6},
		{NumNodes: 32, Latency: 0.1, Rate: 1e3},
		{NumNodes: 32, Latency: 1e-4, Rate: 1e9},
	}

	fmt.Println("| Nodes | Latency | NIC rate | Virtual time | Global mean |")
	fmt.Println("|:--|:--|:--|:--|:--|")
	for _, info := range networks {
		sim := &cluster.Simulation{Size: info.NumNodes, Network: info.Network()}
		cfg := worker.Config{N: 100000, Chunks: chunks}
		reports, elapsed, err := sim.Run(cfg, cluster.UniformFillers(seed))
		if err != nil {
			essentials.Die(err)
		}
		rate := "random"
		if info.Rate != 0 {
			rate = strconv.FormatFloat(info.Rate, 'E', -1, 64)
		}
		fmt.Printf("| %d | %s | %s | %f | %f |\n", info.NumNodes,
			strconv.FormatFloat(info.Latency, 'f', -1, 64), rate, elapsed, reports[0].Global.Value)
	}
}
