package collcomm

import (
	"context"

	"github.com/unixpickle/dist-mean/fault"
	"github.com/unixpickle/dist-mean/simulator"
)

// Comms is a Transport for one node of a simulated world.
//
// Every node has its own Comms, created by SpawnComms, and
// runs in its own Goroutine on the event loop.
// A new set of Comms should be used for each collective.
type Comms struct {
	// Handle is the node's Goroutine's handle on the
	// event loop.
	Handle *simulator.Handle

	// Port is the current node's port.
	Port *simulator.Port

	// Ports contains ports to all the nodes in the
	// network, indexed by rank.
	Ports []*simulator.Port

	// Network is the network connecting the nodes.
	Network simulator.Network

	// Timeout bounds every RecvAny in virtual time.
	// If 0, RecvAny waits forever.
	Timeout float64
}

// SpawnComms creates Comms objects for every node in a
// network and calls f for each node in its own Goroutine.
func SpawnComms(loop *simulator.EventLoop, network simulator.Network, nodes []*simulator.Node,
	f func(c *Comms)) {
	ports := make([]*simulator.Port, len(nodes))
	for i, node := range nodes {
		ports[i] = node.Port(loop)
	}
	for i := range nodes {
		port := ports[i]
		loop.Go(func(h *simulator.Handle) {
			f(&Comms{
				Handle:  h,
				Port:    port,
				Ports:   ports,
				Network: network,
			})
		})
	}
}

// Rank returns the current node's index in the list of
// nodes.
func (c *Comms) Rank() int {
	return c.IndexOf(c.Port)
}

// Size gets the number of nodes.
func (c *Comms) Size() int {
	return len(c.Ports)
}

// IndexOf returns any node's index, or -1 for a port that
// is not part of the world.
func (c *Comms) IndexOf(p *simulator.Port) int {
	for i, port := range c.Ports {
		if port == p {
			return i
		}
	}
	return -1
}

// Send schedules a Contribution for delivery to dst.
func (c *Comms) Send(ctx context.Context, dst int, contrib Contribution) error {
	if dst < 0 || dst >= len(c.Ports) {
		return fault.Errorf(fault.Protocol, "collcomm.Comms.Send", "no rank %d in world of size %d",
			dst, len(c.Ports))
	}
	c.Network.Send(c.Handle, &simulator.Message{
		Source:  c.Port,
		Dest:    c.Ports[dst],
		Message: contrib,
		Size:    ContributionSize,
	})
	return nil
}

// RecvAny receives the next Contribution.
//
// The ctx is only checked before waiting, since the wait
// happens in virtual time; use Timeout to bound it.
func (c *Comms) RecvAny(ctx context.Context) (Contribution, int, error) {
	if err := ctx.Err(); err != nil {
		return Contribution{}, -1, fault.E(fault.CollectiveIncomplete, "collcomm.Comms.RecvAny", err)
	}

	var msg *simulator.Message
	if c.Timeout == 0 {
		msg = c.Port.Recv(c.Handle)
	} else {
		timerStream := c.Handle.Stream()
		timer := c.Handle.Schedule(timerStream, nil, c.Timeout)
		event := c.Handle.Poll(timerStream, c.Port.Incoming)
		if event.Stream == timerStream {
			return Contribution{}, -1, fault.Errorf(fault.CollectiveIncomplete,
				"collcomm.Comms.RecvAny", "no message within %f time units", c.Timeout)
		}
		c.Handle.Cancel(timer)
		msg = event.Message.(*simulator.Message)
	}

	contrib, ok := msg.Message.(Contribution)
	if !ok {
		return Contribution{}, -1, fault.Errorf(fault.Protocol, "collcomm.Comms.RecvAny",
			"unexpected payload %T", msg.Message)
	}
	return contrib, c.IndexOf(msg.Source), nil
}

// Close does nothing, since simulated ports hold no
// resources.
func (c *Comms) Close() error {
	return nil
}
