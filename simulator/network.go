package simulator

import (
	"math/rand"
	"sync"
)

// A Node is a machine on a virtual network.
type Node struct {
	unused int
}

// NewNode creates a new, unique Node.
func NewNode() *Node {
	return &Node{}
}

// Port creates a new Port on the Node.
func (n *Node) Port(loop *EventLoop) *Port {
	return &Port{Node: n, Incoming: loop.Stream()}
}

// A Port is an endpoint on a Node which messages are sent
// from and received on.
type Port struct {
	Node *Node

	// Incoming carries *Message values.
	Incoming *EventStream
}

// Recv blocks until the next message arrives.
func (p *Port) Recv(h *Handle) *Message {
	return h.Poll(p.Incoming).Message.(*Message)
}

// A Message is a payload in flight between two Ports.
type Message struct {
	Source  *Port
	Dest    *Port
	Message interface{}

	// Size is the payload size in bytes.
	Size float64
}

// A Network decides when sent messages arrive.
type Network interface {
	// Send schedules the delivery of each message on its
	// destination Port.
	//
	// Send never blocks.
	Send(h *Handle, msgs ...*Message)
}

// A RandomNetwork delays every message by an independent
// uniform amount in [0, 1).
type RandomNetwork struct{}

// Send sends the messages with random delays.
func (r RandomNetwork) Send(h *Handle, msgs ...*Message) {
	for _, msg := range msgs {
		h.Schedule(msg.Dest.Incoming, msg, rand.Float64())
	}
}

// A FanInNetwork models receivers with a fixed download
// rate: messages to the same Node are received one after
// another, so many senders targeting one Node queue up on
// it.
type FanInNetwork struct {
	// Rate is the per-Node receive rate in bytes per unit
	// of virtual time.
	Rate float64

	// MaxRandomLatency bounds a uniform random latency
	// added to every message.
	MaxRandomLatency float64

	lock      sync.Mutex
	nextTimes map[*Node]float64
}

// NewFanInNetwork creates a FanInNetwork.
func NewFanInNetwork(rate, maxRandomLatency float64) *FanInNetwork {
	return &FanInNetwork{
		Rate:             rate,
		MaxRandomLatency: maxRandomLatency,
		nextTimes:        map[*Node]float64{},
	}
}

// Send queues each message behind the messages already
// headed to the same Node.
func (f *FanInNetwork) Send(h *Handle, msgs ...*Message) {
	f.lock.Lock()
	defer f.lock.Unlock()

	curTime := h.Time()
	for _, msg := range msgs {
		dest := msg.Dest.Node
		delay := rand.Float64()*f.MaxRandomLatency + msg.Size/f.Rate
		if t, ok := f.nextTimes[dest]; ok && t > curTime {
			delay += t - curTime
		}
		h.Schedule(msg.Dest.Incoming, msg, delay)
		f.nextTimes[dest] = curTime + delay
	}
}
