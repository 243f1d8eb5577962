// Package simulator runs a set of virtual machines in a
// single process, passing messages between them in
// virtual time.
//
// It is used to run an entire collective in tests and
// benchmarks with an arrival order that is randomized on
// every run.
package simulator

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/unixpickle/essentials"
)

// ErrDeadlock is returned by EventLoop.Run when every
// Goroutine is waiting and nothing is scheduled.
var ErrDeadlock = errors.New("deadlock: all Handles are polling")

// An EventStream is a one-way queue of events delivered
// through an EventLoop.
//
// A stream belongs to exactly one EventLoop.
type EventStream struct {
	loop     *EventLoop
	buffered []interface{}
}

// An Event is a message received on an EventStream.
type Event struct {
	Message interface{}
	Stream  *EventStream
}

// A Timer is a single delivery that will happen at a
// fixed point in virtual time.
type Timer struct {
	deadline float64
	event    Event

	// tie orders timers with equal deadlines.
	tie int64

	// index in the queue, or -1 once fired or canceled.
	index int
}

// Time gets the virtual time at which the timer fires.
func (t *Timer) Time() float64 {
	return t.deadline
}

type timerQueue []*Timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].deadline != q[j].deadline {
		return q[i].deadline < q[j].deadline
	}
	return q[i].tie < q[j].tie
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x interface{}) {
	t := x.(*Timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() interface{} {
	old := *q
	t := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	t.index = -1
	return t
}

// A Handle is one Goroutine's view of an EventLoop.
// Handles must not be shared between Goroutines.
type Handle struct {
	*EventLoop

	// Non-nil only while blocked in Poll.
	awaiting []*EventStream
	wake     chan *Event
}

// Poll blocks until one of the streams has an event.
//
// Buffered events are returned immediately, checking the
// streams in the order they are passed.
func (h *Handle) Poll(streams ...*EventStream) *Event {
	e := h.EventLoop
	e.mu.Lock()
	if h.awaiting != nil {
		e.mu.Unlock()
		panic("Handle is shared between Goroutines")
	}
	for _, stream := range streams {
		if len(stream.buffered) > 0 {
			msg := stream.buffered[0]
			essentials.OrderedDelete(&stream.buffered, 0)
			e.mu.Unlock()
			return &Event{Message: msg, Stream: stream}
		}
	}
	wake := make(chan *Event, 1)
	h.awaiting = streams
	h.wake = wake
	e.busy--
	e.mu.Unlock()
	e.notify()
	return <-wake
}

// Schedule delivers msg on stream after delay units of
// virtual time.
func (h *Handle) Schedule(stream *EventStream, msg interface{}, delay float64) *Timer {
	if stream.loop != h.EventLoop {
		panic("EventStream is not associated with the correct EventLoop")
	}
	e := h.EventLoop
	e.mu.Lock()
	defer e.mu.Unlock()
	deadline := e.now + delay
	if math.IsInf(deadline, 0) || math.IsNaN(deadline) {
		panic(fmt.Sprintf("invalid deadline: %f", deadline))
	}
	t := &Timer{
		deadline: deadline,
		event:    Event{Message: msg, Stream: stream},
		tie:      rand.Int63(),
	}
	heap.Push(&e.queue, t)
	return t
}

// Cancel unschedules a timer.
// It has no effect if the timer already fired.
func (h *Handle) Cancel(t *Timer) {
	e := h.EventLoop
	e.mu.Lock()
	defer e.mu.Unlock()
	if t.index >= 0 && t.index < len(e.queue) && e.queue[t.index] == t {
		heap.Remove(&e.queue, t.index)
	}
}

// Sleep lets delay units of virtual time pass.
func (h *Handle) Sleep(delay float64) {
	stream := h.Stream()
	h.Schedule(stream, nil, delay)
	h.Poll(stream)
}

// An EventLoop schedules events for a set of Goroutines.
//
// Virtual time only advances when every Goroutine started
// with Go() is blocked in Poll, so real computation takes
// no virtual time.
type EventLoop struct {
	mu      sync.Mutex
	queue   timerQueue
	handles []*Handle

	// busy counts the handles that are not blocked in Poll.
	busy int
	now  float64

	running bool
	wakeup  chan struct{}
}

// NewEventLoop creates an event loop at virtual time 0.
func NewEventLoop() *EventLoop {
	return &EventLoop{wakeup: make(chan struct{}, 1)}
}

// Stream creates a new EventStream on the loop.
func (e *EventLoop) Stream() *EventStream {
	return &EventStream{loop: e}
}

// Go starts f in a new Goroutine with its own Handle.
func (e *EventLoop) Go(f func(h *Handle)) {
	h := &Handle{EventLoop: e}
	e.mu.Lock()
	e.handles = append(e.handles, h)
	e.busy++
	e.mu.Unlock()
	go func() {
		defer e.release(h)
		f(h)
	}()
}

// Run drives the loop until every Goroutine started with
// Go() has returned.
//
// It returns ErrDeadlock if the Goroutines are all blocked
// with no pending timers.
func (e *EventLoop) Run() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		panic("EventLoop is already running.")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	for {
		if done, err := e.advance(); done {
			return err
		}
		<-e.wakeup
	}
}

// MustRun is like Run, but it panics on deadlock.
func (e *EventLoop) MustRun() {
	if err := e.Run(); err != nil {
		panic(err)
	}
}

// Time gets the current virtual time.
func (e *EventLoop) Time() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *EventLoop) notify() {
	select {
	case e.wakeup <- struct{}{}:
	default:
	}
}

func (e *EventLoop) release(h *Handle) {
	e.mu.Lock()
	idx := -1
	for i, handle := range e.handles {
		if handle == h {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		panic("cannot free handle that does not exist")
	}
	essentials.UnorderedDelete(&e.handles, idx)
	e.busy--
	e.mu.Unlock()
	e.notify()
}

// advance fires timers until a Goroutine wakes up.
//
// It reports done once every Goroutine has exited, or on
// deadlock, in which case err is ErrDeadlock.
func (e *EventLoop) advance() (done bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.handles) == 0 {
		return true, nil
	}
	if e.busy > 0 {
		return false, nil
	}
	for e.queue.Len() > 0 {
		t := heap.Pop(&e.queue).(*Timer)
		e.now = math.Max(e.now, t.deadline)
		if e.deliver(&t.event) {
			return false, nil
		}
	}
	return true, ErrDeadlock
}

// deliver wakes a random Handle polling the event's
// stream, or buffers the event if nobody is.
func (e *EventLoop) deliver(event *Event) bool {
	var receivers []*Handle
	for _, h := range e.handles {
		for _, stream := range h.awaiting {
			if stream == event.Stream {
				receivers = append(receivers, h)
				break
			}
		}
	}
	if len(receivers) == 0 {
		event.Stream.buffered = append(event.Stream.buffered, event.Message)
		return false
	}
	h := receivers[rand.Intn(len(receivers))]
	h.awaiting = nil
	e.busy++
	h.wake <- event
	h.wake = nil
	return true
}
