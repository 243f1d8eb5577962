// Package collcomm provides point-to-point messaging between
// the ranks of a fixed-size world.
//
// A Transport is the only thing a collective operation
// needs: the local rank, the world size, and the ability
// to send a Contribution to a rank and to receive the next
// Contribution from any rank.
package collcomm

import (
	"context"

	"github.com/unixpickle/dist-mean/fault"
)

// Coordinator is the rank which receives every
// Contribution in a gather.
const Coordinator = 0

// A WorldView is a process's fixed place in the world.
type WorldView struct {
	Rank int
	Size int
}

// NewWorldView validates and creates a WorldView.
func NewWorldView(rank, size int) (WorldView, error) {
	if size < 1 {
		return WorldView{}, fault.Errorf(fault.Invalid, "collcomm.NewWorldView", "world size %d", size)
	} else if rank < 0 || rank >= size {
		return WorldView{}, fault.Errorf(fault.Invalid, "collcomm.NewWorldView",
			"rank %d outside world of size %d", rank, size)
	}
	return WorldView{Rank: rank, Size: size}, nil
}

// IsCoordinator checks if this is the coordinator rank.
func (w WorldView) IsCoordinator() bool {
	return w.Rank == Coordinator
}

// A Contribution is the scalar a rank sends during a
// collective.
type Contribution struct {
	// Run identifies the collective operation.
	Run string

	// Value is the rank's local result.
	Value float64

	// Count is the number of elements that Value
	// summarizes.
	Count int
}

// ContributionSize is the nominal wire size of a
// Contribution in bytes, used by simulated networks.
const ContributionSize = 8 + 8 + 16

// A Transport connects one rank to the rest of the world.
//
// Implementations need not support concurrent calls to
// RecvAny.
type Transport interface {
	Rank() int
	Size() int

	// Send delivers c to the rank dst.
	Send(ctx context.Context, dst int, c Contribution) error

	// RecvAny blocks until a Contribution arrives from
	// any rank, and returns it along with its source.
	//
	// If ctx is done first, it fails with a
	// fault.CollectiveIncomplete error.
	RecvAny(ctx context.Context) (c Contribution, source int, err error)

	Close() error
}

// View gets the WorldView of a Transport, checking that
// its rank and size are consistent.
func View(t Transport) (WorldView, error) {
	return NewWorldView(t.Rank(), t.Size())
}
