// Package partition splits a dataset across ranks and a
// shard across parallel chunks.
package partition

import "github.com/unixpickle/dist-mean/fault"

// Coordinator is the rank that absorbs the remainder of
// an uneven split.
const Coordinator = 0

// LocalCount computes how many of the n elements are owned
// by the given rank.
//
// Every rank gets n/size elements, and the coordinator
// additionally gets the n%size leftover elements.
func LocalCount(n, size, rank int) (int, error) {
	if n < 0 {
		return 0, fault.Errorf(fault.Invalid, "partition.LocalCount", "negative element count %d", n)
	} else if size < 1 {
		return 0, fault.Errorf(fault.Invalid, "partition.LocalCount", "world size %d", size)
	} else if rank < 0 || rank >= size {
		return 0, fault.Errorf(fault.Invalid, "partition.LocalCount",
			"rank %d outside world of size %d", rank, size)
	}
	count := n / size
	if rank == Coordinator {
		count += n % size
	}
	return count, nil
}

// Counts computes LocalCount for every rank.
func Counts(n, size int) ([]int, error) {
	if size < 1 {
		return nil, fault.Errorf(fault.Invalid, "partition.Counts", "world size %d", size)
	}
	res := make([]int, size)
	for rank := range res {
		count, err := LocalCount(n, size, rank)
		if err != nil {
			return nil, err
		}
		res[rank] = count
	}
	return res, nil
}
