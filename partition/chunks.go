package partition

// DefaultChunks is the number of chunks a shard is split
// into when nothing else is requested. It does not depend
// on the number of cores.
const DefaultChunks = 100

// A Chunk is the half-open index range [Start, End) of a
// shard.
type Chunk struct {
	Start int
	End   int
}

// Len gets the number of elements in the chunk.
func (c Chunk) Len() int {
	return c.End - c.Start
}

// NumChunks clamps a requested chunk count so that every
// chunk of a shard of the given length has at least one
// element.
//
// An empty shard has no chunks.
// A non-positive request is treated as DefaultChunks.
func NumChunks(length, requested int) int {
	if length <= 0 {
		return 0
	}
	if requested <= 0 {
		requested = DefaultChunks
	}
	if requested > length {
		return length
	}
	return requested
}

// Chunks splits a shard of the given length into
// contiguous, non-overlapping chunks which exactly cover
// the shard.
//
// Chunk lengths differ by at most one, with the longer
// chunks first.
func Chunks(length, requested int) []Chunk {
	num := NumChunks(length, requested)
	res := make([]Chunk, num)
	if num == 0 {
		return res
	}
	base, extra := length/num, length%num
	var start int
	for i := range res {
		size := base
		if i < extra {
			size++
		}
		res[i] = Chunk{Start: start, End: start + size}
		start += size
	}
	return res
}
