// Package dataset generates the shard of random values
// that a single rank reduces.
package dataset

import (
	"math/rand"
	"sync"

	"github.com/unixpickle/dist-mean/fault"
)

// A Filler is a source of floating-point values.
//
// Fill overwrites every element of buf with an
// independent draw.
type Filler interface {
	Fill(buf []float64)
}

// Generate creates a shard of count values drawn from f.
//
// A zero count yields an empty shard.
func Generate(count int, f Filler) ([]float64, error) {
	if count < 0 {
		return nil, fault.Errorf(fault.Invalid, "dataset.Generate", "negative shard length %d", count)
	}
	shard := make([]float64, count)
	if count > 0 {
		f.Fill(shard)
	}
	return shard, nil
}

// A Uniform Filler draws values uniformly from [0, 1).
//
// It is safe to use a Uniform from multiple Goroutines.
type Uniform struct {
	lock sync.Mutex
	gen  *rand.Rand
}

// NewUniform creates a Uniform that is seeded with seed.
func NewUniform(seed int64) *Uniform {
	return &Uniform{gen: rand.New(rand.NewSource(seed))}
}

// Fill fills buf with uniform samples.
func (u *Uniform) Fill(buf []float64) {
	u.lock.Lock()
	defer u.lock.Unlock()
	for i := range buf {
		buf[i] = u.gen.Float64()
	}
}

// GlobalUniform is a Filler which draws uniform samples
// from the math/rand global source.
type GlobalUniform struct{}

// Fill fills buf with uniform samples.
func (g GlobalUniform) Fill(buf []float64) {
	for i := range buf {
		buf[i] = rand.Float64()
	}
}

// A Constant Filler writes the same value everywhere.
type Constant float64

// Fill sets every element of buf to c.
func (c Constant) Fill(buf []float64) {
	for i := range buf {
		buf[i] = float64(c)
	}
}
