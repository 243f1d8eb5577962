package dataset

import (
	"math"
	"testing"

	"github.com/unixpickle/dist-mean/fault"
)

func TestGenerateUniform(t *testing.T) {
	shard, err := Generate(10000, NewUniform(1337))
	if err != nil {
		t.Fatal(err)
	}
	if len(shard) != 10000 {
		t.Fatalf("expected 10000 values but got %d", len(shard))
	}
	var sum float64
	for i, x := range shard {
		if x < 0 || x >= 1 {
			t.Fatalf("value %d out of range: %f", i, x)
		}
		sum += x
	}
	if mean := sum / float64(len(shard)); math.Abs(mean-0.5) > 0.02 {
		t.Errorf("mean should be near 0.5 but got %f", mean)
	}
}

func TestGenerateDeterministicSeed(t *testing.T) {
	a, _ := Generate(100, NewUniform(42))
	b, _ := Generate(100, NewUniform(42))
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("value %d differs for equal seeds", i)
		}
	}
}

func TestGenerateEmpty(t *testing.T) {
	shard, err := Generate(0, GlobalUniform{})
	if err != nil {
		t.Fatal(err)
	}
	if len(shard) != 0 {
		t.Errorf("expected empty shard but got %d values", len(shard))
	}
}

func TestGenerateNegative(t *testing.T) {
	if _, err := Generate(-1, Constant(5)); !fault.Is(fault.Invalid, err) {
		t.Errorf("expected invalid configuration but got %v", err)
	}
}

func TestConstant(t *testing.T) {
	shard, _ := Generate(100, Constant(5))
	for i, x := range shard {
		if x != 5 {
			t.Fatalf("value %d should be 5 but is %f", i, x)
		}
	}
}
