package partition

import (
	"fmt"
	"testing"

	fuzz "github.com/google/gofuzz"
)

func TestChunksClamp(t *testing.T) {
	chunks := Chunks(50, 100)
	if len(chunks) != 50 {
		t.Fatalf("expected 50 chunks but got %d", len(chunks))
	}
	verifyCoverage(t, 50, chunks)

	if n := len(Chunks(1000, 100)); n != 100 {
		t.Errorf("expected 100 chunks but got %d", n)
	}
	if n := len(Chunks(0, 100)); n != 0 {
		t.Errorf("expected no chunks for an empty shard but got %d", n)
	}
	if n := NumChunks(1000, 0); n != DefaultChunks {
		t.Errorf("expected default chunk count but got %d", n)
	}
}

func TestChunksCoverage(t *testing.T) {
	for _, length := range []int{1, 2, 99, 100, 101, 150, 1337} {
		for _, k := range []int{1, 3, 100, 2000} {
			t.Run(fmt.Sprintf("Len=%d,K=%d", length, k), func(t *testing.T) {
				verifyCoverage(t, length, Chunks(length, k))
			})
		}
	}

	fz := fuzz.New().NilChance(0)
	for i := 0; i < 500; i++ {
		var length, k uint16
		fz.Fuzz(&length)
		fz.Fuzz(&k)
		length = length%5000 + 1
		verifyCoverage(t, int(length), Chunks(int(length), int(k)))
	}
}

func verifyCoverage(t *testing.T, length int, chunks []Chunk) {
	if len(chunks) < 1 {
		t.Fatalf("length %d: no chunks", length)
	}
	var next int
	minLen, maxLen := length, 0
	for i, c := range chunks {
		if c.Start != next {
			t.Fatalf("length %d: chunk %d starts at %d but expected %d", length, i, c.Start, next)
		}
		if c.Len() < 1 {
			t.Fatalf("length %d: chunk %d is empty", length, i)
		}
		if c.Len() < minLen {
			minLen = c.Len()
		}
		if c.Len() > maxLen {
			maxLen = c.Len()
		}
		next = c.End
	}
	if next != length {
		t.Fatalf("length %d: chunks end at %d", length, next)
	}
	if maxLen-minLen > 1 {
		t.Errorf("length %d: unbalanced chunks (%d to %d)", length, minLen, maxLen)
	}
}
