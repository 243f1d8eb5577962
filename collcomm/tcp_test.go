package collcomm

import (
	"context"
	"net"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/unixpickle/dist-mean/fault"
	"golang.org/x/sync/errgroup"
)

func listenLoopback(t *testing.T) net.Listener {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return ln
}

func TestTCPGatherAll(t *testing.T) {
	const size = 4
	ln := listenLoopback(t)
	defer ln.Close()
	addr := ln.Addr().String()

	ctx := context.Background()
	var g errgroup.Group
	for rank := 1; rank < size; rank++ {
		rank := rank
		g.Go(func() error {
			tr, err := Dial(ctx, TCPConfig{Rank: rank, Size: size, Addr: addr, DialTimeout: 5 * time.Second})
			if err != nil {
				return err
			}
			defer tr.Close()
			return tr.Send(ctx, Coordinator, Contribution{Run: tr.Run(), Value: float64(rank), Count: rank})
		})
	}

	coord, err := Serve(ctx, ln, TCPConfig{Size: size, DialTimeout: 5 * time.Second, Run: "run"})
	if err != nil {
		t.Fatal(err)
	}
	defer coord.Close()
	if err := coord.Send(ctx, Coordinator, Contribution{Run: "run", Value: 0}); err != nil {
		t.Fatal(err)
	}

	var sources []int
	for i := 0; i < size; i++ {
		contrib, source, err := coord.RecvAny(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if contrib.Value != float64(source) || contrib.Count != source || contrib.Run != "run" {
			t.Errorf("unexpected contribution from %d: %+v", source, contrib)
		}
		sources = append(sources, source)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	sort.Ints(sources)
	for i, source := range sources {
		if source != i {
			t.Fatalf("unexpected sources: %v", sources)
		}
	}
}

func TestTCPSizeMismatch(t *testing.T) {
	ln := listenLoopback(t)
	defer ln.Close()
	addr := ln.Addr().String()

	dialErr := make(chan error, 1)
	go func() {
		tr, err := Dial(context.Background(), TCPConfig{Rank: 1, Size: 3, Addr: addr,
			DialTimeout: 5 * time.Second})
		if err == nil {
			tr.Close()
		}
		dialErr <- err
	}()

	_, err := Serve(context.Background(), ln, TCPConfig{Size: 2, DialTimeout: 5 * time.Second})
	if !fault.Is(fault.Initialization, err) {
		t.Errorf("coordinator: expected initialization error but got %v", err)
	}
	if err := <-dialErr; !fault.Is(fault.Initialization, err) {
		t.Errorf("worker: expected initialization error but got %v", err)
	}
}

func TestTCPRejectedRankEndsServe(t *testing.T) {
	ln := listenLoopback(t)
	defer ln.Close()
	addr := ln.Addr().String()

	go func() {
		tr, err := Dial(context.Background(), TCPConfig{Rank: 1, Size: 4, Addr: addr,
			DialTimeout: 5 * time.Second})
		if err == nil {
			tr.Close()
		}
	}()

	start := time.Now()
	_, err := Serve(context.Background(), ln, TCPConfig{Size: 3, DialTimeout: 5 * time.Second})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("coordinator waited %s after rejecting a rank", elapsed)
	}
	if !fault.Is(fault.Initialization, err) {
		t.Errorf("expected initialization error but got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "world size mismatch") {
		t.Errorf("expected the rejection cause but got %v", err)
	}
}

func TestTCPDialTimeout(t *testing.T) {
	// Grab a free port and release it so nothing listens.
	ln := listenLoopback(t)
	addr := ln.Addr().String()
	ln.Close()

	_, err := Dial(context.Background(), TCPConfig{
		Rank:          1,
		Size:          2,
		Addr:          addr,
		DialTimeout:   300 * time.Millisecond,
		RetryInterval: 50 * time.Millisecond,
	})
	if !fault.Is(fault.Initialization, err) {
		t.Errorf("expected initialization error but got %v", err)
	}
}

func TestTCPServeTimeout(t *testing.T) {
	ln := listenLoopback(t)
	defer ln.Close()
	_, err := Serve(context.Background(), ln, TCPConfig{Size: 2, DialTimeout: 200 * time.Millisecond})
	if !fault.Is(fault.Initialization, err) {
		t.Errorf("expected initialization error but got %v", err)
	}
}

func TestTCPPeerLost(t *testing.T) {
	ln := listenLoopback(t)
	defer ln.Close()
	addr := ln.Addr().String()

	go func() {
		tr, err := Dial(context.Background(), TCPConfig{Rank: 1, Size: 2, Addr: addr,
			DialTimeout: 5 * time.Second})
		if err == nil {
			// Leave without contributing.
			tr.Close()
		}
	}()

	coord, err := Serve(context.Background(), ln, TCPConfig{Size: 2, DialTimeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer coord.Close()
	_, source, err := coord.RecvAny(context.Background())
	if !fault.Is(fault.CollectiveIncomplete, err) {
		t.Errorf("expected collective incomplete but got %v", err)
	}
	if source != 1 {
		t.Errorf("expected failure from rank 1 but got %d", source)
	}
}

func TestTCPRecvDeadline(t *testing.T) {
	coord, err := Bootstrap(context.Background(), TCPConfig{Rank: 0, Size: 1, Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatal(err)
	}
	defer coord.Close()
	if coord.Run() == "" {
		t.Error("expected a generated run name")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, _, err := coord.RecvAny(ctx); !fault.Is(fault.CollectiveIncomplete, err) {
		t.Errorf("expected collective incomplete but got %v", err)
	}
}

func TestTCPStarOnly(t *testing.T) {
	coord, err := Bootstrap(context.Background(), TCPConfig{Rank: 0, Size: 1, Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatal(err)
	}
	defer coord.Close()
	if err := coord.Send(context.Background(), 1, Contribution{}); !fault.Is(fault.Protocol, err) {
		t.Errorf("expected protocol error but got %v", err)
	}
}
