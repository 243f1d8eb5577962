package collcomm

import (
	"context"
	"encoding/gob"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/base/log"
	"github.com/unixpickle/dist-mean/fault"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDialTimeout   = 30 * time.Second
	defaultRetryInterval = 100 * time.Millisecond
)

// TCPConfig describes how a rank joins a TCP world.
type TCPConfig struct {
	Rank int
	Size int

	// Addr is the coordinator's listen address.
	Addr string

	// DialTimeout bounds how long a rank keeps trying to
	// reach the coordinator, and how long the coordinator
	// waits for every rank to connect.
	// If 0, a default of 30 seconds is used.
	DialTimeout time.Duration

	// RetryInterval is the pause between dial attempts.
	RetryInterval time.Duration

	// Run names the collective operation. The coordinator
	// hands its Run to every rank during the handshake,
	// generating a random one if it is empty.
	Run string
}

func (t *TCPConfig) dialTimeout() time.Duration {
	if t.DialTimeout == 0 {
		return defaultDialTimeout
	}
	return t.DialTimeout
}

func (t *TCPConfig) retryInterval() time.Duration {
	if t.RetryInterval == 0 {
		return defaultRetryInterval
	}
	return t.RetryInterval
}

type hello struct {
	Rank int
	Size int
}

type helloAck struct {
	Err string
	Run string
}

type peerConn struct {
	conn net.Conn
	dec  *gob.Decoder
}

type inbound struct {
	contrib Contribution
	source  int
	err     error
}

// A TCPTransport is a star-shaped Transport: every rank
// holds one connection to the coordinator.
//
// Only the coordinator can receive, and only the
// coordinator can be sent to.
type TCPTransport struct {
	view WorldView
	run  string

	// Coordinator state.
	inbox chan inbound
	peers []*peerConn

	// Non-coordinator state.
	conn net.Conn
	enc  *gob.Encoder

	closeLock sync.Mutex
	closed    bool
	done      chan struct{}
}

// Bootstrap joins the world described by cfg.
//
// The coordinator listens on cfg.Addr and waits for every
// other rank; other ranks dial cfg.Addr.
// Any failure to form the world is a fault.Initialization
// error.
func Bootstrap(ctx context.Context, cfg TCPConfig) (*TCPTransport, error) {
	view, err := NewWorldView(cfg.Rank, cfg.Size)
	if err != nil {
		return nil, err
	}
	if !view.IsCoordinator() {
		return Dial(ctx, cfg)
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fault.E(fault.Initialization, "collcomm.Bootstrap", err)
	}
	defer ln.Close()
	return Serve(ctx, ln, cfg)
}

// Serve creates the coordinator's Transport by accepting
// one connection from every other rank on ln.
//
// The listener is not closed.
func Serve(ctx context.Context, ln net.Listener, cfg TCPConfig) (*TCPTransport, error) {
	view, err := NewWorldView(Coordinator, cfg.Size)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.dialTimeout())
	defer cancel()

	// Accept cannot be interrupted by a context, so the
	// deadline is applied to the listener directly.
	dl, hasDeadline := ln.(interface{ SetDeadline(time.Time) error })
	if hasDeadline {
		deadline, _ := ctx.Deadline()
		dl.SetDeadline(deadline)
		defer dl.SetDeadline(time.Time{})
	}

	run := cfg.Run
	if run == "" {
		run = uuid.NewString()
	}
	t := &TCPTransport{
		view:  view,
		run:   run,
		inbox: make(chan inbound, 2*cfg.Size),
		peers: make([]*peerConn, cfg.Size),
		done:  make(chan struct{}),
	}
	var peersLock sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if hasDeadline {
		// A rejected handshake cancels gctx, which must
		// also end a pending Accept.
		stop := make(chan struct{})
		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			select {
			case <-gctx.Done():
				dl.SetDeadline(time.Now())
			case <-stop:
			}
		}()
		defer func() {
			close(stop)
			<-stopped
		}()
	}
	for i := 1; i < cfg.Size; i++ {
		conn, err := ln.Accept()
		if err != nil {
			handshakeErr := g.Wait()
			t.Close()
			if handshakeErr != nil {
				return nil, handshakeErr
			}
			return nil, fault.E(fault.Initialization, "collcomm.Serve", err,
				fmt.Sprintf("accept (%d of %d ranks connected)", i-1, cfg.Size-1))
		}
		g.Go(func() error {
			dec := gob.NewDecoder(conn)
			rank, err := acceptHello(gctx, conn, dec, cfg.Size, run)
			if err != nil {
				conn.Close()
				return err
			}
			peersLock.Lock()
			defer peersLock.Unlock()
			if t.peers[rank] != nil {
				conn.Close()
				return fault.Errorf(fault.Initialization, "collcomm.Serve", "rank %d connected twice", rank)
			}
			t.peers[rank] = &peerConn{conn: conn, dec: dec}
			log.Debug.Printf("collcomm: rank %d connected from %s", rank, conn.RemoteAddr())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Close()
		return nil, err
	}

	for rank, peer := range t.peers {
		if peer != nil {
			go t.readPeer(rank, peer.dec)
		}
	}
	return t, nil
}

func acceptHello(ctx context.Context, conn net.Conn, dec *gob.Decoder, size int,
	run string) (int, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}
	var h hello
	if err := dec.Decode(&h); err != nil {
		return 0, fault.E(fault.Initialization, "collcomm.Serve", err, "read handshake")
	}
	ack := helloAck{Run: run}
	if h.Size != size {
		ack.Err = fmt.Sprintf("world size mismatch: coordinator has %d, rank %d has %d",
			size, h.Rank, h.Size)
	} else if h.Rank <= Coordinator || h.Rank >= size {
		ack.Err = fmt.Sprintf("invalid rank %d", h.Rank)
	}
	if err := gob.NewEncoder(conn).Encode(&ack); err != nil {
		return 0, fault.E(fault.Initialization, "collcomm.Serve", err, "write handshake")
	}
	if ack.Err != "" {
		return 0, fault.E(fault.Initialization, "collcomm.Serve", ack.Err)
	}
	return h.Rank, nil
}

// Dial creates a non-coordinator's Transport by connecting
// to the coordinator, retrying until cfg.DialTimeout.
func Dial(ctx context.Context, cfg TCPConfig) (*TCPTransport, error) {
	view, err := NewWorldView(cfg.Rank, cfg.Size)
	if err != nil {
		return nil, err
	}
	if view.IsCoordinator() {
		return nil, fault.E(fault.Invalid, "collcomm.Dial", "the coordinator cannot dial itself")
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.dialTimeout())
	defer cancel()

	var dialer net.Dialer
	var conn net.Conn
	for {
		conn, err = dialer.DialContext(ctx, "tcp", cfg.Addr)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fault.E(fault.Initialization, "collcomm.Dial", err,
				"reach coordinator at "+cfg.Addr)
		case <-time.After(cfg.retryInterval()):
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	enc := gob.NewEncoder(conn)
	if err := enc.Encode(&hello{Rank: cfg.Rank, Size: cfg.Size}); err != nil {
		conn.Close()
		return nil, fault.E(fault.Initialization, "collcomm.Dial", err, "write handshake")
	}
	var ack helloAck
	if err := gob.NewDecoder(conn).Decode(&ack); err != nil {
		conn.Close()
		return nil, fault.E(fault.Initialization, "collcomm.Dial", err, "read handshake")
	}
	if ack.Err != "" {
		conn.Close()
		return nil, fault.E(fault.Initialization, "collcomm.Dial", "coordinator rejected rank: "+ack.Err)
	}
	conn.SetDeadline(time.Time{})

	return &TCPTransport{
		view: view,
		run:  ack.Run,
		conn: conn,
		enc:  enc,
		done: make(chan struct{}),
	}, nil
}

// Rank gets the local rank.
func (t *TCPTransport) Rank() int {
	return t.view.Rank
}

// Size gets the world size.
func (t *TCPTransport) Size() int {
	return t.view.Size
}

// Run gets the name of the collective operation, which is
// the same on every rank of the world.
func (t *TCPTransport) Run() string {
	return t.run
}

// Send delivers a Contribution to the coordinator.
func (t *TCPTransport) Send(ctx context.Context, dst int, c Contribution) error {
	if dst != Coordinator {
		return fault.Errorf(fault.Protocol, "collcomm.TCPTransport.Send",
			"rank %d is not the coordinator", dst)
	}
	if t.view.IsCoordinator() {
		select {
		case t.inbox <- inbound{contrib: c, source: Coordinator}:
			return nil
		case <-ctx.Done():
			return fault.E(fault.CollectiveIncomplete, "collcomm.TCPTransport.Send", ctx.Err())
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	if err := t.enc.Encode(&c); err != nil {
		return fault.E(fault.CollectiveIncomplete, "collcomm.TCPTransport.Send", err)
	}
	return nil
}

// RecvAny receives the next Contribution on the
// coordinator, in arrival order.
func (t *TCPTransport) RecvAny(ctx context.Context) (Contribution, int, error) {
	if !t.view.IsCoordinator() {
		return Contribution{}, -1, fault.Errorf(fault.Protocol, "collcomm.TCPTransport.RecvAny",
			"rank %d is not the coordinator", t.view.Rank)
	}
	select {
	case in := <-t.inbox:
		if in.err != nil {
			return Contribution{}, in.source, in.err
		}
		return in.contrib, in.source, nil
	case <-ctx.Done():
		return Contribution{}, -1, fault.E(fault.CollectiveIncomplete, "collcomm.TCPTransport.RecvAny",
			ctx.Err())
	case <-t.done:
		return Contribution{}, -1, fault.E(fault.CollectiveIncomplete, "collcomm.TCPTransport.RecvAny",
			"transport closed")
	}
}

// Close releases every connection.
func (t *TCPTransport) Close() error {
	t.closeLock.Lock()
	defer t.closeLock.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)

	if t.conn != nil {
		return t.conn.Close()
	}
	var firstErr error
	for _, peer := range t.peers {
		if peer == nil {
			continue
		}
		if err := peer.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// readPeer forwards a peer's Contributions to the inbox
// until the peer hangs up.
//
// A hang-up before any Contribution is reported as a
// fault.CollectiveIncomplete error; later hang-ups are
// expected, since a rank leaves once it has sent.
func (t *TCPTransport) readPeer(rank int, dec *gob.Decoder) {
	var received int
	for {
		var c Contribution
		in := inbound{source: rank}
		if err := dec.Decode(&c); err != nil {
			if received > 0 {
				return
			}
			in.err = fault.E(fault.CollectiveIncomplete, "collcomm.TCPTransport.RecvAny", err,
				fmt.Sprintf("connection to rank %d lost before its contribution", rank))
		} else {
			in.contrib = c
			received++
		}
		select {
		case t.inbox <- in:
		case <-t.done:
			return
		}
		if in.err != nil {
			return
		}
	}
}
