// Package stream exposes the blocking Listener/Stream API consumers
// use to talk to the TCP core in package tcp, coordinating the single
// packet-loop goroutine that owns the tunnel device with any number of
// blocked reader/writer/acceptor goroutines via one mutex and a
// condition variable per kind of wakeup.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lucasig11/trust-go/header"
	"github.com/lucasig11/trust-go/internal/xlog"
	"github.com/lucasig11/trust-go/seqnum"
	"github.com/lucasig11/trust-go/tcp"
)

// Device is the tunnel boundary: a source of whole IPv4 datagrams. A
// *tunif.Device satisfies this, as does any io.ReadWriteCloser used in
// tests to stand in for the kernel.
type Device interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	Close() error
}

// tickInterval is how often the retransmission timer is checked. Small
// enough that the 1s floor on the retransmission threshold in package
// tcp is still meaningfully enforced.
const tickInterval = 100 * time.Millisecond

// Interface is a running TCP stack bound to one tunnel Device. It owns
// the single goroutine that reads the device and the mutex that guards
// every Connection reachable through it.
type Interface struct {
	dev       Device
	localAddr [4]byte
	mtu       int
	mgr       *tcp.Manager
	log       xlog.Logger

	mu        sync.Mutex
	pendingCV *sync.Cond // signaled when a listener gains an accept-ready quad
	recvCV    *sync.Cond // signaled when any connection's inbox may have grown
	sendCV    *sync.Cond // signaled when any connection's outbox may have freed space
	closed    bool
	ipID      uint16

	flushOutbuf []byte
	flushSegbuf []byte
}

// New constructs an Interface over dev. localAddr is this stack's only
// address (the tunnel's point-to-point address); bufSize sizes every
// connection's buffers; mtu bounds the IPv4 datagrams read and written.
func New(dev Device, localAddr [4]byte, bufSize, mtu int, log xlog.Logger) *Interface {
	i := &Interface{
		dev:       dev,
		localAddr: localAddr,
		mtu:       mtu,
		mgr:       tcp.NewManager(localAddr, bufSize, log),
		log:       log,
	}
	i.pendingCV = sync.NewCond(&i.mu)
	i.recvCV = sync.NewCond(&i.mu)
	i.sendCV = sync.NewCond(&i.mu)
	i.flushOutbuf = make([]byte, mtu)
	i.flushSegbuf = make([]byte, mtu)
	return i
}

// Listen registers a passive-open listener on port.
func (i *Interface) Listen(port uint16) (*Listener, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.mgr.Listen(port); err != nil {
		return nil, err
	}
	return &Listener{iface: i, port: port}, nil
}

// Close shuts the interface down: closes the tunnel device, which
// unblocks the packet loop's pending Read with an error, and wakes
// every blocked Accept/Read/Write so they observe the closed state.
func (i *Interface) Close() error {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()
	i.pendingCV.Broadcast()
	i.recvCV.Broadcast()
	i.sendCV.Broadcast()
	return i.dev.Close()
}

// Run is the packet loop: it blocks reading whole IPv4 datagrams from
// the device, demultiplexes each into the connection manager, and
// drains whatever outbound segments that produced, until ctx is
// canceled or the device is closed. A second goroutine drives the
// retransmission tick. Run returns when either stops the loop.
func (i *Interface) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tickDone := make(chan struct{})
	go func() {
		defer close(tickDone)
		i.tickLoop(ctx)
	}()

	inbuf := make([]byte, i.mtu)
	segbuf := make([]byte, i.mtu)
	outbuf := make([]byte, i.mtu)
	var loopErr error
	for {
		n, err := i.dev.Read(inbuf)
		if err != nil {
			loopErr = err
			break
		}
		i.handleInbound(inbuf[:n], segbuf, outbuf)
		if ctx.Err() != nil {
			break
		}
	}
	cancel()
	<-tickDone
	if ctx.Err() != nil && (loopErr == nil || errors.Is(loopErr, ctx.Err())) {
		return ctx.Err()
	}
	return loopErr
}

func (i *Interface) tickLoop(ctx context.Context) {
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	outbuf := make([]byte, i.mtu)
	segbuf := make([]byte, i.mtu)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			i.mu.Lock()
			i.mgr.Tick(segbuf, now, func(q tcp.Quad, seg tcp.Segment) {
				i.send(outbuf, q, seg)
			})
			i.mu.Unlock()
			i.recvCV.Broadcast()
			i.sendCV.Broadcast()
		}
	}
}

func (i *Interface) handleInbound(pkt, segbuf, outbuf []byte) {
	ipf, err := header.NewIPv4(pkt)
	if err != nil {
		return
	}
	var errs []error
	ipf.ValidateSize(&errs)
	if len(errs) > 0 {
		return
	}
	if ipf.Protocol() != header.ProtoTCP {
		return
	}
	tcpBuf := pkt[ipf.HeaderLength():ipf.TotalLength()]
	tf, err := header.NewTCP(tcpBuf)
	if err != nil {
		return
	}
	var terrs []error
	tf.ValidateSize(&terrs)
	if len(terrs) > 0 {
		return
	}

	seg := tcp.Segment{
		Seq:   seqnum.Value(tf.Seq()),
		Ack:   seqnum.Value(tf.Ack()),
		Flags: tf.Flags(),
		Wnd:   seqnum.Size(tf.WindowSize()),
		Data:  tf.Payload(len(tcpBuf)),
	}
	quad := tcp.Quad{
		LocalAddr:  *ipf.DestinationAddr(),
		RemoteAddr: *ipf.SourceAddr(),
		LocalPort:  tf.DestinationPort(),
		RemotePort: tf.SourcePort(),
	}

	now := time.Now()
	i.mu.Lock()
	i.mgr.Demux(now, quad, seg)
	i.mgr.WriteOutbound(segbuf, now, func(q tcp.Quad, out tcp.Segment) {
		i.send(outbuf, q, out)
	})
	i.mu.Unlock()
	i.pendingCV.Broadcast()
	i.recvCV.Broadcast()
	i.sendCV.Broadcast()
}

// flushLocked asks the manager for any newly-producible outbound
// segments (freshly written application data, a just-queued FIN) and
// writes them immediately, instead of waiting for the next inbound
// packet or retransmission tick to notice them. Callers must hold i.mu.
func (i *Interface) flushLocked() {
	i.mgr.WriteOutbound(i.flushSegbuf, time.Now(), func(q tcp.Quad, seg tcp.Segment) {
		i.send(i.flushOutbuf, q, seg)
	})
}

// send serializes seg addressed from q's local endpoint to its remote
// endpoint into outbuf and writes it to the device. Must be called with
// i.mu held, matching the single-packet-loop-goroutine ownership model.
func (i *Interface) send(outbuf []byte, q tcp.Quad, seg tcp.Segment) {
	const ipHdrLen = header.SizeIPv4
	tcpLen := header.SizeTCP + len(seg.Data)
	total := ipHdrLen + tcpLen
	if total > len(outbuf) {
		i.log.Error("tcp: outbound segment exceeds mtu, dropped",
			slog.Int("want", total), slog.Int("mtu", len(outbuf)))
		return
	}

	ipf, _ := header.NewIPv4(outbuf[:ipHdrLen])
	ipf.ClearHeader()
	ipf.SetVersionAndIHL(4, 5)
	ipf.SetTotalLength(uint16(total))
	i.ipID++
	ipf.SetID(i.ipID)
	ipf.SetFlagsAndFragOffset(0x4000) // don't fragment, no offset
	ipf.SetTTL(64)
	ipf.SetProtocol(header.ProtoTCP)
	*ipf.SourceAddr() = q.LocalAddr
	*ipf.DestinationAddr() = q.RemoteAddr
	ipf.SetCRC(ipf.CalculateHeaderCRC())

	tf, _ := header.NewTCP(outbuf[ipHdrLen:total])
	tf.ClearHeader()
	tf.SetSourcePort(q.LocalPort)
	tf.SetDestinationPort(q.RemotePort)
	tf.SetSeq(uint32(seg.Seq))
	tf.SetAck(uint32(seg.Ack))
	tf.SetDataOffset(5)
	tf.SetFlags(seg.Flags)
	tf.SetWindowSize(uint16(seg.Wnd))
	tf.SetUrgentPtr(0)
	copy(outbuf[ipHdrLen+header.SizeTCP:total], seg.Data)

	var crc header.CRC791
	ipf.WriteTCPPseudoHeader(&crc, uint16(tcpLen))
	crc.WriteOdd(outbuf[ipHdrLen:total])
	tf.SetCRC(header.NeverZero(crc.Sum16()))

	if _, err := i.dev.Write(outbuf[:total]); err != nil {
		i.log.Error("tcp: write to device failed", slog.String("err", err.Error()))
	}
}
