package stream

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/lucasig11/trust-go/header"
	"github.com/lucasig11/trust-go/internal/xlog"
	"github.com/lucasig11/trust-go/seqnum"
)

// pipeDevice is an in-memory Device standing in for the kernel TUN file,
// matching the teacher's examples' use of a plain io.ReadWriteCloser to
// drive the stack in tests rather than a real interface.
type pipeDevice struct {
	out    chan []byte
	in     chan []byte
	closed chan struct{}
}

func newPipePair() (a, b *pipeDevice) {
	atob := make(chan []byte, 64)
	btoa := make(chan []byte, 64)
	a = &pipeDevice{out: atob, in: btoa, closed: make(chan struct{})}
	b = &pipeDevice{out: btoa, in: atob, closed: make(chan struct{})}
	return a, b
}

func (p *pipeDevice) Read(buf []byte) (int, error) {
	select {
	case pkt, ok := <-p.in:
		if !ok {
			return 0, io.EOF
		}
		return copy(buf, pkt), nil
	case <-p.closed:
		return 0, io.ErrClosedPipe
	}
}

func (p *pipeDevice) Write(buf []byte) (int, error) {
	pkt := append([]byte(nil), buf...)
	select {
	case p.out <- pkt:
		return len(buf), nil
	case <-p.closed:
		return 0, io.ErrClosedPipe
	}
}

func (p *pipeDevice) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

// fakePeer is a hand-built remote endpoint standing in for the other side
// of the connection: this core only ever initiates a passive open, so an
// end-to-end test needs something that speaks the active-open/data/close
// side of the handshake without going through package tcp at all.
type fakePeer struct {
	dev                    *pipeDevice
	localAddr, remoteAddr  [4]byte
	localPort, remotePort  uint16
	seq, ack               seqnum.Value
	id                     uint16
}

func (p *fakePeer) send(t *testing.T, flags header.Flags, data []byte) {
	t.Helper()
	total := header.SizeIPv4 + header.SizeTCP + len(data)
	buf := make([]byte, total)

	ipf, err := header.NewIPv4(buf[:header.SizeIPv4])
	if err != nil {
		t.Fatal(err)
	}
	ipf.SetVersionAndIHL(4, 5)
	ipf.SetTotalLength(uint16(total))
	p.id++
	ipf.SetID(p.id)
	ipf.SetTTL(64)
	ipf.SetProtocol(header.ProtoTCP)
	*ipf.SourceAddr() = p.localAddr
	*ipf.DestinationAddr() = p.remoteAddr
	ipf.SetCRC(ipf.CalculateHeaderCRC())

	tf, err := header.NewTCP(buf[header.SizeIPv4:])
	if err != nil {
		t.Fatal(err)
	}
	tf.SetSourcePort(p.localPort)
	tf.SetDestinationPort(p.remotePort)
	tf.SetSeq(uint32(p.seq))
	tf.SetAck(uint32(p.ack))
	tf.SetDataOffset(5)
	tf.SetFlags(flags)
	tf.SetWindowSize(8192)
	copy(buf[header.SizeIPv4+header.SizeTCP:], data)

	var crc header.CRC791
	ipf.WriteTCPPseudoHeader(&crc, uint16(header.SizeTCP+len(data)))
	crc.WriteOdd(buf[header.SizeIPv4:])
	tf.SetCRC(header.NeverZero(crc.Sum16()))

	if _, err := p.dev.Write(buf); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	p.seq = p.seq.Add(seqnum.Size(segLen(flags, len(data))))
}

func segLen(flags header.Flags, dataLen int) int {
	n := dataLen
	if flags.HasAny(header.FlagSYN) {
		n++
	}
	if flags.HasAny(header.FlagFIN) {
		n++
	}
	return n
}

// recv reads one IPv4+TCP datagram and returns its flags, ack-worthy
// sequence number and payload, updating the peer's view of the remote
// sequence space (p.ack) so the next send() acks what was just received.
func (p *fakePeer) recv(t *testing.T) (flags header.Flags, seq seqnum.Value, data []byte) {
	t.Helper()
	buf := make([]byte, 1500)
	timeout := time.After(2 * time.Second)
	for {
		select {
		case pkt, ok := <-p.dev.in:
			if !ok {
				t.Fatal("peer device closed while waiting for segment")
			}
			n := copy(buf, pkt)
			ipf, err := header.NewIPv4(buf[:n])
			if err != nil {
				continue
			}
			tcpBuf := buf[ipf.HeaderLength():ipf.TotalLength()]
			tf, err := header.NewTCP(tcpBuf)
			if err != nil {
				continue
			}
			data = append([]byte(nil), tf.Payload(len(tcpBuf))...)
			seq = seqnum.Value(tf.Seq())
			flags = tf.Flags()
			p.ack = seq.Add(seqnum.Size(segLen(flags, len(data))))
			return flags, seq, data
		case <-timeout:
			t.Fatal("timed out waiting for segment from interface under test")
			return
		}
	}
}

func TestEndToEndHandshakeDataAndGracefulClose(t *testing.T) {
	srvDev, peerDev := newPipePair()
	srvAddr := [4]byte{10, 0, 0, 1}
	peerAddr := [4]byte{10, 0, 0, 2}

	iface := New(srvDev, srvAddr, 4096, 1500, xlog.Logger{})
	l, err := iface.Listen(9000)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- iface.Run(ctx) }()

	peer := &fakePeer{
		dev:        peerDev,
		localAddr:  peerAddr,
		remoteAddr: srvAddr,
		localPort:  54321,
		remotePort: 9000,
		seq:        2000,
	}

	// Three-way handshake, peer as the active opener.
	peer.send(t, header.FlagSYN, nil)
	flags, _, _ := peer.recv(t)
	if !flags.HasAll(header.FlagsSynAck) {
		t.Fatalf("expected SYN-ACK, got %v", flags)
	}
	peer.send(t, header.FlagACK, nil)

	type acceptResult struct {
		s   *Stream
		err error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		s, err := l.Accept()
		acceptCh <- acceptResult{s, err}
	}()

	var srvStream *Stream
	select {
	case res := <-acceptCh:
		if res.err != nil {
			t.Fatalf("accept: %v", res.err)
		}
		srvStream = res.s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Accept")
	}
	// Peer sends data; server must deliver it to Stream.Read.
	peer.send(t, header.FlagsPshAck, []byte("hello"))
	readBuf := make([]byte, 64)
	n, err := srvStream.Read(readBuf)
	if err != nil {
		t.Fatalf("stream read: %v", err)
	}
	if string(readBuf[:n]) != "hello" {
		t.Fatalf("read %q, want hello", readBuf[:n])
	}
	// Delivering "hello" made the server owe a bare ACK, sent before any data.
	if flags, _, data := peer.recv(t); !flags.HasAny(header.FlagACK) || len(data) != 0 {
		t.Fatalf("got flags=%v data=%q, want bare ACK for hello", flags, data)
	}

	// Server sends data; peer must observe it on the wire.
	if _, err := srvStream.Write([]byte("world")); err != nil {
		t.Fatalf("stream write: %v", err)
	}
	flags, _, data := peer.recv(t)
	if !flags.HasAny(header.FlagACK) || string(data) != "world" {
		t.Fatalf("got flags=%v data=%q, want ACK carrying world", flags, data)
	}

	// Flush must block until the peer's ACK drains the outbox.
	flushErr := make(chan error, 1)
	go func() { flushErr <- srvStream.Flush() }()
	select {
	case err := <-flushErr:
		t.Fatalf("flush returned before the peer acked: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	peer.send(t, header.FlagACK, nil)
	select {
	case err := <-flushErr:
		if err != nil {
			t.Fatalf("flush: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Flush to return after the peer's ACK")
	}

	// Graceful close initiated by the server.
	if err := srvStream.Close(); err != nil {
		t.Fatalf("stream close: %v", err)
	}
	flags, _, _ = peer.recv(t)
	if !flags.HasAll(header.FlagsFinAck) {
		t.Fatalf("expected FIN-ACK from server close, got %v", flags)
	}
	peer.send(t, header.FlagsFinAck, nil)

	_, err = srvStream.Read(readBuf)
	if err != io.EOF {
		t.Fatalf("expected io.EOF after peer FIN, got %v", err)
	}

	cancel()
	srvDev.Close()
	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("Interface.Run did not return after cancellation")
	}
}
