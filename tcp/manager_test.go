package tcp

import (
	"testing"
	"time"

	"github.com/lucasig11/trust-go/header"
	"github.com/lucasig11/trust-go/internal/xlog"
)

func testQuad() Quad {
	return Quad{
		LocalAddr:  [4]byte{10, 0, 0, 1},
		RemoteAddr: [4]byte{10, 0, 0, 2},
		LocalPort:  9000,
		RemotePort: 54321,
	}
}

func TestManagerAcceptsFullHandshakeOnListenedPort(t *testing.T) {
	m := NewManager([4]byte{10, 0, 0, 1}, 4096, xlog.Logger{})
	if err := m.Listen(9000); err != nil {
		t.Fatalf("listen: %v", err)
	}
	q := testQuad()
	now := time.Now()

	m.Demux(now, q, Segment{Seq: 100, Flags: header.FlagSYN, Wnd: 4096})
	conn, ok := m.Conn(q)
	if !ok {
		t.Fatal("expected connection to be created on SYN")
	}
	if conn.State() != StateSynRcvd {
		t.Fatalf("state = %v, want SYN-RCVD", conn.State())
	}

	var synack Segment
	m.WriteOutbound(make([]byte, 256), now, func(gotQuad Quad, seg Segment) {
		synack = seg
	})
	if !synack.Flags.HasAll(header.FlagsSynAck) {
		t.Fatalf("expected SYN-ACK to be written, got %+v", synack)
	}

	if _, ok := m.Accept(9000); ok {
		t.Fatal("should not be acceptable before handshake completes")
	}

	m.Demux(now, q, Segment{Seq: 101, Ack: synack.Seq + 1, Flags: header.FlagACK, Wnd: 4096})
	got, ok := m.Accept(9000)
	if !ok || got != q {
		t.Fatalf("expected %v to be ready to accept, ok=%v got=%v", q, ok, got)
	}
}

func TestManagerResetsSynToClosedPort(t *testing.T) {
	m := NewManager([4]byte{10, 0, 0, 1}, 4096, xlog.Logger{})
	q := testQuad()
	m.Demux(time.Now(), q, Segment{Seq: 100, Flags: header.FlagSYN, Wnd: 4096})
	if _, ok := m.Conn(q); ok {
		t.Fatal("no connection should be created for a closed port")
	}
	if m.rst.Pending() != 1 {
		t.Fatalf("rst pending = %d, want 1", m.rst.Pending())
	}
	_, seg, ok := m.rst.Drain()
	if !ok || !seg.Flags.HasAll(header.FlagRST) {
		t.Fatalf("expected RST queued for closed port, got %+v ok=%v", seg, ok)
	}
}

func TestManagerEvictsExpiredTimeWait(t *testing.T) {
	m := NewManager([4]byte{10, 0, 0, 1}, 4096, xlog.Logger{})
	m.Listen(9000)
	q := testQuad()
	now := time.Now()
	m.Demux(now, q, Segment{Seq: 100, Flags: header.FlagSYN, Wnd: 4096})
	var synack Segment
	m.WriteOutbound(make([]byte, 256), now, func(_ Quad, seg Segment) { synack = seg })
	m.Demux(now, q, Segment{Seq: 101, Ack: synack.Seq + 1, Flags: header.FlagACK, Wnd: 4096})

	conn, _ := m.Conn(q)
	conn.Close()
	var fin Segment
	m.WriteOutbound(make([]byte, 256), now, func(_ Quad, seg Segment) { fin = seg })
	m.Demux(now, q, Segment{Seq: 101, Ack: fin.Seq + 1, Flags: header.FlagsFinAck, Wnd: 4096})
	if conn.State() != StateTimeWait {
		t.Fatalf("state = %v, want TIME-WAIT", conn.State())
	}

	m.Tick(make([]byte, 256), now.Add(2*msl+time.Second), func(Quad, Segment) {})
	if _, ok := m.Conn(q); ok {
		t.Fatal("expired TIME-WAIT connection should have been evicted")
	}
}
