package tcp

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/lucasig11/trust-go/header"
	"github.com/lucasig11/trust-go/internal/xlog"
	"github.com/lucasig11/trust-go/seqnum"
)

// listenerState is the connection manager's bookkeeping for one
// listening port: a FIFO of quads whose handshake has completed and are
// awaiting Accept. Grounded on the teacher's Listener incoming/accepted
// split, collapsed to a single FIFO since this stack never needs to
// re-poll a connection still mid-handshake (the manager promotes a quad
// into Pending exactly once, on the transition into ESTABLISHED).
type listenerState struct {
	port    uint16
	pending []Quad
	closed  bool
}

// Manager demultiplexes inbound segments to the right Connection by
// four-tuple, owns the table of listening ports, and fields the
// stateless-RST paths that have no Connection to carry them. It holds
// no lock of its own: spec's concurrency model puts a single mutex in
// front of the whole manager, owned by the packet loop/stream layer.
type Manager struct {
	localAddr [4]byte
	bufSize   int
	conns     map[Quad]*Connection
	listeners map[uint16]*listenerState
	rst       RSTQueue
	log       xlog.Logger
}

// NewManager returns a Manager for the tunnel's local address. bufSize
// sizes every connection's send/receive ring buffers, and in turn the
// window this stack ever advertises.
func NewManager(localAddr [4]byte, bufSize int, log xlog.Logger) *Manager {
	return &Manager{
		localAddr: localAddr,
		bufSize:   bufSize,
		conns:     make(map[Quad]*Connection),
		listeners: make(map[uint16]*listenerState),
		log:       log,
	}
}

// Listen registers port as accepting new connections.
func (m *Manager) Listen(port uint16) error {
	if port == 0 {
		return ErrNotListening
	}
	if l, ok := m.listeners[port]; ok && !l.closed {
		return ErrAddressInUse
	}
	m.listeners[port] = &listenerState{port: port}
	return nil
}

// Unlisten stops accepting new connections on port; connections already
// established are unaffected.
func (m *Manager) Unlisten(port uint16) {
	if l, ok := m.listeners[port]; ok {
		l.closed = true
	}
	delete(m.listeners, port)
}

// Accept pops the oldest established connection waiting on port, if any.
func (m *Manager) Accept(port uint16) (Quad, bool) {
	l, ok := m.listeners[port]
	if !ok || len(l.pending) == 0 {
		return Quad{}, false
	}
	q := l.pending[0]
	l.pending = l.pending[1:]
	return q, true
}

// Conn looks up an established Connection by quad.
func (m *Manager) Conn(q Quad) (*Connection, bool) {
	c, ok := m.conns[q]
	return c, ok
}

// Demux routes an inbound segment to its connection, creating a new
// SYN-RECEIVED Connection on a fresh SYN to a listening port, and
// queuing a stateless RST for a SYN to a closed port. Any other segment
// for a quad this manager has no record of is dropped silently.
func (m *Manager) Demux(now time.Time, q Quad, seg Segment) {
	if conn, ok := m.conns[q]; ok {
		wasEstablished := conn.State() == StateEstablished
		sendRST, err := conn.OnSegment(seg, now)
		if sendRST {
			m.rst.QueueForAck(q, seg.Ack)
		}
		if err != nil {
			m.log.Debug("tcp: segment rejected", slog.String("quad", q.String()), slog.String("err", err.Error()))
		}
		if !wasEstablished && conn.State() == StateEstablished {
			m.promote(q)
		}
		return
	}

	if !seg.Flags.HasAny(header.FlagSYN) || seg.Flags.HasAny(header.FlagACK) {
		// No connection and no fresh handshake attempt: nothing to
		// reset against reliably (could be a stray segment for a
		// connection we already evicted from TIME-WAIT). Silently drop.
		return
	}

	l, ok := m.listeners[q.LocalPort]
	if !ok || l.closed {
		m.rst.QueueForSeq(q, seg.Seq.Add(seg.Len()))
		return
	}

	iss := randomISS()
	conn := NewPassiveConnection(q, iss, seg, m.bufSize, m.log)
	m.conns[q] = conn
	m.log.Debug("tcp: new connection", slog.String("quad", q.String()))
}

func (m *Manager) promote(q Quad) {
	l, ok := m.listeners[q.LocalPort]
	if !ok {
		return
	}
	l.pending = append(l.pending, q)
}

// WriteOutbound asks every connection (and the RST queue) for its next
// segment and invokes send for each one produced. buf is reused as
// scratch space across calls; send must not retain it past the call.
func (m *Manager) WriteOutbound(buf []byte, now time.Time, send func(Quad, Segment)) {
	for q, conn := range m.conns {
		if seg, ok := conn.WriteSegment(buf, now); ok {
			send(q, seg)
		}
	}
	for {
		q, seg, ok := m.rst.Drain()
		if !ok {
			break
		}
		send(q, seg)
	}
}

// Tick drives per-connection retransmission and evicts connections
// whose TIME-WAIT timer has expired or that have fully closed.
func (m *Manager) Tick(buf []byte, now time.Time, send func(Quad, Segment)) {
	for q, conn := range m.conns {
		if conn.TimeWaitExpired(now) || conn.State() == StateClosed {
			delete(m.conns, q)
			continue
		}
		if seg, ok := conn.OnTick(buf, now); ok {
			send(q, seg)
		}
	}
}

func randomISS() seqnum.Value {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return seqnum.Value(binary.BigEndian.Uint32(b[:]))
}
