package tcp

import (
	"log/slog"
	"time"

	"github.com/lucasig11/trust-go/header"
	"github.com/lucasig11/trust-go/internal/ring"
	"github.com/lucasig11/trust-go/internal/xlog"
	"github.com/lucasig11/trust-go/seqnum"
)

// defaultMSS is the maximum segment payload this stack emits, chosen
// conservatively since MSS option negotiation is out of scope.
const defaultMSS = 536

// msl is the maximum segment lifetime used to size TIME-WAIT: a
// connection sits in TIME-WAIT for 2*msl before being evicted.
const msl = 30 * time.Second

// initialSRTT is the smoothed round-trip time assumed before the first
// sample arrives: conservative by design, and deliberately slow to decay
// since the smoothing factor below treats it the same as any other sample.
const initialSRTT = 60 * time.Second

// srttAlpha is the RFC 793 §3.7 smoothing factor applied to every RTT
// sample, including the first: srtt <- alpha*srtt + (1-alpha)*sample.
const srttAlpha = 0.8

// minRetransmitThreshold floors the retransmission threshold derived from
// srtt so an unrealistically small smoothed RTT can't cause spurious
// retransmits.
const minRetransmitThreshold = 1 * time.Second

// Connection is a single TCB: per-RFC-793 connection state plus the
// byte-stream buffers layered on top of it. All methods assume the
// caller holds whatever lock guards the owning connection table; the
// TCB itself does no internal locking (see the manager's single mutex).
type Connection struct {
	Quad Quad

	state State
	snd   SendSequenceSpace
	rcv   ReceiveSequenceSpace

	outbox   *ring.Ring // bytes written by the application, awaiting send/ack
	inbox    *ring.Ring // bytes accepted from the peer, awaiting application read
	inFlight seqnum.Size

	closing    bool // Close() called: emit FIN once outbox drains
	finQueued  bool // FIN occupies the next sequence number after outbox
	finAcked   bool
	synAcked   bool // SYN-ACK has been transmitted at least once
	ackPending bool // rcv.NXT advanced since the last ACK-bearing segment went out
	aborted    bool // torn down by an incoming RST rather than a graceful close

	sendLog []sendSample // in sequence order, oldest first
	srtt    time.Duration
	lastTx  time.Time

	timeWaitDeadline time.Time

	log xlog.Logger
}

type sendSample struct {
	seq seqnum.Value
	at  time.Time
}

// NewPassiveConnection builds a Connection replying to an inbound SYN
// on a listening port, per the passive-open sequence (RFC 793 §3.4
// figure 6, SYN-RECEIVED branch). iss is the locally-chosen initial
// send sequence number.
func NewPassiveConnection(q Quad, iss seqnum.Value, syn Segment, bufSize int, log xlog.Logger) *Connection {
	c := &Connection{
		Quad:  q,
		state: StateSynRcvd,
		snd: SendSequenceSpace{
			ISS: iss,
			UNA: iss,
			NXT: iss.Add(1), // SYN consumes one sequence number
			WND: syn.Wnd,
		},
		rcv: ReceiveSequenceSpace{
			IRS: syn.Seq,
			NXT: syn.Seq.Add(1),
			WND: seqnum.Size(bufSize),
		},
		outbox: ring.New(bufSize),
		inbox:  ring.New(bufSize),
		srtt:   initialSRTT,
		log:    log,
	}
	return c
}

// State returns the connection's current TCB state.
func (c *Connection) State() State { return c.state }

// recvWindow is the window currently safe to advertise: free capacity
// in inbox. Recomputed fresh on every call rather than cached, so it
// always reflects the consumer's current read rate; rcv.WND is kept in
// sync as a side effect since every RFC 793 window check reads it there.
func (c *Connection) recvWindow() seqnum.Size {
	c.rcv.WND = seqnum.Size(c.inbox.Free())
	return c.rcv.WND
}

// OnSegment applies the ordered admission policy to an inbound segment
// and returns a non-nil RejectError when the segment is refused rather
// than processed (a segment outside the receive window also queues a
// bare ACK for the next WriteSegment), and sendRST true when RFC 793
// calls for a stateless reset instead.
func (c *Connection) OnSegment(seg Segment, now time.Time) (sendRST bool, err error) {
	if c.log.TraceEnabled() {
		c.log.Trace("tcb:segment", slog.String("quad", c.Quad.String()),
			slog.String("state", c.state.String()), slog.String("flags", seg.Flags.String()),
			slog.Uint64("seq", uint64(seg.Seq)), slog.Uint64("ack", uint64(seg.Ack)))
	}

	// Step 1: segment acceptability (RFC 793 §3.3 SEG.SEQ/SEG.LEN test).
	if !c.acceptable(seg) {
		if seg.Flags.HasAny(header.FlagRST) {
			return false, reject("unacceptable RST, dropped silently")
		}
		c.markAckPending()
		return false, reject("unacceptable segment, ACK our current state")
	}

	// Step 2: RST bit.
	if seg.Flags.HasAny(header.FlagRST) {
		c.abort()
		return false, reject("connection reset by peer")
	}

	// Step 3: SYN bit arriving outside SYN-RCVD is a protocol error once
	// synchronized; treat as a reset condition per RFC 793's "SYN in the
	// window" handling, aborting the connection and answering with our
	// own RST.
	if seg.Flags.HasAny(header.FlagSYN) && c.state != StateSynRcvd {
		c.abort()
		return true, reject("unexpected SYN while synchronized")
	}

	// Step 4: ACK bit must be set past the handshake.
	if !seg.Flags.HasAny(header.FlagACK) {
		return false, reject("missing ACK")
	}

	if c.state == StateSynRcvd {
		if !seg.Ack.InWindow(c.snd.UNA.Add(1), c.snd.NXT.Sub(c.snd.UNA)) && seg.Ack != c.snd.NXT {
			return true, reject("unacceptable ACK in SYN-RCVD")
		}
		c.sampleRTT(seg.Ack, now)
		c.snd.UNA = seg.Ack
		c.state = StateEstablished
	}

	// Step 5: process the ACK against outstanding send data.
	if err := c.processAck(seg, now); err != nil {
		return false, err
	}

	// Step 6: accept the in-window prefix of any payload.
	before := c.rcv.NXT
	c.acceptPayload(seg)
	if c.rcv.NXT != before {
		c.markAckPending()
	}

	// Step 7: FIN handling, only once all preceding data has been
	// consumed so RCV.NXT is contiguous with the FIN's sequence number.
	if seg.Flags.HasAny(header.FlagFIN) && seg.Last() == c.rcv.NXT {
		c.rcv.NXT = c.rcv.NXT.Add(1)
		c.onRemoteFin(now)
		c.markAckPending()
	}

	return false, nil
}

// acceptable implements the RFC 793 segment-acceptability test: with no
// payload and no window, only a segment at exactly RCV.NXT is
// acceptable; otherwise any overlap with the advertised window admits
// the segment (the in-window prefix is computed later).
func (c *Connection) acceptable(seg Segment) bool {
	slen := seg.Len()
	wnd := c.recvWindow()
	if slen == 0 {
		if wnd == 0 {
			return seg.Seq == c.rcv.NXT
		}
		return seg.Seq.InWindow(c.rcv.NXT, wnd)
	}
	if wnd == 0 {
		return false
	}
	return seg.Seq.InWindow(c.rcv.NXT, wnd) || seg.Last().InWindow(c.rcv.NXT, wnd)
}

func (c *Connection) processAck(seg Segment, now time.Time) error {
	if seg.Ack.LessThanEq(c.snd.UNA) {
		// Duplicate ack: still refresh the advertised send window.
		c.snd.WND = seg.Wnd
		return nil
	}
	if c.snd.NXT.LessThan(seg.Ack) {
		return reject("ACK acknowledges unsent data")
	}
	acked := seg.Ack.Sub(c.snd.UNA)
	c.snd.UNA = seg.Ack
	c.snd.WND = seg.Wnd
	c.sampleRTT(seg.Ack, now)

	unackedFinPending := c.finQueued && !c.finAcked
	dataAcked := int(acked)
	if unackedFinPending && seg.Ack == c.snd.NXT {
		c.finAcked = true
		dataAcked--
	}
	if dataAcked > 0 {
		c.outbox.Discard(dataAcked)
		if int(c.inFlight) >= dataAcked {
			c.inFlight -= seqnum.Size(dataAcked)
		} else {
			c.inFlight = 0
		}
	}

	switch c.state {
	case StateFinWait1:
		if c.finAcked {
			c.state = StateFinWait2
		}
	case StateClosing:
		if c.finAcked {
			c.enterTimeWait(now)
		}
	case StateLastAck:
		if c.finAcked {
			c.state = StateClosed
		}
	}
	return nil
}

func (c *Connection) sampleRTT(ackedThrough seqnum.Value, now time.Time) {
	kept := c.sendLog[:0]
	var sampled bool
	for _, s := range c.sendLog {
		if s.seq.LessThan(ackedThrough) || s.seq == ackedThrough {
			if !sampled {
				rtt := now.Sub(s.at)
				c.updateSRTT(rtt)
				sampled = true
			}
			continue
		}
		kept = append(kept, s)
	}
	c.sendLog = kept
}

// updateSRTT applies the RFC 793 §3.7 smoothing with ALPHA=0.8 to every
// sample, including the first: srtt starts at initialSRTT (60s) and is
// never given special-cased raw treatment for its first update, so it
// decays slowly by design rather than snapping to the first RTT seen.
func (c *Connection) updateSRTT(sample time.Duration) {
	c.srtt = time.Duration(srttAlpha*float64(c.srtt) + (1-srttAlpha)*float64(sample))
}

// retransmitThreshold is how long the oldest outstanding byte may go
// unacknowledged before OnTick retransmits it: max(1s, 1.5*srtt).
func (c *Connection) retransmitThreshold() time.Duration {
	t := time.Duration(1.5 * float64(c.srtt))
	if t < minRetransmitThreshold {
		return minRetransmitThreshold
	}
	return t
}

func (c *Connection) acceptPayload(seg Segment) {
	if len(seg.Data) == 0 {
		return
	}
	// Compute the in-window prefix explicitly: drop any leading bytes
	// already consumed, and any trailing bytes beyond the advertised
	// window, rather than unconditionally advancing RCV.NXT by the
	// full segment length.
	start := seg.Seq
	data := seg.Data
	if start.LessThan(c.rcv.NXT) {
		skip := c.rcv.NXT.Sub(start)
		if seqnum.Size(len(data)) <= skip {
			return
		}
		data = data[skip:]
		start = c.rcv.NXT
	}
	if start != c.rcv.NXT {
		return // gap: out-of-order reassembly is out of scope, drop it.
	}
	room := c.inbox.Free()
	if room == 0 {
		return
	}
	if len(data) > room {
		data = data[:room]
	}
	n, _ := c.outbox2inbox(data)
	c.rcv.NXT = c.rcv.NXT.Add(seqnum.Size(n))
}

func (c *Connection) outbox2inbox(data []byte) (int, error) {
	return c.inbox.Write(data)
}

func (c *Connection) onRemoteFin(now time.Time) {
	switch c.state {
	case StateEstablished:
		c.state = StateCloseWait
	case StateFinWait1:
		c.state = StateClosing
	case StateFinWait2:
		c.enterTimeWait(now)
	}
}

func (c *Connection) enterTimeWait(now time.Time) {
	c.state = StateTimeWait
	c.timeWaitDeadline = now.Add(2 * msl)
}

func (c *Connection) abort() {
	c.state = StateClosed
	c.aborted = true
}

// TimeWaitExpired reports whether a TIME-WAIT connection's 2*MSL
// deadline has passed and it may be evicted from the connection table.
func (c *Connection) TimeWaitExpired(now time.Time) bool {
	return c.state == StateTimeWait && !now.Before(c.timeWaitDeadline)
}

// Write enqueues p for transmission. It never blocks; callers (the
// Stream layer) are responsible for blocking until outbox has room.
func (c *Connection) Write(p []byte) (int, error) {
	if c.aborted {
		return 0, ErrConnectionAborted
	}
	if c.state.IsClosing() || c.closing {
		return 0, ErrConnectionClosed
	}
	n, err := c.outbox.Write(p)
	if err == nil {
		return n, nil
	}
	if n == 0 {
		return 0, ErrWouldBlock
	}
	return n, nil
}

// Read copies delivered bytes into p. It never blocks.
func (c *Connection) Read(p []byte) (int, error) {
	n, err := c.inbox.Read(p)
	if err != nil {
		if c.aborted {
			return 0, ErrConnectionAborted
		}
		if c.state.RecvClosed() {
			return 0, ErrConnectionClosed
		}
		return 0, ErrWouldBlock
	}
	return n, nil
}

// Available reports bytes ready to read and free space to write.
func (c *Connection) Available() (readable, writable int) {
	return c.inbox.Buffered(), c.outbox.Free()
}

// Flushed reports whether unacked (outbox) is empty, i.e. every
// previously-written byte has been sent and acknowledged.
func (c *Connection) Flushed() (bool, error) {
	if c.aborted {
		return false, ErrConnectionAborted
	}
	return c.outbox.Buffered() == 0, nil
}

// Close initiates a graceful close: a FIN is queued once all
// previously-written bytes have been sent, per write_segment's
// ordering of data ahead of FIN. Returns ErrNotConnected once the
// connection has already run past its own close handshake (TIME-WAIT or
// CLOSED) — there is nothing left to shut down.
func (c *Connection) Close() error {
	if c.state == StateTimeWait || c.state == StateClosed {
		return ErrNotConnected
	}
	if c.closing {
		return nil
	}
	c.closing = true
	return nil
}

// IsSendClosed reports whether the local write side may no longer
// accept new bytes (Close has been called; the FIN may not be queued yet).
func (c *Connection) IsSendClosed() bool { return c.closing }

// IsRecvClosed reports whether the remote end's FIN has been seen.
func (c *Connection) IsRecvClosed() bool { return c.state.RecvClosed() }
