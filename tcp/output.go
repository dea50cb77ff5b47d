package tcp

import (
	"time"

	"github.com/lucasig11/trust-go/header"
	"github.com/lucasig11/trust-go/seqnum"
)

// ackPending tracks whether rcv.NXT has advanced (or a state transition
// happened) since the last ACK-bearing segment went out, so WriteSegment
// knows a bare ACK is owed even when there is no data or FIN to send.
func (c *Connection) markAckPending() { c.ackPending = true }

// WriteSegment returns the next segment this connection wants to
// transmit, in priority order: the SYN-ACK handshake reply, queued
// application data (bounded by MSS and the peer's advertised window),
// the closing FIN once all prior data is acknowledged-pending, and
// finally a bare ACK if nothing else is owed but rcv.NXT moved. buf is
// scratch space the segment's Data may alias.
func (c *Connection) WriteSegment(buf []byte, now time.Time) (seg Segment, ok bool) {
	if c.state == StateSynRcvd && !c.synAcked {
		c.synAcked = true
		c.lastTx = now
		c.sendLog = append(c.sendLog, sendSample{seq: c.snd.ISS, at: now})
		c.ackPending = false
		return Segment{
			Seq:   c.snd.ISS,
			Ack:   c.rcv.NXT,
			Flags: header.FlagsSynAck,
			Wnd:   c.recvWindow(),
		}, true
	}

	if seg, ok := c.nextDataSegment(buf, now); ok {
		return seg, true
	}

	if c.wantsFIN() {
		seq := c.snd.NXT
		c.finQueued = true
		c.snd.NXT = c.snd.NXT.Add(1)
		c.lastTx = now
		c.sendLog = append(c.sendLog, sendSample{seq: seq, at: now})
		switch c.state {
		case StateEstablished:
			c.state = StateFinWait1
		case StateCloseWait:
			c.state = StateLastAck
		}
		c.ackPending = false
		return Segment{
			Seq:   seq,
			Ack:   c.rcv.NXT,
			Flags: header.FlagsFinAck,
			Wnd:   c.recvWindow(),
		}, true
	}

	if c.ackPending {
		c.ackPending = false
		return Segment{
			Seq:   c.snd.NXT,
			Ack:   c.rcv.NXT,
			Flags: header.FlagACK,
			Wnd:   c.recvWindow(),
		}, true
	}
	return Segment{}, false
}

func (c *Connection) nextDataSegment(buf []byte, now time.Time) (Segment, bool) {
	unsent := c.outbox.Buffered() - int(c.inFlight)
	if unsent <= 0 {
		return Segment{}, false
	}
	n := unsent
	if n > defaultMSS {
		n = defaultMSS
	}
	if maxSend := int(c.snd.MaxSend()); n > maxSend {
		n = maxSend
	}
	if n <= 0 {
		return Segment{}, false
	}
	if n > len(buf) {
		n = len(buf)
	}
	c.outbox.PeekAt(int(c.inFlight), buf[:n])
	seq := c.snd.NXT
	c.snd.NXT = c.snd.NXT.Add(seqnum.Size(n))
	c.inFlight += seqnum.Size(n)
	c.lastTx = now
	c.sendLog = append(c.sendLog, sendSample{seq: seq, at: now})
	c.ackPending = false
	return Segment{
		Seq:   seq,
		Ack:   c.rcv.NXT,
		Flags: header.FlagsPshAck,
		Wnd:   c.recvWindow(),
		Data:  buf[:n],
	}, true
}

// wantsFIN reports whether local close has been requested, all
// previously written data has been fully queued for send, and the FIN
// has not already been queued.
func (c *Connection) wantsFIN() bool {
	if !c.closing || c.finQueued {
		return false
	}
	if c.outbox.Buffered() != int(c.inFlight) {
		return false
	}
	return c.state == StateEstablished || c.state == StateCloseWait
}

// OnTick drives retransmission: if the oldest outstanding segment has
// gone unacknowledged longer than max(1s, 1.5*srtt), it is rebuilt and
// handed back for resending with its original sequence number.
func (c *Connection) OnTick(buf []byte, now time.Time) (seg Segment, ok bool) {
	if c.state == StateClosed {
		return Segment{}, false
	}
	if c.inFlight == 0 && !(c.finQueued && !c.finAcked) && c.state != StateSynRcvd {
		return Segment{}, false
	}
	sentAt := c.lastTx
	if len(c.sendLog) > 0 {
		sentAt = c.sendLog[0].at
	}
	if sentAt.IsZero() || now.Sub(sentAt) < c.retransmitThreshold() {
		return Segment{}, false
	}
	c.lastTx = now
	if len(c.sendLog) > 0 {
		c.sendLog[0].at = now
	}

	if c.state == StateSynRcvd {
		return Segment{Seq: c.snd.ISS, Ack: c.rcv.NXT, Flags: header.FlagsSynAck, Wnd: c.recvWindow()}, true
	}
	if c.inFlight > 0 {
		n := int(c.inFlight)
		if n > len(buf) {
			n = len(buf)
		}
		if n > defaultMSS {
			n = defaultMSS
		}
		c.outbox.PeekAt(0, buf[:n])
		return Segment{Seq: c.snd.UNA, Ack: c.rcv.NXT, Flags: header.FlagsPshAck, Wnd: c.recvWindow(), Data: buf[:n]}, true
	}
	// Only the FIN remains outstanding, at the sequence number just
	// before NXT (NXT already advanced past it when it was queued).
	return Segment{Seq: c.snd.NXT - 1, Ack: c.rcv.NXT, Flags: header.FlagsFinAck, Wnd: c.recvWindow()}, true
}
