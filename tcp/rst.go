package tcp

import (
	"github.com/lucasig11/trust-go/header"
	"github.com/lucasig11/trust-go/seqnum"
)

// rstQueueSize bounds how many stateless RST responses can be pending
// at once; a small fixed size is enough since RSTs are only ever
// produced in direct response to an inbound segment, one per Demux call.
const rstQueueSize = 4

type rstEntry struct {
	quad  Quad
	seq   seqnum.Value
	ack   seqnum.Value
	flags uint8
}

// RSTQueue holds stateless RST responses awaiting transmission: resets
// generated for a bad ACK in SYN-RCVD, an unexpected SYN on a
// synchronized connection, or a SYN addressed to a closed port. None of
// these have a live Connection to hang the reply off of, hence the
// separate queue. Not safe for concurrent use; callers serialize access
// through the connection manager's mutex.
type RSTQueue struct {
	buf [rstQueueSize]rstEntry
	n   int
}

// QueueForSeq queues a RST|ACK whose acknowledgment number covers the
// segment that provoked it (used when the offending segment had no ACK
// bit, e.g. a SYN to a closed port: RST.SEQ=0, RST.ACK=SEG.SEQ+SEG.LEN).
func (q *RSTQueue) QueueForSeq(quad Quad, ackFor seqnum.Value) {
	q.push(rstEntry{quad: quad, seq: 0, ack: ackFor, flags: rstFlagHasAck})
}

// QueueForAck queues a bare RST at the given sequence number (used when
// the offending segment itself carried an ACK we are simply reflecting,
// e.g. RFC 793's "SEG.ACK" branch: RST.SEQ=SEG.ACK).
func (q *RSTQueue) QueueForAck(quad Quad, seq seqnum.Value) {
	q.push(rstEntry{quad: quad, seq: seq, flags: 0})
}

const rstFlagHasAck = 1

func (q *RSTQueue) push(e rstEntry) {
	if q.n >= len(q.buf) {
		return // drop: queue is a best-effort convenience, not a guarantee.
	}
	q.buf[q.n] = e
	q.n++
}

// Pending reports how many RSTs are waiting to be drained.
func (q *RSTQueue) Pending() int { return q.n }

// Drain removes and returns the oldest queued RST.
func (q *RSTQueue) Drain() (quad Quad, seg Segment, ok bool) {
	if q.n == 0 {
		return Quad{}, Segment{}, false
	}
	e := q.buf[0]
	copy(q.buf[:], q.buf[1:q.n])
	q.n--
	seg = Segment{Seq: e.seq, Flags: header.FlagRST}
	if e.flags&rstFlagHasAck != 0 {
		seg.Ack = e.ack
		seg.Flags |= header.FlagACK
	}
	return e.quad, seg, true
}
