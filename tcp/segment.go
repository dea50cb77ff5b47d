package tcp

import (
	"github.com/lucasig11/trust-go/header"
	"github.com/lucasig11/trust-go/seqnum"
)

// SendSequenceSpace tracks the local end's view of the outbound byte
// stream (RFC 793 §3.2 figure 4).
type SendSequenceSpace struct {
	UNA seqnum.Value // oldest unacknowledged sequence number
	NXT seqnum.Value // next sequence number to send
	WND seqnum.Size  // peer-advertised send window
	ISS seqnum.Value // initial send sequence number
}

// InFlight returns the number of bytes sent but not yet acknowledged.
func (s SendSequenceSpace) InFlight() seqnum.Size { return s.NXT.Sub(s.UNA) }

// MaxSend returns how many additional bytes may be sent before hitting
// the peer's advertised window.
func (s SendSequenceSpace) MaxSend() seqnum.Size {
	inFlight := s.InFlight()
	if inFlight >= s.WND {
		return 0
	}
	return s.WND - inFlight
}

// ReceiveSequenceSpace tracks the local end's view of the inbound byte
// stream (RFC 793 §3.2 figure 5).
type ReceiveSequenceSpace struct {
	NXT seqnum.Value // next sequence number expected from peer
	WND seqnum.Size  // window currently advertised to peer
	IRS seqnum.Value // initial receive sequence number
}

// Segment is a decoded, header-independent view of a TCP segment used
// by the TCB's admission and output logic.
type Segment struct {
	Seq   seqnum.Value
	Ack   seqnum.Value
	Flags header.Flags
	Wnd   seqnum.Size
	Data  []byte
}

// Len is the number of sequence numbers this segment occupies: payload
// bytes plus one each for a set SYN or FIN bit (RFC 793 §3.3).
func (s Segment) Len() seqnum.Size {
	l := seqnum.Size(len(s.Data))
	if s.Flags.HasAny(header.FlagSYN) {
		l++
	}
	if s.Flags.HasAny(header.FlagFIN) {
		l++
	}
	return l
}

// Last returns the sequence number of the final byte this segment
// occupies.
func (s Segment) Last() seqnum.Value {
	l := s.Len()
	if l == 0 {
		return s.Seq
	}
	return s.Seq.Add(l - 1)
}
