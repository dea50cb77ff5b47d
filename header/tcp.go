package header

import (
	"encoding/binary"
	"errors"
	"strings"
)

// SizeTCP is the length in bytes of a TCP header with no options.
const SizeTCP = 20

// Flags holds the six RFC 793 §3.1 control bits of a TCP header. The
// later ECE/CWR/NS bits are never produced and are masked off on read;
// URG is decoded and printed but never acted on.
type Flags uint16

const (
	FlagFIN Flags = 1 << 0
	FlagSYN Flags = 1 << 1
	FlagRST Flags = 1 << 2
	FlagPSH Flags = 1 << 3
	FlagACK Flags = 1 << 4
	FlagURG Flags = 1 << 5

	flagMask = 0x3f

	FlagsSynAck = FlagSYN | FlagACK
	FlagsFinAck = FlagFIN | FlagACK
	FlagsPshAck = FlagPSH | FlagACK
)

// HasAll reports whether f contains every bit set in mask.
func (f Flags) HasAll(mask Flags) bool { return f&mask == mask }

// HasAny reports whether f contains at least one bit set in mask.
func (f Flags) HasAny(mask Flags) bool { return f&mask != 0 }

func (f Flags) String() string {
	if f&flagMask == 0 {
		return "none"
	}
	var b strings.Builder
	add := func(name string, bit Flags) {
		if f.HasAny(bit) {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(name)
		}
	}
	add("SYN", FlagSYN)
	add("ACK", FlagACK)
	add("FIN", FlagFIN)
	add("RST", FlagRST)
	add("PSH", FlagPSH)
	add("URG", FlagURG)
	return b.String()
}

var (
	errShortTCP   = errors.New("header: short tcp buffer")
	errBadDataOff = errors.New("header: bad tcp data offset")
)

// NewTCP wraps buf as a TCP header view. buf must hold at least SizeTCP
// bytes of header.
func NewTCP(buf []byte) (TCP, error) {
	if len(buf) < SizeTCP {
		return TCP{}, errShortTCP
	}
	return TCP{buf: buf}, nil
}

// TCP is a zero-allocation accessor over a TCP segment's wire bytes.
type TCP struct {
	buf []byte
}

// RawData returns the full underlying buffer.
func (f TCP) RawData() []byte { return f.buf }

// SourcePort returns the source port.
func (f TCP) SourcePort() uint16 { return binary.BigEndian.Uint16(f.buf[0:2]) }

// SetSourcePort sets the source port.
func (f TCP) SetSourcePort(v uint16) { binary.BigEndian.PutUint16(f.buf[0:2], v) }

// DestinationPort returns the destination port.
func (f TCP) DestinationPort() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

// SetDestinationPort sets the destination port.
func (f TCP) SetDestinationPort(v uint16) { binary.BigEndian.PutUint16(f.buf[2:4], v) }

// Seq returns the sequence number field.
func (f TCP) Seq() uint32 { return binary.BigEndian.Uint32(f.buf[4:8]) }

// SetSeq sets the sequence number field.
func (f TCP) SetSeq(v uint32) { binary.BigEndian.PutUint32(f.buf[4:8], v) }

// Ack returns the acknowledgment number field.
func (f TCP) Ack() uint32 { return binary.BigEndian.Uint32(f.buf[8:12]) }

// SetAck sets the acknowledgment number field.
func (f TCP) SetAck(v uint32) { binary.BigEndian.PutUint32(f.buf[8:12], v) }

func (f TCP) dataOffset() uint8 { return f.buf[12] >> 4 }

// HeaderLength returns the header length in bytes, including options.
func (f TCP) HeaderLength() int { return int(f.dataOffset()) * 4 }

// SetDataOffset sets the data-offset nibble, in 32-bit words.
func (f TCP) SetDataOffset(words uint8) { f.buf[12] = words<<4 | f.buf[12]&0xf }

// Flags returns the control flags.
func (f TCP) Flags() Flags { return Flags(binary.BigEndian.Uint16(f.buf[12:14]) & flagMask) }

// SetFlags sets the control flags, leaving the data-offset nibble intact.
func (f TCP) SetFlags(flags Flags) {
	v := binary.BigEndian.Uint16(f.buf[12:14])
	v = v&0xfc00 | uint16(flags)&flagMask
	binary.BigEndian.PutUint16(f.buf[12:14], v)
}

// WindowSize returns the advertised receive window.
func (f TCP) WindowSize() uint16 { return binary.BigEndian.Uint16(f.buf[14:16]) }

// SetWindowSize sets the advertised receive window.
func (f TCP) SetWindowSize(v uint16) { binary.BigEndian.PutUint16(f.buf[14:16], v) }

// CRC returns the checksum field.
func (f TCP) CRC() uint16 { return binary.BigEndian.Uint16(f.buf[16:18]) }

// SetCRC sets the checksum field.
func (f TCP) SetCRC(v uint16) { binary.BigEndian.PutUint16(f.buf[16:18], v) }

// UrgentPtr returns the urgent pointer field. Never consulted: urgent
// data handling is out of scope.
func (f TCP) UrgentPtr() uint16 { return binary.BigEndian.Uint16(f.buf[18:20]) }

// SetUrgentPtr sets the urgent pointer field.
func (f TCP) SetUrgentPtr(v uint16) { binary.BigEndian.PutUint16(f.buf[18:20], v) }

// Options returns the variable-length options portion of the header.
func (f TCP) Options() []byte {
	return f.buf[SizeTCP:f.HeaderLength()]
}

// Payload returns the segment data following the header, given the
// total segment length (header+data) present in buf.
func (f TCP) Payload(segmentLen int) []byte {
	return f.buf[f.HeaderLength():segmentLen]
}

// ClearHeader zeros the fixed 20-byte header.
func (f TCP) ClearHeader() {
	for i := range f.buf[:SizeTCP] {
		f.buf[i] = 0
	}
}

// ValidateSize checks the data-offset field against the buffer length.
func (f TCP) ValidateSize(errs *[]error) {
	if f.HeaderLength() < SizeTCP || f.HeaderLength() > len(f.buf) {
		*errs = append(*errs, errBadDataOff)
	}
}
