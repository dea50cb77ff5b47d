// Package header provides zero-allocation accessor views over IPv4 and
// TCP headers laid out directly on wire-format byte slices, along with
// the RFC 791/793 checksum used by both.
package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// SizeIPv4 is the length in bytes of an IPv4 header with no options.
const SizeIPv4 = 20

// ProtoTCP is the IPv4 protocol number for TCP.
const ProtoTCP = 6

// IPv4 is an accessor over a byte slice holding an IPv4 packet. It never
// copies; all getters and setters act directly on buf.
type IPv4 struct {
	buf []byte
}

// NewIPv4 wraps buf as an IPv4 header view. buf must be at least
// SizeIPv4 bytes; callers should follow with ValidateSize once the
// total length field is known to be trustworthy.
func NewIPv4(buf []byte) (IPv4, error) {
	if len(buf) < SizeIPv4 {
		return IPv4{}, errShortIPv4
	}
	return IPv4{buf: buf}, nil
}

var errShortIPv4 = errors.New("header: short ipv4 buffer")
var errBadIPv4TotalLen = errors.New("header: bad ipv4 total length")
var errBadIPv4IHL = errors.New("header: bad ipv4 ihl")
var errBadIPv4Version = errors.New("header: bad ipv4 version")

// RawData returns the full underlying buffer the view was created over.
func (f IPv4) RawData() []byte { return f.buf }

func (f IPv4) ihl() uint8     { return f.buf[0] & 0xf }
func (f IPv4) version() uint8 { return f.buf[0] >> 4 }

// HeaderLength returns the header length in bytes, including options.
func (f IPv4) HeaderLength() int { return int(f.ihl()) * 4 }

// SetVersionAndIHL sets the version (always 4 here) and the header length
// in 32-bit words.
func (f IPv4) SetVersionAndIHL(version, ihl uint8) { f.buf[0] = version<<4 | ihl&0xf }

// ToS returns the type-of-service byte.
func (f IPv4) ToS() uint8 { return f.buf[1] }

// SetToS sets the type-of-service byte.
func (f IPv4) SetToS(v uint8) { f.buf[1] = v }

// TotalLength is the entire datagram size, header and payload.
func (f IPv4) TotalLength() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

// SetTotalLength sets TotalLength.
func (f IPv4) SetTotalLength(v uint16) { binary.BigEndian.PutUint16(f.buf[2:4], v) }

// ID is the fragment identification field. This stack never fragments,
// so it is set to an incrementing counter purely for diagnostic value.
func (f IPv4) ID() uint16 { return binary.BigEndian.Uint16(f.buf[4:6]) }

// SetID sets ID.
func (f IPv4) SetID(v uint16) { binary.BigEndian.PutUint16(f.buf[4:6], v) }

// FlagsAndFragOffset returns the raw 16-bit flags+fragment-offset field.
func (f IPv4) FlagsAndFragOffset() uint16 { return binary.BigEndian.Uint16(f.buf[6:8]) }

// SetFlagsAndFragOffset sets the raw flags+fragment-offset field. Always
// 0x4000 (don't-fragment, no offset) for segments this stack emits.
func (f IPv4) SetFlagsAndFragOffset(v uint16) { binary.BigEndian.PutUint16(f.buf[6:8], v) }

// TTL returns the time-to-live field.
func (f IPv4) TTL() uint8 { return f.buf[8] }

// SetTTL sets TTL.
func (f IPv4) SetTTL(v uint8) { f.buf[8] = v }

// Protocol returns the upper-layer protocol number.
func (f IPv4) Protocol() uint8 { return f.buf[9] }

// SetProtocol sets Protocol.
func (f IPv4) SetProtocol(v uint8) { f.buf[9] = v }

// CRC returns the header checksum field.
func (f IPv4) CRC() uint16 { return binary.BigEndian.Uint16(f.buf[10:12]) }

// SetCRC sets the header checksum field.
func (f IPv4) SetCRC(v uint16) { binary.BigEndian.PutUint16(f.buf[10:12], v) }

// CalculateHeaderCRC computes the IPv4 header checksum over the current
// header contents (the CRC field itself is excluded).
func (f IPv4) CalculateHeaderCRC() uint16 {
	var crc CRC791
	crc.Write(f.buf[0:10])
	crc.Write(f.buf[12:20])
	return NeverZero(crc.Sum16())
}

// WriteTCPPseudoHeader folds the IPv4 pseudo-header used by the TCP
// checksum (RFC 793 §3.1) into crc: source/destination address, zero
// byte, protocol, and TCP segment length.
func (f IPv4) WriteTCPPseudoHeader(crc *CRC791, tcpSegmentLen uint16) {
	crc.Write(f.SourceAddr()[:])
	crc.Write(f.DestinationAddr()[:])
	crc.AddUint16(ProtoTCP)
	crc.AddUint16(tcpSegmentLen)
}

// SourceAddr returns a pointer into the header's source address bytes.
func (f IPv4) SourceAddr() *[4]byte { return (*[4]byte)(f.buf[12:16]) }

// DestinationAddr returns a pointer into the header's destination address bytes.
func (f IPv4) DestinationAddr() *[4]byte { return (*[4]byte)(f.buf[16:20]) }

// Payload returns the datagram payload, i.e. everything after the header.
// Call ValidateSize first to avoid slicing past the buffer.
func (f IPv4) Payload() []byte {
	off := f.HeaderLength()
	return f.buf[off:f.TotalLength()]
}

// ClearHeader zeros the fixed 20-byte header.
func (f IPv4) ClearHeader() {
	for i := range f.buf[:SizeIPv4] {
		f.buf[i] = 0
	}
}

// ValidateSize checks the size-related header fields against the
// underlying buffer length and appends any problems found to errs.
func (f IPv4) ValidateSize(errs *[]error) {
	ihl := f.ihl()
	tl := f.TotalLength()
	if tl < SizeIPv4 {
		*errs = append(*errs, errBadIPv4TotalLen)
	}
	if int(tl) > len(f.buf) {
		*errs = append(*errs, errShortIPv4)
	}
	if ihl < 5 {
		*errs = append(*errs, errBadIPv4IHL)
	}
	if f.version() != 4 {
		*errs = append(*errs, errBadIPv4Version)
	}
}

func (f IPv4) String() string {
	src := netip.AddrFrom4(*f.SourceAddr())
	dst := netip.AddrFrom4(*f.DestinationAddr())
	return fmt.Sprintf("IP proto=%d src=%s dst=%s len=%d ttl=%d id=%d",
		f.Protocol(), src, dst, f.TotalLength(), f.TTL(), f.ID())
}
