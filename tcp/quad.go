package tcp

import "fmt"

// Quad identifies a single TCP connection by its four-tuple of
// endpoints. Since this stack only ever has one local IP address (the
// tunnel's own address), LocalAddr is carried mostly for symmetry with
// the wire header and for disambiguating future multi-address setups.
type Quad struct {
	LocalAddr  [4]byte
	RemoteAddr [4]byte
	LocalPort  uint16
	RemotePort uint16
}

func (q Quad) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d <-> %d.%d.%d.%d:%d",
		q.LocalAddr[0], q.LocalAddr[1], q.LocalAddr[2], q.LocalAddr[3], q.LocalPort,
		q.RemoteAddr[0], q.RemoteAddr[1], q.RemoteAddr[2], q.RemoteAddr[3], q.RemotePort)
}
