package stream

import "github.com/lucasig11/trust-go/tcp"

// Listener accepts inbound connections on one port. All its state lives
// in the owning Interface; Listener is just a handle plus the port it
// was issued for.
type Listener struct {
	iface *Interface
	port  uint16
}

// Accept blocks until a connection on this port completes its handshake,
// returning a Stream wrapping it, or returns tcp.ErrListenerClosed once
// the Interface has been closed.
func (l *Listener) Accept() (*Stream, error) {
	l.iface.mu.Lock()
	defer l.iface.mu.Unlock()
	for {
		if l.iface.closed {
			return nil, tcp.ErrListenerClosed
		}
		if q, ok := l.iface.mgr.Accept(l.port); ok {
			conn, ok := l.iface.mgr.Conn(q)
			if !ok {
				continue // evicted between promotion and accept; try again
			}
			return &Stream{iface: l.iface, quad: q, conn: conn}, nil
		}
		l.iface.pendingCV.Wait()
	}
}

// Close stops this listener from accepting new connections. Connections
// already accepted are unaffected.
func (l *Listener) Close() error {
	l.iface.mu.Lock()
	defer l.iface.mu.Unlock()
	l.iface.mgr.Unlisten(l.port)
	return nil
}

// Port returns the port this listener was created for.
func (l *Listener) Port() uint16 { return l.port }
