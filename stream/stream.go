package stream

import (
	"errors"
	"io"

	"github.com/lucasig11/trust-go/tcp"
)

// Stream is a single established connection's byte-stream handle.
// Read and Write block under the Interface's shared mutex, waking on
// the recv/send condition variables when the packet loop makes progress.
type Stream struct {
	iface *Interface
	quad  tcp.Quad
	conn  *tcp.Connection
}

// Read blocks until at least one byte has been delivered, the remote
// end's FIN has been processed (returning io.EOF once the inbox is
// drained), or the Interface is closed.
func (s *Stream) Read(p []byte) (int, error) {
	s.iface.mu.Lock()
	defer s.iface.mu.Unlock()
	for {
		n, err := s.conn.Read(p)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, tcp.ErrConnectionClosed):
			return 0, io.EOF
		case errors.Is(err, tcp.ErrConnectionAborted):
			return 0, err
		}
		if s.iface.closed {
			return 0, io.ErrClosedPipe
		}
		s.iface.recvCV.Wait()
	}
}

// Write blocks until all of p has been accepted into the connection's
// send buffer, returning early with an error if the connection closes
// while some of p is still unwritten.
func (s *Stream) Write(p []byte) (int, error) {
	s.iface.mu.Lock()
	defer s.iface.mu.Unlock()
	total := 0
	for total < len(p) {
		n, err := s.conn.Write(p[total:])
		total += n
		if err != nil && !errors.Is(err, tcp.ErrWouldBlock) {
			return total, err
		}
		if n > 0 {
			s.iface.flushLocked()
		}
		if total == len(p) {
			break
		}
		if s.iface.closed {
			return total, io.ErrClosedPipe
		}
		s.iface.sendCV.Wait()
	}
	return total, nil
}

// Flush blocks until every previously-written byte has been sent and
// acknowledged (unacked drains to empty), waking on the same send
// condition variable Write blocks on. Returns immediately if unacked is
// already empty, and returns an error without blocking if the connection
// has been reset.
func (s *Stream) Flush() error {
	s.iface.mu.Lock()
	defer s.iface.mu.Unlock()
	for {
		done, err := s.conn.Flushed()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		s.iface.flushLocked()
		if s.iface.closed {
			return io.ErrClosedPipe
		}
		s.iface.sendCV.Wait()
	}
}

// Close initiates a graceful shutdown of the write side (queues a FIN
// once buffered data has been sent) and flushes immediately rather than
// waiting for the next tick.
func (s *Stream) Close() error {
	s.iface.mu.Lock()
	defer s.iface.mu.Unlock()
	err := s.conn.Close()
	s.iface.flushLocked()
	return err
}

// Quad returns the connection's four-tuple of local and remote endpoints.
func (s *Stream) Quad() tcp.Quad { return s.quad }

// State returns the connection's current TCB state, mostly useful for
// tests and diagnostics.
func (s *Stream) State() tcp.State {
	s.iface.mu.Lock()
	defer s.iface.mu.Unlock()
	return s.conn.State()
}
