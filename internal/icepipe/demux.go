// Package icepipe implements the per-Component transport pipeline: ICE
// candidate gathering/connectivity (pion/ice), the RFC 7983 receive-path
// byte demultiplexer, the DTLS handshake driver (pion/dtls), and the SRTP
// read/write contexts it yields (pion/srtp) (spec §4.6, §4.8).
//
// The demultiplexer's byte-range classification and net.Conn-per-class
// shape are grounded on the teacher pack's own internal/mux package
// (github.com/pion/webrtc's RFC 7983 mux), reimplemented here with a
// channel-backed queue instead of packetio.Buffer so the package has no
// dependency beyond what it already needs for ICE itself.
package icepipe

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/pion/stun/v3"
)

// Class is the RFC 7983 packet class of one received byte stream, keyed
// off its first byte.
type Class int

const (
	ClassUnknown Class = iota
	ClassSTUN
	ClassZRTP
	ClassDTLS
	ClassTURNChannel
	ClassRTP
	ClassRTCP
)

// Classify returns the RFC 7983 class of a packet, given its first two
// bytes. Within the [128..191] RTP/RTCP range, the second byte (RTCP's
// packet type, 192..223 per RFC 5761's rtcp-mux convention) distinguishes
// RTP from RTCP so each can ride its own SRTP/SRTCP context.
func Classify(buf []byte) Class {
	if len(buf) == 0 {
		return ClassUnknown
	}
	first := buf[0]
	switch {
	case first <= 3:
		if stun.IsMessage(buf) {
			return ClassSTUN
		}
		return ClassUnknown
	case first >= 16 && first <= 19:
		return ClassZRTP
	case first >= 20 && first <= 63:
		return ClassDTLS
	case first >= 64 && first <= 79:
		return ClassTURNChannel
	case first >= 128 && first <= 191:
		if len(buf) >= 2 && buf[1] >= 192 && buf[1] <= 223 {
			return ClassRTCP
		}
		return ClassRTP
	default:
		return ClassUnknown
	}
}

const endpointQueueDepth = 256

// Endpoint is a net.Conn backed by a demultiplexed packet queue: Read
// drains packets the Demux classified as belonging to it; Write forwards
// directly to the shared underlying connection.
type Endpoint struct {
	demux  *Demux
	queue  chan []byte
	closed chan struct{}
}

func newEndpoint(d *Demux) *Endpoint {
	return &Endpoint{demux: d, queue: make(chan []byte, endpointQueueDepth), closed: make(chan struct{})}
}

// Read implements net.Conn.
func (e *Endpoint) Read(p []byte) (int, error) {
	select {
	case buf, ok := <-e.queue:
		if !ok {
			return 0, io.EOF
		}
		n := copy(p, buf)
		return n, nil
	case <-e.closed:
		return 0, io.EOF
	}
}

// Write implements net.Conn by forwarding to the shared underlying conn.
func (e *Endpoint) Write(p []byte) (int, error) {
	return e.demux.conn.Write(p)
}

// Close unregisters the endpoint from its Demux.
func (e *Endpoint) Close() error {
	e.demux.removeEndpoint(e)
	select {
	case <-e.closed:
	default:
		close(e.closed)
	}
	return nil
}

func (e *Endpoint) LocalAddr() net.Addr                { return e.demux.conn.LocalAddr() }
func (e *Endpoint) RemoteAddr() net.Addr               { return e.demux.conn.RemoteAddr() }
func (e *Endpoint) SetDeadline(t time.Time) error      { return e.demux.conn.SetDeadline(t) }
func (e *Endpoint) SetReadDeadline(t time.Time) error  { return nil }
func (e *Endpoint) SetWriteDeadline(t time.Time) error { return e.demux.conn.SetWriteDeadline(t) }

func (e *Endpoint) deliver(buf []byte) {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	select {
	case e.queue <- cp:
	default:
		// Queue full: drop rather than block the shared read loop.
	}
}

// Demux reads from one shared net.Conn (an ICE selected-pair connection)
// and fans packets out to per-class Endpoints, per RFC 7983 and spec
// §4.8's receive-path description.
type Demux struct {
	conn      net.Conn
	mu        chanMutex
	endpoints map[Class]*Endpoint
	stop      chan struct{}
	errCh     chan error
}

// chanMutex is a tiny non-reentrant mutex; a plain sync.Mutex would do,
// named here only to keep the zero-value-usable pattern explicit.
type chanMutex struct{ ch chan struct{} }

func (m *chanMutex) lock() {
	if m.ch == nil {
		m.ch = make(chan struct{}, 1)
	}
	m.ch <- struct{}{}
}
func (m *chanMutex) unlock() { <-m.ch }

// NewDemux starts demultiplexing conn in a background goroutine. Call
// Endpoint(class) before traffic of that class arrives; unclassified
// classes are silently dropped.
func NewDemux(conn net.Conn) *Demux {
	d := &Demux{
		conn:      conn,
		endpoints: make(map[Class]*Endpoint),
		stop:      make(chan struct{}),
		errCh:     make(chan error, 1),
	}
	go d.readLoop()
	return d
}

// Endpoint returns (creating if necessary) the net.Conn carrying packets
// of the given class.
func (d *Demux) Endpoint(class Class) *Endpoint {
	d.mu.lock()
	defer d.mu.unlock()
	if e, ok := d.endpoints[class]; ok {
		return e
	}
	e := newEndpoint(d)
	d.endpoints[class] = e
	return e
}

func (d *Demux) removeEndpoint(e *Endpoint) {
	d.mu.lock()
	defer d.mu.unlock()
	for class, existing := range d.endpoints {
		if existing == e {
			delete(d.endpoints, class)
		}
	}
}

// Err returns the terminal read-loop error, if the demux has stopped.
func (d *Demux) Err() error {
	select {
	case err := <-d.errCh:
		d.errCh <- err
		return err
	default:
		return nil
	}
}

// Close stops the read loop and closes all registered endpoints.
func (d *Demux) Close() error {
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
	d.mu.lock()
	for _, e := range d.endpoints {
		close(e.closed)
	}
	d.mu.unlock()
	return nil
}

func (d *Demux) readLoop() {
	buf := make([]byte, 1500)
	for {
		select {
		case <-d.stop:
			return
		default:
		}
		_ = d.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, err := d.conn.Read(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case d.errCh <- err:
			default:
			}
			return
		}
		if n == 0 {
			continue
		}
		class := Classify(buf[:n])
		d.mu.lock()
		e, ok := d.endpoints[class]
		d.mu.unlock()
		if ok {
			e.deliver(buf[:n])
		}
	}
}

// WaitClosed blocks until Close has been called or ctx is done. A read
// loop that stops on its own after a read error does not end the wait;
// Err reports that error.
func (d *Demux) WaitClosed(ctx context.Context) error {
	select {
	case <-d.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
