// Package pipe provides an in-memory transport.
// A pair of pipes behaves like a connected stream socket without any buffering.
package pipe

import (
	"courier/transport"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type Addr struct {
	Name string
}

func (a Addr) Network() string { return transport.NetworkPipe }
func (a Addr) String() string  { return a.Name }

var _ transport.Addr = Addr{}

type Conn struct {
	addr Addr
	peer *Conn

	// incoming receives slices written by the peer.
	// The number of consumed bytes is acknowledged on the peer's acks.
	incoming chan []byte
	acks     chan int

	writeMu sync.Mutex

	closed    chan struct{}
	closeOnce sync.Once

	rdeadline *deadline
	wdeadline *deadline
}

var (
	_ transport.Conn   = (*Conn)(nil)
	_ transport.Prober = (*Conn)(nil)
)

// Pipe creates a pair of connected conns.
// Every write blocks until the peer has read all of it.
func Pipe(name1, name2 string, clock clock.Clock) (c1, c2 *Conn) {
	c1, c2 = newConn(name1, clock), newConn(name2, clock)
	c1.peer, c2.peer = c2, c1
	return c1, c2
}

func newConn(name string, clock clock.Clock) *Conn {
	return &Conn{
		addr:      Addr{Name: name},
		incoming:  make(chan []byte),
		acks:      make(chan int),
		closed:    make(chan struct{}),
		rdeadline: newDeadline(clock),
		wdeadline: newDeadline(clock),
	}
}

func (c *Conn) LocalAddr() transport.Addr  { return c.addr }
func (c *Conn) RemoteAddr() transport.Addr { return c.peer.addr }

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Alive reports whether neither side has been closed.
func (c *Conn) Alive() bool {
	return !isDone(c.closed) && !isDone(c.peer.closed)
}

func (c *Conn) Read(b []byte) (int, error) {
	if err := c.check(c.rdeadline); err != nil {
		return 0, err
	}

	select {
	case p := <-c.incoming:
		n := copy(b, p)
		c.peer.acks <- n
		return n, nil
	case <-c.closed:
		return 0, transport.ErrConnClosed
	case <-c.peer.closed:
		return 0, transport.ErrConnClosed
	case <-c.rdeadline.wait():
		return 0, transport.ErrDeadLineExceeded
	}
}

func (c *Conn) Write(b []byte) (int, error) {
	if err := c.check(c.wdeadline); err != nil {
		return 0, err
	}

	if len(b) == 0 {
		return 0, nil
	}

	// Concurrent writers must not interleave their bytes.
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	written := 0
	for len(b) > 0 {
		select {
		case c.peer.incoming <- b:
			n := <-c.acks
			b = b[n:]
			written += n
		case <-c.closed:
			return written, transport.ErrConnClosed
		case <-c.peer.closed:
			return written, transport.ErrConnClosed
		case <-c.wdeadline.wait():
			return written, transport.ErrDeadLineExceeded
		}
	}

	return written, nil
}

func (c *Conn) SetReadDeadLine(t time.Time)  { c.rdeadline.set(t) }
func (c *Conn) SetWriteDeadLine(t time.Time) { c.wdeadline.set(t) }

func (c *Conn) check(d *deadline) error {
	switch {
	case isDone(c.closed), isDone(c.peer.closed):
		return transport.ErrConnClosed
	case isDone(d.wait()):
		return transport.ErrDeadLineExceeded
	}
	return nil
}

// deadline is a channel which gets closed when the time set is reached.
type deadline struct {
	clock clock.Clock

	mu    sync.Mutex
	timer *clock.Timer
	done  chan struct{}
}

func newDeadline(clock clock.Clock) *deadline {
	return &deadline{clock: clock, done: make(chan struct{})}
}

func (d *deadline) set(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fired := false
	if d.timer != nil {
		// A timer which could not be stopped owns the current channel.
		fired = !d.timer.Stop()
		d.timer = nil
	}

	if fired || isDone(d.done) {
		d.done = make(chan struct{})
	}

	// Zero value means no deadline.
	if t.IsZero() {
		return
	}

	dur := d.clock.Until(t)
	if dur <= 0 {
		close(d.done)
		return
	}

	done := d.done
	d.timer = d.clock.AfterFunc(dur, func() { close(done) })
}

func (d *deadline) wait() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

func isDone(c <-chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}
