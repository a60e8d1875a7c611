package pipe

import (
	"context"
	"courier/transport"
	"sync"

	"github.com/benbjohnson/clock"
)

type dialRequest struct {
	conn     *Conn
	accepted chan struct{}
}

// PipeTransport routes dials to listeners by the string form of the address.
type PipeTransport struct {
	clock clock.Clock

	mu        sync.Mutex
	listeners map[string]*Listener
}

var _ transport.ConnDialer = (*PipeTransport)(nil)

func NewPipeTransport(clock clock.Clock) *PipeTransport {
	return &PipeTransport{
		clock:     clock,
		listeners: make(map[string]*Listener),
	}
}

func (pt *PipeTransport) Dial(ctx context.Context, addr transport.Addr) (transport.Conn, error) {
	pt.mu.Lock()
	lis, ok := pt.listeners[addr.String()]
	pt.mu.Unlock()

	if !ok {
		return nil, transport.ErrNetUnreachable
	}

	local, remote := Pipe("dialer", addr.String(), pt.clock)

	req := dialRequest{conn: remote, accepted: make(chan struct{})}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-lis.closed:
		return nil, transport.ErrConnRefused
	case lis.requests <- req:
	}

	select {
	case <-ctx.Done():
		_ = local.Close()
		return nil, ctx.Err()
	case <-lis.closed:
		return nil, transport.ErrConnRefused
	case <-req.accepted:
	}

	return local, nil
}

func (pt *PipeTransport) Listen(addr transport.Addr) (*Listener, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	key := addr.String()
	if _, ok := pt.listeners[key]; ok {
		return nil, transport.ErrAddrAlreadyInUse
	}

	lis := &Listener{
		addr:      addr,
		transport: pt,
		requests:  make(chan dialRequest),
		closed:    make(chan struct{}),
	}
	pt.listeners[key] = lis

	return lis, nil
}

type Listener struct {
	addr      transport.Addr
	transport *PipeTransport

	requests  chan dialRequest
	closed    chan struct{}
	closeOnce sync.Once
}

var _ transport.ConnListener = (*Listener)(nil)

func (l *Listener) Addr() transport.Addr { return l.addr }

func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, transport.ErrConnListenerClosed
	case req := <-l.requests:
		close(req.accepted)
		return req.conn, nil
	}
}

func (l *Listener) Close() error {
	err := transport.ErrConnListenerClosed
	l.closeOnce.Do(func() {
		close(l.closed)

		l.transport.mu.Lock()
		delete(l.transport.listeners, l.addr.String())
		l.transport.mu.Unlock()

		err = nil
	})
	return err
}
