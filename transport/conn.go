package transport

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrConnClosed         = errors.New("connection is closed")
	ErrConnRefused        = errors.New("connection refused")
	ErrConnReset          = errors.New("connection reset by peer")
	ErrNetUnreachable     = errors.New("network is unreachable")
	ErrAddrAlreadyInUse   = errors.New("address already in use")
	ErrConnListenerClosed = errors.New("conn listener is closed")
	ErrDeadLineExceeded   = errors.New("deadline exceeded")
)

type Conn interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error

	LocalAddr() Addr
	RemoteAddr() Addr

	SetReadDeadLine(t time.Time)
	SetWriteDeadLine(t time.Time)
}

// Prober is implemented by conns that can tell whether the peer
// silently went away while the conn was sitting idle.
type Prober interface {
	Alive() bool
}

type ConnListener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
}

type ConnDialer interface {
	Dial(ctx context.Context, addr Addr) (Conn, error)
}
