package client

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

var ErrDoubleRelease = errors.New("lease was already released")

// lease is the exclusive use of a conn for one exchange.
type lease struct {
	pool *connPool
	conn *conn

	released atomic.Bool
}

func newLease(pool *connPool, conn *conn) *lease {
	return &lease{pool: pool, conn: conn}
}

// release gives the conn back. A clean conn can serve another exchange.
// Only the first call has any effect.
func (l *lease) release(clean bool) error {
	if !l.released.CompareAndSwap(false, true) {
		return ErrDoubleRelease
	}

	l.pool.release(l.conn, clean)
	return nil
}
