//go:build linux || darwin

package tcp

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

var _ interface{ Alive() bool } = (*Conn)(nil)

// Alive polls the socket without blocking.
// An idle keep-alive connection must have nothing to read.
func (c *Conn) Alive() bool {
	raw := rawConnOf(c.nc)
	if raw == nil {
		return true
	}

	alive := true
	err := raw.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 0)
		if err != nil || n == 0 {
			return
		}

		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			alive = false
			return
		}

		// Readable means EOF from the peer or unsolicited bytes.
		// Either way the stream can not carry another exchange.
		buf := make([]byte, 1)
		_, _, err = unix.Recvfrom(int(fd), buf, unix.MSG_PEEK|unix.MSG_DONTWAIT)
		alive = err == unix.EAGAIN || err == unix.EWOULDBLOCK
	})

	return err == nil && alive
}

func rawConnOf(nc net.Conn) syscall.RawConn {
	if t, ok := nc.(interface{ NetConn() net.Conn }); ok {
		nc = t.NetConn()
	}
	sc, ok := nc.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil
	}
	return raw
}
