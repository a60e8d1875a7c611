// Package tcp adapts sockets from package net to [transport.Conn].
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9293
package tcp

import (
	"context"
	"courier/application/util/domain"
	"courier/transport"
	"crypto/tls"
	"io"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

type Addr struct {
	Host string
	Port uint16
}

var _ transport.Addr = Addr{}

func NewAddr(host string, port uint16) Addr {
	return Addr{Host: host, Port: port}
}

func (a Addr) Network() string { return transport.NetworkTCP }

func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.FormatUint(uint64(a.Port), 10))
}

func addrFrom(na net.Addr) transport.Addr {
	if ta, ok := na.(*net.TCPAddr); ok {
		return Addr{Host: ta.IP.String(), Port: uint16(ta.Port)}
	}
	return Addr{Host: na.String()}
}

type Conn struct {
	nc net.Conn

	local, remote transport.Addr
}

var _ transport.Conn = (*Conn)(nil)

func NewConn(nc net.Conn) *Conn {
	return &Conn{
		nc:     nc,
		local:  addrFrom(nc.LocalAddr()),
		remote: addrFrom(nc.RemoteAddr()),
	}
}

func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.nc.Read(p)
	return n, convertError(err)
}

func (c *Conn) Write(p []byte) (int, error) {
	n, err := c.nc.Write(p)
	return n, convertError(err)
}

func (c *Conn) Close() error {
	if err := c.nc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (c *Conn) LocalAddr() transport.Addr  { return c.local }
func (c *Conn) RemoteAddr() transport.Addr { return c.remote }

func (c *Conn) SetReadDeadLine(t time.Time)  { _ = c.nc.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadLine(t time.Time) { _ = c.nc.SetWriteDeadline(t) }

// convertError maps errors from package net into the ones from [transport].
func convertError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, syscall.EPIPE):
		return errors.Wrap(transport.ErrConnClosed, err.Error())
	case errors.Is(err, os.ErrDeadlineExceeded):
		return errors.Wrap(transport.ErrDeadLineExceeded, err.Error())
	case errors.Is(err, syscall.ECONNRESET):
		return errors.Wrap(transport.ErrConnReset, err.Error())
	case errors.Is(err, syscall.ECONNREFUSED):
		return errors.Wrap(transport.ErrConnRefused, err.Error())
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return errors.Wrap(transport.ErrNetUnreachable, err.Error())
	}
	return err
}

type Dialer struct {
	// Lookuper resolves host names. The system resolver is used when nil.
	Lookuper domain.Lookuper
	// TLSConfig is used for addresses on [transport.NetworkTLS].
	TLSConfig *tls.Config

	Timeout   time.Duration
	KeepAlive time.Duration
}

var _ transport.ConnDialer = (*Dialer)(nil)

func (d *Dialer) Dial(ctx context.Context, addr transport.Addr) (transport.Conn, error) {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil, errors.Wrapf(err, "splitting address %q", addr.String())
	}

	ips, err := d.resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	nd := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}

	var nc net.Conn
	var lastErr error
	for _, ip := range ips {
		nc, lastErr = nd.DialContext(ctx, "tcp", net.JoinHostPort(ip, port))
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return nil, errors.Wrapf(convertError(lastErr), "dialing %s", addr)
	}

	if addr.Network() == transport.NetworkTLS {
		cfg := &tls.Config{}
		if d.TLSConfig != nil {
			cfg = d.TLSConfig.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}

		tc := tls.Client(nc, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = nc.Close()
			return nil, errors.Wrapf(err, "tls handshake with %s", addr)
		}
		nc = tc
	}

	return NewConn(nc), nil
}

func (d *Dialer) resolve(ctx context.Context, host string) ([]string, error) {
	if net.ParseIP(host) != nil {
		return []string{host}, nil
	}

	lookuper := d.Lookuper
	if lookuper == nil {
		lookuper = domain.NewResolverLookuper(nil)
	}

	ips, err := lookuper.LookupHost(ctx, host)
	if err != nil {
		return nil, errors.Wrapf(err, "lookup for host(%s) failed", host)
	}
	if len(ips) == 0 {
		return nil, errors.Wrapf(domain.ErrDomainNotFound, "no address for %s", host)
	}

	return ips, nil
}
