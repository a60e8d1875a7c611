// Package server is a small HTTP/1.1 origin.
// It serves one request at a time per connection and never pipelines,
// which is all the client needs from a peer to be exercised over in-memory transports.
package server

import (
	"context"
	"log/slog"
	"sync"

	"courier/application/http"
	"courier/application/http/transfer"
	"courier/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

type Server struct {
	l transport.ConnListener

	closeListener func()
	wg            sync.WaitGroup

	logger *slog.Logger
	opts   Options

	handle   HandleFunc
	transfer *transfer.CodingApplier
	clock    clock.Clock

	mu       sync.Mutex
	conns    map[*conn]struct{}
	accepted int
	closed   bool
}

func New(
	l transport.ConnListener,
	logger *slog.Logger,
	clock clock.Clock,
	handle HandleFunc,
	opts Options,
) *Server {
	s := &Server{
		l:        l,
		logger:   logger,
		opts:     opts,
		handle:   handle,
		clock:    clock,
		transfer: transfer.NewCodingApplier(opts.Decode, opts.ExtraTransferCoders),
		conns:    make(map[*conn]struct{}),
	}

	return s
}

func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.closeListener = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.acceptConn(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, transport.ErrConnListenerClosed) {
					s.logger.Error(
						"unexpected error when accepting connection",
						"error", err.Error(),
					)
				}
				return
			}

			if !s.track(conn) {
				_ = conn.con.Close()
				return
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.forget(conn)
				conn.serve(ctx)
			}()
		}
	}()
}

func (s *Server) acceptConn(ctx context.Context) (*conn, error) {
	con, err := s.l.Accept(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listening for connection")
	}

	conn := &conn{
		con:      con,
		dec:      http.NewRequestDecoder(con, s.opts.Decode),
		enc:      http.NewResponseEncoder(con, s.opts.Encode),
		handle:   s.handle,
		opts:     s.opts,
		logger:   s.logger.With("conn", con.RemoteAddr()),
		transfer: s.transfer,
		clock:    s.clock,
	}

	return conn, nil
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	s.accepted++
	c.id = s.accepted
	s.conns[c] = struct{}{}

	return true
}

func (s *Server) forget(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Accepted returns how many connections were accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Close stops accepting, closes every live connection and waits for them to wind down.
// The listener itself is left to its owner.
func (s *Server) Close() error {
	if s.closeListener != nil {
		s.closeListener()
	}

	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		_ = c.con.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
