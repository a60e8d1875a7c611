package client

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"

	"courier/application/http/semantic"
	"courier/transport"

	"github.com/pkg/errors"
)

// body pulls decoded content of a response from the conn actor.
// The lease is released once the content ends, fails, or is closed early.
type body struct {
	ex    *exchange
	lease *lease
	resp  *semantic.Response
	url   *url.URL

	empty      bool
	emptyClean bool

	// cancel ends the context of the exchange. Nil for skipped redirect responses.
	cancel context.CancelFunc
	// unwatch stops retiring the conn once the context of the exchange ends.
	watchMu sync.Mutex
	unwatch func() bool

	logger *slog.Logger

	err        error
	closed     atomic.Bool
	finishOnce sync.Once
}

var _ io.ReadCloser = (*body)(nil)

func (b *body) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.closed.Load() {
		return 0, ErrBodyClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	if err := b.ex.ctx.Err(); err != nil {
		b.fail(err)
		return 0, b.err
	}

	if b.empty {
		b.finish(b.emptyClean)
		b.err = io.EOF
		return 0, io.EOF
	}

	res, err := b.pull(len(p))
	if err != nil {
		if cerr := b.ex.ctx.Err(); cerr != nil && !b.closed.Load() {
			// The exchange was ended by its context, not by the caller.
			err = cerr
		}
		b.fail(err)
		return 0, b.err
	}

	// data belongs to the actor. Copy it before the conn can move on.
	n := copy(p, res.data)

	if len(res.trailers) > 0 {
		b.resp.AddTrailers(res.trailers)
	}

	switch {
	case res.err == nil:
		return n, nil
	case errors.Is(res.err, io.EOF):
		b.finish(res.clean)
		b.err = io.EOF
	default:
		b.fail(res.err)
	}

	if n > 0 {
		// Delivered bytes go out first, the error comes with the next Read.
		return n, nil
	}
	return 0, b.err
}

func (b *body) pull(n int) (pullResult, error) {
	ctx, done := b.ex.ctx, b.lease.conn.done

	select {
	case b.ex.pulls <- n:
	case <-ctx.Done():
		return pullResult{}, ctx.Err()
	case <-b.ex.abandoned:
		return pullResult{}, ErrBodyClosed
	case <-done:
		return pullResult{}, transport.ErrConnClosed
	}

	select {
	case res := <-b.ex.pulled:
		return res, nil
	case <-ctx.Done():
		return pullResult{}, ctx.Err()
	case <-b.ex.abandoned:
		return pullResult{}, ErrBodyClosed
	case <-done:
		return pullResult{}, transport.ErrConnClosed
	}
}

func (b *body) fail(err error) {
	if errors.Is(err, ErrBodyClosed) {
		b.err = ErrBodyClosed
		return
	}

	e := classify(phaseBody, err).withURL(b.url)
	b.logger.Warn("reading body failed", slog.String("kind", e.Kind.String()), slog.Any("error", err))

	b.finish(false)
	b.err = e
}

// Close releases the conn. Closing before the end of the content retires it.
func (b *body) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	if b.empty {
		b.finish(b.emptyClean)
		return nil
	}

	b.finish(false)
	return nil
}

// watch retires the conn when ctx ends before the body is finished,
// so a body that is dropped without Close does not hold its lease forever.
func (b *body) watch(ctx context.Context) {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()
	b.unwatch = context.AfterFunc(ctx, func() { b.finish(false) })
}

func (b *body) finish(clean bool) {
	b.finishOnce.Do(func() {
		b.watchMu.Lock()
		if b.unwatch != nil {
			b.unwatch()
		}
		b.watchMu.Unlock()

		if !clean {
			b.ex.abandon()
		}

		if err := b.lease.release(clean); err != nil {
			b.logger.Error("releasing connection", slog.Any("error", err))
		}

		if b.cancel != nil {
			b.cancel()
		}
	})
}

// closedBody stands in for the body of a response handed out with an error.
type closedBody struct{}

func (closedBody) Read([]byte) (int, error) { return 0, ErrBodyClosed }
func (closedBody) Close() error             { return nil }
