package client

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"courier/application/http"
	"courier/application/http/semantic"
	"courier/application/http/semantic/status"
	"courier/application/http/transfer"
	iolib "courier/lib/io"
	"courier/transport"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type connState int

const (
	stateIdle connState = iota
	stateLeased
	stateRetired
)

const pullBufferSize = 32 * 1024

// conn is the actor owning one transport conn.
// Only its goroutine reads from or writes to the transport.
// It serves one exchange at a time, received through the mailbox.
type conn struct {
	id       uuid.UUID
	endpoint Endpoint
	tc       transport.Conn

	dec      *http.ResponseDecoder
	enc      *http.RequestEncoder
	transfer *transfer.CodingApplier
	opts     ReceiveOptions

	logger *slog.Logger

	mailbox  chan *exchange
	quit     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	buf []byte

	// Guarded by the pool.
	state  connState
	idleAt time.Time
}

func startConn(
	tc transport.Conn,
	endpoint Endpoint,
	transfer *transfer.CodingApplier,
	opts Options,
	logger *slog.Logger,
) *conn {
	id := uuid.New()

	c := &conn{
		id:       id,
		endpoint: endpoint,
		tc:       tc,
		// The decoder sees a closed conn as the end of the stream,
		// which is how close-delimited bodies end.
		dec:      http.NewResponseDecoder(&connClosedReader{r: tc}, opts.Receive.Decode),
		enc:      http.NewRequestEncoder(tc, opts.Send.Encode),
		transfer: transfer,
		opts:     opts.Receive,
		logger: logger.With(
			slog.String("conn", id.String()),
			slog.String("endpoint", endpoint.String()),
		),
		mailbox: make(chan *exchange),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		buf:     make([]byte, pullBufferSize),
	}

	go c.run()

	return c
}

// exchange is one request and its response, as seen by the actor.
type exchange struct {
	ctx context.Context
	req *semantic.Request
	// body is the opened request content, if any.
	body io.Reader

	head   chan headResult
	pulls  chan int
	pulled chan pullResult

	abandoned   chan struct{}
	abandonOnce sync.Once

	trailers []http.Field
}

func newExchange(ctx context.Context, req *semantic.Request, body io.Reader) *exchange {
	return &exchange{
		ctx:       ctx,
		req:       req,
		body:      body,
		head:      make(chan headResult, 1),
		pulls:     make(chan int),
		pulled:    make(chan pullResult),
		abandoned: make(chan struct{}),
	}
}

// abandon tells the actor nobody reads the rest of the body.
func (ex *exchange) abandon() {
	ex.abandonOnce.Do(func() { close(ex.abandoned) })
}

type headResult struct {
	resp *semantic.Response
	// empty is set when the response has no content at all.
	empty bool
	// clean tells, for an empty response, whether the conn can be reused.
	clean bool
	err   *Error
}

type pullResult struct {
	// data is only valid until the next pull.
	data     []byte
	trailers []http.Field
	// clean is set with io.EOF when the conn can be reused.
	clean bool
	err   error
}

// send hands ex to the actor.
func (c *conn) send(ctx context.Context, ex *exchange) error {
	select {
	case c.mailbox <- ex:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return transport.ErrConnClosed
	}
}

// stop makes the actor quit and unblocks any I/O it is doing.
func (c *conn) stop() {
	c.stopOnce.Do(func() {
		close(c.quit)
		_ = c.tc.Close()
	})
}

// alive tells whether an idle conn is still worth leasing.
func (c *conn) alive() bool {
	select {
	case <-c.done:
		return false
	default:
	}

	if p, ok := c.tc.(transport.Prober); ok {
		return p.Alive()
	}
	return true
}

func (c *conn) run() {
	defer close(c.done)
	defer c.tc.Close()

	for {
		select {
		case <-c.quit:
			return
		case ex := <-c.mailbox:
			if !c.serve(ex) {
				return
			}
		}
	}
}

// serve runs one exchange and reports whether the conn can serve another.
func (c *conn) serve(ex *exchange) (reusable bool) {
	deadline, _ := ex.ctx.Deadline()
	c.tc.SetWriteDeadLine(deadline)
	c.tc.SetReadDeadLine(deadline)

	if err := c.writeRequest(ex); err != nil {
		c.logger.Debug("writing request failed", slog.Any("error", err))
		ex.head <- headResult{err: classify(phaseWrite, err)}
		return false
	}

	raw, err := c.readHead()
	if err != nil {
		c.logger.Debug("reading response failed", slog.Any("error", err))
		ex.head <- headResult{err: classify(phaseHead, err)}
		return false
	}

	resp := semantic.ResponseFrom(raw, c.opts.Parse)

	reusable = semantic.KeepAlive(raw.Version, resp.Headers) &&
		semantic.KeepAlive(http.Version11, ex.req.Headers)

	if raw.StatusCode == status.SwitchingProtocols.Code {
		// The conn speaks something else from here on.
		ex.head <- headResult{resp: resp, empty: true}
		return false
	}

	framed, decoded, empty, err := c.frameBody(ex, resp, &reusable)
	if err != nil {
		ex.head <- headResult{resp: resp, err: classify(phaseHead, err)}
		return false
	}

	ex.head <- headResult{resp: resp, empty: empty, clean: reusable}
	if empty {
		return reusable
	}

	for {
		select {
		case <-c.quit:
			return false
		case <-ex.abandoned:
			return false
		case n := <-ex.pulls:
			res := c.pull(ex, n, framed, decoded, reusable)

			select {
			case ex.pulled <- res:
			case <-c.quit:
				return false
			case <-ex.abandoned:
				return false
			}

			if res.err != nil {
				return res.clean
			}
		}
	}
}

func (c *conn) writeRequest(ex *exchange) error {
	req := ex.req

	// Framing is ours to decide.
	headers := req.Headers.Clone()
	headers.Del("Content-Length")
	headers.Del("Transfer-Encoding")

	var body io.Reader
	switch {
	case ex.body == nil:
		// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-8.6-5
		if expectsContent(req.Method) {
			headers.Set("Content-Length", "0")
		}
	case req.Body.Len() >= 0:
		headers.Set("Content-Length", strconv.FormatInt(req.Body.Len(), 10))
		body = ex.body
	default:
		headers.Set("Transfer-Encoding", string(transfer.CodingChunked))
		body = iolib.NewMiddlewareReader(ex.body, func(w io.WriteCloser) io.WriteCloser {
			return transfer.NewChunkedWriter(w)
		})
	}

	return c.enc.Encode(http.Request{
		RequestLine: http.RequestLine{
			Method:  string(req.Method),
			Target:  req.Target(),
			Version: http.Version11,
		},
		Headers: headers.ToRawFields(),
		Body:    body,
	})
}

func expectsContent(method semantic.Method) bool {
	switch method {
	case semantic.MethodPost, semantic.MethodPut, semantic.MethodPatch:
		return true
	}
	return false
}

// readHead skips interim responses, except for 101 which ends the exchange.
func (c *conn) readHead() (*http.Response, error) {
	for {
		var raw http.Response
		if err := c.dec.Decode(&raw); err != nil {
			if raw.StatusCode != 0 && errors.Is(err, io.EOF) {
				// The status line came, the rest of the head did not.
				return nil, errors.Wrap(io.ErrUnexpectedEOF, err.Error())
			}
			return nil, err
		}

		if status.IsInformational(raw.StatusCode) && raw.StatusCode != status.SwitchingProtocols.Code {
			c.logger.Debug("skipping interim response", slog.Uint64("status", uint64(raw.StatusCode)))
			continue
		}

		return &raw, nil
	}
}

// frameBody finds where the body ends and how to decode it.
// framed yields the body as delimited on the wire, decoded yields the content.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3
func (c *conn) frameBody(ex *exchange, resp *semantic.Response, reusable *bool) (framed, decoded io.Reader, empty bool, err error) {
	if !semantic.ResponseHasBody(ex.req.Method, resp.Status.Code) {
		return nil, nil, true, nil
	}

	codings := semantic.ContentCodings(resp.Headers)
	if err := c.transfer.Supports(codings); err != nil {
		return nil, nil, false, err
	}

	r := c.dec.Reader()

	switch te := semantic.TransferCodings(resp.Headers); {
	case len(te) > 0:
		if err := c.transfer.Supports(te); err != nil {
			return nil, nil, false, err
		}

		if resp.Headers.Has("Content-Length") {
			// Transfer-Encoding wins, but such a message may be an attempt to smuggle another.
			//
			// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.3
			*reusable = false
		}

		if semantic.IsChunked(te) {
			framed, _ = c.transfer.Decode(r, te[len(te)-1:], func(f []http.Field) {
				ex.trailers = append(ex.trailers, f...)
			})
			te = te[:len(te)-1]
		} else {
			// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.4.2
			framed = r
			*reusable = false
		}

		// Content codings were applied before transfer codings.
		codings = append(codings, te...)

	default:
		length, ok, err := semantic.ContentLength(resp.Headers)
		if err != nil {
			return nil, nil, false, err
		}

		if ok {
			if length == 0 && len(codings) == 0 {
				return nil, nil, true, nil
			}
			framed = iolib.LimitReader(r, length)
		} else {
			// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.8
			framed = r
			*reusable = false
		}
	}

	decoded, err = c.transfer.Decode(framed, codings, nil)
	if err != nil {
		return nil, nil, false, err
	}

	return framed, decoded, false, nil
}

func (c *conn) pull(ex *exchange, n int, framed, decoded io.Reader, reusable bool) pullResult {
	k, err := decoded.Read(c.buf[:min(n, len(c.buf))])
	res := pullResult{data: c.buf[:k]}

	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		res.err = io.EOF
		res.clean = reusable && c.finishFraming(framed, decoded)
		res.trailers = ex.trailers
	default:
		res.err = classify(phaseBody, err)
		c.logger.Debug("reading body failed", slog.Any("error", err))
	}

	return res
}

// finishFraming reads what is left of the framing after the content ended,
// such as the last chunk. It reports whether the message ended cleanly.
func (c *conn) finishFraming(framed, decoded io.Reader) bool {
	if framed == decoded {
		return true
	}

	ok, err := iolib.Drain(framed, c.opts.MaxDrain)
	if err != nil {
		c.logger.Debug("draining body framing failed", slog.Any("error", err))
		return false
	}
	return ok
}

// connClosedReader reports [transport.ErrConnClosed] as [io.EOF].
type connClosedReader struct{ r io.Reader }

func (r *connClosedReader) Read(p []byte) (n int, err error) {
	n, err = r.r.Read(p)
	if errors.Is(err, transport.ErrConnClosed) {
		return n, io.EOF
	}
	return n, err
}
