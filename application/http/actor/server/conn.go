package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"time"

	"courier/application/http"
	"courier/application/http/semantic"
	"courier/application/http/semantic/status"
	"courier/application/http/transfer"
	iolib "courier/lib/io"
	"courier/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

var (
	ErrUnframedRequest = errors.New("transfer encoding without chunked. cannot determine body length")
	ErrContentTooLarge = errors.New("request content exceeds limit")
)

type conn struct {
	id  int
	con transport.Conn

	dec *http.RequestDecoder
	enc *http.ResponseEncoder

	handle   HandleFunc
	opts     Options
	logger   *slog.Logger
	transfer *transfer.CodingApplier
	clock    clock.Clock
}

func (c *conn) serve(ctx context.Context) {
	defer c.con.Close()

	for {
		request, err := c.readRequest()
		if err != nil {
			c.fail(err)
			return
		}

		hctx := &HandleContext{
			ctx:        ctx,
			conn:       c.id,
			remoteAddr: c.con.RemoteAddr(),
		}

		response, err := hctx.doHandle(c.handle, request)
		if err != nil {
			c.logger.Error("handling request", "error", err.Error())
			return
		}

		switch {
		case hctx.raw != nil:
			err = c.writeRaw(hctx.raw)
		case response != nil:
			err = c.writeResponse(request.Method, response)
		}
		if err != nil {
			c.logger.Debug("writing response", "error", err.Error())
			return
		}

		if hctx.closeConn || !semantic.KeepAlive(request.Version, request.Headers) {
			return
		}
	}
}

// fail answers a request that could not be read, when there is anyone to answer.
func (c *conn) fail(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrConnClosed) {
		c.logger.Debug("connection closed by peer")
		return
	}

	if errors.Is(err, transport.ErrDeadLineExceeded) {
		c.logger.Debug("read timed out", "error", err.Error())
		return
	}

	c.logger.Warn("bad request", "error", err.Error())

	if err := c.writeResponse(semantic.MethodGet, statusErrToResponse(toStatusError(err))); err != nil {
		c.logger.Debug("writing error response", "error", err.Error())
	}
}

func (c *conn) readRequest() (*Request, error) {
	if timeout := c.opts.Timeout.IdleTimeout; timeout > 0 {
		c.con.SetReadDeadLine(c.clock.Now().Add(timeout))
	}

	var raw http.Request
	if err := c.dec.Decode(&raw); err != nil {
		return nil, err
	}

	if timeout := c.opts.Timeout.ReadTimeout; timeout > 0 {
		c.con.SetReadDeadLine(c.clock.Now().Add(timeout))
	} else {
		c.con.SetReadDeadLine(time.Time{})
	}
	defer c.con.SetReadDeadLine(time.Time{})

	request := &Request{
		Method:  semantic.Method(raw.Method),
		Target:  raw.Target,
		Version: raw.Version,
		Headers: semantic.HeadersFrom(raw.Headers),
	}

	body, err := c.framedBody(request)
	if err != nil {
		return nil, err
	}

	limit := c.opts.MaxContentLength
	if limit > 0 {
		body = io.LimitReader(body, limit+1)
	}

	content, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Wrap(err, "reading request content")
	}
	if limit > 0 && int64(len(content)) > limit {
		return nil, ErrContentTooLarge
	}

	request.Body = content

	return request, nil
}

// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3
func (c *conn) framedBody(request *Request) (io.Reader, error) {
	if codings := semantic.TransferCodings(request.Headers); len(codings) > 0 {
		if !semantic.IsChunked(codings) {
			return nil, ErrUnframedRequest
		}

		return c.transfer.Decode(c.dec.Reader(), codings, func(f []http.Field) {
			request.Trailers = semantic.HeadersFrom(f)
		})
	}

	length, ok, err := semantic.ContentLength(request.Headers)
	if err != nil {
		return nil, err
	}
	if !ok {
		return bytes.NewReader(nil), nil
	}

	return iolib.LimitReader(c.dec.Reader(), length), nil
}

func (c *conn) writeRaw(raw []byte) error {
	c.setWriteDeadline()
	defer c.con.SetWriteDeadLine(time.Time{})

	_, err := iolib.WriteFull(c.con, raw)
	return err
}

func (c *conn) writeResponse(method semantic.Method, response *semantic.Response) error {
	c.setWriteDeadline()
	defer c.con.SetWriteDeadLine(time.Time{})

	if response.Body != nil {
		defer response.Body.Close()
	}

	headers := response.Headers.Clone()

	// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-6.6.1-6
	if !headers.Has("Date") {
		headers.Set("Date", semantic.FormatDate(c.clock.Now()))
	}

	var body io.Reader
	if response.Body != nil && semantic.ResponseHasBody(method, response.Status.Code) {
		body = response.Body
	}

	codings := semantic.TransferCodings(headers)
	length, hasLength, err := semantic.ContentLength(headers)
	if err != nil {
		return errors.Wrap(err, "framing response")
	}

	switch {
	case body == nil:
		if !hasLength && len(codings) == 0 && semantic.ResponseHasBody(method, response.Status.Code) {
			headers.Set("Content-Length", "0")
		}
	case len(codings) > 0:
		if err := c.transfer.Supports(codings); err != nil {
			return errors.Wrap(err, "applying transfer coding to response")
		}
		body = c.encoded(body, codings, response.Trailers)
	case hasLength:
		body = iolib.LimitReader(body, length)
	default:
		codings = []transfer.Coding{transfer.CodingChunked}
		headers.Set("Transfer-Encoding", string(transfer.CodingChunked))
		body = c.encoded(body, codings, response.Trailers)
	}

	return c.enc.Encode(http.Response{
		StatusLine: http.StatusLine{
			Version:      http.Version11,
			StatusCode:   response.Status.Code,
			ReasonPhrase: response.Status.ReasonPhrase,
		},
		Headers: headers.ToRawFields(),
		Body:    body,
	})
}

// encoded applies codings to body while it is read. Support is checked beforehand.
func (c *conn) encoded(body io.Reader, codings []transfer.Coding, trailers semantic.Headers) io.Reader {
	return iolib.NewMiddlewareReader(body, func(wc io.WriteCloser) io.WriteCloser {
		w, _ := c.transfer.Encode(wc, codings, func() []http.Field {
			return trailers.ToRawFields()
		})
		return w
	})
}

func (c *conn) setWriteDeadline() {
	if timeout := c.opts.Timeout.WriteTimeout; timeout > 0 {
		c.con.SetWriteDeadLine(c.clock.Now().Add(timeout))
	}
}

// toStatusError converts an error from reading a request into a [status.Error].
// Anything not recognized is the client's fault.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-9
func toStatusError(err error) status.Error {
	switch {
	case errors.Is(err, http.ErrRequestLineTooLong):
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3-4
		return status.NewError(err, status.RequestURITooLong)
	case errors.Is(err, ErrContentTooLarge):
		return status.NewError(err, status.ContentTooLarge)
	case errors.Is(err, transfer.ErrUnsupportedCoding):
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.1-11
		return status.NewError(err, status.NotImplemented)
	}

	return status.NewError(err, status.BadRequest)
}
