package server

import (
	"context"
	"io"
	"strconv"
	"strings"

	"courier/application/http"
	"courier/application/http/semantic"
	"courier/application/http/semantic/status"
	"courier/transport"

	"github.com/pkg/errors"
)

// Request is a request as the server received it.
// Its content is read in full before the handler runs.
type Request struct {
	Method  semantic.Method
	Target  string
	Version http.Version

	Headers  semantic.Headers
	Trailers semantic.Headers

	Body []byte
}

type HandleFunc func(c *HandleContext, request *Request) *semantic.Response

type HandleContext struct {
	ctx context.Context

	conn       int
	remoteAddr transport.Addr

	closeConn bool
	raw       []byte

	// Should only be used inside this struct.
	_fatalError error
}

func (c *HandleContext) doHandle(handle HandleFunc, request *Request) (res *semantic.Response, err error) {
	defer func() {
		if e := recover(); e != nil {
			err = errors.Errorf("handler panicked: %s", e)
		}
	}()

	response := handle(c, request)
	if c._fatalError != nil {
		return nil, c._fatalError
	}

	if response == nil && c.raw == nil && !c.closeConn {
		return nil, errors.New("nil response is forbidden")
	}

	return response, nil
}

func (c *HandleContext) Context() context.Context   { return c.ctx }
func (c *HandleContext) RemoteAddr() transport.Addr { return c.remoteAddr }

// Conn numbers the connection the request came on, starting from 1.
func (c *HandleContext) Conn() int { return c.conn }

// CloseConn closes the connection once the response, if any, is written.
func (c *HandleContext) CloseConn() { c.closeConn = true }

// WriteRaw sends raw as is in place of the returned response.
func (c *HandleContext) WriteRaw(raw string) {
	if raw == "" {
		c._fatalError = errors.New("writing empty raw response is forbidden")
		return
	}
	c.raw = []byte(raw)
}

func (c *HandleContext) Error(err error) *semantic.Response {
	if err == nil {
		c._fatalError = errors.New("using Error() with nil error is forbidden")
		return nil
	}

	c.closeConn = true

	if errors.Is(err, transport.ErrConnClosed) {
		return nil
	}

	if statusErr := new(status.Error); errors.As(err, statusErr) {
		return statusErrToResponse(*statusErr)
	}

	return statusErrToResponse(status.NewError(err, status.InternalServerError))
}

// Respond builds a response whose content is framed by Content-Length.
func Respond(st status.Status, content string) *semantic.Response {
	res := &semantic.Response{
		Status: st,
		Body:   io.NopCloser(strings.NewReader(content)),
	}
	res.Headers.Set("Content-Length", strconv.Itoa(len(content)))

	return res
}

func statusErrToResponse(se status.Error) *semantic.Response {
	content := ""
	if se.Cause() != nil {
		content = se.Cause().Error()
	}

	res := Respond(se.Status, content)
	res.Headers.Set("Connection", "close")

	return res
}
