// Package client sends HTTP/1.1 requests over pooled connections,
// following redirects and keeping cookies on the way.
package client

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"courier/application/http/cookie"
	"courier/application/http/redirect"
	"courier/application/http/semantic"
	"courier/application/http/semantic/status"
	"courier/application/http/transfer"
	iolib "courier/lib/io"
	"courier/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

type Client struct {
	pool     *connPool
	jar      *cookie.Jar
	policy   redirect.Policy
	transfer *transfer.CodingApplier

	opts Options

	logger *slog.Logger
	clock  clock.Clock
}

func New(
	d transport.ConnDialer,
	logger *slog.Logger,
	clock clock.Clock,
	opts Options,
) *Client {
	opts.applyDefaults()

	client := &Client{
		opts:   opts,
		logger: logger,
		clock:  clock,
		policy: opts.redirectPolicy(),
	}

	client.transfer = transfer.NewCodingApplier(opts.Receive.Decode, opts.ExtraCoders)

	client.pool = newConnPool(d, client.startConn, opts.Conn, opts.Timeout.Idle, logger, clock)

	if opts.Cookies.Enabled {
		client.jar = opts.Cookies.Jar
		if client.jar == nil {
			client.jar = cookie.NewJar(cookie.Options{Clock: clock})
		}
	}

	return client
}

func (c *Client) startConn(tc transport.Conn, endpoint Endpoint) *conn {
	return startConn(tc, endpoint, c.transfer, c.opts, c.logger)
}

// Get sends a GET request to rawURL.
func (c *Client) Get(ctx context.Context, rawURL string) (*semantic.Response, error) {
	req, err := semantic.NewRequest(semantic.MethodGet, rawURL, nil)
	if err != nil {
		return nil, newError(KindRequest, err)
	}
	return c.Send(ctx, req)
}

// Send sends request and follows redirects as the policy says.
// The returned response must have its body closed.
// Errors are always an [*Error].
func (c *Client) Send(ctx context.Context, request *semantic.Request) (*semantic.Response, error) {
	if err := request.Validate(); err != nil {
		return nil, newError(KindRequest, err).withURL(request.URL)
	}

	timeout := request.Timeout
	if timeout == 0 {
		timeout = c.opts.Timeout.Request
	}
	ctx, cancel := c.clock.WithTimeout(ctx, timeout)

	current := request
	var previous []*url.URL

	for hops := 0; ; {
		res, body, err := c.roundtrip(ctx, current)
		if err != nil {
			cancel()
			return nil, err
		}
		res.Redirects = hops

		c.storeCookies(current.URL, res)

		target, action := c.redirectTarget(current, res, previous)
		if action == redirect.Stop {
			body.cancel = cancel
			return res, nil
		}

		hops++
		if !c.policy.Allows(hops) {
			_ = res.Body.Close()
			cancel()

			e := newError(KindTooManyRedirects, errors.Wrapf(ErrTooManyRedirects, "redirect %d to %s", hops, target.Redacted()))
			e.Response = res
			return nil, e.withURL(current.URL)
		}

		next, err := redirect.NextRequest(current, target, action, redirect.Options{Referer: c.opts.Redirect.Referer})
		if err != nil {
			c.logger.Debug("not following redirect", slog.String("location", target.Redacted()), slog.Any("error", err))
			body.cancel = cancel
			return res, nil
		}

		c.discard(res)

		c.logger.Debug("following redirect",
			slog.Int("hop", hops),
			slog.Uint64("status", uint64(res.Status.Code)),
			slog.String("action", action.String()),
			slog.String("location", target.Redacted()),
		)

		previous = append(previous, current.URL)
		current = next
	}
}

// roundtrip sends req on a leased conn and waits for the head of the response.
func (c *Client) roundtrip(ctx context.Context, req *semantic.Request) (*semantic.Response, *body, error) {
	wire := c.prepare(req)

	l, err := c.pool.acquire(ctx, EndpointOf(req.URL))
	if err != nil {
		return nil, nil, classify(phaseAcquire, err).withURL(req.URL)
	}

	var content io.Reader
	if req.Body != nil {
		content, err = req.Body.Open()
		if err != nil {
			_ = l.release(true)
			return nil, nil, newError(KindRequest, err).withURL(req.URL)
		}
	}

	ex := newExchange(ctx, wire, content)
	if err := l.conn.send(ctx, ex); err != nil {
		_ = l.release(false)
		return nil, nil, classify(phaseWrite, err).withURL(req.URL)
	}

	var hr headResult
	select {
	case hr = <-ex.head:
	case <-ctx.Done():
		_ = l.release(false)
		return nil, nil, classify(phaseHead, ctx.Err()).withURL(req.URL)
	}

	if hr.err != nil {
		_ = l.release(false)

		e := hr.err.withURL(req.URL)
		if hr.resp != nil {
			hr.resp.URL = req.URL
			hr.resp.Body = closedBody{}
			e.Response = hr.resp
		}

		c.logger.Warn("exchange failed", slog.String("kind", e.Kind.String()), slog.Any("error", e.cause))
		return nil, nil, e
	}

	res := hr.resp
	res.URL = req.URL

	b := &body{
		ex:         ex,
		lease:      l,
		resp:       res,
		url:        req.URL,
		empty:      hr.empty,
		emptyClean: hr.clean,
		logger:     l.conn.logger,
	}
	b.watch(ctx)
	res.Body = b

	return res, b, nil
}

// prepare returns the request as it goes on the wire.
// Host comes first, and cookies from the jar are added.
func (c *Client) prepare(req *semantic.Request) *semantic.Request {
	wire := req.Clone()

	var headers semantic.Headers
	if host, ok := req.Headers.Get("Host"); ok {
		headers.Set("Host", host)
	} else {
		headers.Set("Host", req.HostHeader())
	}

	for _, f := range req.Headers.ToRawFields() {
		if name := string(f.Name); !strings.EqualFold(name, "Host") {
			headers.Add(name, string(f.Value))
		}
	}

	if !headers.Has("User-Agent") && c.opts.UserAgent != "" {
		headers.Set("User-Agent", c.opts.UserAgent)
	}
	if !headers.Has("Accept-Encoding") && c.opts.AcceptEncoding != "" {
		headers.Set("Accept-Encoding", c.opts.AcceptEncoding)
	}

	if c.jar != nil {
		if v := c.jar.Header(req.URL); v != "" {
			if own, ok := headers.Get("Cookie"); ok && own != "" {
				v = own + "; " + v
			}
			headers.Set("Cookie", v)
		}
	}

	wire.Headers = headers
	return wire
}

func (c *Client) storeCookies(u *url.URL, res *semantic.Response) {
	if c.jar == nil {
		return
	}

	values, ok := res.Headers.Values("Set-Cookie")
	if !ok {
		return
	}

	n := c.jar.SetCookies(u, values)
	c.logger.Debug("stored cookies", slog.String("url", u.Redacted()), slog.Int("received", len(values)), slog.Int("stored", n))
}

// redirectTarget tells where res redirects to, if it is to be followed.
func (c *Client) redirectTarget(req *semantic.Request, res *semantic.Response, previous []*url.URL) (*url.URL, redirect.Action) {
	if !status.IsRedirection(res.Status.Code) {
		return nil, redirect.Stop
	}

	location, _ := res.Headers.Get("Location")
	if redirect.Decide(req.Method, res.Status.Code, location) == redirect.Stop {
		return nil, redirect.Stop
	}

	target, err := redirect.Resolve(req.URL, location)
	if err != nil {
		c.logger.Debug("bad location", slog.String("location", location), slog.Any("error", err))
		return nil, redirect.Stop
	}

	action := c.policy.Decide(redirect.Attempt{
		Method:   req.Method,
		Status:   res.Status,
		URL:      target,
		Previous: append(slices.Clip(previous), req.URL),
	})
	return target, action
}

// discard reads off a skipped response so its conn can be reused.
func (c *Client) discard(res *semantic.Response) {
	if _, err := iolib.Drain(res.Body, c.opts.Receive.MaxDrain); err != nil {
		c.logger.Debug("discarding body", slog.Any("error", err))
	}
	_ = res.Body.Close()
}

func (c *Client) Stats() PoolStats { return c.pool.stats() }

func (c *Client) StatsFor(endpoint Endpoint) PoolStats { return c.pool.statsFor(endpoint) }

// Jar returns the cookie jar, or nil when cookies are disabled.
func (c *Client) Jar() *cookie.Jar { return c.jar }

// Close retires idle connections and waits for them to shut down.
// Responses still being read keep their connection until they are closed.
func (c *Client) Close() error {
	for _, conn := range c.pool.close() {
		<-conn.done
	}
	return nil
}
