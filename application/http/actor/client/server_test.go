package client

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"courier/application/http/actor/server"
	"courier/application/http/semantic"
	"courier/transport/pipe"

	"github.com/benbjohnson/clock"
)

// received is a request as a test server saw it.
type received struct {
	Method  string
	Target  string
	Headers semantic.Headers
	Body    []byte
	// Conn numbers the conn the request came on, starting from 1.
	Conn int
}

type reply struct {
	raw string
	// close closes the conn after raw is written.
	close bool
}

type handler func(req *received) reply

// testServer records requests and answers them with raw bytes over a pipe listener.
type testServer struct {
	lis    *pipe.Listener
	srv    *server.Server
	handle handler

	mu       sync.Mutex
	requests []*received
}

func startServer(pt *pipe.PipeTransport, name string, logger *slog.Logger, clock clock.Clock, h handler) (*testServer, error) {
	lis, err := pt.Listen(pipe.Addr{Name: name})
	if err != nil {
		return nil, err
	}

	ts := &testServer{lis: lis, handle: h}
	ts.srv = server.New(lis, logger, clock, ts.serve, server.Options{})
	ts.srv.Start()

	return ts, nil
}

func (ts *testServer) serve(c *server.HandleContext, request *server.Request) *semantic.Response {
	req := &received{
		Method:  string(request.Method),
		Target:  request.Target,
		Headers: request.Headers,
		Body:    request.Body,
		Conn:    c.Conn(),
	}

	ts.mu.Lock()
	ts.requests = append(ts.requests, req)
	ts.mu.Unlock()

	rep := ts.handle(req)
	if rep.raw == "" {
		c.CloseConn()
		return nil
	}

	c.WriteRaw(rep.raw)
	if rep.close {
		c.CloseConn()
	}

	return nil
}

func (ts *testServer) seen() []*received {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]*received(nil), ts.requests...)
}

func (ts *testServer) connCount() int { return ts.srv.Accepted() }

func (ts *testServer) stop() {
	_ = ts.srv.Close()
	_ = ts.lis.Close()
}

func response(code int, reason string, headers []string, body string) reply {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", code, reason)
	for _, h := range headers {
		b.WriteString(h + "\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return reply{raw: b.String()}
}

func textReply(body string, headers ...string) reply {
	return response(200, "OK", append(headers, fmt.Sprintf("Content-Length: %d", len(body))), body)
}

func redirectTo(code int, location string, headers ...string) reply {
	return response(code, "Redirect", append(headers, "Location: "+location, "Content-Length: 0"), "")
}

func gzipped(s string) string {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write([]byte(s))
	_ = w.Close()
	return buf.String()
}
