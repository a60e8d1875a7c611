package client

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"courier/application/http"
	"courier/application/http/semantic"
	"courier/application/http/transfer"
	"courier/transport"
	"courier/transport/pipe"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

type ConnTestSuite struct {
	suite.Suite

	srv     *testServer
	got     chan *received
	replies chan string
	quit    chan struct{}

	conn *conn
}

func TestConnTestSuite(t *testing.T) {
	suite.Run(t, new(ConnTestSuite))
}

func (s *ConnTestSuite) SetupTest() {
	clk := clock.New()
	logger := slog.New(slog.DiscardHandler)
	pt := pipe.NewPipeTransport(clk)

	s.got = make(chan *received, 1)
	s.replies = make(chan string, 1)
	s.quit = make(chan struct{})

	srv, err := startServer(pt, "example.com:80", logger, clk, func(req *received) reply {
		s.got <- req
		select {
		case raw := <-s.replies:
			return reply{raw: raw}
		case <-s.quit:
			return reply{}
		}
	})
	s.Require().NoError(err)
	s.srv = srv

	tc, err := pt.Dial(context.Background(), pipe.Addr{Name: "example.com:80"})
	s.Require().NoError(err)

	applier := transfer.NewCodingApplier(http.DecodeOptions{}, nil)
	endpoint := Endpoint{Scheme: "http", Host: "example.com", Port: 80}
	s.conn = startConn(tc, endpoint, applier, DefaultOptions(), logger)
}

func (s *ConnTestSuite) TearDownTest() {
	defer goleak.VerifyNone(s.T())

	close(s.quit)
	s.conn.stop()
	<-s.conn.done
	s.srv.stop()
}

// respond answers the next request with raw.
func (s *ConnTestSuite) respond(raw string) <-chan *received {
	s.replies <- raw
	return s.got
}

func (s *ConnTestSuite) exchange(method semantic.Method, body *semantic.Body) *exchange {
	req, err := semantic.NewRequest(method, "http://example.com/path", body)
	s.Require().NoError(err)

	var content io.Reader
	if body != nil {
		content, err = body.Open()
		s.Require().NoError(err)
	}

	ex := newExchange(context.Background(), req, content)
	s.Require().NoError(s.conn.send(context.Background(), ex))
	return ex
}

// readBody pulls until the content ends.
func readBody(ex *exchange) (content string, res pullResult) {
	var b strings.Builder
	for {
		ex.pulls <- 3
		res = <-ex.pulled
		b.Write(res.data)
		if res.err != nil {
			return b.String(), res
		}
	}
}

func (s *ConnTestSuite) TestExchange() {
	got := s.respond("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\nX-Sum: 1\r\n\r\n")

	ex := s.exchange(semantic.MethodPost, semantic.NewStringBody("ping"))

	req := <-got
	s.Require().NotNil(req)
	s.Equal("POST", req.Method)
	s.Equal("/path", req.Target)
	s.Equal("ping", string(req.Body))

	head := <-ex.head
	s.Require().Nil(head.err)
	s.False(head.empty)
	s.True(head.clean)
	s.Equal(uint(200), head.resp.Status.Code)

	content, res := readBody(ex)
	s.Equal("hello world", content)
	s.ErrorIs(res.err, io.EOF)
	s.True(res.clean)
	s.Equal([]http.Field{http.NewField("X-Sum", "1")}, res.trailers)

	// Ready for another one.
	got = s.respond("HTTP/1.1 204 No Content\r\n\r\n")
	ex = s.exchange(semantic.MethodGet, nil)
	<-got

	head = <-ex.head
	s.Require().Nil(head.err)
	s.True(head.empty)
	s.True(head.clean)
}

func (s *ConnTestSuite) TestSwitchingProtocols() {
	got := s.respond("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\n\r\n")

	ex := s.exchange(semantic.MethodGet, nil)
	<-got

	head := <-ex.head
	s.Require().Nil(head.err)
	s.True(head.empty)
	s.False(head.clean)

	<-s.conn.done
}

func (s *ConnTestSuite) TestAbandon() {
	got := s.respond("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n12345")

	ex := s.exchange(semantic.MethodGet, nil)
	<-got

	head := <-ex.head
	s.Require().Nil(head.err)

	ex.abandon()
	ex.abandon()

	<-s.conn.done
	s.False(s.conn.alive())
}

func (s *ConnTestSuite) TestSendToStopped() {
	s.conn.stop()
	<-s.conn.done

	req, err := semantic.NewRequest(semantic.MethodGet, "http://example.com/", nil)
	s.Require().NoError(err)

	err = s.conn.send(context.Background(), newExchange(context.Background(), req, nil))
	s.ErrorIs(err, transport.ErrConnClosed)
}

func (s *ConnTestSuite) TestDeadline() {
	req, err := semantic.NewRequest(semantic.MethodGet, "http://example.com/", nil)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Nobody answers.
	ex := newExchange(ctx, req, nil)
	s.Require().NoError(s.conn.send(ctx, ex))

	head := <-ex.head
	s.Require().NotNil(head.err)
	s.Equal(KindTimeout, head.err.Kind)

	<-s.conn.done
}

func TestExpectsContent(t *testing.T) {
	testcases := []struct {
		method   semantic.Method
		expected bool
	}{
		{method: semantic.MethodGet, expected: false},
		{method: semantic.MethodHead, expected: false},
		{method: semantic.MethodDelete, expected: false},
		{method: semantic.MethodPost, expected: true},
		{method: semantic.MethodPut, expected: true},
		{method: semantic.MethodPatch, expected: true},
	}

	for _, tc := range testcases {
		t.Run(string(tc.method), func(t *testing.T) {
			assert.Equal(t, tc.expected, expectsContent(tc.method))
		})
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestConnClosedReader(t *testing.T) {
	other := errors.New("other")

	testcases := []struct {
		desc     string
		err      error
		expected error
	}{
		{desc: "closed", err: transport.ErrConnClosed, expected: io.EOF},
		{desc: "wrapped closed", err: errors.Wrap(transport.ErrConnClosed, "read"), expected: io.EOF},
		{desc: "deadline", err: transport.ErrDeadLineExceeded, expected: transport.ErrDeadLineExceeded},
		{desc: "other", err: other, expected: other},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			r := &connClosedReader{r: errReader{err: tc.err}}
			_, err := r.Read(make([]byte, 1))
			assert.ErrorIs(t, err, tc.expected)
		})
	}
}
