package client

import (
	"context"
	"io"
	"net/url"

	"courier/application/http/semantic"
	"courier/application/http/transfer"
	"courier/transport"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindRequest is a request which cannot be sent at all.
	KindRequest
	KindMalformedResponse
	KindUnsupportedEncoding
	KindBodyDecode
	KindConnection
	KindTimeout
	// KindCanceled is the caller canceling the context.
	KindCanceled
	KindTooManyRedirects
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "invalid request"
	case KindMalformedResponse:
		return "malformed response"
	case KindUnsupportedEncoding:
		return "unsupported encoding"
	case KindBodyDecode:
		return "body decode error"
	case KindConnection:
		return "connection error"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindTooManyRedirects:
		return "too many redirects"
	}
	return "unknown error"
}

var (
	ErrTooManyRedirects = errors.New("redirect limit reached")
	ErrClientClosed     = errors.New("client is closed")
	ErrBodyClosed       = errors.New("read on closed body")
)

// Error is what every failed exchange reports.
type Error struct {
	Kind Kind
	// URL is the URL of the request that failed.
	URL *url.URL
	// Response holds what was received before the failure, if anything.
	// Its body is already closed.
	Response *semantic.Response

	cause error
}

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.URL != nil {
		msg += " for " + e.URL.Redacted()
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }
func (e *Error) Cause() error  { return e.cause }

func (e *Error) Timeout() bool { return e.Kind == KindTimeout }

// WithoutURL returns a copy which does not tell the URL.
// URLs can carry credentials or tokens in their query.
func (e *Error) WithoutURL() *Error {
	clone := *e
	clone.URL = nil
	return &clone
}

func (e *Error) withURL(u *url.URL) *Error {
	if e.URL == nil {
		e.URL = u
	}
	return e
}

// KindOf returns the kind of the first [Error] in the chain of err.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

type phase int

const (
	phaseAcquire phase = iota
	phaseWrite
	phaseHead
	phaseBody
)

// classify maps err met during phase onto an [Error].
func classify(p phase, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, transport.ErrDeadLineExceeded):
		return newError(KindTimeout, err)
	case errors.Is(err, context.Canceled):
		return newError(KindCanceled, err)
	case errors.Is(err, transfer.ErrUnsupportedCoding):
		return newError(KindUnsupportedEncoding, err)
	case errors.Is(err, transfer.ErrCorruptContent):
		return newError(KindBodyDecode, err)
	case errors.Is(err, transfer.ErrMalformedChunk):
		return newError(KindMalformedResponse, err)
	case errors.Is(err, transport.ErrConnClosed),
		errors.Is(err, transport.ErrConnReset),
		errors.Is(err, transport.ErrConnRefused),
		errors.Is(err, transport.ErrNetUnreachable):
		return newError(KindConnection, err)
	}

	switch p {
	case phaseHead:
		// Nothing at all came back, the peer just went away.
		if errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return newError(KindConnection, err)
		}
		return newError(KindMalformedResponse, err)
	case phaseBody, phaseWrite, phaseAcquire:
		return newError(KindConnection, err)
	}
	return newError(KindUnknown, err)
}
