package semantic

import (
	"strconv"

	"courier/application/http"
	"courier/application/http/semantic/status"
	"courier/application/http/transfer"

	"github.com/pkg/errors"
)

var ErrInvalidContentLength = errors.New("invalid Content-Length")

// ContentLength extracts content length from headers.
// Repeated values are accepted only when they all agree.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-8.6
func ContentLength(h Headers) (length int64, ok bool, err error) {
	values := h.ListValues("Content-Length")
	if len(values) == 0 {
		return 0, false, nil
	}

	for _, v := range values {
		if v != values[0] {
			return 0, false, errors.Wrapf(ErrInvalidContentLength, "conflicting values %q", values)
		}
	}

	// Any value greater than or equal to 0 is valid.
	// But let's restrict it to 63bit, as that is what readers count in.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-8.6-10
	for _, c := range values[0] {
		if c < '0' || c > '9' {
			return 0, false, errors.Wrapf(ErrInvalidContentLength, "%q", values[0])
		}
	}

	length, err = strconv.ParseInt(values[0], 10, 64)
	if err != nil {
		return 0, false, errors.Wrap(ErrInvalidContentLength, err.Error())
	}

	return length, true, nil
}

// TransferCodings lists Transfer-Encoding codings in the order they were applied.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.1
func TransferCodings(h Headers) []transfer.Coding {
	values, _ := h.Values("Transfer-Encoding")
	return transfer.ParseCodings(values)
}

// ContentCodings lists Content-Encoding codings in the order they were applied.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-8.4
func ContentCodings(h Headers) []transfer.Coding {
	values, _ := h.Values("Content-Encoding")
	return transfer.ParseCodings(values)
}

// IsChunked reports whether chunked is the final transfer coding.
func IsChunked(codings []transfer.Coding) bool {
	if len(codings) == 0 {
		return false
	}

	return codings[len(codings)-1] == transfer.CodingChunked
}

// KeepAlive reports whether the connection may be reused after this message.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-9.3
func KeepAlive(ver http.Version, h Headers) bool {
	if h.HasToken("Connection", "close") {
		return false
	}
	if ver.AtLeast(http.Version11) {
		return true
	}
	return h.HasToken("Connection", "keep-alive")
}

// ResponseHasBody reports whether a response to method with code carries content.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3
func ResponseHasBody(method Method, code uint) bool {
	switch {
	case method == MethodHead:
		return false
	case status.IsInformational(code):
		return false
	case code == status.NoContent.Code, code == status.NotModified.Code:
		return false
	}
	return true
}
