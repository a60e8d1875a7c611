// Package semantic gives meaning to raw HTTP messages:
// headers as an ordered multimap, requests with URLs and bodies, responses with status.
package semantic

import (
	"time"

	"github.com/pkg/errors"
)

// DefaultPort returns the port implied by scheme, or 0 if it has none.
func DefaultPort(scheme string) uint16 {
	switch scheme {
	case "http", "ws":
		return 80
	case "https", "wss":
		return 443
	}
	return 0
}

// IsSecureScheme reports whether scheme runs over TLS.
func IsSecureScheme(scheme string) bool {
	return scheme == "https" || scheme == "wss"
}

type Method string

const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodConnect Method = "CONNECT"
	MethodOptions Method = "OPTIONS"
	MethodTrace   Method = "TRACE"
)

// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-9.2.1-3
func DefaultSafeMethods() []Method {
	return []Method{
		MethodGet, MethodHead, MethodOptions, MethodTrace,
	}
}

// IsIdempotent reports whether the method is idempotent.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-9.2.2
func (m Method) IsIdempotent() bool {
	switch m {
	case MethodGet, MethodHead, MethodOptions, MethodTrace, MethodPut, MethodDelete:
		return true
	}
	return false
}

const (
	// Preferred format: IMF-fixdate
	imfFixDateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"
	// Obsolete RFC 850 format
	rfc850DateFormat = time.RFC850
	// Obsolete asctime format
	asctimeDateFormat = time.ANSIC
)

// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.7
func ParseDate(raw string) (time.Time, error) {
	layouts := []string{time.RFC1123, rfc850DateFormat, asctimeDateFormat}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}

	return time.Time{}, errors.Errorf("invalid time format: %q", raw)
}

// FormatDate formats t as IMF-fixdate.
func FormatDate(t time.Time) string {
	return t.UTC().Format(imfFixDateFormat)
}
