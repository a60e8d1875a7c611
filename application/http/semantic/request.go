package semantic

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"courier/application/util/rule"

	"github.com/pkg/errors"
)

// Request is what a caller wants to send.
// It is never modified once handed to a client. Redirects derive new ones.
type Request struct {
	Method  Method
	URL     *url.URL
	Headers Headers

	// Body is nil when there is no content.
	Body *Body

	// Timeout bounds the whole exchange including redirects and reading the body.
	// Zero means the client's default.
	Timeout time.Duration
}

var (
	ErrUnsupportedScheme = errors.New("scheme is unsupported")
	ErrMissingHost       = errors.New("url has no host")
	ErrInvalidMethod     = errors.New("method is not a valid token")
	ErrNegativeTimeout   = errors.New("timeout is negative")
)

func NewRequest(method Method, rawURL string, body *Body) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing url")
	}

	req := &Request{Method: method, URL: u, Body: body}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	return req, nil
}

// Validate checks whether the request can be sent at all.
func (r *Request) Validate() error {
	if !rule.IsValidToken(string(r.Method)) {
		return errors.Wrapf(ErrInvalidMethod, "%q", r.Method)
	}
	if r.URL == nil {
		return errors.Wrap(ErrMissingHost, "url is nil")
	}
	if r.URL.Scheme != "http" && r.URL.Scheme != "https" {
		return errors.Wrapf(ErrUnsupportedScheme, "%q", r.URL.Scheme)
	}
	if r.URL.Hostname() == "" {
		return ErrMissingHost
	}
	if p := r.URL.Port(); p != "" {
		if _, err := strconv.ParseUint(p, 10, 16); err != nil {
			return errors.Wrapf(err, "invalid port %q", p)
		}
	}
	if r.Timeout < 0 {
		return errors.Wrapf(ErrNegativeTimeout, "%s", r.Timeout)
	}
	return nil
}

// Clone returns a deep copy, sharing only the body.
func (r *Request) Clone() *Request {
	clone := *r
	if r.URL != nil {
		u := *r.URL
		if r.URL.User != nil {
			user := *r.URL.User
			u.User = &user
		}
		clone.URL = &u
	}
	clone.Headers = r.Headers.Clone()
	return &clone
}

// Target returns the request-target in origin-form.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.1
func (r *Request) Target() string {
	u := *r.URL
	u.Fragment, u.RawFragment = "", ""
	return u.RequestURI()
}

// Port returns the port of the URL, or the scheme's default.
func (r *Request) Port() uint16 {
	if p := r.URL.Port(); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err == nil {
			return uint16(port)
		}
	}
	return DefaultPort(r.URL.Scheme)
}

// HostHeader returns the value of the Host header for the URL.
// The port is omitted when it is the scheme's default.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-7.2
func (r *Request) HostHeader() string {
	host := strings.ToLower(r.URL.Hostname())
	port := r.Port()
	if port == DefaultPort(r.URL.Scheme) {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, strconv.FormatUint(uint64(port), 10))
}
