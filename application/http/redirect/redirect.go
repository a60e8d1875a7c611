// Package redirect decides whether and how a redirect response is followed.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-15.4
package redirect

import (
	"net/url"

	"courier/application/http/semantic"
	"courier/application/http/semantic/status"

	"github.com/pkg/errors"
)

type Action int

const (
	// Stop returns the redirect response to the caller as it is.
	Stop Action = iota
	// Follow sends the same method and body to the new location.
	Follow
	// FollowAsGET sends a GET without a body to the new location.
	FollowAsGET
)

func (a Action) String() string {
	switch a {
	case Stop:
		return "stop"
	case Follow:
		return "follow"
	case FollowAsGET:
		return "follow as GET"
	}
	return "unknown"
}

// Decide returns the action for a response with the given status to a request
// sent with previous. A response without a location is never followed.
func Decide(previous semantic.Method, code uint, location string) Action {
	if location == "" {
		return Stop
	}

	switch code {
	case status.SeeOther.Code:
		return FollowAsGET
	case status.MovedPermanently.Code, status.Found.Code:
		// Not what RFC 9110 asks, but what user agents have always done.
		if previous == semantic.MethodPost {
			return FollowAsGET
		}
		return Follow
	case status.TemporaryRedirect.Code, status.PermanentRedirect.Code:
		return Follow
	}
	return Stop
}

// Attempt describes a redirect about to be followed.
type Attempt struct {
	// Method is the method of the request which got redirected.
	Method semantic.Method
	Status status.Status
	// URL is the resolved location.
	URL *url.URL
	// Previous holds the URLs requested so far, the original one first.
	Previous []*url.URL
}

// Policy bounds and decides redirects.
// The zero value follows nothing.
type Policy struct {
	// Max is the exclusive upper bound of the hop count of a followed redirect.
	Max int

	decide func(Attempt) Action
}

// Limited follows up to n-1 redirects. The n-th one fails the exchange.
func Limited(n int) Policy {
	return Policy{Max: n, decide: decideAttempt}
}

func Default() Policy { return Limited(10) }

// None returns every redirect response to the caller.
func None() Policy {
	return Policy{decide: func(Attempt) Action { return Stop }}
}

// Custom bounds redirects like [Limited] but lets decide choose the action.
func Custom(max int, decide func(Attempt) Action) Policy {
	return Policy{Max: max, decide: decide}
}

func decideAttempt(a Attempt) Action {
	return Decide(a.Method, a.Status.Code, a.URL.String())
}

func (p Policy) Decide(a Attempt) Action {
	if p.decide == nil {
		return Stop
	}
	return p.decide(a)
}

// Allows reports whether the redirect at 1-based position hop in a chain may be followed.
func (p Policy) Allows(hop int) bool {
	return hop < p.Max
}

var ErrInvalidLocation = errors.New("location is invalid")

// Resolve resolves a Location field value against the URL it was received from.
func Resolve(base *url.URL, location string) (*url.URL, error) {
	if location == "" {
		return nil, errors.Wrap(ErrInvalidLocation, "empty")
	}

	loc, err := url.Parse(location)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidLocation, err.Error())
	}

	next := base.ResolveReference(loc)
	if next.Scheme != "http" && next.Scheme != "https" {
		return nil, errors.Wrapf(ErrInvalidLocation, "scheme %q", next.Scheme)
	}
	if next.Hostname() == "" {
		return nil, errors.Wrap(ErrInvalidLocation, "no host")
	}
	return next, nil
}

type Options struct {
	// Referer sets the Referer field to the previous URL unless that would leak
	// an https URL to plain http.
	Referer bool
}

var ErrNotReplayable = errors.New("body cannot be sent again")

var (
	// The caller's own Cookie goes with the credentials. Jar cookies are added per URL by the client.
	credentialFields = []string{"Authorization", "Proxy-Authorization", "Cookie"}
	contentFields    = []string{"Content-Length", "Content-Type", "Content-Encoding", "Transfer-Encoding"}
)

// NextRequest derives the request to send to location. prev is not modified.
// Authorization, Proxy-Authorization and Cookie survive only a same-origin hop.
// It fails with ErrNotReplayable when the body of prev must be sent again but
// was a stream already consumed.
func NextRequest(prev *semantic.Request, location *url.URL, action Action, opts Options) (*semantic.Request, error) {
	if action == Stop {
		return nil, errors.New("cannot follow a stopped redirect")
	}

	next := prev.Clone()
	next.URL = location

	if !sameOrigin(prev.URL, location) {
		for _, name := range credentialFields {
			next.Headers.Del(name)
		}
	}

	// Recomputed for the new URL.
	next.Headers.Del("Host")
	next.Headers.Del("Referer")

	switch action {
	case FollowAsGET:
		next.Method = semantic.MethodGet
		next.Body = nil
		for _, name := range contentFields {
			next.Headers.Del(name)
		}
	case Follow:
		if prev.Body != nil && !prev.Body.Replayable() {
			return nil, ErrNotReplayable
		}
	}

	if opts.Referer {
		if referer, ok := refererFor(prev.URL, location); ok {
			next.Headers.Set("Referer", referer)
		}
	}

	return next, nil
}

// sameOrigin compares scheme, host and effective port.
func sameOrigin(a, b *url.URL) bool {
	if a.Scheme != b.Scheme {
		return false
	}
	ra := semantic.Request{URL: a}
	rb := semantic.Request{URL: b}
	return ra.HostHeader() == rb.HostHeader()
}

// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-10.1.3
func refererFor(from, to *url.URL) (string, bool) {
	if semantic.IsSecureScheme(from.Scheme) && !semantic.IsSecureScheme(to.Scheme) {
		return "", false
	}

	u := *from
	u.User = nil
	u.Fragment, u.RawFragment = "", ""
	return u.String(), true
}
