// Package cookie implements a client side cookie store.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc6265
package cookie

import (
	"math"
	"strconv"
	"strings"
	"time"

	"courier/application/http/semantic"
	"courier/application/util/rule"

	"github.com/pkg/errors"
)

// Cookie is a stored cookie.
type Cookie struct {
	Name  string
	Value string

	// Domain is canonical host or domain the cookie is scoped to.
	Domain string
	Path   string

	Secure   bool
	HttpOnly bool
	// HostOnly cookies are sent only to Domain itself, not to its subdomains.
	HostOnly bool
	SameSite string

	// Persistent cookies expire at Expires. Others live as long as the jar.
	Persistent bool
	Expires    time.Time
	Creation   time.Time

	seq uint64
}

func (c *Cookie) id() string {
	return c.Name + ";" + c.Domain + ";" + c.Path
}

func (c *Cookie) expired(now time.Time) bool {
	return c.Persistent && !c.Expires.After(now)
}

// String renders the cookie as in a Cookie header.
func (c *Cookie) String() string {
	return c.Name + "=" + c.Value
}

// SetCookie holds the attributes of a Set-Cookie field value as sent.
type SetCookie struct {
	Name  string
	Value string

	Domain string
	Path   string

	// Expires is zero when absent or unparsable.
	Expires time.Time
	// MaxAge is nil when absent or unparsable.
	MaxAge *int64

	Secure   bool
	HttpOnly bool
	SameSite string
}

var ErrMalformedSetCookie = errors.New("set-cookie is malformed")

// ParseSetCookie parses a Set-Cookie field value.
// Unknown or malformed attributes are ignored.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc6265#section-5.2
func ParseSetCookie(value string) (SetCookie, error) {
	parts := strings.Split(value, ";")

	pair := rule.TrimOWS(parts[0])
	name, val, found := strings.Cut(pair, "=")
	if !found {
		return SetCookie{}, errors.Wrap(ErrMalformedSetCookie, "no '=' in cookie-pair")
	}

	name, val = rule.TrimOWS(name), rule.TrimOWS(val)
	if !rule.IsValidToken(name) {
		return SetCookie{}, errors.Wrapf(ErrMalformedSetCookie, "invalid name %q", name)
	}
	if !validCookieValue(val) {
		return SetCookie{}, errors.Wrapf(ErrMalformedSetCookie, "invalid value for %q", name)
	}

	sc := SetCookie{Name: name, Value: val}
	for _, av := range parts[1:] {
		k, v, _ := strings.Cut(av, "=")
		k, v = rule.TrimOWS(k), rule.TrimOWS(v)

		switch strings.ToLower(k) {
		case "expires":
			if t, ok := parseCookieDate(v); ok {
				sc.Expires = t
			}
		case "max-age":
			if n, ok := parseMaxAge(v); ok {
				sc.MaxAge = &n
			}
		case "domain":
			// Reference: https://datatracker.ietf.org/doc/html/rfc6265#section-5.2.3
			sc.Domain = strings.ToLower(strings.TrimPrefix(v, "."))
		case "path":
			sc.Path = v
		case "secure":
			sc.Secure = true
		case "httponly":
			sc.HttpOnly = true
		case "samesite":
			sc.SameSite = v
		}
	}

	return sc, nil
}

// Reference: https://datatracker.ietf.org/doc/html/rfc6265#section-4.1.1
func validCookieValue(v string) bool {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		v = v[1 : len(v)-1]
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c < 0x20 || c == 0x7f || c == '"' || c == ';' || c == '\\' {
			return false
		}
	}
	return true
}

// Reference: https://datatracker.ietf.org/doc/html/rfc6265#section-5.2.2
func parseMaxAge(v string) (int64, bool) {
	if v == "" {
		return 0, false
	}
	if v[0] != '-' && !rule.IsDigit(rune(v[0])) {
		return 0, false
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			// Out of range still says "forever" or "never".
			if v[0] == '-' {
				return math.MinInt64, true
			}
			return math.MaxInt64, true
		}
		return 0, false
	}
	return n, true
}

var cookieDateLayouts = []string{
	"Mon, 02-Jan-2006 15:04:05 MST",
	"Mon, 02 Jan 06 15:04:05 MST",
	"Mon, 02-Jan-06 15:04:05 MST",
	"Monday, 02-Jan-2006 15:04:05 MST",
}

func parseCookieDate(v string) (time.Time, bool) {
	if t, err := semantic.ParseDate(v); err == nil {
		return t.UTC(), true
	}
	for _, layout := range cookieDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
