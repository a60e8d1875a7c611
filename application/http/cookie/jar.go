package cookie

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"courier/application/http/semantic"

	"github.com/benbjohnson/clock"
	"golang.org/x/net/publicsuffix"
)

// PublicSuffixList tells which domains are registrable by anyone,
// such as "com" or "co.uk". Cookies cannot be scoped to them.
type PublicSuffixList interface {
	PublicSuffix(domain string) string
	String() string
}

// Expiry is capped at 400 days from now.
//
// Reference: https://datatracker.ietf.org/doc/html/draft-ietf-httpbis-rfc6265bis#section-5.6.1
const maxAgeSeconds = 400 * 24 * 60 * 60

type Options struct {
	Clock clock.Clock
	// PublicSuffixList defaults to the list compiled into x/net.
	PublicSuffixList PublicSuffixList
}

// Jar stores cookies received in responses and selects them for requests.
// It is safe for concurrent use.
type Jar struct {
	clock clock.Clock
	psl   PublicSuffixList

	mu sync.Mutex
	// entries are keyed by cookie domain, then by name, domain and path.
	entries map[string]map[string]*Cookie
	seq     uint64
}

func NewJar(opts Options) *Jar {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.PublicSuffixList == nil {
		opts.PublicSuffixList = publicsuffix.List
	}

	return &Jar{
		clock:   opts.Clock,
		psl:     opts.PublicSuffixList,
		entries: make(map[string]map[string]*Cookie),
	}
}

// SetCookies stores the cookies set by a response from u.
// Values which cannot be parsed or are not allowed for u are skipped.
// It returns the number of cookies stored or deleted.
func (j *Jar) SetCookies(u *url.URL, values []string) int {
	if len(values) == 0 {
		return 0
	}

	host := canonicalHost(u.Hostname())
	if host == "" {
		return 0
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.clock.Now()
	j.purge(now)

	applied := 0
	for _, v := range values {
		sc, err := ParseSetCookie(v)
		if err != nil {
			continue
		}

		c, remove, ok := j.newCookie(sc, host, u.EscapedPath(), now)
		if !ok {
			continue
		}

		if remove {
			j.remove(c)
		} else {
			j.upsert(c)
		}
		applied++
	}

	return applied
}

// Reference: https://datatracker.ietf.org/doc/html/rfc6265#section-5.3
func (j *Jar) newCookie(sc SetCookie, host, requestPath string, now time.Time) (c *Cookie, remove, ok bool) {
	c = &Cookie{
		Name:     sc.Name,
		Value:    sc.Value,
		Secure:   sc.Secure,
		HttpOnly: sc.HttpOnly,
		SameSite: sc.SameSite,
		Creation: now,
	}

	domain, hostOnly, ok := j.cookieDomain(host, sc.Domain)
	if !ok {
		return nil, false, false
	}
	c.Domain, c.HostOnly = domain, hostOnly

	c.Path = sc.Path
	if c.Path == "" || c.Path[0] != '/' {
		c.Path = defaultPath(requestPath)
	}

	// Max-Age wins over Expires.
	switch {
	case sc.MaxAge != nil:
		if *sc.MaxAge <= 0 {
			return c, true, true
		}
		age := min(*sc.MaxAge, maxAgeSeconds)
		c.Persistent = true
		c.Expires = now.Add(time.Duration(age) * time.Second)
	case !sc.Expires.IsZero():
		if !sc.Expires.After(now) {
			return c, true, true
		}
		c.Persistent = true
		c.Expires = sc.Expires
		if limit := now.Add(maxAgeSeconds * time.Second); c.Expires.After(limit) {
			c.Expires = limit
		}
	}

	return c, false, true
}

func (j *Jar) cookieDomain(host, attr string) (domain string, hostOnly, ok bool) {
	if attr == "" {
		return host, true, true
	}

	attr = canonicalHost(attr)

	if isIP(host) {
		return host, true, attr == host
	}

	if j.psl != nil && j.psl.PublicSuffix(attr) == attr {
		// A public suffix is only acceptable as the exact host.
		return host, true, attr == host
	}

	if !domainMatch(host, attr) {
		return "", false, false
	}
	return attr, false, true
}

func (j *Jar) upsert(c *Cookie) {
	bucket, ok := j.entries[c.Domain]
	if !ok {
		bucket = make(map[string]*Cookie)
		j.entries[c.Domain] = bucket
	}

	id := c.id()
	if old, ok := bucket[id]; ok {
		c.Creation, c.seq = old.Creation, old.seq
	} else {
		j.seq++
		c.seq = j.seq
	}
	bucket[id] = c
}

func (j *Jar) remove(c *Cookie) {
	bucket, ok := j.entries[c.Domain]
	if !ok {
		return
	}
	delete(bucket, c.id())
	if len(bucket) == 0 {
		delete(j.entries, c.Domain)
	}
}

func (j *Jar) purge(now time.Time) {
	for domain, bucket := range j.entries {
		for id, c := range bucket {
			if c.expired(now) {
				delete(bucket, id)
			}
		}
		if len(bucket) == 0 {
			delete(j.entries, domain)
		}
	}
}

// Cookies returns copies of the cookies to send with a request to u,
// longest path first, then oldest first.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc6265#section-5.4
func (j *Jar) Cookies(u *url.URL) []Cookie {
	host := canonicalHost(u.Hostname())
	if host == "" {
		return nil
	}

	requestPath := u.EscapedPath()
	if requestPath == "" {
		requestPath = "/"
	}
	secure := semantic.IsSecureScheme(u.Scheme)

	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.clock.Now()
	j.purge(now)

	var selected []Cookie
	for _, domain := range parentDomains(host) {
		for _, c := range j.entries[domain] {
			if c.HostOnly && host != c.Domain {
				continue
			}
			if !domainMatch(host, c.Domain) || !pathMatch(requestPath, c.Path) {
				continue
			}
			if c.Secure && !secure {
				continue
			}
			selected = append(selected, *c)
		}
	}

	sort.Slice(selected, func(a, b int) bool {
		ca, cb := &selected[a], &selected[b]
		if len(ca.Path) != len(cb.Path) {
			return len(ca.Path) > len(cb.Path)
		}
		if !ca.Creation.Equal(cb.Creation) {
			return ca.Creation.Before(cb.Creation)
		}
		return ca.seq < cb.seq
	})

	return selected
}

// Header renders the Cookie field value for a request to u.
// It is empty when no cookie applies.
func (j *Jar) Header(u *url.URL) string {
	cookies := j.Cookies(u)

	var sb strings.Builder
	for i := range cookies {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(cookies[i].String())
	}
	return sb.String()
}

// Len returns the number of unexpired cookies.
func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.purge(j.clock.Now())

	n := 0
	for _, bucket := range j.entries {
		n += len(bucket)
	}
	return n
}

func (j *Jar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = make(map[string]map[string]*Cookie)
}
