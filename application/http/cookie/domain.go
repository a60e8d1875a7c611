package cookie

import (
	"net"
	"strings"

	"golang.org/x/net/idna"
)

// canonicalHost lowercases host and converts it to its ASCII form.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc6265#section-5.1.2
func canonicalHost(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if isIP(host) {
		return host
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return host
}

func isIP(host string) bool {
	return net.ParseIP(strings.Trim(host, "[]")) != nil
}

// Reference: https://datatracker.ietf.org/doc/html/rfc6265#section-5.1.3
func domainMatch(host, domain string) bool {
	if host == domain {
		return true
	}
	return !isIP(host) && strings.HasSuffix(host, "."+domain)
}

// Reference: https://datatracker.ietf.org/doc/html/rfc6265#section-5.1.4
func pathMatch(requestPath, cookiePath string) bool {
	if requestPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || requestPath[len(cookiePath)] == '/'
}

// Reference: https://datatracker.ietf.org/doc/html/rfc6265#section-5.1.4
func defaultPath(requestPath string) string {
	if requestPath == "" || requestPath[0] != '/' {
		return "/"
	}

	i := strings.LastIndex(requestPath, "/")
	if i == 0 {
		return "/"
	}
	return requestPath[:i]
}

// parentDomains returns host and the domains it is a subdomain of.
// "a.b.c" gives "a.b.c", "b.c", "c".
func parentDomains(host string) []string {
	if isIP(host) {
		return []string{host}
	}

	domains := []string{host}
	for {
		i := strings.IndexByte(host, '.')
		if i < 0 {
			return domains
		}
		host = host[i+1:]
		domains = append(domains, host)
	}
}
