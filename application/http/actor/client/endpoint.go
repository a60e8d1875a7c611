package client

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"courier/application/http/semantic"
	"courier/transport"
)

// Endpoint is what connections are pooled by.
type Endpoint struct {
	Scheme string
	Host   string
	Port   uint16
}

var _ transport.Addr = Endpoint{}

// EndpointOf returns the endpoint a request to u is sent to.
func EndpointOf(u *url.URL) Endpoint {
	req := semantic.Request{URL: u}
	return Endpoint{
		Scheme: u.Scheme,
		Host:   strings.ToLower(u.Hostname()),
		Port:   req.Port(),
	}
}

// Network tells the dialer whether TLS is needed.
func (e Endpoint) Network() string {
	if semantic.IsSecureScheme(e.Scheme) {
		return transport.NetworkTLS
	}
	return transport.NetworkTCP
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.FormatUint(uint64(e.Port), 10))
}
