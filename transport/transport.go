package transport

const (
	NetworkTCP = "tcp"
	// NetworkTLS is tcp with a TLS session on top of it.
	NetworkTLS  = "tls"
	NetworkPipe = "pipe"
)

type Addr interface {
	Network() string
	String() string
}
