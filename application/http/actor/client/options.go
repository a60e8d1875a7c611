package client

import (
	"os"
	"time"

	"courier/application/http"
	"courier/application/http/cookie"
	"courier/application/http/redirect"
	"courier/application/http/semantic"
	"courier/application/http/transfer"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Options struct {
	Send     SendOptions     `yaml:"send"`
	Receive  ReceiveOptions  `yaml:"receive"`
	Conn     ConnOptions     `yaml:"conn"`
	Timeout  TimeoutOptions  `yaml:"timeout"`
	Redirect RedirectOptions `yaml:"redirect"`
	Cookies  CookieOptions   `yaml:"cookies"`

	// UserAgent is sent unless the request has its own.
	UserAgent string `yaml:"user_agent"`
	// AcceptEncoding is sent unless the request has its own.
	// Every coding listed must be decodable.
	AcceptEncoding string `yaml:"accept_encoding"`

	ExtraCoders []transfer.Coder `yaml:"-"`
}

type SendOptions struct {
	Encode http.EncodeOptions `yaml:",inline"`
}

type ReceiveOptions struct {
	Decode http.DecodeOptions            `yaml:",inline"`
	Parse  semantic.ParseResponseOptions `yaml:",inline"`

	// MaxDrain is how much of an unread body is discarded to keep the connection,
	// when a redirect response is skipped or a decoder stops before the framing ends.
	MaxDrain int64 `yaml:"max_drain"`
}

type ConnOptions struct {
	MaxIdlePerHost int `yaml:"max_idle_per_host"`
	// MaxOpenPerHost of 0 puts no limit.
	MaxOpenPerHost int `yaml:"max_open_per_host"`

	// DialRate is dials per second over all hosts. 0 puts no limit.
	DialRate  float64 `yaml:"dial_rate"`
	DialBurst int     `yaml:"dial_burst"`
}

type TimeoutOptions struct {
	// Request bounds a whole exchange, redirects and body included.
	Request time.Duration `yaml:"request"`
	// Idle is how long a connection may sit in the pool.
	Idle time.Duration `yaml:"idle"`
}

type RedirectOptions struct {
	Max     int  `yaml:"max"`
	Referer bool `yaml:"referer"`

	// Policy overrides Max when set.
	Policy *redirect.Policy `yaml:"-"`
}

type CookieOptions struct {
	Enabled bool `yaml:"enabled"`

	// Jar is used instead of a fresh one when set.
	Jar *cookie.Jar `yaml:"-"`
}

func DefaultOptions() Options {
	return Options{
		Receive: ReceiveOptions{
			Decode: http.DecodeOptions{
				MaxFieldLineLength:  16 * 1024,
				MaxStatusLineLength: 8 * 1024,
				MaxHeaderCount:      256,
			},
			Parse:    semantic.ParseResponseOptions{UseReceivedReasonPhrase: true},
			MaxDrain: 64 * 1024,
		},
		Conn: ConnOptions{
			MaxIdlePerHost: 2,
			DialBurst:      1,
		},
		Timeout: TimeoutOptions{
			Request: 30 * time.Second,
			Idle:    90 * time.Second,
		},
		Redirect: RedirectOptions{
			Max:     redirect.Default().Max,
			Referer: true,
		},
		Cookies:        CookieOptions{Enabled: true},
		UserAgent:      "courier/0.1",
		AcceptEncoding: "gzip, deflate, br",
	}
}

// ParseOptions reads YAML over the defaults.
func ParseOptions(b []byte) (Options, error) {
	opts := DefaultOptions()
	if err := yaml.Unmarshal(b, &opts); err != nil {
		return Options{}, errors.Wrap(err, "parsing options")
	}
	opts.applyDefaults()
	return opts, nil
}

func LoadOptions(path string) (Options, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Options{}, errors.Wrapf(err, "reading %s", path)
	}
	return ParseOptions(b)
}

// applyDefaults fills zero numbers. Flags are taken as they are.
func (o *Options) applyDefaults() {
	def := DefaultOptions()

	if o.Receive.MaxDrain == 0 {
		o.Receive.MaxDrain = def.Receive.MaxDrain
	}
	if o.Conn.MaxIdlePerHost == 0 {
		o.Conn.MaxIdlePerHost = def.Conn.MaxIdlePerHost
	}
	if o.Conn.DialBurst == 0 {
		o.Conn.DialBurst = def.Conn.DialBurst
	}
	if o.Timeout.Request == 0 {
		o.Timeout.Request = def.Timeout.Request
	}
	if o.Timeout.Idle == 0 {
		o.Timeout.Idle = def.Timeout.Idle
	}
	if o.Redirect.Max == 0 {
		o.Redirect.Max = def.Redirect.Max
	}
}

func (o *Options) redirectPolicy() redirect.Policy {
	if o.Redirect.Policy != nil {
		return *o.Redirect.Policy
	}
	return redirect.Limited(o.Redirect.Max)
}
