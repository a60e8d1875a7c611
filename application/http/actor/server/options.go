package server

import (
	"courier/application/http"
	"courier/application/http/transfer"
	"time"
)

type Options struct {
	Encode http.EncodeOptions `yaml:"encode"`
	Decode http.DecodeOptions `yaml:"decode"`

	Timeout TimeoutOptions `yaml:"timeout"`

	// MaxContentLength bounds request content. Zero means no bound.
	MaxContentLength int64 `yaml:"max_content_length"`

	ExtraTransferCoders []transfer.Coder `yaml:"-"`
}

// Zero disables a timeout.
type TimeoutOptions struct {
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}
