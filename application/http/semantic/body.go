package semantic

import (
	"bytes"
	"io"
	"sync/atomic"

	"github.com/pkg/errors"
)

var ErrBodyConsumed = errors.New("body was already consumed")

// Body is the content of a request.
// A bytes body can be opened any number of times.
// A stream body has an unknown length and can be opened once.
type Body struct {
	data   []byte
	stream io.Reader

	opened atomic.Bool
}

func NewBytesBody(b []byte) *Body { return &Body{data: b} }

func NewStringBody(s string) *Body { return &Body{data: []byte(s)} }

func NewStreamBody(r io.Reader) *Body { return &Body{stream: r} }

// Len returns the length of the body, or -1 if unknown.
func (b *Body) Len() int64 {
	if b.stream != nil {
		return -1
	}
	return int64(len(b.data))
}

// Replayable reports whether the body can be sent again.
func (b *Body) Replayable() bool {
	return b.stream == nil || !b.opened.Load()
}

// Open returns a reader over the content.
func (b *Body) Open() (io.Reader, error) {
	if b.stream == nil {
		b.opened.Store(true)
		return bytes.NewReader(b.data), nil
	}

	if b.opened.Swap(true) {
		return nil, ErrBodyConsumed
	}
	return b.stream, nil
}
