package iolib

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

const middlewareChunkSize = 32 * 1024

// MiddlewareReader turns a writer middleware into a reader.
// Bytes read from src are written through the middleware,
// and whatever the middleware emits is what Read returns.
// The middleware is closed once src reaches EOF, so it can flush its tail.
type MiddlewareReader struct {
	src   io.Reader
	chunk []byte

	buf  *bytes.Buffer
	bufw io.WriteCloser

	eof bool
	err error
}

func NewMiddlewareReader(
	src io.Reader, middleware func(io.WriteCloser) io.WriteCloser,
) *MiddlewareReader {
	mr := &MiddlewareReader{
		src:   src,
		chunk: make([]byte, middlewareChunkSize),
		buf:   bytes.NewBuffer(nil),
	}
	mr.bufw = middleware(NopWriteCloser(mr.buf))
	return mr
}

func (mr *MiddlewareReader) Read(p []byte) (n int, err error) {
	for mr.buf.Len() == 0 {
		if mr.err != nil {
			return 0, mr.err
		}
		if mr.eof {
			return 0, io.EOF
		}
		mr.fill()
	}

	return mr.buf.Read(p)
}

func (mr *MiddlewareReader) fill() {
	n, err := mr.src.Read(mr.chunk)
	if n > 0 {
		if _, werr := mr.bufw.Write(mr.chunk[:n]); werr != nil {
			mr.err = errors.Wrap(werr, "failed to write")
			return
		}
	}

	switch {
	case err == io.EOF:
		if cerr := mr.bufw.Close(); cerr != nil {
			mr.err = errors.Wrap(cerr, "failed to close middleware")
			return
		}
		mr.eof = true
	case err != nil:
		mr.err = errors.Wrap(err, "reading from source")
	}
}
