// Package bytesutil has helpers for reading delimited byte sequences.
package bytesutil

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
)

var ErrTooLong = errors.New("delimiter not found within limit")

// ReadUntil reads from r until delim. The output will include delim.
// If limit is positive, reading stops with [ErrTooLong] once more than limit bytes were read.
// Running out of input before delim is [io.ErrUnexpectedEOF], unless nothing was read at all,
// which is reported as [io.EOF].
func ReadUntil(r *bufio.Reader, delim []byte, limit int) ([]byte, error) {
	last := delim[len(delim)-1]

	buf := bytes.NewBuffer(nil)
	for {
		b, err := r.ReadSlice(last)
		buf.Write(b)

		if limit > 0 && buf.Len() > limit {
			return nil, ErrTooLong
		}

		switch {
		case err == nil:
			if bytes.HasSuffix(buf.Bytes(), delim) {
				return buf.Bytes(), nil
			}
		case errors.Is(err, bufio.ErrBufferFull):
			// Keep going with the rest.
		case errors.Is(err, io.EOF):
			if buf.Len() == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}
