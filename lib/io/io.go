// Package iolib holds small readers and writers the codec layers build on.
package iolib

import (
	"io"

	"github.com/pkg/errors"
)

type nopWriteCloser struct{ w io.Writer }

func NopWriteCloser(w io.Writer) io.WriteCloser {
	return &nopWriteCloser{w: w}
}

func (nc *nopWriteCloser) Close() error {
	return nil
}

func (nc *nopWriteCloser) Write(p []byte) (n int, err error) {
	return nc.w.Write(p)
}

// WriteFull writes whole buf into w, retrying short writes.
func WriteFull(w io.Writer, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

// Drain reads and discards r until EOF, but no more than limit bytes.
// It reports whether EOF was reached within the limit.
func Drain(r io.Reader, limit int64) (bool, error) {
	_, err := io.CopyN(io.Discard, r, limit+1)
	switch {
	case errors.Is(err, io.EOF):
		return true, nil
	case err != nil:
		return false, err
	}
	// There was more than limit.
	return false, nil
}
