package iolib

import "io"

// LimitReader returns a reader which reads exactly n bytes from r.
// Unlike [io.LimitReader], running out of r before n bytes is an [io.ErrUnexpectedEOF].
func LimitReader(r io.Reader, n int64) *LimitedReader { return &LimitedReader{R: r, N: n} }

type LimitedReader struct {
	R io.Reader // underlying reader
	N int64     // max bytes remaining
}

func (l *LimitedReader) Read(p []byte) (n int, err error) {
	if l.N <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > l.N {
		p = p[:l.N]
	}
	n, err = l.R.Read(p)
	l.N -= int64(n)

	if err == io.EOF {
		if l.N > 0 {
			return n, io.ErrUnexpectedEOF
		}
		// The last bytes came together with EOF.
		return n, nil
	}
	return n, err
}

// Remaining reports how many bytes are left to read.
func (l *LimitedReader) Remaining() int64 { return l.N }
