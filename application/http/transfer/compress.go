package transfer

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/pkg/errors"
)

// ErrCorruptContent is returned when a content coding can't be undone.
// Errors of the underlying reader are returned as is instead.
var ErrCorruptContent = errors.New("content is corrupt")

type gzipCoder struct{ coding Coding }

func (c gzipCoder) Coding() Coding { return c.coding }

func (gzipCoder) NewReader(r io.Reader) io.Reader {
	return newDecompressor(r, func(br *bufio.Reader) (io.Reader, error) {
		return gzip.NewReader(br)
	})
}

func (gzipCoder) NewWriter(w io.WriteCloser) io.WriteCloser {
	return &chainedWriter{WriteCloser: gzip.NewWriter(w), next: w}
}

// deflateCoder reads zlib-wrapped data, which is what "deflate" means on the wire.
// Some servers send raw deflate anyway, so that is accepted too.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-8.4.1.2
type deflateCoder struct{}

func (deflateCoder) Coding() Coding { return CodingDeflate }

func (deflateCoder) NewReader(r io.Reader) io.Reader {
	return newDecompressor(r, func(br *bufio.Reader) (io.Reader, error) {
		header, err := br.Peek(2)
		if err == nil && isZlibHeader(header) {
			return zlib.NewReader(br)
		}
		return flate.NewReader(br), nil
	})
}

func (deflateCoder) NewWriter(w io.WriteCloser) io.WriteCloser {
	return &chainedWriter{WriteCloser: zlib.NewWriter(w), next: w}
}

// Reference: https://datatracker.ietf.org/doc/html/rfc1950#section-2.2
func isZlibHeader(b []byte) bool {
	cmf, flg := b[0], b[1]
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

type brotliCoder struct{}

func (brotliCoder) Coding() Coding { return CodingBrotli }

func (brotliCoder) NewReader(r io.Reader) io.Reader {
	return newDecompressor(r, func(br *bufio.Reader) (io.Reader, error) {
		return brotli.NewReader(br), nil
	})
}

func (brotliCoder) NewWriter(w io.WriteCloser) io.WriteCloser {
	return &chainedWriter{WriteCloser: brotli.NewWriter(w), next: w}
}

type identityCoder struct{}

func (identityCoder) Coding() Coding                            { return CodingIdentity }
func (identityCoder) NewReader(r io.Reader) io.Reader           { return r }
func (identityCoder) NewWriter(w io.WriteCloser) io.WriteCloser { return w }

// chainedWriter closes next after its own WriteCloser.
type chainedWriter struct {
	io.WriteCloser
	next io.WriteCloser
}

func (cw *chainedWriter) Close() error {
	if err := cw.WriteCloser.Close(); err != nil {
		return err
	}
	return cw.next.Close()
}

// upstreamReader remembers the first failure of the reader it wraps.
type upstreamReader struct {
	r   io.Reader
	err error
}

func (ur *upstreamReader) Read(p []byte) (int, error) {
	n, err := ur.r.Read(p)
	if err != nil && err != io.EOF && ur.err == nil {
		ur.err = err
	}
	return n, err
}

// decompressor opens the actual decoder on the first Read,
// so building a chain does no I/O and an empty body decodes to nothing.
type decompressor struct {
	up   *upstreamReader
	br   *bufio.Reader
	open func(br *bufio.Reader) (io.Reader, error)

	r   io.Reader
	err error
}

func newDecompressor(r io.Reader, open func(br *bufio.Reader) (io.Reader, error)) *decompressor {
	up := &upstreamReader{r: r}
	return &decompressor{
		up:   up,
		br:   bufio.NewReader(up),
		open: open,
	}
}

func (d *decompressor) Read(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}

	if d.r == nil {
		if _, err := d.br.Peek(1); err != nil {
			d.err = d.classify(err)
			return 0, d.err
		}

		r, err := d.open(d.br)
		if err != nil {
			d.err = d.classify(err)
			return 0, d.err
		}
		d.r = r
	}

	n, err := d.r.Read(p)
	if err != nil {
		d.err = d.classify(err)
		if n > 0 {
			// Bytes go out first, the error comes on the next Read.
			return n, nil
		}
	}

	return n, d.err
}

func (d *decompressor) classify(err error) error {
	switch {
	case err == io.EOF:
		return io.EOF
	case d.up.err != nil:
		return d.up.err
	default:
		return errors.Wrap(ErrCorruptContent, err.Error())
	}
}

// Close releases resources of the decoder, if it has any.
func (d *decompressor) Close() error {
	if c, ok := d.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
