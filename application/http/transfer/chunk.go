package transfer

import (
	"bufio"
	"bytes"
	"io"
	"math/big"
	"strconv"

	"courier/application/http"
	"courier/application/util/rule"
	iolib "courier/lib/io"
	bytesutil "courier/util/bytes"

	"github.com/pkg/errors"
)

// maxChunkLineLength caps chunk-size lines including extensions.
const maxChunkLineLength = 4096

var ErrMalformedChunk = errors.New("chunk is malformed")

type Chunk struct {
	Size       uint
	Extensions [][2]string
}

type ChunkedCoder struct{ trailerOpts http.DecodeOptions }

var _ Coder = ChunkedCoder{}

func NewChunkedCoder(trailerOpts http.DecodeOptions) ChunkedCoder {
	return ChunkedCoder{trailerOpts: trailerOpts}
}

func (ChunkedCoder) Coding() Coding { return CodingChunked }

func (cc ChunkedCoder) NewReader(r io.Reader) io.Reader {
	return NewChunkedReader(r, cc.trailerOpts)
}

func (cc ChunkedCoder) NewWriter(w io.WriteCloser) io.WriteCloser {
	return NewChunkedWriter(w)
}

type ChunkedReader struct {
	br    *bufio.Reader
	opts  http.DecodeOptions
	chunk *Chunk
	read  uint // reset for each chunk
	done  bool

	onTrailer func(f []http.Field)
}

var _ io.Reader = (*ChunkedReader)(nil)

// NewChunkedReader converts chunked http message into byte stream.
// When r is a [bufio.Reader] it is used as is, so nothing past the last chunk gets consumed.
func NewChunkedReader(r io.Reader, trailerOpts http.DecodeOptions) *ChunkedReader {
	return &ChunkedReader{
		br:   bufio.NewReader(r),
		opts: trailerOpts,
	}
}

// SetOnTrailerReceived sets the callback which gets the trailer section on the last chunk.
func (cr *ChunkedReader) SetOnTrailerReceived(f func(f []http.Field)) {
	cr.onTrailer = f
}

// LastChunk returns the chunk being read, or nil between chunks.
func (cr *ChunkedReader) LastChunk() *Chunk {
	return cr.chunk
}

func (cr *ChunkedReader) Read(b []byte) (int, error) {
	if cr.done {
		return 0, io.EOF
	}

	if cr.chunk == nil {
		if err := cr.decodeChunk(); err != nil {
			return 0, errors.Wrap(err, "decoding chunk")
		}

		if cr.chunk.Size == 0 {
			// Last chunk.
			if err := cr.decodeTrailers(); err != nil {
				return 0, errors.Wrap(err, "decoding trailer")
			}
			cr.chunk = nil
			cr.done = true
			return 0, io.EOF
		}
	}

	if len(b) == 0 {
		return 0, nil
	}

	remain := cr.chunk.Size - cr.read
	if uint(len(b)) > remain {
		b = b[:remain]
	}

	n, err := cr.br.Read(b)
	cr.read += uint(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return n, errors.Wrap(err, "reading chunk data")
	}

	if cr.read == cr.chunk.Size {
		delim := make([]byte, len(rule.CRLF))
		if _, err := io.ReadFull(cr.br, delim); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return n, errors.Wrap(err, "reading chunk delimiter")
		}

		if !bytes.Equal(delim, rule.CRLF) {
			return n, errors.Wrap(ErrMalformedChunk, "CRLF delimiter not found")
		}

		cr.chunk = nil
		cr.read = 0
	}

	return n, nil
}

func (cr *ChunkedReader) decodeChunk() error {
	line, err := readLine(cr.br)
	if err != nil {
		return err
	}

	parts := bytes.Split(line, []byte{';'})

	sizeRaw := bytes.TrimFunc(parts[0], rule.IsWhitespace)
	chunkSize, err := decodeChunkSize(sizeRaw)
	if err != nil {
		return errors.Wrap(ErrMalformedChunk, err.Error())
	}

	// Decode chunk extensions
	parts = parts[1:]
	extensions := make([][2]string, 0)
	for _, part := range parts {
		k, v, _ := bytes.Cut(part, []byte{'='})
		// Trim BWS.
		k = bytes.TrimFunc(k, rule.IsWhitespace)
		v = bytes.TrimFunc(v, rule.IsWhitespace)

		extensions = append(extensions, [2]string{
			string(k),
			string(rule.Unquote(v)),
		})
	}

	cr.chunk = &Chunk{
		Size:       chunkSize,
		Extensions: extensions,
	}

	return nil
}

func decodeChunkSize(b []byte) (uint, error) {
	if len(b) == 0 {
		return 0, errors.New("chunk size is empty")
	}

	n, ok := new(big.Int).SetString(string(b), 16)
	if !ok || n.Sign() < 0 || b[0] == '+' || b[0] == '-' {
		return 0, errors.Errorf("failed to deocode hex: %q", string(b))
	}

	if n.BitLen() > 64 {
		return 0, errors.Errorf("chunk size larger than 64bit: %dbits", n.BitLen())
	}

	size := uint(n.Uint64())
	return size, nil
}

func (cr *ChunkedReader) decodeTrailers() error {
	fields, err := http.NewMessageDecoder(cr.br, cr.opts).DecodeFields()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return errors.Wrap(io.ErrUnexpectedEOF, "reading trailers")
		}
		return errors.Wrap(ErrMalformedChunk, err.Error())
	}

	if cr.onTrailer != nil {
		cr.onTrailer(fields)
	}

	return nil
}

type ChunkedWriter struct {
	w         io.WriteCloser
	headerBuf *bytes.Buffer

	extensions   [][2]string
	sendTrailers func() []http.Field
}

var _ io.WriteCloser = (*ChunkedWriter)(nil)

func NewChunkedWriter(w io.WriteCloser) *ChunkedWriter {
	return &ChunkedWriter{
		w:         w,
		headerBuf: bytes.NewBuffer(nil),
	}
}

// SetExtensions sets extension to the chunk.
// extension lives until [ChunkedWriter.Write].
func (cw *ChunkedWriter) SetExtensions(extensions [][2]string) {
	cw.extensions = extensions
}

// SetSendTrailers sets the callback which provides the trailer section on Close.
func (cw *ChunkedWriter) SetSendTrailers(f func() []http.Field) {
	cw.sendTrailers = f
}

// Write writes p as a single chunk.
func (cw *ChunkedWriter) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		// We should ignore 0 length chunks since it means EOF.
		return 0, nil
	}

	chunk := Chunk{
		Size:       uint(len(p)),
		Extensions: cw.extensions,
	}

	cw.extensions = nil

	n, err = cw.encodeChunk(chunk, p)
	if err != nil {
		return n, errors.Wrap(err, "encoding chunk")
	}

	return n, nil
}

// Close writes the last chunk and trailers, then closes the underlying writer.
func (cw *ChunkedWriter) Close() error {
	chunk := Chunk{
		Size:       0,
		Extensions: cw.extensions,
	}

	if _, err := cw.encodeChunk(chunk, nil); err != nil {
		return errors.Wrap(err, "encoding chunk")
	}

	if err := cw.encodeTrailers(); err != nil {
		return errors.Wrap(err, "encoding trailers")
	}

	return cw.w.Close()
}

func (cw *ChunkedWriter) encodeChunk(chunk Chunk, data []byte) (n int, err error) {
	// size and extensions
	buf := cw.headerBuf
	buf.Reset()
	buf.WriteString(strconv.FormatUint(uint64(chunk.Size), 16))
	for _, ext := range chunk.Extensions {
		buf.WriteByte(';')
		buf.WriteString(ext[0])
		buf.WriteByte('=')
		buf.WriteString(ext[1])
	}
	buf.Write(rule.CRLF)

	if chunk.Size == 0 {
		// Last chunk. only write header.
		if _, err := iolib.WriteFull(cw.w, buf.Bytes()); err != nil {
			return 0, errors.Wrap(err, "writing chunk header")
		}
		return 0, nil
	}

	// chunk data + CRLF
	buf.Write(data)
	buf.Write(rule.CRLF)

	header := buf.Len() - len(data) - len(rule.CRLF)
	written, err := iolib.WriteFull(cw.w, buf.Bytes())
	n = min(max(written-header, 0), len(data))
	if err != nil {
		return n, errors.Wrap(err, "writing data")
	}

	return n, nil
}

func (cw *ChunkedWriter) encodeTrailers() error {
	if cw.sendTrailers != nil {
		for _, field := range cw.sendTrailers() {
			if err := field.Validate(); err != nil {
				return errors.Wrap(err, "validating trailer")
			}
			if err := writeLine(cw.w, field.Text()); err != nil {
				return errors.Wrap(err, "writing trailer")
			}
		}
	}

	if err := writeLine(cw.w, nil); err != nil {
		return errors.Wrap(err, "writing last trailer line")
	}

	return nil
}

// readLine reads until CRLF and cuts it.
func readLine(br *bufio.Reader) (line []byte, err error) {
	line, err = bytesutil.ReadUntil(br, rule.CRLF, maxChunkLineLength)
	if err != nil {
		switch {
		case errors.Is(err, bytesutil.ErrTooLong):
			return nil, errors.Wrap(ErrMalformedChunk, err.Error())
		case errors.Is(err, io.EOF):
			// The body ended without its last chunk.
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return line[:len(line)-2], nil
}

func writeLine(w io.Writer, line []byte) error {
	buf := make([]byte, 0, len(line)+len(rule.CRLF))
	buf = append(buf, line...)
	buf = append(buf, rule.CRLF...)

	if _, err := iolib.WriteFull(w, buf); err != nil {
		return errors.Wrap(err, "writing line")
	}

	return nil
}
