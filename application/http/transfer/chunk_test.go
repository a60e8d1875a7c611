package transfer

import (
	"bytes"
	"courier/application/http"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ChunkedReaderTestSuite struct {
	suite.Suite
}

func TestChunkedReaderTestSuite(t *testing.T) {
	suite.Run(t, new(ChunkedReaderTestSuite))
}

func (s *ChunkedReaderTestSuite) newReader(r io.Reader) *ChunkedReader {
	return NewChunkedCoder(http.DefaultDecodeOptions).NewReader(r).(*ChunkedReader)
}

func (s *ChunkedReaderTestSuite) TestRead() {
	input := []byte("" +
		"5;ext=foo\r\n" +
		"ABCDE\r\n" +
		"a\r\n" +
		"FGHIJKLNMO\r\n" +
		"0\r\n" + // last chunk
		"Hello: World\r\n" + // trailer
		"\r\n", // empty trailer (last trailer)
	)

	trailers := make([]http.Field, 0)
	cr := s.newReader(bytes.NewReader(input))
	cr.SetOnTrailerReceived(func(f []http.Field) { trailers = f })

	buf := make([]byte, 2)
	// First read reads only AB
	n, err := cr.Read(buf)
	s.Require().NoError(err)
	s.Equal(len(buf), n)
	s.Equal([]byte("AB"), buf)

	buf = make([]byte, 10)
	// Second read reads all the data in first chunk.
	n, err = cr.Read(buf)
	s.Require().NoError(err)
	s.Equal(3, n)
	s.Equal([]byte("CDE"), buf[:n])

	// Third read reads all the data in second chunk.
	n, err = cr.Read(buf)
	s.Require().NoError(err)
	s.Equal(len(buf), n)
	s.Equal([]byte("FGHIJKLNMO"), buf)

	// Fourth read reads last chunk.
	n, err = cr.Read(buf)
	s.Require().ErrorIs(err, io.EOF)
	s.Equal(0, n)

	s.Len(trailers, 1)
	expected := http.Field{Name: []byte("Hello"), Value: []byte("World")}
	s.Equal(expected, trailers[0])

	// Stays at EOF.
	n, err = cr.Read(buf)
	s.ErrorIs(err, io.EOF)
	s.Zero(n)
}

func (s *ChunkedReaderTestSuite) TestReadSimple() {
	b, err := io.ReadAll(s.newReader(strings.NewReader("4\r\ntest\r\n0\r\n\r\n")))
	s.NoError(err)
	s.Equal("test", string(b))
}

func (s *ChunkedReaderTestSuite) TestStopsAtBodyEnd() {
	// What comes after the chunked body belongs to the next message.
	r := strings.NewReader("1\r\nx\r\n0\r\n\r\nHTTP/1.1 200 OK\r\n")
	br := bufioReader(r)

	b, err := io.ReadAll(s.newReader(br))
	s.Require().NoError(err)
	s.Equal("x", string(b))

	rest, err := io.ReadAll(br)
	s.NoError(err)
	s.Equal("HTTP/1.1 200 OK\r\n", string(rest))
}

func (s *ChunkedReaderTestSuite) TestReadErrors() {
	testcases := []struct {
		desc    string
		input   string
		wantErr error
	}{
		{desc: "non-hex size", input: "zz\r\nabc\r\n0\r\n\r\n", wantErr: ErrMalformedChunk},
		{desc: "signed size", input: "+4\r\ntest\r\n0\r\n\r\n", wantErr: ErrMalformedChunk},
		{desc: "size over 64 bits", input: "1FFFFFFFFFFFFFFFF\r\n", wantErr: ErrMalformedChunk},
		{desc: "missing CRLF after data", input: "4\r\ntestXX0\r\n\r\n", wantErr: ErrMalformedChunk},
		{desc: "malformed trailer", input: "0\r\nno colon\r\n\r\n", wantErr: ErrMalformedChunk},
		{desc: "truncated data", input: "4\r\nte", wantErr: io.ErrUnexpectedEOF},
		{desc: "missing last chunk", input: "4\r\ntest\r\n", wantErr: io.ErrUnexpectedEOF},
		{desc: "missing trailer terminator", input: "4\r\ntest\r\n0\r\n", wantErr: io.ErrUnexpectedEOF},
		{desc: "size line too long", input: strings.Repeat("0", maxChunkLineLength+1) + "\r\n", wantErr: ErrMalformedChunk},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			_, err := io.ReadAll(s.newReader(strings.NewReader(tc.input)))
			s.ErrorIs(err, tc.wantErr)
		})
	}
}

func (s *ChunkedReaderTestSuite) TestDecodeChunk() {
	testcases := []struct {
		desc     string
		input    []byte
		expected Chunk
		wantErr  bool
	}{
		{
			desc: "example chunk",
			input: []byte(
				"5;ext=foo\r\n" +
					"ABCDE\r\n",
			),
			expected: Chunk{
				Size: 5,
				Extensions: [][2]string{
					{"ext", "foo"},
				},
			},
		},
		{
			desc: "BWS inside chunk",
			input: []byte(
				"5 ; ext = foo\r\n" +
					"ABCDE\r\n",
			),
			expected: Chunk{
				Size: 5,
				Extensions: [][2]string{
					{"ext", "foo"},
				},
			},
		},
		{
			desc: "quoted extension",
			input: []byte(
				"5;name=\"a \\\"b\\\"\"\r\n" +
					"ABCDE\r\n",
			),
			expected: Chunk{
				Size: 5,
				Extensions: [][2]string{
					{"name", "a \"b\""},
				},
			},
		},
		{
			desc:    "malformed chunk (empty)",
			input:   []byte("\r\n"),
			wantErr: true,
		},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			cr := s.newReader(bytes.NewReader(tc.input))

			err := cr.decodeChunk()
			if tc.wantErr {
				s.Error(err)
				return
			}

			s.NoError(err)

			data, err := io.ReadAll(cr.br)
			s.NoError(err)

			s.Equal(tc.expected, *cr.chunk)
			s.Len(data, int(cr.chunk.Size)+2) // ignore crlf
		})
	}
}

func TestDecodeChunkSize(t *testing.T) {
	testcases := []struct {
		desc     string
		input    []byte
		expected uint
		wantErr  bool
	}{
		{
			desc:     "normal hex",
			input:    []byte("FF"),
			expected: 0xFF,
		},
		{
			desc:     "lower case hex",
			input:    []byte("1a"),
			expected: 0x1A,
		},
		{
			desc:    "invalid hex",
			input:   []byte("haha this aint hex"),
			wantErr: true,
		},
		{
			desc:    "hex too long",
			input:   []byte("FFFFFFFFFFFFFFFFFF"), // 9 bytes
			wantErr: true,
		},
		{
			desc:    "empty",
			input:   []byte(""),
			wantErr: true,
		},
		{
			desc:    "negative",
			input:   []byte("-1"),
			wantErr: true,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			size, err := decodeChunkSize(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tc.expected, size)
		})
	}
}

func (s *ChunkedReaderTestSuite) TestDecodeTrailers() {
	r := strings.NewReader(
		"" +
			"Hello: World\r\n" +
			"Foo: Bar\r\n" +
			"\r\n",
	)
	expected := []http.Field{
		{Name: []byte("Hello"), Value: []byte("World")},
		{Name: []byte("Foo"), Value: []byte("Bar")},
	}

	store := make([]http.Field, 0)
	cr := s.newReader(r)
	cr.SetOnTrailerReceived(func(f []http.Field) { store = f })

	s.NoError(cr.decodeTrailers())
	s.Equal(expected, store)
}

type ChunkedWriterTestSuite struct {
	suite.Suite
}

func TestChunkedWriterTestSuite(t *testing.T) {
	suite.Run(t, new(ChunkedWriterTestSuite))
}

func (s *ChunkedWriterTestSuite) newWriter(buf *bytes.Buffer) (*ChunkedWriter, *stubWriteCloser) {
	sink := &stubWriteCloser{buf: buf}
	return NewChunkedCoder(http.DefaultDecodeOptions).NewWriter(sink).(*ChunkedWriter), sink
}

func (s *ChunkedWriterTestSuite) TestWrite() {
	buf := bytes.NewBuffer(nil)

	cw, _ := s.newWriter(buf)

	// Empty write is ignored
	n, err := cw.Write(nil)
	s.Require().NoError(err)
	s.Require().Zero(n)
	s.Require().Empty(buf.Bytes())

	cw.SetExtensions([][2]string{{"foo", "bar"}})
	p := []byte("ABC")

	expected := []byte("" +
		"3;foo=bar\r\n" +
		"ABC\r\n",
	)

	n, err = cw.Write(p)
	s.Require().NoError(err)
	s.Equal(len(p), n)
	s.Equal(expected, buf.Bytes())
}

func (s *ChunkedWriterTestSuite) TestClose() {
	trailers := []http.Field{{Name: []byte("foo"), Value: []byte("bar")}}
	buf := bytes.NewBuffer(nil)

	cw, sink := s.newWriter(buf)
	cw.SetSendTrailers(func() []http.Field { return trailers })

	cw.SetExtensions([][2]string{{"foo", "bar"}})
	expected := []byte("" +
		"0;foo=bar\r\n" +
		"foo: bar\r\n" +
		"\r\n",
	)

	err := cw.Close()
	s.Require().NoError(err)
	s.Equal(expected, buf.Bytes())
	s.True(sink.closed)
}

func (s *ChunkedWriterTestSuite) TestEncodeChunk() {
	chunk := Chunk{
		Size: 0xF,
		Extensions: [][2]string{
			{"foo", "bar"},
		},
	}

	expected := []byte("" +
		"f;foo=bar\r\n" +
		"123456789ABCDEF\r\n",
	)

	buf := bytes.NewBuffer(nil)
	cw, _ := s.newWriter(buf)

	n, err := cw.encodeChunk(chunk, []byte("123456789ABCDEF"))
	s.Require().NoError(err)
	s.Equal(0xF, n)

	s.Equal(expected, buf.Bytes())
}

func (s *ChunkedWriterTestSuite) TestEncodeChunkLast() {
	chunk := Chunk{
		Size: 0,
		Extensions: [][2]string{
			{"foo", "bar"},
		},
	}

	expected := []byte("0;foo=bar\r\n")

	buf := bytes.NewBuffer(nil)
	cw, _ := s.newWriter(buf)

	_, err := cw.encodeChunk(chunk, nil)
	s.Require().NoError(err)

	s.Equal(expected, buf.Bytes())
}

func (s *ChunkedWriterTestSuite) TestEncodeTrailers() {
	trailers := []http.Field{
		{Name: []byte("Foo"), Value: []byte("Bar")},
	}

	expected := []byte("" +
		"Foo: Bar\r\n" +
		"\r\n",
	)

	buf := bytes.NewBuffer(nil)
	cw, _ := s.newWriter(buf)
	cw.SetSendTrailers(func() []http.Field { return trailers })

	s.Require().NoError(cw.encodeTrailers())
	s.Equal(expected, buf.Bytes())
}

func (s *ChunkedWriterTestSuite) TestEncodeTrailersNil() {
	expected := []byte("\r\n")

	buf := bytes.NewBuffer(nil)
	cw, _ := s.newWriter(buf)

	s.Require().NoError(cw.encodeTrailers())
	s.Equal(expected, buf.Bytes())
}

func (s *ChunkedWriterTestSuite) TestEncodeTrailersInvalid() {
	buf := bytes.NewBuffer(nil)
	cw, _ := s.newWriter(buf)
	cw.SetSendTrailers(func() []http.Field {
		return []http.Field{http.NewField("Bad Name", "x")}
	})

	s.Error(cw.encodeTrailers())
}

// Dechunking and then chunking again with the same sizes gives back the same bytes.
func TestChunkedRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))

	for i := 0; i < 50; i++ {
		encoded := bytes.NewBuffer(nil)
		cw := NewChunkedWriter(&stubWriteCloser{buf: encoded})

		numChunks := rnd.Intn(8)
		for j := 0; j < numChunks; j++ {
			chunk := make([]byte, 1+rnd.Intn(5000))
			rnd.Read(chunk)
			_, err := cw.Write(chunk)
			require.NoError(t, err)
		}
		require.NoError(t, cw.Close())

		original := bytes.Clone(encoded.Bytes())

		// Collect the chunks as they are decoded.
		cr := NewChunkedReader(bytes.NewReader(original), http.DefaultDecodeOptions)
		var chunks [][]byte
		var current []byte
		buf := make([]byte, 1+rnd.Intn(700))
		for {
			n, err := cr.Read(buf)
			current = append(current, buf[:n]...)
			if n > 0 && cr.LastChunk() == nil {
				chunks = append(chunks, current)
				current = nil
			}
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
		}
		require.Len(t, chunks, numChunks)

		rechunked := bytes.NewBuffer(nil)
		cw = NewChunkedWriter(&stubWriteCloser{buf: rechunked})
		for _, chunk := range chunks {
			_, err := cw.Write(chunk)
			require.NoError(t, err)
		}
		require.NoError(t, cw.Close())

		assert.Equal(t, original, rechunked.Bytes())
	}
}

func TestReadLine(t *testing.T) {
	line := []byte("hello\r\n")
	result, err := readLine(bufioReader(bytes.NewReader(line)))
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), result)
}

func TestWriteLine(t *testing.T) {
	line := []byte("hello")

	buf := bytes.NewBuffer(nil)
	err := writeLine(buf, line)
	assert.NoError(t, err)

	assert.Equal(t, []byte("hello\r\n"), buf.Bytes())
}
