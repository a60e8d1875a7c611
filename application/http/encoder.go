package http

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"courier/application/util/rule"

	"github.com/pkg/errors"
)

type EncodeOptions struct {
	// UseSoleLF specifies wheter a single LF character should be used as a line terminator.
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-3
	UseSoleLF bool `yaml:"use_sole_lf"`
}

var DefaultEncodeOptions = EncodeOptions{
	UseSoleLF: false,
}

type MessageEncoder struct {
	bw   *bufio.Writer
	opts EncodeOptions
}

func (me *MessageEncoder) writeLine(line []byte) error {
	if _, err := me.bw.Write(line); err != nil {
		return errors.Wrap(err, "writing line")
	}

	term := rule.CRLF
	if me.opts.UseSoleLF {
		term = term[1:]
	}

	if _, err := me.bw.Write(term); err != nil {
		return errors.Wrap(err, "writing line terminator")
	}

	return nil
}

func (me *MessageEncoder) encodeHeaders(headers []Field) error {
	for _, field := range headers {
		if err := field.Validate(); err != nil {
			return err
		}

		if err := me.writeLine(field.Text()); err != nil {
			return errors.Wrap(err, "writing field")
		}
	}

	// Write a empty line as all the headers are written.
	if err := me.writeLine(nil); err != nil {
		return errors.Wrap(err, "writing line terminator")
	}

	return nil
}

// encodeBody flushes the head and copies body, if any.
func (me *MessageEncoder) encodeBody(body io.Reader) error {
	// Head goes out before we start pulling the body.
	if err := me.bw.Flush(); err != nil {
		return errors.Wrap(err, "flushing start line & header")
	}

	if body == nil {
		return nil
	}

	if _, err := me.bw.ReadFrom(body); err != nil {
		return errors.Wrap(err, "writing body")
	}

	if err := me.bw.Flush(); err != nil {
		return errors.Wrap(err, "flushing body")
	}

	return nil
}

type RequestEncoder struct{ MessageEncoder }

func NewRequestEncoder(w io.Writer, opts EncodeOptions) *RequestEncoder {
	return &RequestEncoder{
		MessageEncoder{
			bw:   bufio.NewWriter(w),
			opts: opts,
		},
	}
}

// Encode writes request to the underlying writer.
// Body is copied as is, so any transfer coding must already be applied.
// A nil body writes the head only.
func (re *RequestEncoder) Encode(request Request) error {
	if err := re.encodeRequestLine(request.RequestLine); err != nil {
		return errors.Wrap(err, "encoding request line")
	}

	if err := re.encodeHeaders(request.Headers); err != nil {
		return errors.Wrap(err, "encoding headers")
	}

	if err := re.encodeBody(request.Body); err != nil {
		return errors.Wrap(err, "encoding request body")
	}

	return nil
}

func (re *RequestEncoder) encodeRequestLine(reqLine RequestLine) error {
	if !rule.IsValidToken(reqLine.Method) {
		return errors.Errorf("method is not a valid token: %q", reqLine.Method)
	}
	if len(reqLine.Target) == 0 || bytes.ContainsAny([]byte(reqLine.Target), " \r\n") {
		return errors.Errorf("request target is malformed: %q", reqLine.Target)
	}

	buf := bytes.NewBuffer(nil)

	buf.WriteString(reqLine.Method)
	buf.WriteByte(rule.SP)
	buf.WriteString(reqLine.Target)
	buf.WriteByte(rule.SP)
	buf.Write(reqLine.Version.Text())

	if err := re.writeLine(buf.Bytes()); err != nil {
		return errors.Wrap(err, "writing line")
	}

	return nil
}

type ResponseEncoder struct{ MessageEncoder }

func NewResponseEncoder(w io.Writer, opts EncodeOptions) *ResponseEncoder {
	return &ResponseEncoder{
		MessageEncoder{
			bw:   bufio.NewWriter(w),
			opts: opts,
		},
	}
}

// Encode writes response to the underlying writer.
// Body is closed afterwards when it is an [io.Closer].
func (re *ResponseEncoder) Encode(response Response) error {
	if c, ok := response.Body.(io.Closer); ok {
		defer c.Close()
	}

	if err := re.encodeStatusLine(response.StatusLine); err != nil {
		return errors.Wrap(err, "encoding status line")
	}

	if err := re.encodeHeaders(response.Headers); err != nil {
		return errors.Wrap(err, "encoding headers")
	}

	if err := re.encodeBody(response.Body); err != nil {
		return errors.Wrap(err, "encoding response body")
	}

	return nil
}

func (re *ResponseEncoder) encodeStatusLine(statLine StatusLine) error {
	buf := bytes.NewBuffer(nil)

	buf.Write(statLine.Version.Text())
	buf.WriteByte(rule.SP)
	buf.WriteString(strconv.FormatUint(uint64(statLine.StatusCode), 10))
	buf.WriteByte(rule.SP)
	buf.WriteString(statLine.ReasonPhrase)

	if err := re.writeLine(buf.Bytes()); err != nil {
		return errors.Wrap(err, "writing line")
	}

	return nil
}
