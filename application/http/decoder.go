package http

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"courier/application/util/rule"
	bytesutil "courier/util/bytes"

	"github.com/pkg/errors"
)

type DecodeOptions struct {
	// AllowSoleLF specifies wheter a single LF character should be recognized as a valid line terminator.
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-3
	AllowSoleLF bool `yaml:"allow_sole_lf"`

	// LenientWhitespace replaces all [rule.Whitespaces] into [rule.SP].
	// And also trims preceding and trailinig whitespace.
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3-3
	LenientWhitespace bool `yaml:"lenient_whitespace"`

	// MaxFieldLineLength sets the limit of field line length on headers.
	MaxFieldLineLength uint `yaml:"max_field_line_length"`

	// MaxRequestLineLength sets the limit of request line length.
	// Recommended: >= 8000
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3-5
	MaxRequestLineLength uint `yaml:"max_request_line_length"`

	// MaxStatusLineLength sets the limit of status line length.
	MaxStatusLineLength uint `yaml:"max_status_line_length"`

	// MaxHeaderCount limits the number of field lines in a header or trailer section.
	MaxHeaderCount uint `yaml:"max_header_count"`
}

var DefaultDecodeOptions = DecodeOptions{}

type MessageDecoder struct {
	br   *bufio.Reader
	opts DecodeOptions
}

var (
	errLineTooLong       = errors.New("line length exceeeds limit")
	ErrMissingCRBeforeLF = errors.New("missing CR before LF")
)

// Buffered returns the number of bytes read from the source but not consumed yet.
func (md *MessageDecoder) Buffered() int { return md.br.Buffered() }

// Reader returns the reader positioned right after the last decoded head.
func (md *MessageDecoder) Reader() *bufio.Reader { return md.br }

func (md *MessageDecoder) readLine(limit uint) ([]byte, error) {
	b, err := bytesutil.ReadUntil(md.br, []byte{rule.LF}, int(limit))
	if err != nil {
		if errors.Is(err, bytesutil.ErrTooLong) {
			return nil, errLineTooLong
		}
		return nil, err
	}

	b = b[:len(b)-1] // Remove LF.

	if !md.opts.AllowSoleLF {
		if len(b) == 0 || b[len(b)-1] != rule.CR {
			return nil, ErrMissingCRBeforeLF
		}
		b = b[:len(b)-1] // Remove CR.
	} else if len(b) > 0 && b[len(b)-1] == rule.CR {
		b = b[:len(b)-1]
	}

	if md.opts.LenientWhitespace {
		for _, c := range rule.Whitespaces {
			b = bytes.ReplaceAll(b, []byte{c}, []byte{rule.SP})
		}
		b = bytes.Trim(b, string([]byte{rule.SP}))

		return b, nil
	}

	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-4
	b = bytes.ReplaceAll(b, []byte{rule.CR}, []byte{rule.SP})

	return b, nil
}

var (
	ErrFieldLineTooLong   = errors.New("field line length exceeds limit")
	ErrMalformedFieldLine = errors.New("field line is malformed")
	ErrTooManyFields      = errors.New("too many field lines")
)

func (md *MessageDecoder) decodeHeaders(headers *[]Field) error {
	fields, err := md.DecodeFields()
	if err != nil {
		return err
	}

	*headers = fields
	return nil
}

// DecodeFields reads field lines until an empty line.
// It serves header sections and chunked trailer sections alike.
func (md *MessageDecoder) DecodeFields() ([]Field, error) {
	fields := make([]Field, 0)
	for {
		fieldLine, err := md.readLine(md.opts.MaxFieldLineLength)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				return nil, ErrFieldLineTooLong
			}
			return nil, errors.Wrap(err, "reading line")
		}

		if len(fieldLine) == 0 {
			// An empty line. This means that there are no more fields.
			return fields, nil
		}

		if md.opts.MaxHeaderCount > 0 && uint(len(fields)) >= md.opts.MaxHeaderCount {
			return nil, ErrTooManyFields
		}

		field, err := ParseField(fieldLine)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedFieldLine, err.Error())
		}

		fields = append(fields, field)
	}
}

// NewMessageDecoder decodes fields from br without any start line.
func NewMessageDecoder(br *bufio.Reader, opts DecodeOptions) *MessageDecoder {
	return &MessageDecoder{br: br, opts: opts}
}

var (
	ErrRequestLineTooLong   = errors.New("request line length exceeds limit")
	ErrMalformedRequestLine = errors.New("request line is malformed")
)

type RequestDecoder struct{ MessageDecoder }

func NewRequestDecoder(r io.Reader, opts DecodeOptions) *RequestDecoder {
	return &RequestDecoder{
		MessageDecoder{br: bufio.NewReader(r), opts: opts},
	}
}

// r MUST be a non-nil pointer
func (rd *RequestDecoder) Decode(r *Request) error {
	if err := rd.decodeRequestLine(&r.RequestLine); err != nil {
		return errors.Wrap(err, "parsing request line")
	}

	if err := rd.decodeHeaders(&r.Headers); err != nil {
		return errors.Wrap(err, "parsing headers")
	}

	r.Body = rd.br

	return nil
}

func (rd *RequestDecoder) decodeRequestLine(reqLine *RequestLine) error {
	var line []byte
	for {
		b, err := rd.readLine(rd.opts.MaxRequestLineLength)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				return ErrRequestLineTooLong
			}
			return errors.Wrap(err, "reading line")
		}

		// An empty line can be received before message.
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-6
		if len(b) > 0 {
			line = b
			break
		}
	}

	parsed, err := parseRequestLine(line)
	if err != nil {
		return errors.Wrap(ErrMalformedRequestLine, err.Error())
	}

	*reqLine = parsed

	return nil
}

func parseRequestLine(line []byte) (RequestLine, error) {
	parts := bytes.Split(line, []byte{rule.SP})
	if len(parts) != 3 {
		return RequestLine{}, errors.New("request line is malformed")
	}

	method := string(parts[0])
	if !rule.IsValidToken(method) {
		return RequestLine{}, errors.New("method is not a valid token")
	}

	target := string(parts[1])
	if len(target) == 0 {
		return RequestLine{}, errors.New("request target should not be empty")
	}

	ver, err := ParseVersion(parts[2])
	if err != nil {
		return RequestLine{}, errors.Wrap(err, "parsing version")
	}

	return RequestLine{Method: method, Target: target, Version: ver}, nil
}

var (
	ErrStatusLineTooLong   = errors.New("status line length exceeds limit")
	ErrMalformedStatusLine = errors.New("status line is malformed")
)

type ResponseDecoder struct{ MessageDecoder }

// NewResponseDecoder creates a decoder which can decode responses one after another from r.
// The caller must consume the body of a response before decoding the next one.
func NewResponseDecoder(r io.Reader, opts DecodeOptions) *ResponseDecoder {
	return &ResponseDecoder{
		MessageDecoder{br: bufio.NewReader(r), opts: opts},
	}
}

// r MUST be a non-nil pointer
func (rd *ResponseDecoder) Decode(r *Response) error {
	if err := rd.decodeStatusLine(&r.StatusLine); err != nil {
		return errors.Wrap(err, "parsing status line")
	}

	if err := rd.decodeHeaders(&r.Headers); err != nil {
		return errors.Wrap(err, "parsing headers")
	}

	r.Body = rd.br

	return nil
}

func (rd *ResponseDecoder) decodeStatusLine(statLine *StatusLine) error {
	var line []byte
	for {
		b, err := rd.readLine(rd.opts.MaxStatusLineLength)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				return ErrStatusLineTooLong
			}
			return errors.Wrap(err, "reading line")
		}

		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-6
		if len(b) > 0 {
			line = b
			break
		}
	}

	parsed, err := parseStatusLine(line)
	if err != nil {
		return errors.Wrap(ErrMalformedStatusLine, err.Error())
	}

	*statLine = parsed

	return nil
}

// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-4
func parseStatusLine(line []byte) (StatusLine, error) {
	parts := bytes.SplitN(line, []byte{rule.SP}, 3)
	if len(parts) < 2 {
		return StatusLine{}, errors.New("status line is malformed")
	}

	ver, err := ParseVersion(parts[0])
	if err != nil {
		return StatusLine{}, errors.Wrap(err, "parsing version")
	}

	statusCodeStr := string(parts[1])
	statusCode, err := strconv.ParseUint(statusCodeStr, 10, 64)
	if err != nil || len(statusCodeStr) != 3 {
		return StatusLine{}, errors.Errorf("status code is malformed: %q", statusCodeStr)
	}

	// reason-phrase is optional, and so is the SP before it in the wild.
	reasonPhrase := ""
	if len(parts) == 3 {
		reasonPhrase = string(parts[2])
	}

	return StatusLine{Version: ver, StatusCode: uint(statusCode), ReasonPhrase: reasonPhrase}, nil
}
