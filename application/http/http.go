package http

import (
	"bytes"
	"io"
	"strconv"

	"courier/application/util/rule"

	"github.com/pkg/errors"
	"golang.org/x/net/http/httpguts"
)

type RequestLine struct {
	Method  string
	Target  string
	Version Version
}

// Request is a request as it appears on the wire.
type Request struct {
	RequestLine
	Headers []Field

	Body io.Reader
}

type StatusLine struct {
	Version      Version
	StatusCode   uint
	ReasonPhrase string
}

// Response is a response as it appears on the wire.
// Body is not framed. It is everything after the header section.
type Response struct {
	StatusLine
	Headers []Field

	Body io.Reader
}

// [Major, Minor]
type Version [2]uint

var (
	Version10 = Version{1, 0}
	Version11 = Version{1, 1}
)

// ParseVersion parses http version text(e.g. "HTTP/1.1") into [Version].
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.3
func ParseVersion(b []byte) (Version, error) {
	prefix := []byte("HTTP/")
	if !bytes.HasPrefix(b, prefix) {
		return Version{}, errors.Errorf("http version prefix not found: %s", b)
	}

	// Get major and minor version.
	first, second, found := bytes.Cut(b[len(prefix):], []byte{'.'})
	if !found {
		return Version{}, errors.Errorf("dot seperator not found on version: %s", b)
	}

	major, err1 := strconv.ParseUint(string(first), 10, 64)
	minor, err2 := strconv.ParseUint(string(second), 10, 64)
	if err1 != nil || err2 != nil {
		return Version{}, errors.Errorf("http version is not convertable to int: %s", b)
	}

	return Version{uint(major), uint(minor)}, nil
}

func (ver Version) Text() []byte {
	buf := bytes.NewBuffer(nil)
	buf.WriteString("HTTP/")
	buf.WriteString(strconv.FormatUint(uint64(ver[0]), 10))
	buf.WriteByte('.')
	buf.WriteString(strconv.FormatUint(uint64(ver[1]), 10))
	return buf.Bytes()
}

func (ver Version) String() string { return string(ver.Text()) }

// AtLeast reports whether ver is other or newer.
func (ver Version) AtLeast(other Version) bool {
	if ver[0] != other[0] {
		return ver[0] > other[0]
	}
	return ver[1] >= other[1]
}

type Field struct{ Name, Value []byte }

func NewField(name, value string) Field {
	return Field{Name: []byte(name), Value: []byte(value)}
}

var (
	ErrObsoleteLineFolding = errors.New("obsolete line folding is not allowed")
	ErrInvalidFieldName    = errors.New("field name is not a valid token")
	ErrInvalidFieldValue   = errors.New("field value has invalid characters")
)

func ParseField(fieldLine []byte) (Field, error) {
	// A line starting with whitespace continues the previous one (obs-fold).
	// We reject it instead of merging.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.2
	if len(fieldLine) > 0 && (fieldLine[0] == rule.SP || fieldLine[0] == rule.HTAB) {
		return Field{}, ErrObsoleteLineFolding
	}

	name, value, found := bytes.Cut(fieldLine, []byte{':'})
	if !found {
		return Field{}, errors.Errorf("colon seperator not found on header: %q", string(fieldLine))
	}

	// No whitespace is allowed between field name and colon.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.1-2
	for _, c := range rule.OWS {
		if bytes.HasSuffix(name, []byte{c}) {
			return Field{}, errors.New("field name has trailing whitespace")
		}
	}

	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.1-3
	value = bytes.TrimFunc(value, rule.IsOWS)
	if value == nil {
		value = []byte{}
	}

	field := Field{Name: name, Value: value}
	if err := field.Validate(); err != nil {
		return Field{}, err
	}

	return field, nil
}

// Validate checks the field against the field-name and field-value grammars.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.1
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.5
func (f Field) Validate() error {
	if !httpguts.ValidHeaderFieldName(string(f.Name)) {
		return errors.Wrapf(ErrInvalidFieldName, "%q", f.Name)
	}
	if !httpguts.ValidHeaderFieldValue(string(f.Value)) {
		return errors.Wrapf(ErrInvalidFieldValue, "field %q", f.Name)
	}
	return nil
}

func (f *Field) Text() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(f.Name)+len(f.Value)+2))
	buf.Write(f.Name)
	buf.WriteString(": ")
	buf.Write(f.Value)
	return buf.Bytes()
}
