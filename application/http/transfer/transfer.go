// Package transfer frames and unframes message bodies.
// It covers transfer codings (chunked) and content codings (gzip, deflate, br, identity),
// both stacked in the order they are listed on the wire.
package transfer

import (
	"io"
	"strings"

	"courier/application/http"
	"courier/application/util/rule"

	"github.com/pkg/errors"
)

type Coding string

const (
	CodingChunked  Coding = "chunked"
	CodingGzip     Coding = "gzip"
	CodingXGzip    Coding = "x-gzip"
	CodingDeflate  Coding = "deflate"
	CodingBrotli   Coding = "br"
	CodingIdentity Coding = "identity"
)

type Coder interface {
	Coding() Coding
	NewReader(r io.Reader) io.Reader
	// NewWriter returns a writer which closes w when it is closed.
	NewWriter(w io.WriteCloser) io.WriteCloser
}

// ParseCodings turns header values like "gzip, br" into codings.
// Tokens are lowercased and empty list elements are dropped.
func ParseCodings(values []string) []Coding {
	codings := make([]Coding, 0, len(values))
	for _, value := range values {
		for _, elem := range strings.Split(value, ",") {
			elem = rule.TrimOWS(elem)
			if elem == "" {
				continue
			}
			// Parameters are not used by any coding we know.
			elem, _, _ = strings.Cut(elem, ";")
			codings = append(codings, Coding(strings.ToLower(rule.TrimOWS(elem))))
		}
	}
	return codings
}

// CodingApplier stacks coders for a list of codings.
type CodingApplier struct{ coders map[Coding]Coder }

func NewCodingApplier(trailerOpts http.DecodeOptions, customs []Coder) *CodingApplier {
	ca := &CodingApplier{}
	ca.coders = map[Coding]Coder{
		CodingChunked:  NewChunkedCoder(trailerOpts),
		CodingGzip:     gzipCoder{coding: CodingGzip},
		CodingXGzip:    gzipCoder{coding: CodingXGzip},
		CodingDeflate:  deflateCoder{},
		CodingBrotli:   brotliCoder{},
		CodingIdentity: identityCoder{},
	}

	for _, coder := range customs {
		ca.coders[coder.Coding()] = coder
	}

	return ca
}

var ErrUnsupportedCoding = errors.New("coding is unsupported")

// Supports reports whether every coding has a coder.
func (ca *CodingApplier) Supports(codings []Coding) error {
	for _, coding := range codings {
		if _, ok := ca.coders[coding]; !ok {
			return errors.Wrapf(ErrUnsupportedCoding, "%q", coding)
		}
	}
	return nil
}

// Decode wraps r with decoders for codings.
// The last coding was applied last by the sender, so its decoder reads r directly.
// onTrailer, if not nil, gets non-empty trailers of a chunked body.
// No bytes are read from r until the returned reader is read.
func (ca *CodingApplier) Decode(r io.Reader, codings []Coding, onTrailer func(f []http.Field)) (io.Reader, error) {
	if err := ca.Supports(codings); err != nil {
		return nil, err
	}

	for idx := len(codings) - 1; idx >= 0; idx-- {
		coding := codings[idx]
		coder := ca.coders[coding]

		r = coder.NewReader(r)
		if cr, ok := r.(*ChunkedReader); ok && onTrailer != nil {
			cr.SetOnTrailerReceived(func(f []http.Field) {
				if len(f) == 0 {
					return
				}
				onTrailer(f)
			})
		}
	}

	return r, nil
}

// Encode is the mirror image of [CodingApplier.Decode].
// Closing the returned writer finishes every coding, down to w.
func (ca *CodingApplier) Encode(w io.WriteCloser, codings []Coding, sendTrailers func() []http.Field) (io.WriteCloser, error) {
	if err := ca.Supports(codings); err != nil {
		return nil, err
	}

	for idx := len(codings) - 1; idx >= 0; idx-- {
		coding := codings[idx]
		coder := ca.coders[coding]

		w = coder.NewWriter(w)
		if cw, ok := w.(*ChunkedWriter); ok && sendTrailers != nil {
			cw.SetSendTrailers(sendTrailers)
		}
	}

	return w, nil
}
