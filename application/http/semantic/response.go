package semantic

import (
	"io"
	"net/url"
	"time"

	"courier/application/http"
	"courier/application/http/semantic/status"

	"github.com/pkg/errors"
)

type Response struct {
	Version http.Version
	Status  status.Status

	// Headers includes trailers once the body has been read to the end.
	Headers  Headers
	Trailers Headers

	// Date is zero when the header is missing or malformed.
	Date time.Time

	// URL is the URL the response came from, after redirects.
	URL *url.URL
	// Redirects is the number of redirects followed to get here.
	Redirects int

	// Body yields decoded content. It must be closed.
	Body io.ReadCloser
}

type ParseResponseOptions struct {
	// UseReceivedReasonPhrase keeps the reason phrase sent by the server.
	// Otherwise the registered one is used for known codes.
	UseReceivedReasonPhrase bool `yaml:"use_received_reason_phrase"`
}

// ResponseFrom interprets the head of raw. Body is left nil.
func ResponseFrom(raw *http.Response, opts ParseResponseOptions) *Response {
	response := Response{
		Version: raw.Version,
		Status:  status.Status{Code: raw.StatusCode, ReasonPhrase: raw.ReasonPhrase},
		Headers: HeadersFrom(raw.Headers),
	}

	if known, ok := status.FromCode(raw.StatusCode); ok && !opts.UseReceivedReasonPhrase {
		response.Status = known
	}

	if v, ok := response.Headers.Get("Date"); ok {
		if date, err := ParseDate(v); err == nil {
			response.Date = date
		}
	}

	return &response
}

// AddTrailers records trailer fields and folds them into Headers.
func (r *Response) AddTrailers(fields []http.Field) {
	for _, f := range fields {
		r.Trailers.Add(string(f.Name), string(f.Value))
		r.Headers.Add(string(f.Name), string(f.Value))
	}
}

// ErrorForStatus returns a [status.Error] for 4xx and 5xx responses.
func (r *Response) ErrorForStatus() error {
	if status.IsClientError(r.Status.Code) || status.IsServerError(r.Status.Code) {
		var cause error
		if r.URL != nil {
			cause = errors.Errorf("from %s", r.URL.Redacted())
		}
		return status.NewError(cause, r.Status)
	}
	return nil
}

// Bytes reads the whole body and closes it.
func (r *Response) Bytes() ([]byte, error) {
	b, err := io.ReadAll(r.Body)
	cerr := r.Body.Close()
	if err != nil {
		return b, err
	}
	return b, cerr
}
