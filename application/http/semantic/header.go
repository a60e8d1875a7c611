package semantic

import (
	"bytes"
	"sort"
	"strings"

	"courier/application/http"
	"courier/application/util/rule"
)

type field struct{ name, value string }

// Headers is an ordered multimap of header fields.
// Every field line is kept as its own entry, so repeated names
// (e.g. Set-Cookie) survive in the order they were received.
// Names are compared case-insensitively. The zero value is ready to use.
// Copies of a Headers value must not be modified; use [Headers.Clone].
type Headers struct{ fields []field }

func NewHeaders(initial map[string][]string) Headers {
	keys := make([]string, 0, len(initial))
	for k := range initial {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := Headers{}
	for _, k := range keys {
		for _, v := range initial[k] {
			h.Add(k, v)
		}
	}

	return h
}

// HeadersFrom creates semantic header from raw fields, keeping their order.
func HeadersFrom(fields []http.Field) Headers {
	h := Headers{fields: make([]field, 0, len(fields))}
	for _, f := range fields {
		h.Add(string(f.Name), string(f.Value))
	}

	return h
}

// Fields returns all the key-values in the header.
func (h *Headers) Fields() (fields map[string][]string) {
	fields = make(map[string][]string)
	for _, f := range h.fields {
		fields[f.name] = append(fields[f.name], f.value)
	}

	return fields
}

// ToRawFields returns every field line in order.
func (h *Headers) ToRawFields() (fields []http.Field) {
	fields = make([]http.Field, 0, len(h.fields))
	for _, f := range h.fields {
		fields = append(fields, http.NewField(f.name, f.value))
	}

	return fields
}

func (h *Headers) Len() int { return len(h.fields) }

// Get assumes the field is a singleton field.
// Even if key has multiple values, it will only return the first element of values.
// For list-based field, use [Headers.Values].
func (h *Headers) Get(key string) (value string, ok bool) {
	key = h.canonical(key)
	for _, f := range h.fields {
		if f.name == key {
			return f.value, true
		}
	}
	return "", false
}

// Values returns the value of each line with the name, in order.
func (h *Headers) Values(key string) (values []string, ok bool) {
	key = h.canonical(key)
	for _, f := range h.fields {
		if f.name == key {
			values = append(values, f.value)
		}
	}
	return values, len(values) > 0
}

// ListValues splits comma separated list elements of every line with the name.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.1
func (h *Headers) ListValues(key string) []string {
	values, _ := h.Values(key)

	tokens := make([]string, 0, len(values))
	for _, v := range values {
		tokens = append(tokens, tokenizeFieldValues([]byte(v))...)
	}
	return tokens
}

// HasToken reports whether token is one of the list elements of key, ignoring case.
func (h *Headers) HasToken(key, token string) bool {
	for _, v := range h.ListValues(key) {
		if strings.EqualFold(v, token) {
			return true
		}
	}
	return false
}

func (h *Headers) Has(key string) bool {
	_, ok := h.Get(key)
	return ok
}

// Set assumes the field is a singleton field.
// It overwrites existing value instead of appending to it.
// For list-based field, use [Headers.Add].
func (h *Headers) Set(key, value string) {
	key = h.canonical(key)

	set := false
	kept := make([]field, 0, len(h.fields)+1)
	for _, f := range h.fields {
		if f.name != key {
			kept = append(kept, f)
			continue
		}
		if !set {
			// Keep the position of the first one.
			kept = append(kept, field{name: key, value: value})
			set = true
		}
	}
	h.fields = kept

	if !set {
		h.fields = append(h.fields, field{name: key, value: value})
	}
}

func (h *Headers) Add(key, value string) {
	h.fields = append(h.fields, field{name: h.canonical(key), value: value})
}

func (h *Headers) Del(key string) {
	key = h.canonical(key)

	kept := make([]field, 0, len(h.fields))
	for _, f := range h.fields {
		if f.name != key {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

func (h *Headers) Clone() Headers {
	clone := make([]field, len(h.fields))
	copy(clone, h.fields)
	return Headers{fields: clone}
}

func (h *Headers) canonical(s string) string {
	if rule.IsValidToken(s) {
		s = toCanonicalFieldName(s)
	}
	return s
}

// This only works for valid token.
func toCanonicalFieldName(s string) string {
	const capitalDiff = 'a' - 'A'
	b := []byte(s)
	upper := true
	for i, c := range b {
		if upper && 'a' <= c && c <= 'z' {
			c -= capitalDiff
		} else if !upper && 'A' <= c && c <= 'Z' {
			c += capitalDiff
		}
		b[i] = c
		upper = c == '-'
	}
	return string(b)
}

func tokenizeFieldValues(fieldValue []byte) []string {
	tokens := make([]string, 0)
	buf := bytes.NewBuffer(nil)

	parts := bytes.Split(fieldValue, []byte{','})

	// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.4-1
	quoted := false

	for _, part := range parts {
		if quoted {
			// Comma inside quote, let's write it again.
			buf.WriteByte(',')
		}

		for idx := 0; idx < len(part); idx++ {
			c := part[idx]
			if c == '"' {
				quoted = !quoted
			}

			buf.WriteByte(c)
		}

		if !quoted {
			tokens = addToken(tokens, buf.Bytes())
			buf.Reset()
		}
	}

	if buf.Len() > 0 {
		// Quote didn't end properly.
		// At least write the raw token.
		tokens = addToken(tokens, buf.Bytes())
	}

	return tokens
}

func addToken(tokens []string, token []byte) []string {
	token = bytes.TrimFunc(token, rule.IsWhitespace)
	token = rule.Unquote(token)
	if len(token) == 0 {
		// Don't append if it's empty.
		return tokens
	}
	return append(tokens, string(token))
}
