// Package rule holds the ABNF building blocks shared by the HTTP grammars.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6
package rule

import "strings"

const (
	CR   byte = '\r'
	LF   byte = '\n'
	SP   byte = ' '
	HTAB byte = '\t'
	VT   byte = 0x0B
	FF   byte = 0x0C
)

var (
	OWS         = []byte{SP, HTAB}
	CRLF        = []byte{CR, LF}
	Whitespaces = []byte{SP, HTAB, VT, FF, CR}
)

func IsWhitespace(r rune) bool {
	for _, ws := range Whitespaces {
		if r == rune(ws) {
			return true
		}
	}
	return false
}

func IsOWS(r rune) bool { return r == rune(SP) || r == rune(HTAB) }

func IsAlpha(r rune) bool { return ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') }
func IsDigit(r rune) bool { return '0' <= r && r <= '9' }

// TrimOWS trims optional whitespace around s.
func TrimOWS(s string) string { return strings.TrimFunc(s, IsOWS) }

// SplitList splits a comma separated field value into its elements.
// Commas inside quoted strings do not split, and empty elements are dropped.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.1
func SplitList(value string) []string {
	var elems []string

	quoted, escaped := false, false
	start := 0
	for idx := 0; idx < len(value); idx++ {
		c := value[idx]
		switch {
		case escaped:
			escaped = false
		case quoted && c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
		case c == ',' && !quoted:
			if elem := TrimOWS(value[start:idx]); elem != "" {
				elems = append(elems, elem)
			}
			start = idx + 1
		}
	}

	if elem := TrimOWS(value[start:]); elem != "" {
		elems = append(elems, elem)
	}

	return elems
}
