// Package http implements the HTTP/1.1 message syntax: start lines, field lines
// and the raw byte stream following them.
// Framing of the body and its semantics live in the transfer and semantic packages.
//
// Reference:
//
// - https://datatracker.ietf.org/doc/html/rfc9110
//
// - https://datatracker.ietf.org/doc/html/rfc9112
package http
