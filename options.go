package couchdb

import (
	"io"
)

// Method is an HTTP method used for a request.
type Method string

// Body is the classified request body. Exactly one constructor
// (BytesBody/TextBody/JSONBody/StreamBody) should populate it; the zero value
// means "absent".
type Body struct {
	kind       bodyKind
	bytes      []byte
	text       string
	value      interface{}
	stream     io.Reader
	streamSize int64 // -1 if unknown
}

type bodyKind int

const (
	bodyAbsent bodyKind = iota
	bodyBytes
	bodyText
	bodyJSON
	bodyStream
)

// BytesBody sends raw bytes as-is, without setting Content-Type.
func BytesBody(b []byte) Body { return Body{kind: bodyBytes, bytes: b} }

// TextBody sends a UTF-8 string as-is, without setting Content-Type.
func TextBody(s string) Body { return Body{kind: bodyText, text: s} }

// JSONBody serialises v to JSON via Content-Type: application/json.
// A value implementing Sourcer, at the top level or reached through
// map values, slice or array elements and pointers, is replaced with
// its source text rather than being marshalled normally. Struct fields
// are not searched: a Sourcer held in a struct field is marshalled
// normally.
func JSONBody(v interface{}) Body { return Body{kind: bodyJSON, value: v} }

// StreamBody sends an io.Reader body. Streaming a body disables
// retries, since its content cannot be safely replayed. size may be -1
// if the length is unknown.
func StreamBody(r io.Reader, size int64) Body {
	return Body{kind: bodyStream, stream: r, streamSize: size}
}

func (b Body) isAbsent() bool { return b.kind == bodyAbsent }
func (b Body) isStream() bool { return b.kind == bodyStream }

// Sourcer is implemented by placeholder-resolver values (and design
// document view bodies) that should serialise to their source text
// rather than their natural JSON encoding.
type Sourcer interface {
	Source() string
}

// RequestOptions describes a single call to Client.Request or
// Client.RequestStream. The zero value is a valid GET request with no
// path, headers, query or body.
type RequestOptions struct {
	Method Method

	// Path is either absolute-from-base (starts with '/' or '.') or
	// relative to the client's current base URL.
	Path string

	Headers map[string]string

	// Query is the structured or raw query-string suffix. Nil means no
	// query string.
	Query *Query

	Body Body

	// NumRetries overrides the client's retry budget for this call
	// only, when non-nil.
	NumRetries *int

	// Stream requests row-by-row streaming delivery via
	// Client.RequestStream instead of buffered decoding. When true the
	// effective retry budget is forced to zero.
	Stream bool

	// Extra carries arbitrary placeholder-scope overrides consulted by
	// the URL template engine before the client's own placeholder map.
	Extra map[string]interface{}
}

func (o *RequestOptions) method() Method {
	if o == nil || o.Method == "" {
		return "GET"
	}
	return o.Method
}

func (o *RequestOptions) path() string {
	if o == nil {
		return ""
	}
	return o.Path
}

func (o *RequestOptions) headers() map[string]string {
	if o == nil {
		return nil
	}
	return o.Headers
}

// effectiveRetries computes the retry budget for this call, clamped
// to zero for streaming bodies or streaming responses.
func (o *RequestOptions) effectiveRetries(clientDefault int) int {
	n := clientDefault
	if o != nil && o.NumRetries != nil {
		n = *o.NumRetries
	}
	if o != nil && (o.Stream || o.Body.isStream()) {
		return 0
	}
	return n
}
