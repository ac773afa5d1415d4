package couchdb

import "net/http"

// CacheHeaders carries the cache validator headers extracted from a
// response, verbatim.
type CacheHeaders struct {
	LastModified string
	ETag         string
	Expires      string
	CacheControl string
	ContentType  string
}

// CacheInfo augments a response with cache-validation metadata.
type CacheInfo struct {
	NotModified bool
	Headers     CacheHeaders
}

// ResponseEnvelope is the result of a non-streaming Client.Request
// call: the raw HTTP response plus cache metadata and, when the
// content-type was recognised as JSON, the decoded body.
type ResponseEnvelope struct {
	Response  *http.Response
	CacheInfo CacheInfo

	// Body holds the raw response bytes.
	Body []byte

	// JSON holds the parsed body when the content-type was recognised
	// as JSON (application/json or any +json subtype). Nil otherwise.
	JSON interface{}
}

func extractCacheHeaders(h http.Header) CacheHeaders {
	return CacheHeaders{
		LastModified: h.Get("Last-Modified"),
		ETag:         h.Get("Etag"),
		Expires:      h.Get("Expires"),
		CacheControl: h.Get("Cache-Control"),
		ContentType:  h.Get("Content-Type"),
	}
}

func isJSONContentType(ct string) bool {
	if ct == "" {
		return false
	}
	// Strip any "; charset=..." parameters.
	for i, c := range ct {
		if c == ';' {
			ct = ct[:i]
			break
		}
	}
	for i := len(ct) - 1; i >= 0; i-- {
		if ct[i] == ' ' {
			ct = ct[:i]
		} else {
			break
		}
	}
	if ct == "application/json" {
		return true
	}
	if len(ct) > 5 && ct[len(ct)-5:] == "+json" {
		return true
	}
	return false
}
