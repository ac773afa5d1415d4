package couchdb

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Query is a CouchDB query-string value: either a pre-built string
// appended verbatim, or an ordered set of key to value-or-values
// pairs encoded per appendTo's rules.
type Query struct {
	raw   string
	isRaw bool
	keys  []string
	vals  map[string]interface{}
}

// RawQuery builds a Query from a literal, already-encoded string.
func RawQuery(s string) Query {
	return Query{raw: s, isRaw: true}
}

// NewQuery builds an empty, ordered Query. Use Set/SetMulti to add
// parameters in the order they should appear on the wire.
func NewQuery() *Query {
	return &Query{vals: make(map[string]interface{})}
}

// Set adds a scalar query parameter. Calling Set with nil or with
// Undefined records the key as present-but-skipped: it will not be
// emitted on the wire.
func (q *Query) Set(key string, value interface{}) *Query {
	if q.vals == nil {
		q.vals = make(map[string]interface{})
	}
	if _, exists := q.vals[key]; !exists {
		q.keys = append(q.keys, key)
	}
	q.vals[key] = value
	return q
}

// SetMulti adds a list-valued query parameter; one key=value pair is
// emitted per element, preserving element order.
func (q *Query) SetMulti(key string, values []interface{}) *Query {
	return q.Set(key, multiValue(values))
}

type multiValue []interface{}

// Undefined is a sentinel that, when passed to Set, causes the key to
// be skipped entirely on encode - matching JS's `undefined` semantics
// as distinct from falsy values like 0 or "".
var Undefined = struct{}{}

// appendTo appends this query's encoding to buf, which already
// contains the URL built so far. hasQuery reports whether buf already
// contains a '?'.
func (q *Query) appendTo(buf *strings.Builder, hasQuery bool) (bool, error) {
	if q == nil {
		return hasQuery, nil
	}
	if q.isRaw {
		if q.raw == "" {
			return hasQuery, nil
		}
		buf.WriteByte(sep(hasQuery))
		buf.WriteString(q.raw)
		return true, nil
	}
	for _, k := range q.keys {
		v := q.vals[k]
		if v == Undefined || v == nil {
			continue
		}
		if mv, ok := v.(multiValue); ok {
			for _, item := range mv {
				if item == Undefined || item == nil {
					continue
				}
				enc, err := encodeQueryValue(item)
				if err != nil {
					return hasQuery, err
				}
				buf.WriteByte(sep(hasQuery))
				buf.WriteString(url.QueryEscape(k))
				buf.WriteByte('=')
				buf.WriteString(enc)
				hasQuery = true
			}
			continue
		}
		enc, err := encodeQueryValue(v)
		if err != nil {
			return hasQuery, err
		}
		buf.WriteByte(sep(hasQuery))
		buf.WriteString(url.QueryEscape(k))
		buf.WriteByte('=')
		buf.WriteString(enc)
		hasQuery = true
	}
	return hasQuery, nil
}

// revQuery builds the common "?rev=<rev>" query. CouchDB's rev
// parameter is a raw revision string on the wire, unlike view-query
// keys (startkey, key, ...) which are JSON-encoded - so this bypasses
// Set's JSON encoding via RawQuery.
func revQuery(rev string) *Query {
	q := RawQuery("rev=" + url.QueryEscape(rev))
	return &q
}

// get returns the literal string value of key, if present, without
// JSON-decoding it. Used for wire-literal protocol parameters (feed,
// include_docs, ...) that the feeds API needs to branch on.
func (q *Query) get(key string) (string, bool) {
	if q == nil {
		return "", false
	}
	if !q.isRaw {
		v, ok := q.vals[key]
		if !ok {
			return "", false
		}
		s, ok := v.(string)
		return s, ok
	}
	for _, pair := range strings.Split(q.raw, "&") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 && kv[0] == key {
			val, err := url.QueryUnescape(kv[1])
			if err != nil {
				return kv[1], true
			}
			return val, true
		}
	}
	return "", false
}

func sep(hasQuery bool) byte {
	if hasQuery {
		return '&'
	}
	return '?'
}

// encodeQueryValue JSON-encodes v and percent-escapes the result, so
// that e.g. the string "bar" becomes %22bar%22 rather than bar.
func encodeQueryValue(v interface{}) (string, error) {
	js, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return url.QueryEscape(string(js)), nil
}
