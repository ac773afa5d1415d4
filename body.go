package couchdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
)

// serialisedBody is the outcome of classifying and encoding a Body.
type serialisedBody struct {
	reader      io.Reader
	size        int64 // -1 if unknown
	contentType string // empty if the caller should not set one
}

// serialiseBody classifies the body, turning structured values into
// JSON (substituting Sourcer values with their source text), and
// deciding whether Content-Type should be set.
func serialiseBody(b Body) (serialisedBody, error) {
	switch b.kind {
	case bodyAbsent:
		return serialisedBody{size: 0}, nil
	case bodyBytes:
		return serialisedBody{reader: bytes.NewReader(b.bytes), size: int64(len(b.bytes))}, nil
	case bodyText:
		data := []byte(b.text)
		return serialisedBody{reader: bytes.NewReader(data), size: int64(len(data))}, nil
	case bodyStream:
		return serialisedBody{reader: b.stream, size: b.streamSize}, nil
	case bodyJSON:
		data, err := marshalWithSource(b.value)
		if err != nil {
			return serialisedBody{}, fmt.Errorf("couchdb: couldn't serialise body: %w", err)
		}
		return serialisedBody{reader: bytes.NewReader(data), size: int64(len(data)), contentType: "application/json"}, nil
	default:
		return serialisedBody{}, fmt.Errorf("couchdb: unknown body kind %v", b.kind)
	}
}

// marshalWithSource JSON-marshals v, replacing any value implementing
// Sourcer with its source text as a JSON string, recursing through
// string-keyed maps, slices, arrays and pointers (not struct fields).
func marshalWithSource(v interface{}) ([]byte, error) {
	return json.Marshal(toJSONable(v))
}

func toJSONable(v interface{}) interface{} {
	if s, ok := v.(Sourcer); ok {
		return s.Source()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]interface{}, rv.Len())
		for _, key := range rv.MapKeys() {
			out[key.String()] = toJSONable(rv.MapIndex(key).Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return v
		}
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = toJSONable(rv.Index(i).Interface())
		}
		return out
	case reflect.Ptr:
		if rv.IsNil() {
			return v
		}
		return toJSONable(rv.Elem().Interface())
	default:
		return v
	}
}
