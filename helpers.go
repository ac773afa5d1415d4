package couchdb

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// trimFloat formats f the way JSON/JS would stringify a number: no
// trailing ".0" for integral values.
func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func toStringFallback(v interface{}) string {
	return fmt.Sprint(v)
}

// remarshal round-trips src (already-decoded JSON, e.g. from
// ResponseEnvelope.JSON) through encoding/json into dst, avoiding a
// second network round-trip just to get strongly-typed results.
func remarshal(src interface{}, dst interface{}) error {
	buf, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, dst)
}
