package couchdb_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cabify/couchkit"
)

// hijackN closes the underlying TCP connection without writing a
// response for the first n requests, simulating a transport-level
// failure, then serves handler normally afterwards.
func hijackN(t *testing.T, n int32, handler http.HandlerFunc) http.HandlerFunc {
	var attempts int32
	return func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= n {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("ResponseWriter does not support hijacking")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Fatal(err)
			}
			conn.Close()
			return
		}
		handler(w, r)
	}
}

func TestRetryTwoTransportErrorsThenSuccess(t *testing.T) {
	srv := httptest.NewServer(hijackN(t, 2, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c, err := couchdb.NewClient(couchdb.Config{URL: srv.URL, NumRetries: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Quit()

	if _, err := c.Request(nil); err != nil {
		t.Fatalf("expected eventual success after 2 transport errors, got: %v", err)
	}
}

func TestRetryThreeTransportErrorsSurfacesError(t *testing.T) {
	srv := httptest.NewServer(hijackN(t, 3, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c, err := couchdb.NewClient(couchdb.Config{URL: srv.URL, NumRetries: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Quit()

	if _, err := c.Request(nil); err == nil {
		t.Fatal("expected an error after exhausting the retry budget")
	}
}

func TestStreamBodyDisablesRetries(t *testing.T) {
	srv := httptest.NewServer(hijackN(t, 1, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c, err := couchdb.NewClient(couchdb.Config{URL: srv.URL, NumRetries: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Quit()

	_, err = c.Request(&couchdb.RequestOptions{
		Method: "PUT",
		Body:   couchdb.StreamBody(strings.NewReader("x"), 1),
	})
	if err == nil {
		t.Fatal("expected the single transport error to surface since stream bodies disable retries")
	}
}
