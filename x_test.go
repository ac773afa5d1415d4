// This file contains test helpers shared across the package's test
// files.

package couchdb_test

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/cabify/couchkit"
)

// testServer pairs a couchdb.Client with a local HTTP test server
// whose handlers are registered per "METHOD /path" pattern. Requests
// travel over a real loopback listener, since Client builds its own
// *http.Client internally (see agent.go) rather than accepting an
// injected Transport.
type testServer struct {
	*couchdb.Client
	t        *testing.T
	srv      *httptest.Server
	handlers map[string]http.HandlerFunc
}

func (s *testServer) Handle(pattern string, f func(http.ResponseWriter, *http.Request)) {
	s.handlers[pattern] = f
}

func (s *testServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h, ok := s.handlers[req.Method+" "+req.URL.Path]
	if !ok {
		s.t.Errorf("unhandled request: %s %s", req.Method, req.URL.Path)
		http.Error(w, "unhandled request", http.StatusNotImplemented)
		return
	}
	h(w, req)
}

func newTestClient(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{t: t, handlers: make(map[string]http.HandlerFunc)}
	ts.srv = httptest.NewServer(ts)
	t.Cleanup(ts.srv.Close)

	c, err := couchdb.NewClient(couchdb.Config{URL: ts.srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(c.Quit)
	ts.Client = c
	return ts
}

func check(t *testing.T, field string, expected, actual interface{}) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Errorf("%s mismatch:\nwant %#v\ngot  %#v", field, expected, actual)
	}
}
